package containerobjects

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/samber/lo"

	"github.com/artpar/containerobjects/internal/core/resolve"
	"github.com/artpar/containerobjects/internal/shell/docker"
)

// =============================================================================
// Configuration Resolver
// =============================================================================

// imageConfiguration is the resolved image strategy of one object.
type imageConfiguration struct {
	name       ImageName         // registry image, or the tag of a built image
	build      *docker.ImageSpec // nil for registry images
	forcePull  bool
	autoRemove bool
}

// resolver turns a definition into Docker specs for one object.
type resolver struct {
	oc     *ObjectContext
	def    *blueprint
	loader *sourceLoader

	// newToken produces the tag placeholder substitute.
	newToken func() string
}

func newResolver(ctx context.Context, oc *ObjectContext) *resolver {
	return &resolver{
		oc:  oc,
		def: oc.def,
		loader: &sourceLoader{
			ctx:       ctx,
			client:    oc.env.HTTPClient(),
			resources: oc.def.resources,
			typeName:  oc.def.name,
		},
		newToken: uuid.NewString,
	}
}

// image resolves the single image source of the definition. For built images
// the returned configuration carries the build spec; nothing is sent to
// Docker yet.
func (r *resolver) image() (*imageConfiguration, error) {
	src := r.def.images[0]
	cfg := &imageConfiguration{
		forcePull:  src.options.forcePull,
		autoRemove: src.options.autoRemove,
	}
	switch src.kind {
	case registryImage:
		name, err := r.registryImage(src)
		if err != nil {
			return nil, err
		}
		cfg.name = name
	case builtImage:
		spec, err := r.buildSpec(src)
		if err != nil {
			return nil, err
		}
		cfg.name = spec.Tags[0]
		cfg.build = spec
		cfg.autoRemove = true
	default:
		return nil, illegalState("unknown image source")
	}
	return cfg, nil
}

func (r *resolver) registryImage(src imageSource) (ImageName, error) {
	name := src.name
	if src.nameFunc != nil {
		var err error
		if name, err = src.nameFunc(r.oc.Instance()); err != nil {
			return "", fmt.Errorf("%s: %w", src.field, err)
		}
		if name == "" {
			return "", configError(r.def.name, src.field, "empty image name", nil)
		}
	}
	normalized, err := resolve.NormalizeImageName(name)
	if err != nil {
		return "", configError(r.def.name, src.field, "", err)
	}
	return ImageName(normalized), nil
}

// buildSpec assembles the build context and resolves a fresh tag.
func (r *resolver) buildSpec(src imageSource) (*docker.ImageSpec, error) {
	dockerfile := src.dockerfile
	if src.dockerfileFunc != nil {
		var err error
		if dockerfile, err = src.dockerfileFunc(r.oc.Instance()); err != nil {
			return nil, fmt.Errorf("%s: %w", src.field, err)
		}
	}
	if dockerfile == nil {
		return nil, configError(r.def.name, src.field, "no Dockerfile", nil)
	}

	bc := docker.NewBuildContext()
	dockerfileName, err := r.addDockerfile(bc, dockerfile)
	if err != nil {
		return nil, err
	}
	if err := r.addContent(bc); err != nil {
		return nil, err
	}

	tag, err := resolve.ResolveTag(r.def.tagTemplate(), r.newToken)
	if err != nil {
		return nil, configError(r.def.name, "Tag", "", err)
	}

	archive, err := bc.Archive()
	if err != nil {
		return nil, fmt.Errorf("build context: %w", err)
	}

	return &docker.ImageSpec{
		Context:    bytes.NewReader(archive),
		Dockerfile: dockerfileName,
		Tags:       []ImageName{ImageName(tag)},
		Labels:     docker.ManagedLabels(r.oc.env.Session(), r.def.name),
		BuildArgs:  r.def.buildArgs,
		Pull:       src.options.forcePull,
	}, nil
}

// addDockerfile adds the Dockerfile and returns its name in the context. A
// Dockerfile on disk brings its directory along as the build context.
func (r *resolver) addDockerfile(bc *docker.BuildContext, dockerfile Source) (string, error) {
	file, ok := dockerfile.(fileSource)
	if !ok {
		data, err := dockerfile.load(r.loader)
		if err != nil {
			return "", err
		}
		return "Dockerfile", bc.Add("Dockerfile", data)
	}

	info, err := os.Stat(file.path)
	if err != nil {
		return "", configError(r.def.name, "BuildImage", "Dockerfile "+file.path, err)
	}
	if info.IsDir() {
		if err := bc.AddDir(file.path); err != nil {
			return "", err
		}
		if !bc.Has("Dockerfile") {
			return "", configError(r.def.name, "BuildImage", "no Dockerfile in "+file.path, nil)
		}
		return "Dockerfile", nil
	}
	if err := bc.AddDir(filepath.Dir(file.path)); err != nil {
		return "", err
	}
	return filepath.Base(file.path), nil
}

// addContent adds BuildContent entries in order, then the merged
// BuildContentFunc maps. Later entries replace earlier ones of the same name.
func (r *resolver) addContent(bc *docker.BuildContext) error {
	for _, entry := range r.def.content {
		data, err := entry.source.load(r.loader)
		if err != nil {
			return fmt.Errorf("build content %s: %w", entry.name, err)
		}
		if err := bc.Add(entry.name, data); err != nil {
			return err
		}
	}

	layers := make([]map[string]string, 0, len(r.def.contentFuncs))
	for _, fn := range r.def.contentFuncs {
		m, err := fn(r.oc.Instance())
		if err != nil {
			return fmt.Errorf("BuildContentFunc: %w", err)
		}
		layers = append(layers, m)
	}
	merged := resolve.Merge(layers...)
	names := lo.Keys(merged)
	sort.Strings(names)
	for _, name := range names {
		data, err := sourceFromLocation(merged[name], TextSource).load(r.loader)
		if err != nil {
			return fmt.Errorf("build content %s: %w", name, err)
		}
		if err := bc.Add(name, data); err != nil {
			return err
		}
	}
	return nil
}

// environment merges Env entries, EnvFile files and EnvFunc maps, in that
// order of precedence from lowest to highest.
func (r *resolver) environment() (map[string]string, error) {
	entries, err := resolve.EnvFromEntries(r.def.env)
	if err != nil {
		return nil, configError(r.def.name, "Env", "", err)
	}
	layers := []map[string]string{entries}

	for _, path := range r.def.envFiles {
		vars, err := godotenv.Read(path)
		if err != nil {
			return nil, configError(r.def.name, "EnvFile", path, err)
		}
		layers = append(layers, vars)
	}

	for _, fn := range r.def.envFuncs {
		vars, err := fn(r.oc.Instance())
		if err != nil {
			return nil, fmt.Errorf("EnvFunc: %w", err)
		}
		layers = append(layers, vars)
	}
	return resolve.Merge(layers...), nil
}

// containerSpec returns the spec the container is created with.
func (r *resolver) containerSpec() (docker.ContainerSpec, error) {
	env, err := r.environment()
	if err != nil {
		return docker.ContainerSpec{}, err
	}
	labels := resolve.Merge(r.def.labels, docker.ManagedLabels(r.oc.env.Session(), r.def.name))
	return docker.ContainerSpec{
		Image:      r.oc.ImageLocator(),
		Command:    r.def.command,
		Entrypoint: r.def.entrypoint,
		Env:        env,
		Labels:     labels,
		Ports:      r.def.ports,
		WorkingDir: r.def.workingDir,
		User:       r.def.user,
	}, nil
}
