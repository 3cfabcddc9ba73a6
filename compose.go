package containerobjects

import (
	"fmt"
	"net/netip"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/artpar/containerobjects/internal/core/compose"
)

// =============================================================================
// Compose Services
// =============================================================================

// Service is a container object created from a compose service.
type Service struct {
	Name    string
	ID      ContainerID
	Address netip.Addr
	Network *NetworkSettings
}

// ComposeProject is a parsed compose file whose services can be turned into
// definitions.
type ComposeProject struct {
	project    *compose.Project
	workingDir string
	raw        string
}

// LoadCompose parses compose YAML. Relative build contexts resolve against
// workingDir.
func LoadCompose(data, workingDir string) (*ComposeProject, error) {
	project, err := compose.Parse(data)
	if err != nil {
		return nil, err
	}
	return &ComposeProject{project: project, workingDir: workingDir, raw: data}, nil
}

// Services returns the service names in name order.
func (p *ComposeProject) Services() []string {
	names := make([]string, len(p.project.Services))
	for i, svc := range p.project.Services {
		names[i] = svc.Name
	}
	return names
}

// StartOrder returns service preceded by the services it depends on.
func (p *ComposeProject) StartOrder(service string) ([]string, error) {
	return p.project.StartOrder(service)
}

// Variables returns the ${VAR} placeholders of the file in order of first
// use.
func (p *ComposeProject) Variables() []string {
	return compose.ExtractVariablesFromYAML(p.raw)
}

// UnsetVariables returns the placeholders without a default that are not set
// in the process environment. They interpolated to empty strings.
func (p *ComposeProject) UnsetVariables() []string {
	var unset []string
	for _, name := range compose.RequiredVariables(p.raw) {
		if _, ok := os.LookupEnv(name); !ok {
			unset = append(unset, name)
		}
	}
	return unset
}

// Ignored returns the keys of service that have no container object
// equivalent and were skipped.
func (p *ComposeProject) Ignored(service string) ([]string, error) {
	svc, err := p.project.Service(service)
	if err != nil {
		return nil, err
	}
	return svc.Ignored, nil
}

// Definition returns a definition for the named service. A service with a
// build section is built, tagged with its image name when it has one.
func (p *ComposeProject) Definition(service string) (*Definition[Service], error) {
	svc, err := p.project.Service(service)
	if err != nil {
		return nil, err
	}

	def := Define[Service](svc.Name).
		New(func() *Service { return &Service{Name: svc.Name} })

	if svc.Build != nil {
		if err := p.addBuild(def, svc); err != nil {
			return nil, err
		}
	} else {
		def.RegistryImage(svc.Image)
	}

	keys := make([]string, 0, len(svc.Environment))
	for k := range svc.Environment {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		def.Env(k, svc.Environment[k])
	}

	if len(svc.Command) > 0 {
		def.Command(svc.Command...)
	}
	if len(svc.Entrypoint) > 0 {
		def.Entrypoint(svc.Entrypoint...)
	}
	if svc.User != "" {
		def.User(svc.User)
	}
	if svc.WorkingDir != "" {
		def.WorkingDir(svc.WorkingDir)
	}
	for k, v := range svc.Labels {
		def.Label(k, v)
	}
	for _, port := range svc.Ports {
		def.ExposePortProtocol(int(port.Target), int(port.Published), port.Protocol)
	}

	def.Inject(
		Slot(CapContainerID, func(s *Service, id ContainerID) { s.ID = id }),
		Slot(CapContainerAddress, func(s *Service, addr netip.Addr) { s.Address = addr }),
		Slot(CapNetworkSettings, func(s *Service, n *NetworkSettings) { s.Network = n }),
	)

	if err := def.bp.validate(); err != nil {
		return nil, err
	}
	return def, nil
}

// addBuild points def at the service's Dockerfile. The Dockerfile must sit
// at the root of the build context.
func (p *ComposeProject) addBuild(def *Definition[Service], svc *compose.Service) error {
	contextDir := svc.Build.Context
	if contextDir == "" {
		contextDir = "."
	}
	if !filepath.IsAbs(contextDir) {
		contextDir = filepath.Join(p.workingDir, contextDir)
	}

	dockerfile := svc.Build.Dockerfile
	if dockerfile == "" {
		dockerfile = "Dockerfile"
	}
	if strings.ContainsAny(dockerfile, `/\`) {
		return configError(svc.Name, "build.dockerfile",
			fmt.Sprintf("%s is not at the root of the build context", dockerfile), nil)
	}

	var opts []ImageOption
	if svc.Image != "" {
		opts = append(opts, Tag(svc.Image))
	}
	def.BuildImage(filepath.Join(contextDir, dockerfile), opts...)

	args := make([]string, 0, len(svc.Build.Args))
	for k := range svc.Build.Args {
		args = append(args, k)
	}
	sort.Strings(args)
	for _, k := range args {
		if v := svc.Build.Args[k]; v != nil {
			def.BuildArg(k, *v)
		}
	}
	return nil
}

// FromCompose returns a definition for one service of compose YAML.
func FromCompose(data, service, workingDir string) (*Definition[Service], error) {
	project, err := LoadCompose(data, workingDir)
	if err != nil {
		return nil, err
	}
	return project.Definition(service)
}
