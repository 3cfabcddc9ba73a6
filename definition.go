package containerobjects

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"reflect"
	"sync"

	"github.com/artpar/containerobjects/internal/core/resolve"
	"github.com/artpar/containerobjects/internal/shell/docker"
)

// =============================================================================
// Schema
// =============================================================================

// Schema is a container object type the Manager can create. It is
// implemented by *Definition[T].
type Schema interface {
	Name() string
	schema() *blueprint
}

type imageKind int

const (
	registryImage imageKind = iota + 1
	builtImage
)

type imageOptions struct {
	forcePull  bool
	autoRemove bool
	tag        string
}

type imageSource struct {
	kind           imageKind
	field          string
	name           string
	nameFunc       func(instance any) (string, error)
	dockerfile     Source
	dockerfileFunc func(instance any) (Source, error)
	options        imageOptions
}

type contentEntry struct {
	name   string
	source Source
}

type nested struct {
	def *blueprint
	set func(parent, child any)
}

// blueprint is a Definition with its type parameter erased.
type blueprint struct {
	name        string
	newInstance func() any

	images       []imageSource
	env          []resolve.EnvEntry
	envFiles     []string
	envFuncs     []func(instance any) (map[string]string, error)
	content      []contentEntry
	contentFuncs []func(instance any) (map[string]string, error)
	resources    fs.FS
	buildArgs    map[string]*string
	command      []string
	entrypoint   []string
	user         string
	workingDir   string
	labels       map[string]string
	ports        []docker.PortBinding
	hooks        map[Event][]hook
	receivers    []receiver
	slots        []slot
	nested       []nested

	// Builder misuse is collected here and reported by validate.
	errs []error

	validateOnce sync.Once
	validateErr  error
}

func (b *blueprint) fail(field, message string) {
	b.errs = append(b.errs, configError(b.name, field, message, nil))
}

// validate checks the definition once. Capabilities are checked per
// environment by the extension set.
func (b *blueprint) validate() error {
	b.validateOnce.Do(func() {
		b.validateErr = b.check()
	})
	return b.validateErr
}

func (b *blueprint) check() error {
	if len(b.errs) > 0 {
		return errors.Join(b.errs...)
	}
	if b.newInstance == nil {
		return configError(b.name, "New", "no constructor", nil)
	}

	if len(b.images) != 1 {
		return configError(b.name, "", fmt.Sprintf("exactly one image definition is required, found %d", len(b.images)), nil)
	}
	img := b.images[0]
	switch img.kind {
	case registryImage:
		if img.nameFunc == nil {
			if _, err := resolve.NormalizeImageName(img.name); err != nil {
				return configError(b.name, img.field, "", err)
			}
		}
	case builtImage:
		if _, err := resolve.ResolveTag(b.tagTemplate(), func() string { return "x" }); err != nil {
			return configError(b.name, "Tag", "", err)
		}
	}

	if _, err := resolve.EnvFromEntries(b.env); err != nil {
		return configError(b.name, "Env", "", err)
	}

	for _, n := range b.nested {
		if err := n.def.validate(); err != nil {
			return configError(b.name, "Nest", "nested "+n.def.name, err)
		}
	}
	return nil
}

// tagTemplate returns the tag template of a built image.
func (b *blueprint) tagTemplate() string {
	if len(b.images) == 1 && b.images[0].options.tag != "" {
		return b.images[0].options.tag
	}
	return resolve.DefaultTagTemplate(b.name)
}

// =============================================================================
// Definition
// =============================================================================

// Definition describes how values of type T become container objects. Build
// it once, before the first Create; a Definition is validated on first use
// and must not be changed afterwards.
type Definition[T any] struct {
	bp *blueprint
}

// Define starts a definition for T. An empty name uses the name of T.
func Define[T any](name string) *Definition[T] {
	if name == "" {
		t := reflect.TypeFor[T]()
		name = t.Name()
		if name == "" {
			name = t.String()
		}
	}
	return &Definition[T]{bp: &blueprint{
		name:        name,
		newInstance: func() any { return new(T) },
		labels:      make(map[string]string),
		hooks:       make(map[Event][]hook),
	}}
}

// Name returns the definition name.
func (d *Definition[T]) Name() string { return d.bp.name }

func (d *Definition[T]) schema() *blueprint { return d.bp }

// New replaces the default constructor new(T).
func (d *Definition[T]) New(fn func() *T) *Definition[T] {
	if fn == nil {
		d.bp.fail("New", "nil constructor")
		return d
	}
	d.bp.newInstance = func() any {
		if v := fn(); v != nil {
			return v
		}
		return nil
	}
	return d
}

// =============================================================================
// Images
// =============================================================================

// ImageOption configures an image definition.
type ImageOption func(*imageOptions)

// ForcePull pulls a registry image even when it is present, or pulls newer
// base images during a build.
func ForcePull() ImageOption {
	return func(o *imageOptions) { o.forcePull = true }
}

// AutoRemove removes a pulled registry image when the object is destroyed.
// Images already present before the object was created are never removed.
// Built images are always removed.
func AutoRemove() ImageOption {
	return func(o *imageOptions) { o.autoRemove = true }
}

// Tag sets the tag template of a built image. Each * is replaced by a fresh
// unique token and the result is lowercased.
func Tag(template string) ImageOption {
	return func(o *imageOptions) { o.tag = template }
}

func applyImageOptions(opts []ImageOption) imageOptions {
	var o imageOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func (d *Definition[T]) addImage(src imageSource, opts []ImageOption) *Definition[T] {
	src.options = applyImageOptions(opts)
	if src.kind == registryImage && src.options.tag != "" {
		d.bp.fail(src.field, "Tag applies to built images only")
	}
	d.bp.images = append(d.bp.images, src)
	return d
}

// RegistryImage uses an image from a registry.
func (d *Definition[T]) RegistryImage(name string, opts ...ImageOption) *Definition[T] {
	return d.addImage(imageSource{kind: registryImage, field: "RegistryImage", name: name}, opts)
}

// RegistryImageFunc uses the registry image named by fn.
func (d *Definition[T]) RegistryImageFunc(fn func(*T) (string, error), opts ...ImageOption) *Definition[T] {
	if fn == nil {
		d.bp.fail("RegistryImageFunc", "nil function")
	}
	return d.addImage(imageSource{
		kind:     registryImage,
		field:    "RegistryImageFunc",
		nameFunc: func(instance any) (string, error) { return fn(instance.(*T)) },
	}, opts)
}

// BuildImage builds the image from a Dockerfile. The location may carry a
// classpath://, file://, http:// or https:// prefix; otherwise it is a path.
// A directory path is used as the build context with its Dockerfile.
func (d *Definition[T]) BuildImage(dockerfile string, opts ...ImageOption) *Definition[T] {
	return d.BuildImageSource(ParseSource(dockerfile), opts...)
}

// BuildImageSource builds the image from the Dockerfile src.
func (d *Definition[T]) BuildImageSource(src Source, opts ...ImageOption) *Definition[T] {
	if src == nil {
		d.bp.fail("BuildImage", "nil Dockerfile source")
	}
	return d.addImage(imageSource{kind: builtImage, field: "BuildImage", dockerfile: src}, opts)
}

// BuildImageFunc builds the image from the Dockerfile returned by fn.
func (d *Definition[T]) BuildImageFunc(fn func(*T) (Source, error), opts ...ImageOption) *Definition[T] {
	if fn == nil {
		d.bp.fail("BuildImageFunc", "nil function")
	}
	return d.addImage(imageSource{
		kind:           builtImage,
		field:          "BuildImageFunc",
		dockerfileFunc: func(instance any) (Source, error) { return fn(instance.(*T)) },
	}, opts)
}

// BuildContent adds a file to the build context. value is literal content
// unless it has a classpath://, file://, http:// or https:// prefix.
func (d *Definition[T]) BuildContent(name, value string) *Definition[T] {
	return d.BuildContentSource(name, sourceFromLocation(value, TextSource))
}

// BuildContentSource adds a file with content src to the build context.
func (d *Definition[T]) BuildContentSource(name string, src Source) *Definition[T] {
	if name == "" || src == nil {
		d.bp.fail("BuildContent", "entry needs a name and content")
		return d
	}
	d.bp.content = append(d.bp.content, contentEntry{name: name, source: src})
	return d
}

// BuildContentFunc adds the files returned by fn to the build context. They
// are added after BuildContent entries and replace entries of the same name.
func (d *Definition[T]) BuildContentFunc(fn func(*T) (map[string]string, error)) *Definition[T] {
	if fn == nil {
		d.bp.fail("BuildContentFunc", "nil function")
		return d
	}
	d.bp.contentFuncs = append(d.bp.contentFuncs, func(instance any) (map[string]string, error) {
		return fn(instance.(*T))
	})
	return d
}

// BuildArg sets a build argument of a built image.
func (d *Definition[T]) BuildArg(name, value string) *Definition[T] {
	if name == "" {
		d.bp.fail("BuildArg", "empty name")
		return d
	}
	if d.bp.buildArgs == nil {
		d.bp.buildArgs = make(map[string]*string)
	}
	d.bp.buildArgs[name] = &value
	return d
}

// Resources sets the file system classpath:// locations resolve against.
func (d *Definition[T]) Resources(fsys fs.FS) *Definition[T] {
	d.bp.resources = fsys
	return d
}

// =============================================================================
// Container
// =============================================================================

// Env adds an environment variable. With an empty name, value is parsed as
// KEY=VALUE.
func (d *Definition[T]) Env(name, value string) *Definition[T] {
	d.bp.env = append(d.bp.env, resolve.EnvEntry{Name: name, Value: value})
	return d
}

// EnvFile adds the variables of a dotenv file, read at create time.
func (d *Definition[T]) EnvFile(path string) *Definition[T] {
	if path == "" {
		d.bp.fail("EnvFile", "empty path")
		return d
	}
	d.bp.envFiles = append(d.bp.envFiles, filepath.Clean(path))
	return d
}

// EnvFunc adds the variables returned by fn. They override Env and EnvFile
// entries of the same name.
func (d *Definition[T]) EnvFunc(fn func(*T) (map[string]string, error)) *Definition[T] {
	if fn == nil {
		d.bp.fail("EnvFunc", "nil function")
		return d
	}
	d.bp.envFuncs = append(d.bp.envFuncs, func(instance any) (map[string]string, error) {
		return fn(instance.(*T))
	})
	return d
}

func (d *Definition[T]) Command(args ...string) *Definition[T] {
	d.bp.command = args
	return d
}

func (d *Definition[T]) Entrypoint(args ...string) *Definition[T] {
	d.bp.entrypoint = args
	return d
}

func (d *Definition[T]) User(user string) *Definition[T] {
	d.bp.user = user
	return d
}

func (d *Definition[T]) WorkingDir(dir string) *Definition[T] {
	d.bp.workingDir = dir
	return d
}

// Label adds a container label.
func (d *Definition[T]) Label(key, value string) *Definition[T] {
	d.bp.labels[key] = value
	return d
}

// ExposePort exposes a TCP port. A hostPort of zero exposes the port without
// publishing it.
func (d *Definition[T]) ExposePort(containerPort, hostPort int) *Definition[T] {
	return d.ExposePortProtocol(containerPort, hostPort, "tcp")
}

// ExposePortProtocol exposes a port with the given protocol.
func (d *Definition[T]) ExposePortProtocol(containerPort, hostPort int, protocol string) *Definition[T] {
	if containerPort <= 0 || containerPort > 65535 || hostPort < 0 || hostPort > 65535 {
		d.bp.fail("ExposePort", fmt.Sprintf("invalid port %d:%d", hostPort, containerPort))
		return d
	}
	d.bp.ports = append(d.bp.ports, docker.PortBinding{
		ContainerPort: containerPort,
		HostPort:      hostPort,
		Protocol:      protocol,
	})
	return d
}

// =============================================================================
// Hooks, Slots and Nesting
// =============================================================================

// On registers a hook for an event. Hooks of one event run in registration
// order.
func (d *Definition[T]) On(event Event, h Hook[T]) *Definition[T] {
	if !event.Valid() {
		d.bp.fail("On", fmt.Sprintf("unknown event %s", event))
		return d
	}
	if h == nil {
		d.bp.fail("On", fmt.Sprintf("nil hook for %s", event))
		return d
	}
	d.bp.hooks[event] = append(d.bp.hooks[event], func(ctx context.Context, instance any, oc *ObjectContext) error {
		return h(ctx, instance.(*T), oc)
	})
	return d
}

// Inject declares slots filled by extensions.
func (d *Definition[T]) Inject(slots ...SlotSpec[T]) *Definition[T] {
	for _, s := range slots {
		if s.slot.assign == nil {
			d.bp.fail("Inject", fmt.Sprintf("read-only %s slot", s.slot.target.Capability))
			continue
		}
		d.bp.slots = append(d.bp.slots, s.slot)
	}
	return d
}

// Nest creates a child container object with every parent. The child is
// created before the parent's image is prepared, handed to set, and destroyed
// when the parent is discarded, after which set receives nil.
func Nest[T, C any](parent *Definition[T], child *Definition[C], set func(*T, *C)) *Definition[T] {
	if child == nil || set == nil {
		parent.bp.fail("Nest", "nested definition needs a child and a setter")
		return parent
	}
	parent.bp.nested = append(parent.bp.nested, nested{
		def: child.bp,
		set: func(p, c any) {
			if c == nil {
				set(p.(*T), nil)
				return
			}
			set(p.(*T), c.(*C))
		},
	})
	return parent
}
