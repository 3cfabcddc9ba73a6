package compose

import (
	"context"
	"fmt"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/compose-spec/compose-go/v2/loader"
	"github.com/compose-spec/compose-go/v2/types"
	"gopkg.in/yaml.v3"
)

// projectName names the in-memory project; it never reaches Docker.
const projectName = "containerobjects"

// Parse reads compose YAML. Placeholders are interpolated from the process
// environment by compose-go.
func Parse(content string) (*Project, error) {
	if strings.TrimSpace(content) == "" {
		return nil, ErrEmptyInput
	}
	loaded, err := load(content)
	if err != nil {
		return nil, err
	}
	if err := rejectUnsupported(loaded); err != nil {
		return nil, err
	}
	if len(loaded.Services) == 0 {
		return nil, ErrNoServices
	}

	p := &Project{Services: make([]Service, 0, len(loaded.Services))}
	for _, svc := range loaded.Services {
		s, err := toService(svc)
		if err != nil {
			return nil, err
		}
		p.Services = append(p.Services, s)
	}
	slices.SortFunc(p.Services, func(a, b Service) int { return strings.Compare(a.Name, b.Name) })

	for _, s := range p.Services {
		if _, err := p.StartOrder(s.Name); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func load(content string) (*types.Project, error) {
	var dict map[string]any
	if err := yaml.Unmarshal([]byte(content), &dict); err != nil || dict == nil {
		return nil, parseError("", ErrInvalidYAML, "not a YAML mapping")
	}

	project, err := loader.LoadWithContext(context.Background(), types.ConfigDetails{
		ConfigFiles: []types.ConfigFile{{Content: []byte(content), Config: dict}},
	}, func(o *loader.Options) {
		o.SetProjectName(projectName, false)
		// Build contexts stay relative; the caller resolves them.
		o.SkipNormalization = true
		o.SkipExtends = true
	})
	if err == nil {
		return project, nil
	}

	msg := err.Error()
	switch {
	case strings.Contains(msg, "dependency cycle"):
		return nil, parseError("", ErrCircularDependency, "%s", msg)
	case strings.Contains(msg, "image") && strings.Contains(msg, "build"):
		return nil, parseError("", ErrServiceNoImage, "%s", msg)
	default:
		return nil, parseError("", ErrInvalidYAML, "%s", msg)
	}
}

// rejectUnsupported fails on top-level features a single container cannot
// provide.
func rejectUnsupported(project *types.Project) error {
	switch {
	case len(project.Secrets) > 0:
		return parseError("secrets", ErrUnsupportedFeature, "secrets are not supported")
	case len(project.Configs) > 0:
		return parseError("configs", ErrUnsupportedFeature, "configs are not supported")
	}
	for _, svc := range project.Services {
		if svc.Extends != nil && svc.Extends.File != "" {
			return parseError("services."+svc.Name+".extends", ErrUnsupportedFeature, "extends from another file is not supported")
		}
	}
	return nil
}

func toService(svc types.ServiceConfig) (Service, error) {
	field := "services." + svc.Name
	s := Service{
		Name:        svc.Name,
		Image:       svc.Image,
		Command:     svc.Command,
		Entrypoint:  svc.Entrypoint,
		Environment: make(map[string]string, len(svc.Environment)),
		Labels:      make(map[string]string, len(svc.Labels)),
		User:        svc.User,
		WorkingDir:  svc.WorkingDir,
		Ignored:     ignoredKeys(svc),
	}

	if b := svc.Build; b != nil {
		s.Build = &Build{Context: b.Context, Dockerfile: b.Dockerfile}
		if len(b.Args) > 0 {
			s.Build.Args = make(map[string]*string, len(b.Args))
			for k, v := range b.Args {
				s.Build.Args[k] = v
			}
		}
	}
	if s.Image == "" && s.Build == nil {
		return Service{}, parseError(field, ErrServiceNoImage, "service has neither image nor build")
	}

	for k, v := range svc.Environment {
		// Variables listed without a value and not set are dropped.
		if v != nil {
			s.Environment[k] = *v
		}
	}
	for k, v := range svc.Labels {
		s.Labels[k] = v
	}
	for dep := range svc.DependsOn {
		s.DependsOn = append(s.DependsOn, dep)
	}
	slices.Sort(s.DependsOn)

	for i, p := range svc.Ports {
		port, err := toPort(p)
		if err != nil {
			return Service{}, parseError(fmt.Sprintf("%s.ports[%d]", field, i), ErrServiceInvalidPort, "%v", err)
		}
		s.Ports = append(s.Ports, port)
	}
	return s, nil
}

func toPort(p types.ServicePortConfig) (Port, error) {
	if p.Target == 0 || p.Target > 65535 {
		return Port{}, fmt.Errorf("target %d out of range", p.Target)
	}
	port := Port{Target: p.Target, Protocol: p.Protocol}
	if p.Published == "" {
		return port, nil
	}
	// Ranges such as "8000-8010" have no single host port.
	published, err := strconv.ParseUint(p.Published, 10, 16)
	if err != nil {
		return Port{}, fmt.Errorf("published port %q: not a single port", p.Published)
	}
	port.Published = uint32(published)
	return port, nil
}

// ignorable maps service keys without a container object equivalent to a
// presence test.
var ignorable = []struct {
	key string
	set func(types.ServiceConfig) bool
}{
	{"volumes", func(s types.ServiceConfig) bool { return len(s.Volumes) > 0 }},
	{"networks", func(s types.ServiceConfig) bool { return len(s.Networks) > 0 }},
	{"healthcheck", func(s types.ServiceConfig) bool { return s.HealthCheck != nil }},
	{"deploy", func(s types.ServiceConfig) bool { return s.Deploy != nil }},
	{"restart", func(s types.ServiceConfig) bool { return s.Restart != "" }},
	{"cap_add", func(s types.ServiceConfig) bool { return len(s.CapAdd) > 0 }},
	{"devices", func(s types.ServiceConfig) bool { return len(s.Devices) > 0 }},
	{"privileged", func(s types.ServiceConfig) bool { return s.Privileged }},
}

func ignoredKeys(svc types.ServiceConfig) []string {
	var keys []string
	for _, k := range ignorable {
		if k.set(svc) {
			keys = append(keys, k.key)
		}
	}
	return keys
}

// =============================================================================
// Lookup and Ordering
// =============================================================================

// Service returns the named service.
func (p *Project) Service(name string) (*Service, error) {
	i := slices.IndexFunc(p.Services, func(s Service) bool { return s.Name == name })
	if i < 0 {
		return nil, parseError("services."+name, ErrServiceNotFound, "service not found")
	}
	return &p.Services[i], nil
}

// StartOrder returns name preceded by everything it depends on, transitively,
// dependencies first. Siblings keep name order.
func (p *Project) StartOrder(name string) ([]string, error) {
	if _, err := p.Service(name); err != nil {
		return nil, err
	}

	const (
		unvisited = iota
		visiting
		done
	)
	state := make(map[string]int)
	var order []string

	var visit func(n, from string) error
	visit = func(n, from string) error {
		switch state[n] {
		case visiting:
			return parseError("services."+n, ErrCircularDependency, "%s depends on itself", n)
		case done:
			return nil
		}
		svc, err := p.Service(n)
		if err != nil {
			return parseError("services."+from+".depends_on", ErrUnknownDependency, "unknown service %q", n)
		}
		state[n] = visiting
		for _, dep := range svc.DependsOn {
			if err := visit(dep, n); err != nil {
				return err
			}
		}
		state[n] = done
		order = append(order, n)
		return nil
	}
	if err := visit(name, ""); err != nil {
		return nil, err
	}
	return order, nil
}

// =============================================================================
// Variables
// =============================================================================

// placeholder matches ${NAME} and ${NAME:-default}.
var placeholder = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(:-[^}]*)?\}`)

// ExtractVariablesFromYAML returns the placeholder names in content in order
// of first use. It reads the raw text because loading interpolates them away.
func ExtractVariablesFromYAML(content string) []string {
	return scanVariables(content, true)
}

// RequiredVariables returns the placeholder names without a default.
func RequiredVariables(content string) []string {
	return scanVariables(content, false)
}

func scanVariables(content string, withDefaults bool) []string {
	var names []string
	for _, m := range placeholder.FindAllStringSubmatch(content, -1) {
		if (!withDefaults && m[2] != "") || slices.Contains(names, m[1]) {
			continue
		}
		names = append(names, m[1])
	}
	return names
}
