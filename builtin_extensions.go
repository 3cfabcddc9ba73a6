package containerobjects

import (
	"fmt"
	"net"
	"net/netip"
	"net/url"
	"reflect"
	"strconv"
	"strings"
)

// NewExtension returns an extension with a fixed contribution table.
func NewExtension(name string, contributions map[Stage][]Contribution) Extension {
	return &tableExtension{name: name, table: contributions}
}

type tableExtension struct {
	name  string
	table map[Stage][]Contribution
}

func (e *tableExtension) Name() string { return e.name }

func (e *tableExtension) Contributions(stage Stage) []Contribution {
	return e.table[stage]
}

// builtinExtensions returns the extensions every environment starts with.
func builtinExtensions() []Extension {
	return []Extension{
		globalsExtension(),
		containerIDExtension(),
		networkSettingsExtension(),
		containerAddressExtension(),
		containerURLExtension(),
	}
}

// clearing returns contributions that reset the slots of caps.
func clearing(caps ...Capability) []Contribution {
	out := make([]Contribution, len(caps))
	for i, c := range caps {
		out[i] = Contribution{Capability: c}
	}
	return out
}

func unsupportedSlot(target SlotTarget) error {
	return fmt.Errorf("%w: %s slot of type %s is not supported", ErrConfiguration, target.Capability, target.Type)
}

// =============================================================================
// Globals
// =============================================================================

func globalsExtension() Extension {
	value := func(get func(env *Environment) any) func(*ObjectContext, SlotTarget) (any, error) {
		return func(oc *ObjectContext, _ SlotTarget) (any, error) {
			return get(oc.Environment()), nil
		}
	}
	caps := []Capability{CapEnvironment, CapManager, CapDocker, CapNetworkProxy, CapDialer, CapHTTPClient}
	return NewExtension("globals", map[Stage][]Contribution{
		InstanceCreated: {
			{Capability: CapEnvironment, Value: value(func(env *Environment) any { return env })},
			{Capability: CapManager, Value: value(func(env *Environment) any { return env.Manager() })},
			{Capability: CapDocker, Value: value(func(env *Environment) any { return env.Docker() })},
			{Capability: CapNetworkProxy, Value: value(func(env *Environment) any { return env.ProxyURL() })},
			{Capability: CapDialer, Value: value(func(env *Environment) any { return env.Dialer() })},
			{Capability: CapHTTPClient, Value: value(func(env *Environment) any { return env.HTTPClient() })},
		},
		InstanceDiscarded: clearing(caps...),
	})
}

// =============================================================================
// Container ID and Network Settings
// =============================================================================

func containerIDExtension() Extension {
	return NewExtension("container-id", map[Stage][]Contribution{
		ContainerCreated: {{
			Capability: CapContainerID,
			Value: func(oc *ObjectContext, target SlotTarget) (any, error) {
				id := oc.ContainerID()
				switch target.Type {
				case reflect.TypeFor[string]():
					return string(id), nil
				case reflect.TypeFor[ContainerID]():
					return id, nil
				case reflect.TypeFor[ContainerLocator]():
					return ContainerLocator(id), nil
				}
				return nil, unsupportedSlot(target)
			},
		}},
		ContainerRemoved: clearing(CapContainerID),
	})
}

func networkSettingsExtension() Extension {
	return NewExtension("network-settings", map[Stage][]Contribution{
		ContainerStarted: {{
			Capability: CapNetworkSettings,
			Value: func(oc *ObjectContext, _ SlotTarget) (any, error) {
				return oc.NetworkSettings(), nil
			},
		}},
		ContainerRemoved: clearing(CapNetworkSettings),
	})
}

// =============================================================================
// Container Address and URL
// =============================================================================

// containerAddr returns the address selected by the slot's AddressFamily
// parameter.
func containerAddr(oc *ObjectContext, target SlotTarget) (netip.Addr, bool) {
	family, _ := SlotParam[AddressFamily](target)
	return oc.NetworkSettings().Address(family)
}

func containerAddressExtension() Extension {
	return NewExtension("container-address", map[Stage][]Contribution{
		ContainerStarted: {{
			Capability: CapContainerAddress,
			Value: func(oc *ObjectContext, target SlotTarget) (any, error) {
				addr, ok := containerAddr(oc, target)
				if !ok {
					return nil, nil
				}
				switch target.Type {
				case reflect.TypeFor[string]():
					return addr.String(), nil
				case reflect.TypeFor[netip.Addr]():
					return addr, nil
				case reflect.TypeFor[net.IP]():
					return net.IP(addr.AsSlice()), nil
				}
				return nil, unsupportedSlot(target)
			},
		}},
		ContainerStopped: clearing(CapContainerAddress),
	})
}

// URLConfig is the slot parameter of CapContainerURL slots. Value is a URL
// template where * stands for the container host; without it the URL is
// built from Scheme, Port and Path.
type URLConfig struct {
	Value  string
	Scheme string // default http
	Port   int    // default 8080
	Path   string
	Family AddressFamily
}

// URL returns the URL for a container address.
func (c URLConfig) URL(addr netip.Addr) (*url.URL, error) {
	if c.Value != "" {
		host := addr.String()
		if addr.Is6() {
			host = "[" + host + "]"
		}
		return url.Parse(strings.ReplaceAll(c.Value, "*", host))
	}
	scheme := c.Scheme
	if scheme == "" {
		scheme = "http"
	}
	port := c.Port
	if port == 0 {
		port = 8080
	}
	return &url.URL{
		Scheme: scheme,
		Host:   net.JoinHostPort(addr.String(), strconv.Itoa(port)),
		Path:   c.Path,
	}, nil
}

func containerURLExtension() Extension {
	return NewExtension("container-url", map[Stage][]Contribution{
		ContainerStarted: {{
			Capability: CapContainerURL,
			Value: func(oc *ObjectContext, target SlotTarget) (any, error) {
				cfg, _ := SlotParam[URLConfig](target)
				addr, ok := oc.NetworkSettings().Address(cfg.Family)
				if !ok {
					return nil, nil
				}
				u, err := cfg.URL(addr)
				if err != nil {
					return nil, fmt.Errorf("container url: %w", err)
				}
				switch target.Type {
				case reflect.TypeFor[string]():
					return u.String(), nil
				case reflect.TypeFor[*url.URL]():
					return u, nil
				}
				return nil, unsupportedSlot(target)
			},
		}},
		ContainerStopped: clearing(CapContainerURL),
	})
}
