package containerobjects

import (
	"fmt"
	"reflect"
)

// Capability names a kind of value extensions inject into slots.
type Capability string

// Built-in capabilities.
const (
	CapEnvironment      Capability = "environment"
	CapManager          Capability = "manager"
	CapDocker           Capability = "docker"
	CapNetworkProxy     Capability = "network-proxy"
	CapDialer           Capability = "dialer"
	CapHTTPClient       Capability = "http-client"
	CapContainerID      Capability = "container-id"
	CapNetworkSettings  Capability = "network-settings"
	CapContainerAddress Capability = "container-address"
	CapContainerURL     Capability = "container-url"
)

// SlotTarget describes a slot to the extension filling it.
type SlotTarget struct {
	Capability Capability
	// Type is the value type the slot setter accepts.
	Type   reflect.Type
	Params []any
}

// Accepts reports whether the slot takes values of type V.
func Accepts[V any](t SlotTarget) bool {
	return t.Type == reflect.TypeFor[V]()
}

// SlotParam returns the first parameter of type P given to the slot.
func SlotParam[P any](t SlotTarget) (P, bool) {
	for _, p := range t.Params {
		if v, ok := p.(P); ok {
			return v, true
		}
	}
	var zero P
	return zero, false
}

// SlotSpec is a slot declared for values of type T. Create one with Slot.
type SlotSpec[T any] struct {
	slot slot
}

type slot struct {
	target SlotTarget
	assign func(instance any, value any) error
}

// Slot declares that set receives the value extensions contribute for the
// capability. A nil value is delivered as the zero value of V; extensions
// use it to clear a slot. params are handed to the extension through the
// SlotTarget.
//
// Example:
//
//	Slot(CapContainerAddress, func(p *Postgres, addr string) { p.Addr = addr })
//	Slot(CapContainerAddress, func(p *Postgres, addr netip.Addr) { p.IP = addr }, AddressIPv6)
func Slot[T, V any](c Capability, set func(*T, V), params ...any) SlotSpec[T] {
	s := slot{
		target: SlotTarget{
			Capability: c,
			Type:       reflect.TypeFor[V](),
			Params:     params,
		},
	}
	if set != nil {
		s.assign = func(instance any, value any) error {
			if value == nil {
				var zero V
				set(instance.(*T), zero)
				return nil
			}
			v, ok := value.(V)
			if !ok {
				return fmt.Errorf("capability %s provided %T, slot takes %s", c, value, s.target.Type)
			}
			set(instance.(*T), v)
			return nil
		}
	}
	return SlotSpec[T]{slot: s}
}
