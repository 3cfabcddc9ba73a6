package containerobjects

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/samber/lo"

	"github.com/artpar/containerobjects/internal/core/lifecycle"
)

// =============================================================================
// Extension Protocol
// =============================================================================

// Extension contributes slot values at lifecycle stages.
type Extension interface {
	Name() string
	// Contributions returns what the extension injects when an object enters
	// stage. It is called once per stage when the environment is built.
	Contributions(stage Stage) []Contribution
}

// Contribution fills every slot of one capability.
type Contribution struct {
	Capability Capability
	// Value computes the value for one slot. A nil Value clears the slot.
	Value func(oc *ObjectContext, target SlotTarget) (any, error)
}

// EnvironmentSetup is implemented by extensions that prepare state when an
// environment is built.
type EnvironmentSetup interface {
	SetupEnvironment(ctx context.Context, env *Environment) error
}

// EnvironmentTeardown is implemented by extensions that release state when
// an environment is closed.
type EnvironmentTeardown interface {
	TeardownEnvironment(ctx context.Context, env *Environment) error
}

var (
	registeredMu         sync.Mutex
	registeredExtensions []Extension
)

// RegisterExtension adds an extension to every environment built afterwards.
// It is meant to be called from init functions.
func RegisterExtension(ext Extension) {
	registeredMu.Lock()
	defer registeredMu.Unlock()
	registeredExtensions = append(registeredExtensions, ext)
}

func globalExtensions() []Extension {
	registeredMu.Lock()
	defer registeredMu.Unlock()
	return append([]Extension(nil), registeredExtensions...)
}

// =============================================================================
// Extension Set
// =============================================================================

type stageContribution struct {
	extension string
	Contribution
}

// extensionSet is the extensions of one environment, indexed by stage.
type extensionSet struct {
	extensions []Extension
	byStage    map[Stage][]stageContribution
	provided   map[Capability]bool
}

// newExtensionSet indexes the contributions of exts. Two extensions
// contributing the same capability at the same stage are rejected.
func newExtensionSet(exts []Extension) (*extensionSet, error) {
	set := &extensionSet{
		extensions: exts,
		byStage:    make(map[Stage][]stageContribution),
		provided:   make(map[Capability]bool),
	}
	for _, stage := range lifecycle.Stages() {
		owners := make(map[Capability]string)
		for _, ext := range exts {
			for _, c := range ext.Contributions(stage) {
				if owner, ok := owners[c.Capability]; ok {
					return nil, fmt.Errorf("%w: %s and %s both provide %s at %s",
						ErrExtensionConflict, owner, ext.Name(), c.Capability, stage)
				}
				owners[c.Capability] = ext.Name()
				set.byStage[stage] = append(set.byStage[stage], stageContribution{extension: ext.Name(), Contribution: c})
				if c.Value != nil {
					set.provided[c.Capability] = true
				}
			}
		}
	}
	return set, nil
}

// capabilities returns the capabilities some extension provides, sorted.
func (s *extensionSet) capabilities() []Capability {
	caps := lo.Keys(s.provided)
	sort.Slice(caps, func(i, j int) bool { return caps[i] < caps[j] })
	return caps
}

// checkSlots reports slots no extension of the set fills.
func (s *extensionSet) checkSlots(b *blueprint) error {
	for _, sl := range b.slots {
		if !s.provided[sl.target.Capability] {
			return configError(b.name, "Inject", fmt.Sprintf("no extension provides %s", sl.target.Capability), nil)
		}
	}
	for _, n := range b.nested {
		if err := s.checkSlots(n.def); err != nil {
			return err
		}
	}
	return nil
}

// inject applies the contributions for the object's current stage.
func (s *extensionSet) inject(oc *ObjectContext) error {
	contributions := s.byStage[oc.Stage()]
	if len(contributions) == 0 || len(oc.def.slots) == 0 {
		return nil
	}
	instance := oc.Instance()
	for _, c := range contributions {
		for _, sl := range oc.def.slots {
			if sl.target.Capability != c.Capability {
				continue
			}
			var value any
			if c.Value != nil {
				v, err := c.Value(oc, sl.target)
				if err != nil {
					return fmt.Errorf("extension %s: %w", c.extension, err)
				}
				value = v
			}
			if err := sl.assign(instance, value); err != nil {
				return configError(oc.Name(), "Inject", "extension "+c.extension, err)
			}
		}
	}
	return nil
}

func (s *extensionSet) setup(ctx context.Context, env *Environment) error {
	for _, ext := range s.extensions {
		if setup, ok := ext.(EnvironmentSetup); ok {
			if err := setup.SetupEnvironment(ctx, env); err != nil {
				return fmt.Errorf("extension %s setup: %w", ext.Name(), err)
			}
		}
	}
	return nil
}

// teardown runs in reverse registration order and keeps going on errors.
func (s *extensionSet) teardown(ctx context.Context, env *Environment) []error {
	var errs []error
	for _, ext := range lo.Reverse(append([]Extension(nil), s.extensions...)) {
		if teardown, ok := ext.(EnvironmentTeardown); ok {
			if err := teardown.TeardownEnvironment(ctx, env); err != nil {
				errs = append(errs, fmt.Errorf("extension %s teardown: %w", ext.Name(), err))
			}
		}
	}
	return errs
}
