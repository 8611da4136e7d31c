// Package hooks implements a machine's lifecycle hook registry: the
// load/up/down/drop/save/clone/unseal/disrupt/timesync callbacks fired at
// each state transition.
//
// A hook bound as a closure over its machine can't be serialized, so hooks
// here are stored as small tagged Descriptors (data, not code) and fired
// by handing each one to a caller-supplied Dispatcher along with an
// explicit Context. That makes a Registry trivially serializable alongside
// a machine (see internal/store), since there is no closure state to
// marshal.
package hooks

import (
	"github.com/sasha-s/go-deadlock"
)

// Name is one of the canonical hook names.
type Name string

const (
	Load     Name = "load"
	Up       Name = "up"
	Down     Name = "down"
	Drop     Name = "drop"
	Save     Name = "save"
	Clone    Name = "clone"
	Unseal   Name = "unseal"
	Disrupt  Name = "disrupt"
	Timesync Name = "timesync"
)

// Direction controls firing order: Forward fires in registration order,
// Reverse fires in the opposite order.
type Direction int

const (
	Forward Direction = iota
	Reverse
)

var directionOf = map[Name]Direction{
	Load:     Forward,
	Up:       Forward,
	Down:     Reverse,
	Drop:     Reverse,
	Save:     Reverse,
	Clone:    Forward,
	Unseal:   Forward,
	Disrupt:  Forward,
	Timesync: Forward,
}

// DirectionOf returns the fixed firing direction for a canonical hook name.
// Unknown (plugin-defined) names default to Forward.
func DirectionOf(name Name) Direction {
	if d, ok := directionOf[name]; ok {
		return d
	}
	return Forward
}

// Kind distinguishes the three shapes a hook Descriptor can take.
type Kind int

const (
	// KindFn calls a plugin-registered symbol by name.
	KindFn Kind = iota
	// KindMethod calls a method chain on the machine itself, e.g. a
	// ".hooks.unseal" descriptor.
	KindMethod
	// KindAssign sets a dotted-path field on the machine, e.g. a
	// ".ram.size=2G" descriptor.
	KindAssign
)

// Descriptor is one entry in a hook list: everything needed to re-invoke
// the hook later, without holding a reference to live Go state.
type Descriptor struct {
	Kind   Kind     `yaml:"kind"`
	Plugin string   `yaml:"plugin,omitempty"`
	Symbol string   `yaml:"symbol,omitempty"`
	Path   string   `yaml:"path,omitempty"`
	Args   []string `yaml:"args,omitempty"`
	Value  string   `yaml:"value,omitempty"`
}

// FnDescriptor builds a KindFn Descriptor.
func FnDescriptor(plugin, symbol string, args ...string) Descriptor {
	return Descriptor{Kind: KindFn, Plugin: plugin, Symbol: symbol, Args: args}
}

// MethodDescriptor builds a KindMethod Descriptor for path, e.g. "hooks.unseal".
func MethodDescriptor(path string, args ...string) Descriptor {
	return Descriptor{Kind: KindMethod, Path: path, Args: args}
}

// AssignDescriptor builds a KindAssign Descriptor for path, e.g. "ram.size".
func AssignDescriptor(path, value string) Descriptor {
	return Descriptor{Kind: KindAssign, Path: path, Value: value}
}

// Registry is a mapping from hook name to an ordered list of Descriptors.
// It holds no machine reference and no closures, so it round-trips
// through YAML alongside the rest of a machine's serialized state.
type Registry struct {
	mu    deadlock.Mutex
	Hooks map[Name][]Descriptor `yaml:"hooks"`
}

// NewRegistry builds an empty Registry.
func NewRegistry() *Registry {
	return &Registry{Hooks: map[Name][]Descriptor{}}
}

// Register appends d to the end of name's list, in registration order.
func (r *Registry) Register(name Name, d Descriptor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Hooks == nil {
		r.Hooks = map[Name][]Descriptor{}
	}
	r.Hooks[name] = append(r.Hooks[name], d)
}

// List returns a copy of name's registered Descriptors, in registration
// order (callers wanting Reverse order should use Fire, which handles it).
func (r *Registry) List(name Name) []Descriptor {
	r.mu.Lock()
	defer r.mu.Unlock()
	src := r.Hooks[name]
	out := make([]Descriptor, len(src))
	copy(out, src)
	return out
}

// Context is the explicit state handed to each hook at fire time, in place
// of closure capture over the machine.
type Context struct {
	// MachinePath is the scratch or cache-entry directory of the machine
	// the hook fires against.
	MachinePath string
	// Extensions is the machine's typed extension map.
	Extensions map[string]interface{}
	// Machine is the live machine the hook fires against, opaque here to
	// avoid a dependency cycle; a Dispatcher that handles KindMethod or
	// KindAssign descriptors type-asserts or reflects into it (see
	// internal/engine's Dispatch, which uses internal/step's Invoke/Assign).
	Machine interface{}
}

// Dispatcher executes one Descriptor against ctx. Callers supply the
// concrete dispatch logic: internal/engine's Dispatch resolves
// KindMethod/KindAssign against ctx.Machine via internal/step, and routes
// KindFn descriptors to the plugin symbol table the backends (pkg/backend)
// register into.
type Dispatcher func(ctx *Context, d Descriptor) error

// Fire invokes every Descriptor registered under name, in name's fixed
// direction, stopping at the first error.
func (r *Registry) Fire(name Name, ctx *Context, dispatch Dispatcher) error {
	list := r.List(name)
	if DirectionOf(name) == Reverse {
		for i, j := 0, len(list)-1; i < j; i, j = i+1, j-1 {
			list[i], list[j] = list[j], list[i]
		}
	}
	for _, d := range list {
		if err := dispatch(ctx, d); err != nil {
			return err
		}
	}
	return nil
}
