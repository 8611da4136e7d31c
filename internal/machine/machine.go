// Package machine implements the environment data model and its scoped
// acquisition state machine: up/down/drop on enter and exit, and the
// finalize step that publishes a scratch directory into the cache.
package machine

import (
	"os"
	"path/filepath"

	"github.com/fingertip-dev/fingertip/internal/errs"
	"github.com/fingertip-dev/fingertip/internal/expiration"
	"github.com/fingertip-dev/fingertip/internal/hooks"
	"github.com/fingertip-dev/fingertip/internal/paths"
)

// State is one of the five states a Machine can be in. "saved" is
// deliberately absent — it is a historical label with no observable
// semantics, not a real state (see DESIGN.md).
type State int

const (
	StateLoaded State = iota
	StateSpunUp
	StateSpunDown
	StateSaving
	StateDropped
)

func (s State) String() string {
	switch s {
	case StateLoaded:
		return "loaded"
	case StateSpunUp:
		return "spun_up"
	case StateSpunDown:
		return "spun_down"
	case StateSaving:
		return "saving"
	case StateDropped:
		return "dropped"
	default:
		return "unknown"
	}
}

// Machine is a reproducible environment snapshot plus its transient live
// process.
type Machine struct {
	Path       string `yaml:"path"`
	ParentPath string `yaml:"parentPath"`
	LinkTarget string `yaml:"linkTarget,omitempty"`

	State     State `yaml:"state"`
	UpCounter int   `yaml:"upCounter"`
	Transient bool  `yaml:"transient"`
	Sealed    bool  `yaml:"sealed"`

	Expiration *expiration.Expiration `yaml:"expiration"`
	Hooks      *hooks.Registry        `yaml:"hooks"`
	Backend    string                 `yaml:"backend"`

	// Extensions is the typed extension map backends attach ad-hoc fields
	// to (m.ssh, m.ram, …).
	Extensions map[string]interface{} `yaml:"extensions,omitempty"`
}

// New builds a freshly loaded Machine rooted at path, belonging to
// parentPath (the cache-root directory new siblings will be created
// under — see DESIGN.md's note on the parent_path Open Question).
func New(path, parentPath, backend string) *Machine {
	return &Machine{
		Path:       path,
		ParentPath: parentPath,
		State:      StateLoaded,
		Expiration: &expiration.Expiration{Files: map[string]expiration.FileDependency{}},
		Hooks:      hooks.NewRegistry(),
		Backend:    backend,
		Extensions: map[string]interface{}{},
	}
}

func (m *Machine) context() *hooks.Context {
	return &hooks.Context{MachinePath: m.Path, Extensions: m.Extensions, Machine: m}
}

// Enter performs scoped acquisition entry: on first entry the machine
// must be loaded, fires up hooks, and transitions to spun_up; on
// re-entry the machine must already be spun_up. up_counter is
// incremented unconditionally.
func (m *Machine) Enter(dispatch hooks.Dispatcher) error {
	if m.UpCounter == 0 {
		if m.State != StateLoaded {
			return errs.StateMachineViolation("enter: machine %s is %s, want loaded", m.Path, m.State)
		}
		if err := m.Hooks.Fire(hooks.Up, m.context(), dispatch); err != nil {
			return err
		}
		m.State = StateSpunUp
	} else if m.State != StateSpunUp {
		return errs.StateMachineViolation("enter: reentrant acquisition of %s requires spun_up, got %s", m.Path, m.State)
	}
	m.UpCounter++
	return nil
}

// Persistence is the subset of the persistence layer Finalize needs:
// writing the machine's current state to disk, and checking whether an
// existing cache entry is still fresh. Implemented by internal/store;
// kept as an interface here so internal/machine has no dependency on
// internal/store.
type Persistence interface {
	Save(m *Machine) error
	SaveAt(m *Machine, dir string) error
	IsFresh(dir string) (bool, error)
}

// Exit performs scoped acquisition exit. exitErr is non-nil if the scope
// is unwinding due to an error. nameHint is the tag the resulting cache
// entry should be named after, used only when finalize actually runs.
func (m *Machine) Exit(dispatch hooks.Dispatcher, p Persistence, exitErr error, nameHint string) error {
	if m.UpCounter <= 0 {
		return errs.StateMachineViolation("exit: up_counter of %s already zero", m.Path)
	}
	m.UpCounter--
	if m.UpCounter > 0 {
		return nil
	}

	if m.Transient || exitErr != nil {
		hookErr := m.Hooks.Fire(hooks.Drop, m.context(), dispatch)
		m.State = StateDropped
		// "dropped" means the scratch directory is gone — not just on the
		// finalizeDiscard path below, which only handles the symlink side
		// of discard.
		if rmErr := os.RemoveAll(m.Path); rmErr != nil && hookErr == nil {
			hookErr = rmErr
		}
		if hookErr != nil {
			return hookErr
		}
	} else {
		if err := m.Hooks.Fire(hooks.Down, m.context(), dispatch); err != nil {
			return err
		}
		m.State = StateSpunDown
	}

	if m.LinkTarget != "" && exitErr == nil {
		return m.Finalize(dispatch, p, m.LinkTarget, nameHint)
	}
	return nil
}

// Finalize publishes m into the cache at linkTarget. If m is spun_down,
// it is the "success" path: save hooks fire in reverse, a
// loaded-modules fingerprint is attached, the scratch directory is moved
// to a unique name under the cache root, and linkTarget is atomically
// pointed at it. A pre-existing, still-fresh destination is refused with
// FreshnessConflict. Any other state (transient, dropped, errored) takes
// the discard path: the scratch directory is removed and linkTarget, if
// set, is pointed at ParentPath instead.
func (m *Machine) Finalize(dispatch hooks.Dispatcher, p Persistence, linkTarget, nameHint string) error {
	if linkTarget == "" {
		linkTarget = m.LinkTarget
	}

	if m.State == StateSpunDown {
		return m.finalizePublish(dispatch, p, linkTarget, nameHint)
	}
	return m.finalizeDiscard(linkTarget)
}

func (m *Machine) finalizePublish(dispatch hooks.Dispatcher, p Persistence, linkTarget, nameHint string) error {
	if err := m.Hooks.Fire(hooks.Save, m.context(), dispatch); err != nil {
		return err
	}
	if err := m.Expiration.DependOnLoadedModules(); err != nil {
		return err
	}
	m.State = StateSaving

	if err := paths.RemoveDeadSymlink(linkTarget); err != nil {
		return err
	}
	if fresh, err := p.IsFresh(linkTarget); err == nil && fresh {
		return errs.FreshnessConflict("finalize: %s already has a fresh entry", linkTarget)
	}

	oldPath := m.Path
	uniqueDir := filepath.Join(m.ParentPath, nameHint+"."+paths.RandomSuffix())
	m.Path = uniqueDir

	if err := p.SaveAt(m, oldPath); err != nil {
		m.Path = oldPath
		return err
	}
	if err := os.Rename(oldPath, uniqueDir); err != nil {
		m.Path = oldPath
		return err
	}

	return paths.AtomicSymlink(uniqueDir, linkTarget)
}

func (m *Machine) finalizeDiscard(linkTarget string) error {
	if err := os.RemoveAll(m.Path); err != nil {
		return err
	}
	if linkTarget == "" {
		return nil
	}
	if err := paths.RemoveDeadSymlink(linkTarget); err != nil {
		return err
	}
	return paths.AtomicSymlink(m.ParentPath, linkTarget)
}
