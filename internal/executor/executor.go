// Package executor implements the cache-aware algorithm that binds
// everything else in internal/ together: resolving a step, checking the
// cache, running it, and publishing or discarding the result.
package executor

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/fingertip-dev/fingertip/internal/errs"
	"github.com/fingertip-dev/fingertip/internal/hooks"
	"github.com/fingertip-dev/fingertip/internal/lockset"
	"github.com/fingertip-dev/fingertip/internal/machine"
	"github.com/fingertip-dev/fingertip/internal/paths"
	"github.com/fingertip-dev/fingertip/internal/step"
	"github.com/fingertip-dev/fingertip/internal/store"
	"github.com/fingertip-dev/fingertip/internal/transient"
)

// Persistence is the subset of internal/store's API the executor depends
// on, as an interface so tests can substitute an in-memory fake.
type Persistence interface {
	machine.Persistence
	LoadRaw(dir string) (*machine.Machine, error)
	CloneInto(src, dst string) error
}

type fsPersistence struct{}

func (fsPersistence) Save(m *machine.Machine) error                { return store.Save(m) }
func (fsPersistence) SaveAt(m *machine.Machine, dir string) error  { return store.SaveAt(m, dir) }
func (fsPersistence) IsFresh(dir string) (bool, error)             { return store.IsFresh(dir) }
func (fsPersistence) LoadRaw(dir string) (*machine.Machine, error) { return store.LoadRaw(dir) }
func (fsPersistence) CloneInto(src, dst string) error              { return store.CloneInto(src, dst) }

// Outcome is what running one pipeline step produces. Ordinarily Machine is
// set; a step resolved transient=last that runs as the pipeline's final
// step instead preserves only its log file.
type Outcome struct {
	Machine *machine.Machine
	LogPath string
}

// Executor runs resolved steps against a (possibly absent, for build())
// machine.
type Executor struct {
	Plugins     *step.Plugins
	Dispatch    hooks.Dispatcher
	Persistence Persistence
	Backend     string
	// LockTimeout bounds how long Acquire blocks; zero blocks indefinitely.
	LockTimeout time.Duration
}

// New builds an Executor backed by the real filesystem store.
func New(plugins *step.Plugins, dispatch hooks.Dispatcher, backend string) *Executor {
	return &Executor{Plugins: plugins, Dispatch: dispatch, Persistence: fsPersistence{}, Backend: backend}
}

// Build runs d as the initial step of a pipeline: no prior machine, and an
// implicit parent of machinesRoot.
func (e *Executor) Build(ctx context.Context, machinesRoot string, d step.Descriptor, isLast bool, wrapper *transient.Wrapper) (Outcome, error) {
	return e.run(ctx, nil, machinesRoot, d, isLast, wrapper)
}

// Apply runs d against the loaded machine m. The step's cache entry nests
// one level below m's parent_path — the stable cache entry m was itself
// cloned from — rather than below m's own ephemeral scratch directory, so
// that the same step run against fresh clones of the same entry lands on
// the same cache entry every time (see DESIGN.md's note on the
// parent_path Open Question).
func (e *Executor) Apply(ctx context.Context, m *machine.Machine, d step.Descriptor, isLast bool, wrapper *transient.Wrapper) (Outcome, error) {
	if m == nil {
		return Outcome{}, errs.StateMachineViolation("apply: no machine to apply %q to", d.Name)
	}
	return e.run(ctx, m, m.ParentPath, d, isLast, wrapper)
}

func (e *Executor) run(ctx context.Context, m *machine.Machine, stepParent string, d step.Descriptor, isLast bool, wrapper *transient.Wrapper) (Outcome, error) {
	var target interface{}
	if m != nil {
		target = m
	}
	resolved, err := step.Resolve(target, e.Plugins, d)
	if err != nil {
		return Outcome{}, err
	}
	tag := resolved.Tag
	entryPath := filepath.Join(stepParent, tag)
	lockfile := filepath.Join(stepParent, "."+tag+"-lock")

	policy, err := transient.Resolve(e.Plugins.PolicyFor(d.Name), d.Pos, d.Kw, isLast)
	if err != nil {
		return Outcome{}, err
	}
	if wrapper != nil {
		policy = wrapper.Apply(policy)
	}
	stepTransient := transient.IsTransient(policy, isLast)

	var lock lockset.Lock = lockset.NoLock{}
	if policy != transient.Always {
		lock = lockset.New(lockfile)
	}
	if err := lock.Acquire(e.LockTimeout); err != nil {
		return Outcome{}, err
	}
	defer lock.Release()

	ctx = step.WithParentPath(ctx, stepParent)
	cloneSource, logPath, err := e.resolveCloneSource(ctx, m, d, resolved, entryPath, tag, policy, stepTransient)
	if err != nil {
		return Outcome{}, err
	}
	if cloneSource == "" {
		return Outcome{LogPath: logPath}, nil
	}

	loaded, err := e.cloneAndLoad(cloneSource)
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{Machine: loaded}, nil
}

// resolveCloneSource runs the reuse check and, when the entry isn't
// already fresh, runs the step and classifies its outcome into one of
// four cases.
func (e *Executor) resolveCloneSource(ctx context.Context, m *machine.Machine, d step.Descriptor, resolved *step.Resolved, entryPath, tag string, policy transient.Policy, stepTransient bool) (cloneSource, logPath string, err error) {
	if !stepTransient {
		if fresh, ferr := e.Persistence.IsFresh(entryPath); ferr == nil && fresh {
			if m != nil {
				if rmErr := os.RemoveAll(m.Path); rmErr != nil {
					return "", "", rmErr
				}
			}
			return entryPath, "", nil
		}
	}

	if m != nil {
		if err := m.Enter(e.Dispatch); err != nil {
			return "", "", err
		}
	}

	result, runErr := resolved.Run(ctx)
	if runErr != nil {
		wrapped := errs.NewStepFailure(tag, runErr)
		if m != nil {
			m.Transient = true
			_ = m.Exit(e.Dispatch, e.Persistence, wrapped, tag)
		}
		return "", "", wrapped
	}

	rm, _ := result.(*machine.Machine)

	if rm == nil {
		return e.classifyInPlace(m, entryPath, tag, stepTransient, d.Name)
	}
	return e.classifyReturned(m, rm, entryPath, tag, policy, stepTransient, d.Name)
}

// classifyInPlace handles the "nothing returned" case: the step mutated m
// directly (apply), or build() returned nothing at all, which is legal
// only when transient.
func (e *Executor) classifyInPlace(m *machine.Machine, entryPath, tag string, stepTransient bool, stepName string) (string, string, error) {
	if m == nil {
		if !stepTransient {
			return "", "", errs.StateMachineViolation("build: %q returned nothing but is not transient", stepName)
		}
		return filepath.Dir(entryPath), "", nil
	}

	if stepTransient {
		m.Transient = true
		if err := m.Exit(e.Dispatch, e.Persistence, nil, tag); err != nil {
			return "", "", err
		}
		return m.ParentPath, "", nil
	}

	if err := m.Exit(e.Dispatch, e.Persistence, nil, tag); err != nil {
		return "", "", err
	}
	if err := m.Finalize(e.Dispatch, e.Persistence, entryPath, tag); err != nil {
		return "", "", err
	}
	return entryPath, "", nil
}

// classifyReturned handles the "a machine was returned" case. The returned
// rm is adopted in place of m, which — if present — is superseded and
// dropped. rm must already be spun_up, the contract plugins implementing
// build()/clone steps are expected to uphold.
func (e *Executor) classifyReturned(m, rm *machine.Machine, entryPath, tag string, policy transient.Policy, stepTransient bool, stepName string) (string, string, error) {
	if m != nil {
		m.Transient = true
		if err := m.Exit(e.Dispatch, e.Persistence, nil, tag); err != nil {
			return "", "", err
		}
	}

	if policy == transient.Always {
		rm.Transient = true
		_ = rm.Exit(e.Dispatch, e.Persistence, nil, tag)
		return "", "", errs.StateMachineViolation("step %q declared transient=always but returned a machine", stepName)
	}

	if stepTransient {
		logPath := filepath.Join(rm.Path, "run.log")
		rm.Transient = true
		if err := rm.Exit(e.Dispatch, e.Persistence, nil, tag); err != nil {
			return "", "", err
		}
		return "", logPath, nil
	}

	if err := rm.Exit(e.Dispatch, e.Persistence, nil, tag); err != nil {
		return "", "", err
	}
	if err := rm.Finalize(e.Dispatch, e.Persistence, entryPath, tag); err != nil {
		return "", "", err
	}
	return entryPath, "", nil
}

// cloneAndLoad reflink-copies cloneSource into a fresh scratch directory
// sibling to it, deserializes it, fires clone hooks, re-serializes, fires
// load hooks, and transitions it to loaded.
func (e *Executor) cloneAndLoad(cloneSource string) (*machine.Machine, error) {
	// cloneSource may itself be a live symlink (a cache entry is either a
	// real directory or a symlink to one); resolve it so the scratch
	// clone's stamped ParentPath matches what store.Load's strict realpath
	// check will recompute on a later reload.
	realSource, err := filepath.EvalSymlinks(cloneSource)
	if err != nil {
		return nil, err
	}

	scratchDir := filepath.Join(filepath.Dir(realSource), "scratch-"+paths.RandomSuffix())
	if err := e.Persistence.CloneInto(cloneSource, scratchDir); err != nil {
		return nil, err
	}

	m, err := e.Persistence.LoadRaw(scratchDir)
	if err != nil {
		return nil, err
	}
	m.Path = scratchDir
	m.ParentPath = realSource
	m.State = machine.StateLoaded
	m.Transient = false
	m.UpCounter = 0

	ctx := &hooks.Context{MachinePath: m.Path, Extensions: m.Extensions, Machine: m}
	if err := m.Hooks.Fire(hooks.Clone, ctx, e.Dispatch); err != nil {
		return nil, err
	}
	if err := e.Persistence.Save(m); err != nil {
		return nil, err
	}
	if err := m.Hooks.Fire(hooks.Load, ctx, e.Dispatch); err != nil {
		return nil, err
	}
	return m, nil
}
