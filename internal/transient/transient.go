// Package transient classifies a step as cacheable, always-transient, or
// transient-only-when-it-is-the-pipeline's-last step.
package transient

import "fmt"

// Policy is one of the three literal classifications a step can resolve
// to.
type Policy int

const (
	// Never is the default: the step's output is always cached.
	Never Policy = iota
	// Always: the step's output is never cached; it runs outside the lock.
	Always
	// Last: cached unless this is the pipeline's last step.
	Last
)

func (p Policy) String() string {
	switch p {
	case Never:
		return "never"
	case Always:
		return "always"
	case Last:
		return "last"
	default:
		return "unknown"
	}
}

// Resolver is the callable form a step may declare instead of a literal
// Policy: invoked with the step's own arguments and whether it is the
// pipeline's last step, it yields one of the three literals.
type Resolver func(pos []string, kw map[string]string, isLast bool) Policy

// Declaration is whatever a step annotates its transience with: either a
// Policy literal or a Resolver. A nil Declaration means Never (the
// default).
type Declaration interface{}

// Resolve turns a step's Declaration into a concrete Policy.
func Resolve(d Declaration, pos []string, kw map[string]string, isLast bool) (Policy, error) {
	switch v := d.(type) {
	case nil:
		return Never, nil
	case Policy:
		return v, nil
	case Resolver:
		return v(pos, kw, isLast), nil
	default:
		return Never, fmt.Errorf("transient: unsupported policy declaration %T", d)
	}
}

// IsTransient reports whether a resolved Policy means "don't cache this
// step's output" in the context of isLast.
func IsTransient(p Policy, isLast bool) bool {
	switch p {
	case Always:
		return true
	case Last:
		return isLast
	default:
		return false
	}
}

// Wrapper is the pipeline-level transient wrapper: it temporarily forces
// the next step's policy to Always, then reverts.
type Wrapper struct {
	forceNext bool
}

// ForceNext arms the wrapper so the next call to Apply returns Always
// regardless of the step's own declared policy.
func (w *Wrapper) ForceNext() {
	w.forceNext = true
}

// Apply returns Always if ForceNext was armed (consuming the arming),
// otherwise returns p unchanged.
func (w *Wrapper) Apply(p Policy) Policy {
	if w.forceNext {
		w.forceNext = false
		return Always
	}
	return p
}
