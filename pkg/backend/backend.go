// Package backend is the thin "external collaborator" seam: real
// QEMU/podman adapters are out of scope for this engine, but every step
// still needs *some* callable to resolve to. Backend is the interface a
// real adapter would implement; Mock is the in-process, local-subprocess
// stand-in this module ships and tests against.
package backend

import (
	"context"
	"fmt"
	"os/exec"

	"github.com/jesseduffield/kill"

	"github.com/fingertip-dev/fingertip/internal/step"
)

// Backend registers its named steps into a step.Plugins symbol table.
type Backend interface {
	Name() string
	Register(plugins *step.Plugins)
}

// Mock is a local, subprocess-based Backend: its "exec" step runs an
// ordinary command on the host, without actually talking to qemu or
// podman.
type Mock struct{}

// Name implements Backend.
func (Mock) Name() string { return "mock" }

// Register implements Backend, registering the "exec" step.
func (Mock) Register(plugins *step.Plugins) {
	plugins.Register("exec", execStep)
}

// execStep runs pos[0] with pos[1:] as arguments, honoring kw["check"]
// (default true: a non-zero exit is an error), e.g.
// `exec("false", check=False)`. The child is placed in its own process
// group so that a cancelled context can kill the whole tree via
// jesseduffield/kill.
func execStep(ctx context.Context, target interface{}, pos []string, kw map[string]string) (step.Result, error) {
	if len(pos) == 0 {
		return nil, fmt.Errorf("backend: exec requires a command")
	}

	cmd := exec.CommandContext(ctx, pos[0], pos[1:]...)
	kill.PrepareForChildren(cmd)

	runErr := cmd.Run()

	if kw["check"] == "False" || kw["check"] == "false" {
		return nil, nil
	}
	if runErr != nil {
		if ctx.Err() != nil {
			_ = kill.Kill(cmd)
		}
		return nil, fmt.Errorf("backend: exec %v: %w", pos, runErr)
	}
	return nil, nil
}
