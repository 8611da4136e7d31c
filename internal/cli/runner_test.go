package cli

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fingertip-dev/fingertip/internal/engine"
	"github.com/fingertip-dev/fingertip/internal/expiration"
	"github.com/fingertip-dev/fingertip/internal/machine"
	"github.com/fingertip-dev/fingertip/internal/paths"
	"github.com/fingertip-dev/fingertip/internal/step"
)

func newTestEngine(t *testing.T) *engine.Engine {
	t.Helper()
	t.Setenv("FINGERTIP_CACHE_DIR", t.TempDir())
	t.Setenv("FINGERTIP_CONFIG_DIR", t.TempDir())

	e, err := engine.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })

	// "osfedora" stands in for a real os.* backend's build step, which
	// the shipped Mock backend doesn't provide (its only step, "exec", is
	// an Apply-only step meant to run against an already-built machine).
	e.Plugins.Register("osfedora", func(ctx context.Context, target interface{}, pos []string, kw map[string]string) (step.Result, error) {
		parent, _ := step.ParentPathFromContext(ctx)
		dir := filepath.Join(parent, "scratch-"+paths.RandomSuffix())
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
		m := machine.New(dir, parent, "mock")
		exp, err := expiration.New("1h")
		if err != nil {
			return nil, err
		}
		m.Expiration = exp
		if err := m.Enter(engine.Dispatch(e.Plugins)); err != nil {
			return nil, err
		}
		return m, nil
	})

	return e
}

func TestRunnerRunsAndCachesAPipeline(t *testing.T) {
	e := newTestEngine(t)
	r := NewRunner(e, io.Discard)

	descs, err := Tokenize([]string{"osfedora", "+", "exec", "true"})
	require.NoError(t, err)

	outcome, err := r.Run(context.Background(), descs)
	require.NoError(t, err)
	require.NotNil(t, outcome.Machine)
}

func TestRunnerRejectsEmptyPipeline(t *testing.T) {
	e := newTestEngine(t)
	r := NewRunner(e, io.Discard)

	_, err := r.Run(context.Background(), nil)
	require.Error(t, err)
}

func TestRunnerPropagatesStepFailure(t *testing.T) {
	e := newTestEngine(t)
	r := NewRunner(e, io.Discard)

	descs, err := Tokenize([]string{"osfedora", "+", "exec", "false", "--check=True"})
	require.NoError(t, err)

	_, err = r.Run(context.Background(), descs)
	require.Error(t, err)
}
