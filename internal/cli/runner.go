package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"

	"github.com/fingertip-dev/fingertip/internal/engine"
	"github.com/fingertip-dev/fingertip/internal/executor"
	"github.com/fingertip-dev/fingertip/internal/machine"
	"github.com/fingertip-dev/fingertip/internal/step"
	"github.com/fingertip-dev/fingertip/internal/transient"
)

// Runner drives the parsed step pipeline across internal/executor,
// reporting progress as one mpb spinner per step, labelled with the
// step's name in color.
type Runner struct {
	Engine *engine.Engine
	Out    io.Writer
}

// NewRunner builds a Runner writing progress to out.
func NewRunner(e *engine.Engine, out io.Writer) *Runner {
	return &Runner{Engine: e, Out: out}
}

// Run executes descriptors in order: the first as Executor.Build (no
// prior machine), the rest as Executor.Apply against the machine the
// previous step produced. It returns the final step's Outcome.
func (r *Runner) Run(ctx context.Context, descriptors []step.Descriptor) (executor.Outcome, error) {
	if len(descriptors) == 0 {
		return executor.Outcome{}, fmt.Errorf("cli: no step specified")
	}

	ex, err := r.Engine.Executor()
	if err != nil {
		return executor.Outcome{}, err
	}

	pool := mpb.New(mpb.WithOutput(r.Out), mpb.WithWidth(40))
	wrapper := &transient.Wrapper{}

	var m *machine.Machine
	var outcome executor.Outcome
	for i, d := range descriptors {
		isLast := i == len(descriptors)-1
		bar := pool.AddSpinner(1, mpb.PrependDecorators(decor.Name(colorize(color.FgCyan, d.Name))))

		if i == 0 {
			outcome, err = ex.Build(ctx, r.Engine.Layout.Machines, d, isLast, wrapper)
		} else {
			outcome, err = ex.Apply(ctx, m, d, isLast, wrapper)
		}
		if err != nil {
			bar.Abort(false)
			pool.Wait()
			return executor.Outcome{}, fmt.Errorf("%s: %w", d.Name, err)
		}

		bar.Increment()
		bar.Wait()
		m = outcome.Machine
	}

	pool.Wait()
	return outcome, nil
}

// colorize wraps str in a fatih/color attribute via SprintFunc rather
// than calling color.New(attr).Sprint directly, so a disabled/non-tty
// color.NoColor still degrades to plain text.
func colorize(attr color.Attribute, str string) string {
	return color.New(attr).SprintFunc()(str)
}
