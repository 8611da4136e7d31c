// Package engine confines fingertip's per-process state — the logger,
// resolved cache layout, and the CoW-FS wizard's mode — into one explicit
// handle constructed once at startup and threaded through, instead of
// package-level globals.
package engine

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/fingertip-dev/fingertip/internal/config"
	"github.com/fingertip-dev/fingertip/internal/executor"
	"github.com/fingertip-dev/fingertip/internal/hooks"
	"github.com/fingertip-dev/fingertip/internal/i18n"
	"github.com/fingertip-dev/fingertip/internal/index"
	"github.com/fingertip-dev/fingertip/internal/paths"
	"github.com/fingertip-dev/fingertip/internal/step"
	pkgbackend "github.com/fingertip-dev/fingertip/pkg/backend"
)

// Engine is the constructed-once handle the CLI entry point builds and
// passes down, replacing logger/path-constant/wizard-mode globals.
type Engine struct {
	Log       *logrus.Entry
	Config    config.EngineConfig
	Layout    *paths.Layout
	Localizer *i18n.Localizer
	Plugins   *step.Plugins
	Index     *index.Index
	Backend   string
}

// New constructs an Engine: loads EngineConfig, resolves the cache-root
// layout, opens the tag index, builds the logger (dev/prod split) and
// locale-detected Localizer, and registers every known backend's steps
// into one shared symbol table.
func New(backends ...pkgbackend.Backend) (*Engine, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("engine: loading config: %w", err)
	}

	layout, err := paths.NewLayout()
	if err != nil {
		return nil, fmt.Errorf("engine: resolving cache layout: %w", err)
	}

	log := newLogger(cfg, layout)
	localizer := i18n.NewLocalizer(log)

	ix, err := index.Open(filepath.Join(layout.Root, "index.db"))
	if err != nil {
		return nil, fmt.Errorf("engine: opening index: %w", err)
	}

	plugins := step.NewPlugins()
	backendName := "mock"
	if len(backends) == 0 {
		backends = []pkgbackend.Backend{pkgbackend.Mock{}}
	}
	for i, b := range backends {
		b.Register(plugins)
		if i == 0 {
			backendName = b.Name()
		}
	}

	return &Engine{
		Log:       log,
		Config:    cfg,
		Layout:    layout,
		Localizer: localizer,
		Plugins:   plugins,
		Index:     ix,
		Backend:   backendName,
	}, nil
}

// Close releases the engine's held resources (the tag index's database
// file).
func (e *Engine) Close() error {
	if e.Index == nil {
		return nil
	}
	return e.Index.Close()
}

// Executor builds an Executor bound to this engine's plugins, dispatcher,
// and configured lock timeout.
func (e *Engine) Executor() (*executor.Executor, error) {
	timeout, err := e.Config.LockTimeoutDuration()
	if err != nil {
		return nil, fmt.Errorf("engine: parsing lockTimeout: %w", err)
	}
	ex := executor.New(e.Plugins, Dispatch(e.Plugins), e.Backend)
	ex.LockTimeout = timeout
	return ex, nil
}

// Dispatch builds the hooks.Dispatcher every machine in this process
// fires its hooks through: KindFn routes to plugins' registered symbol
// table, KindMethod/KindAssign route through internal/step's Invoke/Assign
// against the firing Context's Machine, exactly as internal/executor does
// for ordinary steps.
func Dispatch(plugins *step.Plugins) hooks.Dispatcher {
	return func(ctx *hooks.Context, d hooks.Descriptor) error {
		switch d.Kind {
		case hooks.KindFn:
			fn, ok := plugins.Lookup(d.Symbol)
			if !ok {
				return fmt.Errorf("engine: no plugin registered for hook symbol %q", d.Symbol)
			}
			kw := map[string]string{}
			_, err := fn(context.Background(), ctx.Machine, d.Args, kw)
			return err
		case hooks.KindMethod:
			_, err := step.Invoke(ctx.Machine, d.Path, d.Args, nil)
			return err
		case hooks.KindAssign:
			return step.Assign(ctx.Machine, d.Path, d.Value)
		default:
			return fmt.Errorf("engine: unsupported hook descriptor kind %d", d.Kind)
		}
	}
}

// newLogger builds a dev/prod-split logrus logger: debug mode logs
// JSON-formatted entries to logs/development.log under the cache root,
// production mode discards everything below Error.
func newLogger(cfg config.EngineConfig, layout *paths.Layout) *logrus.Entry {
	var log *logrus.Logger
	if cfg.Debug {
		log = newDevelopmentLogger(layout)
	} else {
		log = newProductionLogger()
	}
	log.Formatter = &logrus.JSONFormatter{}
	return log.WithFields(logrus.Fields{"debug": cfg.Debug})
}

func newDevelopmentLogger(layout *paths.Layout) *logrus.Logger {
	log := logrus.New()
	log.SetLevel(logrus.DebugLevel)
	file, err := os.OpenFile(filepath.Join(layout.Logs, "development.log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		log.Out = os.Stderr
		return log
	}
	log.Out = file
	return log
}

func newProductionLogger() *logrus.Logger {
	log := logrus.New()
	log.Out = io.Discard
	log.SetLevel(logrus.ErrorLevel)
	return log
}
