package main

import (
	"context"
	stderrors "errors"
	"fmt"
	"os"
	"runtime/debug"
	"time"

	"github.com/docker/docker/client"
	"github.com/go-errors/errors"
	"github.com/samber/lo"

	"github.com/fingertip-dev/fingertip/internal/cli"
	"github.com/fingertip-dev/fingertip/internal/cleanup"
	"github.com/fingertip-dev/fingertip/internal/engine"
	"github.com/fingertip-dev/fingertip/internal/errs"
	"github.com/fingertip-dev/fingertip/internal/expiration"
	"github.com/fingertip-dev/fingertip/internal/humanize"
)

const defaultVersion = "unversioned"

var (
	commit  string
	version = defaultVersion
)

func main() {
	updateBuildInfo()

	flags, pipelineArgs := cli.ParseGlobalFlags("fingertip", version, os.Args[1:])

	if flags.Debug {
		os.Setenv("FINGERTIP_DEBUG", "1")
	}
	if flags.IgnoreCodeChanges {
		os.Setenv("FINGERTIP_IGNORE_CODE_CHANGES", "1")
	}

	e, err := engine.New()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer e.Close()

	if flags.ShowConfig {
		fmt.Printf("%+v\n", e.Config)
		return
	}

	if err := run(e, pipelineArgs); err != nil {
		reportAndExit(e, err)
	}
}

// run tokenizes the pipeline tokens and drives them through a Runner:
// exit 1 for "no step specified", propagate any other failure to
// reportAndExit.
func run(e *engine.Engine, pipelineArgs []string) error {
	if len(pipelineArgs) == 0 {
		return fmt.Errorf("fingertip: no step specified")
	}

	if pipelineArgs[0] == "cleanup" {
		return runCleanup(e, pipelineArgs[1:])
	}

	descriptors, err := cli.Tokenize(pipelineArgs)
	if err != nil {
		return err
	}

	runner := cli.NewRunner(e, os.Stdout)
	outcome, err := runner.Run(context.Background(), descriptors)
	if err != nil {
		return err
	}

	if outcome.LogPath != "" {
		fmt.Println(outcome.LogPath)
	} else if outcome.Machine != nil {
		fmt.Println(outcome.Machine.Path)
	}
	return nil
}

// runCleanup dispatches "fingertip cleanup <subcommand>" to
// internal/cleanup.
func runCleanup(e *engine.Engine, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("fingertip: cleanup requires a subcommand (machines, downloads, logs, tempfiles, mirrors)")
	}

	timeout, err := e.Config.LockTimeoutDuration()
	if err != nil {
		return err
	}
	cleaner := cleanup.New(e.Layout, e.Index, e.Log)
	cleaner.LockTimeout = timeout

	var freed int64
	switch args[0] {
	case "machines":
		maxAge := parseAllOrInterval(args[1:])
		freed, err = cleaner.ExpireMachines(maxAge)
	case "downloads":
		maxAge := parseAllOrInterval(args[1:])
		freed, err = cleaner.RemoveDownloads(maxAge)
	case "logs":
		maxAge := parseAllOrInterval(args[1:])
		freed, err = cleaner.RemoveLogs(maxAge)
	case "tempfiles":
		maxAge := parseAllOrInterval(args[1:])
		freed, err = cleaner.PruneTempfiles(maxAge)
	case "mirrors":
		freed, err = cleaner.MirrorGC()
	default:
		return fmt.Errorf("fingertip: unknown cleanup subcommand %q", args[0])
	}
	if err != nil {
		return err
	}
	fmt.Printf("freed %s\n", humanize.Binary(freed))
	return nil
}

func parseAllOrInterval(args []string) time.Duration {
	if len(args) == 0 || args[0] == "all" {
		return 0
	}
	d, err := expiration.ParseInterval(args[0])
	if err != nil {
		return 0
	}
	return d
}

// reportAndExit prints a failed backend connection as the localized
// ConnectionFailed message alone, a recognized error kind as err plus its
// localized explanation, and anything else as ErrorOccurred plus the
// go-errors stack trace, then exits non-zero.
func reportAndExit(e *engine.Engine, err error) {
	if client.IsErrConnectionFailed(err) {
		fmt.Fprintln(os.Stderr, e.Localizer.S.ConnectionFailed)
		os.Exit(1)
	}

	var stepErr *errs.StepFailure
	if stderrors.As(err, &stepErr) {
		fmt.Fprintf(os.Stderr, "%s: %s\n", err, e.Localizer.ForCode(errs.CodeStepFailure))
		os.Exit(1)
	}

	for _, code := range []errs.Code{
		errs.CodeStateMachineViolation,
		errs.CodeLockTimeout,
		errs.CodeCacheCorruption,
		errs.CodeFreshnessConflict,
	} {
		if errs.HasCode(err, code) {
			fmt.Fprintf(os.Stderr, "%s: %s\n", err, e.Localizer.ForCode(code))
			os.Exit(1)
		}
	}

	wrapped := errors.Wrap(err, 0)
	e.Log.Error(wrapped.ErrorStack())
	fmt.Fprintf(os.Stderr, "%s\n\n%s\n", e.Localizer.S.ErrorOccurred, wrapped.ErrorStack())
	os.Exit(1)
}

func updateBuildInfo() {
	if version == defaultVersion {
		if buildInfo, ok := debug.ReadBuildInfo(); ok {
			revision, ok := lo.Find(buildInfo.Settings, func(setting debug.BuildSetting) bool {
				return setting.Key == "vcs.revision"
			})
			if ok {
				commit = revision.Value
				version = safeTruncate(revision.Value, 7)
			}
		}
	}
}

func safeTruncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
