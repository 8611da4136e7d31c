package cli

import (
	"os"

	"github.com/integrii/flaggy"
)

// GlobalFlags is the small set of top-level process flags, parsed by
// flaggy ahead of the "+"-delimited pipeline tokens.
type GlobalFlags struct {
	Debug             bool
	IgnoreCodeChanges bool
	ShowConfig        bool
}

// ParseGlobalFlags runs flaggy over argv's leading run of flag tokens
// (see SplitGlobalFlags) and returns both the parsed flags and the
// remaining pipeline tokens.
func ParseGlobalFlags(name, version string, argv []string) (GlobalFlags, []string) {
	global, pipeline := SplitGlobalFlags(argv)

	var flags GlobalFlags
	flaggy.SetName(name)
	flaggy.SetDescription("Construct, cache, and reuse ephemeral build environments")
	flaggy.Bool(&flags.Debug, "d", "debug", "verbose logging")
	flaggy.Bool(&flags.IgnoreCodeChanges, "", "ignore-code-changes", "disable source-file fingerprint checks")
	flaggy.Bool(&flags.ShowConfig, "c", "config", "print the resolved configuration and exit")
	flaggy.SetVersion(version)

	// flaggy.Parse() reads os.Args directly rather than accepting an
	// explicit slice, so the global-only prefix is swapped in for the
	// duration of the call.
	origArgs := os.Args
	os.Args = append([]string{origArgs[0]}, global...)
	flaggy.Parse()
	os.Args = origArgs

	return flags, pipeline
}
