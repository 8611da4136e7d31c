// Package cli implements the command-line surface: tokenizing a
// "+"-delimited pipeline string into step descriptors, the small set of
// top-level process flags, and a Runner that drives internal/executor
// across the parsed steps while reporting progress.
package cli

import (
	"fmt"
	"strings"

	"github.com/fingertip-dev/fingertip/internal/step"
)

// Tokenize splits already-shell-tokenized arguments (e.g. os.Args[1:]
// with the global flags already stripped by SplitGlobalFlags) into one
// step.Descriptor per "+"-delimited group: tokens separated by a literal
// "+" form the pipeline.
func Tokenize(tokens []string) ([]step.Descriptor, error) {
	var groups [][]string
	cur := []string{}
	for _, t := range tokens {
		if t == "+" {
			groups = append(groups, cur)
			cur = nil
			continue
		}
		cur = append(cur, t)
	}
	groups = append(groups, cur)

	descriptors := make([]step.Descriptor, 0, len(groups))
	for _, g := range groups {
		d, err := parseGroup(g)
		if err != nil {
			return nil, err
		}
		descriptors = append(descriptors, d)
	}
	return descriptors, nil
}

// parseGroup turns one "+"-delimited group into a Descriptor: the first
// bare token names the step; later bare tokens are positional args;
// --key=val/--no-key/--key tokens become keyword args.
func parseGroup(tokens []string) (step.Descriptor, error) {
	if len(tokens) == 0 {
		return step.Descriptor{}, fmt.Errorf("cli: empty step in pipeline")
	}

	d := step.Descriptor{Name: tokens[0], Kw: map[string]string{}}
	for _, t := range tokens[1:] {
		if !strings.HasPrefix(t, "--") {
			d.Pos = append(d.Pos, t)
			continue
		}

		body := strings.TrimPrefix(t, "--")
		if eq := strings.IndexByte(body, '='); eq >= 0 {
			d.Kw[normalizeKey(body[:eq])] = body[eq+1:]
			continue
		}

		if rest, ok := trimNegationPrefix(body); ok {
			d.Kw[normalizeKey(rest)] = "False"
			continue
		}

		d.Kw[normalizeKey(body)] = "True"
	}
	return d, nil
}

// trimNegationPrefix strips a leading "no-" or "no_" from a flag body:
// "--no-key" becomes key=False.
func trimNegationPrefix(body string) (string, bool) {
	if strings.HasPrefix(body, "no-") {
		return strings.TrimPrefix(body, "no-"), true
	}
	if strings.HasPrefix(body, "no_") {
		return strings.TrimPrefix(body, "no_"), true
	}
	return body, false
}

// normalizeKey turns dashes into underscores: dashes in keys become
// underscores.
func normalizeKey(key string) string {
	return strings.ReplaceAll(key, "-", "_")
}

// SplitGlobalFlags separates the leading run of "-"-prefixed tokens (the
// top-level process flags flaggy parses) from the pipeline tokens that
// follow, since the pipeline's own flags (e.g. "--no-key") would
// otherwise confuse a flag parser that doesn't know about "+"-delimited
// compound sub-commands. That's why this part of the CLI is
// hand-tokenized rather than built on flaggy directly.
func SplitGlobalFlags(argv []string) (global, pipeline []string) {
	for i, a := range argv {
		if !strings.HasPrefix(a, "-") {
			return argv[:i], argv[i:]
		}
	}
	return argv, nil
}
