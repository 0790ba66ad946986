// Command kind-check fails when a switch over the observation value kind
// neither names every kind nor has a default clause.
package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	"obsstore/internal/validation"
)

var exitFunc = os.Exit

func main() {
	code := cli(os.Args[1:], os.Stdout, os.Stderr)
	exitFunc(code)
}

func cli(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("kind-check", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var (
		dir      string
		kindType string
		tests    bool
	)
	fs.StringVar(&dir, "dir", ".", "directory package patterns are resolved from")
	fs.StringVar(&kindType, "type", validation.DefaultKindType, "qualified enumeration type")
	fs.BoolVar(&tests, "tests", true, "include test files")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	patterns := fs.Args()
	if len(patterns) == 0 {
		patterns = []string{"./..."}
	}
	violations, err := validation.ValidateKindSwitches(validation.KindSwitchConfig{
		Dir:      dir,
		Patterns: patterns,
		KindType: kindType,
		Tests:    tests,
	})
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "kind check failed: %v\n", err)
		return 1
	}
	if len(violations) > 0 {
		for _, v := range violations {
			_, _ = fmt.Fprintln(stderr, v.String())
		}
		_, _ = fmt.Fprintf(stderr, "%d non-exhaustive kind switch(es)\n", len(violations))
		return 1
	}
	if _, err := fmt.Fprintln(stdout, "Kind switches are exhaustive."); err != nil {
		return 1
	}
	return 0
}
