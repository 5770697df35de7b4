package buildlog

import (
	"fmt"
	"io"
	"strings"
)

var rule = strings.Repeat("=", 80)

// Write prints a human-readable analysis of findings.
func Write(w io.Writer, findings []Finding) {
	if len(findings) == 0 {
		fmt.Fprintln(w, "No known errors found in the log")
		return
	}

	fmt.Fprintf(w, "Found %d error(s):\n", len(findings))
	fmt.Fprintln(w, rule)

	groups := GroupByCategory(findings)
	for _, g := range groups {
		fmt.Fprintf(w, "\n%s (%d error(s)):\n", g.Category, len(g.Findings))
		fmt.Fprintln(w, strings.Repeat("-", 40))
		for i, f := range g.Findings {
			fmt.Fprintf(w, "\n%d. %s (line %d)\n", i+1, f.Description, f.Line)
			fmt.Fprintf(w, "   Fix: %s\n", f.Fix)
			fmt.Fprintln(w, "   Context:")
			for _, line := range f.Context {
				fmt.Fprintf(w, "      %s\n", line)
			}
		}
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, rule)
	fmt.Fprintln(w, "Recommended actions:")
	for _, a := range PriorityActions(groups) {
		fmt.Fprintf(w, "   %s\n", a)
	}
}
