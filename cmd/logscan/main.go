// Command logscan reports known build errors found in a build log.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/msageha/nestcheck/internal/buildlog"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	return &cobra.Command{
		Use:           "logscan <logfile>",
		Short:         "Find known build errors in a log file",
		Example:       "  logscan logs/buildozer_build.log",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			data, err := os.ReadFile(path)
			if err != nil {
				if errors.Is(err, os.ErrNotExist) {
					return fmt.Errorf("log file not found: %s", path)
				}
				return fmt.Errorf("read log: %w", err)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Analyzing log file: %s\n", path)
			fmt.Fprintf(out, "Log size: %d characters\n\n", len([]rune(string(data))))
			buildlog.Write(out, buildlog.Analyze(string(data)))
			return nil
		},
	}
}
