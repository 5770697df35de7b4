package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/msageha/nestcheck/internal/app"
	"github.com/msageha/nestcheck/internal/session"
	"github.com/msageha/nestcheck/internal/setup"
)

var errUsage = errors.New("usage error")

type rootOptions struct {
	DataDir string
	JSON    bool
	// appOptions is overridden by tests to inject a renderer or dialer.
	appOptions app.Options
}

// NewRootCommand builds the nestcheck command tree.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&rootOptions{})
}

func newRootCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "nestcheck",
		Short:         "Guided CNC nesting inspection checklist",
		Long:          "nestcheck walks an operator through the nesting inspection checklist, gates critical failures behind the master PIN and compiles a numbered PDF report.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&opts.DataDir, "data-dir", "", "data directory (default: $NESTCHECK_HOME or .nestcheck found upwards)")
	cmd.PersistentFlags().BoolVar(&opts.JSON, "json", false, "JSON output where supported")

	cmd.AddCommand(newInitCommand())
	cmd.AddCommand(newStartCommand(opts))
	cmd.AddCommand(newMarkCommand(opts))
	cmd.AddCommand(newBypassCommand(opts))
	cmd.AddCommand(newAdvanceCommand(opts))
	cmd.AddCommand(newRetreatCommand(opts))
	cmd.AddCommand(newNoteCommand(opts))
	cmd.AddCommand(newPhotoCommand(opts))
	cmd.AddCommand(newHintCommand(opts))
	cmd.AddCommand(newCurrentCommand(opts))
	cmd.AddCommand(newFinishCommand(opts))
	cmd.AddCommand(newStatusCommand(opts))
	cmd.AddCommand(newHistoryCommand(opts))
	cmd.AddCommand(newPinsCommand(opts))
	cmd.AddCommand(newSettingsCommand(opts))
	cmd.AddCommand(newDiagnosticsCommand(opts))
	cmd.AddCommand(newMetricsCommand(opts))
	cmd.AddCommand(newVerifyAuditCommand(opts))
	cmd.AddCommand(newShellCommand(opts))
	return cmd
}

// withApp opens the data directory for the duration of fn. A panic inside
// fn leaves a crash bundle behind.
func withApp(cmd *cobra.Command, opts *rootOptions, fn func(a *app.App) error) error {
	dir := setup.FindDataDir(opts.DataDir)
	if dir == "" {
		return fmt.Errorf("%w: no %s directory found, run 'nestcheck init' first", errUsage, setup.DirName)
	}
	if _, err := os.Stat(dir); err != nil {
		return fmt.Errorf("data directory: %w", err)
	}

	appOpts := opts.appOptions
	if appOpts.Stderr == nil {
		appOpts.Stderr = cmd.ErrOrStderr()
	}
	a, err := app.Open(dir, appOpts)
	if err != nil {
		return err
	}
	defer a.Close()
	defer a.HandleCrash()

	return fn(a)
}

// withSession is withApp with the persisted session attached.
func withSession(cmd *cobra.Command, opts *rootOptions, fn func(a *app.App) error) error {
	return withApp(cmd, opts, func(a *app.App) error {
		ok, err := a.Session.Attach()
		if err != nil {
			return err
		}
		if !ok {
			return session.ErrNoActiveSession
		}
		return fn(a)
	})
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// console reads operator input. Secrets are read without echo when the
// input is a terminal.
type console struct {
	in   *bufio.Reader
	file *os.File
	out  io.Writer
}

func newConsole(cmd *cobra.Command) *console {
	r := cmd.InOrStdin()
	c := &console{in: bufio.NewReader(r), out: cmd.OutOrStdout()}
	if f, ok := r.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		c.file = f
	}
	return c
}

func (c *console) Line(prompt string) (string, error) {
	if prompt != "" {
		fmt.Fprint(c.out, prompt)
	}
	line, err := c.in.ReadString('\n')
	if err != nil && (err != io.EOF || line == "") {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

func (c *console) Secret(prompt string) (string, error) {
	if c.file == nil {
		return c.Line(prompt)
	}
	fmt.Fprint(c.out, prompt)
	b, err := term.ReadPassword(int(c.file.Fd()))
	fmt.Fprintln(c.out)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(b)), nil
}

// secretFlag returns the flag value or prompts for it.
func (c *console) secretFlag(value, prompt string) (string, error) {
	if value != "" {
		return value, nil
	}
	return c.Secret(prompt)
}
