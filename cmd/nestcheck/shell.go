package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/msageha/nestcheck/internal/app"
	"github.com/msageha/nestcheck/internal/report"
	"github.com/msageha/nestcheck/internal/session"
	"github.com/msageha/nestcheck/internal/status"
)

const shellHelp = `Commands:
  ok | fail          record the verdict for the current item
  bypass [name]      accept a failed critical item with the master PIN
  next | back        move through the checklist
  note [text]        set or clear the note on the current item
  photo [file]       attach a photo (import file, or wait for the capture tool)
  hint               show the hint for the current item
  status             show session and guard state
  history [order]    list reports
  finish             compile the report and close the session
  help               this text
  quit               save and leave (the session can be resumed)`

func newShellCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "shell [order]",
		Short: "Run the interactive inspection shell",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(a *app.App) error {
				parent := cmd.Context()
				if parent == nil {
					parent = context.Background()
				}
				ctx, stop := app.SignalContext(parent, a.Logger())
				defer stop()
				a.Start(ctx)

				order := ""
				if len(args) == 1 {
					order = args[0]
				}
				return runShell(ctx, a, newConsole(cmd), order)
			})
		},
	}
}

type shell struct {
	app *app.App
	con *console
	out io.Writer
}

func runShell(ctx context.Context, a *app.App, c *console, order string) error {
	sh := &shell{app: a, con: c, out: c.out}

	if a.Guard.MustChange() {
		fmt.Fprintln(sh.out, "Default PINs are still in use. Change them with 'nestcheck pins change'.")
	}
	if err := sh.open(order); err != nil {
		if errors.Is(err, session.ErrCancelled) || errors.Is(err, io.EOF) {
			return nil
		}
		return err
	}
	sh.show()

	for {
		if ctx.Err() != nil {
			return nil
		}
		line, err := c.Line("> ")
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		if line == "" {
			continue
		}
		quit, err := sh.exec(ctx, line)
		if err != nil {
			fmt.Fprintf(sh.out, "! %v\n", err)
			a.Logger().Debug("shell command failed", zap.String("command", line), zap.Error(err))
		}
		if quit {
			return nil
		}
	}
}

// open starts or resumes a session. Without an order an unfinished session
// is offered first, then the operator is asked for an order number.
func (sh *shell) open(order string) error {
	var resolver session.Resolver = promptResolver(sh.con)
	if order == "" {
		pending, err := sh.app.Session.Pending()
		if err != nil {
			return err
		}
		if pending != nil {
			switch resolver.Resolve(pending) {
			case session.ChoiceResume:
				return sh.app.Session.Resume(pending)
			case session.ChoiceCancel:
				return session.ErrCancelled
			}
			resolver = fixedResolver(session.ChoiceRestart)
		}
	}
	for {
		if order == "" {
			var err error
			if order, err = sh.con.Line("Order number: "); err != nil {
				return err
			}
		}
		err := sh.app.Session.Start(order, resolver)
		if !errors.Is(err, session.ErrInvalidOrderFormat) {
			return err
		}
		fmt.Fprintf(sh.out, "! %v\n", err)
		order = ""
	}
}

func (sh *shell) show() {
	if err := printCurrent(sh.out, sh.app); err != nil {
		fmt.Fprintf(sh.out, "! %v\n", err)
	}
}

func (sh *shell) exec(ctx context.Context, line string) (bool, error) {
	name, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)
	s := sh.app.Session

	name = strings.ToLower(name)
	switch name {
	case "ok", "pass", "fail":
		outcome, err := s.Mark(name != "fail")
		if err != nil {
			return false, err
		}
		if outcome == session.OutcomeBypassRequired {
			fmt.Fprintln(sh.out, "Critical item failed. Fix it and mark ok, or 'bypass' with the master PIN.")
			sh.show()
			return false, nil
		}
		if err := s.Advance(); err != nil {
			return false, err
		}
	case "bypass":
		pin, err := sh.con.Secret("Master PIN: ")
		if err != nil {
			return false, err
		}
		if err := s.Bypass(pin, rest); err != nil {
			return false, err
		}
	case "next", "n":
		if err := s.Advance(); err != nil {
			return false, err
		}
	case "back", "b":
		if err := s.Retreat(); err != nil {
			return false, err
		}
	case "note":
		if err := s.SetNote(rest); err != nil {
			return false, err
		}
	case "photo":
		path, err := takePhoto(ctx, sh.out, sh.app, rest)
		if err != nil {
			return false, err
		}
		fmt.Fprintf(sh.out, "Photo saved: %s\n", path)
	case "hint":
		hint, err := s.Hint()
		if err != nil {
			return false, err
		}
		if hint == "" {
			hint = "No hint for this item."
		}
		fmt.Fprintln(sh.out, hint)
		return false, nil
	case "status":
		return false, status.Print(sh.out, sh.app.Status(), false)
	case "history":
		entries, err := sh.app.History.List(report.Filter{Order: rest})
		if err != nil {
			return false, err
		}
		status.PrintHistory(sh.out, entries)
		return false, nil
	case "finish":
		res, err := sh.app.Finish(ctx)
		if err != nil {
			return false, err
		}
		printFinish(sh.out, res)
		return true, nil
	case "help", "?":
		fmt.Fprintln(sh.out, shellHelp)
		return false, nil
	case "quit", "exit", "q":
		sh.app.Session.Save()
		fmt.Fprintln(sh.out, "Session saved.")
		return true, nil
	default:
		return false, fmt.Errorf("unknown command %q, type 'help'", name)
	}
	sh.show()
	return false, nil
}
