package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/msageha/nestcheck/internal/app"
	"github.com/msageha/nestcheck/internal/capture"
	"github.com/msageha/nestcheck/internal/model"
	"github.com/msageha/nestcheck/internal/session"
	"github.com/msageha/nestcheck/internal/status"
)

// promptResolver asks the operator what to do with an unfinished session.
func promptResolver(c *console) session.ResolverFunc {
	return func(existing *model.Session) session.Choice {
		done, total := existing.Progress()
		fmt.Fprintf(c.out, "Unfinished session for order %s (%d/%d items, started %s).\n",
			existing.OrderNumber, done, total, existing.StartedAt)
		for {
			answer, err := c.Line("[r]esume, [n]ew session, [c]ancel? ")
			if err != nil {
				return session.ChoiceCancel
			}
			switch strings.ToLower(answer) {
			case "r", "resume":
				return session.ChoiceResume
			case "n", "new", "restart":
				return session.ChoiceRestart
			case "c", "cancel":
				return session.ChoiceCancel
			}
		}
	}
}

func fixedResolver(choice session.Choice) session.ResolverFunc {
	return func(*model.Session) session.Choice { return choice }
}

func printCurrent(w io.Writer, a *app.App) error {
	v, err := a.Session.Current()
	if err != nil {
		return err
	}
	status.PrintItem(w, v)
	return nil
}

func newStartCommand(opts *rootOptions) *cobra.Command {
	var resume, restart bool
	cmd := &cobra.Command{
		Use:   "start <order>",
		Short: "Start an inspection for an order number such as 123456_78",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if resume && restart {
				return fmt.Errorf("%w: --resume and --restart are exclusive", errUsage)
			}
			return withApp(cmd, opts, func(a *app.App) error {
				var r session.Resolver = promptResolver(newConsole(cmd))
				switch {
				case resume:
					r = fixedResolver(session.ChoiceResume)
				case restart:
					r = fixedResolver(session.ChoiceRestart)
				}
				if err := a.Session.Start(args[0], r); err != nil {
					return err
				}
				if a.Guard.MustChange() {
					fmt.Fprintln(cmd.ErrOrStderr(), "warning: default PINs are still in use, change them with 'nestcheck pins change'")
				}
				return printCurrent(cmd.OutOrStdout(), a)
			})
		},
	}
	cmd.Flags().BoolVar(&resume, "resume", false, "resume an unfinished session without asking")
	cmd.Flags().BoolVar(&restart, "restart", false, "discard an unfinished session without asking")
	return cmd
}

func newMarkCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:       "mark ok|fail",
		Short:     "Record the verdict for the current item",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"ok", "fail"},
		RunE: func(cmd *cobra.Command, args []string) error {
			var ok bool
			switch args[0] {
			case "ok", "pass":
				ok = true
			case "fail":
			default:
				return fmt.Errorf("%w: mark expects ok or fail, got %q", errUsage, args[0])
			}
			return withSession(cmd, opts, func(a *app.App) error {
				outcome, err := a.Session.Mark(ok)
				if err != nil {
					return err
				}
				if outcome == session.OutcomeBypassRequired {
					fmt.Fprintln(cmd.OutOrStdout(), "Critical item failed. Fix it and mark ok, or run 'nestcheck bypass' with the master PIN.")
				}
				return printCurrent(cmd.OutOrStdout(), a)
			})
		},
	}
}

func newBypassCommand(opts *rootOptions) *cobra.Command {
	var pin, actor string
	cmd := &cobra.Command{
		Use:   "bypass",
		Short: "Accept a failed critical item with the master PIN",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, opts, func(a *app.App) error {
				c := newConsole(cmd)
				p, err := c.secretFlag(pin, "Master PIN: ")
				if err != nil {
					return err
				}
				name := actor
				if name == "" && c.file != nil {
					if name, err = c.Line("Master name: "); err != nil {
						return err
					}
				}
				if err := a.Session.Bypass(p, name); err != nil {
					return err
				}
				return printCurrent(cmd.OutOrStdout(), a)
			})
		},
	}
	cmd.Flags().StringVar(&pin, "pin", "", "master PIN (prompted when omitted)")
	cmd.Flags().StringVar(&actor, "actor", "", "name of the master approving the bypass")
	return cmd
}

func newAdvanceCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "next",
		Aliases: []string{"advance"},
		Short:   "Move to the next item",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, opts, func(a *app.App) error {
				if err := a.Session.Advance(); err != nil {
					return err
				}
				return printCurrent(cmd.OutOrStdout(), a)
			})
		},
	}
}

func newRetreatCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "back",
		Aliases: []string{"retreat"},
		Short:   "Move to the previous item",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, opts, func(a *app.App) error {
				if err := a.Session.Retreat(); err != nil {
					return err
				}
				return printCurrent(cmd.OutOrStdout(), a)
			})
		},
	}
}

func newNoteCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "note <text>",
		Short: "Set the note on the current item; an empty text clears it",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, opts, func(a *app.App) error {
				if err := a.Session.SetNote(strings.Join(args, " ")); err != nil {
					return err
				}
				return printCurrent(cmd.OutOrStdout(), a)
			})
		},
	}
}

func newPhotoCommand(opts *rootOptions) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "photo",
		Short: "Attach a photo to the current item",
		Long:  "Attach a photo to the current item. With --file the image is imported; otherwise nestcheck waits for the capture tool to drop it at the printed path.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, opts, func(a *app.App) error {
				path, err := takePhoto(cmd.Context(), cmd.OutOrStdout(), a, file)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Photo saved: %s\n", path)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "import an existing image instead of waiting for a capture")
	return cmd
}

func takePhoto(ctx context.Context, w io.Writer, a *app.App, source string) (string, error) {
	v, err := a.Session.Current()
	if err != nil {
		return "", err
	}
	if v.Finished {
		return "", session.ErrSessionFinished
	}
	if ctx == nil {
		ctx = context.Background()
	}
	path := capture.PhotoPath(a.PhotoDir(), v.Order, v.Item.ID, time.Now())
	if source == "" {
		fmt.Fprintf(w, "Waiting up to %s for %s\n", a.Config().CaptureTimeout(), path)
	}
	if err := a.Camera(source).Capture(ctx, path); err != nil {
		if errors.Is(err, capture.ErrCaptureTimeout) {
			return "", fmt.Errorf("no photo arrived: %w", err)
		}
		return "", err
	}
	if err := a.Session.AttachPhoto(path); err != nil {
		return "", err
	}
	return path, nil
}

func newHintCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "hint",
		Short: "Show the hint for the current item",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, opts, func(a *app.App) error {
				hint, err := a.Session.Hint()
				if err != nil {
					return err
				}
				if hint == "" {
					hint = "No hint for this item."
				}
				fmt.Fprintln(cmd.OutOrStdout(), hint)
				return nil
			})
		},
	}
}

func newCurrentCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "current",
		Short: "Show the current item",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, opts, func(a *app.App) error {
				return printCurrent(cmd.OutOrStdout(), a)
			})
		},
	}
}

func newFinishCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "finish",
		Short: "Compile the report, deliver it and close the session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, opts, func(a *app.App) error {
				ctx := cmd.Context()
				if ctx == nil {
					ctx = context.Background()
				}
				res, err := a.Finish(ctx)
				if err != nil {
					return err
				}
				printFinish(cmd.OutOrStdout(), res)
				return nil
			})
		},
	}
}

func printFinish(w io.Writer, res app.FinishResult) {
	fmt.Fprintf(w, "Report #%04d: %s (%d pages)\n", res.Artifact.Seq, res.Artifact.Path, res.Artifact.Pages)
	if !res.Complete {
		fmt.Fprintln(w, "  Session closed incomplete.")
	}
	switch {
	case res.ExportErr != nil:
		fmt.Fprintf(w, "  Export failed: %v\n", res.ExportErr)
	case res.Exported != "":
		fmt.Fprintf(w, "  Exported to %s\n", res.Exported)
	}
	switch {
	case res.MailErr != nil:
		fmt.Fprintf(w, "  Email failed: %v\n", res.MailErr)
	case res.Mailed:
		fmt.Fprintln(w, "  Emailed.")
	}
}
