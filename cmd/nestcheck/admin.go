package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/msageha/nestcheck/internal/app"
	"github.com/msageha/nestcheck/internal/audit"
	"github.com/msageha/nestcheck/internal/delivery"
	"github.com/msageha/nestcheck/internal/guard"
	"github.com/msageha/nestcheck/internal/lock"
	"github.com/msageha/nestcheck/internal/metrics"
	"github.com/msageha/nestcheck/internal/model"
	"github.com/msageha/nestcheck/internal/report"
	"github.com/msageha/nestcheck/internal/setup"
	"github.com/msageha/nestcheck/internal/status"
)

func newInitCommand() *cobra.Command {
	var operator string
	cmd := &cobra.Command{
		Use:   "init [workspace]",
		Short: "Create the .nestcheck data directory",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := "."
			if len(args) == 1 {
				workspace = args[0]
			}
			base, err := setup.Run(workspace, operator)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Initialized %s\n", base)
			fmt.Fprintf(out, "  Place the report font at %s\n", filepath.Join(base, "assets", "fonts", "DejaVuSans.ttf"))
			fmt.Fprintln(out, "  Default PINs are active; change them with 'nestcheck pins change'.")
			return nil
		},
	}
	cmd.Flags().StringVar(&operator, "operator", "", "operator name printed on reports")
	return cmd
}

func newStatusCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the session, PIN guard and delivery state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			err := withApp(cmd, opts, func(a *app.App) error {
				if _, err := a.Session.Attach(); err != nil {
					return err
				}
				s := a.Status()
				// no other process holds the data directory
				s.Instance = status.InstanceStatus{}
				return status.Print(cmd.OutOrStdout(), s, opts.JSON)
			})
			if errors.Is(err, lock.ErrHeld) {
				s := status.Status{Instance: status.InstanceStatus{Running: true}}
				if pid, ok := lock.HolderPID(filepath.Join(setup.FindDataDir(opts.DataDir), app.LockFile)); ok {
					s.Instance.PID = pid
				}
				fmt.Fprintln(cmd.ErrOrStderr(), "another nestcheck process holds the data directory; showing instance state only")
				return status.Print(cmd.OutOrStdout(), s, opts.JSON)
			}
			return err
		},
	}
}

func newHistoryCommand(opts *rootOptions) *cobra.Command {
	var f report.Filter
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List compiled reports, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(a *app.App) error {
				entries, err := a.History.List(f)
				if err != nil {
					return err
				}
				if opts.JSON {
					return writeJSON(cmd.OutOrStdout(), entries)
				}
				status.PrintHistory(cmd.OutOrStdout(), entries)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.Order, "order", "", "only orders containing this text")
	cmd.Flags().StringVar(&f.Date, "date", "", "only reports created on this date prefix (YYYY-MM-DD)")
	return cmd
}

func newPinsCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pins",
		Short: "Manage the admin and master PINs",
	}

	var current, master, admin string
	change := &cobra.Command{
		Use:   "change",
		Short: "Replace both PINs; requires the current master PIN",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(a *app.App) error {
				c := newConsole(cmd)
				pin, err := c.secretFlag(current, "Current master PIN: ")
				if err != nil {
					return err
				}
				if err := a.Guard.Check(guard.RoleMaster, pin); err != nil {
					return err
				}
				if master, err = c.secretFlag(master, "New master PIN: "); err != nil {
					return err
				}
				if admin, err = c.secretFlag(admin, "New admin PIN: "); err != nil {
					return err
				}
				if err := a.Guard.ChangePINs(master, admin); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "PINs changed.")
				return nil
			})
		},
	}
	change.Flags().StringVar(&current, "current", "", "current master PIN")
	change.Flags().StringVar(&master, "master", "", "new master PIN")
	change.Flags().StringVar(&admin, "admin", "", "new admin PIN")
	cmd.AddCommand(change)
	return cmd
}

// adminGate verifies the admin PIN before a settings change.
func adminGate(cmd *cobra.Command, a *app.App, pin string) error {
	p, err := newConsole(cmd).secretFlag(pin, "Admin PIN: ")
	if err != nil {
		return err
	}
	return a.Guard.Check(guard.RoleAdmin, p)
}

func newSettingsCommand(opts *rootOptions) *cobra.Command {
	var pin string
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Show or change the export folder and mail delivery",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(a *app.App) error {
				st := a.Settings.Get()
				if opts.JSON {
					st.AdminPINHash, st.MasterPINHash, st.SMTP.Password = "", "", ""
					return writeJSON(cmd.OutOrStdout(), st)
				}
				printSettings(cmd, st)
				return nil
			})
		},
	}
	cmd.PersistentFlags().StringVar(&pin, "pin", "", "admin PIN (prompted when omitted)")

	var clearDir bool
	folder := &cobra.Command{
		Use:   "folder [dir]",
		Short: "Choose the folder reports are exported to",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !clearDir && len(args) == 0 {
				return fmt.Errorf("%w: folder needs a directory or --clear", errUsage)
			}
			return withApp(cmd, opts, func(a *app.App) error {
				if err := adminGate(cmd, a, pin); err != nil {
					return err
				}
				var handle *string
				if !clearDir {
					dir, err := delivery.ChooseFolder(args[0])
					if err != nil {
						return err
					}
					handle = &dir
				}
				if _, err := a.Settings.Update(func(s *model.Settings) { s.ExportDir = handle }); err != nil {
					return err
				}
				if handle == nil {
					fmt.Fprintln(cmd.OutOrStdout(), "Export folder cleared.")
				} else {
					fmt.Fprintf(cmd.OutOrStdout(), "Reports will be exported to %s\n", *handle)
				}
				return nil
			})
		},
	}
	folder.Flags().BoolVar(&clearDir, "clear", false, "stop exporting reports")

	var (
		smtp       model.SMTPSettings
		recipients string
		disable    bool
	)
	mail := &cobra.Command{
		Use:   "smtp",
		Short: "Configure report delivery by email",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(a *app.App) error {
				if err := adminGate(cmd, a, pin); err != nil {
					return err
				}
				flags := cmd.Flags()
				_, err := a.Settings.Update(func(s *model.Settings) {
					if disable {
						s.SMTP.Enabled = false
						return
					}
					s.SMTP.Enabled = true
					if flags.Changed("host") {
						s.SMTP.Host = smtp.Host
					}
					if flags.Changed("port") {
						s.SMTP.Port = smtp.Port
					}
					if flags.Changed("tls") {
						s.SMTP.TLS = smtp.TLS
					}
					if flags.Changed("ssl") {
						s.SMTP.SSL = smtp.SSL
					}
					if flags.Changed("user") {
						s.SMTP.User = smtp.User
					}
					if flags.Changed("password") {
						s.SMTP.Password = smtp.Password
					}
					if flags.Changed("to") {
						s.SMTP.Recipients = splitRecipients(recipients)
					}
				})
				if err != nil {
					return err
				}
				st := a.Settings.Get()
				switch {
				case !st.SMTP.Enabled:
					fmt.Fprintln(cmd.OutOrStdout(), "Email delivery disabled.")
				case !st.SMTP.Ready():
					fmt.Fprintln(cmd.OutOrStdout(), "Email delivery enabled but incomplete: host and at least one recipient are required.")
				default:
					fmt.Fprintf(cmd.OutOrStdout(), "Reports will be emailed to %s via %s:%d\n",
						strings.Join(st.SMTP.Recipients, ", "), st.SMTP.Host, st.SMTP.Port)
				}
				return nil
			})
		},
	}
	mail.Flags().StringVar(&smtp.Host, "host", "", "SMTP server")
	mail.Flags().IntVar(&smtp.Port, "port", 587, "SMTP port")
	mail.Flags().BoolVar(&smtp.TLS, "tls", true, "use STARTTLS")
	mail.Flags().BoolVar(&smtp.SSL, "ssl", false, "use implicit TLS")
	mail.Flags().StringVar(&smtp.User, "user", "", "login user")
	mail.Flags().StringVar(&smtp.Password, "password", "", "login password")
	mail.Flags().StringVar(&recipients, "to", "", "comma separated recipients")
	mail.Flags().BoolVar(&disable, "disable", false, "turn email delivery off")

	cmd.AddCommand(folder, mail)
	return cmd
}

func splitRecipients(s string) []string {
	out := []string{}
	for _, r := range strings.Split(s, ",") {
		if r = strings.TrimSpace(r); r != "" {
			out = append(out, r)
		}
	}
	return out
}

func printSettings(cmd *cobra.Command, st model.Settings) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "  %-14s #%04d\n", "Next report:", st.ReportSeq)
	export := "(none)"
	if st.ExportDir != nil {
		export = *st.ExportDir
	}
	fmt.Fprintf(out, "  %-14s %s\n", "Export folder:", export)
	mail := "disabled"
	if st.SMTP.Enabled {
		mail = fmt.Sprintf("%s:%d -> %s", st.SMTP.Host, st.SMTP.Port, strings.Join(st.SMTP.Recipients, ", "))
	}
	fmt.Fprintf(out, "  %-14s %s\n", "Email:", mail)
	fmt.Fprintf(out, "  %-14s %v\n", "Default PINs:", st.PINsMustChange)
}

func newDiagnosticsCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "diagnostics",
		Short: "Write a diagnostics bundle for support",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(a *app.App) error {
				if _, err := a.Session.Attach(); err != nil {
					return err
				}
				path, err := a.Diagnostics.Export()
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Diagnostics written to %s\n", path)
				return nil
			})
		},
	}
}

func newMetricsCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "metrics",
		Short: "Inspect recorded performance metrics",
	}
	export := &cobra.Command{
		Use:   "export [file]",
		Short: "Write the metrics summary as JSON",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(a *app.App) error {
				path := filepath.Join(a.DataDir(), fmt.Sprintf("metrics_%s.json", time.Now().Format("20060102_150405")))
				if len(args) == 1 {
					path = args[0]
				}
				sum := a.MetricsSummary()
				if err := metrics.Export(path, sum); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Metrics written to %s\n", path)
				out := cmd.OutOrStdout()
				stats := sum.Operations
				for _, name := range metrics.OpNames(stats) {
					st := stats[name]
					fmt.Fprintf(out, "  %-14s n=%d avg=%.1fms max=%.1fms\n", name, st.Count, st.AvgMS, st.MaxMS)
				}
				return nil
			})
		},
	}
	cmd.AddCommand(export)
	return cmd
}

func newVerifyAuditCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "verify-audit",
		Short: "Check the hash chain of the audit trail",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := setup.FindDataDir(opts.DataDir)
			if dir == "" {
				return fmt.Errorf("%w: no %s directory found", errUsage, setup.DirName)
			}
			path := filepath.Join(dir, "audit", "audit"+audit.TrailFileExtension)
			if _, err := os.Stat(path); os.IsNotExist(err) {
				fmt.Fprintln(cmd.OutOrStdout(), "Audit trail is empty.")
				return nil
			}
			rep, err := audit.Verify(path)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "  %-8s %d\n", "Entries:", rep.Total)
			fmt.Fprintf(out, "  %-8s %d\n", "Valid:", rep.Valid)
			for _, b := range rep.Broken {
				fmt.Fprintf(out, "  broken: %s\n", b)
			}
			if !rep.OK() {
				return errors.New("audit trail verification failed")
			}
			fmt.Fprintln(out, "Audit trail intact.")
			return nil
		},
	}
}
