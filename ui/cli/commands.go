// Copyright (c) 2026 Keymaster Team
// drivecfg - desktop client configuration core
// This source code is licensed under the MIT license found in the LICENSE file.

package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/toeirei/drivecfg/internal/config"
	"github.com/toeirei/drivecfg/internal/i18n"
	"github.com/toeirei/drivecfg/internal/logging"
	"github.com/toeirei/drivecfg/internal/manager"
	"github.com/toeirei/drivecfg/internal/migration"
	"github.com/toeirei/drivecfg/internal/options"
	"github.com/toeirei/drivecfg/internal/proxy"
	"github.com/toeirei/drivecfg/internal/security"
)

// newStartCmd starts the manager and, with --wait, keeps it running until
// interrupted.
func newStartCmd(a *app) *cobra.Command {
	var wait bool
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Open the configuration store, migrate it and resolve the proxy",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if wait {
				var stop context.CancelFunc
				ctx, stop = signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
				defer stop()
			}
			return a.withManager(ctx, func(m *manager.Manager) error {
				logging.Infof("session %s ready", m.SessionID())
				printStatus(cmd.OutOrStdout(), a, m, nil)
				if wait {
					<-ctx.Done()
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&wait, "wait", false, "Keep running until interrupted")
	return cmd
}

func newStatusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the configuration home, schema state and effective proxy",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runStatus(cmd)
		},
	}
}

func (a *app) runStatus(cmd *cobra.Command) error {
	return a.withManager(cmd.Context(), func(m *manager.Manager) error {
		st, err := m.MigrationStatus(cmd.Context())
		if err != nil {
			return err
		}
		printStatus(cmd.OutOrStdout(), a, m, &st)
		return nil
	})
}

func printStatus(w io.Writer, a *app, m *manager.Manager, st *migration.Status) {
	writeLine(w, "status.home", map[string]any{"Path": a.home})
	if st != nil {
		writeLine(w, "status.schema", map[string]any{"Version": st.Version, "State": st.State.String()})
	}
	writeLine(w, "status.auto_update", map[string]any{"Enabled": a.opts.Bool(options.OptFeatureAutoUpdate)})
	writeLine(w, "proxy.effective", map[string]any{"Proxy": m.Proxy().String()})
	writeLine(w, "status.options", map[string]any{"Options": a.opts.Describe()})
}

func newProxyCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "proxy",
		Short: "Show or change the network proxy",
	}
	cmd.AddCommand(newProxyShowCmd(a), newProxySetCmd(a))
	return cmd
}

func newProxyShowCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "show [url]",
		Short: "Print the effective proxy, and the proxies used for url",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withManager(cmd.Context(), func(m *manager.Manager) error {
				out := cmd.OutOrStdout()
				p := m.Proxy()
				writeLine(out, "proxy.effective", map[string]any{"Proxy": p.String()})
				if len(args) == 1 {
					s := proxy.Settings(p, args[0])
					writeLine(out, "proxy.for_url", map[string]any{
						"URL":   args[0],
						"HTTP":  orDirect(redact(s[proxy.HTTP])),
						"HTTPS": orDirect(redact(s[proxy.HTTPS])),
					})
				}
				return nil
			})
		},
	}
}

func newProxySetCmd(a *app) *cobra.Command {
	var (
		user      string
		pacFile   string
		passStdin bool
	)
	cmd := &cobra.Command{
		Use:   "set <none|system|proxy-url|pac-url>",
		Short: "Store the proxy used when no --proxy-server override is given",
		Args:  cobra.RangeArgs(0, 1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			engine := proxy.NewEngine(proxy.WithPACTimeout(a.opts.Duration(options.OptPACTimeout)))
			defer engine.Close()

			var (
				p   proxy.Proxy
				err error
			)
			switch {
			case pacFile != "":
				script, rerr := os.ReadFile(pacFile)
				if rerr != nil {
					return rerr
				}
				p, err = engine.Parse(ctx, proxy.CategoryAutomatic, proxy.Fields{JS: string(script)})
			case len(args) == 1:
				p, err = engine.ParseURL(ctx, args[0])
			default:
				return errors.New("a proxy or --pac-file is required")
			}
			if err != nil {
				return err
			}

			if mp, ok := p.(*proxy.Manual); ok && user != "" {
				pass, err := readPassword(cmd.InOrStdin(), cmd.ErrOrStderr(), user, passStdin)
				if err != nil {
					return err
				}
				mp.Username = user
				mp.Password = security.FromString(pass)
			}

			return a.withManager(ctx, func(m *manager.Manager) error {
				if err := m.SetProxy(ctx, p); err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				writeLine(out, "proxy.saved", map[string]any{"Proxy": p.String()})
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "Proxy user name; the password is prompted for")
	cmd.Flags().StringVar(&pacFile, "pac-file", "", "Store the content of this PAC file inline")
	cmd.Flags().BoolVar(&passStdin, "password-stdin", false, "Read the proxy password from stdin")
	return cmd
}

// readPassword prompts on a terminal without echo, and otherwise reads one
// line from in.
func readPassword(in io.Reader, prompt io.Writer, user string, fromStdin bool) (string, error) {
	if f, ok := in.(*os.File); ok && !fromStdin && term.IsTerminal(int(f.Fd())) {
		writeLine(prompt, "proxy.password_prompt", map[string]any{"User": user})
		b, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(prompt)
		if err != nil {
			return "", fmt.Errorf("read password: %w", err)
		}
		return string(b), nil
	}
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read password: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func newMigrationsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrations",
		Short: "Inspect the configuration store migrations",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show the schema version, pending steps and broken marker",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			m, err := a.manager()
			if err != nil {
				return err
			}
			defer func() { _ = m.Dispose() }()
			// A failed migration still leaves the store open for inspection.
			if err := m.Start(ctx); err != nil && ExitCode(err) != 2 {
				return err
			}
			st, err := m.MigrationStatus(ctx)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			writeLine(out, "status.schema", map[string]any{"Version": st.Version, "State": st.State.String()})
			for _, p := range st.Pending {
				writeLine(out, "status.pending", map[string]any{"ID": p.ID, "Name": p.Name})
			}
			if mk := st.Marker; mk != nil {
				writeLine(out, "status.marker", map[string]any{
					"Step":    mk.StepID,
					"Name":    mk.StepName,
					"Version": mk.Version,
					"When":    mk.FailedAt.Format(time.RFC3339),
				})
			}
			return nil
		},
	})
	return cmd
}

func newOpenCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "open <path>",
		Short: "Open a local file with its associated application",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withManager(cmd.Context(), func(m *manager.Manager) error {
				out := cmd.OutOrStdout()
				err := m.OpenLocalFile(args[0])
				var na *manager.NoAssociatedSoftwareError
				switch {
				case errors.As(err, &na):
					writeLine(out, "open.no_software", map[string]any{"Path": filepath.Base(na.Path)})
					return nil
				case err != nil:
					return err
				}
				writeLine(out, "open.done", map[string]any{"Path": args[0]})
				return nil
			})
		},
	}
}

func newConfigCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the configuration file",
	}
	var force bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write the current options to <home>/drivecfg.yaml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := filepath.Join(a.home, config.FileName)
			f := config.FileFromOptions(a.opts)
			if err := config.WriteConfigFile(&f, path, force); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), path)
			return nil
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "Replace an existing file")
	cmd.AddCommand(initCmd)
	return cmd
}

func orDirect(s string) string {
	if s == "" {
		return i18n.T("proxy.direct")
	}
	return s
}

// redact hides the password of a proxy URL.
func redact(raw string) string {
	at := strings.LastIndex(raw, "@")
	scheme := strings.Index(raw, "://")
	if at < 0 || scheme < 0 || at < scheme {
		return raw
	}
	cred := raw[scheme+3 : at]
	if user, _, ok := strings.Cut(cred, ":"); ok {
		return raw[:scheme+3] + user + ":***" + raw[at:]
	}
	return raw
}
