// Copyright (c) 2026 Keymaster Team
// drivecfg - desktop client configuration core
// This source code is licensed under the MIT license found in the LICENSE file.

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime/debug"
	"time"

	"github.com/spf13/cobra"

	"github.com/toeirei/drivecfg/buildvars"
	"github.com/toeirei/drivecfg/internal/config"
	"github.com/toeirei/drivecfg/internal/i18n"
	"github.com/toeirei/drivecfg/internal/logging"
	"github.com/toeirei/drivecfg/internal/manager"
	"github.com/toeirei/drivecfg/internal/migration"
	"github.com/toeirei/drivecfg/internal/options"
	"github.com/toeirei/drivecfg/internal/proxy"
	"github.com/toeirei/drivecfg/internal/store"
)

var version = "dev"   // this will be set by the linker
var gitCommit = "dev" // set at build time with the short commit SHA
var buildDate = ""    // set at build time (RFC3339)

// app carries the state shared by the commands of one root command.
type app struct {
	opts    *options.Options
	home    string
	version string
	verbose bool

	// newOpener builds the opener handed to the manager. Tests replace it.
	newOpener func() manager.Opener
}

func (a *app) setup(cmd *cobra.Command) error {
	home, setter, err := resolveHome(cmd)
	if err != nil {
		return err
	}
	a.home = home
	a.opts = options.New()
	if _, err := a.opts.Set(options.OptHome, home, setter); err != nil {
		return err
	}

	explicit, err := getConfigPathFromCli(cmd)
	if err != nil {
		return err
	}
	used, err := config.Load(cmd, home, explicit, a.opts)
	if err != nil {
		return err
	}

	a.version, _, _ = resolveBuildVersion(nil)
	_, _ = a.opts.Set(options.OptClientVersion, a.version, options.SetterManual)

	consoleLevel := a.opts.String(options.OptLogLevelConsole)
	if a.verbose {
		consoleLevel = "debug"
		store.SetDebug(true)
	}
	if err := logging.Setup(logging.Config{
		Root:         home,
		ConsoleLevel: consoleLevel,
		FileLevel:    a.opts.String(options.OptLogLevelFile),
		Console:      cmd.ErrOrStderr(),
	}); err != nil {
		return err
	}
	i18n.Init(a.opts.String(options.OptLocale))

	if used != "" {
		logging.Debugf("configuration file: %s", used)
	}
	logging.Debugf("options: %s", a.opts.Describe())
	return nil
}

// resolveHome picks the configuration root: --home, then DRIVECFG_HOME,
// then ~/.drivecfg.
func resolveHome(cmd *cobra.Command) (string, options.Setter, error) {
	if f := cmd.Flags().Lookup("home"); f != nil && f.Changed && f.Value.String() != "" {
		return f.Value.String(), options.SetterCLI, nil
	}
	if env := os.Getenv("DRIVECFG_HOME"); env != "" {
		return env, options.SetterLocal, nil
	}
	home, err := config.DefaultHome()
	return home, options.SetterDefault, err
}

func getConfigPathFromCli(cmd *cobra.Command) (string, error) {
	if !cmd.Flags().Changed("config") {
		return "", nil
	}
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return "", fmt.Errorf("could not read --config flag: %w", err)
	}
	if path == "" {
		return "", nil
	}
	// Make sure the user-provided file exists to avoid unwanted behavior.
	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("config file specified via --config flag not found or is not accessible: %w", err)
	}
	return path, nil
}

// withManager starts a manager for the duration of fn.
func (a *app) withManager(ctx context.Context, fn func(*manager.Manager) error) error {
	m, err := a.manager()
	if err != nil {
		return err
	}
	defer func() {
		if derr := m.Dispose(); derr != nil {
			logging.Warnf("dispose: %v", derr)
		}
	}()
	if err := m.Start(ctx); err != nil {
		return err
	}
	return fn(m)
}

func (a *app) manager() (*manager.Manager, error) {
	cfg := manager.Config{
		Root:    a.home,
		Options: a.opts,
		Version: a.version,
		Engine:  proxy.NewEngine(proxy.WithPACTimeout(a.opts.Duration(options.OptPACTimeout))),
	}
	if a.newOpener != nil {
		cfg.Opener = a.newOpener()
	}
	return manager.New(cfg)
}

// Execute runs the CLI and returns the process exit code. Fatal errors are
// rendered on stderr first.
func Execute() int {
	defer func() { _ = logging.Close() }()
	root := NewRootCmd()
	err := root.Execute()
	if err == nil {
		return 0
	}
	home, _ := root.PersistentFlags().GetString("home")
	if home == "" {
		home, _, _ = resolveHome(root)
	}
	fmt.Fprintln(os.Stderr, FatalBanner(err, home))
	return ExitCode(err)
}

// NewRootCmd creates and configures a new root cobra command.
// This function is used to create the main application command as well as
// fresh instances for isolated testing.
func NewRootCmd() *cobra.Command {
	return newRootCmd(&app{})
}

func newRootCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "drivecfg",
		Short: "drivecfg manages the configuration of the desktop sync client.",
		Long: `drivecfg owns the local configuration store of the desktop sync client:
it upgrades the store schema, resolves the effective network proxy and
keeps options from the defaults, the server, the configuration file and
the command line apart.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runStatus(cmd)
		},
	}

	def := options.Defaults()
	pf := cmd.PersistentFlags()
	pf.String("config", "", "Path to a configuration file (default: <home>/drivecfg.yaml)")
	pf.String("home", "", "Configuration root (default: $DRIVECFG_HOME or ~/.drivecfg)")
	pf.String("proxy-server", "", "Proxy override: none, system, a proxy URL or a .pac URL")
	pf.String("log-level-console", def[options.OptLogLevelConsole].(string), "Console log level")
	pf.String("log-level-file", def[options.OptLogLevelFile].(string), "Log file level")
	pf.String("locale", def[options.OptLocale].(string), "Language of the messages")
	pf.String("update-channel", def[options.OptUpdateChannel].(string), "Update channel (centralized, release, beta, alpha)")
	pf.Duration("pac-timeout", def[options.OptPACTimeout].(time.Duration), "Time limit for one PAC evaluation")
	pf.Bool("retry-broken-migration", false, "Retry a migration that failed under an older version")
	pf.String("database-type", def[options.OptDatabaseType].(string), "Store backend (sqlite, postgres, mysql)")
	pf.String("database-dsn", "", "Connection string for a postgres or mysql store")
	pf.BoolVarP(&a.verbose, "verbose", "v", false, "Enable debug output")

	cmd.AddCommand(
		newStartCmd(a),
		newStatusCmd(a),
		newProxyCmd(a),
		newMigrationsCmd(a),
		newOpenCmd(a),
		newConfigCmd(a),
		newVersionCmd(),
	)
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version of drivecfg",
		// version needs no configuration.
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), compositeVersion())
		},
	}
}

func compositeVersion() string {
	v, c, d := resolveBuildVersion(nil)
	out := v
	if c != "" && c != "dev" {
		out = out + " (" + c + ")"
	}
	if d != "" {
		out = out + " built: " + d
	}
	return out
}

// resolveBuildVersion computes the best-available version, commit and build
// date for the running binary. If `info` is nil, it reads build info from
// the runtime. This helper is separated to make unit testing straightforward.
func resolveBuildVersion(info *debug.BuildInfo) (versionOut, commitOut, dateOut string) {
	resolvedVersion := buildvars.VersionOrDefault(version)
	resolvedCommit := gitCommit
	resolvedDate := buildDate

	var ok bool
	if info == nil {
		if infoLocal, found := debug.ReadBuildInfo(); found {
			info = infoLocal
			ok = true
		}
	} else {
		ok = true
	}

	if ok && info != nil {
		if resolvedVersion == "dev" && info.Main.Version != "" && info.Main.Version != "(devel)" {
			resolvedVersion = info.Main.Version
		}
		if resolvedVersion == "dev" && info.Deps != nil {
			for _, dep := range info.Deps {
				if dep.Path == modulePath && dep.Version != "" {
					resolvedVersion = dep.Version
					break
				}
			}
		}

		for _, s := range info.Settings {
			switch s.Key {
			case "vcs.revision":
				if s.Value != "" {
					resolvedCommit = s.Value
				}
			case "vcs.time":
				if s.Value != "" {
					resolvedDate = s.Value
				}
			}
		}
	}

	// As a last resort, if no version was discovered, but a gitCommit was
	// provided via ldflags, show that to aid support.
	if resolvedVersion == "dev" && gitCommit != "dev" && gitCommit != "" {
		resolvedVersion = gitCommit
	}

	return resolvedVersion, resolvedCommit, resolvedDate
}

const modulePath = "github.com/toeirei/drivecfg"

// ExitCode maps an error returned by the root command to a process exit
// code: 2 when the store could not be migrated, 1 otherwise.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var failed *migration.MigrationFailedError
	if errors.As(err, &failed) || errors.Is(err, migration.ErrBroken) {
		return 2
	}
	return 1
}

// writeLine prints a translated message.
func writeLine(w io.Writer, id string, data map[string]any) {
	fmt.Fprintln(w, i18n.T(id, data))
}
