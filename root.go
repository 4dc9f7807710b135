package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/tonimelisma/reporoute/internal/config"
)

// version is set at build time via ldflags.
var version = "dev"

// Global persistent flags, bound in newRootCmd().
var (
	flagConfigPath string
	flagJSON       bool
	flagVerbose    bool
	flagQuiet      bool
)

// CLIFlags are the output-affecting persistent flags.
type CLIFlags struct {
	JSON  bool
	Quiet bool
}

// CLIContext carries the resolved configuration and logger to subcommands.
type CLIContext struct {
	Flags   CLIFlags
	Cfg     *config.Config
	CfgPath string
	Logger  *slog.Logger
}

type cliContextKey struct{}

func cliContextFrom(ctx context.Context) *CLIContext {
	cc, _ := ctx.Value(cliContextKey{}).(*CLIContext)
	return cc
}

// newRootCmd builds and returns the fully-assembled root command with all
// subcommands registered. Called once from main().
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reporoute",
		Short: "Repository path routing and session management",
		Long: "Maps file paths to registered document repositories and builds the " +
			"authenticated sessions (CIFS, NTLM, Basic, SharePoint Online, Azure " +
			"Storage) needed to reach them.",
		Version: version,
		// Silence Cobra's default error/usage printing; main handles it.
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cc, err := loadCLIContext()
			if err != nil {
				return err
			}

			cmd.SetContext(context.WithValue(cmd.Context(), cliContextKey{}, cc))

			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&flagConfigPath, "config", "", "config file path")
	cmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "output in JSON format")
	cmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")
	cmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "suppress informational output")
	cmd.MarkFlagsMutuallyExclusive("verbose", "quiet")

	cmd.AddCommand(newReposCmd())
	cmd.AddCommand(newResolveCmd())
	cmd.AddCommand(newCheckCmd())
	cmd.AddCommand(newWatchCmd())

	return cmd
}

// loadCLIContext resolves the effective configuration from the four-layer
// override chain and builds the logger.
func loadCLIContext() (*CLIContext, error) {
	cli := config.CLIOverrides{ConfigPath: flagConfigPath}

	switch {
	case flagVerbose:
		level := "debug"
		cli.LogLevel = &level
	case flagQuiet:
		level := "error"
		cli.LogLevel = &level
	}

	cfg, path, err := config.Resolve(config.ReadEnvOverrides(), cli)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	logger := buildLogger(os.Stderr, cfg.Logging, isTerminal(os.Stderr))
	logger.Debug("config resolved", slog.String("path", path), slog.Int("repositories", len(cfg.Repositories)))

	return &CLIContext{
		Flags:   CLIFlags{JSON: flagJSON, Quiet: flagQuiet},
		Cfg:     cfg,
		CfgPath: path,
		Logger:  logger,
	}, nil
}

// buildLogger creates an slog.Logger from the [logging] section. The "auto"
// format writes text to terminals and JSON everywhere else.
func buildLogger(w io.Writer, lc config.LoggingConfig, tty bool) *slog.Logger {
	level := slog.LevelInfo

	switch lc.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}

	if lc.LogFormat == "json" || (lc.LogFormat == "auto" && !tty) {
		return slog.New(slog.NewJSONHandler(w, opts))
	}

	return slog.New(slog.NewTextHandler(w, opts))
}

func isTerminal(f *os.File) bool {
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// exitOnError prints a user-friendly error message to stderr and exits.
func exitOnError(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
