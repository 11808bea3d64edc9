// Package cli implements the pdfsig command line.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sudhir-boottttt/MSpdf-sub001/config"
)

// Version information, set at build time.
var (
	Version   = "dev"
	BuildTime = "unknown"
)

// ExitError carries the process exit status of a failed command.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("exit status %d", e.Code)
	}
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error { return e.Err }

// ExitCode returns the status the process should exit with.
func (e *ExitError) ExitCode() int { return e.Code }

type rootOptions struct {
	configFile string
	logLevel   string
	logFormat  string
}

// app is the state shared by the subcommands once the root has run.
type app struct {
	opts   rootOptions
	cfg    *config.AppConfig
	logger *zap.Logger
}

func (a *app) init(cmd *cobra.Command) error {
	var err error
	if a.opts.configFile != "" {
		a.cfg, err = config.LoadAppConfig(a.opts.configFile)
		if err != nil {
			return err
		}
	} else {
		a.cfg = config.Default()
	}

	if a.opts.logLevel != "" {
		a.cfg.Logging.Level = a.opts.logLevel
	}
	if a.opts.logFormat != "" {
		a.cfg.Logging.Format = a.opts.logFormat
	}
	if err := a.cfg.Logging.Validate(); err != nil {
		return err
	}
	a.logger, err = a.cfg.Logging.Build()
	return err
}

// New returns the root command.
func New() *cobra.Command {
	a := &app{}
	cmd := &cobra.Command{
		Use:           "pdfsig",
		Short:         "Sign PDF documents and verify their signatures.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.init(cmd)
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if a.logger != nil {
				_ = a.logger.Sync()
			}
		},
	}
	cmd.PersistentFlags().StringVar(&a.opts.configFile, "config", "", "YAML configuration file")
	cmd.PersistentFlags().StringVar(&a.opts.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	cmd.PersistentFlags().StringVar(&a.opts.logFormat, "log-format", "", "log format (console, json)")

	cmd.AddCommand(newSignCommand(a))
	cmd.AddCommand(newVerifyCommand(a))
	cmd.AddCommand(newVersionCommand())
	return cmd
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		// The version does not need configuration or logging.
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "pdfsig version %s\n", Version)
			fmt.Fprintf(cmd.OutOrStdout(), "Build time: %s\n", BuildTime)
		},
	}
}
