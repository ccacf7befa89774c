// Package main is the entry point for the crossfed CLI.
//
// The CLI obtains federated GCP and Azure tokens from AWS workload
// credentials, checks credential health and exposes the storage those
// credentials unlock.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/anirudhbiyani/crossfed/pkg/cloudauth"
	"github.com/anirudhbiyani/crossfed/pkg/config"
	"github.com/anirudhbiyani/crossfed/pkg/federation"
	"github.com/anirudhbiyani/crossfed/pkg/logging"

	// Import providers to register their storage backends and validators
	_ "github.com/anirudhbiyani/crossfed/pkg/providers/aws"
	_ "github.com/anirudhbiyani/crossfed/pkg/providers/azure"
	_ "github.com/anirudhbiyani/crossfed/pkg/providers/gcp"
)

const (
	exitError           = 1
	exitValidationError = 2
	exitConfigError     = 3
)

var version = "0.1.0"

// errValidationFailed marks a completed validation run with failed checks.
var errValidationFailed = errors.New("validation failed")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(exitCode(err))
	}
}

func exitCode(err error) int {
	switch {
	case errors.Is(err, errValidationFailed):
		return exitValidationError
	case cloudauth.IsConfiguration(err):
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return exitConfigError
	default:
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return exitError
	}
}

type globalOpts struct {
	configPath string
	debug      bool
	logLevel   string
	logFormat  string
}

func newRootCmd() *cobra.Command {
	opts := &globalOpts{}
	root := &cobra.Command{
		Use:           "crossfed",
		Short:         "Cross-cloud identity federation and credential lifecycle",
		Long:          `crossfed turns AWS workload credentials into GCP and Azure tokens, keeps them fresh and opens the storage they grant.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&opts.configPath, "config", "c", os.Getenv("CROSSFED_CONFIG"), "Config file (YAML)")
	flags.BoolVar(&opts.debug, "debug", false, "Request short-lived tokens and log at debug level")
	flags.StringVar(&opts.logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	flags.StringVar(&opts.logFormat, "log-format", "", "Log format (console, json)")

	root.AddCommand(
		newTokenCmd(opts),
		newAzureTokenCmd(opts),
		newWhoamiCmd(opts),
		newValidateCmd(opts),
		newStorageCmd(opts),
		newVendorsCmd(),
		newVersionCmd(),
	)
	return root
}

// load reads the configuration and applies command-line overrides.
func (o *globalOpts) load() (*config.Config, logging.Logger, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, nil, err
	}
	if o.debug {
		cfg.Debug = true
		cfg.Log.Level = "debug"
	}
	if o.logLevel != "" {
		cfg.Log.Level = o.logLevel
	}
	if o.logFormat != "" {
		cfg.Log.Format = o.logFormat
	}

	logCfg := logging.Config{
		Level:  logging.ParseLevel(cfg.Log.Level),
		Format: logging.ParseFormat(cfg.Log.Format),
		Output: os.Stderr,
	}
	if cfg.Log.File != "" {
		logCfg.File = logging.DefaultFileConfig(cfg.Log.File)
	}
	logger := logging.New(logCfg).With(logging.String("run", uuid.NewString()))
	return cfg, logger, nil
}

// engine builds and sets up an engine for one command run.
func (o *globalOpts) engine(ctx context.Context) (*federation.Engine, error) {
	cfg, logger, err := o.load()
	if err != nil {
		return nil, err
	}
	e, err := federation.NewEngine(cfg, logger)
	if err != nil {
		return nil, err
	}
	if err := e.Setup(ctx); err != nil {
		return nil, err
	}
	return e, nil
}
