package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/mcdev12/hotpotato/go/internal/config"
	"github.com/mcdev12/hotpotato/go/internal/history"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

type options struct {
	configPath string
	port       int
	verbose    bool
}

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		log.Fatal().Err(err).Msg("hotpotato failed")
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:   "hotpotato",
		Short: "Hot potato game session server",
		Args:  cobra.NoArgs,
	}

	fs := root.PersistentFlags()
	fs.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})
	fs.StringVarP(&opts.configPath, "config", "c", os.Getenv(config.EnvPrefix+"CONFIG"), "path to a YAML config file (env: HOTPOTATO_CONFIG)")
	fs.IntVarP(&opts.port, "port", "p", 0, "port to listen on, overrides http.port")
	fs.BoolVarP(&opts.verbose, "verbose", "v", false, "log at debug level")

	root.AddCommand(newServeCmd(opts), newMigrateCmd(opts))

	root.CompletionOptions.HiddenDefaultCmd = true
	root.SilenceErrors = true
	root.SilenceUsage = true
	return root
}

func newServeCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the session over WebSocket and drive its clocks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}
}

func newMigrateCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the round history tables",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			db, err := setupDatabase(cmd.Context(), cfg.Database.Config)
			if err != nil {
				return err
			}
			defer db.Close()
			return history.Migrate(cmd.Context(), db)
		},
	}
}

func loadConfig(opts *options) (*config.Config, error) {
	if opts.verbose {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if opts.port != 0 {
		cfg.HTTP.Port = opts.port
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}

	if !opts.verbose {
		level, _ := zerolog.ParseLevel(cfg.LogLevel)
		zerolog.SetGlobalLevel(level)
	}
	return cfg, nil
}
