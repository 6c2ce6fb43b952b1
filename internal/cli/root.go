// Package cli implements the momentum command line: the HTTP server and
// one-shot operational commands sharing the same configuration.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	app "github.com/okian/momentum/internal/app"
	"github.com/okian/momentum/internal/config"
	"github.com/okian/momentum/internal/domain/model"
	"github.com/okian/momentum/pkg/logger"
	"github.com/spf13/cobra"
)

// rootOptions holds the persistent flags shared by every command.
type rootOptions struct {
	configPath  string
	logLevel    string
	storeDriver string
}

// NewRootCommand builds the command tree.
func NewRootCommand() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "momentum",
		Short:         "Daily engagement momentum scores",
		Long:          "Momentum computes a daily engagement score per user from behavioral events and classifies them as Rising, Steady or NeedsCare.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := root.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", "", "YAML config file (overrides MOMENTUM_CONFIG)")
	flags.StringVar(&opts.logLevel, "log-level", "", "log level: debug, info, warn, error")
	flags.StringVar(&opts.storeDriver, "store", "", "record store driver: memory, sqlite, postgres")

	root.AddCommand(
		newServeCommand(opts),
		newCalculateCommand(opts),
		newCalculateAllCommand(opts),
		newBackfillCommand(opts),
		newMigrateCommand(opts),
		newSeedCommand(opts),
		newVersionCommand(),
	)
	return root
}

// Execute runs the command tree against os.Args.
func Execute(ctx context.Context) error {
	return NewRootCommand().ExecuteContext(ctx)
}

// load reads configuration, applies flag overrides and initializes the
// global logger on the command's error stream.
func (o *rootOptions) load(cmd *cobra.Command) (*config.Config, logger.Logger, error) {
	ctx := cmd.Context()
	if o.configPath != "" {
		if err := os.Setenv("MOMENTUM_CONFIG", o.configPath); err != nil {
			return nil, nil, fmt.Errorf("set config path: %w", err)
		}
	}

	cfg, err := config.Load(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	if o.storeDriver != "" {
		cfg.StoreDriver = o.storeDriver
		if err := cfg.Validate(); err != nil {
			return nil, nil, err
		}
	}
	if o.logLevel != "" {
		cfg.LogLevel = o.logLevel
	}

	if err := logger.Init(logger.WithFormat(cfg.LogFormat), logger.WithWriter(cmd.ErrOrStderr())); err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logging: %w", err)
	}
	log := logger.Get()
	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		log.Warn(ctx, "invalid log_level; falling back to info", logger.String("log_level", cfg.LogLevel), logger.Error(err))
		_ = logger.SetLevelString("info")
	}
	return cfg, log, nil
}

// withService starts a Service for the duration of fn.
func withService(ctx context.Context, cfg *config.Config, log logger.Logger, fn func(*app.Service) error) (err error) {
	svc := app.New(app.WithConfig(cfg), app.WithLogger(log))
	if err := svc.Start(ctx); err != nil {
		return fmt.Errorf("failed to start service: %w", err)
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.ShutdownTimeout())
		defer cancel()
		if stopErr := svc.Stop(stopCtx); stopErr != nil && err == nil {
			err = stopErr
		}
	}()
	return fn(svc)
}

// parseDay parses an optional --date flag. Empty means today.
func parseDay(s string) (model.Date, error) {
	if s == "" {
		return model.Date{}, nil
	}
	d, err := model.ParseDate(s)
	if err != nil {
		return model.Date{}, fmt.Errorf("invalid --date: %w", err)
	}
	return d, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}
