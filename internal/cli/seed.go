package cli

import (
	"fmt"

	app "github.com/okian/momentum/internal/app"
	"github.com/okian/momentum/internal/config"
	"github.com/okian/momentum/internal/seed"
	"github.com/spf13/cobra"
)

func newSeedCommand(root *rootOptions) *cobra.Command {
	var (
		cfgSeed seed.Config
		date    string
	)
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Write deterministic synthetic engagement events to the store",
		RunE: func(cmd *cobra.Command, _ []string) error {
			end, err := parseDay(date)
			if err != nil {
				return err
			}
			cfgSeed.End = end

			cfg, log, err := root.load(cmd)
			if err != nil {
				return err
			}
			if cfg.StoreDriver == config.DriverMemory {
				log.Warn(cmd.Context(), "seeding the memory store; events are lost when the process exits")
			}

			ctx := cmd.Context()
			store, err := app.OpenStore(ctx, cfg)
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer func() { _ = store.Close() }()

			res, err := seed.Run(ctx, store, cfgSeed, log.Named("seed"))
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
	cmd.Flags().IntVar(&cfgSeed.Users, "users", seed.DefaultUsers, "number of synthetic users")
	cmd.Flags().IntVar(&cfgSeed.Days, "days", seed.DefaultDays, "number of days ending at --date")
	cmd.Flags().Uint64Var(&cfgSeed.Seed, "seed", seed.DefaultSeed, "random seed")
	cmd.Flags().StringVar(&date, "date", "", "last seeded day YYYY-MM-DD (default today, UTC)")
	return cmd
}
