package cli

import (
	"fmt"

	"github.com/okian/momentum/internal/adapters/repository"
	"github.com/okian/momentum/internal/config"
	"github.com/okian/momentum/pkg/logger"
	"github.com/spf13/cobra"
)

var migrateCommands = []string{"up", "down", "status", "version", "redo", "reset"}

func newMigrateCommand(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:       "migrate [up|down|status|version|redo|reset]",
		Short:     "Run schema migrations against the configured store",
		ValidArgs: migrateCommands,
		Args:      cobra.MatchAll(cobra.MaximumNArgs(1), cobra.OnlyValidArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			command := "up"
			if len(args) == 1 {
				command = args[0]
			}
			cfg, log, err := root.load(cmd)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			switch cfg.StoreDriver {
			case config.DriverPostgres:
				pg, err := repository.OpenPostgres(ctx, cfg.PostgresURL)
				if err != nil {
					return err
				}
				defer func() { _ = pg.Close() }()
				if err := repository.RunMigrations(ctx, pg.DB(), command); err != nil {
					return err
				}
				log.Info(ctx, "migration finished", logger.String("command", command))
				return nil
			case config.DriverSQLite:
				if command != "up" && command != "status" && command != "version" {
					return fmt.Errorf("migrate %s is not supported for sqlite", command)
				}
				// Opening applies every pending migration.
				st, err := repository.OpenSQLite(ctx, cfg.SQLitePath)
				if err != nil {
					return err
				}
				defer func() { _ = st.Close() }()
				v, err := st.SchemaVersion(ctx)
				if err != nil {
					return err
				}
				_, err = fmt.Fprintf(out, "sqlite %s: schema version %d\n", cfg.SQLitePath, v)
				return err
			default:
				_, err := fmt.Fprintln(out, "memory store has no schema")
				return err
			}
		},
	}
}
