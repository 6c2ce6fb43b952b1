package cli

import (
	app "github.com/okian/momentum/internal/app"
	"github.com/spf13/cobra"
)

func newBackfillCommand(root *rootOptions) *cobra.Command {
	var (
		days   int
		dryRun bool
	)
	cmd := &cobra.Command{
		Use:   "backfill",
		Short: "Insert default NeedsCare rows for users missing a score on past days",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := root.load(cmd)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			return withService(ctx, cfg, log, func(svc *app.Service) error {
				res, err := svc.Backfill(ctx, days, dryRun)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), res)
			})
		},
	}
	cmd.Flags().IntVar(&days, "days", 7, "number of days before today to cover")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "count missing rows without writing")
	return cmd
}
