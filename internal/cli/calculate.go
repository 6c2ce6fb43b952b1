package cli

import (
	"fmt"

	app "github.com/okian/momentum/internal/app"
	"github.com/okian/momentum/pkg/tracing"
	"github.com/spf13/cobra"
)

func newCalculateCommand(root *rootOptions) *cobra.Command {
	var userID, date string
	cmd := &cobra.Command{
		Use:   "calculate",
		Short: "Calculate and persist one user's score",
		RunE: func(cmd *cobra.Command, _ []string) error {
			day, err := parseDay(date)
			if err != nil {
				return err
			}
			cfg, log, err := root.load(cmd)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			shutdown, err := tracing.Init(ctx, cfg.OTLPEndpoint, Version, log)
			if err != nil {
				return fmt.Errorf("failed to init tracing: %w", err)
			}
			defer func() { _ = shutdown(ctx) }()

			return withService(ctx, cfg, log, func(svc *app.Service) error {
				score, err := svc.CalculateForUser(ctx, userID, day)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), score)
			})
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user ID (UUID)")
	cmd.Flags().StringVar(&date, "date", "", "target date YYYY-MM-DD (default today, UTC)")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func newCalculateAllCommand(root *rootOptions) *cobra.Command {
	var date string
	cmd := &cobra.Command{
		Use:   "calculate-all",
		Short: "Calculate and persist scores for every active user",
		RunE: func(cmd *cobra.Command, _ []string) error {
			day, err := parseDay(date)
			if err != nil {
				return err
			}
			cfg, log, err := root.load(cmd)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			shutdown, err := tracing.Init(ctx, cfg.OTLPEndpoint, Version, log)
			if err != nil {
				return fmt.Errorf("failed to init tracing: %w", err)
			}
			defer func() { _ = shutdown(ctx) }()

			return withService(ctx, cfg, log, func(svc *app.Service) error {
				res, err := svc.CalculateForAllUsers(ctx, day)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), res)
			})
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "target date YYYY-MM-DD (default today, UTC)")
	return cmd
}
