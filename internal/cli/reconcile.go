package cli

import (
	"github.com/spf13/cobra"

	"live-session-service/internal/config"
)

// NewReconcileCmd closes every question whose deadline passed while no
// process was running its timer.
func NewReconcileCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Close overdue questions and broadcast their results",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			logger := newLogger(cfg.Log.Level, cfg.Log.Format)

			deps, err := buildDeps(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer deps.close()

			n, err := deps.service.CloseDueQuestions(cmd.Context())
			if err != nil {
				return err
			}
			logger.Info("reconcile finished", "closed", n)
			return nil
		},
	}
}
