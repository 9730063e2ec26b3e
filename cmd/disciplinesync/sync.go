package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/discipline-sync/internal/app"
	"github.com/JakeFAU/discipline-sync/internal/catalog"
)

func newSyncCmd() *cobra.Command {
	var printSummary bool
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run one synchronization and exit",
		Long: `Runs a single blocking synchronization. The command fails when the run
could not authenticate or enumerate the portal, or when it was interrupted.
A partial run, where only some disciplines failed, exits successfully.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			rt, err := resolveRuntime(ctx)
			if err != nil {
				return err
			}
			a, err := app.New(ctx, rt.cfg, rt.logger)
			if err != nil {
				return fmt.Errorf("initialize services: %w", err)
			}
			defer a.Close()

			run, runErr := a.Orchestrator.Run(ctx)
			if run != nil && printSummary {
				out, err := json.MarshalIndent(run, "", "  ")
				if err == nil {
					fmt.Fprintln(cmd.OutOrStdout(), string(out))
				}
			}
			if runErr != nil {
				return fmt.Errorf("synchronization failed: %w", runErr)
			}
			if run != nil && (run.Status == catalog.RunFailed || run.Status == catalog.RunCanceled) {
				return fmt.Errorf("synchronization %s ended with status %s", run.ID, run.Status)
			}
			if run != nil {
				rt.logger.Info("synchronization finished",
					zap.String("run_id", run.ID),
					zap.String("status", string(run.Status)),
					zap.Int("failed", run.Failed),
				)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&printSummary, "summary", false, "print the run summary as JSON")
	return cmd
}
