package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/stitts-dev/race-sim/internal/services"
)

func newMigrateCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "performs database migration",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime(cmd, v, runtimeOptions{persist: true})
			if err != nil {
				return err
			}
			defer rt.Close()
			fmt.Fprintln(cmd.OutOrStdout(), "Database schema is up to date")
			return nil
		},
	}
}

func newPruneCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "prune",
		Short: "Delete stored runs older than RUN_RETENTION",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime(cmd, v, runtimeOptions{persist: true})
			if err != nil {
				return err
			}
			defer rt.Close()

			retention := services.NewRetentionService(rt.repo, rt.cache, rt.log, rt.cfg.RetentionSchedule, rt.cfg.RunRetention)
			n, err := retention.Prune(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d runs older than %s\n", n, rt.cfg.RunRetention)
			return nil
		},
	}
}
