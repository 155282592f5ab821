package cli

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newSimulateCmd(v *viper.Viper) *cobra.Command {
	var (
		flags inputFlags
		out   string
	)
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Simulate a race and score every iteration",
		Example: `  racesim simulate --sample nascar -n 10000
  racesim simulate -i daytona.yaml --persist --out run.json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime(cmd, v, flags.runtimeOptions())
			if err != nil {
				return err
			}
			defer rt.Close()

			sim, err := flags.simulation(cmd.Context(), rt, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			return writeJSON(out, sim.Run)
		},
	}
	flags.register(cmd, false)
	cmd.Flags().StringVarP(&out, "out", "o", "", "write the full run as JSON to this file")
	return cmd
}
