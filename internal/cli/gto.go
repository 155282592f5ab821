package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newGTOCmd(v *viper.Viper) *cobra.Command {
	var (
		flags inputFlags
		site  string
		top   int
		out   string
	)
	cmd := &cobra.Command{
		Use:   "gto",
		Short: "Estimate game-theory-optimal exposure from simulated outcomes",
		Example: `  racesim gto --sample f1 -n 2000
  racesim gto --run-id 5f0c... --site draftkings`,
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
			res, summary, err := rt.service.EstimateGTO(cmd.Context(), sim, site)
			if err != nil {
				return err
			}
			if err := writeYAML(cmd.OutOrStdout(), summary); err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "PLAYER\tNAME\tPOS\tSALARY\tOPTIMAL\tEXPOSURE")
			for i, e := range res.Exposures {
				if top > 0 && i >= top {
					break
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%.1f%%\n", e.PlayerID, e.Name, e.Position, e.Salary, e.Count, e.Exposure*100)
			}
			if err := w.Flush(); err != nil {
				return err
			}
			return writeJSON(out, res)
		},
	}
	flags.register(cmd, true)
	cmd.Flags().StringVar(&site, "site", "", "site to optimize for (default is the run's site)")
	cmd.Flags().IntVar(&top, "top", 20, "exposures to print (0 = all)")
	cmd.Flags().StringVarP(&out, "out", "o", "", "write the full estimate as JSON to this file")
	return cmd
}
