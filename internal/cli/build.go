package cli

import (
	"fmt"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/stitts-dev/race-sim/internal/lineup"
)

func newBuildCmd(v *viper.Viper) *cobra.Command {
	var (
		flags       inputFlags
		cfg         lineup.BuildConfig
		site        string
		out         string
		minExposure map[string]string
	)
	cmd := &cobra.Command{
		Use:   "build",
		Short: "Build, simulate and rank DFS lineups",
		Example: `  racesim build --sample nascar --lineups 20 --optimize-by 75
  racesim build --run-id 5f0c... --lineups 150 --multiplier 3 --clean-by 90`,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime(cmd, v, flags.runtimeOptions())
			if err != nil {
				return err
			}
			defer rt.Close()

			if cfg.PlayerExposures, err = exposureLimits(minExposure); err != nil {
				return err
			}
			sim, err := flags.simulation(cmd.Context(), rt, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			res, summary, err := rt.service.BuildLineups(cmd.Context(), sim, site, cfg)
			if err != nil {
				return err
			}
			if err := writeYAML(cmd.OutOrStdout(), summary); err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "#\tPLAYERS\tSALARY\tMEDIAN\tS75\tS90\tRANK50\tRANK25\tRANK10\tDUP")
			for i, c := range res.Candidates {
				ids := make([]string, len(c.Players))
				for k, p := range c.Players {
					ids[k] = p.ID
				}
				fmt.Fprintf(w, "%d\t%s\t%d\t%.2f\t%.2f\t%.2f\t%.0f\t%.0f\t%.0f\t%d\n",
					i+1, strings.Join(ids, ","), c.TotalSalary, c.Median, c.P75, c.P90,
					c.RankMedian, c.RankS75, c.RankS90, c.Duplicated)
			}
			if err := w.Flush(); err != nil {
				return err
			}
			return writeJSON(out, res)
		},
	}
	flags.register(cmd, true)
	cmd.Flags().StringVar(&site, "site", "", "site to build for (default is the run's site)")
	cmd.Flags().IntVar(&cfg.TotalLineups, "lineups", 20, "lineups to keep")
	cmd.Flags().IntVar(&cfg.OptimizeByPercentile, "optimize-by", 0, "optimize projections at this percentile (0 = random build)")
	cmd.Flags().IntVar(&cfg.LineupMultiplier, "multiplier", 1, "build lineups*multiplier and keep the best")
	cmd.Flags().IntVar(&cfg.DuplicateThreshold, "dup-threshold", 0, "drop lineups built more than this many times (0 = keep all)")
	cmd.Flags().IntVar(&cfg.Uniques, "uniques", 0, "players each lineup must not share with earlier ones")
	cmd.Flags().IntVar(&cfg.MinSalary, "min-salary", 0, "minimum total salary")
	cmd.Flags().Float64Var(&cfg.Randomness, "randomness", 0, "projection jitter for the optimizer (0..1)")
	cmd.Flags().Float64Var(&cfg.MaxExposure, "max-exposure", 0, "per-player exposure cap for the optimizer (0..1)")
	cmd.Flags().StringToStringVar(&minExposure, "min-exposure", nil, "minimum exposure per player ID, e.g. d03=0.4 (reported, not enforced)")
	cmd.Flags().IntVar(&cfg.CleanByPercentile, "clean-by", 50, "ranking percentile: 50, 75 or 90")
	cmd.Flags().Uint64Var(&cfg.Seed, "build-seed", 0, "seed for random build and jitter")
	cmd.Flags().StringVarP(&out, "out", "o", "", "write the lineups as JSON to this file")
	return cmd
}

func exposureLimits(minimums map[string]string) (map[string]lineup.ExposureLimit, error) {
	if len(minimums) == 0 {
		return nil, nil
	}
	out := make(map[string]lineup.ExposureLimit, len(minimums))
	for id, raw := range minimums {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil || v <= 0 || v > 1 {
			return nil, fmt.Errorf("--min-exposure %s=%s: want a fraction in (0, 1]", id, raw)
		}
		out[id] = lineup.ExposureLimit{Min: v}
	}
	return out, nil
}
