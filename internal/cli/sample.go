package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/stitts-dev/race-sim/internal/profile"
)

// newSampleCmd writes a sample race input to use as a template.
func newSampleCmd() *cobra.Command {
	var (
		drivers int
		out     string
	)
	cmd := &cobra.Command{
		Use:       "sample nascar|f1",
		Short:     "Print a sample race input as YAML",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"nascar", "f1"},
		RunE: func(cmd *cobra.Command, args []string) error {
			var in *profile.RaceInput
			switch args[0] {
			case "nascar":
				in = profile.SampleNascar(drivers)
			case "f1":
				in = profile.SampleF1()
			}

			w := cmd.OutOrStdout()
			if out != "" {
				f, err := os.Create(out)
				if err != nil {
					return fmt.Errorf("failed to create %s: %w", out, err)
				}
				defer f.Close()
				w = f
			}
			return profile.Write(w, in)
		},
	}
	cmd.Flags().IntVar(&drivers, "drivers", 36, "NASCAR field size")
	cmd.Flags().StringVarP(&out, "out", "o", "", "write to this file instead of stdout")
	return cmd
}
