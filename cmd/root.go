package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var cfgFile string
var verbose bool
var randomSeed int64
var monitorAddr string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "ptgibbs",
	Short: "Joint Gibbs sampling of CMB and point sources",
	Long: `ptgibbs samples point source parameters (position, beam shape and
per-frequency amplitude) jointly with the CMB from multi-frequency flat sky
maps. Among other features:

  - A conjugate gradient draw of the CMB and source amplitudes
  - A Metropolis draw of source positions and elliptical beams
  - Grouping of nearby sources so they are sampled together
  - Resumable per-source sample tables and FITS diagnostic dumps
`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "yaml config file with run and sampler settings")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose logging (default is much more parsimonious)")
	rootCmd.PersistentFlags().Int64VarP(&randomSeed, "seed", "r", 1, "Random seed to use")
	rootCmd.PersistentFlags().StringVar(&monitorAddr, "monitor", "", "Serve expvar progress on this address (e.g. :8000)")

	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newSummaryCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
