// Package cmd implements the opportune command line.
package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/thebtf/opportune/internal/logging"
)

var (
	verbose    bool
	jsonOutput bool
)

var rootCmd = &cobra.Command{
	Use:   "opportune",
	Short: "Online emotion inference from physiological signals",
	Long: `opportune scores GSR and heart-rate streams while a viewer watches a video,
profiles the viewer on a calibration clip and predicts a valence/arousal class
every few seconds.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logging.Init(verbose, jsonOutput)
	},
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json-logs", false, "Write logs as JSON")
}
