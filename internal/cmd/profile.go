package cmd

import (
	json "github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/thebtf/opportune/internal/changepoint"
	"github.com/thebtf/opportune/internal/logging"
	"github.com/thebtf/opportune/internal/profile"
	"github.com/thebtf/opportune/internal/signal"
)

var (
	profileCSV      string
	profileStart    int64
	profileDuration int64
	profileUser     string
)

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Assign a user to a population cluster from a calibration segment",
	RunE:  runProfile,
}

func init() {
	rootCmd.AddCommand(profileCmd)

	profileCmd.Flags().StringVar(&profileCSV, "csv", "", "Signal CSV log (required)")
	profileCmd.Flags().Int64Var(&profileStart, "start", 0, "Calibration video start, epoch ms")
	profileCmd.Flags().Int64Var(&profileDuration, "duration", 180000, "Calibration video length, ms")
	profileCmd.Flags().StringVar(&profileUser, "user", "anonymous", "User id recorded on the profile")
	_ = profileCmd.MarkFlagRequired("csv")
}

func runProfile(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	end := profileStart + profileDuration

	segment, err := signal.NewExtractor(signal.NewCSVSource(profileCSV)).Extract(ctx, profileStart, end, 0)
	if err != nil {
		return err
	}

	p := profile.New(changepoint.NewScorer(changepoint.DefaultWindowSize), logging.WithComponent("profile"))
	res := p.Profile(ctx, profileUser, profileStart, segment)

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(res.Profile)
}
