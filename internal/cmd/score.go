package cmd

import (
	"errors"

	json "github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/thebtf/opportune/internal/changepoint"
	"github.com/thebtf/opportune/internal/signal"
)

var (
	scoreCSV    string
	scoreStart  int64
	scoreEnd    int64
	scoreWindow int
)

var scoreCmd = &cobra.Command{
	Use:   "score",
	Short: "Score a signal log segment for change points",
	Long: `Extract [start, end] from a signal CSV log and print one change-point
score record per line as JSON.`,
	RunE: runScore,
}

func init() {
	rootCmd.AddCommand(scoreCmd)

	scoreCmd.Flags().StringVar(&scoreCSV, "csv", "", "Signal CSV log (required)")
	scoreCmd.Flags().Int64Var(&scoreStart, "start", 0, "Segment start, epoch ms")
	scoreCmd.Flags().Int64Var(&scoreEnd, "end", 0, "Segment end, epoch ms")
	scoreCmd.Flags().IntVarP(&scoreWindow, "window", "w", changepoint.DefaultWindowSize, "Samples per window")
	_ = scoreCmd.MarkFlagRequired("csv")
}

func runScore(cmd *cobra.Command, args []string) error {
	if scoreEnd < scoreStart {
		return errors.New("--end must not be before --start")
	}
	ctx := cmd.Context()

	segment, err := signal.NewExtractor(signal.NewCSVSource(scoreCSV)).Extract(ctx, scoreStart, scoreEnd, 0)
	if err != nil {
		return err
	}
	records, err := changepoint.NewScorer(scoreWindow).Score(ctx, scoreStart, segment)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	for _, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return err
		}
	}
	return nil
}
