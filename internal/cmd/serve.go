package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/thebtf/opportune/internal/config"
	"github.com/thebtf/opportune/internal/worker"
)

const shutdownTimeout = 10 * time.Second

var (
	servePort     int
	serveWatchDir string
	serveSignals  string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the worker HTTP service",
	Long: `Run the worker: the video start/stop API, the query API, live events on
/api/events and, when a watch directory is set, the drop-folder trigger.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "Listen port (overrides settings)")
	serveCmd.Flags().StringVar(&serveWatchDir, "watch", "", "Drop folder for video start files")
	serveCmd.Flags().StringVar(&serveSignals, "signals", "", "Read signals from this CSV log instead of the store")
}

func runServe(cmd *cobra.Command, args []string) error {
	if err := config.EnsureAll(); err != nil {
		log.Warn().Err(err).Msg("Failed to ensure data directory")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Warn().Err(err).Msg("Failed to load config, using defaults")
		cfg = config.Default()
	}
	if servePort > 0 {
		cfg.WorkerPort = servePort
	}
	if serveWatchDir != "" {
		cfg.WatchDir = serveWatchDir
	}
	if serveSignals != "" {
		cfg.SignalLog = serveSignals
	}

	svc, err := worker.NewService(Version, cfg)
	if err != nil {
		return err
	}
	if err := svc.Start(); err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Info().Msg("Shutting down worker")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return svc.Shutdown(ctx)
}
