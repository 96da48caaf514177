package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/outposthq/outpost/internal/migrate"
	"github.com/outposthq/outpost/internal/netmon"
	"github.com/outposthq/outpost/internal/queue"
	"github.com/outposthq/outpost/internal/store"

	_ "github.com/outposthq/outpost/internal/store/jsondoc"
	_ "github.com/outposthq/outpost/internal/store/sqlite"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show local store and sync queue status",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		logger := newLogger(cfg, "[outpost] ")

		st, err := store.Open(cfg.Engine, cfg.EnginePath(cfg.Engine), logger)
		if err != nil {
			return err
		}
		defer st.Close()

		fmt.Printf("Engine:    %s\n", cfg.Engine)
		fmt.Printf("Data dir:  %s\n", cfg.DataDir)

		q := queue.New(st, logger)
		depth, err := q.Depth(cmd.Context(), "")
		if err != nil {
			return err
		}
		fmt.Printf("Queued:    %d mutation(s)\n", depth)

		items, err := q.List(cmd.Context(), "")
		if err != nil {
			return err
		}
		var failed int
		for _, item := range items {
			if item.Status == queue.StatusFailed {
				failed++
			}
		}
		if failed > 0 {
			fmt.Printf("Parked:    %d item(s) at the retry cap; run 'outpost queue requeue'\n", failed)
		}

		if probeURL := cfg.EffectiveProbeURL(); probeURL != "" {
			prober := netmon.NewHTTPProber(probeURL, 5*time.Second)
			probeCtx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
			latency, probeErr := prober.Probe(probeCtx)
			cancel()
			switch {
			case probeErr != nil:
				fmt.Printf("Network:   offline (%v)\n", probeErr)
			case latency < 500*time.Millisecond:
				fmt.Printf("Network:   online/good (%dms)\n", latency.Milliseconds())
			default:
				fmt.Printf("Network:   online/poor (%dms)\n", latency.Milliseconds())
			}
		}

		marker, err := migrate.ReadMarker(cfg.MarkerPath())
		if err != nil {
			return err
		}
		if marker.Completed {
			fmt.Printf("Migration: %s -> %s completed %s (%d records, %d failures)\n",
				marker.From, marker.To, marker.CompletedAt.Format(time.RFC3339),
				marker.Records, marker.Failures)
		} else if cfg.LegacyEngine != "" {
			fmt.Printf("Migration: %s -> %s pending\n", cfg.LegacyEngine, cfg.Engine)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
