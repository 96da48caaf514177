package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/outposthq/outpost/internal/config"
	"github.com/outposthq/outpost/internal/dashboard"
	"github.com/outposthq/outpost/internal/migrate"
	"github.com/outposthq/outpost/internal/netmon"
	"github.com/outposthq/outpost/internal/queue"
	"github.com/outposthq/outpost/internal/remote"
	"github.com/outposthq/outpost/internal/store"
	"github.com/outposthq/outpost/internal/syncer"

	// Storage engines register themselves on import.
	_ "github.com/outposthq/outpost/internal/store/jsondoc"
	_ "github.com/outposthq/outpost/internal/store/sqlite"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the local store and sync daemon",
	Long: `Open the local store, recover the sync queue, and keep draining
queued mutations to the remote service while connectivity allows.

If legacy_engine is configured and the one-time engine migration has not
completed yet, it runs before the daemon starts.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		logger := newLogger(cfg, "[outpost] ")

		// Pending engine migration runs before anything opens the target
		// store for normal work.
		if cfg.LegacyEngine != "" {
			if err := runMigration(cmd.Context(), cfg, logger); err != nil {
				return err
			}
		}

		st, err := store.Open(cfg.Engine, cfg.EnginePath(cfg.Engine), logger)
		if err != nil {
			return err
		}
		defer st.Close()
		logger.Printf("Store open: engine=%s path=%s", cfg.Engine, cfg.EnginePath(cfg.Engine))

		var mon *netmon.Monitor
		if probeURL := cfg.EffectiveProbeURL(); probeURL != "" {
			mon, err = netmon.New(&netmon.Config{
				Prober:        netmon.NewHTTPProber(probeURL, 5*time.Second),
				ProbeInterval: cfg.ProbeInterval,
				Logger:        logger,
			})
			if err != nil {
				return err
			}
			defer mon.Dispose()
		} else {
			logger.Printf("No probe target configured; connectivity gating disabled")
		}

		if cfg.RemoteURL == "" {
			return fmt.Errorf("remote_url is required to run the sync daemon")
		}
		client := remote.NewClient(cfg.RemoteURL, cfg.RemoteToken, cfg.RemoteTimeout)

		q := queue.New(st, logger)
		mgr, err := syncer.New(&syncer.Config{
			Queue:            q,
			Handlers:         syncer.DefaultHandlers(client, st),
			Monitor:          mon,
			DebounceInterval: cfg.DebounceInterval,
			SyncInterval:     cfg.SyncInterval,
			Logger:           logger,
		})
		if err != nil {
			return err
		}
		defer mgr.Dispose()

		if cfg.DashboardPort > 0 {
			srv := dashboard.NewServer(&dashboard.Config{
				Port:   cfg.DashboardPort,
				Logger: logger,
			})
			if err := srv.Start(); err != nil {
				return err
			}
			srv.Attach(mgr, mon)
			defer func() {
				if err := srv.Stop(); err != nil {
					logger.Printf("Dashboard shutdown error: %v", err)
				}
			}()
		}

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		logger.Printf("Sync daemon running; press Ctrl+C to stop")
		<-ctx.Done()
		logger.Printf("Shutting down")
		return nil
	},
}

// runMigration performs the one-time engine migration when it has not
// completed yet. A completed marker makes this a cheap no-op.
func runMigration(ctx context.Context, cfg *config.Config, logger *log.Logger) error {
	marker, err := migrate.ReadMarker(cfg.MarkerPath())
	if err != nil {
		return err
	}
	if marker.Completed {
		return nil
	}

	m, err := migrate.New(migrate.Config{
		From:       cfg.LegacyEngine,
		To:         cfg.Engine,
		MarkerPath: cfg.MarkerPath(),
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	from, err := store.Open(cfg.LegacyEngine, cfg.EnginePath(cfg.LegacyEngine), logger)
	if err != nil {
		return fmt.Errorf("failed to open legacy store: %w", err)
	}
	defer from.Close()

	to, err := store.Open(cfg.Engine, cfg.EnginePath(cfg.Engine), logger)
	if err != nil {
		return fmt.Errorf("failed to open target store: %w", err)
	}
	defer to.Close()

	_, err = m.Run(ctx, from, to)
	return err
}

func init() {
	rootCmd.AddCommand(runCmd)
}
