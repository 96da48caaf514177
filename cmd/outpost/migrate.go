package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/outposthq/outpost/internal/migrate"
	"github.com/outposthq/outpost/internal/record"
	"github.com/outposthq/outpost/internal/store"

	_ "github.com/outposthq/outpost/internal/store/jsondoc"
	_ "github.com/outposthq/outpost/internal/store/sqlite"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Migrate local data between storage engines",
	Long: `Copy all records and queued mutations from the legacy engine to the
configured engine. The migration runs at most once; a completion marker
makes repeated invocations no-ops.

Legacy data is kept after migration. Run with --cleanup to remove it
once the migrated data has been verified.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if cfg.LegacyEngine == "" {
			return fmt.Errorf("legacy_engine is not configured; nothing to migrate")
		}
		logger := newLogger(cfg, "[migrate] ")

		m, err := migrate.New(migrate.Config{
			From:       cfg.LegacyEngine,
			To:         cfg.Engine,
			MarkerPath: cfg.MarkerPath(),
			Logger:     logger,
		})
		if err != nil {
			return err
		}

		cleanup, _ := cmd.Flags().GetBool("cleanup")
		if cleanup {
			yes, _ := cmd.Flags().GetBool("yes")
			legacyPath := cfg.EnginePath(cfg.LegacyEngine)
			if !yes && !confirm(fmt.Sprintf("Remove legacy %s data at %s?", cfg.LegacyEngine, legacyPath)) {
				fmt.Println("Aborted")
				return nil
			}
			return m.CleanupLegacy(legacyPath)
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

		result, err := m.Run(cmd.Context(), from, to)
		if err != nil {
			return err
		}
		if result.Skipped {
			fmt.Println("Migration already completed; nothing to do")
			return nil
		}

		fmt.Printf("Migrated %d records and %d queue items (%d failures)\n",
			result.Records, result.QueueItems, result.Failures)
		for _, c := range sortedCollections(result) {
			fmt.Printf("  %-12s %d\n", c, result.PerCollection[c])
		}
		if result.Failures > 0 {
			fmt.Println("Some data failed to migrate; legacy data was kept. See the logs.")
		}
		return nil
	},
}

// sortedCollections returns the migrated collections in migration order.
func sortedCollections(result *migrate.Result) []record.Collection {
	out := make([]record.Collection, 0, len(result.PerCollection))
	for _, c := range record.Collections() {
		if _, ok := result.PerCollection[c]; ok {
			out = append(out, c)
		}
	}
	return out
}

func confirm(prompt string) bool {
	fmt.Printf("%s [y/N]: ", prompt)
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}

func init() {
	migrateCmd.Flags().Bool("cleanup", false, "remove legacy engine data after a completed migration")
	migrateCmd.Flags().Bool("yes", false, "skip the cleanup confirmation prompt")
	rootCmd.AddCommand(migrateCmd)
}
