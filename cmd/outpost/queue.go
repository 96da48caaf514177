package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/outposthq/outpost/internal/queue"
	"github.com/outposthq/outpost/internal/store"

	_ "github.com/outposthq/outpost/internal/store/jsondoc"
	_ "github.com/outposthq/outpost/internal/store/sqlite"
)

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Inspect and manage the sync queue",
}

var queueListCmd = &cobra.Command{
	Use:   "list",
	Short: "List queued mutations",
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

		tenant, _ := cmd.Flags().GetString("tenant")
		items, err := queue.New(st, logger).List(cmd.Context(), tenant)
		if err != nil {
			return err
		}
		if len(items) == 0 {
			fmt.Println("Queue is empty")
			return nil
		}

		fmt.Printf("%-6s %-8s %-12s %-12s %-10s %-7s %s\n",
			"ID", "OP", "COLLECTION", "TENANT", "STATUS", "RETRIES", "CREATED")
		for _, item := range items {
			created := time.UnixMilli(item.CreatedAt).Format(time.RFC3339)
			fmt.Printf("%-6d %-8s %-12s %-12s %-10s %-7d %s\n",
				item.ID, item.Op, item.Collection, item.TenantID,
				item.Status, item.RetryCount, created)
			if item.LastError != "" {
				fmt.Printf("       last error: %s\n", item.LastError)
			}
		}
		return nil
	},
}

var queueRequeueCmd = &cobra.Command{
	Use:   "requeue <id>",
	Short: "Reset a parked item so the next drain retries it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid item id %q", args[0])
		}

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

		if err := queue.New(st, logger).Requeue(cmd.Context(), id); err != nil {
			return err
		}
		fmt.Printf("Item %d requeued\n", id)
		return nil
	},
}

func init() {
	queueListCmd.Flags().String("tenant", "", "filter by tenant id")
	queueCmd.AddCommand(queueListCmd)
	queueCmd.AddCommand(queueRequeueCmd)
	rootCmd.AddCommand(queueCmd)
}
