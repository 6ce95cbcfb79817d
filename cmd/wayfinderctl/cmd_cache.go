package main

import (
	"encoding/json"

	"github.com/spf13/cobra"
)

func newCacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect the verified-resource cache",
	}
	cmd.AddCommand(newCacheStatsCmd())
	return cmd
}

func newCacheStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show cache occupancy",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, cfg, err := newEngine()
			if err != nil {
				return err
			}
			defer eng.Close()

			stats := eng.Cache().Stats()
			if opts.JSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(map[string]any{
					"resources":   stats.Count,
					"total_bytes": stats.TotalBytes,
					"max_bytes":   cfg.Cache.MaxSizeBytes,
				})
			}
			cmd.Printf("resources:   %d\n", stats.Count)
			cmd.Printf("total bytes: %d\n", stats.TotalBytes)
			cmd.Printf("max bytes:   %d\n", cfg.Cache.MaxSizeBytes)
			return nil
		},
	}
}
