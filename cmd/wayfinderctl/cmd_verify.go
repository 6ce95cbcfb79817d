package main

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/spf13/cobra"

	"wayfinder/internal/events"
	"wayfinder/internal/runstate"
)

func newVerifyCmd() *cobra.Command {
	var waitTimeout time.Duration
	var quiet bool

	cmd := &cobra.Command{
		Use:   "verify <identifier>",
		Short: "Fetch and verify an identifier's manifest and every resource",
		Long: `Run a full verification: resolve the identifier, fetch and verify its
manifest, then fetch and verify every resource the manifest references.
Exits non-zero unless every resource verified.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, _, err := newEngine()
			if err != nil {
				return err
			}
			defer eng.Close()

			if !quiet && !opts.JSON {
				unsub := eng.Subscribe(func(ev events.Event) {
					switch ev.Type {
					case events.TypeManifestLoaded:
						cmd.Printf("manifest loaded: %d resources\n", ev.Total)
					case events.TypeVerificationProgress:
						cmd.Printf("verified %d/%d\n", ev.Current, ev.Total)
					}
				})
				defer unsub()
			}

			eng.Start(cmd.Context(), args[0])
			snap, err := eng.Wait(cmd.Context(), args[0], waitTimeout)
			if err != nil {
				if errors.Is(err, runstate.ErrVerificationTimeout) {
					return errors.New("verification did not settle before the wait timeout")
				}
				return err
			}

			if opts.JSON {
				return printSnapshotJSON(cmd, snap)
			}
			printSnapshot(cmd, snap)

			if snap.Status != runstate.StatusComplete {
				return errors.New("verification incomplete")
			}
			return nil
		},
	}

	cmd.Flags().DurationVar(&waitTimeout, "wait-timeout", 0, "how long to wait for the run to settle (0 = configured default)")
	cmd.Flags().BoolVar(&quiet, "quiet", false, "suppress progress output")

	return cmd
}

func printSnapshot(cmd *cobra.Command, snap runstate.Snapshot) {
	cmd.Printf("identifier: %s\n", snap.Identifier)
	cmd.Printf("content id: %s\n", snap.ContentID)
	cmd.Printf("status:     %s\n", snap.Status)
	cmd.Printf("verified:   %d/%d\n", snap.VerifiedCount, snap.TotalResources)
	if len(snap.FailedIDs) > 0 {
		cmd.Println("failed:")
		for _, id := range snap.FailedIDs {
			cmd.Printf("  %s\n", id)
		}
	}
	if snap.Err != nil {
		cmd.Printf("error:      %v\n", snap.Err)
	}
}

func printSnapshotJSON(cmd *cobra.Command, snap runstate.Snapshot) error {
	out := map[string]any{
		"identifier":      snap.Identifier,
		"content_id":      snap.ContentID,
		"status":          snap.Status,
		"total_resources": snap.TotalResources,
		"verified_count":  snap.VerifiedCount,
		"failed_ids":      snap.FailedIDs,
	}
	if snap.Err != nil {
		out["error"] = snap.Err.Error()
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
