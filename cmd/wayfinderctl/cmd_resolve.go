package main

import (
	"context"
	"encoding/json"

	"github.com/spf13/cobra"
)

func newResolveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resolve <identifier>",
		Short: "Resolve a name or content id against the trusted gateway set",
		Long: `Resolve an identifier to a content id.

A 43-character content id resolves to itself without network traffic.
Anything else is probed in parallel against every healthy trusted gateway;
the resolution succeeds only when all responding gateways agree on a single
content id.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, cfg, err := newEngine()
			if err != nil {
				return err
			}
			defer eng.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Verification.ResolveTimeout())
			defer cancel()

			res, err := eng.Resolve(ctx, args[0])
			if err != nil {
				return err
			}

			if opts.JSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(map[string]any{
					"identifier":     res.Identifier,
					"content_id":     res.ContentID,
					"routing_origin": res.RoutingOrigin,
					"direct":         res.Direct,
				})
			}

			cmd.Printf("content id:     %s\n", res.ContentID)
			if res.Direct {
				cmd.Println("resolution:     direct (identifier is a content id)")
			} else {
				cmd.Printf("routing origin: %s\n", res.RoutingOrigin)
			}
			return nil
		},
	}
	return cmd
}
