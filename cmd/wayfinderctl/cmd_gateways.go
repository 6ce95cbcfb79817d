package main

import (
	"encoding/json"

	"github.com/spf13/cobra"
)

func newGatewaysCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "gateways",
		Short: "Inspect gateway pools and health state",
	}
	cmd.AddCommand(newGatewaysListCmd(), newGatewaysHealthCmd(), newGatewaysProbeCmd())
	return cmd
}

func newGatewaysListCmd() *cobra.Command {
	var routing bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the trusted or routing gateway pool",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, _, err := newEngine()
			if err != nil {
				return err
			}
			defer eng.Close()

			pool := eng.Pool().Trusted(cmd.Context())
			if routing {
				pool = eng.Pool().Routing(cmd.Context())
			}

			if opts.JSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(pool)
			}
			for _, gw := range pool {
				if gw.Stake > 0 {
					cmd.Printf("%s (stake %d)\n", gw.Origin, gw.Stake)
				} else {
					cmd.Println(gw.Origin)
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&routing, "routing", false, "list the routing pool instead of the trusted pool")
	return cmd
}

func newGatewaysHealthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Show currently blacklisted gateway hosts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, _, err := newEngine()
			if err != nil {
				return err
			}
			defer eng.Close()

			entries := eng.Health().Entries()
			if opts.JSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(entries)
			}
			if len(entries) == 0 {
				cmd.Println("all gateways healthy")
				return nil
			}
			for _, e := range entries {
				cmd.Printf("%s  until %s  (%s)\n",
					e.Hostname, e.ExpiresAt.Format("15:04:05"), e.Reason)
			}
			return nil
		},
	}
}

func newGatewaysProbeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "probe <content-id>",
		Short: "Find the first routing gateway that serves a content id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, _, err := newEngine()
			if err != nil {
				return err
			}
			defer eng.Close()

			origin, err := eng.SelectGateway(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			cmd.Println(origin)
			return nil
		},
	}
}
