package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func (a *app) newNetworksCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "networks",
		Short: "List the supported networks and whether an RPC endpoint is configured",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NETWORK\tCHAIN ID\tRPC\tSWAP\tVALID")
			for _, name := range a.networks.Names() {
				network, err := a.networks.Get(name)
				if err != nil {
					return err
				}
				valid := "yes"
				if err := network.Validate(); err != nil {
					valid = err.Error()
				}
				swap := "yes"
				if network.ValidateSwap() != nil {
					swap = "no approver"
				}
				rpc := "-"
				if a.cfg.RPC.Endpoint(name) != "" {
					rpc = "configured"
				}
				fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%s\n", name, network.ChainID, rpc, swap, valid)
			}
			return w.Flush()
		},
	}
}
