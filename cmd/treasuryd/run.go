package main

import (
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/spf13/cobra"

	"Treasury-Rebalancer/internal/config"
	"Treasury-Rebalancer/internal/rebalancer"
)

type batchOutput struct {
	*rebalancer.Result
	To        string `json:"to,omitempty"`
	Data      string `json:"data,omitempty"`
	MultiSend string `json:"multisend_data,omitempty"`
}

func (a *app) newRunCmd(mode config.Mode, short string) *cobra.Command {
	return &cobra.Command{
		Use:   string(mode),
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			res, err := a.execute(cmd.Context(), a.cfg.Network, mode)
			if res != nil {
				out := batchOutput{Result: res}
				if res.Batch != nil {
					out.To = res.Batch.To.Hex()
					out.Data = hexutil.Encode(res.Batch.Calldata)
					out.MultiSend = hexutil.Encode(res.Batch.MultiSendData)
				}
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				if encErr := enc.Encode(out); encErr != nil {
					return fmt.Errorf("输出结果失败: %w", encErr)
				}
			}
			return err
		},
	}
}
