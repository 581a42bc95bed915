package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"Treasury-Rebalancer/internal/config"
	"Treasury-Rebalancer/sdk/go/treasury"
)

// newSubmitCmd 通过 REST 接口向正在运行的 serve 实例提交一次运行。
func (a *app) newSubmitCmd() *cobra.Command {
	var (
		server  string
		mode    string
		id      string
		wait    bool
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Queue a run on a running treasuryd serve instance",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if server == "" {
				server = serverURL(a.cfg.Server.Address)
			}
			client, err := treasury.NewClient(server, nil)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			run, err := client.SubmitRun(ctx, treasury.RunSubmission{ID: id, Network: a.cfg.Network, Mode: mode})
			if err != nil {
				return err
			}
			if wait {
				if timeout > 0 {
					var cancel context.CancelFunc
					ctx, cancel = context.WithTimeout(ctx, timeout)
					defer cancel()
				}
				if run, err = client.WaitForRun(ctx, run.ID, time.Second); err != nil {
					return fmt.Errorf("等待运行 %s 结束失败: %w", run.ID, err)
				}
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(run); err != nil {
				return err
			}
			if run.Status == "failed" {
				return fmt.Errorf("运行 %s 失败: %s", run.ID, run.LastError)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&server, "server", "", "Base URL of the serve instance, defaults to server.address")
	cmd.Flags().StringVar(&mode, "mode", string(config.ModeSimulate), "Run mode: simulate or relay")
	cmd.Flags().StringVar(&id, "id", "", "Idempotency key for the run")
	cmd.Flags().BoolVar(&wait, "wait", false, "Poll until the run finishes")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Minute, "Give up waiting after this long")
	return cmd
}

// serverURL 把监听地址转换为本机可访问的基础 URL。
func serverURL(addr string) string {
	addr = strings.TrimSpace(addr)
	if strings.HasPrefix(addr, "http://") || strings.HasPrefix(addr, "https://") {
		return addr
	}
	if strings.HasPrefix(addr, ":") {
		addr = "127.0.0.1" + addr
	}
	return "http://" + addr
}
