package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"Treasury-Rebalancer/pkg/logger"
)

// main 是再平衡工具的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := newRootCmd().ExecuteContext(ctx)
	_ = logger.Sync()
	if err != nil {
		fmt.Fprintf(os.Stderr, "treasuryd 运行失败: %v\n", err)
		stop()
		os.Exit(1)
	}
}
