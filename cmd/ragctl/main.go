// Package main 是 ragctl 命令行工具的入口点。
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"cogni-rag-go/internal/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := cli.ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}
