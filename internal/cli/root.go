// Package cli 实现 ragctl 命令行工具。
package cli

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	"cogni-rag-go/internal/bootstrap"
	"cogni-rag-go/internal/config"
	"cogni-rag-go/internal/service"
	"cogni-rag-go/pkg/log"
)

// Services 是命令需要的服务集合。Close 释放底层连接。
type Services struct {
	Ingest service.IngestService
	Query  service.QueryService
	Close  func() error
}

var (
	configPath string
	verbose    bool

	// 测试中替换为内存实现
	loadConfig   = config.Load
	loadServices = bootstrapServices
)

var rootCmd = &cobra.Command{
	Use:   "ragctl",
	Short: "Operate the cogni-rag retrieval pipeline",
	Long: `ragctl ingests the documents in the configured container into the vector index,
asks questions against it, and mints API tokens.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "./configs/config.yaml", "path to the YAML config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "write debug logs to stderr")
}

// ExecuteContext 运行根命令。ctx 被取消时正在执行的入库或问答会中止。
func ExecuteContext(ctx context.Context) error {
	defer log.Sync()
	return rootCmd.ExecuteContext(ctx)
}

// setup 加载配置并初始化日志。
func setup() (*config.Config, error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, err
	}
	level := cfg.Log.Level
	if verbose {
		level = "debug"
	}
	log.InitConsole(level)
	return cfg, nil
}

// withServices 组装服务，执行 fn 后关闭连接。
func withServices(cmd *cobra.Command, fn func(ctx context.Context, svc *Services) error) error {
	cfg, err := setup()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	svc, err := loadServices(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if svc.Close != nil {
			if cerr := svc.Close(); cerr != nil {
				log.Warnf("[CLI] 关闭连接失败: %v", cerr)
			}
		}
	}()
	return fn(ctx, svc)
}

func bootstrapServices(ctx context.Context, cfg *config.Config) (*Services, error) {
	app, err := bootstrap.New(ctx, cfg, bootstrap.Options{})
	if err != nil {
		return nil, err
	}
	return &Services{Ingest: app.IngestService, Query: app.QueryService, Close: app.Close}, nil
}

var errMissingFlag = errors.New("required flag not set")
