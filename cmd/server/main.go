// Package main 是 HTTP 服务的入口点。
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"cogni-rag-go/internal/bootstrap"
	"cogni-rag-go/internal/config"
	"cogni-rag-go/internal/handler"
	"cogni-rag-go/pkg/log"
)

func main() {
	configPath := flag.String("config", "./configs/config.yaml", "path to the YAML config file")
	flag.Parse()

	// 1. 初始化配置
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}

	// 2. 初始化日志记录器
	log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
	defer log.Sync()
	log.Info("日志记录器初始化成功")

	if cfg.JWT.Secret == "" {
		log.Fatalf("jwt.secret 不能为空")
	}

	// 3. 连接外部依赖并组装服务
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg, bootstrap.Options{Consumer: true})
	if err != nil {
		log.Fatal("初始化组件失败", err)
	}
	defer app.Close()

	var wg sync.WaitGroup

	// 4. 启动后台 Kafka 消费者
	if app.Consumer != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := app.Consumer.Run(ctx); err != nil {
				log.Error("Kafka 消费者异常退出", err)
			}
		}()
	}

	// 4.1 导入 seed_dir 中的文档，已存在则跳过
	if cfg.RAG.SeedDir != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := bootstrap.SeedDocuments(ctx, cfg.RAG.SeedDir, app.DocumentService); err != nil {
				log.Warnf("[Seed] 遍历目录发生错误: %v", err)
			}
		}()
	}

	// 5. 注册路由
	r := handler.NewRouter(cfg.Server.Mode, app.JWT,
		handler.NewRAGHandler(app.IngestService, app.QueryService, app.IndexService),
		handler.NewDocumentHandler(app.DocumentService),
	)

	// 启动 HTTP 服务器并实现优雅停机
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Server.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Infof("服务启动于 %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("HTTP 服务监听失败: %s", err)
		}
	}()

	// 等待中断信号以实现优雅停机
	<-ctx.Done()
	log.Info("接收到停机信号，正在关闭服务...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorf("HTTP 服务器关闭失败: %v", err)
	}

	// 消费者在 ctx 取消后退出，等待当前任务结束再关闭连接
	wg.Wait()
	log.Info("服务已优雅关闭")
}
