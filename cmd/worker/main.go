package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"replyhub/backend/internal/app"
	"replyhub/backend/internal/config"
	"replyhub/backend/internal/logger"
)

// main 是独立 worker 进程的入口：只消费队列，不接收 webhook。
// 只开放健康检查与指标端口，供编排系统探活和采集。
func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	if cfg.Queue.Mode != config.QueueModeRedis {
		panic(fmt.Sprintf("worker requires queue mode %q, got %q", config.QueueModeRedis, cfg.Queue.Mode))
	}

	log, err := logger.NewLogger(logger.FromConfig(cfg.Log))
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer log.Sync()
	log.Info("starting replyhub worker",
		zap.Int("workers", cfg.Queue.Workers),
		zap.Int("max_attempts", cfg.Queue.MaxAttempts),
	)

	a, err := app.New(cfg, log)
	if err != nil {
		log.Fatal("failed to initialize application", zap.Error(err))
	}
	defer a.Close()

	gin.SetMode(gin.ReleaseMode)
	probe := gin.New()
	probe.Use(gin.Recovery())
	probe.GET("/health/live", gin.WrapF(a.Health.LiveHandler()))
	probe.GET("/health/ready", gin.WrapF(a.Health.ReadyHandler()))
	probe.GET("/metrics", gin.WrapH(a.Metrics.HTTPHandler()))

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	probeServer := &http.Server{
		Addr:              addr,
		Handler:           probe,
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, groupCtx := errgroup.WithContext(ctx)

	wp := a.WorkerPool()
	group.Go(func() error {
		wp.Start(groupCtx)
		<-groupCtx.Done()
		log.Info("shutdown signal received, draining workers...")
		wp.Stop()
		return nil
	})

	group.Go(func() error {
		return a.RunMaintenance(groupCtx)
	})

	group.Go(func() error {
		log.Info("probe server listening", zap.String("address", addr))
		if err := probeServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return probeServer.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil && err != context.Canceled {
		log.Error("worker error", zap.Error(err))
		return
	}
	log.Info("worker exited cleanly")
}
