// cmd/checkout-service/main.go
package main

import (
	"context"
	"flag"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	"sabzar/internal/pkg/bootstrap"
	"sabzar/internal/pkg/logger"
	"sabzar/internal/pkg/metrics"
	"sabzar/internal/pkg/tracing"
	"sabzar/internal/service/hold"
)

// main 函数是应用的"组装根" (Composition Root)
func main() {
	configPath := flag.String("config", getEnv("CONFIG_FILE", "configs/checkout-service.yaml"), "path to the YAML config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		log.Error().Err(err).Msg("checkout service exited with error")
		os.Exit(1)
	}
}

func run(configPath string) error {
	// 1. 配置 (本地文件 + 环境变量 + 可选的 Nacos 配置中心)
	cfg, nacosClient, err := bootstrap.LoadConfig(configPath)
	if err != nil {
		return err
	}
	if nacosClient != nil {
		defer nacosClient.Close()
	}
	logger.Init(cfg.App.ServiceName, cfg.App.LogLevel)

	// 2. 追踪
	tp, err := tracing.InitTracerProvider(cfg.App.ServiceName, cfg.Infra.Jaeger.Endpoint)
	if err != nil {
		return err
	}
	defer func() {
		if err := tp.Shutdown(context.Background()); err != nil {
			log.Error().Err(err).Msg("error shutting down tracer provider")
		}
	}()

	// 3. 业务依赖
	ctx := context.Background()
	container, err := hold.Build(ctx, cfg, metrics.NewHoldMetrics(prometheus.DefaultRegisterer))
	if err != nil {
		return err
	}
	defer container.Close()

	info := bootstrap.AppInfo{
		ServiceName: cfg.App.ServiceName,
		Port:        cfg.App.Port,
		Handler:     container.Handler(),
		Nacos:       nacosClient,
	}
	if cfg.App.Reaper.Enabled {
		info.Workers = append(info.Workers, container.Reaper)
	}

	log.Info().
		Str("ledger", cfg.App.LedgerBackend).
		Dur("hold_ttl", cfg.App.HoldTTL).
		Bool("reaper", cfg.App.Reaper.Enabled).
		Msg("✅ checkout service assembled")

	// 4. 启动并阻塞直到收到退出信号
	return bootstrap.StartService(info)
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}
