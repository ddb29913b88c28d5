// internal/pkg/bootstrap/app.go
package bootstrap

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"sabzar/internal/pkg/logger"
	"sabzar/internal/pkg/nacos"
)

const shutdownTimeout = 10 * time.Second

// Worker 是随服务一起启动和停止的后台任务，例如过期扫描器。
type Worker interface {
	Start(ctx context.Context)
	Stop()
}

// AppInfo 包含了启动一个微服务所需的所有特定信息。
type AppInfo struct {
	ServiceName string
	Port        int
	Handler     http.Handler
	// Nacos 不为空时把实例注册到 Nacos，关停时注销
	Nacos   *nacos.Client
	Workers []Worker
}

// StartService 封装了服务的通用启动和优雅关停逻辑，收到 SIGINT/SIGTERM 后返回。
func StartService(info AppInfo) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return Run(ctx, info)
}

// Run 启动 HTTP 服务和后台任务，直到 ctx 被取消或服务出错。
func Run(ctx context.Context, info AppInfo) error {
	log := logger.Ctx(ctx)

	lis, err := net.Listen("tcp", ":"+strconv.Itoa(info.Port))
	if err != nil {
		return err
	}
	server := &http.Server{Handler: info.Handler, ReadHeaderTimeout: 10 * time.Second}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", lis.Addr().String()).Msgf("🚀 %s listening", info.ServiceName)
		if err := server.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	for _, w := range info.Workers {
		w.Start(gctx)
	}

	var ip string
	if info.Nacos != nil {
		if ip, err = GetOutboundIP(); err != nil {
			log.Error().Err(err).Msg("failed to get outbound IP, skipping nacos registration")
		} else if err := info.Nacos.RegisterServiceInstance(info.ServiceName, ip, info.Port); err != nil {
			log.Error().Err(err).Msg("failed to register with nacos")
			ip = ""
		}
	}

	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msgf("Shutting down service %s...", info.ServiceName)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		// 先从注册中心摘除，再停后台任务和 HTTP 服务
		if ip != "" {
			if err := info.Nacos.DeregisterServiceInstance(info.ServiceName, ip, info.Port); err != nil {
				log.Error().Err(err).Msg("error deregistering from nacos")
			}
		}
		for i := len(info.Workers) - 1; i >= 0; i-- {
			info.Workers[i].Stop()
		}
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("error shutting down http server")
			return err
		}
		log.Info().Msgf("Service %s gracefully shut down.", info.ServiceName)
		return nil
	})

	return g.Wait()
}
