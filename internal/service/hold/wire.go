// internal/service/hold/wire.go
package hold

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"gorm.io/gorm"

	"sabzar/internal/pkg/config"
	"sabzar/internal/pkg/httpclient"
	"sabzar/internal/pkg/logger"
	"sabzar/internal/pkg/metrics"
	"sabzar/internal/pkg/mq"
	"sabzar/internal/pkg/redis"
	"sabzar/internal/pkg/zookeeper"
	"sabzar/internal/service/hold/application"
	"sabzar/internal/service/hold/domain"
	"sabzar/internal/service/hold/domain/port"
	"sabzar/internal/service/hold/infrastructure"
	"sabzar/internal/service/hold/infrastructure/adapter"
	"sabzar/internal/service/hold/interfaces"
)

const sweepLockResource = "hold-expiry-sweep"

// Ledger 是库存账本加上运维接口，MySQL 和 Redis 两种实现都满足。
type Ledger interface {
	domain.StockLedger
	domain.StockAdmin
	Level(ctx context.Context, productID string) (domain.StockLevel, error)
}

// Container 持有一个结账服务实例的全部依赖。
type Container struct {
	Config *config.Config

	DB       *gorm.DB
	Repo     domain.HoldRepository
	Ledger   Ledger
	Catalog  *infrastructure.GormCatalog
	Holds    *application.HoldService
	Payments *application.PaymentService
	Reaper   *application.ExpiryReaper

	closers []io.Closer
}

// Build 按配置组装依赖。m 为 nil 时不导出指标 (命令行工具使用)。
func Build(ctx context.Context, cfg *config.Config, m *metrics.HoldMetrics) (*Container, error) {
	c := &Container{Config: cfg}
	ok := false
	defer func() {
		if !ok {
			c.Close()
		}
	}()

	db, err := infrastructure.OpenMySQL(cfg.Infra.MySQL)
	if err != nil {
		return nil, err
	}
	c.DB = db
	if sqlDB, err := db.DB(); err == nil {
		c.closers = append(c.closers, sqlDB)
	}
	if cfg.Infra.MySQL.AutoMigrate {
		if err := infrastructure.Migrate(db); err != nil {
			return nil, err
		}
	}
	c.Repo = infrastructure.NewGormHoldRepository(db)
	c.Catalog = infrastructure.NewGormCatalog(db)

	if c.Ledger, err = c.buildLedger(ctx, cfg); err != nil {
		return nil, err
	}

	var events port.EventPublisher
	if len(cfg.Infra.Kafka.Brokers) > 0 && cfg.Infra.Kafka.HoldEventsTopic != "" {
		writer := mq.NewKafkaWriter(cfg.Infra.Kafka.Brokers, cfg.Infra.Kafka.HoldEventsTopic)
		c.closers = append(c.closers, writer)
		events = adapter.NewEventKafkaAdapter(writer)
	}

	opts := []application.Option{
		application.WithMetrics(m),
		application.WithTracer(otel.Tracer(cfg.App.ServiceName)),
		application.WithTTLSource(currentHoldTTL),
	}
	if events != nil {
		opts = append(opts, application.WithEventPublisher(events))
	}
	if len(cfg.App.Policy.LineRules) > 0 || len(cfg.App.Policy.HoldRules) > 0 {
		policy, err := adapter.NewCELPolicyAdapter(cfg.App.Policy.LineRules, cfg.App.Policy.HoldRules)
		if err != nil {
			return nil, err
		}
		opts = append(opts, application.WithPurchasePolicy(policy))
	}
	c.Holds = application.NewHoldService(c.Repo, c.Ledger, c.Catalog, cfg.App.HoldTTL, cfg.App.Currency, opts...)

	gw := cfg.App.Gateway
	client := httpclient.NewClient(otel.Tracer("razorpay-client"), gw.Timeout)
	c.Payments = application.NewPaymentService(c.Holds, c.Repo,
		adapter.NewRazorpayHTTPAdapter(client, gw.BaseURL, gw.KeyID, gw.KeySecret),
		events,
		application.PaymentConfig{
			KeyID:          gw.KeyID,
			KeySecret:      gw.KeySecret,
			WebhookSecret:  gw.WebhookSecret,
			MaxAttempts:    gw.MaxAttempts,
			InitialBackoff: gw.InitialBackoff,
		}, m)

	var lock port.SweepLock
	if cfg.App.Reaper.UseLock {
		zkConn, err := zookeeper.Connect(cfg.Infra.Zookeeper.Servers, cfg.Infra.Zookeeper.SessionTimeout)
		if err != nil {
			return nil, err
		}
		c.closers = append(c.closers, closerFunc(func() error { zkConn.Close(); return nil }))
		zkLock, err := adapter.NewSweepLockZKAdapter(zkConn, sweepLockResource)
		if err != nil {
			return nil, err
		}
		lock = zkLock
	}
	c.Reaper = application.NewExpiryReaper(c.Repo, c.Holds, lock, application.ReaperConfig{
		Interval:        cfg.App.Reaper.Interval,
		BatchSize:       cfg.App.Reaper.BatchSize,
		BatchSizeSource: currentSweepBatchSize,
	}, m)

	ok = true
	return c, nil
}

func (c *Container) buildLedger(ctx context.Context, cfg *config.Config) (Ledger, error) {
	switch cfg.App.LedgerBackend {
	case "redis":
		rc, err := redis.NewClient(ctx, cfg.Infra.Redis.Addr, cfg.Infra.Redis.Password, cfg.Infra.Redis.DB)
		if err != nil {
			return nil, err
		}
		c.closers = append(c.closers, rc)
		return adapter.NewRedisStockLedger(rc)
	case "mysql":
		return infrastructure.NewGormStockLedger(c.DB), nil
	default:
		return nil, fmt.Errorf("unknown ledger backend %q", cfg.App.LedgerBackend)
	}
}

// Handler 返回对外的 HTTP 路由。
func (c *Container) Handler() http.Handler {
	return interfaces.NewHoldHandler(c.Holds, c.Payments, c.Config.App.StatusStream.PollInterval).NewRouter()
}

// Close 按创建的逆序释放连接。
func (c *Container) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i].Close(); err != nil {
			logger.Ctx(context.Background()).Warn().Err(err).Msg("failed to close resource")
		}
	}
	c.closers = nil
}

// currentHoldTTL 和 currentSweepBatchSize 每次调用都读取当前生效的配置，
// 配置中心推送的修改无需重启即可生效。
func currentHoldTTL() time.Duration {
	return config.GetCurrentConfig().App.HoldTTL
}

func currentSweepBatchSize() int {
	return config.GetCurrentConfig().App.Reaper.BatchSize
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }
