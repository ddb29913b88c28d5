// internal/service/hold/application/reaper.go
package application

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"sabzar/internal/pkg/logger"
	"sabzar/internal/pkg/metrics"
	"sabzar/internal/service/hold/domain"
	"sabzar/internal/service/hold/domain/port"
)

// maxBatchesPerSweep 限制单次扫描的批数，积压过多时留给下一个周期。
const maxBatchesPerSweep = 10

// Finalizer 是过期扫描依赖的终结能力。
type Finalizer interface {
	Finalize(ctx context.Context, localOrderID string, outcome domain.Status) (*domain.Hold, error)
}

type ReaperConfig struct {
	Interval  time.Duration
	BatchSize int

	// BatchSizeSource 不为空时每次扫描重新读取批大小，返回值不大于 0 时使用 BatchSize
	BatchSizeSource func() int
}

// SweepResult 汇总一次扫描的结果。
type SweepResult struct {
	Scanned int
	Expired int
	Lost    int // 已被其他终结者抢先 (支付、取消或另一个副本)
	Failed  int
	Skipped bool // 没拿到扫描锁
}

// ExpiryReaper 周期性地把已过期的 active 预占终结为 expired。
// 多个副本同时运行是安全的，正确性完全依赖 Finalize 的条件更新。
type ExpiryReaper struct {
	repo      domain.HoldRepository
	finalizer Finalizer
	lock      port.SweepLock
	cfg       ReaperConfig

	tracer  trace.Tracer
	metrics *metrics.HoldMetrics
	now     func() time.Time

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewExpiryReaper 创建扫描器。lock 可以为 nil。
func NewExpiryReaper(repo domain.HoldRepository, finalizer Finalizer, lock port.SweepLock, cfg ReaperConfig, m *metrics.HoldMetrics) *ExpiryReaper {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 200
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if m == nil {
		m = metrics.NewNopHoldMetrics()
	}
	return &ExpiryReaper{
		repo:      repo,
		finalizer: finalizer,
		lock:      lock,
		cfg:       cfg,
		tracer:    otel.Tracer("expiry-reaper"),
		metrics:   m,
		now:       time.Now,
	}
}

// Start 在后台启动定时扫描，重复调用无效。
func (r *ExpiryReaper) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.done = make(chan struct{})

	go func(done chan struct{}) {
		defer close(done)
		ticker := time.NewTicker(r.cfg.Interval)
		defer ticker.Stop()
		logger.Ctx(ctx).Info().Dur("interval", r.cfg.Interval).Msg("🚀 expiry reaper started")
		for {
			select {
			case <-ctx.Done():
				logger.Ctx(ctx).Info().Msg("expiry reaper stopped")
				return
			case <-ticker.C:
				if _, err := r.SweepOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
					logger.Ctx(ctx).Error().Err(err).Msg("expiry sweep failed")
				}
			}
		}
	}(r.done)
}

// Stop 停止后台扫描并等待当前扫描结束。
func (r *ExpiryReaper) Stop() {
	r.mu.Lock()
	cancel, done := r.cancel, r.done
	r.cancel, r.done = nil, nil
	r.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// SweepOnce 执行一次扫描。
func (r *ExpiryReaper) SweepOnce(ctx context.Context) (*SweepResult, error) {
	ctx, span := r.tracer.Start(ctx, "reaper.SweepOnce")
	defer span.End()

	result := &SweepResult{}
	if r.lock != nil {
		acquired, err := r.lock.TryAcquire(ctx)
		if err != nil {
			// 锁只是优化，拿锁失败时照常扫描
			logger.Ctx(ctx).Warn().Err(err).Msg("sweep lock unavailable, sweeping without it")
		} else if !acquired {
			result.Skipped = true
			r.metrics.ReaperSweeps.WithLabelValues("skipped").Inc()
			return result, nil
		} else {
			defer func() {
				if err := r.lock.Release(context.WithoutCancel(ctx)); err != nil {
					logger.Ctx(ctx).Warn().Err(err).Msg("failed to release sweep lock")
				}
			}()
		}
	}

	batchSize := r.batchSize()
	for batch := 0; batch < maxBatchesPerSweep; batch++ {
		ids, err := r.repo.FindExpired(ctx, r.now(), batchSize)
		if err != nil {
			r.metrics.ReaperSweeps.WithLabelValues("error").Inc()
			span.RecordError(err)
			return result, err
		}
		progressed := 0
		for _, id := range ids {
			if err := ctx.Err(); err != nil {
				return result, err
			}
			result.Scanned++
			_, err := r.finalizer.Finalize(ctx, id, domain.StatusExpired)
			switch {
			case err == nil:
				result.Expired++
				progressed++
			case errors.Is(err, domain.ErrHoldAlreadyFinalized):
				result.Lost++
				progressed++
			default:
				result.Failed++
				logger.Ctx(ctx).Error().Err(err).Str("local_order_id", id).Msg("failed to expire hold")
			}
		}
		// 批次没装满，或者整批都失败 (避免对同一批反复重试)
		if len(ids) < batchSize || progressed == 0 {
			break
		}
	}

	r.metrics.ReaperExpired.Add(float64(result.Expired))
	r.metrics.ReaperSweeps.WithLabelValues("ok").Inc()
	span.SetAttributes(
		attribute.Int("reaper.scanned", result.Scanned),
		attribute.Int("reaper.expired", result.Expired),
	)
	if result.Scanned > 0 {
		logger.Ctx(ctx).Info().
			Int("scanned", result.Scanned).
			Int("expired", result.Expired).
			Int("lost", result.Lost).
			Int("failed", result.Failed).
			Msg("expiry sweep finished")
	}
	return result, nil
}

func (r *ExpiryReaper) batchSize() int {
	if r.cfg.BatchSizeSource != nil {
		if n := r.cfg.BatchSizeSource(); n > 0 {
			return n
		}
	}
	return r.cfg.BatchSize
}
