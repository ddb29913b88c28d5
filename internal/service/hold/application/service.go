// internal/service/hold/application/service.go
package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"sabzar/internal/pkg/logger"
	"sabzar/internal/pkg/metrics"
	"sabzar/internal/service/hold/domain"
	"sabzar/internal/service/hold/domain/port"
)

// HoldService 负责预占的创建和唯一的终态变更入口 Finalize。
// 库存计数器只经由 StockLedger 修改，状态只经由 HoldRepository.Transition 修改。
type HoldService struct {
	repo    domain.HoldRepository
	ledger  domain.StockLedger
	catalog port.Catalog
	policy  port.PurchasePolicy
	events  port.EventPublisher

	ttl       time.Duration
	ttlSource func() time.Duration
	currency  string

	tracer  trace.Tracer
	metrics *metrics.HoldMetrics
	now     func() time.Time
	newID   func() string
}

type Option func(*HoldService)

// WithPurchasePolicy 设置下单前的限购规则校验。
func WithPurchasePolicy(p port.PurchasePolicy) Option {
	return func(s *HoldService) { s.policy = p }
}

// WithEventPublisher 设置生命周期事件的发布者。
func WithEventPublisher(p port.EventPublisher) Option {
	return func(s *HoldService) { s.events = p }
}

func WithClock(now func() time.Time) Option {
	return func(s *HoldService) { s.now = now }
}

func WithIDGenerator(newID func() string) Option {
	return func(s *HoldService) { s.newID = newID }
}

func WithTracer(t trace.Tracer) Option {
	return func(s *HoldService) { s.tracer = t }
}

func WithMetrics(m *metrics.HoldMetrics) Option {
	return func(s *HoldService) { s.metrics = m }
}

// WithTTLSource 让每次创建预占时重新读取有效期 (例如来自配置中心)。
// 返回值不大于 0 时使用构造时传入的 ttl。
func WithTTLSource(fn func() time.Duration) Option {
	return func(s *HoldService) { s.ttlSource = fn }
}

func NewHoldService(repo domain.HoldRepository, ledger domain.StockLedger, catalog port.Catalog, ttl time.Duration, currency string, opts ...Option) *HoldService {
	s := &HoldService{
		repo:     repo,
		ledger:   ledger,
		catalog:  catalog,
		ttl:      ttl,
		currency: currency,
		now:      time.Now,
		newID:    func() string { return uuid.New().String() },
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.tracer == nil {
		s.tracer = otel.Tracer("hold-service")
	}
	if s.metrics == nil {
		s.metrics = metrics.NewNopHoldMetrics()
	}
	return s
}

// CreateHold 校验购物车，按商品ID顺序逐行预占库存，全部成功后持久化一个 active 的预占。
// 任意一行失败都会回滚本次已经预占的行，并返回列出所有不足明细的 *domain.InsufficientStockError。
func (s *HoldService) CreateHold(ctx context.Context, req *CreateHoldRequest) (*domain.Hold, error) {
	ctx, span := s.tracer.Start(ctx, "app.CreateHold")
	defer span.End()
	start := time.Now()
	defer func() { s.metrics.OperationLatency.WithLabelValues("create").Observe(time.Since(start).Seconds()) }()

	hold, err := s.createHold(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "create hold failed")
		s.metrics.ReservationFailures.WithLabelValues(failureReason(err)).Inc()
		return nil, err
	}

	s.metrics.HoldsCreated.Inc()
	span.SetAttributes(
		attribute.String("hold.id", hold.LocalOrderID),
		attribute.Int("hold.total_quantity", hold.TotalQuantity()),
	)
	logger.Ctx(ctx).Info().
		Str("local_order_id", hold.LocalOrderID).
		Str("user_id", hold.UserID).
		Int("lines", len(hold.Lines)).
		Int("total_quantity", hold.TotalQuantity()).
		Time("expires_at", hold.ExpiresAt).
		Msg("hold created")
	s.publish(ctx, domain.EventHoldCreated, hold)
	return hold, nil
}

func (s *HoldService) createHold(ctx context.Context, req *CreateHoldRequest) (*domain.Hold, error) {
	lines, err := domain.NormalizeLines(req.domainLines())
	if err != nil {
		return nil, err
	}
	if err := req.Address.Validate(); err != nil {
		return nil, err
	}

	// 1. 并发拉取商品信息，校验存在性并做价格快照
	products := make([]*port.Product, len(lines))
	g, gctx := errgroup.WithContext(ctx)
	for i, l := range lines {
		g.Go(func() error {
			p, err := s.catalog.GetProduct(gctx, l.ProductID)
			if err != nil {
				if errors.Is(err, domain.ErrProductNotFound) {
					return fmt.Errorf("%w: %s", domain.ErrProductNotFound, l.ProductID)
				}
				return err
			}
			products[i] = p
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	for i := range lines {
		lines[i].UnitPrice = products[i].Price
	}

	// 2. 限购规则
	if s.policy != nil {
		if err := s.policy.Check(ctx, req.UserID, lines); err != nil {
			return nil, err
		}
	}

	id := s.newID()
	now := s.now()
	hold, err := domain.NewHold(id, req.UserID, lines, req.Address, req.CouponCode, s.currency, now, s.holdTTL())
	if err != nil {
		return nil, err
	}

	// 3. 按顺序逐行预占，失败时补偿
	resv := newReservation(id)
	compCtx := context.WithoutCancel(ctx)
	for i, l := range lines {
		ok, err := s.ledger.TryReserve(ctx, l.ProductID, l.Quantity)
		if err != nil {
			resv.TriggerCompensation(compCtx)
			return nil, err
		}
		if !ok {
			short := s.collectShortLines(ctx, lines[i:])
			resv.TriggerCompensation(compCtx)
			logger.Ctx(ctx).Warn().Str("local_order_id", id).Interface("short_lines", short).Msg("insufficient stock, reservation rolled back")
			return nil, &domain.InsufficientStockError{Lines: short}
		}
		resv.AddCompensation(s.releaseStep(id, l))
	}

	// 4. 持久化
	if err := s.repo.Create(ctx, hold); err != nil {
		logger.Ctx(ctx).Error().Err(err).Str("local_order_id", id).Msg("failed to persist hold, releasing reservations")
		resv.TriggerCompensation(compCtx)
		return nil, err
	}
	return hold, nil
}

func (s *HoldService) holdTTL() time.Duration {
	if s.ttlSource != nil {
		if d := s.ttlSource(); d > 0 {
			return d
		}
	}
	return s.ttl
}

func (s *HoldService) releaseStep(holdID string, l domain.Line) func(ctx context.Context) {
	return func(ctx context.Context) {
		if err := s.ledger.Release(ctx, l.ProductID, l.Quantity); err != nil {
			logger.Ctx(ctx).Error().Err(err).
				Str("local_order_id", holdID).
				Str("product_id", l.ProductID).
				Int("quantity", l.Quantity).
				Msg("CRITICAL: failed to release reservation during compensation")
		}
	}
}

// collectShortLines 报告第一条失败的行以及后续同样不足的行。
// 后续行只读取可用量做判断，不做预占，因此结果只是检查时刻的快照。
func (s *HoldService) collectShortLines(ctx context.Context, rest []domain.Line) []domain.ShortLine {
	short := make([]domain.ShortLine, 0, len(rest))
	for i, l := range rest {
		avail, err := s.ledger.Available(ctx, l.ProductID)
		if err != nil {
			avail = 0
		}
		if i == 0 || avail < l.Quantity {
			short = append(short, domain.ShortLine{ProductID: l.ProductID, Requested: l.Quantity, Available: max(avail, 0)})
		}
	}
	return short
}

// Finalize 是唯一的终态变更入口。并发调用时只有一个能赢得带条件的状态更新，
// 赢家负责扣减 (paid) 或释放 (cancelled/expired) 库存。
func (s *HoldService) Finalize(ctx context.Context, localOrderID string, outcome domain.Status) (*domain.Hold, error) {
	ctx, span := s.tracer.Start(ctx, "app.Finalize", trace.WithAttributes(
		attribute.String("hold.id", localOrderID),
		attribute.String("hold.outcome", string(outcome)),
	))
	defer span.End()

	hold, err := s.finalize(ctx, localOrderID, outcome)
	s.metrics.Finalizations.WithLabelValues(string(outcome), finalizeResult(err)).Inc()
	if err != nil {
		if !errors.Is(err, domain.ErrHoldAlreadyFinalized) {
			span.RecordError(err)
			span.SetStatus(codes.Error, "finalize failed")
		}
		return nil, err
	}
	return hold, nil
}

func (s *HoldService) finalize(ctx context.Context, localOrderID string, outcome domain.Status) (*domain.Hold, error) {
	if !outcome.IsTerminal() {
		return nil, domain.ErrInvalidOutcome
	}
	hold, err := s.repo.FindByID(ctx, localOrderID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	won, err := s.repo.Transition(ctx, localOrderID, outcome, now, outcome == domain.StatusPaid)
	if err != nil {
		return nil, err
	}
	if !won {
		return nil, s.explainLostTransition(ctx, localOrderID, outcome, now)
	}

	hold.Status = outcome
	hold.UpdatedAt = now
	// 状态已经落库，库存动作不能再被调用方取消，否则预占量会永久泄漏
	s.settle(context.WithoutCancel(ctx), hold)

	logger.Ctx(ctx).Info().
		Str("local_order_id", localOrderID).
		Str("outcome", string(outcome)).
		Msg("hold finalized")
	s.publish(ctx, domain.EventTypeFor(outcome), hold)
	return hold, nil
}

// explainLostTransition 在条件更新没有命中时给出具体原因。
func (s *HoldService) explainLostTransition(ctx context.Context, localOrderID string, outcome domain.Status, now time.Time) error {
	current, err := s.repo.FindByID(ctx, localOrderID)
	if err != nil {
		return err
	}
	if outcome != domain.StatusPaid {
		return domain.ErrHoldAlreadyFinalized
	}
	switch {
	case current.Status == domain.StatusActive && current.IsExpiredAt(now):
		// 名义上仍是 active 但已过期: 顺手把它终结为 expired，释放库存
		if _, err := s.finalize(ctx, localOrderID, domain.StatusExpired); err != nil && !errors.Is(err, domain.ErrHoldAlreadyFinalized) {
			logger.Ctx(ctx).Error().Err(err).Str("local_order_id", localOrderID).Msg("failed to expire hold after late payment")
		}
		return domain.ErrExpiredHold
	case current.Status == domain.StatusExpired:
		return domain.ErrExpiredHold
	default:
		return domain.ErrHoldAlreadyFinalized
	}
}

// settle 执行赢家的库存动作。状态已经落库，这里的失败无法回滚，只能记录并告警。
func (s *HoldService) settle(ctx context.Context, hold *domain.Hold) {
	for _, l := range hold.Lines {
		var err error
		if hold.Status.ReleasesStock() {
			err = s.ledger.Release(ctx, l.ProductID, l.Quantity)
		} else {
			err = s.ledger.Commit(ctx, l.ProductID, l.Quantity)
		}
		if err != nil {
			trace.SpanFromContext(ctx).RecordError(err, trace.WithAttributes(attribute.Bool("critical.error", true)))
			logger.Ctx(ctx).Error().Err(err).
				Str("local_order_id", hold.LocalOrderID).
				Str("product_id", l.ProductID).
				Str("status", string(hold.Status)).
				Msg("CRITICAL: ledger settlement failed after status transition")
		}
	}
}

// CancelHold 是用户主动取消，第二次调用总是返回 ErrHoldAlreadyFinalized。
func (s *HoldService) CancelHold(ctx context.Context, localOrderID string) (*domain.Hold, error) {
	return s.Finalize(ctx, localOrderID, domain.StatusCancelled)
}

// GetStatus 查询预占状态。已过期但仍为 active 的预占会在这里被惰性终结为 expired。
func (s *HoldService) GetStatus(ctx context.Context, localOrderID string) (*HoldStatusView, error) {
	ctx, span := s.tracer.Start(ctx, "app.GetStatus", trace.WithAttributes(attribute.String("hold.id", localOrderID)))
	defer span.End()

	hold, err := s.repo.FindByID(ctx, localOrderID)
	if err != nil {
		return nil, err
	}
	if hold.Status != domain.StatusActive || !hold.IsExpiredAt(s.now()) {
		return toStatusView(hold), nil
	}

	expired, err := s.Finalize(ctx, localOrderID, domain.StatusExpired)
	switch {
	case err == nil:
		return toStatusView(expired), nil
	case errors.Is(err, domain.ErrHoldAlreadyFinalized):
		// 其他终结者抢先了，重新读取最终状态
		hold, err = s.repo.FindByID(ctx, localOrderID)
		if err != nil {
			return nil, err
		}
		return toStatusView(hold), nil
	default:
		return nil, err
	}
}

// GetHold 返回预占的完整快照，不做惰性过期。
func (s *HoldService) GetHold(ctx context.Context, localOrderID string) (*domain.Hold, error) {
	return s.repo.FindByID(ctx, localOrderID)
}

// Availability 返回某个商品当前可预占的数量。
func (s *HoldService) Availability(ctx context.Context, productID string) (int, error) {
	if _, err := s.catalog.GetProduct(ctx, productID); err != nil {
		return 0, err
	}
	return s.ledger.Available(ctx, productID)
}

func (s *HoldService) publish(ctx context.Context, t domain.EventType, hold *domain.Hold) {
	if s.events == nil {
		return
	}
	event := domain.NewHoldEvent(s.newID(), t, hold, s.now())
	event.TraceID = trace.SpanContextFromContext(ctx).TraceID().String()
	if err := s.events.Publish(ctx, event); err != nil {
		logger.Ctx(ctx).Warn().Err(err).
			Str("local_order_id", hold.LocalOrderID).
			Str("event_type", string(t)).
			Msg("failed to publish hold event")
	}
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, domain.ErrInsufficientStock):
		return "insufficient_stock"
	case errors.Is(err, domain.ErrProductNotFound):
		return "product_not_found"
	case errors.Is(err, domain.ErrPolicyViolation):
		return "policy_violation"
	case errors.Is(err, domain.ErrInvalidQuantity), errors.Is(err, domain.ErrInvalidLine), errors.Is(err, domain.ErrInvalidAddress):
		return "invalid_request"
	default:
		return "internal"
	}
}

func finalizeResult(err error) string {
	switch {
	case err == nil:
		return "won"
	case errors.Is(err, domain.ErrHoldAlreadyFinalized):
		return "already_finalized"
	case errors.Is(err, domain.ErrExpiredHold):
		return "expired"
	case errors.Is(err, domain.ErrHoldNotFound):
		return "not_found"
	default:
		return "error"
	}
}
