package infrastructure

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"gorm.io/gorm"

	"sabzar/internal/service/hold/domain"
)

// GormHoldRepository 是 HoldRepository 的 GORM 实现
type GormHoldRepository struct {
	db *gorm.DB
}

// NewGormHoldRepository 创建一个新的 GORM 仓储实例
func NewGormHoldRepository(db *gorm.DB) *GormHoldRepository {
	return &GormHoldRepository{db: db}
}

// Create 在一个事务中插入预占及其明细行
func (r *GormHoldRepository) Create(ctx context.Context, hold *domain.Hold) error {
	model := fromDomainHold(hold)
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Create(model).Error
	})
	if err != nil {
		return errors.Wrapf(err, "create hold %s", hold.LocalOrderID)
	}
	return nil
}

func (r *GormHoldRepository) FindByID(ctx context.Context, id string) (*domain.Hold, error) {
	return r.findOne(ctx, "local_order_id = ?", id)
}

func (r *GormHoldRepository) FindByGatewayOrderID(ctx context.Context, gatewayOrderID string) (*domain.Hold, error) {
	if gatewayOrderID == "" {
		return nil, domain.ErrHoldNotFound
	}
	return r.findOne(ctx, "gateway_order_id = ?", gatewayOrderID)
}

func (r *GormHoldRepository) findOne(ctx context.Context, query string, arg string) (*domain.Hold, error) {
	var model HoldModel
	err := r.db.WithContext(ctx).
		Preload("Lines", func(db *gorm.DB) *gorm.DB { return db.Order("product_id") }).
		Where(query, arg).
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrHoldNotFound
		}
		return nil, errors.Wrap(err, "find hold")
	}
	return toDomainHold(&model), nil
}

// Transition 执行带条件的状态变更:
// UPDATE holds SET status = ? WHERE local_order_id = ? AND status = 'active' [AND expires_at > ?]
func (r *GormHoldRepository) Transition(ctx context.Context, id string, to domain.Status, now time.Time, requireUnexpired bool) (bool, error) {
	if !to.IsTerminal() {
		return false, domain.ErrInvalidOutcome
	}
	now = now.UTC()
	q := r.db.WithContext(ctx).Model(&HoldModel{}).
		Where("local_order_id = ? AND status = ?", id, domain.StatusActive)
	if requireUnexpired {
		q = q.Where("expires_at > ?", now)
	}
	res := q.Updates(map[string]interface{}{"status": to, "updated_at": now})
	if res.Error != nil {
		return false, errors.Wrapf(res.Error, "transition hold %s to %s", id, to)
	}
	return res.RowsAffected == 1, nil
}

func (r *GormHoldRepository) SetGatewayOrder(ctx context.Context, id, gatewayOrderID string) error {
	res := r.db.WithContext(ctx).Model(&HoldModel{}).
		Where("local_order_id = ? AND gateway_order_id IS NULL", id).
		Update("gateway_order_id", gatewayOrderID)
	if res.Error != nil {
		return errors.Wrapf(res.Error, "set gateway order of %s", id)
	}
	if res.RowsAffected == 1 {
		return nil
	}
	if _, err := r.FindByID(ctx, id); err != nil {
		return err
	}
	return domain.ErrGatewayOrderAlreadySet
}

// SetGatewayPayment 只在支付号为空时写入。支付号上的唯一索引保证同一笔支付不会记到两个预占上。
func (r *GormHoldRepository) SetGatewayPayment(ctx context.Context, id, gatewayPaymentID string) error {
	// 空字符串不是 NULL，写进去会占住唯一索引
	if gatewayPaymentID == "" {
		return nil
	}
	res := r.db.WithContext(ctx).Model(&HoldModel{}).
		Where("local_order_id = ? AND gateway_payment_id IS NULL", id).
		Update("gateway_payment_id", gatewayPaymentID)
	if res.Error != nil {
		if isDuplicateKey(res.Error) {
			return fmt.Errorf("%w: payment %s belongs to another hold", domain.ErrPaymentConflict, gatewayPaymentID)
		}
		return errors.Wrapf(res.Error, "set gateway payment of %s", id)
	}
	if res.RowsAffected == 1 {
		return nil
	}
	hold, err := r.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if hold.GatewayPaymentID == gatewayPaymentID {
		return nil
	}
	return domain.ErrPaymentConflict
}

// FindExpired 按过期时间顺序返回已过期但仍为 active 的预占，命中 (status, expires_at) 联合索引。
func (r *GormHoldRepository) FindExpired(ctx context.Context, now time.Time, limit int) ([]string, error) {
	var ids []string
	q := r.db.WithContext(ctx).Model(&HoldModel{}).
		Where("status = ? AND expires_at <= ?", domain.StatusActive, now.UTC()).
		Order("expires_at")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Pluck("local_order_id", &ids).Error; err != nil {
		return nil, errors.Wrap(err, "find expired holds")
	}
	return ids, nil
}
