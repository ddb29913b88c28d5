package adapter

import (
	"context"
	"fmt"
	"strconv"

	goredis "github.com/redis/go-redis/v9"

	"sabzar/internal/pkg/redis"
	"sabzar/internal/service/hold/domain"
)

const (
	reserveScriptName  = "stock_reserve"
	releaseScriptName  = "stock_release"
	commitScriptName   = "stock_commit"
	setStockScriptName = "stock_set"
)

// 脚本返回码
const (
	codeRejected     = 0
	codeOK           = 1
	codeMissing      = -1
	codeInconsistent = -2
)

// RedisStockLedger 是 domain.StockLedger 接口的 Redis 实现。
// 每个商品是一个 hash: stock:{productId} -> {stock, reserved}，所有修改都在 Lua 脚本中原子完成。
type RedisStockLedger struct {
	redisClient *redis.Client
}

// NewRedisStockLedger 创建一个新的库存账本适配器实例。
// 它在创建时会加载所有需要的 Lua 脚本。
func NewRedisStockLedger(redisClient *redis.Client) (*RedisStockLedger, error) {
	scripts := map[string]string{
		reserveScriptName:  reserveScript,
		releaseScriptName:  releaseScript,
		commitScriptName:   commitScript,
		setStockScriptName: setStockScript,
	}
	for name, content := range scripts {
		if err := redisClient.LoadScriptFromContent(name, content); err != nil {
			return nil, fmt.Errorf("failed to load critical stock script %s: %w", name, err)
		}
	}
	return &RedisStockLedger{redisClient: redisClient}, nil
}

func stockKey(productID string) string {
	return fmt.Sprintf("stock:{%s}", productID)
}

func (a *RedisStockLedger) run(ctx context.Context, script, productID string, args ...interface{}) (int64, error) {
	result, err := a.redisClient.RunScript(ctx, script, []string{stockKey(productID)}, args...)
	if err != nil {
		return 0, fmt.Errorf("stock ledger failed to run script: %w", err)
	}
	code, ok := result.(int64)
	if !ok {
		return 0, fmt.Errorf("unexpected result type from Lua script: %T", result)
	}
	return code, nil
}

func (a *RedisStockLedger) TryReserve(ctx context.Context, productID string, qty int) (bool, error) {
	if qty <= 0 {
		return false, domain.ErrInvalidQuantity
	}
	code, err := a.run(ctx, reserveScriptName, productID, qty)
	if err != nil {
		return false, err
	}
	switch code {
	case codeOK:
		return true, nil
	case codeRejected:
		return false, nil
	case codeMissing:
		return false, fmt.Errorf("%w: %s", domain.ErrProductNotFound, productID)
	default:
		return false, fmt.Errorf("unknown result code from reserve script: %d", code)
	}
}

func (a *RedisStockLedger) Release(ctx context.Context, productID string, qty int) error {
	if qty <= 0 {
		return domain.ErrInvalidQuantity
	}
	code, err := a.run(ctx, releaseScriptName, productID, qty)
	if err != nil {
		return err
	}
	return a.toError(code, productID, "release")
}

func (a *RedisStockLedger) Commit(ctx context.Context, productID string, qty int) error {
	if qty <= 0 {
		return domain.ErrInvalidQuantity
	}
	code, err := a.run(ctx, commitScriptName, productID, qty)
	if err != nil {
		return err
	}
	return a.toError(code, productID, "commit")
}

// SetStock (运维用) 设置库存总量，商品不存在时创建。新值小于当前预占量时拒绝。
func (a *RedisStockLedger) SetStock(ctx context.Context, productID string, stock int) error {
	if stock < 0 {
		return domain.ErrInvalidQuantity
	}
	code, err := a.run(ctx, setStockScriptName, productID, stock)
	if err != nil {
		return err
	}
	return a.toError(code, productID, "set stock")
}

func (a *RedisStockLedger) toError(code int64, productID, op string) error {
	switch code {
	case codeOK:
		return nil
	case codeMissing:
		return fmt.Errorf("%w: %s", domain.ErrProductNotFound, productID)
	case codeInconsistent:
		return fmt.Errorf("%w: %s of %s", domain.ErrLedgerInconsistent, op, productID)
	default:
		return fmt.Errorf("unknown result code from %s script: %d", op, code)
	}
}

func (a *RedisStockLedger) Available(ctx context.Context, productID string) (int, error) {
	lvl, err := a.Level(ctx, productID)
	if err != nil {
		return 0, err
	}
	return lvl.Available(), nil
}

// Level 读取计数器快照。
func (a *RedisStockLedger) Level(ctx context.Context, productID string) (domain.StockLevel, error) {
	vals, err := a.redisClient.GetClient().HMGet(ctx, stockKey(productID), "stock", "reserved").Result()
	if err != nil && err != goredis.Nil {
		return domain.StockLevel{}, fmt.Errorf("read stock of %s: %w", productID, err)
	}
	if len(vals) != 2 || vals[0] == nil {
		return domain.StockLevel{}, fmt.Errorf("%w: %s", domain.ErrProductNotFound, productID)
	}
	stock, err := toInt(vals[0])
	if err != nil {
		return domain.StockLevel{}, err
	}
	reserved, err := toInt(vals[1])
	if err != nil {
		return domain.StockLevel{}, err
	}
	return domain.StockLevel{ProductID: productID, StockQuantity: stock, ReservedQuantity: reserved}, nil
}

func toInt(v interface{}) (int, error) {
	if v == nil {
		return 0, nil
	}
	s, ok := v.(string)
	if !ok {
		return 0, fmt.Errorf("unexpected stock field type %T", v)
	}
	return strconv.Atoi(s)
}

var reserveScript = `
-- KEYS[1]: 库存 hash, 例如: stock:{product_123}
-- ARGV[1]: 预占数量
if redis.call('exists', KEYS[1]) == 0 then
    return -1
end
local stock = tonumber(redis.call('hget', KEYS[1], 'stock') or '0')
local reserved = tonumber(redis.call('hget', KEYS[1], 'reserved') or '0')
local qty = tonumber(ARGV[1])
if stock - reserved >= qty then
    redis.call('hincrby', KEYS[1], 'reserved', qty)
    return 1
end
return 0
`

var releaseScript = `
-- 释放预占，下限为 0
if redis.call('exists', KEYS[1]) == 0 then
    return -1
end
local reserved = tonumber(redis.call('hget', KEYS[1], 'reserved') or '0')
local left = reserved - tonumber(ARGV[1])
if left < 0 then
    left = 0
end
redis.call('hset', KEYS[1], 'reserved', left)
return 1
`

var commitScript = `
-- 预占转为售出: stock 和 reserved 同时扣减
if redis.call('exists', KEYS[1]) == 0 then
    return -1
end
local stock = tonumber(redis.call('hget', KEYS[1], 'stock') or '0')
local reserved = tonumber(redis.call('hget', KEYS[1], 'reserved') or '0')
local qty = tonumber(ARGV[1])
if reserved < qty or stock < qty then
    return -2
end
redis.call('hincrby', KEYS[1], 'stock', -qty)
redis.call('hincrby', KEYS[1], 'reserved', -qty)
return 1
`

var setStockScript = `
-- 设置库存总量，不允许小于当前预占量
local reserved = tonumber(redis.call('hget', KEYS[1], 'reserved') or '0')
local stock = tonumber(ARGV[1])
if stock < reserved then
    return -2
end
redis.call('hset', KEYS[1], 'stock', stock, 'reserved', reserved)
return 1
`
