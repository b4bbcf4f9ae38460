package data

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"credit-service/internal/biz"
	"credit-service/internal/constants"
	"credit-service/internal/data/model"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"
)

const balanceCacheTTL = 5 * time.Minute

// setBalanceScript 快照版本低于提交后写入的版本栅栏时放弃写缓存
var setBalanceScript = redis.NewScript(`
local fence = tonumber(redis.call('GET', KEYS[2]) or '0')
if tonumber(ARGV[2]) < fence then
	return 0
end
redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[3])
return 1
`)

// userBalanceRepo 余额相关数据访问
type userBalanceRepo struct {
	data *Data
	log  *log.Helper
}

// NewUserBalanceRepo 创建余额 repo（返回 biz.UserBalanceRepo 接口）
func NewUserBalanceRepo(data *Data, logger log.Logger) biz.UserBalanceRepo {
	return &userBalanceRepo{
		data: data,
		log:  log.NewHelper(logger),
	}
}

// balanceSnapshot 余额缓存快照
type balanceSnapshot struct {
	PermanentCredits   int64      `json:"permanent_credits"`
	AllowanceAmount    int64      `json:"allowance_amount"`
	AllowanceExpiresAt *time.Time `json:"allowance_expires_at,omitempty"`
	AllowancePriority  int        `json:"allowance_priority"`
	AllowancePlanID    string     `json:"allowance_plan_id"`
	Version            int64      `json:"version"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

func balanceKey(userID string) string {
	return fmt.Sprintf("%s%s", constants.RedisKeyBalance, userID)
}

func balanceVersionKey(userID string) string {
	return fmt.Sprintf("%s%s", constants.RedisKeyBalanceVersion, userID)
}

// GetUserBalance 获取用户余额。事务内直接读库，事务外优先读缓存
func (r *userBalanceRepo) GetUserBalance(ctx context.Context, userID string) (*biz.UserBalance, error) {
	if userID == "" {
		return nil, fmt.Errorf("userID is required")
	}

	useCache := r.data.rdb != nil && !inTx(ctx)
	if useCache {
		if b := r.getCache(ctx, userID); b != nil {
			return b, nil
		}
	}

	// 缓存未命中，从数据库查询
	var m model.UserBalance
	if err := r.data.DB(ctx).Where("user_id = ?", userID).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		r.log.Errorf("GetUserBalance failed: userID=%s, error=%v", userID, err)
		return nil, fmt.Errorf("failed to query user balance from database: %w", err)
	}

	if useCache {
		r.setCache(ctx, &m)
	}
	return toBizBalance(&m), nil
}

// CreateUserBalance 创建余额记录
func (r *userBalanceRepo) CreateUserBalance(ctx context.Context, b *biz.UserBalance) error {
	m := fromBizBalance(b)
	if m.UpdatedAt.IsZero() {
		m.UpdatedAt = time.Now()
	}
	if err := r.data.DB(ctx).Create(m).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return biz.ErrDuplicateEntry
		}
		return err
	}
	return nil
}

// UpdateUserBalance 按版本号条件更新（乐观锁）
func (r *userBalanceRepo) UpdateUserBalance(ctx context.Context, b *biz.UserBalance, expectedVersion int64) error {
	m := fromBizBalance(b)
	result := r.data.DB(ctx).Model(&model.UserBalance{}).
		Where("user_id = ? AND version = ?", b.UserID, expectedVersion).
		Updates(map[string]interface{}{
			"permanent_credits":    m.PermanentCredits,
			"allowance_amount":     m.AllowanceAmount,
			"allowance_expires_at": m.AllowanceExpiresAt,
			"allowance_priority":   m.AllowancePriority,
			"allowance_plan_id":    m.AllowancePlanID,
			"version":              m.Version,
			"updated_at":           m.UpdatedAt,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return biz.ErrVersionConflict
	}
	return nil
}

// InvalidateCache 写入版本栅栏并删除余额缓存，之后版本更低的快照不会再写回
func (r *userBalanceRepo) InvalidateCache(ctx context.Context, userID string, version int64) {
	if r.data.rdb == nil {
		return
	}
	cacheCtx, cancel := cacheContext(ctx)
	defer cancel()
	_, err := r.data.rdb.TxPipelined(cacheCtx, func(pipe redis.Pipeliner) error {
		pipe.Set(cacheCtx, balanceVersionKey(userID), version, balanceCacheTTL)
		pipe.Del(cacheCtx, balanceKey(userID))
		return nil
	})
	if err != nil {
		r.log.Warnf("failed to invalidate balance cache: user_id=%s, version=%d, error=%v", userID, version, err)
	}
}

func (r *userBalanceRepo) getCache(ctx context.Context, userID string) *biz.UserBalance {
	cacheCtx, cancel := cacheContext(ctx)
	defer cancel()
	raw, err := r.data.rdb.Get(cacheCtx, balanceKey(userID)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			r.log.Warnf("failed to read balance cache: user_id=%s, error=%v", userID, err)
		}
		return nil
	}
	var s balanceSnapshot
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil
	}
	return toBizBalance(&model.UserBalance{
		UserID:             userID,
		PermanentCredits:   s.PermanentCredits,
		AllowanceAmount:    s.AllowanceAmount,
		AllowanceExpiresAt: s.AllowanceExpiresAt,
		AllowancePriority:  s.AllowancePriority,
		AllowancePlanID:    s.AllowancePlanID,
		Version:            s.Version,
		UpdatedAt:          s.UpdatedAt,
	})
}

func (r *userBalanceRepo) setCache(ctx context.Context, m *model.UserBalance) {
	raw, err := json.Marshal(&balanceSnapshot{
		PermanentCredits:   m.PermanentCredits,
		AllowanceAmount:    m.AllowanceAmount,
		AllowanceExpiresAt: m.AllowanceExpiresAt,
		AllowancePriority:  m.AllowancePriority,
		AllowancePlanID:    m.AllowancePlanID,
		Version:            m.Version,
		UpdatedAt:          m.UpdatedAt,
	})
	if err != nil {
		return
	}
	cacheCtx, cancel := cacheContext(ctx)
	defer cancel()
	keys := []string{balanceKey(m.UserID), balanceVersionKey(m.UserID)}
	if err := setBalanceScript.Run(cacheCtx, r.data.rdb, keys, raw, m.Version, balanceCacheTTL.Milliseconds()).Err(); err != nil {
		// 缓存更新失败不影响主流程，只记录日志
		r.log.Warnf("failed to update balance cache: user_id=%s, error=%v", m.UserID, err)
	}
}

func toBizBalance(m *model.UserBalance) *biz.UserBalance {
	b := &biz.UserBalance{
		UserID:           m.UserID,
		PermanentCredits: m.PermanentCredits,
		Version:          m.Version,
		UpdatedAt:        m.UpdatedAt,
	}
	if m.AllowanceExpiresAt != nil {
		b.Allowance = &biz.Allowance{
			Amount:    m.AllowanceAmount,
			ExpiresAt: *m.AllowanceExpiresAt,
			Priority:  m.AllowancePriority,
			PlanID:    m.AllowancePlanID,
		}
	}
	return b
}

func fromBizBalance(b *biz.UserBalance) *model.UserBalance {
	m := &model.UserBalance{
		UserID:           b.UserID,
		PermanentCredits: b.PermanentCredits,
		Version:          b.Version,
		UpdatedAt:        b.UpdatedAt,
	}
	if b.Allowance != nil {
		expires := b.Allowance.ExpiresAt
		m.AllowanceAmount = b.Allowance.Amount
		m.AllowanceExpiresAt = &expires
		m.AllowancePriority = b.Allowance.Priority
		m.AllowancePlanID = b.Allowance.PlanID
	}
	return m
}
