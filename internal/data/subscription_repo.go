package data

import (
	"context"
	"errors"

	"credit-service/internal/biz"
	"credit-service/internal/constants"
	"credit-service/internal/data/model"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// subscriptionRepo 订阅相关数据访问
type subscriptionRepo struct {
	data *Data
	log  *log.Helper
}

// NewSubscriptionRepo 创建订阅 repo（返回 biz.SubscriptionRepo 接口）
func NewSubscriptionRepo(data *Data, logger log.Logger) biz.SubscriptionRepo {
	return &subscriptionRepo{
		data: data,
		log:  log.NewHelper(logger),
	}
}

// GetSubscription 通过订阅ID查询
func (r *subscriptionRepo) GetSubscription(ctx context.Context, subscriptionID string) (*biz.Subscription, error) {
	return r.first(r.data.DB(ctx).Where("subscription_id = ?", subscriptionID))
}

// GetActiveSubscription 获取用户当前 active 的订阅
func (r *subscriptionRepo) GetActiveSubscription(ctx context.Context, userID string) (*biz.Subscription, error) {
	return r.first(r.data.DB(ctx).
		Where("user_id = ? AND status = ?", userID, constants.SubscriptionStatusActive).
		Order("end_date DESC"))
}

// CreateSubscription 创建订阅
func (r *subscriptionRepo) CreateSubscription(ctx context.Context, s *biz.Subscription) error {
	return r.data.DB(ctx).Create(fromBizSubscription(s)).Error
}

// UpdateSubscription 更新订阅（状态、套餐、到期时间）
func (r *subscriptionRepo) UpdateSubscription(ctx context.Context, s *biz.Subscription) error {
	result := r.data.DB(ctx).Model(&model.Subscription{}).
		Where("subscription_id = ?", s.ID).
		Updates(map[string]interface{}{
			"plan_id":           s.PlanID,
			"tier":              s.Tier,
			"priority":          s.Priority,
			"price":             s.Price.StringFixed(2),
			"duration_days":     s.DurationDays,
			"monthly_allowance": s.MonthlyAllowance,
			"end_date":          s.EndDate,
			"status":            s.Status,
			"updated_at":        s.UpdatedAt,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (r *subscriptionRepo) first(db *gorm.DB) (*biz.Subscription, error) {
	var m model.Subscription
	if err := db.First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	price, err := decimal.NewFromString(m.Price)
	if err != nil {
		return nil, err
	}
	return &biz.Subscription{
		ID:               m.SubscriptionID,
		UserID:           m.UserID,
		PlanID:           m.PlanID,
		Tier:             m.Tier,
		Priority:         m.Priority,
		Price:            price,
		DurationDays:     m.DurationDays,
		MonthlyAllowance: m.MonthlyAllowance,
		StartDate:        m.StartDate,
		EndDate:          m.EndDate,
		Status:           m.Status,
		RequestID:        m.RequestID,
		CreatedAt:        m.CreatedAt,
		UpdatedAt:        m.UpdatedAt,
	}, nil
}

func fromBizSubscription(s *biz.Subscription) *model.Subscription {
	return &model.Subscription{
		SubscriptionID:   s.ID,
		UserID:           s.UserID,
		PlanID:           s.PlanID,
		Tier:             s.Tier,
		Priority:         s.Priority,
		Price:            s.Price.StringFixed(2),
		DurationDays:     s.DurationDays,
		MonthlyAllowance: s.MonthlyAllowance,
		StartDate:        s.StartDate,
		EndDate:          s.EndDate,
		Status:           s.Status,
		RequestID:        s.RequestID,
		CreatedAt:        s.CreatedAt,
		UpdatedAt:        s.UpdatedAt,
	}
}
