package data

import (
	"context"
	"errors"
	"time"

	"credit-service/internal/biz"
	"credit-service/internal/constants"
	"credit-service/internal/data/model"

	"github.com/go-kratos/kratos/v2/log"
	"gorm.io/gorm"
)

// reservationRepo 预扣相关数据访问
type reservationRepo struct {
	data *Data
	log  *log.Helper
}

// NewReservationRepo 创建预扣 repo（返回 biz.ReservationRepo 接口）
func NewReservationRepo(data *Data, logger log.Logger) biz.ReservationRepo {
	return &reservationRepo{
		data: data,
		log:  log.NewHelper(logger),
	}
}

// CreateReservation 创建预扣记录
func (r *reservationRepo) CreateReservation(ctx context.Context, res *biz.Reservation) error {
	m := fromBizReservation(res)
	if err := r.data.DB(ctx).Create(m).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return biz.ErrDuplicateEntry
		}
		return err
	}
	return nil
}

// GetReservation 通过预扣ID查询
func (r *reservationRepo) GetReservation(ctx context.Context, reservationID string) (*biz.Reservation, error) {
	return r.first(r.data.DB(ctx).Where("reservation_id = ?", reservationID))
}

// GetReservationByRequestID 通过 (user_id, request_id) 查询
func (r *reservationRepo) GetReservationByRequestID(ctx context.Context, userID, requestID string) (*biz.Reservation, error) {
	return r.first(r.data.DB(ctx).Where("user_id = ? AND request_id = ?", userID, requestID))
}

// FinalizeReservation 仅当状态仍为 reserved 时写入终态
func (r *reservationRepo) FinalizeReservation(ctx context.Context, res *biz.Reservation) (bool, error) {
	result := r.data.DB(ctx).Model(&model.Reservation{}).
		Where("reservation_id = ? AND status = ?", res.ID, constants.ReservationStatusReserved).
		Updates(map[string]interface{}{
			"permanent_drawn":    res.PermanentDrawn,
			"subscription_drawn": res.SubscriptionDrawn,
			"actual":             res.Actual,
			"shortfall":          res.Shortfall,
			"status":             res.Status,
			"reason":             res.Reason,
			"updated_at":         res.UpdatedAt,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// ListStaleReservations 创建时间早于 before 且仍为 reserved 的预扣
func (r *reservationRepo) ListStaleReservations(ctx context.Context, before time.Time, limit int) ([]*biz.Reservation, error) {
	var models []model.Reservation
	if err := r.data.DB(ctx).
		Where("status = ? AND created_at < ?", constants.ReservationStatusReserved, before).
		Order("created_at ASC").
		Limit(limit).
		Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]*biz.Reservation, 0, len(models))
	for i := range models {
		out = append(out, toBizReservation(&models[i]))
	}
	return out, nil
}

func (r *reservationRepo) first(db *gorm.DB) (*biz.Reservation, error) {
	var m model.Reservation
	if err := db.First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return toBizReservation(&m), nil
}

func fromBizReservation(res *biz.Reservation) *model.Reservation {
	return &model.Reservation{
		ReservationID:     res.ID,
		UserID:            res.UserID,
		RequestID:         res.RequestID,
		OperationType:     res.OperationType,
		ModelID:           res.ModelID,
		Estimate:          res.Estimate,
		PermanentDrawn:    res.PermanentDrawn,
		SubscriptionDrawn: res.SubscriptionDrawn,
		Actual:            res.Actual,
		Shortfall:         res.Shortfall,
		Status:            res.Status,
		Reason:            res.Reason,
		CreatedAt:         res.CreatedAt,
		UpdatedAt:         res.UpdatedAt,
	}
}

func toBizReservation(m *model.Reservation) *biz.Reservation {
	return &biz.Reservation{
		ID:                m.ReservationID,
		UserID:            m.UserID,
		RequestID:         m.RequestID,
		OperationType:     m.OperationType,
		ModelID:           m.ModelID,
		Estimate:          m.Estimate,
		PermanentDrawn:    m.PermanentDrawn,
		SubscriptionDrawn: m.SubscriptionDrawn,
		Actual:            m.Actual,
		Shortfall:         m.Shortfall,
		Status:            m.Status,
		Reason:            m.Reason,
		CreatedAt:         m.CreatedAt,
		UpdatedAt:         m.UpdatedAt,
	}
}
