package biz

import (
	"context"
	"time"

	"credit-service/internal/constants"
	"credit-service/internal/metrics"

	"github.com/go-kratos/kratos/v2/log"
)

const reconcileBatchSize = 100

// SweepReport 超时预扣清理结果
type SweepReport struct {
	Found    int      `json:"found"`
	Refunded int      `json:"refunded"`
	Failed   []string `json:"failed,omitempty"`
}

// VerifyReport 流水回放核对汇总
type VerifyReport struct {
	Users      int      `json:"users"`
	Mismatched []string `json:"mismatched,omitempty"`
}

// ReconcileUseCase 对账：发现长期停留在 reserved 的预扣并退还，核对流水与余额
type ReconcileUseCase struct {
	reservations *ReservationUseCase
	ledger       *LedgerUseCase
	conf         *BillingConfig
	metrics      *metrics.CreditMetrics
	log          *log.Helper
	now          func() time.Time
}

// NewReconcileUseCase 创建对账 UseCase
func NewReconcileUseCase(
	reservations *ReservationUseCase,
	ledger *LedgerUseCase,
	conf *BillingConfig,
	m *metrics.CreditMetrics,
	logger log.Logger,
) *ReconcileUseCase {
	return &ReconcileUseCase{
		reservations: reservations,
		ledger:       ledger,
		conf:         conf,
		metrics:      m,
		log:          log.NewHelper(logger),
		now:          time.Now,
	}
}

// SweepStaleReservations 超过 StaleReservationAfter 仍未终结的预扣视为资金完整性事件，全额退还
func (uc *ReconcileUseCase) SweepStaleReservations(ctx context.Context) (*SweepReport, error) {
	before := uc.now().Add(-uc.conf.StaleReservationAfter)
	report := &SweepReport{}
	for {
		stale, err := uc.reservations.ListStaleReservations(ctx, before, reconcileBatchSize)
		if err != nil {
			uc.log.Errorf("list stale reservations failed: %v", err)
			return report, wrapInternal(err, "list stale reservations failed")
		}
		progressed := false
		for _, r := range stale {
			if contains(report.Failed, r.ID) {
				continue
			}
			report.Found++
			progressed = true
			uc.incident(constants.IncidentStaleReservation)
			uc.log.Errorf("financial integrity incident (%s): user_id=%s, reservation_id=%s, request_id=%s, estimate=%d, created_at=%s",
				constants.IncidentStaleReservation, r.UserID, r.ID, r.RequestID, r.Estimate, r.CreatedAt.Format(time.RFC3339))
			if _, err := uc.reservations.Refund(ctx, r.ID, constants.RefundReasonReconcile); err != nil {
				uc.log.Errorf("refund stale reservation failed: reservation_id=%s, error=%v", r.ID, err)
				uc.incident(constants.IncidentRefundFailed)
				report.Failed = append(report.Failed, r.ID)
				continue
			}
			report.Refunded++
		}
		if len(stale) < reconcileBatchSize || !progressed {
			break
		}
	}
	if report.Found > 0 {
		uc.log.Warnf("stale reservation sweep: found=%d, refunded=%d, failed=%d", report.Found, report.Refunded, len(report.Failed))
	}
	return report, nil
}

// VerifyRecentLedgers 对指定时间之后有流水的用户做回放核对
func (uc *ReconcileUseCase) VerifyRecentLedgers(ctx context.Context, since time.Time) (*VerifyReport, error) {
	userIDs, err := uc.ledger.ListActiveUserIDs(ctx, since)
	if err != nil {
		uc.log.Errorf("list active users failed: %v", err)
		return nil, wrapInternal(err, "list active users failed")
	}
	report := &VerifyReport{Users: len(userIDs)}
	for _, userID := range userIDs {
		r, err := uc.ledger.VerifyReplay(ctx, userID)
		if err != nil {
			uc.log.Warnf("verify replay failed: user_id=%s, error=%v", userID, err)
			continue
		}
		if !r.Consistent {
			uc.incident(constants.IncidentReplayMismatch)
			report.Mismatched = append(report.Mismatched, userID)
		}
	}
	uc.log.Infof("ledger verification completed: users=%d, mismatched=%d", report.Users, len(report.Mismatched))
	return report, nil
}

func (uc *ReconcileUseCase) incident(kind string) {
	if uc.metrics != nil {
		uc.metrics.ReconcileIncidentTotal.WithLabelValues(kind).Inc()
	}
}

// contains 检查字符串切片是否包含指定字符串
func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
