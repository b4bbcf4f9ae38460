package biz

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"credit-service/internal/constants"
	creditErrors "credit-service/internal/errors"
	"credit-service/internal/metrics"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/uuid"
)

// Reservation 预扣记录：ESTIMATED -> RESERVED -> SETTLED | REFUNDED
type Reservation struct {
	ID                string    `json:"reservation_id"`
	UserID            string    `json:"user_id"`
	RequestID         string    `json:"request_id"`
	OperationType     string    `json:"operation_type"`
	ModelID           string    `json:"model_id"`
	Estimate          int64     `json:"estimate"`
	PermanentDrawn    int64     `json:"permanent_drawn"`
	SubscriptionDrawn int64     `json:"subscription_drawn"`
	Actual            int64     `json:"actual"`
	Shortfall         int64     `json:"shortfall"`
	Status            string    `json:"status"`
	Reason            string    `json:"reason,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// Drawn 当前实际从用户处扣走的积分
func (r *Reservation) Drawn() int64 {
	return r.PermanentDrawn + r.SubscriptionDrawn
}

// ReservationRepo 预扣数据层接口（定义在 biz 层）
type ReservationRepo interface {
	// CreateReservation (user_id, request_id) 重复时返回 ErrDuplicateEntry
	CreateReservation(ctx context.Context, r *Reservation) error
	GetReservation(ctx context.Context, reservationID string) (*Reservation, error)
	GetReservationByRequestID(ctx context.Context, userID, requestID string) (*Reservation, error)
	// FinalizeReservation 仅当状态仍为 reserved 时更新，返回是否更新成功
	FinalizeReservation(ctx context.Context, r *Reservation) (bool, error)
	ListStaleReservations(ctx context.Context, before time.Time, limit int) ([]*Reservation, error)
}

// ReserveRequest 预扣请求
type ReserveRequest struct {
	UserID        string `json:"user_id"`
	OperationType string `json:"operation_type"`
	ModelID       string `json:"model_id"`
	PayloadSize   int64  `json:"payload_size"`
	RequestID     string `json:"request_id"`
}

// ReserveResult 预扣结果
type ReserveResult struct {
	Reservation *Reservation `json:"reservation"`
	Estimate    int64        `json:"estimate"`
	Replayed    bool         `json:"replayed"`
	Balance     *BalanceView `json:"balance,omitempty"`
}

// SettleResult 结算结果
type SettleResult struct {
	Reservation  *Reservation `json:"reservation"`
	Charged      int64        `json:"charged"`
	Diff         int64        `json:"diff"`
	Shortfall    int64        `json:"shortfall"`
	BalanceAfter *BalanceView `json:"balance_after"`
}

// RefundResult 退还结果
type RefundResult struct {
	Reservation  *Reservation `json:"reservation"`
	Refunded     int64        `json:"refunded"`
	BalanceAfter *BalanceView `json:"balance_after"`
}

// ExecuteResult 一次完整计量调用的结果
type ExecuteResult struct {
	Reservation *Reservation  `json:"reservation"`
	Usage       *Usage        `json:"usage,omitempty"`
	Settle      *SettleResult `json:"settle,omitempty"`
	Result      []byte        `json:"result,omitempty"`
	Replayed    bool          `json:"replayed"`
}

// ReservationUseCase 预扣/结算协调器
type ReservationUseCase struct {
	repo      ReservationRepo
	balance   *UserBalanceUseCase
	pricing   *PricingEngine
	tiers     TierProvider
	invoker   MeteredInvoker
	publisher UsagePublisher
	conf      *BillingConfig
	metrics   *metrics.CreditMetrics
	log       *log.Helper
}

// NewReservationUseCase 创建预扣协调器
func NewReservationUseCase(
	repo ReservationRepo,
	balance *UserBalanceUseCase,
	pricing *PricingEngine,
	tiers TierProvider,
	invoker MeteredInvoker,
	publisher UsagePublisher,
	conf *BillingConfig,
	m *metrics.CreditMetrics,
	logger log.Logger,
) *ReservationUseCase {
	return &ReservationUseCase{
		repo:      repo,
		balance:   balance,
		pricing:   pricing,
		tiers:     tiers,
		invoker:   invoker,
		publisher: publisher,
		conf:      conf,
		metrics:   m,
		log:       log.NewHelper(logger),
	}
}

// EstimateCost 估算积分
func (uc *ReservationUseCase) EstimateCost(operationType, modelID string, payloadSize int64) (int64, error) {
	cost, err := uc.pricing.EstimateCost(operationType, modelID, payloadSize)
	if creditErrors.IsPricingNotFound(err) {
		uc.log.Errorf("pricing not configured: operation_type=%s, model_id=%s", operationType, modelID)
	}
	return cost, err
}

// Reserve 按估算值预扣，request_id 重复时返回原预扣
func (uc *ReservationUseCase) Reserve(ctx context.Context, req *ReserveRequest) (*ReserveResult, error) {
	if req.UserID == "" || req.RequestID == "" || req.OperationType == "" || req.ModelID == "" {
		return nil, creditErrors.ErrorInvalidArgument("user_id, request_id, operation_type and model_id are required")
	}

	existing, err := uc.repo.GetReservationByRequestID(ctx, req.UserID, req.RequestID)
	if err != nil {
		return nil, wrapInternal(err, "get reservation failed")
	}
	if existing != nil {
		return uc.replayReserve(ctx, existing)
	}

	rule, err := uc.pricing.Rule(req.OperationType, req.ModelID)
	if err != nil {
		uc.log.Errorf("pricing not configured: operation_type=%s, model_id=%s", req.OperationType, req.ModelID)
		uc.observeReserve(req.OperationType, constants.ResultFailed)
		return nil, err
	}
	if rule.RequiredTier != "" {
		tier, err := uc.tiers.GetUserTier(ctx, req.UserID)
		if err != nil {
			return nil, err
		}
		if err := uc.pricing.CheckTier(rule, req.ModelID, tier); err != nil {
			uc.observeReserve(req.OperationType, constants.ResultFailed)
			return nil, err
		}
	}
	estimate, err := uc.pricing.EstimateCost(req.OperationType, req.ModelID, req.PayloadSize)
	if err != nil {
		return nil, err
	}

	var reservation *Reservation
	res, err := uc.balance.ApplyDelta(ctx, &Mutation{
		UserID:    req.UserID,
		RequestID: req.RequestID,
		Type:      constants.EntryTypeConsume,
		Compute: func(_ context.Context, b *UserBalance, now time.Time) (*BalanceChange, error) {
			split, err := SplitDeduction(b, estimate, now)
			if err != nil {
				return nil, err
			}
			reservation = &Reservation{
				ID:                uuid.New().String(),
				UserID:            req.UserID,
				RequestID:         req.RequestID,
				OperationType:     req.OperationType,
				ModelID:           req.ModelID,
				Estimate:          estimate,
				PermanentDrawn:    split.Permanent,
				SubscriptionDrawn: split.Subscription,
				Status:            constants.ReservationStatusReserved,
				CreatedAt:         now,
				UpdatedAt:         now,
			}
			change := split.debit()
			change.Metadata = map[string]string{
				"reservation_id": reservation.ID,
				"operation_type": req.OperationType,
				"model_id":       req.ModelID,
				"estimate":       strconv.FormatInt(estimate, 10),
			}
			return change, nil
		},
		AfterApply: func(ctx context.Context, _ *LedgerEntry) error {
			return uc.repo.CreateReservation(ctx, reservation)
		},
	})
	if err != nil {
		if creditErrors.IsInsufficientCredits(err) {
			uc.log.Infof("reserve rejected (%s): user_id=%s, request_id=%s, estimate=%d",
				constants.ReservationStatusFailedNoReservation, req.UserID, req.RequestID, estimate)
			uc.observeReserve(req.OperationType, constants.ResultInsufficient)
			return nil, err
		}
		uc.observeReserve(req.OperationType, constants.ResultFailed)
		return nil, err
	}
	if res.Replayed {
		existing, err := uc.repo.GetReservationByRequestID(ctx, req.UserID, req.RequestID)
		if err != nil || existing == nil {
			return nil, creditErrors.ErrorInternal("reservation missing for replayed request %s", req.RequestID)
		}
		return uc.replayReserve(ctx, existing)
	}

	uc.observeReserve(req.OperationType, constants.ResultSuccess)
	if uc.metrics != nil {
		uc.metrics.ReserveCredits.WithLabelValues(req.OperationType).Add(float64(estimate))
	}
	return &ReserveResult{
		Reservation: reservation,
		Estimate:    estimate,
		Balance:     NewBalanceView(res.Balance, uc.balance.Now()),
	}, nil
}

func (uc *ReservationUseCase) replayReserve(ctx context.Context, r *Reservation) (*ReserveResult, error) {
	uc.observeReserve(r.OperationType, constants.ResultReplayed)
	view, err := uc.balance.GetBalance(ctx, r.UserID)
	if err != nil {
		return nil, err
	}
	return &ReserveResult{Reservation: r, Estimate: r.Estimate, Replayed: true, Balance: view}, nil
}

// Settle 按实际用量结算：多退少补，余额不足补扣时扣到 0 为止
func (uc *ReservationUseCase) Settle(ctx context.Context, reservationID string, usage Usage) (*SettleResult, error) {
	if err := usage.Validate(); err != nil {
		return nil, err
	}
	r, err := uc.getReserved(ctx, reservationID)
	if err != nil {
		return nil, err
	}
	actual, err := uc.pricing.ComputeCost(r.OperationType, r.ModelID, usage, constants.CostModeFinal)
	if err != nil {
		uc.log.Errorf("Settle pricing failed: reservation_id=%s, error=%v", reservationID, err)
		return nil, err
	}
	diff := actual - r.Estimate

	var settled *Reservation
	res, err := uc.balance.ApplyDelta(ctx, &Mutation{
		UserID:    r.UserID,
		RequestID: r.RequestID,
		Type:      constants.EntryTypeAdjust,
		Compute: func(_ context.Context, b *UserBalance, now time.Time) (*BalanceChange, error) {
			final := *r
			final.Actual = actual
			final.Status = constants.ReservationStatusSettled
			final.Shortfall = 0
			final.UpdatedAt = now

			var change *BalanceChange
			switch {
			case diff > 0:
				split, shortfall := DrainDeduction(b, diff, now)
				final.PermanentDrawn += split.Permanent
				final.SubscriptionDrawn += split.Subscription
				final.Shortfall = shortfall
				change = split.debit()
			case diff < 0:
				excess := -diff
				back := Split{Permanent: min(excess, r.PermanentDrawn)}
				back.Subscription = excess - back.Permanent
				final.PermanentDrawn -= back.Permanent
				final.SubscriptionDrawn -= back.Subscription
				change = RefundSplit(b, back, now).credit()
			default:
				change = &BalanceChange{}
			}
			change.Metadata = map[string]string{
				"reservation_id": r.ID,
				"estimate":       strconv.FormatInt(r.Estimate, 10),
				"actual":         strconv.FormatInt(actual, 10),
				"diff":           strconv.FormatInt(diff, 10),
				"shortfall":      strconv.FormatInt(final.Shortfall, 10),
			}
			settled = &final
			return change, nil
		},
		AfterApply: func(ctx context.Context, _ *LedgerEntry) error {
			return uc.finalize(ctx, settled)
		},
	})
	if err != nil {
		return nil, err
	}
	if res.Replayed {
		return nil, creditErrors.ErrorReservationNotFound(reservationID)
	}

	uc.observeSettle(diff, settled.Shortfall)
	if settled.Shortfall > 0 {
		uc.log.Warnf("settle overdraft drained to zero: user_id=%s, reservation_id=%s, shortfall=%d",
			r.UserID, r.ID, settled.Shortfall)
	}

	uc.publishUsage(ctx, settled, usage)

	return &SettleResult{
		Reservation:  settled,
		Charged:      settled.Drawn(),
		Diff:         diff,
		Shortfall:    settled.Shortfall,
		BalanceAfter: NewBalanceView(res.Balance, uc.balance.Now()),
	}, nil
}

// Refund 全额退还预扣，不保留任何手续费
func (uc *ReservationUseCase) Refund(ctx context.Context, reservationID, reason string) (*RefundResult, error) {
	r, err := uc.getReserved(ctx, reservationID)
	if err != nil {
		return nil, err
	}
	if reason == "" {
		reason = constants.RefundReasonManual
	}

	var refunded *Reservation
	res, err := uc.balance.ApplyDelta(ctx, &Mutation{
		UserID:    r.UserID,
		RequestID: r.RequestID,
		Type:      constants.EntryTypeRefund,
		Compute: func(_ context.Context, b *UserBalance, now time.Time) (*BalanceChange, error) {
			final := *r
			final.Status = constants.ReservationStatusRefunded
			final.Reason = reason
			final.UpdatedAt = now
			refunded = &final

			back := Split{Subscription: r.SubscriptionDrawn, Permanent: r.PermanentDrawn}
			change := RefundSplit(b, back, now).credit()
			change.Metadata = map[string]string{
				"reservation_id": r.ID,
				"reason":         reason,
			}
			return change, nil
		},
		AfterApply: func(ctx context.Context, _ *LedgerEntry) error {
			return uc.finalize(ctx, refunded)
		},
	})
	if err != nil {
		return nil, err
	}
	if res.Replayed {
		return nil, creditErrors.ErrorReservationNotFound(reservationID)
	}
	if uc.metrics != nil {
		uc.metrics.RefundTotal.WithLabelValues(reason).Inc()
	}
	uc.log.Infof("reservation refunded: user_id=%s, reservation_id=%s, amount=%d, reason=%s",
		r.UserID, r.ID, r.Drawn(), reason)
	return &RefundResult{
		Reservation:  refunded,
		Refunded:     r.Drawn(),
		BalanceAfter: NewBalanceView(res.Balance, uc.balance.Now()),
	}, nil
}

// Execute 预扣 -> 调用 -> 结算/退还。任何退出路径（错误、超时、取消、panic）都会让预扣进入终态
func (uc *ReservationUseCase) Execute(ctx context.Context, req *ReserveRequest, invoke func(ctx context.Context) (*Usage, error)) (*ExecuteResult, error) {
	reserved, err := uc.Reserve(ctx, req)
	if err != nil {
		return nil, err
	}
	r := reserved.Reservation
	if reserved.Replayed {
		return &ExecuteResult{Reservation: r, Replayed: true}, nil
	}

	finished := false
	defer func() {
		if finished {
			return
		}
		rec := recover()
		reason := constants.RefundReasonProviderFailure
		if rec != nil {
			reason = constants.RefundReasonPanic
		} else if ctx.Err() != nil {
			reason = constants.RefundReasonCancelled
		}
		uc.refundDetached(ctx, r, reason)
		if rec != nil {
			panic(rec)
		}
	}()

	callCtx, cancel := context.WithTimeout(ctx, uc.conf.CallTimeout)
	defer cancel()

	startTime := time.Now()
	usage, callErr := invoke(callCtx)
	if callErr == nil && usage == nil {
		callErr = errors.New("provider returned no usage")
	}
	if callErr == nil {
		callErr = usage.Validate()
	}
	if callErr != nil {
		reason := constants.RefundReasonProviderFailure
		switch {
		case ctx.Err() != nil:
			reason = constants.RefundReasonCancelled
		case errors.Is(callCtx.Err(), context.DeadlineExceeded):
			reason = constants.RefundReasonTimeout
		}
		uc.observeCall(r.OperationType, reason, startTime)
		uc.log.Warnf("metered call failed: user_id=%s, reservation_id=%s, reason=%s, error=%v",
			r.UserID, r.ID, reason, callErr)
		uc.refundDetached(ctx, r, reason)
		finished = true
		return nil, creditErrors.ErrorProviderFailure(fmt.Sprintf("%s: %v", reason, callErr))
	}
	uc.observeCall(r.OperationType, constants.ResultSuccess, startTime)

	settled, err := uc.Settle(context.WithoutCancel(ctx), r.ID, *usage)
	finished = true
	if err != nil {
		uc.log.Errorf("financial integrity incident (%s): user_id=%s, reservation_id=%s, error=%v",
			constants.IncidentSettleFailed, r.UserID, r.ID, err)
		if uc.metrics != nil {
			uc.metrics.ReconcileIncidentTotal.WithLabelValues(constants.IncidentSettleFailed).Inc()
		}
		return nil, err
	}
	return &ExecuteResult{Reservation: settled.Reservation, Usage: usage, Settle: settled}, nil
}

// Run 通过上游客户端执行一次非流式计量调用
func (uc *ReservationUseCase) Run(ctx context.Context, req *ReserveRequest, payload []byte) (*ExecuteResult, error) {
	var body []byte
	res, err := uc.Execute(ctx, req, func(ctx context.Context) (*Usage, error) {
		out, err := uc.invoker.Invoke(ctx, &InvokeRequest{
			OperationType: req.OperationType,
			ModelID:       req.ModelID,
			Payload:       payload,
		})
		if err != nil {
			return nil, err
		}
		body = out.Result
		return &out.Usage, nil
	})
	if err != nil {
		return nil, err
	}
	res.Result = body
	return res, nil
}

// Stream 通过上游客户端执行流式计量调用，调用方断开时同样会退还
func (uc *ReservationUseCase) Stream(ctx context.Context, req *ReserveRequest, payload []byte, onChunk func(chunk []byte) error) (*ExecuteResult, error) {
	return uc.Execute(ctx, req, func(ctx context.Context) (*Usage, error) {
		return uc.invoker.Stream(ctx, &InvokeRequest{
			OperationType: req.OperationType,
			ModelID:       req.ModelID,
			Payload:       payload,
		}, onChunk)
	})
}

// GetReservation 查询预扣
func (uc *ReservationUseCase) GetReservation(ctx context.Context, reservationID string) (*Reservation, error) {
	r, err := uc.repo.GetReservation(ctx, reservationID)
	if err != nil {
		return nil, wrapInternal(err, "get reservation failed")
	}
	if r == nil {
		return nil, creditErrors.ErrorReservationNotFound(reservationID)
	}
	return r, nil
}

// ListStaleReservations 超时未终结的预扣
func (uc *ReservationUseCase) ListStaleReservations(ctx context.Context, before time.Time, limit int) ([]*Reservation, error) {
	return uc.repo.ListStaleReservations(ctx, before, limit)
}

func (uc *ReservationUseCase) getReserved(ctx context.Context, reservationID string) (*Reservation, error) {
	if reservationID == "" {
		return nil, creditErrors.ErrorInvalidArgument("reservation_id is required")
	}
	r, err := uc.repo.GetReservation(ctx, reservationID)
	if err != nil {
		return nil, wrapInternal(err, "get reservation failed")
	}
	if r == nil || r.Status != constants.ReservationStatusReserved {
		return nil, creditErrors.ErrorReservationNotFound(reservationID)
	}
	return r, nil
}

func (uc *ReservationUseCase) finalize(ctx context.Context, r *Reservation) error {
	ok, err := uc.repo.FinalizeReservation(ctx, r)
	if err != nil {
		return err
	}
	if !ok {
		return creditErrors.ErrorReservationNotFound(r.ID)
	}
	return nil
}

// refundDetached 在与调用方取消无关的 context 上退还
func (uc *ReservationUseCase) refundDetached(ctx context.Context, r *Reservation, reason string) {
	if _, err := uc.Refund(context.WithoutCancel(ctx), r.ID, reason); err != nil {
		uc.log.Errorf("financial integrity incident (%s): user_id=%s, reservation_id=%s, error=%v",
			constants.IncidentRefundFailed, r.UserID, r.ID, err)
		if uc.metrics != nil {
			uc.metrics.ReconcileIncidentTotal.WithLabelValues(constants.IncidentRefundFailed).Inc()
		}
	}
}

func (uc *ReservationUseCase) publishUsage(ctx context.Context, r *Reservation, usage Usage) {
	if uc.publisher == nil {
		return
	}
	event := &UsageEvent{
		EventID:       uuid.New().String(),
		UserID:        r.UserID,
		ReservationID: r.ID,
		RequestID:     r.RequestID,
		OperationType: r.OperationType,
		ModelID:       r.ModelID,
		Estimate:      r.Estimate,
		Charged:       r.Drawn(),
		Usage:         usage,
		SettledAt:     r.UpdatedAt,
	}
	if err := uc.publisher.PublishUsage(context.WithoutCancel(ctx), event); err != nil {
		uc.log.Warnf("publish usage event failed: reservation_id=%s, error=%v", r.ID, err)
	}
}

func (uc *ReservationUseCase) observeReserve(operationType, result string) {
	if uc.metrics != nil {
		uc.metrics.ReserveTotal.WithLabelValues(operationType, result).Inc()
	}
}

func (uc *ReservationUseCase) observeSettle(diff, shortfall int64) {
	if uc.metrics == nil {
		return
	}
	direction := constants.SettleDirectionZero
	amount := diff
	switch {
	case diff > 0:
		direction = constants.SettleDirectionCharge
	case diff < 0:
		direction = constants.SettleDirectionRefund
		amount = -diff
	}
	uc.metrics.SettleTotal.WithLabelValues(direction).Inc()
	uc.metrics.SettleDiffCredits.WithLabelValues(direction).Add(float64(amount))
	if shortfall > 0 {
		uc.metrics.OverdraftCredits.Add(float64(shortfall))
	}
}

func (uc *ReservationUseCase) observeCall(operationType, result string, startTime time.Time) {
	if uc.metrics != nil {
		uc.metrics.ProviderCallLatency.WithLabelValues(operationType, result).Observe(time.Since(startTime).Seconds())
	}
}
