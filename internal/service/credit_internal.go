package service

import (
	"context"

	"credit-service/internal/biz"

	"github.com/go-kratos/kratos/v2/log"
)

// CreditInternalService 面向 Gateway 与业务服务的内部接口
type CreditInternalService struct {
	uc  *biz.CreditUseCase
	log *log.Helper
}

// NewCreditInternalService 创建 CreditInternalService
func NewCreditInternalService(uc *biz.CreditUseCase, logger log.Logger) *CreditInternalService {
	return &CreditInternalService{
		uc:  uc,
		log: log.NewHelper(logger),
	}
}

// InitAccount 开户
func (s *CreditInternalService) InitAccount(ctx context.Context, req *InitAccountRequest) (*biz.BalanceView, error) {
	return s.uc.InitAccount(ctx, req.UserId)
}

// Reserve 预扣
func (s *CreditInternalService) Reserve(ctx context.Context, req *ReserveRequest) (*biz.ReserveResult, error) {
	return s.uc.Reserve(ctx, &biz.ReserveRequest{
		UserID:        req.UserId,
		OperationType: req.OperationType,
		ModelID:       req.ModelId,
		PayloadSize:   req.PayloadSize,
		RequestID:     req.RequestId,
	})
}

// Settle 结算
func (s *CreditInternalService) Settle(ctx context.Context, req *SettleRequest) (*biz.SettleResult, error) {
	res, err := s.uc.Settle(ctx, req.ReservationId, req.Usage)
	if err != nil {
		s.log.Errorf("Settle failed: reservation_id=%s, error=%v", req.ReservationId, err)
		return nil, err
	}
	return res, nil
}

// Refund 退还
func (s *CreditInternalService) Refund(ctx context.Context, req *RefundRequest) (*biz.RefundResult, error) {
	res, err := s.uc.Refund(ctx, req.ReservationId, req.Reason)
	if err != nil {
		s.log.Errorf("Refund failed: reservation_id=%s, error=%v", req.ReservationId, err)
		return nil, err
	}
	return res, nil
}

// GetReservation 查询预扣
func (s *CreditInternalService) GetReservation(ctx context.Context, req *GetReservationRequest) (*biz.Reservation, error) {
	return s.uc.GetReservation(ctx, req.ReservationId)
}

// Invoke 计量调用（预扣 -> 调用 -> 结算/退还）
func (s *CreditInternalService) Invoke(ctx context.Context, req *InvokeRequest) (*InvokeReply, error) {
	res, err := s.uc.Invoke(ctx, req.reserveRequest(), req.Payload)
	if err != nil {
		return nil, err
	}
	return newInvokeReply(res), nil
}

// InvokeStream 流式计量调用，chunk 逐块写回调用方
func (s *CreditInternalService) InvokeStream(ctx context.Context, req *InvokeRequest, onChunk func([]byte) error) (*InvokeReply, error) {
	res, err := s.uc.InvokeStream(ctx, req.reserveRequest(), req.Payload, onChunk)
	if err != nil {
		return nil, err
	}
	return newInvokeReply(res), nil
}

// Grant 发放永久积分
func (s *CreditInternalService) Grant(ctx context.Context, req *GrantRequest) (*GrantReply, error) {
	res, err := s.uc.Grant(ctx, req.UserId, req.Amount, req.RequestId, req.Reason)
	if err != nil {
		s.log.Errorf("Grant failed: user_id=%s, request_id=%s, error=%v", req.UserId, req.RequestId, err)
		return nil, err
	}
	reply := &GrantReply{EntryId: res.Entry.ID, Replayed: res.Replayed}
	balance, err := s.uc.GetBalance(ctx, req.UserId)
	if err != nil {
		// 发放已提交，余额读取失败时只返回流水
		s.log.Warnf("Grant balance read failed: user_id=%s, request_id=%s, error=%v", req.UserId, req.RequestId, err)
		return reply, nil
	}
	reply.Balance = balance
	return reply, nil
}

// VerifyLedger 流水回放核对
func (s *CreditInternalService) VerifyLedger(ctx context.Context, req *VerifyLedgerRequest) (*biz.ReplayReport, error) {
	return s.uc.VerifyLedger(ctx, req.UserId)
}

func newInvokeReply(res *biz.ExecuteResult) *InvokeReply {
	r := res.Reservation
	reply := &InvokeReply{
		ReservationId: r.ID,
		Status:        r.Status,
		Replayed:      res.Replayed,
		Estimate:      r.Estimate,
		Charged:       r.Drawn(),
		Shortfall:     r.Shortfall,
		Usage:         res.Usage,
		Result:        res.Result,
	}
	if res.Settle != nil {
		reply.Charged = res.Settle.Charged
		reply.Balance = res.Settle.BalanceAfter
	}
	return reply
}
