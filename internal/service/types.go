package service

import (
	"encoding/json"
	"time"

	"credit-service/internal/biz"
)

// GetAccountRequest 账户查询
type GetAccountRequest struct {
	UserId string `json:"user_id"`
}

// GetAccountReply 账户信息
type GetAccountReply struct {
	UserId                string            `json:"user_id"`
	Permanent             int64             `json:"permanent"`
	SubscriptionEffective int64             `json:"subscription_effective"`
	Total                 int64             `json:"total"`
	AllowanceExpiresAt    *time.Time        `json:"allowance_expires_at,omitempty"`
	Tier                  string            `json:"tier"`
	Subscription          *biz.Subscription `json:"subscription,omitempty"`
}

// GetBalanceRequest 余额查询
type GetBalanceRequest struct {
	UserId string `json:"user_id"`
}

// EstimateRequest 估算请求
type EstimateRequest struct {
	UserId        string `json:"user_id"`
	OperationType string `json:"operation_type"`
	ModelId       string `json:"model_id"`
	PayloadSize   int64  `json:"payload_size"`
}

// ListLedgerRequest 流水查询
type ListLedgerRequest struct {
	UserId    string `json:"user_id"`
	Type      string `json:"type"`
	RequestId string `json:"request_id"`
	Since     string `json:"since"` // RFC3339
	Until     string `json:"until"` // RFC3339
	Page      int32  `json:"page"`
	PageSize  int32  `json:"page_size"`
}

// LedgerEntry 流水
type LedgerEntry struct {
	EntryId           string            `json:"entry_id"`
	UserId            string            `json:"user_id"`
	Type              string            `json:"type"`
	Delta             int64             `json:"delta"`
	PermanentDelta    int64             `json:"permanent_delta"`
	SubscriptionDelta int64             `json:"subscription_delta"`
	BalanceBefore     int64             `json:"balance_before"`
	BalanceAfter      int64             `json:"balance_after"`
	RequestId         string            `json:"request_id"`
	Metadata          map[string]string `json:"metadata,omitempty"`
	CreatedAt         time.Time         `json:"created_at"`
}

// ListLedgerReply 流水列表
type ListLedgerReply struct {
	Entries []*LedgerEntry `json:"entries"`
	Total   int64          `json:"total"`
}

// VerifyLedgerRequest 回放核对
type VerifyLedgerRequest struct {
	UserId string `json:"user_id"`
}

// ListPlansRequest 套餐目录
type ListPlansRequest struct{}

// ListPlansReply 套餐目录
type ListPlansReply struct {
	Plans []*biz.Plan `json:"plans"`
}

// ApplySubscriptionRequest 购买/续费/升级套餐
type ApplySubscriptionRequest struct {
	UserId    string `json:"user_id"`
	PlanId    string `json:"plan_id"`
	RequestId string `json:"request_id"`
}

// CancelSubscriptionRequest 取消订阅
type CancelSubscriptionRequest struct {
	UserId string `json:"user_id"`
}

// GetUsageStatsRequest 用量统计
type GetUsageStatsRequest struct {
	UserId string `json:"user_id"`
	Period string `json:"period"` // today / month
}

// InitAccountRequest 开户
type InitAccountRequest struct {
	UserId string `json:"user_id"`
}

// ReserveRequest 预扣
type ReserveRequest struct {
	UserId        string `json:"user_id"`
	OperationType string `json:"operation_type"`
	ModelId       string `json:"model_id"`
	PayloadSize   int64  `json:"payload_size"`
	RequestId     string `json:"request_id"`
}

// SettleRequest 结算
type SettleRequest struct {
	ReservationId string    `json:"reservation_id"`
	Usage         biz.Usage `json:"usage"`
}

// RefundRequest 退还
type RefundRequest struct {
	ReservationId string `json:"reservation_id"`
	Reason        string `json:"reason"`
}

// GetReservationRequest 查询预扣
type GetReservationRequest struct {
	ReservationId string `json:"reservation_id"`
}

// InvokeRequest 计量调用
type InvokeRequest struct {
	UserId        string          `json:"user_id"`
	OperationType string          `json:"operation_type"`
	ModelId       string          `json:"model_id"`
	RequestId     string          `json:"request_id"`
	Payload       json.RawMessage `json:"payload"`
}

func (r *InvokeRequest) reserveRequest() *biz.ReserveRequest {
	return &biz.ReserveRequest{
		UserID:        r.UserId,
		OperationType: r.OperationType,
		ModelID:       r.ModelId,
		PayloadSize:   int64(len(r.Payload)),
		RequestID:     r.RequestId,
	}
}

// InvokeReply 计量调用结果
type InvokeReply struct {
	ReservationId string           `json:"reservation_id"`
	Status        string           `json:"status"`
	Replayed      bool             `json:"replayed"`
	Estimate      int64            `json:"estimate"`
	Charged       int64            `json:"charged"`
	Shortfall     int64            `json:"shortfall"`
	Usage         *biz.Usage       `json:"usage,omitempty"`
	Balance       *biz.BalanceView `json:"balance,omitempty"`
	Result        json.RawMessage  `json:"result,omitempty"`
}

// GrantRequest 发放永久积分
type GrantRequest struct {
	UserId    string `json:"user_id"`
	Amount    int64  `json:"amount"`
	RequestId string `json:"request_id"`
	Reason    string `json:"reason"`
}

// GrantReply 发放结果
type GrantReply struct {
	EntryId  string           `json:"entry_id"`
	Replayed bool             `json:"replayed"`
	Balance  *biz.BalanceView `json:"balance,omitempty"`
}
