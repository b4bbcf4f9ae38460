package biz

import (
	"context"
	"encoding/json"
	"time"
)

// InvokeRequest 计量调用请求
type InvokeRequest struct {
	OperationType string          `json:"operation_type"`
	ModelID       string          `json:"model_id"`
	Payload       json.RawMessage `json:"payload"`
}

// InvokeResult 计量调用结果
type InvokeResult struct {
	Result json.RawMessage `json:"result"`
	Usage  Usage           `json:"usage"`
}

// MeteredInvoker 上游计量服务客户端接口（由数据层实现）
type MeteredInvoker interface {
	Invoke(ctx context.Context, req *InvokeRequest) (*InvokeResult, error)
	// Stream 逐块回调，最后返回用量汇总
	Stream(ctx context.Context, req *InvokeRequest, onChunk func(chunk []byte) error) (*Usage, error)
}

// TierProvider 查询用户会员等级
type TierProvider interface {
	GetUserTier(ctx context.Context, userID string) (string, error)
}

// UsageEvent 结算完成后投递的用量事件，用于异步汇总统计
type UsageEvent struct {
	EventID       string    `json:"event_id"`
	UserID        string    `json:"user_id"`
	ReservationID string    `json:"reservation_id"`
	RequestID     string    `json:"request_id"`
	OperationType string    `json:"operation_type"`
	ModelID       string    `json:"model_id"`
	Estimate      int64     `json:"estimate"`
	Charged       int64     `json:"charged"`
	Usage         Usage     `json:"usage"`
	SettledAt     time.Time `json:"settled_at"`
}

// UsagePublisher 用量事件投递接口
type UsagePublisher interface {
	PublishUsage(ctx context.Context, event *UsageEvent) error
}
