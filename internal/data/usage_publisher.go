package data

import (
	"context"
	"encoding/json"

	"credit-service/internal/biz"

	"github.com/apache/rocketmq-client-go/v2/primitive"
	"github.com/go-kratos/kratos/v2/log"
)

// usagePublisher 用量事件投递：启用 MQ 时异步汇总，否则直接写入统计
type usagePublisher struct {
	data  *Data
	stats biz.StatsRepo
	log   *log.Helper
}

// NewUsagePublisher 创建用量事件投递（返回 biz.UsagePublisher 接口）
func NewUsagePublisher(data *Data, stats biz.StatsRepo, logger log.Logger) biz.UsagePublisher {
	return &usagePublisher{
		data:  data,
		stats: stats,
		log:   log.NewHelper(logger),
	}
}

// PublishUsage 投递用量事件，MQ 发送失败时降级为同步写入
func (p *usagePublisher) PublishUsage(ctx context.Context, event *biz.UsageEvent) error {
	if p.data.mq == nil {
		return p.stats.RecordUsage(ctx, []*biz.UsageEvent{event})
	}
	body, err := json.Marshal(event)
	if err != nil {
		return err
	}
	msg := primitive.NewMessage(p.data.usageTopic, body)
	msg.WithKeys([]string{event.ReservationID})
	if _, err := p.data.mq.SendSync(ctx, msg); err != nil {
		p.log.Errorf("Send RocketMQ failed: reservation_id=%s, error=%v", event.ReservationID, err)
		// 降级写库
		return p.stats.RecordUsage(ctx, []*biz.UsageEvent{event})
	}
	return nil
}
