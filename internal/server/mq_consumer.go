package server

import (
	"context"
	"encoding/json"

	"credit-service/internal/biz"
	"credit-service/internal/conf"

	"github.com/apache/rocketmq-client-go/v2"
	"github.com/apache/rocketmq-client-go/v2/consumer"
	"github.com/apache/rocketmq-client-go/v2/primitive"
	"github.com/go-kratos/kratos/v2/log"
)

// MQConsumerServer 消费用量事件，汇总到用量统计
type MQConsumerServer struct {
	c       rocketmq.PushConsumer
	stats   *biz.StatsUseCase
	conf    *conf.Data
	log     *log.Helper
	enabled bool
}

// NewMQConsumerServer creates a RocketMQ consumer server
func NewMQConsumerServer(c *conf.Bootstrap, stats *biz.StatsUseCase, logger log.Logger) *MQConsumerServer {
	helper := log.NewHelper(logger)
	if c.Data == nil || c.Data.Rocketmq == nil || !c.Data.Rocketmq.Enabled {
		return &MQConsumerServer{log: helper, enabled: false}
	}

	r, err := rocketmq.NewPushConsumer(
		consumer.WithNsResolver(primitive.NewPassthroughResolver(c.Data.Rocketmq.NameServers)),
		consumer.WithGroupName(c.Data.Rocketmq.GroupName),
		consumer.WithRetry(int(c.Data.Rocketmq.RetryTimes)),
		consumer.WithConsumeMessageBatchMaxSize(100),
	)
	if err != nil {
		helper.Errorf("init consumer error: %v", err)
		return &MQConsumerServer{log: helper, enabled: false}
	}

	return &MQConsumerServer{
		c:       r,
		stats:   stats,
		conf:    c.Data,
		log:     helper,
		enabled: true,
	}
}

// Start starts the consumer
func (s *MQConsumerServer) Start(ctx context.Context) error {
	if !s.enabled || s.c == nil {
		s.log.Infof("MQConsumerServer is disabled, skipping startup")
		return nil
	}

	s.log.Infof("Starting MQConsumerServer, topic: %s", s.conf.Rocketmq.Topic)

	if err := s.c.Subscribe(s.conf.Rocketmq.Topic, consumer.MessageSelector{}, s.handler); err != nil {
		// RocketMQ 不可用时不阻塞启动，用量事件会在投递失败时降级写库
		s.log.Errorf("Failed to subscribe to topic %s: %v", s.conf.Rocketmq.Topic, err)
		return nil
	}

	if err := s.c.Start(); err != nil {
		s.log.Errorf("Failed to start RocketMQ consumer: %v", err)
		return nil
	}
	return nil
}

// Stop stops the consumer
func (s *MQConsumerServer) Stop(ctx context.Context) error {
	if !s.enabled || s.c == nil {
		return nil
	}
	s.log.Info("Stopping MQConsumerServer")
	return s.c.Shutdown()
}

func (s *MQConsumerServer) handler(ctx context.Context, msgs ...*primitive.MessageExt) (consumer.ConsumeResult, error) {
	events := decodeUsageEvents(s.log, msgs)
	if len(events) == 0 {
		return consumer.ConsumeSuccess, nil
	}
	if err := s.stats.RecordUsage(ctx, events); err != nil {
		s.log.Errorf("RecordUsage failed: %v", err)
		return consumer.ConsumeRetryLater, nil
	}
	return consumer.ConsumeSuccess, nil
}

// decodeUsageEvents 解析消息体，无法解析的消息丢弃
func decodeUsageEvents(l *log.Helper, msgs []*primitive.MessageExt) []*biz.UsageEvent {
	events := make([]*biz.UsageEvent, 0, len(msgs))
	for _, msg := range msgs {
		var event biz.UsageEvent
		if err := json.Unmarshal(msg.Body, &event); err != nil {
			l.Errorf("Unmarshal message failed: %v, body: %s", err, string(msg.Body))
			continue
		}
		if event.ReservationID == "" {
			l.Warnf("usage event without reservation_id dropped: event_id=%s", event.EventID)
			continue
		}
		events = append(events, &event)
	}
	return events
}
