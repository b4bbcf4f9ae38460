package data

import (
	"context"
	"fmt"
	"time"

	"credit-service/internal/biz"
	"credit-service/internal/conf"
	"credit-service/internal/data/model"

	"github.com/apache/rocketmq-client-go/v2"
	"github.com/apache/rocketmq-client-go/v2/primitive"
	"github.com/apache/rocketmq-client-go/v2/producer"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-redis/redis/v8"
	"github.com/go-redsync/redsync/v4"
	goredis "github.com/go-redsync/redsync/v4/redis/goredis/v8"
	"github.com/google/wire"
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// ProviderSet is data providers.
var ProviderSet = wire.NewSet(
	NewDB,
	NewRedis,
	NewRedsync,
	NewMQProducer,
	NewData,
	NewTransaction,
	NewUserBalanceRepo,
	NewLedgerRepo,
	NewReservationRepo,
	NewSubscriptionRepo,
	NewStatsRepo,
	NewUserLocker,
	NewUsagePublisher,
	NewProviderClient,
)

// Data 数据层结构体
type Data struct {
	db  *gorm.DB
	rdb *redis.Client
	mq  rocketmq.Producer
	// usageTopic 用量事件 topic
	usageTopic string
}

type txKey struct{}

// NewDB 创建数据库连接
func NewDB(c *conf.Bootstrap) (*gorm.DB, error) {
	if c.Data == nil || c.Data.Database == nil {
		return nil, fmt.Errorf("database config is nil")
	}
	var dialector gorm.Dialector
	switch c.Data.Database.Driver {
	case "", "mysql":
		dialector = mysql.Open(c.Data.Database.Source)
	case "sqlite":
		dialector = sqlite.Open(c.Data.Database.Source)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", c.Data.Database.Driver)
	}
	db, err := gorm.Open(dialector, &gorm.Config{TranslateError: true})
	if err != nil {
		return nil, err
	}
	if c.Data.Database.Driver == "sqlite" {
		// sqlite 单连接，避免事务内外抢锁
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}
	if c.Data.Database.AutoMigrate {
		if err := db.AutoMigrate(model.All()...); err != nil {
			return nil, fmt.Errorf("auto migrate failed: %w", err)
		}
	}
	return db, nil
}

// NewRedis 创建 Redis 连接，未配置地址时返回 nil（不使用缓存和分布式锁）
func NewRedis(c *conf.Bootstrap, logger log.Logger) (*redis.Client, error) {
	if c.Data == nil || c.Data.Redis == nil || c.Data.Redis.Addr == "" {
		log.NewHelper(logger).Info("redis not configured, balance cache and user lock disabled")
		return nil, nil
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:         c.Data.Redis.Addr,
		Password:     c.Data.Redis.Password,
		DB:           c.Data.Redis.Db,
		ReadTimeout:  c.Data.Redis.ReadTimeout.AsDuration(),
		WriteTimeout: c.Data.Redis.WriteTimeout.AsDuration(),
	})

	// 测试连接
	if err := rdb.Ping(rdb.Context()).Err(); err != nil {
		return nil, err
	}

	return rdb, nil
}

// NewRedsync 基于 Redis 创建分布式锁，没有 Redis 时返回 nil
func NewRedsync(rdb *redis.Client) *redsync.Redsync {
	if rdb == nil {
		return nil
	}
	return redsync.New(goredis.NewPool(rdb))
}

// NewMQProducer 创建 RocketMQ 生产者，未启用时返回 nil
func NewMQProducer(c *conf.Bootstrap, logger log.Logger) (rocketmq.Producer, func(), error) {
	if c.Data == nil || c.Data.Rocketmq == nil || !c.Data.Rocketmq.Enabled {
		log.NewHelper(logger).Info("rocketmq disabled, usage events are recorded synchronously")
		return nil, func() {}, nil
	}
	mqConf := c.Data.Rocketmq
	retry := int(mqConf.RetryTimes)
	if retry <= 0 {
		retry = 2
	}
	p, err := rocketmq.NewProducer(
		producer.WithNsResolver(primitive.NewPassthroughResolver(mqConf.NameServers)),
		producer.WithRetry(retry),
		producer.WithGroupName(mqConf.GroupName),
	)
	if err != nil {
		return nil, nil, err
	}
	if err := p.Start(); err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		if err := p.Shutdown(); err != nil {
			log.NewHelper(logger).Errorf("failed to shutdown rocketmq producer: %v", err)
		}
	}
	return p, cleanup, nil
}

// NewData 创建数据层实例
func NewData(c *conf.Bootstrap, logger log.Logger, db *gorm.DB, rdb *redis.Client, mq rocketmq.Producer) (*Data, func(), error) {
	cleanup := func() {
		log.NewHelper(logger).Info("closing the data resources")
		sqlDB, err := db.DB()
		if err == nil {
			sqlDB.Close()
		}
		if rdb != nil {
			if err := rdb.Close(); err != nil {
				log.NewHelper(logger).Errorf("failed to close redis: %v", err)
			}
		}
	}

	d := &Data{
		db:  db,
		rdb: rdb,
		mq:  mq,
	}
	if c.Data != nil && c.Data.Rocketmq != nil {
		d.usageTopic = c.Data.Rocketmq.Topic
	}
	return d, cleanup, nil
}

// DB 返回 ctx 中的事务，不在事务中时返回普通连接
func (d *Data) DB(ctx context.Context) *gorm.DB {
	if tx, ok := ctx.Value(txKey{}).(*gorm.DB); ok {
		return tx
	}
	return d.db.WithContext(ctx)
}

// InTx 在事务中执行 fn，ctx 中已有事务时直接复用
func (d *Data) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(*gorm.DB); ok {
		return fn(ctx)
	}
	return d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(context.WithValue(ctx, txKey{}, tx))
	})
}

func inTx(ctx context.Context) bool {
	_, ok := ctx.Value(txKey{}).(*gorm.DB)
	return ok
}

// NewTransaction 创建事务管理（返回 biz.Transaction 接口）
func NewTransaction(d *Data) biz.Transaction {
	return d
}

// cacheContext 缓存操作使用短超时，失败不影响主流程
func cacheContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), 1*time.Second)
}
