package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"credit-service/internal/biz"
	"credit-service/internal/conf"

	"github.com/gaoyong06/go-pkg/logger"
	"github.com/go-kratos/kratos/v2/config"
	"github.com/go-kratos/kratos/v2/config/file"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/robfig/cron/v3"
	_ "go.uber.org/automaxprocs"
)

var (
	flagconf string
)

// verifyWindow 每次核对最近这段时间内有流水的用户
const verifyWindow = 2 * time.Hour

// CronApp Cron 应用结构
type CronApp struct {
	creditUseCase *biz.CreditUseCase
}

func init() {
	flag.StringVar(&flagconf, "conf", "../../configs/config.yaml", "config path, eg: -conf config.yaml")
}

func main() {
	flag.Parse()

	c := config.New(
		config.WithSource(
			file.NewSource(flagconf),
		),
	)
	defer c.Close()

	if err := c.Load(); err != nil {
		panic(err)
	}

	var bc conf.Bootstrap
	if err := c.Scan(&bc); err != nil {
		panic(err)
	}

	logConfig := &logger.Config{
		Level:         "info",
		Format:        "json",
		Output:        "stdout",
		FilePath:      "logs/credit-cron.log",
		MaxSize:       100,
		MaxAge:        30,
		MaxBackups:    10,
		Compress:      true,
		EnableConsole: true,
	}
	if bc.Log != nil && bc.Log.Level != "" {
		logConfig.Level = bc.Log.Level
	}

	loggerInstance := log.With(logger.NewLogger(logConfig),
		"ts", log.DefaultTimestamp,
		"caller", log.DefaultCaller,
		"service.name", "credit-cron",
	)
	logHelper := log.NewHelper(loggerInstance)

	app, cleanup, err := wireApp(&bc, loggerInstance)
	if err != nil {
		panic(err)
	}
	defer cleanup()

	// 创建定时任务调度器（支持秒级调度）
	cronScheduler := cron.New(cron.WithSeconds(), cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger)))

	// 超时预扣清理 - 每分钟执行
	_, err = cronScheduler.AddFunc("0 * * * * *", func() {
		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Second)
		defer cancel()

		report, err := app.creditUseCase.SweepStaleReservations(ctx)
		if err != nil {
			logHelper.Errorf("[CRON] Error sweeping stale reservations: %v", err)
			return
		}
		if report.Found > 0 {
			logHelper.Warnf("[CRON] Stale reservations swept: found=%d, refunded=%d, failed=%v",
				report.Found, report.Refunded, report.Failed)
		}
	})
	if err != nil {
		logHelper.Errorf("Failed to add stale reservation sweep job: %v", err)
	}

	// 流水回放核对 - 每小时整点执行
	_, err = cronScheduler.AddFunc("0 0 * * * *", func() {
		logHelper.Info("[CRON] Starting ledger verification...")
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
		defer cancel()

		report, err := app.creditUseCase.VerifyRecentLedgers(ctx, verifyWindow)
		if err != nil {
			logHelper.Errorf("[CRON] Error verifying ledgers: %v", err)
			return
		}
		if len(report.Mismatched) > 0 {
			logHelper.Errorf("[CRON] Ledger mismatches found: users=%d, mismatched=%v", report.Users, report.Mismatched)
			return
		}
		logHelper.Infof("[CRON] Ledger verification completed: users=%d", report.Users)
	})
	if err != nil {
		logHelper.Errorf("Failed to add ledger verification job: %v", err)
	}

	cronScheduler.Start()
	logHelper.Info("========================================")
	logHelper.Info("Cron jobs started successfully")
	logHelper.Info("Scheduled jobs:")
	logHelper.Info("  - Stale reservation sweep: every minute")
	logHelper.Info("  - Ledger verification: every hour")
	logHelper.Info("========================================")

	// 优雅退出
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logHelper.Info("Shutting down gracefully...")

	ctx := cronScheduler.Stop()
	select {
	case <-ctx.Done():
		logHelper.Info("Cron jobs stopped gracefully")
	case <-time.After(5 * time.Second):
		logHelper.Info("Cron jobs forced to stop after timeout")
	}
}
