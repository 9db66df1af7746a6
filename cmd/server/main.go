package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ledgerpay/internal/config"
	"ledgerpay/internal/handler"
	"ledgerpay/internal/infrastructure/auth"
	"ledgerpay/internal/infrastructure/cache"
	"ledgerpay/internal/infrastructure/database"
	"ledgerpay/internal/infrastructure/lock"
	"ledgerpay/internal/infrastructure/logger"
	"ledgerpay/internal/infrastructure/mq"
	"ledgerpay/internal/job"
	"ledgerpay/internal/payment"
	"ledgerpay/internal/service"
	"ledgerpay/pkg/idgen"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	// .env 只在本地开发时存在
	_ = godotenv.Load()

	configPath := os.Getenv("LEDGER_CONFIG")
	if configPath == "" {
		configPath = "config/config.yaml"
	}
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.NewLogger(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "初始化日志失败: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := run(cfg, log); err != nil {
		log.Fatal("服务异常退出", zap.Error(err))
	}
}

func run(cfg *config.Config, log *zap.Logger) error {
	fin, err := cfg.Finance.ParseFinance()
	if err != nil {
		return err
	}

	if err := idgen.Init(1); err != nil {
		return err
	}

	db, err := database.InitMySQL(&cfg.MySQL, log)
	if err != nil {
		return err
	}

	redisClient, err := cache.InitRedis(&cfg.Redis, log)
	if err != nil {
		return err
	}
	defer redisClient.Close()
	locker := lock.NewRedisLocker(redisClient, "ledgerpay")

	producer, err := mq.NewProducer(&cfg.Kafka)
	if err != nil {
		return err
	}
	defer producer.Close()

	gateway, err := payment.NewGateway(cfg.Payment)
	if err != nil {
		return err
	}
	log.Info("支付网关已选定", zap.String("mode", gateway.Name()))

	tokens, err := auth.NewTokenIssuer(cfg.Auth)
	if err != nil {
		return err
	}

	deps := service.Deps{
		DB:      db,
		Finance: fin,
		Topics:  cfg.Kafka.Topic,
		Logger:  log,
	}
	settlement := service.NewSettlementService(deps)
	paymentSvc := service.NewPaymentService(deps, settlement, gateway, time.Duration(cfg.Payment.OrderTimeoutMins)*time.Minute)
	rewardSvc := service.NewRewardService(deps)
	userSvc := service.NewUserService(deps, tokens, cfg.Auth.AdminMobiles)
	svc := handler.Services{
		User:       userSvc,
		Settlement: settlement,
		Payment:    paymentSvc,
		Reward:     rewardSvc,
		Withdrawal: service.NewWithdrawalService(deps),
		Refund:     service.NewRefundService(deps, locker),
		Report:     service.NewReportService(deps),
		Events:     service.NewEventService(deps),
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	outboxSender := job.NewOutboxSender(db, producer, cfg.Jobs.OutboxMaxRetry, log)
	go outboxSender.Start(ctx)

	orderTimeoutJob := job.NewOrderTimeoutJob(paymentSvc, locker, log)
	go orderTimeoutJob.Start(ctx)

	subsidyJob := job.NewWeeklySubsidyJob(rewardSvc, locker, cfg.Jobs.SubsidyWeekday, cfg.Jobs.SubsidyHour, log)
	go subsidyJob.Start(ctx)

	directorJob := job.NewDirectorPromotionJob(userSvc, locker, cfg.Jobs.DirectorCheckMinutes, log)
	go directorJob.Start(ctx)

	router := handler.SetupRouter(handler.NewHandler(svc, log), tokens, log)
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("服务启动", zap.Int("port", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-errCh:
		return fmt.Errorf("服务启动失败: %w", err)
	}

	log.Info("正在关闭服务...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("服务关闭异常", zap.Error(err))
	}

	log.Info("服务已关闭")
	return nil
}
