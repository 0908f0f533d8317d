package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	httpAdapter "github.com/EthanQC/verification-service/internal/adapters/in/http"
	"github.com/EthanQC/verification-service/internal/adapters/out/aliyun"
	"github.com/EthanQC/verification-service/internal/adapters/out/dualstore"
	"github.com/EthanQC/verification-service/internal/adapters/out/eventbus"
	"github.com/EthanQC/verification-service/internal/adapters/out/httpsms"
	"github.com/EthanQC/verification-service/internal/adapters/out/kafka"
	"github.com/EthanQC/verification-service/internal/adapters/out/memory"
	"github.com/EthanQC/verification-service/internal/adapters/out/mock"
	mysqlRepo "github.com/EthanQC/verification-service/internal/adapters/out/mysql"
	redisRepo "github.com/EthanQC/verification-service/internal/adapters/out/redis"
	"github.com/EthanQC/verification-service/internal/application/delivery"
	"github.com/EthanQC/verification-service/internal/application/sms"
	"github.com/EthanQC/verification-service/internal/application/sweeper"
	"github.com/EthanQC/verification-service/internal/config"
	"github.com/EthanQC/verification-service/internal/metrics"
	"github.com/EthanQC/verification-service/internal/ports/out"
	"github.com/EthanQC/verification-service/pkg/clock"
	"github.com/EthanQC/verification-service/pkg/errors"
	"github.com/EthanQC/verification-service/pkg/zlog"
)

func main() {
	env := os.Getenv("APP_ENV")
	if env == "" {
		env = "dev"
	}
	os.Setenv("APP_ENV", env)

	// 加载配置
	cfg, err := config.Load(env)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// 初始化日志
	logger := zlog.MustInitGlobal(cfg.Log)
	defer zap.L().Sync()
	logger.Info("verification service starting", zap.String("env", env))
	if cfg.Verification.DevMode {
		logger.Warn("dev_mode is on, codes are returned in responses")
	}

	// 指标
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	zlog.RegisterMetrics(reg)
	m := metrics.NewRegistry()
	m.Register(reg)

	// 存储
	durable, closeDurable, err := initDurable(cfg)
	if err != nil {
		logger.Fatal("Failed to init durable store", zap.Error(err))
	}
	defer closeDurable()

	storeOpts := []dualstore.Option{dualstore.WithTimeout(cfg.Store.Timeout), dualstore.WithMetrics(m)}
	if durable != nil {
		storeOpts = append(storeOpts, dualstore.WithDurable(durable))
	}
	store := dualstore.New(memory.NewRecordCache(), storeOpts...)
	attempts := memory.NewAttemptCounter(sms.DefaultAttemptWindow)

	// 短信通道
	channel, err := initChannel(cfg)
	if err != nil {
		logger.Fatal("Failed to init sms channel", zap.Error(err))
	}
	client := delivery.NewClient(channel, cfg.Delivery.Timeout, m)
	retrier := delivery.NewRetrier(client, delivery.RetryConfig{
		MaxRetries: cfg.Verification.MaxRetries,
		BaseDelay:  cfg.Delivery.BaseDelay,
		MaxDelay:   cfg.Delivery.MaxDelay,
		Template:   cfg.Delivery.Template,
	})

	// 事件
	publisher, err := initPublisher(cfg)
	if err != nil {
		logger.Fatal("Failed to init event publisher", zap.Error(err))
	}
	defer publisher.Close()

	// 应用层
	dispatcher := sms.NewDispatcher()
	svc := sms.NewService(sms.Config{
		CodeLength:         cfg.Verification.CodeLength,
		Expiration:         cfg.Verification.Expiration(),
		Cooldown:           cfg.Verification.Cooldown(),
		MaxRetries:         cfg.Verification.MaxRetries,
		MaxAttemptsPerHour: cfg.Verification.MaxAttemptsPerHour,
		DevMode:            cfg.Verification.DevMode,
	}, store, attempts, retrier,
		sms.WithEvents(publisher),
		sms.WithMetrics(m),
		sms.WithDispatcher(dispatcher),
	)

	sw := sweeper.New(store, attempts, cfg.Verification.CleanupInterval(), clock.Real(), m)
	if err := sw.Start(); err != nil {
		logger.Fatal("Failed to start sweeper", zap.Error(err))
	}

	// HTTP
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), zlog.GinLogger(), m.GinMiddleware())
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))
	router.GET("/log/level", gin.WrapF(zlog.LevelHTTPHandler()))
	router.PUT("/log/level", gin.WrapF(zlog.LevelHTTPHandler()))
	httpAdapter.NewVerificationController(svc).RegisterRoutes(router.Group("/api/v1"))

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler: router,
	}
	go func() {
		logger.Info("HTTP server starting", zap.Int("port", cfg.Server.HTTPPort))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	// 优雅关闭：先停入口，再停清理，最后等后台下发和持久层镜像写完
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Warn("HTTP server shutdown error", zap.Error(err))
	}
	sw.Stop()
	if err := dispatcher.Shutdown(ctx); err != nil {
		logger.Warn("Background deliveries cancelled", zap.Error(err))
	}
	if err := store.Drain(ctx); err != nil {
		logger.Warn("Durable mirror writes not drained", zap.Error(err))
	}

	logger.Info("Server exited properly")
}

// initDurable 返回 nil 表示只用缓存层
// 持久层启动时不可达不算错误：照常返回仓储，由 dualstore 按次降级，恢复后自动生效
func initDurable(cfg *config.Config) (out.DurableRecordRepository, func(), error) {
	switch cfg.Store.Durable {
	case "mysql":
		db, err := initDB(cfg.MySQL)
		if err != nil {
			return nil, nil, err
		}
		if cfg.Store.AutoMigrate {
			if err := mysqlRepo.Migrate(db); err != nil {
				zap.L().Warn("Skip migration, database unreachable", zap.Error(err))
			}
		}
		closeFn := func() {
			if sqlDB, err := db.DB(); err == nil {
				_ = sqlDB.Close()
			}
		}
		return mysqlRepo.NewVerificationRecordRepoMysql(db), closeFn, nil
	case "redis":
		client := initRedis(cfg.Redis)
		return redisRepo.NewVerificationRecordRepoRedis(client, cfg.Store.RedisRetention), func() { _ = client.Close() }, nil
	default:
		return nil, func() {}, nil
	}
}

func initDB(c config.MySQLConfig) (*gorm.DB, error) {
	db, err := gorm.Open(mysql.Open(c.DSN), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		// 连不上时跳过版本探测和 ping，连接池在首次使用时再拨号
		zap.L().Warn("Database unreachable at startup, running on cache tier", zap.Error(err))
		db, err = gorm.Open(mysql.New(mysql.Config{
			DSN:                       c.DSN,
			SkipInitializeWithVersion: true,
		}), &gorm.Config{
			Logger:               logger.Default.LogMode(logger.Silent),
			DisableAutomaticPing: true,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxIdleConns(c.MaxIdleConns)
	sqlDB.SetMaxOpenConns(c.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(time.Hour)

	return db, nil
}

func initRedis(c config.RedisConfig) *redis.Client {
	client := redis.NewClient(&redis.Options{
		Addr:     c.Addr,
		Password: c.Password,
		DB:       c.DB,
		PoolSize: c.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		zap.L().Warn("Redis unreachable at startup, running on cache tier",
			zap.String("addr", c.Addr), zap.Error(err))
	}
	return client
}

func initChannel(cfg *config.Config) (out.SMSChannel, error) {
	switch cfg.Delivery.Channel {
	case mock.ChannelName:
		mc := mock.DefaultConfig()
		if cfg.Delivery.Mock.MinLatency > 0 {
			mc.MinLatency = cfg.Delivery.Mock.MinLatency
		}
		if cfg.Delivery.Mock.MaxLatency > 0 {
			mc.MaxLatency = cfg.Delivery.Mock.MaxLatency
		}
		mc.FailureRate = cfg.Delivery.Mock.FailureRate
		return mock.NewSMSChannel(mc), nil
	case aliyun.ChannelName:
		return aliyun.NewSMSChannel(cfg.Delivery.Aliyun, cfg.Delivery.Timeout)
	case httpsms.ChannelName:
		return httpsms.NewSMSChannel(cfg.Delivery.HTTP, cfg.Delivery.Timeout), nil
	default:
		return nil, fmt.Errorf("%w: %s", errors.ErrUnknownChannel, cfg.Delivery.Channel)
	}
}

func initPublisher(cfg *config.Config) (out.EventPublisher, error) {
	switch cfg.Events.Driver {
	case "kafka-go":
		return kafka.NewEventPublisher(kafka.NewWriter(cfg.Events.Brokers), cfg.Events.Topic), nil
	case "sarama":
		return eventbus.NewSaramaPublisher(cfg.Events.Brokers, cfg.Events.Topic)
	default:
		return out.NopEventPublisher(), nil
	}
}
