package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/IBM/sarama"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"collabcore/internal/cache"
	"collabcore/internal/collab"
	"collabcore/internal/config"
	"collabcore/internal/httpapi/handlers"
	"collabcore/internal/httpapi/middleware"
	"collabcore/internal/store"
	"collabcore/internal/ws"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("init config failed: %v", err)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("init logger failed: %v", err)
	}
	defer logger.Sync()

	rdb := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    cfg.Redis.Addrs,
		Password: cfg.Redis.Password,
	})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		logger.Fatal("connect redis failed", zap.Error(err))
	}
	defer rdb.Close()

	_, sqlDB, err := store.InitMySQL(cfg.Mysql.DSN)
	if err != nil {
		logger.Fatal("connect mysql failed", zap.Error(err))
	}
	defer sqlDB.Close()

	// Kafka 可选：没配 broker 就只走 redis 通知，不导出日志事件
	var dispatcher *collab.KafkaDispatcher
	if len(cfg.Kafka.Brokers) > 0 {
		kafkaCfg := sarama.NewConfig()
		// SyncProducer 必须开启 Return.Successes
		kafkaCfg.Producer.Return.Successes = true
		kafkaCfg.Producer.RequiredAcks = sarama.WaitForLocal
		producer, err := sarama.NewSyncProducer(cfg.Kafka.Brokers, kafkaCfg)
		if err != nil {
			logger.Fatal("connect kafka failed", zap.Error(err))
		}
		defer producer.Close()

		dispatcher = collab.NewKafkaDispatcher(
			producer,
			cfg.Kafka.Topic,
			collab.NewSemaphoreControl(),
			logger,
			collab.KafkaDispatcherOptions{
				QueueSize:   10_000,
				Workers:     4,
				MaxRetry:    3,
				BaseBackoff: 50 * time.Millisecond,
				MaxBackoff:  1 * time.Second,
			},
		)
	}

	docs := store.NewMySQLDocumentStore(sqlDB)
	opsLog := store.NewMySQLOperationStore(sqlDB)
	members := store.NewMySQLCollaboratorStore(sqlDB)
	cursors := cache.NewRedisCursors(rdb)
	notifier := cache.NewRedisNotifier(rdb)

	applier := collab.NewApplier(docs, opsLog, notifier, dispatcher, logger)
	svc := collab.NewService(docs, opsLog, members, cursors, notifier, applier, collab.AllowAll{}, logger, collab.ServiceOptions{
		StaleAfter: time.Duration(cfg.Presence.StaleAfterSeconds) * time.Second,
		CursorTTL:  time.Duration(cfg.Presence.CursorTTLSeconds) * time.Second,
	})

	hub := ws.NewHub(notifier, logger)
	manager := ws.NewManager(hub, svc, collab.NewSemaphoreControl(), logger)

	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery())
	r.Use(cors.New(cors.Config{
		// 允许任意来源（包含 file:// 场景的 Origin: null）
		AllowOriginFunc:  func(origin string) bool { return true },
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "HEAD", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Participant-ID", "X-Display-Name"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}))

	api := r.Group("/v1")
	api.Use(middleware.ParticipantMiddleware())
	handlers.NewHandler(svc, logger).Register(api)

	wsGroup := r.Group("/collab")
	wsGroup.Use(middleware.ParticipantMiddleware())
	wsGroup.GET("/ws", manager.WebSocketConnect)

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"ok": true})
	})

	g, ctx := errgroup.WithContext(context.Background())
	g.Go(func() error {
		return r.Run(fmt.Sprintf(":%d", cfg.Running.Port))
	})
	g.Go(func() error {
		return svc.RunSweeper(ctx, time.Duration(cfg.Presence.SweepIntervalSeconds)*time.Second)
	})
	if err := g.Wait(); err != nil {
		logger.Fatal("server exited", zap.Error(err))
	}
}
