package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/IBM/sarama"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	gormmysql "gorm.io/driver/mysql"
	"gorm.io/gorm"

	"github.com/theopensystemslab/planx-new-sub014/config"
	"github.com/theopensystemslab/planx-new-sub014/internal/access"
	"github.com/theopensystemslab/planx-new-sub014/internal/cache"
	"github.com/theopensystemslab/planx-new-sub014/internal/collab"
	"github.com/theopensystemslab/planx-new-sub014/internal/httpapi/middleware"
	"github.com/theopensystemslab/planx-new-sub014/internal/store"
	"github.com/theopensystemslab/planx-new-sub014/internal/ws"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("init config failed: %v", err)
	}

	secret := []byte(cfg.Auth.Secret)
	if env := os.Getenv("JWT_SECRET"); env != "" {
		secret = []byte(env)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
	})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		log.Fatalf("failed to connect to redis: %v", err)
	}
	defer rdb.Close()

	gdb, err := gorm.Open(gormmysql.Open(cfg.Mysql.DSN), &gorm.Config{})
	if err != nil {
		log.Fatalf("failed to connect to mysql: %v", err)
	}
	if err := store.AutoMigrate(gdb); err != nil {
		log.Fatalf("failed to migrate schema: %v", err)
	}
	db, err := gdb.DB()
	if err != nil {
		log.Fatalf("failed to get db handle: %v", err)
	}
	defer db.Close()
	// sized for documents in flight, not live sockets
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(10)

	kafkaCfg := sarama.NewConfig()
	kafkaCfg.Producer.Return.Successes = true
	kafkaCfg.Producer.RequiredAcks = sarama.WaitForLocal
	producer, err := sarama.NewSyncProducer(cfg.Kafka.Brokers, kafkaCfg)
	if err != nil {
		log.Fatalf("failed to connect kafka: %v", err)
	}
	defer producer.Close()

	dispatcher := collab.NewDispatcher(producer, cfg.Kafka.Topic, collab.DispatcherOptions{
		QueueSize:   10_000,
		Workers:     4,
		MaxRetry:    3,
		BaseBackoff: 50 * time.Millisecond,
		MaxBackoff:  1 * time.Second,
	})
	// drains in-flight events before the producer closes
	defer dispatcher.Close()

	flowStore := store.NewFlowStore(db)
	registry := access.NewRegistry(access.AllowAll{}, "flows", "operations")
	svc := collab.NewService(flowStore, registry, dispatcher)

	hub := ws.NewHub(cache.NewRedisPresence(rdb))
	sem := collab.NewSemaphore(cfg.Submit.MaxInFlight)
	gateway := ws.NewGateway(hub, svc, sem)

	r := gin.New()
	r.Use(gin.Logger())
	r.Use(gin.Recovery())

	sharedb := r.Group("/")
	sharedb.Use(middleware.AuthMiddleware(secret))
	sharedb.GET("/ws", gateway.Connect)

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"message": "ok"})
	})

	if err := r.Run(fmt.Sprintf(":%d", cfg.Running.Port)); err != nil {
		log.Fatalf("server stopped: %v", err)
	}
}
