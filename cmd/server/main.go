package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"bakery-service/config"
	"bakery-service/internal/api"
	"bakery-service/internal/broker"
	"bakery-service/internal/redisclient"
	"bakery-service/internal/service"
	"bakery-service/internal/store"
	"bakery-service/internal/util"
	"bakery-service/internal/worker"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func main() {

	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting bakery service")

	storeLoc, err := cfg.Store.Location()
	if err != nil {
		logger.Fatal("Invalid store timezone", zap.Error(err))
	}

	tp, err := util.InitTracer(util.TracerConfig{
		ServiceName:    "bakery-service",
		Environment:    cfg.Server.Env,
		JaegerEndpoint: cfg.Observ.JaegerEndpoint,
		SampleRatio:    cfg.Observ.TraceSampleRatio,
	})
	if err != nil {
		logger.Fatal("Failed to initialize tracer", zap.Error(err))
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			logger.Error("Error shutting down tracer", zap.Error(err))
		}
	}()

	if cfg.Database.RunMigrations {
		if err := store.RunMigrations(cfg.Database.URL, logger); err != nil {
			logger.Fatal("Failed to run migrations", zap.Error(err))
		}
	}

	db, err := store.NewStore(cfg.Database.URL)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()
	logger.Info("Database connected")

	// Redis only guards concurrent submissions of one idempotency key; the
	// unique column still rejects duplicates when it is down.
	var locker service.Locker
	readiness := map[string]api.Pinger{"postgres": db}
	redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		logger.Warn("Redis unavailable, idempotency lock disabled", zap.Error(err))
	} else {
		defer redisClient.Close()
		locker = redisClient
		readiness["redis"] = redisClient
		logger.Info("Redis connected")
	}

	producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicOrder)
	defer producer.Close()
	logger.Info("Kafka producer initialized", zap.Strings("brokers", cfg.Kafka.Brokers))

	eventPublisher := broker.NewEventPublisher(producer)

	orderService := service.NewOrderService(db, db, db, eventPublisher, locker, service.OrderServiceConfig{
		Location:        storeLoc,
		PayeePhone:      cfg.Store.PayeePhone,
		PayeeName:       cfg.Store.PayeeName,
		PayeeID:         cfg.Store.PayeeID,
		ReferencePrefix: cfg.Store.ReferencePrefix,
		ReserveTimeout:  cfg.Business.ReserveTimeout(),
		OrderTimeout:    cfg.Business.OrderTimeout(),
	})
	availabilityService := service.NewAvailabilityService(db)
	couponService := service.NewCouponService(db, storeLoc)
	inventoryService := service.NewInventoryService(db, db, db)

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	purchaseConsumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicPurchase, cfg.Kafka.ConsumerGroup)
	purchaseWorker := worker.NewPurchaseWorker(purchaseConsumer, inventoryService)
	go func() {
		if err := purchaseWorker.Start(workerCtx); err != nil && workerCtx.Err() == nil {
			logger.Error("Purchase worker error", zap.Error(err))
		}
	}()

	expiryWorker := worker.NewExpiryWorker(orderService, cfg.Business.ExpirySweep())
	go func() {
		if err := expiryWorker.Start(workerCtx); err != nil && workerCtx.Err() == nil {
			logger.Error("Expiry worker error", zap.Error(err))
		}
	}()

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	handler := api.NewHandler(orderService, availabilityService, couponService, inventoryService, readiness)
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		logger.Info("Starting HTTP server", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	workerCancel()
	if err := purchaseWorker.Stop(); err != nil {
		logger.Warn("Failed to close purchase consumer", zap.Error(err))
	}

	logger.Info("Server exited")
}
