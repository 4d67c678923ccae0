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

	"checkout-service/config"
	"checkout-service/internal/api"
	"checkout-service/internal/broker"
	"checkout-service/internal/payment"
	"checkout-service/internal/redisclient"
	"checkout-service/internal/service"
	"checkout-service/internal/shipping"
	"checkout-service/internal/store"
	"checkout-service/internal/util"
	"checkout-service/internal/worker"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const serviceName = "checkout-service"

func main() {

	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env, serviceName); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting checkout service")

	tp, err := util.InitTracer(serviceName, cfg.Server.Env, cfg.Observ.JaegerEndpoint, cfg.Observ.SampleRatio)
	if err != nil {
		log.Fatalf("Failed to initialize tracer: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			log.Printf("Error shutting down tracer: %v", err)
		}
	}()

	db, err := store.NewStore(cfg.Database.URL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	logger.Info("Database connected")

	if cfg.Database.AutoMigrate {
		if err := store.Migrate(context.Background(), db.GetDB().DB, "up"); err != nil {
			log.Fatalf("Failed to run migrations: %v", err)
		}
		logger.Info("Migrations applied")
	}

	redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer redisClient.Close()
	logger.Info("Redis connected")

	producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicOrder)
	defer producer.Close()
	logger.Info("Kafka producer initialized", zap.String("topic", cfg.Kafka.TopicOrder))

	eventPublisher := broker.NewEventPublisher(producer)

	calculator := shipping.NewCalculator(shipping.Defaults{
		FlatCost: cfg.Business.DefaultShippingCost,
		SLADays:  cfg.Business.DefaultSLADays,
		Zone: shipping.ZoneConfig{
			States:     cfg.Business.ZoneStates,
			PostalFrom: cfg.Business.ZonePostalFrom,
			PostalTo:   cfg.Business.ZonePostalTo,
		},
	})
	paymentRouter := payment.NewRouter(
		payment.RazorpayFactoryFor(payment.WithCurrency(cfg.Payments.Currency)),
		payment.PhonePeFactoryFor(payment.WithBaseURL(cfg.Payments.PhonePeBaseURL)),
	)

	checkoutService := service.NewCheckoutService(db, redisClient, eventPublisher, calculator, paymentRouter, service.CheckoutConfig{
		IdempotencyTTL:  cfg.Business.IdempotencyTTL,
		SessionLockTTL:  cfg.Business.CheckoutLockTTL,
		CallbackBaseURL: cfg.Payments.CallbackBaseURL,
		RedirectURL:     cfg.Payments.RedirectURL,
	})
	fulfillmentService := service.NewFulfillmentService(db, redisClient, eventPublisher, cfg.Business.StatusLockTTL)
	trackingService := service.NewTrackingService(db, redisClient, cfg.Business.LocationTTL)

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	trackingConsumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicTracking, cfg.Kafka.ConsumerGroup)
	trackingWorker := worker.NewTrackingWorker(trackingConsumer, trackingService, cfg.Kafka.TrackingBuffer)
	go func() {
		if err := trackingWorker.Start(workerCtx); err != nil {
			logger.Error("Tracking worker error", zap.Error(err))
		}
	}()

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.Default()
	handler := api.NewHandler(checkoutService, fulfillmentService, trackingService,
		api.Dependency{Name: "postgres", Ping: db.Ping},
		api.Dependency{Name: "redis", Ping: redisClient.Ping},
	)
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		logger.Info("Starting HTTP server", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
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
	if err := trackingWorker.Stop(); err != nil {
		logger.Warn("Failed to close tracking consumer", zap.Error(err))
	}

	logger.Info("Server exited")
}
