package main // Entry point package

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	log "github.com/sirupsen/logrus"

	"github.com/iliyamo/popup-slot-reservation/internal/config"
	"github.com/iliyamo/popup-slot-reservation/internal/database"
	"github.com/iliyamo/popup-slot-reservation/internal/handler"
	"github.com/iliyamo/popup-slot-reservation/internal/metrics"
	"github.com/iliyamo/popup-slot-reservation/internal/middleware"
	"github.com/iliyamo/popup-slot-reservation/internal/payment"
	"github.com/iliyamo/popup-slot-reservation/internal/queue"
	"github.com/iliyamo/popup-slot-reservation/internal/repository"
	"github.com/iliyamo/popup-slot-reservation/internal/router"
	"github.com/iliyamo/popup-slot-reservation/internal/service"
)

func main() {
	_ = godotenv.Load() // a missing .env is fine; the environment wins
	cfg := config.Load()
	config.SetupLogging(cfg.Env, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ---- Stores ----
	db, err := database.Open(ctx, database.Options{
		User:            cfg.DBUser,
		Pass:            cfg.DBPass,
		Host:            cfg.DBHost,
		Port:            cfg.DBPort,
		Name:            cfg.DBName,
		MaxOpenConns:    cfg.DBMaxOpenConns,
		ConnMaxLifetime: cfg.DBConnMaxLifetime,
	})
	if err != nil {
		log.WithError(err).Fatal("connect mysql")
	}
	defer db.Close()
	if cfg.RunMigrations {
		if err := database.Migrate(db); err != nil {
			log.WithError(err).Fatal("migrate")
		}
	}
	rdb, err := config.NewRedisClient()
	if err != nil {
		log.WithError(err).Fatal("connect redis")
	}
	defer rdb.Close()

	inventory := repository.NewInventoryRepo(rdb)
	holds := repository.NewHoldRepo(rdb, cfg.Engine.HoldRetention)
	payments := repository.NewPaymentRepo(db)
	reservations := repository.NewReservationRepo(db)
	schedule := repository.NewCachedSchedule(repository.NewScheduleRepo(db), cfg.Engine.ScheduleCacheTTL)
	txm := database.NewTxManager(db)

	// ---- Collaborators ----
	engineMetrics := metrics.NewEngine(nil)

	var events service.EventPublisher
	if cfg.Broker.URL != "" {
		pub := queue.NewPublisher(cfg.Broker.URL)
		defer pub.Close()
		events = pub
		if cfg.Broker.AuditConsumerEnabled {
			go queue.StartAuditConsumer(ctx, cfg.Broker.URL, cfg.Broker.AuditLogPath)
		}
	} else {
		log.Warn("RABBITMQ_URL not set; domain events are not published")
	}

	pricing := service.PricingFunc(service.DefaultPricing)
	if cfg.Engine.PricingFile != "" {
		table, err := service.LoadPriceTable(cfg.Engine.PricingFile)
		if err != nil {
			log.WithError(err).Fatal("load pricing table")
		}
		pricing = table.Pricing(service.DefaultPricing)
	}

	var (
		provider payment.Gateway
		parser   payment.WebhookParser
		mockGW   *payment.MockGateway
	)
	switch cfg.Payment.Provider {
	case "stripe":
		sg, err := payment.NewStripeGateway(payment.StripeConfig{
			SecretKey:     cfg.Payment.StripeSecretKey,
			WebhookSecret: cfg.Payment.StripeWebhookSecret,
		})
		if err != nil {
			log.WithError(err).Fatal("configure stripe")
		}
		provider, parser = sg, sg
	default:
		mockGW = payment.NewMockGateway()
		provider, parser = mockGW, mockGW
	}
	gateway := payment.NewBreakerGateway(provider, payment.BreakerSettings{
		MaxFailures: cfg.Payment.BreakerMaxFailures,
		OpenTimeout: cfg.Payment.BreakerOpenTimeout,
		CallTimeout: cfg.Payment.CallTimeout,
	})

	// ---- Services ----
	holdManager := service.NewHoldManager(inventory, holds, payments,
		service.WithHoldTTL(cfg.Engine.HoldTTL),
		service.WithHoldMetrics(engineMetrics),
	)
	reservationSvc := service.NewReservationService(schedule, inventory, holdManager, reservations, payments, txm,
		service.WithPricing(pricing),
		service.WithPublisher(events),
		service.WithReservationMetrics(engineMetrics),
	)
	paymentSvc := service.NewPaymentService(gateway, payments, holdManager, reservationSvc, engineMetrics)
	availabilitySvc := service.NewAvailabilityService(schedule, reservations, holds, inventory)
	ownerSvc := service.NewOwnerService(schedule, inventory, reservations)
	reconciler := service.NewReconciler(holds, payments,
		service.WithInterval(cfg.Engine.SweepInterval),
		service.WithBatchSize(cfg.Engine.SweepBatchSize),
		service.WithEvents(events),
		service.WithMetrics(engineMetrics),
	)
	go reconciler.Run(ctx)

	// ---- HTTP ----
	e := echo.New()
	e.HideBanner = true
	e.Use(echomw.Recover())
	e.Use(echomw.RequestID())
	e.Use(middleware.RequestLogger())

	router.RegisterRoutes(e, handler.Ready(map[string]handler.Pinger{
		"mysql": db.PingContext,
		"redis": func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
	}))
	router.RegisterPublic(e, handler.NewAvailabilityHandler(availabilitySvc),
		middleware.NewRedisCache(config.LoadCacheConfig(), rdb))
	paymentHandler := handler.NewPaymentHandler(paymentSvc, parser)
	router.RegisterCustomer(e, handler.NewReservationHandler(reservationSvc), paymentHandler,
		middleware.NewTokenBucket(config.LoadRateLimitConfig(), rdb), cfg.JWTSecret)
	router.RegisterWebhook(e, paymentHandler)
	if mockGW != nil {
		router.RegisterMockCheckout(e, handler.NewMockCheckoutHandler(mockGW, reservationSvc), cfg.JWTSecret)
	}
	router.RegisterOwner(e, handler.NewOwnerHandler(ownerSvc), reconciler, cfg.JWTSecret)

	addr := ":" + cfg.Port
	go func() {
		log.WithFields(log.Fields{"addr": addr, "env": cfg.Env, "payment_provider": provider.Name()}).Info("listening")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("http server")
		}
	}()

	<-ctx.Done()
	log.Info("shutdown signal received, stopping services")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("http server shutdown")
	}
	log.Info("server gracefully stopped")
}
