package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"campus-ticket/config"
	"campus-ticket/internal/handlers"
	"campus-ticket/internal/ledger"
	"campus-ticket/internal/services"
	"campus-ticket/internal/services/bank"
	"campus-ticket/monitoring"
	"campus-ticket/security"
	"campus-ticket/utils"

	_ "campus-ticket/migrations"

	"github.com/pocketbase/pocketbase"
	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"
	"github.com/pocketbase/pocketbase/plugins/migratecmd"
	"github.com/pocketbase/pocketbase/tools/router"
	pubnub "github.com/pubnub/go/v7"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// stack is everything the HTTP routes and the CLI commands share.
type stack struct {
	redis    *redis.Client
	gateway  bank.Gateway
	payments *services.PaymentService
	recon    *services.ReconciliationService
	tickets  *services.TicketService
}

func Start() error {
	cfg := config.LoadConfig()

	logger, err := utils.NewLogger(cfg.Environment)
	if err != nil {
		return err
	}
	defer logger.Sync()

	app := pocketbase.New()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	migratecmd.MustRegister(app, app.RootCmd, migratecmd.Config{
		Automigrate: !cfg.IsProduction(),
	})

	setupEventHooks(app, logger)

	var st *stack
	build := func() (*stack, error) {
		if st != nil {
			return st, nil
		}
		s, err := newStack(ctx, app, cfg, logger)
		if err != nil {
			return nil, err
		}
		st = s
		return st, nil
	}

	app.RootCmd.AddCommand(reconcileCommand(build, logger))
	app.RootCmd.AddCommand(awaitPaymentCommand(cfg, logger))

	app.OnServe().BindFunc(func(se *core.ServeEvent) error {
		s, err := build()
		if err != nil {
			return err
		}

		registerRoutes(se, s, cfg, logger)

		go s.recon.RunSweeper(ctx, cfg.CleanupInterval)
		if cfg.EnableMetrics {
			go monitoring.Serve(ctx, ":"+cfg.MetricsPort, logger)
		}

		logger.Info("server routes registered",
			zap.String("gateway", string(s.gateway.GetProvider())),
			zap.Duration("sweep_interval", cfg.CleanupInterval),
		)
		return se.Next()
	})

	app.OnTerminate().BindFunc(func(e *core.TerminateEvent) error {
		logger.Info("shutdown signal received, cleaning up")
		cancel()
		if st != nil {
			st.redis.Close()
		}
		return e.Next()
	})

	return app.Start()
}

func newStack(ctx context.Context, app core.App, cfg *config.Config, logger *zap.Logger) (*stack, error) {
	redisClient, err := utils.NewRedisClient(ctx, cfg.RedisURL, logger)
	if err != nil {
		return nil, err
	}

	gateway, err := bank.NewGateway(bank.Config{
		Provider:          bank.Provider(cfg.GatewayProvider),
		BaseURL:           cfg.GatewayBaseURL,
		SecretKey:         cfg.GatewaySecretKey,
		Timeout:           cfg.GatewayTimeout,
		RequestsPerSecond: cfg.GatewayRPS,
	}, logger)
	if err != nil {
		redisClient.Close()
		return nil, err
	}
	if err := gateway.Ready(); err != nil {
		logger.Warn("payment gateway is not ready, paid checkouts will be refused", zap.Error(err))
	}

	store := ledger.NewPBStore(app)
	notifier := newNotifier(cfg, logger)

	reservations := services.NewReservationService(store, logger)
	payments := services.NewPaymentService(store, gateway, reservations, services.PaymentConfig{
		FeeRate:       cfg.PlatformFeeRate,
		HoldTTL:       cfg.HoldTTL,
		ManualHoldTTL: cfg.ManualHoldTTL,
		AppBaseURL:    cfg.AppBaseURL,
	}, logger)
	recon := services.NewReconciliationService(store, gateway, services.NewRedisLocker(redisClient, logger), notifier, services.ReconcileConfig{
		LockTTL:         cfg.ReconcileLockTTL,
		VerifyCallbacks: cfg.VerifyCallbacks,
		SweepBatch:      cfg.SweepBatch,
		SweepRecheck:    cfg.SweepRecheck,
	}, logger)

	return &stack{
		redis:    redisClient,
		gateway:  gateway,
		payments: payments,
		recon:    recon,
		tickets:  services.NewTicketService(store, logger),
	}, nil
}

func newNotifier(cfg *config.Config, logger *zap.Logger) services.Notifier {
	if cfg.PubNubPublishKey == "" || cfg.PubNubSubscribeKey == "" {
		logger.Info("pubnub keys not set, purchase notifications disabled")
		return services.NopNotifier{}
	}

	pnConfig := pubnub.NewConfigWithUserId(pubnub.UserId(cfg.PubNubUserID))
	pnConfig.PublishKey = cfg.PubNubPublishKey
	pnConfig.SubscribeKey = cfg.PubNubSubscribeKey
	pnConfig.SecretKey = cfg.PubNubSecretKey

	return services.NewPubNubNotifier(pubnub.NewPubNub(pnConfig), logger)
}

func registerRoutes(se *core.ServeEvent, s *stack, cfg *config.Config, logger *zap.Logger) {
	paymentHandler := handlers.NewPaymentHandler(s.payments, s.recon, cfg.FrontendURL, logger)
	ticketHandler := handlers.NewTicketHandler(s.tickets, logger)
	adminHandler := handlers.NewAdminHandler(s.recon, s.redis, s.gateway, logger)
	pollLimiter := security.NewRateLimiter(s.redis, cfg.PollRateLimit, cfg.PollRateWindow, logger)

	v1 := se.Router.Group("/api/v1")
	v1.BindFunc(handlers.RequestLogger(logger.Named("http")))

	// Purchase endpoints
	v1.POST("/events/{eventId}/purchase", paymentHandler.Purchase).
		Bind(apis.RequireAuth()).
		BindFunc(security.AntiBot)
	v1.POST("/payments/{paymentId}/retry", paymentHandler.Retry).
		Bind(apis.RequireAuth())

	// Reconciliation endpoints
	v1.GET("/payments/{paymentId}/status", paymentHandler.PaymentStatus).
		Bind(apis.RequireAuth()).
		BindFunc(pollLimiter.Middleware("payment-status"))
	v1.POST("/payments/{paymentId}/manual-confirm", paymentHandler.ManualConfirm).
		Bind(apis.RequireAuth())
	v1.POST("/payments/toyyibpay/callback", paymentHandler.Callback)
	v1.GET("/payments/toyyibpay/return", paymentHandler.Return)

	// Ticket endpoints
	v1.GET("/tickets", ticketHandler.ListTickets).Bind(apis.RequireAuth())
	v1.POST("/tickets/{ticketId}/check-in", ticketHandler.CheckIn).Bind(apis.RequireAuth())

	// Admin endpoints
	v1.POST("/admin/reconcile", adminHandler.Sweep).Bind(apis.RequireAuth())

	se.Router.GET("/health", adminHandler.Health)
}

// setupEventHooks keeps organizer edits made through the records API from
// shrinking an event below what is already sold or held.
func setupEventHooks(app core.App, logger *zap.Logger) {
	app.OnRecordUpdateRequest(ledger.EventsCollection).BindFunc(func(e *core.RecordRequestEvent) error {
		original := e.Record.Original()
		capacity := e.Record.GetInt("capacity")

		if capacity < original.GetInt("capacity") {
			event, err := ledger.NewPBStore(e.App).GetEvent(e.Request.Context(), e.Record.Id)
			if err != nil {
				return err
			}
			if committed := event.TicketsSold + event.Held(); capacity < committed {
				logger.Warn("refused capacity change below committed tickets",
					zap.String("event_id", e.Record.Id),
					zap.Int("capacity", capacity),
					zap.Int("committed", committed),
				)
				return apis.NewBadRequestError(
					fmt.Sprintf("capacity cannot be lower than %d tickets already sold or reserved", committed), nil)
			}
		}
		return e.Next()
	})

	app.OnRecordDeleteRequest(ledger.EventsCollection).BindFunc(func(e *core.RecordRequestEvent) error {
		if e.Record.GetInt("tickets_sold") > 0 {
			return router.NewApiError(http.StatusConflict, "events with sold tickets cannot be deleted, cancel them instead", nil)
		}
		return e.Next()
	})
}
