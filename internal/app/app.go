package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xenking/webshop-saga/internal/catalog"
	"github.com/xenking/webshop-saga/internal/domain/fulfillment"
	"github.com/xenking/webshop-saga/internal/domain/invoice"
	"github.com/xenking/webshop-saga/internal/domain/loyalty"
	"github.com/xenking/webshop-saga/internal/domain/order"
	"github.com/xenking/webshop-saga/internal/domain/stock"
	"github.com/xenking/webshop-saga/internal/events"
	"github.com/xenking/webshop-saga/internal/handler"
	"github.com/xenking/webshop-saga/internal/repository"
	"github.com/xenking/webshop-saga/pkg/health"
	"github.com/xenking/webshop-saga/pkg/httpmiddleware"
)

const serviceName = "webshop-saga"

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr))

	// PostgreSQL pool + migrations.
	pool, err := repository.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()

	if err := repository.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	// Health check service.
	healthSvc := health.New(lg.Named("health"))
	healthSvc.AddReadinessCheck("postgres", 5*time.Second, health.PingCheck(pool))
	healthSvc.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))
	healthSvc.AddLivenessCheck("gc_pause", time.Second, health.GCMaxPauseCheck(time.Second), health.Thresholds(5, 2))

	// Catalog cache and shared rate limit counters, optional.
	var (
		cache   redis.Cmdable
		limiter httpmiddleware.Limiter
	)
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer func() { _ = rdb.Close() }()
		cache = rdb
		healthSvc.AddReadinessCheck("redis", 2*time.Second, func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		})
		if cfg.RateLimit.Shared {
			limiter = httpmiddleware.NewRedisLimiter(rdb, "ratelimit:", cfg.RateLimit.Max, cfg.RateLimit.Window)
		}
		lg.Info("Catalog cache enabled",
			zap.String("redis", cfg.Redis.Addr),
			zap.Bool("shared_rate_limit", limiter != nil),
		)
	}

	// Event publication, optional.
	var publisher events.Publisher = events.Nop{}
	if len(cfg.Kafka.Brokers) > 0 {
		producer := events.NewProducer(events.ProducerConfig{
			Brokers:  cfg.Kafka.Brokers,
			ClientID: cfg.Kafka.ClientID,
			Buffer:   cfg.Kafka.Buffer,
		}, lg.Named("events"))
		producer.Start()
		defer producer.Close()
		publisher = producer
		healthSvc.AddReadinessCheck("kafka", 2*time.Second, health.DialCheck(cfg.Kafka.Brokers...), health.Thresholds(5, 1))
		lg.Info("Event publication enabled", zap.Strings("brokers", cfg.Kafka.Brokers))
	}

	healthSvc.Start(ctx, 10*time.Second)
	healthSvc.SetReady(true)

	// Repositories.
	orderRepo := repository.NewOrderRepository(pool)
	invoiceRepo := repository.NewInvoiceRepository(pool)
	inventoryRepo := repository.NewInventoryRepository(pool)
	loyaltyRepo := repository.NewLoyaltyRepository(pool)
	fulfillmentRepo := repository.NewFulfillmentRepository(pool)
	apikeyRepo := repository.NewAPIKeyRepository(pool)

	// Domain services.
	levels := catalog.NewSyncer(cache, publisher, cfg.Redis.LevelTTL)
	stockService := stock.NewService(inventoryRepo, levels, m.MeterProvider())
	loyaltyService := loyalty.NewService(loyaltyRepo, cfg.Loyalty.PointsPerEuro, cfg.Loyalty.ForceJanuaryBonus)
	fulfillmentService := fulfillment.NewService(fulfillmentRepo)
	creditService := invoice.NewCreditService(invoiceRepo, cfg.CreditLimit())
	orderService := order.NewService(
		orderRepo,
		invoiceRepo,
		loyaltyService,
		stockService,
		loyaltyService,
		fulfillmentService,
		order.WithTracerProvider(m.TracerProvider()),
		order.WithMeterProvider(m.MeterProvider()),
		order.WithPublisher(publisher),
		order.WithInvoiceTerm(cfg.Invoice.Term),
	)

	// HTTP handlers.
	h := handler.NewHandler(handler.Deps{
		Orders:      orderService,
		Loyalty:     loyaltyService,
		Stock:       stockService,
		Fulfillment: fulfillmentService,
		Credit:      creditService,
		Levels:      levels,
	})
	securityHandler := handler.NewSecurityHandler(apikeyRepo, []byte(cfg.APIKeyPepper))

	// Router: health endpoints + API routes on one server.
	rateLimit := httpmiddleware.RateLimitConfig{
		Max:     cfg.RateLimit.Max,
		Window:  cfg.RateLimit.Window,
		KeyFunc: httpmiddleware.HeaderOrIP(handler.APIKeyHeader),
		Limiter: limiter,
	}
	var rateLimiter httpmiddleware.Middleware
	if limiter != nil {
		rateLimiter = httpmiddleware.RateLimit(rateLimit)
	} else {
		rateLimiter = httpmiddleware.RateLimitWithCleanup(ctx, rateLimit)
	}

	router := chi.NewRouter()
	router.Get("/livez", healthSvc.LiveEndpoint)
	router.Get("/readyz", healthSvc.ReadyEndpoint)
	router.Mount("/", h.Router(securityHandler.Guard))
	routeFinder := httpmiddleware.MakeRouteFinder(router)

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler: httpmiddleware.Wrap(router,
			httpmiddleware.Recovery(),
			httpmiddleware.CORS(httpmiddleware.CORSConfig{
				AllowOrigins:     cfg.CORS.Origins,
				AllowHeaders:     []string{"Content-Type", "Authorization", handler.APIKeyHeader},
				AllowCredentials: cfg.CORS.AllowCredentials,
				MaxAge:           86400,
			}),
			rateLimiter,
			httpmiddleware.RequestID(),
			httpmiddleware.InjectLogger(zctx.From(ctx)),
			httpmiddleware.Instrument(serviceName, routeFinder, m),
			httpmiddleware.LogRequests(routeFinder),
			httpmiddleware.Labeler(routeFinder),
		),
	}

	// Graceful shutdown: wait for context cancellation, drain, then stop.
	shutdownDone := make(chan struct{})
	go func() {
		<-ctx.Done()
		healthSvc.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		healthSvc.Stop()
		close(shutdownDone)
	}()

	lg.Info("Server listening", zap.String("addr", cfg.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "server")
	}
	<-shutdownDone
	return nil
}
