package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xenking/kart-checkout/internal/domain/auth"
	"github.com/xenking/kart-checkout/internal/domain/catalog"
	"github.com/xenking/kart-checkout/internal/domain/checkout"
	"github.com/xenking/kart-checkout/internal/domain/fulfillment"
	"github.com/xenking/kart-checkout/internal/domain/order"
	"github.com/xenking/kart-checkout/internal/domain/payment"
	"github.com/xenking/kart-checkout/internal/domain/pricing"
	"github.com/xenking/kart-checkout/internal/domain/promo"
	"github.com/xenking/kart-checkout/internal/domain/slot"
	"github.com/xenking/kart-checkout/internal/events/kafka"
	"github.com/xenking/kart-checkout/internal/gateway"
	"github.com/xenking/kart-checkout/internal/handler"
	"github.com/xenking/kart-checkout/internal/storage/postgres"
	"github.com/xenking/kart-checkout/internal/storage/redis"
	"github.com/xenking/kart-checkout/pkg/health"
	"github.com/xenking/kart-checkout/pkg/httpmiddleware"
)

const sandboxSecret = "sandbox-secret"

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing",
		zap.String("addr", cfg.Addr),
		zap.String("gateway", cfg.Gateway.Mode),
	)

	fees, err := cfg.Pricing.Fees()
	if err != nil {
		return errors.Wrap(err, "pricing config")
	}
	minOnline, err := cfg.Checkout.MinOnline()
	if err != nil {
		return errors.Wrap(err, "checkout config")
	}
	loc, err := time.LoadLocation(cfg.Checkout.Timezone)
	if err != nil {
		return errors.Wrap(err, "load timezone")
	}

	// PostgreSQL pool + migrations.
	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	// Redis for checkout attempts.
	redisOpts, err := goredis.ParseURL(cfg.RedisURL)
	if err != nil {
		return errors.Wrap(err, "parse redis url")
	}
	rdb := goredis.NewClient(redisOpts)
	defer func() {
		if err := rdb.Close(); err != nil {
			lg.Warn("Close redis", zap.Error(err))
		}
	}()

	// Health check service.
	healthSvc := health.New()
	healthSvc.AddReadinessCheck("postgres", 5*time.Second, health.PingCheck(pool))
	healthSvc.AddReadinessCheck("redis", 2*time.Second, func(ctx context.Context) error {
		return rdb.Ping(ctx).Err()
	})
	healthSvc.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))
	healthSvc.Start(ctx, 10*time.Second)
	healthSvc.SetReady(true)

	// Repositories.
	productRepo := postgres.NewProductRepository(pool)
	cartRepo := postgres.NewCartRepository(pool)
	fulfillmentRepo := postgres.NewFulfillmentRepository(pool)
	promoRepo := postgres.NewPromoRepository(pool)
	orderRepo := postgres.NewOrderRepository(pool)
	apikeyRepo := postgres.NewAPIKeyRepository(pool)
	attemptStore := redis.NewAttemptStore(rdb, cfg.Checkout.AttemptTTL)

	// Domain services.
	engine := pricing.NewEngine(fees)
	scheduler := slot.NewScheduler(slot.Config{
		HorizonDays: cfg.Checkout.HorizonDays,
		Buffer:      cfg.Checkout.SlotBuffer,
		Location:    loc,
	})
	assembler := checkout.NewAssembler(engine, scheduler, &fulfillment.RadiusChecker{
		StoreLatitude:  cfg.Checkout.StoreLatitude,
		StoreLongitude: cfg.Checkout.StoreLongitude,
		RadiusKM:       cfg.Checkout.DeliveryRadiusKM,
	}, checkout.AssemblerConfig{MinOnlineAmount: minOnline})
	lines := catalog.NewLineBuilder(productRepo)
	checkoutSvc := checkout.NewService(
		assembler,
		cartRepo,
		lines,
		fulfillmentRepo,
		fulfillmentRepo,
		promo.NewRepoResolver(promoRepo),
		attemptStore,
	)

	secret := cfg.Gateway.KeySecret
	if secret == "" {
		secret = sandboxSecret
	}
	signer := gateway.NewSigner(secret)
	orderSvc := order.NewService(lines, engine, scheduler, signer, orderRepo)

	var (
		gw      payment.Gateway
		sandbox *gateway.Sandbox
	)
	switch cfg.Gateway.Mode {
	case GatewayLive:
		gw = gateway.NewClient(gateway.ClientConfig{
			BaseURL:   cfg.Gateway.BaseURL,
			KeyID:     cfg.Gateway.KeyID,
			KeySecret: cfg.Gateway.KeySecret,
			Timeout:   cfg.Gateway.Timeout,
		})
	default:
		sandbox = gateway.NewSandbox(signer)
		gw = sandbox
		lg.Warn("Using sandbox payment gateway")
	}

	var publisher payment.Publisher
	if len(cfg.Kafka.Brokers) > 0 {
		p := kafka.NewPublisher(kafka.NewWriter(cfg.Kafka.Topic, cfg.Kafka.Brokers...))
		defer func() {
			if err := p.Close(); err != nil {
				lg.Warn("Close kafka publisher", zap.Error(err))
			}
		}()
		publisher = p
	}

	orch, err := payment.NewOrchestrator(gw, orderSvc, cartRepo, payment.Options{
		Meter:     m.MeterProvider().Meter("checkout"),
		Publisher: publisher,
		Store:     redis.NewSessionStore(rdb, cfg.Checkout.AttemptTTL),
		Slots:     scheduler,
		Preflight: checkoutSvc,
	})
	if err != nil {
		return errors.Wrap(err, "create payment orchestrator")
	}
	checkoutSvc.SetInvalidator(orch)

	go sweepSessions(ctx, lg, orch, cfg.Checkout.SweepInterval, cfg.Checkout.SessionTTL)

	// HTTP handlers.
	deps := handler.Deps{
		Checkout: checkoutSvc,
		Payments: orch,
		Orders:   orderSvc,
		Slots:    scheduler,
		Auth:     auth.NewAuthenticator(apikeyRepo, []byte(cfg.APIKeyPepper)),
	}
	if sandbox != nil {
		deps.Sandbox = sandbox
	}
	h := handler.NewHandler(deps)

	// Mux: health endpoints + API routes on one server.
	mux := http.NewServeMux()
	mux.HandleFunc("/livez", healthSvc.LiveEndpoint)
	mux.HandleFunc("/readyz", healthSvc.ReadyEndpoint)
	mux.Handle("/api/", h.Routes(
		httpmiddleware.Labeler(),
		httpmiddleware.LogRequests(),
	))

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      cfg.Gateway.Timeout + 10*time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler: httpmiddleware.Wrap(mux,
			httpmiddleware.Recovery(),
			httpmiddleware.CORS(httpmiddleware.CORSConfig{
				AllowOrigins:     cfg.CORS.Origins,
				AllowHeaders:     []string{"Content-Type", handler.APIKeyHeader, httpmiddleware.UserIDHeader},
				AllowCredentials: cfg.CORS.AllowCredentials,
				MaxAge:           86400,
			}),
			httpmiddleware.RateLimitWithCleanup(ctx, httpmiddleware.RateLimitConfig{
				Max:     cfg.RateLimit.Max,
				Window:  cfg.RateLimit.Window,
				KeyFunc: httpmiddleware.UserOrIP,
			}),
			httpmiddleware.RequestID(),
			httpmiddleware.InjectLogger(zctx.From(ctx)),
			httpmiddleware.Instrument("checkout-api", m),
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

// sweepSessions drops idle payment sessions until ctx is done.
func sweepSessions(ctx context.Context, lg *zap.Logger, orch *payment.Orchestrator, interval, ttl time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := orch.Sweep(ttl); n > 0 {
				lg.Debug("Swept payment sessions", zap.Int("count", n))
			}
		}
	}
}
