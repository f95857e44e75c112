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

	"connectrpc.com/connect"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/kkkkikiki/burnpromo/internal/allocation"
	"github.com/kkkkikiki/burnpromo/internal/captcha"
	"github.com/kkkkikiki/burnpromo/internal/codes"
	"github.com/kkkkikiki/burnpromo/internal/config"
	"github.com/kkkkikiki/burnpromo/internal/database"
	"github.com/kkkkikiki/burnpromo/internal/eligibility"
	"github.com/kkkkikiki/burnpromo/internal/importer"
	"github.com/kkkkikiki/burnpromo/internal/ledger"
	"github.com/kkkkikiki/burnpromo/internal/logger"
	"github.com/kkkkikiki/burnpromo/internal/middleware"
	"github.com/kkkkikiki/burnpromo/internal/ratelimit"
	"github.com/kkkkikiki/burnpromo/internal/redeem"
	"github.com/kkkkikiki/burnpromo/internal/repository"
	"github.com/kkkkikiki/burnpromo/internal/service"
	"github.com/kkkkikiki/burnpromo/internal/session"
)

func main() {
	ctx := context.Background()

	// Load configuration from environment variables
	cfg, err := config.Load(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}

	logger.Init(logger.Config{
		Level:       cfg.App.LogLevel,
		Environment: cfg.App.Environment,
	})

	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	log.Info().Str("environment", cfg.App.Environment).Msg("Starting burn promo service")

	// Initialize database connections
	db, err := database.NewDB(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error().Err(err).Msg("Error closing database connections")
		}
	}()

	if cfg.Database.Migrate {
		if err := database.Migrate(ctx, db.Postgres); err != nil {
			log.Fatal().Err(err).Msg("Failed to run migrations")
		}
	}

	reader, err := ledger.Dial(ctx, cfg.Chain.RPCURL, cfg.Chain.RPCRate, cfg.Chain.CallTimeout)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to the chain RPC")
	}
	defer reader.Close()

	handler, err := newHandler(cfg, db, reader)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build services")
	}

	// Create server with configuration optimized for high concurrency
	server := &http.Server{
		Addr:           cfg.Server.GetServerAddr(),
		ReadTimeout:    time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout:   time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:    120 * time.Second, // Keep connections alive longer
		MaxHeaderBytes: 1 << 20,           // 1MB
		// Use h2c so we can serve HTTP/2 without TLS
		Handler: h2c.NewHandler(handler, &http2.Server{
			MaxConcurrentStreams: 1000, // Allow more concurrent streams
		}),
	}

	// Start server in goroutine
	go func() {
		log.Info().Str("addr", server.Addr).Msg("Starting HTTP server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("Shutting down server...")

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
		return
	}

	log.Info().Msg("Server exited gracefully")
}

// newHandler wires every component and returns the root HTTP handler
func newHandler(cfg *config.Config, db *database.DB, reader ledger.Reader) (http.Handler, error) {
	store := repository.NewPostgresStore(db.Postgres)

	sealer, err := codes.NewSealer(cfg.Codes.Secret)
	if err != nil {
		return nil, err
	}

	var scripter redis.Scripter
	if db.Redis != nil {
		scripter = db.Redis
	}
	counters, err := ratelimit.NewBackend(cfg.RateLimit.Backend, db.Postgres, scripter)
	if err != nil {
		return nil, err
	}
	limiter := ratelimit.NewLimiter(counters,
		ratelimit.Rule{Limit: cfg.RateLimit.IPRequests, Window: cfg.RateLimit.IPWindow},
		ratelimit.Rule{Limit: cfg.RateLimit.WalletRequests, Window: cfg.RateLimit.WalletWindow},
	)

	verifier := ledger.NewVerifier(reader, cfg.Chain.Token(), cfg.Chain.ChainIDBig(), cfg.Chain.Confirmations)

	flow := redeem.NewFlow(redeem.Deps{
		Captcha:     captcha.NewTurnstile(cfg.Captcha.VerifyURL, cfg.Captcha.SecretKey, cfg.Captcha.Timeout),
		Limiter:     limiter,
		Eligibility: eligibility.NewEvaluator(verifier, store, cfg.Eligibility.MinBalanceAmount(), cfg.Eligibility.Cooldown()),
		Verifier:    verifier,
		Allocator:   allocation.NewEngine(store, sealer),
		Inventory:   store,
	}, redeem.Settings{
		BurnAmount:      cfg.Eligibility.BurnAmountValue(),
		TokenDecimals:   cfg.Eligibility.TokenDecimals,
		DefaultCampaign: cfg.Campaign.Default,
		CampaignStart:   cfg.Campaign.StartDate,
		CampaignEnd:     cfg.Campaign.EndDate,
	})

	sessions := session.NewService(cfg.Session.Secret, cfg.Session.Issuer, cfg.Session.TTL)
	auth := connect.WithInterceptors(service.NewAuthInterceptor(sessions))

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Logger)
	r.Use(chimw.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type", "Connect-Protocol-Version", "Connect-Timeout-Ms", "X-Request-ID"},
		ExposedHeaders: []string{service.HeaderRejectionReason, service.HeaderRateLimitReset, "X-Request-ID"},
		MaxAge:         300,
	}))

	// Register connect service handlers
	path, h := service.NewRedemptionServiceHandler(service.NewRedemptionServer(flow), auth)
	r.Handle(path+"*", h)
	path, h = service.NewAdminServiceHandler(service.NewAdminServer(store, importer.New(store, sealer), flow, cfg.Eligibility.TokenDecimals), auth)
	r.Handle(path+"*", h)

	// Add health check endpoint
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		hostname, _ := os.Hostname()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, `{"status":"ok","service":"burn-promo","hostname":%q}`, hostname)
	})

	// Add database health check endpoint
	r.Get("/health/db", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := db.Postgres.PingContext(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"error","message":"postgres unavailable"}`))
			return
		}
		if db.Redis != nil {
			if err := db.Redis.Ping(r.Context()).Err(); err != nil {
				w.WriteHeader(http.StatusServiceUnavailable)
				w.Write([]byte(`{"status":"error","message":"redis unavailable"}`))
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok","postgres":"connected"}`))
	})

	// Add Prometheus metrics endpoint
	r.Handle("/metrics", promhttp.Handler())

	return r, nil
}
