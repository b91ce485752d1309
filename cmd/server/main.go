package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/eigenlvr/auction-engine/internal/api"
	"github.com/eigenlvr/auction-engine/internal/consensus"
	"github.com/eigenlvr/auction-engine/internal/engine"
	"github.com/eigenlvr/auction-engine/internal/metrics"
	"github.com/eigenlvr/auction-engine/internal/registry"
	"github.com/eigenlvr/auction-engine/internal/reward"
	"github.com/eigenlvr/auction-engine/internal/store"
)

// logSink logs transfers instead of moving funds. The production deployment
// swaps in the on-chain payment collaborator.
type logSink struct{}

func (logSink) Transfer(_ context.Context, recipient string, amount decimal.Decimal) error {
	slog.Info("transfer dispatched", "recipient", recipient, "amount", amount.String())
	return nil
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	minStake := envUint64("MIN_STAKE", 1)
	minParticipants := int(envUint64("MIN_PARTICIPANTS", 3))
	challengeWindow := envDuration("CHALLENGE_WINDOW", 2*time.Hour)
	sweepInterval := envDuration("SWEEP_INTERVAL", 5*time.Second)
	taskRetention := envDuration("TASK_RETENTION", time.Hour)

	// --- Archive store ---
	var st store.Store
	var cleanup []func()

	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		pool, err := pgxpool.New(context.Background(), dbURL)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)
		st = store.NewPostgresStore(pool)
		slog.Info("connected to PostgreSQL")

		// Wrap with Redis read-through cache if configured.
		if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
			opt, err := redis.ParseURL(redisURL)
			if err != nil {
				slog.Error("invalid REDIS_URL", "err", err)
				os.Exit(1)
			}
			rdb := redis.NewClient(opt)
			cleanup = append(cleanup, func() { rdb.Close() })
			st = store.NewCachedStore(st, rdb, 30*time.Second)
			slog.Info("Redis cache enabled")
		}
	} else {
		slog.Warn("DATABASE_URL not set, using in-memory store (data will not persist)")
		st = store.NewMemoryStore()
	}

	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	// --- Operator registry and consensus resolver ---
	reg := registry.New(minStake)

	resolver, err := consensus.NewResolver(minParticipants)
	if err != nil {
		slog.Error("invalid consensus configuration", "err", err)
		os.Exit(1)
	}

	// --- Reward distributor ---
	recipients := reward.Recipients{
		OperatorPool: envString("OPERATOR_POOL_ADDR", "operator-pool"),
		Treasury:     envString("TREASURY_ADDR", "protocol-treasury"),
		GasVault:     envString("GAS_VAULT_ADDR", "gas-vault"),
	}
	distributor, err := reward.NewDistributor(reward.DefaultSplit, logSink{}, recipients)
	if err != nil {
		slog.Error("invalid reward split", "err", err)
		os.Exit(1)
	}

	// --- WebSocket hub ---
	wsHub := api.NewWSHub()
	go wsHub.Run()

	// --- Engine + background sweeper ---
	eng := engine.New(reg, resolver, distributor, st, wsHub, challengeWindow, taskRetention)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	go eng.Run(ctx, sweepInterval)

	svc := api.NewService(eng, st)

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)

	// CORS middleware for dashboard cross-origin requests.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"auction-engine"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// WebSocket endpoint for real-time task lifecycle events.
		r.Get("/ws", wsHub.HandleWS)

		// Operator registry.
		r.Get("/operators", svc.ListOperators)
		r.Post("/operators", svc.RegisterOperator)
		r.Post("/operators/{operatorID}/stake", svc.AddStake)
		r.Delete("/operators/{operatorID}", svc.DeregisterOperator)

		// Auction task lifecycle.
		r.Get("/tasks", svc.ListTasks)
		r.Post("/tasks", svc.CreateTask)
		r.Get("/tasks/{taskID}", svc.GetTask)
		r.Post("/tasks/{taskID}/responses", svc.SubmitResponse)
		r.Get("/tasks/{taskID}/responses", svc.GetTaskResponses)
		r.Get("/tasks/{taskID}/consensus", svc.GetConsensus)
		r.Post("/tasks/{taskID}/settle", svc.SettleTask)
		r.Get("/tasks/{taskID}/settlement", svc.GetSettlement)
		r.Post("/tasks/{taskID}/challenge", svc.RaiseChallenge)
		r.Get("/tasks/{taskID}/challenge", svc.GetChallenge)
		r.Post("/tasks/{taskID}/challenge/resolve", svc.ResolveChallenge)
		r.Post("/tasks/{taskID}/close-window", svc.CloseWindow)
		r.Post("/tasks/{taskID}/abort", svc.AbortTask)

		// Dashboard queries.
		r.Get("/auctions/summary", svc.AuctionSummaryHandler)
		r.Get("/settlements", svc.ListSettlements)
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("auction-engine listening", "port", port,
			"min_stake", minStake,
			"min_participants", minParticipants,
			"challenge_window", challengeWindow.String(),
		)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
}

func envString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envUint64(key string, fallback uint64) uint64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		slog.Warn("invalid value, using default", "key", key, "value", v)
		return fallback
	}
	return n
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		slog.Warn("invalid value, using default", "key", key, "value", v)
		return fallback
	}
	return d
}
