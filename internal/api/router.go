package api

import (
	"encoding/json"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/veritaslabs/veritas/internal/api/handlers"
	mw "github.com/veritaslabs/veritas/internal/api/middleware"
	"github.com/veritaslabs/veritas/internal/chain"
	"github.com/veritaslabs/veritas/internal/config"
	"github.com/veritaslabs/veritas/internal/domain"
	"github.com/veritaslabs/veritas/internal/service"
	"github.com/veritaslabs/veritas/internal/store"
)

// App holds the router and background services for lifecycle management.
type App struct {
	Router       *chi.Mux
	Settler      *service.EpochService
	startTime    time.Time
	requestCount atomic.Int64
	errorCount   atomic.Int64
}

func NewApp(db *pgxpool.Pool, logger *zap.Logger) *App {
	// Stores
	txManager := store.NewTxManager(db)
	agentStore := store.NewAgentStore(db)
	beliefStore := store.NewBeliefStore(db)
	submissionStore := store.NewSubmissionStore(db)
	positionStore := store.NewPositionStore(db)
	poolStore := store.NewPoolStore(db)
	configStore := store.NewConfigStore(db)
	eventStore := store.NewLedgerEventStore(db)

	// Settlement chain client via provider factory
	chainClient, err := chain.NewClient(config.ChainProvider(), config.ChainRPCEndpoint())
	if err != nil {
		logger.Warn("chain client initialization failed; falling back to sim",
			zap.String("provider", config.ChainProvider()), zap.Error(err))
		chainClient = chain.NewSimClient()
	} else {
		logger.Info("chain client initialized", zap.String("provider", config.ChainProvider()))
	}

	// Services
	collateralSvc := service.NewCollateralService(agentStore, positionStore, logger)
	agentSvc := service.NewAgentService(agentStore, positionStore)
	beliefSvc := service.NewBeliefService(txManager, beliefStore, poolStore)
	submissionSvc := service.NewSubmissionService(txManager, beliefStore, submissionStore, agentStore, logger)
	tradeSvc := service.NewTradeService(txManager, agentStore, beliefStore, poolStore, positionStore,
		submissionStore, configStore, collateralSvc, logger)
	epochSvc := service.NewEpochService(txManager, beliefStore, submissionStore, agentStore,
		positionStore, poolStore, configStore, chainClient, logger)
	epochSvc.SetInterval(config.SettleWorkerInterval())
	mirrorSvc := service.NewMirrorService(txManager, eventStore, agentStore, positionStore, poolStore, logger)

	// Handlers
	agentHandler := handlers.NewAgentHandler(agentSvc)
	beliefHandler := handlers.NewBeliefHandler(beliefSvc, submissionSvc)
	tradeHandler := handlers.NewTradeHandler(tradeSvc)
	epochHandler := handlers.NewEpochHandler(epochSvc)
	eventHandler := handlers.NewEventHandler(mirrorSvc)

	r := chi.NewRouter()

	app := &App{
		Router:    r,
		Settler:   epochSvc,
		startTime: time.Now(),
	}

	metricsCollector := mw.NewMetricsCollector(&app.requestCount, &app.errorCount)

	// Global middleware (order matters)
	r.Use(mw.RequestID)
	r.Use(middleware.RealIP)
	r.Use(metricsCollector.Middleware)
	r.Use(mw.Logging(logger))
	r.Use(middleware.Recoverer)
	r.Use(mw.RateLimit(config.RateLimitRPS(), config.RateLimitBurst()))

	// Health (no auth)
	r.Get("/health", healthHandler(db))

	// Metrics (no auth)
	r.Get("/metrics", app.metricsHandler())

	// Agent registration (no auth — bootstrap endpoint)
	r.Post("/v1/agents", agentHandler.Register)

	// Authenticated routes
	r.Route("/v1", func(r chi.Router) {
		r.Use(mw.APIKeyAuth(agentStore))

		r.Route("/agents/{id}", func(r chi.Router) {
			r.Get("/", agentHandler.GetByID)
			r.Get("/portfolio", agentHandler.Portfolio)
			r.Get("/positions", agentHandler.Positions)
		})

		r.Route("/beliefs", func(r chi.Router) {
			r.Post("/", beliefHandler.Create)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", beliefHandler.GetByID)
				r.Get("/pool", beliefHandler.GetPool)
				r.Post("/submissions", beliefHandler.Submit)
				r.Get("/rebase-status", epochHandler.RebaseStatus)
				r.Post("/settle", epochHandler.Settle)
			})
		})

		r.Post("/pools/{id}/trades", tradeHandler.Record)

		// Confirmed ledger event feed (at-least-once delivery)
		r.Post("/events", eventHandler.Apply)
	})

	return app
}

// NewRouter returns just the chi.Mux for callers that manage lifecycle
// themselves.
func NewRouter(db *pgxpool.Pool, logger *zap.Logger) *chi.Mux {
	return NewApp(db, logger).Router
}

func healthHandler(db *pgxpool.Pool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := db.Ping(r.Context()); err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(w).Encode(map[string]string{"status": "error", "error": err.Error()})
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	}
}

func (app *App) metricsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var memStats runtime.MemStats
		runtime.ReadMemStats(&memStats)

		uptime := time.Since(app.startTime)

		response := map[string]any{
			"uptime_seconds": uptime.Seconds(),
			"uptime_human":   uptime.Round(time.Second).String(),
			"request_count":  app.requestCount.Load(),
			"error_count":    app.errorCount.Load(),
			"goroutines":     runtime.NumGoroutine(),
			"memory": map[string]any{
				"alloc_mb":       float64(memStats.Alloc) / 1024 / 1024,
				"total_alloc_mb": float64(memStats.TotalAlloc) / 1024 / 1024,
				"sys_mb":         float64(memStats.Sys) / 1024 / 1024,
				"num_gc":         memStats.NumGC,
			},
			"go_version": runtime.Version(),
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(response)
	}
}

// Ensure stores and clients satisfy interfaces at compile time.
var (
	_ domain.TxManager        = (*store.TxManager)(nil)
	_ domain.AgentStore       = (*store.AgentStore)(nil)
	_ domain.BeliefStore      = (*store.BeliefStore)(nil)
	_ domain.SubmissionStore  = (*store.SubmissionStore)(nil)
	_ domain.PositionStore    = (*store.PositionStore)(nil)
	_ domain.PoolStore        = (*store.PoolStore)(nil)
	_ domain.ConfigStore      = (*store.ConfigStore)(nil)
	_ domain.LedgerEventStore = (*store.LedgerEventStore)(nil)
	_ chain.Client            = (*chain.RPCClient)(nil)
	_ chain.Client            = (*chain.SimClient)(nil)
)
