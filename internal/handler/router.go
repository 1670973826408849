package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/diary/internal/metrics"
	"github.com/hitoshi/diary/internal/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Logger            *slog.Logger
	UserResolver      middleware.UserResolver
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	Metrics           metrics.MetricsCollector
	Gatherer          prometheus.Gatherer

	HealthChecker    HealthChecker
	UserService      UserServiceInterface
	AnalyticsService AnalyticsServiceInterface
	JournalService   JournalServiceInterface
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → Logging → SecurityHeaders → CORS → Identity → RateLimit(General/Ingest)
//
// /health、/metrics、/users/register は識別ミドルウェアの外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(middleware.NewRecoveryMiddleware(logger))
	r.Use(middleware.NewLoggingMiddleware(logger, deps.Metrics))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	userHandler := NewUserHandler(deps.UserService)
	analyticsHandler := NewAnalyticsHandler(deps.AnalyticsService)
	journalHandler := NewJournalHandler(deps.JournalService)

	// --- 識別不要のルート ---
	r.Get("/health", NewHealthHandler(deps.HealthChecker))
	if deps.Gatherer != nil {
		r.Handle("/metrics", metrics.SetupMetricsRoute(deps.Gatherer))
	}
	r.Post("/users/register", userHandler.Register)

	// --- 識別が必要なルート ---
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewIdentityMiddleware(deps.UserResolver))

		r.Group(func(r chi.Router) {
			r.Use(deps.RateLimiter.GeneralMiddleware())
			r.Get("/users/me", userHandler.Me)
			r.Put("/users/me", userHandler.UpdateMe)
			r.Get("/journal-entry/{entry_date}", journalHandler.GetEntry)
			r.Get("/journal-entries", journalHandler.ListEntries)
		})

		r.Route("/analytics", func(r chi.Router) {
			// 記録系
			r.Group(func(r chi.Router) {
				r.Use(deps.RateLimiter.IngestMiddleware())
				r.Post("/session/start", analyticsHandler.StartSession)
				r.Post("/session/end/{session_id}", analyticsHandler.EndSession)
				r.Post("/feature/usage", analyticsHandler.RecordFeatureUsage)
				r.Post("/journal/entry", analyticsHandler.RecordJournalEntry)
			})

			// 参照系
			r.Group(func(r chi.Router) {
				r.Use(deps.RateLimiter.GeneralMiddleware())
				r.Get("/metrics/completion", analyticsHandler.GetCompletionMetrics)
				r.Get("/metrics/{period}", analyticsHandler.GetPeriodMetrics)
				r.Get("/retention/curve", analyticsHandler.GetRetentionCurve)
				r.Get("/usage/patterns", analyticsHandler.GetUsagePatterns)
			})
		})
	})

	return r
}
