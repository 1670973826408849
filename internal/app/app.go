package app

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hitoshi/diary/internal/analytics"
	"github.com/hitoshi/diary/internal/config"
	"github.com/hitoshi/diary/internal/database"
	"github.com/hitoshi/diary/internal/handler"
	"github.com/hitoshi/diary/internal/logger"
	"github.com/hitoshi/diary/internal/metrics"
	"github.com/hitoshi/diary/internal/middleware"
	"github.com/hitoshi/diary/internal/repository"
	"github.com/hitoshi/diary/internal/security"
	"github.com/hitoshi/diary/internal/tracking"
	"github.com/hitoshi/diary/internal/user"
	"github.com/hitoshi/diary/internal/worker/cleanup"
	"github.com/hitoshi/diary/internal/worker/rollup"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. 設定読み込み前にログを使えるようにする
	logger.SetupDefault(w, slog.LevelInfo)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. LOG_LEVELを反映する
	logger.SetupDefault(w, logger.ParseLevel(cfg.LogLevel))

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.Bool("tracking_enabled", cfg.TrackingEnabled()),
	)

	switch cmd {
	case CommandServe:
		return runServe(cfg)
	case CommandWorker:
		return runWorker(cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	case CommandRollup:
		return runRollupOnce(cfg)
	default:
		return runServe(cfg)
	}
}

// openDB はDB接続を開き、疎通を確認する。
func openDB(cfg *config.Config) (*sql.DB, error) {
	db, err := database.Open(cfg.DatabaseURL, database.PoolOptions{
		MaxOpenConns:    cfg.DBMaxOpenConns,
		MaxIdleConns:    cfg.DBMaxIdleConns,
		ConnMaxLifetime: cfg.DBConnMaxLifetime,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return db, nil
}

// newTracker はPOSTHOG_API_KEYが設定されている場合のみPostHogクライアントを返す。
func newTracker(cfg *config.Config, collector metrics.MetricsCollector) (trackerCloser, error) {
	if !cfg.TrackingEnabled() {
		slog.Info("event tracking disabled")
		return tracking.Noop{}, nil
	}
	client, err := tracking.New(tracking.Config{
		APIKey:   cfg.PostHogAPIKey,
		Endpoint: cfg.PostHogEndpoint,
		Timeout:  cfg.TrackingTimeout,
	}, collector, slog.Default())
	if err != nil {
		return nil, err
	}
	return client, nil
}

type trackerCloser interface {
	analytics.Tracker
	Close() error
}

// newRegistry はプロセス・ランタイムのメトリクスを含むレジストリを生成する。
func newRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	// 1. DB接続
	db, err := openDB(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	slog.Info("database connection established")

	// 2. メトリクス
	reg := newRegistry()
	collector := metrics.NewCollector(reg)

	// 3. リポジトリの初期化
	userRepo := repository.NewPostgresUserRepo(db)
	sessionRepo := repository.NewPostgresSessionRepo(db)
	usageRepo := repository.NewPostgresUsageEventRepo(db)
	journalRepo := repository.NewPostgresJournalEntryRepo(db)
	rollupRepo := repository.NewPostgresRollupRepo(db)
	eventStore := repository.NewPostgresEventStore(db)

	// 4. 外部イベント送信
	tracker, err := newTracker(cfg, collector)
	if err != nil {
		return fmt.Errorf("failed to create tracking client: %w", err)
	}
	defer func() {
		if err := tracker.Close(); err != nil {
			slog.Warn("failed to flush tracking events", slog.String("error", err.Error()))
		}
	}()

	// 5. ドメインサービスの初期化
	userService := user.NewService(userRepo, security.NewTextSanitizer())
	analyticsService := analytics.NewService(analytics.ServiceDeps{
		Sessions: sessionRepo,
		Usage:    usageRepo,
		Entries:  journalRepo,
		Rollups:  rollupRepo,
		Events:   eventStore,
		Metrics:  collector,
		Tracker:  tracker,
	})

	// 6. ルーターの構築（設定値はreq/min）
	rateLimiter := middleware.NewRateLimiter(
		middleware.NewRateLimiterConfig(cfg.RateLimitGeneral, cfg.RateLimitIngest),
	)
	defer rateLimiter.Stop()

	router := handler.NewRouter(&handler.RouterDeps{
		Logger:            slog.Default(),
		UserResolver:      userService,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rateLimiter,
		Metrics:           collector,
		Gatherer:          reg,
		HealthChecker:     db,
		UserService:       userService,
		AnalyticsService:  analyticsService,
		JournalService:    analyticsService,
	})

	// 7. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	serverErr := make(chan error, 1)
	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	select {
	case <-stop:
	case err := <-serverErr:
		return fmt.Errorf("server listen error: %w", err)
	}
	slog.Info("shutting down API server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// DB接続を開き、集計スケジューラを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	// 1. DB接続
	db, err := openDB(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	slog.Info("database connection established (worker)")

	reg := newRegistry()
	scheduler := newScheduler(cfg, db, metrics.NewCollector(reg))

	// グレースフルシャットダウンのためのシグナルハンドリング
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// 集計メトリクスの公開。待ち受けに失敗しても集計は続ける
	metricsServer := newMetricsServer(cfg.WorkerMetricsPort, reg)
	go func() {
		slog.Info("worker metrics server starting", slog.String("addr", metricsServer.Addr))
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("worker metrics server failed", slog.String("error", err.Error()))
		}
	}()

	slog.Info("worker starting",
		slog.Duration("rollup_interval", cfg.RollupInterval),
		slog.Int("max_concurrent", cfg.RollupMaxConcurrent),
	)

	// スケジューラをメインgoroutineで実行（ブロッキング）
	scheduler.Start(ctx, cfg.RollupInterval)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		slog.Warn("worker metrics server shutdown failed", slog.String("error", err.Error()))
	}

	slog.Info("worker stopped gracefully")
	return nil
}

// newMetricsServer はgathererの内容を/metricsで公開するHTTPサーバーを生成する。
func newMetricsServer(port string, gatherer prometheus.Gatherer) *http.Server {
	return &http.Server{
		Addr:              ":" + port,
		Handler:           metrics.SetupMetricsRoute(gatherer),
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// runRollupOnce は集計サイクルを1回実行して終了する。
func runRollupOnce(cfg *config.Config) error {
	db, err := openDB(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// 1回限りの実行なのでメトリクスは公開せず、件数はログで確認する
	collector := metrics.NewCollector(prometheus.NewRegistry())
	if err := newScheduler(cfg, db, collector).RunOnce(ctx); err != nil {
		return fmt.Errorf("rollup failed: %w", err)
	}
	return nil
}

// newScheduler は暫定行の削除ジョブと集計器を組み合わせたスケジューラを生成する。
func newScheduler(cfg *config.Config, db *sql.DB, collector metrics.MetricsCollector) *rollup.Scheduler {
	rollupRepo := repository.NewPostgresRollupRepo(db)
	eventStore := repository.NewPostgresEventStore(db)

	return rollup.NewScheduler(
		cleanup.NewCleanupJob(rollupRepo, collector, slog.Default()),
		analytics.NewPeriodAggregator(rollupRepo, eventStore, collector, nil),
		analytics.NewCompletionCalculator(rollupRepo, eventStore, collector, nil),
		slog.Default(),
		cfg.RollupMaxConcurrent,
	)
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully")
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
