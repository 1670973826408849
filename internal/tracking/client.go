// Package tracking は利用イベントを外部の分析基盤（PostHog）へ送信する。
// 送信は非同期のバッチで行い、失敗しても記録処理そのものは失敗させない。
package tracking

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/hitoshi/diary/internal/analytics"
	"github.com/hitoshi/diary/internal/metrics"
	"github.com/posthog/posthog-go"
)

const (
	defaultBatchSize = 100
	defaultInterval  = 10 * time.Second
)

// Config はPostHogクライアントの設定。
type Config struct {
	APIKey    string
	Endpoint  string
	Timeout   time.Duration // 1リクエストあたりのタイムアウト
	BatchSize int
	Interval  time.Duration
}

// enqueuer はposthog.Clientのうち利用するメソッド。
type enqueuer interface {
	Enqueue(msg posthog.Message) error
	Close() error
}

// Client はanalytics.Trackerの実装。
type Client struct {
	ph      enqueuer
	metrics metrics.MetricsCollector
	logger  *slog.Logger
	now     func() time.Time
}

// New はPostHogクライアントを生成する。
func New(cfg Config, collector metrics.MetricsCollector, logger *slog.Logger) (*Client, error) {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}

	ph, err := posthog.NewWithConfig(cfg.APIKey, posthog.Config{
		Endpoint:  cfg.Endpoint,
		BatchSize: cfg.BatchSize,
		Interval:  cfg.Interval,
		Transport: newTransport(cfg.Timeout),
	})
	if err != nil {
		return nil, fmt.Errorf("PostHogクライアントの初期化に失敗しました: %w", err)
	}

	logger.Info("イベント送信を有効化しました",
		slog.String("endpoint", cfg.Endpoint),
	)
	return newClient(ph, collector, logger), nil
}

func newClient(ph enqueuer, collector metrics.MetricsCollector, logger *slog.Logger) *Client {
	return &Client{
		ph:      ph,
		metrics: collector,
		logger:  logger,
		now:     time.Now,
	}
}

// newTransport は接続とレスポンス待ちにタイムアウトを設定したTransportを返す。
func newTransport(timeout time.Duration) http.RoundTripper {
	dialer := &net.Dialer{Timeout: timeout}
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		TLSHandshakeTimeout:   timeout,
		ResponseHeaderTimeout: timeout,
		MaxIdleConns:          10,
		IdleConnTimeout:       90 * time.Second,
	}
}

// Track はイベントを送信キューに積む。
// キューへの投入に失敗した場合はログとメトリクスに記録するだけで、エラーは返さない。
func (c *Client) Track(ctx context.Context, distinctID, event string, properties map[string]any) {
	props := posthog.NewProperties()
	for k, v := range properties {
		props.Set(k, v)
	}

	err := c.ph.Enqueue(posthog.Capture{
		DistinctId: distinctID,
		Event:      event,
		Properties: props,
		Timestamp:  c.now().UTC(),
	})
	if err != nil {
		c.logger.Warn("イベントの送信に失敗しました",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
		if c.metrics != nil {
			c.metrics.RecordTrackingFailure(event)
		}
	}
}

// Close は未送信のイベントを送信してからクライアントを停止する。
func (c *Client) Close() error {
	return c.ph.Close()
}

// Noop は送信を無効化したときのTracker。
type Noop struct{}

// Track は何もしない。
func (Noop) Track(ctx context.Context, distinctID, event string, properties map[string]any) {}

// Close は何もしない。
func (Noop) Close() error { return nil }

var (
	_ analytics.Tracker = (*Client)(nil)
	_ analytics.Tracker = Noop{}
)
