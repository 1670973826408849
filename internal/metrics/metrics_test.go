package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// findMetric は指定名・ラベル値のメトリクスを返す。見つからない場合はnilを返す。
func findMetric(t *testing.T, reg *prometheus.Registry, name, labelValue string) *dto.Metric {
	t.Helper()

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			if labelValue == "" {
				return m
			}
			for _, l := range m.GetLabel() {
				if l.GetValue() == labelValue {
					return m
				}
			}
		}
	}
	return nil
}

// TestNewCollector_ReturnsNonNil はCollectorが正常に生成されることを検証する。
func TestNewCollector_ReturnsNonNil(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	if c == nil {
		t.Fatal("expected non-nil Collector")
	}
}

// TestRecordRollupComputed_IncrementsCounterWithKind は集計種別ごとにカウンタが増加することを検証する。
func TestRecordRollupComputed_IncrementsCounterWithKind(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordRollupComputed("day")
	c.RecordRollupComputed("day")
	c.RecordRollupComputed("week")

	day := findMetric(t, reg, "diary_rollup_computed_total", "day")
	if day == nil {
		t.Fatal("diary_rollup_computed_total{kind=day} not found")
	}
	if v := day.GetCounter().GetValue(); v != 2 {
		t.Errorf("rollup_computed_total{kind=day} = %v, want 2", v)
	}

	week := findMetric(t, reg, "diary_rollup_computed_total", "week")
	if week == nil {
		t.Fatal("diary_rollup_computed_total{kind=week} not found")
	}
	if v := week.GetCounter().GetValue(); v != 1 {
		t.Errorf("rollup_computed_total{kind=week} = %v, want 1", v)
	}
}

// TestRecordRollupCacheHit_IncrementsCounter はキャッシュヒットが記録されることを検証する。
func TestRecordRollupCacheHit_IncrementsCounter(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordRollupCacheHit("month")

	m := findMetric(t, reg, "diary_rollup_cache_hit_total", "month")
	if m == nil {
		t.Fatal("diary_rollup_cache_hit_total{kind=month} not found")
	}
	if v := m.GetCounter().GetValue(); v != 1 {
		t.Errorf("rollup_cache_hit_total = %v, want 1", v)
	}
}

// TestRecordComputeLatency_ObservesHistogram は計算レイテンシのヒストグラムに値が記録されることを検証する。
func TestRecordComputeLatency_ObservesHistogram(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordComputeLatency("day", 100*time.Millisecond)
	c.RecordComputeLatency("day", 2*time.Second)

	m := findMetric(t, reg, "diary_rollup_compute_seconds", "day")
	if m == nil {
		t.Fatal("diary_rollup_compute_seconds not found")
	}
	h := m.GetHistogram()
	if h.GetSampleCount() != 2 {
		t.Errorf("sample_count = %d, want 2", h.GetSampleCount())
	}
	// 合計は0.1 + 2.0 = 2.1秒
	if h.GetSampleSum() < 2.0 || h.GetSampleSum() > 2.2 {
		t.Errorf("sample_sum = %v, want ~2.1", h.GetSampleSum())
	}
}

// TestRecordNegativeReturning_IncrementsCounter は負のreturning_usersが記録されることを検証する。
func TestRecordNegativeReturning_IncrementsCounter(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordNegativeReturning("day")

	m := findMetric(t, reg, "diary_negative_returning_users_total", "day")
	if m == nil {
		t.Fatal("diary_negative_returning_users_total not found")
	}
	if v := m.GetCounter().GetValue(); v != 1 {
		t.Errorf("negative_returning_users_total = %v, want 1", v)
	}
}

// TestRecordProvisionalPurged_AddsCount は削除件数が加算されることを検証する。
func TestRecordProvisionalPurged_AddsCount(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordProvisionalPurged(3)
	c.RecordProvisionalPurged(2)

	m := findMetric(t, reg, "diary_provisional_rollups_purged_total", "")
	if m == nil {
		t.Fatal("diary_provisional_rollups_purged_total not found")
	}
	if v := m.GetCounter().GetValue(); v != 5 {
		t.Errorf("provisional_rollups_purged_total = %v, want 5", v)
	}
}

// TestRecordHTTPStatus_IncrementsCounterWithLabel はHTTPステータスカウンタがラベル付きで増加することを検証する。
func TestRecordHTTPStatus_IncrementsCounterWithLabel(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordHTTPStatus(200)
	c.RecordHTTPStatus(200)
	c.RecordHTTPStatus(404)

	ok := findMetric(t, reg, "diary_http_status_total", "200")
	if ok == nil || ok.GetCounter().GetValue() != 2 {
		t.Errorf("http_status_total{status_code=200} = %v, want 2", ok.GetCounter().GetValue())
	}
	notFound := findMetric(t, reg, "diary_http_status_total", "404")
	if notFound == nil || notFound.GetCounter().GetValue() != 1 {
		t.Errorf("http_status_total{status_code=404} = %v, want 1", notFound.GetCounter().GetValue())
	}
}

// TestMetricsHandler_ReturnsPrometheusFormat は/metricsエンドポイントがPrometheus形式で返すことを検証する。
func TestMetricsHandler_ReturnsPrometheusFormat(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordRollupComputed("day")
	c.RecordRollupCacheHit("day")
	c.RecordHTTPStatus(200)
	c.RecordComputeLatency("day", 500*time.Millisecond)
	c.RecordTrackingFailure("session_started")

	handler := Handler(reg)
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}

	body, _ := io.ReadAll(resp.Body)
	bodyStr := string(body)

	expectedMetrics := []string{
		"diary_rollup_computed_total",
		"diary_rollup_cache_hit_total",
		"diary_http_status_total",
		"diary_rollup_compute_seconds",
		"diary_tracking_failures_total",
	}

	for _, metric := range expectedMetrics {
		if !strings.Contains(bodyStr, metric) {
			t.Errorf("response body does not contain %q", metric)
		}
	}
}

// TestMultipleCollectors_IndependentRegistries は異なるレジストリで独立に動作することを検証する。
func TestMultipleCollectors_IndependentRegistries(t *testing.T) {
	reg1 := prometheus.NewRegistry()
	reg2 := prometheus.NewRegistry()
	c1 := NewCollector(reg1)
	c2 := NewCollector(reg2)

	c1.RecordRollupComputed("day")
	c2.RecordRollupComputed("day")
	c2.RecordRollupComputed("day")

	if v := findMetric(t, reg1, "diary_rollup_computed_total", "day").GetCounter().GetValue(); v != 1 {
		t.Errorf("reg1 rollup_computed = %v, want 1", v)
	}
	if v := findMetric(t, reg2, "diary_rollup_computed_total", "day").GetCounter().GetValue(); v != 2 {
		t.Errorf("reg2 rollup_computed = %v, want 2", v)
	}
}
