// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hitoshi/muistot/internal/access"
)

// Collector はPrometheusメトリクスを収集する実装。
// access.DecisionRecorder、auth.LoginRecorder、ミドルウェアとクリーンアップジョブの記録先を兼ねる。
type Collector struct {
	accessDecisions *prometheus.CounterVec
	emailLogins     *prometheus.CounterVec
	tokenExchanges  *prometheus.CounterVec
	namegenFailures prometheus.Counter
	httpStatus      *prometheus.CounterVec
	httpLatency     prometheus.Histogram
	cleanupDeleted  *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		accessDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "muistot_access_decisions_total",
			Help: "ポリシー別のアクセス判定数",
		}, []string{"policy", "outcome"}),
		emailLogins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "muistot_email_login_requests_total",
			Help: "結果別のログインメール要求数",
		}, []string{"result"}),
		tokenExchanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "muistot_email_token_exchanges_total",
			Help: "結果別のメールトークン交換数",
		}, []string{"result"}),
		namegenFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "muistot_namegen_failures_total",
			Help: "ユーザー名生成サービスの失敗数",
		}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "muistot_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		httpLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "muistot_http_request_duration_seconds",
			Help:    "リクエスト処理時間（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		cleanupDeleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "muistot_cleanup_deleted_total",
			Help: "クリーンアップで削除された行数",
		}, []string{"table"}),
	}

	reg.MustRegister(
		c.accessDecisions,
		c.emailLogins,
		c.tokenExchanges,
		c.namegenFailures,
		c.httpStatus,
		c.httpLatency,
		c.cleanupDeleted,
	)

	return c
}

// RecordAccessDecision はポリシー判定の結果を記録する。
func (c *Collector) RecordAccessDecision(policy string, allowed bool) {
	outcome := "denied"
	if allowed {
		outcome = "allowed"
	}
	c.accessDecisions.WithLabelValues(policy, outcome).Inc()
}

// RecordEmailLogin はログインメール要求の結果を記録する。
func (c *Collector) RecordEmailLogin(result string) {
	c.emailLogins.WithLabelValues(result).Inc()
}

// RecordTokenExchange はトークン交換の結果を記録する。
func (c *Collector) RecordTokenExchange(result string) {
	c.tokenExchanges.WithLabelValues(result).Inc()
}

// RecordNameGeneratorFailure はユーザー名生成の失敗を記録する。
func (c *Collector) RecordNameGeneratorFailure() {
	c.namegenFailures.Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordRequestDuration はリクエスト処理時間を記録する。
func (c *Collector) RecordRequestDuration(duration time.Duration) {
	c.httpLatency.Observe(duration.Seconds())
}

// RecordCleanup はクリーンアップで削除した行数を記録する。
func (c *Collector) RecordCleanup(table string, deleted int64) {
	c.cleanupDeleted.WithLabelValues(table).Add(float64(deleted))
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// compile-time interface check
var _ access.DecisionRecorder = (*Collector)(nil)
