package gateway

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics はゲートウェイのPrometheusメトリクス。
type Metrics struct {
	// Requests は転送したリクエスト数（サービス名、ステータス別）。
	Requests *prometheus.CounterVec
	// RouteMisses はどのルートにも一致しなかったリクエスト数。
	RouteMisses prometheus.Counter
	// UpstreamErrors は名前解決や接続に失敗した回数（サービス名別）。
	UpstreamErrors *prometheus.CounterVec
}

// NewMetrics はメトリクスを生成してレジストリに登録する。
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "edgeauth_gateway_requests_total",
				Help: "Total number of proxied requests by service and status",
			},
			[]string{"service", "status"},
		),
		RouteMisses: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "edgeauth_gateway_route_misses_total",
				Help: "Total number of requests that matched no route",
			},
		),
		UpstreamErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "edgeauth_gateway_upstream_errors_total",
				Help: "Total number of upstream resolution or connection failures by service",
			},
			[]string{"service"},
		),
	}

	reg.MustRegister(m.Requests)
	reg.MustRegister(m.RouteMisses)
	reg.MustRegister(m.UpstreamErrors)

	return m
}

func (m *Metrics) recordRequest(service string, status int) {
	m.Requests.WithLabelValues(service, strconv.Itoa(status)).Inc()
}
