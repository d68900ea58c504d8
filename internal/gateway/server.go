package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/nao1215/edgeauth/pkg/autherr"
	"github.com/nao1215/edgeauth/pkg/middleware"
)

// shutdownTimeout は停止時に処理中のリクエストを待つ時間。
const shutdownTimeout = 10 * time.Second

// Server はエッジゲートウェイのHTTPサーバー。
type Server struct {
	// router はGinのHTTPルーター。
	router *gin.Engine
	// port はサーバーのリッスンポート。
	port string
	// table はルート表。
	table *Table
	// resolver はサービス名を転送先に解決する。
	resolver Resolver
	// proxy は上流サービスへのリバースプロキシ。
	proxy *httputil.ReverseProxy
	// registry は /metrics で公開するPrometheusレジストリ。
	registry *prometheus.Registry
	// metrics はゲートウェイのメトリクス。
	metrics *Metrics
	// logger はロガー。
	logger *zap.Logger
}

// Option はServerの生成オプション。
type Option func(*Server)

// WithResolver はサービス名の解決方法を差し替える。
func WithResolver(r Resolver) Option {
	return func(s *Server) {
		s.resolver = r
	}
}

// WithTransport は上流サービスへの通信に使うTransportを差し替える。
func WithTransport(rt http.RoundTripper) Option {
	return func(s *Server) {
		s.proxy.Transport = rt
	}
}

// upstreamKey はリクエストコンテキストに転送先を格納するキー。
type upstreamKey struct{}

// upstream は1リクエストの転送先。
type upstream struct {
	service string
	target  *url.URL
	path    string
}

// NewServer は新しいゲートウェイサーバーを生成する。
func NewServer(port string, cfg Config, logger *zap.Logger, opts ...Option) (*Server, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	table, err := NewTable(cfg.Routes)
	if err != nil {
		return nil, fmt.Errorf("ルート表の構築に失敗: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	s := &Server{
		port:     port,
		table:    table,
		registry: registry,
		metrics:  NewMetrics(registry),
		logger:   logger,
	}
	s.proxy = &httputil.ReverseProxy{
		Rewrite:        s.rewrite,
		ModifyResponse: stripCORSHeaders,
		ErrorHandler:   s.handleUpstreamError,
		ErrorLog:       zap.NewStdLog(logger),
		FlushInterval:  -1,
		Transport:      newTransport(cfg.UpstreamTimeout),
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.resolver == nil {
		resolver, err := NewStaticResolver(cfg.Services)
		if err != nil {
			return nil, fmt.Errorf("転送先の設定が不正です: %w", err)
		}
		s.resolver = resolver
	}

	router := gin.New()
	router.RedirectTrailingSlash = false
	router.Use(middleware.Recovery(logger))
	router.Use(middleware.RequestLogger(logger))
	router.Use(middleware.CORS(cfg.CORS))
	s.router = router
	s.setupRoutes()

	return s, nil
}

// newTransport は接続とレスポンスヘッダー受信の待ち時間を制限したTransportを返す。
func newTransport(timeout time.Duration) *http.Transport {
	if timeout <= 0 {
		timeout = DefaultUpstreamTimeout
	}
	t := http.DefaultTransport.(*http.Transport).Clone()
	t.DialContext = (&net.Dialer{
		Timeout:   timeout,
		KeepAlive: 30 * time.Second,
	}).DialContext
	t.ResponseHeaderTimeout = timeout
	return t
}

// setupRoutes はゲートウェイ自身のエンドポイントと転送処理を設定する。
func (s *Server) setupRoutes() {
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "gateway"})
	})
	s.router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})))

	// 上記以外はすべてルート表で転送先を決める
	s.router.NoRoute(s.handleProxy)
}

// Handler はHTTPハンドラーを返す。
func (s *Server) Handler() http.Handler {
	return s.router
}

// Registry はメトリクスのレジストリを返す。
func (s *Server) Registry() *prometheus.Registry {
	return s.registry
}

// Run はHTTPサーバーを起動し、ctx がキャンセルされると停止する。
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              ":" + s.port,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// handleProxy はパスに一致するルートの転送先へリクエストを転送する。
func (s *Server) handleProxy(c *gin.Context) {
	// 上流が解決するパスと同じパスでルートを選ぶ
	path := CleanPath(c.Request.URL.Path)

	route, ok := s.table.Match(path)
	if !ok {
		s.metrics.RouteMisses.Inc()
		err := autherr.Wrap(component, autherr.ErrRouteNotFound, "path", path)
		s.logger.Debug("一致するルートがありません",
			zap.String("path", path),
			zap.String("code", autherr.Code(err)),
		)
		c.JSON(autherr.HTTPStatus(err), gin.H{"error": autherr.ErrRouteNotFound.Error()})
		return
	}

	target, err := s.resolver.Resolve(c.Request.Context(), route.Service)
	if err != nil {
		s.metrics.UpstreamErrors.WithLabelValues(route.Service).Inc()
		s.metrics.recordRequest(route.Service, http.StatusServiceUnavailable)
		s.logger.Warn("転送先の解決に失敗",
			zap.String("service", route.Service),
			zap.String("request_id", middleware.RequestID(c)),
			zap.Error(err),
		)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": autherr.ErrUpstreamUnavailable.Error()})
		return
	}

	up := &upstream{service: route.Service, target: target, path: route.Rewrite(path)}
	req := c.Request.WithContext(context.WithValue(c.Request.Context(), upstreamKey{}, up))
	s.proxy.ServeHTTP(c.Writer, req)

	s.metrics.recordRequest(route.Service, c.Writer.Status())
}

// rewrite は転送先URLとパスを設定する。メソッド、ヘッダー、ボディ、クエリはそのまま引き継ぐ。
func (s *Server) rewrite(pr *httputil.ProxyRequest) {
	up, ok := pr.In.Context().Value(upstreamKey{}).(*upstream)
	if !ok {
		return
	}
	pr.Out.URL.Path = up.path
	pr.Out.URL.RawPath = ""
	pr.SetURL(up.target)
	pr.SetXForwarded()
}

// handleUpstreamError は上流サービスとの通信失敗を502として返す。
func (s *Server) handleUpstreamError(w http.ResponseWriter, r *http.Request, err error) {
	service := ""
	if up, ok := r.Context().Value(upstreamKey{}).(*upstream); ok {
		service = up.service
	}
	s.metrics.UpstreamErrors.WithLabelValues(service).Inc()

	wrapped := autherr.Wrapf(component, autherr.ErrUpstreamUnavailable, err, "service", service)
	s.logger.Warn("上流サービスとの通信に失敗",
		zap.String("service", service),
		zap.String("path", r.URL.Path),
		zap.String("request_id", r.Header.Get(middleware.HeaderRequestID)),
		zap.String("code", autherr.Code(wrapped)),
		zap.Error(err),
	)

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusBadGateway)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": "内部サービスとの通信に失敗しました"})
}

// stripCORSHeaders は上流サービスが付与したCORSヘッダーを取り除く。
// ポリシーはゲートウェイが一律に適用する。
func stripCORSHeaders(res *http.Response) error {
	for key := range res.Header {
		if strings.HasPrefix(key, "Access-Control-") {
			res.Header.Del(key)
		}
	}
	return nil
}
