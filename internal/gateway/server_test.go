package gateway

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// recordedRequest はバックエンドが受信したリクエストの記録。
type recordedRequest struct {
	Method        string
	Path          string
	RawQuery      string
	Authorization string
	Body          string
	Forwarded     string
}

// backend はテスト用のバックエンドサービス。
type backend struct {
	*httptest.Server

	mu       sync.Mutex
	requests []recordedRequest
}

// newBackend は受信したリクエストを記録して200を返すバックエンドを起動する。
func newBackend(t *testing.T) *backend {
	t.Helper()

	b := &backend{}
	b.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		b.mu.Lock()
		b.requests = append(b.requests, recordedRequest{
			Method:        r.Method,
			Path:          r.URL.Path,
			RawQuery:      r.URL.RawQuery,
			Authorization: r.Header.Get("Authorization"),
			Body:          string(body),
			Forwarded:     r.Header.Get("X-Forwarded-Host"),
		})
		b.mu.Unlock()

		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"served_by":"backend"}`))
	}))
	t.Cleanup(b.Close)
	return b
}

func (b *backend) received() []recordedRequest {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]recordedRequest(nil), b.requests...)
}

// newTestServer はUSER-SERVICEとMATCH-SERVICEを指定URLに向けたゲートウェイを生成する。
func newTestServer(t *testing.T, services map[string][]string) *Server {
	t.Helper()

	cfg := DefaultConfig()
	cfg.Services = services
	s, err := NewServer("0", cfg, nil)
	if err != nil {
		t.Fatalf("NewServer()でエラーが発生: %v", err)
	}
	return s
}

// streamRecorder はhttp.CloseNotifierを実装したResponseRecorder。
// 実サーバーのResponseWriterと同様に、ReverseProxyが切断通知を参照できる。
type streamRecorder struct {
	*httptest.ResponseRecorder
	closed chan bool
}

func (r *streamRecorder) CloseNotify() <-chan bool {
	return r.closed
}

func serve(s *Server, req *http.Request) *httptest.ResponseRecorder {
	w := &streamRecorder{ResponseRecorder: httptest.NewRecorder(), closed: make(chan bool, 1)}
	s.Handler().ServeHTTP(w, req)
	return w.ResponseRecorder
}

// TestProxy はルート表に従った転送を検証する。
func TestProxy(t *testing.T) {
	t.Parallel()

	t.Run("/api/user/profileがUSER-SERVICEの/profileに転送されること", func(t *testing.T) {
		t.Parallel()

		user := newBackend(t)
		s := newTestServer(t, map[string][]string{ServiceUser: {user.URL}})

		req := httptest.NewRequest(http.MethodGet, "/api/user/profile?view=full", nil)
		req.Header.Set("Authorization", "Bearer abc.def.ghi")
		w := serve(s, req)

		if w.Code != http.StatusOK {
			t.Fatalf("ステータスコード = %d, want %d, body = %s", w.Code, http.StatusOK, w.Body.String())
		}
		got := user.received()
		if len(got) != 1 {
			t.Fatalf("バックエンドの受信数 = %d, want 1", len(got))
		}
		if got[0].Path != "/profile" {
			t.Errorf("Path = %q, want %q", got[0].Path, "/profile")
		}
		if got[0].RawQuery != "view=full" {
			t.Errorf("RawQuery = %q, want %q", got[0].RawQuery, "view=full")
		}
		if got[0].Authorization != "Bearer abc.def.ghi" {
			t.Errorf("Authorization = %q", got[0].Authorization)
		}
		if got[0].Forwarded == "" {
			t.Error("X-Forwarded-Hostが設定されていない")
		}
		if w.Body.String() != `{"served_by":"backend"}` {
			t.Errorf("レスポンスボディが変更されている: %s", w.Body.String())
		}
	})

	t.Run("strip 0のルートはパスを変えずに転送しメソッドとボディを保持すること", func(t *testing.T) {
		t.Parallel()

		user := newBackend(t)
		s := newTestServer(t, map[string][]string{ServiceUser: {user.URL}})

		body := `{"username":"alice","password":"wonderland"}`
		req := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		w := serve(s, req)

		if w.Code != http.StatusOK {
			t.Fatalf("ステータスコード = %d, body = %s", w.Code, w.Body.String())
		}
		got := user.received()
		if len(got) != 1 || got[0].Method != http.MethodPost || got[0].Path != "/auth/login" || got[0].Body != body {
			t.Errorf("received = %+v", got)
		}
	})

	t.Run("/api/matchはMATCH-SERVICEに転送されること", func(t *testing.T) {
		t.Parallel()

		user := newBackend(t)
		match := newBackend(t)
		s := newTestServer(t, map[string][]string{ServiceUser: {user.URL}, ServiceMatch: {match.URL}})

		w := serve(s, httptest.NewRequest(http.MethodGet, "/api/match/whoami", nil))
		if w.Code != http.StatusOK {
			t.Fatalf("ステータスコード = %d", w.Code)
		}
		if got := match.received(); len(got) != 1 || got[0].Path != "/whoami" {
			t.Errorf("match received = %+v", got)
		}
		if got := user.received(); len(got) != 0 {
			t.Errorf("user received = %+v", got)
		}
	})

	t.Run("ドットセグメントを解決したパスでルートを選ぶこと", func(t *testing.T) {
		t.Parallel()

		user := newBackend(t)
		match := newBackend(t)
		s := newTestServer(t, map[string][]string{
			ServiceUser:  {user.URL},
			ServiceMatch: {match.URL},
		})

		req := httptest.NewRequest(http.MethodGet, "/api/user/profile", nil)
		req.URL.Path = "/api/match/../user/profile"
		w := serve(s, req)

		if w.Code != http.StatusOK {
			t.Fatalf("ステータスコード = %d, want %d, body = %s", w.Code, http.StatusOK, w.Body.String())
		}
		if got := match.received(); len(got) != 0 {
			t.Errorf("MATCH-SERVICEに転送された: %+v", got)
		}
		got := user.received()
		if len(got) != 1 {
			t.Fatalf("USER-SERVICEの受信数 = %d, want 1", len(got))
		}
		if got[0].Path != "/profile" {
			t.Errorf("Path = %q, want %q", got[0].Path, "/profile")
		}
	})

	t.Run("上流のCORSヘッダーは取り除かれること", func(t *testing.T) {
		t.Parallel()

		user := newBackend(t)
		s := newTestServer(t, map[string][]string{ServiceUser: {user.URL}})

		w := serve(s, httptest.NewRequest(http.MethodGet, "/hello", nil))
		if got := w.Header().Get("Access-Control-Allow-Origin"); got != "" {
			t.Errorf("Access-Control-Allow-Origin = %q, want empty", got)
		}
	})

	t.Run("転送したリクエストがメトリクスに記録されること", func(t *testing.T) {
		t.Parallel()

		user := newBackend(t)
		s := newTestServer(t, map[string][]string{ServiceUser: {user.URL}})

		serve(s, httptest.NewRequest(http.MethodGet, "/world", nil))
		serve(s, httptest.NewRequest(http.MethodGet, "/world", nil))

		if got := testutil.ToFloat64(s.metrics.Requests.WithLabelValues(ServiceUser, "200")); got != 2 {
			t.Errorf("requests_total = %v, want 2", got)
		}
	})
}

// TestProxyErrors は転送できない場合の応答を検証する。
func TestProxyErrors(t *testing.T) {
	t.Parallel()

	t.Run("一致するルートが無い場合は404になること", func(t *testing.T) {
		t.Parallel()

		user := newBackend(t)
		s := newTestServer(t, map[string][]string{ServiceUser: {user.URL}})

		w := serve(s, httptest.NewRequest(http.MethodGet, "/api/username", nil))
		if w.Code != http.StatusNotFound {
			t.Fatalf("ステータスコード = %d, want %d", w.Code, http.StatusNotFound)
		}
		var body map[string]string
		if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil || body["error"] == "" {
			t.Errorf("エラーレスポンスが不正: %s", w.Body.String())
		}
		if got := testutil.ToFloat64(s.metrics.RouteMisses); got != 1 {
			t.Errorf("route_misses_total = %v, want 1", got)
		}
		if len(user.received()) != 0 {
			t.Error("バックエンドに転送されている")
		}
	})

	t.Run("転送先が解決できない場合は503になること", func(t *testing.T) {
		t.Parallel()

		user := newBackend(t)
		s := newTestServer(t, map[string][]string{ServiceUser: {user.URL}})

		w := serve(s, httptest.NewRequest(http.MethodGet, "/api/match/ws", nil))
		if w.Code != http.StatusServiceUnavailable {
			t.Fatalf("ステータスコード = %d, want %d", w.Code, http.StatusServiceUnavailable)
		}
		if got := testutil.ToFloat64(s.metrics.UpstreamErrors.WithLabelValues(ServiceMatch)); got != 1 {
			t.Errorf("upstream_errors_total = %v, want 1", got)
		}
	})

	t.Run("上流に接続できない場合は502になること", func(t *testing.T) {
		t.Parallel()

		s := newTestServer(t, map[string][]string{ServiceUser: {"http://127.0.0.1:1"}})

		w := serve(s, httptest.NewRequest(http.MethodGet, "/api/user/profile", nil))
		if w.Code != http.StatusBadGateway {
			t.Fatalf("ステータスコード = %d, want %d", w.Code, http.StatusBadGateway)
		}
		if got := testutil.ToFloat64(s.metrics.UpstreamErrors.WithLabelValues(ServiceUser)); got != 1 {
			t.Errorf("upstream_errors_total = %v, want 1", got)
		}
	})
}

// TestCORS はゲートウェイ全体に一律のCORSポリシーが適用されることを検証する。
func TestCORS(t *testing.T) {
	t.Parallel()

	t.Run("プリフライトはゲートウェイが応答し転送されないこと", func(t *testing.T) {
		t.Parallel()

		user := newBackend(t)
		s := newTestServer(t, map[string][]string{ServiceUser: {user.URL}})

		req := httptest.NewRequest(http.MethodOptions, "/api/user/profile", nil)
		req.Header.Set("Origin", "http://localhost:3000")
		req.Header.Set("Access-Control-Request-Method", http.MethodPut)
		w := serve(s, req)

		if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
			t.Errorf("Access-Control-Allow-Origin = %q", got)
		}
		if got := w.Header().Get("Access-Control-Allow-Credentials"); got != "true" {
			t.Errorf("Access-Control-Allow-Credentials = %q", got)
		}
		if len(user.received()) != 0 {
			t.Error("プリフライトがバックエンドに転送されている")
		}
	})

	t.Run("ルートに一致しないパスにもCORSヘッダーが付与されること", func(t *testing.T) {
		t.Parallel()

		s := newTestServer(t, map[string][]string{ServiceUser: {"http://127.0.0.1:1"}})

		req := httptest.NewRequest(http.MethodGet, "/nowhere", nil)
		req.Header.Set("Origin", "http://localhost:3000")
		w := serve(s, req)

		if w.Code != http.StatusNotFound {
			t.Errorf("ステータスコード = %d, want %d", w.Code, http.StatusNotFound)
		}
		if got := w.Header().Get("Access-Control-Expose-Headers"); got != "Authorization" {
			t.Errorf("Access-Control-Expose-Headers = %q", got)
		}
	})
}

// TestLocalEndpoints はゲートウェイ自身のエンドポイントを検証する。
func TestLocalEndpoints(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, map[string][]string{ServiceUser: {"http://127.0.0.1:1"}})

	t.Run("ヘルスチェックが200を返すこと", func(t *testing.T) {
		t.Parallel()

		w := serve(s, httptest.NewRequest(http.MethodGet, "/health", nil))
		if w.Code != http.StatusOK {
			t.Fatalf("ステータスコード = %d", w.Code)
		}
		var body map[string]string
		if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
			t.Fatalf("JSONの解析に失敗: %v", err)
		}
		if body["status"] != "ok" || body["service"] != "gateway" {
			t.Errorf("body = %v", body)
		}
	})

	t.Run("メトリクスにGoランタイムの値が含まれること", func(t *testing.T) {
		t.Parallel()

		w := serve(s, httptest.NewRequest(http.MethodGet, "/metrics", nil))
		if w.Code != http.StatusOK {
			t.Fatalf("ステータスコード = %d", w.Code)
		}
		if !strings.Contains(w.Body.String(), "go_goroutines") {
			t.Error("go_goroutinesが含まれていない")
		}
	})
}

// TestStaticResolver はStaticResolverを検証する。
func TestStaticResolver(t *testing.T) {
	t.Parallel()

	t.Run("転送先をラウンドロビンで返すこと", func(t *testing.T) {
		t.Parallel()

		r, err := NewStaticResolver(map[string][]string{"user-service": {"http://a:1", "http://b:2"}})
		if err != nil {
			t.Fatalf("NewStaticResolver()でエラーが発生: %v", err)
		}

		var hosts []string
		for range 4 {
			u, err := r.Resolve(context.Background(), ServiceUser)
			if err != nil {
				t.Fatalf("Resolve()でエラーが発生: %v", err)
			}
			hosts = append(hosts, u.Host)
		}
		want := []string{"a:1", "b:2", "a:1", "b:2"}
		for i := range want {
			if hosts[i] != want[i] {
				t.Errorf("hosts = %v, want %v", hosts, want)
				break
			}
		}
	})

	t.Run("返したURLを変更しても内部の値は変わらないこと", func(t *testing.T) {
		t.Parallel()

		r, err := NewStaticResolver(map[string][]string{"S": {"http://a:1"}})
		if err != nil {
			t.Fatalf("NewStaticResolver()でエラーが発生: %v", err)
		}
		u, _ := r.Resolve(context.Background(), "S")
		u.Host = "evil:666"
		again, _ := r.Resolve(context.Background(), "S")
		if again.Host != "a:1" {
			t.Errorf("Host = %q, want %q", again.Host, "a:1")
		}
	})

	t.Run("相対URLはエラーになること", func(t *testing.T) {
		t.Parallel()

		if _, err := NewStaticResolver(map[string][]string{"S": {"/relative"}}); err == nil {
			t.Error("NewStaticResolver()がエラーを返すべきだが、nilが返った")
		}
	})
}

// TestLoadConfig はYAML設定の読み込みを検証する。
func TestLoadConfig(t *testing.T) {
	t.Parallel()

	t.Run("パスが空の場合は既定設定になること", func(t *testing.T) {
		t.Parallel()

		cfg, err := LoadConfig("")
		if err != nil {
			t.Fatalf("LoadConfig()でエラーが発生: %v", err)
		}
		if len(cfg.Routes) != len(DefaultRoutes()) {
			t.Errorf("routes = %d, want %d", len(cfg.Routes), len(DefaultRoutes()))
		}
		if err := cfg.Validate(); err != nil {
			t.Errorf("既定設定の検証に失敗: %v", err)
		}
	})

	t.Run("YAMLのルートとサービスが読み込まれ未指定の項目は既定値になること", func(t *testing.T) {
		t.Parallel()

		path := filepath.Join(t.TempDir(), "gateway.yaml")
		yaml := `
routes:
  - prefix: /api/billing
    strip: 2
    service: BILLING
services:
  BILLING:
    - http://billing:9000
upstream_timeout: 5s
`
		if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
			t.Fatalf("設定ファイルの作成に失敗: %v", err)
		}

		cfg, err := LoadConfig(path)
		if err != nil {
			t.Fatalf("LoadConfig()でエラーが発生: %v", err)
		}
		if len(cfg.Routes) != 1 || cfg.Routes[0] != (Route{Prefix: "/api/billing", Strip: 2, Service: "BILLING"}) {
			t.Errorf("routes = %+v", cfg.Routes)
		}
		if got := cfg.Services["BILLING"]; len(got) != 1 || got[0] != "http://billing:9000" {
			t.Errorf("services = %+v", cfg.Services)
		}
		if cfg.UpstreamTimeout.String() != "5s" {
			t.Errorf("upstream_timeout = %v", cfg.UpstreamTimeout)
		}
		if len(cfg.CORS.AllowedOrigins) != 1 || cfg.CORS.AllowedOrigins[0] != "http://localhost:3000" {
			t.Errorf("cors = %+v", cfg.CORS)
		}
		if err := cfg.Validate(); err != nil {
			t.Errorf("Validate()でエラーが発生: %v", err)
		}
	})

	t.Run("存在しないファイルはエラーになること", func(t *testing.T) {
		t.Parallel()

		if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
			t.Error("LoadConfig()がエラーを返すべきだが、nilが返った")
		}
	})

	t.Run("転送先が無いサービスを参照するルートは検証で失敗すること", func(t *testing.T) {
		t.Parallel()

		cfg := DefaultConfig()
		delete(cfg.Services, ServiceMatch)
		if err := cfg.Validate(); err == nil {
			t.Error("Validate()がエラーを返すべきだが、nilが返った")
		}
	})
}

// TestApplyEnv は環境変数による上書きを検証する。t.Setenvを使うため並列実行しない。
func TestApplyEnv(t *testing.T) {
	t.Setenv("SERVICE_USER_SERVICE_URL", "http://user-1:8081, http://user-2:8081")
	t.Setenv("UPSTREAM_TIMEOUT", "3s")

	cfg := DefaultConfig()
	cfg.ApplyEnv()

	got := cfg.Services[ServiceUser]
	if len(got) != 2 || got[0] != "http://user-1:8081" || got[1] != "http://user-2:8081" {
		t.Errorf("services[%s] = %v", ServiceUser, got)
	}
	if cfg.UpstreamTimeout.String() != "3s" {
		t.Errorf("UpstreamTimeout = %v", cfg.UpstreamTimeout)
	}
	if u, _ := url.Parse(cfg.Services[ServiceMatch][0]); u.Host != "localhost:8082" {
		t.Errorf("上書きしていないサービスが変更されている: %v", cfg.Services[ServiceMatch])
	}
}
