package user

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/nao1215/edgeauth/pkg/account"
	"github.com/nao1215/edgeauth/pkg/credential"
	"github.com/nao1215/edgeauth/pkg/federation"
	"github.com/nao1215/edgeauth/pkg/identity"
	"github.com/nao1215/edgeauth/pkg/middleware"
	"github.com/nao1215/edgeauth/pkg/token"
)

// shutdownTimeout は停止時に処理中のリクエストを待つ時間。
const shutdownTimeout = 10 * time.Second

// ログイン結果のメトリクスラベル。
const (
	resultSuccess            = "success"
	resultInvalidCredentials = "invalid_credentials"
	resultError              = "error"
	resultFederated          = "federated"
	resultFederatedFailure   = "federated_failure"
)

// Config はユーザーサービスの依存関係と設定。
type Config struct {
	// Store はアカウントストア。
	Store account.Store
	// Verifier はパスワード照合を行う。
	Verifier *credential.Verifier
	// Linker は連携ログインの本人情報をアカウントに対応付ける。
	Linker *federation.Linker
	// Tokens はトークンの発行と検証を行う。
	Tokens *token.Service
	// Providers は有効なOAuth2プロバイダー。
	Providers []*federation.OAuthClient
	// FrontendURL は連携ログイン後のリダイレクト先。
	FrontendURL string
	// SecureCookie はリダイレクトURLがhttpでもstate CookieにSecure属性を付ける。
	// TLSを終端するプロキシの内側で動かす場合に指定する。
	SecureCookie bool
}

// Server はユーザーサービスのHTTPサーバー。
type Server struct {
	// router はGinのHTTPルーター。
	router *gin.Engine
	// port はサーバーのリッスンポート。
	port string
	// store はアカウントストア。
	store account.Store
	// verifier はパスワード照合を行う。
	verifier *credential.Verifier
	// linker は連携ログインのアカウント対応付けを行う。
	linker *federation.Linker
	// tokens はトークンの発行を行う。
	tokens *token.Service
	// auth はリクエストのトークンを検証する。
	auth *identity.Authenticator
	// providers はプロバイダー名ごとのOAuth2クライアント。
	providers map[string]*federation.OAuthClient
	// frontendURL は連携ログイン後のリダイレクト先。
	frontendURL string
	// secureCookie はstate Cookieに常にSecure属性を付けるかどうか。
	secureCookie bool
	// registry は /metrics で公開するPrometheusレジストリ。
	registry *prometheus.Registry
	// logins はログイン結果ごとの回数。
	logins *prometheus.CounterVec
	// logger はロガー。
	logger *zap.Logger
}

// NewServer は新しいユーザーサービスのサーバーを生成する。
func NewServer(port string, cfg Config, logger *zap.Logger) (*Server, error) {
	if cfg.Store == nil || cfg.Verifier == nil || cfg.Tokens == nil {
		return nil, errors.New("アカウントストア、パスワード照合、トークンサービスの指定は必須です")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	linker := cfg.Linker
	if linker == nil {
		linker = federation.NewLinker(cfg.Store, federation.PolicyProvider, logger)
	}

	providers := make(map[string]*federation.OAuthClient, len(cfg.Providers))
	for _, p := range cfg.Providers {
		providers[p.Config().Name] = p
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	logins := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "edgeauth_user_logins_total",
			Help: "Total number of login attempts by result",
		},
		[]string{"result"},
	)
	registry.MustRegister(logins)

	router := gin.New()
	router.Use(middleware.Recovery(logger))
	router.Use(middleware.RequestLogger(logger))

	s := &Server{
		router:       router,
		port:         port,
		store:        cfg.Store,
		verifier:     cfg.Verifier,
		linker:       linker,
		tokens:       cfg.Tokens,
		auth:         identity.NewAuthenticator(cfg.Tokens, logger),
		providers:    providers,
		frontendURL:  cfg.FrontendURL,
		secureCookie: cfg.SecureCookie,
		registry:     registry,
		logins:       logins,
		logger:       logger,
	}
	s.setupRoutes()

	return s, nil
}

// Handler はHTTPハンドラーを返す。
func (s *Server) Handler() http.Handler {
	return s.router
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

// setupRoutes はAPIルーティングを設定する。
func (s *Server) setupRoutes() {
	// トークンがあれば検証するが、無くても拒否しない
	s.router.Use(middleware.Authenticate(s.auth))

	// パスワード認証（認証不要）
	auth := s.router.Group("/auth")
	{
		auth.POST("/signup", s.handleSignup())
		auth.POST("/login", s.handleLogin())
	}

	// OAuth2連携ログイン（認証不要）
	s.router.GET("/oauth2/authorization/:provider", s.handleOAuthStart())
	s.router.GET("/login/oauth2/code/:provider", s.handleOAuthCallback())

	// 認証必須のエンドポイント
	protected := s.router.Group("")
	protected.Use(middleware.RequireAuth(), middleware.RequireRole(identity.RoleUser))
	{
		protected.GET("/hello", s.handleHello())
		protected.GET("/world", s.handleWorld())
		protected.GET("/profile", s.handleProfile())
		protected.PUT("/password", s.handleChangePassword())
	}

	// ヘルスチェック
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "user"})
	})
	s.router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})))
}
