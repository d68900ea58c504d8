package match

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/nao1215/edgeauth/pkg/handshake"
	"github.com/nao1215/edgeauth/pkg/identity"
	"github.com/nao1215/edgeauth/pkg/middleware"
)

// shutdownTimeout は停止時に処理中のリクエストを待つ時間。
const shutdownTimeout = 10 * time.Second

// stompSubprotocols はネゴシエーションで受け付けるSTOMPのサブプロトコル。
var stompSubprotocols = []string{"v12.stomp", "v11.stomp", "v10.stomp"}

// Config はマッチサービスの設定。
type Config struct {
	// Verifier はトークンを検証する。
	Verifier identity.Verifier
	// CORS はHTTPエンドポイントに適用するクロスオリジンポリシー。
	CORS middleware.Policy
	// OriginPatterns はWebSocket接続を許可するOriginのホストパターン。
	// 空の場合は同一オリジンのみ許可する。
	OriginPatterns []string
}

// Server はマッチサービスのHTTPサーバー。
type Server struct {
	router         chi.Router
	port           string
	auth           *identity.Authenticator
	handshake      *handshake.Authenticator
	originPatterns []string
	logger         *zap.Logger
}

// NewServer は新しいマッチサービスのサーバーを生成する。
func NewServer(port string, cfg Config, logger *zap.Logger) (*Server, error) {
	if cfg.Verifier == nil {
		return nil, errors.New("トークン検証の指定は必須です")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	auth := identity.NewAuthenticator(cfg.Verifier, logger)

	s := &Server{
		router:         chi.NewRouter(),
		port:           port,
		auth:           auth,
		handshake:      handshake.NewAuthenticator(auth, logger),
		originPatterns: cfg.OriginPatterns,
		logger:         logger,
	}
	s.setupRoutes(cfg.CORS)
	return s, nil
}

// Handler はHTTPハンドラーを返す。
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run はHTTPサーバーを起動し、ctx がキャンセルされると停止する。
// WebSocketセッションはctxから派生したコンテキストで動くため、停止時に終了する。
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              ":" + s.port,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
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

func (s *Server) setupRoutes(policy middleware.Policy) {
	r := s.router
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(middleware.CORSHTTP(policy))
	r.Use(middleware.AuthenticateHTTP(s.auth))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "match"})
	})
	r.With(middleware.RequireAuthHTTP).Get("/whoami", s.handleWhoAmI)
	r.Get("/ws", s.handleWebSocket)
}

// handleWhoAmI は認証済みリクエストのIdentityを返す。
func (s *Server) handleWhoAmI(w http.ResponseWriter, r *http.Request) {
	id, _ := identity.FromContext(r.Context())
	writeJSON(w, http.StatusOK, id)
}

// handleWebSocket はWebSocketへアップグレードし、STOMPセッションを開始する。
// ハンドシェイク時点では認証を要求せず、最初のCONNECTフレームで一度だけ認証する。
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols:   stompSubprotocols,
		OriginPatterns: s.originPatterns,
	})
	if err != nil {
		s.logger.Warn("WebSocketへのアップグレードに失敗", zap.Error(err))
		return
	}
	defer conn.CloseNow()

	newSession(conn, s.handshake.NewBinding(), r.URL.RawQuery, s.logger).run(r.Context())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
