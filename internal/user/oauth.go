package user

import (
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nao1215/edgeauth/pkg/autherr"
	"github.com/nao1215/edgeauth/pkg/federation"
)

const (
	// stateCookieName はOAuth2のstateを保持するCookie名。
	stateCookieName = "oauth_state"
	// stateCookieMaxAge はstateの有効秒数。
	stateCookieMaxAge = 600
)

// 連携ログイン失敗時にフロントエンドへ渡すエラー種別。
const (
	errorKindInvalidState    = "invalid_state"
	errorKindProvider        = "provider_error"
	errorKindAccountConflict = "account_conflict"
	errorKindServer          = "server_error"
)

// handleOAuthStart はプロバイダーの認可エンドポイントへリダイレクトするハンドラを返す。
// stateはCookieにも保存し、コールバックで照合する。
func (s *Server) handleOAuthStart() gin.HandlerFunc {
	return func(c *gin.Context) {
		client, ok := s.providers[c.Param("provider")]
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "このプロバイダーによるログインは設定されていません"})
			return
		}

		state := uuid.NewString()
		s.setStateCookie(c, client, state, stateCookieMaxAge)
		c.Redirect(http.StatusTemporaryRedirect, client.AuthCodeURL(state))
	}
}

// handleOAuthCallback はプロバイダーからのコールバックを処理するハンドラを返す。
// 認可コードを交換して本人情報を取得し、アカウントに対応付けてトークンを発行する。
// 結果はフロントエンドへのリダイレクトで返す。
func (s *Server) handleOAuthCallback() gin.HandlerFunc {
	return func(c *gin.Context) {
		name := c.Param("provider")
		client, ok := s.providers[name]
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "このプロバイダーによるログインは設定されていません"})
			return
		}

		cookie, err := c.Cookie(stateCookieName)
		s.setStateCookie(c, client, "", -1)

		if e := c.Query("error"); e != "" {
			s.logger.Info("プロバイダーで認可が拒否されました", zap.String("provider", name), zap.String("error", e))
			s.redirectError(c, errorKindProvider)
			return
		}
		state := c.Query("state")
		if err != nil || state == "" || cookie != state {
			s.logger.Warn("stateが一致しません", zap.String("provider", name))
			s.redirectError(c, errorKindInvalidState)
			return
		}

		ctx := c.Request.Context()
		accessToken, err := client.Exchange(ctx, c.Query("code"))
		if err != nil {
			s.failFederated(c, name, errorKindProvider, err)
			return
		}
		assertion, err := client.FetchAssertion(ctx, accessToken)
		if err != nil {
			s.failFederated(c, name, errorKindProvider, err)
			return
		}

		a, err := s.linker.LinkOrCreate(ctx, assertion)
		if err != nil {
			kind := errorKindServer
			if errors.Is(err, autherr.ErrAccountConflict) {
				kind = errorKindAccountConflict
			}
			s.failFederated(c, name, kind, err)
			return
		}

		tok, err := s.tokens.Issue(a.Username)
		if err != nil {
			s.failFederated(c, name, errorKindServer, err)
			return
		}

		s.logins.WithLabelValues(resultFederated).Inc()
		s.logger.Info("連携ログインに成功", zap.String("provider", name), zap.String("username", a.Username))
		c.Redirect(http.StatusFound, s.frontendRedirect(url.Values{"token": {tok.Raw}}))
	}
}

// failFederated は連携ログインの失敗を記録してフロントエンドへリダイレクトする。
func (s *Server) failFederated(c *gin.Context, provider, kind string, err error) {
	s.logins.WithLabelValues(resultFederatedFailure).Inc()
	s.logger.Warn("連携ログインに失敗",
		zap.String("provider", provider),
		zap.String("kind", kind),
		zap.Bool("provider_error", errors.Is(err, federation.ErrProvider)),
		zap.Error(err),
	)
	s.redirectError(c, kind)
}

func (s *Server) redirectError(c *gin.Context, kind string) {
	c.Redirect(http.StatusFound, s.frontendRedirect(url.Values{"error": {kind}}))
}

// frontendRedirect はフロントエンドのルートにクエリを付けたURLを返す。
func (s *Server) frontendRedirect(q url.Values) string {
	return strings.TrimRight(s.frontendURL, "/") + "/?" + q.Encode()
}

// setStateCookie はstateのCookieを設定する。maxAgeが負の場合は削除する。
// プロバイダーからのリダイレクトで送信されるようSameSite=Laxにする。
func (s *Server) setStateCookie(c *gin.Context, client *federation.OAuthClient, value string, maxAge int) {
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     stateCookieName,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   s.secureCookie || strings.HasPrefix(client.Config().RedirectURL, "https"),
		SameSite: http.SameSiteLaxMode,
	})
}
