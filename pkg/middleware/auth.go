package middleware

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/nao1215/edgeauth/pkg/identity"
)

const (
	// headerAuthorization は認証トークンを運ぶHTTPヘッダーキー。
	headerAuthorization = "Authorization"
	// headerKeyUserID は下流へ認証済みユーザー名を伝えるレスポンスヘッダーキー。
	headerKeyUserID = "X-User-ID"

	msgUnauthorized = "認証が必要です"
	msgForbidden    = "この操作を行う権限がありません"
)

// Authenticate はAuthorizationヘッダーのBearerトークンを検証するGinミドルウェアを返す。
// 検証に成功した場合はリクエストのコンテキストにIdentityを載せる。
// トークンが無い、または検証に失敗した場合でもリクエストは中断せず、未認証のまま次へ進める。
func Authenticate(a *identity.Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, ok := a.AuthenticateHeader(c.Request.Context(), c.GetHeader(headerAuthorization))
		if ok {
			c.Request = c.Request.WithContext(ctx)
		}
		c.Next()
	}
}

// RequireAuth は認証済みでないリクエストを401で拒否するGinミドルウェアを返す。
// Authenticate より後に適用する必要がある。
func RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := CurrentIdentity(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": msgUnauthorized,
			})
			return
		}
		c.Header(headerKeyUserID, id.Username)
		c.Next()
	}
}

// RequireRole は指定ロールを持たないリクエストを拒否するGinミドルウェアを返す。
// 未認証の場合は401、認証済みだがロールが不足している場合は403を返す。
func RequireRole(role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := CurrentIdentity(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": msgUnauthorized,
			})
			return
		}
		if !id.HasRole(role) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error": msgForbidden,
			})
			return
		}
		c.Next()
	}
}

// CurrentIdentity はGinコンテキストから認証済みIdentityを取得する。
func CurrentIdentity(c *gin.Context) (*identity.Identity, bool) {
	return identity.FromContext(c.Request.Context())
}

// AuthenticateHTTP は Authenticate のnet/http版。chiなど標準ハンドラー向けのルーターで使う。
func AuthenticateHTTP(a *identity.Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, ok := a.AuthenticateHeader(r.Context(), r.Header.Get(headerAuthorization))
			if ok {
				r = r.WithContext(ctx)
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireAuthHTTP は RequireAuth のnet/http版。
func RequireAuthHTTP(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := identity.FromContext(r.Context()); !ok {
			writeJSONError(w, http.StatusUnauthorized, msgUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// writeJSONError は {"error": msg} 形式のエラーレスポンスを書き込む。
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
