package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-chi/cors"
)

// Policy は全ルートに一律で適用するクロスオリジンポリシー。
type Policy struct {
	// AllowedOrigins は許可するオリジンの一覧。
	AllowedOrigins []string `koanf:"allowed_origins"`
	// AllowedMethods は許可するHTTPメソッドの一覧。
	AllowedMethods []string `koanf:"allowed_methods"`
	// AllowedHeaders は許可するリクエストヘッダーの一覧。"*" で全て許可する。
	AllowedHeaders []string `koanf:"allowed_headers"`
	// ExposedHeaders はブラウザのスクリプトに公開するレスポンスヘッダーの一覧。
	ExposedHeaders []string `koanf:"exposed_headers"`
	// AllowCredentials はCookieや認証ヘッダー付きのリクエストを許可するかどうか。
	AllowCredentials bool `koanf:"allow_credentials"`
	// MaxAge はプリフライト結果のキャッシュ秒数。
	MaxAge int `koanf:"max_age"`
}

// DefaultPolicy はフロントエンド開発サーバーからのアクセスを許可する既定ポリシー。
func DefaultPolicy() Policy {
	return Policy{
		AllowedOrigins:   []string{"http://localhost:3000"},
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{headerAuthorization},
		AllowCredentials: true,
		MaxAge:           3600,
	}
}

// Options はgo-chi/corsの設定に変換する。
func (p Policy) Options() cors.Options {
	return cors.Options{
		AllowedOrigins:   p.AllowedOrigins,
		AllowedMethods:   p.AllowedMethods,
		AllowedHeaders:   p.AllowedHeaders,
		ExposedHeaders:   p.ExposedHeaders,
		AllowCredentials: p.AllowCredentials,
		MaxAge:           p.MaxAge,
	}
}

// CORSHTTP はポリシーを適用するnet/httpミドルウェアを返す。
func CORSHTTP(p Policy) func(http.Handler) http.Handler {
	return cors.Handler(p.Options())
}

// CORS はポリシーを適用するGinミドルウェアを返す。
// プリフライトリクエストはここで応答し、後続のハンドラーには渡さない。
func CORS(p Policy) gin.HandlerFunc {
	handler := cors.Handler(p.Options())

	return func(c *gin.Context) {
		passed := false
		handler(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
			passed = true
			c.Request = r
			c.Next()
		})).ServeHTTP(c.Writer, c.Request)

		if !passed {
			c.Abort()
		}
	}
}
