package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
)

// HeaderRequestID はリクエストIDを運ぶHTTPヘッダーキー。
const HeaderRequestID = "X-Request-ID"

// ctxKeyRequestID はGinコンテキストにリクエストIDを保存するキー。
const ctxKeyRequestID = "request_id"

// RequestLogger はリクエストごとにIDを割り当て、処理結果をログに出力するGinミドルウェアを返す。
// 受信したX-Request-IDがあればそれを引き継ぎ、無ければULIDを新規に発行する。
func RequestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		reqID := c.GetHeader(HeaderRequestID)
		if reqID == "" {
			reqID = ulid.Make().String()
			c.Request.Header.Set(HeaderRequestID, reqID)
		}
		c.Set(ctxKeyRequestID, reqID)
		c.Header(HeaderRequestID, reqID)

		c.Next()

		fields := []zap.Field{
			zap.String("request_id", reqID),
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		}
		if len(c.Errors) > 0 {
			fields = append(fields, zap.String("errors", c.Errors.String()))
		}

		switch status := c.Writer.Status(); {
		case status >= 500:
			logger.Error("リクエスト処理完了", fields...)
		case status >= 400:
			logger.Warn("リクエスト処理完了", fields...)
		default:
			logger.Info("リクエスト処理完了", fields...)
		}
	}
}

// RequestID はGinコンテキストからリクエストIDを取得する。
// RequestLogger が適用されていない場合は空文字列を返す。
func RequestID(c *gin.Context) string {
	return c.GetString(ctxKeyRequestID)
}
