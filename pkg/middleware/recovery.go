package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const msgInternalError = "内部サーバーエラーが発生しました"

// Recovery はハンドラーのパニックを捕捉し、スタックトレースをログに残して500を返す。
// レスポンスの書き込みが始まった後のパニックでは、ステータスを書き換えずに処理を打ち切る。
func Recovery(logger *zap.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(c *gin.Context) {
		defer func() {
			r := recover()
			if r == nil {
				return
			}
			reqID := RequestID(c)
			logger.Error("パニックから回復",
				zap.String("request_id", reqID),
				zap.String("method", c.Request.Method),
				zap.String("path", c.Request.URL.Path),
				zap.Any("panic", r),
				zap.Stack("stack"),
			)

			if c.Writer.Written() {
				c.Abort()
				return
			}
			body := gin.H{"error": msgInternalError}
			if reqID != "" {
				body["request_id"] = reqID
			}
			c.AbortWithStatusJSON(http.StatusInternalServerError, body)
		}()
		c.Next()
	}
}
