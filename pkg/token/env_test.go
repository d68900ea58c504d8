package token

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestConfigFromEnv(t *testing.T) {
	t.Run("未設定の場合は開発用の既定値を使うこと", func(t *testing.T) {
		t.Setenv("JWT_SECRET", "")
		t.Setenv("TOKEN_TTL", "")
		t.Setenv("TOKEN_ISSUER", "")

		cfg, dev := ConfigFromEnv()
		assert.True(t, dev)
		assert.Equal(t, DevSecret, cfg.Secret)
		assert.Equal(t, DefaultTTL, cfg.TTL)
		assert.Equal(t, DefaultIssuer, cfg.Issuer)
	})

	t.Run("環境変数の値を使うこと", func(t *testing.T) {
		t.Setenv("JWT_SECRET", "prod-secret")
		t.Setenv("TOKEN_TTL", "15m")
		t.Setenv("TOKEN_ISSUER", "edge")

		cfg, dev := ConfigFromEnv()
		assert.False(t, dev)
		assert.Equal(t, "prod-secret", cfg.Secret)
		assert.Equal(t, 15*time.Minute, cfg.TTL)
		assert.Equal(t, "edge", cfg.Issuer)
	})
}
