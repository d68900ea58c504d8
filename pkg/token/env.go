package token

import "github.com/nao1215/edgeauth/pkg/config"

// DevSecret は JWT_SECRET が未設定の場合に使う開発用の秘密鍵。
const DevSecret = "dev-secret-key"

// ConfigFromEnv は JWT_SECRET、TOKEN_TTL、TOKEN_ISSUER から設定を読み取る。
// 開発用の秘密鍵にフォールバックした場合は2番目の戻り値がtrueになる。
func ConfigFromEnv() (Config, bool) {
	secret := config.GetEnv("JWT_SECRET", DevSecret)
	return Config{
		Secret: secret,
		TTL:    config.GetEnvAsDuration("TOKEN_TTL", DefaultTTL),
		Issuer: config.GetEnv("TOKEN_ISSUER", DefaultIssuer),
	}, secret == DevSecret
}
