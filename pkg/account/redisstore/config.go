package redisstore

// Config はRedis接続とキー設計の設定。
type Config struct {
	// URL はRedisの接続URL（例: redis://localhost:6379/0）。
	URL string
	// KeyPrefix は全キーに付与する接頭辞。
	KeyPrefix string

	PoolSize     int
	MinIdleConns int
}

// DefaultConfig は既定の設定を返す。
func DefaultConfig() Config {
	return Config{
		URL:          "redis://localhost:6379/0",
		KeyPrefix:    defaultKeyPrefix,
		PoolSize:     10,
		MinIdleConns: 2,
	}
}
