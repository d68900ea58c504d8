package gateway

import (
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/nao1215/edgeauth/pkg/config"
	"github.com/nao1215/edgeauth/pkg/middleware"
)

const (
	// ServiceUser はユーザーサービスの論理名。
	ServiceUser = "USER-SERVICE"
	// ServiceMatch はマッチサービスの論理名。
	ServiceMatch = "MATCH-SERVICE"

	// DefaultUpstreamTimeout は上流サービスへの接続とレスポンスヘッダー受信の既定の待ち時間。
	DefaultUpstreamTimeout = 30 * time.Second
)

// Config はゲートウェイの設定。
type Config struct {
	// Routes はルート表。
	Routes []Route `koanf:"routes"`
	// CORS は全ルートに適用するクロスオリジンポリシー。
	CORS middleware.Policy `koanf:"cors"`
	// Services はサービス名ごとの転送先ベースURL。
	Services map[string][]string `koanf:"services"`
	// UpstreamTimeout は上流サービスへの接続とレスポンスヘッダー受信の待ち時間。
	UpstreamTimeout time.Duration `koanf:"upstream_timeout"`
}

// DefaultRoutes はユーザーサービスとマッチサービスへの既定のルート。
func DefaultRoutes() []Route {
	return []Route{
		{Prefix: "/api/user", Strip: 2, Service: ServiceUser},
		{Prefix: "/api/match", Strip: 2, Service: ServiceMatch},
		{Prefix: "/auth", Strip: 0, Service: ServiceUser},
		{Prefix: "/oauth2", Strip: 0, Service: ServiceUser},
		{Prefix: "/login/oauth2", Strip: 0, Service: ServiceUser},
		{Prefix: "/hello", Strip: 0, Service: ServiceUser},
		{Prefix: "/world", Strip: 0, Service: ServiceUser},
	}
}

// DefaultConfig はローカル開発向けの既定設定を返す。
func DefaultConfig() Config {
	return Config{
		Routes: DefaultRoutes(),
		CORS:   middleware.DefaultPolicy(),
		Services: map[string][]string{
			ServiceUser:  {"http://localhost:8081"},
			ServiceMatch: {"http://localhost:8082"},
		},
		UpstreamTimeout: DefaultUpstreamTimeout,
	}
}

// LoadConfig はYAMLファイルから設定を読み込む。
// path が空の場合は既定設定を返す。ファイルに無い項目は既定値で補う。
func LoadConfig(path string) (Config, error) {
	if path == "" {
		return DefaultConfig(), nil
	}

	k := koanf.New(".")
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return Config{}, fmt.Errorf("ゲートウェイ設定の読み込みに失敗: path=%s: %w", path, err)
	}

	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return Config{}, fmt.Errorf("ゲートウェイ設定の解析に失敗: path=%s: %w", path, err)
	}

	def := DefaultConfig()
	if !k.Exists("routes") {
		cfg.Routes = def.Routes
	}
	if !k.Exists("cors") {
		cfg.CORS = def.CORS
	}
	if len(cfg.Services) == 0 {
		cfg.Services = def.Services
	}
	if cfg.UpstreamTimeout <= 0 {
		cfg.UpstreamTimeout = def.UpstreamTimeout
	}
	cfg.Services = normalizeServices(cfg.Services)
	return cfg, nil
}

// ApplyEnv は環境変数で設定を上書きする。
// SERVICE_<NAME>_URL（例: SERVICE_USER_SERVICE_URL）はカンマ区切りで転送先を置き換える。
// UPSTREAM_TIMEOUT は上流サービスの待ち時間を置き換える。
func (c *Config) ApplyEnv() {
	c.Services = normalizeServices(c.Services)
	names := slices.Collect(maps.Keys(c.Services))
	for _, r := range c.Routes {
		names = append(names, serviceKey(r.Service))
	}
	for _, name := range names {
		if urls := config.GetEnvAsList(ServiceEnvKey(name), nil); len(urls) > 0 {
			c.Services[serviceKey(name)] = urls
		}
	}
	c.UpstreamTimeout = config.GetEnvAsDuration("UPSTREAM_TIMEOUT", c.UpstreamTimeout)
}

// Validate はルート表を検査し、すべてのルートの転送先が設定されていることを確認する。
func (c Config) Validate() error {
	if _, err := NewTable(c.Routes); err != nil {
		return err
	}
	for _, r := range c.Routes {
		if len(c.Upstreams(r.Service)) == 0 {
			return fmt.Errorf("サービスの転送先が設定されていません: service=%s, env=%s", r.Service, ServiceEnvKey(r.Service))
		}
	}
	return nil
}

// Upstreams はサービスの転送先ベースURLを返す。サービス名の大文字小文字は区別しない。
func (c Config) Upstreams(service string) []string {
	for name, urls := range c.Services {
		if serviceKey(name) == serviceKey(service) {
			return urls
		}
	}
	return nil
}

// ServiceEnvKey はサービス名に対応する上書き用の環境変数名を返す。
func ServiceEnvKey(name string) string {
	key := strings.ToUpper(strings.NewReplacer("-", "_", ".", "_").Replace(name))
	return "SERVICE_" + key + "_URL"
}

// serviceKey はサービス名を照合用に正規化する。
func serviceKey(name string) string {
	return strings.ToUpper(strings.TrimSpace(name))
}

func normalizeServices(in map[string][]string) map[string][]string {
	out := make(map[string][]string, len(in))
	for name, urls := range in {
		out[serviceKey(name)] = slices.Clone(urls)
	}
	return out
}
