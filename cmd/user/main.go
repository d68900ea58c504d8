// ユーザーサービスのエントリポイント。
// パスワードによるサインアップとログイン、OAuth2プロバイダーとの連携ログインを扱い、
// ログインに成功した利用者にトークンを発行する。
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/nao1215/edgeauth/internal/user"
	"github.com/nao1215/edgeauth/pkg/account"
	"github.com/nao1215/edgeauth/pkg/account/memory"
	"github.com/nao1215/edgeauth/pkg/account/redisstore"
	"github.com/nao1215/edgeauth/pkg/account/sqlite"
	"github.com/nao1215/edgeauth/pkg/config"
	"github.com/nao1215/edgeauth/pkg/credential"
	"github.com/nao1215/edgeauth/pkg/federation"
	"github.com/nao1215/edgeauth/pkg/httpclient"
	"github.com/nao1215/edgeauth/pkg/logging"
	"github.com/nao1215/edgeauth/pkg/token"
)

// アカウントストアの種類。
const (
	storeSQLite = "sqlite"
	storeRedis  = "redis"
	storeMemory = "memory"
)

func main() {
	if err := config.Load(); err != nil {
		log.Fatalf(".envの読み込みに失敗: %v", err)
	}
	logger, err := logging.New(logging.FromEnv("user"))
	if err != nil {
		log.Fatalf("ロガーの初期化に失敗: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(logger); err != nil {
		logger.Error("ユーザーサービスが異常終了しました", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
}

func run(logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	port := config.GetEnv("PORT", "8081")

	store, closeStore, err := openStore(ctx, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeStore(); err != nil {
			logger.Warn("アカウントストアのクローズに失敗", zap.Error(err))
		}
	}()

	verifier, err := credential.NewVerifier(store, credential.NewPasswordHasher(credential.DefaultParams()),
		credential.WithConcurrency(int64(config.GetEnvAsInt("HASH_CONCURRENCY", 4))),
		credential.WithLogger(logger),
	)
	if err != nil {
		return err
	}

	tokenCfg, dev := token.ConfigFromEnv()
	if dev {
		logger.Warn("JWT_SECRETが未設定のため開発用の秘密鍵を使用します。本番環境では必ず設定してください")
	}
	tokens, err := token.NewService(tokenCfg)
	if err != nil {
		return err
	}

	policy, err := federation.ParseLinkPolicy(config.GetEnv("LINK_POLICY", string(federation.PolicyProvider)))
	if err != nil {
		return err
	}

	server, err := user.NewServer(port, user.Config{
		Store:        store,
		Verifier:     verifier,
		Linker:       federation.NewLinker(store, policy, logger),
		Tokens:       tokens,
		Providers:    oauthProviders(logger),
		FrontendURL:  config.GetEnv("FRONTEND_URL", "http://localhost:3000"),
		SecureCookie: config.GetEnvAsBool("COOKIE_SECURE", false),
	}, logger)
	if err != nil {
		return err
	}

	logger.Info("ユーザーサービスを起動します",
		zap.String("port", port),
		zap.String("link_policy", string(policy)),
	)
	return server.Run(ctx)
}

// openStore は STORE_TYPE に応じたアカウントストアとそのクローズ関数を返す。
func openStore(ctx context.Context, logger *zap.Logger) (account.Store, func() error, error) {
	switch kind := config.GetEnv("STORE_TYPE", storeSQLite); kind {
	case storeSQLite:
		path := config.GetEnv("DATABASE_PATH", "/data/user.db")
		s, err := sqlite.Open(ctx, path, logger)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("SQLiteのアカウントストアを使用します", zap.String("path", path))
		return s, s.Close, nil
	case storeRedis:
		cfg := redisstore.DefaultConfig()
		cfg.URL = config.GetEnv("REDIS_URL", cfg.URL)
		s, err := redisstore.New(ctx, cfg)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("Redisのアカウントストアを使用します")
		return s, s.Close, nil
	case storeMemory:
		logger.Warn("メモリのアカウントストアを使用します。再起動するとアカウントは失われます")
		return memory.New(), func() error { return nil }, nil
	default:
		return nil, nil, fmt.Errorf("未対応のSTORE_TYPEです: %s", kind)
	}
}

// oauthProviders はクライアントIDが設定されたOAuth2プロバイダーを返す。
func oauthProviders(logger *zap.Logger) []*federation.OAuthClient {
	client := httpclient.New("")
	candidates := []federation.ProviderConfig{
		federation.GoogleConfig(
			config.GetEnv("OAUTH_GOOGLE_CLIENT_ID", ""),
			config.GetEnv("OAUTH_GOOGLE_CLIENT_SECRET", ""),
			config.GetEnv("OAUTH_GOOGLE_REDIRECT_URL", "http://localhost:8080/login/oauth2/code/google"),
		),
		federation.GitHubConfig(
			config.GetEnv("OAUTH_GITHUB_CLIENT_ID", ""),
			config.GetEnv("OAUTH_GITHUB_CLIENT_SECRET", ""),
			config.GetEnv("OAUTH_GITHUB_REDIRECT_URL", "http://localhost:8080/login/oauth2/code/github"),
		),
	}

	var providers []*federation.OAuthClient
	for _, cfg := range candidates {
		if !cfg.Enabled() {
			logger.Info("OAuth2プロバイダーは無効です", zap.String("provider", cfg.Name))
			continue
		}
		providers = append(providers, federation.NewOAuthClient(cfg, client))
	}
	return providers
}
