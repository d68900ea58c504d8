// マッチサービスのエントリポイント。
// STOMP形式のWebSocketセッションを提供し、接続開始時に一度だけトークンで認証する。
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/nao1215/edgeauth/internal/match"
	"github.com/nao1215/edgeauth/pkg/config"
	"github.com/nao1215/edgeauth/pkg/logging"
	"github.com/nao1215/edgeauth/pkg/middleware"
	"github.com/nao1215/edgeauth/pkg/token"
)

func main() {
	if err := config.Load(); err != nil {
		log.Fatalf(".envの読み込みに失敗: %v", err)
	}
	logger, err := logging.New(logging.FromEnv("match"))
	if err != nil {
		log.Fatalf("ロガーの初期化に失敗: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(logger); err != nil {
		logger.Error("マッチサービスが異常終了しました", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
}

func run(logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	port := config.GetEnv("PORT", "8082")

	tokenCfg, dev := token.ConfigFromEnv()
	if dev {
		logger.Warn("JWT_SECRETが未設定のため開発用の秘密鍵を使用します。本番環境では必ず設定してください")
	}
	tokens, err := token.NewService(tokenCfg)
	if err != nil {
		return err
	}

	origins := config.GetEnvAsList("ALLOWED_ORIGINS", []string{"localhost:3000"})
	server, err := match.NewServer(port, match.Config{
		Verifier:       tokens,
		CORS:           middleware.DefaultPolicy(),
		OriginPatterns: origins,
	}, logger)
	if err != nil {
		return err
	}

	logger.Info("マッチサービスを起動します", zap.String("port", port), zap.Strings("allowed_origins", origins))
	return server.Run(ctx)
}
