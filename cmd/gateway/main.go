// エッジゲートウェイのエントリポイント。
// パスの最長一致でリクエストを所有サービスへ転送し、クロスオリジンポリシーを一律に適用する。
// 外部からアクセス可能な唯一のサービスだが、認証は転送先の各サービスが行う。
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/nao1215/edgeauth/internal/gateway"
	"github.com/nao1215/edgeauth/pkg/config"
	"github.com/nao1215/edgeauth/pkg/logging"
)

func main() {
	if err := config.Load(); err != nil {
		log.Fatalf(".envの読み込みに失敗: %v", err)
	}
	logger, err := logging.New(logging.FromEnv("gateway"))
	if err != nil {
		log.Fatalf("ロガーの初期化に失敗: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(logger); err != nil {
		logger.Error("Gatewayサービスが異常終了しました", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
}

func run(logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	port := config.GetEnv("PORT", "8080")

	cfg := gateway.DefaultConfig()
	if path := config.GetEnv("GATEWAY_CONFIG", ""); path != "" {
		loaded, err := gateway.LoadConfig(path)
		if err != nil {
			return err
		}
		cfg = loaded
		logger.Info("ルーティング設定を読み込みました", zap.String("path", path))
	}
	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		return err
	}

	server, err := gateway.NewServer(port, cfg, logger)
	if err != nil {
		return err
	}

	for _, r := range cfg.Routes {
		logger.Info("ルートを登録", zap.String("prefix", r.Prefix), zap.Int("strip", r.Strip), zap.String("service", r.Service))
	}
	logger.Info("Gatewayサービスを起動します", zap.String("port", port))
	return server.Run(ctx)
}
