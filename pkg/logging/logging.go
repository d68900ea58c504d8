// Package logging はサービス共通のzapロガーを生成する。
package logging

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/nao1215/edgeauth/pkg/config"
)

const (
	// FormatJSON は本番向けのJSON出力。
	FormatJSON = "json"
	// FormatConsole は開発向けの人間が読みやすい出力。
	FormatConsole = "console"
)

// Config はロガーの設定。
type Config struct {
	// Format は出力形式（json, console）。
	Format string
	// Level は最小ログレベル（debug, info, warn, error）。
	Level string
	// Service はすべてのログに付与するサービス名。
	Service string
}

// FromEnv は LOG_FORMAT と LOG_LEVEL から設定を読み取る。
func FromEnv(service string) Config {
	return Config{
		Format:  config.GetEnv("LOG_FORMAT", FormatJSON),
		Level:   config.GetEnv("LOG_LEVEL", "info"),
		Service: service,
	}
}

// New は設定に従ってロガーを生成する。
func New(cfg Config) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if cfg.Level != "" {
		l, err := zapcore.ParseLevel(strings.ToLower(cfg.Level))
		if err != nil {
			return nil, fmt.Errorf("ログレベルが不正です: %w", err)
		}
		level = l
	}

	var zc zap.Config
	switch strings.ToLower(cfg.Format) {
	case "", FormatJSON:
		zc = zap.NewProductionConfig()
		zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	case FormatConsole:
		zc = zap.NewDevelopmentConfig()
	default:
		return nil, fmt.Errorf("ログ形式が不正です: %q", cfg.Format)
	}
	zc.Level = zap.NewAtomicLevelAt(level)

	logger, err := zc.Build()
	if err != nil {
		return nil, fmt.Errorf("ロガーの生成に失敗: %w", err)
	}
	if cfg.Service != "" {
		logger = logger.With(zap.String("service", cfg.Service))
	}
	return logger, nil
}
