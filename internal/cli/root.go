// Package cli は運用向けコマンド authctl を提供する。
package cli

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/nao1215/edgeauth/pkg/config"
)

// options は全サブコマンドで共有するフラグ。
type options struct {
	secret string
	issuer string
}

// NewRootCmd はルートコマンドを生成する。
func NewRootCmd() *cobra.Command {
	opts := &options{}

	rootCmd := &cobra.Command{
		Use:   "authctl",
		Short: "edgeauthの運用ツール",
		Long: `authctl はedgeauthの運用ツールです。

トークンの発行と検証、パスワードハッシュの生成、
ゲートウェイのルーティング設定の検査、ゲートウェイ経由のログインを行います。`,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			return config.Load()
		},
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&opts.secret, "secret", "", "トークン署名用の秘密鍵 (env: JWT_SECRET)")
	rootCmd.PersistentFlags().StringVar(&opts.issuer, "issuer", "", "トークンの発行者名 (env: TOKEN_ISSUER)")

	rootCmd.AddCommand(newTokenCmd(opts))
	rootCmd.AddCommand(newPasswordCmd())
	rootCmd.AddCommand(newRoutesCmd())
	rootCmd.AddCommand(newLoginCmd())

	return rootCmd
}

// Execute はルートコマンドを実行する。
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
