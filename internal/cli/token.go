package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/nao1215/edgeauth/pkg/autherr"
	"github.com/nao1215/edgeauth/pkg/token"
)

func newTokenCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "トークンの発行と検証",
	}

	cmd.AddCommand(newTokenIssueCmd(opts))
	cmd.AddCommand(newTokenVerifyCmd(opts))

	return cmd
}

// tokenService はフラグと環境変数からトークンサービスを生成する。フラグが優先される。
func (o *options) tokenService(cmd *cobra.Command, ttl time.Duration) (*token.Service, error) {
	cfg, dev := token.ConfigFromEnv()
	if o.secret != "" {
		cfg.Secret = o.secret
		dev = false
	}
	if o.issuer != "" {
		cfg.Issuer = o.issuer
	}
	if ttl > 0 {
		cfg.TTL = ttl
	}
	if dev {
		fmt.Fprintln(cmd.ErrOrStderr(), "警告: 開発用の秘密鍵を使用しています")
	}
	return token.NewService(cfg)
}

func newTokenIssueCmd(opts *options) *cobra.Command {
	var ttl time.Duration

	cmd := &cobra.Command{
		Use:   "issue <subject>",
		Short: "subjectに対するトークンを発行する",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := opts.tokenService(cmd, ttl)
			if err != nil {
				return err
			}
			tok, err := svc.Issue(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok.Raw)
			return nil
		},
	}

	cmd.Flags().DurationVar(&ttl, "ttl", 0, "有効期間 (env: TOKEN_TTL)")

	return cmd
}

func newTokenVerifyCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "verify <token>",
		Short: "トークンを検証してsubjectを表示する",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := opts.tokenService(cmd, 0)
			if err != nil {
				return err
			}
			subject, err := svc.Verify(args[0])
			if err != nil {
				return fmt.Errorf("トークンが無効です (%s): %w", autherr.Code(err), err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), subject)
			return nil
		},
	}
}
