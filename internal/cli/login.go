package cli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/nao1215/edgeauth/pkg/config"
	"github.com/nao1215/edgeauth/pkg/httpclient"
)

// loginRequest は /auth/login に送るリクエストボディ。
type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// loginResponse は /auth/login のレスポンスボディ。
type loginResponse struct {
	Token     string `json:"token"`
	ExpiresAt string `json:"expires_at"`
}

func newLoginCmd() *cobra.Command {
	var (
		gateway string
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "login <username>",
		Short: "ゲートウェイ経由でログインしてトークンを表示する",
		Long: `ゲートウェイの /auth/login にユーザー名とパスワードを送り、発行されたトークンを表示します。
パスワードは標準入力の1行目から読み取ります。

  echo -n 'secret' | authctl login alice --gateway http://localhost:8080`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
			password := strings.TrimRight(line, "\r\n")
			if password == "" {
				if err != nil && !errors.Is(err, io.EOF) {
					return err
				}
				return errors.New("パスワードが入力されていません")
			}

			if gateway == "" {
				gateway = config.GetEnv("GATEWAY_URL", "http://localhost:8080")
			}
			client := httpclient.New(gateway, httpclient.WithTimeout(timeout))

			var resp loginResponse
			err = client.PostJSON(cmd.Context(), "/auth/login", loginRequest{Username: args[0], Password: password}, &resp)
			if err != nil {
				var statusErr *httpclient.StatusError
				if errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusUnauthorized {
					return errors.New("ユーザー名またはパスワードが違います")
				}
				return fmt.Errorf("ログインに失敗: %w", err)
			}

			fmt.Fprintln(cmd.OutOrStdout(), resp.Token)
			if resp.ExpiresAt != "" {
				fmt.Fprintf(cmd.ErrOrStderr(), "有効期限: %s\n", resp.ExpiresAt)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&gateway, "gateway", "", "ゲートウェイのURL (env: GATEWAY_URL)")
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "リクエストのタイムアウト")

	return cmd
}
