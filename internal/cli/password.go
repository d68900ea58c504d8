package cli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nao1215/edgeauth/pkg/credential"
)

func newPasswordCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "password",
		Short: "パスワードハッシュの操作",
	}

	cmd.AddCommand(newPasswordHashCmd())

	return cmd
}

func newPasswordHashCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash",
		Short: "標準入力の1行目のパスワードをargon2idでハッシュ化する",
		Long: `標準入力の1行目をパスワードとしてargon2idのハッシュを生成します。
シェルの履歴に残らないよう、パスワードは引数ではなく標準入力で渡します。

  echo -n 'secret' | authctl password hash`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
			password := strings.TrimRight(line, "\r\n")
			if password == "" {
				if err != nil && !errors.Is(err, io.EOF) {
					return err
				}
				return errors.New("パスワードが入力されていません")
			}

			hash, err := credential.NewPasswordHasher(credential.DefaultParams()).Hash(password)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}
}
