package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/nao1215/edgeauth/internal/gateway"
)

func newRoutesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "routes",
		Short: "ゲートウェイのルーティング設定の操作",
	}

	cmd.AddCommand(newRoutesCheckCmd())

	return cmd
}

func newRoutesCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check <file>",
		Short: "ルーティング設定ファイルを検査し、照合順のルート表を表示する",
		Long: `ゲートウェイのYAML設定ファイルを読み込み、環境変数による上書きを適用してから
ルート表と転送先を検査します。サーバーを起動しないのでCIでの事前検査に使えます。

  authctl routes check configs/gateway.yaml`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := gateway.LoadConfig(args[0])
			if err != nil {
				return err
			}
			cfg.ApplyEnv()
			if err := cfg.Validate(); err != nil {
				return err
			}
			table, err := gateway.NewTable(cfg.Routes)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "PREFIX\tSTRIP\tSERVICE\tUPSTREAMS")
			for _, r := range table.Routes() {
				fmt.Fprintf(w, "%s\t%d\t%s\t%v\n", r.Prefix, r.Strip, r.Service, cfg.Upstreams(r.Service))
			}
			return w.Flush()
		},
	}
}
