// 運用ツール authctl のエントリポイント。
// トークンの発行と検証、パスワードハッシュの生成、ゲートウェイ設定の検査を行う。
package main

import "github.com/nao1215/edgeauth/internal/cli"

func main() {
	cli.Execute()
}
