// Package match はマッチサービスのHTTPとWebSocketのインターフェースを提供する。
//
// WebSocket上ではSTOMP形式のテキストフレームをやり取りする。接続後の最初の
// CONNECTフレームで一度だけトークンを検証し、結果を接続の生存期間中束縛する。
// 未認証の接続も受け入れるが、保護された宛先への送信は操作ごとのゲートで拒否する。
package match
