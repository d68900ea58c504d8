// Package httpclient は外部サービスとのHTTP通信を行うクライアントを提供する。
//
// 連携ログインでのIDプロバイダーへの認可コード交換やユーザー情報取得、
// サービス間のJSON API呼び出しなど、外向きの通信パターンを統一する。
// 認証済みリクエストのBearerトークンはコンテキスト経由で伝播する。
package httpclient
