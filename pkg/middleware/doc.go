// Package middleware はGinとnet/httpの両方で使用する共通ミドルウェアを提供する。
//
// Bearerトークンによる任意認証、保護ルート用の認証・ロールゲート、
// リクエストログ、パニックリカバリ、CORS設定など、全サービスで共通して使用するミドルウェアを含む。
//
// 認証ミドルウェアは検証に失敗してもリクエストを拒否しない。
// 未認証リクエストを拒否するのは RequireAuth / RequireRole の役割であり、
// 保護するルートに明示的に適用する。
package middleware
