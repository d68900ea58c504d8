// Package user はユーザーサービスのHTTPインターフェースを提供する。
//
// パスワードによるサインアップとログイン、OAuth2プロバイダーとの連携ログイン、
// 認証済みユーザー向けのプロフィール参照とパスワード変更を扱う。
// ログインに成功するとトークンを発行し、以降のリクエストはトークンで認証する。
package user
