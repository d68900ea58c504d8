// Package autherr は認証・ルーティング処理で共通に使うエラー分類を提供する。
//
// 各コンポーネントは番兵エラーを samber/oops でラップして返すため、
// 呼び出し側は errors.Is で分類を判定できる。
package autherr

import (
	"errors"
	"net/http"

	"github.com/samber/oops"
)

var (
	// ErrMalformed はトークンや認証情報の入力を解析できないことを表す。
	ErrMalformed = errors.New("形式が不正です")
	// ErrInvalidSignature はトークンの署名が一致しないことを表す。
	ErrInvalidSignature = errors.New("署名が一致しません")
	// ErrExpired はトークンの有効期限が切れていることを表す。
	ErrExpired = errors.New("有効期限が切れています")
	// ErrInvalidCredentials はパスワードが一致しないことを表す。
	ErrInvalidCredentials = errors.New("認証情報が不正です")
	// ErrAccountNotFound はアカウントが存在しないことを表す。
	ErrAccountNotFound = errors.New("アカウントが見つかりません")
	// ErrAccountConflict は連携ポリシーにより既存アカウントとの紐付けを拒否したことを表す。
	ErrAccountConflict = errors.New("既存アカウントと競合しています")
	// ErrUsernameTaken はユーザー名が既に使われていることを表す。
	ErrUsernameTaken = errors.New("ユーザー名は既に使用されています")
	// ErrRouteNotFound はリクエストパスに一致するルートが無いことを表す。
	ErrRouteNotFound = errors.New("ルートが見つかりません")
	// ErrUpstreamUnavailable は名前解決やバックエンド接続に失敗したことを表す。
	ErrUpstreamUnavailable = errors.New("上流サービスに接続できません")
)

// kind は番兵エラーとエラーコード・HTTPステータスの対応。
type kind struct {
	err    error
	code   string
	status int
}

// kinds は分類の判定順序。先に一致したものが採用される。
var kinds = []kind{
	{ErrMalformed, "AUTH_MALFORMED", http.StatusBadRequest},
	{ErrInvalidSignature, "AUTH_INVALID_SIGNATURE", http.StatusUnauthorized},
	{ErrExpired, "AUTH_EXPIRED", http.StatusUnauthorized},
	{ErrInvalidCredentials, "AUTH_INVALID_CREDENTIALS", http.StatusUnauthorized},
	{ErrAccountNotFound, "AUTH_ACCOUNT_NOT_FOUND", http.StatusUnauthorized},
	{ErrAccountConflict, "AUTH_ACCOUNT_CONFLICT", http.StatusConflict},
	{ErrUsernameTaken, "AUTH_USERNAME_TAKEN", http.StatusConflict},
	{ErrRouteNotFound, "GATEWAY_ROUTE_NOT_FOUND", http.StatusNotFound},
	{ErrUpstreamUnavailable, "GATEWAY_UPSTREAM_UNAVAILABLE", http.StatusServiceUnavailable},
}

// Wrap は番兵エラーをコンポーネント名とエラーコード付きでラップする。
// kv にはログ用の追加コンテキストをキーと値の組で渡す。
func Wrap(component string, sentinel error, kv ...any) error {
	return oops.In(component).Code(Code(sentinel)).With(kv...).Wrap(sentinel)
}

// Wrapf は Wrap と同様だが、原因となったエラーのメッセージを付与する。
func Wrapf(component string, sentinel error, cause error, kv ...any) error {
	if cause == nil {
		return Wrap(component, sentinel, kv...)
	}
	return oops.In(component).Code(Code(sentinel)).With(kv...).With("cause", cause.Error()).Wrap(sentinel)
}

// Code はエラーに対応するエラーコードを返す。分類できない場合は "INTERNAL" を返す。
func Code(err error) string {
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.code
		}
	}
	return "INTERNAL"
}

// HTTPStatus はエラーに対応するHTTPステータスコードを返す。
func HTTPStatus(err error) int {
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.status
		}
	}
	return http.StatusInternalServerError
}
