// Package handshake は持続的な双方向セッションの確立時に一度だけ行う認証を提供する。
//
// 接続開始フレームのヘッダーからトークンを取り出して検証し、成功した場合は
// その接続の生存期間中ずっとIdentityを束縛する。トークンが無い、または検証に
// 失敗した場合でも接続は拒否せず、未認証のまま続行させる。
// 認証済み接続を必須とするかどうかは操作ごとのゲートで明示的に判断する。
package handshake

import (
	"strings"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/nao1215/edgeauth/pkg/identity"
)

const (
	// HeaderAuthorization はBearerトークンを運ぶヘッダー名。
	HeaderAuthorization = "Authorization"
	// HeaderQuery はクエリ文字列形式でトークンを運ぶヘッダー名。
	HeaderQuery = "query"

	bearerPrefix = "Bearer "
	tokenParam   = "token="
)

// Headers は接続開始フレームのヘッダー。http.Header もこれを満たす。
type Headers interface {
	Get(name string) string
}

// ExtractToken は接続開始フレームのヘッダーからトークンを取り出す。
//
// 次の順に探す。
//  1. "Bearer " で始まるAuthorizationヘッダーの残り部分
//  2. queryヘッダー中で最初に現れる "token=" より後ろの文字列全体
//
// 2 は区切り文字での切り詰めを一切行わない。"token=abc&x=1" からは "abc&x=1" が得られる。
// いずれも見つからない場合は ("", false) を返す。
func ExtractToken(h Headers) (string, bool) {
	if tok, found := strings.CutPrefix(h.Get(HeaderAuthorization), bearerPrefix); found {
		return tok, true
	}

	query := h.Get(HeaderQuery)
	if i := strings.Index(query, tokenParam); i >= 0 {
		return query[i+len(tokenParam):], true
	}
	return "", false
}

// Authenticator は接続開始時のトークン検証を行う。
type Authenticator struct {
	auth   *identity.Authenticator
	logger *zap.Logger
}

// NewAuthenticator は新しいAuthenticatorを生成する。
func NewAuthenticator(auth *identity.Authenticator, logger *zap.Logger) *Authenticator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Authenticator{auth: auth, logger: logger}
}

// Authenticate はヘッダーからトークンを取り出して検証する。
// 接続を拒否することはなく、失敗した場合は (nil, false) を返すだけである。
func (a *Authenticator) Authenticate(h Headers) (*identity.Identity, bool) {
	raw, found := ExtractToken(h)
	if !found {
		a.logger.Debug("ハンドシェイクにトークンが無いため未認証で接続する")
		return nil, false
	}
	id, ok := a.auth.Authenticate(raw)
	if !ok {
		a.logger.Warn("ハンドシェイクのトークン検証に失敗したため未認証で接続する")
		return nil, false
	}
	return id, true
}

// Binding は1つの接続に束縛されるIdentity。
// Bind は最初の呼び出しでだけ認証を行い、以降の呼び出しは最初の結果を返す。
type Binding struct {
	auth *Authenticator
	once sync.Once
	id   atomic.Pointer[identity.Identity]
}

// NewBinding は接続ごとのBindingを生成する。
func (a *Authenticator) NewBinding() *Binding {
	return &Binding{auth: a}
}

// Bind は接続開始フレームのヘッダーで認証を行い、結果を接続に束縛する。
func (b *Binding) Bind(h Headers) (*identity.Identity, bool) {
	b.once.Do(func() {
		if id, ok := b.auth.Authenticate(h); ok {
			b.id.Store(id)
		}
	})
	return b.Identity()
}

// Identity は束縛されたIdentityを返す。未認証の場合は (nil, false) を返す。
func (b *Binding) Identity() (*identity.Identity, bool) {
	id := b.id.Load()
	if id == nil {
		return nil, false
	}
	return id, true
}
