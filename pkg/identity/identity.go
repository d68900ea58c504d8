// Package identity はリクエストや接続に紐付く認証済みIDを扱う。
//
// 認証済みIDはグローバル変数やゴルーチンローカルな領域には置かず、
// 必ず context.Context に載せて呼び出しチェーンへ明示的に渡す。
package identity

import (
	"context"
	"slices"
	"strings"

	"go.uber.org/zap"

	"github.com/nao1215/edgeauth/pkg/autherr"
)

// RoleUser は認証済みユーザーに暗黙的に付与されるロール。
const RoleUser = "USER"

// bearerPrefix はAuthorizationヘッダーのトークン接頭辞。大文字小文字を区別する。
const bearerPrefix = "Bearer "

// Identity は検証済みのsubjectとそのロール。
type Identity struct {
	// Username はトークンのsubject。
	Username string `json:"username"`
	// Roles は付与されたロール。既定ではRoleUserのみ。
	Roles []string `json:"roles"`
}

// New は既定ロールを持つIdentityを生成する。
func New(username string) *Identity {
	return &Identity{
		Username: username,
		Roles:    []string{RoleUser},
	}
}

// HasRole はロールを持っているかどうかを返す。
func (i *Identity) HasRole(role string) bool {
	if i == nil {
		return false
	}
	return slices.Contains(i.Roles, role)
}

// contextKey はコンテキストキーの型。
type contextKey struct{}

// WithIdentity はIdentityを載せた新しいコンテキストを返す。
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, contextKey{}, id)
}

// FromContext はコンテキストからIdentityを取り出す。
// 認証されていない場合は (nil, false) を返す。
func FromContext(ctx context.Context) (*Identity, bool) {
	id, ok := ctx.Value(contextKey{}).(*Identity)
	if !ok || id == nil {
		return nil, false
	}
	return id, true
}

// BearerToken は "Bearer <token>" 形式のヘッダー値からトークンを取り出す。
// 接頭辞は大文字小文字を区別して照合し、トークン部が空の場合は見つからない扱いにする。
func BearerToken(header string) (string, bool) {
	tok, found := strings.CutPrefix(header, bearerPrefix)
	if !found || tok == "" {
		return "", false
	}
	return tok, true
}

// Verifier はトークンを検証してsubjectを返す。token.Service が実装する。
type Verifier interface {
	Verify(raw string) (string, error)
}

// Authenticator はトークンを検証し、成功した場合だけIDを返す。
// 失敗してもエラーにはせず「IDなし」として扱う。
// IDが必須かどうかの判断は呼び出し側のゲートで明示的に行う。
type Authenticator struct {
	verifier Verifier
	logger   *zap.Logger
}

// NewAuthenticator は新しいAuthenticatorを生成する。
func NewAuthenticator(verifier Verifier, logger *zap.Logger) *Authenticator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Authenticator{verifier: verifier, logger: logger}
}

// Authenticate はトークンを検証し、成功した場合にIdentityを返す。
// トークンが空、または検証に失敗した場合は (nil, false) を返す。
func (a *Authenticator) Authenticate(raw string) (*Identity, bool) {
	if raw == "" {
		return nil, false
	}
	subject, err := a.verifier.Verify(raw)
	if err != nil {
		a.logger.Debug("トークン検証に失敗したため未認証として扱う",
			zap.String("code", autherr.Code(err)))
		return nil, false
	}
	return New(subject), true
}

// AuthenticateHeader はAuthorizationヘッダー値を検証し、
// 成功した場合はIdentityを載せたコンテキストを返す。失敗時は元のコンテキストを返す。
func (a *Authenticator) AuthenticateHeader(ctx context.Context, authorization string) (context.Context, bool) {
	raw, ok := BearerToken(authorization)
	if !ok {
		return ctx, false
	}
	id, ok := a.Authenticate(raw)
	if !ok {
		return ctx, false
	}
	return WithIdentity(ctx, id), true
}
