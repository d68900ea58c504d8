package identity

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nao1215/edgeauth/pkg/autherr"
)

// stubVerifier は固定のトークンだけを受け付けるVerifier。
type stubVerifier struct {
	valid   string
	subject string
	calls   int
}

func (s *stubVerifier) Verify(raw string) (string, error) {
	s.calls++
	if raw != s.valid {
		return "", autherr.Wrap("token", autherr.ErrInvalidSignature)
	}
	return s.subject, nil
}

// TestBearerToken はBearerToken関数を検証する。
func TestBearerToken(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		header string
		want   string
		wantOK bool
	}{
		{"Bearer接頭辞付きのトークンを取り出せること", "Bearer abc.def.ghi", "abc.def.ghi", true},
		{"空文字列は見つからないこと", "", "", false},
		{"小文字のbearerは受け付けないこと", "bearer abc", "", false},
		{"大文字のBEARERは受け付けないこと", "BEARER abc", "", false},
		{"接頭辞のみでトークンが空の場合は見つからないこと", "Bearer ", "", false},
		{"Basic認証は受け付けないこと", "Basic dXNlcjpwYXNz", "", false},
		{"スペースが無い場合は受け付けないこと", "Bearerabc", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, ok := BearerToken(tt.header)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

// TestContext はコンテキストへのIdentityの格納と取得を検証する。
func TestContext(t *testing.T) {
	t.Parallel()

	t.Run("格納したIdentityを取り出せること", func(t *testing.T) {
		t.Parallel()

		ctx := WithIdentity(context.Background(), New("alice"))
		id, ok := FromContext(ctx)
		require.True(t, ok)
		assert.Equal(t, "alice", id.Username)
		assert.Equal(t, []string{RoleUser}, id.Roles)
	})

	t.Run("未設定の場合はfalseが返ること", func(t *testing.T) {
		t.Parallel()

		_, ok := FromContext(context.Background())
		assert.False(t, ok)
	})

	t.Run("nilのIdentityは未認証として扱うこと", func(t *testing.T) {
		t.Parallel()

		_, ok := FromContext(WithIdentity(context.Background(), nil))
		assert.False(t, ok)
	})
}

// TestHasRole はHasRole関数を検証する。
func TestHasRole(t *testing.T) {
	t.Parallel()

	assert.True(t, New("alice").HasRole(RoleUser))
	assert.False(t, New("alice").HasRole("ADMIN"))

	var nilID *Identity
	assert.False(t, nilID.HasRole(RoleUser))
}

// TestAuthenticator はAuthenticatorを検証する。
func TestAuthenticator(t *testing.T) {
	t.Parallel()

	t.Run("有効なトークンでIdentityが載ること", func(t *testing.T) {
		t.Parallel()

		v := &stubVerifier{valid: "good", subject: "alice"}
		a := NewAuthenticator(v, nil)

		ctx, ok := a.AuthenticateHeader(context.Background(), "Bearer good")
		require.True(t, ok)
		id, ok := FromContext(ctx)
		require.True(t, ok)
		assert.Equal(t, "alice", id.Username)
	})

	t.Run("検証に失敗してもエラーにならず未認証のままであること", func(t *testing.T) {
		t.Parallel()

		v := &stubVerifier{valid: "good", subject: "alice"}
		a := NewAuthenticator(v, nil)

		ctx, ok := a.AuthenticateHeader(context.Background(), "Bearer bad")
		assert.False(t, ok)
		_, ok = FromContext(ctx)
		assert.False(t, ok)
	})

	t.Run("Bearer形式でない場合は検証を呼ばないこと", func(t *testing.T) {
		t.Parallel()

		v := &stubVerifier{valid: "good", subject: "alice"}
		a := NewAuthenticator(v, nil)

		_, ok := a.AuthenticateHeader(context.Background(), "Token good")
		assert.False(t, ok)
		assert.Zero(t, v.calls)
	})
}
