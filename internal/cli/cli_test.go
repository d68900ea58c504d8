package cli

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nao1215/edgeauth/pkg/autherr"
	"github.com/nao1215/edgeauth/pkg/credential"
)

// execute はルートコマンドを実行し、標準出力の内容を返す。
func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()

	cmd := NewRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

// TestTokenCmd はトークンの発行と検証を検証する。
func TestTokenCmd(t *testing.T) {
	t.Parallel()

	t.Run("発行したトークンを同じ秘密鍵で検証できること", func(t *testing.T) {
		t.Parallel()

		raw, err := execute(t, "", "token", "issue", "alice", "--secret", "cli-secret", "--ttl", "1h")
		require.NoError(t, err)
		raw = strings.TrimSpace(raw)
		assert.Equal(t, 2, strings.Count(raw, "."))

		subject, err := execute(t, "", "token", "verify", raw, "--secret", "cli-secret")
		require.NoError(t, err)
		assert.Equal(t, "alice\n", subject)
	})

	t.Run("異なる秘密鍵では署名エラーになること", func(t *testing.T) {
		t.Parallel()

		raw, err := execute(t, "", "token", "issue", "alice", "--secret", "cli-secret")
		require.NoError(t, err)

		_, err = execute(t, "", "token", "verify", strings.TrimSpace(raw), "--secret", "other-secret")
		require.Error(t, err)
		assert.ErrorIs(t, err, autherr.ErrInvalidSignature)
		assert.Contains(t, err.Error(), "AUTH_INVALID_SIGNATURE")
	})

	t.Run("subjectが無い場合はエラーになること", func(t *testing.T) {
		t.Parallel()

		_, err := execute(t, "", "token", "issue", "--secret", "cli-secret")
		assert.Error(t, err)
	})
}

// TestPasswordHashCmd はパスワードハッシュの生成を検証する。
func TestPasswordHashCmd(t *testing.T) {
	t.Parallel()

	t.Run("標準入力のパスワードからargon2idのハッシュを生成すること", func(t *testing.T) {
		t.Parallel()

		out, err := execute(t, "wonderland\n", "password", "hash")
		require.NoError(t, err)
		hash := strings.TrimSpace(out)
		assert.True(t, strings.HasPrefix(hash, "$argon2id$"), hash)

		ok, err := credential.NewPasswordHasher(credential.DefaultParams()).Verify("wonderland", hash)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("入力が空の場合はエラーになること", func(t *testing.T) {
		t.Parallel()

		_, err := execute(t, "", "password", "hash")
		assert.Error(t, err)
	})
}

// TestRoutesCheckCmd はルーティング設定の検査を検証する。
func TestRoutesCheckCmd(t *testing.T) {
	t.Parallel()

	writeConfig := func(t *testing.T, body string) string {
		t.Helper()
		path := filepath.Join(t.TempDir(), "gateway.yaml")
		require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
		return path
	}

	t.Run("照合順のルート表と転送先を表示すること", func(t *testing.T) {
		t.Parallel()

		path := writeConfig(t, `
routes:
  - prefix: /auth
    service: USER-SERVICE
  - prefix: /api/user
    strip: 2
    service: USER-SERVICE
services:
  USER-SERVICE:
    - http://user-service:8081
`)
		out, err := execute(t, "", "routes", "check", path)
		require.NoError(t, err)

		lines := strings.Split(strings.TrimSpace(out), "\n")
		require.Len(t, lines, 3)
		assert.True(t, strings.HasPrefix(lines[0], "PREFIX"))
		assert.True(t, strings.HasPrefix(lines[1], "/api/user"), lines[1])
		assert.Contains(t, lines[1], "http://user-service:8081")
		assert.True(t, strings.HasPrefix(lines[2], "/auth"), lines[2])
	})

	t.Run("転送先の無いサービスを参照するとエラーになること", func(t *testing.T) {
		t.Parallel()

		path := writeConfig(t, `
routes:
  - prefix: /api/unknown
    service: NOWHERE-SERVICE
services:
  USER-SERVICE:
    - http://user-service:8081
`)
		_, err := execute(t, "", "routes", "check", path)
		assert.Error(t, err)
	})

	t.Run("存在しないファイルはエラーになること", func(t *testing.T) {
		t.Parallel()

		_, err := execute(t, "", "routes", "check", filepath.Join(t.TempDir(), "missing.yaml"))
		assert.Error(t, err)
	})
}

// TestLoginCmd はゲートウェイ経由のログインを検証する。
func TestLoginCmd(t *testing.T) {
	t.Parallel()

	newGateway := func(t *testing.T) *httptest.Server {
		t.Helper()
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost || r.URL.Path != "/auth/login" {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			var req map[string]string
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			if req["username"] != "alice" || req["password"] != "wonderland" {
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write([]byte(`{"error":"Invalid credentials"}`))
				return
			}
			_, _ = w.Write([]byte(`{"token":"a.b.c","expires_at":"2030-01-01T00:00:00Z"}`))
		}))
		t.Cleanup(ts.Close)
		return ts
	}

	t.Run("標準入力のパスワードでログインしトークンを表示すること", func(t *testing.T) {
		t.Parallel()

		ts := newGateway(t)
		out, err := execute(t, "wonderland\n", "login", "alice", "--gateway", ts.URL)
		require.NoError(t, err)
		assert.Equal(t, "a.b.c\n", out)
	})

	t.Run("認証に失敗した場合はエラーになること", func(t *testing.T) {
		t.Parallel()

		ts := newGateway(t)
		out, err := execute(t, "wrong\n", "login", "alice", "--gateway", ts.URL)
		require.Error(t, err)
		assert.Empty(t, out)
		assert.Contains(t, err.Error(), "ユーザー名またはパスワードが違います")
	})

	t.Run("パスワードが空の場合はリクエストを送らずにエラーになること", func(t *testing.T) {
		t.Parallel()

		_, err := execute(t, "", "login", "alice", "--gateway", "http://127.0.0.1:1")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "パスワードが入力されていません")
	})
}
