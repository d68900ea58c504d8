// Package credential はパスワードのハッシュ化と、ユーザー名・パスワードによる認証を提供する。
//
// 新しいハッシュはargon2idのPHC形式 ($argon2id$v=19$m=..,t=..,p=..$salt$hash) で生成する。
// 既存データとの互換のためbcrypt ($2a$/$2b$/$2y$) の照合にも対応し、
// 照合に成功したbcryptハッシュはログイン時にargon2idへ置き換える。
package credential

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/samber/oops"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"

	"github.com/nao1215/edgeauth/pkg/account"
)

const argon2Prefix = "$argon2id$"

// bcryptPrefixes はbcryptハッシュとして受け付ける接頭辞。
var bcryptPrefixes = []string{"$2a$", "$2b$", "$2y$"}

var (
	// ErrEmptyPassword は空のパスワードをハッシュ化しようとしたことを表す。
	ErrEmptyPassword = errors.New("パスワードが空です")
	// ErrUnsupportedHash は対応していない形式のハッシュであることを表す。
	ErrUnsupportedHash = errors.New("対応していないハッシュ形式です")
)

// Params はargon2idのパラメータ。
type Params struct {
	// Time は反復回数。
	Time uint32
	// Memory はKiB単位のメモリ使用量。
	Memory uint32
	// Threads は並列度。
	Threads uint8
	// SaltLen はソルトのバイト長。
	SaltLen uint32
	// KeyLen は出力ハッシュのバイト長。
	KeyLen uint32
}

// DefaultParams はOWASP推奨のargon2idパラメータを返す。
func DefaultParams() Params {
	return Params{
		Time:    1,
		Memory:  64 * 1024,
		Threads: 4,
		SaltLen: 16,
		KeyLen:  32,
	}
}

// Hasher はパスワードのハッシュ化と照合を行う。
type Hasher interface {
	// Hash はパスワードのハッシュ文字列を生成する。
	Hash(password string) (string, error)
	// Verify はパスワードがハッシュに一致するかを返す。
	// 一致しない場合は (false, nil)、ハッシュが解析できない場合はエラーを返す。
	Verify(password, encoded string) (bool, error)
	// NeedsUpgrade はハッシュを現在のパラメータで作り直すべきかを返す。
	NeedsUpgrade(encoded string) bool
}

// PasswordHasher はargon2idで生成し、argon2idとbcryptで照合するHasher。
type PasswordHasher struct {
	params Params
}

var _ Hasher = (*PasswordHasher)(nil)

// NewPasswordHasher は新しいPasswordHasherを生成する。
func NewPasswordHasher(params Params) *PasswordHasher {
	return &PasswordHasher{params: params}
}

// Hash はargon2idのPHC形式でハッシュ文字列を生成する。
func (h *PasswordHasher) Hash(password string) (string, error) {
	if password == "" {
		return "", ErrEmptyPassword
	}

	salt := make([]byte, h.params.SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", oops.In("credential").Code("AUTH_SALT_FAILED").Wrap(err)
	}

	key := argon2.IDKey([]byte(password), salt, h.params.Time, h.params.Memory, h.params.Threads, h.params.KeyLen)

	return fmt.Sprintf("%sv=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2Prefix,
		argon2.Version,
		h.params.Memory,
		h.params.Time,
		h.params.Threads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// Verify はハッシュ文字列の形式に応じてパスワードを照合する。
// 連携ログイン専用アカウントのハッシュは常に不一致となる。
func (h *PasswordHasher) Verify(password, encoded string) (bool, error) {
	switch {
	case encoded == account.FederatedPasswordHash:
		return false, nil
	case strings.HasPrefix(encoded, argon2Prefix):
		return verifyArgon2id(password, encoded)
	case isBcrypt(encoded):
		err := bcrypt.CompareHashAndPassword([]byte(encoded), []byte(password))
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return false, nil
		}
		if err != nil {
			return false, oops.In("credential").Code("AUTH_INVALID_HASH").Wrap(err)
		}
		return true, nil
	default:
		return false, ErrUnsupportedHash
	}
}

// NeedsUpgrade はargon2id以外のハッシュ、またはパラメータが現在値と異なるハッシュに対してtrueを返す。
func (h *PasswordHasher) NeedsUpgrade(encoded string) bool {
	if encoded == account.FederatedPasswordHash {
		return false
	}
	p, err := parseArgon2id(encoded)
	if err != nil {
		return true
	}
	return p.params.Time != h.params.Time ||
		p.params.Memory != h.params.Memory ||
		p.params.Threads != h.params.Threads
}

// argon2Hash は解析済みのargon2idハッシュ。
type argon2Hash struct {
	params Params
	salt   []byte
	key    []byte
}

// parseArgon2id はPHC形式のargon2idハッシュ文字列を解析する。
func parseArgon2id(encoded string) (argon2Hash, error) {
	invalid := oops.In("credential").Code("AUTH_INVALID_HASH")

	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return argon2Hash{}, invalid.Errorf("argon2idのハッシュ形式ではありません")
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return argon2Hash{}, invalid.Wrap(err)
	}
	if version != argon2.Version {
		return argon2Hash{}, invalid.Errorf("対応していないargon2のバージョンです: %d", version)
	}

	var memory, iterations, threads uint32
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &iterations, &threads); err != nil {
		return argon2Hash{}, invalid.Wrap(err)
	}
	if threads == 0 || threads > 255 {
		return argon2Hash{}, invalid.Errorf("並列度 %d は範囲外です", threads)
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return argon2Hash{}, invalid.Wrap(err)
	}
	key, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return argon2Hash{}, invalid.Wrap(err)
	}
	if len(key) == 0 || len(key) > 1<<10 {
		return argon2Hash{}, invalid.Errorf("ハッシュ長 %d は範囲外です", len(key))
	}

	return argon2Hash{
		params: Params{
			Time:    iterations,
			Memory:  memory,
			Threads: uint8(threads),
			SaltLen: uint32(len(salt)),
			KeyLen:  uint32(len(key)),
		},
		salt: salt,
		key:  key,
	}, nil
}

// verifyArgon2id はハッシュに埋め込まれたパラメータで再計算し、定数時間で比較する。
func verifyArgon2id(password, encoded string) (bool, error) {
	h, err := parseArgon2id(encoded)
	if err != nil {
		return false, err
	}
	computed := argon2.IDKey([]byte(password), h.salt, h.params.Time, h.params.Memory, h.params.Threads, h.params.KeyLen)
	return subtle.ConstantTimeCompare(computed, h.key) == 1, nil
}

// isBcrypt はbcrypt形式のハッシュかどうかを返す。
func isBcrypt(encoded string) bool {
	for _, p := range bcryptPrefixes {
		if strings.HasPrefix(encoded, p) {
			return true
		}
	}
	return false
}
