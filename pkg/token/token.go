// Package token はサーバー側に状態を持たない署名付きトークンの発行と検証を提供する。
//
// トークンは header.payload.signature の3セグメントから成るHS256 JWTで、
// ペイロードには subject (sub)、issuedAt (iat)、expiresAt (exp) を含む。
// 有効性はトークン自身の内容と署名だけで決まり、失効リストは持たない。
package token

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/nao1215/edgeauth/pkg/autherr"
)

const (
	// DefaultTTL はトークンの既定の有効期間。
	DefaultTTL = 24 * time.Hour
	// DefaultIssuer はトークンの既定の発行者名。
	DefaultIssuer = "edgeauth"
	// component はエラーに付与するコンポーネント名。
	component = "token"
)

// Clock は現在時刻を返す。テストで時刻を固定するために差し替える。
type Clock interface {
	Now() time.Time
}

// systemClock はシステム時刻を返すClock実装。
type systemClock struct{}

// Now は現在時刻を返す。
func (systemClock) Now() time.Time {
	return time.Now()
}

// Config はトークンサービスの設定。
type Config struct {
	// Secret はHMAC署名に使う共有秘密鍵。
	Secret string
	// TTL はトークンの有効期間。0の場合はDefaultTTLを使う。
	TTL time.Duration
	// Issuer はトークンの発行者名。空の場合はDefaultIssuerを使う。
	Issuer string
}

// Claims はトークンのペイロード。
type Claims struct {
	jwt.RegisteredClaims
}

// Token は発行済みトークンとその主張内容。
type Token struct {
	// Raw はクライアントに渡すエンコード済みトークン文字列。
	Raw string `json:"token"`
	// Subject はトークンが表すユーザー名。
	Subject string `json:"subject"`
	// IssuedAt は発行時刻。
	IssuedAt time.Time `json:"issued_at"`
	// ExpiresAt は有効期限。この時刻以降は無効。
	ExpiresAt time.Time `json:"expires_at"`
}

// Service はトークンの発行と検証を行う。
// 内部状態は不変なので、複数のゴルーチンから同時に呼び出してよい。
type Service struct {
	secret []byte
	ttl    time.Duration
	issuer string
	clock  Clock
	parser *jwt.Parser
}

// Option はServiceの生成オプション。
type Option func(*Service)

// WithClock は時刻の取得元を差し替える。
func WithClock(c Clock) Option {
	return func(s *Service) {
		s.clock = c
	}
}

// NewService は新しいトークンサービスを生成する。
func NewService(cfg Config, opts ...Option) (*Service, error) {
	if cfg.Secret == "" {
		return nil, errors.New("トークン署名用の秘密鍵が空です")
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.Issuer == "" {
		cfg.Issuer = DefaultIssuer
	}

	s := &Service{
		secret: []byte(cfg.Secret),
		ttl:    cfg.TTL,
		issuer: cfg.Issuer,
		clock:  systemClock{},
	}
	for _, opt := range opts {
		opt(s)
	}

	s.parser = jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.clock.Now),
		jwt.WithExpirationRequired(),
		jwt.WithStrictDecoding(),
	)
	return s, nil
}

// TTL はトークンの有効期間を返す。
func (s *Service) TTL() time.Duration {
	return s.ttl
}

// Issue はsubjectに対するトークンを発行する。
// issuedAt は現在時刻、expiresAt は現在時刻+TTL（いずれも秒精度）となる。
func (s *Service) Issue(subject string) (Token, error) {
	if subject == "" {
		return Token{}, autherr.Wrap(component, autherr.ErrMalformed, "reason", "empty subject")
	}

	now := s.clock.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return Token{}, errors.Join(errors.New("トークンの署名に失敗"), err)
	}

	return Token{
		Raw:       signed,
		Subject:   subject,
		IssuedAt:  claims.IssuedAt.Time,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

// Verify はトークンを検証し、成功した場合はsubjectを返す。
//
// 失敗時は次のいずれかの番兵エラーをラップして返す。
//   - autherr.ErrMalformed: 3セグメント構造として解析できない、または必須クレームが無い
//   - autherr.ErrInvalidSignature: 署名が再計算した値と一致しない
//   - autherr.ErrExpired: 現在時刻が expiresAt 以降
func (s *Service) Verify(raw string) (string, error) {
	claims := &Claims{}
	_, err := s.parser.ParseWithClaims(raw, claims, func(_ *jwt.Token) (any, error) {
		return s.secret, nil
	})

	switch {
	case err == nil:
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return "", autherr.Wrapf(component, autherr.ErrInvalidSignature, err)
	case errors.Is(err, jwt.ErrTokenMalformed):
		if signatureSegmentUndecodable(raw) {
			return "", autherr.Wrapf(component, autherr.ErrInvalidSignature, err)
		}
		return "", autherr.Wrapf(component, autherr.ErrMalformed, err)
	case errors.Is(err, jwt.ErrTokenExpired):
		return "", autherr.Wrapf(component, autherr.ErrExpired, err, "subject", claims.Subject)
	default:
		return "", autherr.Wrapf(component, autherr.ErrMalformed, err)
	}

	if claims.Subject == "" {
		return "", autherr.Wrap(component, autherr.ErrMalformed, "reason", "missing subject")
	}
	return claims.Subject, nil
}

// signatureSegmentUndecodable はヘッダーとペイロードは解析できるが、
// 署名セグメントだけがデコードできない場合にtrueを返す。
// 署名セグメントの改ざんは署名不一致として扱う。
func signatureSegmentUndecodable(raw string) bool {
	if strings.Count(raw, ".") != 2 {
		return false
	}
	_, _, err := jwt.NewParser().ParseUnverified(raw, &Claims{})
	return err == nil
}
