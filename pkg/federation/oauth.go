package federation

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/nao1215/edgeauth/pkg/account"
	"github.com/nao1215/edgeauth/pkg/httpclient"
)

// ErrProvider はIDプロバイダーとの通信や応答内容に問題があったことを表す。
var ErrProvider = errors.New("IDプロバイダーからの応答が不正です")

// ProviderConfig はOAuth2プロバイダーの設定。
type ProviderConfig struct {
	// Name はURLに使うプロバイダー名（google, github）。
	Name string
	// Provider はアカウントに記録するプロバイダータグ。
	Provider account.Provider
	// ClientID はOAuth2クライアントID。
	ClientID string
	// ClientSecret はOAuth2クライアントシークレット。
	ClientSecret string
	// RedirectURL は認可後に戻るコールバックURL。
	RedirectURL string
	// AuthURL は認可エンドポイント。
	AuthURL string
	// TokenURL はトークンエンドポイント。
	TokenURL string
	// UserInfoURL はユーザー情報エンドポイント。
	UserInfoURL string
	// EmailsURL はメールアドレス一覧のエンドポイント。GitHubのみ使用する。
	EmailsURL string
	// Scopes は要求するスコープ。
	Scopes []string
}

// Enabled はクライアントIDが設定されているかを返す。
func (c ProviderConfig) Enabled() bool {
	return c.ClientID != ""
}

// GoogleConfig はGoogleの既定のエンドポイントを持つ設定を返す。
func GoogleConfig(clientID, clientSecret, redirectURL string) ProviderConfig {
	return ProviderConfig{
		Name:         "google",
		Provider:     account.ProviderGoogle,
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURL,
		AuthURL:      "https://accounts.google.com/o/oauth2/v2/auth",
		TokenURL:     "https://oauth2.googleapis.com/token",
		UserInfoURL:  "https://openidconnect.googleapis.com/v1/userinfo",
		Scopes:       []string{"openid", "email", "profile"},
	}
}

// GitHubConfig はGitHubの既定のエンドポイントを持つ設定を返す。
func GitHubConfig(clientID, clientSecret, redirectURL string) ProviderConfig {
	return ProviderConfig{
		Name:         "github",
		Provider:     account.ProviderGitHub,
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURL,
		AuthURL:      "https://github.com/login/oauth/authorize",
		TokenURL:     "https://github.com/login/oauth/access_token",
		UserInfoURL:  "https://api.github.com/user",
		EmailsURL:    "https://api.github.com/user/emails",
		Scopes:       []string{"read:user", "user:email"},
	}
}

// OAuthClient は認可コードフローでプロバイダーから本人情報を取得する。
type OAuthClient struct {
	cfg    ProviderConfig
	client *httpclient.Client
}

// NewOAuthClient は新しいOAuthClientを生成する。
func NewOAuthClient(cfg ProviderConfig, client *httpclient.Client) *OAuthClient {
	if client == nil {
		client = httpclient.New("")
	}
	return &OAuthClient{cfg: cfg, client: client}
}

// Config はプロバイダー設定を返す。
func (c *OAuthClient) Config() ProviderConfig {
	return c.cfg
}

// AuthCodeURL は利用者を送る認可エンドポイントのURLを返す。
func (c *OAuthClient) AuthCodeURL(state string) string {
	q := url.Values{
		"client_id":     {c.cfg.ClientID},
		"redirect_uri":  {c.cfg.RedirectURL},
		"response_type": {"code"},
		"scope":         {strings.Join(c.cfg.Scopes, " ")},
		"state":         {state},
	}
	sep := "?"
	if strings.Contains(c.cfg.AuthURL, "?") {
		sep = "&"
	}
	return c.cfg.AuthURL + sep + q.Encode()
}

// tokenResponse はトークンエンドポイントの応答。
type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	Error       string `json:"error"`
}

// Exchange は認可コードをアクセストークンに交換する。
func (c *OAuthClient) Exchange(ctx context.Context, code string) (string, error) {
	form := url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"redirect_uri":  {c.cfg.RedirectURL},
		"client_id":     {c.cfg.ClientID},
		"client_secret": {c.cfg.ClientSecret},
	}

	var res tokenResponse
	if err := c.client.PostForm(ctx, c.cfg.TokenURL, form, &res); err != nil {
		return "", fmt.Errorf("%w: トークン交換に失敗: %w", ErrProvider, err)
	}
	// GitHubはエラーでも200を返すことがある
	if res.Error != "" || res.AccessToken == "" {
		return "", fmt.Errorf("%w: アクセストークンがありません: %s", ErrProvider, res.Error)
	}
	return res.AccessToken, nil
}

// userInfo はユーザー情報エンドポイントの応答。GoogleとGitHubの両方の項目を持つ。
type userInfo struct {
	Email         string `json:"email"`
	EmailVerified *bool  `json:"email_verified"`
	Name          string `json:"name"`
	Login         string `json:"login"`
}

// githubEmail はGitHubのメールアドレス一覧の要素。
type githubEmail struct {
	Email    string `json:"email"`
	Primary  bool   `json:"primary"`
	Verified bool   `json:"verified"`
}

// FetchAssertion はアクセストークンでユーザー情報を取得し、本人情報に変換する。
func (c *OAuthClient) FetchAssertion(ctx context.Context, accessToken string) (Assertion, error) {
	ctx = httpclient.WithBearerToken(ctx, accessToken)

	var info userInfo
	if err := c.client.GetJSON(ctx, c.cfg.UserInfoURL, &info); err != nil {
		return Assertion{}, fmt.Errorf("%w: ユーザー情報の取得に失敗: %w", ErrProvider, err)
	}
	if info.EmailVerified != nil && !*info.EmailVerified {
		return Assertion{}, fmt.Errorf("%w: メールアドレスが未検証です", ErrProvider)
	}

	email := info.Email
	if email == "" && c.cfg.EmailsURL != "" {
		var emails []githubEmail
		if err := c.client.GetJSON(ctx, c.cfg.EmailsURL, &emails); err != nil {
			return Assertion{}, fmt.Errorf("%w: メールアドレスの取得に失敗: %w", ErrProvider, err)
		}
		for _, e := range emails {
			if e.Primary && e.Verified {
				email = e.Email
				break
			}
		}
	}
	if email == "" {
		return Assertion{}, fmt.Errorf("%w: メールアドレスがありません", ErrProvider)
	}

	name := info.Name
	if name == "" {
		name = info.Login
	}
	return Assertion{
		Provider:    c.cfg.Provider,
		Email:       email,
		DisplayName: name,
	}, nil
}
