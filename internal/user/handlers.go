package user

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/nao1215/edgeauth/pkg/account"
	"github.com/nao1215/edgeauth/pkg/autherr"
	"github.com/nao1215/edgeauth/pkg/middleware"
)

// msgInvalidCredentials はユーザー不在とパスワード不一致で共通のログイン失敗メッセージ。
const msgInvalidCredentials = "Invalid credentials"

// signupRequest はサインアップリクエストのJSON構造。
type signupRequest struct {
	// Username はユーザー名。
	Username string `json:"username" validate:"required,min=4,max=50"`
	// Password はパスワード。
	Password string `json:"password" validate:"required,min=6,max=512"`
	// Email はメールアドレス。
	Email string `json:"email" validate:"omitempty,email"`
	// Country は国名または国コード。
	Country string `json:"country" validate:"omitempty,max=64"`
}

// loginRequest はログインリクエストのJSON構造。
type loginRequest struct {
	// Username はユーザー名。
	Username string `json:"username" validate:"required"`
	// Password はパスワード。
	Password string `json:"password" validate:"required"`
}

// changePasswordRequest はパスワード変更リクエストのJSON構造。
type changePasswordRequest struct {
	// CurrentPassword は現在のパスワード。
	CurrentPassword string `json:"current_password" validate:"required"`
	// NewPassword は新しいパスワード。
	NewPassword string `json:"new_password" validate:"required,min=6,max=512"`
}

// accountResponse はアカウントのJSONレスポンス構造。パスワードハッシュは含めない。
type accountResponse struct {
	// ID はアカウントの一意識別子。
	ID string `json:"id"`
	// Username はユーザー名。
	Username string `json:"username"`
	// Provider は作成方式。
	Provider string `json:"provider"`
	// Email はメールアドレス。
	Email string `json:"email,omitempty"`
	// DisplayName は表示名。
	DisplayName string `json:"display_name,omitempty"`
	// Country は国名または国コード。
	Country string `json:"country,omitempty"`
	// CreatedAt は作成日時。
	CreatedAt string `json:"created_at"`
}

// toAccountResponse はアカウントをJSONレスポンスに変換する。
func toAccountResponse(a *account.Account) accountResponse {
	return accountResponse{
		ID:          a.ID.String(),
		Username:    a.Username,
		Provider:    string(a.Provider),
		Email:       a.Email,
		DisplayName: a.DisplayName,
		Country:     a.Country,
		CreatedAt:   a.CreatedAt.Format(time.RFC3339),
	}
}

// bindAndValidate はJSONボディを読み取って検証する。
// 失敗した場合は400を返してfalseを返す。
func bindAndValidate(c *gin.Context, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "リクエストボディが不正です"})
		return false
	}
	fields, err := validateRequest(req)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "リクエストボディが不正です"})
		return false
	}
	if fields != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "入力内容に誤りがあります", "fields": fields})
		return false
	}
	return true
}

// handleSignup はパスワードによるアカウント登録を処理するハンドラを返す。
func (s *Server) handleSignup() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req signupRequest
		if !bindAndValidate(c, &req) {
			return
		}

		hash, err := s.verifier.HashPassword(c.Request.Context(), req.Password)
		if err != nil {
			s.logger.Error("パスワードのハッシュ化に失敗", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "アカウントの作成に失敗しました"})
			return
		}

		a := account.New(req.Username, hash, account.ProviderLocal)
		a.Email = req.Email
		a.Country = req.Country
		if err := s.store.Create(c.Request.Context(), a); err != nil {
			if errors.Is(err, autherr.ErrUsernameTaken) {
				c.JSON(http.StatusConflict, gin.H{"error": autherr.ErrUsernameTaken.Error()})
				return
			}
			s.logger.Error("アカウントの作成に失敗", zap.String("username", req.Username), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "アカウントの作成に失敗しました"})
			return
		}

		s.logger.Info("アカウントを作成しました", zap.String("username", a.Username))
		c.JSON(http.StatusCreated, toAccountResponse(a))
	}
}

// handleLogin はパスワードによるログインを処理するハンドラを返す。
// ユーザーが存在しない場合とパスワードが一致しない場合は同じ応答を返す。
func (s *Server) handleLogin() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req loginRequest
		if !bindAndValidate(c, &req) {
			return
		}

		a, err := s.verifier.Verify(c.Request.Context(), req.Username, req.Password)
		if err != nil {
			if errors.Is(err, autherr.ErrAccountNotFound) || errors.Is(err, autherr.ErrInvalidCredentials) {
				s.logins.WithLabelValues(resultInvalidCredentials).Inc()
				s.logger.Info("ログインに失敗",
					zap.String("username", req.Username),
					zap.String("code", autherr.Code(err)),
				)
				c.JSON(http.StatusUnauthorized, gin.H{"error": msgInvalidCredentials})
				return
			}
			s.logins.WithLabelValues(resultError).Inc()
			s.logger.Error("ログイン処理でエラーが発生", zap.String("username", req.Username), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "内部サーバーエラーが発生しました"})
			return
		}

		tok, err := s.tokens.Issue(a.Username)
		if err != nil {
			s.logins.WithLabelValues(resultError).Inc()
			s.logger.Error("トークンの発行に失敗", zap.String("username", a.Username), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "内部サーバーエラーが発生しました"})
			return
		}

		s.logins.WithLabelValues(resultSuccess).Inc()
		c.JSON(http.StatusOK, gin.H{
			"token":      tok.Raw,
			"expires_at": tok.ExpiresAt.Format(time.RFC3339),
		})
	}
}

// handleHello は認証済みユーザー向けの挨拶を返すハンドラを返す。
func (s *Server) handleHello() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, _ := middleware.CurrentIdentity(c)
		c.JSON(http.StatusOK, gin.H{"message": "Hello, this is a protected route!", "username": id.Username})
	}
}

// handleWorld は認証済みユーザー向けの挨拶を返すハンドラを返す。
func (s *Server) handleWorld() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, _ := middleware.CurrentIdentity(c)
		c.JSON(http.StatusOK, gin.H{"message": "World, you are authenticated!", "username": id.Username})
	}
}

// handleProfile は認証済みユーザーのアカウント情報を返すハンドラを返す。
func (s *Server) handleProfile() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, _ := middleware.CurrentIdentity(c)

		a, err := s.store.FindByUsername(c.Request.Context(), id.Username)
		if err != nil {
			if errors.Is(err, autherr.ErrAccountNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": autherr.ErrAccountNotFound.Error()})
				return
			}
			s.logger.Error("アカウントの取得に失敗", zap.String("username", id.Username), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "アカウントの取得に失敗しました"})
			return
		}
		c.JSON(http.StatusOK, toAccountResponse(a))
	}
}

// handleChangePassword は現在のパスワードを確認してパスワードを変更するハンドラを返す。
func (s *Server) handleChangePassword() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, _ := middleware.CurrentIdentity(c)

		var req changePasswordRequest
		if !bindAndValidate(c, &req) {
			return
		}

		err := s.verifier.ChangePassword(c.Request.Context(), id.Username, req.CurrentPassword, req.NewPassword)
		switch {
		case err == nil:
			c.Status(http.StatusNoContent)
		case errors.Is(err, autherr.ErrInvalidCredentials), errors.Is(err, autherr.ErrAccountNotFound):
			// 認証済みだが現在のパスワードが一致しない
			c.JSON(http.StatusForbidden, gin.H{"error": msgInvalidCredentials})
		default:
			s.logger.Error("パスワードの変更に失敗", zap.String("username", id.Username), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "パスワードの変更に失敗しました"})
		}
	}
}
