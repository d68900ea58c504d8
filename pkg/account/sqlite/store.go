// Package sqlite はSQLiteにアカウントを保存するストアを提供する。
//
// スキーマは埋め込んだマイグレーションファイルで管理し、Open時に未適用分を適用する。
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	sqlitedrv "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/nao1215/edgeauth/pkg/account"
	"github.com/nao1215/edgeauth/pkg/autherr"
	"github.com/nao1215/edgeauth/pkg/migration"
)

const component = "account.sqlite"

//go:embed migrations/*.up.sql
var migrations embed.FS

// timeLayout は日時カラムの保存形式。
const timeLayout = time.RFC3339Nano

// Store はSQLiteをバックエンドとするアカウントストア。
type Store struct {
	db  *sql.DB
	now func() time.Time
}

var _ account.Store = (*Store)(nil)

// Open はデータベースファイルを開き、マイグレーションを適用してストアを返す。
// path に ":memory:" を渡すとインメモリデータベースになる。
func Open(ctx context.Context, path string, logger *zap.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("データベース接続に失敗: %w", err)
	}
	// SQLiteの書き込みは直列化されるため、接続は1本に絞る
	db.SetMaxOpenConns(1)

	if err := migration.Run(ctx, db, migrations, "migrations", logger); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("スキーマ初期化に失敗: %w", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

// Close はデータベース接続を閉じる。
func (s *Store) Close() error {
	return s.db.Close()
}

// FindByUsername はユーザー名でアカウントを検索する。
func (s *Store) FindByUsername(ctx context.Context, username string) (*account.Account, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, username, password_hash, provider, email, display_name, country, created_at, updated_at
		FROM accounts
		WHERE username = ?
	`, username)

	a, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, autherr.Wrap(component, autherr.ErrAccountNotFound, "username", username)
	}
	if err != nil {
		return nil, fmt.Errorf("アカウントの取得に失敗: %w", err)
	}
	return a, nil
}

// Create は新しいアカウントを保存する。
func (s *Store) Create(ctx context.Context, a *account.Account) error {
	account.StampCreate(a, s.now())

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO accounts (id, username, password_hash, provider, email, display_name, country, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		a.ID.String(), a.Username, a.PasswordHash, string(a.Provider),
		a.Email, a.DisplayName, a.Country,
		a.CreatedAt.Format(timeLayout), a.UpdatedAt.Format(timeLayout),
	)
	if isUniqueViolation(err) {
		return autherr.Wrap(component, autherr.ErrUsernameTaken, "username", a.Username)
	}
	if err != nil {
		return fmt.Errorf("アカウントの作成に失敗: %w", err)
	}
	return nil
}

// Save は既存アカウントを更新する。ユーザー名の変更は扱わない。
func (s *Store) Save(ctx context.Context, a *account.Account) error {
	account.StampUpdate(a, s.now())

	res, err := s.db.ExecContext(ctx, `
		UPDATE accounts
		SET password_hash = ?, provider = ?, email = ?, display_name = ?, country = ?, updated_at = ?
		WHERE id = ? AND username = ?
	`,
		a.PasswordHash, string(a.Provider), a.Email, a.DisplayName, a.Country,
		a.UpdatedAt.Format(timeLayout),
		a.ID.String(), a.Username,
	)
	if err != nil {
		return fmt.Errorf("アカウントの更新に失敗: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("更新件数の取得に失敗: %w", err)
	}
	if n == 0 {
		return autherr.Wrap(component, autherr.ErrAccountNotFound, "id", a.ID.String())
	}
	return nil
}

// scanAccount は1行をアカウントに変換する。
func scanAccount(row *sql.Row) (*account.Account, error) {
	var (
		a                    account.Account
		id, provider         string
		createdAt, updatedAt string
	)
	if err := row.Scan(&id, &a.Username, &a.PasswordHash, &provider, &a.Email, &a.DisplayName, &a.Country, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	var err error
	if a.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("IDの解析に失敗: %w", err)
	}
	if a.CreatedAt, err = time.Parse(timeLayout, createdAt); err != nil {
		return nil, fmt.Errorf("作成日時の解析に失敗: %w", err)
	}
	if a.UpdatedAt, err = time.Parse(timeLayout, updatedAt); err != nil {
		return nil, fmt.Errorf("更新日時の解析に失敗: %w", err)
	}
	a.Provider = account.Provider(provider)
	return &a, nil
}

// isUniqueViolation は一意制約違反かどうかを返す。
// INSERTで起こりうる制約違反はユーザー名とIDの一意制約だけなので、拡張コードの有無を問わず制約違反として判定する。
func isUniqueViolation(err error) bool {
	var se *sqlitedrv.Error
	if !errors.As(err, &se) {
		return false
	}
	return se.Code()&0xff == sqlite3.SQLITE_CONSTRAINT
}
