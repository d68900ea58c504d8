// Package migration はSQLiteデータベースのスキーマを前進方向にだけ移行する。
//
// マイグレーションは fs.FS 上の NNNNNN_name.up.sql ファイルで、バージョン番号の
// 昇順に1ファイル1トランザクションで適用する。適用済みのバージョンは
// schema_migrations テーブルに記録し、次回以降はスキップする。
package migration

import (
	"cmp"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"slices"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

const upSuffix = ".up.sql"

// ErrDuplicateVersion は同じバージョン番号のファイルが複数あることを表す。
var ErrDuplicateVersion = errors.New("マイグレーションのバージョンが重複しています")

// Migration は1つのマイグレーションファイル。
type Migration struct {
	// Version はファイル名先頭のバージョン番号。
	Version int
	// Name はバージョン番号と拡張子を除いたファイル名。
	Name string

	path string
}

// Load はディレクトリ内のup.sqlファイルをバージョン順に返す。
// 命名規則に合わないファイルは無視する。
func Load(fsys fs.FS, dir string) ([]Migration, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, err
	}

	var migrations []Migration
	for _, entry := range entries {
		m, ok := parseFileName(entry)
		if !ok {
			continue
		}
		m.path = path.Join(dir, entry.Name())
		migrations = append(migrations, m)
	}

	slices.SortFunc(migrations, func(a, b Migration) int {
		return cmp.Compare(a.Version, b.Version)
	})
	for i := 1; i < len(migrations); i++ {
		if migrations[i].Version == migrations[i-1].Version {
			return nil, fmt.Errorf("%w: %06d (%s, %s)", ErrDuplicateVersion,
				migrations[i].Version, migrations[i-1].Name, migrations[i].Name)
		}
	}
	return migrations, nil
}

func parseFileName(entry fs.DirEntry) (Migration, bool) {
	if entry.IsDir() {
		return Migration{}, false
	}
	base, ok := strings.CutSuffix(entry.Name(), upSuffix)
	if !ok {
		return Migration{}, false
	}
	versionPart, name, ok := strings.Cut(base, "_")
	if !ok {
		return Migration{}, false
	}
	version, err := strconv.Atoi(versionPart)
	if err != nil || version <= 0 {
		return Migration{}, false
	}
	return Migration{Version: version, Name: name}, true
}

// Pending は未適用のマイグレーションを返す。
func Pending(ctx context.Context, db *sql.DB, fsys fs.FS, dir string) ([]Migration, error) {
	if err := ensureVersionTable(ctx, db); err != nil {
		return nil, fmt.Errorf("マイグレーション管理テーブルの作成に失敗: %w", err)
	}
	applied, err := appliedVersions(ctx, db)
	if err != nil {
		return nil, fmt.Errorf("適用済みバージョンの取得に失敗: %w", err)
	}
	all, err := Load(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("マイグレーションファイルの収集に失敗: %w", err)
	}

	return slices.DeleteFunc(all, func(m Migration) bool {
		_, ok := applied[m.Version]
		return ok
	}), nil
}

// Run は未適用のマイグレーションを順番に適用する。
// 途中で失敗した場合、そのファイルの変更は取り消され、以降のファイルは適用しない。
func Run(ctx context.Context, db *sql.DB, fsys fs.FS, dir string, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}

	pending, err := Pending(ctx, db, fsys, dir)
	if err != nil {
		return err
	}
	for _, m := range pending {
		if err := apply(ctx, db, fsys, m); err != nil {
			return fmt.Errorf("マイグレーション %06d_%s の適用に失敗: %w", m.Version, m.Name, err)
		}
		logger.Info("マイグレーションを適用しました",
			zap.Int("version", m.Version),
			zap.String("name", m.Name),
		)
	}
	return nil
}

func ensureVersionTable(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL DEFAULT '',
			applied_at DATETIME NOT NULL DEFAULT (datetime('now'))
		)
	`)
	return err
}

func appliedVersions(ctx context.Context, db *sql.DB) (map[int]struct{}, error) {
	rows, err := db.QueryContext(ctx, "SELECT version FROM schema_migrations")
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	applied := make(map[int]struct{})
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		applied[v] = struct{}{}
	}
	return applied, rows.Err()
}

// apply は1つのマイグレーションをバージョンの記録と同じトランザクションで適用する。
func apply(ctx context.Context, db *sql.DB, fsys fs.FS, m Migration) error {
	script, err := fs.ReadFile(fsys, m.path)
	if err != nil {
		return err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, string(script)); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO schema_migrations (version, name) VALUES (?, ?)", m.Version, m.Name,
	); err != nil {
		return err
	}
	return tx.Commit()
}
