package gateway

import (
	"cmp"
	"fmt"
	"path"
	"slices"
	"strings"
)

// Route はパスプレフィックスと転送先サービスの対応。
type Route struct {
	// Prefix は一致させるパスプレフィックス。セグメント単位で比較する。
	Prefix string `koanf:"prefix"`
	// Strip は転送前に取り除く先頭パスセグメントの数。
	Strip int `koanf:"strip"`
	// Service は転送先サービスの論理名。
	Service string `koanf:"service"`
}

// Matches はパスがプレフィックスにセグメント単位で一致するかを返す。
// "/api/user" は "/api/user" と "/api/user/..." に一致し、"/api/username" には一致しない。
func (r Route) Matches(path string) bool {
	if r.Prefix == "/" {
		return strings.HasPrefix(path, "/")
	}
	if !strings.HasPrefix(path, r.Prefix) {
		return false
	}
	rest := path[len(r.Prefix):]
	return rest == "" || rest[0] == '/'
}

// Rewrite は先頭 Strip 個のセグメントを取り除いた転送先パスを返す。
func (r Route) Rewrite(path string) string {
	return StripSegments(path, r.Strip)
}

// CleanPath は "." と ".." を解決し、連続するスラッシュをまとめたパスを返す。
// 末尾のスラッシュは保持する。ルートより上に出る ".." はルートで止まる。
func CleanPath(p string) string {
	if p == "" {
		return "/"
	}
	cleaned := path.Clean("/" + p)
	if cleaned != "/" && strings.HasSuffix(p, "/") {
		cleaned += "/"
	}
	return cleaned
}

// StripSegments はパスの先頭n個のセグメントを取り除く。
// 空のセグメントは数えない。末尾のスラッシュは保持し、すべて取り除いた場合は "/" を返す。
func StripSegments(path string, n int) string {
	if n <= 0 {
		return path
	}

	segments := strings.FieldsFunc(path, func(r rune) bool { return r == '/' })
	if n >= len(segments) {
		return "/"
	}

	stripped := "/" + strings.Join(segments[n:], "/")
	if strings.HasSuffix(path, "/") {
		stripped += "/"
	}
	return stripped
}

// validate はルート定義の妥当性を検査し、プレフィックスを正規化したルートを返す。
func (r Route) validate() (Route, error) {
	if !strings.HasPrefix(r.Prefix, "/") {
		return r, fmt.Errorf("プレフィックスは / で始まる必要があります: %q", r.Prefix)
	}
	if r.Strip < 0 {
		return r, fmt.Errorf("strip は0以上である必要があります: prefix=%s, strip=%d", r.Prefix, r.Strip)
	}
	if r.Service == "" {
		return r, fmt.Errorf("転送先サービスが指定されていません: prefix=%s", r.Prefix)
	}
	if r.Prefix != "/" {
		r.Prefix = strings.TrimRight(r.Prefix, "/")
		if r.Prefix == "" {
			r.Prefix = "/"
		}
	}
	return r, nil
}

// Table は起動時に確定し、実行中は変更されないルート表。
type Table struct {
	routes []Route
}

// NewTable はルート表を生成する。ルートはプレフィックスの長い順に並べ替える。
func NewTable(routes []Route) (*Table, error) {
	normalized := make([]Route, 0, len(routes))
	seen := make(map[string]struct{}, len(routes))
	for _, r := range routes {
		v, err := r.validate()
		if err != nil {
			return nil, err
		}
		if _, dup := seen[v.Prefix]; dup {
			return nil, fmt.Errorf("プレフィックスが重複しています: %s", v.Prefix)
		}
		seen[v.Prefix] = struct{}{}
		normalized = append(normalized, v)
	}

	slices.SortStableFunc(normalized, func(a, b Route) int {
		return cmp.Compare(len(b.Prefix), len(a.Prefix))
	})
	return &Table{routes: normalized}, nil
}

// Match はパスに最長一致するルートを返す。
func (t *Table) Match(path string) (Route, bool) {
	for _, r := range t.routes {
		if r.Matches(path) {
			return r, true
		}
	}
	return Route{}, false
}

// Routes は照合順に並んだルートのコピーを返す。
func (t *Table) Routes() []Route {
	return slices.Clone(t.routes)
}
