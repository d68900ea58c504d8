// Package redisstore はRedisにアカウントを保存するストアを提供する。
//
// アカウントはユーザー名をキーにしたJSONとして保存し、IDからユーザー名への索引を別キーに持つ。
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nao1215/edgeauth/pkg/account"
	"github.com/nao1215/edgeauth/pkg/autherr"
)

const component = "account.redis"

// Store はRedisをバックエンドとするアカウントストア。
type Store struct {
	client *redis.Client
	prefix string
	now    func() time.Time
}

var _ account.Store = (*Store)(nil)

// New は設定からRedisに接続してストアを生成する。
func New(ctx context.Context, cfg Config) (*Store, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("Redis URLの解析に失敗: %w", err)
	}
	if cfg.PoolSize > 0 {
		opts.PoolSize = cfg.PoolSize
	}
	if cfg.MinIdleConns > 0 {
		opts.MinIdleConns = cfg.MinIdleConns
	}

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("Redisへの接続確認に失敗: %w", err)
	}

	return NewWithClient(client, cfg.KeyPrefix), nil
}

// NewWithClient は既存のクライアントからストアを生成する。
func NewWithClient(client *redis.Client, prefix string) *Store {
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	return &Store{
		client: client,
		prefix: prefix,
		now:    time.Now,
	}
}

// Close はRedis接続を閉じる。
func (s *Store) Close() error {
	return s.client.Close()
}

// FindByUsername はユーザー名でアカウントを検索する。
func (s *Store) FindByUsername(ctx context.Context, username string) (*account.Account, error) {
	data, err := s.client.Get(ctx, accountKey(s.prefix, username)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, autherr.Wrap(component, autherr.ErrAccountNotFound, "username", username)
		}
		return nil, fmt.Errorf("アカウントの取得に失敗: %w", err)
	}

	var a account.Account
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("アカウントのデコードに失敗: %w", err)
	}
	return &a, nil
}

// createScript はアカウントキーとID索引を1回のスクリプト実行でまとめて書き込む。
// アカウントキーが既に存在する場合は何も書き込まずに0を返す。
var createScript = redis.NewScript(`
if redis.call("SETNX", KEYS[1], ARGV[1]) == 0 then
	return 0
end
redis.call("SET", KEYS[2], ARGV[2])
return 1
`)

// Create は新しいアカウントを保存する。
// アカウントキーとID索引は同じスクリプト内で書き込むため、片方だけが残ることはない。
func (s *Store) Create(ctx context.Context, a *account.Account) error {
	account.StampCreate(a, s.now())
	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("アカウントのエンコードに失敗: %w", err)
	}

	keys := []string{accountKey(s.prefix, a.Username), idIndexKey(s.prefix, a.ID)}
	created, err := createScript.Run(ctx, s.client, keys, data, a.Username).Int()
	if err != nil {
		return fmt.Errorf("アカウントの保存に失敗: %w", err)
	}
	if created == 0 {
		return autherr.Wrap(component, autherr.ErrUsernameTaken, "username", a.Username)
	}
	return nil
}

// Save は既存アカウントを更新する。ユーザー名の変更は扱わない。
func (s *Store) Save(ctx context.Context, a *account.Account) error {
	username, err := s.client.Get(ctx, idIndexKey(s.prefix, a.ID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return autherr.Wrap(component, autherr.ErrAccountNotFound, "id", a.ID.String())
		}
		return fmt.Errorf("ID索引の取得に失敗: %w", err)
	}
	if username != a.Username {
		return autherr.Wrap(component, autherr.ErrAccountNotFound, "id", a.ID.String())
	}

	account.StampUpdate(a, s.now())
	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("アカウントのエンコードに失敗: %w", err)
	}

	updated, err := s.client.SetXX(ctx, accountKey(s.prefix, a.Username), data, 0).Result()
	if err != nil {
		return fmt.Errorf("アカウントの保存に失敗: %w", err)
	}
	if !updated {
		return autherr.Wrap(component, autherr.ErrAccountNotFound, "username", a.Username)
	}
	return nil
}
