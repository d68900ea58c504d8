package redisstore

import (
	"fmt"

	"github.com/google/uuid"
)

// defaultKeyPrefix は全キーに付与する既定の接頭辞。
const defaultKeyPrefix = "edgeauth"

// accountKey はユーザー名に対応するアカウントJSONのキーを返す。
// ユーザー名の一意性はこのキーへの SETNX で保証する。
func accountKey(prefix, username string) string {
	return fmt.Sprintf("%s:account:%s", prefix, username)
}

// idIndexKey はアカウントID → ユーザー名の索引キーを返す。
func idIndexKey(prefix string, id uuid.UUID) string {
	return fmt.Sprintf("%s:idx:account_id:%s", prefix, id)
}
