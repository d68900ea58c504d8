// Package gateway はエッジゲートウェイの内部実装を提供する。
//
// 外部からアクセス可能な唯一の入口として、リクエストパスの最長一致で
// ルートを選び、先頭のパスセグメントを取り除いてから所有サービスへ転送する。
// ゲートウェイ自身は認証を行わない。認証は転送先サービスの責務である。
// クロスオリジンポリシーはルートに関係なく一律に適用する。
package gateway
