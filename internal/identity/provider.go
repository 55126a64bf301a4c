// Package identity は外部IDプロバイダーとの通信を提供する。
// メール/パスワード認証、OAuth形式の対話型サインイン、状態変更通知を含む。
package identity

import (
	"context"

	"github.com/kentaro/rentway/internal/model"
)

// Provider は外部IDプロバイダーのインターフェース。
// セッション層はこの抽象のみに依存し、プロバイダーの実装詳細を知らない。
type Provider interface {
	// CreateAccount はメール/パスワードでアカウントを作成する。
	// 成功時は変更通知経由でAuthenticated遷移が発火する。
	CreateAccount(ctx context.Context, email, password string) (*model.Identity, error)

	// SignIn はメール/パスワードでサインインする。
	// パスワード誤りとユーザー未登録はWrongCredentialsに集約される。
	SignIn(ctx context.Context, email, password string) (*model.Identity, error)

	// BeginInteractiveSignIn は対話型サインインの認可URLを生成する。
	// stateはコールバック検証用のトークン。
	BeginInteractiveSignIn(state string) string

	// CompleteInteractiveSignIn はコールバックで受け取った認可コードを交換する。
	// ユーザーがフローを中断した場合、errParamにaccess_deniedが入る。
	CompleteInteractiveSignIn(ctx context.Context, code, errParam string) (*model.Identity, error)

	// SignOut はサインアウトを要求する。
	// 後続の変更通知でidentityがクリアされる。
	SignOut(ctx context.Context) error

	// SendPasswordReset はパスワードリセットメールの送信を要求する。
	SendPasswordReset(ctx context.Context, email string) error

	// UpdateProfile は表示名とフォトURLを更新する。
	// 成功時は新しいスナップショットへ丸ごと差し替えられる。
	UpdateProfile(ctx context.Context, displayName, photoURL string) (*model.Identity, error)

	// OnStateChange は状態変更の通知リスナーを登録し、解除関数を返す。
	// 通知は起動時に最低1回、以後サインイン/サインアウトごとに発火する。
	OnStateChange(listener func(*model.Identity)) (unsubscribe func())

	// Start は変更通知の配送を開始し、初期状態を通知する。
	Start(ctx context.Context)
}
