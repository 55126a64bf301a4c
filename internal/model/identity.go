// Package model はドメインモデルを定義する。
package model

import "strings"

// Identity は外部IDプロバイダーが発行した認証済みユーザーのスナップショットを表す。
// プロバイダーの変更通知ごとに丸ごと差し替えられ、フィールド単位で書き換えられることはない。
type Identity struct {
	UID         string
	Email       string
	DisplayName string
	PhotoURL    string
}

// OwnerName は車両リスティングに表示する所有者名を返す。
// DisplayNameが未設定の場合はメールアドレスのローカル部にフォールバックする。
func (i *Identity) OwnerName() string {
	if i.DisplayName != "" {
		return i.DisplayName
	}
	if at := strings.Index(i.Email, "@"); at > 0 {
		return i.Email[:at]
	}
	return i.Email
}
