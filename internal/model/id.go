package model

import (
	"encoding/json"
	"fmt"
)

// FlexID はバックエンド由来の識別子を表す。
// バックエンドは識別子をJSON文字列または数値のどちらでも返すことがあるため、
// デコード時に必ず文字列へ正規化する。識別子の比較は常に正規化後の文字列同士で行い、
// 型の揺れによる不一致を防ぐ。
type FlexID string

// UnmarshalJSON は文字列・数値のどちらの表現も受け付ける。
func (id *FlexID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*id = FlexID(s)
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(data, &n); err == nil {
		*id = FlexID(n.String())
		return nil
	}

	return fmt.Errorf("識別子のデコードに失敗しました: %s", string(data))
}

// String は正規化された文字列表現を返す。
func (id FlexID) String() string {
	return string(id)
}

// IsZero は識別子が未設定かどうかを返す。
func (id FlexID) IsZero() bool {
	return id == ""
}
