package model

import "time"

// Booking はユーザーによる車両予約を表す。
// クライアント側から削除されることはなく、キャンセルはバックエンドへの状態遷移依頼である。
type Booking struct {
	ID        FlexID        `json:"_id"`
	VehicleID FlexID        `json:"vehicleId"`
	UserEmail string        `json:"userEmail"`
	Status    BookingStatus `json:"status"`
	BookedAt  time.Time     `json:"bookedAt"`

	// Vehicle はバックエンドがmy-bookings応答に埋め込む車両スナップショット。
	// 一覧表示用であり、nilの場合もある。
	Vehicle *Vehicle `json:"vehicle,omitempty"`
}

// BookingStatus は予約の状態を表す。
type BookingStatus string

const (
	// BookingStatusActive は有効な予約。
	BookingStatusActive BookingStatus = "Active"
	// BookingStatusCancelled はキャンセル済みの予約。
	BookingStatusCancelled BookingStatus = "Cancelled"
)

// TargetVehicleID は予約対象の車両識別子を返す。
// バックエンドの応答形式によってはvehicleIdが空で、埋め込み車両側にのみ
// 識別子が載ることがあるため、両方を順に参照する。
func (b *Booking) TargetVehicleID() FlexID {
	if !b.VehicleID.IsZero() {
		return b.VehicleID
	}
	if b.Vehicle != nil {
		return b.Vehicle.ID
	}
	return ""
}
