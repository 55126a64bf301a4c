package model

import "time"

// Vehicle は貸し出し対象の車両リスティングを表す。
// バックエンドがシステムオブレコードであり、クライアント側はキャッシュコピーのみを保持する。
type Vehicle struct {
	ID            FlexID       `json:"_id"`
	VehicleName   string       `json:"vehicleName"`
	OwnerName     string       `json:"owner"`
	OwnerEmail    string       `json:"userEmail"`
	PricePerDay   float64      `json:"pricePerDay"`
	Category      Category     `json:"category"`
	Location      string       `json:"location"`
	Description   string       `json:"description"`
	Availability  Availability `json:"availability"`
	CoverImageURL string       `json:"coverImage"`
	CreatedAt     time.Time    `json:"createdAt"`
}

// Category は車両カテゴリを表す。
type Category string

const (
	// CategorySedan はセダン。
	CategorySedan Category = "Sedan"
	// CategorySUV はSUV。
	CategorySUV Category = "SUV"
	// CategoryElectric は電気自動車。
	CategoryElectric Category = "Electric"
	// CategoryVan はバン。
	CategoryVan Category = "Van"
)

// ValidCategory はカテゴリが定義済みのいずれかであるかを返す。
func ValidCategory(c Category) bool {
	switch c {
	case CategorySedan, CategorySUV, CategoryElectric, CategoryVan:
		return true
	default:
		return false
	}
}

// Availability は車両の貸し出し可否を表す。
type Availability string

const (
	// AvailabilityAvailable は貸し出し可能な状態。
	AvailabilityAvailable Availability = "Available"
	// AvailabilityBooked は予約済みの状態。
	AvailabilityBooked Availability = "Booked"
)
