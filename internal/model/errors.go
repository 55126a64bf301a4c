// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, booking, vehicle, network, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeWrongCredentials     = "WRONG_CREDENTIALS"
	ErrCodeEmailAlreadyInUse    = "EMAIL_ALREADY_IN_USE"
	ErrCodePopupClosedByUser    = "POPUP_CLOSED_BY_USER"
	ErrCodeProviderError        = "PROVIDER_ERROR"
	ErrCodeNetworkError         = "NETWORK_ERROR"
	ErrCodeValidation           = "VALIDATION_ERROR"
	ErrCodeImageUploadFailed    = "IMAGE_UPLOAD_FAILED"
	ErrCodeBookingFailed        = "BOOKING_FAILED"
	ErrCodeVehicleNotFound      = "VEHICLE_NOT_FOUND"
	ErrCodeBookingNotFound      = "BOOKING_NOT_FOUND"
	ErrCodeUnauthorized         = "UNAUTHORIZED"
	ErrCodeConfirmationRequired = "CONFIRMATION_REQUIRED"
)

// NewWrongCredentialsError は認証失敗エラーを生成する。
// パスワード誤りとユーザー未登録は意図的に区別せず、1つのメッセージに集約する。
func NewWrongCredentialsError() *APIError {
	return &APIError{
		Code:     ErrCodeWrongCredentials,
		Message:  "メールアドレスまたはパスワードが正しくありません。",
		Category: "auth",
		Action:   "入力内容を確認して再度お試しください。",
	}
}

// NewEmailAlreadyInUseError はメールアドレス重複エラーを生成する。
func NewEmailAlreadyInUseError() *APIError {
	return &APIError{
		Code:     ErrCodeEmailAlreadyInUse,
		Message:  "このメールアドレスは既に登録されています。",
		Category: "auth",
		Action:   "別のメールアドレスを使用するか、ログインしてください。",
	}
}

// NewPopupClosedByUserError は対話型サインインの中断エラーを生成する。
func NewPopupClosedByUserError() *APIError {
	return &APIError{
		Code:     ErrCodePopupClosedByUser,
		Message:  "サインインがキャンセルされました。",
		Category: "auth",
		Action:   "もう一度サインインをお試しください。",
	}
}

// NewProviderError はIDプロバイダー側の障害エラーを生成する。
func NewProviderError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeProviderError,
		Message:  fmt.Sprintf("認証サービスでエラーが発生しました: %s", reason),
		Category: "auth",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewNetworkError は通信エラーを生成する。
func NewNetworkError() *APIError {
	return &APIError{
		Code:     ErrCodeNetworkError,
		Message:  "サーバーとの通信に失敗しました。",
		Category: "network",
		Action:   "ネットワーク接続を確認して再度お試しください。",
	}
}

// NewValidationError は入力値検証エラーを生成する。
func NewValidationError(field, reason string) *APIError {
	return &APIError{
		Code:     ErrCodeValidation,
		Message:  fmt.Sprintf("%s: %s", field, reason),
		Category: "validation",
		Action:   "入力内容を修正して再度お試しください。",
	}
}

// NewImageUploadFailedError は画像アップロード失敗エラーを生成する。
func NewImageUploadFailedError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeImageUploadFailed,
		Message:  fmt.Sprintf("画像のアップロードに失敗しました: %s", reason),
		Category: "vehicle",
		Action:   "画像ファイルを確認して再度お試しください。",
	}
}

// NewBookingFailedError は予約失敗エラーを生成する。
// バックエンドが返した理由をそのまま含める。
func NewBookingFailedError(reason string) *APIError {
	if reason == "" {
		reason = "不明なエラー"
	}
	return &APIError{
		Code:     ErrCodeBookingFailed,
		Message:  fmt.Sprintf("予約に失敗しました: %s", reason),
		Category: "booking",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewVehicleNotFoundError は車両未検出エラーを生成する。
func NewVehicleNotFoundError(vehicleID string) *APIError {
	return &APIError{
		Code:     ErrCodeVehicleNotFound,
		Message:  fmt.Sprintf("指定された車両が見つかりません: %s", vehicleID),
		Category: "vehicle",
		Action:   "車両一覧から選び直してください。",
	}
}

// NewBookingNotFoundError は予約未検出エラーを生成する。
func NewBookingNotFoundError(bookingID string) *APIError {
	return &APIError{
		Code:     ErrCodeBookingNotFound,
		Message:  fmt.Sprintf("指定された予約が見つかりません: %s", bookingID),
		Category: "booking",
		Action:   "予約一覧を確認してください。",
	}
}

// NewUnauthorizedError は未認証エラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "認証が必要です。",
		Category: "auth",
		Action:   "ログインしてください。",
	}
}

// NewConfirmationRequiredError は確認ステップ未通過エラーを生成する。
func NewConfirmationRequiredError(operation string) *APIError {
	return &APIError{
		Code:     ErrCodeConfirmationRequired,
		Message:  fmt.Sprintf("%sには確認が必要です。", operation),
		Category: "validation",
		Action:   "確認ステップを完了してから再度実行してください。",
	}
}
