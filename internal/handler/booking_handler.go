package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kentaro/rentway/internal/booking"
	"github.com/kentaro/rentway/internal/middleware"
	"github.com/kentaro/rentway/internal/model"
	"github.com/kentaro/rentway/internal/session"
)

// BookingServiceInterface は予約ハンドラーが必要とする調整層のインターフェース。
// booking.Coordinatorの部分集合として定義する。
type BookingServiceInterface interface {
	// Book は予約を作成する。
	Book(ctx context.Context, ident *model.Identity, vehicleID model.FlexID) (*model.Booking, error)
	// ProposeCancel はキャンセルの確認ステップを開始し、確認トークンを返す。
	ProposeCancel(ctx context.Context, ident *model.Identity, bookingID model.FlexID) (string, error)
	// ConfirmCancel は確認トークンを検証してキャンセルを実行する。
	ConfirmCancel(ctx context.Context, ident *model.Identity, token string) error
}

// BookingReaderInterface は予約一覧の読み取りインターフェース。
type BookingReaderInterface interface {
	MyBookings(ctx context.Context, userEmail string) ([]model.Booking, error)
}

// SnapshotReader はセッション状態の読み取りインターフェース。
// 予約可否の判定は認証を強制しないため、ミドルウェアを経由せず
// セッション状態を直接参照する。
type SnapshotReader interface {
	Snapshot() session.Snapshot
}

// BookingHandler は予約管理のHTTPハンドラー。
type BookingHandler struct {
	service BookingServiceInterface
	reader  BookingReaderInterface
	sess    SnapshotReader
}

// NewBookingHandler はBookingHandlerを生成する。
func NewBookingHandler(service BookingServiceInterface, reader BookingReaderInterface, sess SnapshotReader) *BookingHandler {
	return &BookingHandler{
		service: service,
		reader:  reader,
		sess:    sess,
	}
}

// bookingResponse は予約情報のAPIレスポンス。
type bookingResponse struct {
	ID        string           `json:"id"`
	VehicleID string           `json:"vehicleId"`
	Status    string           `json:"status"`
	BookedAt  time.Time        `json:"bookedAt"`
	Vehicle   *vehicleResponse `json:"vehicle,omitempty"`
}

// createBookingRequest は予約作成リクエストのボディ。
type createBookingRequest struct {
	VehicleID model.FlexID `json:"vehicleId"`
}

// confirmCancelRequest はキャンセル確認リクエストのボディ。
type confirmCancelRequest struct {
	ConfirmToken string `json:"confirmToken"`
}

// toBookingResponse はmodel.BookingからAPIレスポンスに変換する。
func toBookingResponse(b *model.Booking) bookingResponse {
	resp := bookingResponse{
		ID:        b.ID.String(),
		VehicleID: b.TargetVehicleID().String(),
		Status:    string(b.Status),
		BookedAt:  b.BookedAt,
	}
	if b.Vehicle != nil {
		v := toVehicleResponse(b.Vehicle)
		resp.Vehicle = &v
	}
	return resp
}

// MyBookings は認証済みユーザーの予約一覧を取得する。
// GET /api/my-bookings
func (h *BookingHandler) MyBookings(w http.ResponseWriter, r *http.Request) {
	ident, err := middleware.IdentityFromContext(r.Context())
	if err != nil {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	bookings, err := h.reader.MyBookings(r.Context(), ident.Email)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	responses := make([]bookingResponse, 0, len(bookings))
	for i := range bookings {
		responses = append(responses, toBookingResponse(&bookings[i]))
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(responses)
}

// Book は予約を作成する。
// POST /api/bookings
func (h *BookingHandler) Book(w http.ResponseWriter, r *http.Request) {
	ident, err := middleware.IdentityFromContext(r.Context())
	if err != nil {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	var req createBookingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidRequestBody(w)
		return
	}
	if req.VehicleID.IsZero() {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewValidationError("vehicleId", "予約対象の車両を指定してください"))
		return
	}

	created, err := h.service.Book(r.Context(), ident, req.VehicleID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(toBookingResponse(created))
}

// ProposeCancel はキャンセルの確認ステップを開始する。
// POST /api/bookings/:id/cancel
func (h *BookingHandler) ProposeCancel(w http.ResponseWriter, r *http.Request) {
	ident, err := middleware.IdentityFromContext(r.Context())
	if err != nil {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	bookingID := model.FlexID(chi.URLParam(r, "id"))

	token, err := h.service.ProposeCancel(r.Context(), ident, bookingID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"confirmToken": token,
	})
}

// ConfirmCancel は確認トークンを検証してキャンセルを実行する。
// POST /api/bookings/cancel/confirm
func (h *BookingHandler) ConfirmCancel(w http.ResponseWriter, r *http.Request) {
	ident, err := middleware.IdentityFromContext(r.Context())
	if err != nil {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	var req confirmCancelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidRequestBody(w)
		return
	}

	if err := h.service.ConfirmCancel(r.Context(), ident, req.ConfirmToken); err != nil {
		handleServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Eligibility は指定車両の予約可否を返す。
// GET /api/vehicles/:id/eligibility
//
// 未認証でも呼び出せる。未認証の場合はrequires_loginを返し、
// クライアントはログイン導線を表示する。
func (h *BookingHandler) Eligibility(w http.ResponseWriter, r *http.Request) {
	vehicleID := model.FlexID(chi.URLParam(r, "id"))
	ident := h.sess.Snapshot().Identity

	var myBookings []model.Booking
	if ident != nil {
		bookings, err := h.reader.MyBookings(r.Context(), ident.Email)
		if err != nil {
			handleServiceError(w, err)
			return
		}
		myBookings = bookings
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"eligibility": string(booking.CanBook(ident, vehicleID, myBookings)),
	})
}
