package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kentaro/rentway/internal/api"
	"github.com/kentaro/rentway/internal/middleware"
	"github.com/kentaro/rentway/internal/model"
	"github.com/kentaro/rentway/internal/vehicle"
)

// maxMultipartMemory はmultipartフォーム解析時にメモリへ保持する上限。
const maxMultipartMemory = 10 << 20 // 10MB

// VehicleReaderInterface は車両ハンドラーが必要とする読み取りインターフェース。
// resource.Storeの部分集合として定義する。
type VehicleReaderInterface interface {
	Vehicles(ctx context.Context, q api.VehicleQuery) ([]model.Vehicle, error)
	LatestVehicles(ctx context.Context) ([]model.Vehicle, error)
	Vehicle(ctx context.Context, id model.FlexID) (*model.Vehicle, error)
	MyVehicles(ctx context.Context, ownerEmail string) ([]model.Vehicle, error)
}

// VehicleMutatorInterface は車両ハンドラーが必要とするミューテーションインターフェース。
type VehicleMutatorInterface interface {
	Create(ctx context.Context, ident *model.Identity, draft vehicle.Draft) (*model.Vehicle, error)
	Update(ctx context.Context, ident *model.Identity, id model.FlexID, draft vehicle.Draft) (*model.Vehicle, error)
	Delete(ctx context.Context, ident *model.Identity, id model.FlexID, confirmed bool) error
}

// VehicleHandler は車両リスティングのHTTPハンドラー。
type VehicleHandler struct {
	reader  VehicleReaderInterface
	mutator VehicleMutatorInterface
}

// NewVehicleHandler はVehicleHandlerを生成する。
func NewVehicleHandler(reader VehicleReaderInterface, mutator VehicleMutatorInterface) *VehicleHandler {
	return &VehicleHandler{
		reader:  reader,
		mutator: mutator,
	}
}

// vehicleResponse は車両情報のAPIレスポンス。
type vehicleResponse struct {
	ID           string    `json:"id"`
	VehicleName  string    `json:"vehicleName"`
	Owner        string    `json:"owner"`
	PricePerDay  float64   `json:"pricePerDay"`
	Category     string    `json:"category"`
	Location     string    `json:"location"`
	Description  string    `json:"description"`
	Availability string    `json:"availability"`
	CoverImage   string    `json:"coverImage"`
	CreatedAt    time.Time `json:"createdAt"`
}

// apiErrorResponse は統一エラーフォーマットのレスポンス。
type apiErrorResponse struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Category string `json:"category"`
	Action   string `json:"action"`
}

// ListVehicles は検索条件付きの車両一覧を取得する。
// GET /api/vehicles?search=&category=&location=&sort=
func (h *VehicleHandler) ListVehicles(w http.ResponseWriter, r *http.Request) {
	q := api.VehicleQuery{
		Search:   r.URL.Query().Get("search"),
		Category: r.URL.Query().Get("category"),
		Location: r.URL.Query().Get("location"),
		Sort:     r.URL.Query().Get("sort"),
	}

	vehicles, err := h.reader.Vehicles(r.Context(), q)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeVehicleList(w, vehicles)
}

// LatestVehicles はトップページ向けの最新車両一覧を取得する。
// GET /api/vehicles/latest
func (h *VehicleHandler) LatestVehicles(w http.ResponseWriter, r *http.Request) {
	vehicles, err := h.reader.LatestVehicles(r.Context())
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeVehicleList(w, vehicles)
}

// GetVehicle は単一車両の詳細を取得する。
// GET /api/vehicles/:id
func (h *VehicleHandler) GetVehicle(w http.ResponseWriter, r *http.Request) {
	id := model.FlexID(chi.URLParam(r, "id"))

	v, err := h.reader.Vehicle(r.Context(), id)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(toVehicleResponse(v))
}

// MyVehicles は認証済みユーザーの所有車両一覧を取得する。
// GET /api/my-vehicles
func (h *VehicleHandler) MyVehicles(w http.ResponseWriter, r *http.Request) {
	ident, err := middleware.IdentityFromContext(r.Context())
	if err != nil {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	vehicles, err := h.reader.MyVehicles(r.Context(), ident.Email)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeVehicleList(w, vehicles)
}

// CreateVehicle は車両リスティングを登録する。
// POST /api/vehicles (multipart/form-data)
func (h *VehicleHandler) CreateVehicle(w http.ResponseWriter, r *http.Request) {
	ident, err := middleware.IdentityFromContext(r.Context())
	if err != nil {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	draft, err := parseVehicleForm(r)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	created, err := h.mutator.Create(r.Context(), ident, draft)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(toVehicleResponse(created))
}

// UpdateVehicle は車両リスティングを更新する。
// PUT /api/vehicles/:id (multipart/form-data)
func (h *VehicleHandler) UpdateVehicle(w http.ResponseWriter, r *http.Request) {
	ident, err := middleware.IdentityFromContext(r.Context())
	if err != nil {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	id := model.FlexID(chi.URLParam(r, "id"))

	draft, err := parseVehicleForm(r)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	updated, err := h.mutator.Update(r.Context(), ident, id, draft)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(toVehicleResponse(updated))
}

// DeleteVehicle は車両リスティングを削除する。
// DELETE /api/vehicles/:id?confirmed=true
func (h *VehicleHandler) DeleteVehicle(w http.ResponseWriter, r *http.Request) {
	ident, err := middleware.IdentityFromContext(r.Context())
	if err != nil {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	id := model.FlexID(chi.URLParam(r, "id"))
	confirmed := r.URL.Query().Get("confirmed") == "true"

	if err := h.mutator.Delete(r.Context(), ident, id, confirmed); err != nil {
		handleServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// parseVehicleForm はmultipartフォームからDraftを組み立てる。
// imageパートは任意。更新時に画像を省略すると既存画像が維持される。
func parseVehicleForm(r *http.Request) (vehicle.Draft, error) {
	if err := r.ParseMultipartForm(maxMultipartMemory); err != nil {
		return vehicle.Draft{}, model.NewValidationError("form", "multipart形式のフォームを解析できません")
	}

	price, err := strconv.ParseFloat(r.FormValue("pricePerDay"), 64)
	if err != nil {
		return vehicle.Draft{}, model.NewValidationError("pricePerDay", "数値を指定してください")
	}

	draft := vehicle.Draft{
		VehicleName:   r.FormValue("vehicleName"),
		PricePerDay:   price,
		Category:      model.Category(r.FormValue("category")),
		Location:      r.FormValue("location"),
		Description:   r.FormValue("description"),
		Availability:  model.Availability(r.FormValue("availability")),
		CoverImageURL: r.FormValue("coverImage"),
	}

	file, header, err := r.FormFile("image")
	if err == nil {
		defer file.Close()
		image, readErr := io.ReadAll(file)
		if readErr != nil {
			return vehicle.Draft{}, model.NewValidationError("image", "画像の読み取りに失敗しました")
		}
		draft.Image = image
		draft.ImageFilename = header.Filename
	}

	return draft, nil
}

// --- ヘルパー関数 ---

// toVehicleResponse はmodel.VehicleからAPIレスポンスに変換する。
func toVehicleResponse(v *model.Vehicle) vehicleResponse {
	return vehicleResponse{
		ID:           v.ID.String(),
		VehicleName:  v.VehicleName,
		Owner:        v.OwnerName,
		PricePerDay:  v.PricePerDay,
		Category:     string(v.Category),
		Location:     v.Location,
		Description:  v.Description,
		Availability: string(v.Availability),
		CoverImage:   v.CoverImageURL,
		CreatedAt:    v.CreatedAt,
	}
}

// writeVehicleList は車両一覧のJSONレスポンスを書き込む。
func writeVehicleList(w http.ResponseWriter, vehicles []model.Vehicle) {
	responses := make([]vehicleResponse, 0, len(vehicles))
	for i := range vehicles {
		responses = append(responses, toVehicleResponse(&vehicles[i]))
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(responses)
}

// writeAPIErrorResponse は統一エラーフォーマットでエラーレスポンスを書き込む。
func writeAPIErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(apiErrorResponse{
		Code:     apiErr.Code,
		Message:  apiErr.Message,
		Category: apiErr.Category,
		Action:   apiErr.Action,
	})
}

// handleServiceError はサービス層から返されたエラーを適切なHTTPステータスコードに変換する。
func handleServiceError(w http.ResponseWriter, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		statusCode := mapAPIErrorToHTTPStatus(apiErr)
		writeAPIErrorResponse(w, statusCode, apiErr)
		return
	}

	// APIError以外のエラーは内部サーバーエラーとして扱う
	slog.Error("internal server error", slog.String("error", err.Error()))
	writeAPIErrorResponse(w, http.StatusInternalServerError, &model.APIError{
		Code:     "INTERNAL_ERROR",
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	})
}

// mapAPIErrorToHTTPStatus はAPIErrorコードからHTTPステータスコードにマッピングする。
func mapAPIErrorToHTTPStatus(apiErr *model.APIError) int {
	switch apiErr.Code {
	case model.ErrCodeUnauthorized, model.ErrCodeWrongCredentials:
		return http.StatusUnauthorized
	case model.ErrCodeEmailAlreadyInUse:
		return http.StatusConflict
	case model.ErrCodePopupClosedByUser:
		return http.StatusBadRequest
	case model.ErrCodeValidation, "INVALID_REQUEST":
		return http.StatusBadRequest
	case model.ErrCodeVehicleNotFound, model.ErrCodeBookingNotFound:
		return http.StatusNotFound
	case model.ErrCodeBookingFailed:
		return http.StatusConflict
	case model.ErrCodeConfirmationRequired:
		return http.StatusPreconditionRequired
	case model.ErrCodeImageUploadFailed:
		return http.StatusBadGateway
	case model.ErrCodeNetworkError, model.ErrCodeProviderError:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
