package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kentaro/rentway/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Logger            *slog.Logger
	Session           middleware.SessionReader
	SettleTimeout     time.Duration
	RateLimiter       *middleware.RateLimiter
	CSRFConfig        middleware.CSRFConfig
	CORSAllowedOrigin string

	// 運用エンドポイント
	MetricsHandler http.Handler
	StatusRecorder middleware.HTTPStatusRecorder

	// 認証
	AuthService AuthServiceInterface
	AuthConfig  AuthHandlerConfig

	// 車両
	VehicleReader  VehicleReaderInterface
	VehicleMutator VehicleMutatorInterface

	// 予約
	BookingService BookingServiceInterface
	BookingReader  BookingReaderInterface
	SessionReader  SnapshotReader
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → SecurityHeaders → CORS → Logging
//
// 認証ルート（/auth/*）と車両の読み取り系はミドルウェアチェーンの外に配置する。
// 保護ルートグループには Session → CSRF → RateLimit(General) を追加で適用する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
	r.Use(middleware.NewLoggingMiddleware(deps.Logger))
	if deps.StatusRecorder != nil {
		r.Use(middleware.NewMetricsMiddleware(deps.StatusRecorder))
	}

	authHandler := NewAuthHandler(deps.AuthService, deps.AuthConfig, deps.Logger)
	vehicleHandler := NewVehicleHandler(deps.VehicleReader, deps.VehicleMutator)
	bookingHandler := NewBookingHandler(deps.BookingService, deps.BookingReader, deps.SessionReader)

	// --- 運用エンドポイント ---

	r.Get("/healthz", handleHealthz)
	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}

	// --- 認証不要のルート ---

	// CSRFトークン取得
	r.Get("/api/csrf-token", middleware.NewCSRFTokenHandler(deps.CSRFConfig).ServeHTTP)

	// 認証ルート
	r.Route("/auth", func(r chi.Router) {
		r.Post("/register", authHandler.Register)
		r.Post("/login", authHandler.Login)
		r.Post("/logout", authHandler.Logout)
		r.Post("/password-reset", authHandler.PasswordReset)
		r.Get("/provider/login", authHandler.ProviderLogin)
		r.Get("/provider/callback", authHandler.ProviderCallback)
		r.Get("/me", authHandler.Me)
	})

	// 車両の閲覧と予約可否は未認証でも可能
	r.Get("/api/vehicles", vehicleHandler.ListVehicles)
	r.Get("/api/vehicles/latest", vehicleHandler.LatestVehicles)
	r.Get("/api/vehicles/{id}", vehicleHandler.GetVehicle)
	r.Get("/api/vehicles/{id}/eligibility", bookingHandler.Eligibility)

	// --- 認証が必要なルート ---
	// ミドルウェアスタック: Session → CSRF → RateLimit(General)
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewSessionMiddleware(deps.Session, deps.SettleTimeout))
		r.Use(middleware.NewCSRFMiddleware(deps.CSRFConfig))
		r.Use(deps.RateLimiter.GeneralMiddleware())

		// 本人スコープの一覧
		r.Get("/api/my-vehicles", vehicleHandler.MyVehicles)
		r.Get("/api/my-bookings", bookingHandler.MyBookings)

		// 予約管理（予約専用レート制限を追加）
		r.Route("/api/bookings", func(r chi.Router) {
			r.With(deps.RateLimiter.BookingMiddleware()).Post("/", bookingHandler.Book)
			r.With(deps.RateLimiter.BookingMiddleware()).Post("/cancel/confirm", bookingHandler.ConfirmCancel)
			r.With(deps.RateLimiter.BookingMiddleware()).Post("/{id}/cancel", bookingHandler.ProposeCancel)
		})

		// 車両管理
		r.Post("/api/vehicles", vehicleHandler.CreateVehicle)
		r.Put("/api/vehicles/{id}", vehicleHandler.UpdateVehicle)
		r.Delete("/api/vehicles/{id}", vehicleHandler.DeleteVehicle)
	})

	return r
}

// handleHealthz は稼働確認エンドポイント。
// GET /healthz
func handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}
