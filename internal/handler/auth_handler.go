// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/kentaro/rentway/internal/model"
	"github.com/kentaro/rentway/internal/session"
)

const oauthStateCookie = "oauth_state"

// AuthServiceInterface は認証ハンドラーが必要とするセッション操作のインターフェース。
// session.Sessionの部分集合として定義する。
type AuthServiceInterface interface {
	// Register はアカウントを作成する。
	Register(ctx context.Context, email, password, displayName, photoURL string) error
	// Login はメール/パスワードでサインインする。
	Login(ctx context.Context, email, password string) error
	// Logout はサインアウトを要求する。
	Logout(ctx context.Context) error
	// SendPasswordReset はパスワードリセットメールの送信を要求する。
	SendPasswordReset(ctx context.Context, email string) error
	// BeginProviderLogin は対話型サインインの認可URLを返す。
	BeginProviderLogin(state string) string
	// CompleteProviderLogin は対話型サインインのコールバックを処理する。
	CompleteProviderLogin(ctx context.Context, code, errParam string) error
	// Snapshot は現在のセッション状態のコピーを返す。
	Snapshot() session.Snapshot
}

// AuthHandlerConfig は認証ハンドラーの設定。
type AuthHandlerConfig struct {
	BaseURL      string
	CookieSecure bool
}

// AuthHandler は認証関連のHTTPハンドラー。
type AuthHandler struct {
	service AuthServiceInterface
	config  AuthHandlerConfig
	logger  *slog.Logger
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(service AuthServiceInterface, config AuthHandlerConfig, logger *slog.Logger) *AuthHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuthHandler{
		service: service,
		config:  config,
		logger:  logger,
	}
}

// registerRequest はアカウント登録リクエストのボディ。
type registerRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"displayName"`
	PhotoURL    string `json:"photoURL"`
}

// loginRequest はログインリクエストのボディ。
type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// passwordResetRequest はパスワードリセットリクエストのボディ。
type passwordResetRequest struct {
	Email string `json:"email"`
}

// meResponse は現在のセッション状態のAPIレスポンス。
type meResponse struct {
	Status      string `json:"status"`
	Busy        bool   `json:"busy"`
	UID         string `json:"uid,omitempty"`
	Email       string `json:"email,omitempty"`
	DisplayName string `json:"displayName,omitempty"`
	PhotoURL    string `json:"photoURL,omitempty"`
}

// toMeResponse はSnapshotからAPIレスポンスに変換する。
func toMeResponse(snap session.Snapshot) meResponse {
	resp := meResponse{
		Status: string(snap.Status),
		Busy:   snap.Busy,
	}
	if snap.Identity != nil {
		resp.UID = snap.Identity.UID
		resp.Email = snap.Identity.Email
		resp.DisplayName = snap.Identity.DisplayName
		resp.PhotoURL = snap.Identity.PhotoURL
	}
	return resp
}

// Register はアカウント登録を処理する。
// POST /auth/register
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidRequestBody(w)
		return
	}

	if err := h.service.Register(r.Context(), req.Email, req.Password, req.DisplayName, req.PhotoURL); err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(toMeResponse(h.service.Snapshot()))
}

// Login はメール/パスワードによるサインインを処理する。
// POST /auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidRequestBody(w)
		return
	}

	if err := h.service.Login(r.Context(), req.Email, req.Password); err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(toMeResponse(h.service.Snapshot()))
}

// Logout はサインアウトを処理する。
// POST /auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Logout(r.Context()); err != nil {
		h.logger.Error("logout failed", slog.String("error", err.Error()))
		handleServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// PasswordReset はパスワードリセットメールの送信を処理する。
// POST /auth/password-reset
func (h *AuthHandler) PasswordReset(w http.ResponseWriter, r *http.Request) {
	var req passwordResetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidRequestBody(w)
		return
	}

	if err := h.service.SendPasswordReset(r.Context(), req.Email); err != nil {
		handleServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusAccepted)
}

// ProviderLogin は外部IDプロバイダーの対話型サインインフローを開始する。
// GET /auth/provider/login
func (h *AuthHandler) ProviderLogin(w http.ResponseWriter, r *http.Request) {
	state, err := generateState()
	if err != nil {
		h.logger.Error("failed to generate oauth state", slog.String("error", err.Error()))
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	// stateをCookieに保存（CSRF対策）
	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    state,
		Path:     "/",
		MaxAge:   600, // 10分
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})

	http.Redirect(w, r, h.service.BeginProviderLogin(state), http.StatusTemporaryRedirect)
}

// ProviderCallback は対話型サインインのコールバックを処理する。
// GET /auth/provider/callback?code=xxx&state=yyy
func (h *AuthHandler) ProviderCallback(w http.ResponseWriter, r *http.Request) {
	// stateの検証（CSRF対策）
	state := r.URL.Query().Get("state")
	stateCookie, err := r.Cookie(oauthStateCookie)
	if err != nil || stateCookie.Value != state {
		h.logger.Warn("oauth state mismatch",
			slog.String("query_state", state),
		)
		http.Error(w, "invalid state parameter", http.StatusBadRequest)
		return
	}

	// stateクッキーを削除
	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})

	code := r.URL.Query().Get("code")
	errParam := r.URL.Query().Get("error")

	if err := h.service.CompleteProviderLogin(r.Context(), code, errParam); err != nil {
		handleServiceError(w, err)
		return
	}

	http.Redirect(w, r, h.config.BaseURL, http.StatusTemporaryRedirect)
}

// Me は現在のセッション状態を返す。
// GET /auth/me
//
// 未認証でも401ではなく現在の状態を返す。クライアントはこの応答で
// Initializing/Anonymous/Authenticatedを区別し、描画を決定する。
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(toMeResponse(h.service.Snapshot()))
}

// writeInvalidRequestBody はボディ解析失敗の400レスポンスを書き込む。
func writeInvalidRequestBody(w http.ResponseWriter) {
	writeAPIErrorResponse(w, http.StatusBadRequest, &model.APIError{
		Code:     "INVALID_REQUEST",
		Message:  "リクエストボディの解析に失敗しました。",
		Category: "validation",
		Action:   "正しいJSON形式でリクエストしてください。",
	})
}

// generateState はCSRF対策用のランダムなstate値を生成する。
func generateState() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
