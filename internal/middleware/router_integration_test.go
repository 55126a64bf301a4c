package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kentaro/rentway/internal/model"
	"github.com/kentaro/rentway/internal/session"
)

// TestRouterIntegration_CSRFTokenEndpoint はCSRFトークン取得エンドポイントが
// chi.Routerで正しく動作することを検証する。
func TestRouterIntegration_CSRFTokenEndpoint(t *testing.T) {
	r := chi.NewRouter()

	csrfConfig := CSRFConfig{CookieSecure: false}
	r.Get("/api/csrf-token", NewCSRFTokenHandler(csrfConfig).ServeHTTP)

	req := httptest.NewRequest(http.MethodGet, "/api/csrf-token", nil)
	w := httptest.NewRecorder()

	r.ServeHTTP(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}

	var body struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body.Token == "" {
		t.Error("expected non-empty token")
	}
}

// TestRouterIntegration_ProtectedRoute_WithMiddlewareChain は
// Session -> CSRF のミドルウェアチェーンがchi.Routerで正しく動作することを検証する。
func TestRouterIntegration_ProtectedRoute_WithMiddlewareChain(t *testing.T) {
	authenticated := &mockSessionReader{
		snapshot: session.Snapshot{
			Status:   session.StatusAuthenticated,
			Identity: &model.Identity{UID: "uid-router", Email: "rahim@example.com"},
		},
	}
	anonymous := &mockSessionReader{
		snapshot: session.Snapshot{Status: session.StatusAnonymous},
	}

	buildRouter := func(sess SessionReader) chi.Router {
		r := chi.NewRouter()
		csrfConfig := CSRFConfig{CookieSecure: false}

		// CSRFトークン取得エンドポイント（認証不要）
		r.Get("/api/csrf-token", NewCSRFTokenHandler(csrfConfig).ServeHTTP)

		// 認証が必要なルートグループ
		r.Group(func(r chi.Router) {
			r.Use(NewSessionMiddleware(sess, time.Second))
			r.Use(NewCSRFMiddleware(csrfConfig))

			r.Get("/api/my-bookings", func(w http.ResponseWriter, r *http.Request) {
				ident, _ := IdentityFromContext(r.Context())
				json.NewEncoder(w).Encode(map[string]string{"user": ident.Email})
			})

			r.Post("/api/bookings", func(w http.ResponseWriter, r *http.Request) {
				ident, _ := IdentityFromContext(r.Context())
				json.NewEncoder(w).Encode(map[string]string{"user": ident.Email, "action": "booked"})
			})
		})
		return r
	}

	// テスト1: GET は認証あり + CSRFなしで通る
	t.Run("GET_protected_authenticated", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/my-bookings", nil)
		w := httptest.NewRecorder()

		buildRouter(authenticated).ServeHTTP(w, req)

		if w.Result().StatusCode != http.StatusOK {
			t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusOK)
		}
	})

	// テスト2: GET は未認証で401
	t.Run("GET_protected_anonymous", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/my-bookings", nil)
		w := httptest.NewRecorder()

		buildRouter(anonymous).ServeHTTP(w, req)

		if w.Result().StatusCode != http.StatusUnauthorized {
			t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusUnauthorized)
		}
	})

	// テスト3: POST は認証あり + CSRFトークンで通る
	t.Run("POST_with_csrf", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/bookings", nil)
		req.AddCookie(&http.Cookie{Name: csrfCookieName, Value: "test-csrf-token"})
		req.Header.Set(csrfHeaderName, "test-csrf-token")
		w := httptest.NewRecorder()

		buildRouter(authenticated).ServeHTTP(w, req)

		if w.Result().StatusCode != http.StatusOK {
			t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusOK)
		}

		var body map[string]string
		json.NewDecoder(w.Result().Body).Decode(&body)
		if body["user"] != "rahim@example.com" {
			t.Errorf("user = %q, want %q", body["user"], "rahim@example.com")
		}
	})

	// テスト4: POST は認証あり + CSRFトークンなしで403
	t.Run("POST_without_csrf", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/bookings", nil)
		w := httptest.NewRecorder()

		buildRouter(authenticated).ServeHTTP(w, req)

		if w.Result().StatusCode != http.StatusForbidden {
			t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusForbidden)
		}
	})

	// テスト5: POST は未認証で401（CSRFチェックの前にセッションチェック）
	t.Run("POST_anonymous", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/bookings", nil)
		w := httptest.NewRecorder()

		buildRouter(anonymous).ServeHTTP(w, req)

		if w.Result().StatusCode != http.StatusUnauthorized {
			t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusUnauthorized)
		}
	})
}
