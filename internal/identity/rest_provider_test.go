package identity

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/kentaro/rentway/internal/model"
)

// newTestProvider はhttptestサーバーに向けたプロバイダーを生成する。
func newTestProvider(t *testing.T, handler http.Handler) *RESTProvider {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	return NewRESTProvider(RESTProviderConfig{
		BaseURL:     server.URL,
		RedirectURL: "http://localhost:8080/auth/oauth/callback",
	}, server.Client(), nil)
}

func TestRESTProvider_SignIn_Success_EmitsNotification(t *testing.T) {
	provider := newTestProvider(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "accounts:signInWithPassword") {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"localId": "uid-123",
			"email":   "rahim@example.com",
			"idToken": "token-abc",
		})
	}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	notified := make(chan *model.Identity, 4)
	unsubscribe := provider.OnStateChange(func(ident *model.Identity) {
		notified <- ident
	})
	defer unsubscribe()

	provider.Start(ctx)

	// 初期通知は未認証
	select {
	case ident := <-notified:
		if ident != nil {
			t.Fatalf("initial notification = %+v, want nil", ident)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for initial notification")
	}

	ident, err := provider.SignIn(ctx, "rahim@example.com", "secret")
	if err != nil {
		t.Fatalf("SignIn() error = %v", err)
	}
	if ident.UID != "uid-123" {
		t.Errorf("UID = %q, want %q", ident.UID, "uid-123")
	}

	select {
	case got := <-notified:
		if got == nil || got.Email != "rahim@example.com" {
			t.Errorf("notification = %+v, want authenticated identity", got)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for sign-in notification")
	}
}

func TestRESTProvider_SignIn_WrongCredentials(t *testing.T) {
	// パスワード誤りとユーザー未登録はどちらもWrongCredentialsになること
	tests := []struct {
		name         string
		providerCode string
	}{
		{"パスワード誤り", "INVALID_PASSWORD"},
		{"ユーザー未登録", "EMAIL_NOT_FOUND"},
		{"新形式の認証エラー", "INVALID_LOGIN_CREDENTIALS"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider := newTestProvider(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusBadRequest)
				json.NewEncoder(w).Encode(map[string]any{
					"error": map[string]any{"code": 400, "message": tt.providerCode},
				})
			}))

			_, err := provider.SignIn(context.Background(), "x@example.com", "bad")

			var apiErr *model.APIError
			if !errors.As(err, &apiErr) {
				t.Fatalf("expected APIError, got %v", err)
			}
			if apiErr.Code != model.ErrCodeWrongCredentials {
				t.Errorf("code = %q, want %q", apiErr.Code, model.ErrCodeWrongCredentials)
			}
		})
	}
}

func TestRESTProvider_CreateAccount_EmailAlreadyInUse(t *testing.T) {
	provider := newTestProvider(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{"code": 400, "message": "EMAIL_EXISTS"},
		})
	}))

	_, err := provider.CreateAccount(context.Background(), "x@example.com", "Secret1")

	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.Code != model.ErrCodeEmailAlreadyInUse {
		t.Errorf("code = %q, want %q", apiErr.Code, model.ErrCodeEmailAlreadyInUse)
	}
}

func TestRESTProvider_SignIn_NetworkError(t *testing.T) {
	// 接続不能なエンドポイントへのリクエストはNetworkErrorになること
	provider := NewRESTProvider(RESTProviderConfig{
		BaseURL: "http://127.0.0.1:1",
	}, &http.Client{Timeout: 200 * time.Millisecond}, nil)

	_, err := provider.SignIn(context.Background(), "x@example.com", "secret")

	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.Code != model.ErrCodeNetworkError {
		t.Errorf("code = %q, want %q", apiErr.Code, model.ErrCodeNetworkError)
	}
}

func TestRESTProvider_BeginInteractiveSignIn_ContainsRequiredParams(t *testing.T) {
	provider := NewRESTProvider(RESTProviderConfig{
		BaseURL:     "https://idp.example.com",
		RedirectURL: "http://localhost:8080/auth/oauth/callback",
	}, nil, nil)

	loginURL := provider.BeginInteractiveSignIn("state-token-1")

	tests := []struct {
		name     string
		contains string
	}{
		{"state", "state=state-token-1"},
		{"redirect_uri", "redirect_uri="},
		{"response_type", "response_type=code"},
		{"scope", "scope="},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !strings.Contains(loginURL, tt.contains) {
				t.Errorf("URL should contain %q, got %q", tt.contains, loginURL)
			}
		})
	}
}

func TestRESTProvider_CompleteInteractiveSignIn_UserCancelled(t *testing.T) {
	provider := NewRESTProvider(RESTProviderConfig{BaseURL: "https://idp.example.com"}, nil, nil)

	_, err := provider.CompleteInteractiveSignIn(context.Background(), "", "access_denied")

	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.Code != model.ErrCodePopupClosedByUser {
		t.Errorf("code = %q, want %q", apiErr.Code, model.ErrCodePopupClosedByUser)
	}
}

func TestRESTProvider_SignOut_EmitsAnonymousNotification(t *testing.T) {
	provider := newTestProvider(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"localId": "uid-123",
			"email":   "rahim@example.com",
			"idToken": "token-abc",
		})
	}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	notified := make(chan *model.Identity, 4)
	provider.OnStateChange(func(ident *model.Identity) {
		notified <- ident
	})
	provider.Start(ctx)

	<-notified // 初期通知

	if _, err := provider.SignIn(ctx, "rahim@example.com", "secret"); err != nil {
		t.Fatalf("SignIn() error = %v", err)
	}
	<-notified // サインイン通知

	if err := provider.SignOut(ctx); err != nil {
		t.Fatalf("SignOut() error = %v", err)
	}

	select {
	case got := <-notified:
		if got != nil {
			t.Errorf("notification after sign-out = %+v, want nil", got)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for sign-out notification")
	}
}

func TestRESTProvider_OnStateChange_UnsubscribeStopsNotifications(t *testing.T) {
	provider := newTestProvider(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"localId": "uid-123",
			"email":   "rahim@example.com",
			"idToken": "token-abc",
		})
	}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	notified := make(chan *model.Identity, 4)
	unsubscribe := provider.OnStateChange(func(ident *model.Identity) {
		notified <- ident
	})
	provider.Start(ctx)

	<-notified // 初期通知
	unsubscribe()

	if _, err := provider.SignIn(ctx, "rahim@example.com", "secret"); err != nil {
		t.Fatalf("SignIn() error = %v", err)
	}

	select {
	case got := <-notified:
		t.Errorf("received notification after unsubscribe: %+v", got)
	case <-time.After(200 * time.Millisecond):
		// 解除後は通知されない
	}
}
