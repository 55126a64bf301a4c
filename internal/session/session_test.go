package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kentaro/rentway/internal/identity"
	"github.com/kentaro/rentway/internal/model"
)

// --- モック定義 ---

// mockProvider はidentity.Providerのモック。
// listenerを保持し、テストから任意のタイミングで変更通知を発火できる。
type mockProvider struct {
	createAccountFn func(ctx context.Context, email, password string) (*model.Identity, error)
	signInFn        func(ctx context.Context, email, password string) (*model.Identity, error)
	signOutFn       func(ctx context.Context) error
	updateProfileFn func(ctx context.Context, displayName, photoURL string) (*model.Identity, error)
	resetFn         func(ctx context.Context, email string) error

	listener func(*model.Identity)
}

func (m *mockProvider) CreateAccount(ctx context.Context, email, password string) (*model.Identity, error) {
	if m.createAccountFn != nil {
		return m.createAccountFn(ctx, email, password)
	}
	return &model.Identity{UID: "new-uid", Email: email}, nil
}

func (m *mockProvider) SignIn(ctx context.Context, email, password string) (*model.Identity, error) {
	if m.signInFn != nil {
		return m.signInFn(ctx, email, password)
	}
	return &model.Identity{UID: "uid", Email: email}, nil
}

func (m *mockProvider) BeginInteractiveSignIn(state string) string {
	return "https://idp.example.com/authorize?state=" + state
}

func (m *mockProvider) CompleteInteractiveSignIn(ctx context.Context, code, errParam string) (*model.Identity, error) {
	if errParam != "" {
		return nil, model.NewPopupClosedByUserError()
	}
	return &model.Identity{UID: "oauth-uid"}, nil
}

func (m *mockProvider) SignOut(ctx context.Context) error {
	if m.signOutFn != nil {
		return m.signOutFn(ctx)
	}
	return nil
}

func (m *mockProvider) SendPasswordReset(ctx context.Context, email string) error {
	if m.resetFn != nil {
		return m.resetFn(ctx, email)
	}
	return nil
}

func (m *mockProvider) UpdateProfile(ctx context.Context, displayName, photoURL string) (*model.Identity, error) {
	if m.updateProfileFn != nil {
		return m.updateProfileFn(ctx, displayName, photoURL)
	}
	return &model.Identity{UID: "uid", DisplayName: displayName, PhotoURL: photoURL}, nil
}

func (m *mockProvider) OnStateChange(listener func(*model.Identity)) func() {
	m.listener = listener
	return func() { m.listener = nil }
}

func (m *mockProvider) Start(ctx context.Context) {}

// notify はプロバイダーの変更通知をシミュレートする。
func (m *mockProvider) notify(ident *model.Identity) {
	if m.listener != nil {
		m.listener(ident)
	}
}

// mockURLValidator はURLValidatorのモック。
type mockURLValidator struct {
	validateFn func(rawURL string) error
}

func (m *mockURLValidator) ValidateURL(rawURL string) error {
	if m.validateFn != nil {
		return m.validateFn(rawURL)
	}
	return nil
}

// --- compile-time interface checks ---
var _ identity.Provider = (*mockProvider)(nil)
var _ URLValidator = (*mockURLValidator)(nil)

// --- テスト ---

func TestSession_InitialState_IsInitializing(t *testing.T) {
	provider := &mockProvider{}
	s := New(provider, nil, nil)
	defer s.Close()

	snap := s.Snapshot()
	if snap.Status != StatusInitializing {
		t.Errorf("status = %q, want %q", snap.Status, StatusInitializing)
	}
	// 不変条件: Initializingの間はidentityがnilであること
	if snap.Identity != nil {
		t.Errorf("identity = %+v, want nil while initializing", snap.Identity)
	}
}

func TestSession_ProviderNotification_DrivesTransitions(t *testing.T) {
	provider := &mockProvider{}
	s := New(provider, nil, nil)
	defer s.Close()

	provider.notify(&model.Identity{UID: "uid-1", Email: "rahim@example.com"})

	snap := s.Snapshot()
	if snap.Status != StatusAuthenticated {
		t.Errorf("status = %q, want %q", snap.Status, StatusAuthenticated)
	}
	if snap.Identity == nil || snap.Identity.UID != "uid-1" {
		t.Errorf("identity = %+v, want uid-1", snap.Identity)
	}

	provider.notify(nil)

	snap = s.Snapshot()
	if snap.Status != StatusAnonymous {
		t.Errorf("status = %q, want %q", snap.Status, StatusAnonymous)
	}
	if snap.Identity != nil {
		t.Errorf("identity = %+v, want nil after sign-out", snap.Identity)
	}
}

func TestSession_WaitSettled_ReturnsAfterFirstNotification(t *testing.T) {
	provider := &mockProvider{}
	s := New(provider, nil, nil)
	defer s.Close()

	go func() {
		time.Sleep(20 * time.Millisecond)
		provider.notify(nil)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.WaitSettled(ctx); err != nil {
		t.Fatalf("WaitSettled() error = %v", err)
	}
}

func TestSession_WaitSettled_TimesOutWhileInitializing(t *testing.T) {
	provider := &mockProvider{}
	s := New(provider, nil, nil)
	defer s.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if err := s.WaitSettled(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("WaitSettled() error = %v, want deadline exceeded", err)
	}
}

func TestSession_Login_SetsBusyDuringCall(t *testing.T) {
	var busyDuringCall bool
	provider := &mockProvider{}
	s := New(provider, nil, nil)
	defer s.Close()

	provider.signInFn = func(ctx context.Context, email, password string) (*model.Identity, error) {
		busyDuringCall = s.Snapshot().Busy
		return nil, model.NewWrongCredentialsError()
	}

	err := s.Login(context.Background(), "rahim@example.com", "bad")

	if !busyDuringCall {
		t.Error("busy = false during login call, want true")
	}
	// 失敗してもbusyはクリアされること
	if s.Snapshot().Busy {
		t.Error("busy = true after login completed, want false")
	}

	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeWrongCredentials {
		t.Errorf("error = %v, want WRONG_CREDENTIALS", err)
	}
}

func TestSession_Login_DoesNotSynchronouslyChangeStatus(t *testing.T) {
	provider := &mockProvider{}
	s := New(provider, nil, nil)
	defer s.Close()

	provider.notify(nil) // Anonymousで確定させる

	if err := s.Login(context.Background(), "rahim@example.com", "Secret1"); err != nil {
		t.Fatalf("Login() error = %v", err)
	}

	// 遷移はプロバイダー通知が駆動する。呼び出し成功だけでは遷移しない。
	if got := s.Snapshot().Status; got != StatusAnonymous {
		t.Errorf("status = %q immediately after login call, want %q", got, StatusAnonymous)
	}

	provider.notify(&model.Identity{UID: "uid-1", Email: "rahim@example.com"})
	if got := s.Snapshot().Status; got != StatusAuthenticated {
		t.Errorf("status = %q after provider notification, want %q", got, StatusAuthenticated)
	}
}

func TestSession_Register_ValidatesPasswordPolicy(t *testing.T) {
	tests := []struct {
		name     string
		password string
		wantErr  bool
	}{
		{"6文字未満", "Ab1", true},
		{"大文字なし", "abcdef", true},
		{"小文字なし", "ABCDEF", true},
		{"ポリシー充足", "Abcdef", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider := &mockProvider{}
			s := New(provider, nil, nil)
			defer s.Close()

			err := s.Register(context.Background(), "x@example.com", tt.password, "", "")
			if tt.wantErr {
				var apiErr *model.APIError
				if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeValidation {
					t.Errorf("error = %v, want VALIDATION_ERROR", err)
				}
			} else if err != nil {
				t.Errorf("Register() error = %v, want nil", err)
			}
		})
	}
}

func TestSession_Register_RejectsBlockedPhotoURL(t *testing.T) {
	provider := &mockProvider{}
	validator := &mockURLValidator{
		validateFn: func(rawURL string) error {
			return errors.New("blocked")
		},
	}
	s := New(provider, validator, nil)
	defer s.Close()

	err := s.Register(context.Background(), "x@example.com", "Abcdef", "Rahim", "http://169.254.169.254/avatar.png")

	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeValidation {
		t.Errorf("error = %v, want VALIDATION_ERROR", err)
	}
}

func TestSession_Register_PushesProfileToProvider(t *testing.T) {
	var gotDisplayName, gotPhotoURL string
	provider := &mockProvider{
		updateProfileFn: func(ctx context.Context, displayName, photoURL string) (*model.Identity, error) {
			gotDisplayName = displayName
			gotPhotoURL = photoURL
			return &model.Identity{UID: "uid", DisplayName: displayName}, nil
		},
	}
	s := New(provider, nil, nil)
	defer s.Close()

	if err := s.Register(context.Background(), "x@example.com", "Abcdef", "Rahim", "https://img.example.com/a.png"); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if gotDisplayName != "Rahim" {
		t.Errorf("displayName = %q, want %q", gotDisplayName, "Rahim")
	}
	if gotPhotoURL != "https://img.example.com/a.png" {
		t.Errorf("photoURL = %q, want %q", gotPhotoURL, "https://img.example.com/a.png")
	}
}

func TestSession_OnChange_UnsubscribeStopsNotifications(t *testing.T) {
	provider := &mockProvider{}
	s := New(provider, nil, nil)
	defer s.Close()

	var count int
	unsubscribe := s.OnChange(func(snap Snapshot) {
		count++
	})

	provider.notify(nil)
	if count != 1 {
		t.Fatalf("count = %d after first notification, want 1", count)
	}

	unsubscribe()
	provider.notify(&model.Identity{UID: "uid"})
	if count != 1 {
		t.Errorf("count = %d after unsubscribe, want still 1", count)
	}
}
