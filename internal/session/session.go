// Package session はプロセス全体で唯一のセッション状態機械を提供する。
// 状態はIDプロバイダーの変更通知だけが書き換え、他のコンポーネントは読むだけである。
package session

import (
	"context"
	"log/slog"
	"regexp"
	"sync"

	"github.com/kentaro/rentway/internal/identity"
	"github.com/kentaro/rentway/internal/model"
)

// Status はセッションの状態を表す。
type Status string

const (
	// StatusInitializing はプロバイダーの初回通知を待っている状態。
	// この状態の間、保護されたビューの描画はすべて保留される。
	StatusInitializing Status = "initializing"
	// StatusAuthenticated は認証済みの状態。
	StatusAuthenticated Status = "authenticated"
	// StatusAnonymous は未認証の状態。
	StatusAnonymous Status = "anonymous"
)

// Snapshot はセッション状態の読み取り専用コピー。
// リスナーと読み手には常にコピーを渡し、内部状態への参照を漏らさない。
type Snapshot struct {
	Identity *model.Identity
	Status   Status
	Busy     bool
}

// URLValidator はプロフィールのフォトURL検証に使うインターフェース。
// security.SSRFGuardServiceの部分集合として定義する。
type URLValidator interface {
	ValidateURL(rawURL string) error
}

// Session はプロセス全体で唯一のセッションオブジェクト。
// 書き手はプロバイダーの変更通知コールバックのみで、操作メソッドは
// プロバイダーを呼ぶだけで状態を直接書き換えない。
type Session struct {
	provider     identity.Provider
	urlValidator URLValidator
	logger       *slog.Logger

	mu        sync.RWMutex
	identity  *model.Identity
	status    Status
	busy      bool
	listeners map[int]func(Snapshot)
	nextID    int

	ready     chan struct{}
	readyOnce sync.Once

	unsubscribe func()
}

// New はSessionを生成し、プロバイダーの変更通知を購読する。
// 初期状態はInitializingで、最初の通知が届くまで維持される。
func New(provider identity.Provider, urlValidator URLValidator, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Session{
		provider:     provider,
		urlValidator: urlValidator,
		logger:       logger,
		status:       StatusInitializing,
		listeners:    make(map[int]func(Snapshot)),
		ready:        make(chan struct{}),
	}
	s.unsubscribe = provider.OnStateChange(s.handleProviderChange)
	return s
}

// handleProviderChange はプロバイダーの変更通知を受けて状態を遷移させる。
// Sessionの状態を書き換えるのはこのコールバックとbusyフラグ操作だけである。
func (s *Session) handleProviderChange(ident *model.Identity) {
	s.mu.Lock()
	s.identity = ident
	if ident != nil {
		s.status = StatusAuthenticated
	} else {
		s.status = StatusAnonymous
	}
	snap := s.snapshotLocked()
	listeners := s.listenersLocked()
	s.mu.Unlock()

	s.readyOnce.Do(func() { close(s.ready) })

	s.logger.Info("session state changed",
		slog.String("status", string(snap.Status)),
	)

	for _, l := range listeners {
		l(snap)
	}
}

// snapshotLocked は現在状態のコピーを返す。muを保持して呼ぶこと。
func (s *Session) snapshotLocked() Snapshot {
	return Snapshot{
		Identity: s.identity,
		Status:   s.status,
		Busy:     s.busy,
	}
}

// listenersLocked はリスナーのコピーを返す。muを保持して呼ぶこと。
func (s *Session) listenersLocked() []func(Snapshot) {
	listeners := make([]func(Snapshot), 0, len(s.listeners))
	for _, l := range s.listeners {
		listeners = append(listeners, l)
	}
	return listeners
}

// Snapshot は現在のセッション状態のコピーを返す。
func (s *Session) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

// Ready はプロバイダーの初回通知で閉じられるチャネルを返す。
func (s *Session) Ready() <-chan struct{} {
	return s.ready
}

// WaitSettled は初回通知が届くかctxが終了するまで待つ。
// Initializingの間に保護リソースへアクセスさせないための待ち合わせに使う。
func (s *Session) WaitSettled(ctx context.Context) error {
	select {
	case <-s.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// OnChange はセッション遷移のリスナーを登録し、解除関数を返す。
// 破棄済みのコンシューマーへの通知を避けるため、不要になったら必ず解除すること。
func (s *Session) OnChange(listener func(Snapshot)) (unsubscribe func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextID
	s.nextID++
	s.listeners[id] = listener

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.listeners, id)
	}
}

// setBusy はbusyフラグを切り替え、リスナーへ通知する。
func (s *Session) setBusy(busy bool) {
	s.mu.Lock()
	s.busy = busy
	snap := s.snapshotLocked()
	listeners := s.listenersLocked()
	s.mu.Unlock()

	for _, l := range listeners {
		l(snap)
	}
}

// passwordPolicy: 6文字以上、大文字と小文字を各1文字以上含む。
var (
	upperRe = regexp.MustCompile(`[A-Z]`)
	lowerRe = regexp.MustCompile(`[a-z]`)
)

// ValidatePassword は登録時のパスワードポリシーを検証する。
func ValidatePassword(password string) error {
	if len(password) < 6 {
		return model.NewValidationError("password", "パスワードは6文字以上である必要があります")
	}
	if !upperRe.MatchString(password) {
		return model.NewValidationError("password", "パスワードには大文字を1文字以上含めてください")
	}
	if !lowerRe.MatchString(password) {
		return model.NewValidationError("password", "パスワードには小文字を1文字以上含めてください")
	}
	return nil
}

// Register はアカウントを作成し、表示名とフォトURLをプロバイダーへ反映する。
// 呼び出し自体はstatusを変更しない。成功すればプロバイダーの通知が
// Authenticated遷移を発火させる。
func (s *Session) Register(ctx context.Context, email, password, displayName, photoURL string) error {
	if email == "" {
		return model.NewValidationError("email", "メールアドレスは必須です")
	}
	if err := ValidatePassword(password); err != nil {
		return err
	}
	if photoURL != "" && s.urlValidator != nil {
		if err := s.urlValidator.ValidateURL(photoURL); err != nil {
			return model.NewValidationError("photoURL", "フォトURLが許可されていません")
		}
	}

	s.setBusy(true)
	defer s.setBusy(false)

	if _, err := s.provider.CreateAccount(ctx, email, password); err != nil {
		return err
	}

	// 表示名/フォトURLの反映は任意項目。失敗しても登録自体は成立している。
	if displayName != "" || photoURL != "" {
		if _, err := s.provider.UpdateProfile(ctx, displayName, photoURL); err != nil {
			s.logger.Warn("profile update after registration failed",
				slog.String("error", err.Error()),
			)
		}
	}

	return nil
}

// Login はメール/パスワードでサインインする。
// 呼び出し中はbusyフラグが立ち、完了時（成否を問わず）にクリアされる。
func (s *Session) Login(ctx context.Context, email, password string) error {
	s.setBusy(true)
	defer s.setBusy(false)

	_, err := s.provider.SignIn(ctx, email, password)
	return err
}

// BeginProviderLogin は対話型サインインの認可URLを返す。
func (s *Session) BeginProviderLogin(state string) string {
	return s.provider.BeginInteractiveSignIn(state)
}

// CompleteProviderLogin は対話型サインインのコールバックを処理する。
func (s *Session) CompleteProviderLogin(ctx context.Context, code, errParam string) error {
	s.setBusy(true)
	defer s.setBusy(false)

	_, err := s.provider.CompleteInteractiveSignIn(ctx, code, errParam)
	return err
}

// Logout はサインアウトを要求する。identityのクリアとAnonymousへの遷移は
// プロバイダーの後続の変更通知が行う。
func (s *Session) Logout(ctx context.Context) error {
	return s.provider.SignOut(ctx)
}

// SendPasswordReset はパスワードリセットメールの送信を要求する。
func (s *Session) SendPasswordReset(ctx context.Context, email string) error {
	if email == "" {
		return model.NewValidationError("email", "メールアドレスは必須です")
	}
	return s.provider.SendPasswordReset(ctx, email)
}

// Close はプロバイダーの購読を解除する。プロセス終了時に呼ぶ。
func (s *Session) Close() {
	if s.unsubscribe != nil {
		s.unsubscribe()
	}
}
