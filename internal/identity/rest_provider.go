package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"

	"github.com/kentaro/rentway/internal/model"
)

// プロバイダーAPIの相対パス。
const (
	pathSignUp        = "/v1/accounts:signUp"
	pathSignIn        = "/v1/accounts:signInWithPassword"
	pathSendOobCode   = "/v1/accounts:sendOobCode"
	pathUpdateAccount = "/v1/accounts:update"
	pathAuthorize     = "/v1/oauth/authorize"
	pathTokenExchange = "/v1/oauth/token"
)

// RESTProviderConfig はRESTProviderの設定。
type RESTProviderConfig struct {
	// BaseURL はIDプロバイダーAPIのベースURL。テストではhttptestのURLを渡す。
	BaseURL string
	// RedirectURL は対話型サインインのコールバックURL。
	RedirectURL string
}

// RESTProvider はJSON over HTTPSのIDプロバイダークライアント。
// 現在のidentityスナップショットとリスナー集合を保持し、
// サインイン/サインアウトのたびに変更通知を配送する。
// 通知は専用ゴルーチンが順序を保って配送し、操作呼び出しと同期しない。
type RESTProvider struct {
	config     RESTProviderConfig
	httpClient *http.Client
	logger     *slog.Logger

	mu        sync.Mutex
	current   *model.Identity
	idToken   string
	listeners map[int]func(*model.Identity)
	nextID    int
	events    chan *model.Identity
	started   bool
}

// NewRESTProvider はRESTProviderを生成する。
func NewRESTProvider(config RESTProviderConfig, httpClient *http.Client, logger *slog.Logger) *RESTProvider {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RESTProvider{
		config:     config,
		httpClient: httpClient,
		logger:     logger,
		listeners:  make(map[int]func(*model.Identity)),
		events:     make(chan *model.Identity, 16),
	}
}

// Start は通知配送ゴルーチンを起動し、初期状態（未認証）を通知する。
// 2回目以降の呼び出しは何もしない。
func (p *RESTProvider) Start(ctx context.Context) {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return
	}
	p.started = true
	p.mu.Unlock()

	go p.dispatch(ctx)

	// 初期通知: 保持トークンが無いため未認証から始まる
	p.emit(nil)
}

// dispatch はイベントチャネルからリスナーへ通知を順序通りに配送する。
func (p *RESTProvider) dispatch(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ident := <-p.events:
			p.mu.Lock()
			listeners := make([]func(*model.Identity), 0, len(p.listeners))
			for _, l := range p.listeners {
				listeners = append(listeners, l)
			}
			p.mu.Unlock()

			for _, l := range listeners {
				l(ident)
			}
		}
	}
}

// emit は現在のidentityを差し替え、変更通知をキューに積む。
func (p *RESTProvider) emit(ident *model.Identity) {
	p.mu.Lock()
	p.current = ident
	p.mu.Unlock()
	p.events <- ident
}

// OnStateChange は状態変更リスナーを登録し、解除関数を返す。
func (p *RESTProvider) OnStateChange(listener func(*model.Identity)) func() {
	p.mu.Lock()
	defer p.mu.Unlock()

	id := p.nextID
	p.nextID++
	p.listeners[id] = listener

	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		delete(p.listeners, id)
	}
}

// accountResponse はプロバイダーのアカウント系エンドポイントの応答。
type accountResponse struct {
	LocalID     string `json:"localId"`
	Email       string `json:"email"`
	DisplayName string `json:"displayName"`
	PhotoURL    string `json:"photoUrl"`
	IDToken     string `json:"idToken"`
}

// providerErrorResponse はプロバイダーのエラー応答。
type providerErrorResponse struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// CreateAccount はアカウントを作成し、成功時にAuthenticated通知を発火する。
func (p *RESTProvider) CreateAccount(ctx context.Context, email, password string) (*model.Identity, error) {
	resp, err := p.postAccount(ctx, pathSignUp, map[string]any{
		"email":             email,
		"password":          password,
		"returnSecureToken": true,
	})
	if err != nil {
		return nil, err
	}

	ident := identityFromAccount(resp)
	p.setToken(resp.IDToken)
	p.emit(ident)

	slog.Info("account created", slog.String("uid", ident.UID))
	return ident, nil
}

// SignIn はメール/パスワードでサインインし、成功時にAuthenticated通知を発火する。
func (p *RESTProvider) SignIn(ctx context.Context, email, password string) (*model.Identity, error) {
	resp, err := p.postAccount(ctx, pathSignIn, map[string]any{
		"email":             email,
		"password":          password,
		"returnSecureToken": true,
	})
	if err != nil {
		return nil, err
	}

	ident := identityFromAccount(resp)
	p.setToken(resp.IDToken)
	p.emit(ident)

	return ident, nil
}

// BeginInteractiveSignIn は対話型サインインの認可URLを生成する。
func (p *RESTProvider) BeginInteractiveSignIn(state string) string {
	params := url.Values{
		"response_type": {"code"},
		"redirect_uri":  {p.config.RedirectURL},
		"state":         {state},
		"scope":         {"openid email profile"},
	}
	return p.config.BaseURL + pathAuthorize + "?" + params.Encode()
}

// CompleteInteractiveSignIn は認可コードをidentityに交換する。
// ユーザーによるフロー中断はPopupClosedByUserとして報告する。
func (p *RESTProvider) CompleteInteractiveSignIn(ctx context.Context, code, errParam string) (*model.Identity, error) {
	if errParam == "access_denied" || errParam == "cancelled" {
		return nil, model.NewPopupClosedByUserError()
	}
	if errParam != "" {
		return nil, model.NewProviderError(errParam)
	}
	if code == "" {
		return nil, model.NewProviderError("認可コードがありません")
	}

	resp, err := p.postAccount(ctx, pathTokenExchange, map[string]any{
		"code":         code,
		"redirect_uri": p.config.RedirectURL,
		"grant_type":   "authorization_code",
	})
	if err != nil {
		return nil, err
	}

	ident := identityFromAccount(resp)
	p.setToken(resp.IDToken)
	p.emit(ident)

	return ident, nil
}

// SignOut はトークンを破棄し、未認証への変更通知を発火する。
func (p *RESTProvider) SignOut(ctx context.Context) error {
	p.setToken("")
	p.emit(nil)
	return nil
}

// SendPasswordReset はパスワードリセットメールの送信を要求する。
func (p *RESTProvider) SendPasswordReset(ctx context.Context, email string) error {
	_, err := p.postAccount(ctx, pathSendOobCode, map[string]any{
		"requestType": "PASSWORD_RESET",
		"email":       email,
	})
	return err
}

// UpdateProfile は表示名とフォトURLを更新し、新しいスナップショットを通知する。
func (p *RESTProvider) UpdateProfile(ctx context.Context, displayName, photoURL string) (*model.Identity, error) {
	p.mu.Lock()
	token := p.idToken
	p.mu.Unlock()

	if token == "" {
		return nil, model.NewUnauthorizedError()
	}

	resp, err := p.postAccount(ctx, pathUpdateAccount, map[string]any{
		"idToken":     token,
		"displayName": displayName,
		"photoUrl":    photoURL,
	})
	if err != nil {
		return nil, err
	}

	ident := identityFromAccount(resp)
	p.emit(ident)

	return ident, nil
}

// postAccount はアカウント系エンドポイントへのPOSTとエラーマッピングを行う。
func (p *RESTProvider) postAccount(ctx context.Context, path string, payload map[string]any) (*accountResponse, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("リクエストボディの生成に失敗しました: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		p.logger.Error("identity provider request failed",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		return nil, model.NewNetworkError()
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, model.NewNetworkError()
	}

	if resp.StatusCode != http.StatusOK {
		return nil, mapProviderError(resp.StatusCode, respBody)
	}

	var account accountResponse
	if err := json.Unmarshal(respBody, &account); err != nil {
		return nil, model.NewProviderError("応答の解析に失敗しました")
	}

	return &account, nil
}

// mapProviderError はプロバイダーのエラーコードをドメインエラーへ変換する。
// パスワード誤りとユーザー未登録は1つのWrongCredentialsに集約する。
func mapProviderError(statusCode int, body []byte) error {
	var perr providerErrorResponse
	if err := json.Unmarshal(body, &perr); err != nil || perr.Error.Message == "" {
		return model.NewProviderError(fmt.Sprintf("status %d", statusCode))
	}

	switch perr.Error.Message {
	case "INVALID_PASSWORD", "EMAIL_NOT_FOUND", "INVALID_LOGIN_CREDENTIALS":
		return model.NewWrongCredentialsError()
	case "EMAIL_EXISTS":
		return model.NewEmailAlreadyInUseError()
	case "INVALID_EMAIL":
		return model.NewValidationError("email", "メールアドレスの形式が正しくありません")
	case "WEAK_PASSWORD":
		return model.NewValidationError("password", "パスワードが脆弱です")
	default:
		return model.NewProviderError(perr.Error.Message)
	}
}

// identityFromAccount はプロバイダー応答をIdentityスナップショットへ変換する。
func identityFromAccount(account *accountResponse) *model.Identity {
	return &model.Identity{
		UID:         account.LocalID,
		Email:       account.Email,
		DisplayName: account.DisplayName,
		PhotoURL:    account.PhotoURL,
	}
}

// IDToken は現在のセッションのIDトークンを返す。未認証の間は空文字。
// バックエンドAPIへの認証情報付与に使う。
func (p *RESTProvider) IDToken() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.idToken
}

// setToken は保持トークンを差し替える。
func (p *RESTProvider) setToken(token string) {
	p.mu.Lock()
	p.idToken = token
	p.mu.Unlock()
}

// compile-time interface check
var _ Provider = (*RESTProvider)(nil)
