// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/kentaro/rentway/internal/model"
	"github.com/kentaro/rentway/internal/session"
)

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

// identityContextKey はリクエストコンテキストに認証済みidentityを格納するためのキー。
var identityContextKey = contextKey("identity")

// SessionReader は保護リソースの判定に必要なセッションのインターフェース。
// session.Sessionの部分集合として定義する。
type SessionReader interface {
	Snapshot() session.Snapshot
	WaitSettled(ctx context.Context) error
}

// NewSessionMiddleware は保護リソースへのアクセスを判定するミドルウェアを返す。
//
// セッションがInitializingの間は即座に拒否せず、settleTimeoutを上限として
// 初回通知を待つ。確定前に401を返すと、起動直後のリクエストのたびに
// 認証済みユーザーがログインへ誘導されてしまう。
// 待ちきれなかった場合は503を返し、クライアントに再試行を促す。
func NewSessionMiddleware(sess SessionReader, settleTimeout time.Duration) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			waitCtx, cancel := context.WithTimeout(r.Context(), settleTimeout)
			err := sess.WaitSettled(waitCtx)
			cancel()
			if err != nil {
				writeSessionPendingResponse(w)
				return
			}

			snap := sess.Snapshot()
			decision := session.Decide(snap, r.URL.Path)

			switch decision.Kind {
			case session.DecisionAllow:
				ctx := ContextWithIdentity(r.Context(), snap.Identity)
				next.ServeHTTP(w, r.WithContext(ctx))

			case session.DecisionRedirect:
				writeRedirectResponse(w, decision)

			default:
				// WaitSettled通過後にAwaitSessionは到達しないが、防御的に503へ倒す
				writeSessionPendingResponse(w)
			}
		})
	}
}

// writeRedirectResponse は未認証リクエストへの401レスポンスを書き込む。
// リダイレクト先と復帰パスを含め、クライアント側がログイン後に
// 元のページへ戻れるようにする。
func writeRedirectResponse(w http.ResponseWriter, decision session.Decision) {
	apiErr := model.NewUnauthorizedError()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(map[string]string{
		"code":     apiErr.Code,
		"message":  apiErr.Message,
		"category": apiErr.Category,
		"action":   apiErr.Action,
		"redirect": decision.Target,
		"returnTo": decision.ReturnTo,
	})
}

// writeSessionPendingResponse はセッション確定待ちの503レスポンスを書き込む。
func writeSessionPendingResponse(w http.ResponseWriter) {
	w.Header().Set("Retry-After", "1")
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusServiceUnavailable)
	json.NewEncoder(w).Encode(map[string]string{
		"code":     "SESSION_PENDING",
		"message":  "セッションの初期化が完了していません。",
		"category": "system",
		"action":   "しばらく待ってから再度お試しください。",
	})
}

// IdentityFromContext はリクエストコンテキストから認証済みidentityを取得する。
// セッションミドルウェアを通過したリクエストでのみ有効。
func IdentityFromContext(ctx context.Context) (*model.Identity, error) {
	ident, ok := ctx.Value(identityContextKey).(*model.Identity)
	if !ok || ident == nil {
		return nil, fmt.Errorf("identity not found in context")
	}
	return ident, nil
}

// ContextWithIdentity はコンテキストにidentityを注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithIdentity(ctx context.Context, ident *model.Identity) context.Context {
	return context.WithValue(ctx, identityContextKey, ident)
}
