package session

// DecisionKind は保護されたビューへの遷移可否の判定結果を表す。
type DecisionKind string

const (
	// DecisionAllow は遷移を許可する。
	DecisionAllow DecisionKind = "allow"
	// DecisionRedirect はログイン画面へのリダイレクトを指示する。
	DecisionRedirect DecisionKind = "redirect"
	// DecisionAwaitSession はセッション確定待ちを指示する。
	// 中立的なローディング表示のみを行い、リダイレクトしてはならない。
	DecisionAwaitSession DecisionKind = "await_session"
)

// Decision は遷移判定の結果。RedirectのときだけTargetとReturnToが設定される。
type Decision struct {
	Kind     DecisionKind
	Target   string
	ReturnTo string
}

// loginPath はリダイレクト先のログイン画面パス。
const loginPath = "/login"

// Decide はセッション状態と要求パスから遷移可否を判定する純粋関数。
//
// Initializingの間は必ずAwaitSessionを返す。初回通知前にリダイレクトすると、
// リロードのたびに認証済みユーザーがログイン画面へ飛ばされる。
// この早すぎるリダイレクトこそ、このガードが存在する理由である。
func Decide(snap Snapshot, requestedPath string) Decision {
	if snap.Status == StatusInitializing {
		return Decision{Kind: DecisionAwaitSession}
	}
	if snap.Identity == nil {
		return Decision{
			Kind:     DecisionRedirect,
			Target:   loginPath,
			ReturnTo: requestedPath,
		}
	}
	return Decision{Kind: DecisionAllow}
}
