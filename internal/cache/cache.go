// Package cache はサーバー由来データの鍵付きキャッシュを提供する。
// 取得中の重複リクエスト排除と、ミューテーション後の無効化を一手に引き受ける。
package cache

import (
	"context"
	"log/slog"
	"net/url"
	"sync"
	"time"
)

// Kind はキャッシュ対象のリソース種別を表す。
type Kind string

const (
	// KindVehicles は検索条件付きの車両一覧。
	KindVehicles Kind = "vehicles"
	// KindLatestVehicles はトップページ向けの最新車両一覧。
	KindLatestVehicles Kind = "latest-vehicles"
	// KindVehicle は単一車両。
	KindVehicle Kind = "vehicle"
	// KindMyVehicles は所有者単位の車両一覧。
	KindMyVehicles Kind = "my-vehicles"
	// KindMyBookings はユーザー単位の予約一覧。
	KindMyBookings Kind = "my-bookings"
)

// Key は構造化されたキャッシュキー。
// アドホックなクエリ文字列連結ではなく、種別・正規化済みパラメータ・
// 所有者スコープの組で表現する。無効化は集合のメンバーシップ判定になる。
type Key struct {
	Kind   Kind
	Params string // 正規化済みパラメータ（キー順ソート済み）
	Owner  string // 所有者スコープ（所有者単位リソースのみ設定）
}

// NewKey は構造化キーを生成する。パラメータはキー順にソートして正規化する。
func NewKey(kind Kind, params map[string]string, owner string) Key {
	values := url.Values{}
	for k, v := range params {
		if v != "" {
			values.Set(k, v)
		}
	}
	return Key{
		Kind:   kind,
		Params: values.Encode(), // Encodeはキー順ソートを保証する
		Owner:  owner,
	}
}

// Status はキャッシュエントリの状態を表す。
type Status string

const (
	// StatusIdle は未取得の状態。
	StatusIdle Status = "idle"
	// StatusLoading は取得中の状態。
	StatusLoading Status = "loading"
	// StatusFresh は取得済みで有効な状態。
	StatusFresh Status = "fresh"
	// StatusStale は無効化済みで、次回読み取り時に再取得される状態。
	// データは破棄されず、再取得完了まで前回値の表示に使える。
	StatusStale Status = "stale"
	// StatusError は直近の取得が失敗した状態。前回データがあれば保持される。
	StatusError Status = "error"
)

// Entry はエントリ状態の読み取り専用スナップショット。
type Entry[T any] struct {
	Key       Key
	Data      T
	HasData   bool
	FetchedAt time.Time
	Status    Status
	Err       error
}

// FetchFunc はリソースの取得処理。
type FetchFunc[T any] func(ctx context.Context) (T, error)

// Metrics はキャッシュが記録するメトリクスのインターフェース。
// metrics.Collectorの部分集合として定義する。
type Metrics interface {
	RecordCacheHit(kind string)
	RecordFetchDedup(kind string)
	RecordFetchLatency(kind string, d time.Duration)
	RecordFetchError(kind string)
}

// noopMetrics はメトリクス未設定時のフォールバック。
type noopMetrics struct{}

func (noopMetrics) RecordCacheHit(string)                    {}
func (noopMetrics) RecordFetchDedup(string)                  {}
func (noopMetrics) RecordFetchLatency(string, time.Duration) {}
func (noopMetrics) RecordFetchError(string)                  {}

// entry はエントリの内部状態。各キーのエントリを書き換えるのは
// そのキーのfetch/invalidateの組だけである。
type entry[T any] struct {
	data         T
	hasData      bool
	fetchedAt    time.Time
	status       Status
	err          error
	done         chan struct{} // Loading中のみ非nil
	pendingStale bool          // 取得中に無効化された場合、完了後すぐStaleにする
}

// Cache は種別Tのリソースに対する鍵付きキャッシュ。
type Cache[T any] struct {
	mu           sync.Mutex
	entries      map[Key]*entry[T]
	ttl          time.Duration // 0なら時間経過による自動Stale化は行わない
	fetchTimeout time.Duration
	metrics      Metrics
	logger       *slog.Logger
}

// New はCacheを生成する。
func New[T any](ttl, fetchTimeout time.Duration, metrics Metrics, logger *slog.Logger) *Cache[T] {
	if metrics == nil {
		metrics = noopMetrics{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache[T]{
		entries:      make(map[Key]*entry[T]),
		ttl:          ttl,
		fetchTimeout: fetchTimeout,
		metrics:      metrics,
		logger:       logger,
	}
}

// closedCh は取得中でないエントリに返す、常に選択可能なチャネル。
var closedCh = func() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()

// Read はエントリを読み取る。IdleまたはStale（またはError）なら取得を開始し、
// 前回データがあればそれを即座に返す。取得中のキーに対しては新しい取得を
// 発行せず、進行中の取得の完了チャネルを返す（重複リクエスト排除）。
// 返り値のチャネルは取得完了時に閉じられる。
func (c *Cache[T]) Read(ctx context.Context, key Key, fetch FetchFunc[T]) (Entry[T], <-chan struct{}) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		e = &entry[T]{status: StatusIdle}
		c.entries[key] = e
	}

	switch e.status {
	case StatusFresh:
		if c.ttl > 0 && time.Since(e.fetchedAt) > c.ttl {
			// TTL超過は無効化と同じ扱いで再取得する
			c.startFetchLocked(ctx, key, e, fetch)
			return c.snapshotLocked(key, e), e.done
		}
		c.metrics.RecordCacheHit(string(key.Kind))
		return c.snapshotLocked(key, e), closedCh

	case StatusLoading:
		c.metrics.RecordFetchDedup(string(key.Kind))
		return c.snapshotLocked(key, e), e.done

	default: // Idle, Stale, Error
		c.startFetchLocked(ctx, key, e, fetch)
		return c.snapshotLocked(key, e), e.done
	}
}

// ReadWait はReadの待機版。前回データが無い場合のみ取得完了まで待つ。
// 前回データがあれば即座に返し、再取得はバックグラウンドで継続する。
// ctxの終了で待機を打ち切った場合、取得結果は呼び出し元へ届かないが、
// キャッシュ本体への反映は継続する（結果は破棄され、後続読み取りが拾う）。
func (c *Cache[T]) ReadWait(ctx context.Context, key Key, fetch FetchFunc[T]) (Entry[T], error) {
	snap, done := c.Read(ctx, key, fetch)

	if snap.HasData {
		return snap, nil
	}
	if snap.Status != StatusLoading {
		if snap.Status == StatusError {
			return snap, snap.Err
		}
		return snap, nil
	}

	select {
	case <-ctx.Done():
		return snap, ctx.Err()
	case <-done:
	}

	snap = c.Get(key)
	if !snap.HasData && snap.Err != nil {
		return snap, snap.Err
	}
	return snap, nil
}

// startFetchLocked は取得ゴルーチンを起動する。muを保持して呼ぶこと。
func (c *Cache[T]) startFetchLocked(ctx context.Context, key Key, e *entry[T], fetch FetchFunc[T]) {
	e.status = StatusLoading
	e.done = make(chan struct{})

	// 呼び出し元のビューが離脱しても取得自体は完走させる。
	// 結果はキャッシュにだけ反映され、離脱したビューには適用されない。
	fetchCtx := context.WithoutCancel(ctx)

	go c.runFetch(fetchCtx, key, fetch)
}

// runFetch は取得を実行し、結果をエントリへ反映する。
func (c *Cache[T]) runFetch(ctx context.Context, key Key, fetch FetchFunc[T]) {
	if c.fetchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.fetchTimeout)
		defer cancel()
	}

	start := time.Now()
	data, err := fetch(ctx)
	c.metrics.RecordFetchLatency(string(key.Kind), time.Since(start))

	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok || e.done == nil {
		return
	}

	if err != nil {
		// 前回データは保持する。無関係な一時障害で有効な表示を失わない。
		e.status = StatusError
		e.err = err
		e.pendingStale = false
		c.metrics.RecordFetchError(string(key.Kind))
		c.logger.Warn("resource fetch failed",
			slog.String("kind", string(key.Kind)),
			slog.String("params", key.Params),
			slog.String("error", err.Error()),
		)
	} else {
		e.data = data
		e.hasData = true
		e.fetchedAt = time.Now()
		e.err = nil
		if e.pendingStale {
			// 取得中に無効化された。結果は反映するが即座に再取得対象とする。
			e.status = StatusStale
			e.pendingStale = false
		} else {
			e.status = StatusFresh
		}
	}

	close(e.done)
	e.done = nil
}

// Get は現在のエントリ状態のスナップショットを返す。取得は開始しない。
func (c *Cache[T]) Get(key Key) Entry[T] {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return Entry[T]{Key: key, Status: StatusIdle}
	}
	return c.snapshotLocked(key, e)
}

// Invalidate は述語に一致するすべてのキーをStaleにする。
// データは破棄しないため、再取得が完了するまでUIは前回値を表示し続けられる。
// 取得中のエントリは完了後すぐStaleになる。
func (c *Cache[T]) Invalidate(pred func(Key) bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for key, e := range c.entries {
		if !pred(key) {
			continue
		}
		switch e.status {
		case StatusLoading:
			e.pendingStale = true
		case StatusFresh, StatusError:
			e.status = StatusStale
		case StatusIdle, StatusStale:
			// 変更不要
		}
	}
}

// snapshotLocked はエントリのスナップショットを生成する。muを保持して呼ぶこと。
func (c *Cache[T]) snapshotLocked(key Key, e *entry[T]) Entry[T] {
	return Entry[T]{
		Key:       key,
		Data:      e.data,
		HasData:   e.hasData,
		FetchedAt: e.fetchedAt,
		Status:    e.status,
		Err:       e.err,
	}
}

// MatchKind は種別の一致だけを見る無効化述語を返す。
func MatchKind(kinds ...Kind) func(Key) bool {
	return func(key Key) bool {
		for _, k := range kinds {
			if key.Kind == k {
				return true
			}
		}
		return false
	}
}

// MatchOwner は種別と所有者スコープの両方が一致する無効化述語を返す。
// ある所有者のmy-vehiclesを無効化しても、別の所有者の同種エントリには触れない。
func MatchOwner(kind Kind, owner string) func(Key) bool {
	return func(key Key) bool {
		return key.Kind == kind && key.Owner == owner
	}
}
