// Package booking は予約の作成とキャンセルを調整する。
// 予約状態のシステムオブレコードはバックエンドであり、このパッケージは
// 楽観的更新を行わない。成功後のキャッシュ無効化だけで整合性を回復する。
package booking

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kentaro/rentway/internal/model"
)

// Eligibility は予約可否の判定結果を表す。
type Eligibility string

const (
	// EligibilityEligible は予約可能。
	EligibilityEligible Eligibility = "eligible"
	// EligibilityRequiresLogin は未ログインのため予約不可。
	EligibilityRequiresLogin Eligibility = "requires_login"
	// EligibilityAlreadyBooked は同一車両を既に予約済みのため予約不可。
	EligibilityAlreadyBooked Eligibility = "already_booked"
)

// CanBook は予約可否を判定する純粋関数。
// 既予約の判定は識別子の文字列正規化後に行う。バックエンドの応答形式に
// よって同じ車両が "42" と 42 の両方で現れるため、型を跨いだ比較が必要になる。
func CanBook(ident *model.Identity, vehicleID model.FlexID, myBookings []model.Booking) Eligibility {
	if ident == nil {
		return EligibilityRequiresLogin
	}
	for _, b := range myBookings {
		if b.Status == model.BookingStatusCancelled {
			continue
		}
		if b.TargetVehicleID().String() == vehicleID.String() {
			return EligibilityAlreadyBooked
		}
	}
	return EligibilityEligible
}

// Backend は予約ミューテーションに使うバックエンドAPIのインターフェース。
type Backend interface {
	CreateBooking(ctx context.Context, booking *model.Booking) (*model.Booking, error)
	CancelBooking(ctx context.Context, id model.FlexID) error
}

// Reader は既予約チェックに使う予約一覧の読み取りインターフェース。
type Reader interface {
	MyBookings(ctx context.Context, userEmail string) ([]model.Booking, error)
}

// Invalidator はミューテーション成功後のキャッシュ無効化インターフェース。
// resource.Storeの部分集合として定義する。
type Invalidator interface {
	InvalidateMyBookings(userEmail string)
	InvalidateVehicle(id model.FlexID)
}

// Metrics は予約操作が記録するメトリクスのインターフェース。
type Metrics interface {
	RecordBookingResult(operation, result string)
}

type noopMetrics struct{}

func (noopMetrics) RecordBookingResult(string, string) {}

// proposalTTL はキャンセル提案トークンの有効期間。
const proposalTTL = 2 * time.Minute

// proposal は確認待ちのキャンセル提案。
type proposal struct {
	bookingID model.FlexID
	userEmail string
	expiresAt time.Time
}

// Coordinator は予約操作の唯一の入口。
type Coordinator struct {
	backend     Backend
	reader      Reader
	invalidator Invalidator
	metrics     Metrics
	logger      *slog.Logger
	now         func() time.Time // テスト用に差し替え可能

	mu        sync.Mutex
	proposals map[string]proposal
}

// NewCoordinator はCoordinatorを生成する。
func NewCoordinator(backend Backend, reader Reader, invalidator Invalidator, metrics Metrics, logger *slog.Logger) *Coordinator {
	if metrics == nil {
		metrics = noopMetrics{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		backend:     backend,
		reader:      reader,
		invalidator: invalidator,
		metrics:     metrics,
		logger:      logger,
		now:         time.Now,
		proposals:   make(map[string]proposal),
	}
}

// Book は予約を作成する。成功時のみ、本人の予約一覧と対象車両の
// キャッシュを無効化する。失敗時はキャッシュに触れない。
func (c *Coordinator) Book(ctx context.Context, ident *model.Identity, vehicleID model.FlexID) (*model.Booking, error) {
	if ident == nil {
		return nil, model.NewUnauthorizedError()
	}

	// 既予約チェックは利便性のための事前判定。最終的な拒否はバックエンドが行う。
	myBookings, err := c.reader.MyBookings(ctx, ident.Email)
	if err != nil {
		c.logger.Warn("booking precheck skipped, list unavailable",
			slog.String("error", err.Error()),
		)
	} else if CanBook(ident, vehicleID, myBookings) == EligibilityAlreadyBooked {
		c.metrics.RecordBookingResult("book", "already_booked")
		return nil, model.NewBookingFailedError("この車両は既に予約済みです")
	}

	created, err := c.backend.CreateBooking(ctx, &model.Booking{
		VehicleID: vehicleID,
		UserEmail: ident.Email,
		Status:    model.BookingStatusActive,
		BookedAt:  c.now(),
	})
	if err != nil {
		c.metrics.RecordBookingResult("book", "failure")
		return nil, err
	}

	c.invalidator.InvalidateMyBookings(ident.Email)
	c.invalidator.InvalidateVehicle(vehicleID)
	c.metrics.RecordBookingResult("book", "success")

	c.logger.Info("booking created",
		slog.String("booking_id", created.ID.String()),
		slog.String("vehicle_id", vehicleID.String()),
	)
	return created, nil
}

// ProposeCancel はキャンセルの確認ステップを開始し、確認トークンを返す。
// トークンの有効期間は短く、ConfirmCancelで1回だけ使える。
func (c *Coordinator) ProposeCancel(ctx context.Context, ident *model.Identity, bookingID model.FlexID) (string, error) {
	if ident == nil {
		return "", model.NewUnauthorizedError()
	}

	myBookings, err := c.reader.MyBookings(ctx, ident.Email)
	if err != nil {
		return "", err
	}
	found := false
	for _, b := range myBookings {
		if b.ID.String() == bookingID.String() {
			found = true
			break
		}
	}
	if !found {
		return "", model.NewBookingNotFoundError(bookingID.String())
	}

	token := uuid.New().String()
	c.mu.Lock()
	c.proposals[token] = proposal{
		bookingID: bookingID,
		userEmail: ident.Email,
		expiresAt: c.now().Add(proposalTTL),
	}
	c.mu.Unlock()

	return token, nil
}

// ConfirmCancel は確認トークンを検証し、キャンセルを実行する。
// トークンが無効・期限切れ・他人のものの場合はCONFIRMATION_REQUIREDを返す。
// バックエンド側で予約が既に消えている場合も成功として扱う（冪等）。
func (c *Coordinator) ConfirmCancel(ctx context.Context, ident *model.Identity, token string) error {
	if ident == nil {
		return model.NewUnauthorizedError()
	}

	c.mu.Lock()
	p, ok := c.proposals[token]
	if ok {
		delete(c.proposals, token)
	}
	c.mu.Unlock()

	if !ok || p.userEmail != ident.Email || c.now().After(p.expiresAt) {
		return model.NewConfirmationRequiredError("予約のキャンセル")
	}

	if err := c.backend.CancelBooking(ctx, p.bookingID); err != nil {
		c.metrics.RecordBookingResult("cancel", "failure")
		return err
	}

	c.invalidator.InvalidateMyBookings(ident.Email)
	c.metrics.RecordBookingResult("cancel", "success")

	c.logger.Info("booking cancelled",
		slog.String("booking_id", p.bookingID.String()),
	)
	return nil
}
