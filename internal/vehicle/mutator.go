// Package vehicle は車両リスティングの登録・更新・削除を提供する。
// 登録は画像アップロードとレコード送信の2フェーズで行い、第1フェーズの
// 失敗時は第2フェーズへ進まない。孤児画像の補償削除は行わない。
package vehicle

import (
	"context"
	"log/slog"
	"time"

	"github.com/kentaro/rentway/internal/model"
)

// Uploader は画像ホスティングサービスのインターフェース。
type Uploader interface {
	Upload(ctx context.Context, filename string, image []byte) (string, error)
}

// Backend は車両ミューテーションに使うバックエンドAPIのインターフェース。
type Backend interface {
	GetVehicle(ctx context.Context, id model.FlexID) (*model.Vehicle, error)
	CreateVehicle(ctx context.Context, vehicle *model.Vehicle) (*model.Vehicle, error)
	UpdateVehicle(ctx context.Context, id model.FlexID, vehicle *model.Vehicle) (*model.Vehicle, error)
	DeleteVehicle(ctx context.Context, id model.FlexID) error
}

// Sanitizer は説明文のサニタイズインターフェース。
// security.ContentSanitizerServiceの部分集合として定義する。
type Sanitizer interface {
	Sanitize(rawHTML string) string
}

// Invalidator はミューテーション成功後のキャッシュ無効化インターフェース。
type Invalidator interface {
	InvalidateVehicleLists()
	InvalidateMyVehicles(ownerEmail string)
	InvalidateVehicle(id model.FlexID)
}

// Metrics は車両操作が記録するメトリクスのインターフェース。
type Metrics interface {
	RecordVehicleMutation(operation, result string)
}

type noopMetrics struct{}

func (noopMetrics) RecordVehicleMutation(string, string) {}

// Draft は登録・更新フォームの入力内容。
type Draft struct {
	VehicleName   string
	PricePerDay   float64
	Category      model.Category
	Location      string
	Description   string
	Availability  model.Availability
	ImageFilename string
	Image         []byte // 更新時は空でよい（既存画像を維持）
	CoverImageURL string // 更新時に引き継ぐ既存画像URL
}

// Mutator は車両ミューテーションの唯一の入口。
type Mutator struct {
	backend     Backend
	uploader    Uploader
	sanitizer   Sanitizer
	invalidator Invalidator
	metrics     Metrics
	logger      *slog.Logger
	now         func() time.Time // テスト用に差し替え可能
}

// NewMutator はMutatorを生成する。
func NewMutator(backend Backend, uploader Uploader, sanitizer Sanitizer, invalidator Invalidator, metrics Metrics, logger *slog.Logger) *Mutator {
	if metrics == nil {
		metrics = noopMetrics{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Mutator{
		backend:     backend,
		uploader:    uploader,
		sanitizer:   sanitizer,
		invalidator: invalidator,
		metrics:     metrics,
		logger:      logger,
		now:         time.Now,
	}
}

// validateDraft は登録・更新共通の入力検証を行う。
func validateDraft(d Draft) error {
	if d.VehicleName == "" {
		return model.NewValidationError("vehicleName", "車両名は必須です")
	}
	if d.PricePerDay <= 0 {
		return model.NewValidationError("pricePerDay", "1日あたりの料金は正の数である必要があります")
	}
	if !model.ValidCategory(d.Category) {
		return model.NewValidationError("category", "カテゴリが不正です")
	}
	return nil
}

// Create は車両リスティングを登録する。
// 第1フェーズで画像をアップロードし、成功した場合のみ第2フェーズで
// レコードを送信する。画像失敗時はバックエンドに不完全なレコードを残さない。
func (m *Mutator) Create(ctx context.Context, ident *model.Identity, draft Draft) (*model.Vehicle, error) {
	if ident == nil {
		return nil, model.NewUnauthorizedError()
	}
	if err := validateDraft(draft); err != nil {
		return nil, err
	}
	if len(draft.Image) == 0 {
		return nil, model.NewValidationError("image", "カバー画像は必須です")
	}

	coverURL, err := m.uploader.Upload(ctx, draft.ImageFilename, draft.Image)
	if err != nil {
		m.metrics.RecordVehicleMutation("create", "image_failure")
		return nil, err
	}

	availability := draft.Availability
	if availability == "" {
		availability = model.AvailabilityAvailable
	}

	created, err := m.backend.CreateVehicle(ctx, &model.Vehicle{
		VehicleName:   draft.VehicleName,
		OwnerName:     ident.OwnerName(),
		OwnerEmail:    ident.Email,
		PricePerDay:   draft.PricePerDay,
		Category:      draft.Category,
		Location:      draft.Location,
		Description:   m.sanitizer.Sanitize(draft.Description),
		Availability:  availability,
		CoverImageURL: coverURL,
		CreatedAt:     m.now(),
	})
	if err != nil {
		// 画像は既にホスティング側へ残っているが、補償削除はしない。
		m.metrics.RecordVehicleMutation("create", "failure")
		return nil, err
	}

	m.invalidator.InvalidateVehicleLists()
	m.invalidator.InvalidateMyVehicles(ident.Email)
	m.metrics.RecordVehicleMutation("create", "success")

	m.logger.Info("vehicle created",
		slog.String("vehicle_id", created.ID.String()),
		slog.String("owner", ident.Email),
	)
	return created, nil
}

// Update は車両リスティングを更新する。
// 新しい画像が指定された場合のみアップロードし、指定がなければ既存の
// カバー画像URLをそのまま引き継ぐ。所有権の検証は認証済みセッションの
// 要求までとし、所有者の照合はバックエンドに委ねる。
func (m *Mutator) Update(ctx context.Context, ident *model.Identity, id model.FlexID, draft Draft) (*model.Vehicle, error) {
	if ident == nil {
		return nil, model.NewUnauthorizedError()
	}
	if err := validateDraft(draft); err != nil {
		return nil, err
	}

	// 既存レコードはカバー画像と登録時情報の引き継ぎにのみ使う
	existing, err := m.backend.GetVehicle(ctx, id)
	if err != nil {
		return nil, err
	}

	coverURL := draft.CoverImageURL
	if coverURL == "" {
		coverURL = existing.CoverImageURL
	}
	if len(draft.Image) > 0 {
		coverURL, err = m.uploader.Upload(ctx, draft.ImageFilename, draft.Image)
		if err != nil {
			m.metrics.RecordVehicleMutation("update", "image_failure")
			return nil, err
		}
	}

	availability := draft.Availability
	if availability == "" {
		availability = existing.Availability
	}

	updated, err := m.backend.UpdateVehicle(ctx, id, &model.Vehicle{
		ID:            id,
		VehicleName:   draft.VehicleName,
		OwnerName:     existing.OwnerName,
		OwnerEmail:    existing.OwnerEmail,
		PricePerDay:   draft.PricePerDay,
		Category:      draft.Category,
		Location:      draft.Location,
		Description:   m.sanitizer.Sanitize(draft.Description),
		Availability:  availability,
		CoverImageURL: coverURL,
		CreatedAt:     existing.CreatedAt,
	})
	if err != nil {
		m.metrics.RecordVehicleMutation("update", "failure")
		return nil, err
	}

	m.invalidator.InvalidateVehicleLists()
	m.invalidator.InvalidateMyVehicles(ident.Email)
	m.invalidator.InvalidateVehicle(id)
	m.metrics.RecordVehicleMutation("update", "success")

	m.logger.Info("vehicle updated",
		slog.String("vehicle_id", id.String()),
	)
	return updated, nil
}

// Delete は車両リスティングを削除する。確認フラグの無い削除要求は
// CONFIRMATION_REQUIREDで拒否する。所有者の照合はバックエンドに委ねる。
func (m *Mutator) Delete(ctx context.Context, ident *model.Identity, id model.FlexID, confirmed bool) error {
	if ident == nil {
		return model.NewUnauthorizedError()
	}
	if !confirmed {
		return model.NewConfirmationRequiredError("車両の削除")
	}

	if err := m.backend.DeleteVehicle(ctx, id); err != nil {
		m.metrics.RecordVehicleMutation("delete", "failure")
		return err
	}

	m.invalidator.InvalidateVehicleLists()
	m.invalidator.InvalidateMyVehicles(ident.Email)
	m.invalidator.InvalidateVehicle(id)
	m.metrics.RecordVehicleMutation("delete", "success")

	m.logger.Info("vehicle deleted",
		slog.String("vehicle_id", id.String()),
	)
	return nil
}
