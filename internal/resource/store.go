// Package resource はサーバー由来リソースへの型付きアクセス層を提供する。
// 各リソース種別をキャッシュに束ね、読み取りと無効化の唯一の入口になる。
package resource

import (
	"context"
	"log/slog"
	"time"

	"github.com/kentaro/rentway/internal/api"
	"github.com/kentaro/rentway/internal/cache"
	"github.com/kentaro/rentway/internal/model"
)

// Backend はリソース取得に使うバックエンドAPIのインターフェース。
// api.Clientの読み取り系メソッドの部分集合として定義する。
type Backend interface {
	ListVehicles(ctx context.Context, q api.VehicleQuery) ([]model.Vehicle, error)
	LatestVehicles(ctx context.Context) ([]model.Vehicle, error)
	GetVehicle(ctx context.Context, id model.FlexID) (*model.Vehicle, error)
	MyVehicles(ctx context.Context, ownerEmail string) ([]model.Vehicle, error)
	MyBookings(ctx context.Context, userEmail string) ([]model.Booking, error)
}

// Store はリソース種別ごとのキャッシュとバックエンドを束ねる。
type Store struct {
	backend Backend

	vehicleLists *cache.Cache[[]model.Vehicle]
	vehicles     *cache.Cache[*model.Vehicle]
	bookings     *cache.Cache[[]model.Booking]
}

// NewStore はStoreを生成する。
func NewStore(backend Backend, ttl, fetchTimeout time.Duration, metrics cache.Metrics, logger *slog.Logger) *Store {
	return &Store{
		backend:      backend,
		vehicleLists: cache.New[[]model.Vehicle](ttl, fetchTimeout, metrics, logger),
		vehicles:     cache.New[*model.Vehicle](ttl, fetchTimeout, metrics, logger),
		bookings:     cache.New[[]model.Booking](ttl, fetchTimeout, metrics, logger),
	}
}

// Vehicles は検索条件付きの車両一覧を返す。
// 同一条件の一覧は同一キャッシュエントリを共有する。
func (s *Store) Vehicles(ctx context.Context, q api.VehicleQuery) ([]model.Vehicle, error) {
	key := cache.NewKey(cache.KindVehicles, q.Params(), "")
	entry, err := s.vehicleLists.ReadWait(ctx, key, func(ctx context.Context) ([]model.Vehicle, error) {
		return s.backend.ListVehicles(ctx, q)
	})
	if err != nil {
		return nil, err
	}
	return entry.Data, nil
}

// LatestVehicles はトップページ向けの最新車両一覧を返す。
func (s *Store) LatestVehicles(ctx context.Context) ([]model.Vehicle, error) {
	key := cache.NewKey(cache.KindLatestVehicles, nil, "")
	entry, err := s.vehicleLists.ReadWait(ctx, key, func(ctx context.Context) ([]model.Vehicle, error) {
		return s.backend.LatestVehicles(ctx)
	})
	if err != nil {
		return nil, err
	}
	return entry.Data, nil
}

// Vehicle は単一車両を返す。
func (s *Store) Vehicle(ctx context.Context, id model.FlexID) (*model.Vehicle, error) {
	key := cache.NewKey(cache.KindVehicle, map[string]string{"id": id.String()}, "")
	entry, err := s.vehicles.ReadWait(ctx, key, func(ctx context.Context) (*model.Vehicle, error) {
		return s.backend.GetVehicle(ctx, id)
	})
	if err != nil {
		return nil, err
	}
	return entry.Data, nil
}

// MyVehicles は所有者の車両一覧を返す。キーは所有者スコープを持つ。
func (s *Store) MyVehicles(ctx context.Context, ownerEmail string) ([]model.Vehicle, error) {
	key := cache.NewKey(cache.KindMyVehicles, nil, ownerEmail)
	entry, err := s.vehicleLists.ReadWait(ctx, key, func(ctx context.Context) ([]model.Vehicle, error) {
		return s.backend.MyVehicles(ctx, ownerEmail)
	})
	if err != nil {
		return nil, err
	}
	return entry.Data, nil
}

// MyBookings はユーザーの予約一覧を返す。キーは所有者スコープを持つ。
func (s *Store) MyBookings(ctx context.Context, userEmail string) ([]model.Booking, error) {
	key := cache.NewKey(cache.KindMyBookings, nil, userEmail)
	entry, err := s.bookings.ReadWait(ctx, key, func(ctx context.Context) ([]model.Booking, error) {
		return s.backend.MyBookings(ctx, userEmail)
	})
	if err != nil {
		return nil, err
	}
	return entry.Data, nil
}

// InvalidateVehicle は単一車両のエントリを無効化する。
func (s *Store) InvalidateVehicle(id model.FlexID) {
	target := cache.NewKey(cache.KindVehicle, map[string]string{"id": id.String()}, "")
	s.vehicles.Invalidate(func(key cache.Key) bool { return key == target })
}

// InvalidateVehicleLists は全件系の一覧（検索一覧・最新一覧）を無効化する。
// 車両の登録・更新・削除後に呼ばれ、どの検索条件の一覧にも古い内容を残さない。
func (s *Store) InvalidateVehicleLists() {
	s.vehicleLists.Invalidate(cache.MatchKind(cache.KindVehicles, cache.KindLatestVehicles))
}

// InvalidateMyVehicles は指定所有者の所有車両一覧だけを無効化する。
func (s *Store) InvalidateMyVehicles(ownerEmail string) {
	s.vehicleLists.Invalidate(cache.MatchOwner(cache.KindMyVehicles, ownerEmail))
}

// InvalidateMyBookings は指定ユーザーの予約一覧だけを無効化する。
func (s *Store) InvalidateMyBookings(userEmail string) {
	s.bookings.Invalidate(cache.MatchOwner(cache.KindMyBookings, userEmail))
}
