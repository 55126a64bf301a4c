// Package api はレンタルバックエンドAPIのクライアントを提供する。
// バックエンドがシステムオブレコードであり、このクライアントは取得と
// ミューテーション依頼だけを行う。整合性の回復はキャッシュ無効化に委ねる。
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/kentaro/rentway/internal/model"
)

// TokenSource は現在のセッションの認証トークンを返す。
// 未認証の間は空文字を返す。
type TokenSource func() string

// Client はレンタルバックエンドAPIのクライアント。
type Client struct {
	httpClient  *http.Client
	logger      *slog.Logger
	baseURL     string // テスト用にエンドポイントを差し替え可能
	tokenSource TokenSource
}

// NewClient はClientの新しいインスタンスを生成する。
// tokenSourceがnilの場合、リクエストに認証情報を付与しない。
func NewClient(httpClient *http.Client, baseURL string, logger *slog.Logger, tokenSource TokenSource) *Client {
	return &Client{
		httpClient:  httpClient,
		logger:      logger,
		baseURL:     strings.TrimRight(baseURL, "/"),
		tokenSource: tokenSource,
	}
}

// VehicleQuery は車両一覧の検索条件。ゼロ値のフィールドは条件に含めない。
type VehicleQuery struct {
	Search   string
	Category string
	Location string
	Sort     string // price-asc, price-desc, newest
}

// Params はキャッシュキーのパラメータ表現を返す。
func (q VehicleQuery) Params() map[string]string {
	return map[string]string{
		"search":   q.Search,
		"category": q.Category,
		"location": q.Location,
		"sort":     q.Sort,
	}
}

// errorBody はバックエンドのエラー応答ボディ。
type errorBody struct {
	Message string `json:"message"`
}

// readErrorMessage はエラー応答から表示用メッセージを取り出す。
// ボディが期待形式でない場合は空文字を返す。
func readErrorMessage(body []byte) string {
	var eb errorBody
	if err := json.Unmarshal(body, &eb); err != nil {
		return ""
	}
	return eb.Message
}

// doJSON はリクエストを実行し、ステータスとボディを返す。
// 通信断はすべてNETWORK_ERRORに正規化する。
func (c *Client) doJSON(ctx context.Context, method, path string, query url.Values, payload any) (int, []byte, error) {
	reqURL := c.baseURL + path
	if len(query) > 0 {
		reqURL += "?" + query.Encode()
	}

	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return 0, nil, fmt.Errorf("リクエストボディのエンコードに失敗しました: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, body)
	if err != nil {
		return 0, nil, fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("User-Agent", "Rentway/1.0")
	if c.tokenSource != nil {
		if token := c.tokenSource(); token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("バックエンドAPIの呼び出しに失敗しました",
			slog.String("method", method),
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		return 0, nil, model.NewNetworkError()
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("レスポンスボディの読み取りに失敗しました: %w", err)
	}

	return resp.StatusCode, data, nil
}

// ListVehicles は検索条件付きの車両一覧を取得する。
func (c *Client) ListVehicles(ctx context.Context, q VehicleQuery) ([]model.Vehicle, error) {
	query := url.Values{}
	for k, v := range q.Params() {
		if v != "" {
			query.Set(k, v)
		}
	}

	status, body, err := c.doJSON(ctx, http.MethodGet, "/vehicles", query, nil)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("車両一覧の取得に失敗しました: ステータス %d", status)
	}

	var vehicles []model.Vehicle
	if err := json.Unmarshal(body, &vehicles); err != nil {
		return nil, fmt.Errorf("車両一覧のパースに失敗しました: %w", err)
	}
	return vehicles, nil
}

// LatestVehicles はトップページ向けの最新車両一覧を取得する。
func (c *Client) LatestVehicles(ctx context.Context) ([]model.Vehicle, error) {
	status, body, err := c.doJSON(ctx, http.MethodGet, "/latest-vehicles", nil, nil)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("最新車両一覧の取得に失敗しました: ステータス %d", status)
	}

	var vehicles []model.Vehicle
	if err := json.Unmarshal(body, &vehicles); err != nil {
		return nil, fmt.Errorf("最新車両一覧のパースに失敗しました: %w", err)
	}
	return vehicles, nil
}

// GetVehicle は単一車両を取得する。存在しない場合はVEHICLE_NOT_FOUNDを返す。
func (c *Client) GetVehicle(ctx context.Context, id model.FlexID) (*model.Vehicle, error) {
	status, body, err := c.doJSON(ctx, http.MethodGet, "/vehicle/"+url.PathEscape(id.String()), nil, nil)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound {
		return nil, model.NewVehicleNotFoundError(id.String())
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("車両の取得に失敗しました: ステータス %d", status)
	}

	var vehicle model.Vehicle
	if err := json.Unmarshal(body, &vehicle); err != nil {
		return nil, fmt.Errorf("車両のパースに失敗しました: %w", err)
	}
	return &vehicle, nil
}

// MyVehicles は所有者の車両一覧を取得する。
func (c *Client) MyVehicles(ctx context.Context, ownerEmail string) ([]model.Vehicle, error) {
	status, body, err := c.doJSON(ctx, http.MethodGet, "/my-vehicles/"+url.PathEscape(ownerEmail), nil, nil)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("所有車両一覧の取得に失敗しました: ステータス %d", status)
	}

	var vehicles []model.Vehicle
	if err := json.Unmarshal(body, &vehicles); err != nil {
		return nil, fmt.Errorf("所有車両一覧のパースに失敗しました: %w", err)
	}
	return vehicles, nil
}

// CreateVehicle は車両リスティングを登録する。
func (c *Client) CreateVehicle(ctx context.Context, vehicle *model.Vehicle) (*model.Vehicle, error) {
	status, body, err := c.doJSON(ctx, http.MethodPost, "/vehicles", nil, vehicle)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK && status != http.StatusCreated {
		c.logger.Error("車両登録がエラーステータスを返しました",
			slog.Int("http_status", status),
		)
		return nil, fmt.Errorf("車両の登録に失敗しました: ステータス %d", status)
	}

	var created model.Vehicle
	if err := json.Unmarshal(body, &created); err != nil {
		return nil, fmt.Errorf("登録結果のパースに失敗しました: %w", err)
	}
	return &created, nil
}

// UpdateVehicle は車両リスティングを更新する。
func (c *Client) UpdateVehicle(ctx context.Context, id model.FlexID, vehicle *model.Vehicle) (*model.Vehicle, error) {
	status, body, err := c.doJSON(ctx, http.MethodPut, "/vehicle/"+url.PathEscape(id.String()), nil, vehicle)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound {
		return nil, model.NewVehicleNotFoundError(id.String())
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("車両の更新に失敗しました: ステータス %d", status)
	}

	var updated model.Vehicle
	if err := json.Unmarshal(body, &updated); err != nil {
		return nil, fmt.Errorf("更新結果のパースに失敗しました: %w", err)
	}
	return &updated, nil
}

// DeleteVehicle は車両リスティングを削除する。
func (c *Client) DeleteVehicle(ctx context.Context, id model.FlexID) error {
	status, _, err := c.doJSON(ctx, http.MethodDelete, "/vehicle/"+url.PathEscape(id.String()), nil, nil)
	if err != nil {
		return err
	}
	if status == http.StatusNotFound {
		return model.NewVehicleNotFoundError(id.String())
	}
	if status != http.StatusOK && status != http.StatusNoContent {
		return fmt.Errorf("車両の削除に失敗しました: ステータス %d", status)
	}
	return nil
}

// MyBookings はユーザーの予約一覧を取得する。
func (c *Client) MyBookings(ctx context.Context, userEmail string) ([]model.Booking, error) {
	status, body, err := c.doJSON(ctx, http.MethodGet, "/bookings/"+url.PathEscape(userEmail), nil, nil)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("予約一覧の取得に失敗しました: ステータス %d", status)
	}

	var bookings []model.Booking
	if err := json.Unmarshal(body, &bookings); err != nil {
		return nil, fmt.Errorf("予約一覧のパースに失敗しました: %w", err)
	}
	return bookings, nil
}

// CreateBooking は予約を登録する。
// バックエンドが4xxを返した場合、応答のmessageを含むBOOKING_FAILEDにする。
func (c *Client) CreateBooking(ctx context.Context, booking *model.Booking) (*model.Booking, error) {
	status, body, err := c.doJSON(ctx, http.MethodPost, "/bookings", nil, booking)
	if err != nil {
		return nil, err
	}
	if status >= 400 && status < 500 {
		return nil, model.NewBookingFailedError(readErrorMessage(body))
	}
	if status != http.StatusOK && status != http.StatusCreated {
		c.logger.Error("予約登録がエラーステータスを返しました",
			slog.Int("http_status", status),
		)
		return nil, model.NewBookingFailedError(fmt.Sprintf("サーバーエラー (ステータス %d)", status))
	}

	var created model.Booking
	if err := json.Unmarshal(body, &created); err != nil {
		return nil, fmt.Errorf("予約結果のパースに失敗しました: %w", err)
	}
	return &created, nil
}

// CancelBooking は予約のキャンセルを依頼する。
// 予約が既に存在しない場合（404）は、望んだ最終状態に到達しているため
// 成功として扱う。キャンセルは冪等である。
func (c *Client) CancelBooking(ctx context.Context, id model.FlexID) error {
	status, body, err := c.doJSON(ctx, http.MethodDelete, "/bookings/"+url.PathEscape(id.String()), nil, nil)
	if err != nil {
		return err
	}
	switch {
	case status == http.StatusOK || status == http.StatusNoContent:
		return nil
	case status == http.StatusNotFound:
		c.logger.Info("cancel target already absent, treating as success",
			slog.String("booking_id", id.String()),
		)
		return nil
	case status >= 400 && status < 500:
		return model.NewBookingFailedError(readErrorMessage(body))
	default:
		return fmt.Errorf("予約のキャンセルに失敗しました: ステータス %d", status)
	}
}
