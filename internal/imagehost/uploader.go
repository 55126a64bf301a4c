// Package imagehost は外部画像ホスティングサービスへのアップロードを提供する。
// 車両リスティング登録の第1フェーズとして使われ、成功時の公開URLだけが
// バックエンドへ渡る。失敗時にサービス側へ残った孤児画像は補償削除しない。
package imagehost

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"

	"github.com/kentaro/rentway/internal/model"
)

// Uploader は画像ホスティングサービスのクライアント。
type Uploader struct {
	httpClient *http.Client
	logger     *slog.Logger
	endpoint   string // テスト用にエンドポイントを差し替え可能
	apiKey     string
	maxSize    int64 // バイト単位の上限。0なら無制限
}

// NewUploader はUploaderの新しいインスタンスを生成する。
func NewUploader(httpClient *http.Client, endpoint, apiKey string, maxSize int64, logger *slog.Logger) *Uploader {
	return &Uploader{
		httpClient: httpClient,
		logger:     logger,
		endpoint:   endpoint,
		apiKey:     apiKey,
		maxSize:    maxSize,
	}
}

// uploadResponse は画像ホスティングサービスの応答形式。
type uploadResponse struct {
	Data struct {
		URL string `json:"url"`
	} `json:"data"`
	Success bool `json:"success"`
}

// Upload は画像をアップロードし、公開URLを返す。
// すべての失敗はIMAGE_UPLOAD_FAILEDに正規化され、呼び出し元は
// 第2フェーズ（レコード送信）へ進まずに中断する。
func (u *Uploader) Upload(ctx context.Context, filename string, image []byte) (string, error) {
	if len(image) == 0 {
		return "", model.NewImageUploadFailedError("画像ファイルが空です")
	}
	if u.maxSize > 0 && int64(len(image)) > u.maxSize {
		return "", model.NewImageUploadFailedError(
			fmt.Sprintf("ファイルサイズが上限を超えています (%dバイト > %dバイト)", len(image), u.maxSize))
	}

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("image", filename)
	if err != nil {
		return "", model.NewImageUploadFailedError("リクエストの構築に失敗しました")
	}
	if _, err := part.Write(image); err != nil {
		return "", model.NewImageUploadFailedError("リクエストの構築に失敗しました")
	}
	if err := writer.Close(); err != nil {
		return "", model.NewImageUploadFailedError("リクエストの構築に失敗しました")
	}

	reqURL := u.endpoint + "?" + url.Values{"key": {u.apiKey}}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, &buf)
	if err != nil {
		return "", model.NewImageUploadFailedError("リクエストの構築に失敗しました")
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := u.httpClient.Do(req)
	if err != nil {
		u.logger.Error("画像ホスティングサービスの呼び出しに失敗しました",
			slog.String("error", err.Error()),
		)
		return "", model.NewImageUploadFailedError("画像サービスとの通信に失敗しました")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", model.NewImageUploadFailedError("応答の読み取りに失敗しました")
	}

	if resp.StatusCode != http.StatusOK {
		u.logger.Error("画像ホスティングサービスがエラーステータスを返しました",
			slog.Int("http_status", resp.StatusCode),
		)
		return "", model.NewImageUploadFailedError(
			fmt.Sprintf("画像サービスがステータス %d を返しました", resp.StatusCode))
	}

	var result uploadResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return "", model.NewImageUploadFailedError("応答のパースに失敗しました")
	}
	if !result.Success || result.Data.URL == "" {
		return "", model.NewImageUploadFailedError("画像サービスがURLを返しませんでした")
	}

	return result.Data.URL, nil
}
