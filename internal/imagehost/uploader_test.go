package imagehost

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kentaro/rentway/internal/model"
)

func newTestUploader(t *testing.T, maxSize int64, handler http.HandlerFunc) *Uploader {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewUploader(server.Client(), server.URL, "test-key", maxSize, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestUploader_Upload_Success(t *testing.T) {
	var gotKey, gotField string
	uploader := newTestUploader(t, 0, func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.URL.Query().Get("key")
		file, _, err := r.FormFile("image")
		if err == nil {
			gotField = "image"
			io.Copy(io.Discard, file)
			file.Close()
		}
		w.Write([]byte(`{"success": true, "data": {"url": "https://img.example.com/abc.png"}}`))
	})

	publicURL, err := uploader.Upload(context.Background(), "car.png", []byte("fake-png-bytes"))
	if err != nil {
		t.Fatalf("Upload() error = %v", err)
	}
	if publicURL != "https://img.example.com/abc.png" {
		t.Errorf("url = %q", publicURL)
	}
	if gotKey != "test-key" {
		t.Errorf("key = %q", gotKey)
	}
	if gotField != "image" {
		t.Error("multipart field 'image' not present")
	}
}

func TestUploader_Upload_Failures(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{
			"サービスがエラーステータスを返す",
			func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusBadRequest)
			},
		},
		{
			"success=falseの応答",
			func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(`{"success": false}`))
			},
		},
		{
			"URLを含まない応答",
			func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(`{"success": true, "data": {}}`))
			},
		},
		{
			"JSONでない応答",
			func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(`<html>gateway error</html>`))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			uploader := newTestUploader(t, 0, tt.handler)

			_, err := uploader.Upload(context.Background(), "car.png", []byte("data"))

			var apiErr *model.APIError
			if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeImageUploadFailed {
				t.Errorf("error = %v, want IMAGE_UPLOAD_FAILED", err)
			}
		})
	}
}

func TestUploader_Upload_RejectsOversizedImage(t *testing.T) {
	called := false
	uploader := newTestUploader(t, 10, func(w http.ResponseWriter, r *http.Request) {
		called = true
	})

	_, err := uploader.Upload(context.Background(), "car.png", make([]byte, 11))

	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeImageUploadFailed {
		t.Fatalf("error = %v, want IMAGE_UPLOAD_FAILED", err)
	}
	// 上限超過はローカルで弾き、サービスへ送らない
	if called {
		t.Error("oversized image was sent to the service")
	}
}

func TestUploader_Upload_RejectsEmptyImage(t *testing.T) {
	uploader := newTestUploader(t, 0, func(w http.ResponseWriter, r *http.Request) {})

	_, err := uploader.Upload(context.Background(), "car.png", nil)

	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeImageUploadFailed {
		t.Errorf("error = %v, want IMAGE_UPLOAD_FAILED", err)
	}
}
