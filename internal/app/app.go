// Package app はアプリケーションの起動とワイヤリングを行う。
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/kentaro/rentway/internal/api"
	"github.com/kentaro/rentway/internal/booking"
	"github.com/kentaro/rentway/internal/config"
	"github.com/kentaro/rentway/internal/handler"
	"github.com/kentaro/rentway/internal/identity"
	"github.com/kentaro/rentway/internal/imagehost"
	"github.com/kentaro/rentway/internal/logger"
	"github.com/kentaro/rentway/internal/metrics"
	"github.com/kentaro/rentway/internal/middleware"
	"github.com/kentaro/rentway/internal/resource"
	"github.com/kentaro/rentway/internal/security"
	"github.com/kentaro/rentway/internal/session"
	"github.com/kentaro/rentway/internal/vehicle"
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("base_url", cfg.BaseURL),
	)

	return runServe(cfg)
}

// runServe はAPIサーバーモードで起動する。
// 全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	log := slog.Default()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 1. メトリクスの初期化
	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	// 2. セキュリティサービスの初期化
	ssrfGuard := security.NewSSRFGuard()
	sanitizer := security.NewContentSanitizer()

	// 3. IDプロバイダーとセッションの初期化
	idProvider := identity.NewRESTProvider(identity.RESTProviderConfig{
		BaseURL:     cfg.IDPBaseURL,
		RedirectURL: cfg.BaseURL + "/auth/provider/callback",
	}, &http.Client{Timeout: cfg.FetchTimeout}, log)

	sess := session.New(idProvider, ssrfGuard, log)
	defer sess.Close()

	idProvider.Start(ctx)

	// 4. バックエンドクライアントとリソース層の初期化
	// バックエンドへのリクエストには現在のセッションのトークンを同送する
	apiClient := api.NewClient(&http.Client{Timeout: cfg.FetchTimeout}, cfg.RentalAPIURL, log, idProvider.IDToken)
	store := resource.NewStore(apiClient, cfg.CacheTTL, cfg.FetchTimeout, collector, log)

	// 5. ドメインサービスの初期化
	coordinator := booking.NewCoordinator(apiClient, store, store, collector, log)

	// 画像ホストへの送信はSSRF防止付きクライアントを使う
	uploader := imagehost.NewUploader(
		ssrfGuard.NewSafeClient(cfg.FetchTimeout, 1<<20),
		cfg.ImageHostURL, cfg.ImageHostKey, cfg.ImageMaxSize, log,
	)
	mutator := vehicle.NewMutator(apiClient, uploader, sanitizer, store, collector, log)

	// 6. レート制限の初期化（configはreq/min単位、rate.Limitはreq/sec単位）
	rateLimiterCfg := middleware.DefaultRateLimiterConfig()
	rateLimiterCfg.GeneralRate = rate.Limit(float64(cfg.RateLimitGeneral) / 60.0)
	rateLimiterCfg.GeneralBurst = cfg.RateLimitGeneral
	rateLimiterCfg.BookingRate = rate.Limit(float64(cfg.RateLimitBooking) / 60.0)
	rateLimiterCfg.BookingBurst = cfg.RateLimitBooking
	rateLimiter := middleware.NewRateLimiter(rateLimiterCfg)
	defer rateLimiter.Stop()

	// 7. ルーターの構築
	deps := &handler.RouterDeps{
		Logger:            log,
		Session:           sess,
		SettleTimeout:     cfg.SessionSettleTimeout,
		RateLimiter:       rateLimiter,
		CSRFConfig: middleware.CSRFConfig{
			CookieSecure: cfg.CookieSecure,
			CookieDomain: cfg.CookieDomain,
		},
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,

		MetricsHandler: metrics.SetupMetricsRoute(registry),
		StatusRecorder: collector,

		AuthService: sess,
		AuthConfig: handler.AuthHandlerConfig{
			BaseURL:      cfg.BaseURL,
			CookieSecure: cfg.CookieSecure,
		},

		VehicleReader:  store,
		VehicleMutator: mutator,

		BookingService: coordinator,
		BookingReader:  store,
		SessionReader:  sess,
	}

	router := handler.NewRouter(deps)

	// 8. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server listen error", slog.String("error", err.Error()))
		}
	}()

	<-stop
	slog.Info("shutting down API server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /healthz エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/healthz", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}
