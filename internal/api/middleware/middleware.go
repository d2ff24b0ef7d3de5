package middleware

import (
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/sanosuguru/go-flight-booking/internal/pkg/metrics"
	"github.com/sanosuguru/go-flight-booking/internal/pkg/tracing"
)

// SetupMiddleware は共通ミドルウェアを設定する。m が nil の場合はHTTPメトリクスを記録しない
func SetupMiddleware(e *echo.Echo, log *zap.Logger, m *metrics.Metrics) {
	// リクエストID
	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator: uuid.NewString,
	}))

	// パニックリカバリー
	e.Use(middleware.Recover())

	// トレース（上流のコンテキストを引き継ぐ）
	e.Use(tracing.Middleware())

	// 構造化リクエストログ（zap）
	e.Use(RequestLogger(log))

	if m != nil {
		e.Use(PrometheusMiddleware(m))
	}

	// CORS
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{echo.GET, echo.HEAD, echo.POST, echo.DELETE},
		AllowHeaders: []string{echo.HeaderContentType, echo.HeaderAuthorization, HeaderUserID, HeaderIdempotencyKey},
	}))
}
