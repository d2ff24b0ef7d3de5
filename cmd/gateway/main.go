package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/sanosuguru/go-flight-booking/internal/api/middleware"
	"github.com/sanosuguru/go-flight-booking/internal/config"
	"github.com/sanosuguru/go-flight-booking/internal/gateway"
	"github.com/sanosuguru/go-flight-booking/internal/pkg/logger"
	"github.com/sanosuguru/go-flight-booking/internal/pkg/tracing"
)

func main() {
	_ = config.LoadDotEnv()
	cfg := config.Load()
	log := logger.NewLogger(cfg.Env).With(zap.String("component", "gateway"))
	defer logger.Sync(log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tracingCfg := cfg.Tracing
	tracingCfg.ServiceName += "-gateway"
	shutdownTracing, err := tracing.Init(ctx, &tracingCfg, log)
	if err != nil {
		log.Error("トレースの初期化に失敗", zap.Error(err))
		os.Exit(1)
	}

	client := gateway.NewBookingClient(cfg.Gateway.BookingAPIURL, cfg.Gateway.RequestTimeout)
	server := gateway.NewServer(gateway.NewRegistry(client), log)

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(echomw.Recover())
	e.Use(tracing.Middleware())
	e.Use(middleware.RequestLogger(log))
	server.RegisterRoutes(e)

	go func() {
		log.Info("ゲートウェイを起動します",
			zap.String("port", cfg.Gateway.Port),
			zap.String("booking_api", cfg.Gateway.BookingAPIURL),
		)
		if err := e.Start(":" + cfg.Gateway.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("ゲートウェイ起動エラー", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("ゲートウェイをシャットダウンしています")

	sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(sctx); err != nil {
		log.Error("シャットダウンエラー", zap.Error(err))
	}
	if err := shutdownTracing(sctx); err != nil {
		log.Warn("トレースのフラッシュに失敗", zap.Error(err))
	}
}
