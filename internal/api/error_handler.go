package api

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/sanosuguru/go-flight-booking/internal/domain/booking"
	"github.com/sanosuguru/go-flight-booking/internal/pkg/logger"
)

// 不整合の詳細はログとアラートにのみ出す
const inconsistentMessage = "予約処理を完了できませんでした。時間をおいて予約状況を確認してください"

// ErrorResponse はエラーレスポンスの統一フォーマット
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
	Code  int    `json:"code,omitempty"`
}

// NewHTTPErrorHandler はドメインのエラー分類をHTTPステータスに変換するエラーハンドラーを返す
func NewHTTPErrorHandler(log *zap.Logger) echo.HTTPErrorHandler {
	log = logger.OrNop(log)
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		resp := classify(err)
		if resp.Code == http.StatusConflict {
			c.Response().Header().Set("Retry-After", "1")
		}

		if resp.Code >= 500 {
			log.Error("サーバーエラー",
				zap.Int("status", resp.Code),
				zap.String("kind", resp.Kind),
				zap.String("method", c.Request().Method),
				zap.String("path", c.Request().URL.Path),
				zap.Error(err),
			)
		}

		var sendErr error
		if c.Request().Method == http.MethodHead {
			sendErr = c.NoContent(resp.Code)
		} else {
			sendErr = c.JSON(resp.Code, resp)
		}
		if sendErr != nil {
			log.Error("エラーレスポンス送信失敗", zap.Error(sendErr))
		}
	}
}

func classify(err error) ErrorResponse {
	if errors.Is(err, booking.ErrIdentityRequired) {
		return ErrorResponse{Error: err.Error(), Kind: "unauthorized", Code: http.StatusUnauthorized}
	}

	switch kind := booking.Kind(err); kind {
	case "inconsistent_state":
		return ErrorResponse{Error: inconsistentMessage, Kind: kind, Code: http.StatusInternalServerError}
	case "not_found":
		return ErrorResponse{Error: err.Error(), Kind: kind, Code: http.StatusNotFound}
	case "capacity_exceeded", "invalid_argument":
		return ErrorResponse{Error: err.Error(), Kind: kind, Code: http.StatusBadRequest}
	case "concurrency_conflict":
		return ErrorResponse{Error: err.Error(), Kind: kind, Code: http.StatusConflict}
	}

	var he *echo.HTTPError
	if errors.As(err, &he) {
		message := http.StatusText(he.Code)
		if m, ok := he.Message.(string); ok {
			message = m
		}
		return ErrorResponse{Error: message, Kind: kindForStatus(he.Code), Code: he.Code}
	}
	return ErrorResponse{Error: "内部サーバーエラー", Kind: "internal", Code: http.StatusInternalServerError}
}

func kindForStatus(code int) string {
	switch code {
	case http.StatusBadRequest:
		return "invalid_argument"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "concurrency_conflict"
	}
	if code >= 500 {
		return "internal"
	}
	return ""
}
