package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/sanosuguru/go-flight-booking/internal/pkg/logger"
)

const (
	// HeaderUserID は認証基盤の手前で付与されるユーザーIDヘッダー
	HeaderUserID = "X-User-ID"
	// HeaderClientPrincipal は App Service 認証が付与するユーザー名ヘッダー
	HeaderClientPrincipal = "X-MS-CLIENT-PRINCIPAL-NAME"
	// HeaderIdempotencyKey は予約リクエストの冪等性キー
	HeaderIdempotencyKey = "Idempotency-Key"

	usernameKey = "username"
)

// Identity はリクエストのユーザー名を特定してコンテキストに格納する。
// Bearer トークンがあれば検証して preferred_username / sub を使い、
// なければ信頼済みヘッダーを使う。特定できない場合は何も設定しない
func Identity(jwtSecret string, log *zap.Logger) echo.MiddlewareFunc {
	log = logger.OrNop(log)
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()

			if auth := req.Header.Get(echo.HeaderAuthorization); jwtSecret != "" && strings.HasPrefix(auth, "Bearer ") {
				username, err := usernameFromToken(strings.TrimPrefix(auth, "Bearer "), jwtSecret)
				if err != nil {
					log.Debug("トークンの検証に失敗", zap.Error(err))
					return echo.NewHTTPError(http.StatusUnauthorized, "トークンが無効です")
				}
				c.Set(usernameKey, username)
				return next(c)
			}

			for _, h := range []string{HeaderUserID, HeaderClientPrincipal} {
				if v := strings.TrimSpace(req.Header.Get(h)); v != "" {
					c.Set(usernameKey, v)
					break
				}
			}
			return next(c)
		}
	}
}

// Username は Identity が設定したユーザー名を返す。未設定の場合は空文字
func Username(c echo.Context) string {
	v, _ := c.Get(usernameKey).(string)
	return v
}

func usernameFromToken(raw, secret string) (string, error) {
	tok, err := jwt.Parse(raw, func(t *jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return "", err
	}
	claims, ok := tok.Claims.(jwt.MapClaims)
	if !ok {
		return "", errors.New("クレームの形式が不正です")
	}
	for _, name := range []string{"preferred_username", "sub"} {
		if v, ok := claims[name].(string); ok && v != "" {
			return v, nil
		}
	}
	return "", errors.New("ユーザー名のクレームがありません")
}
