package api

import (
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/sanosuguru/go-flight-booking/internal/domain/booking"
)

// CustomValidator はEcho用のカスタムバリデーター
type CustomValidator struct {
	validator *validator.Validate
}

// NewValidator は新しいバリデーターを作成する
func NewValidator() *CustomValidator {
	return &CustomValidator{validator: validator.New()}
}

// Validate は検証エラーを ErrInvalidArgument として返す（400）
func (cv *CustomValidator) Validate(i any) error {
	if err := cv.validator.Struct(i); err != nil {
		return fmt.Errorf("%w: %s", booking.ErrInvalidArgument, err.Error())
	}
	return nil
}
