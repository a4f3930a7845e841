// Package validation содержит функции валидации входных данных.
package validation

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

// ErrInvalid возвращается, если входные данные не прошли проверку.
var ErrInvalid = errors.New("validation failed")

var (
	mobilePattern    = regexp.MustCompile(`^\+?[0-9]{7,15}$`)
	referencePattern = regexp.MustCompile(`^[A-Za-z0-9-]{4,40}$`)
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("mobile", func(fl validator.FieldLevel) bool {
		return IsValidMobile(fl.Field().String())
	})
	_ = v.RegisterValidation("reference", func(fl validator.FieldLevel) bool {
		return IsValidReference(fl.Field().String())
	})
	return v
}

// Struct проверяет структуру по тегам validate.
// Ошибка оборачивает ErrInvalid и перечисляет поля, не прошедшие проверку.
func Struct(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	parts := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		parts = append(parts, fmt.Sprintf("%s: %s", fe.Field(), fe.Tag()))
	}
	return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(parts, ", "))
}

// NormalizeEmail приводит email к нижнему регистру и проверяет его формат.
func NormalizeEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if err := validate.Var(email, "required,email"); err != nil {
		return "", fmt.Errorf("%w: email %q", ErrInvalid, email)
	}
	return email, nil
}

// IsValidMobile проверяет номер телефона: 7-15 цифр, допускается ведущий "+".
func IsValidMobile(mobile string) bool {
	return mobilePattern.MatchString(mobile)
}

// IsValidReference проверяет номер транзакции электронного кошелька.
func IsValidReference(ref string) bool {
	return referencePattern.MatchString(ref)
}
