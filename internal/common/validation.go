package common

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
)

var (
	emailRegex    = regexp.MustCompile(`^[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}$`)
	usernameRegex = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)

	validate = newValidator()
)

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("username", func(fl validator.FieldLevel) bool {
		return ValidateUsername(fl.Field().String()) == nil
	})
	return v
}

func ValidateUsername(username string) error {
	username = strings.TrimSpace(username)
	if len(username) < 3 || len(username) > 30 {
		return Invalid("username must be between 3 and 30 characters")
	}

	if !usernameRegex.MatchString(username) {
		return Invalid("username can only contain letters, numbers, and underscores")
	}

	return nil
}

func ValidatePassword(password string) error {
	if len(password) < 6 {
		return Invalid("password must be at least 6 characters long")
	}

	if len(password) > 100 {
		return Invalid("password must be at most 100 characters long")
	}

	return nil
}

func ValidateEmail(email string) error {
	email = strings.ToLower(strings.TrimSpace(email))
	if !emailRegex.MatchString(email) {
		return Invalid("invalid email format")
	}

	return nil
}

// ValidateText checks a trimmed free-text field against a rune-length window.
func ValidateText(field, text string, min, max int) error {
	n := utf8.RuneCountInString(strings.TrimSpace(text))
	if n < min {
		if min == 1 {
			return Invalid("%s is required", field)
		}
		return Invalid("%s must be at least %d characters", field, min)
	}
	if n > max {
		return Invalid("%s must be at most %d characters", field, max)
	}
	return nil
}

// ValidateStruct runs the `validate` struct tags and folds failures into one ErrInvalidInput.
func ValidateStruct(s any) error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return WrapError(ErrInvalidInput, err, "invalid request")
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fieldMessage(fe))
	}
	return Invalid("%s", strings.Join(msgs, "; "))
}

func fieldMessage(fe validator.FieldError) string {
	field := strings.ToLower(fe.Field())
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "email":
		return field + " must be a valid email"
	case "min", "gte":
		return fmt.Sprintf("%s must be at least %s", field, fe.Param())
	case "max", "lte":
		return fmt.Sprintf("%s must be at most %s", field, fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s]", field, fe.Param())
	case "username":
		return field + " must be 3-30 letters, numbers or underscores"
	default:
		return fmt.Sprintf("%s failed %s validation", field, fe.Tag())
	}
}
