package middleware

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"

	"github.com/taho-ai/streamchat/internal/apperr"
)

const maxMessageBytes = 100000

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New()
	})
	return validate
}

// ValidateStruct checks payload against its `validate` tags and returns a
// wrapped apperr.ErrValidation describing every failed field.
func ValidateStruct(payload any) error {
	err := getValidator().Struct(payload)
	if err == nil {
		return nil
	}

	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return fmt.Errorf("%w: %s", apperr.ErrValidation, err.Error())
	}

	msgs := make([]string, 0, len(validationErrors))
	for _, fieldErr := range validationErrors {
		msgs = append(msgs, fmt.Sprintf("field '%s' failed on the '%s' tag", fieldErr.Field(), fieldErr.Tag()))
	}
	return fmt.Errorf("%w: %s", apperr.ErrValidation, strings.Join(msgs, "; "))
}

// ValidateMessageContent validates message content.
func ValidateMessageContent(content string) error {
	if strings.TrimSpace(content) == "" {
		return fmt.Errorf("%w: Message cannot be empty", apperr.ErrValidation)
	}
	if len(content) > maxMessageBytes {
		return fmt.Errorf("%w: message exceeds maximum length", apperr.ErrValidation)
	}
	if !utf8.ValidString(content) {
		return fmt.Errorf("%w: message must be valid UTF-8", apperr.ErrValidation)
	}
	return nil
}

// ParseConversationID parses a positive conversation ID path parameter.
func ParseConversationID(raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: invalid conversation ID %q", apperr.ErrValidation, raw)
	}
	return id, nil
}
