package types

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
)

// MaxChatMessageLength bounds a single relayed chat message, in runes.
const MaxChatMessageLength = 4000

// FUNCTIONAL DISCOVERY: Regex compiled once at package initialization
// for better performance in high-frequency validation scenarios
var (
	userIDRegex    = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
	sessionIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("userid", func(fl validator.FieldLevel) bool {
		return IsValidUserID(fl.Field().String())
	})
	return v
}

// Validator exposes the shared struct validator so request payloads are
// checked with the same custom tags as the domain types.
func Validator() *validator.Validate {
	return validate
}

// Validate ensures the session meets all requirements
// ARCHITECTURAL DISCOVERY: Validation at type level ensures consistency
// across the directory, the REST layer and the database manager
func (s *Session) Validate() error {
	if err := validate.Struct(s); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSession, err)
	}
	return nil
}

// NormalizeChatText trims a chat message and enforces the size bound.
func NormalizeChatText(text string) (string, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return "", ErrEmptyChatMessage
	}
	if utf8.RuneCountInString(trimmed) > MaxChatMessageLength {
		return "", ErrChatMessageTooLong
	}
	return trimmed, nil
}

// IsValidUserID checks if a user ID meets format requirements
// FUNCTIONAL DISCOVERY: 1-50 character limit prevents database issues
// and ensures reasonable display in UI components
func IsValidUserID(userID string) bool {
	if len(userID) < 1 || len(userID) > 50 {
		return false
	}
	return userIDRegex.MatchString(userID)
}

// IsValidSessionID accepts both numeric legacy ids and generated UUIDs.
func IsValidSessionID(sessionID string) bool {
	if len(sessionID) < 1 || len(sessionID) > 64 {
		return false
	}
	return sessionIDRegex.MatchString(sessionID)
}

// IsValidStatus reports whether status names a known lifecycle state.
func IsValidStatus(status string) bool {
	switch status {
	case SessionStatusScheduled, SessionStatusLive, SessionStatusEnded, SessionStatusCancelled:
		return true
	default:
		return false
	}
}
