package types

import (
	"regexp"

	"github.com/go-playground/validator/v10"
)

// FUNCTIONAL DISCOVERY: Regex and validator compiled once at package initialization
var (
	userIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_.@-]+$`)
	validate    = validator.New()
)

// IsValidUserID checks if a user ID can be carried in a connection URL and
// as an envelope origin.
func IsValidUserID(userID string) bool {
	if len(userID) < 1 || len(userID) > 64 {
		return false
	}
	return userIDRegex.MatchString(userID)
}

// Valid reports whether s is one of the three presence values.
func (s UserStatus) Valid() bool {
	return validate.Var(string(s), "required,oneof=online away offline") == nil
}

// Validate checks the struct tags on a user status payload.
func (p UserStatusPayload) Validate() error {
	if err := validate.Struct(p); err != nil {
		return ErrInvalidUserStatus
	}
	return nil
}
