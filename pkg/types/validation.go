package types

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

var (
	userIDRegex    = regexp.MustCompile(`^[a-zA-Z0-9_.@-]+$`)
	sessionIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
)

// Validate checks the invariants of a session record.
func (s *Session) Validate() error {
	if !IsValidSessionID(s.ID) {
		return ErrInvalidSessionID
	}
	if !IsValidUserID(s.RequesterID) || !IsValidUserID(s.CounterpartID) {
		return ErrInvalidUserID
	}
	if s.RequesterID == s.CounterpartID {
		return ErrSameParticipants
	}
	if !s.StartTime.Before(s.EndTime) {
		return ErrInvalidWindow
	}
	if !IsValidStatus(s.Status) {
		return ErrInvalidStatus
	}
	return nil
}

// IsValidUserID checks if a user ID meets format requirements.
func IsValidUserID(userID string) bool {
	if len(userID) < 1 || len(userID) > 64 {
		return false
	}
	return userIDRegex.MatchString(userID)
}

// IsValidSessionID checks if a session ID meets format requirements.
func IsValidSessionID(sessionID string) bool {
	if len(sessionID) < 1 || len(sessionID) > 64 {
		return false
	}
	return sessionIDRegex.MatchString(sessionID)
}

// IsValidStatus reports whether status is a known session status.
func IsValidStatus(status string) bool {
	switch status {
	case SessionStatusScheduled,
		SessionStatusActive,
		SessionStatusCompleted,
		SessionStatusCancelled:
		return true
	default:
		return false
	}
}

// NormalizeBody trims surrounding whitespace and enforces the rune limit.
// maxRunes <= 0 disables the upper bound.
func NormalizeBody(body string, maxRunes int) (string, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return "", ErrEmptyBody
	}
	if maxRunes > 0 && utf8.RuneCountInString(body) > maxRunes {
		return "", ErrBodyTooLong
	}
	return body, nil
}
