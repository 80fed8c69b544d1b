package simulator

import (
	"fmt"
	"strings"
)

// ValidationError rejects a command without touching device state. Code is
// one of the messages.Code* constants carried back in the negative ack.
type ValidationError struct {
	Code   string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Reason)
}

func rejectf(code, format string, args ...any) *ValidationError {
	return &ValidationError{Code: code, Reason: fmt.Sprintf(format, args...)}
}

// isAuthError reports whether a connect failure is a credential rejection,
// which is fatal rather than retryable. Paho surfaces broker CONNACK codes
// only as error text.
func isAuthError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "bad user name or password") ||
		strings.Contains(msg, "bad username or password") ||
		strings.Contains(msg, "not authorized") ||
		strings.Contains(msg, "not authorised")
}
