package resilience

import (
	"errors"
	"net"
	"strings"
	"syscall"
)

// transient is implemented by errors that know whether a retry can help,
// such as provider errors carrying an HTTP status.
type transient interface {
	Transient() bool
}

// IsTransient reports whether err is worth retrying: an error in the chain
// declares itself transient, or it is a network timeout, reset or refusal.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var te transient
	if errors.As(err, &te) {
		return te.Transient()
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, p := range []string{
		"connection reset by peer",
		"broken pipe",
		"no such host",
		"tls handshake timeout",
		"i/o timeout",
		"server closed idle connection",
	} {
		if strings.Contains(msg, p) {
			return true
		}
	}

	return false
}

// IsTransientHTTPStatus reports whether an HTTP status indicates a
// server-side condition that may clear on its own.
func IsTransientHTTPStatus(statusCode int) bool {
	switch statusCode {
	case 408, 429, 500, 502, 503, 504, 529:
		return true
	default:
		return false
	}
}
