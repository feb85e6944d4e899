package resilience

import (
	"errors"
	"fmt"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
)

type statusErr struct{ status int }

func (e *statusErr) Error() string   { return fmt.Sprintf("status %d", e.status) }
func (e *statusErr) Transient() bool { return IsTransientHTTPStatus(e.status) }

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "deadline" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "plain", err: errors.New("bad request"), want: false},
		{name: "declares_transient", err: &statusErr{status: 503}, want: true},
		{name: "declares_permanent", err: &statusErr{status: 401}, want: false},
		{name: "wrapped_transient", err: fmt.Errorf("seed: %w", &statusErr{status: 429}), want: true},
		{name: "conn_reset", err: fmt.Errorf("dial: %w", syscall.ECONNRESET), want: true},
		{name: "conn_refused", err: syscall.ECONNREFUSED, want: true},
		{name: "net_timeout", err: timeoutErr{}, want: true},
		{name: "string_pattern", err: errors.New("read tcp: i/o timeout"), want: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTransient(tt.err))
		})
	}
}

func TestIsTransientHTTPStatus(t *testing.T) {
	for _, code := range []int{408, 429, 500, 502, 503, 504, 529} {
		assert.True(t, IsTransientHTTPStatus(code), code)
	}
	for _, code := range []int{200, 400, 401, 403, 404, 422} {
		assert.False(t, IsTransientHTTPStatus(code), code)
	}
}
