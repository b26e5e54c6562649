package resilience

import (
	"errors"
	"fmt"
	"net"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsTransientTaggedError(t *testing.T) {
	err := NewTransientError(errors.New("research backend overloaded"), 503)
	assert.True(t, IsTransient(err))

	wrapped := fmt.Errorf("agent call failed: %w", NewTransientError(errors.New("throttled"), 429))
	assert.True(t, IsTransient(wrapped))
}

func TestIsTransientPermanentErrors(t *testing.T) {
	assert.False(t, IsTransient(nil))
	assert.False(t, IsTransient(errors.New("invalid identity: missing name")))
	assert.False(t, IsTransient(errors.New("unauthorized")))
}

func TestIsTransientNetworkFailures(t *testing.T) {
	assert.True(t, IsTransient(fmt.Errorf("write tcp: %w", syscall.ECONNRESET)))
	assert.True(t, IsTransient(fmt.Errorf("dial tcp: %w", syscall.ECONNREFUSED)))
	assert.True(t, IsTransient(&net.DNSError{IsTimeout: true, Err: "timeout"}))
}

func TestIsTransientTransportStrings(t *testing.T) {
	for _, msg := range []string{
		"connection reset by peer",
		"broken pipe",
		"TLS handshake timeout",
		"read: i/o timeout",
		"server closed idle connection",
	} {
		assert.True(t, IsTransient(errors.New(msg)), msg)
	}
}

func TestIsTransientHTTPStatus(t *testing.T) {
	for _, code := range []int{408, 429, 500, 502, 503, 504} {
		assert.True(t, IsTransientHTTPStatus(code), "status %d", code)
	}
	for _, code := range []int{200, 202, 400, 401, 403, 404, 422} {
		assert.False(t, IsTransientHTTPStatus(code), "status %d", code)
	}
}

func TestTransientErrorUnwrap(t *testing.T) {
	inner := errors.New("root cause")
	te := NewTransientError(inner, 500)

	assert.ErrorIs(t, te, inner)
	assert.Equal(t, 500, te.StatusCode)
	assert.Equal(t, "root cause", te.Error())
}
