package httputil

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClientIPPrefersForwardedFor(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	r.RemoteAddr = "203.0.113.9:4321"
	r.Header.Set("X-Forwarded-For", "198.51.100.7, 10.0.0.1")
	r.Header.Set("X-Real-IP", "192.0.2.44")

	assert.Equal(t, "198.51.100.7", ClientIP(r))
}

func TestClientIPFallsBackToRealIP(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	r.RemoteAddr = "203.0.113.9:4321"
	r.Header.Set("X-Real-IP", "192.0.2.44")

	assert.Equal(t, "192.0.2.44", ClientIP(r))
}

func TestClientIPFallsBackToPeer(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	r.RemoteAddr = "203.0.113.9:4321"

	assert.Equal(t, "203.0.113.9", ClientIP(r))
}

func TestClientIPNormalizesMappedIPv4(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	r.RemoteAddr = "[::ffff:10.0.0.5]:9999"

	assert.Equal(t, "10.0.0.5", ClientIP(r))
}
