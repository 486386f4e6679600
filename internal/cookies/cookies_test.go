package cookies

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wishary/wishary-auth-api/pkg/config"
)

func newTestContext() (*gin.Context, *httptest.ResponseRecorder) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
	return c, w
}

func findCookie(w *httptest.ResponseRecorder, name string) *http.Cookie {
	res := w.Result()
	for _, ck := range res.Cookies() {
		if ck.Name == name {
			return ck
		}
	}
	return nil
}

func TestApplyProductionAttributes(t *testing.T) {
	transport := NewTransport(config.CookieConfig{Prefix: "wishary", Domain: "example.com"}, false)
	c, w := newTestContext()

	expiresAt := time.Now().Add(time.Hour).UTC().Truncate(time.Second)
	transport.Apply(c, []SetCookie{{Channel: ChannelAccess, Value: "tok", ExpiresAt: expiresAt}})

	ck := findCookie(w, "wishary-access")
	require.NotNil(t, ck)
	assert.Equal(t, "tok", ck.Value)
	assert.Equal(t, "example.com", ck.Domain)
	assert.True(t, ck.HttpOnly)
	assert.True(t, ck.Secure)
	assert.Equal(t, http.SameSiteStrictMode, ck.SameSite)
	assert.WithinDuration(t, expiresAt, ck.Expires, time.Second)
}

func TestApplyLocalAttributes(t *testing.T) {
	transport := NewTransport(config.CookieConfig{Prefix: "wishary", Domain: "example.com"}, true)
	c, w := newTestContext()

	transport.Apply(c, []SetCookie{{Channel: ChannelRefresh, Value: "tok", ExpiresAt: time.Now().Add(time.Hour)}})

	ck := findCookie(w, "wishary-refresh")
	require.NotNil(t, ck)
	assert.Empty(t, ck.Domain, "local runs must not pin a domain")
	assert.False(t, ck.Secure, "local runs must allow plain HTTP")
	assert.True(t, ck.HttpOnly)
}

func TestReadAbsent(t *testing.T) {
	transport := NewTransport(config.CookieConfig{Prefix: "wishary"}, true)
	c, _ := newTestContext()

	_, ok := transport.Read(c, ChannelAccess)
	assert.False(t, ok)
}

func TestReadPresent(t *testing.T) {
	transport := NewTransport(config.CookieConfig{Prefix: "wishary"}, true)
	c, _ := newTestContext()
	c.Request.AddCookie(&http.Cookie{Name: "wishary-access", Value: "tok"})

	value, ok := transport.Read(c, ChannelAccess)
	assert.True(t, ok)
	assert.Equal(t, "tok", value)
}

func TestClearAll(t *testing.T) {
	transport := NewTransport(config.CookieConfig{Prefix: "wishary"}, true)
	c, w := newTestContext()

	transport.ClearAll(c)

	for _, name := range []string{"wishary-access", "wishary-refresh"} {
		ck := findCookie(w, name)
		require.NotNil(t, ck, name)
		assert.Empty(t, ck.Value)
		assert.True(t, ck.Expires.Before(time.Now()))
	}
}
