package cookies

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/wishary/wishary-auth-api/pkg/config"
)

// Channel is a logical cookie slot. The transport maps channels to
// deployment-prefixed cookie names so several deployments can coexist under
// one parent domain.
type Channel string

const (
	ChannelAccess  Channel = "access"
	ChannelRefresh Channel = "refresh"
)

// SetCookie is a cookie the auth flows want written. Flows return these
// instead of touching the response so the crypto and session logic stays
// free of HTTP framework specifics.
type SetCookie struct {
	Channel   Channel
	Value     string
	ExpiresAt time.Time
}

// Transport binds channels to HTTP cookies with environment-dependent
// security attributes. Local development disables Secure and the
// cross-subdomain Domain attribute to permit plain-HTTP testing; everywhere
// else both are on.
type Transport struct {
	prefix string
	domain string
	secure bool
}

// NewTransport builds a Transport from cookie configuration.
func NewTransport(cfg config.CookieConfig, local bool) *Transport {
	domain := cfg.Domain
	if local {
		domain = ""
	}
	return &Transport{
		prefix: cfg.Prefix,
		domain: domain,
		secure: !local,
	}
}

// Name returns the wire cookie name for a channel.
func (t *Transport) Name(ch Channel) string {
	return t.prefix + "-" + string(ch)
}

// Read returns the raw cookie value for a channel, reporting absence.
func (t *Transport) Read(c *gin.Context, ch Channel) (string, bool) {
	value, err := c.Cookie(t.Name(ch))
	if err != nil || value == "" {
		return "", false
	}
	return value, true
}

// Apply writes the given cookies onto the response.
func (t *Transport) Apply(c *gin.Context, toSet []SetCookie) {
	for _, sc := range toSet {
		http.SetCookie(c.Writer, &http.Cookie{
			Name:     t.Name(sc.Channel),
			Value:    sc.Value,
			Path:     "/",
			Domain:   t.domain,
			Expires:  sc.ExpiresAt,
			HttpOnly: true,
			Secure:   t.secure,
			SameSite: http.SameSiteStrictMode,
		})
	}
}

// Clear expires the given channels' cookies, wiping both value and expiry.
func (t *Transport) Clear(c *gin.Context, channels ...Channel) {
	for _, ch := range channels {
		http.SetCookie(c.Writer, &http.Cookie{
			Name:     t.Name(ch),
			Value:    "",
			Path:     "/",
			Domain:   t.domain,
			Expires:  time.Unix(0, 0),
			MaxAge:   -1,
			HttpOnly: true,
			Secure:   t.secure,
			SameSite: http.SameSiteStrictMode,
		})
	}
}

// ClearAll expires every auth cookie.
func (t *Transport) ClearAll(c *gin.Context) {
	t.Clear(c, ChannelAccess, ChannelRefresh)
}
