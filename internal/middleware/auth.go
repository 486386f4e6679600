package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/wishary/wishary-auth-api/internal/cookies"
	"github.com/wishary/wishary-auth-api/internal/models"
	"github.com/wishary/wishary-auth-api/internal/service"
	appErrors "github.com/wishary/wishary-auth-api/pkg/errors"
	"github.com/wishary/wishary-auth-api/pkg/response"
)

// ContextAuthKey is the gin context key storing the derived auth state.
const ContextAuthKey = "authState"

// AuthState derives the request's authentication state from the access
// cookie and the session store, and attaches it to the context. Requests
// presenting an unusable access cookie get both cookies expired on the way
// out; a session-store outage aborts the request instead of silently
// downgrading it to unauthenticated.
func AuthState(authService *service.AuthService, transport *cookies.Transport) gin.HandlerFunc {
	return func(c *gin.Context) {
		accessCookie, hasAccess := transport.Read(c, cookies.ChannelAccess)

		state, clear, err := authService.DeriveState(c.Request.Context(), accessCookie)
		if err != nil {
			response.Error(c, err)
			c.Abort()
			return
		}

		// Clear only when the access cookie was actually presented and found
		// unusable. An absent access cookie says nothing about the refresh
		// cookie: the refresh route must still be able to rotate it, and
		// clearing here would stack contradictory Set-Cookie headers with the
		// ones the handler writes.
		if clear && hasAccess {
			transport.ClearAll(c)
		}

		c.Set(ContextAuthKey, state)
		c.Next()
	}
}

// RequireAuthenticated blocks requests whose state is anything other than a
// live authenticated session. Expired sessions are rejected too: the client
// is expected to refresh first.
func RequireAuthenticated() gin.HandlerFunc {
	return func(c *gin.Context) {
		if CurrentAuthState(c).Kind != models.StateAuthenticated {
			response.Error(c, appErrors.ErrUnauthorized)
			c.Abort()
			return
		}
		c.Next()
	}
}

// CurrentAuthState returns the state attached by AuthState, defaulting to
// unauthenticated when the middleware did not run.
func CurrentAuthState(c *gin.Context) models.AuthState {
	value, ok := c.Get(ContextAuthKey)
	if !ok {
		return models.AuthState{Kind: models.StateUnauthenticated}
	}
	state, ok := value.(models.AuthState)
	if !ok {
		return models.AuthState{Kind: models.StateUnauthenticated}
	}
	return state
}
