package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/wishary/wishary-auth-api/internal/cookies"
	"github.com/wishary/wishary-auth-api/internal/middleware"
	"github.com/wishary/wishary-auth-api/internal/models"
	"github.com/wishary/wishary-auth-api/internal/service"
	appErrors "github.com/wishary/wishary-auth-api/pkg/errors"
	"github.com/wishary/wishary-auth-api/pkg/response"
)

// AuthHandler wires the auth flows to HTTP. Tokens travel exclusively in
// cookies: the handler applies or clears them through the transport and the
// response bodies carry identity only.
type AuthHandler struct {
	service   *service.AuthService
	transport *cookies.Transport
}

// NewAuthHandler creates a new handler.
func NewAuthHandler(svc *service.AuthService, transport *cookies.Transport) *AuthHandler {
	return &AuthHandler{service: svc, transport: transport}
}

// Login authenticates with email and password and establishes a session.
func (h *AuthHandler) Login(c *gin.Context) {
	var req models.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid login payload"))
		return
	}

	res, err := h.service.Login(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}

	h.transport.Apply(c, res.Cookies)
	response.JSON(c, http.StatusOK, models.LoginResponse{User: res.User, IssuedAt: time.Now().UTC()}, nil)
}

// Refresh rotates the session's refresh token and reissues both cookies.
// A session nowhere near expiry is left alone and the call succeeds as a
// no-op, so clients can call it on a timer without churning tokens.
func (h *AuthHandler) Refresh(c *gin.Context) {
	state := middleware.CurrentAuthState(c)
	if !h.service.NeedsRefresh(state) {
		response.JSON(c, http.StatusOK, gin.H{"rotated": false}, nil)
		return
	}

	accessCookie, _ := h.transport.Read(c, cookies.ChannelAccess)
	refreshCookie, hasRefresh := h.transport.Read(c, cookies.ChannelRefresh)
	if !hasRefresh {
		h.transport.ClearAll(c)
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	res, err := h.service.Refresh(c.Request.Context(), accessCookie, refreshCookie)
	if err != nil {
		// An outage keeps the cookies: the session may well still be good.
		if appErrors.HasCode(err, appErrors.ErrStoreUnavailable) {
			response.Error(c, err)
			return
		}
		// Revoked, replayed, expired and forged all present identically so
		// the endpoint is not an oracle for token validity.
		h.transport.ClearAll(c)
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	h.transport.Apply(c, res.Cookies)
	response.JSON(c, http.StatusOK, gin.H{"rotated": true}, nil)
}

// SignOut revokes the session and expires both cookies. It succeeds no
// matter what state the session is in; signing out twice is fine.
func (h *AuthHandler) SignOut(c *gin.Context) {
	state := middleware.CurrentAuthState(c)
	h.service.SignOut(c.Request.Context(), state.SessionID)

	h.transport.ClearAll(c)
	response.NoContent(c)
}

// SignOutEverywhere revokes every session the user has, on every device,
// and expires this device's cookies.
func (h *AuthHandler) SignOutEverywhere(c *gin.Context) {
	state := middleware.CurrentAuthState(c)
	h.service.SignOutEverywhere(c.Request.Context(), state.User.ID, state.SessionID)

	h.transport.ClearAll(c)
	response.NoContent(c)
}

// Me returns the authenticated user's full profile.
func (h *AuthHandler) Me(c *gin.Context) {
	state := middleware.CurrentAuthState(c)
	if state.Kind != models.StateAuthenticated {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	info, err := h.service.Profile(c.Request.Context(), state.User.ID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, info, nil)
}
