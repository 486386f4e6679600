package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/wishary/wishary-auth-api/internal/cookies"
	"github.com/wishary/wishary-auth-api/internal/models"
	"github.com/wishary/wishary-auth-api/internal/repository"
	appErrors "github.com/wishary/wishary-auth-api/pkg/errors"
	"github.com/wishary/wishary-auth-api/pkg/token"
)

type authUserRepository interface {
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	FindByID(ctx context.Context, id string) (*models.User, error)
	UpdateLastLogin(ctx context.Context, id string, ts time.Time) error
}

type authTokenRepository interface {
	CreateFamily(ctx context.Context, family *models.RefreshTokenFamily) error
	FindFamily(ctx context.Context, id string) (*models.RefreshTokenFamily, error)
	InvalidateFamily(ctx context.Context, id string, at time.Time) error
	InvalidateFamiliesForUser(ctx context.Context, userID string, at time.Time) error
	CreateToken(ctx context.Context, token *models.RefreshToken) error
	MarkTokenRotated(ctx context.Context, id string, at time.Time) error
}

type sessionStore interface {
	Get(ctx context.Context, sessionID string) (*models.AuthSession, error)
	Set(ctx context.Context, session *models.AuthSession, expiresAt time.Time) error
	Delete(ctx context.Context, sessionID string) error
	MarkRefreshTokenUsed(ctx context.Context, sessionID, tokenID string) (*models.AuthSession, error)
}

// AuthConfig defines configuration for authentication flows.
type AuthConfig struct {
	AccessTTL    time.Duration
	RefreshTTL   time.Duration
	RefreshGrace time.Duration
}

// SignInResult carries everything a flow produced: the cookies to write and
// the identity for the response body. Flows never touch the HTTP layer
// themselves; the transport applies the cookies afterwards.
type SignInResult struct {
	Cookies         []cookies.SetCookie
	User            models.UserInfo
	SessionID       string
	AccessExpiresAt time.Time
}

// AuthService orchestrates sign-in, refresh and sign-out over the token
// service, the session store and the durable token rows.
type AuthService struct {
	users     authUserRepository
	tokens    authTokenRepository
	sessions  sessionStore
	tokenSvc  *token.Service
	validator *validator.Validate
	logger    *zap.Logger
	metrics   *MetricsService
	config    AuthConfig
	now       func() time.Time
}

// NewAuthService constructs an AuthService instance.
func NewAuthService(users authUserRepository, tokens authTokenRepository, sessions sessionStore, tokenSvc *token.Service, validate *validator.Validate, logger *zap.Logger, metrics *MetricsService, config AuthConfig) *AuthService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	return &AuthService{
		users:     users,
		tokens:    tokens,
		sessions:  sessions,
		tokenSvc:  tokenSvc,
		validator: validate,
		logger:    logger,
		metrics:   metrics,
		config:    config,
		now:       time.Now,
	}
}

// Login verifies credentials and runs the sign-in flow for the user.
func (s *AuthService) Login(ctx context.Context, req models.LoginRequest) (*SignInResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid login payload")
	}

	user, err := s.users.FindByEmail(ctx, req.Email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrInvalidCredentials, "invalid email or password")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to fetch user")
	}

	if !user.Active {
		return nil, appErrors.Clone(appErrors.ErrInactiveAccount, "account is inactive")
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		return nil, appErrors.Clone(appErrors.ErrInvalidCredentials, "invalid email or password")
	}

	if err := s.users.UpdateLastLogin(ctx, user.ID, s.now().UTC()); err != nil {
		s.logger.Warn("failed to update last login", zap.Error(err))
	}

	return s.SignIn(ctx, user)
}

// SignIn mints a new refresh-token family, session record and cookie pair
// for an already-authenticated user. A failure at any step aborts the whole
// sign-in; the worst leftover is an orphaned family row and no session,
// which only ever forces another login.
func (s *AuthService) SignIn(ctx context.Context, user *models.User) (*SignInResult, error) {
	now := s.now().UTC()

	family := &models.RefreshTokenFamily{
		ID:        uuid.NewString(),
		UserID:    user.ID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.tokens.CreateFamily(ctx, family); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create token family")
	}

	refreshExpiresAt := now.Add(s.config.RefreshTTL)
	refreshToken := &models.RefreshToken{
		ID:        uuid.NewString(),
		FamilyID:  family.ID,
		ExpiresAt: refreshExpiresAt,
		CreatedAt: now,
	}
	if err := s.tokens.CreateToken(ctx, refreshToken); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create refresh token")
	}

	session := &models.AuthSession{
		SessionID: uuid.NewString(),
		User:      models.AuthUser{ID: user.ID, Role: user.Role},
		RefreshToken: models.SessionRefreshState{
			FamilyID:  family.ID,
			ID:        refreshToken.ID,
			ExpiresAt: refreshExpiresAt,
			Used:      false,
		},
	}
	if err := s.sessions.Set(ctx, session, refreshExpiresAt); err != nil {
		return nil, s.storeUnavailable(err)
	}

	result, err := s.issueCookies(session, refreshExpiresAt)
	if err != nil {
		return nil, err
	}
	result.User = models.UserInfo{ID: user.ID, Email: user.Email, FullName: user.FullName, Role: user.Role}

	s.metrics.IncSignIn()
	s.logger.Info("sign-in",
		zap.String("user_id", user.ID),
		zap.String("session_id", session.SessionID),
		zap.String("family_id", family.ID),
	)
	return result, nil
}

// DeriveState turns the access cookie and a session-store lookup into one
// of the three authentication states. clearCookies reports whether the
// caller should expire both auth cookies. The only error it returns is a
// session-store outage; everything else resolves to a state.
func (s *AuthService) DeriveState(ctx context.Context, accessCookie string) (models.AuthState, bool, error) {
	unauthenticated := models.AuthState{Kind: models.StateUnauthenticated}

	if accessCookie == "" {
		return unauthenticated, true, nil
	}

	var payload models.AccessTokenPayload
	res := s.tokenSvc.Read(accessCookie, token.PurposeAuth, &payload)
	if !res.Verified {
		return unauthenticated, true, nil
	}

	session, err := s.sessions.Get(ctx, payload.SessionID)
	if err != nil {
		if isSessionGone(err) {
			s.metrics.IncSessionMiss()
			return unauthenticated, true, nil
		}
		return unauthenticated, false, s.storeUnavailable(err)
	}
	s.metrics.IncSessionHit()

	// A used refresh token means the rotation completed elsewhere or a
	// replay was detected; either way this access lineage is dead.
	if session.RefreshToken.Used {
		return unauthenticated, true, nil
	}

	state := models.AuthState{
		Kind:      models.StateAuthenticated,
		SessionID: payload.SessionID,
		User:      payload.User,
		ExpiresAt: res.ExpiresAt,
	}
	if res.Expired {
		state.Kind = models.StateExpired
	}
	return state, false, nil
}

// Refresh rotates the refresh token behind the presented cookie pair. The
// access cookie may be expired but must verify if present; the refresh
// cookie must be fully valid. At most one concurrent attempt per token can
// succeed, and a replayed token invalidates its whole family.
func (s *AuthService) Refresh(ctx context.Context, accessCookie, refreshCookie string) (*SignInResult, error) {
	var refreshPayload models.RefreshTokenPayload
	res := s.tokenSvc.Read(refreshCookie, token.PurposeRefresh, &refreshPayload)
	if !res.Verified {
		return nil, appErrors.Clone(appErrors.ErrTokenInvalid, "")
	}
	if res.Expired {
		return nil, appErrors.Clone(appErrors.ErrTokenExpired, "")
	}

	// The refresh endpoint accepts a verified-but-expired access token and
	// rejects purely invalid ones; when present it must belong to the same
	// session as the refresh token.
	if accessCookie != "" {
		var accessPayload models.AccessTokenPayload
		accessRes := s.tokenSvc.Read(accessCookie, token.PurposeAuth, &accessPayload)
		if !accessRes.Verified || accessPayload.SessionID != refreshPayload.SessionID {
			return nil, appErrors.Clone(appErrors.ErrTokenInvalid, "")
		}
	}

	// The family check runs before the token is consumed: a revoked family
	// must never burn a still-unused token, and doing it in this order keeps
	// a concurrent loser's reuse response from ever failing the one winner.
	family, err := s.tokens.FindFamily(ctx, refreshPayload.FamilyID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrSessionRevoked, "")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load token family")
	}
	if family.Invalidated {
		if err := s.sessions.Delete(ctx, refreshPayload.SessionID); err != nil {
			s.logger.Warn("failed to delete session of invalidated family", zap.Error(err))
		}
		return nil, appErrors.Clone(appErrors.ErrSessionRevoked, "")
	}

	session, err := s.sessions.MarkRefreshTokenUsed(ctx, refreshPayload.SessionID, refreshPayload.TokenID)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrRefreshTokenUsed), errors.Is(err, repository.ErrRefreshTokenMismatch):
			return nil, s.handleReuse(ctx, refreshPayload)
		case errors.Is(err, repository.ErrSessionNotFound):
			return nil, appErrors.Clone(appErrors.ErrSessionRevoked, "")
		case errors.Is(err, repository.ErrSessionCorrupt):
			if delErr := s.sessions.Delete(ctx, refreshPayload.SessionID); delErr != nil {
				s.logger.Warn("failed to drop corrupt session", zap.Error(delErr))
			}
			return nil, appErrors.Clone(appErrors.ErrSessionRevoked, "")
		default:
			// A store timeout is not proof of compromise; it still fails
			// the refresh, but as an outage, never as a revocation.
			return nil, s.storeUnavailable(err)
		}
	}

	now := s.now().UTC()
	if err := s.tokens.MarkTokenRotated(ctx, refreshPayload.TokenID, now); err != nil {
		s.logger.Warn("failed to mark token rotated", zap.Error(err))
	}

	refreshExpiresAt := now.Add(s.config.RefreshTTL)
	newToken := &models.RefreshToken{
		ID:        uuid.NewString(),
		FamilyID:  family.ID,
		ExpiresAt: refreshExpiresAt,
		CreatedAt: now,
	}
	if err := s.tokens.CreateToken(ctx, newToken); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create refresh token")
	}

	// The old session stays behind marked used until its TTL: that record
	// is the trip-wire that catches replays of the consumed token.
	newSession := &models.AuthSession{
		SessionID: uuid.NewString(),
		User:      session.User,
		RefreshToken: models.SessionRefreshState{
			FamilyID:  family.ID,
			ID:        newToken.ID,
			ExpiresAt: refreshExpiresAt,
			Used:      false,
		},
	}
	if err := s.sessions.Set(ctx, newSession, refreshExpiresAt); err != nil {
		return nil, s.storeUnavailable(err)
	}

	result, err := s.issueCookies(newSession, refreshExpiresAt)
	if err != nil {
		return nil, err
	}

	s.metrics.IncRefresh()
	s.logger.Info("refresh rotated",
		zap.String("user_id", session.User.ID),
		zap.String("old_session_id", session.SessionID),
		zap.String("session_id", newSession.SessionID),
		zap.String("family_id", family.ID),
	)
	return result, nil
}

// Profile loads the full user record behind an authenticated session. The
// tokens carry id and role only, so anything richer comes from the database.
func (s *AuthService) Profile(ctx context.Context, userID string) (*models.UserInfo, error) {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "user not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to fetch user")
	}
	return &models.UserInfo{ID: user.ID, Email: user.Email, FullName: user.FullName, Role: user.Role}, nil
}

// NeedsRefresh reports whether an authenticated state is close enough to
// expiry that a refresh request should actually rotate instead of no-op.
func (s *AuthService) NeedsRefresh(state models.AuthState) bool {
	if state.Kind != models.StateAuthenticated {
		return true
	}
	return s.now().UTC().Add(s.config.RefreshGrace).After(state.ExpiresAt)
}

// SignOut invalidates the session's family and deletes the session record.
// It is idempotent: missing sessions, repeated calls and store failures all
// still count as a successful sign-out, because the caller clears the
// cookies regardless.
func (s *AuthService) SignOut(ctx context.Context, sessionID string) {
	defer s.metrics.IncSignOut()

	if sessionID == "" {
		return
	}

	session, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		if !isSessionGone(err) {
			s.logger.Warn("sign-out session lookup failed", zap.Error(err))
		}
		return
	}

	if err := s.tokens.InvalidateFamily(ctx, session.RefreshToken.FamilyID, s.now().UTC()); err != nil {
		s.logger.Warn("failed to invalidate family on sign-out", zap.Error(err))
	}
	if err := s.sessions.Delete(ctx, sessionID); err != nil {
		s.logger.Warn("failed to delete session on sign-out", zap.Error(err))
	}

	s.logger.Info("sign-out",
		zap.String("user_id", session.User.ID),
		zap.String("session_id", sessionID),
		zap.String("family_id", session.RefreshToken.FamilyID),
	)
}

// SignOutEverywhere revokes every refresh-token family the user owns. Other
// devices keep their access tokens until those expire, but none of them can
// refresh again. Like SignOut it never fails.
func (s *AuthService) SignOutEverywhere(ctx context.Context, userID, currentSessionID string) {
	defer s.metrics.IncSignOut()

	if err := s.tokens.InvalidateFamiliesForUser(ctx, userID, s.now().UTC()); err != nil {
		s.logger.Error("failed to invalidate user families", zap.Error(err), zap.String("user_id", userID))
	}
	if currentSessionID != "" {
		if err := s.sessions.Delete(ctx, currentSessionID); err != nil {
			s.logger.Warn("failed to delete session on sign-out", zap.Error(err))
		}
	}

	s.logger.Info("sign-out everywhere", zap.String("user_id", userID))
}

// handleReuse is the replay response: the presented token was already
// consumed, so the entire family is compromised and gets invalidated.
func (s *AuthService) handleReuse(ctx context.Context, payload models.RefreshTokenPayload) error {
	s.metrics.IncReuseDetected()
	s.logger.Warn("refresh token reuse detected",
		zap.String("session_id", payload.SessionID),
		zap.String("family_id", payload.FamilyID),
		zap.String("token_id", payload.TokenID),
	)

	if err := s.tokens.InvalidateFamily(ctx, payload.FamilyID, s.now().UTC()); err != nil {
		s.logger.Error("failed to invalidate family after reuse", zap.Error(err))
	}
	if err := s.sessions.Delete(ctx, payload.SessionID); err != nil {
		s.logger.Warn("failed to delete session after reuse", zap.Error(err))
	}

	return appErrors.Clone(appErrors.ErrSessionRevoked, "")
}

func (s *AuthService) issueCookies(session *models.AuthSession, refreshExpiresAt time.Time) (*SignInResult, error) {
	accessExpiresAt := s.now().UTC().Add(s.config.AccessTTL)

	accessToken, err := s.tokenSvc.Create(models.AccessTokenPayload{
		SessionID: session.SessionID,
		User:      session.User,
	}, token.PurposeAuth, accessExpiresAt)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create access token")
	}

	refreshToken, err := s.tokenSvc.Create(models.RefreshTokenPayload{
		SessionID: session.SessionID,
		FamilyID:  session.RefreshToken.FamilyID,
		TokenID:   session.RefreshToken.ID,
	}, token.PurposeRefresh, refreshExpiresAt)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create refresh token")
	}

	return &SignInResult{
		Cookies: []cookies.SetCookie{
			{Channel: cookies.ChannelAccess, Value: accessToken, ExpiresAt: accessExpiresAt},
			{Channel: cookies.ChannelRefresh, Value: refreshToken, ExpiresAt: refreshExpiresAt},
		},
		SessionID:       session.SessionID,
		AccessExpiresAt: accessExpiresAt,
	}, nil
}

func (s *AuthService) storeUnavailable(err error) error {
	return appErrors.Wrap(err, appErrors.ErrStoreUnavailable.Code, appErrors.ErrStoreUnavailable.Status, appErrors.ErrStoreUnavailable.Message)
}

func isSessionGone(err error) bool {
	return errors.Is(err, repository.ErrSessionNotFound) || errors.Is(err, repository.ErrSessionCorrupt)
}
