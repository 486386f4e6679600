package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/wishary/wishary-auth-api/internal/models"
)

// sessionKeyPrefix namespaces auth sessions so the Redis instance can be
// shared with unrelated cached data without collision.
const sessionKeyPrefix = "auth:session:"

// Sentinel errors reported by the session repository. A store outage is
// anything else and is wrapped, so callers can tell "revoked" apart from
// "unreachable".
var (
	ErrSessionNotFound = errors.New("auth session not found")
	// ErrRefreshTokenUsed means the session's refresh token was already
	// consumed by a rotation. Presenting it again is the reuse trip-wire.
	ErrRefreshTokenUsed = errors.New("refresh token already used")
	// ErrRefreshTokenMismatch means the presented token id is not the one
	// the session currently holds, i.e. a stale token from an earlier
	// rotation within the lineage.
	ErrRefreshTokenMismatch = errors.New("refresh token id mismatch")
	ErrSessionCorrupt       = errors.New("auth session record corrupt")
)

const (
	markUsedStatusNotFound int64 = 0
	markUsedStatusOK       int64 = 1
	markUsedStatusUsed     int64 = 2
	markUsedStatusMismatch int64 = 3
	markUsedStatusCorrupt  int64 = 4
)

// markUsedScript atomically flips refresh_token.used on the session record,
// but only when the presented token id matches and the token has not been
// consumed yet. Running it as a single Redis script is what guarantees at
// most one winner between concurrent refresh attempts on the same token.
const markUsedScript = `
local raw = redis.call("GET", KEYS[1])
if not raw then
  return {0}
end
local ok, session = pcall(cjson.decode, raw)
if not ok or type(session) ~= "table" or type(session.refresh_token) ~= "table" then
  return {4}
end
if session.refresh_token.used then
  return {2}
end
if session.refresh_token.id ~= ARGV[1] then
  return {3}
end
session.refresh_token.used = true
local ttl = redis.call("PTTL", KEYS[1])
if ttl > 0 then
  redis.call("SET", KEYS[1], cjson.encode(session), "PX", ttl)
else
  redis.call("SET", KEYS[1], cjson.encode(session))
end
return {1, raw}
`

var markUsedLua = redis.NewScript(markUsedScript)

// SessionRepository is the auth session store: a bounded-lifetime
// accelerator over Redis, never authoritative memory. Losing a record only
// ever forces a fresh login.
type SessionRepository struct {
	client *redis.Client
	logger *zap.Logger
}

// NewSessionRepository constructs a session repository.
func NewSessionRepository(client *redis.Client, logger *zap.Logger) *SessionRepository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionRepository{client: client, logger: logger}
}

func sessionKey(sessionID string) string {
	return sessionKeyPrefix + sessionID
}

// Get retrieves a session by identifier.
func (r *SessionRepository) Get(ctx context.Context, sessionID string) (*models.AuthSession, error) {
	raw, err := r.client.Get(ctx, sessionKey(sessionID)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("redis get session %s: %w", sessionID, err)
	}

	var session models.AuthSession
	if err := json.Unmarshal(raw, &session); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSessionCorrupt, err)
	}
	return &session, nil
}

// Set stores a session with a TTL equal to the refresh token's remaining
// life, so the record self-evicts exactly when the token dies.
func (r *SessionRepository) Set(ctx context.Context, session *models.AuthSession, expiresAt time.Time) error {
	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		return fmt.Errorf("session %s already expired", session.SessionID)
	}

	payload, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("marshal session %s: %w", session.SessionID, err)
	}

	if err := r.client.Set(ctx, sessionKey(session.SessionID), payload, ttl).Err(); err != nil {
		return fmt.Errorf("redis set session %s: %w", session.SessionID, err)
	}
	return nil
}

// Delete removes a session. Deleting an absent session is not an error.
func (r *SessionRepository) Delete(ctx context.Context, sessionID string) error {
	if err := r.client.Del(ctx, sessionKey(sessionID)).Err(); err != nil {
		return fmt.Errorf("redis delete session %s: %w", sessionID, err)
	}
	return nil
}

// Has reports whether a session record exists.
func (r *SessionRepository) Has(ctx context.Context, sessionID string) (bool, error) {
	n, err := r.client.Exists(ctx, sessionKey(sessionID)).Result()
	if err != nil {
		return false, fmt.Errorf("redis exists session %s: %w", sessionID, err)
	}
	return n > 0, nil
}

// MarkRefreshTokenUsed is the rotation gate. It atomically consumes the
// session's refresh token and returns the session as it was before the
// flip. Exactly one concurrent caller per token can get a nil error; the
// rest observe ErrRefreshTokenUsed.
func (r *SessionRepository) MarkRefreshTokenUsed(ctx context.Context, sessionID, tokenID string) (*models.AuthSession, error) {
	res, err := markUsedLua.Run(ctx, r.client, []string{sessionKey(sessionID)}, tokenID).Result()
	if err != nil {
		return nil, fmt.Errorf("redis mark used %s: %w", sessionID, err)
	}

	values, ok := res.([]interface{})
	if !ok || len(values) == 0 {
		return nil, fmt.Errorf("redis mark used %s: unexpected reply %v", sessionID, res)
	}
	status, ok := values[0].(int64)
	if !ok {
		return nil, fmt.Errorf("redis mark used %s: unexpected status %v", sessionID, values[0])
	}

	switch status {
	case markUsedStatusOK:
		if len(values) < 2 {
			return nil, fmt.Errorf("redis mark used %s: missing session payload", sessionID)
		}
		raw, ok := values[1].(string)
		if !ok {
			return nil, fmt.Errorf("redis mark used %s: unexpected payload %v", sessionID, values[1])
		}
		var session models.AuthSession
		if err := json.Unmarshal([]byte(raw), &session); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrSessionCorrupt, err)
		}
		return &session, nil
	case markUsedStatusNotFound:
		return nil, ErrSessionNotFound
	case markUsedStatusUsed:
		return nil, ErrRefreshTokenUsed
	case markUsedStatusMismatch:
		return nil, ErrRefreshTokenMismatch
	case markUsedStatusCorrupt:
		r.logger.Warn("corrupt session record", zap.String("session_id", sessionID))
		return nil, ErrSessionCorrupt
	default:
		return nil, fmt.Errorf("redis mark used %s: unknown status %d", sessionID, status)
	}
}
