package repository

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/wishary/wishary-auth-api/internal/models"
)

func newSessionRepo(t *testing.T) (*SessionRepository, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewSessionRepository(client, zap.NewNop()), mr
}

func testSession(sessionID, tokenID string) *models.AuthSession {
	return &models.AuthSession{
		SessionID: sessionID,
		User:      models.AuthUser{ID: "u1", Role: models.RoleUser},
		RefreshToken: models.SessionRefreshState{
			FamilyID:  "f1",
			ID:        tokenID,
			ExpiresAt: time.Now().UTC().Add(time.Hour),
			Used:      false,
		},
	}
}

func TestSessionSetGetDelete(t *testing.T) {
	repo, mr := newSessionRepo(t)
	ctx := context.Background()

	session := testSession("s1", "t1")
	require.NoError(t, repo.Set(ctx, session, session.RefreshToken.ExpiresAt))

	// Namespaced key so the instance can be shared.
	assert.True(t, mr.Exists("auth:session:s1"))

	got, err := repo.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, session.User, got.User)
	assert.False(t, got.RefreshToken.Used)

	ok, err := repo.Has(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, repo.Delete(ctx, "s1"))
	_, err = repo.Get(ctx, "s1")
	assert.ErrorIs(t, err, ErrSessionNotFound)

	// Deleting again is not an error.
	require.NoError(t, repo.Delete(ctx, "s1"))
}

func TestSessionSetRejectsPastExpiry(t *testing.T) {
	repo, _ := newSessionRepo(t)
	session := testSession("s1", "t1")

	err := repo.Set(context.Background(), session, time.Now().Add(-time.Minute))
	assert.Error(t, err)
}

func TestSessionSelfEvicts(t *testing.T) {
	repo, mr := newSessionRepo(t)
	ctx := context.Background()

	session := testSession("s1", "t1")
	require.NoError(t, repo.Set(ctx, session, time.Now().Add(time.Minute)))

	mr.FastForward(2 * time.Minute)

	_, err := repo.Get(ctx, "s1")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestMarkRefreshTokenUsed(t *testing.T) {
	repo, _ := newSessionRepo(t)
	ctx := context.Background()

	session := testSession("s1", "t1")
	require.NoError(t, repo.Set(ctx, session, session.RefreshToken.ExpiresAt))

	got, err := repo.MarkRefreshTokenUsed(ctx, "s1", "t1")
	require.NoError(t, err)
	assert.Equal(t, "t1", got.RefreshToken.ID)

	// The stored record now carries used=true.
	stored, err := repo.Get(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, stored.RefreshToken.Used)

	// Second consumption trips the reuse detector.
	_, err = repo.MarkRefreshTokenUsed(ctx, "s1", "t1")
	assert.ErrorIs(t, err, ErrRefreshTokenUsed)
}

func TestMarkRefreshTokenUsedMismatch(t *testing.T) {
	repo, _ := newSessionRepo(t)
	ctx := context.Background()

	session := testSession("s1", "t2")
	require.NoError(t, repo.Set(ctx, session, session.RefreshToken.ExpiresAt))

	_, err := repo.MarkRefreshTokenUsed(ctx, "s1", "t1")
	assert.ErrorIs(t, err, ErrRefreshTokenMismatch)
}

func TestMarkRefreshTokenUsedMissing(t *testing.T) {
	repo, _ := newSessionRepo(t)

	_, err := repo.MarkRefreshTokenUsed(context.Background(), "nope", "t1")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestMarkRefreshTokenUsedKeepsTTL(t *testing.T) {
	repo, mr := newSessionRepo(t)
	ctx := context.Background()

	session := testSession("s1", "t1")
	require.NoError(t, repo.Set(ctx, session, time.Now().Add(time.Minute)))

	_, err := repo.MarkRefreshTokenUsed(ctx, "s1", "t1")
	require.NoError(t, err)

	// The flip must not extend the record's life.
	mr.FastForward(2 * time.Minute)
	_, err = repo.Get(ctx, "s1")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestMarkRefreshTokenUsedSingleWinner(t *testing.T) {
	repo, _ := newSessionRepo(t)
	ctx := context.Background()

	session := testSession("s1", "t1")
	require.NoError(t, repo.Set(ctx, session, session.RefreshToken.ExpiresAt))

	const attempts = 16
	var wg sync.WaitGroup
	errs := make([]error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = repo.MarkRefreshTokenUsed(ctx, "s1", "t1")
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, err := range errs {
		if err == nil {
			winners++
		} else {
			assert.ErrorIs(t, err, ErrRefreshTokenUsed)
		}
	}
	assert.Equal(t, 1, winners, "exactly one concurrent rotation may win")
}
