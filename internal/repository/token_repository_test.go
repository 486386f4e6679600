package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wishary/wishary-auth-api/internal/models"
)

func TestCreateFamilyAndToken(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewTokenRepository(db)

	now := time.Now().UTC()
	mock.ExpectExec("INSERT INTO refresh_token_families").
		WithArgs("f1", "u1", false, now, now).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO refresh_tokens").
		WithArgs("t1", "f1", now.Add(time.Hour), now).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := repo.CreateFamily(context.Background(), &models.RefreshTokenFamily{ID: "f1", UserID: "u1", CreatedAt: now, UpdatedAt: now})
	require.NoError(t, err)
	err = repo.CreateToken(context.Background(), &models.RefreshToken{ID: "t1", FamilyID: "f1", ExpiresAt: now.Add(time.Hour), CreatedAt: now})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFindFamily(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewTokenRepository(db)

	now := time.Now()
	rows := sqlmock.NewRows([]string{"id", "user_id", "invalidated", "invalidated_at", "created_at", "updated_at"}).
		AddRow("f1", "u1", false, nil, now, now)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, user_id, invalidated, invalidated_at, created_at, updated_at FROM refresh_token_families WHERE id = $1 LIMIT 1")).
		WithArgs("f1").
		WillReturnRows(rows)

	family, err := repo.FindFamily(context.Background(), "f1")
	require.NoError(t, err)
	assert.False(t, family.Invalidated)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInvalidateFamily(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewTokenRepository(db)

	mock.ExpectExec("UPDATE refresh_token_families SET invalidated = TRUE").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.InvalidateFamily(context.Background(), "f1", time.Now())
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInvalidateFamiliesForUser(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewTokenRepository(db)

	mock.ExpectExec("UPDATE refresh_token_families SET invalidated = TRUE").
		WithArgs("u1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 2))

	err := repo.InvalidateFamiliesForUser(context.Background(), "u1", time.Now())
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkTokenRotated(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewTokenRepository(db)

	mock.ExpectExec("UPDATE refresh_tokens SET rotated_at").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.MarkTokenRotated(context.Background(), "t1", time.Now())
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteExpired(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewTokenRepository(db)

	mock.ExpectExec("DELETE FROM refresh_tokens WHERE expires_at").
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectExec("DELETE FROM refresh_token_families f WHERE NOT EXISTS").
		WillReturnResult(sqlmock.NewResult(0, 1))

	deleted, err := repo.DeleteExpired(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(3), deleted)
	assert.NoError(t, mock.ExpectationsWereMet())
}
