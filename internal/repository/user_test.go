package repository

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"framez/internal/cache"
	"framez/internal/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUserRepository_GetByID(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewUserRepository(db)
	ctx := context.Background()

	t.Run("Success", func(t *testing.T) {
		rows := sqlmock.NewRows([]string{"id", "email", "display_name"}).
			AddRow("u1", "test@example.com", "Tester")
		mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "users" WHERE id = $1 ORDER BY "users"."id" LIMIT $2`)).
			WithArgs("u1", 1).
			WillReturnRows(rows)

		user, err := repo.GetByID(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, "test@example.com", user.Email)
		assert.Equal(t, "Tester", user.Name())
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Not Found", func(t *testing.T) {
		mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "users" WHERE id = $1`)).
			WithArgs("ghost", 1).
			WillReturnRows(sqlmock.NewRows([]string{"id"}))

		user, err := repo.GetByID(ctx, "ghost")
		assert.Nil(t, user)
		assert.True(t, models.HasCode(err, models.CodeNotFound))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Database Error", func(t *testing.T) {
		mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "users" WHERE id = $1`)).
			WithArgs("u2", 1).
			WillReturnError(errors.New("connection reset"))

		_, err := repo.GetByID(ctx, "u2")
		assert.True(t, models.HasCode(err, models.CodeInternal))
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestUserRepository_GetByIDUsesCache(t *testing.T) {
	mr := miniredis.RunT(t)
	c, err := cache.NewClient(mr.Addr())
	require.NoError(t, err)
	cache.SetClient(c)
	t.Cleanup(func() { cache.SetClient(nil) })

	db := setupTestDB(t)
	repo := NewUserRepository(db)
	ctx := context.Background()

	name := "Ada"
	require.NoError(t, repo.Create(ctx, &models.User{ID: "u1", Email: "ada@example.com", DisplayName: &name, PasswordHash: "h"}))

	first, err := repo.GetByID(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, mr.Exists(cache.UserKey("u1")))

	// Writes through the repository invalidate the cached copy.
	require.NoError(t, repo.UpdateDisplayName(ctx, "u1", "Ada L."))
	assert.False(t, mr.Exists(cache.UserKey("u1")))

	second, err := repo.GetByID(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "Ada", first.Name())
	assert.Equal(t, "Ada L.", second.Name())
	assert.Empty(t, second.PasswordHash, "cached users never carry the hash")
}

func TestUserRepository_GetByEmail(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewUserRepository(db)
	ctx := context.Background()

	t.Run("Success", func(t *testing.T) {
		email := "test@example.com"
		rows := sqlmock.NewRows([]string{"id", "email", "password_hash"}).AddRow("u1", email, "hash")
		mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "users" WHERE email = $1 ORDER BY "users"."id" LIMIT $2`)).
			WithArgs(email, 1).
			WillReturnRows(rows)

		user, err := repo.GetByEmail(ctx, "  Test@Example.com ")
		require.NoError(t, err)
		require.NotNil(t, user)
		assert.Equal(t, "hash", user.PasswordHash)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Not Found", func(t *testing.T) {
		mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "users" WHERE email = $1`)).
			WithArgs("ghost@example.com", 1).
			WillReturnRows(sqlmock.NewRows([]string{"id"}))

		user, err := repo.GetByEmail(ctx, "ghost@example.com")
		assert.NoError(t, err)
		assert.Nil(t, user)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestUserRepository_CreateDuplicateEmail(t *testing.T) {
	db := setupTestDB(t)
	repo := NewUserRepository(db)
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, &models.User{ID: "u1", Email: "dup@example.com", PasswordHash: "h"}))
	err := repo.Create(ctx, &models.User{ID: "u2", Email: "DUP@example.com", PasswordHash: "h"})
	assert.ErrorIs(t, err, ErrDuplicateEmail)
}

func TestUserRepository_UpdateDisplayNameMissing(t *testing.T) {
	repo := NewUserRepository(setupTestDB(t))
	err := repo.UpdateDisplayName(context.Background(), "nobody", "X")
	assert.True(t, models.HasCode(err, models.CodeNotFound))
}
