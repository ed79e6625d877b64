package users

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRepoWithMock(t *testing.T) (*PostgresRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewPostgresRepository(db), mock
}

func TestFindByEmail_Found(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`(?s)SELECT id, email, password_hash, created_at\s+FROM users\s+WHERE email = \$1`).
		WithArgs("user@example.com").
		WillReturnRows(sqlmock.NewRows([]string{"id", "email", "password_hash", "created_at"}).
			AddRow(int64(5), "user@example.com", "salt:key", created))

	user, ok, err := repo.FindByEmail(context.Background(), "user@example.com")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, User{ID: 5, Email: "user@example.com", PasswordHash: "salt:key", CreatedAt: created}, user)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFindByID_NotFound(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	mock.ExpectQuery(`(?s)FROM users\s+WHERE id = \$1`).
		WithArgs(int64(9)).
		WillReturnError(sql.ErrNoRows)

	_, ok, err := repo.FindByID(context.Background(), 9)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFindByID_DBError(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	mock.ExpectQuery(`(?s)FROM users\s+WHERE id = \$1`).
		WithArgs(int64(9)).
		WillReturnError(errors.New("db down"))

	_, _, err := repo.FindByID(context.Background(), 9)
	require.ErrorContains(t, err, "query user: db down")
}

func TestCreate_Success(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`(?s)INSERT INTO users \(email, password_hash\)\s+VALUES \(\$1, \$2\)\s+RETURNING id, created_at`).
		WithArgs("user@example.com", "salt:key").
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(int64(11), created))

	user, err := repo.Create(context.Background(), "user@example.com", "salt:key")
	require.NoError(t, err)
	assert.Equal(t, int64(11), user.ID)
	assert.Equal(t, "user@example.com", user.Email)
	assert.Equal(t, created, user.CreatedAt)
}

func TestCreate_UniqueViolation(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	mock.ExpectQuery(`(?s)INSERT INTO users`).
		WithArgs("user@example.com", "salt:key").
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "users_email_key"})

	_, err := repo.Create(context.Background(), "user@example.com", "salt:key")
	require.ErrorIs(t, err, ErrEmailTaken)
}
