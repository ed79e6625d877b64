package refresh

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"auth-serverless/internal/db"
)

// PostgresStore keeps records in the refresh_tokens table.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(database *sql.DB) *PostgresStore {
	return &PostgresStore{db: database}
}

func (s *PostgresStore) Insert(ctx context.Context, rec Record) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO refresh_tokens (id, user_id, token_hash, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, rec.ID, rec.SubjectID, rec.TokenHash, rec.ExpiresAt.UTC(), rec.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert refresh token: %w", err)
	}

	return nil
}

// Rotate revokes and replaces inside one transaction. The conditional UPDATE
// takes the row lock; a concurrent rotation blocks on it, re-checks
// revoked_at after the winner commits and matches nothing.
func (s *PostgresStore) Rotate(ctx context.Context, oldHash string, now time.Time, next Record) (Record, bool, error) {
	var rotated bool

	err := db.WithTx(ctx, s.db, nil, func(ctx context.Context, tx db.DBTX) error {
		var subjectID int64
		err := tx.QueryRowContext(ctx, `
			UPDATE refresh_tokens
			SET revoked_at = $2, replaced_by = $3
			WHERE token_hash = $1 AND revoked_at IS NULL AND expires_at > $2
			RETURNING user_id
		`, oldHash, now.UTC(), next.ID).Scan(&subjectID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil
			}
			return fmt.Errorf("revoke rotated refresh token: %w", err)
		}

		next.SubjectID = subjectID
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO refresh_tokens (id, user_id, token_hash, expires_at, created_at)
			VALUES ($1, $2, $3, $4, $5)
		`, next.ID, next.SubjectID, next.TokenHash, next.ExpiresAt.UTC(), next.CreatedAt.UTC()); err != nil {
			return fmt.Errorf("insert rotated refresh token: %w", err)
		}

		rotated = true
		return nil
	})
	if err != nil {
		return Record{}, false, err
	}
	if !rotated {
		return Record{}, false, nil
	}

	return next, true, nil
}

func (s *PostgresStore) Revoke(ctx context.Context, hash string, now time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE refresh_tokens
		SET revoked_at = $2
		WHERE token_hash = $1 AND revoked_at IS NULL
	`, hash, now.UTC())
	if err != nil {
		return fmt.Errorf("revoke refresh token: %w", err)
	}

	return nil
}

func (s *PostgresStore) Stats(ctx context.Context, now time.Time) (Stats, error) {
	var stats Stats
	err := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE revoked_at IS NULL AND expires_at > $1),
			COUNT(*) FILTER (WHERE revoked_at IS NOT NULL),
			COUNT(*) FILTER (WHERE revoked_at IS NULL AND expires_at <= $1)
		FROM refresh_tokens
	`, now.UTC()).Scan(&stats.Active, &stats.Revoked, &stats.Expired)
	if err != nil {
		return Stats{}, fmt.Errorf("count refresh tokens: %w", err)
	}

	return stats, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
