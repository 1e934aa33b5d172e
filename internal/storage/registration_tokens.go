package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"insafe-backend/internal/auth"
)

type registrationTokenRow struct {
	ID        string       `db:"id"`
	TokenHash string       `db:"token_hash"`
	ExpiresAt time.Time    `db:"expires_at"`
	UsedAt    sql.NullTime `db:"used_at"`
}

// CreateRegistrationToken mints a single-use registration token valid for
// ttl. Only its prefix and bcrypt hash are stored; the plaintext is returned
// once.
func (s *Storage) CreateRegistrationToken(ctx context.Context, createdBy string, ttl time.Duration) (token string, expiresAt time.Time, err error) {
	token, prefix, hash, err := auth.GenerateRegistrationToken()
	if err != nil {
		return "", time.Time{}, err
	}

	now := time.Now().UTC()
	expiresAt = now.Add(ttl)
	_, err = s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO registration_tokens (id, token_prefix, token_hash, created_by, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`), uuid.NewString(), prefix, hash, nullIfEmpty(createdBy), now, expiresAt)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("insert registration token: %w", err)
	}
	return token, expiresAt, nil
}

// ConsumeRegistrationToken validates token and marks it used by agentID.
// A token can be consumed exactly once.
func (s *Storage) ConsumeRegistrationToken(ctx context.Context, token, agentID string, now time.Time) error {
	return consumeRegistrationToken(ctx, s.db, token, agentID, now)
}

func consumeRegistrationToken(ctx context.Context, ext sqlx.ExtContext, token, agentID string, now time.Time) error {
	if len(token) < auth.RegistrationTokenLookupLen {
		return ErrRegistrationTokenInvalid
	}

	var rows []registrationTokenRow
	err := sqlx.SelectContext(ctx, ext, &rows, ext.Rebind(`
		SELECT id, token_hash, expires_at, used_at FROM registration_tokens WHERE token_prefix = ?
	`), token[:auth.RegistrationTokenLookupLen])
	if err != nil {
		return err
	}

	for _, row := range rows {
		if !auth.ValidateTokenHash(token, row.TokenHash) {
			continue
		}
		if row.UsedAt.Valid {
			return ErrRegistrationTokenUsed
		}
		if !now.Before(row.ExpiresAt) {
			return ErrRegistrationTokenExpired
		}

		res, err := ext.ExecContext(ctx, ext.Rebind(`
			UPDATE registration_tokens SET used_at = ?, used_by_agent = ?
			WHERE id = ? AND used_at IS NULL
		`), now, nullIfEmpty(agentID), row.ID)
		if err != nil {
			return fmt.Errorf("consume registration token: %w", err)
		}
		if err := requireRow(res); err != nil {
			return ErrRegistrationTokenUsed
		}
		return nil
	}
	return ErrRegistrationTokenInvalid
}
