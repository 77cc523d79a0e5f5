package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/tendant/tourdesk/pkg/domain"
)

const sessionColumns = `id, user_id, access_token_hash, refresh_token_hash, previous_refresh_token_hash,
		       csrf_token_hash, device, last_activity, created_at, expires_at`

// SessionsRepository handles session persistence in Postgres.
type SessionsRepository struct {
	db *sql.DB
}

// NewSessionsRepository creates a new sessions repository.
func NewSessionsRepository(db *sql.DB) *SessionsRepository {
	return &SessionsRepository{db: db}
}

// Create creates a new session.
func (r *SessionsRepository) Create(ctx context.Context, session *domain.Session) error {
	device, err := json.Marshal(session.Device)
	if err != nil {
		return fmt.Errorf("encode device metadata: %w", err)
	}
	query := `
		INSERT INTO sessions (id, user_id, access_token_hash, refresh_token_hash, csrf_token_hash,
		                      device, last_activity, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err = r.db.ExecContext(ctx, query,
		session.ID, session.UserID, session.AccessTokenHash, session.RefreshTokenHash,
		session.CSRFTokenHash, device, session.LastActivity, session.CreatedAt, session.ExpiresAt,
	)
	return err
}

// GetByID retrieves a session by ID.
func (r *SessionsRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE id = $1`
	session, err := scanSession(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}
	return session, nil
}

// ListByUserID returns all sessions of a user, most recent first.
func (r *SessionsRepository) ListByUserID(ctx context.Context, userID uuid.UUID) ([]*domain.Session, error) {
	query := `SELECT ` + sessionColumns + `
		FROM sessions
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
	`
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []*domain.Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}
	return sessions, rows.Err()
}

// UpdateActivity sets last_activity and merges the non-empty device fields
// into the stored metadata.
func (r *SessionsRepository) UpdateActivity(ctx context.Context, id uuid.UUID, at time.Time, device *domain.DeviceMetadata) error {
	patch := []byte("{}")
	if device != nil {
		var err error
		// omitempty drops blank fields, so they keep their stored values.
		if patch, err = json.Marshal(device); err != nil {
			return fmt.Errorf("encode device metadata: %w", err)
		}
	}
	query := `
		UPDATE sessions
		SET last_activity = $2, device = device || $3::jsonb
		WHERE id = $1
	`
	result, err := r.db.ExecContext(ctx, query, id, at, patch)
	if err != nil {
		return err
	}
	return expectRow(result, domain.ErrSessionNotFound)
}

// UpdateTokens replaces the access and refresh hashes when the stored refresh
// hash still matches oldRefreshHash. The replaced refresh hash is kept as the
// previous one.
func (r *SessionsRepository) UpdateTokens(ctx context.Context, id uuid.UUID, oldRefreshHash, accessHash, refreshHash string) error {
	query := `
		UPDATE sessions
		SET access_token_hash = $3,
		    refresh_token_hash = $4,
		    previous_refresh_token_hash = refresh_token_hash
		WHERE id = $1 AND refresh_token_hash = $2
	`
	result, err := r.db.ExecContext(ctx, query, id, oldRefreshHash, accessHash, refreshHash)
	if err != nil {
		return err
	}
	return expectRow(result, domain.ErrSessionNotFound)
}

// Delete removes a session. Deleting a missing session is not an error.
func (r *SessionsRepository) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = $1`, id)
	return err
}

// DeleteByUserID removes all sessions of a user.
func (r *SessionsRepository) DeleteByUserID(ctx context.Context, userID uuid.UUID) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM sessions WHERE user_id = $1`, userID)
	return err
}

// DeleteExpired removes sessions past expires_at or idle since before
// idleCutoff. A zero idleCutoff skips the idle check.
func (r *SessionsRepository) DeleteExpired(ctx context.Context, now, idleCutoff time.Time) (int64, error) {
	cutoff := sql.NullTime{Time: idleCutoff, Valid: !idleCutoff.IsZero()}
	query := `
		DELETE FROM sessions
		WHERE expires_at <= $1
		   OR ($2::timestamptz IS NOT NULL AND last_activity < $2)
	`
	result, err := r.db.ExecContext(ctx, query, now, cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*domain.Session, error) {
	session := &domain.Session{}
	var device []byte
	err := row.Scan(
		&session.ID, &session.UserID, &session.AccessTokenHash, &session.RefreshTokenHash,
		&session.PreviousRefreshTokenHash, &session.CSRFTokenHash, &device,
		&session.LastActivity, &session.CreatedAt, &session.ExpiresAt,
	)
	if err != nil {
		return nil, err
	}
	if len(device) > 0 {
		if err := json.Unmarshal(device, &session.Device); err != nil {
			return nil, fmt.Errorf("decode device metadata: %w", err)
		}
	}
	return session, nil
}
