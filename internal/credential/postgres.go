package credential

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"phone-login/client/internal/phone"
)

const (
	upsertCredential = `
INSERT INTO verified_sessions (id, session_id, phone, subject, payload, expires_at, created_at)
VALUES ($1, $2, $3, $4, $5::jsonb, $6, $7)
ON CONFLICT (id) DO UPDATE SET
    payload = EXCLUDED.payload,
    subject = EXCLUDED.subject,
    expires_at = EXCLUDED.expires_at`

	selectCredential = `
SELECT id, session_id, phone, subject, payload, expires_at, created_at
FROM verified_sessions
WHERE id = $1 AND (expires_at IS NULL OR expires_at > $2)`

	selectLatestByPhone = `
SELECT id, session_id, phone, subject, payload, expires_at, created_at
FROM verified_sessions
WHERE phone = $1 AND (expires_at IS NULL OR expires_at > $2)
ORDER BY created_at DESC
LIMIT 1`
)

// PostgresStore keeps credentials in the verified_sessions table (see internal/db/migrations).
type PostgresStore struct {
	db   *sql.DB
	nowF func() time.Time
}

// NewPostgresStore returns a store using db. Run the migrations before first use.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, nowF: func() time.Time { return time.Now().UTC() }}
}

// Save inserts c, or refreshes payload and expiry if the id already exists.
func (s *PostgresStore) Save(ctx context.Context, c *Credential) error {
	_, err := s.db.ExecContext(ctx, upsertCredential,
		c.ID,
		c.SessionID,
		c.Phone.String(),
		c.Subject,
		string(c.Payload),
		timeToNullTime(c.ExpiresAt),
		c.CreatedAt,
	)
	return err
}

// Get returns the unexpired credential for id, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (s *PostgresStore) Get(ctx context.Context, id string) (*Credential, error) {
	return s.scanOne(s.db.QueryRowContext(ctx, selectCredential, id, s.nowF()))
}

// LatestForPhone returns the newest unexpired credential for p, or nil.
func (s *PostgresStore) LatestForPhone(ctx context.Context, p phone.Number) (*Credential, error) {
	return s.scanOne(s.db.QueryRowContext(ctx, selectLatestByPhone, p.String(), s.nowF()))
}

func (s *PostgresStore) scanOne(row *sql.Row) (*Credential, error) {
	var (
		c       Credential
		p       string
		payload []byte
		expires sql.NullTime
	)
	if err := row.Scan(&c.ID, &c.SessionID, &p, &c.Subject, &payload, &expires, &c.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	c.Phone = phone.Number(p)
	c.Payload = payload
	c.ExpiresAt = nullTimeToPtr(expires)
	return &c, nil
}

func timeToNullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func nullTimeToPtr(n sql.NullTime) *time.Time {
	if !n.Valid {
		return nil
	}
	t := n.Time.UTC()
	return &t
}
