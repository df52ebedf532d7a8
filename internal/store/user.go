package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/truenicoco/slidge-sub000/internal/model"
)

// User is a registered gateway user. Registration is an opaque blob owned
// by the legacy adapter.
type User struct {
	SessionID    string
	JID          string
	Registration []byte
	CreatedAt    time.Time
}

// PutUser creates a user or replaces its JID and registration blob.
// CreatedAt is kept from the first write.
func (s *Store) PutUser(ctx context.Context, u User) error {
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now()
	}
	registration := string(u.Registration)
	if registration == "" {
		registration = "{}"
	}

	_, err := s.q(ctx).ExecContext(ctx, s.rebind(`
		INSERT INTO users (session_id, jid, registration, created_at_us)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (session_id) DO UPDATE SET
			jid = excluded.jid,
			registration = excluded.registration
	`), u.SessionID, u.JID, registration, toMicros(u.CreatedAt))
	if err != nil {
		return backendErr("put user", err)
	}
	return nil
}

// GetUser returns the user of a session, or NOT_FOUND.
func (s *Store) GetUser(ctx context.Context, sessionID string) (User, error) {
	var (
		u            User
		registration string
		createdAt    int64
	)
	err := s.q(ctx).QueryRowContext(ctx, s.rebind(`
		SELECT session_id, jid, registration, created_at_us
		FROM users
		WHERE session_id = ?
	`), sessionID).Scan(&u.SessionID, &u.JID, &registration, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, model.NewNotFoundError("user not found", sessionID)
	}
	if err != nil {
		return User{}, backendErr("get user", err)
	}
	u.Registration = []byte(registration)
	u.CreatedAt = fromMicros(createdAt)
	return u, nil
}

// ListSessions returns every registered session id in ascending order.
func (s *Store) ListSessions(ctx context.Context) ([]string, error) {
	rows, err := s.q(ctx).QueryContext(ctx, `SELECT session_id FROM users ORDER BY session_id ASC`)
	if err != nil {
		return nil, backendErr("query users", err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, backendErr("scan user", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, backendErr("iterate users", err)
	}
	return ids, nil
}
