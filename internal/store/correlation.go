package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/truenicoco/slidge-sub000/internal/model"
)

// InsertCorrelation stores a correlation record.
// Uses ON CONFLICT DO NOTHING: a record whose protocol id is already taken
// in the conversation, or a second primary for the same legacy id, is not
// written. The returned bool reports whether a row was inserted.
func (s *Store) InsertCorrelation(ctx context.Context, c model.Correlation) (bool, error) {
	res, err := s.q(ctx).ExecContext(ctx, s.rebind(`
		INSERT INTO correlations
		(session_id, conversation_id, legacy_id, protocol_id, is_thread, is_primary)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING
	`),
		c.SessionID,
		c.ConversationID,
		c.LegacyID,
		c.ProtocolID,
		boolToInt(c.IsThread),
		boolToInt(c.IsPrimary),
	)
	if err != nil {
		return false, backendErr("insert correlation", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, backendErr("insert correlation", err)
	}
	return n > 0, nil
}

// GetPrimaryCorrelation returns the primary record for a legacy id, or NOT_FOUND.
func (s *Store) GetPrimaryCorrelation(ctx context.Context, sessionID, conversationID, legacyID string, isThread bool) (model.Correlation, error) {
	row := s.q(ctx).QueryRowContext(ctx, s.rebind(`
		SELECT session_id, conversation_id, legacy_id, protocol_id, is_thread, is_primary
		FROM correlations
		WHERE session_id = ? AND conversation_id = ? AND is_thread = ? AND legacy_id = ? AND is_primary = 1
	`), sessionID, conversationID, boolToInt(isThread), legacyID)
	return scanCorrelation(row, legacyID)
}

// GetCorrelationByProtocol returns the record (primary or echo) holding
// protocolID, or NOT_FOUND.
func (s *Store) GetCorrelationByProtocol(ctx context.Context, sessionID, conversationID, protocolID string, isThread bool) (model.Correlation, error) {
	row := s.q(ctx).QueryRowContext(ctx, s.rebind(`
		SELECT session_id, conversation_id, legacy_id, protocol_id, is_thread, is_primary
		FROM correlations
		WHERE session_id = ? AND conversation_id = ? AND is_thread = ? AND protocol_id = ?
	`), sessionID, conversationID, boolToInt(isThread), protocolID)
	return scanCorrelation(row, protocolID)
}

// ListEchoes returns the non-primary protocol ids of a legacy id in
// insertion order. Returns an empty slice (not nil) if there are none.
func (s *Store) ListEchoes(ctx context.Context, sessionID, conversationID, legacyID string, isThread bool) ([]string, error) {
	rows, err := s.q(ctx).QueryContext(ctx, s.rebind(`
		SELECT protocol_id
		FROM correlations
		WHERE session_id = ? AND conversation_id = ? AND is_thread = ? AND legacy_id = ? AND is_primary = 0
		ORDER BY id ASC
	`), sessionID, conversationID, boolToInt(isThread), legacyID)
	if err != nil {
		return nil, backendErr("query echoes", err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, backendErr("scan echo", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, backendErr("iterate echoes", err)
	}
	return ids, nil
}

func scanCorrelation(row rowScanner, key string) (model.Correlation, error) {
	var (
		c                 model.Correlation
		isThread, primary int64
	)
	err := row.Scan(&c.SessionID, &c.ConversationID, &c.LegacyID, &c.ProtocolID, &isThread, &primary)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Correlation{}, model.NewNotFoundError("correlation not found", key)
	}
	if err != nil {
		return model.Correlation{}, backendErr("scan correlation", err)
	}
	c.IsThread = isThread != 0
	c.IsPrimary = primary != 0
	return c, nil
}
