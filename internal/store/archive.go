package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/truenicoco/slidge-sub000/internal/model"
	"github.com/truenicoco/slidge-sub000/internal/queryir"
)

// ArchiveTable is the table archive window queries read from.
const ArchiveTable = "archive"

// ArchiveColumns are the columns every archive read returns, in scan order.
var ArchiveColumns = []string{
	"session_id", "conversation_id", "sequence", "protocol_id", "sender", "timestamp_us", "payload",
}

// InsertArchiveEntry appends e to its conversation, assigning the next
// sequence number. If the conversation already holds an entry with the same
// protocol id, that stored entry is returned unchanged and inserted is false.
func (s *Store) InsertArchiveEntry(ctx context.Context, e model.ArchiveEntry) (stored model.ArchiveEntry, inserted bool, err error) {
	err = s.WithTx(ctx, func(ctx context.Context) error {
		existing, err := s.GetArchiveEntry(ctx, e.SessionID, e.ConversationID, e.ProtocolID)
		if err == nil {
			stored = existing
			return nil
		}
		if !model.IsNotFound(err) {
			return err
		}

		next, err := s.nextArchiveSequence(ctx, e.SessionID, e.ConversationID)
		if err != nil {
			return err
		}

		_, err = s.q(ctx).ExecContext(ctx, s.rebind(`
			INSERT INTO archive
			(session_id, conversation_id, sequence, protocol_id, sender, timestamp_us, payload)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`),
			e.SessionID,
			e.ConversationID,
			next,
			e.ProtocolID,
			e.Sender,
			toMicros(e.Timestamp),
			e.Payload,
		)
		if err != nil {
			return backendErr("insert archive entry", err)
		}

		stored = e
		stored.Sequence = next
		stored.Timestamp = fromMicros(toMicros(e.Timestamp))
		inserted = true
		return nil
	})
	if err != nil {
		return model.ArchiveEntry{}, false, err
	}
	return stored, inserted, nil
}

// nextArchiveSequence reserves the next sequence number of a conversation.
// Must run inside a transaction. Rows written before the high-water mark
// existed are accounted for by the MAX fallback.
func (s *Store) nextArchiveSequence(ctx context.Context, sessionID, conversationID string) (int64, error) {
	var mark, afterMax int64
	err := s.q(ctx).QueryRowContext(ctx, s.rebind(`
		SELECT
			COALESCE((SELECT next_sequence FROM archive_sequences WHERE session_id = ? AND conversation_id = ?), 0),
			COALESCE((SELECT MAX(sequence) + 1 FROM archive WHERE session_id = ? AND conversation_id = ?), 0)
	`), sessionID, conversationID, sessionID, conversationID).Scan(&mark, &afterMax)
	if err != nil {
		return 0, backendErr("next archive sequence", err)
	}
	next := max(mark, afterMax)

	_, err = s.q(ctx).ExecContext(ctx, s.rebind(`
		INSERT INTO archive_sequences (session_id, conversation_id, next_sequence)
		VALUES (?, ?, ?)
		ON CONFLICT (session_id, conversation_id) DO UPDATE SET next_sequence = excluded.next_sequence
	`), sessionID, conversationID, next+1)
	if err != nil {
		return 0, backendErr("advance archive sequence", err)
	}
	return next, nil
}

// GetArchiveEntry returns the entry holding protocolID, or NOT_FOUND.
func (s *Store) GetArchiveEntry(ctx context.Context, sessionID, conversationID, protocolID string) (model.ArchiveEntry, error) {
	row := s.q(ctx).QueryRowContext(ctx, s.rebind(`
		SELECT session_id, conversation_id, sequence, protocol_id, sender, timestamp_us, payload
		FROM archive
		WHERE session_id = ? AND conversation_id = ? AND protocol_id = ?
	`), sessionID, conversationID, protocolID)
	return scanArchiveEntry(row, protocolID)
}

// SelectArchive runs an archive window query. Selects without explicit
// columns read ArchiveColumns, and the innermost select defaults to
// ArchiveTable. Returns an empty slice (not nil) when nothing matches.
func (s *Store) SelectArchive(ctx context.Context, sel queryir.Select) ([]model.ArchiveEntry, error) {
	query, params, err := s.compiler.Compile(withArchiveDefaults(sel))
	if err != nil {
		return nil, fmt.Errorf("select archive: %w", err)
	}

	rows, err := s.q(ctx).QueryContext(ctx, query, params...)
	if err != nil {
		return nil, backendErr("query archive", err)
	}
	defer rows.Close()

	entries := []model.ArchiveEntry{}
	for rows.Next() {
		e, err := scanArchiveEntry(rows, "")
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, backendErr("iterate archive", err)
	}
	return entries, nil
}

func withArchiveDefaults(sel queryir.Select) queryir.Select {
	if len(sel.Columns) == 0 {
		sel.Columns = ArchiveColumns
	}
	if sel.Inner != nil {
		inner := withArchiveDefaults(*sel.Inner)
		sel.Inner = &inner
	} else if sel.From == "" {
		sel.From = ArchiveTable
	}
	return sel
}

// ArchiveExtent returns the first and last entries of a conversation in
// (timestamp, sequence) order. ok is false when the conversation is empty.
func (s *Store) ArchiveExtent(ctx context.Context, sessionID, conversationID string) (first, last model.ArchiveEntry, ok bool, err error) {
	const extentQuery = `
		SELECT session_id, conversation_id, sequence, protocol_id, sender, timestamp_us, payload
		FROM archive
		WHERE session_id = ? AND conversation_id = ?
		ORDER BY timestamp_us %[1]s, sequence %[1]s
		LIMIT 1
	`

	first, err = scanArchiveEntry(s.q(ctx).QueryRowContext(ctx,
		s.rebind(fmt.Sprintf(extentQuery, "ASC")), sessionID, conversationID), conversationID)
	if model.IsNotFound(err) {
		return model.ArchiveEntry{}, model.ArchiveEntry{}, false, nil
	}
	if err != nil {
		return model.ArchiveEntry{}, model.ArchiveEntry{}, false, err
	}

	last, err = scanArchiveEntry(s.q(ctx).QueryRowContext(ctx,
		s.rebind(fmt.Sprintf(extentQuery, "DESC")), sessionID, conversationID), conversationID)
	if err != nil {
		return model.ArchiveEntry{}, model.ArchiveEntry{}, false, err
	}
	return first, last, true, nil
}

// DeleteArchiveOlderThan removes entries with a timestamp strictly before
// cutoff. An empty conversationID prunes every conversation of the session.
// Returns the number of deleted entries.
func (s *Store) DeleteArchiveOlderThan(ctx context.Context, sessionID, conversationID string, cutoff time.Time) (int64, error) {
	query := `DELETE FROM archive WHERE session_id = ? AND timestamp_us < ?`
	args := []any{sessionID, toMicros(cutoff)}
	if conversationID != "" {
		query += ` AND conversation_id = ?`
		args = append(args, conversationID)
	}

	res, err := s.q(ctx).ExecContext(ctx, s.rebind(query), args...)
	if err != nil {
		return 0, backendErr("delete archive entries", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, backendErr("delete archive entries", err)
	}
	return n, nil
}

func scanArchiveEntry(row rowScanner, key string) (model.ArchiveEntry, error) {
	var (
		e  model.ArchiveEntry
		ts int64
	)
	err := row.Scan(&e.SessionID, &e.ConversationID, &e.Sequence, &e.ProtocolID, &e.Sender, &ts, &e.Payload)
	if errors.Is(err, sql.ErrNoRows) {
		return model.ArchiveEntry{}, model.NewNotFoundError("archive entry not found", key)
	}
	if err != nil {
		return model.ArchiveEntry{}, backendErr("scan archive entry", err)
	}
	e.Timestamp = fromMicros(ts)
	return e, nil
}
