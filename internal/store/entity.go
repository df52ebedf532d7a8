package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/truenicoco/slidge-sub000/internal/model"
)

const entityColumns = "session_id, kind, legacy_id, local_key, enriched_at_us, profile"

// GetEntity returns the entity stored under legacyID, or NOT_FOUND.
func (s *Store) GetEntity(ctx context.Context, sessionID string, kind model.Kind, legacyID string) (model.EntityRecord, error) {
	row := s.q(ctx).QueryRowContext(ctx, s.rebind(`
		SELECT `+entityColumns+`
		FROM entities
		WHERE session_id = ? AND kind = ? AND legacy_id = ?
	`), sessionID, string(kind), legacyID)
	return scanEntity(row, legacyID)
}

// GetEntityByLocalKey returns the entity stored under localKey, or NOT_FOUND.
func (s *Store) GetEntityByLocalKey(ctx context.Context, sessionID string, kind model.Kind, localKey string) (model.EntityRecord, error) {
	row := s.q(ctx).QueryRowContext(ctx, s.rebind(`
		SELECT `+entityColumns+`
		FROM entities
		WHERE session_id = ? AND kind = ? AND local_key = ?
	`), sessionID, string(kind), localKey)
	return scanEntity(row, localKey)
}

// UpsertEntity inserts or replaces the stored form of an entity.
func (s *Store) UpsertEntity(ctx context.Context, rec model.EntityRecord) error {
	profile, err := marshalProfile(rec.Profile)
	if err != nil {
		return fmt.Errorf("upsert entity: %w", err)
	}

	_, err = s.q(ctx).ExecContext(ctx, s.rebind(`
		INSERT INTO entities (`+entityColumns+`)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (session_id, kind, legacy_id) DO UPDATE SET
			local_key = excluded.local_key,
			enriched_at_us = excluded.enriched_at_us,
			profile = excluded.profile
	`),
		rec.SessionID,
		string(rec.Kind),
		rec.LegacyID,
		rec.LocalKey,
		toMicros(rec.EnrichedAt),
		profile,
	)
	if err != nil {
		return backendErr("upsert entity", err)
	}
	return nil
}

// ListEntities returns every stored entity of one kind for a session,
// ordered by legacy id. Returns an empty slice (not nil) if there are none.
func (s *Store) ListEntities(ctx context.Context, sessionID string, kind model.Kind) ([]model.EntityRecord, error) {
	rows, err := s.q(ctx).QueryContext(ctx, s.rebind(`
		SELECT `+entityColumns+`
		FROM entities
		WHERE session_id = ? AND kind = ?
		ORDER BY legacy_id ASC
	`), sessionID, string(kind))
	if err != nil {
		return nil, backendErr("query entities", err)
	}
	defer rows.Close()

	records := []model.EntityRecord{}
	for rows.Next() {
		rec, err := scanEntity(rows, "")
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, backendErr("iterate entities", err)
	}
	return records, nil
}

// DeleteEntity removes an entity. Deleting a missing entity is not an error.
func (s *Store) DeleteEntity(ctx context.Context, sessionID string, kind model.Kind, legacyID string) error {
	_, err := s.q(ctx).ExecContext(ctx, s.rebind(`
		DELETE FROM entities WHERE session_id = ? AND kind = ? AND legacy_id = ?
	`), sessionID, string(kind), legacyID)
	if err != nil {
		return backendErr("delete entity", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntity(row rowScanner, key string) (model.EntityRecord, error) {
	var (
		rec        model.EntityRecord
		kind       string
		enrichedAt int64
		profile    string
	)
	err := row.Scan(&rec.SessionID, &kind, &rec.LegacyID, &rec.LocalKey, &enrichedAt, &profile)
	if errors.Is(err, sql.ErrNoRows) {
		return model.EntityRecord{}, model.NewNotFoundError("entity not found", key)
	}
	if err != nil {
		return model.EntityRecord{}, backendErr("scan entity", err)
	}

	rec.Kind = model.Kind(kind)
	rec.EnrichedAt = fromMicros(enrichedAt)
	rec.Profile, err = unmarshalProfile(profile)
	if err != nil {
		return model.EntityRecord{}, err
	}
	return rec, nil
}
