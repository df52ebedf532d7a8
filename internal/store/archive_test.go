package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/truenicoco/slidge-sub000/internal/model"
	"github.com/truenicoco/slidge-sub000/internal/queryir"
)

func TestArchive_InsertAssignsSequence(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	for i := range 3 {
		stored, inserted, err := s.InsertArchiveEntry(ctx, createTestEntry("s1", "g", fmt.Sprint(i), i))
		require.NoError(t, err)
		assert.True(t, inserted)
		assert.Equal(t, int64(i), stored.Sequence)
	}

	other, _, err := s.InsertArchiveEntry(ctx, createTestEntry("s1", "h", "x", 0))
	require.NoError(t, err)
	assert.Equal(t, int64(0), other.Sequence, "sequences are per conversation")
}

func TestArchive_SequenceSurvivesPrune(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	for i := range 3 {
		_, _, err := s.InsertArchiveEntry(ctx, createTestEntry("s1", "g", fmt.Sprint(i), i))
		require.NoError(t, err)
	}
	// Drop only the newest entry, then everything.
	_, err := s.db.ExecContext(ctx, `DELETE FROM archive WHERE protocol_id = '2'`)
	require.NoError(t, err)
	stored, _, err := s.InsertArchiveEntry(ctx, createTestEntry("s1", "g", "3", 3))
	require.NoError(t, err)
	assert.Equal(t, int64(3), stored.Sequence)

	n, err := s.DeleteArchiveOlderThan(ctx, "s1", "g", epoch.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	stored, _, err = s.InsertArchiveEntry(ctx, createTestEntry("s1", "g", "4", 4))
	require.NoError(t, err)
	assert.Equal(t, int64(4), stored.Sequence)
}

func TestArchive_SequenceFallsBackToExistingRows(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	for i := range 2 {
		_, _, err := s.InsertArchiveEntry(ctx, createTestEntry("s1", "g", fmt.Sprint(i), i))
		require.NoError(t, err)
	}
	// A database written before the high-water mark table existed.
	_, err := s.db.ExecContext(ctx, `DELETE FROM archive_sequences`)
	require.NoError(t, err)

	stored, _, err := s.InsertArchiveEntry(ctx, createTestEntry("s1", "g", "2", 2))
	require.NoError(t, err)
	assert.Equal(t, int64(2), stored.Sequence)
}

func TestArchive_InsertDuplicateProtocolID(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	first, _, err := s.InsertArchiveEntry(ctx, createTestEntry("s1", "g", "m1", 0))
	require.NoError(t, err)

	dup := createTestEntry("s1", "g", "m1", 5)
	dup.Payload = []byte("changed")
	stored, inserted, err := s.InsertArchiveEntry(ctx, dup)
	require.NoError(t, err)
	assert.False(t, inserted)
	assert.Equal(t, first, stored, "stored entries are immutable")
}

func TestArchive_GetEntry(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	want, _, err := s.InsertArchiveEntry(ctx, createTestEntry("s1", "g", "m1", 3))
	require.NoError(t, err)

	got, err := s.GetArchiveEntry(ctx, "s1", "g", "m1")
	require.NoError(t, err)
	assert.Equal(t, want, got)

	_, err = s.GetArchiveEntry(ctx, "s1", "g", "missing")
	assert.True(t, model.IsNotFound(err))
}

func TestArchive_SelectWindow(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	for i := range 5 {
		_, _, err := s.InsertArchiveEntry(ctx, createTestEntry("s1", "g", fmt.Sprint(i), i))
		require.NoError(t, err)
	}

	entries, err := s.SelectArchive(ctx, queryir.Select{
		Filter: queryir.Conj(
			queryir.Equals{Field: "session_id", Value: "s1"},
			queryir.Equals{Field: "conversation_id", Value: "g"},
			queryir.Compare{Fields: []string{"timestamp_us", "sequence"}, Op: queryir.OpGt,
				Values: []any{toMicros(epoch.Add(time.Minute)), int64(1)}},
		),
		OrderBy: []queryir.Order{{Field: "timestamp_us", Desc: true}, {Field: "sequence", Desc: true}},
		Limit:   2,
	})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "4", entries[0].ProtocolID)
	assert.Equal(t, "3", entries[1].ProtocolID)
}

func TestArchive_SelectNestedDefaults(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	for i := range 5 {
		_, _, err := s.InsertArchiveEntry(ctx, createTestEntry("s1", "g", fmt.Sprint(i), i))
		require.NoError(t, err)
	}

	entries, err := s.SelectArchive(ctx, queryir.Select{
		Inner: &queryir.Select{
			Filter:  queryir.Equals{Field: "conversation_id", Value: "g"},
			OrderBy: []queryir.Order{{Field: "timestamp_us", Desc: true}, {Field: "sequence", Desc: true}},
			Limit:   2,
		},
		OrderBy: []queryir.Order{{Field: "timestamp_us"}, {Field: "sequence"}},
	})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "3", entries[0].ProtocolID)
	assert.Equal(t, "4", entries[1].ProtocolID)
}

func TestArchive_Extent(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	_, _, ok, err := s.ArchiveExtent(ctx, "s1", "g")
	require.NoError(t, err)
	assert.False(t, ok)

	// Inserted out of timestamp order on purpose.
	for _, m := range []int{5, 1, 9} {
		_, _, err := s.InsertArchiveEntry(ctx, createTestEntry("s1", "g", fmt.Sprint(m), m))
		require.NoError(t, err)
	}

	first, last, ok, err := s.ArchiveExtent(ctx, "s1", "g")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "1", first.ProtocolID)
	assert.Equal(t, "9", last.ProtocolID)
}

func TestArchive_DeleteOlderThan(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	for i := range 4 {
		_, _, err := s.InsertArchiveEntry(ctx, createTestEntry("s1", "g", fmt.Sprint(i), i))
		require.NoError(t, err)
		_, _, err = s.InsertArchiveEntry(ctx, createTestEntry("s1", "h", fmt.Sprint(i), i))
		require.NoError(t, err)
	}

	n, err := s.DeleteArchiveOlderThan(ctx, "s1", "g", epoch.Add(2*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	n, err = s.DeleteArchiveOlderThan(ctx, "s1", "g", epoch.Add(2*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(0), n, "second prune is a no-op")

	n, err = s.DeleteArchiveOlderThan(ctx, "s1", "", epoch.Add(3*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(4), n, "empty conversation prunes the whole session")
}
