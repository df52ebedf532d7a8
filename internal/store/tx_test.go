package store

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/truenicoco/slidge-sub000/internal/model"
)

func TestWithTx_Commits(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	err := s.WithTx(ctx, func(ctx context.Context) error {
		if _, err := s.InsertCorrelation(ctx, primary("c", "L1", "P1")); err != nil {
			return err
		}
		_, _, err := s.InsertArchiveEntry(ctx, createTestEntry("s1", "c", "P1", 0))
		return err
	})
	require.NoError(t, err)

	_, err = s.GetPrimaryCorrelation(ctx, "s1", "c", "L1", false)
	assert.NoError(t, err)
	_, err = s.GetArchiveEntry(ctx, "s1", "c", "P1")
	assert.NoError(t, err)
}

func TestWithTx_RollsBackOnError(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	boom := errors.New("adapter failed")

	err := s.WithTx(ctx, func(ctx context.Context) error {
		if _, err := s.InsertCorrelation(ctx, primary("c", "L1", "P1")); err != nil {
			return err
		}
		if _, _, err := s.InsertArchiveEntry(ctx, createTestEntry("s1", "c", "P1", 0)); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	_, err = s.GetPrimaryCorrelation(ctx, "s1", "c", "L1", false)
	assert.True(t, model.IsNotFound(err), "no partial state after rollback")
	_, err = s.GetArchiveEntry(ctx, "s1", "c", "P1")
	assert.True(t, model.IsNotFound(err))
}

func TestWithTx_NestedJoinsOuter(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	err := s.WithTx(ctx, func(outer context.Context) error {
		inner := s.WithTx(outer, func(ctx context.Context) error {
			_, err := s.InsertCorrelation(ctx, primary("c", "L1", "P1"))
			return err
		})
		require.NoError(t, inner)
		return errors.New("abort outer")
	})
	require.Error(t, err)

	_, err = s.GetPrimaryCorrelation(ctx, "s1", "c", "L1", false)
	assert.True(t, model.IsNotFound(err), "nested work rolls back with the outer transaction")
}
