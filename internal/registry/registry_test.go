package registry

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/truenicoco/slidge-sub000/internal/model"
	"github.com/truenicoco/slidge-sub000/internal/store"
)

type contact struct {
	ref     model.EntityRef
	name    string
	args    []any
	fromRec bool
}

func (c *contact) Ref() model.EntityRef { return c.ref }

// fakeFactory counts enrichments. When gate is non-nil, Enrich blocks on it.
type fakeFactory struct {
	enrichCalls atomic.Int32
	gate        chan struct{}
	fail        error
	panicWith   any
}

func (f *fakeFactory) New(ref model.EntityRef, args ...any) (*contact, error) {
	return &contact{ref: ref, args: args}, nil
}

func (f *fakeFactory) Hydrate(rec model.EntityRecord) (*contact, error) {
	return &contact{ref: rec.EntityRef, name: rec.Profile.Name, fromRec: true}, nil
}

func (f *fakeFactory) Enrich(ctx context.Context, c *contact) (model.Profile, error) {
	f.enrichCalls.Add(1)
	if f.gate != nil {
		<-f.gate
	}
	if f.panicWith != nil {
		panic(f.panicWith)
	}
	if f.fail != nil {
		return model.Profile{}, f.fail
	}
	c.name = "Name of " + c.ref.LegacyID
	return model.Profile{Name: c.name}, nil
}

func createTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "registry.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func newTestRegistry(t *testing.T, st *store.Store, f *fakeFactory, opts ...Option) *Registry[*contact] {
	t.Helper()
	opts = append([]Option{WithOwner("me@legacy")}, opts...)
	r, err := New[*contact]("s1", model.KindContact, st, f, opts...)
	require.NoError(t, err)
	return r
}

func TestNew_RejectsUnknownKind(t *testing.T) {
	_, err := New[*contact]("s1", model.Kind("robot"), createTestStore(t), &fakeFactory{})
	assert.True(t, model.IsValidation(err))
}

func TestResolveByLegacyID_CreatesOnce(t *testing.T) {
	f := &fakeFactory{}
	r := newTestRegistry(t, createTestStore(t), f)
	ctx := context.Background()

	c1, err := r.ResolveByLegacyID(ctx, "alice@legacy", "extra")
	require.NoError(t, err)
	assert.Equal(t, `alice\40legacy`, c1.ref.LocalKey)
	assert.Equal(t, []any{"extra"}, c1.args)
	assert.Equal(t, "Name of alice@legacy", c1.name)

	c2, err := r.ResolveByLocalKey(ctx, `alice\40legacy`)
	require.NoError(t, err)
	assert.Same(t, c1, c2)
	assert.Equal(t, int32(1), f.enrichCalls.Load())
}

func TestResolve_SingletonConvergence(t *testing.T) {
	f := &fakeFactory{gate: make(chan struct{})}
	r := newTestRegistry(t, createTestStore(t), f)
	ctx := context.Background()

	const callers = 20
	results := make([]*contact, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if i%2 == 0 {
				results[i], errs[i] = r.ResolveByLegacyID(ctx, "bob smith")
			} else {
				results[i], errs[i] = r.ResolveByLocalKey(ctx, `bob\20smith`)
			}
		}()
	}

	// Let callers pile up on both paths while enrichment is blocked.
	require.Eventually(t, func() bool { return f.enrichCalls.Load() == 1 }, 5*time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(f.gate)
	wg.Wait()

	for i := range callers {
		require.NoError(t, errs[i])
		assert.Same(t, results[0], results[i])
	}
	assert.Equal(t, int32(1), f.enrichCalls.Load())
	assert.Equal(t, 1, r.Len())
	assert.Zero(t, r.locks.Len(), "locks are erased once idle")
}

func TestResolve_SelfReference(t *testing.T) {
	f := &fakeFactory{}
	r := newTestRegistry(t, createTestStore(t), f)
	ctx := context.Background()

	_, err := r.ResolveByLegacyID(ctx, "me@legacy")
	assert.True(t, model.IsSelfReference(err))

	_, err = r.ResolveByLocalKey(ctx, `me\40legacy`)
	assert.True(t, model.IsSelfReference(err))

	assert.Zero(t, f.enrichCalls.Load())
}

func TestResolve_Validation(t *testing.T) {
	r := newTestRegistry(t, createTestStore(t), &fakeFactory{})
	ctx := context.Background()

	_, err := r.ResolveByLegacyID(ctx, "")
	assert.True(t, model.IsValidation(err))

	_, err = r.ResolveByLocalKey(ctx, "raw@at")
	assert.True(t, model.IsValidation(err))
}

func TestResolve_CustomTranscoderErrorIsValidation(t *testing.T) {
	codec := upperCodec{}
	r := newTestRegistry(t, createTestStore(t), &fakeFactory{}, WithTranscoder(codec))

	_, err := r.ResolveByLocalKey(context.Background(), "lower")
	assert.True(t, model.IsValidation(err))

	c, err := r.ResolveByLocalKey(context.Background(), "UPPER")
	require.NoError(t, err)
	assert.Equal(t, "upper", c.ref.LegacyID)
}

type upperCodec struct{}

func (upperCodec) Encode(id string) (string, error) { return strings.ToUpper(id), nil }

func (upperCodec) Decode(key string) (string, error) {
	if key != strings.ToUpper(key) {
		return "", errors.New("not upper case")
	}
	return strings.ToLower(key), nil
}

func TestResolve_EnrichmentFailureLeavesNothing(t *testing.T) {
	st := createTestStore(t)
	f := &fakeFactory{fail: errors.New("network down")}
	r := newTestRegistry(t, st, f)
	ctx := context.Background()

	_, err := r.ResolveByLegacyID(ctx, "carol")
	require.Error(t, err)
	assert.True(t, model.IsEnrichment(err))
	assert.ErrorContains(t, err, "network down")
	assert.Zero(t, r.Len())

	_, err = st.GetEntity(ctx, "s1", model.KindContact, "carol")
	assert.True(t, model.IsNotFound(err), "nothing persisted")

	f.fail = nil
	c, err := r.ResolveByLegacyID(ctx, "carol")
	require.NoError(t, err)
	assert.Equal(t, "carol", c.ref.LegacyID)
	assert.Equal(t, int32(2), f.enrichCalls.Load())
}

func TestResolve_EnrichmentPanicIsRecovered(t *testing.T) {
	f := &fakeFactory{panicWith: "boom"}
	r := newTestRegistry(t, createTestStore(t), f)

	_, err := r.ResolveByLegacyID(context.Background(), "dave")
	assert.True(t, model.IsEnrichment(err))
	assert.ErrorContains(t, err, "boom")
	assert.Zero(t, r.locks.Len())
}

func TestResolve_HydratesFromStore(t *testing.T) {
	st := createTestStore(t)
	ctx := context.Background()

	first := newTestRegistry(t, st, &fakeFactory{})
	_, err := first.ResolveByLegacyID(ctx, "erin")
	require.NoError(t, err)

	f := &fakeFactory{}
	restarted := newTestRegistry(t, st, f)
	c, err := restarted.ResolveByLocalKey(ctx, "erin")
	require.NoError(t, err)
	assert.True(t, c.fromRec)
	assert.Equal(t, "Name of erin", c.name)
	assert.Zero(t, f.enrichCalls.Load(), "stored entities are not enriched again")
}

func TestResolve_UnenrichedRecordIsEnriched(t *testing.T) {
	st := createTestStore(t)
	ctx := context.Background()
	require.NoError(t, st.UpsertEntity(ctx, model.EntityRecord{EntityRef: model.EntityRef{
		SessionID: "s1", Kind: model.KindContact, LegacyID: "frank", LocalKey: "frank",
	}}))

	f := &fakeFactory{}
	r := newTestRegistry(t, st, f)
	c, err := r.ResolveByLegacyID(ctx, "frank")
	require.NoError(t, err)
	assert.False(t, c.fromRec)
	assert.Equal(t, int32(1), f.enrichCalls.Load())

	rec, err := st.GetEntity(ctx, "s1", model.KindContact, "frank")
	require.NoError(t, err)
	assert.True(t, rec.Enriched())
}

func TestResolve_CallerTimeoutDoesNotAbortResolution(t *testing.T) {
	f := &fakeFactory{gate: make(chan struct{})}
	r := newTestRegistry(t, createTestStore(t), f)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := r.ResolveByLegacyID(ctx, "gina")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(f.gate)
	require.Eventually(t, func() bool {
		_, ok := r.Get("gina")
		return ok
	}, 5*time.Second, time.Millisecond)

	c, err := r.ResolveByLegacyID(context.Background(), "gina")
	require.NoError(t, err)
	assert.Equal(t, "Name of gina", c.name)
	assert.Equal(t, int32(1), f.enrichCalls.Load())
}

func TestKnown(t *testing.T) {
	st := createTestStore(t)
	f := &fakeFactory{}
	r := newTestRegistry(t, st, f)
	ctx := context.Background()

	for _, id := range []string{"zoe", "adam", "mia"} {
		_, err := r.ResolveByLegacyID(ctx, id)
		require.NoError(t, err)
	}
	require.NoError(t, st.UpsertEntity(ctx, model.EntityRecord{EntityRef: model.EntityRef{
		SessionID: "s1", Kind: model.KindContact, LegacyID: "pending", LocalKey: "pending",
	}}))

	var got []string
	for c, err := range r.Known(ctx, nil) {
		require.NoError(t, err)
		got = append(got, c.ref.LegacyID)
	}
	assert.Equal(t, []string{"adam", "mia", "zoe"}, got, "unenriched records are skipped")

	got = nil
	for c, err := range r.Known(ctx, func(c *contact) bool { return c.ref.LegacyID != "mia" }) {
		require.NoError(t, err)
		got = append(got, c.ref.LegacyID)
		break
	}
	assert.Equal(t, []string{"adam"}, got, "iteration stops early")

	restarted := newTestRegistry(t, st, f)
	count := 0
	for c, err := range restarted.Known(ctx, nil) {
		require.NoError(t, err)
		assert.True(t, c.fromRec)
		count++
	}
	assert.Equal(t, 3, count)

	again, err := restarted.ResolveByLegacyID(ctx, "adam")
	require.NoError(t, err)
	assert.True(t, again.fromRec, "hydrated entities join the identity map")
	assert.Equal(t, int32(3), f.enrichCalls.Load())
}

func TestRemove(t *testing.T) {
	st := createTestStore(t)
	f := &fakeFactory{}
	r, err := New[*contact]("s1", model.KindGroup, st, f)
	require.NoError(t, err)
	ctx := context.Background()

	g1, err := r.ResolveByLegacyID(ctx, "room")
	require.NoError(t, err)
	require.NoError(t, r.Remove(ctx, "room"))

	_, ok := r.Get("room")
	assert.False(t, ok)
	_, err = st.GetEntity(ctx, "s1", model.KindGroup, "room")
	assert.True(t, model.IsNotFound(err))

	g2, err := r.ResolveByLegacyID(ctx, "room")
	require.NoError(t, err)
	assert.NotSame(t, g1, g2)
	assert.Equal(t, int32(2), f.enrichCalls.Load())

	assert.NoError(t, r.Remove(ctx, "never-seen"))
}

func TestRemove_WaitsForLocalKeyResolution(t *testing.T) {
	st := createTestStore(t)
	f := &fakeFactory{gate: make(chan struct{})}
	r, err := New[*contact]("s1", model.KindGroup, st, f)
	require.NoError(t, err)
	ctx := context.Background()

	resolved := make(chan error, 1)
	go func() {
		_, err := r.ResolveByLocalKey(ctx, "room")
		resolved <- err
	}()
	require.Eventually(t, func() bool { return f.enrichCalls.Load() == 1 }, 5*time.Second, time.Millisecond)

	removed := make(chan error, 1)
	go func() { removed <- r.Remove(ctx, "room") }()

	select {
	case err := <-removed:
		t.Fatalf("remove finished while the group was still being resolved: %v", err)
	case <-time.After(30 * time.Millisecond):
	}

	close(f.gate)
	require.NoError(t, <-resolved)
	require.NoError(t, <-removed)

	_, ok := r.Get("room")
	assert.False(t, ok)
	_, err = st.GetEntity(ctx, "s1", model.KindGroup, "room")
	assert.True(t, model.IsNotFound(err))
	assert.Zero(t, r.locks.Len())
}

func TestResolve_BothPathsUnderChurn(t *testing.T) {
	f := &fakeFactory{}
	r := newTestRegistry(t, createTestStore(t), f)
	ctx := context.Background()

	const (
		ids     = 8
		callers = 16
	)
	results := make([][]*contact, ids)
	var wg sync.WaitGroup
	for id := range ids {
		results[id] = make([]*contact, callers)
		legacyID := "user" + strings.Repeat("x", id)
		for i := range callers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				var (
					c   *contact
					err error
				)
				if i%2 == 0 {
					c, err = r.ResolveByLegacyID(ctx, legacyID)
				} else {
					c, err = r.ResolveByLocalKey(ctx, legacyID)
				}
				if assert.NoError(t, err) {
					results[id][i] = c
				}
			}()
		}
	}
	wg.Wait()

	for id := range ids {
		for i := range callers {
			assert.Same(t, results[id][0], results[id][i])
		}
	}
	assert.Equal(t, int32(ids), f.enrichCalls.Load())
	assert.Zero(t, r.locks.Len())
}
