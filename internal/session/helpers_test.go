package session

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/truenicoco/slidge-sub000/internal/model"
	"github.com/truenicoco/slidge-sub000/internal/store"
	"github.com/truenicoco/slidge-sub000/internal/testutil"
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

type peer struct {
	ref  model.EntityRef
	name string
}

func (p *peer) Ref() model.EntityRef { return p.ref }

type peerFactory struct{}

func (peerFactory) New(ref model.EntityRef, _ ...any) (Peer, error) {
	return &peer{ref: ref}, nil
}

func (peerFactory) Hydrate(rec model.EntityRecord) (Peer, error) {
	return &peer{ref: rec.EntityRef, name: rec.Profile.Name}, nil
}

func (peerFactory) Enrich(_ context.Context, p Peer) (model.Profile, error) {
	pp := p.(*peer)
	pp.name = strings.ToUpper(pp.ref.LegacyID)
	return model.Profile{Name: pp.name}, nil
}

type sent struct {
	peer string
	msg  OutgoingMessage
}

// fakeAdapter assigns legacy ids "L1", "L2", ... to sent messages.
type fakeAdapter struct {
	mu   sync.Mutex
	sent []sent
	fail error
}

func (a *fakeAdapter) Send(_ context.Context, p Peer, msg OutgoingMessage) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.fail != nil {
		return "", a.fail
	}
	a.sent = append(a.sent, sent{peer: p.Ref().LegacyID, msg: msg})
	return fmt.Sprintf("L%d", len(a.sent)), nil
}

func (a *fakeAdapter) last() sent {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sent[len(a.sent)-1]
}

type threadAdapter struct {
	fakeAdapter
	created []string
}

func (a *threadAdapter) CreateThread(_ context.Context, _ Peer, protocolThread string) (string, error) {
	a.created = append(a.created, protocolThread)
	return "legacy-" + protocolThread, nil
}

// prefixCodec maps legacy "x" to protocol "p:x" and back.
type prefixCodec struct{}

func (prefixCodec) ToProtocol(legacyID string) (string, error) { return "p:" + legacyID, nil }

func (prefixCodec) ToLegacy(protocolID string) (string, error) {
	id, ok := strings.CutPrefix(protocolID, "p:")
	if !ok {
		return "", errors.New("not a transcoded id")
	}
	return id, nil
}

func createTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "session.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func newTestSession(t *testing.T, adapter Adapter, opts ...Option) (*Session, *store.Store) {
	t.Helper()
	st := createTestStore(t)
	clock := testutil.NewClock(epoch.Add(time.Hour))
	opts = append([]Option{
		WithClock(clock.Now),
		WithIDGenerator(testutil.NewSequenceIDs("gen")),
	}, opts...)
	s, err := New(Config{
		SessionID:      "s1",
		OwnerLegacyID:  "me",
		ResolveTimeout: 5 * time.Second,
		Retention:      7 * 24 * time.Hour,
		PruneInterval:  time.Hour,
		MaxPage:        50,
	}, st, adapter, peerFactory{}, peerFactory{}, opts...)
	require.NoError(t, err)
	return s, st
}
