// Package correlate maps protocol message and thread ids to legacy ids
// and back, per session and conversation.
//
// Each legacy id has exactly one primary protocol id, used for reverse
// lookups, plus any number of echo ids produced when one legacy message was
// delivered as several protocol messages. A primary mapping is never
// re-pointed: recording a different protocol id for an already mapped
// legacy id fails with a CONFLICT error.
//
// Mappings are immutable once committed, so positive lookups are served
// from a bounded LRU cache. Results read or written inside a store
// transaction are not cached until a later lookup outside it, so a rolled
// back transaction cannot leave a stale entry behind.
package correlate

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/truenicoco/slidge-sub000/internal/model"
)

// DefaultCacheSize is the default number of cached id mappings.
const DefaultCacheSize = 1024

// Store is the persistence the correlator needs. *store.Store implements it.
type Store interface {
	InsertCorrelation(ctx context.Context, c model.Correlation) (bool, error)
	GetPrimaryCorrelation(ctx context.Context, sessionID, conversationID, legacyID string, isThread bool) (model.Correlation, error)
	GetCorrelationByProtocol(ctx context.Context, sessionID, conversationID, protocolID string, isThread bool) (model.Correlation, error)
	ListEchoes(ctx context.Context, sessionID, conversationID, legacyID string, isThread bool) ([]string, error)
	InTx(ctx context.Context) bool
}

type direction uint8

const (
	toProtocol direction = iota + 1
	toLegacy
)

type cacheKey struct {
	conversation string
	id           string
	dir          direction
	thread       bool
}

// Correlator is the id translation table of one session.
type Correlator struct {
	sessionID string
	store     Store
	cache     *lru.Cache[cacheKey, string]
	logger    *slog.Logger

	hits   atomic.Int64
	misses atomic.Int64
}

// Option configures a Correlator.
type Option func(*config)

type config struct {
	cacheSize int
	logger    *slog.Logger
}

// WithCacheSize sets the number of cached mappings. Values <= 0 use
// DefaultCacheSize.
func WithCacheSize(n int) Option {
	return func(c *config) { c.cacheSize = n }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) { c.logger = l }
}

// New creates the correlator of one session.
func New(sessionID string, st Store, opts ...Option) (*Correlator, error) {
	cfg := config{cacheSize: DefaultCacheSize, logger: slog.Default()}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.cacheSize <= 0 {
		cfg.cacheSize = DefaultCacheSize
	}

	cache, err := lru.New[cacheKey, string](cfg.cacheSize)
	if err != nil {
		return nil, fmt.Errorf("create correlation cache: %w", err)
	}
	return &Correlator{
		sessionID: sessionID,
		store:     st,
		cache:     cache,
		logger:    cfg.logger.With("component", "correlator", "session", sessionID),
	}, nil
}

// Record stores the primary mapping legacyID -> protocolID.
// Calling it again with identical arguments is a no-op.
func (c *Correlator) Record(ctx context.Context, conversationID, legacyID, protocolID string) error {
	return c.record(ctx, conversationID, legacyID, protocolID, false)
}

// RecordThread is Record for thread ids, which live in their own namespace.
func (c *Correlator) RecordThread(ctx context.Context, conversationID, legacyThread, protocolThread string) error {
	return c.record(ctx, conversationID, legacyThread, protocolThread, true)
}

// LookupLegacy returns the legacy id a protocol id (primary or echo) maps to.
// ok is false when the id was never correlated.
func (c *Correlator) LookupLegacy(ctx context.Context, conversationID, protocolID string) (legacyID string, ok bool, err error) {
	return c.lookup(ctx, conversationID, protocolID, toLegacy, false)
}

// LookupProtocol returns the primary protocol id of a legacy id.
// ok is false when the id was never correlated.
func (c *Correlator) LookupProtocol(ctx context.Context, conversationID, legacyID string) (protocolID string, ok bool, err error) {
	return c.lookup(ctx, conversationID, legacyID, toProtocol, false)
}

// LookupThread returns the legacy thread id of a protocol thread id.
func (c *Correlator) LookupThread(ctx context.Context, conversationID, protocolThread string) (legacyThread string, ok bool, err error) {
	return c.lookup(ctx, conversationID, protocolThread, toLegacy, true)
}

// LookupProtocolThread returns the protocol thread id of a legacy thread id.
func (c *Correlator) LookupProtocolThread(ctx context.Context, conversationID, legacyThread string) (protocolThread string, ok bool, err error) {
	return c.lookup(ctx, conversationID, legacyThread, toProtocol, true)
}

// AddEcho attaches extraProtocolID to the existing primary mapping of
// legacyID. The primary lookup result is unchanged. Fails with NOT_FOUND
// when legacyID has no primary mapping and with CONFLICT when the extra id
// already belongs to another legacy id.
func (c *Correlator) AddEcho(ctx context.Context, conversationID, legacyID, extraProtocolID string) error {
	if err := validateIDs(conversationID, legacyID, extraProtocolID); err != nil {
		return err
	}

	prim, err := c.store.GetPrimaryCorrelation(ctx, c.sessionID, conversationID, legacyID, false)
	if model.IsNotFound(err) {
		return model.NewNotFoundError("no primary mapping to attach echo to", legacyID)
	}
	if err != nil {
		return fmt.Errorf("add echo: %w", err)
	}
	if prim.ProtocolID == extraProtocolID {
		return nil
	}

	inserted, err := c.store.InsertCorrelation(ctx, model.Correlation{
		SessionID:      c.sessionID,
		ConversationID: conversationID,
		LegacyID:       legacyID,
		ProtocolID:     extraProtocolID,
	})
	if err != nil {
		return fmt.Errorf("add echo: %w", err)
	}
	if inserted {
		c.remember(ctx, cacheKey{conversationID, extraProtocolID, toLegacy, false}, legacyID)
		return nil
	}

	owner, err := c.store.GetCorrelationByProtocol(ctx, c.sessionID, conversationID, extraProtocolID, false)
	if err != nil {
		return fmt.Errorf("add echo: %w", err)
	}
	if owner.LegacyID != legacyID {
		return model.NewConflictError(fmt.Sprintf("protocol id already mapped to legacy id %q", owner.LegacyID), extraProtocolID)
	}
	return nil
}

// GetEchoes returns the echo ids of legacyID in insertion order, excluding
// the primary id. Returns an empty slice when there are none.
func (c *Correlator) GetEchoes(ctx context.Context, conversationID, legacyID string) ([]string, error) {
	echoes, err := c.store.ListEchoes(ctx, c.sessionID, conversationID, legacyID, false)
	if err != nil {
		return nil, fmt.Errorf("get echoes: %w", err)
	}
	return echoes, nil
}

// AllProtocolIDs returns the primary id followed by every echo of legacyID:
// the full set of protocol messages a reaction or retraction of that legacy
// message must be applied to. Returns an empty slice when legacyID is unknown.
func (c *Correlator) AllProtocolIDs(ctx context.Context, conversationID, legacyID string) ([]string, error) {
	prim, ok, err := c.LookupProtocol(ctx, conversationID, legacyID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return []string{}, nil
	}
	echoes, err := c.GetEchoes(ctx, conversationID, legacyID)
	if err != nil {
		return nil, err
	}
	return append([]string{prim}, echoes...), nil
}

// CacheStats returns cache hit and miss counts.
func (c *Correlator) CacheStats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

func (c *Correlator) record(ctx context.Context, conversationID, legacyID, protocolID string, thread bool) error {
	if err := validateIDs(conversationID, legacyID, protocolID); err != nil {
		return err
	}

	inserted, err := c.store.InsertCorrelation(ctx, model.Correlation{
		SessionID:      c.sessionID,
		ConversationID: conversationID,
		LegacyID:       legacyID,
		ProtocolID:     protocolID,
		IsThread:       thread,
		IsPrimary:      true,
	})
	if err != nil {
		return fmt.Errorf("record correlation: %w", err)
	}
	if inserted {
		c.logger.Debug("correlation recorded",
			"conversation", conversationID, "legacy_id", legacyID, "protocol_id", protocolID, "thread", thread)
		c.remember(ctx, cacheKey{conversationID, legacyID, toProtocol, thread}, protocolID)
		c.remember(ctx, cacheKey{conversationID, protocolID, toLegacy, thread}, legacyID)
		return nil
	}

	// Nothing inserted: either this exact mapping exists, or one of the
	// two ids is already taken.
	existing, err := c.store.GetPrimaryCorrelation(ctx, c.sessionID, conversationID, legacyID, thread)
	switch {
	case err == nil && existing.ProtocolID == protocolID:
		return nil
	case err == nil:
		return model.NewConflictError(
			fmt.Sprintf("legacy id already mapped to protocol id %q", existing.ProtocolID), legacyID)
	case !model.IsNotFound(err):
		return fmt.Errorf("record correlation: %w", err)
	}

	owner, err := c.store.GetCorrelationByProtocol(ctx, c.sessionID, conversationID, protocolID, thread)
	if err != nil {
		return fmt.Errorf("record correlation: %w", err)
	}
	return model.NewConflictError(
		fmt.Sprintf("protocol id already mapped to legacy id %q", owner.LegacyID), protocolID)
}

func (c *Correlator) lookup(ctx context.Context, conversationID, id string, dir direction, thread bool) (string, bool, error) {
	if conversationID == "" || id == "" {
		return "", false, nil
	}
	key := cacheKey{conversationID, id, dir, thread}
	if v, ok := c.cache.Get(key); ok {
		c.hits.Add(1)
		return v, true, nil
	}
	c.misses.Add(1)

	var (
		rec model.Correlation
		err error
	)
	if dir == toProtocol {
		rec, err = c.store.GetPrimaryCorrelation(ctx, c.sessionID, conversationID, id, thread)
	} else {
		rec, err = c.store.GetCorrelationByProtocol(ctx, c.sessionID, conversationID, id, thread)
	}
	if model.IsNotFound(err) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("lookup correlation: %w", err)
	}

	result := rec.ProtocolID
	if dir == toLegacy {
		result = rec.LegacyID
	}
	c.remember(ctx, key, result)
	return result, true, nil
}

func (c *Correlator) remember(ctx context.Context, key cacheKey, value string) {
	if c.store.InTx(ctx) {
		return
	}
	c.cache.Add(key, value)
}

func validateIDs(conversationID, legacyID, protocolID string) error {
	switch {
	case conversationID == "":
		return model.NewValidationError("empty conversation id", "")
	case legacyID == "":
		return model.NewValidationError("empty legacy id", conversationID)
	case protocolID == "":
		return model.NewValidationError("empty protocol id", legacyID)
	}
	return nil
}
