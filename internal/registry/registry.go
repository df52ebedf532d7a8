// Package registry guarantees a single in-memory object per remote contact
// or group, whichever of its two keys a caller resolves it by.
//
// An entity is addressable by its legacy id and by its local key, the
// transcoded form of the legacy id. Resolution by either key takes a named
// lock on that key; if the lock of the other key is currently held, the
// caller waits for that resolution and shares its result instead of
// starting a second one. The check and the acquisition happen atomically
// in the lock table.
//
// A new entity is enriched by the adapter exactly once and persisted only
// after enrichment succeeded. A failed enrichment leaves nothing behind: the
// caller that triggered it receives the error and the next resolution of
// the same id starts over.
package registry

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"sync"
	"time"

	"github.com/truenicoco/slidge-sub000/internal/jid"
	"github.com/truenicoco/slidge-sub000/internal/lock"
	"github.com/truenicoco/slidge-sub000/internal/model"
)

// Lock namespaces. Each resolution path locks its own key and is redirected
// by a held lock on the other.
const (
	nsLegacyID = "legacy_id"
	nsLocalKey = "local_key"
)

var errRemoved = errors.New("entity removed during resolution")

// Entity is an adapter's contact or group object.
type Entity interface {
	Ref() model.EntityRef
}

// Factory builds the entities of one adapter type.
type Factory[E Entity] interface {
	// New constructs an entity that was never resolved before.
	New(ref model.EntityRef, args ...any) (E, error)
	// Hydrate rebuilds a previously enriched entity from its stored record.
	Hydrate(rec model.EntityRecord) (E, error)
	// Enrich fetches the profile of a new entity. It may update e in place;
	// the returned profile is persisted with the entity.
	Enrich(ctx context.Context, e E) (model.Profile, error)
}

// Store is the persistence the registry needs. *store.Store implements it.
type Store interface {
	GetEntity(ctx context.Context, sessionID string, kind model.Kind, legacyID string) (model.EntityRecord, error)
	UpsertEntity(ctx context.Context, rec model.EntityRecord) error
	ListEntities(ctx context.Context, sessionID string, kind model.Kind) ([]model.EntityRecord, error)
	DeleteEntity(ctx context.Context, sessionID string, kind model.Kind, legacyID string) error
}

// Registry holds the entities of one kind for one session.
type Registry[E Entity] struct {
	sessionID string
	kind      model.Kind
	owner     string
	store     Store
	factory   Factory[E]
	codec     jid.Transcoder
	locks     *lock.Table[E]
	now       func() time.Time
	logger    *slog.Logger

	mu       sync.Mutex
	entities map[string]E
}

// Option configures a Registry.
type Option func(*options)

type options struct {
	owner  string
	codec  jid.Transcoder
	now    func() time.Time
	logger *slog.Logger
}

// WithOwner sets the legacy id of the session owner, which is never
// resolved as a peer.
func WithOwner(legacyID string) Option {
	return func(o *options) { o.owner = legacyID }
}

// WithTranscoder replaces the default XEP-0106 transcoder.
func WithTranscoder(t jid.Transcoder) Option {
	return func(o *options) { o.codec = t }
}

// WithClock sets the time source for enrichment timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// New creates an empty registry.
func New[E Entity](sessionID string, kind model.Kind, st Store, factory Factory[E], opts ...Option) (*Registry[E], error) {
	if !kind.Valid() {
		return nil, model.NewValidationError(fmt.Sprintf("unknown entity kind %q", kind), string(kind))
	}
	o := options{codec: jid.Escaping{}, now: time.Now, logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	logger := o.logger.With("component", "registry", "session", sessionID, "kind", string(kind))

	return &Registry[E]{
		sessionID: sessionID,
		kind:      kind,
		owner:     o.owner,
		store:     st,
		factory:   factory,
		codec:     o.codec,
		locks:     lock.NewTable[E](lock.WithLogger(logger)),
		now:       o.now,
		logger:    logger,
		entities:  make(map[string]E),
	}, nil
}

// Kind returns the kind of entities held.
func (r *Registry[E]) Kind() model.Kind { return r.kind }

// ResolveByLegacyID returns the entity of legacyID, creating and enriching
// it on first use. args are passed to Factory.New.
//
// ctx bounds how long the caller waits, not the resolution itself: a
// resolution whose caller gave up still runs to completion so that other
// waiters get its result.
func (r *Registry[E]) ResolveByLegacyID(ctx context.Context, legacyID string, args ...any) (E, error) {
	var zero E
	if r.isOwner(legacyID) {
		return zero, model.NewSelfReferenceError(legacyID)
	}
	localKey, err := r.codec.Encode(legacyID)
	if err != nil {
		return zero, asValidation(err, "cannot encode legacy id", legacyID)
	}
	return r.resolve(ctx, nsLegacyID, r.ref(legacyID, localKey), args)
}

// ResolveByLocalKey is ResolveByLegacyID for callers that only know the
// local key.
func (r *Registry[E]) ResolveByLocalKey(ctx context.Context, localKey string) (E, error) {
	var zero E
	legacyID, err := r.codec.Decode(localKey)
	if err != nil {
		return zero, asValidation(err, "cannot decode local key", localKey)
	}
	if r.isOwner(legacyID) {
		return zero, model.NewSelfReferenceError(legacyID)
	}
	return r.resolve(ctx, nsLocalKey, r.ref(legacyID, localKey), nil)
}

// Get returns an already resolved entity without blocking.
func (r *Registry[E]) Get(legacyID string) (E, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entities[legacyID]
	return e, ok
}

// Len returns the number of entities in memory.
func (r *Registry[E]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entities)
}

// Known iterates over the persisted, enriched entities accepted by filter
// (nil accepts all), in legacy id order. Each iteration re-reads the store.
// Stored entities not yet in memory are hydrated without enrichment.
func (r *Registry[E]) Known(ctx context.Context, filter func(E) bool) iter.Seq2[E, error] {
	return func(yield func(E, error) bool) {
		var zero E
		records, err := r.store.ListEntities(ctx, r.sessionID, r.kind)
		if err != nil {
			yield(zero, fmt.Errorf("list entities: %w", err))
			return
		}
		for _, rec := range records {
			if !rec.Enriched() {
				continue
			}
			e, ok := r.Get(rec.LegacyID)
			if !ok {
				hydrated, err := r.factory.Hydrate(rec)
				if err != nil {
					if !yield(zero, fmt.Errorf("hydrate entity %q: %w", rec.LegacyID, err)) {
						return
					}
					continue
				}
				e = r.remember(hydrated)
			}
			if filter != nil && !filter(e) {
				continue
			}
			if !yield(e, nil) {
				return
			}
		}
	}
}

// Remove forgets legacyID in memory and in the store, as when the user
// left a group. It waits for an in-flight resolution of the same entity on
// either key. A later resolution creates and enriches it again.
func (r *Registry[E]) Remove(ctx context.Context, legacyID string) error {
	var zero E
	own := lock.Key{Namespace: nsLegacyID, Name: legacyID}
	var paired *lock.Key
	if localKey, err := r.codec.Encode(legacyID); err == nil {
		paired = &lock.Key{Namespace: nsLocalKey, Name: localKey}
	}

	var held *lock.Flight[E]
	for held == nil {
		h, redirect, err := r.locks.Acquire(ctx, own, paired)
		if err != nil {
			return err
		}
		if redirect != nil {
			// The resolution's outcome does not matter, only that it ended.
			if _, err := redirect.Wait(ctx); err != nil && ctx.Err() != nil {
				return ctx.Err()
			}
			continue
		}
		held = h
	}

	err := r.store.DeleteEntity(ctx, r.sessionID, r.kind, legacyID)
	if err == nil {
		r.mu.Lock()
		delete(r.entities, legacyID)
		r.mu.Unlock()
		r.logger.Info("entity removed", "legacy_id", legacyID)
	}
	r.locks.Release(held, zero, errRemoved)
	if err != nil {
		return fmt.Errorf("remove entity: %w", err)
	}
	return nil
}

func (r *Registry[E]) ref(legacyID, localKey string) model.EntityRef {
	return model.EntityRef{SessionID: r.sessionID, Kind: r.kind, LegacyID: legacyID, LocalKey: localKey}
}

func (r *Registry[E]) isOwner(legacyID string) bool {
	return r.owner != "" && legacyID == r.owner
}

// resolve runs the locked resolution detached from the caller's
// cancellation and waits for it as long as ctx allows.
func (r *Registry[E]) resolve(ctx context.Context, ns string, ref model.EntityRef, args []any) (E, error) {
	if e, ok := r.Get(ref.LegacyID); ok {
		return e, nil
	}
	if ctx.Done() == nil {
		return r.resolveLocked(ctx, ns, ref, args)
	}

	type result struct {
		e   E
		err error
	}
	done := make(chan result, 1)
	go func() {
		e, err := r.resolveLocked(context.WithoutCancel(ctx), ns, ref, args)
		done <- result{e, err}
	}()

	select {
	case res := <-done:
		return res.e, res.err
	case <-ctx.Done():
		var zero E
		return zero, ctx.Err()
	}
}

func (r *Registry[E]) resolveLocked(ctx context.Context, ns string, ref model.EntityRef, args []any) (E, error) {
	own, paired := lock.Key{Namespace: nsLegacyID, Name: ref.LegacyID}, lock.Key{Namespace: nsLocalKey, Name: ref.LocalKey}
	if ns == nsLocalKey {
		own, paired = paired, own
	}

	for {
		held, redirect, err := r.locks.Acquire(ctx, own, &paired)
		if err != nil {
			var zero E
			return zero, err
		}
		if redirect != nil {
			e, err := redirect.Wait(ctx)
			if err == nil {
				return e, nil
			}
			// The other resolution failed and reported to its own caller.
			continue
		}

		e, err := r.load(ctx, ref, args)
		r.locks.Release(held, e, err)
		return e, err
	}
}

// load returns the entity of ref, hydrating or creating it. Called with
// the lock on one of its keys held.
func (r *Registry[E]) load(ctx context.Context, ref model.EntityRef, args []any) (E, error) {
	var zero E
	if e, ok := r.Get(ref.LegacyID); ok {
		return e, nil
	}

	rec, err := r.store.GetEntity(ctx, r.sessionID, r.kind, ref.LegacyID)
	switch {
	case err == nil && rec.Enriched():
		e, err := r.factory.Hydrate(rec)
		if err != nil {
			return zero, fmt.Errorf("hydrate entity %q: %w", ref.LegacyID, err)
		}
		return r.remember(e), nil
	case err == nil, model.IsNotFound(err):
	default:
		return zero, fmt.Errorf("load entity: %w", err)
	}

	e, err := r.factory.New(ref, args...)
	if err != nil {
		return zero, fmt.Errorf("construct entity %q: %w", ref.LegacyID, err)
	}
	profile, err := r.enrich(ctx, e)
	if err != nil {
		return zero, model.NewEnrichmentError(ref.LegacyID, err)
	}

	err = r.store.UpsertEntity(ctx, model.EntityRecord{
		EntityRef:  ref,
		EnrichedAt: r.now(),
		Profile:    profile,
	})
	if err != nil {
		return zero, fmt.Errorf("persist entity: %w", err)
	}
	r.logger.Debug("entity created", "legacy_id", ref.LegacyID, "local_key", ref.LocalKey)
	return r.remember(e), nil
}

func (r *Registry[E]) enrich(ctx context.Context, e E) (p model.Profile, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("enrichment panicked: %v", rec)
		}
	}()
	return r.factory.Enrich(ctx, e)
}

// remember stores e unless another object already holds its legacy id,
// and returns the object that won.
func (r *Registry[E]) remember(e E) E {
	id := e.Ref().LegacyID
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.entities[id]; ok {
		return existing
	}
	r.entities[id] = e
	return e
}

func asValidation(err error, msg, key string) error {
	if model.CodeOf(err) != "" {
		return err
	}
	return &model.Error{Code: model.ErrCodeValidation, Message: msg, Key: key, Err: err}
}
