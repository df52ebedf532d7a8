package session

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/truenicoco/slidge-sub000/internal/archive"
	"github.com/truenicoco/slidge-sub000/internal/correlate"
	"github.com/truenicoco/slidge-sub000/internal/ids"
	"github.com/truenicoco/slidge-sub000/internal/jid"
	"github.com/truenicoco/slidge-sub000/internal/model"
	"github.com/truenicoco/slidge-sub000/internal/registry"
	"github.com/truenicoco/slidge-sub000/internal/store"
)

// Store is the persistence a session needs. *store.Store implements it.
type Store interface {
	registry.Store
	correlate.Store
	archive.Store
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
	PutUser(ctx context.Context, u store.User) error
	GetUser(ctx context.Context, sessionID string) (store.User, error)
}

var _ Store = (*store.Store)(nil)

// Config holds the per-session settings.
type Config struct {
	SessionID string
	// OwnerLegacyID is the user's own id on the legacy network.
	OwnerLegacyID string

	ResolveTimeout time.Duration
	CacheSize      int

	Retention     time.Duration
	PruneInterval time.Duration
	MaxPage       int
}

// Session is the gateway state of one user.
type Session struct {
	cfg      Config
	store    Store
	adapter  Adapter
	codec    MessageIDCodec
	ids      ids.Generator
	logger   *slog.Logger
	delivery func(context.Context, Delivery)

	contacts   *registry.Registry[Peer]
	groups     *registry.Registry[Peer]
	correlator *correlate.Correlator
	archive    *archive.Archive
	queue      *eventQueue
}

// Option configures a Session.
type Option func(*options)

type options struct {
	transcoder jid.Transcoder
	codec      MessageIDCodec
	ids        ids.Generator
	now        func() time.Time
	logger     *slog.Logger
	delivery   func(context.Context, Delivery)
}

// WithTranscoder replaces the default local key transcoder.
func WithTranscoder(t jid.Transcoder) Option {
	return func(o *options) { o.transcoder = t }
}

// WithMessageIDCodec sets the fallback translation for uncorrelated ids.
func WithMessageIDCodec(c MessageIDCodec) Option {
	return func(o *options) { o.codec = c }
}

// WithIDGenerator sets the generator of protocol ids.
func WithIDGenerator(g ids.Generator) Option {
	return func(o *options) { o.ids = g }
}

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithDeliveryHandler sets the function Run passes every Delivery to.
func WithDeliveryHandler(fn func(context.Context, Delivery)) Option {
	return func(o *options) { o.delivery = fn }
}

// New builds a session. contacts and groups construct the adapter's
// entity types.
func New(cfg Config, st Store, adapter Adapter, contacts, groups registry.Factory[Peer], opts ...Option) (*Session, error) {
	if cfg.SessionID == "" {
		return nil, model.NewValidationError("empty session id", "")
	}
	o := options{
		transcoder: jid.Escaping{},
		ids:        ids.UUIDv7Generator{},
		now:        time.Now,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	logger := o.logger.With("session", cfg.SessionID)

	regOpts := []registry.Option{
		registry.WithOwner(cfg.OwnerLegacyID),
		registry.WithTranscoder(o.transcoder),
		registry.WithClock(o.now),
		registry.WithLogger(o.logger),
	}
	contactReg, err := registry.New(cfg.SessionID, model.KindContact, st, contacts, regOpts...)
	if err != nil {
		return nil, fmt.Errorf("create contact registry: %w", err)
	}
	groupReg, err := registry.New(cfg.SessionID, model.KindGroup, st, groups, regOpts...)
	if err != nil {
		return nil, fmt.Errorf("create group registry: %w", err)
	}

	corr, err := correlate.New(cfg.SessionID, st,
		correlate.WithCacheSize(cfg.CacheSize),
		correlate.WithLogger(o.logger),
	)
	if err != nil {
		return nil, fmt.Errorf("create correlator: %w", err)
	}

	arch := archive.New(cfg.SessionID, st,
		archive.WithRetention(cfg.Retention),
		archive.WithPruneInterval(cfg.PruneInterval),
		archive.WithMaxPage(cfg.MaxPage),
		archive.WithClock(o.now),
		archive.WithIDGenerator(o.ids),
		archive.WithLogger(o.logger),
	)

	return &Session{
		cfg:        cfg,
		store:      st,
		adapter:    adapter,
		codec:      o.codec,
		ids:        o.ids,
		logger:     logger,
		delivery:   o.delivery,
		contacts:   contactReg,
		groups:     groupReg,
		correlator: corr,
		archive:    arch,
		queue:      newEventQueue(),
	}, nil
}

// ID returns the session id.
func (s *Session) ID() string { return s.cfg.SessionID }

// Contacts returns the contact registry.
func (s *Session) Contacts() *registry.Registry[Peer] { return s.contacts }

// Groups returns the group registry.
func (s *Session) Groups() *registry.Registry[Peer] { return s.groups }

// Correlator returns the message id correlator.
func (s *Session) Correlator() *correlate.Correlator { return s.correlator }

// Archive returns the group message archive.
func (s *Session) Archive() *archive.Archive { return s.archive }

func (s *Session) registryFor(kind model.Kind) (*registry.Registry[Peer], error) {
	switch kind {
	case model.KindContact:
		return s.contacts, nil
	case model.KindGroup:
		return s.groups, nil
	default:
		return nil, model.NewValidationError(fmt.Sprintf("unknown entity kind %q", kind), string(kind))
	}
}

func (s *Session) resolveCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.cfg.ResolveTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.cfg.ResolveTimeout)
}

func (s *Session) resolveLocal(ctx context.Context, kind model.Kind, localKey string) (Peer, error) {
	reg, err := s.registryFor(kind)
	if err != nil {
		return nil, err
	}
	ctx, cancel := s.resolveCtx(ctx)
	defer cancel()
	return reg.ResolveByLocalKey(ctx, localKey)
}

func (s *Session) resolveLegacy(ctx context.Context, kind model.Kind, legacyID string, args ...any) (Peer, error) {
	reg, err := s.registryFor(kind)
	if err != nil {
		return nil, err
	}
	ctx, cancel := s.resolveCtx(ctx)
	defer cancel()
	return reg.ResolveByLegacyID(ctx, legacyID, args...)
}

// ResolveContact returns the contact addressed by localKey.
func (s *Session) ResolveContact(ctx context.Context, localKey string) (Peer, error) {
	return s.resolveLocal(ctx, model.KindContact, localKey)
}

// ResolveGroup returns the group addressed by localKey.
func (s *Session) ResolveGroup(ctx context.Context, localKey string) (Peer, error) {
	return s.resolveLocal(ctx, model.KindGroup, localKey)
}

// ContactByLegacyID returns the contact of legacyID. args reach the
// contact factory when the contact is new.
func (s *Session) ContactByLegacyID(ctx context.Context, legacyID string, args ...any) (Peer, error) {
	return s.resolveLegacy(ctx, model.KindContact, legacyID, args...)
}

// GroupByLegacyID returns the group of legacyID.
func (s *Session) GroupByLegacyID(ctx context.Context, legacyID string, args ...any) (Peer, error) {
	return s.resolveLegacy(ctx, model.KindGroup, legacyID, args...)
}

// LeaveGroup forgets a group the user left.
func (s *Session) LeaveGroup(ctx context.Context, legacyID string) error {
	return s.groups.Remove(ctx, legacyID)
}
