package archive

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/truenicoco/slidge-sub000/internal/ids"
	"github.com/truenicoco/slidge-sub000/internal/model"
	"github.com/truenicoco/slidge-sub000/internal/queryir"
)

const (
	// DefaultRetention is how long entries are kept when no option is given.
	DefaultRetention = 7 * 24 * time.Hour
	// DefaultPruneInterval is the minimum delay between two prunes.
	DefaultPruneInterval = 6 * time.Hour
	// DefaultMaxPage is the server-side cap on delivered entries.
	DefaultMaxPage = 100
)

// Store is the persistence the archive needs. *store.Store implements it.
type Store interface {
	InsertArchiveEntry(ctx context.Context, e model.ArchiveEntry) (model.ArchiveEntry, bool, error)
	GetArchiveEntry(ctx context.Context, sessionID, conversationID, protocolID string) (model.ArchiveEntry, error)
	SelectArchive(ctx context.Context, sel queryir.Select) ([]model.ArchiveEntry, error)
	ArchiveExtent(ctx context.Context, sessionID, conversationID string) (first, last model.ArchiveEntry, ok bool, err error)
	DeleteArchiveOlderThan(ctx context.Context, sessionID, conversationID string, cutoff time.Time) (int64, error)
	Stable() bool
}

// Archive is the message history of one session.
type Archive struct {
	sessionID     string
	store         Store
	ids           ids.Generator
	now           func() time.Time
	retention     time.Duration
	pruneInterval time.Duration
	maxPage       int
	logger        *slog.Logger

	mu        sync.Mutex
	lastPrune map[string]time.Time
}

// Option configures an Archive.
type Option func(*Archive)

// WithRetention sets how long entries are kept. Zero or less disables
// retention pruning.
func WithRetention(d time.Duration) Option {
	return func(a *Archive) { a.retention = d }
}

// WithPruneInterval sets the minimum delay between two prunes of the same
// conversation, and the period of RunRetention.
func WithPruneInterval(d time.Duration) Option {
	return func(a *Archive) {
		if d > 0 {
			a.pruneInterval = d
		}
	}
}

// WithMaxPage sets the server-side cap on delivered entries.
func WithMaxPage(n int) Option {
	return func(a *Archive) {
		if n > 0 {
			a.maxPage = n
		}
	}
}

// WithClock sets the time source used for missing timestamps and retention.
func WithClock(now func() time.Time) Option {
	return func(a *Archive) { a.now = now }
}

// WithIDGenerator sets the generator of protocol ids for messages that
// arrive without one.
func WithIDGenerator(g ids.Generator) Option {
	return func(a *Archive) { a.ids = g }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *Archive) { a.logger = l }
}

// New creates the archive of one session.
func New(sessionID string, st Store, opts ...Option) *Archive {
	a := &Archive{
		sessionID:     sessionID,
		store:         st,
		ids:           ids.UUIDv7Generator{},
		now:           time.Now,
		retention:     DefaultRetention,
		pruneInterval: DefaultPruneInterval,
		maxPage:       DefaultMaxPage,
		logger:        slog.Default(),
		lastPrune:     make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = a.logger.With("component", "archive", "session", sessionID)
	return a
}

// Stable reports whether archived entries survive restarts.
func (a *Archive) Stable() bool {
	return a.store.Stable()
}

// Append stores m in the conversation if it is archivable.
//
// archived is false when m was skipped. Appending a message whose protocol
// id is already stored returns the stored entry unchanged.
func (a *Archive) Append(ctx context.Context, conversationID string, m Message) (entry model.ArchiveEntry, archived bool, err error) {
	if conversationID == "" {
		return model.ArchiveEntry{}, false, model.NewValidationError("empty conversation id", "")
	}
	if !Archivable(m) {
		return model.ArchiveEntry{}, false, nil
	}

	e := model.ArchiveEntry{
		SessionID:      a.sessionID,
		ConversationID: conversationID,
		ProtocolID:     m.ID,
		Sender:         m.Sender,
		Timestamp:      m.Timestamp,
		Payload:        m.Payload,
	}
	if e.ProtocolID == "" {
		e.ProtocolID = a.ids.Generate()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = a.now()
	}

	stored, inserted, err := a.store.InsertArchiveEntry(ctx, e)
	if err != nil {
		return model.ArchiveEntry{}, false, fmt.Errorf("append to archive: %w", err)
	}
	if !inserted {
		a.logger.Debug("duplicate archive entry ignored", "conversation", conversationID, "protocol_id", e.ProtocolID)
	}

	a.maybePrune(ctx, conversationID)
	return stored, true, nil
}

// maybePrune prunes a conversation at most once per prune interval.
// Failures are logged: the append itself succeeded.
func (a *Archive) maybePrune(ctx context.Context, conversationID string) {
	if a.retention <= 0 {
		return
	}
	now := a.now()

	a.mu.Lock()
	last, ok := a.lastPrune[conversationID]
	due := !ok || now.Sub(last) >= a.pruneInterval
	if due {
		a.lastPrune[conversationID] = now
	}
	a.mu.Unlock()
	if !due {
		return
	}

	n, err := a.store.DeleteArchiveOlderThan(ctx, a.sessionID, conversationID, now.Add(-a.retention))
	if err != nil {
		a.logger.Warn("archive retention failed", "conversation", conversationID, "error", err)
		return
	}
	if n > 0 {
		a.logger.Debug("archive pruned", "conversation", conversationID, "deleted", n)
	}
}

// Metadata returns the first and last entries of a conversation regardless
// of any filter. ok is false when the conversation has no entries.
func (a *Archive) Metadata(ctx context.Context, conversationID string) (first, last model.ArchiveEntry, ok bool, err error) {
	first, last, ok, err = a.store.ArchiveExtent(ctx, a.sessionID, conversationID)
	if err != nil {
		return model.ArchiveEntry{}, model.ArchiveEntry{}, false, fmt.Errorf("archive metadata: %w", err)
	}
	return first, last, ok, nil
}

// PruneOlderThan deletes the entries of a conversation older than d and
// returns how many were deleted. An empty conversationID prunes the whole
// session. Pruning again with the same horizon deletes nothing.
func (a *Archive) PruneOlderThan(ctx context.Context, conversationID string, d time.Duration) (int64, error) {
	if d <= 0 {
		return 0, model.NewValidationError(fmt.Sprintf("retention must be positive, got %s", d), conversationID)
	}
	n, err := a.store.DeleteArchiveOlderThan(ctx, a.sessionID, conversationID, a.now().Add(-d))
	if err != nil {
		return 0, fmt.Errorf("prune archive: %w", err)
	}
	return n, nil
}

// PruneAll applies the configured retention to every conversation of the
// session. It does nothing when retention is disabled.
func (a *Archive) PruneAll(ctx context.Context) (int64, error) {
	if a.retention <= 0 {
		return 0, nil
	}
	return a.PruneOlderThan(ctx, "", a.retention)
}

// RunRetention prunes the session every prune interval until ctx is
// cancelled, then returns ctx.Err(). Prune failures are logged and retried
// on the next tick.
func (a *Archive) RunRetention(ctx context.Context) error {
	if a.retention <= 0 {
		<-ctx.Done()
		return ctx.Err()
	}

	ticker := time.NewTicker(a.pruneInterval)
	defer ticker.Stop()

	for {
		if n, err := a.PruneAll(ctx); err != nil {
			a.logger.Warn("archive retention failed", "error", err)
		} else if n > 0 {
			a.logger.Info("archive pruned", "deleted", n)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
