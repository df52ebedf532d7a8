package archive

import (
	"context"
	"fmt"
	"time"

	"github.com/truenicoco/slidge-sub000/internal/model"
	"github.com/truenicoco/slidge-sub000/internal/queryir"
)

const (
	colSession      = "session_id"
	colConversation = "conversation_id"
	colSequence     = "sequence"
	colProtocolID   = "protocol_id"
	colSender       = "sender"
	colTimestamp    = "timestamp_us"
)

// Query selects a window of a conversation.
type Query struct {
	// Start and End bound the timestamps, inclusive. Zero means unbounded.
	Start time.Time
	End   time.Time
	// BeforeID and AfterID anchor the window strictly before/after a stored
	// entry. An unknown anchor is NOT_FOUND.
	BeforeID string
	AfterID  string
	// IDs restricts the window to these protocol ids. Every id must be
	// found in the window, otherwise the query is NOT_FOUND.
	IDs []string
	// Sender restricts the window to one participant.
	Sender string
	// LastPage keeps only the final N entries of the window.
	LastPage int
	// Flip delivers entries newest first.
	Flip bool
	// Max caps the delivered entries. Zero, or a value above the server
	// cap, means the server cap.
	Max int
}

// Page is the result of a query.
type Page struct {
	Entries  []model.ArchiveEntry
	First    string
	Last     string
	Count    int
	Complete bool
	Stable   bool
}

// Query returns a page of the conversation window described by q.
func (a *Archive) Query(ctx context.Context, conversationID string, q Query) (Page, error) {
	if conversationID == "" {
		return Page{}, model.NewValidationError("empty conversation id", "")
	}
	if q.Max < 0 {
		return Page{}, model.NewValidationError(fmt.Sprintf("negative max %d", q.Max), conversationID)
	}
	if q.LastPage < 0 {
		return Page{}, model.NewValidationError(fmt.Sprintf("negative last page %d", q.LastPage), conversationID)
	}

	limit := q.Max
	if limit == 0 || limit > a.maxPage {
		limit = a.maxPage
	}

	filter, err := a.window(ctx, conversationID, q)
	if err != nil {
		return Page{}, err
	}

	sel := queryir.Select{Filter: filter, OrderBy: ordering(q.Flip)}
	if q.LastPage > 0 {
		sel = queryir.Select{
			Inner:   &queryir.Select{Filter: filter, OrderBy: ordering(true), Limit: q.LastPage},
			OrderBy: ordering(q.Flip),
		}
	}
	wanted := uniqueIDs(q.IDs)
	if len(wanted) == 0 {
		sel.Limit = limit + 1
	}

	entries, err := a.store.SelectArchive(ctx, sel)
	if err != nil {
		return Page{}, fmt.Errorf("query archive: %w", err)
	}
	if len(wanted) > 0 && len(entries) != len(wanted) {
		return Page{}, model.NewNotFoundError("one of the requested ids could not be found", conversationID)
	}

	complete := len(entries) <= limit
	if !complete {
		entries = entries[:limit]
	}

	page := Page{
		Entries:  entries,
		Count:    len(entries),
		Complete: complete,
		Stable:   a.store.Stable(),
	}
	if len(entries) > 0 {
		page.First = entries[0].ProtocolID
		page.Last = entries[len(entries)-1].ProtocolID
	}
	return page, nil
}

func (a *Archive) window(ctx context.Context, conversationID string, q Query) (queryir.Predicate, error) {
	preds := []queryir.Predicate{
		queryir.Equals{Field: colSession, Value: a.sessionID},
		queryir.Equals{Field: colConversation, Value: conversationID},
	}
	if !q.Start.IsZero() {
		preds = append(preds, queryir.Compare{Fields: []string{colTimestamp}, Op: queryir.OpGe, Values: []any{micros(q.Start)}})
	}
	if !q.End.IsZero() {
		preds = append(preds, queryir.Compare{Fields: []string{colTimestamp}, Op: queryir.OpLe, Values: []any{micros(q.End)}})
	}
	if q.AfterID != "" {
		p, err := a.anchor(ctx, conversationID, q.AfterID, queryir.OpGt)
		if err != nil {
			return nil, err
		}
		preds = append(preds, p)
	}
	if q.BeforeID != "" {
		p, err := a.anchor(ctx, conversationID, q.BeforeID, queryir.OpLt)
		if err != nil {
			return nil, err
		}
		preds = append(preds, p)
	}
	if ids := uniqueIDs(q.IDs); len(ids) > 0 {
		values := make([]any, len(ids))
		for i, id := range ids {
			values[i] = id
		}
		preds = append(preds, queryir.In{Field: colProtocolID, Values: values})
	}
	if q.Sender != "" {
		preds = append(preds, queryir.Equals{Field: colSender, Value: q.Sender})
	}
	return queryir.Conj(preds...), nil
}

// anchor builds the predicate selecting entries strictly on one side of
// the entry holding protocolID.
func (a *Archive) anchor(ctx context.Context, conversationID, protocolID string, op queryir.CompareOp) (queryir.Predicate, error) {
	e, err := a.store.GetArchiveEntry(ctx, a.sessionID, conversationID, protocolID)
	if model.IsNotFound(err) {
		return nil, model.NewNotFoundError("archive anchor not found", protocolID)
	}
	if err != nil {
		return nil, fmt.Errorf("resolve archive anchor: %w", err)
	}
	return queryir.Compare{
		Fields: []string{colTimestamp, colSequence},
		Op:     op,
		Values: []any{micros(e.Timestamp), e.Sequence},
	}, nil
}

func ordering(desc bool) []queryir.Order {
	return []queryir.Order{
		{Field: colTimestamp, Desc: desc},
		{Field: colSequence, Desc: desc},
	}
}

func uniqueIDs(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, id := range in {
		if _, dup := seen[id]; dup || id == "" {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// micros matches the store's timestamp column encoding.
func micros(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UTC().UnixMicro()
}
