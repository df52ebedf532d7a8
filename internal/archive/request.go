package archive

import "time"

// Request carries the fields of a protocol archive query: the data form
// fields and the result set management paging element.
type Request struct {
	// Form fields.
	With     string
	Start    time.Time
	End      time.Time
	BeforeID string
	AfterID  string
	IDs      []string
	Flip     bool

	// Paging. Max is nil when absent. Before is nil when absent and points
	// to an empty string for an open <before/>, which asks for the last page.
	Max    *int
	After  string
	Before *string
}

// Query maps r onto a window query. A paging after overrides the form's
// after-id, a paging before with a value overrides the form's before-id,
// and an open before combined with max asks for the last max entries.
func (r Request) Query() Query {
	q := Query{
		Start:    r.Start,
		End:      r.End,
		BeforeID: r.BeforeID,
		AfterID:  r.AfterID,
		IDs:      r.IDs,
		Sender:   r.With,
		Flip:     r.Flip,
	}
	if r.After != "" {
		q.AfterID = r.After
	}
	if r.Max != nil {
		q.Max = *r.Max
	}
	if r.Before != nil {
		if *r.Before != "" {
			q.BeforeID = *r.Before
		} else if r.Max != nil {
			q.LastPage = *r.Max
		}
	}
	return q
}
