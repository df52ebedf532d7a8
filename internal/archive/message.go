package archive

import "time"

// Message is a candidate for archiving.
type Message struct {
	// ID is the protocol message id. Generated when empty.
	ID     string
	Sender string
	// Timestamp defaults to the archive clock when zero.
	Timestamp time.Time

	Body       string
	Retraction bool
	Reaction   bool
	// NoStore carries the sender's request not to keep the message.
	NoStore bool

	Payload []byte
}

// Archivable reports whether m belongs in the history: it must carry a
// body, a retraction or a reaction, and must not ask to be left out.
// Presence and chat-state only events are never archived.
func Archivable(m Message) bool {
	if m.NoStore {
		return false
	}
	return m.Body != "" || m.Retraction || m.Reaction
}
