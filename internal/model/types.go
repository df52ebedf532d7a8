package model

import (
	"fmt"
	"time"
)

// Kind distinguishes the two families of remote entities.
type Kind string

const (
	KindContact Kind = "contact"
	KindGroup   Kind = "group"
)

// Valid reports whether k is a known entity kind.
func (k Kind) Valid() bool {
	return k == KindContact || k == KindGroup
}

// ParseKind converts a user-supplied string to a Kind.
func ParseKind(s string) (Kind, error) {
	k := Kind(s)
	if !k.Valid() {
		return "", NewValidationError(fmt.Sprintf("unknown entity kind %q", s), s)
	}
	return k, nil
}

// EntityRef identifies one remote contact or group within a session.
// LocalKey is always the transcoded form of LegacyID.
type EntityRef struct {
	SessionID string
	Kind      Kind
	LegacyID  string
	LocalKey  string
}

// ConversationID returns the identifier correlations and archive entries
// are scoped under for this entity.
func (r EntityRef) ConversationID() string {
	return ConversationID(r.Kind, r.LegacyID)
}

// ConversationID builds a conversation identifier. Contacts and groups
// live in separate namespaces so equal legacy ids never collide.
func ConversationID(kind Kind, legacyID string) string {
	return string(kind) + "/" + legacyID
}

// Profile carries the fields produced by enrichment.
type Profile struct {
	Name       string            `json:"name,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// EntityRecord is the persisted form of an entity.
//
// EnrichedAt is zero until the one-time enrichment callback succeeded;
// a record is only ever written after that, so a zero value on a read
// means the row predates enrichment and must be enriched again.
type EntityRecord struct {
	EntityRef
	EnrichedAt time.Time
	Profile    Profile
}

// Enriched reports whether enrichment completed for this record.
func (r EntityRecord) Enriched() bool {
	return !r.EnrichedAt.IsZero()
}

// Correlation maps a legacy message (or thread) id to a protocol id inside
// one conversation. For each legacy id exactly one record is primary; the
// others are echoes produced by fan-out.
type Correlation struct {
	SessionID      string
	ConversationID string
	LegacyID       string
	ProtocolID     string
	IsThread       bool
	IsPrimary      bool
}

// ArchiveEntry is one stored message of a conversation.
// Ordering key is (Timestamp, Sequence) ascending.
type ArchiveEntry struct {
	SessionID      string    `json:"-"`
	ConversationID string    `json:"conversation_id"`
	Sequence       int64     `json:"sequence"`
	ProtocolID     string    `json:"protocol_id"`
	Sender         string    `json:"sender"`
	Timestamp      time.Time `json:"timestamp"`
	Payload        []byte    `json:"payload,omitempty"`
}

// Before reports whether e sorts strictly before other.
func (e ArchiveEntry) Before(other ArchiveEntry) bool {
	if !e.Timestamp.Equal(other.Timestamp) {
		return e.Timestamp.Before(other.Timestamp)
	}
	return e.Sequence < other.Sequence
}
