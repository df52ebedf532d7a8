package session

import (
	"time"

	"github.com/truenicoco/slidge-sub000/internal/model"
)

// ProtocolMessage is a message the user sent from a protocol client.
// Reference fields hold protocol ids.
type ProtocolMessage struct {
	// ID is the protocol id of this message.
	ID string
	// Kind and To address the peer by its local key.
	Kind model.Kind
	To   string
	// Sender is the user's handle in the conversation, such as a group nickname.
	Sender    string
	Body      string
	Replace   string
	Retract   string
	ReactTo   string
	Reactions []string
	ReplyTo   string
	Thread    string
	NoStore   bool
	Timestamp time.Time
	Payload   []byte
}

// OutgoingMessage is a ProtocolMessage translated for the adapter.
// Reference fields hold legacy ids.
type OutgoingMessage struct {
	Body      string
	Replace   string
	Retract   string
	ReactTo   string
	Reactions []string
	ReplyTo   string
	Thread    string
}

// LegacyMessage is a message received from the legacy network.
// Reference fields hold legacy ids.
type LegacyMessage struct {
	// ID is the legacy id of this message. May be empty for networks
	// without message ids.
	ID string
	// Kind and From address the peer by its legacy id.
	Kind model.Kind
	From string
	// Sender is the participant handle inside a group.
	Sender    string
	Body      string
	Replace   string
	Retract   string
	ReactTo   string
	Reactions []string
	ReplyTo   string
	Thread    string
	// Copies is the number of protocol messages this message is delivered
	// as. Values below 1 mean one.
	Copies    int
	NoStore   bool
	Timestamp time.Time
	Payload   []byte
}

// Delivery describes how a LegacyMessage must be sent on the protocol side.
type Delivery struct {
	Peer Peer
	// ProtocolIDs holds one id per delivered copy; the first is the primary.
	ProtocolIDs []string
	// Targets are the protocol ids a correction, retraction or reaction
	// applies to: every copy of the referenced message.
	Targets []string
	// ReplyTo is empty when the replied-to message is unknown.
	ReplyTo  string
	Thread   string
	Archived bool
}
