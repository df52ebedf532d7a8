package session

import (
	"context"

	"github.com/truenicoco/slidge-sub000/internal/registry"
)

// Peer is a resolved contact or group, as built by the adapter's factories.
type Peer = registry.Entity

// Adapter is the legacy network side of a session.
type Adapter interface {
	// Send delivers a message written by the user and returns the legacy
	// id the network assigned to it, or "" when the network has none.
	Send(ctx context.Context, peer Peer, msg OutgoingMessage) (legacyID string, err error)
}

// ThreadCreator is implemented by adapters whose network creates thread
// ids itself. It is asked for a legacy thread id the first time the user
// writes in a protocol thread the session has not seen before.
type ThreadCreator interface {
	CreateThread(ctx context.Context, peer Peer, protocolThread string) (legacyThread string, err error)
}

// MessageIDCodec is a deterministic, reversible translation between legacy
// and protocol message ids, used when the correlator has no mapping.
type MessageIDCodec interface {
	ToProtocol(legacyID string) (string, error)
	ToLegacy(protocolID string) (string, error)
}
