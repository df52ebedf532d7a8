package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/truenicoco/slidge-sub000/internal/model"
)

// createTestStore creates a new file-backed store for testing.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// createTestEntry creates an archive entry minutes after epoch.
func createTestEntry(session, conv, protocolID string, minutes int) model.ArchiveEntry {
	return model.ArchiveEntry{
		SessionID:      session,
		ConversationID: conv,
		ProtocolID:     protocolID,
		Sender:         "nick",
		Timestamp:      epoch.Add(time.Duration(minutes) * time.Minute),
		Payload:        []byte("<message>" + protocolID + "</message>"),
	}
}
