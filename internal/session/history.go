package session

import (
	"context"
	"fmt"

	"github.com/truenicoco/slidge-sub000/internal/archive"
	"github.com/truenicoco/slidge-sub000/internal/model"
)

// QueryHistory answers an archive query addressed to a group.
func (s *Session) QueryHistory(ctx context.Context, groupLocalKey string, req archive.Request) (archive.Page, error) {
	group, err := s.ResolveGroup(ctx, groupLocalKey)
	if err != nil {
		return archive.Page{}, fmt.Errorf("resolve group: %w", err)
	}
	return s.archive.Query(ctx, group.Ref().ConversationID(), req.Query())
}

// HistoryMetadata returns the first and last archived messages of a group.
func (s *Session) HistoryMetadata(ctx context.Context, groupLocalKey string) (first, last model.ArchiveEntry, ok bool, err error) {
	group, err := s.ResolveGroup(ctx, groupLocalKey)
	if err != nil {
		return model.ArchiveEntry{}, model.ArchiveEntry{}, false, fmt.Errorf("resolve group: %w", err)
	}
	return s.archive.Metadata(ctx, group.Ref().ConversationID())
}
