package ingest

import (
	"context"
	"sort"

	"github.com/sabinanfranz/slack-data-ai/internal/storage"
)

// ensureActors caches profiles for author ids not cached yet and returns how
// many were added. Lookups are best-effort: failures are logged and skipped.
func (s *Syncer) ensureActors(ctx context.Context, userIDs map[string]struct{}) int {
	if len(userIDs) == 0 {
		return 0
	}
	ids := make([]string, 0, len(userIDs))
	for id := range userIDs {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	known, err := s.store.KnownActors(ctx, ids)
	if err != nil {
		s.logger.Warn("failed to read actor cache", "error", err)
		return 0
	}

	cached := 0
	for _, id := range ids {
		if known[id] {
			continue
		}
		if ctx.Err() != nil {
			break
		}
		if s.cacheActor(ctx, id) {
			cached++
		}
	}
	return cached
}

func (s *Syncer) cacheActor(ctx context.Context, userID string) bool {
	info, err := s.api.UserInfo(ctx, userID)
	if err != nil {
		s.logger.Debug("user lookup failed", "user", userID, "error", err)
		return false
	}
	err = s.store.UpsertActor(ctx, storage.Actor{
		UserID:      userID,
		DisplayName: info.BestName(),
		RealName:    info.FullName(),
		UpdatedAt:   s.now(),
	})
	if err != nil {
		s.logger.Warn("failed to cache user", "user", userID, "error", err)
		return false
	}
	return true
}
