package ingest

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/sabinanfranz/slack-data-ai/internal/storage"
)

// ErrInvalidChannelID is returned for ids that are not public channel ids.
var ErrInvalidChannelID = errors.New("invalid channel id (expected like C0750UMQAD6)")

var channelIDPattern = regexp.MustCompile(`^C[A-Z0-9]+$`)

// NormalizeChannelID upper-cases and validates a channel id.
func NormalizeChannelID(raw string) (string, error) {
	id := strings.ToUpper(strings.TrimSpace(raw))
	if !channelIDPattern.MatchString(id) {
		return "", fmt.Errorf("%w: %q", ErrInvalidChannelID, raw)
	}
	return id, nil
}

// RegisterChannel adds a channel to the mirror, or refreshes its name if it is
// already registered. New channels start active with the watermark seeded to
// now minus the backfill window. The bot joins the channel and the creator's
// profile is cached, both best-effort.
func (s *Syncer) RegisterChannel(ctx context.Context, rawID string) (*storage.Channel, error) {
	id, err := NormalizeChannelID(rawID)
	if err != nil {
		return nil, err
	}

	info, err := s.api.ChannelInfo(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("channel info for %s: %w", id, err)
	}
	if err := s.api.JoinChannel(ctx, id); err != nil {
		s.logger.Warn("failed to join channel", "channel", id, "error", err)
	}

	existing, err := s.store.GetChannel(ctx, id)
	var ch *storage.Channel
	switch {
	case errors.Is(err, storage.ErrNotFound):
		ch, err = s.store.SaveChannel(ctx, storage.Channel{
			ID:       id,
			Name:     info.Name,
			IsActive: true,
			LastTS:   storage.WatermarkAt(s.now().Add(-s.opts.Backfill)),
		})
		if err != nil {
			return nil, fmt.Errorf("save channel %s: %w", id, err)
		}
		s.logger.Info("channel registered", "channel", id, "name", info.Name)
	case err != nil:
		return nil, fmt.Errorf("load channel %s: %w", id, err)
	case info.Name != "" && existing.Name != info.Name:
		ch, err = s.store.SaveChannel(ctx, storage.Channel{ID: id, Name: info.Name, IsActive: existing.IsActive})
		if err != nil {
			return nil, fmt.Errorf("rename channel %s: %w", id, err)
		}
	default:
		ch = existing
	}

	if info.Creator != "" {
		s.cacheActor(ctx, info.Creator)
	}
	return ch, nil
}
