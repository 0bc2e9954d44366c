package ingest

import (
	"context"
	"log/slog"

	"github.com/sabinanfranz/slack-data-ai/internal/slack"
)

type fetchFunc func(ctx context.Context, req slack.PageRequest) (*slack.Page, error)

// Pager walks a cursor-paginated listing one page at a time:
//
//	p := s.historyPager(req)
//	for p.Next(ctx) {
//		page := p.Page()
//	}
//	if err := p.Err(); err != nil { ... }
//
// A Pager is finite and cannot be restarted. When the bot is not a member of
// the channel it joins and retries the same request once.
type Pager struct {
	api    API
	fetch  fetchFunc
	req    slack.PageRequest
	logger *slog.Logger

	page     *slack.Page
	pages    int
	finished bool
	err      error
}

func newPager(api API, fetch fetchFunc, req slack.PageRequest, logger *slog.Logger) *Pager {
	return &Pager{api: api, fetch: fetch, req: req, logger: logger}
}

func (s *Syncer) historyPager(req slack.PageRequest) *Pager {
	return newPager(s.api, s.api.HistoryPage, req, s.logger)
}

func (s *Syncer) repliesPager(req slack.PageRequest) *Pager {
	return newPager(s.api, s.api.RepliesPage, req, s.logger)
}

// Next fetches the next page. It returns false when the listing is exhausted
// or a fetch failed; Err tells the two apart.
func (p *Pager) Next(ctx context.Context) bool {
	if p.finished || p.err != nil {
		return false
	}

	page, err := p.fetch(ctx, p.req)
	if err != nil && slack.IsNotInChannel(err) {
		p.logger.Info("bot is not in channel, joining", "channel", p.req.ChannelID)
		if joinErr := p.api.JoinChannel(ctx, p.req.ChannelID); joinErr != nil {
			p.logger.Warn("failed to join channel", "channel", p.req.ChannelID, "error", joinErr)
		}
		page, err = p.fetch(ctx, p.req)
	}
	if err != nil {
		p.err = err
		p.page = nil
		return false
	}

	p.page = page
	p.pages++
	if page.NextCursor == "" {
		p.finished = true
	} else {
		p.req.Cursor = page.NextCursor
	}
	return true
}

// Page returns the page fetched by the last successful Next.
func (p *Pager) Page() *slack.Page {
	return p.page
}

// Pages returns how many pages have been fetched.
func (p *Pager) Pages() int {
	return p.pages
}

// Err returns the error that stopped the pager, if any.
func (p *Pager) Err() error {
	return p.err
}
