// Package slack provides the rate-limited Slack Web API client used by the
// sync engine and the run-report notifier.
package slack

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/sabinanfranz/slack-data-ai/internal/config"
	"github.com/slack-go/slack"
)

// Options configures a Client.
type Options struct {
	Token         string
	RatePerMinute int
	Retry         RetryPolicy
	// APIURL overrides the Web API endpoint; it must end with a slash.
	APIURL     string
	HTTPClient *http.Client
	Debug      bool
}

// Client wraps the Slack Web API with retry, backoff and pacing. Every call
// blocks until it succeeds, fails terminally or its context is cancelled.
type Client struct {
	api    *slack.Client
	retry  *retrier
	logger *slog.Logger
}

// New creates a Slack client.
func New(opts Options, logger *slog.Logger) (*Client, error) {
	if opts.Token == "" {
		return nil, ErrNotConfigured
	}
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Retry.MaxAttempts == 0 {
		opts.Retry = DefaultRetryPolicy()
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	slackOpts := []slack.Option{
		slack.OptionDebug(opts.Debug),
		slack.OptionHTTPClient(retryAfterClient{next: httpClient, fallback: opts.Retry.DefaultRetryAfter}),
	}
	if opts.APIURL != "" {
		slackOpts = append(slackOpts, slack.OptionAPIURL(opts.APIURL))
	}

	logger = logger.With("component", "slack")
	return &Client{
		api:    slack.New(opts.Token, slackOpts...),
		retry:  newRetrier(opts.Retry, opts.RatePerMinute, logger),
		logger: logger,
	}, nil
}

// NewFromConfig creates a Slack client from the application configuration.
func NewFromConfig(cfg *config.Config, logger *slog.Logger) (*Client, error) {
	if err := cfg.RequireSlack(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotConfigured, err)
	}
	return New(Options{
		Token:         cfg.SlackBotToken,
		RatePerMinute: cfg.APIRatePerMinute,
		Retry: RetryPolicy{
			MaxAttempts:       cfg.RetryMaxAttempts,
			BaseDelay:         cfg.RetryBaseDelay,
			MaxDelay:          cfg.RetryMaxDelay,
			DefaultRetryAfter: DefaultRetryPolicy().DefaultRetryAfter,
		},
		Debug: cfg.LogLevel == "debug",
	}, logger)
}

// AuthTest verifies the token and returns the bot's user ID.
func (c *Client) AuthTest(ctx context.Context) (string, error) {
	var userID string
	err := c.retry.do(ctx, "auth.test", func(ctx context.Context) error {
		resp, err := c.api.AuthTestContext(ctx)
		if err != nil {
			return err
		}
		userID = resp.UserID
		return nil
	})
	return userID, err
}

// ChannelInfo fetches a channel's metadata.
func (c *Client) ChannelInfo(ctx context.Context, channelID string) (*ChannelInfo, error) {
	var info *ChannelInfo
	err := c.retry.do(ctx, "conversations.info", func(ctx context.Context) error {
		ch, err := c.api.GetConversationInfoContext(ctx, &slack.GetConversationInfoInput{ChannelID: channelID})
		if err != nil {
			return err
		}
		info = &ChannelInfo{ID: ch.ID, Name: ch.Name, Creator: ch.Creator, IsArchived: ch.IsArchived}
		return nil
	})
	return info, err
}

// UserInfo fetches a user's profile.
func (c *Client) UserInfo(ctx context.Context, userID string) (*UserInfo, error) {
	var info *UserInfo
	err := c.retry.do(ctx, "users.info", func(ctx context.Context) error {
		u, err := c.api.GetUserInfoContext(ctx, userID)
		if err != nil {
			return err
		}
		info = &UserInfo{
			ID:          u.ID,
			Name:        u.Name,
			RealName:    firstNonEmpty(u.Profile.RealName, u.RealName),
			DisplayName: u.Profile.DisplayName,
		}
		return nil
	})
	return info, err
}

// JoinChannel adds the bot to a public channel.
func (c *Client) JoinChannel(ctx context.Context, channelID string) error {
	return c.retry.do(ctx, "conversations.join", func(ctx context.Context) error {
		_, _, _, err := c.api.JoinConversationContext(ctx, channelID)
		return err
	})
}

// HistoryPage fetches one page of a channel's history.
func (c *Client) HistoryPage(ctx context.Context, req PageRequest) (*Page, error) {
	var page *Page
	err := c.retry.do(ctx, "conversations.history", func(ctx context.Context) error {
		resp, err := c.api.GetConversationHistoryContext(ctx, &slack.GetConversationHistoryParameters{
			ChannelID: req.ChannelID,
			Cursor:    req.Cursor,
			Inclusive: req.Inclusive,
			Limit:     req.Limit,
			Oldest:    req.Oldest,
		})
		if err != nil {
			return err
		}
		page = &Page{Messages: convertMessages(resp.Messages), NextCursor: resp.ResponseMetaData.NextCursor}
		return nil
	})
	return page, err
}

// RepliesPage fetches one page of a thread's messages, root included.
func (c *Client) RepliesPage(ctx context.Context, req PageRequest) (*Page, error) {
	var page *Page
	err := c.retry.do(ctx, "conversations.replies", func(ctx context.Context) error {
		msgs, _, next, err := c.api.GetConversationRepliesContext(ctx, &slack.GetConversationRepliesParameters{
			ChannelID: req.ChannelID,
			Timestamp: req.ThreadTS,
			Cursor:    req.Cursor,
			Inclusive: req.Inclusive,
			Limit:     req.Limit,
			Oldest:    req.Oldest,
		})
		if err != nil {
			return err
		}
		page = &Page{Messages: convertMessages(msgs), NextCursor: next}
		return nil
	})
	return page, err
}

// PostBlocks posts a Block Kit message with a plain text fallback.
func (c *Client) PostBlocks(ctx context.Context, channelID, fallback string, blocks ...slack.Block) error {
	return c.retry.do(ctx, "chat.postMessage", func(ctx context.Context) error {
		_, _, err := c.api.PostMessageContext(ctx, channelID,
			slack.MsgOptionText(fallback, false),
			slack.MsgOptionBlocks(blocks...),
		)
		return err
	})
}

// retryAfterClient fills in a missing or unparsable Retry-After on 429
// responses so slack-go reports them as *slack.RateLimitedError instead of a
// header parse error.
type retryAfterClient struct {
	next     *http.Client
	fallback time.Duration
}

func (c retryAfterClient) Do(req *http.Request) (*http.Response, error) {
	resp, err := c.next.Do(req)
	if err != nil || resp.StatusCode != http.StatusTooManyRequests {
		return resp, err
	}
	if _, perr := strconv.ParseInt(resp.Header.Get("Retry-After"), 10, 64); perr != nil {
		if resp.Header == nil {
			resp.Header = make(http.Header)
		}
		resp.Header.Set("Retry-After", strconv.FormatInt(retryAfterSeconds(c.fallback), 10))
	}
	return resp, nil
}

// retryAfterSeconds rounds d up to whole seconds, at least one.
func retryAfterSeconds(d time.Duration) int64 {
	secs := int64((d + time.Second - 1) / time.Second)
	if secs < 1 {
		return 1
	}
	return secs
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
