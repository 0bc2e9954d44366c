package slack

import (
	"errors"
	"fmt"
	"strings"

	"github.com/slack-go/slack"
)

// ErrNotConfigured is returned when the client is built without a bot token.
var ErrNotConfigured = errors.New("slack: bot token is not configured")

// Remote error codes the sync engine reacts to.
const (
	CodeNotInChannel    = "not_in_channel"
	CodeChannelNotFound = "channel_not_found"
	CodeRateLimited     = "ratelimited"
)

// CallError is a Slack Web API call that failed for good: either the API
// rejected it or transient failures outlasted the retry budget.
type CallError struct {
	Op       string // Web API method, e.g. conversations.history
	Code     string // remote error code, empty for transport failures
	Status   int    // HTTP status, 0 when no response was received
	Attempts int
	Err      error
}

func (e *CallError) Error() string {
	var sb strings.Builder
	sb.WriteString(e.Op)
	sb.WriteString(" failed")
	if e.Code != "" {
		fmt.Fprintf(&sb, ": %s", e.Code)
	} else if e.Status != 0 {
		fmt.Fprintf(&sb, ": http %d", e.Status)
	}
	if e.Attempts > 1 {
		fmt.Fprintf(&sb, " after %d attempts", e.Attempts)
	}
	if e.Err != nil && e.Code == "" {
		fmt.Fprintf(&sb, ": %v", e.Err)
	}
	return sb.String()
}

func (e *CallError) Unwrap() error {
	return e.Err
}

// ErrorCode returns the remote Slack error code carried by err, if any.
func ErrorCode(err error) string {
	var callErr *CallError
	if errors.As(err, &callErr) && callErr.Code != "" {
		return callErr.Code
	}
	var apiErr slack.SlackErrorResponse
	if errors.As(err, &apiErr) {
		return apiErr.Err
	}
	return ""
}

// IsNotInChannel reports whether err means the bot is not a member of the
// channel it tried to read.
func IsNotInChannel(err error) bool {
	return ErrorCode(err) == CodeNotInChannel
}
