package slack

import (
	"encoding/json"

	"github.com/slack-go/slack"
)

// ChannelInfo is the subset of conversations.info the mirror stores.
type ChannelInfo struct {
	ID         string
	Name       string
	Creator    string
	IsArchived bool
}

// UserInfo is the subset of users.info the actor cache stores.
type UserInfo struct {
	ID          string
	Name        string
	RealName    string
	DisplayName string
}

// BestName returns the display name, falling back to the real name and then
// the handle.
func (u UserInfo) BestName() string {
	switch {
	case u.DisplayName != "":
		return u.DisplayName
	case u.RealName != "":
		return u.RealName
	default:
		return u.Name
	}
}

// FullName returns the real name, falling back to BestName.
func (u UserInfo) FullName() string {
	if u.RealName != "" {
		return u.RealName
	}
	return u.BestName()
}

// Message is a fetched message together with its raw payload.
type Message struct {
	Type       string
	SubType    string
	TS         string
	ThreadTS   string
	User       string
	Text       string
	ReplyCount int
	Raw        json.RawMessage
}

// IsNormal reports whether the message is a plain user message: type
// "message", no subtype and a timestamp. Joins, edits, bot and file-share
// events are not.
func (m Message) IsNormal() bool {
	return m.Type == "message" && m.SubType == "" && m.TS != ""
}

// RootTS returns the thread root a message belongs to. Non-threaded messages
// are their own root.
func (m Message) RootTS() string {
	if m.ThreadTS != "" {
		return m.ThreadTS
	}
	return m.TS
}

// PageRequest addresses one page of conversations.history (ThreadTS empty) or
// conversations.replies.
type PageRequest struct {
	ChannelID string
	ThreadTS  string
	Oldest    string
	Cursor    string
	Limit     int
	Inclusive bool
}

// Page is one fetched page. NextCursor is empty on the last page.
type Page struct {
	Messages   []Message
	NextCursor string
}

func convertMessages(in []slack.Message) []Message {
	out := make([]Message, 0, len(in))
	for _, m := range in {
		raw, err := json.Marshal(m)
		if err != nil {
			raw = []byte("{}")
		}
		out = append(out, Message{
			Type:       m.Type,
			SubType:    m.SubType,
			TS:         m.Timestamp,
			ThreadTS:   m.ThreadTimestamp,
			User:       m.User,
			Text:       m.Text,
			ReplyCount: m.ReplyCount,
			Raw:        raw,
		})
	}
	return out
}
