package claude

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Confidence levels a summary may report.
const (
	ConfidenceLow    = "low"
	ConfidenceMedium = "medium"
	ConfidenceHigh   = "high"
)

// ActionItem is a follow-up task found in a thread.
type ActionItem struct {
	Task      string `json:"task"`
	OwnerHint string `json:"owner_hint,omitempty"`
	DueHint   string `json:"due_hint,omitempty"`
}

// Summary is the stored summary document of a thread.
type Summary struct {
	OneLine      string       `json:"one_line"`
	Summary      string       `json:"summary"`
	KeyPoints    []string     `json:"key_points"`
	Decisions    []string     `json:"decisions"`
	Blockers     []string     `json:"blockers"`
	Questions    []string     `json:"questions"`
	ActionItems  []ActionItem `json:"action_items"`
	Participants []string     `json:"participants"`
	Confidence   string       `json:"confidence"`
}

// ParseSummary decodes and normalizes a summary document. Missing lists
// become empty, an unknown confidence becomes medium and action items
// without a task are dropped.
func ParseSummary(raw json.RawMessage) (*Summary, error) {
	var s Summary
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("decode summary: %w", err)
	}
	s.OneLine = strings.TrimSpace(s.OneLine)
	s.Summary = strings.TrimSpace(s.Summary)
	if s.OneLine == "" && s.Summary == "" {
		return nil, fmt.Errorf("%w: one_line and summary are empty", ErrNoSummary)
	}
	if s.OneLine == "" {
		s.OneLine = TruncateText(s.Summary, 80)
	}

	s.KeyPoints = nonNil(s.KeyPoints)
	s.Decisions = nonNil(s.Decisions)
	s.Blockers = nonNil(s.Blockers)
	s.Questions = nonNil(s.Questions)
	s.Participants = nonNil(s.Participants)

	items := make([]ActionItem, 0, len(s.ActionItems))
	for _, item := range s.ActionItems {
		if item.Task = strings.TrimSpace(item.Task); item.Task != "" {
			items = append(items, item)
		}
	}
	s.ActionItems = items

	switch s.Confidence {
	case ConfidenceLow, ConfidenceMedium, ConfidenceHigh:
	default:
		s.Confidence = ConfidenceMedium
	}
	return &s, nil
}

func nonNil(list []string) []string {
	if list == nil {
		return []string{}
	}
	return list
}
