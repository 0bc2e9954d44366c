package ingest

import (
	"context"
	"errors"
	"testing"

	"github.com/sabinanfranz/slack-data-ai/internal/slack"
	"github.com/sabinanfranz/slack-data-ai/internal/storage"
)

func TestNormalizeChannelID(t *testing.T) {
	tests := []struct {
		raw     string
		want    string
		wantErr bool
	}{
		{"C0750UMQAD6", "C0750UMQAD6", false},
		{"  c0750umqad6 ", "C0750UMQAD6", false},
		{"D0750UMQAD6", "", true},
		{"C", "", true},
		{"C0750-UMQ", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := NormalizeChannelID(tt.raw)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidChannelID) {
					t.Errorf("error = %v, want ErrInvalidChannelID", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("NormalizeChannelID() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRegisterChannel(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, Options{}, nil)
	h.api.channels["C0750UMQAD6"] = slack.ChannelInfo{ID: "C0750UMQAD6", Name: "general", Creator: "U9"}
	h.api.users["U9"] = slack.UserInfo{ID: "U9", Name: "owner"}

	ch, err := h.sync.RegisterChannel(ctx, "c0750umqad6")
	if err != nil {
		t.Fatalf("RegisterChannel() error = %v", err)
	}
	if ch.ID != "C0750UMQAD6" || ch.Name != "general" || !ch.IsActive {
		t.Errorf("channel = %+v", ch)
	}
	seed := storage.WatermarkAt(h.clock.now().Add(-DefaultOptions().Backfill))
	if ch.LastTS.TS != seed.TS {
		t.Errorf("LastTS = %q, want %q", ch.LastTS.TS, seed.TS)
	}
	if len(h.api.joined) != 1 {
		t.Errorf("joined = %v, want one join", h.api.joined)
	}
	known, err := h.mem.KnownActors(ctx, []string{"U9"})
	if err != nil {
		t.Fatalf("KnownActors() error = %v", err)
	}
	if !known["U9"] {
		t.Error("channel creator should be cached")
	}

	// Re-registering picks up a rename and keeps progress and the active flag.
	if err := h.mem.SetChannelActive(ctx, "C0750UMQAD6", false); err != nil {
		t.Fatalf("SetChannelActive() error = %v", err)
	}
	h.api.channels["C0750UMQAD6"] = slack.ChannelInfo{ID: "C0750UMQAD6", Name: "general-renamed"}
	h.clock.advance(DefaultOptions().Backfill)

	ch, err = h.sync.RegisterChannel(ctx, "C0750UMQAD6")
	if err != nil {
		t.Fatalf("second RegisterChannel() error = %v", err)
	}
	if ch.Name != "general-renamed" {
		t.Errorf("Name = %q, want %q", ch.Name, "general-renamed")
	}
	if ch.IsActive {
		t.Error("re-registering should not reactivate the channel")
	}
	if ch.LastTS.TS != seed.TS {
		t.Errorf("LastTS = %q, want unchanged %q", ch.LastTS.TS, seed.TS)
	}
}

func TestRegisterChannelErrors(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, Options{}, nil)

	if _, err := h.sync.RegisterChannel(ctx, "G123"); !errors.Is(err, ErrInvalidChannelID) {
		t.Errorf("invalid id error = %v, want ErrInvalidChannelID", err)
	}

	_, err := h.sync.RegisterChannel(ctx, "C404")
	if got := slack.ErrorCode(err); got != slack.CodeChannelNotFound {
		t.Errorf("unknown channel code = %q, want %q", got, slack.CodeChannelNotFound)
	}
	if _, err := h.mem.GetChannel(ctx, "C404"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("unknown channel should not be stored, got %v", err)
	}
}
