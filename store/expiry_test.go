package store

import (
	"testing"
	"time"
)

func TestExpiryPolicy(t *testing.T) {
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	p := DefaultExpiryPolicy()

	t.Run("mailbox expiry is 30 days out", func(t *testing.T) {
		got := p.MailboxExpiry(now)
		want := now.Add(30 * 24 * time.Hour)
		if !got.Equal(want) {
			t.Errorf("MailboxExpiry = %v, want %v", got, want)
		}
	})

	t.Run("message expiry is 24 hours out", func(t *testing.T) {
		got := p.MessageExpiry(now)
		want := now.Add(24 * time.Hour)
		if !got.Equal(want) {
			t.Errorf("MessageExpiry = %v, want %v", got, want)
		}
	})

	t.Run("expiry is strictly after creation", func(t *testing.T) {
		if !p.MailboxExpiry(now).After(now) {
			t.Error("mailbox expiry must be after creation time")
		}
		if !p.MessageExpiry(now).After(now) {
			t.Error("message expiry must be after creation time")
		}
	})
}

func TestIsLive(t *testing.T) {
	now := time.Now().UTC()

	tests := []struct {
		name      string
		expiresAt time.Time
		want      bool
	}{
		{"future expiry is live", now.Add(time.Hour), true},
		{"past expiry is dead", now.Add(-time.Hour), false},
		{"expiry exactly now is dead", now, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsLive(tt.expiresAt, now); got != tt.want {
				t.Errorf("IsLive(%v, now) = %v, want %v", tt.expiresAt, got, tt.want)
			}
		})
	}
}

func TestSortMessages(t *testing.T) {
	t1 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Minute)
	t3 := t1.Add(2 * time.Minute)

	msgs := []EncryptedMessage{
		{ID: "cccccccc-0000-0000-0000-000000000000", CreatedAt: t3},
		{ID: "bbbbbbbb-0000-0000-0000-000000000000", CreatedAt: t2},
		{ID: "aaaaaaaa-0000-0000-0000-000000000000", CreatedAt: t1},
	}
	SortMessages(msgs)

	for i, want := range []time.Time{t1, t2, t3} {
		if !msgs[i].CreatedAt.Equal(want) {
			t.Errorf("msgs[%d].CreatedAt = %v, want %v", i, msgs[i].CreatedAt, want)
		}
	}

	t.Run("ties broken by id", func(t *testing.T) {
		tied := []EncryptedMessage{
			{ID: "bbbbbbbb-0000-0000-0000-000000000000", CreatedAt: t1},
			{ID: "aaaaaaaa-0000-0000-0000-000000000000", CreatedAt: t1},
		}
		SortMessages(tied)
		if tied[0].ID > tied[1].ID {
			t.Errorf("tie not broken by id: got %s before %s", tied[0].ID, tied[1].ID)
		}
	})
}

func TestParseID(t *testing.T) {
	t.Run("accepts generated ids", func(t *testing.T) {
		id := NewID()
		got, err := ParseID(id)
		if err != nil {
			t.Fatalf("ParseID(%q) failed: %v", id, err)
		}
		if got != id {
			t.Errorf("ParseID(%q) = %q", id, got)
		}
	})

	t.Run("rejects malformed ids", func(t *testing.T) {
		for _, bad := range []string{"", "not-an-id", "12345", "gggggggg-0000-0000-0000-000000000000"} {
			if _, err := ParseID(bad); !IsInvalidID(err) {
				t.Errorf("ParseID(%q): expected ErrInvalidID, got %v", bad, err)
			}
		}
	})

	t.Run("ids are unique", func(t *testing.T) {
		seen := make(map[string]bool)
		for i := 0; i < 1000; i++ {
			id := NewID()
			if seen[id] {
				t.Fatalf("duplicate id generated: %s", id)
			}
			seen[id] = true
		}
	})
}
