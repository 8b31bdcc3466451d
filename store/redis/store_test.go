package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"

	"github.com/rbaliyan/relay/store"
)

func newConnected(t *testing.T) *Store {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	s := New(client)
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() = %v", err)
	}
	t.Cleanup(func() { s.Close(context.Background()) })
	return s
}

func testMessage(mailboxID string, createdAt time.Time) *store.EncryptedMessage {
	return &store.EncryptedMessage{
		ID:               store.NewID(),
		RecipientMailbox: mailboxID,
		Payload:          []byte("ciphertext"),
		CreatedAt:        createdAt,
		ExpiresAt:        createdAt.Add(24 * time.Hour),
	}
}

func TestConnectLifecycle(t *testing.T) {
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	defer client.Close()

	ctx := context.Background()
	s := New(client)

	if _, err := s.Stats(ctx, time.Now()); !errors.Is(err, store.ErrNotConnected) {
		t.Errorf("Stats() before Connect = %v, want ErrNotConnected", err)
	}
	if err := s.Connect(ctx); err != nil {
		t.Fatalf("Connect() = %v", err)
	}
	if err := s.Connect(ctx); !errors.Is(err, store.ErrAlreadyConnected) {
		t.Errorf("second Connect() = %v, want ErrAlreadyConnected", err)
	}
	if err := s.Close(ctx); err != nil {
		t.Fatalf("Close() = %v", err)
	}
	if _, err := s.Stats(ctx, time.Now()); !errors.Is(err, store.ErrNotConnected) {
		t.Errorf("Stats() after Close = %v, want ErrNotConnected", err)
	}
}

func TestSaveAndDrain(t *testing.T) {
	s := newConnected(t)
	ctx := context.Background()
	now := time.Now().UTC()
	mailboxID := store.NewID()

	// Saved newest first to verify delivery ordering.
	third := testMessage(mailboxID, now.Add(2*time.Second))
	second := testMessage(mailboxID, now.Add(time.Second))
	first := testMessage(mailboxID, now)
	for _, msg := range []*store.EncryptedMessage{third, second, first} {
		if err := s.SaveMessage(ctx, msg); err != nil {
			t.Fatalf("SaveMessage() = %v", err)
		}
	}

	msgs, err := s.DrainMessages(ctx, mailboxID, now.Add(3*time.Second))
	if err != nil {
		t.Fatalf("DrainMessages() = %v", err)
	}
	if len(msgs) != 3 {
		t.Fatalf("DrainMessages() returned %d messages, want 3", len(msgs))
	}
	for i, want := range []string{first.ID, second.ID, third.ID} {
		if msgs[i].ID != want {
			t.Errorf("msgs[%d].ID = %q, want %q", i, msgs[i].ID, want)
		}
	}

	msgs, err = s.DrainMessages(ctx, mailboxID, now.Add(3*time.Second))
	if err != nil {
		t.Fatalf("second DrainMessages() = %v", err)
	}
	if len(msgs) != 0 {
		t.Errorf("second DrainMessages() returned %d messages, want 0", len(msgs))
	}
}

func TestListDoesNotRemove(t *testing.T) {
	s := newConnected(t)
	ctx := context.Background()
	now := time.Now().UTC()
	mailboxID := store.NewID()

	if err := s.SaveMessage(ctx, testMessage(mailboxID, now)); err != nil {
		t.Fatalf("SaveMessage() = %v", err)
	}

	for i := 0; i < 2; i++ {
		msgs, err := s.ListMessages(ctx, mailboxID, now)
		if err != nil {
			t.Fatalf("ListMessages() = %v", err)
		}
		if len(msgs) != 1 {
			t.Fatalf("ListMessages() #%d returned %d messages, want 1", i+1, len(msgs))
		}
	}
}

func TestDrainSkipsExpired(t *testing.T) {
	s := newConnected(t)
	ctx := context.Background()
	now := time.Now().UTC()
	mailboxID := store.NewID()

	live := testMessage(mailboxID, now)
	stale := testMessage(mailboxID, now.Add(-48*time.Hour))
	for _, msg := range []*store.EncryptedMessage{live, stale} {
		if err := s.SaveMessage(ctx, msg); err != nil {
			t.Fatalf("SaveMessage() = %v", err)
		}
	}

	msgs, err := s.DrainMessages(ctx, mailboxID, now.Add(time.Second))
	if err != nil {
		t.Fatalf("DrainMessages() = %v", err)
	}
	if len(msgs) != 1 || msgs[0].ID != live.ID {
		t.Fatalf("DrainMessages() = %v, want only the live message", msgs)
	}
}

func TestUnknownMailboxIsEmptyNotError(t *testing.T) {
	s := newConnected(t)
	ctx := context.Background()

	msgs, err := s.DrainMessages(ctx, store.NewID(), time.Now())
	if err != nil {
		t.Fatalf("DrainMessages() = %v", err)
	}
	if len(msgs) != 0 {
		t.Errorf("DrainMessages() returned %d messages, want 0", len(msgs))
	}
}

func TestMailboxLifecycle(t *testing.T) {
	s := newConnected(t)
	ctx := context.Background()
	now := time.Now().UTC()

	if _, err := s.GetMailbox(ctx, store.NewID(), now); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("GetMailbox(unknown) = %v, want ErrNotFound", err)
	}

	mb := &store.Mailbox{
		ID:            store.NewID(),
		PublicKeyHash: "abc123",
		CreatedAt:     now,
		ExpiresAt:     now.Add(30 * 24 * time.Hour),
	}
	if err := s.CreateMailbox(ctx, mb); err != nil {
		t.Fatalf("CreateMailbox() = %v", err)
	}

	got, err := s.GetMailbox(ctx, mb.ID, now)
	if err != nil {
		t.Fatalf("GetMailbox() = %v", err)
	}
	if got.PublicKeyHash != mb.PublicKeyHash {
		t.Errorf("PublicKeyHash = %q, want %q", got.PublicKeyHash, mb.PublicKeyHash)
	}

	if _, err := s.GetMailbox(ctx, mb.ID, mb.ExpiresAt.Add(time.Second)); !errors.Is(err, store.ErrMailboxExpired) {
		t.Errorf("GetMailbox(expired) = %v, want ErrMailboxExpired", err)
	}
}

func TestSweeps(t *testing.T) {
	s := newConnected(t)
	ctx := context.Background()
	now := time.Now().UTC()
	mailboxID := store.NewID()

	survivor := testMessage(mailboxID, now)
	stale := testMessage(mailboxID, now.Add(-48*time.Hour))
	for _, msg := range []*store.EncryptedMessage{survivor, stale} {
		if err := s.SaveMessage(ctx, msg); err != nil {
			t.Fatalf("SaveMessage() = %v", err)
		}
	}

	deadBox := &store.Mailbox{
		ID:            store.NewID(),
		PublicKeyHash: "dead",
		CreatedAt:     now.Add(-60 * 24 * time.Hour),
		ExpiresAt:     now.Add(-30 * 24 * time.Hour),
	}
	if err := s.CreateMailbox(ctx, deadBox); err != nil {
		t.Fatalf("CreateMailbox() = %v", err)
	}

	n, err := s.DeleteExpiredMessages(ctx, now)
	if err != nil {
		t.Fatalf("DeleteExpiredMessages() = %v", err)
	}
	if n != 1 {
		t.Errorf("DeleteExpiredMessages() = %d, want 1", n)
	}

	// miniredis does not advance its clock, so the dead mailbox key is
	// still present for the explicit sweep.
	n, err = s.DeleteExpiredMailboxes(ctx, now)
	if err != nil {
		t.Fatalf("DeleteExpiredMailboxes() = %v", err)
	}
	if n != 1 {
		t.Errorf("DeleteExpiredMailboxes() = %d, want 1", n)
	}

	msgs, err := s.ListMessages(ctx, mailboxID, now)
	if err != nil {
		t.Fatalf("ListMessages() = %v", err)
	}
	if len(msgs) != 1 || msgs[0].ID != survivor.ID {
		t.Errorf("ListMessages() after sweep = %v, want only survivor", msgs)
	}
}

func TestListExpiredPayloadURIs(t *testing.T) {
	s := newConnected(t)
	ctx := context.Background()
	now := time.Now().UTC()
	mailboxID := store.NewID()

	stale := testMessage(mailboxID, now.Add(-48*time.Hour))
	stale.Payload = nil
	stale.PayloadURI = "s3://relay-payloads/" + stale.ID
	if err := s.SaveMessage(ctx, stale); err != nil {
		t.Fatalf("SaveMessage() = %v", err)
	}
	if err := s.SaveMessage(ctx, testMessage(mailboxID, now)); err != nil {
		t.Fatalf("SaveMessage() = %v", err)
	}

	uris, err := s.ListExpiredPayloadURIs(ctx, now)
	if err != nil {
		t.Fatalf("ListExpiredPayloadURIs() = %v", err)
	}
	if len(uris) != 1 || uris[0] != stale.PayloadURI {
		t.Errorf("ListExpiredPayloadURIs() = %v, want [%q]", uris, stale.PayloadURI)
	}
}

func TestStats(t *testing.T) {
	s := newConnected(t)
	ctx := context.Background()
	now := time.Now().UTC()

	mb := &store.Mailbox{
		ID:            store.NewID(),
		PublicKeyHash: "abc123",
		CreatedAt:     now,
		ExpiresAt:     now.Add(30 * 24 * time.Hour),
	}
	if err := s.CreateMailbox(ctx, mb); err != nil {
		t.Fatalf("CreateMailbox() = %v", err)
	}
	for i := 0; i < 3; i++ {
		if err := s.SaveMessage(ctx, testMessage(mb.ID, now.Add(time.Duration(i)*time.Second))); err != nil {
			t.Fatalf("SaveMessage() = %v", err)
		}
	}

	stats, err := s.Stats(ctx, now.Add(5*time.Second))
	if err != nil {
		t.Fatalf("Stats() = %v", err)
	}
	if stats.ActiveMailboxes != 1 {
		t.Errorf("ActiveMailboxes = %d, want 1", stats.ActiveMailboxes)
	}
	if stats.QueuedMessages != 3 {
		t.Errorf("QueuedMessages = %d, want 3", stats.QueuedMessages)
	}
}

func TestTouchUser(t *testing.T) {
	s := newConnected(t)
	ctx := context.Background()
	now := time.Now().UTC()

	if _, err := s.TouchUser(ctx, "", now); !errors.Is(err, store.ErrEmptyKeyHash) {
		t.Errorf("TouchUser(empty) = %v, want ErrEmptyKeyHash", err)
	}

	first, err := s.TouchUser(ctx, "abc123", now)
	if err != nil {
		t.Fatalf("TouchUser() = %v", err)
	}
	if !first.CreatedAt.Equal(now) || !first.LastSeen.Equal(now) {
		t.Errorf("first contact timestamps = %v/%v, want both %v", first.CreatedAt, first.LastSeen, now)
	}

	later := now.Add(time.Hour)
	second, err := s.TouchUser(ctx, "abc123", later)
	if err != nil {
		t.Fatalf("second TouchUser() = %v", err)
	}
	if second.ID != first.ID {
		t.Errorf("second TouchUser() ID = %q, want %q", second.ID, first.ID)
	}
	if !second.CreatedAt.Equal(now) {
		t.Errorf("CreatedAt changed to %v, want %v", second.CreatedAt, now)
	}
	if !second.LastSeen.Equal(later) {
		t.Errorf("LastSeen = %v, want %v", second.LastSeen, later)
	}
}
