package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rbaliyan/relay/store"
)

func newConnected(t *testing.T) *Store {
	t.Helper()
	s := New()
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("connect failed: %v", err)
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
	ctx := context.Background()
	s := New()

	if _, err := s.ListMessages(ctx, store.NewID(), time.Now()); !errors.Is(err, store.ErrNotConnected) {
		t.Errorf("expected ErrNotConnected before Connect, got %v", err)
	}

	if err := s.Connect(ctx); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	if err := s.Connect(ctx); !errors.Is(err, store.ErrAlreadyConnected) {
		t.Errorf("expected ErrAlreadyConnected, got %v", err)
	}
	if err := s.Close(ctx); err != nil {
		t.Errorf("close failed: %v", err)
	}
}

func TestSaveAndDrain(t *testing.T) {
	ctx := context.Background()
	s := newConnected(t)
	now := time.Now().UTC()
	mailboxID := store.NewID()

	for i := 0; i < 3; i++ {
		msg := testMessage(mailboxID, now.Add(time.Duration(i)*time.Second))
		if err := s.SaveMessage(ctx, msg); err != nil {
			t.Fatalf("save message %d: %v", i, err)
		}
	}

	msgs, err := s.DrainMessages(ctx, mailboxID, now)
	if err != nil {
		t.Fatalf("drain failed: %v", err)
	}
	if len(msgs) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(msgs))
	}
	for i := 1; i < len(msgs); i++ {
		if msgs[i].CreatedAt.Before(msgs[i-1].CreatedAt) {
			t.Error("drain result not in delivery order")
		}
	}

	// Second drain is empty - messages are gone.
	msgs, err = s.DrainMessages(ctx, mailboxID, now)
	if err != nil {
		t.Fatalf("second drain failed: %v", err)
	}
	if len(msgs) != 0 {
		t.Errorf("expected empty second drain, got %d messages", len(msgs))
	}
}

func TestListDoesNotRemove(t *testing.T) {
	ctx := context.Background()
	s := newConnected(t)
	now := time.Now().UTC()
	mailboxID := store.NewID()

	if err := s.SaveMessage(ctx, testMessage(mailboxID, now)); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	for i := 0; i < 2; i++ {
		msgs, err := s.ListMessages(ctx, mailboxID, now)
		if err != nil {
			t.Fatalf("list failed: %v", err)
		}
		if len(msgs) != 1 {
			t.Fatalf("list %d: expected 1 message, got %d", i, len(msgs))
		}
	}
}

func TestDrainSkipsExpired(t *testing.T) {
	ctx := context.Background()
	s := newConnected(t)
	now := time.Now().UTC()
	mailboxID := store.NewID()

	live := testMessage(mailboxID, now)
	expired := testMessage(mailboxID, now.Add(-48*time.Hour))

	if err := s.SaveMessage(ctx, live); err != nil {
		t.Fatalf("save live: %v", err)
	}
	if err := s.SaveMessage(ctx, expired); err != nil {
		t.Fatalf("save expired: %v", err)
	}

	msgs, err := s.DrainMessages(ctx, mailboxID, now)
	if err != nil {
		t.Fatalf("drain failed: %v", err)
	}
	if len(msgs) != 1 || msgs[0].ID != live.ID {
		t.Errorf("expected only the live message, got %d messages", len(msgs))
	}
}

func TestUnknownMailboxIsEmptyNotError(t *testing.T) {
	ctx := context.Background()
	s := newConnected(t)

	msgs, err := s.ListMessages(ctx, store.NewID(), time.Now())
	if err != nil {
		t.Fatalf("list on unknown mailbox: %v", err)
	}
	if len(msgs) != 0 {
		t.Errorf("expected empty result, got %d", len(msgs))
	}

	msgs, err = s.DrainMessages(ctx, store.NewID(), time.Now())
	if err != nil {
		t.Fatalf("drain on unknown mailbox: %v", err)
	}
	if len(msgs) != 0 {
		t.Errorf("expected empty result, got %d", len(msgs))
	}
}

func TestConcurrentDrainPartitions(t *testing.T) {
	ctx := context.Background()
	s := newConnected(t)
	now := time.Now().UTC()
	mailboxID := store.NewID()

	const total = 200
	sent := make(map[string]bool, total)
	for i := 0; i < total; i++ {
		msg := testMessage(mailboxID, now)
		sent[msg.ID] = true
		if err := s.SaveMessage(ctx, msg); err != nil {
			t.Fatalf("save: %v", err)
		}
	}

	const drainers = 8
	results := make([][]store.EncryptedMessage, drainers)
	var wg sync.WaitGroup
	for i := 0; i < drainers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			msgs, err := s.DrainMessages(ctx, mailboxID, now)
			if err != nil {
				t.Errorf("drain %d: %v", n, err)
				return
			}
			results[n] = msgs
		}(i)
	}
	wg.Wait()

	seen := make(map[string]int)
	for _, msgs := range results {
		for _, m := range msgs {
			seen[m.ID]++
		}
	}
	if len(seen) != total {
		t.Errorf("union of drains has %d messages, want %d", len(seen), total)
	}
	for id, n := range seen {
		if n > 1 {
			t.Errorf("message %s delivered %d times", id, n)
		}
		if !sent[id] {
			t.Errorf("message %s was never sent", id)
		}
	}
}

func TestMailboxLifecycle(t *testing.T) {
	ctx := context.Background()
	s := newConnected(t)
	now := time.Now().UTC()

	mb := &store.Mailbox{
		ID:            store.NewID(),
		PublicKeyHash: "a1b2c3",
		CreatedAt:     now,
		ExpiresAt:     now.Add(30 * 24 * time.Hour),
	}
	if err := s.CreateMailbox(ctx, mb); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	got, err := s.GetMailbox(ctx, mb.ID, now)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.PublicKeyHash != mb.PublicKeyHash {
		t.Errorf("key hash = %q, want %q", got.PublicKeyHash, mb.PublicKeyHash)
	}

	t.Run("miss returns ErrNotFound", func(t *testing.T) {
		if _, err := s.GetMailbox(ctx, store.NewID(), now); !store.IsNotFound(err) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("expired mailbox is dead for reads", func(t *testing.T) {
		if _, err := s.GetMailbox(ctx, mb.ID, now.Add(31*24*time.Hour)); !errors.Is(err, store.ErrMailboxExpired) {
			t.Errorf("expected ErrMailboxExpired, got %v", err)
		}
	})

	t.Run("same key hash may own multiple mailboxes", func(t *testing.T) {
		second := &store.Mailbox{
			ID:            store.NewID(),
			PublicKeyHash: mb.PublicKeyHash,
			CreatedAt:     now,
			ExpiresAt:     now.Add(30 * 24 * time.Hour),
		}
		if err := s.CreateMailbox(ctx, second); err != nil {
			t.Errorf("rotation create failed: %v", err)
		}
	})
}

func TestSweeps(t *testing.T) {
	ctx := context.Background()
	s := newConnected(t)
	now := time.Now().UTC()

	// One live, one expired mailbox.
	liveBox := &store.Mailbox{ID: store.NewID(), PublicKeyHash: "k1", CreatedAt: now, ExpiresAt: now.Add(time.Hour)}
	deadBox := &store.Mailbox{ID: store.NewID(), PublicKeyHash: "k2", CreatedAt: now.Add(-48 * time.Hour), ExpiresAt: now.Add(-time.Hour)}
	for _, mb := range []*store.Mailbox{liveBox, deadBox} {
		if err := s.CreateMailbox(ctx, mb); err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	// One live, one expired message on the live mailbox.
	if err := s.SaveMessage(ctx, testMessage(liveBox.ID, now)); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := s.SaveMessage(ctx, testMessage(liveBox.ID, now.Add(-48*time.Hour))); err != nil {
		t.Fatalf("save: %v", err)
	}

	msgCount, err := s.DeleteExpiredMessages(ctx, now)
	if err != nil {
		t.Fatalf("message sweep failed: %v", err)
	}
	if msgCount != 1 {
		t.Errorf("message sweep deleted %d, want 1", msgCount)
	}

	boxCount, err := s.DeleteExpiredMailboxes(ctx, now)
	if err != nil {
		t.Fatalf("mailbox sweep failed: %v", err)
	}
	if boxCount != 1 {
		t.Errorf("mailbox sweep deleted %d, want 1", boxCount)
	}

	// The live message survives the sweep and is still retrievable.
	msgs, err := s.ListMessages(ctx, liveBox.ID, now)
	if err != nil {
		t.Fatalf("list after sweep: %v", err)
	}
	if len(msgs) != 1 {
		t.Errorf("expected 1 surviving message, got %d", len(msgs))
	}
}

func TestStats(t *testing.T) {
	ctx := context.Background()
	s := newConnected(t)
	now := time.Now().UTC()

	mb := &store.Mailbox{ID: store.NewID(), PublicKeyHash: "k", CreatedAt: now, ExpiresAt: now.Add(time.Hour)}
	if err := s.CreateMailbox(ctx, mb); err != nil {
		t.Fatalf("create: %v", err)
	}
	for i := 0; i < 3; i++ {
		if err := s.SaveMessage(ctx, testMessage(mb.ID, now)); err != nil {
			t.Fatalf("save: %v", err)
		}
	}

	stats, err := s.Stats(ctx, now)
	if err != nil {
		t.Fatalf("stats failed: %v", err)
	}
	if stats.ActiveMailboxes != 1 {
		t.Errorf("ActiveMailboxes = %d, want 1", stats.ActiveMailboxes)
	}
	if stats.QueuedMessages != 3 {
		t.Errorf("QueuedMessages = %d, want 3", stats.QueuedMessages)
	}
}

func TestTouchUser(t *testing.T) {
	ctx := context.Background()
	s := newConnected(t)
	now := time.Now().UTC()

	u1, err := s.TouchUser(ctx, "hash1", now)
	if err != nil {
		t.Fatalf("first touch failed: %v", err)
	}
	if !u1.CreatedAt.Equal(now) || !u1.LastSeen.Equal(now) {
		t.Error("first contact should set CreatedAt and LastSeen")
	}

	later := now.Add(time.Hour)
	u2, err := s.TouchUser(ctx, "hash1", later)
	if err != nil {
		t.Fatalf("second touch failed: %v", err)
	}
	if u2.ID != u1.ID {
		t.Error("touch must not create a second user for the same hash")
	}
	if !u2.LastSeen.Equal(later) {
		t.Errorf("LastSeen = %v, want %v", u2.LastSeen, later)
	}
	if !u2.CreatedAt.Equal(now) {
		t.Error("CreatedAt must not change on subsequent touches")
	}

	t.Run("empty hash rejected", func(t *testing.T) {
		if _, err := s.TouchUser(ctx, "", now); !errors.Is(err, store.ErrEmptyKeyHash) {
			t.Errorf("expected ErrEmptyKeyHash, got %v", err)
		}
	})
}

func TestConcurrentSendAndDrainDifferentMailboxes(t *testing.T) {
	ctx := context.Background()
	s := newConnected(t)
	now := time.Now().UTC()

	const mailboxes = 10
	const perMailbox = 20

	var wg sync.WaitGroup
	ids := make([]string, mailboxes)
	for i := range ids {
		ids[i] = store.NewID()
	}

	for _, id := range ids {
		wg.Add(1)
		go func(mailboxID string) {
			defer wg.Done()
			for j := 0; j < perMailbox; j++ {
				if err := s.SaveMessage(ctx, testMessage(mailboxID, now)); err != nil {
					t.Errorf("save: %v", err)
				}
			}
		}(id)
	}
	wg.Wait()

	for _, id := range ids {
		msgs, err := s.DrainMessages(ctx, id, now)
		if err != nil {
			t.Fatalf("drain: %v", err)
		}
		if len(msgs) != perMailbox {
			t.Errorf("mailbox %s: drained %d, want %d", id, len(msgs), perMailbox)
		}
	}
}

func TestMaintenanceSkipsRetiredQueues(t *testing.T) {
	ctx := context.Background()
	s := newConnected(t)
	now := time.Now().UTC()
	mailboxID := store.NewID()

	// Draining the last message retires the queue. Maintenance running
	// concurrently with that retirement must treat the queue as gone.
	if err := s.SaveMessage(ctx, testMessage(mailboxID, now)); err != nil {
		t.Fatalf("save: %v", err)
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		if _, err := s.DrainMessages(ctx, mailboxID, now); err != nil {
			t.Errorf("drain: %v", err)
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			if _, err := s.Stats(ctx, now); err != nil {
				t.Errorf("stats: %v", err)
				return
			}
			if _, err := s.ListExpiredPayloadURIs(ctx, now); err != nil {
				t.Errorf("list expired uris: %v", err)
				return
			}
		}
	}()
	wg.Wait()

	stats, err := s.Stats(ctx, now)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.QueuedMessages != 0 {
		t.Errorf("QueuedMessages = %d, want 0 after drain", stats.QueuedMessages)
	}
	uris, err := s.ListExpiredPayloadURIs(ctx, now)
	if err != nil {
		t.Fatalf("list expired uris: %v", err)
	}
	if len(uris) != 0 {
		t.Errorf("expired URIs = %d, want 0", len(uris))
	}
}
