package relay

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rbaliyan/relay/store"
	"github.com/rbaliyan/relay/store/memory"
)

func TestCleanupRemovesExpiredRecords(t *testing.T) {
	ctx := context.Background()
	svc := setupTestService(t)
	defer svc.Close(ctx)

	mb, err := svc.CreateMailbox(ctx, HashPublicKey([]byte("ivan")))
	if err != nil {
		t.Fatalf("CreateMailbox() error = %v", err)
	}

	// One message that outlives the sweep, one that does not.
	if _, err := svc.SendMessage(ctx, mb.ID, []byte("survivor")); err != nil {
		t.Fatalf("SendMessage() error = %v", err)
	}
	shortLived, err := svc.SendMessageWithExpiry(ctx, mb.ID, []byte("doomed"), time.Now().UTC().Add(50*time.Millisecond))
	if err != nil {
		t.Fatalf("SendMessageWithExpiry() error = %v", err)
	}

	// Jump the clock past the short-lived expiry.
	impl := svc.(*service)
	impl.clock = func() time.Time { return shortLived.ExpiresAt.Add(time.Second) }

	result, err := svc.Cleanup(ctx)
	if err != nil {
		t.Fatalf("Cleanup() error = %v", err)
	}
	if result.MessagesDeleted != 1 {
		t.Errorf("MessagesDeleted = %d, want 1", result.MessagesDeleted)
	}
	if result.MailboxesDeleted != 0 {
		t.Errorf("MailboxesDeleted = %d, want 0", result.MailboxesDeleted)
	}

	msgs, err := svc.ReceiveMessages(ctx, mb.ID)
	if err != nil {
		t.Fatalf("ReceiveMessages() error = %v", err)
	}
	if len(msgs) != 1 || !bytes.Equal(msgs[0].Payload, []byte("survivor")) {
		t.Errorf("expected only the surviving message, got %d messages", len(msgs))
	}

	// Repeat sweeps find nothing new.
	result, err = svc.Cleanup(ctx)
	if err != nil {
		t.Fatalf("second Cleanup() error = %v", err)
	}
	if result.MessagesDeleted != 0 {
		t.Errorf("second sweep MessagesDeleted = %d, want 0", result.MessagesDeleted)
	}
}

func TestCleanupRemovesExpiredMailboxes(t *testing.T) {
	ctx := context.Background()
	svc := setupTestService(t)
	defer svc.Close(ctx)

	mb, err := svc.CreateMailbox(ctx, HashPublicKey([]byte("judy")))
	if err != nil {
		t.Fatalf("CreateMailbox() error = %v", err)
	}

	impl := svc.(*service)
	impl.clock = func() time.Time { return mb.ExpiresAt.Add(time.Second) }

	result, err := svc.Cleanup(ctx)
	if err != nil {
		t.Fatalf("Cleanup() error = %v", err)
	}
	if result.MailboxesDeleted != 1 {
		t.Errorf("MailboxesDeleted = %d, want 1", result.MailboxesDeleted)
	}

	if _, err := svc.GetMailbox(ctx, mb.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("swept mailbox should be gone, got %v", err)
	}
}

func TestCleanupReleasesOffloadedPayloads(t *testing.T) {
	ctx := context.Background()
	payloads := newFakePayloadStore()
	svc := setupTestService(t,
		WithPayloadStore(payloads),
		WithInlineThreshold(8),
	)
	defer svc.Close(ctx)

	mb, _ := svc.CreateMailbox(ctx, HashPublicKey([]byte("kim")))
	large := bytes.Repeat([]byte("z"), 64)
	msg, err := svc.SendMessageWithExpiry(ctx, mb.ID, large, time.Now().UTC().Add(50*time.Millisecond))
	if err != nil {
		t.Fatalf("SendMessageWithExpiry() error = %v", err)
	}
	if payloads.count() != 1 {
		t.Fatalf("blob count = %d, want 1", payloads.count())
	}

	impl := svc.(*service)
	impl.clock = func() time.Time { return msg.ExpiresAt.Add(time.Second) }

	result, err := svc.Cleanup(ctx)
	if err != nil {
		t.Fatalf("Cleanup() error = %v", err)
	}
	if result.PayloadsReleased != 1 {
		t.Errorf("PayloadsReleased = %d, want 1", result.PayloadsReleased)
	}
	if result.MessagesDeleted != 1 {
		t.Errorf("MessagesDeleted = %d, want 1", result.MessagesDeleted)
	}
	if payloads.count() != 0 {
		t.Errorf("blob count after sweep = %d, want 0", payloads.count())
	}
}

func TestCleanupSeededStore(t *testing.T) {
	// Seed the store directly with already-expired records to check the
	// sweep does not depend on the service having written them.
	ctx := context.Background()
	st := memory.New()
	if err := st.Connect(ctx); err != nil {
		t.Fatalf("connect store: %v", err)
	}

	now := time.Now().UTC()
	deadMailbox := &store.Mailbox{
		ID:            store.NewID(),
		PublicKeyHash: "seed",
		CreatedAt:     now.Add(-2 * time.Hour),
		ExpiresAt:     now.Add(-time.Hour),
	}
	if err := st.CreateMailbox(ctx, deadMailbox); err != nil {
		t.Fatalf("seed mailbox: %v", err)
	}
	for i := 0; i < 3; i++ {
		msg := &store.EncryptedMessage{
			ID:               store.NewID(),
			RecipientMailbox: deadMailbox.ID,
			Payload:          []byte("stale"),
			CreatedAt:        now.Add(-2 * time.Hour),
			ExpiresAt:        now.Add(-time.Hour),
		}
		if err := st.SaveMessage(ctx, msg); err != nil {
			t.Fatalf("seed message: %v", err)
		}
	}
	st.Close(ctx)

	svc := setupTestServiceWith(t, st)
	defer svc.Close(ctx)

	result, err := svc.Cleanup(ctx)
	if err != nil {
		t.Fatalf("Cleanup() error = %v", err)
	}
	if result.MessagesDeleted != 3 {
		t.Errorf("MessagesDeleted = %d, want 3", result.MessagesDeleted)
	}
	if result.MailboxesDeleted != 1 {
		t.Errorf("MailboxesDeleted = %d, want 1", result.MailboxesDeleted)
	}
}

// failingSweepStore injects sweep failures after the wrapped store has
// already deleted records.
type failingSweepStore struct {
	store.Store
	messageSweepErr error
	mailboxSweepErr error
}

func (f *failingSweepStore) DeleteExpiredMessages(ctx context.Context, now time.Time) (int64, error) {
	n, err := f.Store.DeleteExpiredMessages(ctx, now)
	if err == nil && f.messageSweepErr != nil {
		return n, f.messageSweepErr
	}
	return n, err
}

func (f *failingSweepStore) DeleteExpiredMailboxes(ctx context.Context, now time.Time) (int64, error) {
	n, err := f.Store.DeleteExpiredMailboxes(ctx, now)
	if err == nil && f.mailboxSweepErr != nil {
		return n, f.mailboxSweepErr
	}
	return n, err
}

func TestCleanupReportsPartialCounts(t *testing.T) {
	ctx := context.Background()

	seed := func(t *testing.T, svc Service) {
		t.Helper()
		mb, err := svc.CreateMailbox(ctx, HashPublicKey([]byte("trent")))
		if err != nil {
			t.Fatalf("CreateMailbox() error = %v", err)
		}
		msg, err := svc.SendMessageWithExpiry(ctx, mb.ID, []byte("stale"), time.Now().UTC().Add(50*time.Millisecond))
		if err != nil {
			t.Fatalf("SendMessageWithExpiry() error = %v", err)
		}
		svc.(*service).clock = func() time.Time { return msg.ExpiresAt.Add(time.Second) }
	}

	t.Run("message sweep fails", func(t *testing.T) {
		sweepErr := errors.New("backend timeout")
		st := &failingSweepStore{Store: memory.New(), messageSweepErr: sweepErr}
		svc := setupTestServiceWith(t, st)
		defer svc.Close(ctx)
		seed(t, svc)

		result, err := svc.Cleanup(ctx)
		if !errors.Is(err, sweepErr) {
			t.Fatalf("expected sweep error, got %v", err)
		}
		if result == nil {
			t.Fatal("failed sweep must still report counts")
		}
		if result.MessagesDeleted != 1 {
			t.Errorf("MessagesDeleted = %d, want 1", result.MessagesDeleted)
		}
	})

	t.Run("mailbox sweep fails after message sweep", func(t *testing.T) {
		sweepErr := errors.New("backend timeout")
		st := &failingSweepStore{Store: memory.New(), mailboxSweepErr: sweepErr}
		svc := setupTestServiceWith(t, st)
		defer svc.Close(ctx)
		seed(t, svc)

		result, err := svc.Cleanup(ctx)
		if !errors.Is(err, sweepErr) {
			t.Fatalf("expected sweep error, got %v", err)
		}
		if result == nil {
			t.Fatal("failed sweep must still report counts")
		}
		if result.MessagesDeleted != 1 {
			t.Errorf("MessagesDeleted = %d, want 1", result.MessagesDeleted)
		}
		if result.MailboxesDeleted != 0 {
			t.Errorf("MailboxesDeleted = %d, want 0", result.MailboxesDeleted)
		}
	})
}

func setupTestServiceWith(t *testing.T, st store.Store) Service {
	t.Helper()

	svc, err := NewService(WithStore(st))
	if err != nil {
		t.Fatalf("failed to create service: %v", err)
	}
	if err := svc.Connect(context.Background()); err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	return svc
}
