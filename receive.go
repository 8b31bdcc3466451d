package relay

import (
	"context"
	"fmt"
	"io"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/rbaliyan/relay/store"
)

// CreateMailbox registers a fresh mailbox bound to the given public key
// hash. Clients rotate identity by calling this again; old mailboxes
// keep serving until they expire. The key hash is only used to track
// anonymous user liveness, never exposed to senders.
func (s *service) CreateMailbox(ctx context.Context, publicKeyHash string) (mb *Mailbox, err error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	if publicKeyHash == "" {
		return nil, ErrEmptyKeyHash
	}

	start := time.Now()
	ctx, endSpan := s.otel.startSpan(ctx, "relay.mailbox.create")
	defer func() {
		endSpan(err)
		s.otel.recordCreate(ctx, time.Since(start), err)
	}()

	now := s.clock()
	mb = &store.Mailbox{
		ID:            store.NewID(),
		PublicKeyHash: publicKeyHash,
		CreatedAt:     now,
		ExpiresAt:     s.opts.expiry.MailboxExpiry(now),
	}
	if err := s.store.CreateMailbox(ctx, mb); err != nil {
		return nil, wrapStoreError(err)
	}

	// Keep the anonymous user record fresh so expiry reflects activity.
	if _, err := s.store.TouchUser(ctx, publicKeyHash, now); err != nil {
		s.logger.Warn("failed to touch user record", "error", err)
	}

	if s.events != nil {
		evt := MailboxCreatedEvent{
			MailboxID: mb.ID,
			CreatedAt: mb.CreatedAt,
			ExpiresAt: mb.ExpiresAt,
		}
		if pubErr := s.events.MailboxCreated.Publish(ctx, evt); pubErr != nil {
			if s.opts.eventErrorsFatal {
				return nil, &EventPublishError{Event: EventNameMailboxCreated, Err: pubErr}
			}
			s.opts.safeEventPublishFailure(EventNameMailboxCreated, pubErr)
		}
	}

	return mb, nil
}

// GetMailbox returns a live mailbox by id. Returns ErrNotFound for
// unknown ids and ErrMailboxExpired for known-but-dead ones.
func (s *service) GetMailbox(ctx context.Context, mailboxID string) (*Mailbox, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	if !store.IsValidID(mailboxID) {
		return nil, ErrInvalidID
	}

	mb, err := s.store.GetMailbox(ctx, mailboxID, s.clock())
	if err != nil {
		return nil, wrapStoreError(err)
	}
	return mb, nil
}

// ReceiveMessages returns the live messages queued for a mailbox in
// delivery order. Under the default DrainOnReceive policy the messages
// are removed as they are returned, so each message is delivered at
// most once even across concurrent receivers. An unknown mailbox
// yields an empty result, not an error.
func (s *service) ReceiveMessages(ctx context.Context, mailboxID string) (msgs []EncryptedMessage, err error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	if !store.IsValidID(mailboxID) {
		return nil, ErrInvalidID
	}

	start := time.Now()
	ctx, endSpan := s.otel.startSpan(ctx, "relay.receive",
		attribute.String("relay.mailbox_id", mailboxID))
	defer func() {
		endSpan(err)
		s.otel.recordReceive(ctx, time.Since(start), len(msgs), err)
	}()

	now := s.clock()
	drained := s.opts.receivePolicy != RetainOnReceive
	if drained {
		msgs, err = s.store.DrainMessages(ctx, mailboxID, now)
	} else {
		msgs, err = s.store.ListMessages(ctx, mailboxID, now)
	}
	if err != nil {
		// A failed drain may still have claimed messages (the mongo
		// backend returns partial claims with the error). Put them
		// back so they are not lost.
		if drained && len(msgs) > 0 {
			return s.restoreDrained(ctx, msgs, wrapStoreError(err))
		}
		return nil, wrapStoreError(err)
	}

	// Pull offloaded payloads back inline before handing them out.
	for i := range msgs {
		if msgs[i].PayloadURI == "" {
			continue
		}
		payload, loadErr := s.loadPayload(ctx, msgs[i].PayloadURI)
		if loadErr != nil {
			// The batch has already been removed from the store. It
			// must not evaporate on a blob failure, so re-queue it and
			// let a later receive retry the load.
			if drained {
				return s.restoreDrained(ctx, msgs, loadErr)
			}
			return nil, loadErr
		}
		msgs[i].Payload = payload
	}

	if s.events != nil && len(msgs) > 0 && s.opts.receivePolicy == DrainOnReceive {
		evt := MailboxDrainedEvent{
			MailboxID: mailboxID,
			Count:     len(msgs),
			DrainedAt: now,
		}
		if pubErr := s.events.MailboxDrained.Publish(ctx, evt); pubErr != nil {
			if s.opts.eventErrorsFatal {
				return nil, &EventPublishError{Event: EventNameMailboxDrained, Err: pubErr}
			}
			s.opts.safeEventPublishFailure(EventNameMailboxDrained, pubErr)
		}
	}

	return msgs, nil
}

// restoreDrained puts a drained batch back into the store after a failed
// delivery. The messages keep their ids, timestamps, and payload URIs, so
// delivery order and at-most-once semantics survive the retry. If the
// store rejects the re-queue too, the batch is handed to the caller
// alongside the error as a last resort rather than dropped.
func (s *service) restoreDrained(ctx context.Context, msgs []EncryptedMessage, cause error) ([]EncryptedMessage, error) {
	for i := range msgs {
		m := msgs[i]
		m.Payload = nil
		if m.PayloadURI == "" {
			m.Payload = msgs[i].Payload
		}
		if saveErr := s.store.SaveMessage(ctx, &m); saveErr != nil {
			s.logger.Error("failed to restore drained messages",
				"mailbox_id", m.RecipientMailbox,
				"restored", i,
				"remaining", len(msgs)-i,
				"error", saveErr)
			return msgs[i:], fmt.Errorf("restore drained messages: %w", cause)
		}
	}
	return nil, cause
}

// loadPayload fetches an offloaded payload blob.
func (s *service) loadPayload(ctx context.Context, uri string) ([]byte, error) {
	if s.payloads == nil {
		return nil, ErrPayloadStoreNotConfigured
	}
	rc, err := s.payloads.Load(ctx, uri)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}
