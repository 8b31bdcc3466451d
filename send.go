package relay

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/rbaliyan/relay/store"
)

// SendMessage queues an opaque encrypted payload for the mailbox using
// the configured message TTL. The relay never inspects the payload.
func (s *service) SendMessage(ctx context.Context, mailboxID string, payload []byte) (*EncryptedMessage, error) {
	now := s.clock()
	return s.send(ctx, mailboxID, payload, s.opts.expiry.MessageExpiry(now), now)
}

// SendMessageWithExpiry queues a payload with an explicit expiry. The
// expiry must be in the future and may not exceed the configured
// message TTL.
func (s *service) SendMessageWithExpiry(ctx context.Context, mailboxID string, payload []byte, expiresAt time.Time) (*EncryptedMessage, error) {
	now := s.clock()
	if !expiresAt.After(now) {
		return nil, ErrInvalidExpiry
	}
	if limit := s.opts.expiry.MessageExpiry(now); expiresAt.After(limit) {
		return nil, fmt.Errorf("%w: expiry exceeds message TTL", ErrInvalidExpiry)
	}
	return s.send(ctx, mailboxID, payload, expiresAt, now)
}

func (s *service) send(ctx context.Context, mailboxID string, payload []byte, expiresAt, now time.Time) (msg *EncryptedMessage, err error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	if err := s.validateSend(mailboxID, payload); err != nil {
		return nil, err
	}

	// Bound concurrent sends. Close drains in-flight sends by acquiring
	// every slot, so the semaphore must cover the whole operation.
	if err := s.sendSem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("acquire send slot: %w", err)
	}
	defer s.sendSem.Release(1)

	start := time.Now()
	ctx, endSpan := s.otel.startSpan(ctx, "relay.send",
		attribute.String("relay.mailbox_id", mailboxID),
		attribute.Int("relay.payload_size", len(payload)))
	defer func() {
		endSpan(err)
		s.otel.recordSend(ctx, time.Since(start), len(payload), err)
	}()

	if err := s.plugins.beforeAdmit(ctx, mailboxID, len(payload)); err != nil {
		return nil, err
	}

	// Strict admission verifies the mailbox is live before queueing.
	// Off by default: rejecting sends to unknown mailboxes would let
	// senders probe which mailbox identifiers exist.
	if s.opts.strictAdmission {
		if _, err := s.store.GetMailbox(ctx, mailboxID, now); err != nil {
			return nil, wrapStoreError(err)
		}
	}

	msg = &store.EncryptedMessage{
		ID:               store.NewID(),
		RecipientMailbox: mailboxID,
		Payload:          payload,
		CreatedAt:        now,
		ExpiresAt:        expiresAt,
	}

	// Large payloads go to the blob store; the queue keeps only a URI.
	if s.payloads != nil && len(payload) > s.opts.inlineThreshold {
		uri, putErr := s.payloads.Put(ctx, msg.ID, bytes.NewReader(payload))
		if putErr != nil {
			return nil, fmt.Errorf("store payload: %w", putErr)
		}
		msg.PayloadURI = uri
		msg.Payload = nil
	}

	if err := s.store.SaveMessage(ctx, msg); err != nil {
		if msg.PayloadURI != "" {
			if delErr := s.payloads.Delete(ctx, msg.PayloadURI); delErr != nil {
				s.logger.Warn("failed to release orphaned payload",
					"uri", msg.PayloadURI, "error", delErr)
			}
		}
		return nil, wrapStoreError(err)
	}

	if s.events != nil {
		evt := MessageQueuedEvent{
			MessageID: msg.ID,
			MailboxID: msg.RecipientMailbox,
			Size:      len(payload),
			QueuedAt:  msg.CreatedAt,
			ExpiresAt: msg.ExpiresAt,
		}
		if pubErr := s.events.MessageQueued.Publish(ctx, evt); pubErr != nil {
			if s.opts.eventErrorsFatal {
				return nil, &EventPublishError{
					Event:     EventNameMessageQueued,
					MessageID: msg.ID,
					Err:       pubErr,
				}
			}
			s.opts.safeEventPublishFailure(EventNameMessageQueued, pubErr)
		}
	}

	if err := s.plugins.afterAdmit(ctx, msg); err != nil {
		return nil, err
	}

	// Hand back a copy that always carries the inline payload, even
	// when the stored record was offloaded.
	out := *msg
	out.Payload = payload
	return &out, nil
}

// validateSend checks the mailbox id and payload before admission.
func (s *service) validateSend(mailboxID string, payload []byte) error {
	if !store.IsValidID(mailboxID) {
		return ErrInvalidID
	}
	if len(payload) == 0 {
		return ErrEmptyPayload
	}
	if len(payload) > s.opts.maxPayloadSize {
		return fmt.Errorf("%w: %d bytes exceeds limit of %d",
			ErrPayloadTooLarge, len(payload), s.opts.maxPayloadSize)
	}
	return nil
}
