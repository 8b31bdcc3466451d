package relay

import (
	"context"
	"time"
)

// CleanupResult reports what a maintenance sweep removed.
type CleanupResult struct {
	// MessagesDeleted is the number of expired messages removed.
	MessagesDeleted int64
	// MailboxesDeleted is the number of expired mailboxes removed.
	MailboxesDeleted int64
	// PayloadsReleased is the number of external payload blobs deleted.
	PayloadsReleased int
	// PayloadReleaseFailures counts blobs that could not be deleted.
	// Their queue entries were swept anyway; the next sweep will not
	// see them again, so failures here need operator attention.
	PayloadReleaseFailures int
}

// Cleanup removes expired messages and mailboxes and releases any
// externally stored payload blobs. Sweeps are idempotent; running
// several concurrently only splits the counts between them.
func (s *service) Cleanup(ctx context.Context) (result *CleanupResult, err error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}

	start := time.Now()
	ctx, endSpan := s.otel.startSpan(ctx, "relay.cleanup")
	result = &CleanupResult{}
	defer func() {
		endSpan(err)
		s.otel.recordCleanup(ctx, time.Since(start), result.MessagesDeleted+result.MailboxesDeleted, err)
	}()

	now := s.clock()

	// Release blobs before deleting the queue rows that reference them.
	// The reverse order would orphan blobs whenever a release failed.
	if s.payloads != nil {
		uris, listErr := s.store.ListExpiredPayloadURIs(ctx, now)
		if listErr != nil {
			return result, wrapStoreError(listErr)
		}
		for _, uri := range uris {
			if delErr := s.payloads.Delete(ctx, uri); delErr != nil {
				s.logger.Warn("failed to release expired payload", "uri", uri, "error", delErr)
				result.PayloadReleaseFailures++
				continue
			}
			result.PayloadsReleased++
		}
	}

	// A sweep that fails partway still deleted something. Keep the counts
	// alongside the error so callers and operators see what was removed.
	deleted, err := s.store.DeleteExpiredMessages(ctx, now)
	result.MessagesDeleted = deleted
	if err != nil {
		return result, wrapStoreError(err)
	}

	deleted, err = s.store.DeleteExpiredMailboxes(ctx, now)
	result.MailboxesDeleted = deleted
	if err != nil {
		return result, wrapStoreError(err)
	}

	if result.MessagesDeleted > 0 || result.MailboxesDeleted > 0 {
		s.logger.Info("cleanup sweep completed",
			"messages_deleted", result.MessagesDeleted,
			"mailboxes_deleted", result.MailboxesDeleted,
			"payloads_released", result.PayloadsReleased)
	}
	return result, nil
}

// Stats reports live mailbox and queued message counts.
func (s *service) Stats(ctx context.Context) (*RelayStats, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	stats, err := s.store.Stats(ctx, s.clock())
	if err != nil {
		return nil, wrapStoreError(err)
	}
	return stats, nil
}
