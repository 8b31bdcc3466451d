package mongo

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/rbaliyan/relay/store"
)

// expiredFilter matches records whose expiry has passed.
func expiredFilter(now time.Time) bson.M {
	return bson.M{"expires_at": bson.M{"$lt": now}}
}

// DeleteExpiredMessages removes all messages whose expiry has passed.
//
// Uses deleteMany, which is atomic per document. Multiple instances can
// sweep concurrently - each document is deleted exactly once.
func (s *Store) DeleteExpiredMessages(ctx context.Context, now time.Time) (int64, error) {
	if err := s.checkConnected(); err != nil {
		return 0, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	result, err := s.messages.DeleteMany(ctx, expiredFilter(now))
	if err != nil {
		return 0, fmt.Errorf("delete expired messages: %w", err)
	}
	return result.DeletedCount, nil
}

// DeleteExpiredMailboxes removes all mailboxes whose expiry has passed.
func (s *Store) DeleteExpiredMailboxes(ctx context.Context, now time.Time) (int64, error) {
	if err := s.checkConnected(); err != nil {
		return 0, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	result, err := s.mailboxes.DeleteMany(ctx, expiredFilter(now))
	if err != nil {
		return 0, fmt.Errorf("delete expired mailboxes: %w", err)
	}
	return result.DeletedCount, nil
}

// ListExpiredPayloadURIs returns the external payload locations of expired
// messages so the caller can release the blobs before deleting the documents.
func (s *Store) ListExpiredPayloadURIs(ctx context.Context, now time.Time) ([]string, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	filter := expiredFilter(now)
	filter["payload_uri"] = bson.M{"$exists": true, "$ne": ""}

	cursor, err := s.messages.Find(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("find expired payload uris: %w", err)
	}
	defer cursor.Close(ctx)

	var uris []string
	for cursor.Next(ctx) {
		var doc struct {
			PayloadURI string `bson:"payload_uri"`
		}
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode payload uri: %w", err)
		}
		uris = append(uris, doc.PayloadURI)
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("cursor: %w", err)
	}
	return uris, nil
}

// Stats reports live mailbox and queued message counts.
func (s *Store) Stats(ctx context.Context, now time.Time) (*store.RelayStats, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	live := bson.M{"expires_at": bson.M{"$gt": now}}

	mailboxes, err := s.mailboxes.CountDocuments(ctx, live)
	if err != nil {
		return nil, fmt.Errorf("count mailboxes: %w", err)
	}
	messages, err := s.messages.CountDocuments(ctx, live)
	if err != nil {
		return nil, fmt.Errorf("count messages: %w", err)
	}
	return &store.RelayStats{
		ActiveMailboxes: mailboxes,
		QueuedMessages:  messages,
	}, nil
}
