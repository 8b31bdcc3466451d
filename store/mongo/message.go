package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	mongooptions "go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/rbaliyan/relay/store"
)

// messageDoc is the MongoDB document for an encrypted message.
type messageDoc struct {
	ID               string    `bson:"_id"`
	RecipientMailbox string    `bson:"recipient_mailbox"`
	Payload          []byte    `bson:"payload,omitempty"`
	PayloadURI       string    `bson:"payload_uri,omitempty"`
	CreatedAt        time.Time `bson:"created_at"`
	ExpiresAt        time.Time `bson:"expires_at"`
}

func docToMessage(doc *messageDoc) store.EncryptedMessage {
	return store.EncryptedMessage{
		ID:               doc.ID,
		RecipientMailbox: doc.RecipientMailbox,
		Payload:          doc.Payload,
		PayloadURI:       doc.PayloadURI,
		CreatedAt:        doc.CreatedAt,
		ExpiresAt:        doc.ExpiresAt,
	}
}

// SaveMessage appends a message to its mailbox queue.
func (s *Store) SaveMessage(ctx context.Context, msg *store.EncryptedMessage) error {
	if err := s.checkConnected(); err != nil {
		return err
	}
	if err := msg.Validate(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	doc := messageDoc{
		ID:               msg.ID,
		RecipientMailbox: msg.RecipientMailbox,
		Payload:          msg.Payload,
		PayloadURI:       msg.PayloadURI,
		CreatedAt:        msg.CreatedAt,
		ExpiresAt:        msg.ExpiresAt,
	}
	if _, err := s.messages.InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

// liveFilter matches the live messages of a mailbox.
func liveFilter(mailboxID string, now time.Time) bson.M {
	return bson.M{
		"recipient_mailbox": mailboxID,
		"expires_at":        bson.M{"$gt": now},
	}
}

// deliveryOrder sorts oldest first, ties broken by id.
var deliveryOrder = bson.D{
	bson.E{Key: "created_at", Value: 1},
	bson.E{Key: "_id", Value: 1},
}

// ListMessages returns the live messages for a mailbox without removing them.
func (s *Store) ListMessages(ctx context.Context, mailboxID string, now time.Time) ([]store.EncryptedMessage, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	if !store.IsValidID(mailboxID) {
		return nil, store.ErrInvalidID
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	findOpts := mongooptions.Find().SetSort(deliveryOrder)
	cursor, err := s.messages.Find(ctx, liveFilter(mailboxID, now), findOpts)
	if err != nil {
		return nil, fmt.Errorf("find messages: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []messageDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode messages: %w", err)
	}

	msgs := make([]store.EncryptedMessage, len(docs))
	for i := range docs {
		msgs[i] = docToMessage(&docs[i])
	}
	return msgs, nil
}

// DrainMessages atomically removes and returns the live messages for a
// mailbox. Each document is claimed with findOneAndDelete, which MongoDB
// executes atomically per document, so concurrent drains partition the
// queue - no message is delivered twice.
func (s *Store) DrainMessages(ctx context.Context, mailboxID string, now time.Time) ([]store.EncryptedMessage, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	if !store.IsValidID(mailboxID) {
		return nil, store.ErrInvalidID
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	claimOpts := mongooptions.FindOneAndDelete().SetSort(deliveryOrder)
	filter := liveFilter(mailboxID, now)

	var msgs []store.EncryptedMessage
	for {
		var doc messageDoc
		err := s.messages.FindOneAndDelete(ctx, filter, claimOpts).Decode(&doc)
		if err != nil {
			if errors.Is(err, mongo.ErrNoDocuments) {
				break
			}
			return msgs, fmt.Errorf("drain message: %w", err)
		}
		msgs = append(msgs, docToMessage(&doc))
	}

	// Claims interleaved with a concurrent drain can arrive out of order.
	store.SortMessages(msgs)
	return msgs, nil
}
