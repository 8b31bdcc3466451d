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

// mailboxDoc is the MongoDB document for a mailbox.
type mailboxDoc struct {
	ID            string    `bson:"_id"`
	PublicKeyHash string    `bson:"public_key_hash"`
	CreatedAt     time.Time `bson:"created_at"`
	ExpiresAt     time.Time `bson:"expires_at"`
}

// userDoc is the MongoDB document for an anonymous user.
type userDoc struct {
	ID            string    `bson:"_id"`
	PublicKeyHash string    `bson:"public_key_hash"`
	CreatedAt     time.Time `bson:"created_at"`
	LastSeen      time.Time `bson:"last_seen"`
}

// CreateMailbox persists a new mailbox record.
func (s *Store) CreateMailbox(ctx context.Context, mb *store.Mailbox) error {
	if err := s.checkConnected(); err != nil {
		return err
	}
	if err := mb.Validate(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	doc := mailboxDoc{
		ID:            mb.ID,
		PublicKeyHash: mb.PublicKeyHash,
		CreatedAt:     mb.CreatedAt,
		ExpiresAt:     mb.ExpiresAt,
	}
	if _, err := s.mailboxes.InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("insert mailbox: %w", err)
	}
	return nil
}

// GetMailbox retrieves a mailbox by id.
func (s *Store) GetMailbox(ctx context.Context, id string, now time.Time) (*store.Mailbox, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	if !store.IsValidID(id) {
		return nil, store.ErrInvalidID
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	var doc mailboxDoc
	err := s.mailboxes.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("find mailbox: %w", err)
	}

	if !store.IsLive(doc.ExpiresAt, now) {
		return nil, store.ErrMailboxExpired
	}
	return &store.Mailbox{
		ID:            doc.ID,
		PublicKeyHash: doc.PublicKeyHash,
		CreatedAt:     doc.CreatedAt,
		ExpiresAt:     doc.ExpiresAt,
	}, nil
}

// TouchUser upserts the anonymous user record for a public key hash.
//
// Uses findOneAndUpdate with upsert so concurrent first contacts for the
// same hash produce exactly one document. The unique index on
// public_key_hash makes the race safe without any locking here.
func (s *Store) TouchUser(ctx context.Context, publicKeyHash string, now time.Time) (*store.AnonymousUser, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	if publicKeyHash == "" {
		return nil, store.ErrEmptyKeyHash
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	filter := bson.M{"public_key_hash": publicKeyHash}
	update := bson.M{
		"$set": bson.M{"last_seen": now},
		"$setOnInsert": bson.M{
			"_id":        store.NewID(),
			"created_at": now,
		},
	}
	opts := mongooptions.FindOneAndUpdate().
		SetUpsert(true).
		SetReturnDocument(mongooptions.After)

	var doc userDoc
	if err := s.users.FindOneAndUpdate(ctx, filter, update, opts).Decode(&doc); err != nil {
		return nil, fmt.Errorf("touch user: %w", err)
	}
	return &store.AnonymousUser{
		ID:            doc.ID,
		PublicKeyHash: doc.PublicKeyHash,
		CreatedAt:     doc.CreatedAt,
		LastSeen:      doc.LastSeen,
	}, nil
}
