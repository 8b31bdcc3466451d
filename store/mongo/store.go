// Package mongo provides a MongoDB implementation of store.Store.
package mongo

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	mongooptions "go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/rbaliyan/relay/store"
)

// Store implements store.Store using MongoDB. Mailboxes, messages, and
// users live in separate collections keyed by their string ids, so the
// documents map one-to-one onto the store record types.
type Store struct {
	client    *mongo.Client
	db        *mongo.Database
	mailboxes *mongo.Collection
	messages  *mongo.Collection
	users     *mongo.Collection
	opts      *options
	connected int32
	logger    *slog.Logger
}

// New creates a new MongoDB store with the provided client.
// Call Connect() to initialize the collections and indexes.
func New(client *mongo.Client, opts ...Option) *Store {
	o := newOptions(opts...)
	return &Store{
		client: client,
		opts:   o,
		logger: o.logger,
	}
}

// Connect initializes the database, collections, and indexes.
func (s *Store) Connect(ctx context.Context) error {
	if atomic.LoadInt32(&s.connected) == 1 {
		return store.ErrAlreadyConnected
	}

	if s.client == nil {
		return fmt.Errorf("mongo: client is required")
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	if err := s.client.Ping(ctx, nil); err != nil {
		return fmt.Errorf("mongo ping: %w", err)
	}

	s.db = s.client.Database(s.opts.database)
	s.mailboxes = s.db.Collection(s.opts.mailboxCollection)
	s.messages = s.db.Collection(s.opts.messageCollection)
	s.users = s.db.Collection(s.opts.userCollection)

	if err := s.ensureIndexes(ctx); err != nil {
		return fmt.Errorf("ensure indexes: %w", err)
	}

	atomic.StoreInt32(&s.connected, 1)
	s.logger.Info("connected to MongoDB", "database", s.opts.database)
	return nil
}

// Close marks the store as disconnected.
// The caller is responsible for closing the MongoDB client.
func (s *Store) Close(ctx context.Context) error {
	if atomic.LoadInt32(&s.connected) == 0 {
		return nil
	}
	atomic.StoreInt32(&s.connected, 0)
	return nil
}

func (s *Store) checkConnected() error {
	if atomic.LoadInt32(&s.connected) == 0 {
		return store.ErrNotConnected
	}
	return nil
}

// ensureIndexes creates required indexes.
func (s *Store) ensureIndexes(ctx context.Context) error {
	mailboxIndexes := []mongo.IndexModel{
		{Keys: bson.D{bson.E{Key: "public_key_hash", Value: 1}}},
		{Keys: bson.D{bson.E{Key: "expires_at", Value: 1}}},
	}
	if _, err := s.mailboxes.Indexes().CreateMany(ctx, mailboxIndexes); err != nil {
		return fmt.Errorf("mailbox indexes: %w", err)
	}

	messageIndexes := []mongo.IndexModel{
		{Keys: bson.D{bson.E{Key: "expires_at", Value: 1}}},
		// Drain and list both filter on recipient and expiry, then sort
		// by (created_at, _id).
		{Keys: bson.D{
			bson.E{Key: "recipient_mailbox", Value: 1},
			bson.E{Key: "expires_at", Value: 1},
			bson.E{Key: "created_at", Value: 1},
			bson.E{Key: "_id", Value: 1},
		}},
	}
	if _, err := s.messages.Indexes().CreateMany(ctx, messageIndexes); err != nil {
		return fmt.Errorf("message indexes: %w", err)
	}

	userIndexes := []mongo.IndexModel{
		{
			Keys:    bson.D{bson.E{Key: "public_key_hash", Value: 1}},
			Options: mongooptions.Index().SetUnique(true),
		},
	}
	if _, err := s.users.Indexes().CreateMany(ctx, userIndexes); err != nil {
		return fmt.Errorf("user indexes: %w", err)
	}
	return nil
}

// Compile-time check
var _ store.Store = (*Store)(nil)
