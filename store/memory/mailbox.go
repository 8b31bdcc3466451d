package memory

import (
	"context"
	"time"

	"github.com/rbaliyan/relay/store"
)

// CreateMailbox persists a new mailbox record.
func (s *Store) CreateMailbox(_ context.Context, mb *store.Mailbox) error {
	if err := s.checkConnected(); err != nil {
		return err
	}
	if err := mb.Validate(); err != nil {
		return err
	}

	rec := *mb
	s.mailboxes.Store(rec.ID, &rec)
	return nil
}

// GetMailbox retrieves a mailbox by id.
func (s *Store) GetMailbox(_ context.Context, id string, now time.Time) (*store.Mailbox, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	if !store.IsValidID(id) {
		return nil, store.ErrInvalidID
	}

	v, ok := s.mailboxes.Load(id)
	if !ok {
		return nil, store.ErrNotFound
	}
	mb := v.(*store.Mailbox)
	if !store.IsLive(mb.ExpiresAt, now) {
		// Dead for reads even before the sweep removes it.
		return nil, store.ErrMailboxExpired
	}

	rec := *mb
	return &rec, nil
}

// TouchUser upserts the anonymous user record for a public key hash.
func (s *Store) TouchUser(_ context.Context, publicKeyHash string, now time.Time) (*store.AnonymousUser, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	if publicKeyHash == "" {
		return nil, store.ErrEmptyKeyHash
	}

	s.userMu.Lock()
	defer s.userMu.Unlock()

	u, ok := s.users[publicKeyHash]
	if !ok {
		u = &store.AnonymousUser{
			ID:            store.NewID(),
			PublicKeyHash: publicKeyHash,
			CreatedAt:     now,
			LastSeen:      now,
		}
		s.users[publicKeyHash] = u
	} else {
		u.LastSeen = now
	}

	rec := *u
	return &rec, nil
}
