// Package relay provides an anonymous, encrypted message relay for Go.
//
// Senders push opaque encrypted payloads into short-lived mailboxes
// identified by rotating random identifiers; recipients drain them at
// their leisure. The relay never sees plaintext, never links mailboxes
// to each other, and forgets everything on expiry. All functionality
// is exposed via interfaces, with pluggable storage backends
// (PostgreSQL, MongoDB, Redis, in-memory).
//
// # Basic Usage
//
//	// Create in-memory store for testing
//	store := memory.New()
//
//	// Create relay service
//	svc, err := relay.NewService(
//	    relay.WithStore(store),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	// Connect initializes indexes/schema
//	if err := svc.Connect(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer svc.Close(ctx)
//
//	// Recipient registers a mailbox under a key hash
//	mb, err := svc.CreateMailbox(ctx, relay.HashPublicKey(pubKey))
//
//	// Sender queues ciphertext for the mailbox id
//	_, err = svc.SendMessage(ctx, mb.ID, ciphertext)
//
//	// Recipient drains the mailbox; messages are delivered at most once
//	msgs, err := svc.ReceiveMessages(ctx, mb.ID)
//
// # Identity Rotation
//
// A mailbox is a delivery point, not an identity. Clients call
// CreateMailbox whenever they want a fresh identifier; old mailboxes
// keep working until their TTL lapses, so correspondents can migrate
// at their own pace. Nothing in storage ties two mailbox ids to the
// same owner except the key hash, which is never exposed to senders.
//
// # Expiry
//
// Mailboxes and messages carry absolute expiry timestamps. Reads
// filter dead records immediately; Cleanup sweeps them out of storage
// and releases any externally stored payload blobs. Run Cleanup
// periodically from your application's scheduler.
//
// # Large Payloads
//
// Payloads above the inline threshold are offloaded to a payload store
// (S3, GCS, or a caching wrapper); the queue keeps only an opaque URI.
// ReceiveMessages loads blobs back transparently.
//
// # Events
//
// The service publishes MailboxCreated, MessageQueued, and
// MailboxDrained events on a per-service event bus. The default
// transport is in-process; configure Redis for cross-process fan-out.
package relay
