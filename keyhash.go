package relay

import (
	"encoding/hex"

	"golang.org/x/crypto/blake2b"
)

// HashPublicKey derives the public key hash used to register mailboxes
// and track anonymous users. The relay only ever sees this digest;
// clients keep the key itself. Uses BLAKE2b-256 over the raw key bytes.
func HashPublicKey(publicKey []byte) string {
	sum := blake2b.Sum256(publicKey)
	return hex.EncodeToString(sum[:])
}
