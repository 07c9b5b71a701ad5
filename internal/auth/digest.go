package auth

import (
	"encoding/hex"
	"strings"

	"golang.org/x/crypto/blake2b"
)

// ContactDigest is a stable, non-reversible tag for a contact handle, safe
// to put in logs and audit rows.
func ContactDigest(handle string) string {
	sum := blake2b.Sum256([]byte(strings.TrimSpace(handle)))
	return hex.EncodeToString(sum[:8])
}
