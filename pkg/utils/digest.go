package utils

import (
	"encoding/hex"

	"github.com/zeebo/xxh3"
)

// Digest is a content address for raw artifacts. It is not a cryptographic
// hash.
func Digest(data []byte) string {
	sum := xxh3.Hash128(data).Bytes()
	return hex.EncodeToString(sum[:])
}
