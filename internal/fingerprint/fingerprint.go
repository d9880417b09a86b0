// Package fingerprint derives the content hash used both as the processing
// cache key and as the storage uniqueness constraint. Identical bytes always
// map to the same fingerprint, regardless of filename or upload metadata.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
)

// Sum returns the lowercase hex SHA-256 digest of data.
func Sum(data []byte) string {
	digest := sha256.Sum256(data)
	return hex.EncodeToString(digest[:])
}
