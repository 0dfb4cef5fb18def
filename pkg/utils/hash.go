package utils

import (
	"crypto/sha256"
	"encoding/hex"
)

// HashBytes returns the hex sha256 of input. Used to key the score cache
// by feature vector.
func HashBytes(input []byte) string {
	sum := sha256.Sum256(input)
	return hex.EncodeToString(sum[:])
}
