package util

import (
	"crypto/rand"
	"encoding/hex"
)

// NewID returns a random identifier with a type prefix (usr_, ses_, conv_,
// msg_ and so on) so ids stay recognizable in logs and rows.
func NewID(prefix string) string {
	bytes := make([]byte, 16)
	_, _ = rand.Read(bytes)
	if prefix == "" {
		return hex.EncodeToString(bytes)
	}
	return prefix + "_" + hex.EncodeToString(bytes)
}
