package util

import (
	"crypto/rand"
	"encoding/hex"
)

// NewID returns a random identifier tagged with an entity prefix, for
// example "proj_9f2c..." or "task_04ab...". An empty prefix yields the
// bare hex string.
func NewID(prefix string) string {
	raw := make([]byte, 16)
	_, _ = rand.Read(raw)
	id := hex.EncodeToString(raw)
	if prefix == "" {
		return id
	}
	return prefix + "_" + id
}
