// Package xid mints prefixed identifiers for ledger rows, sales, shifts,
// and readings. The prefix keeps IDs self-describing in logs and audits.
package xid

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

// New returns an ID of the form {prefix}-{unixnano}-{random hex}. The
// timestamp keeps IDs roughly sortable by creation; the random tail makes
// collisions within the same nanosecond a non-issue.
func New(prefix string) string {
	tail := make([]byte, 8)
	if _, err := rand.Read(tail); err != nil {
		// Out of entropy is not worth failing a posting over.
		return fmt.Sprintf("%s-%d", prefix, time.Now().UnixNano())
	}
	return fmt.Sprintf("%s-%d-%s", prefix, time.Now().UnixNano(), hex.EncodeToString(tail))
}
