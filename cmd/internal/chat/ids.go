package chat

import (
	"crypto/rand"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
)

// OptimisticIDPrefix marks locally synthesized ids so they can never
// collide with server-issued ones.
const OptimisticIDPrefix = "optimistic-"

// NewOptimisticID returns a fresh locally-unique id for an optimistic
// message. ULIDs are lexicographically sortable, which keeps debug output
// readable, but nothing in the engine depends on that.
func NewOptimisticID(now time.Time) string {
	if now.IsZero() {
		now = time.Now().UTC()
	}

	id, err := ulid.New(ulid.Timestamp(now), rand.Reader)
	if err != nil {
		// crypto/rand only fails when the OS entropy source is broken;
		// fall back to a timestamp-only id rather than propagating.
		return fmt.Sprintf("%s%d", OptimisticIDPrefix, now.UnixNano())
	}
	return OptimisticIDPrefix + id.String()
}
