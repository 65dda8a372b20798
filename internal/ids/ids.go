// Package ids issues ULIDs for auctions, bids and buyer accounts.
package ids

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	mu      sync.Mutex
	entropy = ulid.Monotonic(rand.Reader, 0)
)

// New returns a lexicographically sortable identifier. IDs issued by one
// process sort in issue order, so listings keyed by ID stay stable
// without extra sort columns.
func New() string {
	mu.Lock()
	defer mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}
