package client

import (
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// IDGenerator returns a fresh message id on every call.
type IDGenerator func() string

// NewULIDGenerator returns a generator of monotonic ULIDs (26 characters), safe for
// concurrent use.
func NewULIDGenerator() IDGenerator {
	var mu sync.Mutex
	entropy := ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0)
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		id, err := ulid.New(ulid.Timestamp(time.Now()), entropy)
		if err != nil {
			return ulid.Make().String()
		}
		return id.String()
	}
}
