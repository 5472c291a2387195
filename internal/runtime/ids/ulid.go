package ids

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// CreateULID returns a time-sortable ULID encoded as a 26-character string.
func CreateULID() string {
	return newULID(time.Now()).String()
}

// NewEventID returns the identifier assigned to a processing context.
func NewEventID() string {
	return CreateULID()
}

// NewCorrelationID returns a fresh correlation identifier for messages that
// arrive without one.
func NewCorrelationID() string {
	return CreateULID()
}

// NewTransactionID returns an identifier for a transaction context.
func NewTransactionID() string {
	return "tx-" + CreateULID()
}

// Time extracts the creation time encoded in an id produced by this package.
func Time(id string) (time.Time, bool) {
	parsed, err := ulid.ParseStrict(id)
	if err != nil {
		return time.Time{}, false
	}
	return ulid.Time(parsed.Time()), true
}

func newULID(t time.Time) ulid.ULID {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(t), entropy)
}
