package mailsync

import (
	"sync"
	"time"
)

type expectKey struct {
	folderID int64
	uniqueID string
}

type expectation struct {
	placementID int64
	at          time.Time
}

// expectations links replies and forwards produced by rules back to the
// placement they answer. An entry says: the next message stored into
// folderID with uniqueID is the reply to placementID. Entries that are
// never matched expire after ttl.
type expectations struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	entries map[expectKey]expectation
}

func newExpectations(ttl time.Duration, now func() time.Time) *expectations {
	return &expectations{
		ttl:     ttl,
		now:     now,
		entries: make(map[expectKey]expectation),
	}
}

func (x *expectations) add(folderID int64, uniqueID string, placementID int64) {
	x.mu.Lock()
	defer x.mu.Unlock()

	x.sweep()
	x.entries[expectKey{folderID, uniqueID}] = expectation{
		placementID: placementID,
		at:          x.now(),
	}
}

// take removes and returns the expectation for the key, if any.
func (x *expectations) take(folderID int64, uniqueID string) (int64, bool) {
	x.mu.Lock()
	defer x.mu.Unlock()

	x.sweep()
	key := expectKey{folderID, uniqueID}
	exp, ok := x.entries[key]
	if !ok {
		return 0, false
	}
	delete(x.entries, key)
	return exp.placementID, true
}

func (x *expectations) len() int {
	x.mu.Lock()
	defer x.mu.Unlock()
	return len(x.entries)
}

// sweep drops expired entries. Callers hold mu.
func (x *expectations) sweep() {
	cutoff := x.now().Add(-x.ttl)
	for k, exp := range x.entries {
		if exp.at.Before(cutoff) {
			delete(x.entries, k)
		}
	}
}
