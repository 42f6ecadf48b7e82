package sourcectx

import (
	"sync"
	"time"
)

// RecentlyDeleted is the client-role delete/add echo-suppression window from
// spec §4.I: when the client deletes a subject remotely, its external-id is
// recorded here so that an echoed delete event (sent back by the remote
// system) doesn't race a brand-new registration for the same id. Additions
// consult the window and skip re-registration when the subject was just
// removed locally.
//
// Bounded by both TTL and entry count, mirroring statemanager.Manager's
// capacity eviction: whichever bound is hit first wins.
type RecentlyDeleted struct {
	mu       sync.Mutex
	ttl      time.Duration
	maxSize  int
	entries  map[string]time.Time
	order    []string // insertion order, oldest first, for eviction
	nowFn    func() time.Time
}

// NewRecentlyDeleted constructs a window with the given TTL and maximum
// tracked entries. ttl must exceed worst-case round-trip plus server
// processing time for the window to be effective (spec §9 Open Questions).
func NewRecentlyDeleted(ttl time.Duration, maxSize int) *RecentlyDeleted {
	if maxSize <= 0 {
		maxSize = 1000
	}
	return &RecentlyDeleted{
		ttl:     ttl,
		maxSize: maxSize,
		entries: make(map[string]time.Time),
		nowFn:   time.Now,
	}
}

// Mark records externalID as just having been deleted locally.
func (r *RecentlyDeleted) Mark(externalID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.nowFn()
	if _, exists := r.entries[externalID]; !exists {
		r.order = append(r.order, externalID)
	}
	r.entries[externalID] = now

	for len(r.order) > r.maxSize {
		oldest := r.order[0]
		r.order = r.order[1:]
		delete(r.entries, oldest)
	}
}

// WasRecentlyDeleted reports whether externalID was marked within the TTL.
// Expired entries are lazily purged on lookup.
func (r *RecentlyDeleted) WasRecentlyDeleted(externalID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	deletedAt, ok := r.entries[externalID]
	if !ok {
		return false
	}
	if r.nowFn().Sub(deletedAt) > r.ttl {
		delete(r.entries, externalID)
		return false
	}
	return true
}

// Len reports the number of tracked (not-yet-expired-on-lookup) entries.
func (r *RecentlyDeleted) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
