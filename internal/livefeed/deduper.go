package livefeed

import "sync"

// Deduper is the identity-keyed admission gate shared by the push and poll
// feeds. An order id is admitted at most once for the lifetime of the
// owning reconciler; there is no eviction, because the store guarantees ids
// are never reissued. Admit may be called from the push handler and the
// poll handler concurrently.
type Deduper struct {
	mu   sync.Mutex
	seen map[int64]struct{}
}

// NewDeduper creates an empty admission gate.
func NewDeduper() *Deduper {
	return &Deduper{seen: make(map[int64]struct{})}
}

// Admit records id and returns true the first time it is seen. Every
// subsequent call with the same id returns false.
func (d *Deduper) Admit(id int64) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.seen[id]; ok {
		return false
	}
	d.seen[id] = struct{}{}
	return true
}

// Seen reports whether id has already been admitted.
func (d *Deduper) Seen(id int64) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.seen[id]
	return ok
}

// Reset discards all tracked ids and seeds the gate with ids. Only a full
// bootstrap is allowed to reset identity tracking; push-channel reconnects
// must not call this.
func (d *Deduper) Reset(ids []int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.seen = make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		d.seen[id] = struct{}{}
	}
}
