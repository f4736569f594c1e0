package livefeed

import (
	"sync"

	"github.com/google/uuid"
	"github.com/sae-pos/api/internal/enum"
	"github.com/sae-pos/api/internal/model"
)

// NotifyFunc is invoked exactly once per admitted order, regardless of
// which channel delivered it first.
type NotifyFunc func(model.Order)

// Reconciler owns the set of live orders for one restaurant. It merges two
// unreliable delivery channels, a push stream and a periodic poll, into a
// single de-duplicated, insertion-ordered collection. Push delivery is
// best-effort; the poll is the correctness backstop, so an order missed
// across a reconnect still appears within one poll interval.
//
// All operations are serialized internally; callers never mutate the live
// collection directly, they submit events to it.
type Reconciler struct {
	mu     sync.Mutex
	scope  uuid.UUID
	dedupe *Deduper
	orders []model.Order
	index  map[int64]int
	notify NotifyFunc
}

// New creates a reconciler scoped to one restaurant. notify may be nil.
func New(scope uuid.UUID, notify NotifyFunc) *Reconciler {
	return &Reconciler{
		scope:  scope,
		dedupe: NewDeduper(),
		index:  make(map[int64]int),
		notify: notify,
	}
}

// Scope returns the restaurant identity this reconciler filters on.
func (r *Reconciler) Scope() uuid.UUID { return r.scope }

// Bootstrap replaces the live set wholesale from an authoritative full
// fetch. It bypasses per-order admission (a full replace is definitionally
// authoritative) but seeds the deduper with every id in the snapshot so
// subsequent duplicate pushes for these orders are dropped. No new-order
// notifications fire.
func (r *Reconciler) Bootstrap(orders []model.Order) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.orders = make([]model.Order, 0, len(orders))
	r.index = make(map[int64]int, len(orders))
	ids := make([]int64, 0, len(orders))
	for _, o := range orders {
		if _, dup := r.index[o.ID]; dup {
			continue
		}
		o.Stage = enum.StageLive
		r.index[o.ID] = len(r.orders)
		r.orders = append(r.orders, o)
		ids = append(ids, o.ID)
	}
	r.dedupe.Reset(ids)
}

// OnPush accepts one event from the push channel. The event is dropped
// with no observable effect when it belongs to a different restaurant or
// when its id has already been admitted through either channel. Returns
// whether the order was added.
func (r *Reconciler) OnPush(o model.Order) bool {
	r.mu.Lock()
	if o.RestaurantID != r.scope {
		r.mu.Unlock()
		return false
	}
	if !r.dedupe.Admit(o.ID) {
		r.mu.Unlock()
		return false
	}
	o.Stage = enum.StageLive
	r.index[o.ID] = len(r.orders)
	r.orders = append(r.orders, o)
	r.mu.Unlock()

	if r.notify != nil {
		r.notify(o)
	}
	return true
}

// OnPollResult merges the result of a periodic fetch of the authoritative
// live query. Unknown ids are admitted and appended in result order;
// already-known orders are ignored rather than updated in place. The poll
// never overwrites: the live set is append-only until a lifecycle
// transition removes an id, which keeps the merge O(n) and avoids a second
// source of truth fighting the push channel over field values. Returns the
// number of newly admitted orders.
func (r *Reconciler) OnPollResult(orders []model.Order) int {
	var added []model.Order

	r.mu.Lock()
	for _, o := range orders {
		if o.RestaurantID != r.scope {
			continue
		}
		if !r.dedupe.Admit(o.ID) {
			continue
		}
		o.Stage = enum.StageLive
		r.index[o.ID] = len(r.orders)
		r.orders = append(r.orders, o)
		added = append(added, o)
	}
	r.mu.Unlock()

	if r.notify != nil {
		for _, o := range added {
			r.notify(o)
		}
	}
	return len(added)
}

// Remove evicts an order from the live set when a lifecycle transition
// takes it out of the Live stage. The id stays in the deduper: once seen,
// permanently seen, for the process lifetime.
func (r *Reconciler) Remove(id int64) (model.Order, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	i, ok := r.index[id]
	if !ok {
		return model.Order{}, false
	}
	removed := r.orders[i]
	r.orders = append(r.orders[:i], r.orders[i+1:]...)
	delete(r.index, id)
	for j := i; j < len(r.orders); j++ {
		r.index[r.orders[j].ID] = j
	}
	return removed, true
}

// Get returns the live order with the given id, if present.
func (r *Reconciler) Get(id int64) (model.Order, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	i, ok := r.index[id]
	if !ok {
		return model.Order{}, false
	}
	return r.orders[i], true
}

// Snapshot returns a copy of the live set in insertion order.
func (r *Reconciler) Snapshot() []model.Order {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.Order, len(r.orders))
	copy(out, r.orders)
	return out
}

// Len returns the number of live orders.
func (r *Reconciler) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.orders)
}
