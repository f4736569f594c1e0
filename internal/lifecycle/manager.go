// Package lifecycle drives orders through the Live → Recurring → Past
// state machine. Every transition is a remote call to the order store;
// the in-memory collections move an order only after that call succeeds,
// so each order is a member of exactly one stage at any instant.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/sae-pos/api/internal/enum"
	"github.com/sae-pos/api/internal/livefeed"
	"github.com/sae-pos/api/internal/model"
	"github.com/sae-pos/api/internal/receipt"
	"github.com/sae-pos/api/internal/store"
)

// Errors returned by the lifecycle manager.
var (
	ErrUnknownOrder        = errors.New("order not in expected stage collection")
	ErrTransitionInFlight  = errors.New("a transition for this order is already in progress")
	ErrNoOrdersForTable    = errors.New("no recurring orders for table")
	ErrKitchenPrintFailed  = errors.New("kitchen receipt could not be printed")
	ErrCustomerPrintFailed = errors.New("customer receipt could not be printed")
)

// Store is the subset of the order store the manager needs.
type Store interface {
	FetchLive(ctx context.Context, scope uuid.UUID) ([]model.Order, error)
	FetchRecurring(ctx context.Context, scope uuid.UUID) ([]model.Order, error)
	FetchPast(ctx context.Context, scope uuid.UUID) ([]model.Order, error)
	Transition(ctx context.Context, scope uuid.UUID, id int64, from, to string) (model.Order, error)
	CompleteTable(ctx context.Context, scope uuid.UUID, tableNo int, b model.ReceiptBreakdown) ([]model.Order, error)
	Delete(ctx context.Context, scope uuid.UUID, id int64) error
	FetchHistoricalBreakdown(ctx context.Context, scope uuid.UUID, tableNo int) (model.ReceiptBreakdown, error)
}

// Printer produces the kitchen and customer documents. Synchronous from
// the manager's perspective: fire, then proceed.
type Printer interface {
	KitchenTicket(o model.Order) error
	CustomerReceipt(b model.ReceiptBreakdown) error
}

// Manager owns the Recurring and Past collections and coordinates the
// live reconciler for the Live stage.
type Manager struct {
	scope   uuid.UUID
	store   Store
	printer Printer
	live    *livefeed.Reconciler

	mu        sync.Mutex
	recurring []model.Order
	past      []model.Order
	inflight  map[int64]struct{}
}

// New creates a manager for one restaurant's view session.
func New(scope uuid.UUID, st Store, pr Printer, live *livefeed.Reconciler) *Manager {
	return &Manager{
		scope:    scope,
		store:    st,
		printer:  pr,
		live:     live,
		inflight: make(map[int64]struct{}),
	}
}

// Bootstrap loads all three stage collections from authoritative fetches.
func (m *Manager) Bootstrap(ctx context.Context) error {
	liveOrders, err := m.store.FetchLive(ctx, m.scope)
	if err != nil {
		return fmt.Errorf("fetch live: %w", err)
	}
	recurring, err := m.store.FetchRecurring(ctx, m.scope)
	if err != nil {
		return fmt.Errorf("fetch recurring: %w", err)
	}
	past, err := m.store.FetchPast(ctx, m.scope)
	if err != nil {
		return fmt.Errorf("fetch past: %w", err)
	}

	m.live.Bootstrap(liveOrders)
	m.mu.Lock()
	m.recurring = recurring
	m.past = past
	m.mu.Unlock()
	return nil
}

// Live returns the current live set.
func (m *Manager) Live() []model.Order { return m.live.Snapshot() }

// Recurring returns a copy of the recurring collection.
func (m *Manager) Recurring() []model.Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.Order, len(m.recurring))
	copy(out, m.recurring)
	return out
}

// Past returns a copy of the past collection.
func (m *Manager) Past() []model.Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.Order, len(m.past))
	copy(out, m.past)
	return out
}

// Accept moves a live order to Recurring when staff takes it on. The
// kitchen copy is printed before the transition is attempted: a transition
// that succeeded without the kitchen copy would be a silent food-service
// failure. If the store call fails the order stays Live and the error is
// surfaced; there is no automatic retry.
func (m *Manager) Accept(ctx context.Context, id int64) (model.Order, error) {
	if err := m.begin(id); err != nil {
		return model.Order{}, err
	}
	defer m.end(id)

	order, ok := m.live.Get(id)
	if !ok {
		return model.Order{}, ErrUnknownOrder
	}

	if err := m.printer.KitchenTicket(order); err != nil {
		return model.Order{}, fmt.Errorf("%w: %w", ErrKitchenPrintFailed, err)
	}

	updated, err := m.store.Transition(ctx, m.scope, id, enum.StageLive, enum.StageRecurring)
	if err != nil {
		if errors.Is(err, store.ErrStageConflict) {
			m.resyncAfterConflict(ctx)
		}
		return model.Order{}, err
	}

	m.live.Remove(id)
	m.mu.Lock()
	m.recurring = append(m.recurring, updated)
	m.mu.Unlock()
	return updated, nil
}

// CompleteTable bills every recurring order of one table: computes the
// breakdown, prints the customer receipt, then issues the aggregate store
// call. On a partial outcome only the completed orders move to Past and
// the *store.PartialCompletionError is returned alongside the breakdown so
// staff can reconcile the remainder by table.
func (m *Manager) CompleteTable(ctx context.Context, tableNo int, p receipt.Params) (model.ReceiptBreakdown, []model.Order, error) {
	if err := p.Validate(); err != nil {
		return model.ReceiptBreakdown{}, nil, err
	}

	m.mu.Lock()
	var tableOrders []model.Order
	for _, o := range m.recurring {
		if o.TableNo == tableNo {
			tableOrders = append(tableOrders, o)
		}
	}
	m.mu.Unlock()

	if len(tableOrders) == 0 {
		return model.ReceiptBreakdown{}, nil, ErrNoOrdersForTable
	}
	claimed := make([]int64, 0, len(tableOrders))
	defer func() {
		for _, id := range claimed {
			m.end(id)
		}
	}()
	for _, o := range tableOrders {
		if err := m.begin(o.ID); err != nil {
			return model.ReceiptBreakdown{}, nil, err
		}
		claimed = append(claimed, o.ID)
	}

	breakdown, err := receipt.Compute(tableNo, tableOrders, p)
	if err != nil {
		return model.ReceiptBreakdown{}, nil, err
	}

	if err := m.printer.CustomerReceipt(breakdown); err != nil {
		return model.ReceiptBreakdown{}, nil, fmt.Errorf("%w: %w", ErrCustomerPrintFailed, err)
	}

	completed, err := m.store.CompleteTable(ctx, m.scope, tableNo, breakdown)
	if err != nil {
		var partial *store.PartialCompletionError
		if !errors.As(err, &partial) {
			return model.ReceiptBreakdown{}, nil, err
		}
		// Some orders made it to Past; move exactly those locally and
		// surface the per-order failures.
		m.moveRecurringToPast(completed)
		return breakdown, completed, err
	}

	m.moveRecurringToPast(completed)
	return breakdown, completed, nil
}

// MoveToRecurring is the explicit undo for a mis-closed table: one past
// order back onto the open tab. Callers are expected to have confirmed
// the action with the user, since it alters historical reporting.
func (m *Manager) MoveToRecurring(ctx context.Context, id int64) (model.Order, error) {
	if err := m.begin(id); err != nil {
		return model.Order{}, err
	}
	defer m.end(id)

	m.mu.Lock()
	found := false
	for _, o := range m.past {
		if o.ID == id {
			found = true
			break
		}
	}
	m.mu.Unlock()
	if !found {
		return model.Order{}, ErrUnknownOrder
	}

	updated, err := m.store.Transition(ctx, m.scope, id, enum.StagePast, enum.StageRecurring)
	if err != nil {
		if errors.Is(err, store.ErrStageConflict) {
			m.resyncAfterConflict(ctx)
		}
		return model.Order{}, err
	}

	m.mu.Lock()
	m.past = removeByID(m.past, id)
	m.recurring = append(m.recurring, updated)
	m.mu.Unlock()
	return updated, nil
}

// Delete terminally removes an order from whichever collection holds it.
func (m *Manager) Delete(ctx context.Context, id int64) error {
	if err := m.begin(id); err != nil {
		return err
	}
	defer m.end(id)

	if err := m.store.Delete(ctx, m.scope, id); err != nil {
		return err
	}

	if _, ok := m.live.Remove(id); ok {
		return nil
	}
	m.mu.Lock()
	m.recurring = removeByID(m.recurring, id)
	m.past = removeByID(m.past, id)
	m.mu.Unlock()
	return nil
}

// Reprint reconstructs a historical receipt from the persisted breakdown.
// It does not re-run the computation; the stored scalars are rendered as
// they were persisted.
func (m *Manager) Reprint(ctx context.Context, tableNo int) (model.ReceiptBreakdown, error) {
	b, err := m.store.FetchHistoricalBreakdown(ctx, m.scope, tableNo)
	if err != nil {
		return model.ReceiptBreakdown{}, err
	}
	if err := m.printer.CustomerReceipt(b); err != nil {
		return model.ReceiptBreakdown{}, fmt.Errorf("%w: %w", ErrCustomerPrintFailed, err)
	}
	return b, nil
}

// Resync reloads the recurring and past collections from the store. Used
// after a remote conflict: local state is re-fetched, never guessed.
func (m *Manager) Resync(ctx context.Context) error {
	recurring, err := m.store.FetchRecurring(ctx, m.scope)
	if err != nil {
		return fmt.Errorf("resync recurring: %w", err)
	}
	past, err := m.store.FetchPast(ctx, m.scope)
	if err != nil {
		return fmt.Errorf("resync past: %w", err)
	}
	m.mu.Lock()
	m.recurring = recurring
	m.past = past
	m.mu.Unlock()
	return nil
}

func (m *Manager) resyncAfterConflict(ctx context.Context) {
	// Best effort; the caller already has a conflict error to surface.
	_ = m.Resync(ctx)
}

// begin claims the in-flight slot for an order id, rejecting concurrent
// duplicate transitions (e.g. a double-clicked accept).
func (m *Manager) begin(id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, busy := m.inflight[id]; busy {
		return ErrTransitionInFlight
	}
	m.inflight[id] = struct{}{}
	return nil
}

func (m *Manager) end(id int64) {
	m.mu.Lock()
	delete(m.inflight, id)
	m.mu.Unlock()
}

func (m *Manager) moveRecurringToPast(completed []model.Order) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range completed {
		m.recurring = removeByID(m.recurring, o.ID)
		m.past = append([]model.Order{o}, m.past...)
	}
}

func removeByID(orders []model.Order, id int64) []model.Order {
	for i, o := range orders {
		if o.ID == id {
			return append(orders[:i], orders[i+1:]...)
		}
	}
	return orders
}
