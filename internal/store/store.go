// Package store is the order persistence collaborator. The engine treats
// it as the source of truth: the in-memory view collections are updated
// only after a store call succeeds.
package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/sae-pos/api/internal/model"
)

// Errors returned by the order store.
var (
	ErrNotFound      = errors.New("order not found")
	ErrStageConflict = errors.New("order is not in the expected stage")
	ErrNoBreakdown   = errors.New("no receipt recorded for table")
)

// PartialCompletionError reports a table-wide completion where some orders
// transitioned and others did not. Failures are carried per order id so
// staff can reconcile by table rather than by guesswork.
type PartialCompletionError struct {
	TableNo   int
	Completed []int64
	Failed    map[int64]error
}

func (e *PartialCompletionError) Error() string {
	return fmt.Sprintf("table %d: completed %d orders, %d failed",
		e.TableNo, len(e.Completed), len(e.Failed))
}

// FailedIDs returns the ids that did not transition, in ascending order.
func (e *PartialCompletionError) FailedIDs() []int64 {
	ids := make([]int64, 0, len(e.Failed))
	for id := range e.Failed {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// OrderStore is the persistence contract consumed by the live feed, the
// lifecycle manager, and the handlers. Satisfied by *Postgres.
type OrderStore interface {
	// Create persists a new intake order in the Live stage and assigns
	// its id.
	Create(ctx context.Context, o model.Order) (model.Order, error)

	FetchLive(ctx context.Context, scope uuid.UUID) ([]model.Order, error)
	FetchRecurring(ctx context.Context, scope uuid.UUID) ([]model.Order, error)
	FetchPast(ctx context.Context, scope uuid.UUID) ([]model.Order, error)

	// FetchPastByDate restricts past orders to one calendar day.
	FetchPastByDate(ctx context.Context, scope uuid.UUID, day time.Time) ([]model.Order, error)

	// Transition moves one order from stage `from` to stage `to`. Returns
	// ErrStageConflict when the order has already left `from`, ErrNotFound
	// when it does not exist in scope.
	Transition(ctx context.Context, scope uuid.UUID, id int64, from, to string) (model.Order, error)

	// CompleteTable moves every Recurring order of the table to Past in
	// one logical operation, attaching the breakdown to each. When only
	// some orders transition, the returned error is a
	// *PartialCompletionError and the result holds the orders that did.
	CompleteTable(ctx context.Context, scope uuid.UUID, tableNo int, b model.ReceiptBreakdown) ([]model.Order, error)

	Delete(ctx context.Context, scope uuid.UUID, id int64) error

	// FetchHistoricalBreakdown returns the most recently persisted
	// breakdown for the table, for reprint. ErrNoBreakdown when the table
	// has never been billed.
	FetchHistoricalBreakdown(ctx context.Context, scope uuid.UUID, tableNo int) (model.ReceiptBreakdown, error)
}
