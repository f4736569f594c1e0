package livefeed

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sae-pos/api/internal/enum"
	"github.com/sae-pos/api/internal/model"
	"github.com/shopspring/decimal"
)

func testOrder(id int64, scope uuid.UUID, tableNo int) model.Order {
	return model.Order{
		ID:           id,
		RestaurantID: scope,
		TableNo:      tableNo,
		Items: []model.OrderLine{
			{Name: "Masala Dosa", Price: decimal.NewFromInt(90), Quantity: 1},
		},
		Total:     decimal.NewFromInt(90),
		CreatedAt: time.Now(),
	}
}

func ids(orders []model.Order) []int64 {
	out := make([]int64, len(orders))
	for i, o := range orders {
		out[i] = o.ID
	}
	return out
}

func TestPushAdmitsOncePerID(t *testing.T) {
	scope := uuid.New()
	notified := 0
	r := New(scope, func(model.Order) { notified++ })

	o := testOrder(1, scope, 3)
	if !r.OnPush(o) {
		t.Fatal("first push should be admitted")
	}
	for i := 0; i < 3; i++ {
		if r.OnPush(o) {
			t.Fatal("duplicate push should be dropped")
		}
	}

	if r.Len() != 1 {
		t.Fatalf("live set length: got %d, want 1", r.Len())
	}
	if notified != 1 {
		t.Errorf("new-order signal: got %d, want exactly 1", notified)
	}
}

func TestPushScopeMismatchDropped(t *testing.T) {
	scope := uuid.New()
	r := New(scope, func(model.Order) {
		t.Fatal("out-of-scope order must not signal")
	})

	if r.OnPush(testOrder(1, uuid.New(), 2)) {
		t.Fatal("order for another restaurant should be dropped")
	}
	if r.Len() != 0 {
		t.Fatalf("live set should stay empty, got %d", r.Len())
	}
}

func TestPollResultAppendsUnknownOnly(t *testing.T) {
	scope := uuid.New()
	notified := 0
	r := New(scope, func(model.Order) { notified++ })

	batch := []model.Order{
		testOrder(1, scope, 1),
		testOrder(2, scope, 2),
	}
	if added := r.OnPollResult(batch); added != 2 {
		t.Fatalf("first poll: got %d added, want 2", added)
	}

	// Same batch again, plus one new order.
	batch = append(batch, testOrder(3, scope, 3))
	if added := r.OnPollResult(batch); added != 1 {
		t.Fatalf("second poll: got %d added, want 1", added)
	}

	got := ids(r.Snapshot())
	want := []int64{1, 2, 3}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("live set order: got %v, want %v", got, want)
		}
	}
	if notified != 3 {
		t.Errorf("new-order signals: got %d, want 3", notified)
	}
}

func TestCrossChannelDedup(t *testing.T) {
	scope := uuid.New()
	r := New(scope, nil)

	// Push wins the race, poll confirms later.
	r.OnPush(testOrder(1, scope, 1))
	if added := r.OnPollResult([]model.Order{testOrder(1, scope, 1)}); added != 0 {
		t.Fatalf("poll after push: got %d added, want 0", added)
	}

	// Poll wins the race, push arrives later.
	r.OnPollResult([]model.Order{testOrder(2, scope, 2)})
	if r.OnPush(testOrder(2, scope, 2)) {
		t.Fatal("push after poll should be dropped")
	}

	if r.Len() != 2 {
		t.Fatalf("live set length: got %d, want 2", r.Len())
	}
}

func TestPollNeverOverwrites(t *testing.T) {
	scope := uuid.New()
	r := New(scope, nil)

	o := testOrder(1, scope, 4)
	r.OnPush(o)

	// Poll reports the same id with different field values; the live set
	// keeps the first-admitted copy.
	changed := testOrder(1, scope, 9)
	changed.Total = decimal.NewFromInt(999)
	r.OnPollResult([]model.Order{changed})

	got, ok := r.Get(1)
	if !ok {
		t.Fatal("order missing from live set")
	}
	if got.TableNo != 4 {
		t.Errorf("tableNo: got %d, want 4 (poll must not overwrite)", got.TableNo)
	}
}

func TestBootstrapReplacesAndSeedsDeduper(t *testing.T) {
	scope := uuid.New()
	notified := 0
	r := New(scope, func(model.Order) { notified++ })

	r.OnPush(testOrder(1, scope, 1))
	r.Bootstrap([]model.Order{
		testOrder(10, scope, 1),
		testOrder(11, scope, 2),
	})

	got := ids(r.Snapshot())
	if len(got) != 2 || got[0] != 10 || got[1] != 11 {
		t.Fatalf("bootstrap live set: got %v, want [10 11]", got)
	}

	// Snapshot ids are seeded into the deduper: a duplicate push for an
	// order already in the snapshot is a no-op, not a duplicate insert.
	if r.OnPush(testOrder(10, scope, 1)) {
		t.Fatal("push for bootstrapped id should be dropped")
	}
	if notified != 1 {
		t.Errorf("bootstrap must not signal new orders, got %d signals", notified)
	}
}

func TestRemoveEvictsButKeepsIdentity(t *testing.T) {
	scope := uuid.New()
	r := New(scope, nil)

	r.OnPush(testOrder(1, scope, 1))
	r.OnPush(testOrder(2, scope, 2))
	r.OnPush(testOrder(3, scope, 3))

	removed, ok := r.Remove(2)
	if !ok || removed.ID != 2 {
		t.Fatalf("remove: got (%v, %v), want order 2", removed.ID, ok)
	}

	got := ids(r.Snapshot())
	if len(got) != 2 || got[0] != 1 || got[1] != 3 {
		t.Fatalf("live set after remove: got %v, want [1 3]", got)
	}

	// A late push for the removed id must not resurrect it.
	if r.OnPush(testOrder(2, scope, 2)) {
		t.Fatal("removed id must not be re-admitted")
	}

	if _, ok := r.Remove(2); ok {
		t.Fatal("second remove should report absence")
	}
}

func TestStageForcedToLive(t *testing.T) {
	scope := uuid.New()
	r := New(scope, nil)

	o := testOrder(1, scope, 1)
	o.Stage = enum.StagePast
	r.OnPush(o)

	got, _ := r.Get(1)
	if got.Stage != enum.StageLive {
		t.Errorf("stage: got %s, want %s", got.Stage, enum.StageLive)
	}
}
