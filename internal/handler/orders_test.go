package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/sae-pos/api/internal/enum"
	"github.com/sae-pos/api/internal/model"
	"github.com/sae-pos/api/internal/session"
	"github.com/sae-pos/api/internal/store"
	"github.com/sae-pos/api/internal/stream"
	"github.com/sae-pos/api/internal/ws"
	"github.com/shopspring/decimal"
)

// fakeOrderStore is an in-memory lifecycle.Store with overridable behavior.
type fakeOrderStore struct {
	mu     sync.Mutex
	orders map[int64]model.Order

	transitionErr error
	completeErr   error
}

func newFakeOrderStore(orders ...model.Order) *fakeOrderStore {
	s := &fakeOrderStore{orders: make(map[int64]model.Order)}
	for _, o := range orders {
		s.orders[o.ID] = o
	}
	return s
}

func (s *fakeOrderStore) fetchByStage(stage string) []model.Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Order
	for _, o := range s.orders {
		if o.Stage == stage {
			out = append(out, o)
		}
	}
	return out
}

func (s *fakeOrderStore) FetchLive(ctx context.Context, scope uuid.UUID) ([]model.Order, error) {
	return s.fetchByStage(enum.StageLive), nil
}

func (s *fakeOrderStore) FetchRecurring(ctx context.Context, scope uuid.UUID) ([]model.Order, error) {
	return s.fetchByStage(enum.StageRecurring), nil
}

func (s *fakeOrderStore) FetchPast(ctx context.Context, scope uuid.UUID) ([]model.Order, error) {
	return s.fetchByStage(enum.StagePast), nil
}

func (s *fakeOrderStore) FetchPastByDate(ctx context.Context, scope uuid.UUID, day time.Time) ([]model.Order, error) {
	return s.fetchByStage(enum.StagePast), nil
}

func (s *fakeOrderStore) Transition(ctx context.Context, scope uuid.UUID, id int64, from, to string) (model.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.transitionErr != nil {
		return model.Order{}, s.transitionErr
	}
	o, ok := s.orders[id]
	if !ok {
		return model.Order{}, store.ErrNotFound
	}
	if o.Stage != from {
		return model.Order{}, store.ErrStageConflict
	}
	o.Stage = to
	s.orders[id] = o
	return o, nil
}

func (s *fakeOrderStore) CompleteTable(ctx context.Context, scope uuid.UUID, tableNo int, b model.ReceiptBreakdown) ([]model.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.completeErr != nil {
		return nil, s.completeErr
	}
	var completed []model.Order
	for id, o := range s.orders {
		if o.Stage == enum.StageRecurring && o.TableNo == tableNo {
			o.Stage = enum.StagePast
			o.ReceiptDetails = &b
			s.orders[id] = o
			completed = append(completed, o)
		}
	}
	return completed, nil
}

func (s *fakeOrderStore) Delete(ctx context.Context, scope uuid.UUID, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.orders[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.orders, id)
	return nil
}

func (s *fakeOrderStore) FetchHistoricalBreakdown(ctx context.Context, scope uuid.UUID, tableNo int) (model.ReceiptBreakdown, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, o := range s.orders {
		if o.Stage == enum.StagePast && o.TableNo == tableNo && o.ReceiptDetails != nil {
			return *o.ReceiptDetails, nil
		}
	}
	return model.ReceiptBreakdown{}, store.ErrNoBreakdown
}

type nopPrinter struct{}

func (nopPrinter) KitchenTicket(o model.Order) error { return nil }

func (nopPrinter) CustomerReceipt(b model.ReceiptBreakdown) error { return nil }

// fakeSessions hands out one pre-opened session regardless of scope.
type fakeSessions struct {
	s *session.Session
}

func (f *fakeSessions) Get(ctx context.Context, scope uuid.UUID) (*session.Session, error) {
	return f.s, nil
}

type recordingHub struct {
	mu     sync.Mutex
	events []ws.Event
}

func (h *recordingHub) BroadcastToRestaurant(restaurantID uuid.UUID, event ws.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, event)
}

func (h *recordingHub) types() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []string
	for _, e := range h.events {
		out = append(out, e.Type)
	}
	return out
}

func stageOrder(id int64, scope uuid.UUID, tableNo int, stage string) model.Order {
	return model.Order{
		ID:           id,
		RestaurantID: scope,
		TableNo:      tableNo,
		Stage:        stage,
		Total:        decimal.NewFromInt(125),
		Items: []model.OrderLine{
			{Name: "Paneer Tikka", Price: decimal.NewFromInt(125), Quantity: 1, Portion: enum.PortionFull},
		},
	}
}

func newTestServer(t *testing.T, scope uuid.UUID, st *fakeOrderStore) (*chi.Mux, *recordingHub) {
	t.Helper()

	bus := stream.NewBus()
	sess, err := session.Open(context.Background(), session.Config{
		Scope:        scope,
		Store:        st,
		Printer:      nopPrinter{},
		Bus:          bus,
		PollInterval: time.Hour,
	})
	if err != nil {
		t.Fatalf("open session: %v", err)
	}
	t.Cleanup(sess.Close)

	hub := &recordingHub{}
	h := NewOrderHandler(&fakeSessions{s: sess}, st, hub)

	r := chi.NewRouter()
	r.Route("/restaurants/{rid}", h.RegisterRoutes)
	return r, hub
}

func doRequest(t *testing.T, r http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	return rr
}

func TestListLive(t *testing.T) {
	scope := uuid.New()
	st := newFakeOrderStore(stageOrder(1, scope, 2, enum.StageLive))
	r, _ := newTestServer(t, scope, st)

	rr := doRequest(t, r, "GET", "/restaurants/"+scope.String()+"/orders/live", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, want %d", rr.Code, http.StatusOK)
	}

	var resp struct {
		Orders []model.Order `json:"orders"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Orders) != 1 || resp.Orders[0].ID != 1 {
		t.Errorf("orders: got %v", resp.Orders)
	}
}

func TestAcceptOrder(t *testing.T) {
	scope := uuid.New()
	st := newFakeOrderStore(stageOrder(1, scope, 2, enum.StageLive))
	r, hub := newTestServer(t, scope, st)

	rr := doRequest(t, r, "PUT", "/restaurants/"+scope.String()+"/orders/1/accept", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, body %s", rr.Code, rr.Body.String())
	}

	var updated model.Order
	if err := json.Unmarshal(rr.Body.Bytes(), &updated); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if updated.Stage != enum.StageRecurring {
		t.Errorf("stage: got %s", updated.Stage)
	}

	types := hub.types()
	if len(types) != 1 || types[0] != ws.EventOrderAccepted {
		t.Errorf("broadcast types: got %v", types)
	}
}

func TestAcceptUnknownOrderReturns404(t *testing.T) {
	scope := uuid.New()
	st := newFakeOrderStore()
	r, _ := newTestServer(t, scope, st)

	rr := doRequest(t, r, "PUT", "/restaurants/"+scope.String()+"/orders/99/accept", nil)
	if rr.Code != http.StatusNotFound {
		t.Errorf("status: got %d, want %d", rr.Code, http.StatusNotFound)
	}
}

func TestAcceptStageConflictReturns409(t *testing.T) {
	scope := uuid.New()
	st := newFakeOrderStore(stageOrder(1, scope, 2, enum.StageLive))
	st.transitionErr = store.ErrStageConflict
	r, _ := newTestServer(t, scope, st)

	rr := doRequest(t, r, "PUT", "/restaurants/"+scope.String()+"/orders/1/accept", nil)
	if rr.Code != http.StatusConflict {
		t.Errorf("status: got %d, want %d", rr.Code, http.StatusConflict)
	}
}

func TestCompleteTable(t *testing.T) {
	scope := uuid.New()
	st := newFakeOrderStore(
		stageOrder(1, scope, 4, enum.StageRecurring),
		stageOrder(2, scope, 4, enum.StageRecurring),
	)
	r, hub := newTestServer(t, scope, st)

	body := completeTableRequest{
		DiscountPercent: "0",
		ServiceCharge:   "0",
		GSTRate:         5,
		GSTType:         enum.GSTExclusive,
	}
	rr := doRequest(t, r, "POST", "/restaurants/"+scope.String()+"/tables/4/complete", body)
	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, body %s", rr.Code, rr.Body.String())
	}

	var resp completeTableResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	// Two orders of 125 each, 5% exclusive GST.
	if resp.Breakdown.Subtotal != "250.00" {
		t.Errorf("subtotal: got %s", resp.Breakdown.Subtotal)
	}
	if resp.Breakdown.GrandTotal != "262.50" {
		t.Errorf("grand total: got %s", resp.Breakdown.GrandTotal)
	}
	if len(resp.Completed) != 2 {
		t.Errorf("completed: got %d orders", len(resp.Completed))
	}

	types := hub.types()
	if len(types) != 1 || types[0] != ws.EventTableCompleted {
		t.Errorf("broadcast types: got %v", types)
	}
}

func TestCompleteTableInvalidDiscountReturns400(t *testing.T) {
	scope := uuid.New()
	st := newFakeOrderStore(stageOrder(1, scope, 4, enum.StageRecurring))
	r, _ := newTestServer(t, scope, st)

	body := completeTableRequest{
		DiscountPercent: "150",
		GSTRate:         5,
		GSTType:         enum.GSTExclusive,
	}
	rr := doRequest(t, r, "POST", "/restaurants/"+scope.String()+"/tables/4/complete", body)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("status: got %d, body %s", rr.Code, rr.Body.String())
	}
}

func TestCompleteTableEmptyReturns404(t *testing.T) {
	scope := uuid.New()
	st := newFakeOrderStore()
	r, _ := newTestServer(t, scope, st)

	body := completeTableRequest{GSTRate: 5, GSTType: enum.GSTExclusive}
	rr := doRequest(t, r, "POST", "/restaurants/"+scope.String()+"/tables/4/complete", body)
	if rr.Code != http.StatusNotFound {
		t.Errorf("status: got %d, want %d", rr.Code, http.StatusNotFound)
	}
}

func TestCompleteTablePartialReturns409WithDetail(t *testing.T) {
	scope := uuid.New()
	st := newFakeOrderStore(
		stageOrder(1, scope, 4, enum.StageRecurring),
		stageOrder(2, scope, 4, enum.StageRecurring),
	)
	st.completeErr = &store.PartialCompletionError{
		TableNo:   4,
		Completed: []int64{},
		Failed:    map[int64]error{1: store.ErrStageConflict, 2: store.ErrStageConflict},
	}
	r, _ := newTestServer(t, scope, st)

	body := completeTableRequest{GSTRate: 5, GSTType: enum.GSTExclusive}
	rr := doRequest(t, r, "POST", "/restaurants/"+scope.String()+"/tables/4/complete", body)
	if rr.Code != http.StatusConflict {
		t.Fatalf("status: got %d, body %s", rr.Code, rr.Body.String())
	}

	var resp partialCompletionResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.TableNo != 4 || len(resp.Failed) != 2 {
		t.Errorf("partial detail: got %+v", resp)
	}
}

func TestMoveToRecurringBackEdge(t *testing.T) {
	scope := uuid.New()
	past := stageOrder(5, scope, 4, enum.StagePast)
	st := newFakeOrderStore(past)
	r, _ := newTestServer(t, scope, st)

	rr := doRequest(t, r, "PUT", "/restaurants/"+scope.String()+"/orders/5/recurring", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, body %s", rr.Code, rr.Body.String())
	}

	var updated model.Order
	if err := json.Unmarshal(rr.Body.Bytes(), &updated); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if updated.Stage != enum.StageRecurring {
		t.Errorf("stage: got %s", updated.Stage)
	}
}

func TestDeleteOrder(t *testing.T) {
	scope := uuid.New()
	st := newFakeOrderStore(stageOrder(2, scope, 4, enum.StageRecurring))
	r, hub := newTestServer(t, scope, st)

	rr := doRequest(t, r, "DELETE", "/restaurants/"+scope.String()+"/orders/2", nil)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("status: got %d, body %s", rr.Code, rr.Body.String())
	}

	types := hub.types()
	if len(types) != 1 || types[0] != ws.EventOrderDeleted {
		t.Errorf("broadcast types: got %v", types)
	}
}

func TestReprintReceipt(t *testing.T) {
	scope := uuid.New()
	past := stageOrder(3, scope, 4, enum.StagePast)
	past.ReceiptDetails = &model.ReceiptBreakdown{
		TableNo:    4,
		Subtotal:   decimal.NewFromInt(250),
		GSTRate:    5,
		GSTType:    enum.GSTExclusive,
		GSTAmount:  decimal.RequireFromString("12.50"),
		GrandTotal: decimal.RequireFromString("262.50"),
	}
	st := newFakeOrderStore(past)
	r, _ := newTestServer(t, scope, st)

	rr := doRequest(t, r, "GET", "/restaurants/"+scope.String()+"/tables/4/receipt", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, body %s", rr.Code, rr.Body.String())
	}

	var resp breakdownResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.GrandTotal != "262.50" {
		t.Errorf("grand total: got %s", resp.GrandTotal)
	}
}

func TestReprintNoReceiptReturns404(t *testing.T) {
	scope := uuid.New()
	st := newFakeOrderStore()
	r, _ := newTestServer(t, scope, st)

	rr := doRequest(t, r, "GET", "/restaurants/"+scope.String()+"/tables/4/receipt", nil)
	if rr.Code != http.StatusNotFound {
		t.Errorf("status: got %d, want %d", rr.Code, http.StatusNotFound)
	}
}

func TestInvalidRestaurantIDReturns400(t *testing.T) {
	scope := uuid.New()
	st := newFakeOrderStore()
	r, _ := newTestServer(t, scope, st)

	rr := doRequest(t, r, "GET", "/restaurants/not-a-uuid/orders/live", nil)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("status: got %d, want %d", rr.Code, http.StatusBadRequest)
	}
}
