package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/sae-pos/api/internal/lifecycle"
	"github.com/sae-pos/api/internal/model"
	"github.com/sae-pos/api/internal/receipt"
	"github.com/sae-pos/api/internal/session"
	"github.com/sae-pos/api/internal/store"
	"github.com/sae-pos/api/internal/ws"
	"github.com/shopspring/decimal"
)

// Sessions provides the per-restaurant view session. Satisfied by
// *session.Manager.
type Sessions interface {
	Get(ctx context.Context, scope uuid.UUID) (*session.Session, error)
}

// HistoryStore defines the database methods needed by the date-filtered
// history endpoint. Satisfied by *store.Postgres.
type HistoryStore interface {
	FetchPastByDate(ctx context.Context, scope uuid.UUID, day time.Time) ([]model.Order, error)
}

// Broadcaster pushes events to connected back-office consoles.
// Satisfied by *ws.Hub.
type Broadcaster interface {
	BroadcastToRestaurant(restaurantID uuid.UUID, event ws.Event)
}

// OrderHandler handles the order lifecycle and billing endpoints.
type OrderHandler struct {
	sessions Sessions
	history  HistoryStore
	hub      Broadcaster
}

// NewOrderHandler creates a new OrderHandler.
func NewOrderHandler(sessions Sessions, history HistoryStore, hub Broadcaster) *OrderHandler {
	return &OrderHandler{sessions: sessions, history: history, hub: hub}
}

// RegisterRoutes registers order endpoints on the given Chi router.
// Expected to be mounted inside a restaurant-scoped subrouter: /restaurants/{rid}
func (h *OrderHandler) RegisterRoutes(r chi.Router) {
	r.Get("/orders/live", h.ListLive)
	r.Get("/orders/recurring", h.ListRecurring)
	r.Get("/orders/past", h.ListPast)
	r.Put("/orders/{id}/accept", h.Accept)
	r.Put("/orders/{id}/recurring", h.MoveToRecurring)
	r.Delete("/orders/{id}", h.Delete)
	r.Post("/tables/{tableNo}/complete", h.CompleteTable)
	r.Get("/tables/{tableNo}/receipt", h.Reprint)
}

// --- Request / Response types ---

type completeTableRequest struct {
	DiscountPercent string `json:"discountPercent"`
	ServiceCharge   string `json:"serviceCharge"`
	GSTRate         int    `json:"gstRate"`
	GSTType         string `json:"gstType"`
	Message         string `json:"message"`
}

type groupedItemResponse struct {
	Name      string `json:"name"`
	Price     string `json:"price"`
	Quantity  int    `json:"quantity"`
	LineTotal string `json:"lineTotal"`
}

type breakdownResponse struct {
	TableNo         int                   `json:"tableNo"`
	Items           []groupedItemResponse `json:"items"`
	Subtotal        string                `json:"subtotal"`
	DiscountPercent string                `json:"discountPercent"`
	DiscountAmount  string                `json:"discountAmount"`
	ServiceCharge   string                `json:"serviceCharge"`
	GSTRate         int                   `json:"gstRate"`
	GSTType         string                `json:"gstType"`
	GSTAmount       string                `json:"gstAmount"`
	GrandTotal      string                `json:"grandTotal"`
	Message         string                `json:"message"`
	ClosedAt        time.Time             `json:"closedAt"`
}

type completeTableResponse struct {
	Breakdown breakdownResponse `json:"breakdown"`
	Completed []model.Order     `json:"completed"`
}

type partialCompletionResponse struct {
	Error     string            `json:"error"`
	TableNo   int               `json:"tableNo"`
	Completed []int64           `json:"completed"`
	Failed    map[string]string `json:"failed"`
	Breakdown breakdownResponse `json:"breakdown"`
}

// --- Handlers ---

// ListLive handles GET /restaurants/{rid}/orders/live.
func (h *OrderHandler) ListLive(w http.ResponseWriter, r *http.Request) {
	mgr, ok := h.manager(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string][]model.Order{"orders": mgr.Live()})
}

// ListRecurring handles GET /restaurants/{rid}/orders/recurring.
func (h *OrderHandler) ListRecurring(w http.ResponseWriter, r *http.Request) {
	mgr, ok := h.manager(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string][]model.Order{"orders": mgr.Recurring()})
}

// ListPast handles GET /restaurants/{rid}/orders/past.
// With ?date=YYYY-MM-DD the history store is queried directly; without it
// the session's in-memory past collection is returned.
func (h *OrderHandler) ListPast(w http.ResponseWriter, r *http.Request) {
	restaurantID, err := uuid.Parse(chi.URLParam(r, "rid"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid restaurant ID"})
		return
	}

	if s := r.URL.Query().Get("date"); s != "" {
		day, err := time.Parse("2006-01-02", s)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid date format, use YYYY-MM-DD"})
			return
		}
		orders, err := h.history.FetchPastByDate(r.Context(), restaurantID, day)
		if err != nil {
			log.Printf("ERROR: fetch past by date: %v", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
			return
		}
		writeJSON(w, http.StatusOK, map[string][]model.Order{"orders": orders})
		return
	}

	mgr, ok := h.manager(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string][]model.Order{"orders": mgr.Past()})
}

// Accept handles PUT /restaurants/{rid}/orders/{id}/accept.
func (h *OrderHandler) Accept(w http.ResponseWriter, r *http.Request) {
	restaurantID, orderID, ok := h.orderParams(w, r)
	if !ok {
		return
	}
	mgr, ok := h.manager(w, r)
	if !ok {
		return
	}

	updated, err := mgr.Accept(r.Context(), orderID)
	if err != nil {
		h.writeLifecycleError(w, "accept order", err)
		return
	}

	h.broadcast(restaurantID, ws.EventOrderAccepted, updated)
	writeJSON(w, http.StatusOK, updated)
}

// MoveToRecurring handles PUT /restaurants/{rid}/orders/{id}/recurring.
func (h *OrderHandler) MoveToRecurring(w http.ResponseWriter, r *http.Request) {
	_, orderID, ok := h.orderParams(w, r)
	if !ok {
		return
	}
	mgr, ok := h.manager(w, r)
	if !ok {
		return
	}

	updated, err := mgr.MoveToRecurring(r.Context(), orderID)
	if err != nil {
		h.writeLifecycleError(w, "move order to recurring", err)
		return
	}

	writeJSON(w, http.StatusOK, updated)
}

// Delete handles DELETE /restaurants/{rid}/orders/{id}.
func (h *OrderHandler) Delete(w http.ResponseWriter, r *http.Request) {
	restaurantID, orderID, ok := h.orderParams(w, r)
	if !ok {
		return
	}
	mgr, ok := h.manager(w, r)
	if !ok {
		return
	}

	if err := mgr.Delete(r.Context(), orderID); err != nil {
		h.writeLifecycleError(w, "delete order", err)
		return
	}

	h.broadcast(restaurantID, ws.EventOrderDeleted, map[string]int64{"id": orderID})
	w.WriteHeader(http.StatusNoContent)
}

// CompleteTable handles POST /restaurants/{rid}/tables/{tableNo}/complete.
func (h *OrderHandler) CompleteTable(w http.ResponseWriter, r *http.Request) {
	restaurantID, err := uuid.Parse(chi.URLParam(r, "rid"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid restaurant ID"})
		return
	}

	tableNo, err := strconv.Atoi(chi.URLParam(r, "tableNo"))
	if err != nil || tableNo < 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid table number"})
		return
	}

	var req completeTableRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	params, err := parseReceiptParams(req)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	mgr, ok := h.manager(w, r)
	if !ok {
		return
	}

	breakdown, completed, err := mgr.CompleteTable(r.Context(), tableNo, params)
	if err != nil {
		var partial *store.PartialCompletionError
		if errors.As(err, &partial) {
			failed := make(map[string]string, len(partial.Failed))
			for id, ferr := range partial.Failed {
				failed[strconv.FormatInt(id, 10)] = ferr.Error()
			}
			writeJSON(w, http.StatusConflict, partialCompletionResponse{
				Error:     partial.Error(),
				TableNo:   partial.TableNo,
				Completed: partial.Completed,
				Failed:    failed,
				Breakdown: toBreakdownResponse(breakdown),
			})
			return
		}
		h.writeLifecycleError(w, "complete table", err)
		return
	}

	h.broadcast(restaurantID, ws.EventTableCompleted, map[string]int{"tableNo": tableNo})
	writeJSON(w, http.StatusOK, completeTableResponse{
		Breakdown: toBreakdownResponse(breakdown),
		Completed: completed,
	})
}

// Reprint handles GET /restaurants/{rid}/tables/{tableNo}/receipt.
// Returns the persisted breakdown of the most recent completion for the
// table and sends it to the printer again.
func (h *OrderHandler) Reprint(w http.ResponseWriter, r *http.Request) {
	tableNo, err := strconv.Atoi(chi.URLParam(r, "tableNo"))
	if err != nil || tableNo < 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid table number"})
		return
	}

	mgr, ok := h.manager(w, r)
	if !ok {
		return
	}

	breakdown, err := mgr.Reprint(r.Context(), tableNo)
	if err != nil {
		if errors.Is(err, store.ErrNoBreakdown) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "no receipt on record for this table"})
			return
		}
		h.writeLifecycleError(w, "reprint receipt", err)
		return
	}

	writeJSON(w, http.StatusOK, toBreakdownResponse(breakdown))
}

// --- Helpers ---

func (h *OrderHandler) manager(w http.ResponseWriter, r *http.Request) (*lifecycle.Manager, bool) {
	restaurantID, err := uuid.Parse(chi.URLParam(r, "rid"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid restaurant ID"})
		return nil, false
	}

	s, err := h.sessions.Get(r.Context(), restaurantID)
	if err != nil {
		log.Printf("ERROR: open session for %s: %v", restaurantID, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return nil, false
	}
	return s.Manager(), true
}

func (h *OrderHandler) orderParams(w http.ResponseWriter, r *http.Request) (uuid.UUID, int64, bool) {
	restaurantID, err := uuid.Parse(chi.URLParam(r, "rid"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid restaurant ID"})
		return uuid.Nil, 0, false
	}

	orderID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid order ID"})
		return uuid.Nil, 0, false
	}
	return restaurantID, orderID, true
}

func (h *OrderHandler) writeLifecycleError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, lifecycle.ErrUnknownOrder), errors.Is(err, store.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "order not found"})
	case errors.Is(err, lifecycle.ErrNoOrdersForTable):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no open orders for this table"})
	case errors.Is(err, lifecycle.ErrTransitionInFlight):
		writeJSON(w, http.StatusConflict, map[string]string{"error": "a transition for this order is already in progress"})
	case errors.Is(err, store.ErrStageConflict):
		writeJSON(w, http.StatusConflict, map[string]string{"error": "order stage changed, please retry"})
	case isReceiptValidationError(err):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	default:
		log.Printf("ERROR: %s: %v", op, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
	}
}

func (h *OrderHandler) broadcast(restaurantID uuid.UUID, eventType string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("ERROR: marshal %s event: %v", eventType, err)
		return
	}
	h.hub.BroadcastToRestaurant(restaurantID, ws.Event{Type: eventType, Payload: data})
}

// isReceiptValidationError checks if the error is a known validation error
// from the receipt computation that should result in 400 Bad Request.
func isReceiptValidationError(err error) bool {
	return errors.Is(err, receipt.ErrDiscountRange) ||
		errors.Is(err, receipt.ErrNegativeServiceCharge) ||
		errors.Is(err, receipt.ErrInvalidGSTRate) ||
		errors.Is(err, receipt.ErrInvalidGSTType) ||
		errors.Is(err, receipt.ErrNoOrders)
}

func parseReceiptParams(req completeTableRequest) (receipt.Params, error) {
	p := receipt.Params{
		DiscountPercent: decimal.Zero,
		ServiceCharge:   decimal.Zero,
		GSTRate:         req.GSTRate,
		GSTType:         req.GSTType,
		Message:         req.Message,
	}

	if req.DiscountPercent != "" {
		d, err := decimal.NewFromString(req.DiscountPercent)
		if err != nil {
			return receipt.Params{}, errors.New("invalid discountPercent")
		}
		p.DiscountPercent = d
	}
	if req.ServiceCharge != "" {
		d, err := decimal.NewFromString(req.ServiceCharge)
		if err != nil {
			return receipt.Params{}, errors.New("invalid serviceCharge")
		}
		p.ServiceCharge = d
	}
	return p, nil
}

// toBreakdownResponse renders a breakdown for the API. Amounts are fixed
// to two decimal places only here, at the boundary.
func toBreakdownResponse(b model.ReceiptBreakdown) breakdownResponse {
	items := make([]groupedItemResponse, len(b.GroupedItems))
	for i, g := range b.GroupedItems {
		items[i] = groupedItemResponse{
			Name:      g.Name,
			Price:     g.Price.StringFixed(2),
			Quantity:  g.Quantity,
			LineTotal: g.Price.Mul(decimal.NewFromInt(int64(g.Quantity))).StringFixed(2),
		}
	}
	return breakdownResponse{
		TableNo:         b.TableNo,
		Items:           items,
		Subtotal:        b.Subtotal.StringFixed(2),
		DiscountPercent: b.DiscountPercent.StringFixed(2),
		DiscountAmount:  b.DiscountAmount.StringFixed(2),
		ServiceCharge:   b.ServiceCharge.StringFixed(2),
		GSTRate:         b.GSTRate,
		GSTType:         b.GSTType,
		GSTAmount:       b.GSTAmount.StringFixed(2),
		GrandTotal:      b.GrandTotal.StringFixed(2),
		Message:         b.Message,
		ClosedAt:        b.ClosedAt,
	}
}
