package handler

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/sae-pos/api/internal/enum"
	"github.com/sae-pos/api/internal/model"
	"github.com/sae-pos/api/internal/stream"
	"github.com/shopspring/decimal"
)

// IntakeStore defines the database methods needed by order intake.
// Satisfied by *store.Postgres.
type IntakeStore interface {
	Create(ctx context.Context, o model.Order) (model.Order, error)
}

// IntakeHandler accepts new orders from the customer-facing ordering
// surface. Created orders enter the Live stage and are pushed onto the
// event bus; delivery to any one console is best-effort, the poll cycle
// is the backstop.
type IntakeHandler struct {
	store IntakeStore
	bus   *stream.Bus
}

// NewIntakeHandler creates a new IntakeHandler.
func NewIntakeHandler(store IntakeStore, bus *stream.Bus) *IntakeHandler {
	return &IntakeHandler{store: store, bus: bus}
}

// RegisterRoutes registers intake endpoints on the given Chi router.
func (h *IntakeHandler) RegisterRoutes(r chi.Router) {
	r.Post("/orders", h.Create)
}

type intakeItemRequest struct {
	Name                string `json:"name"`
	Price               string `json:"price"`
	Quantity            int    `json:"quantity"`
	Portion             string `json:"portion"`
	SpecialInstructions string `json:"specialInstructions"`
}

type intakeRequest struct {
	RestaurantID string              `json:"restaurantId"`
	TableNo      int                 `json:"tableNo"`
	Items        []intakeItemRequest `json:"items"`
}

// Create handles POST /orders.
func (h *IntakeHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req intakeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	restaurantID, err := uuid.Parse(req.RestaurantID)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid restaurantId"})
		return
	}

	// Table 0 is the counter; anything below is nonsense.
	if req.TableNo < 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid tableNo"})
		return
	}

	if len(req.Items) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "items are required"})
		return
	}

	// Prices arrive as already-resolved snapshots for the chosen portion;
	// the total is derived here, never trusted from the client.
	items := make([]model.OrderLine, len(req.Items))
	total := decimal.Zero
	for i, item := range req.Items {
		if item.Name == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": formatItemError(i, "name is required")})
			return
		}
		if item.Quantity <= 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": formatItemError(i, "quantity must be > 0")})
			return
		}
		price, err := decimal.NewFromString(item.Price)
		if err != nil || price.IsNegative() {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": formatItemError(i, "invalid price")})
			return
		}
		if item.Portion != "" && item.Portion != enum.PortionFull && item.Portion != enum.PortionHalf {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": formatItemError(i, "invalid portion")})
			return
		}

		items[i] = model.OrderLine{
			Name:                item.Name,
			Price:               price,
			Quantity:            item.Quantity,
			Portion:             item.Portion,
			SpecialInstructions: item.SpecialInstructions,
		}
		total = total.Add(price.Mul(decimal.NewFromInt(int64(item.Quantity))))
	}

	created, err := h.store.Create(r.Context(), model.Order{
		RestaurantID: restaurantID,
		TableNo:      req.TableNo,
		Items:        items,
		Total:        total,
		Stage:        enum.StageLive,
	})
	if err != nil {
		log.Printf("ERROR: create order: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	h.bus.Publish(created)
	writeJSON(w, http.StatusCreated, created)
}

func formatItemError(idx int, msg string) string {
	return "items[" + strconv.Itoa(idx) + "]: " + msg
}
