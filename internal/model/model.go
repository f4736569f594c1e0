package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Order is a single customer order as held by the order store. The id is
// assigned by the store and stays stable across stage transitions; a
// transition mutates Stage in place, it never creates a new identity.
type Order struct {
	ID             int64             `json:"id"`
	RestaurantID   uuid.UUID         `json:"restaurantId"`
	TableNo        int               `json:"tableNo"`
	Items          []OrderLine       `json:"items"`
	Total          decimal.Decimal   `json:"total"`
	Stage          string            `json:"stage"`
	CreatedAt      time.Time         `json:"createdAt"`
	ReceiptDetails *ReceiptBreakdown `json:"receiptDetails,omitempty"`
}

// OrderLine is one line of an order. Price is a snapshot resolved for the
// chosen portion at order-take time; later menu price changes never touch
// open or historical orders.
type OrderLine struct {
	Name                string          `json:"name"`
	Price               decimal.Decimal `json:"price"`
	Quantity            int             `json:"quantity"`
	Portion             string          `json:"portion,omitempty"`
	SpecialInstructions string          `json:"specialInstructions,omitempty"`
}

// ReceiptBreakdown is the persisted billing breakdown for a closed table.
// Every intermediate scalar is retained so the document can be reprinted
// verbatim from storage without recomputing from line items.
type ReceiptBreakdown struct {
	TableNo         int             `json:"tableNo"`
	GroupedItems    []OrderLine     `json:"groupedItems"`
	Subtotal        decimal.Decimal `json:"subtotal"`
	DiscountPercent decimal.Decimal `json:"discountPercent"`
	DiscountAmount  decimal.Decimal `json:"discountAmount"`
	ServiceCharge   decimal.Decimal `json:"serviceCharge"`
	GSTRate         int             `json:"gstRate"`
	GSTType         string          `json:"gstType"`
	GSTAmount       decimal.Decimal `json:"gstAmount"`
	GrandTotal      decimal.Decimal `json:"grandTotal"`
	Message         string          `json:"message,omitempty"`
	ClosedAt        time.Time       `json:"closedAt"`
}

// RestaurantDetails is the header block printed on customer receipts.
type RestaurantDetails struct {
	Name        string `json:"name"`
	Address     string `json:"address"`
	PhoneNumber string `json:"phoneNumber"`
	GSTIN       string `json:"gst"`
	FSSAI       string `json:"fssai"`
}

// User is a back-office account scoped to one restaurant.
type User struct {
	ID             uuid.UUID `json:"id"`
	RestaurantID   uuid.UUID `json:"restaurantId"`
	Email          string    `json:"email"`
	HashedPassword string    `json:"-"`
	Role           string    `json:"role"`
}
