// Package receipt turns the accumulated orders of one table into a billing
// breakdown under the inclusive or exclusive GST convention. Computation is
// pure: it never talks to the store, and every intermediate scalar is kept
// in the result so the document can later be reprinted from storage alone.
package receipt

import (
	"errors"
	"time"

	"github.com/sae-pos/api/internal/enum"
	"github.com/sae-pos/api/internal/model"
	"github.com/shopspring/decimal"
)

// Errors returned before any remote call is made. Invalid inputs are
// rejected, never silently clamped.
var (
	ErrNoOrders              = errors.New("no orders for table")
	ErrDiscountRange         = errors.New("discount percent must be between 0 and 100")
	ErrNegativeServiceCharge = errors.New("service charge cannot be negative")
	ErrInvalidGSTRate        = errors.New("gst rate must be one of 0, 5, 12, 18")
	ErrInvalidGSTType        = errors.New("gst type must be INCLUSIVE or EXCLUSIVE")
)

var hundred = decimal.NewFromInt(100)

// DefaultMessage is printed on the receipt footer when staff leave the
// message blank.
const DefaultMessage = "Have a nice day!"

// Params are the billing inputs chosen by staff at complete-table time.
type Params struct {
	DiscountPercent decimal.Decimal
	ServiceCharge   decimal.Decimal
	GSTRate         int
	GSTType         string
	Message         string
}

// Validate checks the billing inputs against their domains.
func (p Params) Validate() error {
	if p.DiscountPercent.IsNegative() || p.DiscountPercent.GreaterThan(hundred) {
		return ErrDiscountRange
	}
	if p.ServiceCharge.IsNegative() {
		return ErrNegativeServiceCharge
	}
	if !enum.IsValidGSTRate(p.GSTRate) {
		return ErrInvalidGSTRate
	}
	if !enum.IsValidGSTType(p.GSTType) {
		return ErrInvalidGSTType
	}
	return nil
}

// Compute produces the breakdown for the given table's orders.
//
// Lines are grouped by (name, price): the same dish at full and half price
// stays two groups, the same dish at the same price across orders merges
// with summed quantity. The discount is always applied to the tax-exclusive
// base in both GST modes, so discounts never discount tax. Internal
// arithmetic keeps full decimal precision; display rounding happens only at
// render time.
func Compute(tableNo int, orders []model.Order, p Params) (model.ReceiptBreakdown, error) {
	if err := p.Validate(); err != nil {
		return model.ReceiptBreakdown{}, err
	}
	if len(orders) == 0 {
		return model.ReceiptBreakdown{}, ErrNoOrders
	}

	grouped := groupLines(orders)

	rawSubtotal := decimal.Zero
	for _, g := range grouped {
		rawSubtotal = rawSubtotal.Add(g.Price.Mul(decimal.NewFromInt(int64(g.Quantity))))
	}

	rate := decimal.NewFromInt(int64(p.GSTRate)).Div(hundred)

	var subtotal decimal.Decimal
	if p.GSTType == enum.GSTInclusive {
		// The recorded prices already contain GST; strip it to get the
		// tax-exclusive base.
		subtotal = rawSubtotal.Div(decimal.NewFromInt(1).Add(rate))
	} else {
		subtotal = rawSubtotal
	}

	discountAmount := subtotal.Mul(p.DiscountPercent).Div(hundred)
	taxable := subtotal.Sub(discountAmount)
	gstAmount := taxable.Mul(rate)
	grandTotal := subtotal.Sub(discountAmount).Add(gstAmount).Add(p.ServiceCharge)

	message := p.Message
	if message == "" {
		message = DefaultMessage
	}

	return model.ReceiptBreakdown{
		TableNo:         tableNo,
		GroupedItems:    grouped,
		Subtotal:        subtotal,
		DiscountPercent: p.DiscountPercent,
		DiscountAmount:  discountAmount,
		ServiceCharge:   p.ServiceCharge,
		GSTRate:         p.GSTRate,
		GSTType:         p.GSTType,
		GSTAmount:       gstAmount,
		GrandTotal:      grandTotal,
		Message:         message,
		ClosedAt:        time.Now().UTC(),
	}, nil
}

// groupLines flattens all order lines and merges them by (name, price),
// preserving first-appearance order.
func groupLines(orders []model.Order) []model.OrderLine {
	type key struct {
		name  string
		price string
	}

	var grouped []model.OrderLine
	index := make(map[key]int)

	for _, o := range orders {
		for _, line := range o.Items {
			k := key{name: line.Name, price: line.Price.String()}
			if i, ok := index[k]; ok {
				grouped[i].Quantity += line.Quantity
				continue
			}
			index[k] = len(grouped)
			grouped = append(grouped, model.OrderLine{
				Name:     line.Name,
				Price:    line.Price,
				Quantity: line.Quantity,
				Portion:  line.Portion,
			})
		}
	}
	return grouped
}
