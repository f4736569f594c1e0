// Package printer renders kitchen tickets and customer receipts as
// monospace 80mm documents. It is the terminal sink of the billing flow:
// callers fire a document and proceed. Amounts are formatted with two
// fraction digits here and nowhere earlier, so full decimal precision is
// preserved through the discount and tax chain.
package printer

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/sae-pos/api/internal/model"
	"github.com/shopspring/decimal"
)

const lineWidth = 42

// TextPrinter writes plain-text documents to a sink, typically a printer
// spool or a log during development.
type TextPrinter struct {
	w       io.Writer
	details model.RestaurantDetails
}

// NewTextPrinter creates a printer with the given restaurant header block.
func NewTextPrinter(w io.Writer, details model.RestaurantDetails) *TextPrinter {
	return &TextPrinter{w: w, details: details}
}

// KitchenTicket renders the kitchen copy of one order: quantities, items,
// and any special instructions, without billing detail.
func (p *TextPrinter) KitchenTicket(o model.Order) error {
	var b strings.Builder

	writeCenter(&b, "KITCHEN RECEIPT")
	writeDivider(&b)
	fmt.Fprintf(&b, "Order ID: %d\n", o.ID)
	fmt.Fprintf(&b, "Table No: %s\n", tableLabel(o.TableNo))
	fmt.Fprintf(&b, "Date: %s\n", o.CreatedAt.Format(time.DateTime))
	writeDivider(&b)

	fmt.Fprintf(&b, "%-4s %-26s %10s\n", "Qty", "Item", "Price")
	for _, line := range o.Items {
		fmt.Fprintf(&b, "%-4d %-26s %10s\n",
			line.Quantity, itemLabel(line), line.Price.StringFixed(2))
	}
	writeDivider(&b)
	fmt.Fprintf(&b, "%41s\n", "Total: "+o.Total.StringFixed(2))

	instructions := false
	for _, line := range o.Items {
		if line.SpecialInstructions == "" {
			continue
		}
		if !instructions {
			b.WriteString("Instructions:\n")
			instructions = true
		}
		fmt.Fprintf(&b, "- %s\n", truncate(line.SpecialInstructions, lineWidth-2))
	}
	writeDivider(&b)
	b.WriteString("\n")

	_, err := io.WriteString(p.w, b.String())
	return err
}

// CustomerReceipt renders the customer bill from a breakdown. The same
// code path serves first print and reprint: the breakdown's stored scalars
// are rendered verbatim, never recomputed, so a reprint is character
// identical to the original in every monetary figure.
func (p *TextPrinter) CustomerReceipt(b model.ReceiptBreakdown) error {
	var s strings.Builder

	writeCenter(&s, truncate(p.details.Name, 32))
	fmt.Fprintf(&s, "Address: %s\n", truncate(p.details.Address, 64))
	fmt.Fprintf(&s, "Phone: %s\n", p.details.PhoneNumber)
	fmt.Fprintf(&s, "GST: %s\n", p.details.GSTIN)
	fmt.Fprintf(&s, "FSSAI: %s\n", p.details.FSSAI)
	writeDivider(&s)
	fmt.Fprintf(&s, "Table No: %s\n", tableLabel(b.TableNo))
	fmt.Fprintf(&s, "Date: %s\n", b.ClosedAt.Format(time.DateTime))
	writeDivider(&s)

	fmt.Fprintf(&s, "%-4s %-17s %9s %9s\n", "Qty", "Item", "Price", "Amount")
	for _, g := range b.GroupedItems {
		amount := g.Price.Mul(decimal.NewFromInt(int64(g.Quantity)))
		fmt.Fprintf(&s, "%-4d %-17s %9s %9s\n",
			g.Quantity, truncate(g.Name, 17), g.Price.StringFixed(2), amount.StringFixed(2))
	}
	writeDivider(&s)

	writeTotal(&s, "Subtotal:", b.Subtotal.StringFixed(2))
	if !b.DiscountPercent.IsZero() {
		label := fmt.Sprintf("Discount (%s%%):", b.DiscountPercent.String())
		writeTotal(&s, label, "-"+b.DiscountAmount.StringFixed(2))
	}
	writeTotal(&s, "Taxable Amount:", b.Subtotal.Sub(b.DiscountAmount).StringFixed(2))
	if b.GSTRate != 0 {
		label := fmt.Sprintf("GST (%d%% %s):", b.GSTRate, strings.ToLower(b.GSTType))
		writeTotal(&s, label, b.GSTAmount.StringFixed(2))
	}
	if !b.ServiceCharge.IsZero() {
		writeTotal(&s, "Service Charge:", b.ServiceCharge.StringFixed(2))
	}
	writeTotal(&s, "Grand Total:", b.GrandTotal.StringFixed(2))
	writeDivider(&s)

	if b.Message != "" {
		writeCenter(&s, truncate(b.Message, 32))
	}
	writeCenter(&s, "Thank You! Visit Again!")
	s.WriteString("\n")

	_, err := io.WriteString(p.w, s.String())
	return err
}

func writeCenter(b *strings.Builder, s string) {
	pad := (lineWidth - len(s)) / 2
	if pad < 0 {
		pad = 0
	}
	b.WriteString(strings.Repeat(" ", pad))
	b.WriteString(s)
	b.WriteString("\n")
}

func writeDivider(b *strings.Builder) {
	b.WriteString(strings.Repeat("-", lineWidth))
	b.WriteString("\n")
}

func writeTotal(b *strings.Builder, label, amount string) {
	fmt.Fprintf(b, "%-28s %13s\n", label, amount)
}

func itemLabel(line model.OrderLine) string {
	name := truncate(line.Name, 20)
	if line.Portion != "" {
		name += " (" + line.Portion + ")"
	}
	return truncate(name, 26)
}

// tableLabel renders table 0, the counter/no-table order, as "Counter".
func tableLabel(tableNo int) string {
	if tableNo == 0 {
		return "Counter"
	}
	return strconv.Itoa(tableNo)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
