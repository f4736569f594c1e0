package enum

// ── Order lifecycle stages ──
//
// Every order is in exactly one stage at any instant. LIVE orders are
// newly placed and unacknowledged, RECURRING orders accumulate against an
// open table tab, PAST orders are billed and closed.

const (
	StageLive      = "LIVE"
	StageRecurring = "RECURRING"
	StagePast      = "PAST"
)

// ── GST conventions ──

const (
	GSTInclusive = "INCLUSIVE"
	GSTExclusive = "EXCLUSIVE"
)

// GSTRates are the permitted GST slabs, in percent.
var GSTRates = []int{0, 5, 12, 18}

// ── Portions ──

const (
	PortionFull = "full"
	PortionHalf = "half"
)

// ── Receipt document kinds ──

const (
	DocKitchen  = "KITCHEN"
	DocCustomer = "CUSTOMER"
)

// ── User roles ──

const (
	UserRoleOwner = "OWNER"
	UserRoleStaff = "STAFF"
)

// IsValidStage reports whether s is a known lifecycle stage.
func IsValidStage(s string) bool {
	switch s {
	case StageLive, StageRecurring, StagePast:
		return true
	}
	return false
}

// IsValidGSTType reports whether s is a known GST convention.
func IsValidGSTType(s string) bool {
	switch s {
	case GSTInclusive, GSTExclusive:
		return true
	}
	return false
}

// IsValidGSTRate reports whether rate is a permitted GST slab.
func IsValidGSTRate(rate int) bool {
	for _, r := range GSTRates {
		if rate == r {
			return true
		}
	}
	return false
}
