// Package sheets defines the spreadsheet mirror of the ledger.
package sheets

import (
	"context"
	"strconv"

	"housefees/internal/core"
)

// Ports for outbound adapters.
type (
	// LedgerMirror replaces the mirrored copy of the ledger with units. The
	// mirror is read-only for operators; the ledger stays authoritative.
	LedgerMirror interface {
		ReplaceUnits(ctx context.Context, units []core.Unit) error
	}
)

// Header is the first row of the mirrored sheet.
var Header = []string{"Identity", "Floor", "Branch", "House", "Owner", "Phone", "Paid", "Status"}

// Row renders one unit as sheet cells in Header order.
func Row(u core.Unit) []string {
	return []string{
		u.Identity().String(),
		strconv.Itoa(u.Floor),
		strconv.Itoa(u.BranchNumber),
		strconv.Itoa(u.HouseNumber),
		u.OwnerName,
		u.Phone(),
		strconv.FormatInt(u.PaidAmount, 10),
		string(u.Status()),
	}
}
