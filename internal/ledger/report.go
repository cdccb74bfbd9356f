package ledger

import (
	"bytes"
	"fmt"

	"housefees/internal/core"
)

const (
	reportRule        = "---------------------------------------------------------"
	reportPhoneAbsent = "N/A"
)

// Report is a plain-text export ready to be sent as a file.
type Report struct {
	Name  string
	Floor int
	Count int
	Body  []byte
}

// UnpaidReport renders the units of floor that have not reached
// core.MonthlyFee, one row per unit sorted by house number.
func (s *Store) UnpaidReport(floor int) (Report, error) {
	if !core.KnownFloor(floor) {
		return Report{}, fmt.Errorf("%w: %d", core.ErrUnknownFloor, floor)
	}
	units := s.ListUnpaid(floor)

	var b bytes.Buffer
	fmt.Fprintf(&b, "Unpaid units on %s (paid less than %s)\n", core.FloorName(floor), core.FormatMoney(core.MonthlyFee))
	b.WriteString(reportRule + "\n")
	b.WriteString("House | Owner | Phone | Floor/Branch | Paid\n")
	b.WriteString(reportRule + "\n")
	for _, u := range units {
		phone := u.Phone()
		if phone == "" {
			phone = reportPhoneAbsent
		}
		fmt.Fprintf(&b, "%-4d | %-20s | %-15s | %d/%d | %s\n",
			u.HouseNumber, u.OwnerName, phone, u.Floor, u.BranchNumber, core.FormatMoney(u.PaidAmount))
	}

	return Report{
		Name:  fmt.Sprintf("unpaid_floor_%d.txt", floor),
		Floor: floor,
		Count: len(units),
		Body:  b.Bytes(),
	}, nil
}
