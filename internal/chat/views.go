package chat

import (
	"fmt"
	"strings"

	"housefees/internal/core"
	"housefees/internal/ledger"
)

const phoneAbsent = "N/A"

func mainMenu(edit bool) Response {
	var floors []Choice
	for _, f := range core.Floors {
		floors = append(floors, Choice{Label: core.FloorName(f), Data: fmt.Sprintf("%s%d", cbMainFloor, f)})
	}
	return Response{
		Text: "Welcome to the housing fee ledger.\nChoose an option:",
		Choices: [][]Choice{
			floors,
			{{Label: "Search for a house", Data: cbMainSearch}},
			{{Label: "Statistics", Data: cbMainStats}},
		},
		Edit: edit,
	}
}

func unpaidFloorMenu() Response {
	var rows [][]Choice
	for _, f := range core.Floors {
		rows = append(rows, []Choice{{Label: core.FloorName(f), Data: fmt.Sprintf("%s%d", cbUnpaid, f)}})
	}
	rows = append(rows, backToStats()...)
	return Response{Text: "Choose the floor for the unpaid houses file:", Choices: rows, Edit: true}
}

func resetConfirmation() Response {
	return Response{
		Text: "Confirm fee reset\n\nEvery house's paid amount will be set to 0. A backup is sent to this chat first.\nDo you want to continue?",
		Choices: [][]Choice{
			{{Label: "Confirm reset and send backup", Data: cbStatsConfirm}},
			{{Label: "Cancel", Data: cbMainStats}},
		},
		Edit: true,
	}
}

func backToMain() [][]Choice {
	return [][]Choice{{{Label: "Back to main menu", Data: cbStart}}}
}

func backToStats() [][]Choice {
	return [][]Choice{{{Label: "Back to statistics", Data: cbMainStats}}}
}

func statusLabel(u core.Unit) string {
	switch u.Status() {
	case core.StatusFullyPaid:
		return "Fully paid"
	case core.StatusPartial:
		return "Partially paid (" + core.FormatMoney(u.PaidAmount) + ")"
	default:
		return "Unpaid"
	}
}

func ownerLabel(u core.Unit) string {
	if strings.TrimSpace(u.OwnerName) == "" {
		return "unknown owner"
	}
	return u.OwnerName
}

func phoneLabel(u core.Unit) string {
	if p := u.Phone(); p != "" {
		return p
	}
	return phoneAbsent
}

func unitCard(u core.Unit) string {
	return fmt.Sprintf("House %d\nOwner: %s\nStatus: %s", u.HouseNumber, ownerLabel(u), statusLabel(u))
}

func searchResult(term string, u core.Unit) string {
	return fmt.Sprintf("Search result for: %s\n\nHouse: %d\nLocation: floor %d / branch %d\nOwner: %s\nPhone: %s\nTotal paid: %s\nStatus: %s",
		term, u.HouseNumber, u.Floor, u.BranchNumber, ownerLabel(u), phoneLabel(u),
		core.FormatMoney(u.PaidAmount), statusLabel(u))
}

func paymentReceipt(u core.Unit, amount int64) string {
	return fmt.Sprintf("Payment recorded\n\nHouse: %d\nOwner: %s\nAmount added: %s\nTotal paid: %s\nStatus: %s",
		u.HouseNumber, ownerLabel(u), core.FormatMoney(amount), core.FormatMoney(u.PaidAmount), statusLabel(u))
}

// resetSummary states plainly whether the data that was zeroed is safe.
func resetSummary(r ledger.ResetReport) string {
	var b strings.Builder
	switch {
	case r.DeliveryErr != nil && IsTimeout(r.DeliveryErr):
		b.WriteString("Backup could not be sent (timed out). The reset went ahead; the previous amounts are only in the server archive, if one is configured.")
	case r.DeliveryErr != nil:
		b.WriteString("Backup could not be sent. The reset went ahead; the previous amounts are only in the server archive, if one is configured.")
	default:
		fmt.Fprintf(&b, "Backup sent: %s.", r.Backup.Name)
	}
	if r.BackupErr != nil {
		b.WriteString("\nWarning: the data file on the server could not be updated before the reset.")
	}
	if r.ChangedSinceBackup {
		b.WriteString("\nWarning: a change was recorded while the backup was being sent and is not in the backup.")
	}

	fmt.Fprintf(&b, "\n\nFees reset: %d houses now show 0 paid for the new month.", r.Units)
	if r.ResetErr != nil {
		b.WriteString("\nWarning: the reset could not be saved to disk. It will be saved with the next change.")
	}
	return b.String()
}
