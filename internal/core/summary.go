package core

import "fmt"

// Stats is the aggregate view over the whole ledger.
type Stats struct {
	Units          int
	TotalCollected int64
	FullyPaid      int
}

// BranchSummary counts the units of one branch of a floor.
type BranchSummary struct {
	Floor  int
	Branch int
	Units  int
}

// FloorName is the display name of a floor.
func FloorName(floor int) string {
	if floor == AllFloors {
		return "all floors"
	}
	return fmt.Sprintf("Floor %d", floor)
}
