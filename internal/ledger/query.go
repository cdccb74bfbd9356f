package ledger

import (
	"sort"
	"strings"

	"housefees/internal/core"
)

// SearchByHouseNumber returns every unit numbered n, one per floor at most
// when the catalog is well formed, ordered by floor.
func (s *Store) SearchByHouseNumber(n int) []core.Unit {
	out := s.filter(func(u core.Unit) bool { return u.HouseNumber == n })
	sortByIdentity(out)
	return out
}

// SearchByName matches text case-insensitively against owner names. Results
// are ordered by ascending identity (floor, then house number). Blank text
// matches nothing.
func (s *Store) SearchByName(text string) []core.Unit {
	needle := strings.ToLower(strings.TrimSpace(text))
	if needle == "" {
		return nil
	}
	out := s.filter(func(u core.Unit) bool {
		return strings.Contains(strings.ToLower(u.OwnerName), needle)
	})
	sortByIdentity(out)
	return out
}

// ListByFloorAndBranch returns the units of one branch sorted by house number.
func (s *Store) ListByFloorAndBranch(floor, branch int) []core.Unit {
	out := s.filter(func(u core.Unit) bool {
		return u.Floor == floor && u.BranchNumber == branch
	})
	sortByHouseNumber(out)
	return out
}

// ListUnpaid returns the units of floor below core.MonthlyFee, sorted by
// house number.
func (s *Store) ListUnpaid(floor int) []core.Unit {
	out := s.filter(func(u core.Unit) bool {
		return u.Floor == floor && !u.FullyPaid()
	})
	sortByHouseNumber(out)
	return out
}

// ListByPaidAmount returns units whose paid total equals amount exactly.
// floor may be core.AllFloors. Sorted by house number, then floor.
func (s *Store) ListByPaidAmount(amount int64, floor int) []core.Unit {
	out := s.filter(func(u core.Unit) bool {
		return u.PaidAmount == amount && (floor == core.AllFloors || u.Floor == floor)
	})
	sortByHouseNumber(out)
	return out
}

// Aggregate totals the whole ledger.
func (s *Store) Aggregate() core.Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := core.Stats{Units: len(s.units)}
	for _, u := range s.units {
		st.TotalCollected += u.PaidAmount
		if u.FullyPaid() {
			st.FullyPaid++
		}
	}
	return st
}

// Branches lists the branches of floor with their unit counts, ascending.
func (s *Store) Branches(floor int) []core.BranchSummary {
	s.mu.RLock()
	counts := make(map[int]int)
	for _, u := range s.units {
		if u.Floor == floor {
			counts[u.BranchNumber]++
		}
	}
	s.mu.RUnlock()

	out := make([]core.BranchSummary, 0, len(counts))
	for branch, n := range counts {
		out = append(out, core.BranchSummary{Floor: floor, Branch: branch, Units: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Branch < out[j].Branch })
	return out
}

// Units returns every unit ordered by identity.
func (s *Store) Units() []core.Unit {
	out := s.filter(func(core.Unit) bool { return true })
	sortByIdentity(out)
	return out
}

func (s *Store) filter(keep func(core.Unit) bool) []core.Unit {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []core.Unit
	for _, u := range s.units {
		if keep(u) {
			out = append(out, u)
		}
	}
	return out
}

func sortByHouseNumber(units []core.Unit) {
	sort.Slice(units, func(i, j int) bool {
		if units[i].HouseNumber != units[j].HouseNumber {
			return units[i].HouseNumber < units[j].HouseNumber
		}
		return units[i].Floor < units[j].Floor
	})
}

func sortByIdentity(units []core.Unit) {
	sort.Slice(units, func(i, j int) bool {
		if units[i].Floor != units[j].Floor {
			return units[i].Floor < units[j].Floor
		}
		return units[i].HouseNumber < units[j].HouseNumber
	})
}
