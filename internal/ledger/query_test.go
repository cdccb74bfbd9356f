package ledger

import (
	"context"
	"strings"
	"testing"

	"housefees/internal/core"
)

func identities(units []core.Unit) []core.Identity {
	out := make([]core.Identity, len(units))
	for i, u := range units {
		out[i] = u.Identity()
	}
	return out
}

func equalIDs(a, b []core.Identity) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestSearchByHouseNumber(t *testing.T) {
	s, _ := newTestStore(t)
	tests := []struct {
		house int
		want  []core.Identity
	}{
		{12, []core.Identity{"1-12", "2-12"}},
		{3, []core.Identity{"1-3"}},
		{99, nil},
	}
	for _, tt := range tests {
		got := identities(s.SearchByHouseNumber(tt.house))
		if !equalIDs(got, tt.want) {
			t.Errorf("SearchByHouseNumber(%d) = %v, want %v", tt.house, got, tt.want)
		}
	}
}

func TestSearchByName(t *testing.T) {
	s, _ := newTestStore(t)
	tests := []struct {
		text string
		want []core.Identity
	}{
		{"ALI", []core.Identity{"1-5", "1-11"}},
		{"  hassan ", []core.Identity{"1-3"}},
		{"", nil},
		{"   ", nil},
		{"nobody", nil},
	}
	for _, tt := range tests {
		got := identities(s.SearchByName(tt.text))
		if !equalIDs(got, tt.want) {
			t.Errorf("SearchByName(%q) = %v, want %v", tt.text, got, tt.want)
		}
	}
}

func TestListByFloorAndBranch(t *testing.T) {
	s, _ := newTestStore(t)
	got := identities(s.ListByFloorAndBranch(1, 1))
	want := []core.Identity{"1-3", "1-5"}
	if !equalIDs(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	if units := s.ListByFloorAndBranch(1, 9); len(units) != 0 {
		t.Fatalf("expected empty branch, got %v", identities(units))
	}
}

func TestListUnpaidExcludesFullyPaid(t *testing.T) {
	s, _ := newTestStore(t)
	mustPay(t, s, "1-3", 25000)
	mustPay(t, s, "1-5", 20000)
	mustPay(t, s, "1-11", 15000)
	mustPay(t, s, "1-11", 15000)

	got := identities(s.ListUnpaid(1))
	want := []core.Identity{"1-5", "1-12"}
	if !equalIDs(got, want) {
		t.Fatalf("ListUnpaid(1) = %v, want %v", got, want)
	}
	for _, u := range s.ListUnpaid(2) {
		if u.Floor != 2 || u.FullyPaid() {
			t.Fatalf("unexpected unit in floor 2 unpaid list: %+v", u)
		}
	}
}

func TestListByPaidAmount(t *testing.T) {
	s, _ := newTestStore(t)
	mustPay(t, s, "1-12", 10000)
	mustPay(t, s, "2-12", 10000)
	mustPay(t, s, "2-5", 10000)
	mustPay(t, s, "1-5", 5000)

	tests := []struct {
		amount int64
		floor  int
		want   []core.Identity
	}{
		{10000, core.AllFloors, []core.Identity{"2-5", "1-12", "2-12"}},
		{10000, 2, []core.Identity{"2-5", "2-12"}},
		{5000, 1, []core.Identity{"1-5"}},
		{25000, core.AllFloors, nil},
	}
	for _, tt := range tests {
		got := identities(s.ListByPaidAmount(tt.amount, tt.floor))
		if !equalIDs(got, tt.want) {
			t.Errorf("ListByPaidAmount(%d, %d) = %v, want %v", tt.amount, tt.floor, got, tt.want)
		}
	}
}

func TestAggregate(t *testing.T) {
	s, _ := newTestStore(t)
	mustPay(t, s, "1-5", 25000)
	mustPay(t, s, "1-5", 5000)
	mustPay(t, s, "2-1", 10000)

	got := s.Aggregate()
	want := core.Stats{Units: 7, TotalCollected: 40000, FullyPaid: 1}
	if got != want {
		t.Fatalf("Aggregate() = %+v, want %+v", got, want)
	}
}

func TestBranches(t *testing.T) {
	s, _ := newTestStore(t)
	got := s.Branches(1)
	want := []core.BranchSummary{
		{Floor: 1, Branch: 1, Units: 2},
		{Floor: 1, Branch: 2, Units: 2},
	}
	if len(got) != len(want) {
		t.Fatalf("Branches(1) = %+v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Branches(1)[%d] = %+v, want %+v", i, got[i], want[i])
		}
	}
	if len(s.Branches(7)) != 0 {
		t.Fatalf("unknown floor should have no branches")
	}
}

func TestQueriesReturnCopies(t *testing.T) {
	s, _ := newTestStore(t)
	units := s.SearchByHouseNumber(5)
	units[0].PaidAmount = 999999
	u, _ := s.Get(units[0].Identity())
	if u.PaidAmount != 0 {
		t.Fatalf("query result aliased store state")
	}
}

func TestUnpaidReport(t *testing.T) {
	s, _ := newTestStore(t)
	mustPay(t, s, "1-12", 25000)
	mustPay(t, s, "1-5", 5000)

	r, err := s.UnpaidReport(1)
	if err != nil {
		t.Fatalf("UnpaidReport: %v", err)
	}
	if r.Name != "unpaid_floor_1.txt" || r.Count != 3 {
		t.Fatalf("unexpected report %q count=%d", r.Name, r.Count)
	}
	body := string(r.Body)
	if !strings.HasPrefix(body, "Unpaid units on Floor 1 (paid less than 25,000 IQD)\n") {
		t.Fatalf("unexpected header:\n%s", body)
	}
	if !strings.Contains(body, "07701234567") || !strings.Contains(body, "N/A") {
		t.Fatalf("expected phone and N/A placeholder:\n%s", body)
	}
	if !strings.Contains(body, "5,000 IQD") {
		t.Fatalf("expected formatted paid amount:\n%s", body)
	}
	if strings.Contains(body, "Omar") {
		t.Fatalf("fully paid unit listed:\n%s", body)
	}
	lines := strings.Split(strings.TrimRight(body, "\n"), "\n")
	if got := len(lines) - 4; got != r.Count {
		t.Fatalf("row count %d, want %d", got, r.Count)
	}
	if !strings.HasPrefix(lines[4], "3 ") {
		t.Fatalf("rows should be sorted by house number, first row %q", lines[4])
	}

	if _, err := s.UnpaidReport(3); err == nil {
		t.Fatalf("expected error for unknown floor")
	}
}

func mustPay(t *testing.T, s *Store, id core.Identity, amount int64) {
	t.Helper()
	if _, err := s.ApplyPayment(context.Background(), id, amount); err != nil {
		t.Fatalf("ApplyPayment(%s, %d): %v", id, amount, err)
	}
}
