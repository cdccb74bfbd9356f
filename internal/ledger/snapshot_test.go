package ledger

import (
	"errors"
	"strings"
	"testing"

	"housefees/internal/core"
)

func TestSnapshotRoundTripPreservesRecords(t *testing.T) {
	units := map[core.Identity]core.Unit{
		"1-5":  {HouseNumber: 5, OwnerName: "Fatima <Al-Jubouri>", Floor: 1, BranchNumber: 1, PaidAmount: 15000},
		"2-12": {HouseNumber: 12, OwnerName: "", PhoneNumber: core.StringPtr("0770 123 4567"), Floor: 2, BranchNumber: 2},
	}
	data, err := EncodeSnapshot(units)
	if err != nil {
		t.Fatalf("EncodeSnapshot: %v", err)
	}
	text := string(data)
	if !strings.Contains(text, "\n    \"1-5\": {") {
		t.Fatalf("expected four-space indentation:\n%s", text)
	}
	if !strings.Contains(text, "<Al-Jubouri>") {
		t.Fatalf("HTML characters should not be escaped:\n%s", text)
	}
	if strings.Index(text, "\"1-5\"") > strings.Index(text, "\"2-12\"") {
		t.Fatalf("keys should be sorted:\n%s", text)
	}

	got, err := DecodeSnapshot(data)
	if err != nil {
		t.Fatalf("DecodeSnapshot: %v", err)
	}
	if len(got) != len(units) {
		t.Fatalf("got %d records, want %d", len(got), len(units))
	}
	for id, want := range units {
		u := got[id]
		if u.HouseNumber != want.HouseNumber || u.OwnerName != want.OwnerName ||
			u.Floor != want.Floor || u.BranchNumber != want.BranchNumber ||
			u.PaidAmount != want.PaidAmount || u.Phone() != want.Phone() {
			t.Errorf("record %s = %+v, want %+v", id, u, want)
		}
	}
	if got["1-5"].PhoneNumber != nil {
		t.Errorf("absent phone should stay absent")
	}
}

func TestDecodeSnapshotAcceptsNullPhoneAndEmptyObject(t *testing.T) {
	doc := `{"1-1": {"house_number": 1, "owner_name": "A", "phone_number": null, "floor": 1, "branch_number": 0, "paid_amount": 0}}`
	got, err := DecodeSnapshot([]byte(doc))
	if err != nil {
		t.Fatalf("DecodeSnapshot: %v", err)
	}
	if got["1-1"].PhoneNumber != nil {
		t.Fatalf("null phone should decode as absent")
	}

	empty, err := DecodeSnapshot([]byte("\xef\xbb\xbf{}"))
	if err != nil || len(empty) != 0 {
		t.Fatalf("empty object: got %v, %v", empty, err)
	}
}

func TestDecodeSnapshotRejectsMalformedDocuments(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"garbage", "this is not json"},
		{"array", `[1, 2, 3]`},
		{"null", `null`},
		{"string top level", `"hello"`},
		{"record not object", `{"1-1": 5}`},
		{"missing field", `{"1-1": {"house_number": 1, "owner_name": "A", "floor": 1, "branch_number": 1}}`},
		{"wrong type", `{"1-1": {"house_number": "1", "owner_name": "A", "floor": 1, "branch_number": 1, "paid_amount": 0}}`},
		{"negative paid", `{"1-1": {"house_number": 1, "owner_name": "A", "floor": 1, "branch_number": 1, "paid_amount": -5}}`},
		{"unknown field", `{"1-1": {"house_number": 1, "owner_name": "A", "floor": 1, "branch_number": 1, "paid_amount": 0, "extra": true}}`},
		{"key mismatch", `{"1-2": {"house_number": 1, "owner_name": "A", "floor": 1, "branch_number": 1, "paid_amount": 0}}`},
		{"non canonical key", `{"01-1": {"house_number": 1, "owner_name": "A", "floor": 1, "branch_number": 1, "paid_amount": 0}}`},
		{"bad key", `{"house": {"house_number": 1, "owner_name": "A", "floor": 1, "branch_number": 1, "paid_amount": 0}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeSnapshot([]byte(tt.doc))
			if !errors.Is(err, core.ErrInvalidFormat) {
				t.Fatalf("expected ErrInvalidFormat, got %v", err)
			}
		})
	}
}
