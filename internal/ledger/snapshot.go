package ledger

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/go-playground/validator/v10"

	"housefees/internal/core"
)

// snapshotRecord is the on-disk shape of one unit. Pointer fields let the
// validator tell a missing field from a zero value.
type snapshotRecord struct {
	HouseNumber  *int    `json:"house_number" validate:"required,gt=0"`
	OwnerName    *string `json:"owner_name" validate:"required"`
	PhoneNumber  *string `json:"phone_number,omitempty"`
	Floor        *int    `json:"floor" validate:"required,gt=0"`
	BranchNumber *int    `json:"branch_number" validate:"required,gte=0"`
	PaidAmount   *int64  `json:"paid_amount" validate:"required,gte=0"`
}

var snapshotValidate = validator.New()

func toRecord(u core.Unit) snapshotRecord {
	house, floor, branch, paid, owner := u.HouseNumber, u.Floor, u.BranchNumber, u.PaidAmount, u.OwnerName
	return snapshotRecord{
		HouseNumber:  &house,
		OwnerName:    &owner,
		PhoneNumber:  u.PhoneNumber,
		Floor:        &floor,
		BranchNumber: &branch,
		PaidAmount:   &paid,
	}
}

func (r snapshotRecord) unit() core.Unit {
	return core.Unit{
		HouseNumber:  *r.HouseNumber,
		OwnerName:    *r.OwnerName,
		PhoneNumber:  r.PhoneNumber,
		Floor:        *r.Floor,
		BranchNumber: *r.BranchNumber,
		PaidAmount:   *r.PaidAmount,
	}
}

// EncodeSnapshot serializes units into the persisted snapshot format: a JSON
// object keyed by identity, indented with four spaces, keys in sorted order.
func EncodeSnapshot(units map[core.Identity]core.Unit) ([]byte, error) {
	out := make(map[string]snapshotRecord, len(units))
	for id, u := range units {
		out[string(id)] = toRecord(u)
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "    ")
	if err := enc.Encode(out); err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeSnapshot parses and validates a snapshot. Any document that is not a
// JSON object of fully populated unit records fails with core.ErrInvalidFormat.
func DecodeSnapshot(data []byte) (map[core.Identity]core.Unit, error) {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return nil, fmt.Errorf("%w: top level is %s, not an object", core.ErrInvalidFormat, typeErr.Value)
		}
		return nil, fmt.Errorf("%w: %v", core.ErrInvalidFormat, err)
	}
	if raw == nil {
		return nil, fmt.Errorf("%w: top level is null, not an object", core.ErrInvalidFormat)
	}

	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	units := make(map[core.Identity]core.Unit, len(raw))
	for _, key := range keys {
		u, err := decodeRecord(key, raw[key])
		if err != nil {
			return nil, fmt.Errorf("%w: record %q: %v", core.ErrInvalidFormat, key, err)
		}
		units[core.Identity(key)] = u
	}
	return units, nil
}

func decodeRecord(key string, msg json.RawMessage) (core.Unit, error) {
	dec := json.NewDecoder(bytes.NewReader(msg))
	dec.DisallowUnknownFields()
	var rec snapshotRecord
	if err := dec.Decode(&rec); err != nil {
		return core.Unit{}, err
	}
	if err := snapshotValidate.Struct(rec); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return core.Unit{}, fmt.Errorf("field %s failed %q", verrs[0].Field(), verrs[0].Tag())
		}
		return core.Unit{}, err
	}
	u := rec.unit()
	floor, house, err := core.ParseIdentity(key)
	if err != nil {
		return core.Unit{}, err
	}
	if floor != u.Floor || house != u.HouseNumber || core.Identity(key) != u.Identity() {
		return core.Unit{}, fmt.Errorf("key does not match floor %d house %d", u.Floor, u.HouseNumber)
	}
	return u, nil
}
