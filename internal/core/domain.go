package core

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const (
	// MonthlyFee is the amount a unit must reach in a billing cycle to count as fully paid.
	MonthlyFee int64 = 25000

	// AllFloors disables the floor filter in queries that accept one.
	AllFloors = 0
)

// PaymentAmounts are the denominations accepted for a single payment.
var PaymentAmounts = []int64{5000, 10000, 15000, 20000, 25000}

// Floors lists the floors of the complex in merge and display order.
var Floors = []int{1, 2}

type (
	// Identity is the composite key of a unit, formatted "{floor}-{house_number}".
	Identity string

	Unit struct {
		HouseNumber  int
		OwnerName    string
		PhoneNumber  *string
		Floor        int
		BranchNumber int
		PaidAmount   int64
	}

	// PaymentStatus classifies a unit's paid amount against MonthlyFee.
	PaymentStatus string
)

const (
	StatusUnpaid    PaymentStatus = "unpaid"
	StatusPartial   PaymentStatus = "partial"
	StatusFullyPaid PaymentStatus = "fully_paid"
)

var (
	ErrNotFound        = errors.New("unit not found")
	ErrInvalidAmount   = errors.New("invalid amount")
	ErrInvalidFormat   = errors.New("invalid snapshot format")
	ErrPersistence     = errors.New("persistence failure")
	ErrDelivery        = errors.New("delivery failure")
	ErrInvalidIdentity = errors.New("invalid identity")
	ErrUnknownFloor    = errors.New("unknown floor")
	// ErrNoSnapshot is returned by persistence backends that hold no snapshot yet.
	ErrNoSnapshot = errors.New("no snapshot")
)

// IdentityOf builds the composite key for a floor and house number.
func IdentityOf(floor, houseNumber int) Identity {
	return Identity(fmt.Sprintf("%d-%d", floor, houseNumber))
}

// ParseIdentity splits an identity back into floor and house number.
func ParseIdentity(s string) (floor, houseNumber int, err error) {
	f, h, ok := strings.Cut(strings.TrimSpace(s), "-")
	if !ok {
		return 0, 0, fmt.Errorf("%w: %q", ErrInvalidIdentity, s)
	}
	floor, err = strconv.Atoi(f)
	if err != nil || floor < 1 {
		return 0, 0, fmt.Errorf("%w: %q", ErrInvalidIdentity, s)
	}
	houseNumber, err = strconv.Atoi(h)
	if err != nil || houseNumber < 1 {
		return 0, 0, fmt.Errorf("%w: %q", ErrInvalidIdentity, s)
	}
	return floor, houseNumber, nil
}

func (id Identity) String() string {
	return string(id)
}

// Identity returns the unit's composite key.
func (u Unit) Identity() Identity {
	return IdentityOf(u.Floor, u.HouseNumber)
}

// FullyPaid reports whether the unit has reached MonthlyFee.
func (u Unit) FullyPaid() bool {
	return u.PaidAmount >= MonthlyFee
}

func (u Unit) Status() PaymentStatus {
	switch {
	case u.FullyPaid():
		return StatusFullyPaid
	case u.PaidAmount > 0:
		return StatusPartial
	default:
		return StatusUnpaid
	}
}

// Phone returns the phone number or an empty string when absent.
func (u Unit) Phone() string {
	if u.PhoneNumber == nil {
		return ""
	}
	return *u.PhoneNumber
}

func (u Unit) Validate() error {
	if u.HouseNumber < 1 {
		return fmt.Errorf("house number %d: must be positive", u.HouseNumber)
	}
	if u.Floor < 1 {
		return fmt.Errorf("floor %d: must be positive", u.Floor)
	}
	if u.BranchNumber < 0 {
		return fmt.Errorf("branch %d: must not be negative", u.BranchNumber)
	}
	if u.PaidAmount < 0 {
		return fmt.Errorf("paid amount %d: must not be negative", u.PaidAmount)
	}
	return nil
}

// ValidatePayment checks that amount is one of PaymentAmounts.
func ValidatePayment(amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidAmount, amount)
	}
	for _, allowed := range PaymentAmounts {
		if amount == allowed {
			return nil
		}
	}
	return fmt.Errorf("%w: %d is not an accepted denomination", ErrInvalidAmount, amount)
}

// KnownFloor reports whether floor is one of Floors.
func KnownFloor(floor int) bool {
	for _, f := range Floors {
		if f == floor {
			return true
		}
	}
	return false
}

// StringPtr is a convenience for optional phone numbers.
func StringPtr(s string) *string {
	return &s
}
