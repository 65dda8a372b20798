package auction

import (
	"errors"
	"testing"

	"bidflow.org/internal/money"
)

func mustMoney(t *testing.T, s string) money.Money {
	t.Helper()
	m, err := money.Parse(s)
	if err != nil {
		t.Fatalf("parse money %q: %v", s, err)
	}
	return m
}

func wholeConfig(t *testing.T) Config {
	t.Helper()
	return Config{
		CeilingPrice:    mustMoney(t, "5000.00"),
		MinDecrement:    mustMoney(t, "100.00"),
		DurationMinutes: 30,
		BufferMinutes:   2,
	}
}

func kindOf(t *testing.T, err error) ValidationKind {
	t.Helper()
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected *ValidationError, got %v", err)
	}
	if !errors.Is(err, ErrValidation) {
		t.Fatal("validation error must unwrap to ErrValidation")
	}
	return verr.Kind
}

func TestValidateAcceptsOnStepPrice(t *testing.T) {
	cfg := wholeConfig(t)
	err := validateItemPrices(cfg, nil, []ItemBid{{ItemCode: "I1", UnitPrice: mustMoney(t, "4900.00")}})
	if err != nil {
		t.Fatalf("4900.00 must be accepted against ceiling 5000/step 100: %v", err)
	}
}

func TestValidateRejectsCeilingAndAbove(t *testing.T) {
	cfg := wholeConfig(t)
	for _, price := range []string{"5000.00", "5100.00"} {
		err := validateItemPrices(cfg, nil, []ItemBid{{ItemCode: "I1", UnitPrice: mustMoney(t, price)}})
		if got := kindOf(t, err); got != PriceAboveCeiling {
			t.Fatalf("price %s: kind = %s, want %s", price, got, PriceAboveCeiling)
		}
	}
}

func TestValidateRejectsOffStepPrice(t *testing.T) {
	cfg := wholeConfig(t)
	err := validateItemPrices(cfg, nil, []ItemBid{{ItemCode: "I1", UnitPrice: mustMoney(t, "4850.00")}})
	if got := kindOf(t, err); got != PriceNotOnDecrementStep {
		t.Fatalf("kind = %s, want %s", got, PriceNotOnDecrementStep)
	}

	var verr *ValidationError
	errors.As(err, &verr)
	if len(verr.NearestValid) < 3 {
		t.Fatalf("expected at least 3 reference prices, got %v", verr.NearestValid)
	}
	want := []string{"4900.00", "4800.00", "4700.00"}
	for i, w := range want {
		if verr.NearestValid[i] != mustMoney(t, w) {
			t.Fatalf("reference price %d = %s, want %s", i, verr.NearestValid[i], w)
		}
	}
}

func TestValidateRejectsFractionalPriceUnderWholeDecrement(t *testing.T) {
	cfg := wholeConfig(t)
	err := validateItemPrices(cfg, nil, []ItemBid{{ItemCode: "I1", UnitPrice: mustMoney(t, "4900.50")}})
	if got := kindOf(t, err); got != PriceNotWholeNumber {
		t.Fatalf("kind = %s, want %s", got, PriceNotWholeNumber)
	}
}

func TestValidateAllowsFractionsUnderFractionalDecrement(t *testing.T) {
	cfg := Config{
		CeilingPrice: mustMoney(t, "100.00"),
		MinDecrement: mustMoney(t, "0.50"),
	}
	err := validateItemPrices(cfg, nil, []ItemBid{{ItemCode: "I1", UnitPrice: mustMoney(t, "99.50")}})
	if err != nil {
		t.Fatalf("99.50 must be legal under a 0.50 decrement: %v", err)
	}
}

func TestValidateUndercutOfCurrentLeader(t *testing.T) {
	cfg := Config{
		CeilingPrice: mustMoney(t, "48.00"),
		MinDecrement: mustMoney(t, "3.00"),
	}
	best := &Bid{
		ItemBids:    []ItemBid{{ItemCode: "I1", UnitPrice: mustMoney(t, "45.00")}},
		TotalAmount: mustMoney(t, "45.00"),
	}

	// 45.00 is on-step but does not undercut the 45.00 leader by a full
	// 3.00 decrement; the maximum allowed is 42.00.
	err := validateItemPrices(cfg, best, []ItemBid{{ItemCode: "I1", UnitPrice: mustMoney(t, "45.00")}})
	if got := kindOf(t, err); got != PriceDoesNotBeatCurrentLeader {
		t.Fatalf("kind = %s, want %s", got, PriceDoesNotBeatCurrentLeader)
	}

	// 42.00 is exactly one decrement below the leader.
	err = validateItemPrices(cfg, best, []ItemBid{{ItemCode: "I1", UnitPrice: mustMoney(t, "42.00")}})
	if err != nil {
		t.Fatalf("42.00 must be accepted: %v", err)
	}
}

func TestValidateUndercutReportsMaxAllowed(t *testing.T) {
	cfg := Config{
		CeilingPrice: mustMoney(t, "48.00"),
		MinDecrement: mustMoney(t, "3.00"),
	}
	best := &Bid{ItemBids: []ItemBid{{ItemCode: "I1", UnitPrice: mustMoney(t, "45.00")}}}

	err := validateItemPrices(cfg, best, []ItemBid{{ItemCode: "I1", UnitPrice: mustMoney(t, "45.00")}})
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if verr.Kind != PriceDoesNotBeatCurrentLeader {
		t.Fatalf("kind = %s", verr.Kind)
	}
	if verr.Limit != mustMoney(t, "42.00") {
		t.Fatalf("max allowed = %s, want 42.00", verr.Limit)
	}
}

func TestValidateFailsFastInOrder(t *testing.T) {
	// A price both above ceiling and off-step must report the ceiling
	// violation, the first check in the sequence.
	cfg := wholeConfig(t)
	err := validateItemPrices(cfg, nil, []ItemBid{{ItemCode: "I1", UnitPrice: mustMoney(t, "5050.00")}})
	if got := kindOf(t, err); got != PriceAboveCeiling {
		t.Fatalf("kind = %s, want %s", got, PriceAboveCeiling)
	}
}

func TestNearestStepPricesStayPositive(t *testing.T) {
	ceiling := mustMoney(t, "10.00")
	step := mustMoney(t, "4.00")
	refs := nearestStepPrices(ceiling, step, mustMoney(t, "1.00"), 3)
	for _, r := range refs {
		if !r.IsPositive() {
			t.Fatalf("reference price %s is not positive", r)
		}
	}
	if len(refs) == 0 {
		t.Fatal("expected at least one reference price")
	}
}
