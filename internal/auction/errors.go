package auction

import (
	"errors"
	"fmt"
	"strings"

	"bidflow.org/internal/money"
)

var (
	ErrNotFound     = errors.New("auction: not found")
	ErrInvalidState = errors.New("auction: invalid lifecycle state")
	ErrNotActive    = errors.New("auction: auction is not active")
	ErrUnauthorized = errors.New("auction: unknown supplier token")
	ErrValidation   = errors.New("auction: bid validation failed")

	// ErrPersistence wraps a failed store commit. The whole accept
	// sequence is aborted and the caller may retry.
	ErrPersistence = errors.New("auction: persistence failure")
)

// ValidationKind identifies which pricing rule a candidate bid broke.
type ValidationKind string

const (
	PriceAboveCeiling             ValidationKind = "price_above_ceiling"
	PriceNotWholeNumber           ValidationKind = "price_not_whole_number"
	PriceNotOnDecrementStep       ValidationKind = "price_not_on_decrement_step"
	PriceDoesNotBeatCurrentLeader ValidationKind = "price_does_not_beat_current_leader"
)

// ValidationError reports a rejected price with enough detail for the
// submitter to self-correct. It unwraps to ErrValidation.
type ValidationError struct {
	Kind         ValidationKind
	ItemCode     string
	Price        money.Money
	Limit        money.Money   // ceiling, decrement or max allowed unit price, depending on Kind
	NearestValid []money.Money // legal reference prices, set for step violations
	whole        bool          // display rounding of the message
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

func (e *ValidationError) Error() string {
	p := e.Price.Format(e.whole)
	switch e.Kind {
	case PriceAboveCeiling:
		return fmt.Sprintf("unit price %s for item %s must be lower than the ceiling price %s",
			p, e.ItemCode, e.Limit.Format(e.whole))
	case PriceNotWholeNumber:
		return fmt.Sprintf("unit price %s for item %s must be a whole number because the minimum decrement %s is a whole number",
			e.Price.Format(false), e.ItemCode, e.Limit.Format(true))
	case PriceNotOnDecrementStep:
		refs := make([]string, 0, len(e.NearestValid))
		for _, v := range e.NearestValid {
			refs = append(refs, v.Format(e.whole))
		}
		return fmt.Sprintf("unit price %s for item %s must be a multiple of %s below the ceiling; nearest valid prices: %s",
			p, e.ItemCode, e.Limit.Format(e.whole), strings.Join(refs, ", "))
	case PriceDoesNotBeatCurrentLeader:
		return fmt.Sprintf("unit price %s for item %s must undercut the current leader by at least one decrement; maximum allowed is %s",
			p, e.ItemCode, e.Limit.Format(e.whole))
	default:
		return fmt.Sprintf("unit price %s for item %s is not acceptable", p, e.ItemCode)
	}
}
