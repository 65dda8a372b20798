package auction

import (
	"bidflow.org/internal/money"
)

// validateItemPrices applies the pricing rules to a candidate bid, in
// order, failing fast on the first violation. best is the current L1 bid
// or nil when no bid has been accepted yet. The auction is assumed to be
// Active and the supplier token already verified by the caller.
func validateItemPrices(cfg Config, best *Bid, items []ItemBid) error {
	ceiling := cfg.CeilingPrice
	step := cfg.MinDecrement
	wholeStep := step.IsWhole()

	for _, ib := range items {
		// Rule: strictly below the ceiling. Equality is rejected.
		if ib.UnitPrice >= ceiling {
			return &ValidationError{
				Kind:     PriceAboveCeiling,
				ItemCode: ib.ItemCode,
				Price:    ib.UnitPrice,
				Limit:    ceiling,
				whole:    wholeStep,
			}
		}

		if !step.IsPositive() {
			continue
		}

		// Rule: whole-unit decrements forbid fractional prices.
		if wholeStep && !ib.UnitPrice.IsWhole() {
			return &ValidationError{
				Kind:     PriceNotWholeNumber,
				ItemCode: ib.ItemCode,
				Price:    ib.UnitPrice,
				Limit:    step,
				whole:    wholeStep,
			}
		}

		// Rule: price must equal ceiling - k*decrement for a positive
		// integer k. Integer minor-unit arithmetic, so accumulated float
		// error can never admit an off-step price.
		diff := ceiling.Sub(ib.UnitPrice)
		if !diff.IsPositive() || diff.Mod(step) != 0 {
			return &ValidationError{
				Kind:         PriceNotOnDecrementStep,
				ItemCode:     ib.ItemCode,
				Price:        ib.UnitPrice,
				Limit:        step,
				NearestValid: nearestStepPrices(ceiling, step, ib.UnitPrice, 3),
				whole:        wholeStep,
			}
		}
	}

	// Rule: each unit price must undercut the current leader's price for
	// the same item position by at least one full decrement.
	if best != nil {
		for i, ib := range items {
			if i >= len(best.ItemBids) {
				break
			}
			maxAllowed := best.ItemBids[i].UnitPrice.Sub(step)
			if ib.UnitPrice > maxAllowed {
				return &ValidationError{
					Kind:     PriceDoesNotBeatCurrentLeader,
					ItemCode: ib.ItemCode,
					Price:    ib.UnitPrice,
					Limit:    maxAllowed,
					whole:    wholeStep,
				}
			}
		}
	}

	return nil
}

// nearestStepPrices returns up to n legal price levels closest to the
// offending price, all strictly below the ceiling and above zero.
func nearestStepPrices(ceiling, step, price money.Money, n int) []money.Money {
	if !step.IsPositive() || n <= 0 {
		return nil
	}
	diff := ceiling.Sub(price)
	k := int64(diff) / int64(step)
	if k < 1 {
		k = 1
	}
	out := make([]money.Money, 0, n)
	for i := int64(0); len(out) < n; i++ {
		candidate := ceiling.Sub(step.MulInt(k + i))
		if !candidate.IsPositive() {
			break
		}
		out = append(out, candidate)
	}
	// Walk upward from k-1 toward the ceiling if going down ran out of
	// positive price levels.
	for i := k - 1; len(out) < n && i >= 1; i-- {
		out = append(out, ceiling.Sub(step.MulInt(i)))
	}
	return out
}
