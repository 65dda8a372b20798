package auction

import (
	"time"

	"github.com/shopspring/decimal"

	"bidflow.org/internal/money"
)

// deriveHistoryEntry builds the immutable ledger snapshot for an accepted
// bid. last is the previous ledger entry (nil for an empty ledger),
// bidsAfter is the full bid set with the accepted bid already applied,
// and round is 1 + the number of prior entries.
func deriveHistoryEntry(a *Auction, accepted Bid, entryType EntryType, last *HistoryEntry, bidsAfter []Bid, round int, now time.Time) HistoryEntry {
	whole := a.Config.MinDecrement.IsWhole()

	// Previous L1 defaults to the ceiling when the ledger is empty.
	prevL1 := a.Config.CeilingPrice
	if last != nil {
		prevL1 = last.L1UnitPrice
	}

	newUnit := displayUnitPrice(a, accepted.ItemBids, accepted.TotalAmount)

	// Decrement is floored at zero: a resubmission that does not improve
	// the display average never reports a negative step.
	dec := prevL1.Sub(newUnit)
	if !dec.IsPositive() {
		dec = 0
	}

	// L1 fields reflect the best bid after this submission is applied.
	l1Unit := a.Config.CeilingPrice
	l1Supplier := accepted.SupplierName
	if best := bestBid(bidsAfter); best != nil {
		l1Unit = displayUnitPrice(a, best.ItemBids, best.TotalAmount)
		l1Supplier = best.SupplierName
	}

	prices := make([]ItemBid, len(accepted.ItemBids))
	copy(prices, accepted.ItemBids)

	return HistoryEntry{
		Round:          round,
		Timestamp:      now,
		SupplierName:   accepted.SupplierName,
		SupplierToken:  accepted.SupplierToken,
		ItemPrices:     prices,
		TotalAmount:    accepted.TotalAmount,
		UnitPriceAvg:   roundDisplay(newUnit, whole),
		Decrement:      roundDisplay(dec, whole),
		L1UnitPrice:    roundDisplay(l1Unit, whole),
		L1Supplier:     l1Supplier,
		DeliveryDays:   accepted.DeliveryDays,
		WarrantyMonths: accepted.WarrantyMonths,
		EntryType:      entryType,
	}
}

// displayUnitPrice is the single item's unit price for one-item auctions,
// otherwise the total divided by the summed quantity.
func displayUnitPrice(a *Auction, items []ItemBid, total money.Money) money.Money {
	if len(items) == 1 {
		return items[0].UnitPrice
	}
	qty := decimal.NewFromFloat(a.TotalQuantity())
	return money.FromDecimal(total.Decimal().Div(qty))
}

// roundDisplay applies the ledger's display precision: whole major units
// when the configured decrement is whole, two decimal places otherwise.
func roundDisplay(m money.Money, whole bool) money.Money {
	if whole {
		return m.RoundWhole()
	}
	return m
}
