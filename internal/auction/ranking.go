package auction

import (
	"sort"
)

// Rank labels shown to suppliers. Presentation metadata only; no business
// logic keys off them.
const (
	LabelLeading  = "leading"
	LabelSecond   = "second"
	LabelTrailing = "trailing"
)

// rankBids returns the bids in their deterministic total order (ascending
// total amount, ties broken by the earlier update) with 1-based ranks
// assigned. The input slice is not modified; ranking is always recomputed
// from scratch over the full bid set, never patched incrementally.
func rankBids(bids []Bid) []Bid {
	ranked := make([]Bid, len(bids))
	copy(ranked, bids)

	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].TotalAmount != ranked[j].TotalAmount {
			return ranked[i].TotalAmount < ranked[j].TotalAmount
		}
		return ranked[i].UpdatedAt.Before(ranked[j].UpdatedAt)
	})

	for i := range ranked {
		ranked[i].Rank = i + 1
	}
	return ranked
}

// bestBid returns the current L1 bid, or nil when there are no bids.
func bestBid(bids []Bid) *Bid {
	if len(bids) == 0 {
		return nil
	}
	ranked := rankBids(bids)
	return &ranked[0]
}

// RankLabel maps a 1-based rank to its supplier-facing label.
func RankLabel(rank int) string {
	switch rank {
	case 1:
		return LabelLeading
	case 2:
		return LabelSecond
	default:
		return LabelTrailing
	}
}

// RankColor maps a 1-based rank to the display color used by supplier
// rank notifications.
func RankColor(rank int) string {
	switch rank {
	case 1:
		return "green"
	case 2:
		return "orange"
	default:
		return "red"
	}
}
