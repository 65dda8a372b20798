package auction

import (
	"context"
	"time"
)

// ApplyBidChange is the full change set produced by one accepted bid.
// A store must apply it atomically: either the bid upsert, the history
// entry, every rank update and the optional deadline extension all become
// durable, or none of them do.
type ApplyBidChange struct {
	Bid        Bid
	Entry      HistoryEntry
	Ranks      map[string]int // bid ID -> recomputed rank
	NewEndTime *time.Time     // set when the anti-sniping extension fired
}

// Store is the persistence abstraction handed to the engine. The engine
// owns all business invariants; a store only provides durable reads and
// atomically-applied writes.
type Store interface {
	CreateAuction(ctx context.Context, a Auction) error
	GetAuction(ctx context.Context, id string) (Auction, error)
	ListAuctions(ctx context.Context) ([]Auction, error)

	// UpdateAuctionState applies a lifecycle transition (status plus the
	// optional start/end timestamps) as a single atomic write.
	UpdateAuctionState(ctx context.Context, id string, status Status, startTime, endTime *time.Time) error

	// AuctionIDForSupplierToken resolves a supplier token through the
	// token index maintained at auction creation time.
	AuctionIDForSupplierToken(ctx context.Context, token string) (string, error)

	ListBids(ctx context.Context, auctionID string) ([]Bid, error)
	GetBid(ctx context.Context, auctionID, supplierToken string) (Bid, error)

	// ApplyBid atomically commits an accepted bid with all its derived
	// effects. See ApplyBidChange.
	ApplyBid(ctx context.Context, change ApplyBidChange) error

	ListHistory(ctx context.Context, auctionID string) ([]HistoryEntry, error)
}
