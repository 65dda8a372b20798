package auction

import (
	"context"
	"sort"
	"sync"
	"time"
)

// InMemory implements Store with in-process concurrency safety. It backs
// tests and single-node deployments without Postgres.
type InMemory struct {
	mu       sync.RWMutex
	auctions map[string]*Auction
	bids     map[string]map[string]*Bid // auctionID -> supplierToken -> bid
	history  map[string][]HistoryEntry
	tokens   map[string]string // supplier token -> auctionID
}

var _ Store = (*InMemory)(nil)

// NewInMemory creates an empty store.
func NewInMemory() *InMemory {
	return &InMemory{
		auctions: make(map[string]*Auction),
		bids:     make(map[string]map[string]*Bid),
		history:  make(map[string][]HistoryEntry),
		tokens:   make(map[string]string),
	}
}

func (s *InMemory) CreateAuction(ctx context.Context, a Auction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := copyAuction(&a)
	s.auctions[a.ID] = cp
	s.bids[a.ID] = make(map[string]*Bid)
	for _, sup := range a.Suppliers {
		s.tokens[sup.Token] = a.ID
	}
	return nil
}

func (s *InMemory) GetAuction(ctx context.Context, id string) (Auction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.auctions[id]
	if !ok {
		return Auction{}, ErrNotFound
	}
	return *copyAuction(a), nil
}

func (s *InMemory) ListAuctions(ctx context.Context) ([]Auction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Auction, 0, len(s.auctions))
	for _, a := range s.auctions {
		out = append(out, *copyAuction(a))
	}
	// newest first, matching the buyer dashboard feed
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *InMemory) UpdateAuctionState(ctx context.Context, id string, status Status, startTime, endTime *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.auctions[id]
	if !ok {
		return ErrNotFound
	}
	a.Status = status
	if startTime != nil {
		t := *startTime
		a.StartTime = &t
	}
	if endTime != nil {
		t := *endTime
		a.EndTime = &t
	}
	return nil
}

func (s *InMemory) AuctionIDForSupplierToken(ctx context.Context, token string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.tokens[token]
	if !ok {
		return "", ErrNotFound
	}
	return id, nil
}

func (s *InMemory) ListBids(ctx context.Context, auctionID string) ([]Bid, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	byToken, ok := s.bids[auctionID]
	if !ok {
		if _, exists := s.auctions[auctionID]; !exists {
			return nil, ErrNotFound
		}
		return nil, nil
	}
	out := make([]Bid, 0, len(byToken))
	for _, b := range byToken {
		out = append(out, *copyBid(b))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Rank < out[j].Rank })
	return out, nil
}

func (s *InMemory) GetBid(ctx context.Context, auctionID, supplierToken string) (Bid, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	byToken, ok := s.bids[auctionID]
	if !ok {
		return Bid{}, ErrNotFound
	}
	b, ok := byToken[supplierToken]
	if !ok {
		return Bid{}, ErrNotFound
	}
	return *copyBid(b), nil
}

func (s *InMemory) ApplyBid(ctx context.Context, change ApplyBidChange) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.auctions[change.Bid.AuctionID]
	if !ok {
		return ErrNotFound
	}
	byToken := s.bids[change.Bid.AuctionID]
	if byToken == nil {
		byToken = make(map[string]*Bid)
		s.bids[change.Bid.AuctionID] = byToken
	}

	byToken[change.Bid.SupplierToken] = copyBid(&change.Bid)
	s.history[change.Bid.AuctionID] = append(s.history[change.Bid.AuctionID], change.Entry)

	for _, b := range byToken {
		if rank, ok := change.Ranks[b.ID]; ok {
			b.Rank = rank
		}
	}

	if change.NewEndTime != nil {
		t := *change.NewEndTime
		a.EndTime = &t
	}
	return nil
}

func (s *InMemory) ListHistory(ctx context.Context, auctionID string) ([]HistoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.auctions[auctionID]; !ok {
		return nil, ErrNotFound
	}
	src := s.history[auctionID]
	out := make([]HistoryEntry, len(src))
	copy(out, src)
	return out, nil
}

// --- copies ---

func copyAuction(a *Auction) *Auction {
	cp := *a
	cp.Items = append([]Item(nil), a.Items...)
	cp.Suppliers = append([]Supplier(nil), a.Suppliers...)
	if a.StartTime != nil {
		t := *a.StartTime
		cp.StartTime = &t
	}
	if a.EndTime != nil {
		t := *a.EndTime
		cp.EndTime = &t
	}
	return &cp
}

func copyBid(b *Bid) *Bid {
	cp := *b
	cp.ItemBids = append([]ItemBid(nil), b.ItemBids...)
	if b.WarrantyMonths != nil {
		w := *b.WarrantyMonths
		cp.WarrantyMonths = &w
	}
	return &cp
}
