package auction

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"bidflow.org/internal/ids"
	"bidflow.org/internal/money"
)

// Event types pushed to subscribers.
const (
	EventStarted    = "auction_started"
	EventTerminated = "auction_terminated"
	EventExtended   = "auction_extended"
	EventRankUpdate = "rank_update"
	EventBidsUpdate = "bids_update"
)

// Notifier receives engine events for fan-out. Delivery is fire-and-forget
// relative to the transaction that produced the event: a slow or failed
// subscriber never blocks or rolls back an accepted bid.
type Notifier interface {
	NotifyBuyer(auctionID, eventType string, data any)
	NotifySupplier(token, eventType string, data any)
}

// Service is the operation set consumed by the transport layer.
type Service interface {
	CreateAuction(ctx context.Context, in CreateAuctionInput) (Auction, error)
	GetAuction(ctx context.Context, id string) (Auction, error)
	ListAuctions(ctx context.Context) ([]AuctionSummary, error)
	StartAuction(ctx context.Context, id string) (time.Time, error)
	TerminateAuction(ctx context.Context, id string) error

	SupplierView(ctx context.Context, token string) (SupplierView, error)
	SubmitBid(ctx context.Context, in SubmitBidInput) (BidReceipt, error)
	GetSupplierBid(ctx context.Context, auctionID, token string) (Bid, error)

	GetLeaderboard(ctx context.Context, auctionID string) ([]LeaderboardRow, error)
	GetHistory(ctx context.Context, auctionID string) ([]HistoryEntry, error)
}

// CreateAuctionInput carries everything a buyer provides up front.
type CreateAuctionInput struct {
	BuyerID          string
	Title            string
	ReferenceNumber  string
	Description      string
	PaymentTerms     string
	DeliveryTerms    string
	FreightCondition string
	Items            []Item
	Suppliers        []Supplier // tokens are issued by the engine
	Config           Config
}

// SubmitBidInput is one candidate bid from a supplier.
type SubmitBidInput struct {
	AuctionID      string
	SupplierToken  string
	ItemPrices     []ItemBid
	DeliveryDays   int
	WarrantyMonths *int
	Remarks        string
}

// BidReceipt is returned to the submitter after acceptance.
// ExtendedUntil is set when the bid landed inside the anti-sniping
// buffer and pushed the deadline out.
type BidReceipt struct {
	BidID         string      `json:"bid_id"`
	Rank          int         `json:"rank"`
	Label         string      `json:"label"`
	TotalAmount   money.Money `json:"total_amount"`
	UpdatedAt     time.Time   `json:"updated_at"`
	ExtendedUntil *time.Time  `json:"extended_until,omitempty"`
}

// ErrInvalidInput marks a malformed request rejected before validation.
var ErrInvalidInput = errors.New("auction: invalid input")

// Engine implements Service on top of a Store. All work for one auction
// runs under that auction's mutex, from the lazy-expiry check through
// validation, commit, history append, rank recomputation and the
// extension check. Distinct auctions proceed fully in parallel.
type Engine struct {
	store    Store
	notifier Notifier
	now      func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

var _ Service = (*Engine)(nil)

// NewEngine wires the engine. notifier may be nil.
func NewEngine(store Store, notifier Notifier) *Engine {
	return &Engine{
		store:    store,
		notifier: notifier,
		now:      func() time.Time { return time.Now().UTC() },
		locks:    make(map[string]*sync.Mutex),
	}
}

// lockAuction returns the per-auction mutex, creating it on first use.
func (e *Engine) lockAuction(id string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.locks[id]
	if !ok {
		l = &sync.Mutex{}
		e.locks[id] = l
	}
	return l
}

func (e *Engine) CreateAuction(ctx context.Context, in CreateAuctionInput) (Auction, error) {
	if strings.TrimSpace(in.Title) == "" {
		return Auction{}, fmt.Errorf("%w: title is required", ErrInvalidInput)
	}
	if len(in.Items) == 0 {
		return Auction{}, fmt.Errorf("%w: at least one item is required", ErrInvalidInput)
	}
	if len(in.Suppliers) == 0 {
		return Auction{}, fmt.Errorf("%w: at least one supplier is required", ErrInvalidInput)
	}
	if !in.Config.CeilingPrice.IsPositive() {
		return Auction{}, fmt.Errorf("%w: ceiling price must be positive", ErrInvalidInput)
	}
	if !in.Config.MinDecrement.IsPositive() {
		return Auction{}, fmt.Errorf("%w: minimum decrement must be positive", ErrInvalidInput)
	}
	if in.Config.DurationMinutes <= 0 {
		return Auction{}, fmt.Errorf("%w: duration must be positive", ErrInvalidInput)
	}
	if in.Config.BufferMinutes <= 0 {
		in.Config.BufferMinutes = 2
	}

	suppliers := make([]Supplier, len(in.Suppliers))
	copy(suppliers, in.Suppliers)
	for i := range suppliers {
		token, err := newSupplierToken()
		if err != nil {
			return Auction{}, fmt.Errorf("%w: %v", ErrPersistence, err)
		}
		suppliers[i].Token = token
	}

	a := Auction{
		ID:               ids.New(),
		BuyerID:          in.BuyerID,
		Title:            in.Title,
		ReferenceNumber:  in.ReferenceNumber,
		Description:      in.Description,
		PaymentTerms:     in.PaymentTerms,
		DeliveryTerms:    in.DeliveryTerms,
		FreightCondition: in.FreightCondition,
		Items:            in.Items,
		Suppliers:        suppliers,
		Config:           in.Config,
		Status:           StatusDraft,
		CreatedAt:        e.now(),
	}
	if err := e.store.CreateAuction(ctx, a); err != nil {
		return Auction{}, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return a, nil
}

func (e *Engine) GetAuction(ctx context.Context, id string) (Auction, error) {
	lock := e.lockAuction(id)
	lock.Lock()
	defer lock.Unlock()
	return e.loadLocked(ctx, id)
}

func (e *Engine) ListAuctions(ctx context.Context) ([]AuctionSummary, error) {
	auctions, err := e.store.ListAuctions(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	out := make([]AuctionSummary, 0, len(auctions))
	for _, a := range auctions {
		lock := e.lockAuction(a.ID)
		lock.Lock()
		current, err := e.expireLocked(ctx, a)
		if err != nil {
			lock.Unlock()
			return nil, err
		}
		bids, err := e.store.ListBids(ctx, a.ID)
		lock.Unlock()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
		}
		summary := AuctionSummary{Auction: current}
		if best := bestBid(bids); best != nil {
			l1 := best.TotalAmount
			summary.CurrentL1 = &l1
		}
		out = append(out, summary)
	}
	return out, nil
}

func (e *Engine) StartAuction(ctx context.Context, id string) (time.Time, error) {
	lock := e.lockAuction(id)
	lock.Lock()

	a, err := e.loadLocked(ctx, id)
	if err != nil {
		lock.Unlock()
		return time.Time{}, err
	}
	if a.Status != StatusDraft {
		lock.Unlock()
		return time.Time{}, fmt.Errorf("%w: cannot start auction in status %q", ErrInvalidState, a.Status)
	}

	start := e.now()
	end := start.Add(time.Duration(a.Config.DurationMinutes) * time.Minute)
	if err := e.store.UpdateAuctionState(ctx, id, StatusActive, &start, &end); err != nil {
		lock.Unlock()
		return time.Time{}, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	lock.Unlock()

	e.broadcast(a, EventStarted, map[string]any{
		"auction_id": id,
		"end_time":   end.Format(time.RFC3339Nano),
	})
	return end, nil
}

func (e *Engine) TerminateAuction(ctx context.Context, id string) error {
	lock := e.lockAuction(id)
	lock.Lock()

	a, err := e.loadLocked(ctx, id)
	if err != nil {
		lock.Unlock()
		return err
	}
	if a.Status != StatusActive {
		lock.Unlock()
		return fmt.Errorf("%w: cannot terminate auction in status %q", ErrInvalidState, a.Status)
	}
	if err := e.store.UpdateAuctionState(ctx, id, StatusCompleted, nil, nil); err != nil {
		lock.Unlock()
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	lock.Unlock()

	e.broadcast(a, EventTerminated, map[string]any{"auction_id": id})
	return nil
}

func (e *Engine) SupplierView(ctx context.Context, token string) (SupplierView, error) {
	auctionID, err := e.store.AuctionIDForSupplierToken(ctx, token)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return SupplierView{}, ErrUnauthorized
		}
		return SupplierView{}, fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	lock := e.lockAuction(auctionID)
	lock.Lock()
	a, err := e.loadLocked(ctx, auctionID)
	lock.Unlock()
	if err != nil {
		return SupplierView{}, err
	}

	supplier, ok := a.SupplierByToken(token)
	if !ok {
		return SupplierView{}, ErrUnauthorized
	}
	return SupplierView{
		AuctionID:        a.ID,
		Title:            a.Title,
		ReferenceNumber:  a.ReferenceNumber,
		Description:      a.Description,
		PaymentTerms:     a.PaymentTerms,
		DeliveryTerms:    a.DeliveryTerms,
		FreightCondition: a.FreightCondition,
		Items:            a.Items,
		Config:           a.Config,
		Status:           a.Status,
		Supplier:         supplier,
		StartTime:        a.StartTime,
		EndTime:          a.EndTime,
	}, nil
}

func (e *Engine) SubmitBid(ctx context.Context, in SubmitBidInput) (BidReceipt, error) {
	if len(in.ItemPrices) == 0 {
		return BidReceipt{}, fmt.Errorf("%w: item prices are required", ErrInvalidInput)
	}

	lock := e.lockAuction(in.AuctionID)
	lock.Lock()

	receipt, a, ranked, extendedTo, err := e.acceptBidLocked(ctx, in)
	lock.Unlock()
	if err != nil {
		return BidReceipt{}, err
	}

	// Fan-out happens outside the critical section.
	e.notifyRanks(a, ranked)
	if extendedTo != nil {
		e.broadcast(a, EventExtended, map[string]any{
			"auction_id":   a.ID,
			"new_end_time": extendedTo.Format(time.RFC3339Nano),
		})
	}
	return receipt, nil
}

// acceptBidLocked runs the whole accept sequence under the per-auction
// lock: lazy expiry, validation, derivation and one atomic store commit.
func (e *Engine) acceptBidLocked(ctx context.Context, in SubmitBidInput) (BidReceipt, Auction, []Bid, *time.Time, error) {
	a, err := e.loadLocked(ctx, in.AuctionID)
	if err != nil {
		return BidReceipt{}, Auction{}, nil, nil, err
	}

	supplier, ok := a.SupplierByToken(in.SupplierToken)
	if !ok {
		return BidReceipt{}, Auction{}, nil, nil, ErrUnauthorized
	}
	if a.Status != StatusActive {
		return BidReceipt{}, Auction{}, nil, nil, ErrNotActive
	}
	// A partial bid would compete with a lower total than a full quote.
	if len(in.ItemPrices) != len(a.Items) {
		return BidReceipt{}, Auction{}, nil, nil, fmt.Errorf("%w: bid must price all %d items, got %d", ErrInvalidInput, len(a.Items), len(in.ItemPrices))
	}

	bids, err := e.store.ListBids(ctx, a.ID)
	if err != nil {
		return BidReceipt{}, Auction{}, nil, nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	if err := validateItemPrices(a.Config, bestBid(bids), in.ItemPrices); err != nil {
		return BidReceipt{}, Auction{}, nil, nil, err
	}

	now := e.now()
	total := bidTotal(a.Items, in.ItemPrices)

	entryType := EntryNew
	bid := Bid{
		ID:            ids.New(),
		AuctionID:     a.ID,
		SupplierToken: in.SupplierToken,
		SupplierName:  supplier.Name,
		CreatedAt:     now,
	}
	if existing, err := e.store.GetBid(ctx, a.ID, in.SupplierToken); err == nil {
		// Replace in place: same row, CreatedAt preserved.
		bid.ID = existing.ID
		bid.CreatedAt = existing.CreatedAt
		entryType = EntryUpdate
	} else if !errors.Is(err, ErrNotFound) {
		return BidReceipt{}, Auction{}, nil, nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	bid.ItemBids = in.ItemPrices
	bid.TotalAmount = total
	bid.DeliveryDays = in.DeliveryDays
	bid.WarrantyMonths = in.WarrantyMonths
	bid.Remarks = in.Remarks
	bid.UpdatedAt = now

	// Bid set with this submission applied.
	after := make([]Bid, 0, len(bids)+1)
	for _, b := range bids {
		if b.SupplierToken != in.SupplierToken {
			after = append(after, b)
		}
	}
	after = append(after, bid)
	ranked := rankBids(after)

	history, err := e.store.ListHistory(ctx, a.ID)
	if err != nil {
		return BidReceipt{}, Auction{}, nil, nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	var last *HistoryEntry
	if len(history) > 0 {
		last = &history[len(history)-1]
	}
	entry := deriveHistoryEntry(&a, bid, entryType, last, ranked, len(history)+1, now)

	ranks := make(map[string]int, len(ranked))
	for _, b := range ranked {
		ranks[b.ID] = b.Rank
	}

	// Anti-sniping: additive extension when the bid lands inside the
	// buffer window. Runs on every accepted bid, updates included.
	var newEnd *time.Time
	if a.EndTime != nil {
		buffer := time.Duration(a.Config.BufferMinutes) * time.Minute
		if a.EndTime.Sub(now) < buffer {
			t := a.EndTime.Add(buffer)
			newEnd = &t
		}
	}

	change := ApplyBidChange{Bid: bid, Entry: entry, Ranks: ranks, NewEndTime: newEnd}
	if err := e.store.ApplyBid(ctx, change); err != nil {
		return BidReceipt{}, Auction{}, nil, nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	receipt := BidReceipt{
		BidID:         bid.ID,
		Rank:          ranks[bid.ID],
		Label:         RankLabel(ranks[bid.ID]),
		TotalAmount:   bid.TotalAmount,
		UpdatedAt:     bid.UpdatedAt,
		ExtendedUntil: newEnd,
	}
	return receipt, a, ranked, newEnd, nil
}

func (e *Engine) GetSupplierBid(ctx context.Context, auctionID, token string) (Bid, error) {
	b, err := e.store.GetBid(ctx, auctionID, token)
	if errors.Is(err, ErrNotFound) {
		return Bid{}, ErrNotFound
	}
	if err != nil {
		return Bid{}, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return b, nil
}

func (e *Engine) GetLeaderboard(ctx context.Context, auctionID string) ([]LeaderboardRow, error) {
	lock := e.lockAuction(auctionID)
	lock.Lock()
	_, err := e.loadLocked(ctx, auctionID)
	if err != nil {
		lock.Unlock()
		return nil, err
	}
	bids, err := e.store.ListBids(ctx, auctionID)
	lock.Unlock()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return leaderboard(rankBids(bids)), nil
}

func (e *Engine) GetHistory(ctx context.Context, auctionID string) ([]HistoryEntry, error) {
	lock := e.lockAuction(auctionID)
	lock.Lock()
	_, err := e.loadLocked(ctx, auctionID)
	if err != nil {
		lock.Unlock()
		return nil, err
	}
	history, err := e.store.ListHistory(ctx, auctionID)
	lock.Unlock()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return history, nil
}

// loadLocked reads the auction and applies the lazy-expiry transition:
// an Active auction past its deadline behaves as Completed to every
// subsequent caller. Must be called with the auction's lock held.
func (e *Engine) loadLocked(ctx context.Context, id string) (Auction, error) {
	a, err := e.store.GetAuction(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Auction{}, ErrNotFound
		}
		return Auction{}, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return e.expireLocked(ctx, a)
}

func (e *Engine) expireLocked(ctx context.Context, a Auction) (Auction, error) {
	if a.Status == StatusActive && a.EndTime != nil && e.now().After(*a.EndTime) {
		if err := e.store.UpdateAuctionState(ctx, a.ID, StatusCompleted, nil, nil); err != nil {
			return Auction{}, fmt.Errorf("%w: %v", ErrPersistence, err)
		}
		a.Status = StatusCompleted
	}
	return a, nil
}

// broadcast sends an event to the buyer room and every supplier room.
func (e *Engine) broadcast(a Auction, eventType string, data any) {
	if e.notifier == nil {
		return
	}
	e.notifier.NotifyBuyer(a.ID, eventType, data)
	for _, s := range a.Suppliers {
		e.notifier.NotifySupplier(s.Token, eventType, data)
	}
}

// notifyRanks pushes per-supplier rank updates and the full ranked board
// to the buyer.
func (e *Engine) notifyRanks(a Auction, ranked []Bid) {
	if e.notifier == nil {
		return
	}
	for _, b := range ranked {
		e.notifier.NotifySupplier(b.SupplierToken, EventRankUpdate, map[string]any{
			"rank":         b.Rank,
			"label":        RankLabel(b.Rank),
			"color":        RankColor(b.Rank),
			"total_amount": b.TotalAmount,
		})
	}
	e.notifier.NotifyBuyer(a.ID, EventBidsUpdate, map[string]any{
		"bids": leaderboard(ranked),
	})
}

func leaderboard(ranked []Bid) []LeaderboardRow {
	rows := make([]LeaderboardRow, 0, len(ranked))
	for _, b := range ranked {
		rows = append(rows, LeaderboardRow{
			BidID:        b.ID,
			SupplierName: b.SupplierName,
			TotalAmount:  b.TotalAmount,
			DeliveryDays: b.DeliveryDays,
			Rank:         b.Rank,
			UpdatedAt:    b.UpdatedAt,
		})
	}
	return rows
}

// bidTotal computes the bid's total from unit prices and item quantities.
// Quantities may be fractional, so the multiplication runs in decimal.
func bidTotal(items []Item, prices []ItemBid) money.Money {
	total := decimal.Zero
	for i, p := range prices {
		qty := decimal.NewFromFloat(1)
		if i < len(items) {
			qty = decimal.NewFromFloat(items[i].Quantity)
		}
		total = total.Add(p.UnitPrice.Decimal().Mul(qty))
	}
	return money.FromDecimal(total)
}

// newSupplierToken issues an opaque unguessable capability token.
func newSupplierToken() (string, error) {
	var b [32]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b[:]), nil
}
