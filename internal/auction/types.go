package auction

import (
	"time"

	"bidflow.org/internal/money"
)

// Status is the auction lifecycle state.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
)

// Item is one line of the buyer's requirement.
type Item struct {
	Code           string       `json:"item_code"`
	Description    string       `json:"description"`
	Quantity       float64      `json:"quantity"`
	Unit           string       `json:"unit"`
	EstimatedPrice *money.Money `json:"estimated_price,omitempty"`
}

// Supplier is an invited bidder. The token is an opaque unguessable
// capability and the only credential a supplier ever presents.
type Supplier struct {
	Name          string `json:"name"`
	ContactPerson string `json:"contact_person"`
	Email         string `json:"email"`
	Phone         string `json:"phone"`
	Token         string `json:"token"`
}

// Config holds the pricing and timing rules of an auction.
type Config struct {
	CeilingPrice    money.Money `json:"ceiling_price"`
	MinDecrement    money.Money `json:"min_decrement"`
	DurationMinutes int         `json:"duration_minutes"`
	BufferMinutes   int         `json:"buffer_minutes"`
}

// Auction is the aggregate owned by the engine. It is mutated only
// through lifecycle transitions and the bid-acceptance protocol.
type Auction struct {
	ID               string     `json:"id"`
	BuyerID          string     `json:"buyer_id"`
	Title            string     `json:"title"`
	ReferenceNumber  string     `json:"reference_number"`
	Description      string     `json:"description"`
	PaymentTerms     string     `json:"payment_terms"`
	DeliveryTerms    string     `json:"delivery_terms"`
	FreightCondition string     `json:"freight_condition"`
	Items            []Item     `json:"items"`
	Suppliers        []Supplier `json:"suppliers"`
	Config           Config     `json:"config"`
	Status           Status     `json:"status"`
	StartTime        *time.Time `json:"start_time,omitempty"`
	EndTime          *time.Time `json:"end_time,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
}

// SupplierByToken resolves a registered supplier by its capability token.
func (a *Auction) SupplierByToken(token string) (Supplier, bool) {
	for _, s := range a.Suppliers {
		if s.Token == token {
			return s, true
		}
	}
	return Supplier{}, false
}

// TotalQuantity sums item quantities. A zero total is treated as one so
// average-price derivations never divide by zero.
func (a *Auction) TotalQuantity() float64 {
	var total float64
	for _, it := range a.Items {
		total += it.Quantity
	}
	if total == 0 {
		return 1
	}
	return total
}

// ItemBid is a proposed unit price for one item, index-aligned with the
// auction's item list.
type ItemBid struct {
	ItemCode  string      `json:"item_code"`
	UnitPrice money.Money `json:"unit_price"`
}

// Bid is a supplier's current offer. At most one Bid exists per
// (auction, supplier token) pair: a resubmission replaces it in place,
// preserving CreatedAt and advancing UpdatedAt.
type Bid struct {
	ID             string      `json:"id"`
	AuctionID      string      `json:"auction_id"`
	SupplierToken  string      `json:"supplier_token"`
	SupplierName   string      `json:"supplier_name"`
	ItemBids       []ItemBid   `json:"item_bids"`
	TotalAmount    money.Money `json:"total_amount"`
	DeliveryDays   int         `json:"delivery_days"`
	WarrantyMonths *int        `json:"warranty_months,omitempty"`
	Remarks        string      `json:"remarks,omitempty"`
	Rank           int         `json:"rank"`
	CreatedAt      time.Time   `json:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at"`
}

// EntryType marks whether a history entry came from a first bid or a
// resubmission.
type EntryType string

const (
	EntryNew    EntryType = "new"
	EntryUpdate EntryType = "update"
)

// HistoryEntry is an immutable snapshot appended to the auction's
// audit trail on every accepted bid. Entries are never edited, even when
// later bids supersede the prices they record.
type HistoryEntry struct {
	Round          int         `json:"round"`
	Timestamp      time.Time   `json:"timestamp"`
	SupplierName   string      `json:"supplier_name"`
	SupplierToken  string      `json:"supplier_token"`
	ItemPrices     []ItemBid   `json:"item_prices"`
	TotalAmount    money.Money `json:"total_amount"`
	UnitPriceAvg   money.Money `json:"unit_price_avg"`
	Decrement      money.Money `json:"decrement"`
	L1UnitPrice    money.Money `json:"l1_unit_price"`
	L1Supplier     string      `json:"l1_supplier"`
	DeliveryDays   int         `json:"delivery_days"`
	WarrantyMonths *int        `json:"warranty_months,omitempty"`
	EntryType      EntryType   `json:"entry_type"`
}

// LeaderboardRow is the buyer-facing view of one ranked bid.
type LeaderboardRow struct {
	BidID        string      `json:"bid_id"`
	SupplierName string      `json:"supplier_name"`
	TotalAmount  money.Money `json:"total_amount"`
	DeliveryDays int         `json:"delivery_days"`
	Rank         int         `json:"rank"`
	UpdatedAt    time.Time   `json:"updated_at"`
}

// AuctionSummary is one row of the buyer dashboard feed.
type AuctionSummary struct {
	Auction
	CurrentL1 *money.Money `json:"current_l1,omitempty"`
}

// SupplierView is the auction as one supplier is allowed to see it:
// no other suppliers' contact details or tokens.
type SupplierView struct {
	AuctionID        string     `json:"auction_id"`
	Title            string     `json:"title"`
	ReferenceNumber  string     `json:"reference_number"`
	Description      string     `json:"description"`
	PaymentTerms     string     `json:"payment_terms"`
	DeliveryTerms    string     `json:"delivery_terms"`
	FreightCondition string     `json:"freight_condition"`
	Items            []Item     `json:"items"`
	Config           Config     `json:"config"`
	Status           Status     `json:"status"`
	Supplier         Supplier   `json:"supplier_info"`
	StartTime        *time.Time `json:"start_time,omitempty"`
	EndTime          *time.Time `json:"end_time,omitempty"`
}
