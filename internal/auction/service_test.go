package auction

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type recordedEvent struct {
	Room string
	Type string
	Data any
}

// captureNotifier records events for assertions.
type captureNotifier struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (n *captureNotifier) NotifyBuyer(auctionID, eventType string, data any) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, recordedEvent{Room: "buyer:" + auctionID, Type: eventType, Data: data})
}

func (n *captureNotifier) NotifySupplier(token, eventType string, data any) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, recordedEvent{Room: "supplier:" + token, Type: eventType, Data: data})
}

func (n *captureNotifier) ofType(eventType string) []recordedEvent {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []recordedEvent
	for _, e := range n.events {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

func newTestEngine(t *testing.T) (*Engine, *InMemory, *captureNotifier, *time.Time) {
	t.Helper()
	store := NewInMemory()
	notifier := &captureNotifier{}
	eng := NewEngine(store, notifier)

	current := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	eng.now = func() time.Time { return current }
	return eng, store, notifier, &current
}

func createTestAuction(t *testing.T, eng *Engine, suppliers ...string) Auction {
	t.Helper()
	if len(suppliers) == 0 {
		suppliers = []string{"Acme", "Beta"}
	}
	in := CreateAuctionInput{
		BuyerID:         "buyer-1",
		Title:           "Steel plate procurement",
		ReferenceNumber: "RFQ-042",
		Description:     "Hot rolled steel plates",
		Items:           []Item{{Code: "I1", Description: "steel plate", Quantity: 1, Unit: "pcs"}},
		Config: Config{
			CeilingPrice:    mustMoney(t, "5000.00"),
			MinDecrement:    mustMoney(t, "100.00"),
			DurationMinutes: 30,
			BufferMinutes:   2,
		},
	}
	for _, name := range suppliers {
		in.Suppliers = append(in.Suppliers, Supplier{Name: name, Email: name + "@example.com"})
	}
	a, err := eng.CreateAuction(context.Background(), in)
	if err != nil {
		t.Fatalf("CreateAuction: %v", err)
	}
	return a
}

func submit(t *testing.T, eng *Engine, a Auction, token, price string) (BidReceipt, error) {
	t.Helper()
	return eng.SubmitBid(context.Background(), SubmitBidInput{
		AuctionID:     a.ID,
		SupplierToken: token,
		ItemPrices:    []ItemBid{{ItemCode: "I1", UnitPrice: mustMoney(t, price)}},
		DeliveryDays:  14,
	})
}

func TestCreateAuctionIssuesUniqueTokens(t *testing.T) {
	eng, _, _, _ := newTestEngine(t)
	a := createTestAuction(t, eng)
	if len(a.Suppliers) != 2 {
		t.Fatalf("supplier count = %d", len(a.Suppliers))
	}
	if a.Suppliers[0].Token == "" || a.Suppliers[1].Token == "" {
		t.Fatal("supplier tokens must be issued at creation")
	}
	if a.Suppliers[0].Token == a.Suppliers[1].Token {
		t.Fatal("supplier tokens must be unique")
	}
	if a.Status != StatusDraft {
		t.Fatalf("status = %s, want draft", a.Status)
	}
}

func TestStartAuctionSetsDeadline(t *testing.T) {
	eng, _, notifier, clock := newTestEngine(t)
	a := createTestAuction(t, eng)

	end, err := eng.StartAuction(context.Background(), a.ID)
	if err != nil {
		t.Fatalf("StartAuction: %v", err)
	}
	wantEnd := clock.Add(30 * time.Minute)
	if !end.Equal(wantEnd) {
		t.Fatalf("end = %v, want %v", end, wantEnd)
	}

	got, err := eng.GetAuction(context.Background(), a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != StatusActive {
		t.Fatalf("status = %s", got.Status)
	}

	// One event to the buyer room, one per supplier room.
	started := notifier.ofType(EventStarted)
	if len(started) != 3 {
		t.Fatalf("started events = %d, want 3", len(started))
	}
}

func TestStartRejectsNonDraft(t *testing.T) {
	eng, _, _, _ := newTestEngine(t)
	a := createTestAuction(t, eng)

	if _, err := eng.StartAuction(context.Background(), a.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := eng.StartAuction(context.Background(), a.ID); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("double start: err = %v, want ErrInvalidState", err)
	}
}

func TestTerminateRejectsNonActive(t *testing.T) {
	eng, _, _, _ := newTestEngine(t)
	a := createTestAuction(t, eng)

	if err := eng.TerminateAuction(context.Background(), a.ID); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("terminating a draft: err = %v, want ErrInvalidState", err)
	}

	if _, err := eng.StartAuction(context.Background(), a.ID); err != nil {
		t.Fatal(err)
	}
	if err := eng.TerminateAuction(context.Background(), a.ID); err != nil {
		t.Fatalf("terminate active: %v", err)
	}
	if err := eng.TerminateAuction(context.Background(), a.ID); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("double terminate: err = %v, want ErrInvalidState", err)
	}
}

func TestStartUnknownAuction(t *testing.T) {
	eng, _, _, _ := newTestEngine(t)
	if _, err := eng.StartAuction(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestLazyExpiryObservedOnRead(t *testing.T) {
	eng, _, _, clock := newTestEngine(t)
	a := createTestAuction(t, eng)
	if _, err := eng.StartAuction(context.Background(), a.ID); err != nil {
		t.Fatal(err)
	}

	*clock = clock.Add(31 * time.Minute)

	got, err := eng.GetAuction(context.Background(), a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != StatusCompleted {
		t.Fatalf("expired auction must read as completed, got %s", got.Status)
	}

	// ...and no further bids are accepted.
	if _, err := submit(t, eng, a, a.Suppliers[0].Token, "4900.00"); !errors.Is(err, ErrNotActive) {
		t.Fatalf("bid after expiry: err = %v, want ErrNotActive", err)
	}

	// An expired auction cannot be terminated; the transition already
	// happened via lazy observation.
	if err := eng.TerminateAuction(context.Background(), a.ID); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("terminate expired: err = %v, want ErrInvalidState", err)
	}
}

func TestSubmitBidRejectsBeforeStart(t *testing.T) {
	eng, _, _, _ := newTestEngine(t)
	a := createTestAuction(t, eng)
	if _, err := submit(t, eng, a, a.Suppliers[0].Token, "4900.00"); !errors.Is(err, ErrNotActive) {
		t.Fatalf("err = %v, want ErrNotActive", err)
	}
}

func TestSubmitBidRejectsUnknownToken(t *testing.T) {
	eng, _, _, _ := newTestEngine(t)
	a := createTestAuction(t, eng)
	if _, err := eng.StartAuction(context.Background(), a.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := submit(t, eng, a, "bogus-token", "4900.00"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("err = %v, want ErrUnauthorized", err)
	}
}

func TestSubmitBidAcceptAndReplaceInPlace(t *testing.T) {
	eng, store, _, clock := newTestEngine(t)
	a := createTestAuction(t, eng)
	if _, err := eng.StartAuction(context.Background(), a.ID); err != nil {
		t.Fatal(err)
	}
	tokenA := a.Suppliers[0].Token

	r1, err := submit(t, eng, a, tokenA, "4900.00")
	if err != nil {
		t.Fatalf("first bid: %v", err)
	}
	if r1.Rank != 1 || r1.Label != LabelLeading {
		t.Fatalf("first bid rank/label = %d/%s", r1.Rank, r1.Label)
	}

	firstCreated := clock.UTC()
	*clock = clock.Add(time.Minute)

	r2, err := submit(t, eng, a, tokenA, "4700.00")
	if err != nil {
		t.Fatalf("resubmission: %v", err)
	}
	if r2.BidID != r1.BidID {
		t.Fatalf("resubmission created a second bid row: %s vs %s", r2.BidID, r1.BidID)
	}

	bids, err := store.ListBids(context.Background(), a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(bids) != 1 {
		t.Fatalf("bid rows = %d, want 1", len(bids))
	}
	if !bids[0].CreatedAt.Equal(firstCreated) {
		t.Fatalf("createdAt changed on update: %v", bids[0].CreatedAt)
	}
	if !bids[0].UpdatedAt.After(firstCreated) {
		t.Fatal("updatedAt must advance on update")
	}

	history, err := eng.GetHistory(context.Background(), a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 2 {
		t.Fatalf("history entries = %d, want 2", len(history))
	}
	if history[0].EntryType != EntryNew || history[1].EntryType != EntryUpdate {
		t.Fatalf("entry types = %s, %s", history[0].EntryType, history[1].EntryType)
	}
	if history[0].Round != 1 || history[1].Round != 2 {
		t.Fatalf("rounds = %d, %d", history[0].Round, history[1].Round)
	}
}

func TestSubmitBidRanksCompetingSuppliers(t *testing.T) {
	eng, _, notifier, clock := newTestEngine(t)
	a := createTestAuction(t, eng)
	if _, err := eng.StartAuction(context.Background(), a.ID); err != nil {
		t.Fatal(err)
	}
	tokenA, tokenB := a.Suppliers[0].Token, a.Suppliers[1].Token

	if _, err := submit(t, eng, a, tokenA, "4900.00"); err != nil {
		t.Fatal(err)
	}
	*clock = clock.Add(time.Minute)
	rB, err := submit(t, eng, a, tokenB, "4800.00")
	if err != nil {
		t.Fatal(err)
	}
	if rB.Rank != 1 {
		t.Fatalf("undercutting bid rank = %d, want 1", rB.Rank)
	}

	board, err := eng.GetLeaderboard(context.Background(), a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(board) != 2 {
		t.Fatalf("leaderboard rows = %d", len(board))
	}
	if board[0].SupplierName != "Beta" || board[0].Rank != 1 {
		t.Fatalf("leader = %s/%d", board[0].SupplierName, board[0].Rank)
	}
	if board[1].SupplierName != "Acme" || board[1].Rank != 2 {
		t.Fatalf("second = %s/%d", board[1].SupplierName, board[1].Rank)
	}

	// Buyer board pushed after every accepted bid.
	if got := notifier.ofType(EventBidsUpdate); len(got) != 2 {
		t.Fatalf("bids_update events = %d, want 2", len(got))
	}
	// Each accepted bid pushes a rank event per ranked supplier: 1 + 2.
	if got := notifier.ofType(EventRankUpdate); len(got) != 3 {
		t.Fatalf("rank_update events = %d, want 3", len(got))
	}
}

func TestSubmitBidRejectsPartialItemCoverage(t *testing.T) {
	eng, store, _, _ := newTestEngine(t)

	in := CreateAuctionInput{
		BuyerID: "buyer-1",
		Title:   "Two-line procurement",
		Items: []Item{
			{Code: "I1", Description: "steel plate", Quantity: 1, Unit: "pcs"},
			{Code: "I2", Description: "steel beam", Quantity: 2, Unit: "pcs"},
		},
		Suppliers: []Supplier{{Name: "Acme", Email: "acme@example.com"}},
		Config: Config{
			CeilingPrice:    mustMoney(t, "5000.00"),
			MinDecrement:    mustMoney(t, "100.00"),
			DurationMinutes: 30,
			BufferMinutes:   2,
		},
	}
	a, err := eng.CreateAuction(context.Background(), in)
	if err != nil {
		t.Fatalf("CreateAuction: %v", err)
	}
	if _, err := eng.StartAuction(context.Background(), a.ID); err != nil {
		t.Fatal(err)
	}

	// Pricing only one of two items must not produce a cheaper total
	// that outranks full quotes.
	_, err = eng.SubmitBid(context.Background(), SubmitBidInput{
		AuctionID:     a.ID,
		SupplierToken: a.Suppliers[0].Token,
		ItemPrices:    []ItemBid{{ItemCode: "I1", UnitPrice: mustMoney(t, "4900.00")}},
	})
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("partial bid: err = %v, want ErrInvalidInput", err)
	}

	bids, err := store.ListBids(context.Background(), a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(bids) != 0 {
		t.Fatalf("partial bid must not be stored, got %d bids", len(bids))
	}
}

func TestAntiSnipingExtensionIsAdditive(t *testing.T) {
	eng, store, notifier, clock := newTestEngine(t)
	a := createTestAuction(t, eng)

	end, err := eng.StartAuction(context.Background(), a.ID)
	if err != nil {
		t.Fatal(err)
	}
	tokenA, tokenB := a.Suppliers[0].Token, a.Suppliers[1].Token

	// First bid lands with 1 minute left; buffer is 2 minutes.
	*clock = end.Add(-time.Minute)
	receipt, err := submit(t, eng, a, tokenA, "4900.00")
	if err != nil {
		t.Fatal(err)
	}
	if receipt.ExtendedUntil == nil {
		t.Fatal("receipt should carry the extended deadline")
	}

	got, err := store.GetAuction(context.Background(), a.ID)
	if err != nil {
		t.Fatal(err)
	}
	firstExtended := end.Add(2 * time.Minute)
	if got.EndTime == nil || !got.EndTime.Equal(firstExtended) {
		t.Fatalf("endTime = %v, want %v (additive, relative to the original deadline)", got.EndTime, firstExtended)
	}

	// A late resubmission extends again, from the already-extended deadline.
	*clock = firstExtended.Add(-30 * time.Second)
	if _, err := submit(t, eng, a, tokenB, "4800.00"); err != nil {
		t.Fatal(err)
	}
	got, err = store.GetAuction(context.Background(), a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if want := firstExtended.Add(2 * time.Minute); got.EndTime == nil || !got.EndTime.Equal(want) {
		t.Fatalf("endTime after second late bid = %v, want %v", got.EndTime, want)
	}

	if got := notifier.ofType(EventExtended); len(got) != 6 { // 2 extensions x (buyer + 2 suppliers)
		t.Fatalf("extended events = %d, want 6", len(got))
	}
}

func TestNoExtensionOutsideBuffer(t *testing.T) {
	eng, store, _, _ := newTestEngine(t)
	a := createTestAuction(t, eng)
	end, err := eng.StartAuction(context.Background(), a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := submit(t, eng, a, a.Suppliers[0].Token, "4900.00"); err != nil {
		t.Fatal(err)
	}
	got, err := store.GetAuction(context.Background(), a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !got.EndTime.Equal(end) {
		t.Fatalf("early bid must not extend the deadline: %v", got.EndTime)
	}
}

func TestHistoryReplayReproducesL1Sequence(t *testing.T) {
	run := func() []HistoryEntry {
		eng, _, _, clock := newTestEngine(t)
		a := createTestAuction(t, eng)
		if _, err := eng.StartAuction(context.Background(), a.ID); err != nil {
			t.Fatal(err)
		}
		tokenA, tokenB := a.Suppliers[0].Token, a.Suppliers[1].Token
		steps := []struct {
			token string
			price string
		}{
			{tokenA, "4900.00"},
			{tokenB, "4800.00"},
			{tokenA, "4500.00"},
			{tokenB, "4400.00"},
		}
		for _, s := range steps {
			*clock = clock.Add(time.Minute)
			if _, err := submit(t, eng, a, s.token, s.price); err != nil {
				t.Fatalf("bid %s at %s: %v", s.token, s.price, err)
			}
		}
		history, err := eng.GetHistory(context.Background(), a.ID)
		if err != nil {
			t.Fatal(err)
		}
		return history
	}

	live := run()
	replayed := run()

	if len(live) != 4 || len(replayed) != len(live) {
		t.Fatalf("history lengths: live=%d replayed=%d", len(live), len(replayed))
	}
	wantL1 := []string{"4900.00", "4800.00", "4500.00", "4400.00"}
	for i := range live {
		if live[i].L1UnitPrice != replayed[i].L1UnitPrice {
			t.Fatalf("replay diverged at round %d: %s vs %s", i+1, live[i].L1UnitPrice, replayed[i].L1UnitPrice)
		}
		if live[i].L1UnitPrice != mustMoney(t, wantL1[i]) {
			t.Fatalf("round %d L1 = %s, want %s", i+1, live[i].L1UnitPrice, wantL1[i])
		}
	}
}

func TestConcurrentSubmissionsOnlyOneWins(t *testing.T) {
	eng, _, _, _ := newTestEngine(t)
	a := createTestAuction(t, eng)
	if _, err := eng.StartAuction(context.Background(), a.ID); err != nil {
		t.Fatal(err)
	}
	tokenA, tokenB := a.Suppliers[0].Token, a.Suppliers[1].Token

	// Both suppliers race to 4900.00. Whoever commits second must be
	// validated against the winner's L1, not the stale empty board.
	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, token := range []string{tokenA, tokenB} {
		wg.Add(1)
		go func(i int, token string) {
			defer wg.Done()
			_, errs[i] = submit(t, eng, a, token, "4900.00")
		}(i, token)
	}
	wg.Wait()

	var accepted, rejected int
	for _, err := range errs {
		switch {
		case err == nil:
			accepted++
		default:
			var verr *ValidationError
			if !errors.As(err, &verr) || verr.Kind != PriceDoesNotBeatCurrentLeader {
				t.Fatalf("unexpected error: %v", err)
			}
			rejected++
		}
	}
	if accepted != 1 || rejected != 1 {
		t.Fatalf("accepted=%d rejected=%d, want exactly one of each", accepted, rejected)
	}

	board, err := eng.GetLeaderboard(context.Background(), a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(board) != 1 {
		t.Fatalf("leaderboard rows = %d, want 1", len(board))
	}
}

// failingStore makes the atomic commit fail while reads keep working.
type failingStore struct {
	Store
	failApply bool
}

func (f *failingStore) ApplyBid(ctx context.Context, change ApplyBidChange) error {
	if f.failApply {
		return errors.New("disk on fire")
	}
	return f.Store.ApplyBid(ctx, change)
}

func TestPersistenceFailureLeavesNoPartialEffects(t *testing.T) {
	mem := NewInMemory()
	fs := &failingStore{Store: mem}
	eng := NewEngine(fs, nil)
	current := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	eng.now = func() time.Time { return current }

	a := createTestAuction(t, eng)
	end, err := eng.StartAuction(context.Background(), a.ID)
	if err != nil {
		t.Fatal(err)
	}

	// Bid inside the buffer window so a successful accept would also
	// have extended the deadline.
	current = end.Add(-time.Minute)
	fs.failApply = true
	_, err = submit(t, eng, a, a.Suppliers[0].Token, "4900.00")
	if !errors.Is(err, ErrPersistence) {
		t.Fatalf("err = %v, want ErrPersistence", err)
	}

	bids, err := mem.ListBids(context.Background(), a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(bids) != 0 {
		t.Fatal("no bid row may survive a failed commit")
	}
	history, err := mem.ListHistory(context.Background(), a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 0 {
		t.Fatal("no history entry may survive a failed commit")
	}
	got, err := mem.GetAuction(context.Background(), a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !got.EndTime.Equal(end) {
		t.Fatal("deadline must not move on a failed commit")
	}

	// The same submission succeeds on retry.
	fs.failApply = false
	if _, err := submit(t, eng, a, a.Suppliers[0].Token, "4900.00"); err != nil {
		t.Fatalf("retry after persistence failure: %v", err)
	}
}

func TestSupplierViewHidesOtherSuppliers(t *testing.T) {
	eng, _, _, _ := newTestEngine(t)
	a := createTestAuction(t, eng)

	view, err := eng.SupplierView(context.Background(), a.Suppliers[0].Token)
	if err != nil {
		t.Fatal(err)
	}
	if view.Supplier.Name != "Acme" {
		t.Fatalf("supplier = %s", view.Supplier.Name)
	}
	if view.AuctionID != a.ID {
		t.Fatalf("auction id = %s", view.AuctionID)
	}

	if _, err := eng.SupplierView(context.Background(), "bogus"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("unknown token: err = %v, want ErrUnauthorized", err)
	}
}

func TestListAuctionsReportsCurrentL1(t *testing.T) {
	eng, _, _, _ := newTestEngine(t)
	a := createTestAuction(t, eng)
	if _, err := eng.StartAuction(context.Background(), a.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := submit(t, eng, a, a.Suppliers[0].Token, "4900.00"); err != nil {
		t.Fatal(err)
	}

	list, err := eng.ListAuctions(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 {
		t.Fatalf("auctions = %d", len(list))
	}
	if list[0].CurrentL1 == nil || *list[0].CurrentL1 != mustMoney(t, "4900.00") {
		t.Fatalf("current L1 = %v, want 4900.00", list[0].CurrentL1)
	}
}

func TestGetSupplierBid(t *testing.T) {
	eng, _, _, _ := newTestEngine(t)
	a := createTestAuction(t, eng)
	if _, err := eng.StartAuction(context.Background(), a.ID); err != nil {
		t.Fatal(err)
	}
	token := a.Suppliers[0].Token

	if _, err := eng.GetSupplierBid(context.Background(), a.ID, token); !errors.Is(err, ErrNotFound) {
		t.Fatalf("before bidding: err = %v, want ErrNotFound", err)
	}
	if _, err := submit(t, eng, a, token, "4900.00"); err != nil {
		t.Fatal(err)
	}
	bid, err := eng.GetSupplierBid(context.Background(), a.ID, token)
	if err != nil {
		t.Fatal(err)
	}
	if bid.TotalAmount != mustMoney(t, "4900.00") {
		t.Fatalf("total = %s", bid.TotalAmount)
	}
}
