package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"bidflow.org/internal/auction"
	"bidflow.org/internal/auth"
	"bidflow.org/internal/money"
)

type Store struct {
	db *sql.DB
}

var (
	_ auction.Store  = (*Store)(nil)
	_ auth.UserStore = (*Store)(nil)
)

func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	// Tuned pool defaults; adjust under load tests
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// NewWithDB wraps an existing connection. Used by tests.
func NewWithDB(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

// --- auctions ---

func (s *Store) CreateAuction(ctx context.Context, a auction.Auction) error {
	items, err := json.Marshal(a.Items)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		insert into auctions(
			id, buyer_id, title, reference_number, description,
			payment_terms, delivery_terms, freight_condition, items,
			ceiling_price, min_decrement, duration_minutes, buffer_minutes,
			status, created_at)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
	`, a.ID, a.BuyerID, a.Title, a.ReferenceNumber, a.Description,
		a.PaymentTerms, a.DeliveryTerms, a.FreightCondition, items,
		a.Config.CeilingPrice.Minor(), a.Config.MinDecrement.Minor(),
		a.Config.DurationMinutes, a.Config.BufferMinutes,
		string(a.Status), a.CreatedAt); err != nil {
		return err
	}

	for _, sup := range a.Suppliers {
		if _, err := tx.ExecContext(ctx, `
			insert into supplier_tokens(token, auction_id, name, contact_person, email, phone)
			values ($1,$2,$3,$4,$5,$6)
		`, sup.Token, a.ID, sup.Name, sup.ContactPerson, sup.Email, sup.Phone); err != nil {
			return err
		}
	}
	return tx.Commit()
}

const auctionColumns = `
	id, buyer_id, title, reference_number, description,
	payment_terms, delivery_terms, freight_condition, items,
	ceiling_price, min_decrement, duration_minutes, buffer_minutes,
	status, start_time, end_time, created_at`

func (s *Store) GetAuction(ctx context.Context, id string) (auction.Auction, error) {
	row := s.db.QueryRowContext(ctx, `select`+auctionColumns+` from auctions where id=$1`, id)
	a, err := scanAuction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return auction.Auction{}, auction.ErrNotFound
	}
	if err != nil {
		return auction.Auction{}, err
	}
	suppliers, err := s.suppliersFor(ctx, id)
	if err != nil {
		return auction.Auction{}, err
	}
	a.Suppliers = suppliers
	return a, nil
}

func (s *Store) ListAuctions(ctx context.Context) ([]auction.Auction, error) {
	rows, err := s.db.QueryContext(ctx, `select`+auctionColumns+` from auctions order by created_at desc`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []auction.Auction
	for rows.Next() {
		a, err := scanAuction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range out {
		suppliers, err := s.suppliersFor(ctx, out[i].ID)
		if err != nil {
			return nil, err
		}
		out[i].Suppliers = suppliers
	}
	return out, nil
}

func (s *Store) UpdateAuctionState(ctx context.Context, id string, status auction.Status, startTime, endTime *time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		update auctions
		set status=$2,
		    start_time=coalesce($3, start_time),
		    end_time=coalesce($4, end_time)
		where id=$1
	`, id, string(status), startTime, endTime)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return auction.ErrNotFound
	}
	return nil
}

func (s *Store) AuctionIDForSupplierToken(ctx context.Context, token string) (string, error) {
	var id string
	err := s.db.QueryRowContext(ctx, `select auction_id from supplier_tokens where token=$1`, token).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", auction.ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return id, nil
}

func (s *Store) suppliersFor(ctx context.Context, auctionID string) ([]auction.Supplier, error) {
	rows, err := s.db.QueryContext(ctx, `
		select token, name, contact_person, email, phone
		from supplier_tokens where auction_id=$1 order by token
	`, auctionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []auction.Supplier
	for rows.Next() {
		var sup auction.Supplier
		if err := rows.Scan(&sup.Token, &sup.Name, &sup.ContactPerson, &sup.Email, &sup.Phone); err != nil {
			return nil, err
		}
		out = append(out, sup)
	}
	return out, rows.Err()
}

// --- bids ---

const bidColumns = `
	id, auction_id, supplier_token, supplier_name, item_bids,
	total_amount, delivery_days, warranty_months, remarks, rank,
	created_at, updated_at`

func (s *Store) ListBids(ctx context.Context, auctionID string) ([]auction.Bid, error) {
	rows, err := s.db.QueryContext(ctx, `
		select`+bidColumns+` from bids where auction_id=$1 order by rank, updated_at
	`, auctionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []auction.Bid
	for rows.Next() {
		b, err := scanBid(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (s *Store) GetBid(ctx context.Context, auctionID, supplierToken string) (auction.Bid, error) {
	row := s.db.QueryRowContext(ctx, `
		select`+bidColumns+` from bids where auction_id=$1 and supplier_token=$2
	`, auctionID, supplierToken)
	b, err := scanBid(row)
	if errors.Is(err, sql.ErrNoRows) {
		return auction.Bid{}, auction.ErrNotFound
	}
	if err != nil {
		return auction.Bid{}, err
	}
	return b, nil
}

// ApplyBid commits one accepted bid in a single transaction: the bid row
// upsert, the history append, the rank updates and the optional deadline
// move either all land or none do.
func (s *Store) ApplyBid(ctx context.Context, change auction.ApplyBidChange) error {
	itemBids, err := json.Marshal(change.Bid.ItemBids)
	if err != nil {
		return err
	}
	itemPrices, err := json.Marshal(change.Entry.ItemPrices)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	b := change.Bid
	if _, err := tx.ExecContext(ctx, `
		insert into bids(
			id, auction_id, supplier_token, supplier_name, item_bids,
			total_amount, delivery_days, warranty_months, remarks, rank,
			created_at, updated_at)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		on conflict (auction_id, supplier_token) do update
		set item_bids = excluded.item_bids,
		    total_amount = excluded.total_amount,
		    delivery_days = excluded.delivery_days,
		    warranty_months = excluded.warranty_months,
		    remarks = excluded.remarks,
		    rank = excluded.rank,
		    updated_at = excluded.updated_at
	`, b.ID, b.AuctionID, b.SupplierToken, b.SupplierName, itemBids,
		b.TotalAmount.Minor(), b.DeliveryDays, b.WarrantyMonths, b.Remarks,
		change.Ranks[b.ID], b.CreatedAt, b.UpdatedAt); err != nil {
		return err
	}

	e := change.Entry
	if _, err := tx.ExecContext(ctx, `
		insert into bid_history(
			auction_id, round, ts, supplier_name, supplier_token,
			item_prices, total_amount, unit_price_avg, decrement,
			l1_unit_price, l1_supplier, delivery_days, warranty_months, entry_type)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
	`, b.AuctionID, e.Round, e.Timestamp, e.SupplierName, e.SupplierToken,
		itemPrices, e.TotalAmount.Minor(), e.UnitPriceAvg.Minor(), e.Decrement.Minor(),
		e.L1UnitPrice.Minor(), e.L1Supplier, e.DeliveryDays, e.WarrantyMonths,
		string(e.EntryType)); err != nil {
		return err
	}

	for bidID, rank := range change.Ranks {
		if bidID == b.ID {
			continue
		}
		if _, err := tx.ExecContext(ctx, `update bids set rank=$2 where id=$1`, bidID, rank); err != nil {
			return err
		}
	}

	if change.NewEndTime != nil {
		if _, err := tx.ExecContext(ctx, `
			update auctions set end_time=$2 where id=$1
		`, b.AuctionID, *change.NewEndTime); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *Store) ListHistory(ctx context.Context, auctionID string) ([]auction.HistoryEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		select round, ts, supplier_name, supplier_token, item_prices,
		       total_amount, unit_price_avg, decrement, l1_unit_price,
		       l1_supplier, delivery_days, warranty_months, entry_type
		from bid_history where auction_id=$1 order by round
	`, auctionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []auction.HistoryEntry
	for rows.Next() {
		var e auction.HistoryEntry
		var itemPrices []byte
		var total, avg, decrement, l1 int64
		var entryType string
		if err := rows.Scan(&e.Round, &e.Timestamp, &e.SupplierName, &e.SupplierToken,
			&itemPrices, &total, &avg, &decrement, &l1,
			&e.L1Supplier, &e.DeliveryDays, &e.WarrantyMonths, &entryType); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(itemPrices, &e.ItemPrices); err != nil {
			return nil, err
		}
		e.TotalAmount = money.FromMinor(total)
		e.UnitPriceAvg = money.FromMinor(avg)
		e.Decrement = money.FromMinor(decrement)
		e.L1UnitPrice = money.FromMinor(l1)
		e.EntryType = auction.EntryType(entryType)
		out = append(out, e)
	}
	return out, rows.Err()
}

// --- users ---

func (s *Store) Create(ctx context.Context, u *auth.User) error {
	res, err := s.db.ExecContext(ctx, `
		insert into users(id, email, name, company, password_hash, created_at, updated_at)
		values ($1,$2,$3,$4,$5,$6,$7)
		on conflict (email) do nothing
	`, u.ID, u.Email, u.Name, u.Company, u.PasswordHash, u.CreatedAt, u.UpdatedAt)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return auth.ErrAlreadyExists
	}
	return nil
}

func (s *Store) Find(ctx context.Context, id string) (*auth.User, error) {
	return s.findUser(ctx, `select id, email, name, company, password_hash, created_at, updated_at from users where id=$1`, id)
}

func (s *Store) FindByEmail(ctx context.Context, email string) (*auth.User, error) {
	return s.findUser(ctx, `select id, email, name, company, password_hash, created_at, updated_at from users where email=$1`, email)
}

func (s *Store) findUser(ctx context.Context, query, arg string) (*auth.User, error) {
	var u auth.User
	err := s.db.QueryRowContext(ctx, query, arg).
		Scan(&u.ID, &u.Email, &u.Name, &u.Company, &u.PasswordHash, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// --- helpers ---

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAuction(row rowScanner) (auction.Auction, error) {
	var a auction.Auction
	var items []byte
	var ceiling, decrement int64
	var status string
	if err := row.Scan(&a.ID, &a.BuyerID, &a.Title, &a.ReferenceNumber, &a.Description,
		&a.PaymentTerms, &a.DeliveryTerms, &a.FreightCondition, &items,
		&ceiling, &decrement, &a.Config.DurationMinutes, &a.Config.BufferMinutes,
		&status, &a.StartTime, &a.EndTime, &a.CreatedAt); err != nil {
		return auction.Auction{}, err
	}
	if err := json.Unmarshal(items, &a.Items); err != nil {
		return auction.Auction{}, err
	}
	a.Config.CeilingPrice = money.FromMinor(ceiling)
	a.Config.MinDecrement = money.FromMinor(decrement)
	a.Status = auction.Status(status)
	return a, nil
}

func scanBid(row rowScanner) (auction.Bid, error) {
	var b auction.Bid
	var itemBids []byte
	var total int64
	if err := row.Scan(&b.ID, &b.AuctionID, &b.SupplierToken, &b.SupplierName, &itemBids,
		&total, &b.DeliveryDays, &b.WarrantyMonths, &b.Remarks, &b.Rank,
		&b.CreatedAt, &b.UpdatedAt); err != nil {
		return auction.Bid{}, err
	}
	if err := json.Unmarshal(itemBids, &b.ItemBids); err != nil {
		return auction.Bid{}, err
	}
	b.TotalAmount = money.FromMinor(total)
	return b, nil
}
