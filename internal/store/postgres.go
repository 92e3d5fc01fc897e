package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"RaffleCore/internal/model"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
)

// Postgres implements Store on database/sql with the pq driver.
//
// Purchase atomicity uses SELECT ... FOR UPDATE on the listing row; the state
// transitions use conditional UPDATEs on (state, version) so a lost race is
// detected without locks.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

// Open connects to Postgres and verifies the connection.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

const listingColumns = `id, seller_id, title, description, ticket_price, capacity,
	tickets_sold, trigger_mode, threshold, deadline, state, winner_id, drawn_at,
	version, created_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanListing(row rowScanner) (*model.Listing, error) {
	var (
		l        model.Listing
		mode     string
		state    string
		deadline sql.NullTime
		winner   sql.NullString
		drawnAt  sql.NullTime
	)
	err := row.Scan(
		&l.ID, &l.SellerID, &l.Title, &l.Description, &l.TicketPrice, &l.Capacity,
		&l.TicketsSold, &mode, &l.Threshold, &deadline, &state, &winner, &drawnAt,
		&l.Version, &l.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if l.Mode, err = model.ParseTriggerMode(mode); err != nil {
		return nil, err
	}
	if l.State, err = model.ParseListingState(state); err != nil {
		return nil, err
	}
	if deadline.Valid {
		d := deadline.Time
		l.Deadline = &d
	}
	if winner.Valid {
		w, err := uuid.Parse(winner.String)
		if err != nil {
			return nil, fmt.Errorf("winner_id: %w", err)
		}
		l.WinnerID = &w
	}
	if drawnAt.Valid {
		t := drawnAt.Time
		l.DrawnAt = &t
	}
	return &l, nil
}

func (p *Postgres) CreateListing(ctx context.Context, l *model.Listing) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO listings
			(id, seller_id, title, description, ticket_price, capacity,
			 tickets_sold, trigger_mode, threshold, deadline, state, version, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		l.ID, l.SellerID, l.Title, l.Description, l.TicketPrice, l.Capacity,
		l.TicketsSold, l.Mode.String(), l.Threshold, l.Deadline, l.State.String(),
		l.Version, l.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert listing: %w", err)
	}
	return nil
}

func (p *Postgres) GetListing(ctx context.Context, id uuid.UUID) (*model.Listing, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT `+listingColumns+` FROM listings WHERE id = $1`, id)
	l, err := scanListing(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrListingNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get listing: %w", err)
	}
	return l, nil
}

func (p *Postgres) ListActiveListings(ctx context.Context) ([]*model.Listing, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT `+listingColumns+` FROM listings WHERE state = 'active' ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list active listings: %w", err)
	}
	defer rows.Close()

	var out []*model.Listing
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, fmt.Errorf("scan listing: %w", err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (p *Postgres) SetDeadline(ctx context.Context, id uuid.UUID, deadline time.Time, version int64) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE listings SET deadline = $1, version = version + 1
		WHERE id = $2 AND state = 'active' AND version = $3`,
		deadline, id, version,
	)
	if err != nil {
		return fmt.Errorf("set deadline: %w", err)
	}
	return p.classifyNoMatch(ctx, res, id)
}

func (p *Postgres) PurchaseTickets(ctx context.Context, t *model.Ticket) (*model.Listing, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin purchase tx: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx,
		`SELECT `+listingColumns+` FROM listings WHERE id = $1 FOR UPDATE`, t.ListingID)
	l, err := scanListing(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrListingNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lock listing: %w", err)
	}

	if err := checkPurchaseRules(l, t.Quantity); err != nil {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO tickets (id, listing_id, buyer_id, quantity, transaction_id, purchased_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		t.ID, t.ListingID, t.BuyerID, t.Quantity, t.TransactionID, t.PurchasedAt,
	); err != nil {
		return nil, fmt.Errorf("insert ticket: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE listings SET tickets_sold = tickets_sold + $1, version = version + 1
		WHERE id = $2`,
		t.Quantity, t.ListingID,
	); err != nil {
		return nil, fmt.Errorf("increment tickets_sold: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit purchase: %w", err)
	}

	l.TicketsSold += t.Quantity
	l.Version++
	return l, nil
}

func (p *Postgres) ListTickets(ctx context.Context, listingID uuid.UUID) ([]*model.Ticket, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, listing_id, buyer_id, quantity, transaction_id, purchased_at
		FROM tickets WHERE listing_id = $1 ORDER BY purchased_at`, listingID)
	if err != nil {
		return nil, fmt.Errorf("list tickets: %w", err)
	}
	defer rows.Close()

	var out []*model.Ticket
	for rows.Next() {
		var t model.Ticket
		if err := rows.Scan(&t.ID, &t.ListingID, &t.BuyerID, &t.Quantity,
			&t.TransactionID, &t.PurchasedAt); err != nil {
			return nil, fmt.Errorf("scan ticket: %w", err)
		}
		out = append(out, &t)
	}
	return out, rows.Err()
}

func (p *Postgres) CountBuyerTickets(ctx context.Context, listingID, buyerID uuid.UUID) (int64, error) {
	var n int64
	err := p.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(quantity), 0) FROM tickets
		WHERE listing_id = $1 AND buyer_id = $2`,
		listingID, buyerID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count buyer tickets: %w", err)
	}
	return n, nil
}

func (p *Postgres) MarkDrawn(ctx context.Context, id, winnerID uuid.UUID, drawnAt time.Time, version int64) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE listings SET state = 'drawn', winner_id = $1, drawn_at = $2, version = version + 1
		WHERE id = $3 AND state = 'active' AND version = $4`,
		winnerID, drawnAt, id, version,
	)
	if err != nil {
		return fmt.Errorf("mark drawn: %w", err)
	}
	return p.classifyNoMatch(ctx, res, id)
}

func (p *Postgres) MarkCancelled(ctx context.Context, id uuid.UUID, version int64) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE listings SET state = 'cancelled', version = version + 1
		WHERE id = $1 AND state = 'active' AND version = $2`,
		id, version,
	)
	if err != nil {
		return fmt.Errorf("mark cancelled: %w", err)
	}
	return p.classifyNoMatch(ctx, res, id)
}

// classifyNoMatch turns a zero-row conditional UPDATE into the precise
// sentinel: missing row, terminal state, or version conflict.
func (p *Postgres) classifyNoMatch(ctx context.Context, res sql.Result, id uuid.UUID) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n > 0 {
		return nil
	}
	l, err := p.GetListing(ctx, id)
	if err != nil {
		return err
	}
	if l.State != model.ListingActive {
		return ErrListingNotActive
	}
	return ErrConflict
}

func (p *Postgres) CreateTransaction(ctx context.Context, txn *model.Transaction) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO transactions (id, buyer_id, listing_id, quantity, amount, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		txn.ID, txn.BuyerID, txn.ListingID, txn.Quantity, txn.Amount,
		txn.Status.String(), txn.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert transaction: %w", err)
	}
	return nil
}

func (p *Postgres) GetTransaction(ctx context.Context, id uuid.UUID) (*model.Transaction, error) {
	var (
		txn    model.Transaction
		status string
	)
	err := p.db.QueryRowContext(ctx, `
		SELECT id, buyer_id, listing_id, quantity, amount, status, created_at
		FROM transactions WHERE id = $1`, id,
	).Scan(&txn.ID, &txn.BuyerID, &txn.ListingID, &txn.Quantity, &txn.Amount,
		&status, &txn.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTransactionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get transaction: %w", err)
	}
	if txn.Status, err = model.ParseTransactionStatus(status); err != nil {
		return nil, err
	}
	return &txn, nil
}

func (p *Postgres) CompleteTransaction(ctx context.Context, id uuid.UUID) (bool, error) {
	res, err := p.db.ExecContext(ctx, `
		UPDATE transactions SET status = 'completed'
		WHERE id = $1 AND status = 'pending'`, id)
	if err != nil {
		return false, fmt.Errorf("complete transaction: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	if n > 0 {
		return false, nil
	}

	txn, err := p.GetTransaction(ctx, id)
	if err != nil {
		return false, err
	}
	switch txn.Status {
	case model.TransactionCompleted:
		return true, nil
	case model.TransactionRefunded:
		return false, ErrTransactionSettled
	default:
		return false, ErrConflict
	}
}

func (p *Postgres) RefundTransaction(ctx context.Context, id uuid.UUID) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE transactions SET status = 'refunded'
		WHERE id = $1 AND status IN ('pending', 'completed')`, id)
	if err != nil {
		return fmt.Errorf("refund transaction: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n > 0 {
		return nil
	}
	if _, err := p.GetTransaction(ctx, id); err != nil {
		return err
	}
	return ErrTransactionSettled
}

var _ Store = (*Postgres)(nil)
var _ Store = (*Memory)(nil)
