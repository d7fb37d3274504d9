package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bidhaus/bidhaus/go/internal/auction"
)

const auctionsSchema = `
CREATE TABLE IF NOT EXISTS auctions (
    id                TEXT PRIMARY KEY,
    title             TEXT NOT NULL,
    description       TEXT NOT NULL DEFAULT '',
    category          TEXT NOT NULL DEFAULT '',
    condition         TEXT NOT NULL DEFAULT '',
    location          TEXT NOT NULL DEFAULT '',
    starting_price    DOUBLE PRECISION NOT NULL,
    current_price     DOUBLE PRECISION NOT NULL,
    minimum_increment DOUBLE PRECISION NOT NULL DEFAULT 1,
    start_time        TIMESTAMPTZ NOT NULL,
    end_time          TIMESTAMPTZ NOT NULL,
    status            TEXT NOT NULL,
    bids              JSONB NOT NULL DEFAULT '[]',
    highest_bidder    JSONB,
    created_by        JSONB NOT NULL,
    created_at        TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS auctions_status_idx ON auctions (status);
CREATE INDEX IF NOT EXISTS auctions_end_time_idx ON auctions (end_time);
`

// PGStore is the Postgres-backed Store. Bid history rides along as JSONB so a
// snapshot is a single-row read.
type PGStore struct {
	pool *pgxpool.Pool
}

// NewPGStore wraps an existing connection pool and ensures the schema exists.
func NewPGStore(ctx context.Context, pool *pgxpool.Pool) (*PGStore, error) {
	if _, err := pool.Exec(ctx, auctionsSchema); err != nil {
		return nil, fmt.Errorf("ensure auctions schema: %w", err)
	}
	return &PGStore{pool: pool}, nil
}

const auctionColumns = `id, title, description, category, condition, location,
	starting_price, current_price, minimum_increment, start_time, end_time,
	status, bids, highest_bidder, created_by`

func scanAuction(row pgx.Row) (*auction.Snapshot, error) {
	var snap auction.Snapshot
	var status string
	var bids []byte
	var highestBidder []byte
	var createdBy []byte

	err := row.Scan(
		&snap.ID, &snap.Title, &snap.Description, &snap.Category,
		&snap.Condition, &snap.Location,
		&snap.StartingPrice, &snap.CurrentPrice, &snap.MinimumIncrement,
		&snap.StartTime, &snap.EndTime,
		&status, &bids, &highestBidder, &createdBy,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan auction: %w", err)
	}

	snap.Phase = auction.Phase(status)
	if err := json.Unmarshal(bids, &snap.Bids); err != nil {
		return nil, fmt.Errorf("decode bids: %w", err)
	}
	if len(highestBidder) > 0 {
		if err := json.Unmarshal(highestBidder, &snap.HighestBidder); err != nil {
			return nil, fmt.Errorf("decode highest bidder: %w", err)
		}
	}
	if err := json.Unmarshal(createdBy, &snap.CreatedBy); err != nil {
		return nil, fmt.Errorf("decode created by: %w", err)
	}
	return &snap, nil
}

func (s *PGStore) GetAuction(ctx context.Context, id string) (*auction.Snapshot, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+auctionColumns+` FROM auctions WHERE id = $1`, id)
	return scanAuction(row)
}

func (s *PGStore) ListAuctions(ctx context.Context, params auction.ListParams) (*auction.Page, error) {
	where := []string{"TRUE"}
	args := []any{}

	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if params.Status != "" {
		where = append(where, "status = "+arg(params.Status))
	}
	if params.Category != "" {
		where = append(where, "lower(category) = lower("+arg(params.Category)+")")
	}
	if params.Search != "" {
		p := arg("%" + params.Search + "%")
		where = append(where, "(title ILIKE "+p+" OR description ILIKE "+p+")")
	}

	whereClause := strings.Join(where, " AND ")

	var total int
	if err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM auctions WHERE `+whereClause, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("count auctions: %w", err)
	}

	orderColumn := map[string]string{
		"currentPrice": "current_price",
		"startTime":    "start_time",
		"title":        "title",
		"endTime":      "end_time",
	}[params.SortBy]
	if orderColumn == "" {
		orderColumn = "end_time"
	}
	direction := "ASC"
	if params.SortOrder == "desc" {
		direction = "DESC"
	}

	limit := params.Limit
	if limit <= 0 {
		limit = 10
	}
	page := params.Page
	if page <= 0 {
		page = 1
	}

	query := fmt.Sprintf(
		`SELECT %s FROM auctions WHERE %s ORDER BY %s %s LIMIT %s OFFSET %s`,
		auctionColumns, whereClause, orderColumn, direction,
		arg(limit), arg((page-1)*limit),
	)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list auctions: %w", err)
	}
	defer rows.Close()

	items := []*auction.Snapshot{}
	for rows.Next() {
		snap, err := scanAuction(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list auctions: %w", err)
	}

	totalPages := (total + limit - 1) / limit
	if totalPages == 0 {
		totalPages = 1
	}

	return &auction.Page{
		Items:       items,
		CurrentPage: page,
		TotalPages:  totalPages,
		TotalItems:  total,
	}, nil
}

func (s *PGStore) CreateAuction(ctx context.Context, snap *auction.Snapshot) error {
	bids, err := json.Marshal(snap.Bids)
	if err != nil {
		return fmt.Errorf("encode bids: %w", err)
	}
	if snap.Bids == nil {
		bids = []byte("[]")
	}
	createdBy, err := json.Marshal(snap.CreatedBy)
	if err != nil {
		return fmt.Errorf("encode created by: %w", err)
	}
	var highestBidder []byte
	if snap.HighestBidder != nil {
		highestBidder, err = json.Marshal(snap.HighestBidder)
		if err != nil {
			return fmt.Errorf("encode highest bidder: %w", err)
		}
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO auctions (
			id, title, description, category, condition, location,
			starting_price, current_price, minimum_increment,
			start_time, end_time, status, bids, highest_bidder, created_by
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)`,
		snap.ID, snap.Title, snap.Description, snap.Category, snap.Condition,
		snap.Location, snap.StartingPrice, snap.CurrentPrice,
		snap.MinimumIncrement, snap.StartTime, snap.EndTime,
		string(snap.Phase), bids, highestBidder, createdBy,
	)
	if err != nil {
		return fmt.Errorf("insert auction: %w", err)
	}
	return nil
}

func (s *PGStore) UpdateAuction(ctx context.Context, id string, patch auction.Patch) (*auction.Snapshot, error) {
	return s.inTx(ctx, func(tx pgx.Tx) (*auction.Snapshot, error) {
		snap, err := lockAuction(ctx, tx, id)
		if err != nil {
			return nil, err
		}
		if snap.Phase != auction.PhasePending {
			return nil, ErrNotPending
		}
		applyPatch(snap, patch)

		_, err = tx.Exec(ctx, `
			UPDATE auctions SET
				title = $2, description = $3, category = $4, condition = $5,
				location = $6, starting_price = $7, current_price = $8,
				minimum_increment = $9, start_time = $10, end_time = $11
			WHERE id = $1`,
			snap.ID, snap.Title, snap.Description, snap.Category,
			snap.Condition, snap.Location, snap.StartingPrice,
			snap.CurrentPrice, snap.MinimumIncrement,
			snap.StartTime, snap.EndTime,
		)
		if err != nil {
			return nil, fmt.Errorf("update auction: %w", err)
		}
		return snap, nil
	})
}

func (s *PGStore) AppendBid(ctx context.Context, id string, bid auction.Bid) (*auction.Snapshot, error) {
	return s.inTx(ctx, func(tx pgx.Tx) (*auction.Snapshot, error) {
		snap, err := lockAuction(ctx, tx, id)
		if err != nil {
			return nil, err
		}
		if snap.Phase != auction.PhaseActive {
			return nil, ErrPhaseConflict
		}
		if bid.Amount < snap.MinimumNextBid() {
			return nil, ErrBidTooLow
		}

		snap.Bids = append(snap.Bids, bid)
		snap.CurrentPrice = bid.Amount
		snap.HighestBidder = &auction.UserRef{ID: bid.BidderID, Username: bid.BidderUsername}

		bids, err := json.Marshal(snap.Bids)
		if err != nil {
			return nil, fmt.Errorf("encode bids: %w", err)
		}
		highestBidder, err := json.Marshal(snap.HighestBidder)
		if err != nil {
			return nil, fmt.Errorf("encode highest bidder: %w", err)
		}

		_, err = tx.Exec(ctx, `
			UPDATE auctions SET current_price = $2, bids = $3, highest_bidder = $4
			WHERE id = $1`,
			id, snap.CurrentPrice, bids, highestBidder,
		)
		if err != nil {
			return nil, fmt.Errorf("record bid: %w", err)
		}
		return snap, nil
	})
}

func (s *PGStore) SetPhase(ctx context.Context, id string, phase auction.Phase) (*auction.Snapshot, error) {
	return s.inTx(ctx, func(tx pgx.Tx) (*auction.Snapshot, error) {
		snap, err := lockAuction(ctx, tx, id)
		if err != nil {
			return nil, err
		}
		if !snap.Phase.CanTransition(phase) {
			return nil, ErrPhaseConflict
		}
		snap.Phase = phase

		if _, err := tx.Exec(ctx,
			`UPDATE auctions SET status = $2 WHERE id = $1`,
			id, string(phase)); err != nil {
			return nil, fmt.Errorf("set phase: %w", err)
		}
		return snap, nil
	})
}

func (s *PGStore) ListByPhase(ctx context.Context, phase auction.Phase) ([]*auction.Snapshot, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+auctionColumns+` FROM auctions WHERE status = $1`, string(phase))
	if err != nil {
		return nil, fmt.Errorf("list by phase: %w", err)
	}
	defer rows.Close()

	var out []*auction.Snapshot
	for rows.Next() {
		snap, err := scanAuction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, snap)
	}
	return out, rows.Err()
}

func lockAuction(ctx context.Context, tx pgx.Tx, id string) (*auction.Snapshot, error) {
	row := tx.QueryRow(ctx,
		`SELECT `+auctionColumns+` FROM auctions WHERE id = $1 FOR UPDATE`, id)
	return scanAuction(row)
}

func (s *PGStore) inTx(ctx context.Context, fn func(pgx.Tx) (*auction.Snapshot, error)) (*auction.Snapshot, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	snap, err := fn(tx)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	return snap, nil
}
