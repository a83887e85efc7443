package postgres

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/mintmarket/internal/domain"
)

// TradeStore implements domain.TradeStore using PostgreSQL. Amounts are
// stored as decimal strings so arbitrary-precision values survive the round
// trip.
type TradeStore struct {
	pool *pgxpool.Pool
}

// NewTradeStore creates a new TradeStore backed by the given connection pool.
func NewTradeStore(pool *pgxpool.Pool) *TradeStore {
	return &TradeStore{pool: pool}
}

var _ domain.TradeStore = (*TradeStore)(nil)

const tradeSelectCols = `id, collection, token_id, seller, buyer, currency,
	price, fee, kind, executed_at`

func scanTrade(row pgx.Row) (domain.Trade, error) {
	var (
		t          domain.Trade
		collection string
		tokenID    int64
		seller     string
		buyer      string
		currency   string
		price      string
		fee        string
		kind       string
	)
	if err := row.Scan(
		&t.ID, &collection, &tokenID, &seller, &buyer, &currency,
		&price, &fee, &kind, &t.ExecutedAt,
	); err != nil {
		return domain.Trade{}, err
	}
	t.Collection = common.HexToAddress(collection)
	t.TokenID = uint64(tokenID)
	t.Seller = common.HexToAddress(seller)
	t.Buyer = common.HexToAddress(buyer)
	t.Currency = common.HexToAddress(currency)
	t.Kind = domain.TradeKind(kind)

	var ok bool
	if t.Price, ok = new(big.Int).SetString(price, 10); !ok {
		return domain.Trade{}, fmt.Errorf("malformed price %q", price)
	}
	if t.Fee, ok = new(big.Int).SetString(fee, 10); !ok {
		return domain.Trade{}, fmt.Errorf("malformed fee %q", fee)
	}
	return t, nil
}

func scanTradeRows(rows pgx.Rows) ([]domain.Trade, error) {
	defer rows.Close()
	var trades []domain.Trade
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, err
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// Insert stores a settled trade.
func (s *TradeStore) Insert(ctx context.Context, t domain.Trade) error {
	const query = `
		INSERT INTO trades (
			id, collection, token_id, seller, buyer, currency,
			price, fee, kind, executed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO NOTHING`

	_, err := s.pool.Exec(ctx, query,
		t.ID, t.Collection.Hex(), int64(t.TokenID),
		t.Seller.Hex(), t.Buyer.Hex(), t.Currency.Hex(),
		t.Price.String(), t.Fee.String(), string(t.Kind), t.ExecutedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert trade %s: %w", t.ID, err)
	}
	return nil
}

// GetByID returns the trade with the given id.
func (s *TradeStore) GetByID(ctx context.Context, id string) (domain.Trade, error) {
	query := `SELECT ` + tradeSelectCols + ` FROM trades WHERE id = $1`
	t, err := scanTrade(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Trade{}, fmt.Errorf("postgres: trade %s: %w", id, err)
		}
		return domain.Trade{}, fmt.Errorf("postgres: get trade %s: %w", id, err)
	}
	return t, nil
}

// ListByCollection returns trades for a collection with pagination and
// optional time filtering.
func (s *TradeStore) ListByCollection(ctx context.Context, collection common.Address, opts domain.ListOpts) ([]domain.Trade, error) {
	query := `SELECT ` + tradeSelectCols + ` FROM trades WHERE collection = $1`
	args := []any{collection.Hex()}
	argIdx := 2

	if opts.Since != nil {
		query += fmt.Sprintf(" AND executed_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND executed_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY executed_at DESC"
	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades by collection: %w", err)
	}
	return scanTradeRows(rows)
}

// ListRecent returns the most recently executed trades.
func (s *TradeStore) ListRecent(ctx context.Context, limit int) ([]domain.Trade, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + tradeSelectCols + ` FROM trades ORDER BY executed_at DESC LIMIT $1`
	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list recent trades: %w", err)
	}
	return scanTradeRows(rows)
}

// ListBefore returns all trades executed before the cutoff, oldest first.
// The archiver uses this to select rows for export.
func (s *TradeStore) ListBefore(ctx context.Context, before time.Time) ([]domain.Trade, error) {
	query := `SELECT ` + tradeSelectCols + ` FROM trades WHERE executed_at < $1 ORDER BY executed_at ASC`
	rows, err := s.pool.Query(ctx, query, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades before %s: %w", before, err)
	}
	return scanTradeRows(rows)
}

// DeleteBefore removes trades executed before the cutoff and returns the
// number of rows deleted. Called after a successful archive export.
func (s *TradeStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM trades WHERE executed_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete trades before %s: %w", before, err)
	}
	return tag.RowsAffected(), nil
}
