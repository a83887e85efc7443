package domain

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// TradeStore persists settled trades.
type TradeStore interface {
	Insert(ctx context.Context, trade Trade) error
	GetByID(ctx context.Context, id string) (Trade, error)
	ListByCollection(ctx context.Context, collection common.Address, opts ListOpts) ([]Trade, error)
	ListRecent(ctx context.Context, limit int) ([]Trade, error)
	ListBefore(ctx context.Context, before time.Time) ([]Trade, error)
}

// EventStore persists the append-only event journal.
type EventStore interface {
	Insert(ctx context.Context, ev Event) error
	List(ctx context.Context, opts ListOpts) ([]Event, error)
	ListByName(ctx context.Context, name string, opts ListOpts) ([]Event, error)
	ListBefore(ctx context.Context, before time.Time) ([]Event, error)
}
