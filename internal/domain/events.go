package domain

import (
	"context"
	"time"
)

// Event names. These are the observable side effects of the ledger and are
// fixed for compatibility with existing consumers.
const (
	EventCurrencyWhitelisted   = "CurrencyWhitelisted"
	EventCollectionWhitelisted = "CollectionWhitelisted"
	EventFeePercentUpdated     = "FeePercentUpdated"
	EventItemListed            = "ItemListed"
	EventItemUnlisted          = "ItemUnlisted"
	EventOfferCreated          = "OfferCreated"
	EventVoucherWritten        = "VoucherWritten"
	EventOfferWithdrawn        = "OfferWithdrawn"
	EventOfferAccepted         = "OfferAccepted"
	EventOfferRejected         = "OfferRejected"
	EventItemBought            = "ItemBought"
	EventTradeExecuted         = "TradeExecuted"
	EventRedeemVoucher         = "RedeemVoucher"
)

// Event is one emitted ledger event. Attrs carry the event-specific fields
// (addresses and amounts are rendered as strings for stable serialization).
type Event struct {
	ID    string         `json:"id"`
	Name  string         `json:"name"`
	At    time.Time      `json:"at"`
	Attrs map[string]any `json:"attrs"`
}

// EventSink receives events after the emitting operation has committed. Sink
// failures must not affect ledger state; emitters log and continue.
type EventSink interface {
	Emit(ctx context.Context, ev Event) error
}

// EventSinkFunc adapts a function to the EventSink interface.
type EventSinkFunc func(ctx context.Context, ev Event) error

// Emit calls f.
func (f EventSinkFunc) Emit(ctx context.Context, ev Event) error {
	return f(ctx, ev)
}
