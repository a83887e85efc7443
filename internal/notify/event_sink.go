package notify

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/alanyoungcy/mintmarket/internal/domain"
)

// EventSink adapts a Notifier to the domain.EventSink interface so selected
// ledger events are forwarded to the configured notification channels. The
// Notifier's event filter decides which names pass.
type EventSink struct {
	notifier *Notifier
}

// NewEventSink wraps a Notifier as an event sink.
func NewEventSink(n *Notifier) *EventSink {
	return &EventSink{notifier: n}
}

var _ domain.EventSink = (*EventSink)(nil)

// Emit formats the event and dispatches it through the Notifier.
func (s *EventSink) Emit(ctx context.Context, ev domain.Event) error {
	return s.notifier.Notify(ctx, ev.Name, eventTitle(ev.Name), formatAttrs(ev.Attrs))
}

// eventTitle maps a ledger event name to a readable notification title.
// Unknown names fall through unchanged.
func eventTitle(name string) string {
	switch name {
	case domain.EventItemListed:
		return "Item listed"
	case domain.EventItemUnlisted:
		return "Item unlisted"
	case domain.EventOfferCreated:
		return "New offer"
	case domain.EventOfferWithdrawn:
		return "Offer withdrawn"
	case domain.EventOfferAccepted:
		return "Offer accepted"
	case domain.EventOfferRejected:
		return "Offer rejected"
	case domain.EventItemBought:
		return "Item sold"
	case domain.EventTradeExecuted:
		return "Trade executed"
	case domain.EventVoucherWritten:
		return "Voucher redeemed"
	case domain.EventFeePercentUpdated:
		return "Marketplace fee updated"
	case domain.EventCurrencyWhitelisted:
		return "Currency whitelisted"
	case domain.EventCollectionWhitelisted:
		return "Collection whitelisted"
	default:
		return name
	}
}

// formatAttrs renders event attributes as "key: value" lines in stable key
// order.
func formatAttrs(attrs map[string]any) string {
	if len(attrs) == 0 {
		return ""
	}
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	lines := make([]string, 0, len(keys))
	for _, k := range keys {
		lines = append(lines, fmt.Sprintf("%s: %v", k, attrs[k]))
	}
	return strings.Join(lines, "\n")
}
