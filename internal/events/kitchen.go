package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

const (
	// OrderSplitSubject carries OrderSplitEvent to the kitchen.
	OrderSplitSubject = "orders.split"
	EventOrderSplit   = "order.split"
)

// SentQuantity is the kitchen-sent count of one preparation key after a split.
type SentQuantity struct {
	PreparationKey string `json:"preparation_key"`
	ProductID      string `json:"product_id"`
	QuantitySent   string `json:"quantity_sent"`
}

// OrderSplitEvent tells the kitchen which order now owns units it already
// prepares, so tickets follow the split instead of being printed twice.
type OrderSplitEvent struct {
	EventType       string         `json:"event_type"`
	OccurredAt      time.Time      `json:"occurred_at"`
	OutletID        string         `json:"outlet_id"`
	OriginalOrderID string         `json:"original_order_id"`
	NewOrderID      string         `json:"new_order_id"`
	TrackingNumber  string         `json:"tracking_number"`
	Original        []SentQuantity `json:"original"`
	Split           []SentQuantity `json:"split"`
}

// KitchenNotifier publishes kitchen-facing order events.
type KitchenNotifier struct {
	pub Publisher
	now func() time.Time
}

func NewKitchenNotifier(pub Publisher) *KitchenNotifier {
	return &KitchenNotifier{pub: pub, now: time.Now}
}

// OrderSplit publishes ev on OrderSplitSubject, stamping type and time.
func (k *KitchenNotifier) OrderSplit(ctx context.Context, ev OrderSplitEvent) error {
	ev.EventType = EventOrderSplit
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = k.now().UTC()
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal order split event: %w", err)
	}
	if err := k.pub.Publish(ctx, OrderSplitSubject, data); err != nil {
		return fmt.Errorf("publish %s: %w", OrderSplitSubject, err)
	}
	return nil
}
