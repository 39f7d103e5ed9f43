package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"retailpos/backend/internal/domain"
)

const EventStockUpdate = "stock:update"

func StockTopic(storeID string) string {
	return "store:" + storeID + ":stock"
}

type Notifier struct {
	pub Publisher
}

func NewNotifier(pub Publisher) *Notifier {
	return &Notifier{pub: pub}
}

// StockChanged publishes one stock:update per change, in order, on the
// store's topic. Every change is attempted even after a failure.
func (n *Notifier) StockChanged(ctx context.Context, storeID string, changes []domain.StockChange) error {
	if n == nil || n.pub == nil {
		return nil
	}
	topic := StockTopic(storeID)
	var errs []error
	for _, change := range changes {
		data, err := json.Marshal(change)
		if err != nil {
			errs = append(errs, fmt.Errorf("notify: encode %s: %w", change.ProductID, err))
			continue
		}
		if err := n.pub.Publish(ctx, topic, Event{Name: EventStockUpdate, Data: data}); err != nil {
			errs = append(errs, fmt.Errorf("notify: publish %s: %w", change.ProductID, err))
		}
	}
	return errors.Join(errs...)
}
