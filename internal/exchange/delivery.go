package exchange

import (
	"context"
	"sort"

	"github.com/chessdao/backend/internal/ledgererr"
	"github.com/chessdao/backend/internal/models"
	"github.com/chessdao/backend/internal/store"
)

// PendingDeliveries returns up to limit records still awaiting on-chain delivery, oldest first
func (s *Service) PendingDeliveries(ctx context.Context, limit int) ([]*models.ExchangeRecord, error) {
	all, err := store.LoadAll[models.ExchangeRecord](ctx, s.store, store.Exchanges)
	if err != nil {
		return nil, err
	}

	out := make([]*models.ExchangeRecord, 0)
	for _, r := range all {
		if r.Delivery == models.DeliveryPending {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// MarkDelivery records the outcome of one delivery attempt. Only the delivery fields
// change; amounts are never rewritten.
func (s *Service) MarkDelivery(ctx context.Context, id string, status models.DeliveryStatus, ref string) (*models.ExchangeRecord, error) {
	return store.Update(ctx, s.store, store.Exchanges, id, s.cfg.Attempts, func(cur *models.ExchangeRecord) (*models.ExchangeRecord, error) {
		if cur == nil {
			return nil, ledgererr.New(ledgererr.NotFound, "exchange %s not found", id)
		}
		if cur.Delivery == models.DeliveryDelivered {
			return nil, nil
		}
		next := *cur
		next.Delivery = status
		next.Attempts = cur.Attempts + 1
		if ref != "" {
			next.DeliveryRef = ref
		}
		return &next, nil
	})
}
