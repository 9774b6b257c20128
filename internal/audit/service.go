package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	kafkax "github.com/shopworks/storefront-api/internal/kafka"
	"github.com/shopworks/storefront-api/internal/orders"
	"github.com/shopworks/storefront-api/internal/redisx"
)

// Service appends order events to the audit table and keeps the order-status
// cache warm. Redelivered events are dropped by the redis dedup key, and the
// insert ignores duplicate event ids, so processing is idempotent.
type Service struct {
	DB    *pgxpool.Pool
	Redis *redis.Client
	Cache *redisx.StatusCache
	Log   *zap.Logger
	Name  string // dedup namespace
}

// HandleOrderEvent is wired as the consumer handler for every order topic.
func (s *Service) HandleOrderEvent(ctx context.Context, m kafkago.Message) error {
	var env orders.Envelope
	if err := json.Unmarshal(m.Value, &env); err != nil {
		return err
	}

	dkey := fmt.Sprintf(redisx.KeyDedup, s.Name, env.EventID)
	if seen, _ := redisx.Exists(ctx, s.Redis, dkey); seen {
		return nil
	}

	orderID, userID, status, err := classify(env)
	if err != nil {
		return err
	}
	if orderID == "" {
		return nil // not an order event
	}

	if _, err := s.DB.Exec(ctx, `
		INSERT INTO order_events(event_id, event_type, order_id, occurred_at, payload)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (event_id) DO NOTHING`,
		env.EventID, env.EventType, orderID, env.OccurredAt, env.Payload); err != nil {
		return err
	}
	if status != "" && userID != "" {
		s.Cache.Set(ctx, userID, orderID, status)
	}
	_ = s.Redis.Set(ctx, dkey, "1", redisx.TTLDedup).Err()

	s.Log.Info("order event recorded",
		zap.String("event_type", env.EventType),
		zap.String("order_id", orderID))
	return nil
}

// classify maps an envelope to the order and owner it concerns and, when the
// event implies one, the order's new status.
func classify(env orders.Envelope) (orderID, userID, status string, err error) {
	switch env.EventType {
	case orders.EventOrderSubmitted:
		p, err := kafkax.UnwrapPayload[orders.OrderSubmittedPayload](env.Payload)
		if err != nil {
			return "", "", "", err
		}
		return p.OrderID, p.UserID, string(orders.StatusPending), nil
	case orders.EventOrderCancelled:
		p, err := kafkax.UnwrapPayload[orders.OrderCancelledPayload](env.Payload)
		if err != nil {
			return "", "", "", err
		}
		return p.OrderID, p.UserID, string(orders.StatusCancelled), nil
	case orders.EventOrderStatusChanged:
		p, err := kafkax.UnwrapPayload[orders.OrderStatusChangedPayload](env.Payload)
		if err != nil {
			return "", "", "", err
		}
		return p.OrderID, p.UserID, string(p.To), nil
	case orders.EventOrderItemRemoved:
		p, err := kafkax.UnwrapPayload[orders.OrderItemRemovedPayload](env.Payload)
		if err != nil {
			return "", "", "", err
		}
		return p.OrderID, "", "", nil
	default:
		return "", "", "", nil
	}
}
