package notify

import (
	"context"
	"encoding/json"

	redis "github.com/redis/go-redis/v9"

	"botikapos/backend/internal/domain"
)

const eventChannelPrefix = "pos:events:"

// RedisNotifier publishes events as JSON on Redis pub/sub channels so
// dashboards and back-office tooling can subscribe. It shares the cart
// store's connection.
type RedisNotifier struct {
	client *redis.Client
}

func NewRedisNotifier(client *redis.Client) *RedisNotifier {
	return &RedisNotifier{client: client}
}

func (n *RedisNotifier) SaleCompleted(ctx context.Context, tx domain.Transaction) error {
	return n.publish(ctx, EventSaleCompleted, SaleCompletedEvent{
		Type:          EventSaleCompleted,
		TransactionID: tx.ID,
		Cashier:       tx.CashierUsername,
		TotalAmount:   tx.TotalAmount.StringFixed(2),
		PaymentMethod: tx.PaymentMethod,
		ItemCount:     len(tx.Items),
	})
}

func (n *RedisNotifier) StockLow(ctx context.Context, product domain.Product) error {
	return n.publish(ctx, EventStockLow, StockLowEvent{
		Type:          EventStockLow,
		ProductID:     product.ID,
		ProductName:   product.Name,
		StockInPieces: product.StockInPieces,
		ReorderLevel:  product.ReorderLevel,
	})
}

func (n *RedisNotifier) publish(ctx context.Context, channel string, event any) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return n.client.Publish(ctx, eventChannelPrefix+channel, payload).Err()
}
