// Package notify emits fire-and-forget events for completed sales and low
// stock. Delivery is best effort: a failed publish is logged and never fails
// the commit that triggered it.
package notify

import (
	"context"
	"log"

	"botikapos/backend/internal/domain"
)

const (
	EventSaleCompleted = "sale.completed"
	EventStockLow      = "stock.low"
)

type SaleCompletedEvent struct {
	Type          string `json:"type"`
	TransactionID string `json:"transaction_id"`
	Cashier       string `json:"cashier"`
	TotalAmount   string `json:"total_amount"`
	PaymentMethod string `json:"payment_method"`
	ItemCount     int    `json:"item_count"`
}

type StockLowEvent struct {
	Type          string `json:"type"`
	ProductID     string `json:"product_id"`
	ProductName   string `json:"product_name"`
	StockInPieces int    `json:"stock_in_pieces"`
	ReorderLevel  int    `json:"reorder_level"`
}

type Notifier interface {
	SaleCompleted(ctx context.Context, tx domain.Transaction) error
	StockLow(ctx context.Context, product domain.Product) error
}

// LogNotifier writes events to the process log. Default when Redis is not
// configured.
type LogNotifier struct{}

func (LogNotifier) SaleCompleted(_ context.Context, tx domain.Transaction) error {
	log.Printf("[notify] %s id=%s cashier=%s total=%s items=%d", EventSaleCompleted, tx.ID, tx.CashierUsername, tx.TotalAmount, len(tx.Items))
	return nil
}

func (LogNotifier) StockLow(_ context.Context, product domain.Product) error {
	log.Printf("[notify] %s product=%s (%s) stock=%d reorder_level=%d", EventStockLow, product.ID, product.Name, product.StockInPieces, product.ReorderLevel)
	return nil
}

// NopNotifier discards all events. Used in tests.
type NopNotifier struct{}

func (NopNotifier) SaleCompleted(context.Context, domain.Transaction) error { return nil }
func (NopNotifier) StockLow(context.Context, domain.Product) error          { return nil }
