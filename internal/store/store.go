package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"botikapos/backend/internal/domain"
)

var (
	ErrNotFound            = errors.New("not found")
	ErrValidation          = errors.New("validation failed")
	ErrInsufficientStock   = errors.New("insufficient stock")
	ErrPaymentInsufficient = errors.New("amount paid is below the total")
	ErrEditWindowExpired   = errors.New("edit window expired")
	ErrTransactionFinal    = errors.New("transaction is cancelled")
	ErrPersistence         = errors.New("persistence failure")
)

// StockConflictError carries enough structured detail for the terminal to
// drive a corrective action: which product, how much was asked for, and how
// much is actually left. It unwraps to ErrInsufficientStock.
type StockConflictError struct {
	ProductID   string
	ProductName string
	Requested   int
	Available   int
}

func (e *StockConflictError) Error() string {
	return fmt.Sprintf("insufficient stock for %s (%s): requested %d pieces, %d available",
		e.ProductName, e.ProductID, e.Requested, e.Available)
}

func (e *StockConflictError) Unwrap() error {
	return ErrInsufficientStock
}

// EditMeta is the audit metadata attached to every post-commit mutation.
type EditMeta struct {
	Reason string
	Editor string
	At     time.Time
}

// Repository is the persistence port for the engine. CommitTransaction,
// EditTransaction and CancelTransaction are the only operations that mutate
// shared durable state and each must be atomic: transaction rows, item rows
// and stock movements all land or none do.
type Repository interface {
	ListProducts(ctx context.Context) ([]domain.Product, error)
	ListProductsInStock(ctx context.Context) ([]domain.Product, error)
	ListProductsBelowReorder(ctx context.Context) ([]domain.Product, error)
	CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	GetProduct(ctx context.Context, id string) (*domain.Product, error)
	GetProductsByIDs(ctx context.Context, ids []string) (map[string]domain.Product, error)

	FindTransactionByID(ctx context.Context, id string) (*domain.Transaction, error)
	FindTransactionByIdempotency(ctx context.Context, key string) (*domain.Transaction, error)
	ListTransactions(ctx context.Context, from time.Time, to time.Time, includeCancelled bool, limit int) ([]domain.Transaction, error)

	// CommitTransaction re-validates stock against current levels inside the
	// atomic boundary, recomputes monetary fields from the item rows, writes
	// the transaction, its items and one negative StockMovement per product.
	// A transaction with the same idempotency key is returned as-is instead
	// of being written twice.
	CommitTransaction(ctx context.Context, tx domain.Transaction) (*domain.Transaction, error)

	// EditTransaction replaces the item list, reconciles the per-product
	// stock delta (validating positive deltas against live stock), updates
	// totals and edit metadata, and appends signed StockMovements.
	EditTransaction(ctx context.Context, id string, items []domain.TransactionItem, disc domain.DiscountResult, pwdSeniorID string, meta EditMeta) (*domain.Transaction, error)

	// CancelTransaction flips status to cancelled and restores every line's
	// pieces back to stock via positive StockMovements. Irreversible.
	CancelTransaction(ctx context.Context, id string, meta EditMeta) (*domain.Transaction, error)

	ListStockMovements(ctx context.Context, productID string, limit int) ([]domain.StockMovement, error)

	SalesSummary(ctx context.Context, from time.Time, to time.Time) (domain.SalesSummary, error)

	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error)

	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}
