// Package cart holds the order-in-progress aggregate. Every mutation
// re-reads the product so stock checks run against live counts, and the
// resulting cart is persisted through a Store so it survives a terminal
// reload. The check is point-in-time: commit re-validates under the
// storage-level atomic boundary.
package cart

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"botikapos/backend/internal/discount"
	"botikapos/backend/internal/domain"
	"botikapos/backend/internal/store"
	"botikapos/backend/internal/units"
	"botikapos/backend/internal/xid"
)

// ProductReader is the slice of the repository the cart needs: fresh
// product reads, never cached.
type ProductReader interface {
	GetProduct(ctx context.Context, id string) (*domain.Product, error)
}

type Manager struct {
	products ProductReader
	carts    Store
}

func NewManager(products ProductReader, carts Store) *Manager {
	return &Manager{products: products, carts: carts}
}

func (m *Manager) Create(ctx context.Context, terminalID string) (*domain.Cart, error) {
	terminalID = strings.TrimSpace(terminalID)
	if terminalID == "" {
		return nil, fmt.Errorf("%w: terminal_id is required", store.ErrValidation)
	}

	cart := domain.Cart{
		ID:            uuid.NewString(),
		TerminalID:    terminalID,
		Items:         []domain.CartItem{},
		PaymentMethod: "cash",
		Discount:      domain.DiscountSelection{Type: domain.DiscountNone},
		UpdatedAt:     time.Now().UTC(),
	}
	if err := m.carts.Save(ctx, cart); err != nil {
		return nil, err
	}
	return &cart, nil
}

func (m *Manager) Get(ctx context.Context, cartID string) (*domain.Cart, error) {
	cart, found, err := m.carts.Get(ctx, cartID)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, store.ErrNotFound
	}
	return cart, nil
}

// AddItem converts the requested quantity to pieces, checks the prospective
// per-product total against live stock, and merges into an existing line for
// the same product+unit or appends a new one.
func (m *Manager) AddItem(ctx context.Context, cartID string, line domain.CartLineRequest) (*domain.Cart, error) {
	if line.Quantity < 1 {
		return nil, fmt.Errorf("%w: quantity must be positive", store.ErrValidation)
	}

	cart, err := m.Get(ctx, cartID)
	if err != nil {
		return nil, err
	}
	product, err := m.products.GetProduct(ctx, line.ProductID)
	if err != nil {
		return nil, err
	}
	if !product.Active {
		return nil, fmt.Errorf("%w: product %s is inactive", store.ErrValidation, product.ID)
	}

	pieces, err := units.ToPieces(*product, line.Quantity, line.Unit)
	if err != nil {
		return nil, err
	}

	prospective := demandForProduct(cart.Items, product.ID, "") + pieces
	if prospective > product.StockInPieces {
		return nil, &store.StockConflictError{
			ProductID:   product.ID,
			ProductName: product.Name,
			Requested:   prospective,
			Available:   product.StockInPieces,
		}
	}

	unitPrice, err := units.UnitPrice(*product, line.Unit)
	if err != nil {
		return nil, err
	}

	merged := false
	for i := range cart.Items {
		item := &cart.Items[i]
		if item.ProductID == product.ID && item.Unit == line.Unit {
			item.QuantityInPieces += pieces
			item.ProductName = product.Name
			item.UnitPrice = unitPrice
			item.TotalPrice = lineTotal(*product, item.QuantityInPieces)
			merged = true
			break
		}
	}
	if !merged {
		cart.Items = append(cart.Items, domain.CartItem{
			ID:               xid.New("item"),
			ProductID:        product.ID,
			ProductName:      product.Name,
			Unit:             line.Unit,
			QuantityInPieces: pieces,
			UnitPrice:        unitPrice,
			TotalPrice:       lineTotal(*product, pieces),
		})
	}

	return m.save(ctx, cart)
}

// UpdateQuantity replaces an item's quantity (expressed in its selling
// unit). The stock check replaces, not adds, the item's prior contribution.
func (m *Manager) UpdateQuantity(ctx context.Context, cartID string, itemID string, quantity int) (*domain.Cart, error) {
	if quantity < 1 {
		return nil, fmt.Errorf("%w: quantity must be positive", store.ErrValidation)
	}

	cart, err := m.Get(ctx, cartID)
	if err != nil {
		return nil, err
	}

	idx := indexOfItem(cart.Items, itemID)
	if idx < 0 {
		return nil, store.ErrNotFound
	}
	item := &cart.Items[idx]

	product, err := m.products.GetProduct(ctx, item.ProductID)
	if err != nil {
		return nil, err
	}

	pieces, err := units.ToPieces(*product, quantity, item.Unit)
	if err != nil {
		return nil, err
	}

	prospective := demandForProduct(cart.Items, product.ID, itemID) + pieces
	if prospective > product.StockInPieces {
		return nil, &store.StockConflictError{
			ProductID:   product.ID,
			ProductName: product.Name,
			Requested:   prospective,
			Available:   product.StockInPieces,
		}
	}

	unitPrice, err := units.UnitPrice(*product, item.Unit)
	if err != nil {
		return nil, err
	}

	item.QuantityInPieces = pieces
	item.ProductName = product.Name
	item.UnitPrice = unitPrice
	item.TotalPrice = lineTotal(*product, pieces)

	return m.save(ctx, cart)
}

func (m *Manager) RemoveItem(ctx context.Context, cartID string, itemID string) (*domain.Cart, error) {
	cart, err := m.Get(ctx, cartID)
	if err != nil {
		return nil, err
	}

	idx := indexOfItem(cart.Items, itemID)
	if idx < 0 {
		return nil, store.ErrNotFound
	}
	cart.Items = append(cart.Items[:idx], cart.Items[idx+1:]...)

	return m.save(ctx, cart)
}

func (m *Manager) SetDetails(ctx context.Context, cartID string, req domain.CartUpdateRequest) (*domain.Cart, error) {
	cart, err := m.Get(ctx, cartID)
	if err != nil {
		return nil, err
	}

	if req.CustomerName != nil {
		cart.CustomerName = strings.TrimSpace(*req.CustomerName)
	}
	if req.CustomerPhone != nil {
		cart.CustomerPhone = strings.TrimSpace(*req.CustomerPhone)
	}
	if req.PaymentMethod != nil {
		method := strings.ToLower(strings.TrimSpace(*req.PaymentMethod))
		if !isSupportedPaymentMethod(method) {
			return nil, fmt.Errorf("%w: unsupported payment method %q", store.ErrValidation, method)
		}
		cart.PaymentMethod = method
	}
	if req.Discount != nil {
		if !isKnownDiscountType(req.Discount.Type) {
			return nil, fmt.Errorf("%w: unknown discount type %q", store.ErrValidation, req.Discount.Type)
		}
		cart.Discount = *req.Discount
	}

	return m.save(ctx, cart)
}

// Clear empties the cart and removes its persisted entry.
func (m *Manager) Clear(ctx context.Context, cartID string) error {
	return m.carts.Delete(ctx, cartID)
}

// Totals recomputes subtotal, discount and final total from the current
// items. The final total is floored at zero.
func Totals(cart domain.Cart) domain.CartTotals {
	subtotal := decimal.Zero
	for _, item := range cart.Items {
		subtotal = subtotal.Add(item.TotalPrice)
	}
	subtotal = subtotal.Round(2)

	disc := discount.Compute(cart.Discount, subtotal)
	total := subtotal.Sub(disc.Amount)
	if total.IsNegative() {
		total = decimal.Zero
	}

	return domain.CartTotals{
		Subtotal: subtotal,
		Discount: disc,
		Total:    total.Round(2),
	}
}

// QueuePending stores a commit request for later replay when storage is
// unreachable.
func (m *Manager) QueuePending(ctx context.Context, terminalID string, req domain.CommitRequest) (*domain.PendingCommit, error) {
	pending := domain.PendingCommit{
		ID:         uuid.NewString(),
		TerminalID: strings.TrimSpace(terminalID),
		Request:    req,
		QueuedAt:   time.Now().UTC(),
	}
	if pending.TerminalID == "" {
		return nil, fmt.Errorf("%w: terminal_id is required", store.ErrValidation)
	}
	if err := m.carts.Enqueue(ctx, pending); err != nil {
		return nil, err
	}
	return &pending, nil
}

// DrainPending removes and returns all queued commits for a terminal.
func (m *Manager) DrainPending(ctx context.Context, terminalID string) ([]domain.PendingCommit, error) {
	return m.carts.Dequeue(ctx, terminalID)
}

func (m *Manager) save(ctx context.Context, cart *domain.Cart) (*domain.Cart, error) {
	cart.UpdatedAt = time.Now().UTC()
	if err := m.carts.Save(ctx, *cart); err != nil {
		return nil, err
	}
	return cart, nil
}

func lineTotal(product domain.Product, pieces int) decimal.Decimal {
	return product.PricePerPiece.Mul(decimal.NewFromInt(int64(pieces))).Round(2)
}

func demandForProduct(items []domain.CartItem, productID string, excludeItemID string) int {
	total := 0
	for _, item := range items {
		if item.ProductID != productID || item.ID == excludeItemID {
			continue
		}
		total += item.QuantityInPieces
	}
	return total
}

func indexOfItem(items []domain.CartItem, itemID string) int {
	for i, item := range items {
		if item.ID == itemID {
			return i
		}
	}
	return -1
}

func isSupportedPaymentMethod(method string) bool {
	switch method {
	case "cash", "card", "gcash":
		return true
	default:
		return false
	}
}

func isKnownDiscountType(t domain.DiscountType) bool {
	switch t {
	case domain.DiscountNone, domain.DiscountPWD, domain.DiscountSenior, domain.DiscountCustom:
		return true
	default:
		return false
	}
}
