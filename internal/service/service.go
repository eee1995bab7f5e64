package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"botikapos/backend/internal/cart"
	"botikapos/backend/internal/discount"
	"botikapos/backend/internal/domain"
	"botikapos/backend/internal/notify"
	"botikapos/backend/internal/receipt"
	"botikapos/backend/internal/store"
	"botikapos/backend/internal/units"
	"botikapos/backend/internal/xid"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

// Options carry the operational policy knobs. EditWindow of zero disables
// post-commit edits and cancellations entirely.
type Options struct {
	EditWindow   time.Duration
	MinReasonLen int
	Store        receipt.StoreInfo
}

type Service struct {
	repo         store.Repository
	carts        *cart.Manager
	notifier     notify.Notifier
	editWindow   time.Duration
	minReasonLen int
	storeInfo    receipt.StoreInfo
}

func New(repo store.Repository, carts *cart.Manager, notifier notify.Notifier, opts Options) *Service {
	if notifier == nil {
		notifier = notify.LogNotifier{}
	}
	if opts.MinReasonLen < 1 {
		opts.MinReasonLen = 10
	}
	if opts.Store.Name == "" {
		opts.Store.Name = "Botika POS"
	}

	return &Service{
		repo:         repo,
		carts:        carts,
		notifier:     notifier,
		editWindow:   opts.EditWindow,
		minReasonLen: opts.MinReasonLen,
		storeInfo:    opts.Store,
	}
}

func (s *Service) ListProducts(ctx context.Context) ([]domain.Product, error) {
	return s.repo.ListProducts(ctx)
}

func (s *Service) ListProductsInStock(ctx context.Context) ([]domain.Product, error) {
	return s.repo.ListProductsInStock(ctx)
}

func (s *Service) ListProductsBelowReorder(ctx context.Context) ([]domain.Product, error) {
	return s.repo.ListProductsBelowReorder(ctx)
}

func (s *Service) GetProduct(ctx context.Context, id string) (domain.Product, error) {
	product, err := s.repo.GetProduct(ctx, id)
	if err != nil {
		return domain.Product{}, err
	}
	return *product, nil
}

func (s *Service) CreateProduct(ctx context.Context, req domain.ProductCreateRequest) (domain.Product, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return domain.Product{}, fmt.Errorf("admin role required")
	}

	req.Name = strings.TrimSpace(req.Name)
	req.Category = strings.TrimSpace(req.Category)
	if req.Name == "" || req.Category == "" {
		return domain.Product{}, fmt.Errorf("%w: name and category are required", store.ErrValidation)
	}
	if !req.PricePerPiece.IsPositive() || req.InitialStock < 0 || req.ReorderLevel < 0 {
		return domain.Product{}, fmt.Errorf("%w: price must be positive, stock and reorder level non-negative", store.ErrValidation)
	}
	if req.PiecesPerSheet < 1 {
		req.PiecesPerSheet = 1
	}
	if req.SheetsPerBox < 1 {
		req.SheetsPerBox = 1
	}

	product := domain.Product{
		ID:             xid.New("prod"),
		Name:           req.Name,
		Category:       req.Category,
		PricePerPiece:  req.PricePerPiece,
		PiecesPerSheet: req.PiecesPerSheet,
		SheetsPerBox:   req.SheetsPerBox,
		StockInPieces:  req.InitialStock,
		ReorderLevel:   req.ReorderLevel,
		Active:         true,
	}

	created, err := s.repo.CreateProduct(ctx, product)
	if err != nil {
		return domain.Product{}, err
	}

	s.logAudit(ctx, "product_create", "product", created.ID, fmt.Sprintf("name=%s,price=%s,stock=%d", created.Name, created.PricePerPiece, created.StockInPieces))

	return *created, nil
}

func (s *Service) UpdateProduct(ctx context.Context, id string, req domain.ProductUpdateRequest) (domain.Product, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return domain.Product{}, fmt.Errorf("admin role required")
	}

	existing, err := s.repo.GetProduct(ctx, id)
	if err != nil {
		return domain.Product{}, err
	}

	updated := *existing
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return domain.Product{}, fmt.Errorf("%w: name cannot be empty", store.ErrValidation)
		}
		updated.Name = name
	}
	if req.Category != nil {
		category := strings.TrimSpace(*req.Category)
		if category == "" {
			return domain.Product{}, fmt.Errorf("%w: category cannot be empty", store.ErrValidation)
		}
		updated.Category = category
	}
	if req.PricePerPiece != nil {
		if !req.PricePerPiece.IsPositive() {
			return domain.Product{}, fmt.Errorf("%w: price must be positive", store.ErrValidation)
		}
		updated.PricePerPiece = *req.PricePerPiece
	}
	if req.PiecesPerSheet != nil {
		if *req.PiecesPerSheet < 1 {
			return domain.Product{}, fmt.Errorf("%w: pieces_per_sheet must be >= 1", store.ErrValidation)
		}
		updated.PiecesPerSheet = *req.PiecesPerSheet
	}
	if req.SheetsPerBox != nil {
		if *req.SheetsPerBox < 1 {
			return domain.Product{}, fmt.Errorf("%w: sheets_per_box must be >= 1", store.ErrValidation)
		}
		updated.SheetsPerBox = *req.SheetsPerBox
	}
	if req.ReorderLevel != nil {
		if *req.ReorderLevel < 0 {
			return domain.Product{}, fmt.Errorf("%w: reorder_level must be >= 0", store.ErrValidation)
		}
		updated.ReorderLevel = *req.ReorderLevel
	}
	if req.Active != nil {
		updated.Active = *req.Active
	}

	saved, err := s.repo.UpdateProduct(ctx, updated)
	if err != nil {
		return domain.Product{}, err
	}

	s.logAudit(ctx, "product_update", "product", saved.ID, fmt.Sprintf("active=%t,price=%s", saved.Active, saved.PricePerPiece))

	return *saved, nil
}

func (s *Service) CreateCart(ctx context.Context, req domain.CartCreateRequest) (domain.Cart, error) {
	created, err := s.carts.Create(ctx, req.TerminalID)
	if err != nil {
		return domain.Cart{}, err
	}
	return *created, nil
}

func (s *Service) GetCart(ctx context.Context, cartID string) (domain.Cart, domain.CartTotals, error) {
	c, err := s.carts.Get(ctx, cartID)
	if err != nil {
		return domain.Cart{}, domain.CartTotals{}, err
	}
	return *c, cart.Totals(*c), nil
}

func (s *Service) AddCartItem(ctx context.Context, cartID string, line domain.CartLineRequest) (domain.Cart, domain.CartTotals, error) {
	c, err := s.carts.AddItem(ctx, cartID, line)
	if err != nil {
		return domain.Cart{}, domain.CartTotals{}, err
	}
	return *c, cart.Totals(*c), nil
}

func (s *Service) UpdateCartItem(ctx context.Context, cartID string, itemID string, quantity int) (domain.Cart, domain.CartTotals, error) {
	c, err := s.carts.UpdateQuantity(ctx, cartID, itemID, quantity)
	if err != nil {
		return domain.Cart{}, domain.CartTotals{}, err
	}
	return *c, cart.Totals(*c), nil
}

func (s *Service) RemoveCartItem(ctx context.Context, cartID string, itemID string) (domain.Cart, domain.CartTotals, error) {
	c, err := s.carts.RemoveItem(ctx, cartID, itemID)
	if err != nil {
		return domain.Cart{}, domain.CartTotals{}, err
	}
	return *c, cart.Totals(*c), nil
}

func (s *Service) UpdateCartDetails(ctx context.Context, cartID string, req domain.CartUpdateRequest) (domain.Cart, domain.CartTotals, error) {
	c, err := s.carts.SetDetails(ctx, cartID, req)
	if err != nil {
		return domain.Cart{}, domain.CartTotals{}, err
	}
	return *c, cart.Totals(*c), nil
}

func (s *Service) ClearCart(ctx context.Context, cartID string) error {
	return s.carts.Clear(ctx, cartID)
}

// Commit turns a cart into a durable transaction. Prices and the discount
// are recomputed from fresh product reads; the cart's stale line totals are
// never trusted. On an infrastructure failure the request is queued for
// later replay under its idempotency key.
func (s *Service) Commit(ctx context.Context, req domain.CommitRequest) (domain.CommitResponse, error) {
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = uuid.NewString()
	}

	if existing, err := s.repo.FindTransactionByIdempotency(ctx, req.IdempotencyKey); err == nil {
		return domain.CommitResponse{Transaction: *existing, Duplicate: true}, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return domain.CommitResponse{}, err
	}

	c, err := s.carts.Get(ctx, req.CartID)
	if err != nil {
		return domain.CommitResponse{}, err
	}
	if len(c.Items) == 0 {
		return domain.CommitResponse{}, fmt.Errorf("%w: cart is empty", store.ErrValidation)
	}

	if req.PaymentMethod == "" {
		req.PaymentMethod = c.PaymentMethod
	}
	req.PaymentMethod = strings.ToLower(strings.TrimSpace(req.PaymentMethod))
	if !isSupportedPaymentMethod(req.PaymentMethod) {
		return domain.CommitResponse{}, fmt.Errorf("%w: unsupported payment method %q", store.ErrValidation, req.PaymentMethod)
	}

	selection := c.Discount
	if req.Discount.Type != "" {
		selection = req.Discount
	}

	items, subtotal, err := s.repriceCartItems(ctx, c.Items)
	if err != nil {
		return domain.CommitResponse{}, err
	}
	disc := discount.Compute(selection, subtotal)
	// A pending ID is fine on the cart view but never on a durable sale.
	if disc.PendingID {
		return domain.CommitResponse{}, fmt.Errorf("%w: %s discount requires an ID number", store.ErrValidation, selection.Type)
	}

	customerName := req.CustomerName
	if customerName == "" {
		customerName = c.CustomerName
	}
	customerPhone := req.CustomerPhone
	if customerPhone == "" {
		customerPhone = c.CustomerPhone
	}

	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{Username: "system", Role: "system"}
	}

	tx := domain.Transaction{
		ID:                 xid.New("txn"),
		IdempotencyKey:     req.IdempotencyKey,
		CashierUsername:    actor.Username,
		CustomerName:       customerName,
		CustomerPhone:      customerPhone,
		DiscountType:       disc.Type,
		DiscountPercentage: disc.Percentage,
		DiscountAmount:     disc.Amount,
		PwdSeniorID:        selection.IDNumber,
		PaymentMethod:      req.PaymentMethod,
		AmountPaid:         req.AmountPaid,
		CreatedAt:          time.Now().UTC(),
		Items:              items,
	}

	created, err := s.repo.CommitTransaction(ctx, tx)
	if err != nil {
		if isClientFault(err) {
			return domain.CommitResponse{}, err
		}
		// Storage is unreachable or broken; park the request so it can be
		// replayed with the same idempotency key once storage is back. The
		// cause stays in the log, never in the response.
		log.Printf("[service] WARN: commit failed idem=%s: %v", req.IdempotencyKey, err)
		if _, queueErr := s.carts.QueuePending(ctx, c.TerminalID, req); queueErr != nil {
			log.Printf("[service] WARN: failed to queue offline commit idem=%s: %v", req.IdempotencyKey, queueErr)
			return domain.CommitResponse{}, fmt.Errorf("%w: commit failed", store.ErrPersistence)
		}
		return domain.CommitResponse{}, fmt.Errorf("%w: commit queued for replay", store.ErrPersistence)
	}

	if err := s.carts.Clear(ctx, c.ID); err != nil {
		log.Printf("[service] WARN: failed to clear cart %s after commit: %v", c.ID, err)
	}

	s.logAudit(ctx, "checkout", "transaction", created.ID, fmt.Sprintf("total=%s,payment=%s,discount=%s", created.TotalAmount, created.PaymentMethod, created.DiscountAmount))
	s.notifyCommit(ctx, *created)

	return domain.CommitResponse{Transaction: *created, Duplicate: false}, nil
}

// repriceCartItems rebuilds transaction items from fresh product reads so a
// price change between add-to-cart and commit always lands on the current
// price.
func (s *Service) repriceCartItems(ctx context.Context, cartItems []domain.CartItem) ([]domain.TransactionItem, decimal.Decimal, error) {
	ids := make([]string, 0, len(cartItems))
	for _, item := range cartItems {
		ids = append(ids, item.ProductID)
	}
	products, err := s.repo.GetProductsByIDs(ctx, ids)
	if err != nil {
		return nil, decimal.Zero, err
	}

	subtotal := decimal.Zero
	items := make([]domain.TransactionItem, 0, len(cartItems))
	for _, item := range cartItems {
		product, exists := products[item.ProductID]
		if !exists {
			return nil, decimal.Zero, fmt.Errorf("%w: product %s unavailable", store.ErrValidation, item.ProductID)
		}

		unitPrice, err := units.UnitPrice(product, item.Unit)
		if err != nil {
			return nil, decimal.Zero, err
		}
		total := product.PricePerPiece.Mul(decimal.NewFromInt(int64(item.QuantityInPieces))).Round(2)

		items = append(items, domain.TransactionItem{
			ProductID:        product.ID,
			ProductName:      product.Name,
			Unit:             item.Unit,
			QuantityInPieces: item.QuantityInPieces,
			UnitPrice:        unitPrice,
			TotalPrice:       total,
		})
		subtotal = subtotal.Add(total)
	}

	return items, subtotal.Round(2), nil
}

func (s *Service) LookupByIdempotency(ctx context.Context, key string) (domain.CommitResponse, bool, error) {
	if key == "" {
		return domain.CommitResponse{}, false, fmt.Errorf("%w: idempotency key is required", store.ErrValidation)
	}

	tx, err := s.repo.FindTransactionByIdempotency(ctx, key)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.CommitResponse{}, false, nil
		}
		return domain.CommitResponse{}, false, err
	}
	return domain.CommitResponse{Transaction: *tx, Duplicate: true}, true, nil
}

// SyncOffline replays queued commits for a terminal: anything parked
// server-side plus whatever the terminal held locally. Replays run under
// their original idempotency keys, so a retry of an already-landed commit
// reports duplicate rather than double-charging.
func (s *Service) SyncOffline(ctx context.Context, req domain.OfflineSyncRequest) (domain.OfflineSyncResponse, error) {
	if strings.TrimSpace(req.TerminalID) == "" {
		return domain.OfflineSyncResponse{}, fmt.Errorf("%w: terminal_id is required", store.ErrValidation)
	}

	parked, err := s.carts.DrainPending(ctx, req.TerminalID)
	if err != nil {
		return domain.OfflineSyncResponse{}, err
	}

	pending := make([]domain.PendingCommit, 0, len(parked)+len(req.Commits))
	pending = append(pending, parked...)
	pending = append(pending, req.Commits...)

	resp := domain.OfflineSyncResponse{Statuses: make([]domain.OfflineSyncStatus, 0, len(pending))}
	for _, p := range pending {
		status := domain.OfflineSyncStatus{PendingID: p.ID}

		commitResp, err := s.Commit(ctx, p.Request)
		if err != nil {
			status.Status = "rejected"
			status.Reason = err.Error()
			resp.Statuses = append(resp.Statuses, status)
			continue
		}

		if commitResp.Duplicate {
			status.Status = "duplicate"
		} else {
			status.Status = "accepted"
		}
		status.TransactionID = commitResp.Transaction.ID
		resp.Statuses = append(resp.Statuses, status)
	}

	return resp, nil
}

func (s *Service) GetTransaction(ctx context.Context, id string) (domain.Transaction, error) {
	tx, err := s.repo.FindTransactionByID(ctx, id)
	if err != nil {
		return domain.Transaction{}, err
	}
	return *tx, nil
}

func (s *Service) ListTransactions(ctx context.Context, from time.Time, to time.Time, includeCancelled bool, limit int) ([]domain.Transaction, error) {
	return s.repo.ListTransactions(ctx, from, to, includeCancelled, limit)
}

// Edit replaces a completed transaction's items within the edit window.
// New quantities are resolved against current products and prices, the
// discount is recomputed from the new subtotal, and stock is reconciled by
// delta inside the repository.
func (s *Service) Edit(ctx context.Context, id string, req domain.EditRequest) (domain.Transaction, error) {
	tx, err := s.repo.FindTransactionByID(ctx, id)
	if err != nil {
		return domain.Transaction{}, err
	}
	if err := s.ensureEditable(*tx, req.Reason); err != nil {
		return domain.Transaction{}, err
	}
	if len(req.Items) == 0 {
		return domain.Transaction{}, fmt.Errorf("%w: edited transaction needs at least one item", store.ErrValidation)
	}

	items, subtotal, err := s.resolveLines(ctx, req.Items)
	if err != nil {
		return domain.Transaction{}, err
	}

	selection := domain.DiscountSelection{
		Type:          tx.DiscountType,
		CustomPercent: tx.DiscountPercentage,
		IDNumber:      tx.PwdSeniorID,
	}
	if req.Discount != nil {
		selection = *req.Discount
	}
	disc := discount.Compute(selection, subtotal)
	if disc.PendingID {
		return domain.Transaction{}, fmt.Errorf("%w: %s discount requires an ID number", store.ErrValidation, selection.Type)
	}

	edited, err := s.repo.EditTransaction(ctx, id, items, disc, selection.IDNumber, s.editMeta(ctx, req.Reason))
	if err != nil {
		return domain.Transaction{}, err
	}

	s.logAudit(ctx, "transaction_edit", "transaction", edited.ID, fmt.Sprintf("reason=%s,total=%s", req.Reason, edited.TotalAmount))

	return *edited, nil
}

// Revert restores the transaction's pre-edit item list. It is just another
// audited edit, replaying the snapshot captured on the first edit.
func (s *Service) Revert(ctx context.Context, id string, req domain.RevertRequest) (domain.Transaction, error) {
	tx, err := s.repo.FindTransactionByID(ctx, id)
	if err != nil {
		return domain.Transaction{}, err
	}
	if err := s.ensureEditable(*tx, req.Reason); err != nil {
		return domain.Transaction{}, err
	}
	if !tx.IsEdited || len(tx.OriginalItems) == 0 {
		return domain.Transaction{}, fmt.Errorf("%w: transaction has never been edited", store.ErrValidation)
	}

	subtotal := decimal.Zero
	for _, item := range tx.OriginalItems {
		subtotal = subtotal.Add(item.TotalPrice)
	}
	subtotal = subtotal.Round(2)

	selection := domain.DiscountSelection{
		Type:          tx.DiscountType,
		CustomPercent: tx.DiscountPercentage,
		IDNumber:      tx.PwdSeniorID,
	}
	disc := discount.Compute(selection, subtotal)

	reverted, err := s.repo.EditTransaction(ctx, id, tx.OriginalItems, disc, tx.PwdSeniorID, s.editMeta(ctx, req.Reason))
	if err != nil {
		return domain.Transaction{}, err
	}

	s.logAudit(ctx, "transaction_revert", "transaction", reverted.ID, fmt.Sprintf("reason=%s", req.Reason))

	return *reverted, nil
}

// Cancel voids a completed transaction and restores its stock. Cancelled
// transactions stay queryable but never count toward revenue.
func (s *Service) Cancel(ctx context.Context, id string, req domain.CancelRequest) (domain.Transaction, error) {
	tx, err := s.repo.FindTransactionByID(ctx, id)
	if err != nil {
		return domain.Transaction{}, err
	}
	if err := s.ensureEditable(*tx, req.Reason); err != nil {
		return domain.Transaction{}, err
	}

	cancelled, err := s.repo.CancelTransaction(ctx, id, s.editMeta(ctx, req.Reason))
	if err != nil {
		return domain.Transaction{}, err
	}

	s.logAudit(ctx, "transaction_cancel", "transaction", cancelled.ID, fmt.Sprintf("reason=%s,restored_total=%s", req.Reason, cancelled.TotalAmount))

	return *cancelled, nil
}

func (s *Service) Receipt(ctx context.Context, transactionID string) (receipt.Data, error) {
	tx, err := s.repo.FindTransactionByID(ctx, transactionID)
	if err != nil {
		return receipt.Data{}, err
	}
	return receipt.Build(s.storeInfo, *tx)
}

func (s *Service) ListStockMovements(ctx context.Context, productID string, limit int) ([]domain.StockMovement, error) {
	return s.repo.ListStockMovements(ctx, productID, limit)
}

func (s *Service) SalesSummary(ctx context.Context, from time.Time, to time.Time) (domain.SalesSummary, error) {
	return s.repo.SalesSummary(ctx, from, to)
}

func (s *Service) ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return nil, fmt.Errorf("admin role required")
	}
	return s.repo.ListAuditLogs(ctx, from, to, limit)
}

func (s *Service) ensureEditable(tx domain.Transaction, reason string) error {
	if tx.Status != domain.TxStatusCompleted {
		return store.ErrTransactionFinal
	}
	if s.editWindow <= 0 {
		return store.ErrEditWindowExpired
	}
	if time.Now().UTC().Sub(tx.CreatedAt) > s.editWindow {
		return store.ErrEditWindowExpired
	}
	if len(strings.TrimSpace(reason)) < s.minReasonLen {
		return fmt.Errorf("%w: reason must be at least %d characters", store.ErrValidation, s.minReasonLen)
	}
	return nil
}

func (s *Service) editMeta(ctx context.Context, reason string) store.EditMeta {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{Username: "system", Role: "system"}
	}
	return store.EditMeta{
		Reason: strings.TrimSpace(reason),
		Editor: actor.Username,
		At:     time.Now().UTC(),
	}
}

// resolveLines converts unit-quantity line requests into transaction items
// priced from current products.
func (s *Service) resolveLines(ctx context.Context, lines []domain.CartLineRequest) ([]domain.TransactionItem, decimal.Decimal, error) {
	ids := make([]string, 0, len(lines))
	for _, line := range lines {
		ids = append(ids, line.ProductID)
	}
	products, err := s.repo.GetProductsByIDs(ctx, ids)
	if err != nil {
		return nil, decimal.Zero, err
	}

	subtotal := decimal.Zero
	items := make([]domain.TransactionItem, 0, len(lines))
	for _, line := range lines {
		if line.Quantity < 1 {
			return nil, decimal.Zero, fmt.Errorf("%w: quantity must be positive", store.ErrValidation)
		}
		product, exists := products[line.ProductID]
		if !exists {
			return nil, decimal.Zero, fmt.Errorf("%w: product %s unavailable", store.ErrValidation, line.ProductID)
		}

		pieces, err := units.ToPieces(product, line.Quantity, line.Unit)
		if err != nil {
			return nil, decimal.Zero, err
		}
		unitPrice, err := units.UnitPrice(product, line.Unit)
		if err != nil {
			return nil, decimal.Zero, err
		}
		total := product.PricePerPiece.Mul(decimal.NewFromInt(int64(pieces))).Round(2)

		items = append(items, domain.TransactionItem{
			ProductID:        product.ID,
			ProductName:      product.Name,
			Unit:             line.Unit,
			QuantityInPieces: pieces,
			UnitPrice:        unitPrice,
			TotalPrice:       total,
		})
		subtotal = subtotal.Add(total)
	}

	return items, subtotal.Round(2), nil
}

// notifyCommit fires post-commit events. Failures are logged only; the
// transaction has already landed.
func (s *Service) notifyCommit(ctx context.Context, tx domain.Transaction) {
	if err := s.notifier.SaleCompleted(ctx, tx); err != nil {
		log.Printf("[service] WARN: sale.completed notify failed tx=%s: %v", tx.ID, err)
	}

	ids := make([]string, 0, len(tx.Items))
	for _, item := range tx.Items {
		ids = append(ids, item.ProductID)
	}
	products, err := s.repo.GetProductsByIDs(ctx, ids)
	if err != nil {
		log.Printf("[service] WARN: low-stock check failed tx=%s: %v", tx.ID, err)
		return
	}
	for _, product := range products {
		if product.StockInPieces <= product.ReorderLevel {
			if err := s.notifier.StockLow(ctx, product); err != nil {
				log.Printf("[service] WARN: stock.low notify failed product=%s: %v", product.ID, err)
			}
		}
	}
}

func (s *Service) logAudit(ctx context.Context, action string, entityType string, entityID string, detail string) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{Username: "system", Role: "system"}
	}

	if err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		ID:            xid.New("audit"),
		ActorUsername: actor.Username,
		ActorRole:     actor.Role,
		Action:        action,
		EntityType:    entityType,
		EntityID:      entityID,
		Detail:        detail,
		CreatedAt:     time.Now().UTC(),
	}); err != nil {
		log.Printf("[audit] WARN: failed to write audit log action=%s entity=%s/%s: %v", action, entityType, entityID, err)
	}
}

// isClientFault reports whether a commit failure is the caller's problem
// (bad input, oversell, short payment) rather than an infrastructure one.
func isClientFault(err error) bool {
	return errors.Is(err, store.ErrValidation) ||
		errors.Is(err, store.ErrInsufficientStock) ||
		errors.Is(err, store.ErrPaymentInsufficient) ||
		errors.Is(err, store.ErrNotFound)
}

func isSupportedPaymentMethod(method string) bool {
	switch method {
	case "cash", "card", "gcash":
		return true
	default:
		return false
	}
}
