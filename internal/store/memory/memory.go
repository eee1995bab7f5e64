package memory

import (
	"context"
	"fmt"
	"log"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"botikapos/backend/internal/domain"
	"botikapos/backend/internal/store"
	"botikapos/backend/internal/xid"
)

// Store is the in-memory repository used for dev mode and tests. A single
// mutex stands in for the storage-level atomic boundary: commit, edit and
// cancel each run start-to-finish under it.
type Store struct {
	mu                 sync.RWMutex
	products           map[string]domain.Product
	productOrder       []string
	transactionsByID   map[string]*domain.Transaction
	transactionsByIdem map[string]*domain.Transaction
	movements          []domain.StockMovement
	auditLogs          []domain.AuditLog
	usersByUsername    map[string]domain.UserAccount
}

// seedUsers builds the initial in-memory user accounts for dev/demo mode.
// Credentials are read from SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD
// environment variables, with hardcoded dev defaults and a warning when
// unset. Production deployments use PostgreSQL-backed accounts.
func seedUsers() map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	cashierPwd := envOr("SEED_CASHIER_PASSWORD", "cashier123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_CASHIER_PASSWORD") == "" {
		log.Println("[memory-store] WARNING: using default dev credentials. Set SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD to override.")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", adminPwd, "admin"},
		{"cashier", cashierPwd, "cashier"},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatalf("[memory-store] failed to hash seed password for %s: %v", u.username, err)
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func NewSeeded() *Store {
	products := []domain.Product{
		{ID: "prod-paracetamol-500", Name: "Paracetamol 500mg", Category: "analgesic", PricePerPiece: dec("5.00"), PiecesPerSheet: 10, SheetsPerBox: 10, StockInPieces: 500, ReorderLevel: 100, Active: true},
		{ID: "prod-amoxicillin-500", Name: "Amoxicillin 500mg", Category: "antibiotic", PricePerPiece: dec("12.50"), PiecesPerSheet: 10, SheetsPerBox: 10, StockInPieces: 300, ReorderLevel: 80, Active: true},
		{ID: "prod-cetirizine-10", Name: "Cetirizine 10mg", Category: "antihistamine", PricePerPiece: dec("8.75"), PiecesPerSheet: 10, SheetsPerBox: 5, StockInPieces: 250, ReorderLevel: 50, Active: true},
		{ID: "prod-losartan-50", Name: "Losartan 50mg", Category: "antihypertensive", PricePerPiece: dec("9.25"), PiecesPerSheet: 10, SheetsPerBox: 10, StockInPieces: 400, ReorderLevel: 100, Active: true},
		{ID: "prod-metformin-500", Name: "Metformin 500mg", Category: "antidiabetic", PricePerPiece: dec("6.50"), PiecesPerSheet: 10, SheetsPerBox: 10, StockInPieces: 450, ReorderLevel: 120, Active: true},
		{ID: "prod-ascorbic-500", Name: "Ascorbic Acid 500mg", Category: "vitamin", PricePerPiece: dec("4.25"), PiecesPerSheet: 10, SheetsPerBox: 10, StockInPieces: 600, ReorderLevel: 150, Active: true},
		{ID: "prod-cough-syrup-60", Name: "Carbocisteine Syrup 60ml", Category: "cough-cold", PricePerPiece: dec("85.50"), PiecesPerSheet: 1, SheetsPerBox: 24, StockInPieces: 60, ReorderLevel: 20, Active: true},
		{ID: "prod-omeprazole-20", Name: "Omeprazole 20mg", Category: "antacid", PricePerPiece: dec("11.00"), PiecesPerSheet: 7, SheetsPerBox: 4, StockInPieces: 196, ReorderLevel: 56, Active: true},
	}

	productMap := make(map[string]domain.Product, len(products))
	order := make([]string, 0, len(products))
	for _, p := range products {
		productMap[p.ID] = p
		order = append(order, p.ID)
	}

	return &Store{
		products:           productMap,
		productOrder:       order,
		transactionsByID:   make(map[string]*domain.Transaction),
		transactionsByIdem: make(map[string]*domain.Transaction),
		movements:          make([]domain.StockMovement, 0, 128),
		auditLogs:          make([]domain.AuditLog, 0, 128),
		usersByUsername:    seedUsers(),
	}
}

// NewEmpty returns a store with no seed data, for tests that build their
// own catalog and accounts.
func NewEmpty() *Store {
	return &Store{
		products:           make(map[string]domain.Product),
		transactionsByID:   make(map[string]*domain.Transaction),
		transactionsByIdem: make(map[string]*domain.Transaction),
		usersByUsername:    make(map[string]domain.UserAccount),
	}
}

func (s *Store) ListProducts(_ context.Context) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listProductsLocked(func(domain.Product) bool { return true }), nil
}

func (s *Store) ListProductsInStock(_ context.Context) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listProductsLocked(func(p domain.Product) bool { return p.StockInPieces > 0 }), nil
}

func (s *Store) ListProductsBelowReorder(_ context.Context) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listProductsLocked(func(p domain.Product) bool { return p.StockInPieces <= p.ReorderLevel }), nil
}

func (s *Store) listProductsLocked(keep func(domain.Product) bool) []domain.Product {
	products := make([]domain.Product, 0, len(s.products))
	for _, id := range s.productOrder {
		p := s.products[id]
		if !p.Active || !keep(p) {
			continue
		}
		products = append(products, p)
	}
	slices.SortStableFunc(products, func(a, b domain.Product) int {
		if a.Category == b.Category {
			return strings.Compare(a.Name, b.Name)
		}
		return strings.Compare(a.Category, b.Category)
	})
	return products
}

func (s *Store) CreateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := validateProduct(product); err != nil {
		return nil, err
	}
	if _, exists := s.products[product.ID]; exists {
		return nil, fmt.Errorf("%w: product %s already exists", store.ErrValidation, product.ID)
	}

	product.Active = true
	s.products[product.ID] = product
	s.productOrder = append(s.productOrder, product.ID)
	created := product
	return &created, nil
}

func (s *Store) UpdateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := validateProduct(product); err != nil {
		return nil, err
	}
	existing, exists := s.products[product.ID]
	if !exists {
		return nil, store.ErrNotFound
	}
	// Stock is owned by the movement ledger; product updates never touch it.
	product.StockInPieces = existing.StockInPieces
	s.products[product.ID] = product
	updated := product
	return &updated, nil
}

func (s *Store) GetProduct(_ context.Context, id string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	product, exists := s.products[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	copied := product
	return &copied, nil
}

func (s *Store) GetProductsByIDs(_ context.Context, ids []string) (map[string]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[string]domain.Product, len(ids))
	for _, id := range ids {
		if p, ok := s.products[id]; ok && p.Active {
			result[id] = p
		}
	}
	return result, nil
}

func (s *Store) FindTransactionByID(_ context.Context, id string) (*domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tx, ok := s.transactionsByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneTransaction(tx), nil
}

func (s *Store) FindTransactionByIdempotency(_ context.Context, key string) (*domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tx, ok := s.transactionsByIdem[key]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneTransaction(tx), nil
}

func (s *Store) ListTransactions(_ context.Context, from time.Time, to time.Time, includeCancelled bool, limit int) ([]domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit < 1 {
		limit = 100
	}
	result := make([]domain.Transaction, 0, limit)
	for _, tx := range s.transactionsByID {
		if tx.CreatedAt.Before(from) || !tx.CreatedAt.Before(to) {
			continue
		}
		if !includeCancelled && tx.Status == domain.TxStatusCancelled {
			continue
		}
		result = append(result, *cloneTransaction(tx))
	}
	slices.SortFunc(result, func(a, b domain.Transaction) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return strings.Compare(b.ID, a.ID)
		}
		if a.CreatedAt.After(b.CreatedAt) {
			return -1
		}
		return 1
	})
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) CommitTransaction(_ context.Context, tx domain.Transaction) (*domain.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if tx.IdempotencyKey == "" {
		return nil, fmt.Errorf("%w: idempotency key is required", store.ErrValidation)
	}
	if existing, ok := s.transactionsByIdem[tx.IdempotencyKey]; ok {
		return cloneTransaction(existing), nil
	}
	if len(tx.Items) == 0 {
		return nil, fmt.Errorf("%w: transaction has no items", store.ErrValidation)
	}

	// Re-check every product's aggregate demand against current stock: this
	// is the commit-time validation that closes the cart's race window.
	demand := demandPerProduct(tx.Items)
	for _, productID := range sortedKeys(demand) {
		product, exists := s.products[productID]
		if !exists || !product.Active {
			return nil, fmt.Errorf("%w: product %s unavailable", store.ErrValidation, productID)
		}
		if demand[productID] > product.StockInPieces {
			return nil, &store.StockConflictError{
				ProductID:   productID,
				ProductName: product.Name,
				Requested:   demand[productID],
				Available:   product.StockInPieces,
			}
		}
	}

	subtotal := decimal.Zero
	for _, item := range tx.Items {
		if item.QuantityInPieces < 1 {
			return nil, fmt.Errorf("%w: non-positive quantity for %s", store.ErrValidation, item.ProductID)
		}
		subtotal = subtotal.Add(item.TotalPrice)
	}
	subtotal = subtotal.Round(2)

	if tx.DiscountAmount.IsNegative() || tx.DiscountAmount.GreaterThan(subtotal) {
		return nil, fmt.Errorf("%w: discount %s out of range", store.ErrValidation, tx.DiscountAmount)
	}
	total := subtotal.Sub(tx.DiscountAmount)
	if total.IsNegative() {
		total = decimal.Zero
	}
	if tx.AmountPaid.LessThan(total) {
		return nil, fmt.Errorf("%w: paid %s, total %s", store.ErrPaymentInsufficient, tx.AmountPaid, total)
	}

	tx.Subtotal = subtotal
	tx.TotalAmount = total
	tx.ChangeAmount = tx.AmountPaid.Sub(total).Round(2)
	if tx.ID == "" {
		tx.ID = xid.New("txn")
	}
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = time.Now().UTC()
	}
	tx.Status = domain.TxStatusCompleted

	for _, productID := range sortedKeys(demand) {
		product := s.products[productID]
		before := product.StockInPieces
		product.StockInPieces = before - demand[productID]
		s.products[productID] = product
		s.movements = append(s.movements, domain.StockMovement{
			ID:            xid.New("mov"),
			ProductID:     productID,
			TransactionID: tx.ID,
			Delta:         -demand[productID],
			BeforePieces:  before,
			AfterPieces:   product.StockInPieces,
			Reason:        domain.MovementReasonSale,
			Actor:         tx.CashierUsername,
			CreatedAt:     tx.CreatedAt,
		})
	}

	stored := cloneTransaction(&tx)
	s.transactionsByID[tx.ID] = stored
	s.transactionsByIdem[tx.IdempotencyKey] = stored
	return cloneTransaction(stored), nil
}

func (s *Store) EditTransaction(_ context.Context, id string, items []domain.TransactionItem, disc domain.DiscountResult, pwdSeniorID string, meta store.EditMeta) (*domain.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, ok := s.transactionsByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	if tx.Status != domain.TxStatusCompleted {
		return nil, store.ErrTransactionFinal
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: edited transaction has no items", store.ErrValidation)
	}

	oldDemand := demandPerProduct(tx.Items)
	newDemand := demandPerProduct(items)

	// Validate positive sale deltas (more sold than before) against stock.
	for _, productID := range sortedKeys(newDemand) {
		product, exists := s.products[productID]
		if !exists || !product.Active {
			return nil, fmt.Errorf("%w: product %s unavailable", store.ErrValidation, productID)
		}
		increase := newDemand[productID] - oldDemand[productID]
		if increase > product.StockInPieces {
			return nil, &store.StockConflictError{
				ProductID:   productID,
				ProductName: product.Name,
				Requested:   increase,
				Available:   product.StockInPieces,
			}
		}
	}

	subtotal := decimal.Zero
	for _, item := range items {
		if item.QuantityInPieces < 1 {
			return nil, fmt.Errorf("%w: non-positive quantity for %s", store.ErrValidation, item.ProductID)
		}
		subtotal = subtotal.Add(item.TotalPrice)
	}
	subtotal = subtotal.Round(2)
	if disc.Amount.IsNegative() || disc.Amount.GreaterThan(subtotal) {
		return nil, fmt.Errorf("%w: discount %s out of range", store.ErrValidation, disc.Amount)
	}
	total := subtotal.Sub(disc.Amount)
	if total.IsNegative() {
		total = decimal.Zero
	}

	// Stock deltas: a higher sold quantity decreases stock, a lower one
	// restores it.
	for _, productID := range unionKeys(oldDemand, newDemand) {
		stockDelta := oldDemand[productID] - newDemand[productID]
		if stockDelta == 0 {
			continue
		}
		product := s.products[productID]
		before := product.StockInPieces
		product.StockInPieces = before + stockDelta
		s.products[productID] = product
		s.movements = append(s.movements, domain.StockMovement{
			ID:            xid.New("mov"),
			ProductID:     productID,
			TransactionID: tx.ID,
			Delta:         stockDelta,
			BeforePieces:  before,
			AfterPieces:   product.StockInPieces,
			Reason:        domain.MovementReasonEditAdjustment,
			Actor:         meta.Editor,
			CreatedAt:     meta.At,
		})
	}

	if !tx.IsEdited {
		tx.OriginalItems = cloneItems(tx.Items)
	}
	tx.Items = cloneItems(items)
	tx.Subtotal = subtotal
	tx.DiscountType = disc.Type
	tx.DiscountPercentage = disc.Percentage
	tx.DiscountAmount = disc.Amount
	tx.PwdSeniorID = pwdSeniorID
	tx.TotalAmount = total
	change := tx.AmountPaid.Sub(total).Round(2)
	if change.IsNegative() {
		change = decimal.Zero
	}
	tx.ChangeAmount = change
	tx.IsEdited = true
	tx.EditReason = meta.Reason
	tx.EditedBy = meta.Editor
	editedAt := meta.At
	tx.EditedAt = &editedAt

	return cloneTransaction(tx), nil
}

func (s *Store) CancelTransaction(_ context.Context, id string, meta store.EditMeta) (*domain.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, ok := s.transactionsByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	if tx.Status != domain.TxStatusCompleted {
		return nil, store.ErrTransactionFinal
	}

	demand := demandPerProduct(tx.Items)
	for _, productID := range sortedKeys(demand) {
		product, exists := s.products[productID]
		if !exists {
			continue
		}
		before := product.StockInPieces
		product.StockInPieces = before + demand[productID]
		s.products[productID] = product
		s.movements = append(s.movements, domain.StockMovement{
			ID:            xid.New("mov"),
			ProductID:     productID,
			TransactionID: tx.ID,
			Delta:         demand[productID],
			BeforePieces:  before,
			AfterPieces:   product.StockInPieces,
			Reason:        domain.MovementReasonUndo,
			Actor:         meta.Editor,
			CreatedAt:     meta.At,
		})
	}

	tx.Status = domain.TxStatusCancelled
	tx.CancelReason = meta.Reason
	tx.CancelledBy = meta.Editor
	cancelledAt := meta.At
	tx.CancelledAt = &cancelledAt

	return cloneTransaction(tx), nil
}

func (s *Store) ListStockMovements(_ context.Context, productID string, limit int) ([]domain.StockMovement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit < 1 {
		limit = 100
	}
	result := make([]domain.StockMovement, 0, limit)
	for i := len(s.movements) - 1; i >= 0 && len(result) < limit; i-- {
		movement := s.movements[i]
		if productID != "" && movement.ProductID != productID {
			continue
		}
		result = append(result, movement)
	}
	return result, nil
}

func (s *Store) SalesSummary(_ context.Context, from time.Time, to time.Time) (domain.SalesSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	summary := domain.SalesSummary{
		From:          from,
		To:            to,
		GrossSales:    decimal.Zero,
		DiscountTotal: decimal.Zero,
		NetSales:      decimal.Zero,
	}
	for _, tx := range s.transactionsByID {
		if tx.CreatedAt.Before(from) || !tx.CreatedAt.Before(to) {
			continue
		}
		if tx.Status == domain.TxStatusCancelled {
			summary.Cancelled++
			continue
		}
		summary.Transactions++
		summary.GrossSales = summary.GrossSales.Add(tx.Subtotal)
		summary.DiscountTotal = summary.DiscountTotal.Add(tx.DiscountAmount)
		summary.NetSales = summary.NetSales.Add(tx.TotalAmount)
	}
	return summary, nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit < 1 {
		limit = 100
	}
	result := make([]domain.AuditLog, 0, limit)
	for i := len(s.auditLogs) - 1; i >= 0 && len(result) < limit; i-- {
		entry := s.auditLogs[i]
		if entry.CreatedAt.Before(from) || !entry.CreatedAt.Before(to) {
			continue
		}
		result = append(result, entry)
	}
	return result, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if user.Username == "" {
		return fmt.Errorf("%w: username is required", store.ErrValidation)
	}
	if _, exists := s.usersByUsername[user.Username]; exists {
		return fmt.Errorf("%w: username %s already exists", store.ErrValidation, user.Username)
	}
	s.usersByUsername[user.Username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, user := range s.usersByUsername {
		users = append(users, user)
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, exists := s.usersByUsername[username]
	if !exists {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}

func validateProduct(product domain.Product) error {
	if product.ID == "" || product.Name == "" || product.Category == "" {
		return fmt.Errorf("%w: id, name and category are required", store.ErrValidation)
	}
	if !product.PricePerPiece.IsPositive() {
		return fmt.Errorf("%w: price_per_piece must be positive", store.ErrValidation)
	}
	if product.PiecesPerSheet < 1 || product.SheetsPerBox < 1 {
		return fmt.Errorf("%w: packaging factors must be >= 1", store.ErrValidation)
	}
	if product.StockInPieces < 0 || product.ReorderLevel < 0 {
		return fmt.Errorf("%w: stock and reorder level must be >= 0", store.ErrValidation)
	}
	return nil
}

func demandPerProduct(items []domain.TransactionItem) map[string]int {
	demand := make(map[string]int, len(items))
	for _, item := range items {
		demand[item.ProductID] += item.QuantityInPieces
	}
	return demand
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

func unionKeys(a, b map[string]int) []string {
	set := make(map[string]struct{}, len(a)+len(b))
	for k := range a {
		set[k] = struct{}{}
	}
	for k := range b {
		set[k] = struct{}{}
	}
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

func cloneTransaction(tx *domain.Transaction) *domain.Transaction {
	copied := *tx
	copied.Items = cloneItems(tx.Items)
	copied.OriginalItems = cloneItems(tx.OriginalItems)
	return &copied
}

func cloneItems(items []domain.TransactionItem) []domain.TransactionItem {
	if items == nil {
		return nil
	}
	copied := make([]domain.TransactionItem, len(items))
	copy(copied, items)
	return copied
}
