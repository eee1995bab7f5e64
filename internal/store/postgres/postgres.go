package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/shopspring/decimal"

	"botikapos/backend/internal/domain"
	"botikapos/backend/internal/store"
	"botikapos/backend/internal/xid"
)

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

const productColumns = `id, name, category, price_per_piece, pieces_per_sheet, sheets_per_box, stock_in_pieces, reorder_level, active`

func (s *Store) ListProducts(ctx context.Context) ([]domain.Product, error) {
	return s.listProducts(ctx, `active = true`)
}

func (s *Store) ListProductsInStock(ctx context.Context) ([]domain.Product, error) {
	return s.listProducts(ctx, `active = true AND stock_in_pieces > 0`)
}

func (s *Store) ListProductsBelowReorder(ctx context.Context) ([]domain.Product, error) {
	return s.listProducts(ctx, `active = true AND stock_in_pieces <= reorder_level`)
}

func (s *Store) listProducts(ctx context.Context, where string) ([]domain.Product, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+productColumns+`
		FROM products
		WHERE `+where+`
		ORDER BY category, name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make([]domain.Product, 0, 128)
	for rows.Next() {
		var p domain.Product
		if err := scanProduct(rows, &p); err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return products, nil
}

func scanProduct(row interface{ Scan(...any) error }, p *domain.Product) error {
	return row.Scan(&p.ID, &p.Name, &p.Category, &p.PricePerPiece, &p.PiecesPerSheet, &p.SheetsPerBox, &p.StockInPieces, &p.ReorderLevel, &p.Active)
}

func (s *Store) CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if err := validateProduct(product); err != nil {
		return nil, err
	}

	product.Active = true
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO products (id, name, category, price_per_piece, pieces_per_sheet, sheets_per_box, stock_in_pieces, reorder_level, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,now(),now())
	`, product.ID, product.Name, product.Category, product.PricePerPiece, product.PiecesPerSheet, product.SheetsPerBox, product.StockInPieces, product.ReorderLevel, product.Active)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: product %s already exists", store.ErrValidation, product.ID)
		}
		return nil, err
	}

	created := product
	return &created, nil
}

func (s *Store) UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if err := validateProduct(product); err != nil {
		return nil, err
	}

	// stock_in_pieces is deliberately absent: only the movement ledger
	// writes it.
	var updated domain.Product
	err := s.db.QueryRowContext(ctx, `
		UPDATE products
		SET name = $2, category = $3, price_per_piece = $4, pieces_per_sheet = $5,
			sheets_per_box = $6, reorder_level = $7, active = $8, updated_at = now()
		WHERE id = $1
		RETURNING `+productColumns+`
	`, product.ID, product.Name, product.Category, product.PricePerPiece, product.PiecesPerSheet, product.SheetsPerBox, product.ReorderLevel, product.Active).
		Scan(&updated.ID, &updated.Name, &updated.Category, &updated.PricePerPiece, &updated.PiecesPerSheet, &updated.SheetsPerBox, &updated.StockInPieces, &updated.ReorderLevel, &updated.Active)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}

	return &updated, nil
}

func (s *Store) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	var product domain.Product
	err := scanProduct(s.db.QueryRowContext(ctx, `
		SELECT `+productColumns+`
		FROM products
		WHERE id = $1
	`, id), &product)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &product, nil
}

func (s *Store) GetProductsByIDs(ctx context.Context, ids []string) (map[string]domain.Product, error) {
	result := make(map[string]domain.Product, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+productColumns+`
		FROM products
		WHERE active = true AND id = ANY($1)
	`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var p domain.Product
		if err := scanProduct(rows, &p); err != nil {
			return nil, err
		}
		result[p.ID] = p
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

const transactionColumns = `id, idempotency_key, cashier_username, COALESCE(customer_name,''), COALESCE(customer_phone,''),
	subtotal, discount_type, discount_percentage, discount_amount, COALESCE(pwd_senior_id,''),
	total_amount, payment_method, amount_paid, change_amount, status, is_edited,
	COALESCE(edit_reason,''), COALESCE(edited_by,''), edited_at,
	COALESCE(cancel_reason,''), COALESCE(cancelled_by,''), cancelled_at,
	original_items, created_at`

func (s *Store) FindTransactionByID(ctx context.Context, id string) (*domain.Transaction, error) {
	return s.findTransaction(ctx, "id", id)
}

func (s *Store) FindTransactionByIdempotency(ctx context.Context, key string) (*domain.Transaction, error) {
	return s.findTransaction(ctx, "idempotency_key", key)
}

func (s *Store) findTransaction(ctx context.Context, column string, value string) (*domain.Transaction, error) {
	if column != "id" && column != "idempotency_key" {
		return nil, fmt.Errorf("unsupported lookup column")
	}

	query := fmt.Sprintf(`
		SELECT %s
		FROM transactions
		WHERE %s = $1
	`, transactionColumns, column)

	tx, err := scanTransaction(s.db.QueryRowContext(ctx, query, value))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}

	items, err := s.loadItems(ctx, s.db, tx.ID)
	if err != nil {
		return nil, err
	}
	tx.Items = items

	return tx, nil
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (s *Store) loadItems(ctx context.Context, q querier, transactionID string) ([]domain.TransactionItem, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT product_id, product_name, unit, quantity_in_pieces, unit_price, total_price
		FROM transaction_items
		WHERE transaction_id = $1
		ORDER BY id ASC
	`, transactionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.TransactionItem, 0, 8)
	for rows.Next() {
		var item domain.TransactionItem
		if err := rows.Scan(&item.ProductID, &item.ProductName, &item.Unit, &item.QuantityInPieces, &item.UnitPrice, &item.TotalPrice); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

func scanTransaction(row interface{ Scan(...any) error }) (*domain.Transaction, error) {
	var tx domain.Transaction
	var editedAt sql.NullTime
	var cancelledAt sql.NullTime
	var originalItems []byte

	err := row.Scan(
		&tx.ID,
		&tx.IdempotencyKey,
		&tx.CashierUsername,
		&tx.CustomerName,
		&tx.CustomerPhone,
		&tx.Subtotal,
		&tx.DiscountType,
		&tx.DiscountPercentage,
		&tx.DiscountAmount,
		&tx.PwdSeniorID,
		&tx.TotalAmount,
		&tx.PaymentMethod,
		&tx.AmountPaid,
		&tx.ChangeAmount,
		&tx.Status,
		&tx.IsEdited,
		&tx.EditReason,
		&tx.EditedBy,
		&editedAt,
		&tx.CancelReason,
		&tx.CancelledBy,
		&cancelledAt,
		&originalItems,
		&tx.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if editedAt.Valid {
		at := editedAt.Time.UTC()
		tx.EditedAt = &at
	}
	if cancelledAt.Valid {
		at := cancelledAt.Time.UTC()
		tx.CancelledAt = &at
	}
	if len(originalItems) > 0 {
		if err := json.Unmarshal(originalItems, &tx.OriginalItems); err != nil {
			return nil, err
		}
	}
	tx.CreatedAt = tx.CreatedAt.UTC()

	return &tx, nil
}

func (s *Store) ListTransactions(ctx context.Context, from time.Time, to time.Time, includeCancelled bool, limit int) ([]domain.Transaction, error) {
	if limit < 1 {
		limit = 100
	}

	query := `
		SELECT ` + transactionColumns + `
		FROM transactions
		WHERE created_at >= $1 AND created_at < $2
	`
	if !includeCancelled {
		query += ` AND status <> 'cancelled'`
	}
	query += `
		ORDER BY created_at DESC
		LIMIT $3
	`

	rows, err := s.db.QueryContext(ctx, query, from, to, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	transactions := make([]domain.Transaction, 0, limit)
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		transactions = append(transactions, *tx)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range transactions {
		items, err := s.loadItems(ctx, s.db, transactions[i].ID)
		if err != nil {
			return nil, err
		}
		transactions[i].Items = items
	}

	return transactions, nil
}

// CommitTransaction runs the whole checkout inside one serializable
// transaction: product rows are locked FOR UPDATE, aggregate demand is
// re-checked against live stock, monetary fields are recomputed from the
// item rows, and one negative movement per product is appended. A retry
// under an already-used idempotency key returns the stored transaction.
func (s *Store) CommitTransaction(ctx context.Context, tx domain.Transaction) (*domain.Transaction, error) {
	if tx.IdempotencyKey == "" {
		return nil, fmt.Errorf("%w: idempotency key is required", store.ErrValidation)
	}
	if len(tx.Items) == 0 {
		return nil, fmt.Errorf("%w: transaction has no items", store.ErrValidation)
	}

	if existing, err := s.FindTransactionByIdempotency(ctx, tx.IdempotencyKey); err == nil {
		return existing, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	demand := demandPerProduct(tx.Items)
	productIDs := sortedKeys(demand)

	stock, names, err := lockProducts(ctx, pgTx, productIDs)
	if err != nil {
		return nil, err
	}

	for _, productID := range productIDs {
		available, exists := stock[productID]
		if !exists {
			return nil, fmt.Errorf("%w: product %s unavailable", store.ErrValidation, productID)
		}
		if demand[productID] > available {
			return nil, &store.StockConflictError{
				ProductID:   productID,
				ProductName: names[productID],
				Requested:   demand[productID],
				Available:   available,
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

	for _, productID := range productIDs {
		if err := applyStockDelta(ctx, pgTx, stockChange{
			productID:     productID,
			transactionID: tx.ID,
			delta:         -demand[productID],
			before:        stock[productID],
			reason:        domain.MovementReasonSale,
			actor:         tx.CashierUsername,
			at:            tx.CreatedAt,
		}); err != nil {
			return nil, err
		}
	}

	_, err = pgTx.ExecContext(ctx, `
		INSERT INTO transactions (
			id, idempotency_key, cashier_username, customer_name, customer_phone,
			subtotal, discount_type, discount_percentage, discount_amount, pwd_senior_id,
			total_amount, payment_method, amount_paid, change_amount, status, is_edited, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
	`, tx.ID, tx.IdempotencyKey, tx.CashierUsername, nullIfEmpty(tx.CustomerName), nullIfEmpty(tx.CustomerPhone),
		tx.Subtotal, tx.DiscountType, tx.DiscountPercentage, tx.DiscountAmount, nullIfEmpty(tx.PwdSeniorID),
		tx.TotalAmount, tx.PaymentMethod, tx.AmountPaid, tx.ChangeAmount, tx.Status, tx.IsEdited, tx.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			// A concurrent retry won the race; serve its result.
			existing, lookupErr := s.FindTransactionByIdempotency(ctx, tx.IdempotencyKey)
			if lookupErr == nil {
				return existing, nil
			}
		}
		return nil, err
	}

	if err := insertItems(ctx, pgTx, tx.ID, tx.Items); err != nil {
		return nil, err
	}

	if err := pgTx.Commit(); err != nil {
		return nil, err
	}

	return &tx, nil
}

func (s *Store) EditTransaction(ctx context.Context, id string, items []domain.TransactionItem, disc domain.DiscountResult, pwdSeniorID string, meta store.EditMeta) (*domain.Transaction, error) {
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: edited transaction has no items", store.ErrValidation)
	}

	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	tx, err := scanTransaction(pgTx.QueryRowContext(ctx, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE id = $1
		FOR UPDATE
	`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if tx.Status != domain.TxStatusCompleted {
		return nil, store.ErrTransactionFinal
	}

	oldItems, err := s.loadItems(ctx, pgTx, tx.ID)
	if err != nil {
		return nil, err
	}
	tx.Items = oldItems

	oldDemand := demandPerProduct(oldItems)
	newDemand := demandPerProduct(items)
	productIDs := unionKeys(oldDemand, newDemand)

	stock, names, err := lockProducts(ctx, pgTx, productIDs)
	if err != nil {
		return nil, err
	}

	for _, productID := range productIDs {
		if newDemand[productID] == 0 {
			continue
		}
		available, exists := stock[productID]
		if !exists {
			return nil, fmt.Errorf("%w: product %s unavailable", store.ErrValidation, productID)
		}
		if increase := newDemand[productID] - oldDemand[productID]; increase > available {
			return nil, &store.StockConflictError{
				ProductID:   productID,
				ProductName: names[productID],
				Requested:   increase,
				Available:   available,
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

	for _, productID := range productIDs {
		stockDelta := oldDemand[productID] - newDemand[productID]
		if stockDelta == 0 {
			continue
		}
		if err := applyStockDelta(ctx, pgTx, stockChange{
			productID:     productID,
			transactionID: tx.ID,
			delta:         stockDelta,
			before:        stock[productID],
			reason:        domain.MovementReasonEditAdjustment,
			actor:         meta.Editor,
			at:            meta.At,
		}); err != nil {
			return nil, err
		}
	}

	if !tx.IsEdited {
		snapshot, err := json.Marshal(oldItems)
		if err != nil {
			return nil, err
		}
		if _, err := pgTx.ExecContext(ctx, `
			UPDATE transactions SET original_items = $2 WHERE id = $1
		`, tx.ID, snapshot); err != nil {
			return nil, err
		}
		tx.OriginalItems = oldItems
	}

	if _, err := pgTx.ExecContext(ctx, `DELETE FROM transaction_items WHERE transaction_id = $1`, tx.ID); err != nil {
		return nil, err
	}
	if err := insertItems(ctx, pgTx, tx.ID, items); err != nil {
		return nil, err
	}

	change := tx.AmountPaid.Sub(total).Round(2)
	if change.IsNegative() {
		change = decimal.Zero
	}

	_, err = pgTx.ExecContext(ctx, `
		UPDATE transactions
		SET subtotal = $2, discount_type = $3, discount_percentage = $4, discount_amount = $5,
			pwd_senior_id = $6, total_amount = $7, change_amount = $8,
			is_edited = true, edit_reason = $9, edited_by = $10, edited_at = $11
		WHERE id = $1
	`, tx.ID, subtotal, disc.Type, disc.Percentage, disc.Amount,
		nullIfEmpty(pwdSeniorID), total, change, meta.Reason, meta.Editor, meta.At)
	if err != nil {
		return nil, err
	}

	if err := pgTx.Commit(); err != nil {
		return nil, err
	}

	tx.Items = items
	tx.Subtotal = subtotal
	tx.DiscountType = disc.Type
	tx.DiscountPercentage = disc.Percentage
	tx.DiscountAmount = disc.Amount
	tx.PwdSeniorID = pwdSeniorID
	tx.TotalAmount = total
	tx.ChangeAmount = change
	tx.IsEdited = true
	tx.EditReason = meta.Reason
	tx.EditedBy = meta.Editor
	editedAt := meta.At
	tx.EditedAt = &editedAt

	return tx, nil
}

func (s *Store) CancelTransaction(ctx context.Context, id string, meta store.EditMeta) (*domain.Transaction, error) {
	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	tx, err := scanTransaction(pgTx.QueryRowContext(ctx, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE id = $1
		FOR UPDATE
	`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if tx.Status != domain.TxStatusCompleted {
		return nil, store.ErrTransactionFinal
	}

	items, err := s.loadItems(ctx, pgTx, tx.ID)
	if err != nil {
		return nil, err
	}
	tx.Items = items

	demand := demandPerProduct(items)
	productIDs := sortedKeys(demand)

	stock, _, err := lockProducts(ctx, pgTx, productIDs)
	if err != nil {
		return nil, err
	}

	for _, productID := range productIDs {
		before, exists := stock[productID]
		if !exists {
			continue
		}
		if err := applyStockDelta(ctx, pgTx, stockChange{
			productID:     productID,
			transactionID: tx.ID,
			delta:         demand[productID],
			before:        before,
			reason:        domain.MovementReasonUndo,
			actor:         meta.Editor,
			at:            meta.At,
		}); err != nil {
			return nil, err
		}
	}

	_, err = pgTx.ExecContext(ctx, `
		UPDATE transactions
		SET status = $2, cancel_reason = $3, cancelled_by = $4, cancelled_at = $5
		WHERE id = $1 AND status = $6
	`, tx.ID, domain.TxStatusCancelled, meta.Reason, meta.Editor, meta.At, domain.TxStatusCompleted)
	if err != nil {
		return nil, err
	}

	if err := pgTx.Commit(); err != nil {
		return nil, err
	}

	tx.Status = domain.TxStatusCancelled
	tx.CancelReason = meta.Reason
	tx.CancelledBy = meta.Editor
	cancelledAt := meta.At
	tx.CancelledAt = &cancelledAt

	return tx, nil
}

func (s *Store) ListStockMovements(ctx context.Context, productID string, limit int) ([]domain.StockMovement, error) {
	if limit < 1 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, product_id, transaction_id, delta, before_pieces, after_pieces, reason, actor, created_at
		FROM stock_movements
		WHERE ($1 = '' OR product_id = $1)
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`, productID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	movements := make([]domain.StockMovement, 0, limit)
	for rows.Next() {
		var m domain.StockMovement
		if err := rows.Scan(&m.ID, &m.ProductID, &m.TransactionID, &m.Delta, &m.BeforePieces, &m.AfterPieces, &m.Reason, &m.Actor, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.CreatedAt = m.CreatedAt.UTC()
		movements = append(movements, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return movements, nil
}

func (s *Store) SalesSummary(ctx context.Context, from time.Time, to time.Time) (domain.SalesSummary, error) {
	summary := domain.SalesSummary{From: from, To: to}

	err := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*)::bigint,
			COALESCE(SUM(subtotal),0),
			COALESCE(SUM(discount_amount),0),
			COALESCE(SUM(total_amount),0)
		FROM transactions
		WHERE created_at >= $1
			AND created_at < $2
			AND status <> 'cancelled'
	`, from, to).Scan(&summary.Transactions, &summary.GrossSales, &summary.DiscountTotal, &summary.NetSales)
	if err != nil {
		return summary, err
	}

	err = s.db.QueryRowContext(ctx, `
		SELECT COUNT(*)::bigint
		FROM transactions
		WHERE created_at >= $1
			AND created_at < $2
			AND status = 'cancelled'
	`, from, to).Scan(&summary.Cancelled)
	if err != nil {
		return summary, err
	}

	return summary, nil
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, entry.ID, entry.ActorUsername, entry.ActorRole, entry.Action, entry.EntityType, entry.EntityID, entry.Detail, entry.CreatedAt)
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		FROM audit_logs
		WHERE created_at >= $1
			AND created_at < $2
		ORDER BY created_at DESC
		LIMIT $3
	`, from, to, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]domain.AuditLog, 0, limit)
	for rows.Next() {
		var entry domain.AuditLog
		if err := rows.Scan(&entry.ID, &entry.ActorUsername, &entry.ActorRole, &entry.Action, &entry.EntityType, &entry.EntityID, &entry.Detail, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.CreatedAt = entry.CreatedAt.UTC()
		logs = append(logs, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return logs, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	user.Username = strings.ToLower(strings.TrimSpace(user.Username))
	if user.Username == "" || strings.TrimSpace(user.Password) == "" {
		return fmt.Errorf("%w: username and password are required", store.ErrValidation)
	}
	if user.Role == "" {
		user.Role = "cashier"
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_users (username, password, role, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,now())
	`, user.Username, user.Password, user.Role, user.Active, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: username %s already exists", store.ErrValidation, user.Username)
		}
		return err
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password, role, active, created_at
		FROM app_users
		ORDER BY username ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var user domain.UserAccount
		if err := rows.Scan(&user.Username, &user.Password, &user.Role, &user.Active, &user.CreatedAt); err != nil {
			return nil, err
		}
		user.CreatedAt = user.CreatedAt.UTC()
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return fmt.Errorf("%w: username and password are required", store.ErrValidation)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE app_users
		SET password = $2, updated_at = now()
		WHERE username = $1
	`, username, password)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

// lockProducts reads and row-locks the given products, returning current
// stock and display names keyed by product id.
func lockProducts(ctx context.Context, pgTx *sql.Tx, productIDs []string) (map[string]int, map[string]string, error) {
	stock := make(map[string]int, len(productIDs))
	names := make(map[string]string, len(productIDs))
	if len(productIDs) == 0 {
		return stock, names, nil
	}

	rows, err := pgTx.QueryContext(ctx, `
		SELECT id, name, stock_in_pieces
		FROM products
		WHERE active = true AND id = ANY($1)
		ORDER BY id
		FOR UPDATE
	`, productIDs)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var id, name string
		var pieces int
		if err := rows.Scan(&id, &name, &pieces); err != nil {
			return nil, nil, err
		}
		stock[id] = pieces
		names[id] = name
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}
	return stock, names, nil
}

type stockChange struct {
	productID     string
	transactionID string
	delta         int
	before        int
	reason        string
	actor         string
	at            time.Time
}

func applyStockDelta(ctx context.Context, pgTx *sql.Tx, change stockChange) error {
	after := change.before + change.delta

	_, err := pgTx.ExecContext(ctx, `
		UPDATE products
		SET stock_in_pieces = $2, updated_at = now()
		WHERE id = $1
	`, change.productID, after)
	if err != nil {
		return err
	}

	_, err = pgTx.ExecContext(ctx, `
		INSERT INTO stock_movements (id, product_id, transaction_id, delta, before_pieces, after_pieces, reason, actor, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, xid.New("mov"), change.productID, change.transactionID, change.delta, change.before, after, change.reason, change.actor, change.at)
	return err
}

func insertItems(ctx context.Context, pgTx *sql.Tx, transactionID string, items []domain.TransactionItem) error {
	for _, item := range items {
		_, err := pgTx.ExecContext(ctx, `
			INSERT INTO transaction_items (transaction_id, product_id, product_name, unit, quantity_in_pieces, unit_price, total_price)
			VALUES ($1,$2,$3,$4,$5,$6,$7)
		`, transactionID, item.ProductID, item.ProductName, item.Unit, item.QuantityInPieces, item.UnitPrice, item.TotalPrice)
		if err != nil {
			return err
		}
	}
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

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}
