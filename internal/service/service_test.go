package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"botikapos/backend/internal/cart"
	"botikapos/backend/internal/domain"
	"botikapos/backend/internal/notify"
	"botikapos/backend/internal/store"
	"botikapos/backend/internal/store/memory"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func cashierCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{Username: "cashier", Role: "cashier"})
}

func adminCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{Username: "admin", Role: "admin"})
}

func newTestService(t *testing.T) (*Service, *memory.Store, *cart.Manager) {
	t.Helper()

	repo := memory.NewEmpty()
	for _, p := range []domain.Product{
		{ID: "prod-paracetamol", Name: "Paracetamol 500mg", Category: "analgesic", PricePerPiece: dec("5.00"), PiecesPerSheet: 10, SheetsPerBox: 10, StockInPieces: 100, ReorderLevel: 20},
		{ID: "prod-amoxicillin", Name: "Amoxicillin 500mg", Category: "antibiotic", PricePerPiece: dec("12.50"), PiecesPerSheet: 10, SheetsPerBox: 10, StockInPieces: 50, ReorderLevel: 10},
	} {
		if _, err := repo.CreateProduct(context.Background(), p); err != nil {
			t.Fatalf("seed product %s: %v", p.ID, err)
		}
	}

	carts := cart.NewManager(repo, cart.NewMemoryStore())
	svc := New(repo, carts, notify.NopNotifier{}, Options{
		EditWindow:   24 * time.Hour,
		MinReasonLen: 10,
	})
	return svc, repo, carts
}

func cartWithSheets(t *testing.T, svc *Service, sheets int) domain.Cart {
	t.Helper()
	ctx := cashierCtx()

	c, err := svc.CreateCart(ctx, domain.CartCreateRequest{TerminalID: "terminal-1"})
	if err != nil {
		t.Fatalf("create cart: %v", err)
	}
	c2, _, err := svc.AddCartItem(ctx, c.ID, domain.CartLineRequest{
		ProductID: "prod-paracetamol", Quantity: sheets, Unit: domain.UnitSheet,
	})
	if err != nil {
		t.Fatalf("add item: %v", err)
	}
	return c2
}

func TestCommitSeniorDiscountFlow(t *testing.T) {
	svc, repo, _ := newTestService(t)
	ctx := cashierCtx()

	c := cartWithSheets(t, svc, 3)

	resp, err := svc.Commit(ctx, domain.CommitRequest{
		CartID:         c.ID,
		IdempotencyKey: "idem-1",
		PaymentMethod:  "cash",
		AmountPaid:     dec("150.00"),
		Discount:       domain.DiscountSelection{Type: domain.DiscountSenior, IDNumber: "SC-001"},
	})
	if err != nil {
		t.Fatalf("commit failed: %v", err)
	}

	tx := resp.Transaction
	if !tx.Subtotal.Equal(dec("150.00")) {
		t.Fatalf("expected subtotal 150.00, got %s", tx.Subtotal)
	}
	if !tx.DiscountAmount.Equal(dec("30.00")) || !tx.TotalAmount.Equal(dec("120.00")) {
		t.Fatalf("expected discount 30.00 / total 120.00, got %s / %s", tx.DiscountAmount, tx.TotalAmount)
	}
	if !tx.ChangeAmount.Equal(dec("30.00")) {
		t.Fatalf("expected change 30.00, got %s", tx.ChangeAmount)
	}
	if tx.CashierUsername != "cashier" || tx.Status != domain.TxStatusCompleted {
		t.Fatalf("unexpected transaction meta: %+v", tx)
	}

	product, _ := repo.GetProduct(ctx, "prod-paracetamol")
	if product.StockInPieces != 70 {
		t.Fatalf("expected stock 70 after commit, got %d", product.StockInPieces)
	}

	movements, _ := repo.ListStockMovements(ctx, "prod-paracetamol", 10)
	if len(movements) != 1 {
		t.Fatalf("expected 1 movement, got %d", len(movements))
	}
	m := movements[0]
	if m.Delta != -30 || m.BeforePieces != 100 || m.AfterPieces != 70 || m.Reason != domain.MovementReasonSale {
		t.Fatalf("unexpected movement: %+v", m)
	}

	// Cart is consumed by the commit.
	if _, _, err := svc.GetCart(ctx, c.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected cart to be cleared, got %v", err)
	}
}

func TestCommitIsIdempotent(t *testing.T) {
	svc, repo, _ := newTestService(t)
	ctx := cashierCtx()

	c := cartWithSheets(t, svc, 2)
	req := domain.CommitRequest{
		CartID:         c.ID,
		IdempotencyKey: "idem-retry",
		PaymentMethod:  "cash",
		AmountPaid:     dec("100.00"),
	}

	first, err := svc.Commit(ctx, req)
	if err != nil {
		t.Fatalf("first commit failed: %v", err)
	}
	second, err := svc.Commit(ctx, req)
	if err != nil {
		t.Fatalf("retry failed: %v", err)
	}

	if !second.Duplicate || second.Transaction.ID != first.Transaction.ID {
		t.Fatalf("expected duplicate of %s, got %+v", first.Transaction.ID, second)
	}

	product, _ := repo.GetProduct(ctx, "prod-paracetamol")
	if product.StockInPieces != 80 {
		t.Fatalf("expected single stock deduction (80), got %d", product.StockInPieces)
	}
}

func TestCommitRejectsShortPayment(t *testing.T) {
	svc, repo, _ := newTestService(t)
	ctx := cashierCtx()

	c := cartWithSheets(t, svc, 3)
	_, err := svc.Commit(ctx, domain.CommitRequest{
		CartID:         c.ID,
		IdempotencyKey: "idem-short",
		PaymentMethod:  "cash",
		AmountPaid:     dec("100.00"),
	})
	if !errors.Is(err, store.ErrPaymentInsufficient) {
		t.Fatalf("expected payment error, got %v", err)
	}

	product, _ := repo.GetProduct(ctx, "prod-paracetamol")
	if product.StockInPieces != 100 {
		t.Fatalf("failed commit must not touch stock, got %d", product.StockInPieces)
	}
}

func TestCommitLosesRaceToConcurrentCart(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := cashierCtx()

	// Two carts each hold 6 sheets of a 100-piece stock: both pass the cart
	// check, only one can commit.
	first := cartWithSheets(t, svc, 6)
	second := cartWithSheets(t, svc, 6)

	if _, err := svc.Commit(ctx, domain.CommitRequest{
		CartID: first.ID, IdempotencyKey: "idem-a", PaymentMethod: "cash", AmountPaid: dec("300.00"),
	}); err != nil {
		t.Fatalf("first commit failed: %v", err)
	}

	_, err := svc.Commit(ctx, domain.CommitRequest{
		CartID: second.ID, IdempotencyKey: "idem-b", PaymentMethod: "cash", AmountPaid: dec("300.00"),
	})
	if !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected insufficient stock, got %v", err)
	}

	var conflict *store.StockConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected structured conflict, got %T", err)
	}
	if conflict.Requested != 60 || conflict.Available != 40 {
		t.Fatalf("unexpected conflict detail: %+v", conflict)
	}
}

func TestCancelRestoresStockAndExcludesRevenue(t *testing.T) {
	svc, repo, _ := newTestService(t)
	ctx := cashierCtx()

	c := cartWithSheets(t, svc, 3)
	resp, err := svc.Commit(ctx, domain.CommitRequest{
		CartID: c.ID, IdempotencyKey: "idem-cancel", PaymentMethod: "cash", AmountPaid: dec("150.00"),
	})
	if err != nil {
		t.Fatalf("commit failed: %v", err)
	}

	cancelled, err := svc.Cancel(ctx, resp.Transaction.ID, domain.CancelRequest{Reason: "customer changed their mind"})
	if err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	if cancelled.Status != domain.TxStatusCancelled || cancelled.CancelledBy != "cashier" {
		t.Fatalf("unexpected cancelled transaction: %+v", cancelled)
	}

	product, _ := repo.GetProduct(ctx, "prod-paracetamol")
	if product.StockInPieces != 100 {
		t.Fatalf("expected stock restored to 100, got %d", product.StockInPieces)
	}

	movements, _ := repo.ListStockMovements(ctx, "prod-paracetamol", 10)
	if len(movements) != 2 || movements[0].Reason != domain.MovementReasonUndo || movements[0].Delta != 30 {
		t.Fatalf("expected undo movement +30, got %+v", movements)
	}

	// Cancelled transactions stay queryable but carry no revenue.
	from := time.Now().UTC().Add(-time.Hour)
	to := time.Now().UTC().Add(time.Hour)
	summary, _ := svc.SalesSummary(ctx, from, to)
	if summary.Transactions != 0 || !summary.NetSales.Equal(decimal.Zero) || summary.Cancelled != 1 {
		t.Fatalf("unexpected summary: %+v", summary)
	}

	if _, err := svc.Cancel(ctx, resp.Transaction.ID, domain.CancelRequest{Reason: "cancel it once more please"}); !errors.Is(err, store.ErrTransactionFinal) {
		t.Fatalf("expected second cancel to fail, got %v", err)
	}
}

func TestEditReconcilesStockByDelta(t *testing.T) {
	svc, repo, _ := newTestService(t)
	ctx := cashierCtx()

	c := cartWithSheets(t, svc, 3)
	resp, err := svc.Commit(ctx, domain.CommitRequest{
		CartID: c.ID, IdempotencyKey: "idem-edit", PaymentMethod: "cash", AmountPaid: dec("200.00"),
	})
	if err != nil {
		t.Fatalf("commit failed: %v", err)
	}

	edited, err := svc.Edit(ctx, resp.Transaction.ID, domain.EditRequest{
		Items:  []domain.CartLineRequest{{ProductID: "prod-paracetamol", Quantity: 2, Unit: domain.UnitSheet}},
		Reason: "customer returned one sheet",
	})
	if err != nil {
		t.Fatalf("edit failed: %v", err)
	}

	if !edited.IsEdited || edited.EditedBy != "cashier" {
		t.Fatalf("edit metadata missing: %+v", edited)
	}
	if !edited.Subtotal.Equal(dec("100.00")) || !edited.TotalAmount.Equal(dec("100.00")) {
		t.Fatalf("expected new total 100.00, got %s", edited.TotalAmount)
	}
	if len(edited.OriginalItems) != 1 || edited.OriginalItems[0].QuantityInPieces != 30 {
		t.Fatalf("original snapshot missing: %+v", edited.OriginalItems)
	}

	product, _ := repo.GetProduct(ctx, "prod-paracetamol")
	if product.StockInPieces != 80 {
		t.Fatalf("expected stock 80 after edit, got %d", product.StockInPieces)
	}

	movements, _ := repo.ListStockMovements(ctx, "prod-paracetamol", 10)
	if movements[0].Reason != domain.MovementReasonEditAdjustment || movements[0].Delta != 10 {
		t.Fatalf("expected edit-adjustment +10, got %+v", movements[0])
	}
}

func TestRevertReplaysOriginalItems(t *testing.T) {
	svc, repo, _ := newTestService(t)
	ctx := cashierCtx()

	c := cartWithSheets(t, svc, 3)
	resp, _ := svc.Commit(ctx, domain.CommitRequest{
		CartID: c.ID, IdempotencyKey: "idem-revert", PaymentMethod: "cash", AmountPaid: dec("200.00"),
	})

	if _, err := svc.Edit(ctx, resp.Transaction.ID, domain.EditRequest{
		Items:  []domain.CartLineRequest{{ProductID: "prod-paracetamol", Quantity: 2, Unit: domain.UnitSheet}},
		Reason: "customer returned one sheet",
	}); err != nil {
		t.Fatalf("edit failed: %v", err)
	}

	reverted, err := svc.Revert(ctx, resp.Transaction.ID, domain.RevertRequest{Reason: "edit entered against wrong receipt"})
	if err != nil {
		t.Fatalf("revert failed: %v", err)
	}
	if len(reverted.Items) != 1 || reverted.Items[0].QuantityInPieces != 30 {
		t.Fatalf("expected original 30 pieces restored, got %+v", reverted.Items)
	}
	if !reverted.Subtotal.Equal(dec("150.00")) {
		t.Fatalf("expected subtotal 150.00 after revert, got %s", reverted.Subtotal)
	}

	product, _ := repo.GetProduct(ctx, "prod-paracetamol")
	if product.StockInPieces != 70 {
		t.Fatalf("expected stock 70 after revert, got %d", product.StockInPieces)
	}
}

func TestRevertRequiresPriorEdit(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := cashierCtx()

	c := cartWithSheets(t, svc, 1)
	resp, _ := svc.Commit(ctx, domain.CommitRequest{
		CartID: c.ID, IdempotencyKey: "idem-noedit", PaymentMethod: "cash", AmountPaid: dec("50.00"),
	})

	_, err := svc.Revert(ctx, resp.Transaction.ID, domain.RevertRequest{Reason: "nothing to revert actually"})
	if !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestEditGuards(t *testing.T) {
	svc, repo, carts := newTestService(t)
	ctx := cashierCtx()

	c := cartWithSheets(t, svc, 2)
	resp, _ := svc.Commit(ctx, domain.CommitRequest{
		CartID: c.ID, IdempotencyKey: "idem-guards", PaymentMethod: "cash", AmountPaid: dec("100.00"),
	})

	// Reason below the minimum length.
	_, err := svc.Edit(ctx, resp.Transaction.ID, domain.EditRequest{
		Items:  []domain.CartLineRequest{{ProductID: "prod-paracetamol", Quantity: 1, Unit: domain.UnitSheet}},
		Reason: "typo",
	})
	if !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected validation error for short reason, got %v", err)
	}

	// A zero window disables edits outright.
	frozen := New(repo, carts, notify.NopNotifier{}, Options{EditWindow: 0, MinReasonLen: 10})
	_, err = frozen.Edit(ctx, resp.Transaction.ID, domain.EditRequest{
		Items:  []domain.CartLineRequest{{ProductID: "prod-paracetamol", Quantity: 1, Unit: domain.UnitSheet}},
		Reason: "a perfectly valid reason",
	})
	if !errors.Is(err, store.ErrEditWindowExpired) {
		t.Fatalf("expected edit window error, got %v", err)
	}
}

func TestOfflineSyncReplaysQueuedCommits(t *testing.T) {
	svc, _, carts := newTestService(t)
	ctx := cashierCtx()

	c := cartWithSheets(t, svc, 2)
	req := domain.CommitRequest{
		CartID:         c.ID,
		IdempotencyKey: "idem-offline",
		PaymentMethod:  "cash",
		AmountPaid:     dec("100.00"),
	}

	// Two copies of the same commit end up queued, as happens when a
	// terminal retries while storage is down.
	if _, err := carts.QueuePending(ctx, "terminal-1", req); err != nil {
		t.Fatalf("queue failed: %v", err)
	}
	if _, err := carts.QueuePending(ctx, "terminal-1", req); err != nil {
		t.Fatalf("queue failed: %v", err)
	}

	resp, err := svc.SyncOffline(ctx, domain.OfflineSyncRequest{TerminalID: "terminal-1"})
	if err != nil {
		t.Fatalf("sync failed: %v", err)
	}
	if len(resp.Statuses) != 2 {
		t.Fatalf("expected 2 statuses, got %d", len(resp.Statuses))
	}
	if resp.Statuses[0].Status != "accepted" || resp.Statuses[1].Status != "duplicate" {
		t.Fatalf("expected accepted then duplicate, got %+v", resp.Statuses)
	}
	if resp.Statuses[0].TransactionID == "" || resp.Statuses[0].TransactionID != resp.Statuses[1].TransactionID {
		t.Fatalf("both statuses must point at the same transaction: %+v", resp.Statuses)
	}

	// Queue is drained.
	again, _ := svc.SyncOffline(ctx, domain.OfflineSyncRequest{TerminalID: "terminal-1"})
	if len(again.Statuses) != 0 {
		t.Fatalf("expected empty queue, got %+v", again.Statuses)
	}
}

func TestStockLedgerMatchesLiveStock(t *testing.T) {
	svc, repo, _ := newTestService(t)
	ctx := cashierCtx()

	c := cartWithSheets(t, svc, 4)
	resp, err := svc.Commit(ctx, domain.CommitRequest{
		CartID: c.ID, IdempotencyKey: "idem-ledger", PaymentMethod: "cash", AmountPaid: dec("200.00"),
	})
	if err != nil {
		t.Fatalf("commit failed: %v", err)
	}
	if _, err := svc.Edit(ctx, resp.Transaction.ID, domain.EditRequest{
		Items:  []domain.CartLineRequest{{ProductID: "prod-paracetamol", Quantity: 5, Unit: domain.UnitSheet}},
		Reason: "customer added another sheet",
	}); err != nil {
		t.Fatalf("edit failed: %v", err)
	}

	movements, _ := repo.ListStockMovements(ctx, "prod-paracetamol", 50)
	total := 0
	for _, m := range movements {
		total += m.Delta
	}

	product, _ := repo.GetProduct(ctx, "prod-paracetamol")
	if 100+total != product.StockInPieces {
		t.Fatalf("ledger sum %d does not reconcile with live stock %d", total, product.StockInPieces)
	}
}

func TestProductCRUDRequiresAdmin(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, err := svc.CreateProduct(cashierCtx(), domain.ProductCreateRequest{
		Name: "Ibuprofen 200mg", Category: "analgesic", PricePerPiece: dec("7.00"),
	})
	if err == nil {
		t.Fatalf("expected cashier create to be rejected")
	}

	created, err := svc.CreateProduct(adminCtx(), domain.ProductCreateRequest{
		Name: "Ibuprofen 200mg", Category: "analgesic", PricePerPiece: dec("7.00"),
		PiecesPerSheet: 10, SheetsPerBox: 10, InitialStock: 200, ReorderLevel: 40,
	})
	if err != nil {
		t.Fatalf("admin create failed: %v", err)
	}

	newPrice := dec("7.50")
	updated, err := svc.UpdateProduct(adminCtx(), created.ID, domain.ProductUpdateRequest{PricePerPiece: &newPrice})
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if !updated.PricePerPiece.Equal(newPrice) {
		t.Fatalf("expected updated price 7.50, got %s", updated.PricePerPiece)
	}
}

func TestReceiptFromCommittedTransaction(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := cashierCtx()

	c := cartWithSheets(t, svc, 3)
	resp, _ := svc.Commit(ctx, domain.CommitRequest{
		CartID:         c.ID,
		IdempotencyKey: "idem-receipt",
		PaymentMethod:  "cash",
		AmountPaid:     dec("150.00"),
		Discount:       domain.DiscountSelection{Type: domain.DiscountSenior, IDNumber: "SC-001"},
	})

	data, err := svc.Receipt(ctx, resp.Transaction.ID)
	if err != nil {
		t.Fatalf("receipt failed: %v", err)
	}
	if data.TransactionID != resp.Transaction.ID || len(data.Lines) != 1 {
		t.Fatalf("unexpected receipt: %+v", data)
	}
	if !data.Total.Equal(dec("120.00")) || !data.Change.Equal(dec("30.00")) {
		t.Fatalf("unexpected receipt totals: total=%s change=%s", data.Total, data.Change)
	}
}

func TestCommitRejectsStatutoryDiscountWithoutID(t *testing.T) {
	svc, repo, _ := newTestService(t)
	ctx := cashierCtx()

	c := cartWithSheets(t, svc, 3)
	_, err := svc.Commit(ctx, domain.CommitRequest{
		CartID:         c.ID,
		IdempotencyKey: "idem-no-id",
		PaymentMethod:  "cash",
		AmountPaid:     dec("150.00"),
		Discount:       domain.DiscountSelection{Type: domain.DiscountSenior},
	})
	if !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected validation error for missing discount ID, got %v", err)
	}

	// Nothing was persisted and the cart survives for correction.
	if _, lookupErr := repo.FindTransactionByIdempotency(ctx, "idem-no-id"); !errors.Is(lookupErr, store.ErrNotFound) {
		t.Fatalf("expected no transaction, got %v", lookupErr)
	}
	product, _ := repo.GetProduct(ctx, "prod-paracetamol")
	if product.StockInPieces != 100 {
		t.Fatalf("rejected commit must not touch stock, got %d", product.StockInPieces)
	}
	if _, _, err := svc.GetCart(ctx, c.ID); err != nil {
		t.Fatalf("cart must survive a rejected commit, got %v", err)
	}
}

func TestEditRejectsStatutoryDiscountWithoutID(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := cashierCtx()

	c := cartWithSheets(t, svc, 3)
	resp, err := svc.Commit(ctx, domain.CommitRequest{
		CartID: c.ID, IdempotencyKey: "idem-edit-no-id", PaymentMethod: "cash", AmountPaid: dec("150.00"),
	})
	if err != nil {
		t.Fatalf("commit failed: %v", err)
	}

	_, err = svc.Edit(ctx, resp.Transaction.ID, domain.EditRequest{
		Items:    []domain.CartLineRequest{{ProductID: "prod-paracetamol", Quantity: 2, Unit: domain.UnitSheet}},
		Discount: &domain.DiscountSelection{Type: domain.DiscountPWD},
		Reason:   "apply pwd discount retroactively",
	})
	if !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected validation error for missing discount ID on edit, got %v", err)
	}
}

type flakyRepo struct {
	*memory.Store
	commitErr error
}

func (r *flakyRepo) CommitTransaction(ctx context.Context, tx domain.Transaction) (*domain.Transaction, error) {
	if r.commitErr != nil {
		return nil, r.commitErr
	}
	return r.Store.CommitTransaction(ctx, tx)
}

func TestCommitFailureHidesStorageCause(t *testing.T) {
	base := memory.NewEmpty()
	if _, err := base.CreateProduct(context.Background(), domain.Product{
		ID: "prod-paracetamol", Name: "Paracetamol 500mg", Category: "analgesic",
		PricePerPiece: dec("5.00"), PiecesPerSheet: 10, SheetsPerBox: 10, StockInPieces: 100,
	}); err != nil {
		t.Fatalf("seed product: %v", err)
	}
	repo := &flakyRepo{Store: base, commitErr: errors.New("dial tcp 10.0.0.5:5432: connection refused")}
	carts := cart.NewManager(repo, cart.NewMemoryStore())
	svc := New(repo, carts, notify.NopNotifier{}, Options{EditWindow: 24 * time.Hour, MinReasonLen: 10})
	ctx := cashierCtx()

	c, err := svc.CreateCart(ctx, domain.CartCreateRequest{TerminalID: "terminal-1"})
	if err != nil {
		t.Fatalf("create cart: %v", err)
	}
	if _, _, err := svc.AddCartItem(ctx, c.ID, domain.CartLineRequest{
		ProductID: "prod-paracetamol", Quantity: 2, Unit: domain.UnitSheet,
	}); err != nil {
		t.Fatalf("add item: %v", err)
	}

	_, err = svc.Commit(ctx, domain.CommitRequest{
		CartID: c.ID, IdempotencyKey: "idem-flaky", PaymentMethod: "cash", AmountPaid: dec("100.00"),
	})
	if !errors.Is(err, store.ErrPersistence) {
		t.Fatalf("expected persistence error, got %v", err)
	}
	if strings.Contains(err.Error(), "10.0.0.5") {
		t.Fatalf("storage cause leaked into the returned error: %v", err)
	}

	pending, err := carts.DrainPending(ctx, "terminal-1")
	if err != nil {
		t.Fatalf("drain pending: %v", err)
	}
	if len(pending) != 1 || pending[0].Request.IdempotencyKey != "idem-flaky" {
		t.Fatalf("expected the failed commit queued for replay, got %+v", pending)
	}
}
