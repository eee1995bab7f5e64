package receipt

import (
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"

	"botikapos/backend/internal/domain"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func completedTransaction() domain.Transaction {
	return domain.Transaction{
		ID:                 "txn-1",
		IdempotencyKey:     "idem-1",
		CashierUsername:    "cashier",
		Subtotal:           dec("150.00"),
		DiscountType:       domain.DiscountSenior,
		DiscountPercentage: dec("20"),
		DiscountAmount:     dec("30.00"),
		PwdSeniorID:        "SC-001",
		TotalAmount:        dec("120.00"),
		PaymentMethod:      "cash",
		AmountPaid:         dec("150.00"),
		ChangeAmount:       dec("30.00"),
		Status:             domain.TxStatusCompleted,
		CreatedAt:          time.Date(2025, 6, 10, 9, 30, 0, 0, time.UTC),
		Items: []domain.TransactionItem{{
			ProductID:        "prod-paracetamol",
			ProductName:      "Paracetamol 500mg",
			Unit:             domain.UnitSheet,
			QuantityInPieces: 30,
			UnitPrice:        dec("50.00"),
			TotalPrice:       dec("150.00"),
		}},
	}
}

func TestBuildCompleteReceipt(t *testing.T) {
	data, err := Build(StoreInfo{Name: "Botika POS"}, completedTransaction())
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}

	if data.TransactionID != "txn-1" || data.Cashier != "cashier" {
		t.Fatalf("unexpected header: %+v", data)
	}
	if len(data.Lines) != 1 {
		t.Fatalf("expected 1 line, got %d", len(data.Lines))
	}
	line := data.Lines[0]
	if line.Quantity != 3 || line.Unit != domain.UnitSheet || line.Pieces != 30 {
		t.Fatalf("expected 3 sheets (30 pieces), got %d %s (%d pieces)", line.Quantity, line.Unit, line.Pieces)
	}
	if data.DiscountLabel != "SENIOR CITIZEN (20%) ID: SC-001" {
		t.Fatalf("unexpected discount label %q", data.DiscountLabel)
	}
	if !data.Change.Equal(dec("30.00")) {
		t.Fatalf("expected change 30.00, got %s", data.Change)
	}
	if data.Edited || data.Cancelled {
		t.Fatalf("fresh transaction must carry no status flags")
	}
}

func TestBuildRejectsIncompleteTransaction(t *testing.T) {
	tx := completedTransaction()
	tx.Items = nil
	if _, err := Build(StoreInfo{Name: "Botika POS"}, tx); !errors.Is(err, ErrIncompleteReceiptData) {
		t.Fatalf("expected ErrIncompleteReceiptData, got %v", err)
	}

	tx = completedTransaction()
	tx.CashierUsername = ""
	if _, err := Build(StoreInfo{Name: "Botika POS"}, tx); !errors.Is(err, ErrIncompleteReceiptData) {
		t.Fatalf("expected ErrIncompleteReceiptData for missing cashier, got %v", err)
	}
}

func TestBuildMarksPendingID(t *testing.T) {
	tx := completedTransaction()
	tx.DiscountType = domain.DiscountPWD
	tx.PwdSeniorID = ""
	tx.DiscountAmount = decimal.Zero
	tx.TotalAmount = dec("150.00")

	data, err := Build(StoreInfo{Name: "Botika POS"}, tx)
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	if data.DiscountLabel != "PWD (20%) ID PENDING" {
		t.Fatalf("unexpected label %q", data.DiscountLabel)
	}
}

func TestBuildCarriesEditAndCancelFlags(t *testing.T) {
	tx := completedTransaction()
	tx.IsEdited = true
	tx.EditReason = "customer returned one sheet"
	tx.Status = domain.TxStatusCancelled
	tx.CancelReason = "duplicate entry at terminal"

	data, err := Build(StoreInfo{Name: "Botika POS"}, tx)
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	if !data.Edited || data.EditReason != "customer returned one sheet" {
		t.Fatalf("edit flag missing: %+v", data)
	}
	if !data.Cancelled || data.CancelReason != "duplicate entry at terminal" {
		t.Fatalf("cancel flag missing: %+v", data)
	}

	text := data.PlainText()
	if !strings.Contains(text, "*** EDITED ***") || !strings.Contains(text, "*** CANCELLED ***") {
		t.Fatalf("rendered receipt missing status markers:\n%s", text)
	}
}

func TestPlainTextLayout(t *testing.T) {
	data, err := Build(StoreInfo{Name: "Botika POS", Address: "123 Rizal Ave"}, completedTransaction())
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}

	text := data.PlainText()
	for _, want := range []string{
		"Botika POS",
		"Paracetamol 500mg",
		"3 sheet x 50.00",
		"SUBTOTAL",
		"-30.00",
		"CHANGE",
		"THANK YOU",
	} {
		if !strings.Contains(text, want) {
			t.Fatalf("rendered receipt missing %q:\n%s", want, text)
		}
	}
}

func TestPlainTextAlignsNonASCIINames(t *testing.T) {
	tx := completedTransaction()
	tx.CustomerName = "José Peña"

	data, err := Build(StoreInfo{Name: "Botica Niño y Señora"}, tx)
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}

	lines := strings.Split(data.PlainText(), "\n")

	var customerLine, nameLine string
	for _, line := range lines {
		if strings.HasPrefix(line, "CUSTOMER") {
			customerLine = line
		}
		if strings.Contains(line, "Botica Niño y Señora") {
			nameLine = line
		}
	}
	if customerLine == "" || nameLine == "" {
		t.Fatalf("receipt missing expected lines:\n%s", data.PlainText())
	}

	// Padding counts runes, so multi-byte characters keep the column width.
	if got := utf8.RuneCountInString(customerLine); got != 40 {
		t.Fatalf("customer row is %d runes wide, want 40: %q", got, customerLine)
	}
	if want := strings.Repeat(" ", 10) + "Botica Niño y Señora"; nameLine != want {
		t.Fatalf("store name not centered by rune count: %q", nameLine)
	}
}

func TestBuildIsDeterministic(t *testing.T) {
	tx := completedTransaction()
	first, err := Build(StoreInfo{Name: "Botika POS"}, tx)
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	second, _ := Build(StoreInfo{Name: "Botika POS"}, tx)
	if first.PlainText() != second.PlainText() {
		t.Fatalf("same transaction produced different receipts")
	}
}
