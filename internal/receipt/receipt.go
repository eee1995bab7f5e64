// Package receipt turns a committed transaction into printable receipt
// data. Building is pure: no storage access, no side effects, so the same
// transaction always yields the same receipt.
package receipt

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/shopspring/decimal"

	"botikapos/backend/internal/domain"
)

var ErrIncompleteReceiptData = errors.New("transaction is missing data required for a receipt")

type StoreInfo struct {
	Name    string `json:"name"`
	Address string `json:"address,omitempty"`
	Phone   string `json:"phone,omitempty"`
}

type Line struct {
	ProductName string          `json:"product_name"`
	Quantity    int             `json:"quantity"`
	Unit        domain.Unit     `json:"unit"`
	Pieces      int             `json:"pieces"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	TotalPrice  decimal.Decimal `json:"total_price"`
}

// Data is everything a renderer needs. Monetary values keep two decimals.
type Data struct {
	Store          StoreInfo       `json:"store"`
	TransactionID  string          `json:"transaction_id"`
	IssuedAt       string          `json:"issued_at"`
	Cashier        string          `json:"cashier"`
	CustomerName   string          `json:"customer_name,omitempty"`
	CustomerPhone  string          `json:"customer_phone,omitempty"`
	Lines          []Line          `json:"lines"`
	Subtotal       decimal.Decimal `json:"subtotal"`
	DiscountLabel  string          `json:"discount_label,omitempty"`
	DiscountAmount decimal.Decimal `json:"discount_amount"`
	Total          decimal.Decimal `json:"total"`
	PaymentMethod  string          `json:"payment_method"`
	AmountPaid     decimal.Decimal `json:"amount_paid"`
	Change         decimal.Decimal `json:"change"`
	Edited         bool            `json:"edited"`
	EditReason     string          `json:"edit_reason,omitempty"`
	Cancelled      bool            `json:"cancelled"`
	CancelReason   string          `json:"cancel_reason,omitempty"`
}

// Build validates the transaction and assembles receipt data. A transaction
// that never went through commit (missing id, items, cashier or payment
// details) yields ErrIncompleteReceiptData.
func Build(info StoreInfo, tx domain.Transaction) (Data, error) {
	switch {
	case tx.ID == "",
		tx.CashierUsername == "",
		tx.PaymentMethod == "",
		tx.CreatedAt.IsZero(),
		len(tx.Items) == 0:
		return Data{}, ErrIncompleteReceiptData
	}

	lines := make([]Line, 0, len(tx.Items))
	for _, item := range tx.Items {
		if item.ProductName == "" || item.QuantityInPieces < 1 {
			return Data{}, ErrIncompleteReceiptData
		}
		lines = append(lines, Line{
			ProductName: item.ProductName,
			Quantity:    quantityInUnit(item),
			Unit:        item.Unit,
			Pieces:      item.QuantityInPieces,
			UnitPrice:   item.UnitPrice,
			TotalPrice:  item.TotalPrice,
		})
	}

	return Data{
		Store:          info,
		TransactionID:  tx.ID,
		IssuedAt:       tx.CreatedAt.UTC().Format("2006-01-02 15:04:05"),
		Cashier:        tx.CashierUsername,
		CustomerName:   tx.CustomerName,
		CustomerPhone:  tx.CustomerPhone,
		Lines:          lines,
		Subtotal:       tx.Subtotal,
		DiscountLabel:  discountLabel(tx),
		DiscountAmount: tx.DiscountAmount,
		Total:          tx.TotalAmount,
		PaymentMethod:  tx.PaymentMethod,
		AmountPaid:     tx.AmountPaid,
		Change:         tx.ChangeAmount,
		Edited:         tx.IsEdited,
		EditReason:     tx.EditReason,
		Cancelled:      tx.Status == domain.TxStatusCancelled,
		CancelReason:   tx.CancelReason,
	}, nil
}

// quantityInUnit recovers the quantity in the selling unit from the stored
// line. Line totals are unit price times unit quantity, so the division is
// exact for committed items; anything irregular falls back to pieces.
func quantityInUnit(item domain.TransactionItem) int {
	if item.Unit == domain.UnitPiece || !item.UnitPrice.IsPositive() {
		return item.QuantityInPieces
	}
	qty := item.TotalPrice.Div(item.UnitPrice)
	if qty.IsInteger() && qty.IsPositive() {
		return int(qty.IntPart())
	}
	return item.QuantityInPieces
}

func discountLabel(tx domain.Transaction) string {
	switch tx.DiscountType {
	case domain.DiscountPWD:
		return withID("PWD "+percentLabel(tx.DiscountPercentage), tx.PwdSeniorID)
	case domain.DiscountSenior:
		return withID("SENIOR CITIZEN "+percentLabel(tx.DiscountPercentage), tx.PwdSeniorID)
	case domain.DiscountCustom:
		return "DISCOUNT " + percentLabel(tx.DiscountPercentage)
	default:
		return ""
	}
}

func percentLabel(pct decimal.Decimal) string {
	return "(" + pct.StringFixed(0) + "%)"
}

func withID(label string, idNumber string) string {
	if idNumber == "" {
		return label + " ID PENDING"
	}
	return label + " ID: " + idNumber
}

const paperWidth = 40

// PlainText renders the receipt as fixed-width text suitable for a 40
// column thermal printer.
func (d Data) PlainText() string {
	var b strings.Builder

	center(&b, d.Store.Name)
	center(&b, d.Store.Address)
	center(&b, d.Store.Phone)
	rule(&b)

	row(&b, "TXN", d.TransactionID)
	row(&b, "DATE", d.IssuedAt)
	row(&b, "CASHIER", d.Cashier)
	if d.CustomerName != "" {
		row(&b, "CUSTOMER", d.CustomerName)
	}
	rule(&b)

	for _, line := range d.Lines {
		b.WriteString(line.ProductName)
		b.WriteByte('\n')
		qty := fmt.Sprintf("  %d %s x %s", line.Quantity, line.Unit, line.UnitPrice.StringFixed(2))
		row(&b, qty, line.TotalPrice.StringFixed(2))
	}
	rule(&b)

	row(&b, "SUBTOTAL", d.Subtotal.StringFixed(2))
	if d.DiscountLabel != "" {
		row(&b, d.DiscountLabel, "-"+d.DiscountAmount.StringFixed(2))
	}
	row(&b, "TOTAL", d.Total.StringFixed(2))
	row(&b, strings.ToUpper(d.PaymentMethod), d.AmountPaid.StringFixed(2))
	row(&b, "CHANGE", d.Change.StringFixed(2))

	if d.Edited {
		rule(&b)
		center(&b, "*** EDITED ***")
		if d.EditReason != "" {
			center(&b, d.EditReason)
		}
	}
	if d.Cancelled {
		rule(&b)
		center(&b, "*** CANCELLED ***")
		if d.CancelReason != "" {
			center(&b, d.CancelReason)
		}
	}

	rule(&b)
	center(&b, "THANK YOU")

	return b.String()
}

func center(b *strings.Builder, text string) {
	if text == "" {
		return
	}
	// Width is in runes; byte counts misalign non-ASCII names.
	if pad := (paperWidth - utf8.RuneCountInString(text)) / 2; pad > 0 {
		b.WriteString(strings.Repeat(" ", pad))
	}
	b.WriteString(text)
	b.WriteByte('\n')
}

func row(b *strings.Builder, left string, right string) {
	gap := paperWidth - utf8.RuneCountInString(left) - utf8.RuneCountInString(right)
	if gap < 1 {
		gap = 1
	}
	b.WriteString(left)
	b.WriteString(strings.Repeat(" ", gap))
	b.WriteString(right)
	b.WriteByte('\n')
}

func rule(b *strings.Builder) {
	b.WriteString(strings.Repeat("-", paperWidth))
	b.WriteByte('\n')
}
