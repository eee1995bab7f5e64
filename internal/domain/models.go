package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Unit is a sellable unit for a product. All stock arithmetic happens in
// pieces; sheet and box are derived views driven by the product's packaging
// factors.
type Unit string

const (
	UnitPiece Unit = "piece"
	UnitSheet Unit = "sheet"
	UnitBox   Unit = "box"
)

type Product struct {
	ID             string          `json:"id"`
	Name           string          `json:"name"`
	Category       string          `json:"category"`
	PricePerPiece  decimal.Decimal `json:"price_per_piece"`
	PiecesPerSheet int             `json:"pieces_per_sheet"`
	SheetsPerBox   int             `json:"sheets_per_box"`
	StockInPieces  int             `json:"stock_in_pieces"`
	ReorderLevel   int             `json:"reorder_level"`
	Active         bool            `json:"active"`
}

type ProductCreateRequest struct {
	Name           string          `json:"name"`
	Category       string          `json:"category"`
	PricePerPiece  decimal.Decimal `json:"price_per_piece"`
	PiecesPerSheet int             `json:"pieces_per_sheet"`
	SheetsPerBox   int             `json:"sheets_per_box"`
	InitialStock   int             `json:"initial_stock"`
	ReorderLevel   int             `json:"reorder_level"`
}

type ProductUpdateRequest struct {
	Name           *string          `json:"name,omitempty"`
	Category       *string          `json:"category,omitempty"`
	PricePerPiece  *decimal.Decimal `json:"price_per_piece,omitempty"`
	PiecesPerSheet *int             `json:"pieces_per_sheet,omitempty"`
	SheetsPerBox   *int             `json:"sheets_per_box,omitempty"`
	ReorderLevel   *int             `json:"reorder_level,omitempty"`
	Active         *bool            `json:"active,omitempty"`
}

type DiscountType string

const (
	DiscountNone   DiscountType = "none"
	DiscountPWD    DiscountType = "pwd"
	DiscountSenior DiscountType = "senior"
	DiscountCustom DiscountType = "custom"
)

// DiscountSelection is what the cashier picked at the terminal. The monetary
// effect is always recomputed server-side from the current subtotal.
type DiscountSelection struct {
	Type          DiscountType    `json:"type"`
	CustomPercent decimal.Decimal `json:"custom_percent"`
	IDNumber      string          `json:"id_number,omitempty"`
}

// DiscountResult is the computed outcome of a selection against a subtotal.
// PendingID means a pwd/senior selection was kept but its amount was forced
// to zero because the presented ID number was missing or too short.
type DiscountResult struct {
	Type       DiscountType    `json:"type"`
	Percentage decimal.Decimal `json:"percentage"`
	Amount     decimal.Decimal `json:"amount"`
	PendingID  bool            `json:"pending_id"`
}

type CartItem struct {
	ID               string          `json:"id"`
	ProductID        string          `json:"product_id"`
	ProductName      string          `json:"product_name"`
	Unit             Unit            `json:"unit"`
	QuantityInPieces int             `json:"quantity_in_pieces"`
	UnitPrice        decimal.Decimal `json:"unit_price"`
	TotalPrice       decimal.Decimal `json:"total_price"`
}

// Cart is an order in progress, owned by a single cashier session.
// Insertion order of Items is preserved for display.
type Cart struct {
	ID            string            `json:"id"`
	TerminalID    string            `json:"terminal_id"`
	Items         []CartItem        `json:"items"`
	CustomerName  string            `json:"customer_name,omitempty"`
	CustomerPhone string            `json:"customer_phone,omitempty"`
	PaymentMethod string            `json:"payment_method"`
	Discount      DiscountSelection `json:"discount"`
	UpdatedAt     time.Time         `json:"updated_at"`
}

type CartTotals struct {
	Subtotal decimal.Decimal `json:"subtotal"`
	Discount DiscountResult  `json:"discount"`
	Total    decimal.Decimal `json:"total"`
}

type TransactionItem struct {
	ProductID        string          `json:"product_id"`
	ProductName      string          `json:"product_name"`
	Unit             Unit            `json:"unit"`
	QuantityInPieces int             `json:"quantity_in_pieces"`
	UnitPrice        decimal.Decimal `json:"unit_price"`
	TotalPrice       decimal.Decimal `json:"total_price"`
}

const (
	TxStatusCompleted = "completed"
	TxStatusCancelled = "cancelled"
)

type Transaction struct {
	ID                 string            `json:"id"`
	IdempotencyKey     string            `json:"idempotency_key"`
	CashierUsername    string            `json:"cashier_username"`
	CustomerName       string            `json:"customer_name,omitempty"`
	CustomerPhone      string            `json:"customer_phone,omitempty"`
	Subtotal           decimal.Decimal   `json:"subtotal"`
	DiscountType       DiscountType      `json:"discount_type"`
	DiscountPercentage decimal.Decimal   `json:"discount_percentage"`
	DiscountAmount     decimal.Decimal   `json:"discount_amount"`
	PwdSeniorID        string            `json:"pwd_senior_id,omitempty"`
	TotalAmount        decimal.Decimal   `json:"total_amount"`
	PaymentMethod      string            `json:"payment_method"`
	AmountPaid         decimal.Decimal   `json:"amount_paid"`
	ChangeAmount       decimal.Decimal   `json:"change_amount"`
	Status             string            `json:"status"`
	IsEdited           bool              `json:"is_edited"`
	EditReason         string            `json:"edit_reason,omitempty"`
	EditedBy           string            `json:"edited_by,omitempty"`
	EditedAt           *time.Time        `json:"edited_at,omitempty"`
	CancelReason       string            `json:"cancel_reason,omitempty"`
	CancelledBy        string            `json:"cancelled_by,omitempty"`
	CancelledAt        *time.Time        `json:"cancelled_at,omitempty"`
	CreatedAt          time.Time         `json:"created_at"`
	Items              []TransactionItem `json:"items"`
	// OriginalItems is the pre-edit snapshot of the item list, captured on
	// the first edit so a later revert can replay it as another audited edit.
	OriginalItems []TransactionItem `json:"original_items,omitempty"`
}

// Reasons a stock movement ledger entry can carry.
const (
	MovementReasonSale           = "sale"
	MovementReasonUndo           = "undo"
	MovementReasonEditAdjustment = "edit-adjustment"
)

// StockMovement is an immutable ledger entry. The sum of all deltas for a
// product, applied to its initial stock, must equal its live stock_in_pieces
// at all times.
type StockMovement struct {
	ID            string    `json:"id"`
	ProductID     string    `json:"product_id"`
	TransactionID string    `json:"transaction_id"`
	Delta         int       `json:"delta"`
	BeforePieces  int       `json:"before_pieces"`
	AfterPieces   int       `json:"after_pieces"`
	Reason        string    `json:"reason"`
	Actor         string    `json:"actor"`
	CreatedAt     time.Time `json:"created_at"`
}

// CartLineRequest is an add/update payload: quantity expressed in the
// selling unit, converted to pieces on the way in.
type CartLineRequest struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
	Unit      Unit   `json:"unit"`
}

type CartCreateRequest struct {
	TerminalID string `json:"terminal_id"`
}

type CartUpdateRequest struct {
	CustomerName  *string            `json:"customer_name,omitempty"`
	CustomerPhone *string            `json:"customer_phone,omitempty"`
	PaymentMethod *string            `json:"payment_method,omitempty"`
	Discount      *DiscountSelection `json:"discount,omitempty"`
}

type CommitRequest struct {
	CartID         string            `json:"cart_id"`
	IdempotencyKey string            `json:"idempotency_key"`
	PaymentMethod  string            `json:"payment_method"`
	AmountPaid     decimal.Decimal   `json:"amount_paid"`
	Discount       DiscountSelection `json:"discount"`
	CustomerName   string            `json:"customer_name,omitempty"`
	CustomerPhone  string            `json:"customer_phone,omitempty"`
}

type CommitResponse struct {
	Transaction Transaction `json:"transaction"`
	Duplicate   bool        `json:"duplicate"`
}

// PendingCommit is a queued commit request that could not reach storage,
// replayed later under its original idempotency key.
type PendingCommit struct {
	ID         string        `json:"id"`
	TerminalID string        `json:"terminal_id"`
	Request    CommitRequest `json:"request"`
	QueuedAt   time.Time     `json:"queued_at"`
}

type OfflineSyncRequest struct {
	TerminalID string          `json:"terminal_id"`
	Commits    []PendingCommit `json:"commits"`
}

type OfflineSyncStatus struct {
	PendingID     string `json:"pending_id"`
	Status        string `json:"status"`
	Reason        string `json:"reason,omitempty"`
	TransactionID string `json:"transaction_id,omitempty"`
}

type OfflineSyncResponse struct {
	Statuses []OfflineSyncStatus `json:"statuses"`
}

type EditRequest struct {
	Items    []CartLineRequest  `json:"items"`
	Discount *DiscountSelection `json:"discount,omitempty"`
	Reason   string             `json:"reason"`
}

type CancelRequest struct {
	Reason string `json:"reason"`
}

type RevertRequest struct {
	Reason string `json:"reason"`
}

type SalesSummary struct {
	From          time.Time       `json:"from"`
	To            time.Time       `json:"to"`
	Transactions  int64           `json:"transactions"`
	GrossSales    decimal.Decimal `json:"gross_sales"`
	DiscountTotal decimal.Decimal `json:"discount_total"`
	NetSales      decimal.Decimal `json:"net_sales"`
	Cancelled     int64           `json:"cancelled"`
}

type AuditLog struct {
	ID            string    `json:"id"`
	ActorUsername string    `json:"actor_username"`
	ActorRole     string    `json:"actor_role"`
	Action        string    `json:"action"`
	EntityType    string    `json:"entity_type"`
	EntityID      string    `json:"entity_id"`
	Detail        string    `json:"detail"`
	CreatedAt     time.Time `json:"created_at"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type Actor struct {
	Username string
	Role     string
}

type CashierCreateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type CashierUser struct {
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string
	Password  string
	Role      string
	Active    bool
	CreatedAt time.Time
}
