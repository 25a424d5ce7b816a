package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type Category struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

type CategoryCreateRequest struct {
	Name        string `json:"name" validate:"required,min=1,max=80"`
	Description string `json:"description" validate:"max=500"`
}

type Supplier struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Code          string    `json:"code"`
	ContactPerson string    `json:"contact_person,omitempty"`
	Phone         string    `json:"phone,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

type SupplierCreateRequest struct {
	Name          string `json:"name" validate:"required,min=1,max=120"`
	Code          string `json:"code" validate:"required,min=1,max=12,alphanum"`
	ContactPerson string `json:"contact_person"`
	Phone         string `json:"phone" validate:"omitempty,min=6,max=20"`
}

// InventoryItem is one physical piece. CategoryItemNo is the human-facing
// serial, unique among AVAILABLE/RESERVED items of the category and reusable
// once the piece is sold.
type InventoryItem struct {
	ID                string          `json:"id"`
	CategoryID        string          `json:"category_id"`
	CategoryItemNo    int             `json:"category_item_no"`
	ProductName       string          `json:"product_name"`
	Description       string          `json:"description,omitempty"`
	HSNCode           string          `json:"hsn_code,omitempty"`
	GrossWeight       decimal.Decimal `json:"gross_weight"`
	NetWeight         decimal.Decimal `json:"net_weight"`
	MeltingPercentage decimal.Decimal `json:"melting_percentage"`
	SupplierID        string          `json:"supplier_id,omitempty"`
	Status            string          `json:"status"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

type ItemCreateRequest struct {
	CategoryID        string `json:"category_id" validate:"required"`
	ProductName       string `json:"product_name" validate:"required,min=1,max=200"`
	Description       string `json:"description"`
	HSNCode           string `json:"hsn_code" validate:"omitempty,max=10"`
	GrossWeight       string `json:"gross_weight" validate:"required"`
	NetWeight         string `json:"net_weight" validate:"required"`
	MeltingPercentage string `json:"melting_percentage"`
	SupplierID        string `json:"supplier_id"`
}

type ItemUpdateRequest struct {
	ProductName       *string `json:"product_name,omitempty"`
	Description       *string `json:"description,omitempty"`
	HSNCode           *string `json:"hsn_code,omitempty"`
	GrossWeight       *string `json:"gross_weight,omitempty"`
	NetWeight         *string `json:"net_weight,omitempty"`
	MeltingPercentage *string `json:"melting_percentage,omitempty"`
	SupplierID        *string `json:"supplier_id,omitempty"`
}

// CustomerSnapshot is denormalized into the bill; the core holds no customer
// table and owes no foreign key.
type CustomerSnapshot struct {
	Name  string `json:"name" validate:"required,min=1,max=200"`
	Phone string `json:"phone" validate:"omitempty,min=6,max=20"`
	GSTIN string `json:"gstin" validate:"omitempty,len=15"`
}

type Bill struct {
	ID            string          `json:"id"`
	BillNumber    string          `json:"bill_number"`
	CustomerName  string          `json:"customer_name"`
	CustomerPhone string          `json:"customer_phone,omitempty"`
	CustomerGSTIN string          `json:"customer_gstin,omitempty"`
	BillDate      time.Time       `json:"bill_date"`
	Subtotal      decimal.Decimal `json:"subtotal"`
	CGSTRate      decimal.Decimal `json:"cgst_rate"`
	SGSTRate      decimal.Decimal `json:"sgst_rate"`
	CGSTAmount    decimal.Decimal `json:"cgst_amount"`
	SGSTAmount    decimal.Decimal `json:"sgst_amount"`
	RoundedOff    decimal.Decimal `json:"rounded_off"`
	TotalAmount   decimal.Decimal `json:"total_amount"`
	Status        string          `json:"status"`
	CreatedAt     time.Time       `json:"created_at"`
	ReversedAt    *time.Time      `json:"reversed_at,omitempty"`
	Items         []BillItem      `json:"items"`
}

// BillItem is immutable after creation. InventoryID is empty for custom or
// made-to-order lines, which never touch stock.
type BillItem struct {
	ID          string          `json:"id"`
	BillID      string          `json:"bill_id"`
	InventoryID string          `json:"inventory_id,omitempty"`
	ProductName string          `json:"product_name"`
	Description string          `json:"description,omitempty"`
	HSNCode     string          `json:"hsn_code,omitempty"`
	Quantity    decimal.Decimal `json:"quantity"`
	Rate        decimal.Decimal `json:"rate"`
	Amount      decimal.Decimal `json:"amount"`
}

type BillLineRequest struct {
	InventoryID string `json:"inventory_id"`
	ProductName string `json:"product_name"`
	Description string `json:"description"`
	HSNCode     string `json:"hsn_code"`
	Quantity    string `json:"quantity"`
	Rate        string `json:"rate"`
	Amount      string `json:"amount"`
	// TotalInclusive is the GST-inclusive price for the line; when set, the
	// taxable amount is back-derived from it.
	TotalInclusive string `json:"total_inclusive"`
}

type BillCreateRequest struct {
	Customer      CustomerSnapshot  `json:"customer" validate:"required"`
	BillDate      string            `json:"bill_date"`
	CGSTRate      string            `json:"cgst_rate"`
	SGSTRate      string            `json:"sgst_rate"`
	OverrideTotal string            `json:"override_total"`
	Lines         []BillLineRequest `json:"lines" validate:"required,min=1,dive"`
}

type ReverseBillResponse struct {
	BillID     string `json:"bill_id"`
	Reversed   bool   `json:"reversed"`
	ReversedAt string `json:"reversed_at,omitempty"`
}

// StockMovement is one append-only ledger row. Exactly one row exists per
// SOLD or REVERSED status transition; ADJUSTED rows also record holds,
// releases and attribute edits.
type StockMovement struct {
	ID          string          `json:"id"`
	InventoryID string          `json:"inventory_id,omitempty"`
	Type        string          `json:"type"`
	BillID      string          `json:"bill_id,omitempty"`
	Quantity    decimal.Decimal `json:"quantity"`
	Note        string          `json:"note,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

type MovementFilter struct {
	From        time.Time
	To          time.Time
	CategoryID  string
	InventoryID string
	Limit       int
}

type CategorySummary struct {
	CategoryID           string          `json:"category_id"`
	CategoryName         string          `json:"category_name"`
	TotalItems           int             `json:"total_items"`
	AvailableItems       int             `json:"available_items"`
	SoldItems            int             `json:"sold_items"`
	AvailableGrossWeight decimal.Decimal `json:"available_gross_weight"`
	AvailableNetWeight   decimal.Decimal `json:"available_net_weight"`
}

type TotalSummary struct {
	TotalAvailableItems       int             `json:"total_available_items"`
	TotalSoldItems            int             `json:"total_sold_items"`
	TotalAvailableGrossWeight decimal.Decimal `json:"total_available_gross_weight"`
	TotalAvailableNetWeight   decimal.Decimal `json:"total_available_net_weight"`
}

type SalesSummary struct {
	From       string          `json:"from"`
	To         string          `json:"to"`
	BillCount  int             `json:"bill_count"`
	Subtotal   decimal.Decimal `json:"subtotal"`
	CGSTAmount decimal.Decimal `json:"cgst_amount"`
	SGSTAmount decimal.Decimal `json:"sgst_amount"`
	Total      decimal.Decimal `json:"total"`
}

// SoldItem is a flat reporting row handed to the PDF/CSV collaborator.
type SoldItem struct {
	ItemID         string          `json:"item_id"`
	CategoryName   string          `json:"category_name"`
	CategoryItemNo int             `json:"category_item_no"`
	ProductName    string          `json:"product_name"`
	GrossWeight    decimal.Decimal `json:"gross_weight"`
	NetWeight      decimal.Decimal `json:"net_weight"`
	BillNumber     string          `json:"bill_number"`
	BillDate       time.Time       `json:"bill_date"`
	CustomerName   string          `json:"customer_name"`
	SoldAt         time.Time       `json:"sold_at"`
}

// CategoryExportRow is a flat CSV/label row for one active item.
type CategoryExportRow struct {
	CategoryItemNo int             `json:"category_item_no"`
	ProductName    string          `json:"product_name"`
	GrossWeight    decimal.Decimal `json:"gross_weight"`
	NetWeight      decimal.Decimal `json:"net_weight"`
	SupplierCode   string          `json:"supplier_code,omitempty"`
	AddedAt        time.Time       `json:"added_at"`
}

type StockAgingRow struct {
	ItemID         string          `json:"item_id"`
	CategoryName   string          `json:"category_name"`
	CategoryItemNo int             `json:"category_item_no"`
	ProductName    string          `json:"product_name"`
	NetWeight      decimal.Decimal `json:"net_weight"`
	DaysInStock    int             `json:"days_in_stock"`
}

type ReversalAlert struct {
	Date      string `json:"date"`
	Reversals int    `json:"reversals"`
	Threshold int    `json:"threshold"`
}

const (
	ItemStatusAvailable = "AVAILABLE"
	ItemStatusReserved  = "RESERVED"
	ItemStatusSold      = "SOLD"
)

const (
	BillStatusGenerated = "GENERATED"
	BillStatusReversed  = "REVERSED"
)

const (
	MovementAdded    = "ADDED"
	MovementSold     = "SOLD"
	MovementReversed = "REVERSED"
	MovementAdjusted = "ADJUSTED"
)
