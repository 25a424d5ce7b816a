package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"roopkala/backend/internal/domain"
)

// Error kinds surfaced by every repository implementation. All of them roll
// back the enclosing transaction; nothing partial ever persists.
var (
	// ErrValidation rejects bad input (weights, missing fields) before any mutation.
	ErrValidation = errors.New("validation failed")
	// ErrConflict means the caller lost a race for an item or a slot and may retry.
	ErrConflict = errors.New("conflict")
	// ErrNotFound means an unknown bill/item/category id.
	ErrNotFound = errors.New("not found")
	// ErrImmutable rejects any mutation of a SOLD item outside the
	// sanctioned reversal transition.
	ErrImmutable = errors.New("sold item is immutable")
	// ErrRounding signals a broken totals identity on a bill.
	ErrRounding = errors.New("rounding invariant violated")
)

// ErrBillNumberTaken reports a lost bill-number sequence race. It unwraps to
// ErrConflict so generic conflict handling still applies; callers that want
// to retry with a fresh number match this one specifically.
var ErrBillNumberTaken = fmt.Errorf("%w: bill number taken", ErrConflict)

// Repository is the storage contract shared by the in-memory and postgres
// implementations. Writes are short all-or-nothing transactions; list/read
// operations are unlocked snapshots.
type Repository interface {
	CreateCategory(ctx context.Context, category domain.Category) (*domain.Category, error)
	ListCategories(ctx context.Context) ([]domain.Category, error)
	GetCategory(ctx context.Context, id string) (*domain.Category, error)

	CreateSupplier(ctx context.Context, supplier domain.Supplier) (*domain.Supplier, error)
	ListSuppliers(ctx context.Context) ([]domain.Supplier, error)

	// CreateItem allocates the smallest free category_item_no atomically with
	// the insert and appends the ADDED movement in the same transaction.
	CreateItem(ctx context.Context, item domain.InventoryItem) (*domain.InventoryItem, error)
	GetItem(ctx context.Context, id string) (*domain.InventoryItem, error)
	ListItems(ctx context.Context, categoryID string, status string, limit int) ([]domain.InventoryItem, error)
	// UpdateItem edits attributes of a non-SOLD item and appends an ADJUSTED
	// movement. SOLD items are rejected with ErrImmutable.
	UpdateItem(ctx context.Context, item domain.InventoryItem) (*domain.InventoryItem, error)
	// TransitionItem performs the hold/release transitions only
	// (AVAILABLE <-> RESERVED). Sale and reversal run through CreateBill and
	// ReverseBill.
	TransitionItem(ctx context.Context, id string, to string, note string) (*domain.InventoryItem, error)

	// CreateBill persists the bill and its lines, flips every referenced item
	// AVAILABLE -> SOLD under an exclusive item lock, and appends one SOLD
	// movement per referenced item, all in one transaction. An empty
	// BillNumber is allocated inside the transaction.
	CreateBill(ctx context.Context, bill domain.Bill) (*domain.Bill, error)
	GetBill(ctx context.Context, id string) (*domain.Bill, error)
	ListBills(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.Bill, error)
	// ReverseBill is idempotent: an already-REVERSED or absent bill returns
	// performed=false with no side effects. A reversal whose restored number
	// collides with an active item fails with ErrConflict.
	ReverseBill(ctx context.Context, id string, at time.Time) (bill *domain.Bill, performed bool, err error)
	NextBillNumber(ctx context.Context, prefix string) (string, error)

	ListMovements(ctx context.Context, filter domain.MovementFilter) ([]domain.StockMovement, error)

	CategorySummary(ctx context.Context) ([]domain.CategorySummary, error)
	TotalSummary(ctx context.Context) (domain.TotalSummary, error)
	SalesSummary(ctx context.Context, from time.Time, to time.Time) (domain.SalesSummary, error)
	ListSoldItems(ctx context.Context, limit int) ([]domain.SoldItem, error)
	CategoryExportRows(ctx context.Context, categoryID string) ([]domain.CategoryExportRow, error)
}
