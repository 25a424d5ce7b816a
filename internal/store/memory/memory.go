// Package memory holds the in-process Repository used by tests and by the
// server when no DATABASE_URL is configured. A single mutex is the
// serialization point for every write, which makes each operation an
// all-or-nothing step: validation happens first, mutation after, so a failed
// call leaves no partial state behind.
package memory

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"roopkala/backend/internal/domain"
	"roopkala/backend/internal/store"
	"roopkala/backend/internal/xid"
)

type Store struct {
	mu         sync.RWMutex
	categories map[string]domain.Category
	suppliers  map[string]domain.Supplier
	items      map[string]domain.InventoryItem
	bills      map[string]*domain.Bill
	movements  []domain.StockMovement
}

func New() *Store {
	return &Store{
		categories: make(map[string]domain.Category),
		suppliers:  make(map[string]domain.Supplier),
		items:      make(map[string]domain.InventoryItem),
		bills:      make(map[string]*domain.Bill),
		movements:  make([]domain.StockMovement, 0, 256),
	}
}

// NewSeeded returns a store preloaded with the usual shop categories and a
// couple of suppliers, for dev mode and handler tests.
func NewSeeded() *Store {
	s := New()
	now := time.Now().UTC()
	for _, c := range []domain.Category{
		{ID: xid.New("cat"), Name: "Ring", Description: "Gold rings", CreatedAt: now},
		{ID: xid.New("cat"), Name: "Chain", Description: "Gold chains", CreatedAt: now},
		{ID: xid.New("cat"), Name: "Necklace", CreatedAt: now},
		{ID: xid.New("cat"), Name: "Bangle", CreatedAt: now},
	} {
		s.categories[c.ID] = c
	}
	for _, sup := range []domain.Supplier{
		{ID: xid.New("sup"), Name: "Shree Gold Works", Code: "SGW", Phone: "9811001100", CreatedAt: now},
		{ID: xid.New("sup"), Name: "Kalyan Crafts", Code: "KC", CreatedAt: now},
	} {
		s.suppliers[sup.ID] = sup
	}
	return s
}

func (s *Store) CreateCategory(_ context.Context, category domain.Category) (*domain.Category, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	category.Name = strings.TrimSpace(category.Name)
	if category.Name == "" {
		return nil, store.ErrValidation
	}
	for _, existing := range s.categories {
		if strings.EqualFold(existing.Name, category.Name) {
			return nil, fmt.Errorf("%w: category %q already exists", store.ErrConflict, category.Name)
		}
	}
	if category.ID == "" {
		category.ID = xid.New("cat")
	}
	if category.CreatedAt.IsZero() {
		category.CreatedAt = time.Now().UTC()
	}
	s.categories[category.ID] = category
	created := category
	return &created, nil
}

func (s *Store) ListCategories(_ context.Context) ([]domain.Category, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	categories := make([]domain.Category, 0, len(s.categories))
	for _, c := range s.categories {
		categories = append(categories, c)
	}
	slices.SortFunc(categories, func(a, b domain.Category) int {
		return strings.Compare(a.Name, b.Name)
	})
	return categories, nil
}

func (s *Store) GetCategory(_ context.Context, id string) (*domain.Category, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.categories[id]
	if !ok {
		return nil, fmt.Errorf("%w: category %s", store.ErrNotFound, id)
	}
	found := c
	return &found, nil
}

func (s *Store) CreateSupplier(_ context.Context, supplier domain.Supplier) (*domain.Supplier, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	supplier.Name = strings.TrimSpace(supplier.Name)
	supplier.Code = strings.ToUpper(strings.TrimSpace(supplier.Code))
	if supplier.Name == "" || supplier.Code == "" {
		return nil, store.ErrValidation
	}
	for _, existing := range s.suppliers {
		if existing.Code == supplier.Code {
			return nil, fmt.Errorf("%w: supplier code %q already exists", store.ErrConflict, supplier.Code)
		}
	}
	if supplier.ID == "" {
		supplier.ID = xid.New("sup")
	}
	if supplier.CreatedAt.IsZero() {
		supplier.CreatedAt = time.Now().UTC()
	}
	s.suppliers[supplier.ID] = supplier
	created := supplier
	return &created, nil
}

func (s *Store) ListSuppliers(_ context.Context) ([]domain.Supplier, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	suppliers := make([]domain.Supplier, 0, len(s.suppliers))
	for _, sup := range s.suppliers {
		suppliers = append(suppliers, sup)
	}
	slices.SortFunc(suppliers, func(a, b domain.Supplier) int {
		return strings.Compare(a.Code, b.Code)
	})
	return suppliers, nil
}

// nextItemNo computes the smallest positive integer absent from the active
// (AVAILABLE or RESERVED) set of the category. SOLD numbers do not block
// reuse. Callers must hold s.mu.
func (s *Store) nextItemNo(categoryID string) int {
	taken := make(map[int]struct{}, 16)
	for _, item := range s.items {
		if item.CategoryID != categoryID {
			continue
		}
		if item.Status == domain.ItemStatusAvailable || item.Status == domain.ItemStatusReserved {
			taken[item.CategoryItemNo] = struct{}{}
		}
	}
	n := 1
	for {
		if _, held := taken[n]; !held {
			return n
		}
		n++
	}
}

// numberHeldByActive reports whether another active item of the category
// currently holds the number. Callers must hold s.mu.
func (s *Store) numberHeldByActive(categoryID string, no int, excludeItemID string) bool {
	for _, item := range s.items {
		if item.ID == excludeItemID || item.CategoryID != categoryID {
			continue
		}
		if item.CategoryItemNo != no {
			continue
		}
		if item.Status == domain.ItemStatusAvailable || item.Status == domain.ItemStatusReserved {
			return true
		}
	}
	return false
}

func validWeights(gross, net decimal.Decimal) bool {
	return gross.IsPositive() && net.IsPositive() && net.LessThanOrEqual(gross)
}

func (s *Store) CreateItem(_ context.Context, item domain.InventoryItem) (*domain.InventoryItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item.ProductName = strings.TrimSpace(item.ProductName)
	if item.ProductName == "" || item.CategoryID == "" {
		return nil, store.ErrValidation
	}
	if !validWeights(item.GrossWeight, item.NetWeight) {
		return nil, fmt.Errorf("%w: weights must be > 0 and net <= gross", store.ErrValidation)
	}
	if item.MeltingPercentage.IsNegative() || item.MeltingPercentage.GreaterThan(decimal.NewFromInt(100)) {
		return nil, fmt.Errorf("%w: melting percentage out of range", store.ErrValidation)
	}
	if _, ok := s.categories[item.CategoryID]; !ok {
		return nil, fmt.Errorf("%w: category %s", store.ErrNotFound, item.CategoryID)
	}
	if item.SupplierID != "" {
		if _, ok := s.suppliers[item.SupplierID]; !ok {
			return nil, fmt.Errorf("%w: supplier %s", store.ErrNotFound, item.SupplierID)
		}
	}

	now := time.Now().UTC()
	if item.ID == "" {
		item.ID = xid.New("item")
	}
	item.CategoryItemNo = s.nextItemNo(item.CategoryID)
	item.Status = domain.ItemStatusAvailable
	item.CreatedAt = now
	item.UpdatedAt = now

	s.items[item.ID] = item
	s.appendMovement(domain.StockMovement{
		InventoryID: item.ID,
		Type:        domain.MovementAdded,
		Quantity:    decimal.NewFromInt(1),
		Note:        "stock in: " + item.ProductName,
		CreatedAt:   now,
	})

	created := item
	return &created, nil
}

func (s *Store) GetItem(_ context.Context, id string) (*domain.InventoryItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	item, ok := s.items[id]
	if !ok {
		return nil, fmt.Errorf("%w: item %s", store.ErrNotFound, id)
	}
	found := item
	return &found, nil
}

func (s *Store) ListItems(_ context.Context, categoryID string, status string, limit int) ([]domain.InventoryItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit < 1 {
		limit = 500
	}
	items := make([]domain.InventoryItem, 0, 64)
	for _, item := range s.items {
		if categoryID != "" && item.CategoryID != categoryID {
			continue
		}
		if status != "" && item.Status != status {
			continue
		}
		items = append(items, item)
	}
	slices.SortFunc(items, func(a, b domain.InventoryItem) int {
		if a.CategoryID == b.CategoryID {
			return a.CategoryItemNo - b.CategoryItemNo
		}
		return strings.Compare(a.CategoryID, b.CategoryID)
	})
	if len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

func (s *Store) UpdateItem(_ context.Context, item domain.InventoryItem) (*domain.InventoryItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.items[item.ID]
	if !ok {
		return nil, fmt.Errorf("%w: item %s", store.ErrNotFound, item.ID)
	}
	if existing.Status == domain.ItemStatusSold {
		return nil, fmt.Errorf("%w: item %s", store.ErrImmutable, item.ID)
	}
	item.ProductName = strings.TrimSpace(item.ProductName)
	if item.ProductName == "" {
		return nil, store.ErrValidation
	}
	if !validWeights(item.GrossWeight, item.NetWeight) {
		return nil, fmt.Errorf("%w: weights must be > 0 and net <= gross", store.ErrValidation)
	}
	if item.SupplierID != "" {
		if _, ok := s.suppliers[item.SupplierID]; !ok {
			return nil, fmt.Errorf("%w: supplier %s", store.ErrNotFound, item.SupplierID)
		}
	}

	// Identity and lifecycle fields never change through an attribute update.
	item.CategoryID = existing.CategoryID
	item.CategoryItemNo = existing.CategoryItemNo
	item.Status = existing.Status
	item.CreatedAt = existing.CreatedAt
	item.UpdatedAt = time.Now().UTC()

	s.items[item.ID] = item
	s.appendMovement(domain.StockMovement{
		InventoryID: item.ID,
		Type:        domain.MovementAdjusted,
		Quantity:    decimal.Zero,
		Note:        "attributes updated",
		CreatedAt:   item.UpdatedAt,
	})

	updated := item
	return &updated, nil
}

func (s *Store) TransitionItem(_ context.Context, id string, to string, note string) (*domain.InventoryItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.items[id]
	if !ok {
		return nil, fmt.Errorf("%w: item %s", store.ErrNotFound, id)
	}
	if item.Status == domain.ItemStatusSold {
		return nil, fmt.Errorf("%w: item %s", store.ErrImmutable, id)
	}
	if !domain.AllowedTransition(item.Status, to, false) {
		return nil, fmt.Errorf("%w: item %s is %s, cannot move to %s", store.ErrConflict, id, item.Status, to)
	}

	item.Status = to
	item.UpdatedAt = time.Now().UTC()
	s.items[id] = item
	s.appendMovement(domain.StockMovement{
		InventoryID: id,
		Type:        domain.MovementAdjusted,
		Quantity:    decimal.Zero,
		Note:        note,
		CreatedAt:   item.UpdatedAt,
	})

	updated := item
	return &updated, nil
}

func (s *Store) CreateBill(_ context.Context, bill domain.Bill) (*domain.Bill, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(bill.Items) == 0 || strings.TrimSpace(bill.CustomerName) == "" {
		return nil, store.ErrValidation
	}
	if bill.BillNumber != "" {
		for _, existing := range s.bills {
			if existing.BillNumber == bill.BillNumber {
				return nil, fmt.Errorf("%w: %s", store.ErrBillNumberTaken, bill.BillNumber)
			}
		}
	}

	// Validate every stock-backed line before mutating anything: one bad
	// line aborts the whole bill.
	referenced := make(map[string]struct{}, len(bill.Items))
	for _, line := range bill.Items {
		if line.InventoryID == "" {
			continue
		}
		if _, dup := referenced[line.InventoryID]; dup {
			return nil, fmt.Errorf("%w: item %s referenced twice", store.ErrValidation, line.InventoryID)
		}
		referenced[line.InventoryID] = struct{}{}

		item, ok := s.items[line.InventoryID]
		if !ok {
			return nil, fmt.Errorf("%w: item %s", store.ErrNotFound, line.InventoryID)
		}
		if item.Status != domain.ItemStatusAvailable {
			return nil, fmt.Errorf("%w: item %s is %s", store.ErrConflict, line.InventoryID, item.Status)
		}
	}

	now := time.Now().UTC()
	if bill.ID == "" {
		bill.ID = xid.New("bill")
	}
	if bill.CreatedAt.IsZero() {
		bill.CreatedAt = now
	}
	if bill.BillDate.IsZero() {
		bill.BillDate = now
	}
	bill.Status = domain.BillStatusGenerated
	for i := range bill.Items {
		if bill.Items[i].ID == "" {
			bill.Items[i].ID = xid.New("line")
		}
		bill.Items[i].BillID = bill.ID
	}

	for id := range referenced {
		item := s.items[id]
		item.Status = domain.ItemStatusSold
		item.UpdatedAt = now
		s.items[id] = item
		s.appendMovement(domain.StockMovement{
			InventoryID: id,
			Type:        domain.MovementSold,
			BillID:      bill.ID,
			Quantity:    decimal.NewFromInt(1),
			Note:        "sold on bill " + bill.BillNumber,
			CreatedAt:   now,
		})
	}

	saved := bill
	s.bills[bill.ID] = &saved
	result := saved
	return &result, nil
}

func (s *Store) GetBill(_ context.Context, id string) (*domain.Bill, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	bill, ok := s.bills[id]
	if !ok {
		return nil, fmt.Errorf("%w: bill %s", store.ErrNotFound, id)
	}
	found := *bill
	return &found, nil
}

func (s *Store) ListBills(_ context.Context, from time.Time, to time.Time, limit int) ([]domain.Bill, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit < 1 {
		limit = 100
	}
	bills := make([]domain.Bill, 0, 32)
	for _, bill := range s.bills {
		if !from.IsZero() && bill.BillDate.Before(from) {
			continue
		}
		if !to.IsZero() && !bill.BillDate.Before(to) {
			continue
		}
		bills = append(bills, *bill)
	}
	slices.SortFunc(bills, func(a, b domain.Bill) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	if len(bills) > limit {
		bills = bills[:limit]
	}
	return bills, nil
}

func (s *Store) ReverseBill(_ context.Context, id string, at time.Time) (*domain.Bill, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	bill, ok := s.bills[id]
	if !ok {
		// Idempotency contract: an unknown bill is a successful no-op.
		return nil, false, nil
	}
	if bill.Status == domain.BillStatusReversed {
		found := *bill
		return &found, false, nil
	}

	// Validate every restore before touching state. A number reused by a
	// newer active item makes the whole reversal fail.
	for _, line := range bill.Items {
		if line.InventoryID == "" {
			continue
		}
		item, exists := s.items[line.InventoryID]
		if !exists {
			return nil, false, fmt.Errorf("%w: item %s from bill %s", store.ErrNotFound, line.InventoryID, id)
		}
		if item.Status != domain.ItemStatusSold {
			return nil, false, fmt.Errorf("%w: item %s is %s, expected SOLD", store.ErrConflict, item.ID, item.Status)
		}
		if s.numberHeldByActive(item.CategoryID, item.CategoryItemNo, item.ID) {
			return nil, false, fmt.Errorf("%w: number %d in category %s was reused; reversal of bill %s rejected",
				store.ErrConflict, item.CategoryItemNo, item.CategoryID, id)
		}
	}

	for _, line := range bill.Items {
		if line.InventoryID == "" {
			continue
		}
		item := s.items[line.InventoryID]
		item.Status = domain.ItemStatusAvailable
		item.UpdatedAt = at
		s.items[line.InventoryID] = item
		s.appendMovement(domain.StockMovement{
			InventoryID: item.ID,
			Type:        domain.MovementReversed,
			BillID:      bill.ID,
			Quantity:    decimal.NewFromInt(1),
			Note:        "reversal of bill " + bill.BillNumber,
			CreatedAt:   at,
		})
	}

	bill.Status = domain.BillStatusReversed
	reversedAt := at
	bill.ReversedAt = &reversedAt

	reversed := *bill
	return &reversed, true, nil
}

func (s *Store) NextBillNumber(_ context.Context, prefix string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nextBillNumberLocked(prefix), nil
}

func (s *Store) nextBillNumberLocked(prefix string) string {
	year := time.Now().UTC().Year()
	head := fmt.Sprintf("%s-%d-", prefix, year)
	highest := 0
	for _, bill := range s.bills {
		if !strings.HasPrefix(bill.BillNumber, head) {
			continue
		}
		if n, err := strconv.Atoi(bill.BillNumber[len(head):]); err == nil && n > highest {
			highest = n
		}
	}
	return fmt.Sprintf("%s%03d", head, highest+1)
}

func (s *Store) appendMovement(m domain.StockMovement) {
	if m.ID == "" {
		m.ID = xid.New("mov")
	}
	s.movements = append(s.movements, m)
}

func (s *Store) ListMovements(_ context.Context, filter domain.MovementFilter) ([]domain.StockMovement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	limit := filter.Limit
	if limit < 1 {
		limit = 200
	}
	out := make([]domain.StockMovement, 0, 64)
	for _, m := range s.movements {
		if !filter.From.IsZero() && m.CreatedAt.Before(filter.From) {
			continue
		}
		if !filter.To.IsZero() && !m.CreatedAt.Before(filter.To) {
			continue
		}
		if filter.InventoryID != "" && m.InventoryID != filter.InventoryID {
			continue
		}
		if filter.CategoryID != "" {
			item, ok := s.items[m.InventoryID]
			if !ok || item.CategoryID != filter.CategoryID {
				continue
			}
		}
		out = append(out, m)
	}
	slices.SortFunc(out, func(a, b domain.StockMovement) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) CategorySummary(_ context.Context) ([]domain.CategorySummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	byCategory := make(map[string]*domain.CategorySummary, len(s.categories))
	for id, c := range s.categories {
		byCategory[id] = &domain.CategorySummary{
			CategoryID:           id,
			CategoryName:         c.Name,
			AvailableGrossWeight: decimal.Zero,
			AvailableNetWeight:   decimal.Zero,
		}
	}
	for _, item := range s.items {
		summary, ok := byCategory[item.CategoryID]
		if !ok {
			continue
		}
		summary.TotalItems++
		switch item.Status {
		case domain.ItemStatusAvailable, domain.ItemStatusReserved:
			summary.AvailableItems++
			summary.AvailableGrossWeight = summary.AvailableGrossWeight.Add(item.GrossWeight)
			summary.AvailableNetWeight = summary.AvailableNetWeight.Add(item.NetWeight)
		case domain.ItemStatusSold:
			summary.SoldItems++
		}
	}

	out := make([]domain.CategorySummary, 0, len(byCategory))
	for _, summary := range byCategory {
		out = append(out, *summary)
	}
	slices.SortFunc(out, func(a, b domain.CategorySummary) int {
		return strings.Compare(a.CategoryName, b.CategoryName)
	})
	return out, nil
}

func (s *Store) TotalSummary(_ context.Context) (domain.TotalSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	total := domain.TotalSummary{
		TotalAvailableGrossWeight: decimal.Zero,
		TotalAvailableNetWeight:   decimal.Zero,
	}
	for _, item := range s.items {
		switch item.Status {
		case domain.ItemStatusAvailable, domain.ItemStatusReserved:
			total.TotalAvailableItems++
			total.TotalAvailableGrossWeight = total.TotalAvailableGrossWeight.Add(item.GrossWeight)
			total.TotalAvailableNetWeight = total.TotalAvailableNetWeight.Add(item.NetWeight)
		case domain.ItemStatusSold:
			total.TotalSoldItems++
		}
	}
	return total, nil
}

func (s *Store) SalesSummary(_ context.Context, from time.Time, to time.Time) (domain.SalesSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	summary := domain.SalesSummary{
		Subtotal:   decimal.Zero,
		CGSTAmount: decimal.Zero,
		SGSTAmount: decimal.Zero,
		Total:      decimal.Zero,
	}
	for _, bill := range s.bills {
		if bill.Status == domain.BillStatusReversed {
			continue
		}
		if !from.IsZero() && bill.BillDate.Before(from) {
			continue
		}
		if !to.IsZero() && !bill.BillDate.Before(to) {
			continue
		}
		summary.BillCount++
		summary.Subtotal = summary.Subtotal.Add(bill.Subtotal)
		summary.CGSTAmount = summary.CGSTAmount.Add(bill.CGSTAmount)
		summary.SGSTAmount = summary.SGSTAmount.Add(bill.SGSTAmount)
		summary.Total = summary.Total.Add(bill.TotalAmount)
	}
	return summary, nil
}

func (s *Store) ListSoldItems(_ context.Context, limit int) ([]domain.SoldItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit < 1 {
		limit = 100
	}
	out := make([]domain.SoldItem, 0, 32)
	for _, bill := range s.bills {
		if bill.Status != domain.BillStatusGenerated {
			continue
		}
		for _, line := range bill.Items {
			if line.InventoryID == "" {
				continue
			}
			item, ok := s.items[line.InventoryID]
			if !ok || item.Status != domain.ItemStatusSold {
				continue
			}
			categoryName := ""
			if c, exists := s.categories[item.CategoryID]; exists {
				categoryName = c.Name
			}
			out = append(out, domain.SoldItem{
				ItemID:         item.ID,
				CategoryName:   categoryName,
				CategoryItemNo: item.CategoryItemNo,
				ProductName:    item.ProductName,
				GrossWeight:    item.GrossWeight,
				NetWeight:      item.NetWeight,
				BillNumber:     bill.BillNumber,
				BillDate:       bill.BillDate,
				CustomerName:   bill.CustomerName,
				SoldAt:         item.UpdatedAt,
			})
		}
	}
	slices.SortFunc(out, func(a, b domain.SoldItem) int {
		return b.SoldAt.Compare(a.SoldAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) CategoryExportRows(_ context.Context, categoryID string) ([]domain.CategoryExportRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.categories[categoryID]; !ok {
		return nil, fmt.Errorf("%w: category %s", store.ErrNotFound, categoryID)
	}

	out := make([]domain.CategoryExportRow, 0, 32)
	for _, item := range s.items {
		if item.CategoryID != categoryID {
			continue
		}
		if item.Status != domain.ItemStatusAvailable && item.Status != domain.ItemStatusReserved {
			continue
		}
		supplierCode := ""
		if sup, ok := s.suppliers[item.SupplierID]; ok {
			supplierCode = sup.Code
		}
		out = append(out, domain.CategoryExportRow{
			CategoryItemNo: item.CategoryItemNo,
			ProductName:    item.ProductName,
			GrossWeight:    item.GrossWeight,
			NetWeight:      item.NetWeight,
			SupplierCode:   supplierCode,
			AddedAt:        item.CreatedAt,
		})
	}
	slices.SortFunc(out, func(a, b domain.CategoryExportRow) int {
		return a.CategoryItemNo - b.CategoryItemNo
	})
	return out, nil
}
