package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"roopkala/backend/internal/analytics"
	"roopkala/backend/internal/cache"
	"roopkala/backend/internal/domain"
	"roopkala/backend/internal/store"
	"roopkala/backend/internal/store/memory"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	svc, err := New(memory.New(), cache.NoopSummaryCache{}, analytics.NewEngine(90, 3), zerolog.Nop(), Params{
		BillPrefix:      "RK",
		DefaultCGSTRate: "1.5",
		DefaultSGSTRate: "1.5",
	})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc
}

func mustCategory(t *testing.T, svc *Service, name string) domain.Category {
	t.Helper()
	c, err := svc.CreateCategory(context.Background(), domain.CategoryCreateRequest{Name: name})
	if err != nil {
		t.Fatalf("create category %s: %v", name, err)
	}
	return c
}

func mustItem(t *testing.T, svc *Service, categoryID string, name string) domain.InventoryItem {
	t.Helper()
	item, err := svc.AddItem(context.Background(), domain.ItemCreateRequest{
		CategoryID:  categoryID,
		ProductName: name,
		GrossWeight: "10.500",
		NetWeight:   "10.200",
	})
	if err != nil {
		t.Fatalf("add item %s: %v", name, err)
	}
	return item
}

func sellItem(t *testing.T, svc *Service, item domain.InventoryItem) domain.Bill {
	t.Helper()
	bill, err := svc.CreateBill(context.Background(), domain.BillCreateRequest{
		Customer: domain.CustomerSnapshot{Name: "Walk-in"},
		Lines: []domain.BillLineRequest{{
			InventoryID: item.ID,
			Rate:        "6500",
		}},
	})
	if err != nil {
		t.Fatalf("sell item %s: %v", item.ID, err)
	}
	return bill
}

func TestSerialAllocationFillsLowestGap(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	ring := mustCategory(t, svc, "Ring")

	first := mustItem(t, svc, ring.ID, "Ring A")
	second := mustItem(t, svc, ring.ID, "Ring B")
	third := mustItem(t, svc, ring.ID, "Ring C")
	if first.CategoryItemNo != 1 || second.CategoryItemNo != 2 || third.CategoryItemNo != 3 {
		t.Fatalf("expected serials 1,2,3; got %d,%d,%d",
			first.CategoryItemNo, second.CategoryItemNo, third.CategoryItemNo)
	}

	sellItem(t, svc, second)

	// Serial 2 is free again once the piece is sold.
	fresh := mustItem(t, svc, ring.ID, "Ring D")
	if fresh.CategoryItemNo != 2 {
		t.Fatalf("expected reclaimed serial 2, got %d", fresh.CategoryItemNo)
	}

	next := mustItem(t, svc, ring.ID, "Ring E")
	if next.CategoryItemNo != 4 {
		t.Fatalf("expected serial 4, got %d", next.CategoryItemNo)
	}

	sold, err := svc.GetItem(ctx, second.ID)
	if err != nil {
		t.Fatalf("get sold item: %v", err)
	}
	if sold.Status != domain.ItemStatusSold {
		t.Fatalf("expected SOLD, got %s", sold.Status)
	}
}

func TestReversalRejectedWhenSerialReused(t *testing.T) {
	svc := newTestService(t)
	ring := mustCategory(t, svc, "Ring")

	original := mustItem(t, svc, ring.ID, "Ring A")
	bill := sellItem(t, svc, original)

	// A new piece now holds serial 1; restoring the old one would collide.
	replacement := mustItem(t, svc, ring.ID, "Ring B")
	if replacement.CategoryItemNo != original.CategoryItemNo {
		t.Fatalf("expected replacement to take serial %d, got %d",
			original.CategoryItemNo, replacement.CategoryItemNo)
	}

	_, err := svc.ReverseBill(context.Background(), bill.ID)
	if !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}

	still, err := svc.GetItem(context.Background(), original.ID)
	if err != nil {
		t.Fatalf("get item: %v", err)
	}
	if still.Status != domain.ItemStatusSold {
		t.Fatalf("failed reversal must not touch the item, got %s", still.Status)
	}
	kept, err := svc.GetBill(context.Background(), bill.ID)
	if err != nil {
		t.Fatalf("get bill: %v", err)
	}
	if kept.Status != domain.BillStatusGenerated {
		t.Fatalf("failed reversal must not touch the bill, got %s", kept.Status)
	}
}

func TestReversalRestoresItemsAndIsIdempotent(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	ring := mustCategory(t, svc, "Ring")

	item := mustItem(t, svc, ring.ID, "Ring A")
	bill := sellItem(t, svc, item)

	resp, err := svc.ReverseBill(ctx, bill.ID)
	if err != nil {
		t.Fatalf("reverse: %v", err)
	}
	if !resp.Reversed {
		t.Fatalf("expected reversal to be performed")
	}

	restored, err := svc.GetItem(ctx, item.ID)
	if err != nil {
		t.Fatalf("get item: %v", err)
	}
	if restored.Status != domain.ItemStatusAvailable {
		t.Fatalf("expected AVAILABLE after reversal, got %s", restored.Status)
	}
	if restored.CategoryItemNo != item.CategoryItemNo {
		t.Fatalf("expected serial %d back, got %d", item.CategoryItemNo, restored.CategoryItemNo)
	}

	again, err := svc.ReverseBill(ctx, bill.ID)
	if err != nil {
		t.Fatalf("second reverse: %v", err)
	}
	if again.Reversed {
		t.Fatalf("second reversal must be a no-op")
	}

	// Reversing a bill that never existed also succeeds quietly.
	missing, err := svc.ReverseBill(ctx, "bill-does-not-exist")
	if err != nil {
		t.Fatalf("reverse missing bill: %v", err)
	}
	if missing.Reversed {
		t.Fatalf("missing bill reversal must be a no-op")
	}
}

func TestBillTotalsWithGST(t *testing.T) {
	svc := newTestService(t)
	ring := mustCategory(t, svc, "Chain")

	item, err := svc.AddItem(context.Background(), domain.ItemCreateRequest{
		CategoryID:  ring.ID,
		ProductName: "Gold Chain",
		GrossWeight: "10.800",
		NetWeight:   "10.500",
	})
	if err != nil {
		t.Fatalf("add item: %v", err)
	}

	bill, err := svc.CreateBill(context.Background(), domain.BillCreateRequest{
		Customer: domain.CustomerSnapshot{Name: "Asha Mehta", Phone: "9822001122"},
		Lines: []domain.BillLineRequest{{
			InventoryID: item.ID,
			Rate:        "6500",
		}},
	})
	if err != nil {
		t.Fatalf("create bill: %v", err)
	}

	check := func(name string, got decimal.Decimal, want string) {
		t.Helper()
		if got.StringFixed(2) != want {
			t.Fatalf("%s: expected %s, got %s", name, want, got.StringFixed(2))
		}
	}
	check("subtotal", bill.Subtotal, "68250.00")
	check("cgst", bill.CGSTAmount, "1023.75")
	check("sgst", bill.SGSTAmount, "1023.75")
	check("rounded_off", bill.RoundedOff, "0.00")
	check("total", bill.TotalAmount, "70297.50")

	if bill.BillNumber == "" {
		t.Fatalf("expected allocated bill number")
	}
}

func TestBillOverrideTotalRecordsResidual(t *testing.T) {
	svc := newTestService(t)

	bill, err := svc.CreateBill(context.Background(), domain.BillCreateRequest{
		Customer:      domain.CustomerSnapshot{Name: "Walk-in"},
		OverrideTotal: "70300.00",
		Lines: []domain.BillLineRequest{{
			ProductName: "Custom bangle order",
			Quantity:    "10.5",
			Rate:        "6500",
		}},
	})
	if err != nil {
		t.Fatalf("create bill: %v", err)
	}

	if bill.RoundedOff.StringFixed(2) != "2.50" {
		t.Fatalf("expected rounded_off 2.50, got %s", bill.RoundedOff.StringFixed(2))
	}
	if bill.TotalAmount.StringFixed(2) != "70300.00" {
		t.Fatalf("expected total 70300.00, got %s", bill.TotalAmount.StringFixed(2))
	}
}

func TestBillLineAmountMismatchRejected(t *testing.T) {
	svc := newTestService(t)

	_, err := svc.CreateBill(context.Background(), domain.BillCreateRequest{
		Customer: domain.CustomerSnapshot{Name: "Walk-in"},
		Lines: []domain.BillLineRequest{{
			ProductName: "Custom line",
			Quantity:    "2",
			Rate:        "100",
			Amount:      "250",
		}},
	})
	if !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected ErrValidation for inconsistent line, got %v", err)
	}
}

// A line entered as quantity plus tax-inclusive price back-derives the
// taxable amount. 10300 at 1.5% + 1.5% GST is 10000 exclusive.
func TestBillLineFromInclusiveTotal(t *testing.T) {
	svc := newTestService(t)

	bill, err := svc.CreateBill(context.Background(), domain.BillCreateRequest{
		Customer: domain.CustomerSnapshot{Name: "Walk-in"},
		Lines: []domain.BillLineRequest{{
			ProductName:    "Custom chain",
			Quantity:       "10",
			TotalInclusive: "10300",
		}},
	})
	if err != nil {
		t.Fatalf("create bill: %v", err)
	}
	line := bill.Items[0]
	if !line.Amount.Equal(decimal.RequireFromString("10000.00")) {
		t.Fatalf("line amount = %s, want 10000.00", line.Amount)
	}
	if !line.Rate.Equal(decimal.RequireFromString("1000.00")) {
		t.Fatalf("line rate = %s, want 1000.00", line.Rate)
	}
	if !bill.TotalAmount.Equal(decimal.RequireFromString("10300.00")) {
		t.Fatalf("bill total = %s, want 10300.00", bill.TotalAmount)
	}
	if !bill.RoundedOff.IsZero() {
		t.Fatalf("rounded_off = %s, want 0", bill.RoundedOff)
	}
}

func TestBillNumberRaceSignalsSentinel(t *testing.T) {
	repo := memory.New()
	ctx := context.Background()

	bill := domain.Bill{
		BillNumber:   "RK-2026-001",
		CustomerName: "Walk-in",
		Items:        []domain.BillItem{{ProductName: "Custom line"}},
	}
	if _, err := repo.CreateBill(ctx, bill); err != nil {
		t.Fatalf("first bill: %v", err)
	}

	_, err := repo.CreateBill(ctx, bill)
	if !errors.Is(err, store.ErrBillNumberTaken) {
		t.Fatalf("expected ErrBillNumberTaken, got %v", err)
	}
	if !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected the sentinel to unwrap to ErrConflict, got %v", err)
	}
}

func TestBillIsAtomicAcrossLines(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	ring := mustCategory(t, svc, "Ring")

	good := mustItem(t, svc, ring.ID, "Ring A")
	gone := mustItem(t, svc, ring.ID, "Ring B")
	sellItem(t, svc, gone)

	_, err := svc.CreateBill(ctx, domain.BillCreateRequest{
		Customer: domain.CustomerSnapshot{Name: "Walk-in"},
		Lines: []domain.BillLineRequest{
			{InventoryID: good.ID, Rate: "6500"},
			{InventoryID: gone.ID, Rate: "6500"},
		},
	})
	if !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}

	untouched, err := svc.GetItem(ctx, good.ID)
	if err != nil {
		t.Fatalf("get item: %v", err)
	}
	if untouched.Status != domain.ItemStatusAvailable {
		t.Fatalf("failed bill must not consume other lines, got %s", untouched.Status)
	}
}

func TestHoldBlocksSaleUntilRelease(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	ring := mustCategory(t, svc, "Ring")
	item := mustItem(t, svc, ring.ID, "Ring A")

	held, err := svc.HoldItem(ctx, item.ID)
	if err != nil {
		t.Fatalf("hold: %v", err)
	}
	if held.Status != domain.ItemStatusReserved {
		t.Fatalf("expected RESERVED, got %s", held.Status)
	}

	_, err = svc.CreateBill(ctx, domain.BillCreateRequest{
		Customer: domain.CustomerSnapshot{Name: "Walk-in"},
		Lines:    []domain.BillLineRequest{{InventoryID: item.ID, Rate: "6500"}},
	})
	if !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected ErrConflict selling a held item, got %v", err)
	}

	// The serial stays blocked while held.
	other := mustItem(t, svc, ring.ID, "Ring B")
	if other.CategoryItemNo == held.CategoryItemNo {
		t.Fatalf("held serial %d must not be reallocated", held.CategoryItemNo)
	}

	released, err := svc.ReleaseItem(ctx, item.ID)
	if err != nil {
		t.Fatalf("release: %v", err)
	}
	if released.Status != domain.ItemStatusAvailable {
		t.Fatalf("expected AVAILABLE, got %s", released.Status)
	}
	sellItem(t, svc, released)
}

func TestSoldItemIsImmutable(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	ring := mustCategory(t, svc, "Ring")
	item := mustItem(t, svc, ring.ID, "Ring A")
	sellItem(t, svc, item)

	name := "Renamed"
	_, err := svc.UpdateItem(ctx, item.ID, domain.ItemUpdateRequest{ProductName: &name})
	if !errors.Is(err, store.ErrImmutable) {
		t.Fatalf("expected ErrImmutable, got %v", err)
	}

	_, err = svc.HoldItem(ctx, item.ID)
	if !errors.Is(err, store.ErrImmutable) {
		t.Fatalf("expected ErrImmutable holding sold item, got %v", err)
	}
}

func TestWeightValidation(t *testing.T) {
	svc := newTestService(t)
	ring := mustCategory(t, svc, "Ring")

	cases := []struct {
		name  string
		gross string
		net   string
	}{
		{"net above gross", "10.0", "10.5"},
		{"zero gross", "0", "0"},
		{"negative net", "5", "-1"},
	}
	for _, tc := range cases {
		_, err := svc.AddItem(context.Background(), domain.ItemCreateRequest{
			CategoryID:  ring.ID,
			ProductName: "Bad " + tc.name,
			GrossWeight: tc.gross,
			NetWeight:   tc.net,
		})
		if !errors.Is(err, store.ErrValidation) {
			t.Fatalf("%s: expected ErrValidation, got %v", tc.name, err)
		}
	}
}

func TestConcurrentStockInGetsDistinctSerials(t *testing.T) {
	svc := newTestService(t)
	ring := mustCategory(t, svc, "Ring")

	const workers = 12
	serials := make(chan int, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			item, err := svc.AddItem(context.Background(), domain.ItemCreateRequest{
				CategoryID:  ring.ID,
				ProductName: fmt.Sprintf("Ring %d", n),
				GrossWeight: "5.000",
				NetWeight:   "4.800",
			})
			if err != nil {
				t.Errorf("add item %d: %v", n, err)
				return
			}
			serials <- item.CategoryItemNo
		}(i)
	}
	wg.Wait()
	close(serials)

	seen := make(map[int]bool, workers)
	for no := range serials {
		if seen[no] {
			t.Fatalf("serial %d allocated twice", no)
		}
		seen[no] = true
	}
	if len(seen) != workers {
		t.Fatalf("expected %d distinct serials, got %d", workers, len(seen))
	}
}

func TestConcurrentSaleOfSameItemSucceedsOnce(t *testing.T) {
	svc := newTestService(t)
	ring := mustCategory(t, svc, "Ring")
	item := mustItem(t, svc, ring.ID, "Ring A")

	const buyers = 8
	errs := make(chan error, buyers)
	var wg sync.WaitGroup
	for i := 0; i < buyers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.CreateBill(context.Background(), domain.BillCreateRequest{
				Customer: domain.CustomerSnapshot{Name: "Racer"},
				Lines:    []domain.BillLineRequest{{InventoryID: item.ID, Rate: "6500"}},
			})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	wins, conflicts := 0, 0
	for err := range errs {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, store.ErrConflict):
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if wins != 1 || conflicts != buyers-1 {
		t.Fatalf("expected exactly 1 sale and %d conflicts, got %d and %d", buyers-1, wins, conflicts)
	}
}

func TestMovementLedgerRecordsLifecycle(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	ring := mustCategory(t, svc, "Ring")
	item := mustItem(t, svc, ring.ID, "Ring A")
	bill := sellItem(t, svc, item)
	if _, err := svc.ReverseBill(ctx, bill.ID); err != nil {
		t.Fatalf("reverse: %v", err)
	}

	movements, err := svc.ListMovements(ctx, "", "", "", item.ID, 0)
	if err != nil {
		t.Fatalf("list movements: %v", err)
	}

	counts := map[string]int{}
	for _, m := range movements {
		counts[m.Type]++
	}
	if counts[domain.MovementAdded] != 1 || counts[domain.MovementSold] != 1 || counts[domain.MovementReversed] != 1 {
		t.Fatalf("expected one ADDED, SOLD and REVERSED row, got %v", counts)
	}
}

func TestSummariesAndReports(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	ring := mustCategory(t, svc, "Ring")
	chain := mustCategory(t, svc, "Chain")

	keep := mustItem(t, svc, ring.ID, "Ring A")
	sold := mustItem(t, svc, ring.ID, "Ring B")
	mustItem(t, svc, chain.ID, "Chain A")
	bill := sellItem(t, svc, sold)

	summaries, err := svc.CategorySummaries(ctx)
	if err != nil {
		t.Fatalf("category summaries: %v", err)
	}
	byName := map[string]domain.CategorySummary{}
	for _, s := range summaries {
		byName[s.CategoryName] = s
	}
	ringSummary := byName["Ring"]
	if ringSummary.TotalItems != 2 || ringSummary.AvailableItems != 1 || ringSummary.SoldItems != 1 {
		t.Fatalf("unexpected ring summary: %+v", ringSummary)
	}
	if ringSummary.AvailableNetWeight.StringFixed(3) != keep.NetWeight.StringFixed(3) {
		t.Fatalf("expected available net %s, got %s",
			keep.NetWeight.StringFixed(3), ringSummary.AvailableNetWeight.StringFixed(3))
	}

	total, err := svc.TotalSummary(ctx)
	if err != nil {
		t.Fatalf("total summary: %v", err)
	}
	if total.TotalAvailableItems != 2 || total.TotalSoldItems != 1 {
		t.Fatalf("unexpected totals: %+v", total)
	}

	sales, err := svc.SalesSummary(ctx, "", "")
	if err != nil {
		t.Fatalf("sales summary: %v", err)
	}
	if sales.BillCount != 1 || sales.Total.StringFixed(2) != bill.TotalAmount.StringFixed(2) {
		t.Fatalf("unexpected sales summary: %+v", sales)
	}

	soldRows, err := svc.ListSoldItems(ctx, 0)
	if err != nil {
		t.Fatalf("sold items: %v", err)
	}
	if len(soldRows) != 1 || soldRows[0].ItemID != sold.ID || soldRows[0].BillNumber != bill.BillNumber {
		t.Fatalf("unexpected sold rows: %+v", soldRows)
	}

	export, err := svc.CategoryExport(ctx, ring.ID)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if len(export) != 1 || export[0].CategoryItemNo != keep.CategoryItemNo {
		t.Fatalf("export must list only active items, got %+v", export)
	}
}

func TestBillNumbersAreSequentialPerYear(t *testing.T) {
	svc := newTestService(t)
	ring := mustCategory(t, svc, "Ring")

	first := sellItem(t, svc, mustItem(t, svc, ring.ID, "Ring A"))
	second := sellItem(t, svc, mustItem(t, svc, ring.ID, "Ring B"))

	if first.BillNumber == second.BillNumber {
		t.Fatalf("bill numbers must be unique, both %s", first.BillNumber)
	}
	var year, seq int
	if _, err := fmt.Sscanf(second.BillNumber, "RK-%d-%d", &year, &seq); err != nil {
		t.Fatalf("unexpected bill number format %q: %v", second.BillNumber, err)
	}
	if seq != 2 {
		t.Fatalf("expected sequence 2, got %d (%s)", seq, second.BillNumber)
	}
}
