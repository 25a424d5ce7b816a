package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"

	"roopkala/backend/internal/analytics"
	"roopkala/backend/internal/cache"
	"roopkala/backend/internal/domain"
	"roopkala/backend/internal/service"
	"roopkala/backend/internal/store/memory"
)

// newTestAPI builds a full API over an in-memory store so handler tests
// exercise the complete request path.
func newTestAPI(t *testing.T) *API {
	t.Helper()

	svc, err := service.New(memory.New(), cache.NoopSummaryCache{}, analytics.NewEngine(90, 3), zerolog.Nop(), service.Params{})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return New(svc, "*", zerolog.Nop())
}

func doJSON(t *testing.T, handler http.Handler, method string, path string, payload any) *httptest.ResponseRecorder {
	t.Helper()

	var body *bytes.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("marshal payload: %v", err)
		}
		body = bytes.NewReader(raw)
	} else {
		body = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, body)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]json.RawMessage {
	t.Helper()
	var body map[string]json.RawMessage
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v (raw: %s)", err, rec.Body.String())
	}
	return body
}

func TestHandleHealth(t *testing.T) {
	handler := newTestAPI(t).Handler()

	rec := doJSON(t, handler, http.MethodGet, "/healthz", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func createCategory(t *testing.T, handler http.Handler, name string) domain.Category {
	t.Helper()
	rec := doJSON(t, handler, http.MethodPost, "/api/v1/categories", map[string]string{"name": name})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create category: expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var category domain.Category
	if err := json.Unmarshal(decodeBody(t, rec)["category"], &category); err != nil {
		t.Fatalf("unmarshal category: %v", err)
	}
	return category
}

func createItem(t *testing.T, handler http.Handler, categoryID string, name string) domain.InventoryItem {
	t.Helper()
	rec := doJSON(t, handler, http.MethodPost, "/api/v1/items", map[string]string{
		"category_id":  categoryID,
		"product_name": name,
		"gross_weight": "10.800",
		"net_weight":   "10.500",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create item: expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var item domain.InventoryItem
	if err := json.Unmarshal(decodeBody(t, rec)["item"], &item); err != nil {
		t.Fatalf("unmarshal item: %v", err)
	}
	return item
}

func TestItemLifecycleOverHTTP(t *testing.T) {
	handler := newTestAPI(t).Handler()
	ring := createCategory(t, handler, "Ring")

	item := createItem(t, handler, ring.ID, "Gold Ring")
	if item.CategoryItemNo != 1 {
		t.Fatalf("expected serial 1, got %d", item.CategoryItemNo)
	}
	if item.Status != domain.ItemStatusAvailable {
		t.Fatalf("expected AVAILABLE, got %s", item.Status)
	}

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/items/"+item.ID+"/hold", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("hold: expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, handler, http.MethodPost, "/api/v1/items/"+item.ID+"/release", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("release: expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	// Releasing an item nobody holds is a conflict, not a no-op.
	rec = doJSON(t, handler, http.MethodPost, "/api/v1/items/"+item.ID+"/release", nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("double release: expected 409, got %d", rec.Code)
	}
}

func TestBillCreateAndReverseOverHTTP(t *testing.T) {
	handler := newTestAPI(t).Handler()
	ring := createCategory(t, handler, "Ring")
	item := createItem(t, handler, ring.ID, "Gold Ring")

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/bills", map[string]any{
		"customer": map[string]string{"name": "Asha Mehta"},
		"lines": []map[string]string{
			{"inventory_id": item.ID, "rate": "6500"},
		},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create bill: expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var bill domain.Bill
	if err := json.Unmarshal(decodeBody(t, rec)["bill"], &bill); err != nil {
		t.Fatalf("unmarshal bill: %v", err)
	}
	if bill.Subtotal.StringFixed(2) != "68250.00" {
		t.Fatalf("expected subtotal 68250.00, got %s", bill.Subtotal.StringFixed(2))
	}
	if bill.TotalAmount.StringFixed(2) != "70297.50" {
		t.Fatalf("expected total 70297.50, got %s", bill.TotalAmount.StringFixed(2))
	}

	// The item is gone from stock; selling it again conflicts.
	rec = doJSON(t, handler, http.MethodPost, "/api/v1/bills", map[string]any{
		"customer": map[string]string{"name": "Someone Else"},
		"lines": []map[string]string{
			{"inventory_id": item.ID, "rate": "6500"},
		},
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("double sale: expected 409, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, handler, http.MethodPost, "/api/v1/bills/"+bill.ID+"/reverse", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("reverse: expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var reversal domain.ReverseBillResponse
	if err := json.NewDecoder(rec.Body).Decode(&reversal); err != nil {
		t.Fatalf("decode reversal: %v", err)
	}
	if !reversal.Reversed {
		t.Fatalf("expected reversal to be performed")
	}

	rec = doJSON(t, handler, http.MethodGet, "/api/v1/items/"+item.ID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get item: expected 200, got %d", rec.Code)
	}
	var restored domain.InventoryItem
	if err := json.Unmarshal(decodeBody(t, rec)["item"], &restored); err != nil {
		t.Fatalf("unmarshal item: %v", err)
	}
	if restored.Status != domain.ItemStatusAvailable {
		t.Fatalf("expected AVAILABLE after reversal, got %s", restored.Status)
	}
}

func TestBillValidationErrorsOverHTTP(t *testing.T) {
	handler := newTestAPI(t).Handler()

	// No lines at all.
	rec := doJSON(t, handler, http.MethodPost, "/api/v1/bills", map[string]any{
		"customer": map[string]string{"name": "Asha Mehta"},
		"lines":    []map[string]string{},
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("empty lines: expected 400, got %d", rec.Code)
	}

	// Unknown inventory reference.
	rec = doJSON(t, handler, http.MethodPost, "/api/v1/bills", map[string]any{
		"customer": map[string]string{"name": "Asha Mehta"},
		"lines": []map[string]string{
			{"inventory_id": "item-missing", "rate": "6500"},
		},
	})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("missing item: expected 404, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}

func TestItemWeightValidationOverHTTP(t *testing.T) {
	handler := newTestAPI(t).Handler()
	ring := createCategory(t, handler, "Ring")

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/items", map[string]string{
		"category_id":  ring.ID,
		"product_name": "Impossible Ring",
		"gross_weight": "10.000",
		"net_weight":   "12.000",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("net above gross: expected 400, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}

func TestSummariesOverHTTP(t *testing.T) {
	handler := newTestAPI(t).Handler()
	ring := createCategory(t, handler, "Ring")
	createItem(t, handler, ring.ID, "Ring A")

	rec := doJSON(t, handler, http.MethodGet, "/api/v1/summary/categories", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("category summaries: expected 200, got %d", rec.Code)
	}
	var summaries []domain.CategorySummary
	if err := json.Unmarshal(decodeBody(t, rec)["summaries"], &summaries); err != nil {
		t.Fatalf("unmarshal summaries: %v", err)
	}
	if len(summaries) != 1 || summaries[0].AvailableItems != 1 {
		t.Fatalf("unexpected summaries: %+v", summaries)
	}

	rec = doJSON(t, handler, http.MethodGet, "/api/v1/summary/totals", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("totals: expected 200, got %d", rec.Code)
	}

	rec = doJSON(t, handler, http.MethodGet, "/api/v1/categories/"+ring.ID+"/export", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("export: expected 200, got %d", rec.Code)
	}
	var rows []domain.CategoryExportRow
	if err := json.Unmarshal(decodeBody(t, rec)["rows"], &rows); err != nil {
		t.Fatalf("unmarshal rows: %v", err)
	}
	if len(rows) != 1 || rows[0].CategoryItemNo != 1 {
		t.Fatalf("unexpected export rows: %+v", rows)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	handler := newTestAPI(t).Handler()

	rec := doJSON(t, handler, http.MethodDelete, "/api/v1/items", nil)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}
