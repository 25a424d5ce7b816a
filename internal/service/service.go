package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"roopkala/backend/internal/analytics"
	"roopkala/backend/internal/cache"
	"roopkala/backend/internal/domain"
	"roopkala/backend/internal/money"
	"roopkala/backend/internal/store"
)

const (
	summaryCategoriesKey = "roopkala:summary:categories"
	summaryTotalsKey     = "roopkala:summary:totals"

	// billNumberAttempts bounds the retry loop when two bills race for the
	// same sequence number.
	billNumberAttempts = 3
)

type Params struct {
	BillPrefix      string
	DefaultCGSTRate string
	DefaultSGSTRate string
	SummaryTTL      time.Duration
}

type Service struct {
	repo       store.Repository
	cache      cache.SummaryCache
	engine     *analytics.Engine
	validate   *validator.Validate
	logger     zerolog.Logger
	billPrefix string
	cgstRate   decimal.Decimal
	sgstRate   decimal.Decimal
	summaryTTL time.Duration
}

func New(repo store.Repository, summaryCache cache.SummaryCache, engine *analytics.Engine, logger zerolog.Logger, params Params) (*Service, error) {
	if summaryCache == nil {
		summaryCache = cache.NoopSummaryCache{}
	}
	if engine == nil {
		engine = analytics.NewEngine(0, 0)
	}
	if params.BillPrefix == "" {
		params.BillPrefix = "RK"
	}
	if params.DefaultCGSTRate == "" {
		params.DefaultCGSTRate = "1.5"
	}
	if params.DefaultSGSTRate == "" {
		params.DefaultSGSTRate = "1.5"
	}
	if params.SummaryTTL <= 0 {
		params.SummaryTTL = 30 * time.Second
	}

	cgst, err := decimal.NewFromString(params.DefaultCGSTRate)
	if err != nil {
		return nil, fmt.Errorf("parse cgst rate: %w", err)
	}
	sgst, err := decimal.NewFromString(params.DefaultSGSTRate)
	if err != nil {
		return nil, fmt.Errorf("parse sgst rate: %w", err)
	}

	return &Service{
		repo:       repo,
		cache:      summaryCache,
		engine:     engine,
		validate:   validator.New(),
		logger:     logger.With().Str("component", "service").Logger(),
		billPrefix: params.BillPrefix,
		cgstRate:   cgst,
		sgstRate:   sgst,
		summaryTTL: params.SummaryTTL,
	}, nil
}

func (s *Service) CreateCategory(ctx context.Context, req domain.CategoryCreateRequest) (domain.Category, error) {
	if err := s.validate.Struct(req); err != nil {
		return domain.Category{}, fmt.Errorf("%w: %v", store.ErrValidation, err)
	}

	created, err := s.repo.CreateCategory(ctx, domain.Category{
		Name:        strings.TrimSpace(req.Name),
		Description: strings.TrimSpace(req.Description),
	})
	if err != nil {
		return domain.Category{}, err
	}

	s.logger.Info().Str("category_id", created.ID).Str("name", created.Name).Msg("category created")
	return *created, nil
}

func (s *Service) ListCategories(ctx context.Context) ([]domain.Category, error) {
	return s.repo.ListCategories(ctx)
}

func (s *Service) GetCategory(ctx context.Context, id string) (domain.Category, error) {
	c, err := s.repo.GetCategory(ctx, id)
	if err != nil {
		return domain.Category{}, err
	}
	return *c, nil
}

func (s *Service) CreateSupplier(ctx context.Context, req domain.SupplierCreateRequest) (domain.Supplier, error) {
	if err := s.validate.Struct(req); err != nil {
		return domain.Supplier{}, fmt.Errorf("%w: %v", store.ErrValidation, err)
	}

	created, err := s.repo.CreateSupplier(ctx, domain.Supplier{
		Name:          strings.TrimSpace(req.Name),
		Code:          strings.ToUpper(strings.TrimSpace(req.Code)),
		ContactPerson: strings.TrimSpace(req.ContactPerson),
		Phone:         strings.TrimSpace(req.Phone),
	})
	if err != nil {
		return domain.Supplier{}, err
	}

	s.logger.Info().Str("supplier_id", created.ID).Str("code", created.Code).Msg("supplier created")
	return *created, nil
}

func (s *Service) ListSuppliers(ctx context.Context) ([]domain.Supplier, error) {
	return s.repo.ListSuppliers(ctx)
}

func (s *Service) AddItem(ctx context.Context, req domain.ItemCreateRequest) (domain.InventoryItem, error) {
	if err := s.validate.Struct(req); err != nil {
		return domain.InventoryItem{}, fmt.Errorf("%w: %v", store.ErrValidation, err)
	}

	gross, err := money.Parse(req.GrossWeight)
	if err != nil {
		return domain.InventoryItem{}, fmt.Errorf("%w: gross_weight: %v", store.ErrValidation, err)
	}
	net, err := money.Parse(req.NetWeight)
	if err != nil {
		return domain.InventoryItem{}, fmt.Errorf("%w: net_weight: %v", store.ErrValidation, err)
	}
	melting, err := money.Parse(req.MeltingPercentage)
	if err != nil {
		return domain.InventoryItem{}, fmt.Errorf("%w: melting_percentage: %v", store.ErrValidation, err)
	}

	created, err := s.repo.CreateItem(ctx, domain.InventoryItem{
		CategoryID:        req.CategoryID,
		ProductName:       strings.TrimSpace(req.ProductName),
		Description:       strings.TrimSpace(req.Description),
		HSNCode:           strings.TrimSpace(req.HSNCode),
		GrossWeight:       money.RoundQuantity(gross),
		NetWeight:         money.RoundQuantity(net),
		MeltingPercentage: melting,
		SupplierID:        req.SupplierID,
	})
	if err != nil {
		return domain.InventoryItem{}, err
	}

	s.invalidateSummaries(ctx)
	s.logger.Info().
		Str("item_id", created.ID).
		Str("category_id", created.CategoryID).
		Int("category_item_no", created.CategoryItemNo).
		Msg("item added to stock")
	return *created, nil
}

func (s *Service) GetItem(ctx context.Context, id string) (domain.InventoryItem, error) {
	item, err := s.repo.GetItem(ctx, id)
	if err != nil {
		return domain.InventoryItem{}, err
	}
	return *item, nil
}

func (s *Service) ListItems(ctx context.Context, categoryID string, status string, limit int) ([]domain.InventoryItem, error) {
	if status != "" && !domain.ValidStatus(status) {
		return nil, fmt.Errorf("%w: unknown status %q", store.ErrValidation, status)
	}
	return s.repo.ListItems(ctx, categoryID, status, limit)
}

func (s *Service) UpdateItem(ctx context.Context, id string, req domain.ItemUpdateRequest) (domain.InventoryItem, error) {
	existing, err := s.repo.GetItem(ctx, id)
	if err != nil {
		return domain.InventoryItem{}, err
	}

	updated := *existing
	if req.ProductName != nil {
		updated.ProductName = strings.TrimSpace(*req.ProductName)
	}
	if req.Description != nil {
		updated.Description = strings.TrimSpace(*req.Description)
	}
	if req.HSNCode != nil {
		updated.HSNCode = strings.TrimSpace(*req.HSNCode)
	}
	if req.GrossWeight != nil {
		gross, err := money.Parse(*req.GrossWeight)
		if err != nil {
			return domain.InventoryItem{}, fmt.Errorf("%w: gross_weight: %v", store.ErrValidation, err)
		}
		updated.GrossWeight = money.RoundQuantity(gross)
	}
	if req.NetWeight != nil {
		net, err := money.Parse(*req.NetWeight)
		if err != nil {
			return domain.InventoryItem{}, fmt.Errorf("%w: net_weight: %v", store.ErrValidation, err)
		}
		updated.NetWeight = money.RoundQuantity(net)
	}
	if req.MeltingPercentage != nil {
		melting, err := money.Parse(*req.MeltingPercentage)
		if err != nil {
			return domain.InventoryItem{}, fmt.Errorf("%w: melting_percentage: %v", store.ErrValidation, err)
		}
		updated.MeltingPercentage = melting
	}
	if req.SupplierID != nil {
		updated.SupplierID = *req.SupplierID
	}

	saved, err := s.repo.UpdateItem(ctx, updated)
	if err != nil {
		return domain.InventoryItem{}, err
	}

	s.invalidateSummaries(ctx)
	return *saved, nil
}

// HoldItem parks an item for a customer. The serial stays blocked so the
// piece cannot be double-promised.
func (s *Service) HoldItem(ctx context.Context, id string) (domain.InventoryItem, error) {
	item, err := s.repo.TransitionItem(ctx, id, domain.ItemStatusReserved, "held at counter")
	if err != nil {
		return domain.InventoryItem{}, err
	}
	s.invalidateSummaries(ctx)
	s.logger.Info().Str("item_id", id).Msg("item held")
	return *item, nil
}

func (s *Service) ReleaseItem(ctx context.Context, id string) (domain.InventoryItem, error) {
	item, err := s.repo.TransitionItem(ctx, id, domain.ItemStatusAvailable, "released to stock")
	if err != nil {
		return domain.InventoryItem{}, err
	}
	s.invalidateSummaries(ctx)
	s.logger.Info().Str("item_id", id).Msg("item released")
	return *item, nil
}

// CreateBill resolves every line, computes GST totals and delegates the
// atomic sale to the repository. The bill number is allocated optimistically;
// a race on the sequence retries with a fresh number.
func (s *Service) CreateBill(ctx context.Context, req domain.BillCreateRequest) (domain.Bill, error) {
	if err := s.validate.Struct(req); err != nil {
		return domain.Bill{}, fmt.Errorf("%w: %v", store.ErrValidation, err)
	}

	cgstRate := s.cgstRate
	if req.CGSTRate != "" {
		rate, err := decimal.NewFromString(req.CGSTRate)
		if err != nil || rate.IsNegative() {
			return domain.Bill{}, fmt.Errorf("%w: cgst_rate", store.ErrValidation)
		}
		cgstRate = rate
	}
	sgstRate := s.sgstRate
	if req.SGSTRate != "" {
		rate, err := decimal.NewFromString(req.SGSTRate)
		if err != nil || rate.IsNegative() {
			return domain.Bill{}, fmt.Errorf("%w: sgst_rate", store.ErrValidation)
		}
		sgstRate = rate
	}

	billDate := time.Now().UTC()
	if req.BillDate != "" {
		parsed, err := parseDate(req.BillDate)
		if err != nil {
			return domain.Bill{}, fmt.Errorf("%w: bill_date", store.ErrValidation)
		}
		billDate = parsed
	}

	var overrideTotal *decimal.Decimal
	if req.OverrideTotal != "" {
		target, err := decimal.NewFromString(req.OverrideTotal)
		if err != nil || target.IsNegative() {
			return domain.Bill{}, fmt.Errorf("%w: override_total", store.ErrValidation)
		}
		overrideTotal = &target
	}

	lines := make([]domain.BillItem, 0, len(req.Lines))
	lineAmounts := make([]decimal.Decimal, 0, len(req.Lines))
	for i, lineReq := range req.Lines {
		line := domain.BillItem{
			InventoryID: lineReq.InventoryID,
			ProductName: strings.TrimSpace(lineReq.ProductName),
			Description: strings.TrimSpace(lineReq.Description),
			HSNCode:     strings.TrimSpace(lineReq.HSNCode),
		}

		quantityStr := lineReq.Quantity
		if line.InventoryID != "" {
			item, err := s.repo.GetItem(ctx, line.InventoryID)
			if err != nil {
				return domain.Bill{}, err
			}
			// Snapshot from stock so the bill survives later edits.
			if line.ProductName == "" {
				line.ProductName = item.ProductName
			}
			if line.HSNCode == "" {
				line.HSNCode = item.HSNCode
			}
			if quantityStr == "" {
				quantityStr = item.NetWeight.String()
			}
		}
		if line.ProductName == "" {
			return domain.Bill{}, fmt.Errorf("%w: line %d: product_name required", store.ErrValidation, i+1)
		}

		quantity, err := parseOptionalDecimal(quantityStr)
		if err != nil {
			return domain.Bill{}, fmt.Errorf("%w: line %d: quantity", store.ErrValidation, i+1)
		}
		rate, err := parseOptionalDecimal(lineReq.Rate)
		if err != nil {
			return domain.Bill{}, fmt.Errorf("%w: line %d: rate", store.ErrValidation, i+1)
		}
		amount, err := parseOptionalDecimal(lineReq.Amount)
		if err != nil {
			return domain.Bill{}, fmt.Errorf("%w: line %d: amount", store.ErrValidation, i+1)
		}
		totalInclusive, err := parseOptionalDecimal(lineReq.TotalInclusive)
		if err != nil {
			return domain.Bill{}, fmt.Errorf("%w: line %d: total_inclusive", store.ErrValidation, i+1)
		}

		var resolved money.Line
		if totalInclusive != nil {
			resolved, err = money.ResolveLineInclusive(quantity, rate, amount, *totalInclusive, cgstRate.Add(sgstRate))
		} else {
			resolved, err = money.ResolveLine(quantity, rate, amount)
		}
		if err != nil {
			return domain.Bill{}, fmt.Errorf("%w: line %d: %v", store.ErrValidation, i+1, err)
		}

		line.Quantity = resolved.Quantity
		line.Rate = resolved.Rate
		line.Amount = resolved.Amount
		lines = append(lines, line)
		lineAmounts = append(lineAmounts, resolved.Amount)
	}

	totals := money.ComputeBillTotals(lineAmounts, cgstRate, sgstRate, overrideTotal)
	if err := money.CheckTotals(totals); err != nil {
		return domain.Bill{}, fmt.Errorf("%w: %v", store.ErrRounding, err)
	}

	bill := domain.Bill{
		CustomerName:  strings.TrimSpace(req.Customer.Name),
		CustomerPhone: strings.TrimSpace(req.Customer.Phone),
		CustomerGSTIN: strings.ToUpper(strings.TrimSpace(req.Customer.GSTIN)),
		BillDate:      billDate,
		Subtotal:      totals.Subtotal,
		CGSTRate:      cgstRate,
		SGSTRate:      sgstRate,
		CGSTAmount:    totals.CGSTAmount,
		SGSTAmount:    totals.SGSTAmount,
		RoundedOff:    totals.RoundedOff,
		TotalAmount:   totals.Total,
		Items:         lines,
	}

	var created *domain.Bill
	for attempt := 1; ; attempt++ {
		number, err := s.repo.NextBillNumber(ctx, s.billPrefix)
		if err != nil {
			return domain.Bill{}, err
		}
		bill.BillNumber = number

		created, err = s.repo.CreateBill(ctx, bill)
		if err == nil {
			break
		}
		if errors.Is(err, store.ErrBillNumberTaken) && attempt < billNumberAttempts {
			s.logger.Warn().Str("bill_number", number).Int("attempt", attempt).Msg("bill number raced, retrying")
			continue
		}
		return domain.Bill{}, err
	}

	s.invalidateSummaries(ctx)
	s.logger.Info().
		Str("bill_id", created.ID).
		Str("bill_number", created.BillNumber).
		Str("total", created.TotalAmount.StringFixed(money.MoneyPlaces)).
		Int("lines", len(created.Items)).
		Msg("bill generated")
	return *created, nil
}

func (s *Service) GetBill(ctx context.Context, id string) (domain.Bill, error) {
	bill, err := s.repo.GetBill(ctx, id)
	if err != nil {
		return domain.Bill{}, err
	}
	return *bill, nil
}

func (s *Service) ListBills(ctx context.Context, fromStr string, toStr string, limit int) ([]domain.Bill, error) {
	from, to, err := parseDateRange(fromStr, toStr)
	if err != nil {
		return nil, err
	}
	return s.repo.ListBills(ctx, from, to, limit)
}

// ReverseBill undoes a sale. Reversing an unknown or already-reversed bill
// succeeds without doing anything, so retried requests are harmless.
func (s *Service) ReverseBill(ctx context.Context, id string) (domain.ReverseBillResponse, error) {
	bill, performed, err := s.repo.ReverseBill(ctx, id, time.Now().UTC())
	if err != nil {
		return domain.ReverseBillResponse{}, err
	}

	resp := domain.ReverseBillResponse{BillID: id, Reversed: performed}
	if bill != nil && bill.ReversedAt != nil {
		resp.ReversedAt = bill.ReversedAt.UTC().Format(time.RFC3339)
	}
	if performed {
		s.invalidateSummaries(ctx)
		s.logger.Info().Str("bill_id", id).Str("bill_number", bill.BillNumber).Msg("bill reversed")
	} else {
		s.logger.Info().Str("bill_id", id).Msg("reversal was a no-op")
	}
	return resp, nil
}

func (s *Service) ListMovements(ctx context.Context, fromStr string, toStr string, categoryID string, inventoryID string, limit int) ([]domain.StockMovement, error) {
	from, to, err := parseDateRange(fromStr, toStr)
	if err != nil {
		return nil, err
	}
	return s.repo.ListMovements(ctx, domain.MovementFilter{
		From:        from,
		To:          to,
		CategoryID:  categoryID,
		InventoryID: inventoryID,
		Limit:       limit,
	})
}

func (s *Service) CategorySummaries(ctx context.Context) ([]domain.CategorySummary, error) {
	if payload, ok, err := s.cache.Get(ctx, summaryCategoriesKey); err == nil && ok {
		var cached []domain.CategorySummary
		if err := json.Unmarshal(payload, &cached); err == nil {
			return cached, nil
		}
	}

	summaries, err := s.repo.CategorySummary(ctx)
	if err != nil {
		return nil, err
	}

	if payload, err := json.Marshal(summaries); err == nil {
		if err := s.cache.Set(ctx, summaryCategoriesKey, payload, s.summaryTTL); err != nil {
			s.logger.Warn().Err(err).Msg("summary cache set failed")
		}
	}
	return summaries, nil
}

func (s *Service) TotalSummary(ctx context.Context) (domain.TotalSummary, error) {
	if payload, ok, err := s.cache.Get(ctx, summaryTotalsKey); err == nil && ok {
		var cached domain.TotalSummary
		if err := json.Unmarshal(payload, &cached); err == nil {
			return cached, nil
		}
	}

	total, err := s.repo.TotalSummary(ctx)
	if err != nil {
		return domain.TotalSummary{}, err
	}

	if payload, err := json.Marshal(total); err == nil {
		if err := s.cache.Set(ctx, summaryTotalsKey, payload, s.summaryTTL); err != nil {
			s.logger.Warn().Err(err).Msg("summary cache set failed")
		}
	}
	return total, nil
}

func (s *Service) SalesSummary(ctx context.Context, fromStr string, toStr string) (domain.SalesSummary, error) {
	from, to, err := parseDateRange(fromStr, toStr)
	if err != nil {
		return domain.SalesSummary{}, err
	}

	summary, err := s.repo.SalesSummary(ctx, from, to)
	if err != nil {
		return domain.SalesSummary{}, err
	}
	summary.From = fromStr
	summary.To = toStr
	return summary, nil
}

func (s *Service) ListSoldItems(ctx context.Context, limit int) ([]domain.SoldItem, error) {
	return s.repo.ListSoldItems(ctx, limit)
}

func (s *Service) CategoryExport(ctx context.Context, categoryID string) ([]domain.CategoryExportRow, error) {
	if categoryID == "" {
		return nil, fmt.Errorf("%w: category id required", store.ErrValidation)
	}
	return s.repo.CategoryExportRows(ctx, categoryID)
}

func (s *Service) StockAging(ctx context.Context) ([]domain.StockAgingRow, error) {
	items, err := s.repo.ListItems(ctx, "", "", 0)
	if err != nil {
		return nil, err
	}
	categories, err := s.repo.ListCategories(ctx)
	if err != nil {
		return nil, err
	}

	names := make(map[string]string, len(categories))
	for _, c := range categories {
		names[c.ID] = c.Name
	}
	return s.engine.StockAging(items, names, time.Now().UTC()), nil
}

func (s *Service) ReversalAlerts(ctx context.Context, fromStr string, toStr string) ([]domain.ReversalAlert, error) {
	from, to, err := parseDateRange(fromStr, toStr)
	if err != nil {
		return nil, err
	}
	if from.IsZero() {
		from = time.Now().UTC().AddDate(0, 0, -30)
	}

	bills, err := s.repo.ListBills(ctx, from, to, 0)
	if err != nil {
		return nil, err
	}
	return s.engine.ReversalAlerts(bills), nil
}

func (s *Service) invalidateSummaries(ctx context.Context) {
	if err := s.cache.Invalidate(ctx, summaryCategoriesKey, summaryTotalsKey); err != nil {
		s.logger.Warn().Err(err).Msg("summary cache invalidation failed")
	}
}

func parseOptionalDecimal(value string) (*decimal.Decimal, error) {
	if strings.TrimSpace(value) == "" {
		return nil, nil
	}
	d, err := decimal.NewFromString(strings.TrimSpace(value))
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func parseDate(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if t, err := time.Parse("2006-01-02", value); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

func parseDateRange(fromStr string, toStr string) (time.Time, time.Time, error) {
	var from, to time.Time
	if fromStr != "" {
		parsed, err := parseDate(fromStr)
		if err != nil {
			return from, to, fmt.Errorf("%w: from date", store.ErrValidation)
		}
		from = parsed
	}
	if toStr != "" {
		parsed, err := parseDate(toStr)
		if err != nil {
			return from, to, fmt.Errorf("%w: to date", store.ErrValidation)
		}
		// Upper bound is exclusive; a bare date means "through that day".
		if len(toStr) == len("2006-01-02") {
			parsed = parsed.AddDate(0, 0, 1)
		}
		to = parsed
	}
	if !from.IsZero() && !to.IsZero() && to.Before(from) {
		return from, to, fmt.Errorf("%w: to before from", store.ErrValidation)
	}
	return from, to, nil
}
