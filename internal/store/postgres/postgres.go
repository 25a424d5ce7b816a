package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/shopspring/decimal"

	"roopkala/backend/internal/domain"
	"roopkala/backend/internal/store"
	"roopkala/backend/internal/xid"
)

// activeStatuses is the WHERE fragment for items whose serial currently
// blocks reuse.
const activeStatuses = `('AVAILABLE','RESERVED')`

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) CreateCategory(ctx context.Context, category domain.Category) (*domain.Category, error) {
	category.Name = strings.TrimSpace(category.Name)
	if category.Name == "" {
		return nil, store.ErrValidation
	}
	if category.ID == "" {
		category.ID = xid.New("cat")
	}
	if category.CreatedAt.IsZero() {
		category.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO categories (id, name, description, created_at)
		VALUES ($1,$2,$3,$4)
	`, category.ID, category.Name, category.Description, category.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: category %q already exists", store.ErrConflict, category.Name)
		}
		return nil, err
	}

	created := category
	return &created, nil
}

func (s *Store) ListCategories(ctx context.Context) ([]domain.Category, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, COALESCE(description,''), created_at
		FROM categories
		ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	categories := make([]domain.Category, 0, 16)
	for rows.Next() {
		var c domain.Category
		if err := rows.Scan(&c.ID, &c.Name, &c.Description, &c.CreatedAt); err != nil {
			return nil, err
		}
		c.CreatedAt = c.CreatedAt.UTC()
		categories = append(categories, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return categories, nil
}

func (s *Store) GetCategory(ctx context.Context, id string) (*domain.Category, error) {
	var c domain.Category
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, COALESCE(description,''), created_at
		FROM categories
		WHERE id = $1
	`, id).Scan(&c.ID, &c.Name, &c.Description, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: category %s", store.ErrNotFound, id)
		}
		return nil, err
	}
	c.CreatedAt = c.CreatedAt.UTC()
	return &c, nil
}

func (s *Store) CreateSupplier(ctx context.Context, supplier domain.Supplier) (*domain.Supplier, error) {
	supplier.Name = strings.TrimSpace(supplier.Name)
	supplier.Code = strings.ToUpper(strings.TrimSpace(supplier.Code))
	if supplier.Name == "" || supplier.Code == "" {
		return nil, store.ErrValidation
	}
	if supplier.ID == "" {
		supplier.ID = xid.New("sup")
	}
	if supplier.CreatedAt.IsZero() {
		supplier.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO suppliers (id, name, code, contact_person, phone, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, supplier.ID, supplier.Name, supplier.Code, supplier.ContactPerson, supplier.Phone, supplier.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: supplier code %q already exists", store.ErrConflict, supplier.Code)
		}
		return nil, err
	}

	created := supplier
	return &created, nil
}

func (s *Store) ListSuppliers(ctx context.Context) ([]domain.Supplier, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, code, COALESCE(contact_person,''), COALESCE(phone,''), created_at
		FROM suppliers
		ORDER BY code
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	suppliers := make([]domain.Supplier, 0, 16)
	for rows.Next() {
		var sup domain.Supplier
		if err := rows.Scan(&sup.ID, &sup.Name, &sup.Code, &sup.ContactPerson, &sup.Phone, &sup.CreatedAt); err != nil {
			return nil, err
		}
		sup.CreatedAt = sup.CreatedAt.UTC()
		suppliers = append(suppliers, sup)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return suppliers, nil
}

// CreateItem allocates the lowest free serial and inserts the item in one
// transaction. pg_advisory_xact_lock serializes allocations per category, so
// two concurrent stock-ins cannot observe the same gap. The partial unique
// index on (category_id, category_item_no) WHERE status IN ('AVAILABLE',
// 'RESERVED') backstops the lock.
func (s *Store) CreateItem(ctx context.Context, item domain.InventoryItem) (*domain.InventoryItem, error) {
	item.ProductName = strings.TrimSpace(item.ProductName)
	if item.ProductName == "" || item.CategoryID == "" {
		return nil, store.ErrValidation
	}
	if !item.GrossWeight.IsPositive() || !item.NetWeight.IsPositive() || item.NetWeight.GreaterThan(item.GrossWeight) {
		return nil, fmt.Errorf("%w: weights must be > 0 and net <= gross", store.ErrValidation)
	}
	if item.MeltingPercentage.IsNegative() || item.MeltingPercentage.GreaterThan(decimal.NewFromInt(100)) {
		return nil, fmt.Errorf("%w: melting percentage out of range", store.ErrValidation)
	}
	if item.ID == "" {
		item.ID = xid.New("item")
	}
	now := time.Now().UTC()
	item.CreatedAt = now
	item.UpdatedAt = now
	item.Status = domain.ItemStatusAvailable

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var exists bool
	err = tx.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM categories WHERE id = $1)`, item.CategoryID).Scan(&exists)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("%w: category %s", store.ErrNotFound, item.CategoryID)
	}

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, item.CategoryID); err != nil {
		return nil, err
	}

	err = tx.QueryRowContext(ctx, `
		SELECT MIN(t.no) FROM (
			SELECT 1 AS no
			UNION
			SELECT category_item_no + 1
			FROM inventory_items
			WHERE category_id = $1 AND status IN `+activeStatuses+`
		) t
		WHERE t.no NOT IN (
			SELECT category_item_no
			FROM inventory_items
			WHERE category_id = $1 AND status IN `+activeStatuses+`
		)
	`, item.CategoryID).Scan(&item.CategoryItemNo)
	if err != nil {
		return nil, err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO inventory_items (
			id, category_id, category_item_no, product_name, description, hsn_code,
			gross_weight, net_weight, melting_percentage, supplier_id, status,
			created_at, updated_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
	`, item.ID, item.CategoryID, item.CategoryItemNo, item.ProductName, item.Description, item.HSNCode,
		item.GrossWeight, item.NetWeight, item.MeltingPercentage, nullIfEmpty(item.SupplierID), item.Status,
		item.CreatedAt, item.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: serial %d already taken in category %s", store.ErrConflict, item.CategoryItemNo, item.CategoryID)
		}
		return nil, err
	}

	if err := insertMovement(ctx, tx, domain.StockMovement{
		InventoryID: item.ID,
		Type:        domain.MovementAdded,
		Quantity:    decimal.NewFromInt(1),
		Note:        "stock in: " + item.ProductName,
		CreatedAt:   now,
	}); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	created := item
	return &created, nil
}

const itemColumns = `
	id, category_id, category_item_no, product_name, COALESCE(description,''),
	COALESCE(hsn_code,''), gross_weight, net_weight, melting_percentage,
	COALESCE(supplier_id,''), status, created_at, updated_at
`

func scanItem(row interface{ Scan(...any) error }) (domain.InventoryItem, error) {
	var item domain.InventoryItem
	err := row.Scan(
		&item.ID,
		&item.CategoryID,
		&item.CategoryItemNo,
		&item.ProductName,
		&item.Description,
		&item.HSNCode,
		&item.GrossWeight,
		&item.NetWeight,
		&item.MeltingPercentage,
		&item.SupplierID,
		&item.Status,
		&item.CreatedAt,
		&item.UpdatedAt,
	)
	if err != nil {
		return item, err
	}
	item.CreatedAt = item.CreatedAt.UTC()
	item.UpdatedAt = item.UpdatedAt.UTC()
	return item, nil
}

func (s *Store) GetItem(ctx context.Context, id string) (*domain.InventoryItem, error) {
	item, err := scanItem(s.db.QueryRowContext(ctx, `
		SELECT `+itemColumns+`
		FROM inventory_items
		WHERE id = $1
	`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: item %s", store.ErrNotFound, id)
		}
		return nil, err
	}
	return &item, nil
}

func (s *Store) ListItems(ctx context.Context, categoryID string, status string, limit int) ([]domain.InventoryItem, error) {
	if limit < 1 {
		limit = 500
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+itemColumns+`
		FROM inventory_items
		WHERE ($1 = '' OR category_id = $1)
			AND ($2 = '' OR status = $2)
		ORDER BY category_id, category_item_no
		LIMIT $3
	`, categoryID, status, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.InventoryItem, 0, limit)
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) UpdateItem(ctx context.Context, item domain.InventoryItem) (*domain.InventoryItem, error) {
	item.ProductName = strings.TrimSpace(item.ProductName)
	if item.ProductName == "" {
		return nil, store.ErrValidation
	}
	if !item.GrossWeight.IsPositive() || !item.NetWeight.IsPositive() || item.NetWeight.GreaterThan(item.GrossWeight) {
		return nil, fmt.Errorf("%w: weights must be > 0 and net <= gross", store.ErrValidation)
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var status string
	err = tx.QueryRowContext(ctx, `
		SELECT status FROM inventory_items WHERE id = $1 FOR UPDATE
	`, item.ID).Scan(&status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: item %s", store.ErrNotFound, item.ID)
		}
		return nil, err
	}
	if status == domain.ItemStatusSold {
		return nil, fmt.Errorf("%w: item %s", store.ErrImmutable, item.ID)
	}

	// Category, serial and status stay what they are; only attributes move.
	updated, err := scanItem(tx.QueryRowContext(ctx, `
		UPDATE inventory_items
		SET product_name = $2, description = $3, hsn_code = $4, gross_weight = $5,
			net_weight = $6, melting_percentage = $7, supplier_id = $8, updated_at = now()
		WHERE id = $1
		RETURNING `+itemColumns+`
	`, item.ID, item.ProductName, item.Description, item.HSNCode, item.GrossWeight,
		item.NetWeight, item.MeltingPercentage, nullIfEmpty(item.SupplierID)))
	if err != nil {
		return nil, err
	}

	if err := insertMovement(ctx, tx, domain.StockMovement{
		InventoryID: item.ID,
		Type:        domain.MovementAdjusted,
		Quantity:    decimal.Zero,
		Note:        "attributes updated",
		CreatedAt:   time.Now().UTC(),
	}); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &updated, nil
}

func (s *Store) TransitionItem(ctx context.Context, id string, to string, note string) (*domain.InventoryItem, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var status string
	err = tx.QueryRowContext(ctx, `
		SELECT status FROM inventory_items WHERE id = $1 FOR UPDATE
	`, id).Scan(&status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: item %s", store.ErrNotFound, id)
		}
		return nil, err
	}
	if status == domain.ItemStatusSold {
		return nil, fmt.Errorf("%w: item %s", store.ErrImmutable, id)
	}
	if !domain.AllowedTransition(status, to, false) {
		return nil, fmt.Errorf("%w: item %s is %s, cannot move to %s", store.ErrConflict, id, status, to)
	}

	updated, err := scanItem(tx.QueryRowContext(ctx, `
		UPDATE inventory_items
		SET status = $2, updated_at = now()
		WHERE id = $1
		RETURNING `+itemColumns+`
	`, id, to))
	if err != nil {
		return nil, err
	}

	if err := insertMovement(ctx, tx, domain.StockMovement{
		InventoryID: id,
		Type:        domain.MovementAdjusted,
		Quantity:    decimal.Zero,
		Note:        note,
		CreatedAt:   time.Now().UTC(),
	}); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &updated, nil
}

// CreateBill flips every referenced item AVAILABLE -> SOLD and persists the
// bill with its lines in one serializable transaction. Any line failing the
// status check aborts the whole bill.
func (s *Store) CreateBill(ctx context.Context, bill domain.Bill) (*domain.Bill, error) {
	if len(bill.Items) == 0 || strings.TrimSpace(bill.CustomerName) == "" {
		return nil, store.ErrValidation
	}

	referenced := make([]string, 0, len(bill.Items))
	seen := make(map[string]struct{}, len(bill.Items))
	for _, line := range bill.Items {
		if line.InventoryID == "" {
			continue
		}
		if _, dup := seen[line.InventoryID]; dup {
			return nil, fmt.Errorf("%w: item %s referenced twice", store.ErrValidation, line.InventoryID)
		}
		seen[line.InventoryID] = struct{}{}
		referenced = append(referenced, line.InventoryID)
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

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	if len(referenced) > 0 {
		rows, err := tx.QueryContext(ctx, `
			SELECT id, status
			FROM inventory_items
			WHERE id = ANY($1)
			FOR UPDATE
		`, referenced)
		if err != nil {
			return nil, err
		}
		statuses := make(map[string]string, len(referenced))
		for rows.Next() {
			var id, status string
			if err := rows.Scan(&id, &status); err != nil {
				_ = rows.Close()
				return nil, err
			}
			statuses[id] = status
		}
		if err := rows.Err(); err != nil {
			_ = rows.Close()
			return nil, err
		}
		_ = rows.Close()

		for _, id := range referenced {
			status, ok := statuses[id]
			if !ok {
				return nil, fmt.Errorf("%w: item %s", store.ErrNotFound, id)
			}
			if status != domain.ItemStatusAvailable {
				return nil, fmt.Errorf("%w: item %s is %s", store.ErrConflict, id, status)
			}
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO bills (
			id, bill_number, customer_name, customer_phone, customer_gstin, bill_date,
			subtotal, cgst_rate, sgst_rate, cgst_amount, sgst_amount, rounded_off,
			total_amount, status, created_at, reversed_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,NULL)
	`, bill.ID, bill.BillNumber, bill.CustomerName, bill.CustomerPhone, bill.CustomerGSTIN, bill.BillDate,
		bill.Subtotal, bill.CGSTRate, bill.SGSTRate, bill.CGSTAmount, bill.SGSTAmount, bill.RoundedOff,
		bill.TotalAmount, bill.Status, bill.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: %s", store.ErrBillNumberTaken, bill.BillNumber)
		}
		return nil, err
	}

	for i := range bill.Items {
		if bill.Items[i].ID == "" {
			bill.Items[i].ID = xid.New("line")
		}
		bill.Items[i].BillID = bill.ID
		line := bill.Items[i]
		_, err := tx.ExecContext(ctx, `
			INSERT INTO bill_items (
				id, bill_id, inventory_id, product_name, description, hsn_code,
				quantity, rate, amount
			)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		`, line.ID, line.BillID, nullIfEmpty(line.InventoryID), line.ProductName, line.Description,
			line.HSNCode, line.Quantity, line.Rate, line.Amount)
		if err != nil {
			return nil, err
		}
	}

	for _, id := range referenced {
		_, err := tx.ExecContext(ctx, `
			UPDATE inventory_items
			SET status = $2, updated_at = $3
			WHERE id = $1
		`, id, domain.ItemStatusSold, now)
		if err != nil {
			return nil, err
		}
		if err := insertMovement(ctx, tx, domain.StockMovement{
			InventoryID: id,
			Type:        domain.MovementSold,
			BillID:      bill.ID,
			Quantity:    decimal.NewFromInt(1),
			Note:        "sold on bill " + bill.BillNumber,
			CreatedAt:   now,
		}); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	created := bill
	return &created, nil
}

const billColumns = `
	id, bill_number, customer_name, COALESCE(customer_phone,''), COALESCE(customer_gstin,''),
	bill_date, subtotal, cgst_rate, sgst_rate, cgst_amount, sgst_amount, rounded_off,
	total_amount, status, created_at, reversed_at
`

func scanBill(row interface{ Scan(...any) error }) (domain.Bill, error) {
	var bill domain.Bill
	var reversedAt sql.NullTime
	err := row.Scan(
		&bill.ID,
		&bill.BillNumber,
		&bill.CustomerName,
		&bill.CustomerPhone,
		&bill.CustomerGSTIN,
		&bill.BillDate,
		&bill.Subtotal,
		&bill.CGSTRate,
		&bill.SGSTRate,
		&bill.CGSTAmount,
		&bill.SGSTAmount,
		&bill.RoundedOff,
		&bill.TotalAmount,
		&bill.Status,
		&bill.CreatedAt,
		&reversedAt,
	)
	if err != nil {
		return bill, err
	}
	bill.BillDate = bill.BillDate.UTC()
	bill.CreatedAt = bill.CreatedAt.UTC()
	if reversedAt.Valid {
		at := reversedAt.Time.UTC()
		bill.ReversedAt = &at
	}
	return bill, nil
}

func (s *Store) loadBillItems(ctx context.Context, billID string) ([]domain.BillItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, bill_id, COALESCE(inventory_id,''), product_name, COALESCE(description,''),
			COALESCE(hsn_code,''), quantity, rate, amount
		FROM bill_items
		WHERE bill_id = $1
		ORDER BY id
	`, billID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.BillItem, 0, 8)
	for rows.Next() {
		var line domain.BillItem
		if err := rows.Scan(&line.ID, &line.BillID, &line.InventoryID, &line.ProductName,
			&line.Description, &line.HSNCode, &line.Quantity, &line.Rate, &line.Amount); err != nil {
			return nil, err
		}
		items = append(items, line)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) GetBill(ctx context.Context, id string) (*domain.Bill, error) {
	bill, err := scanBill(s.db.QueryRowContext(ctx, `
		SELECT `+billColumns+`
		FROM bills
		WHERE id = $1
	`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: bill %s", store.ErrNotFound, id)
		}
		return nil, err
	}

	bill.Items, err = s.loadBillItems(ctx, id)
	if err != nil {
		return nil, err
	}
	return &bill, nil
}

func (s *Store) ListBills(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.Bill, error) {
	if limit < 1 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+billColumns+`
		FROM bills
		WHERE ($1::timestamptz IS NULL OR bill_date >= $1)
			AND ($2::timestamptz IS NULL OR bill_date < $2)
		ORDER BY created_at DESC
		LIMIT $3
	`, nullTimeArg(from), nullTimeArg(to), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	bills := make([]domain.Bill, 0, limit)
	for rows.Next() {
		bill, err := scanBill(rows)
		if err != nil {
			return nil, err
		}
		bills = append(bills, bill)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return bills, nil
}

// ReverseBill restores every stock-backed line SOLD -> AVAILABLE and marks
// the bill REVERSED, all or nothing. A serial reclaimed by a newer active
// item fails the whole reversal. Unknown bills and already-reversed bills
// come back with performed=false and no error.
func (s *Store) ReverseBill(ctx context.Context, id string, at time.Time) (*domain.Bill, bool, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, false, err
	}
	defer func() { _ = tx.Rollback() }()

	bill, err := scanBill(tx.QueryRowContext(ctx, `
		SELECT `+billColumns+`
		FROM bills
		WHERE id = $1
		FOR UPDATE
	`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, err
	}
	if bill.Status == domain.BillStatusReversed {
		items, err := s.loadBillItems(ctx, id)
		if err != nil {
			return nil, false, err
		}
		bill.Items = items
		return &bill, false, nil
	}

	rows, err := tx.QueryContext(ctx, `
		SELECT i.id, i.category_id, i.category_item_no, i.status
		FROM bill_items bi
		JOIN inventory_items i ON i.id = bi.inventory_id
		WHERE bi.bill_id = $1
		FOR UPDATE OF i
	`, id)
	if err != nil {
		return nil, false, err
	}
	type soldItem struct {
		id         string
		categoryID string
		no         int
	}
	sold := make([]soldItem, 0, 8)
	for rows.Next() {
		var it soldItem
		var status string
		if err := rows.Scan(&it.id, &it.categoryID, &it.no, &status); err != nil {
			_ = rows.Close()
			return nil, false, err
		}
		if status != domain.ItemStatusSold {
			_ = rows.Close()
			return nil, false, fmt.Errorf("%w: item %s is %s, expected SOLD", store.ErrConflict, it.id, status)
		}
		sold = append(sold, it)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, false, err
	}
	_ = rows.Close()

	for _, it := range sold {
		var taken bool
		err := tx.QueryRowContext(ctx, `
			SELECT EXISTS(
				SELECT 1 FROM inventory_items
				WHERE category_id = $1 AND category_item_no = $2 AND id <> $3
					AND status IN `+activeStatuses+`
			)
		`, it.categoryID, it.no, it.id).Scan(&taken)
		if err != nil {
			return nil, false, err
		}
		if taken {
			return nil, false, fmt.Errorf("%w: serial %d in category %s was reused; reversal of bill %s rejected",
				store.ErrConflict, it.no, it.categoryID, id)
		}
	}

	for _, it := range sold {
		_, err := tx.ExecContext(ctx, `
			UPDATE inventory_items
			SET status = $2, updated_at = $3
			WHERE id = $1
		`, it.id, domain.ItemStatusAvailable, at)
		if err != nil {
			if isUniqueViolation(err) {
				return nil, false, fmt.Errorf("%w: serial %d in category %s was reused; reversal of bill %s rejected",
					store.ErrConflict, it.no, it.categoryID, id)
			}
			return nil, false, err
		}
		if err := insertMovement(ctx, tx, domain.StockMovement{
			InventoryID: it.id,
			Type:        domain.MovementReversed,
			BillID:      bill.ID,
			Quantity:    decimal.NewFromInt(1),
			Note:        "reversal of bill " + bill.BillNumber,
			CreatedAt:   at,
		}); err != nil {
			return nil, false, err
		}
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE bills
		SET status = $2, reversed_at = $3
		WHERE id = $1
	`, id, domain.BillStatusReversed, at)
	if err != nil {
		return nil, false, err
	}

	if err := tx.Commit(); err != nil {
		return nil, false, err
	}

	bill.Status = domain.BillStatusReversed
	reversedAt := at
	bill.ReversedAt = &reversedAt
	bill.Items, err = s.loadBillItems(ctx, id)
	if err != nil {
		return nil, false, err
	}
	return &bill, true, nil
}

func (s *Store) NextBillNumber(ctx context.Context, prefix string) (string, error) {
	year := time.Now().UTC().Year()
	head := fmt.Sprintf("%s-%d-", prefix, year)

	var highest int
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(split_part(bill_number, '-', 3)::int), 0)
		FROM bills
		WHERE bill_number LIKE $1 || '%'
	`, head).Scan(&highest)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s%03d", head, highest+1), nil
}

func insertMovement(ctx context.Context, tx *sql.Tx, m domain.StockMovement) error {
	if m.ID == "" {
		m.ID = xid.New("mov")
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO stock_movements (id, inventory_id, type, bill_id, quantity, note, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, m.ID, nullIfEmpty(m.InventoryID), m.Type, nullIfEmpty(m.BillID), m.Quantity, m.Note, m.CreatedAt)
	return err
}

func (s *Store) ListMovements(ctx context.Context, filter domain.MovementFilter) ([]domain.StockMovement, error) {
	limit := filter.Limit
	if limit < 1 {
		limit = 200
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT m.id, COALESCE(m.inventory_id,''), m.type, COALESCE(m.bill_id,''), m.quantity,
			COALESCE(m.note,''), m.created_at
		FROM stock_movements m
		LEFT JOIN inventory_items i ON i.id = m.inventory_id
		WHERE ($1::timestamptz IS NULL OR m.created_at >= $1)
			AND ($2::timestamptz IS NULL OR m.created_at < $2)
			AND ($3 = '' OR i.category_id = $3)
			AND ($4 = '' OR m.inventory_id = $4)
		ORDER BY m.created_at DESC
		LIMIT $5
	`, nullTimeArg(filter.From), nullTimeArg(filter.To), filter.CategoryID, filter.InventoryID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	movements := make([]domain.StockMovement, 0, limit)
	for rows.Next() {
		var m domain.StockMovement
		if err := rows.Scan(&m.ID, &m.InventoryID, &m.Type, &m.BillID, &m.Quantity, &m.Note, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.CreatedAt = m.CreatedAt.UTC()
		movements = append(movements, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return movements, nil
}

func (s *Store) CategorySummary(ctx context.Context) ([]domain.CategorySummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.name,
			COUNT(i.id)::int,
			COALESCE(SUM(CASE WHEN i.status IN `+activeStatuses+` THEN 1 ELSE 0 END),0)::int,
			COALESCE(SUM(CASE WHEN i.status = 'SOLD' THEN 1 ELSE 0 END),0)::int,
			COALESCE(SUM(CASE WHEN i.status IN `+activeStatuses+` THEN i.gross_weight ELSE 0 END),0),
			COALESCE(SUM(CASE WHEN i.status IN `+activeStatuses+` THEN i.net_weight ELSE 0 END),0)
		FROM categories c
		LEFT JOIN inventory_items i ON i.category_id = c.id
		GROUP BY c.id, c.name
		ORDER BY c.name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	summaries := make([]domain.CategorySummary, 0, 16)
	for rows.Next() {
		var s domain.CategorySummary
		if err := rows.Scan(&s.CategoryID, &s.CategoryName, &s.TotalItems, &s.AvailableItems,
			&s.SoldItems, &s.AvailableGrossWeight, &s.AvailableNetWeight); err != nil {
			return nil, err
		}
		summaries = append(summaries, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return summaries, nil
}

func (s *Store) TotalSummary(ctx context.Context) (domain.TotalSummary, error) {
	var total domain.TotalSummary
	err := s.db.QueryRowContext(ctx, `
		SELECT
			COALESCE(SUM(CASE WHEN status IN `+activeStatuses+` THEN 1 ELSE 0 END),0)::int,
			COALESCE(SUM(CASE WHEN status = 'SOLD' THEN 1 ELSE 0 END),0)::int,
			COALESCE(SUM(CASE WHEN status IN `+activeStatuses+` THEN gross_weight ELSE 0 END),0),
			COALESCE(SUM(CASE WHEN status IN `+activeStatuses+` THEN net_weight ELSE 0 END),0)
		FROM inventory_items
	`).Scan(&total.TotalAvailableItems, &total.TotalSoldItems,
		&total.TotalAvailableGrossWeight, &total.TotalAvailableNetWeight)
	return total, err
}

func (s *Store) SalesSummary(ctx context.Context, from time.Time, to time.Time) (domain.SalesSummary, error) {
	var summary domain.SalesSummary
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*)::int,
			COALESCE(SUM(subtotal),0),
			COALESCE(SUM(cgst_amount),0),
			COALESCE(SUM(sgst_amount),0),
			COALESCE(SUM(total_amount),0)
		FROM bills
		WHERE status = $1
			AND ($2::timestamptz IS NULL OR bill_date >= $2)
			AND ($3::timestamptz IS NULL OR bill_date < $3)
	`, domain.BillStatusGenerated, nullTimeArg(from), nullTimeArg(to)).Scan(
		&summary.BillCount, &summary.Subtotal, &summary.CGSTAmount, &summary.SGSTAmount, &summary.Total)
	return summary, err
}

func (s *Store) ListSoldItems(ctx context.Context, limit int) ([]domain.SoldItem, error) {
	if limit < 1 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT i.id, c.name, i.category_item_no, i.product_name, i.gross_weight, i.net_weight,
			b.bill_number, b.bill_date, b.customer_name, i.updated_at
		FROM bill_items bi
		JOIN bills b ON b.id = bi.bill_id AND b.status = $1
		JOIN inventory_items i ON i.id = bi.inventory_id AND i.status = 'SOLD'
		JOIN categories c ON c.id = i.category_id
		ORDER BY i.updated_at DESC
		LIMIT $2
	`, domain.BillStatusGenerated, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.SoldItem, 0, limit)
	for rows.Next() {
		var it domain.SoldItem
		if err := rows.Scan(&it.ItemID, &it.CategoryName, &it.CategoryItemNo, &it.ProductName,
			&it.GrossWeight, &it.NetWeight, &it.BillNumber, &it.BillDate, &it.CustomerName, &it.SoldAt); err != nil {
			return nil, err
		}
		it.BillDate = it.BillDate.UTC()
		it.SoldAt = it.SoldAt.UTC()
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) CategoryExportRows(ctx context.Context, categoryID string) ([]domain.CategoryExportRow, error) {
	var exists bool
	if err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM categories WHERE id = $1)`, categoryID).Scan(&exists); err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("%w: category %s", store.ErrNotFound, categoryID)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT i.category_item_no, i.product_name, i.gross_weight, i.net_weight,
			COALESCE(sup.code,''), i.created_at
		FROM inventory_items i
		LEFT JOIN suppliers sup ON sup.id = i.supplier_id
		WHERE i.category_id = $1 AND i.status IN `+activeStatuses+`
		ORDER BY i.category_item_no
	`, categoryID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.CategoryExportRow, 0, 64)
	for rows.Next() {
		var row domain.CategoryExportRow
		if err := rows.Scan(&row.CategoryItemNo, &row.ProductName, &row.GrossWeight,
			&row.NetWeight, &row.SupplierCode, &row.AddedAt); err != nil {
			return nil, err
		}
		row.AddedAt = row.AddedAt.UTC()
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullTimeArg(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
