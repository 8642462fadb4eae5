package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/shopspring/decimal"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/rl1809/stock-ledger/internal/core/domain"
)

const mysqlDuplicateEntry = 1062

const (
	inventoryColumns = `id, shop_id, product, quantity, unit, batch_ids, updated_at`
	batchColumns     = `id, composite_key, shop_id, product, quantity, unit, purchase_date,
		expiry_date, purchase_price, purchase_value, linked_inventory_id, created_at, updated_at`
)

// SQLAdapter implements the inventory and batch repositories over MySQL or
// SQLite. Both drivers accept the same '?' placeholder statements.
type SQLAdapter struct {
	db  *sql.DB
	now func() time.Time
}

func NewSQLAdapter(db *sql.DB) *SQLAdapter {
	return &SQLAdapter{db: db, now: time.Now}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *SQLAdapter) FindInventory(ctx context.Context, shopID, product string) (*domain.InventoryRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+inventoryColumns+`
		FROM inventory WHERE shop_id = ? AND product = ?`, shopID, product)

	rec, err := scanInventory(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query inventory: %w", err)
	}
	return rec, nil
}

func (s *SQLAdapter) ListInventory(ctx context.Context, shopID string) ([]domain.InventoryRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+inventoryColumns+`
		FROM inventory WHERE shop_id = ? ORDER BY product`, shopID)
	if err != nil {
		return nil, fmt.Errorf("list inventory: %w", err)
	}
	defer rows.Close()

	var out []domain.InventoryRecord
	for rows.Next() {
		rec, err := scanInventory(rows)
		if err != nil {
			return nil, fmt.Errorf("scan inventory: %w", err)
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

func (s *SQLAdapter) CreateInventory(ctx context.Context, rec domain.InventoryRecord) error {
	ids, err := encodeIDs(rec.BatchIDs)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO inventory (`+inventoryColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.ShopID, rec.Product, rec.Quantity.String(), rec.Unit, ids, formatTime(rec.UpdatedAt),
	)
	if isDuplicate(err) {
		return fmt.Errorf("insert inventory %s/%s: %w", rec.ShopID, rec.Product, domain.ErrDuplicate)
	}
	if err != nil {
		return fmt.Errorf("insert inventory: %w", err)
	}
	return nil
}

func (s *SQLAdapter) DeleteInventory(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM inventory WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete inventory: %w", err)
	}
	return nil
}

func (s *SQLAdapter) PatchInventoryBatchIDs(ctx context.Context, id string, batchIDs []string) error {
	ids, err := encodeIDs(batchIDs)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		UPDATE inventory SET batch_ids = ?, updated_at = ? WHERE id = ?`,
		ids, formatTime(s.now()), id,
	)
	if err != nil {
		return fmt.Errorf("patch inventory batch ids: %w", err)
	}
	return nil
}

func (s *SQLAdapter) FindBatchByID(ctx context.Context, id string) (*domain.BatchRecord, error) {
	return s.findBatch(ctx, `id = ?`, id)
}

func (s *SQLAdapter) FindBatchByKey(ctx context.Context, compositeKey string) (*domain.BatchRecord, error) {
	return s.findBatch(ctx, `composite_key = ?`, compositeKey)
}

func (s *SQLAdapter) findBatch(ctx context.Context, where string, arg string) (*domain.BatchRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+batchColumns+` FROM batches WHERE `+where, arg)
	b, err := scanBatch(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query batch: %w", err)
	}
	return b, nil
}

func (s *SQLAdapter) ListBatches(ctx context.Context, shopID, product string) ([]domain.BatchRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+batchColumns+`
		FROM batches WHERE shop_id = ? AND product = ?
		ORDER BY purchase_date DESC, created_at DESC`, shopID, product)
	if err != nil {
		return nil, fmt.Errorf("list batches: %w", err)
	}
	defer rows.Close()

	var out []domain.BatchRecord
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, fmt.Errorf("scan batch: %w", err)
		}
		out = append(out, *b)
	}
	return out, rows.Err()
}

func (s *SQLAdapter) CreateBatch(ctx context.Context, b domain.BatchRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO batches (`+batchColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.ID, b.CompositeKey, b.ShopID, b.Product, b.Quantity.String(), b.Unit,
		b.PurchaseDate.Format(domain.DateLayout), formatDate(b.ExpiryDate), formatDecimal(b.PurchasePrice),
		b.PurchaseValue.String(), b.LinkedInventoryID, formatTime(b.CreatedAt), formatTime(b.UpdatedAt),
	)
	if isDuplicate(err) {
		return fmt.Errorf("insert batch %s: %w", b.CompositeKey, domain.ErrDuplicate)
	}
	if err != nil {
		return fmt.Errorf("insert batch: %w", err)
	}
	return nil
}

func (s *SQLAdapter) PatchBatch(ctx context.Context, id string, patch domain.BatchPatch) error {
	sets := []string{"updated_at = ?"}
	args := []any{formatTime(s.now())}
	if patch.Quantity != nil {
		sets = append(sets, "quantity = ?")
		args = append(args, patch.Quantity.String())
	}
	if patch.PurchaseValue != nil {
		sets = append(sets, "purchase_value = ?")
		args = append(args, patch.PurchaseValue.String())
	}
	if patch.ExpiryDate != nil {
		sets = append(sets, "expiry_date = ?")
		args = append(args, patch.ExpiryDate.Format(domain.DateLayout))
	}
	args = append(args, id)

	result, err := s.db.ExecContext(ctx,
		`UPDATE batches SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		return fmt.Errorf("patch batch: %w", err)
	}

	// MySQL needs clientFoundRows (see MySQLDSN) for this to count matches.
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("patch batch %s: %w", id, domain.ErrLotNotFound)
	}
	return nil
}

func (s *SQLAdapter) DeleteBatch(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM batches WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete batch: %w", err)
	}
	return nil
}

func scanInventory(row rowScanner) (*domain.InventoryRecord, error) {
	var (
		rec       domain.InventoryRecord
		ids       string
		updatedAt string
	)
	if err := row.Scan(&rec.ID, &rec.ShopID, &rec.Product, &rec.Quantity, &rec.Unit, &ids, &updatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(ids), &rec.BatchIDs); err != nil {
		return nil, fmt.Errorf("decode batch ids: %w", err)
	}
	rec.UpdatedAt = parseTime(updatedAt)
	return &rec, nil
}

func scanBatch(row rowScanner) (*domain.BatchRecord, error) {
	var (
		b                    domain.BatchRecord
		purchaseDate         string
		expiry               sql.NullString
		price                decimal.NullDecimal
		createdAt, updatedAt string
	)
	err := row.Scan(&b.ID, &b.CompositeKey, &b.ShopID, &b.Product, &b.Quantity, &b.Unit, &purchaseDate,
		&expiry, &price, &b.PurchaseValue, &b.LinkedInventoryID, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	if b.PurchaseDate, err = time.Parse(domain.DateLayout, purchaseDate); err != nil {
		return nil, fmt.Errorf("decode purchase date: %w", err)
	}
	if expiry.Valid && expiry.String != "" {
		d, err := time.Parse(domain.DateLayout, expiry.String)
		if err != nil {
			return nil, fmt.Errorf("decode expiry date: %w", err)
		}
		b.ExpiryDate = &d
	}
	if price.Valid {
		p := price.Decimal
		b.PurchasePrice = &p
	}
	b.CreatedAt = parseTime(createdAt)
	b.UpdatedAt = parseTime(updatedAt)
	return &b, nil
}

func isDuplicate(err error) bool {
	if err == nil {
		return false
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == mysqlDuplicateEntry
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		code := liteErr.Code()
		return code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
	}
	return false
}

func encodeIDs(ids []string) (string, error) {
	if ids == nil {
		ids = []string{}
	}
	raw, err := json.Marshal(ids)
	if err != nil {
		return "", fmt.Errorf("encode batch ids: %w", err)
	}
	return string(raw), nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func formatDate(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Format(domain.DateLayout)
}

func formatDecimal(d *decimal.Decimal) any {
	if d == nil {
		return nil
	}
	return d.String()
}
