package recon

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mensa-erp/mensa-erp/internal/platform/db"
)

// ItemCountUpdate is the persisted part of a count-line write.
type ItemCountUpdate struct {
	ActualQty float64
	Notes     *string
	CountedBy int64
	CountedAt time.Time
}

// TxRepository exposes the writes available inside a transaction.
type TxRepository interface {
	GetInventoryForUpdate(ctx context.Context, id int64) (Inventory, error)
	GetItemForUpdate(ctx context.Context, itemID int64) (Item, error)
	InsertInventory(ctx context.Context, inv Inventory) (int64, error)
	InsertItems(ctx context.Context, inventoryID int64, items []Item) error
	UpdateStatusIf(ctx context.Context, id int64, from, to Status, updates map[string]any) error
	UpdateItemCount(ctx context.Context, itemID int64, update ItemCountUpdate) (Item, error)
	SetAdjustmentDocuments(ctx context.Context, inventoryID int64, documentIDs []int64) error
	DeleteInventory(ctx context.Context, id int64) error
}

// Repository persists inventories in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// WithTx runs fn inside a REPEATABLE READ transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

const inventoryColumns = `id, number, warehouse_id, date, status, responsible_person_id, notes, created_by, approved_by, approved_at, adjustment_document_ids, created_at, updated_at`

const itemColumns = `id, inventory_id, product_id, expected_qty, actual_qty, price, notes, counted_by, counted_at, version, created_at, updated_at`

type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func scanInventory(row pgx.Row) (Inventory, error) {
	var inv Inventory
	var status string
	err := row.Scan(&inv.ID, &inv.Number, &inv.WarehouseID, &inv.Date, &status,
		&inv.ResponsiblePersonID, &inv.Notes, &inv.CreatedBy, &inv.ApprovedBy,
		&inv.ApprovedAt, &inv.AdjustmentDocumentIDs, &inv.CreatedAt, &inv.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Inventory{}, ErrNotFound
		}
		return Inventory{}, err
	}
	inv.Status = Status(status)
	return inv, nil
}

func scanItem(row pgx.Row) (Item, error) {
	var item Item
	err := row.Scan(&item.ID, &item.InventoryID, &item.ProductID, &item.ExpectedQty,
		&item.ActualQty, &item.Price, &item.Notes, &item.CountedBy, &item.CountedAt, &item.Version,
		&item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Item{}, ErrItemNotFound
		}
		return Item{}, err
	}
	return item, nil
}

func getInventory(ctx context.Context, q rowQuerier, id int64, forUpdate bool) (Inventory, error) {
	query := `SELECT ` + inventoryColumns + ` FROM inventories WHERE id=$1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	return scanInventory(q.QueryRow(ctx, query, id))
}

// GetInventory returns one inventory header by id.
func (r *Repository) GetInventory(ctx context.Context, id int64) (Inventory, error) {
	return getInventory(ctx, r.pool, id, false)
}

// GetInventoryItems returns the count lines ordered by product.
func (r *Repository) GetInventoryItems(ctx context.Context, inventoryID int64) ([]Item, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+itemColumns+` FROM inventory_items WHERE inventory_id=$1 ORDER BY product_id`, inventoryID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := make([]Item, 0)
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// GetItem returns one count line by id.
func (r *Repository) GetItem(ctx context.Context, itemID int64) (Item, error) {
	return scanItem(r.pool.QueryRow(ctx, `SELECT `+itemColumns+` FROM inventory_items WHERE id=$1`, itemID))
}

// ListInventories returns headers matching the filter, newest first, plus
// the unpaged total.
func (r *Repository) ListInventories(ctx context.Context, filter ListFilter) ([]Inventory, int, error) {
	where := []string{"1=1"}
	args := []any{}
	idx := 1
	if filter.WarehouseID != nil {
		where = append(where, fmt.Sprintf("warehouse_id=$%d", idx))
		args = append(args, *filter.WarehouseID)
		idx++
	}
	if filter.Status != nil {
		where = append(where, fmt.Sprintf("status=$%d", idx))
		args = append(args, string(*filter.Status))
		idx++
	}
	if !filter.From.IsZero() {
		where = append(where, fmt.Sprintf("date >= $%d", idx))
		args = append(args, filter.From)
		idx++
	}
	if !filter.To.IsZero() {
		where = append(where, fmt.Sprintf("date <= $%d", idx))
		args = append(args, filter.To)
		idx++
	}
	cond := strings.Join(where, " AND ")

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM inventories WHERE `+cond, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	query := fmt.Sprintf(`SELECT %s FROM inventories WHERE %s ORDER BY date DESC, id DESC LIMIT $%d OFFSET $%d`,
		inventoryColumns, cond, idx, idx+1)
	args = append(args, limit, filter.Offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	list := make([]Inventory, 0)
	for rows.Next() {
		inv, err := scanInventory(rows)
		if err != nil {
			return nil, 0, err
		}
		list = append(list, inv)
	}
	return list, total, rows.Err()
}

// NextNumber issues the next document number for the given date's year.
func (r *Repository) NextNumber(ctx context.Context, date time.Time) (string, error) {
	var seq int64
	if err := r.pool.QueryRow(ctx, `SELECT nextval('inventory_number_seq')`).Scan(&seq); err != nil {
		return "", err
	}
	return fmt.Sprintf("INV-%d-%06d", date.Year(), seq), nil
}

type txRepository struct {
	tx pgx.Tx
}

func (r *txRepository) GetInventoryForUpdate(ctx context.Context, id int64) (Inventory, error) {
	return getInventory(ctx, r.tx, id, true)
}

func (r *txRepository) GetItemForUpdate(ctx context.Context, itemID int64) (Item, error) {
	return scanItem(r.tx.QueryRow(ctx, `SELECT `+itemColumns+` FROM inventory_items WHERE id=$1 FOR UPDATE`, itemID))
}

func (r *txRepository) InsertInventory(ctx context.Context, inv Inventory) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO inventories
(number, warehouse_id, date, status, responsible_person_id, notes, created_by, adjustment_document_ids, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, '{}', NOW(), NOW())
RETURNING id`,
		inv.Number, inv.WarehouseID, inv.Date, string(inv.Status),
		inv.ResponsiblePersonID, inv.Notes, inv.CreatedBy).Scan(&id)
	return id, err
}

func (r *txRepository) InsertItems(ctx context.Context, inventoryID int64, items []Item) error {
	batch := &pgx.Batch{}
	for _, item := range items {
		batch.Queue(`INSERT INTO inventory_items (inventory_id, product_id, expected_qty, price, version, created_at, updated_at)
VALUES ($1, $2, $3, $4, 1, NOW(), NOW())`, inventoryID, item.ProductID, item.ExpectedQty, item.Price)
	}
	return r.tx.SendBatch(ctx, batch).Close()
}

// statusUpdateColumns whitelists the extra columns a transition may stamp.
var statusUpdateColumns = []string{"approved_by", "approved_at"}

func (r *txRepository) UpdateStatusIf(ctx context.Context, id int64, from, to Status, updates map[string]any) error {
	set := []string{"status=$1", "updated_at=NOW()"}
	args := []any{string(to)}
	idx := 2
	for _, col := range statusUpdateColumns {
		if v, ok := updates[col]; ok {
			set = append(set, fmt.Sprintf("%s=$%d", col, idx))
			args = append(args, v)
			idx++
		}
	}
	args = append(args, id, string(from))
	query := fmt.Sprintf(`UPDATE inventories SET %s WHERE id=$%d AND status=$%d`, strings.Join(set, ", "), idx, idx+1)
	tag, err := r.tx.Exec(ctx, query, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrInvalidState
	}
	return nil
}

func (r *txRepository) UpdateItemCount(ctx context.Context, itemID int64, update ItemCountUpdate) (Item, error) {
	return scanItem(r.tx.QueryRow(ctx, `UPDATE inventory_items
SET actual_qty=$1, notes=$2, counted_by=$3, counted_at=$4, version=version+1, updated_at=NOW()
WHERE id=$5
RETURNING `+itemColumns, update.ActualQty, update.Notes, update.CountedBy, update.CountedAt, itemID))
}

func (r *txRepository) SetAdjustmentDocuments(ctx context.Context, inventoryID int64, documentIDs []int64) error {
	tag, err := r.tx.Exec(ctx, `UPDATE inventories SET adjustment_document_ids=$1, updated_at=NOW() WHERE id=$2`, documentIDs, inventoryID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *txRepository) DeleteInventory(ctx context.Context, id int64) error {
	if _, err := r.tx.Exec(ctx, `DELETE FROM inventory_items WHERE inventory_id=$1`, id); err != nil {
		return err
	}
	tag, err := r.tx.Exec(ctx, `DELETE FROM inventories WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
