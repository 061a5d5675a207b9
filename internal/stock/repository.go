package stock

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mensa-erp/mensa-erp/internal/platform/db"
)

// Repository persists stock data in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes transactional operations used by service.
type TxRepository interface {
	InsertMovement(ctx context.Context, movement Movement) (int64, error)
	InsertMovementLines(ctx context.Context, movementID int64, lines []MovementLine) error
	GetBalanceForUpdate(ctx context.Context, warehouseID, productID int64) (Balance, error)
	UpsertBalance(ctx context.Context, balance Balance) error
	InsertCardEntry(ctx context.Context, card CardEntry, warehouseID, productID, movementID int64) error
}

type txRepository struct {
	tx pgx.Tx
}

// ErrBalanceNotFound indicates missing balance row.
var ErrBalanceNotFound = errors.New("stock balance not found")

// WithTx executes the callback inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("stock repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

// ListBalances returns every balance of one warehouse in a single query.
func (r *Repository) ListBalances(ctx context.Context, warehouseID int64) ([]Balance, error) {
	if r == nil {
		return nil, errors.New("stock repository not initialised")
	}
	rows, err := r.pool.Query(ctx, `SELECT warehouse_id, product_id, qty, avg_cost, updated_at
FROM stock_balances WHERE warehouse_id=$1 ORDER BY product_id`, warehouseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	balances := []Balance{}
	for rows.Next() {
		var bal Balance
		if err := rows.Scan(&bal.WarehouseID, &bal.ProductID, &bal.Qty, &bal.AvgCost, &bal.UpdatedAt); err != nil {
			return nil, err
		}
		balances = append(balances, bal)
	}
	return balances, rows.Err()
}

// GetStockCard lists card entries for one product in one warehouse.
func (r *Repository) GetStockCard(ctx context.Context, filter CardFilter) ([]CardEntry, error) {
	if r == nil {
		return nil, errors.New("stock repository not initialised")
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 200
	}
	rows, err := r.pool.Query(ctx, `SELECT code, movement_type, posted_at, qty_in, qty_out, balance_qty, unit_cost, balance_cost, note
FROM stock_cards
WHERE warehouse_id=$1 AND product_id=$2 AND posted_at BETWEEN COALESCE($3, '-infinity') AND COALESCE($4, 'infinity')
ORDER BY posted_at ASC, id ASC
LIMIT $5`, filter.WarehouseID, filter.ProductID, nullTime(filter.From), nullTime(filter.To), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	cards := []CardEntry{}
	for rows.Next() {
		var entry CardEntry
		if err := rows.Scan(&entry.Code, &entry.Type, &entry.PostedAt, &entry.QtyIn, &entry.QtyOut, &entry.BalanceQty, &entry.UnitCost, &entry.BalanceCost, &entry.Note); err != nil {
			return nil, err
		}
		cards = append(cards, entry)
	}
	return cards, rows.Err()
}

func (r *txRepository) InsertMovement(ctx context.Context, movement Movement) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO stock_movements (code, movement_type, warehouse_id, ref_module, ref_id, note, posted_at, created_by, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,NOW()) RETURNING id`,
		movement.Code, string(movement.Type), nullInt(movement.WarehouseID), movement.RefModule,
		nullString(movement.RefID), movement.Note, movement.PostedAt, nullInt(movement.CreatedBy)).Scan(&id)
	return id, err
}

func (r *txRepository) InsertMovementLines(ctx context.Context, movementID int64, lines []MovementLine) error {
	for _, line := range lines {
		if _, err := r.tx.Exec(ctx, `INSERT INTO stock_movement_lines (movement_id, product_id, qty, unit_cost, src_warehouse_id, dst_warehouse_id)
VALUES ($1,$2,$3,$4,$5,$6)`, movementID, line.ProductID, line.Qty, line.UnitCost, nullInt(line.SrcWarehouseID), nullInt(line.DstWarehouseID)); err != nil {
			return err
		}
	}
	return nil
}

func (r *txRepository) GetBalanceForUpdate(ctx context.Context, warehouseID, productID int64) (Balance, error) {
	var bal Balance
	err := r.tx.QueryRow(ctx, `SELECT warehouse_id, product_id, qty, avg_cost, updated_at
FROM stock_balances WHERE warehouse_id=$1 AND product_id=$2 FOR UPDATE`, warehouseID, productID).
		Scan(&bal.WarehouseID, &bal.ProductID, &bal.Qty, &bal.AvgCost, &bal.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Balance{WarehouseID: warehouseID, ProductID: productID}, ErrBalanceNotFound
		}
		return Balance{}, err
	}
	return bal, nil
}

func (r *txRepository) UpsertBalance(ctx context.Context, balance Balance) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO stock_balances (warehouse_id, product_id, qty, avg_cost, updated_at)
VALUES ($1,$2,$3,$4,NOW())
ON CONFLICT (warehouse_id, product_id) DO UPDATE SET qty=EXCLUDED.qty, avg_cost=EXCLUDED.avg_cost, updated_at=NOW()`,
		balance.WarehouseID, balance.ProductID, balance.Qty, balance.AvgCost)
	return err
}

func (r *txRepository) InsertCardEntry(ctx context.Context, card CardEntry, warehouseID, productID, movementID int64) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO stock_cards (warehouse_id, product_id, movement_id, code, movement_type, qty_in, qty_out, balance_qty, unit_cost, balance_cost, posted_at, note)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		warehouseID, productID, movementID, card.Code, string(card.Type), card.QtyIn, card.QtyOut, card.BalanceQty, card.UnitCost, card.BalanceCost, card.PostedAt, card.Note)
	return err
}

func nullInt(value int64) any {
	if value == 0 {
		return nil
	}
	return value
}

func nullString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
