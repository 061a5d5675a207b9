package documents

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

// TxRepository exposes the writes available inside a transaction.
type TxRepository interface {
	GetForUpdate(ctx context.Context, id int64) (Document, error)
	Insert(ctx context.Context, doc Document) (int64, error)
	InsertLines(ctx context.Context, documentID int64, lines []Line) error
	UpdateStatusIf(ctx context.Context, id int64, from, to Status, approvedBy *int64, approvedAt *time.Time) error
}

// Repository persists documents in PostgreSQL.
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

const documentColumns = `id, number, doc_type, warehouse_id, dst_warehouse_id, status, note, ref_module, ref_id, created_by, approved_by, approved_at, created_at, updated_at`

func scanDocument(row pgx.Row) (Document, error) {
	var doc Document
	var docType, status string
	var refModule, refID *string
	err := row.Scan(&doc.ID, &doc.Number, &docType, &doc.WarehouseID, &doc.DstWarehouseID,
		&status, &doc.Note, &refModule, &refID, &doc.CreatedBy, &doc.ApprovedBy, &doc.ApprovedAt,
		&doc.CreatedAt, &doc.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Document{}, ErrNotFound
		}
		return Document{}, err
	}
	doc.Type = Type(docType)
	doc.Status = Status(status)
	if refModule != nil {
		doc.RefModule = *refModule
	}
	if refID != nil {
		doc.RefID = *refID
	}
	return doc, nil
}

// Get returns one document header by id.
func (r *Repository) Get(ctx context.Context, id int64) (Document, error) {
	return scanDocument(r.pool.QueryRow(ctx, `SELECT `+documentColumns+` FROM documents WHERE id=$1`, id))
}

// GetLines returns the document lines ordered by product.
func (r *Repository) GetLines(ctx context.Context, documentID int64) ([]Line, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, document_id, product_id, qty, price
FROM document_lines WHERE document_id=$1 ORDER BY product_id`, documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	lines := make([]Line, 0)
	for rows.Next() {
		var line Line
		if err := rows.Scan(&line.ID, &line.DocumentID, &line.ProductID, &line.Qty, &line.Price); err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}
	return lines, rows.Err()
}

// List returns documents matching the filter, newest first, plus the
// unpaged total.
func (r *Repository) List(ctx context.Context, filter ListFilter) ([]Document, int, error) {
	where := []string{"1=1"}
	args := []any{}
	idx := 1
	if filter.WarehouseID != nil {
		where = append(where, fmt.Sprintf("warehouse_id=$%d", idx))
		args = append(args, *filter.WarehouseID)
		idx++
	}
	if filter.Type != nil {
		where = append(where, fmt.Sprintf("doc_type=$%d", idx))
		args = append(args, string(*filter.Type))
		idx++
	}
	if filter.Status != nil {
		where = append(where, fmt.Sprintf("status=$%d", idx))
		args = append(args, string(*filter.Status))
		idx++
	}
	if filter.RefModule != "" {
		where = append(where, fmt.Sprintf("ref_module=$%d", idx))
		args = append(args, filter.RefModule)
		idx++
	}
	if filter.RefID != "" {
		where = append(where, fmt.Sprintf("ref_id=$%d", idx))
		args = append(args, filter.RefID)
		idx++
	}
	cond := strings.Join(where, " AND ")

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM documents WHERE `+cond, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	query := fmt.Sprintf(`SELECT %s FROM documents WHERE %s ORDER BY id DESC LIMIT $%d OFFSET $%d`,
		documentColumns, cond, idx, idx+1)
	args = append(args, limit, filter.Offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	list := make([]Document, 0)
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, 0, err
		}
		list = append(list, doc)
	}
	return list, total, rows.Err()
}

// NextNumber issues the next document number for one type.
func (r *Repository) NextNumber(ctx context.Context, docType Type, date time.Time) (string, error) {
	var seq int64
	if err := r.pool.QueryRow(ctx, `SELECT nextval('document_number_seq')`).Scan(&seq); err != nil {
		return "", err
	}
	prefix := map[Type]string{TypeReceipt: "RCP", TypeWriteoff: "WO", TypeTransfer: "TRF"}[docType]
	return fmt.Sprintf("%s-%d-%06d", prefix, date.Year(), seq), nil
}

type txRepository struct {
	tx pgx.Tx
}

func (r *txRepository) GetForUpdate(ctx context.Context, id int64) (Document, error) {
	return scanDocument(r.tx.QueryRow(ctx, `SELECT `+documentColumns+` FROM documents WHERE id=$1 FOR UPDATE`, id))
}

func (r *txRepository) Insert(ctx context.Context, doc Document) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO documents
(number, doc_type, warehouse_id, dst_warehouse_id, status, note, ref_module, ref_id, created_by, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,NOW(),NOW())
RETURNING id`,
		doc.Number, string(doc.Type), doc.WarehouseID, doc.DstWarehouseID, string(doc.Status),
		doc.Note, nullString(doc.RefModule), nullString(doc.RefID), doc.CreatedBy).Scan(&id)
	return id, err
}

func (r *txRepository) InsertLines(ctx context.Context, documentID int64, lines []Line) error {
	batch := &pgx.Batch{}
	for _, line := range lines {
		batch.Queue(`INSERT INTO document_lines (document_id, product_id, qty, price) VALUES ($1,$2,$3,$4)`,
			documentID, line.ProductID, line.Qty, line.Price)
	}
	return r.tx.SendBatch(ctx, batch).Close()
}

func (r *txRepository) UpdateStatusIf(ctx context.Context, id int64, from, to Status, approvedBy *int64, approvedAt *time.Time) error {
	tag, err := r.tx.Exec(ctx, `UPDATE documents
SET status=$1, approved_by=COALESCE($2, approved_by), approved_at=COALESCE($3, approved_at), updated_at=NOW()
WHERE id=$4 AND status=$5`, string(to), approvedBy, approvedAt, id, string(from))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrInvalidState
	}
	return nil
}

func nullString(value string) any {
	if value == "" {
		return nil
	}
	return value
}
