package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/warp/supply-ledger/ledger"
)

type returnRow struct {
	ID         int64  `db:"id"`
	PharmacyID int64  `db:"pharmacy_id"`
	OrderID    int64  `db:"order_id"`
	Reason     string `db:"reason"`
	Status     string `db:"status"`
	TotalPrice int64  `db:"total_price"`
	CreatedAt  string `db:"created_at"`
	UpdatedAt  string `db:"updated_at"`
}

func (r returnRow) toDomain() ledger.Return {
	return ledger.Return{
		ID:         r.ID,
		PharmacyID: r.PharmacyID,
		OrderID:    r.OrderID,
		Reason:     r.Reason,
		Status:     ledger.ReturnStatus(r.Status),
		TotalPrice: fromMinor(r.TotalPrice),
		CreatedAt:  parseTime(r.CreatedAt),
		UpdatedAt:  parseTime(r.UpdatedAt),
	}
}

type returnItemRow struct {
	ID          int64  `db:"id"`
	ReturnID    int64  `db:"return_id"`
	OrderItemID int64  `db:"order_item_id"`
	ProductID   int64  `db:"product_id"`
	ProductName string `db:"product_name"`
	Quantity    int64  `db:"quantity"`
	UnitPrice   int64  `db:"unit_price"`
	Subtotal    int64  `db:"subtotal"`
}

func (r returnItemRow) toDomain() ledger.ReturnItem {
	return ledger.ReturnItem{
		ID:          r.ID,
		ReturnID:    r.ReturnID,
		OrderItemID: r.OrderItemID,
		ProductID:   r.ProductID,
		ProductName: r.ProductName,
		Quantity:    r.Quantity,
		UnitPrice:   fromMinor(r.UnitPrice),
		Subtotal:    fromMinor(r.Subtotal),
	}
}

const (
	returnCols     = `id, pharmacy_id, order_id, reason, status, total_price, created_at, updated_at`
	returnItemCols = `ri.id, ri.return_id, ri.order_item_id, ri.product_id, p.name AS product_name,
		ri.quantity, ri.unit_price, ri.subtotal`
)

// =============================================================================
// RETURNS (ledger.ReturnStore)
// =============================================================================

func (q queries) InsertReturn(ctx context.Context, r *ledger.Return) error {
	total, err := toMinor(r.TotalPrice)
	if err != nil {
		return err
	}
	res, err := sqlx.NamedExecContext(ctx, q.ext, `
		INSERT INTO returns (pharmacy_id, order_id, reason, status, total_price, created_at, updated_at)
		VALUES (:pharmacy_id, :order_id, :reason, :status, :total_price, :created_at, :updated_at)`,
		returnRow{
			PharmacyID: r.PharmacyID,
			OrderID:    r.OrderID,
			Reason:     r.Reason,
			Status:     string(r.Status),
			TotalPrice: total,
			CreatedAt:  formatTime(r.CreatedAt),
			UpdatedAt:  formatTime(r.UpdatedAt),
		})
	if err != nil {
		return fmt.Errorf("insert return: %w", err)
	}
	if r.ID, err = res.LastInsertId(); err != nil {
		return err
	}

	for i := range r.Items {
		it := &r.Items[i]
		price, err := toMinor(it.UnitPrice)
		if err != nil {
			return err
		}
		subtotal, err := toMinor(it.Subtotal)
		if err != nil {
			return err
		}
		it.ReturnID = r.ID
		res, err := sqlx.NamedExecContext(ctx, q.ext, `
			INSERT INTO return_items (return_id, order_item_id, product_id, quantity, unit_price, subtotal)
			VALUES (:return_id, :order_item_id, :product_id, :quantity, :unit_price, :subtotal)`,
			returnItemRow{
				ReturnID:    it.ReturnID,
				OrderItemID: it.OrderItemID,
				ProductID:   it.ProductID,
				Quantity:    it.Quantity,
				UnitPrice:   price,
				Subtotal:    subtotal,
			})
		if err != nil {
			return fmt.Errorf("insert return item: %w", err)
		}
		if it.ID, err = res.LastInsertId(); err != nil {
			return err
		}
	}
	return nil
}

func (q queries) GetReturn(ctx context.Context, id int64) (*ledger.Return, error) {
	var row returnRow
	err := sqlx.GetContext(ctx, q.ext, &row, `SELECT `+returnCols+` FROM returns WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d", ledger.ErrReturnNotFound, id)
	}
	if err != nil {
		return nil, err
	}

	items, err := q.returnItems(ctx, []int64{id})
	if err != nil {
		return nil, err
	}
	r := row.toDomain()
	r.Items = items[id]
	return &r, nil
}

func (q queries) returnItems(ctx context.Context, returnIDs []int64) (map[int64][]ledger.ReturnItem, error) {
	out := make(map[int64][]ledger.ReturnItem, len(returnIDs))
	if len(returnIDs) == 0 {
		return out, nil
	}

	query, args, err := sqlx.In(`
		SELECT `+returnItemCols+`
		FROM return_items ri JOIN products p ON p.id = ri.product_id
		WHERE ri.return_id IN (?)
		ORDER BY ri.id`, returnIDs)
	if err != nil {
		return nil, err
	}

	var rows []returnItemRow
	if err := sqlx.SelectContext(ctx, q.ext, &rows, q.ext.Rebind(query), args...); err != nil {
		return nil, err
	}
	for _, r := range rows {
		out[r.ReturnID] = append(out[r.ReturnID], r.toDomain())
	}
	return out, nil
}

func (q queries) ListReturns(ctx context.Context, f ledger.ReturnFilter) ([]ledger.Return, int, error) {
	w := &where{}
	if f.PharmacyID != 0 {
		w.add("pharmacy_id = ?", f.PharmacyID)
	}
	if f.OrderID != 0 {
		w.add("order_id = ?", f.OrderID)
	}
	if f.Status != "" {
		w.add("status = ?", string(f.Status))
	}
	w.timeRange("created_at", f.TimeRange)

	var rows []returnRow
	total, err := q.page(ctx, &rows,
		`SELECT `+returnCols+` FROM returns`,
		`SELECT COUNT(*) FROM returns`,
		"created_at DESC, id DESC", w, f.PageRequest)
	if err != nil {
		return nil, 0, err
	}

	ids := make([]int64, len(rows))
	for i, r := range rows {
		ids[i] = r.ID
	}
	items, err := q.returnItems(ctx, ids)
	if err != nil {
		return nil, 0, err
	}

	out := make([]ledger.Return, len(rows))
	for i, r := range rows {
		out[i] = r.toDomain()
		out[i].Items = items[r.ID]
	}
	return out, total, nil
}

func (q queries) SetReturnStatus(ctx context.Context, id int64, from, to ledger.ReturnStatus, at time.Time) (bool, error) {
	res, err := q.ext.ExecContext(ctx,
		`UPDATE returns SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		string(to), formatTime(at), id, string(from))
	if err != nil {
		return false, err
	}
	return affected(res)
}

func (q queries) DeleteReturn(ctx context.Context, id int64) error {
	res, err := q.ext.ExecContext(ctx, `DELETE FROM returns WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete return: %w", err)
	}
	ok, err := affected(res)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %d", ledger.ErrReturnNotFound, id)
	}
	return nil
}
