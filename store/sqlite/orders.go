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

type orderRow struct {
	ID         int64  `db:"id"`
	PharmacyID int64  `db:"pharmacy_id"`
	Status     string `db:"status"`
	TotalPrice int64  `db:"total_price"`
	CreatedAt  string `db:"created_at"`
	UpdatedAt  string `db:"updated_at"`
}

func (r orderRow) toDomain() ledger.Order {
	return ledger.Order{
		ID:         r.ID,
		PharmacyID: r.PharmacyID,
		Status:     ledger.OrderStatus(r.Status),
		TotalPrice: fromMinor(r.TotalPrice),
		CreatedAt:  parseTime(r.CreatedAt),
		UpdatedAt:  parseTime(r.UpdatedAt),
	}
}

type orderItemRow struct {
	ID                int64  `db:"id"`
	OrderID           int64  `db:"order_id"`
	ProductID         int64  `db:"product_id"`
	ProductName       string `db:"product_name"`
	Quantity          int64  `db:"quantity"`
	UnitPrice         int64  `db:"unit_price"`
	Subtotal          int64  `db:"subtotal"`
	ReservedReturnQty int64  `db:"reserved_return_qty"`
}

func (r orderItemRow) toDomain() ledger.OrderItem {
	return ledger.OrderItem{
		ID:                r.ID,
		OrderID:           r.OrderID,
		ProductID:         r.ProductID,
		ProductName:       r.ProductName,
		Quantity:          r.Quantity,
		UnitPrice:         fromMinor(r.UnitPrice),
		Subtotal:          fromMinor(r.Subtotal),
		ReservedReturnQty: r.ReservedReturnQty,
	}
}

const (
	orderCols     = `id, pharmacy_id, status, total_price, created_at, updated_at`
	orderItemCols = `oi.id, oi.order_id, oi.product_id, p.name AS product_name, oi.quantity,
		oi.unit_price, oi.subtotal, oi.reserved_return_qty`
)

// =============================================================================
// ORDERS (ledger.OrderStore)
// =============================================================================

func (q queries) InsertOrder(ctx context.Context, o *ledger.Order) error {
	total, err := toMinor(o.TotalPrice)
	if err != nil {
		return err
	}
	res, err := sqlx.NamedExecContext(ctx, q.ext, `
		INSERT INTO orders (pharmacy_id, status, total_price, created_at, updated_at)
		VALUES (:pharmacy_id, :status, :total_price, :created_at, :updated_at)`,
		orderRow{
			PharmacyID: o.PharmacyID,
			Status:     string(o.Status),
			TotalPrice: total,
			CreatedAt:  formatTime(o.CreatedAt),
			UpdatedAt:  formatTime(o.UpdatedAt),
		})
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}
	if o.ID, err = res.LastInsertId(); err != nil {
		return err
	}

	for i := range o.Items {
		it := &o.Items[i]
		price, err := toMinor(it.UnitPrice)
		if err != nil {
			return err
		}
		subtotal, err := toMinor(it.Subtotal)
		if err != nil {
			return err
		}
		it.OrderID = o.ID
		res, err := sqlx.NamedExecContext(ctx, q.ext, `
			INSERT INTO order_items (order_id, product_id, quantity, unit_price, subtotal, reserved_return_qty)
			VALUES (:order_id, :product_id, :quantity, :unit_price, :subtotal, 0)`,
			orderItemRow{
				OrderID:   it.OrderID,
				ProductID: it.ProductID,
				Quantity:  it.Quantity,
				UnitPrice: price,
				Subtotal:  subtotal,
			})
		if err != nil {
			return fmt.Errorf("insert order item: %w", err)
		}
		if it.ID, err = res.LastInsertId(); err != nil {
			return err
		}
	}
	return nil
}

func (q queries) GetOrder(ctx context.Context, id int64) (*ledger.Order, error) {
	var row orderRow
	err := sqlx.GetContext(ctx, q.ext, &row, `SELECT `+orderCols+` FROM orders WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d", ledger.ErrOrderNotFound, id)
	}
	if err != nil {
		return nil, err
	}

	items, err := q.orderItems(ctx, []int64{id})
	if err != nil {
		return nil, err
	}
	o := row.toDomain()
	o.Items = items[id]
	return &o, nil
}

func (q queries) GetOrderItem(ctx context.Context, id int64) (*ledger.OrderItem, error) {
	var row orderItemRow
	err := sqlx.GetContext(ctx, q.ext, &row, `
		SELECT `+orderItemCols+`
		FROM order_items oi JOIN products p ON p.id = oi.product_id
		WHERE oi.id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: order item %d", ledger.ErrOrderNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	it := row.toDomain()
	return &it, nil
}

// orderItems loads the lines of several orders in one query.
func (q queries) orderItems(ctx context.Context, orderIDs []int64) (map[int64][]ledger.OrderItem, error) {
	out := make(map[int64][]ledger.OrderItem, len(orderIDs))
	if len(orderIDs) == 0 {
		return out, nil
	}

	query, args, err := sqlx.In(`
		SELECT `+orderItemCols+`
		FROM order_items oi JOIN products p ON p.id = oi.product_id
		WHERE oi.order_id IN (?)
		ORDER BY oi.id`, orderIDs)
	if err != nil {
		return nil, err
	}

	var rows []orderItemRow
	if err := sqlx.SelectContext(ctx, q.ext, &rows, q.ext.Rebind(query), args...); err != nil {
		return nil, err
	}
	for _, r := range rows {
		out[r.OrderID] = append(out[r.OrderID], r.toDomain())
	}
	return out, nil
}

func (q queries) ListOrders(ctx context.Context, f ledger.OrderFilter) ([]ledger.Order, int, error) {
	w := &where{}
	if f.PharmacyID != 0 {
		w.add("pharmacy_id = ?", f.PharmacyID)
	}
	if f.Status != "" {
		w.add("status = ?", string(f.Status))
	}
	w.timeRange("created_at", f.TimeRange)

	var rows []orderRow
	total, err := q.page(ctx, &rows,
		`SELECT `+orderCols+` FROM orders`,
		`SELECT COUNT(*) FROM orders`,
		"created_at DESC, id DESC", w, f.PageRequest)
	if err != nil {
		return nil, 0, err
	}

	ids := make([]int64, len(rows))
	for i, r := range rows {
		ids[i] = r.ID
	}
	items, err := q.orderItems(ctx, ids)
	if err != nil {
		return nil, 0, err
	}

	orders := make([]ledger.Order, len(rows))
	for i, r := range rows {
		orders[i] = r.toDomain()
		orders[i].Items = items[r.ID]
	}
	return orders, total, nil
}

func (q queries) SetOrderStatus(ctx context.Context, id int64, from, to ledger.OrderStatus, at time.Time) (bool, error) {
	res, err := q.ext.ExecContext(ctx,
		`UPDATE orders SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		string(to), formatTime(at), id, string(from))
	if err != nil {
		return false, err
	}
	return affected(res)
}

// DeleteOrder removes the order and, by cascade, its lines.
func (q queries) DeleteOrder(ctx context.Context, id int64) error {
	res, err := q.ext.ExecContext(ctx, `DELETE FROM orders WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete order: %w", err)
	}
	ok, err := affected(res)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %d", ledger.ErrOrderNotFound, id)
	}
	return nil
}

func (q queries) CountReturns(ctx context.Context, orderID int64) (int, error) {
	var n int
	err := sqlx.GetContext(ctx, q.ext, &n, `SELECT COUNT(*) FROM returns WHERE order_id = ?`, orderID)
	return n, err
}

func (q queries) ReserveReturnQty(ctx context.Context, orderItemID, qty int64) (bool, error) {
	res, err := q.ext.ExecContext(ctx, `
		UPDATE order_items SET reserved_return_qty = reserved_return_qty + ?
		WHERE id = ? AND quantity - reserved_return_qty >= ?`,
		qty, orderItemID, qty)
	if err != nil {
		return false, err
	}
	return affected(res)
}

func (q queries) ReleaseReturnQty(ctx context.Context, orderItemID, qty int64) (bool, error) {
	res, err := q.ext.ExecContext(ctx, `
		UPDATE order_items SET reserved_return_qty = reserved_return_qty - ?
		WHERE id = ? AND reserved_return_qty >= ?`,
		qty, orderItemID, qty)
	if err != nil {
		return false, err
	}
	return affected(res)
}
