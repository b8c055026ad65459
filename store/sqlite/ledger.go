package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/warp/supply-ledger/ledger"
)

// =============================================================================
// ROWS
// =============================================================================

type productRow struct {
	ID        int64  `db:"id"`
	Name      string `db:"name"`
	Code      string `db:"code"`
	Unit      string `db:"unit"`
	UnitPrice int64  `db:"unit_price"`
	Quantity  int64  `db:"quantity"`
	CreatedAt string `db:"created_at"`
}

func (r productRow) toDomain() *ledger.Product {
	return &ledger.Product{
		ID:        r.ID,
		Name:      r.Name,
		Code:      r.Code,
		Unit:      r.Unit,
		UnitPrice: fromMinor(r.UnitPrice),
		Quantity:  r.Quantity,
		CreatedAt: parseTime(r.CreatedAt),
	}
}

type pharmacyRow struct {
	ID        int64  `db:"id"`
	Name      string `db:"name"`
	Region    string `db:"region"`
	Contact   string `db:"contact"`
	Balance   int64  `db:"balance"`
	CreatedAt string `db:"created_at"`
}

func (r pharmacyRow) toDomain() *ledger.Pharmacy {
	return &ledger.Pharmacy{
		ID:        r.ID,
		Name:      r.Name,
		Region:    r.Region,
		Contact:   r.Contact,
		Balance:   fromMinor(r.Balance),
		CreatedAt: parseTime(r.CreatedAt),
	}
}

type stockTxRow struct {
	ID             int64          `db:"id"`
	ProductID      int64          `db:"product_id"`
	Type           string         `db:"tx_type"`
	Amount         int64          `db:"amount"`
	QuantityBefore int64          `db:"quantity_before"`
	QuantityAfter  int64          `db:"quantity_after"`
	RefType        sql.NullString `db:"reference_type"`
	RefID          sql.NullInt64  `db:"reference_id"`
	CreatedAt      string         `db:"created_at"`
}

func (r stockTxRow) toDomain() ledger.StockTx {
	return ledger.StockTx{
		ID:             r.ID,
		ProductID:      r.ProductID,
		Type:           ledger.StockTxType(r.Type),
		Amount:         r.Amount,
		QuantityBefore: r.QuantityBefore,
		QuantityAfter:  r.QuantityAfter,
		Ref:            scanRef(r.RefType, r.RefID),
		CreatedAt:      parseTime(r.CreatedAt),
	}
}

type balanceTxRow struct {
	ID            int64          `db:"id"`
	PharmacyID    int64          `db:"pharmacy_id"`
	Type          string         `db:"tx_type"`
	Amount        int64          `db:"amount"`
	BalanceBefore int64          `db:"balance_before"`
	BalanceAfter  int64          `db:"balance_after"`
	RefType       sql.NullString `db:"reference_type"`
	RefID         sql.NullInt64  `db:"reference_id"`
	CreatedAt     string         `db:"created_at"`
}

func (r balanceTxRow) toDomain() ledger.BalanceTx {
	return ledger.BalanceTx{
		ID:            r.ID,
		PharmacyID:    r.PharmacyID,
		Type:          ledger.BalanceTxType(r.Type),
		Amount:        fromMinor(r.Amount),
		BalanceBefore: fromMinor(r.BalanceBefore),
		BalanceAfter:  fromMinor(r.BalanceAfter),
		Ref:           scanRef(r.RefType, r.RefID),
		CreatedAt:     parseTime(r.CreatedAt),
	}
}

func scanRef(t sql.NullString, id sql.NullInt64) ledger.Reference {
	if !t.Valid {
		return ledger.Reference{}
	}
	return ledger.Reference{Type: ledger.ReferenceType(t.String), ID: id.Int64}
}

func refArgs(r ledger.Reference) (sql.NullString, sql.NullInt64) {
	if r.IsZero() {
		return sql.NullString{}, sql.NullInt64{}
	}
	return sql.NullString{String: string(r.Type), Valid: true},
		sql.NullInt64{Int64: r.ID, Valid: r.ID != 0}
}

const (
	productCols   = `id, name, code, unit, unit_price, quantity, created_at`
	pharmacyCols  = `id, name, region, contact, balance, created_at`
	stockTxCols   = `id, product_id, tx_type, amount, quantity_before, quantity_after, reference_type, reference_id, created_at`
	balanceTxCols = `id, pharmacy_id, tx_type, amount, balance_before, balance_after, reference_type, reference_id, created_at`
)

// =============================================================================
// STOCK (ledger.StockStore)
// =============================================================================

func (q queries) GetProduct(ctx context.Context, id int64) (*ledger.Product, error) {
	var row productRow
	err := sqlx.GetContext(ctx, q.ext, &row, `SELECT `+productCols+` FROM products WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d", ledger.ErrProductNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return row.toDomain(), nil
}

func (q queries) IncreaseStock(ctx context.Context, productID, amount int64) (bool, error) {
	res, err := q.ext.ExecContext(ctx,
		`UPDATE products SET quantity = quantity + ? WHERE id = ?`, amount, productID)
	if err != nil {
		return false, err
	}
	return affected(res)
}

func (q queries) DecreaseStock(ctx context.Context, productID, amount int64) (bool, error) {
	res, err := q.ext.ExecContext(ctx,
		`UPDATE products SET quantity = quantity - ? WHERE id = ? AND quantity >= ?`,
		amount, productID, amount)
	if err != nil {
		return false, err
	}
	return affected(res)
}

func (q queries) AppendStockTx(ctx context.Context, tx *ledger.StockTx) error {
	refType, refID := refArgs(tx.Ref)
	res, err := q.ext.ExecContext(ctx, `
		INSERT INTO stock_txs (product_id, tx_type, amount, quantity_before, quantity_after,
			reference_type, reference_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		tx.ProductID, string(tx.Type), tx.Amount, tx.QuantityBefore, tx.QuantityAfter,
		refType, refID, formatTime(tx.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("append stock tx: %w", err)
	}
	tx.ID, err = res.LastInsertId()
	return err
}

func (q queries) ListStockTxs(ctx context.Context, f ledger.StockTxFilter) ([]ledger.StockTx, int, error) {
	w := &where{}
	if f.ProductID != 0 {
		w.add("product_id = ?", f.ProductID)
	}
	if f.Type != "" {
		w.add("tx_type = ?", string(f.Type))
	}
	w.timeRange("created_at", f.TimeRange)

	var rows []stockTxRow
	total, err := q.page(ctx, &rows,
		`SELECT `+stockTxCols+` FROM stock_txs`,
		`SELECT COUNT(*) FROM stock_txs`,
		"created_at DESC, id DESC", w, f.PageRequest)
	if err != nil {
		return nil, 0, err
	}

	txs := make([]ledger.StockTx, len(rows))
	for i, r := range rows {
		txs[i] = r.toDomain()
	}
	return txs, total, nil
}

// =============================================================================
// BALANCE (ledger.BalanceStore)
// =============================================================================

func (q queries) GetPharmacy(ctx context.Context, id int64) (*ledger.Pharmacy, error) {
	var row pharmacyRow
	err := sqlx.GetContext(ctx, q.ext, &row, `SELECT `+pharmacyCols+` FROM pharmacies WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d", ledger.ErrPharmacyNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return row.toDomain(), nil
}

func (q queries) ChargeBalance(ctx context.Context, pharmacyID int64, amount, limit decimal.Decimal) (bool, error) {
	a, err := toMinor(amount)
	if err != nil {
		return false, err
	}
	l, err := toMinor(limit)
	if err != nil {
		return false, err
	}
	res, err := q.ext.ExecContext(ctx,
		`UPDATE pharmacies SET balance = balance + ? WHERE id = ? AND balance <= ? - ?`,
		a, pharmacyID, l, a)
	if err != nil {
		return false, err
	}
	return affected(res)
}

func (q queries) CreditBalance(ctx context.Context, pharmacyID int64, amount decimal.Decimal) (bool, error) {
	a, err := toMinor(amount)
	if err != nil {
		return false, err
	}
	res, err := q.ext.ExecContext(ctx,
		`UPDATE pharmacies SET balance = balance - ? WHERE id = ? AND balance >= ?`,
		a, pharmacyID, a)
	if err != nil {
		return false, err
	}
	return affected(res)
}

func (q queries) ResetBalance(ctx context.Context, pharmacyID int64, expected decimal.Decimal) (bool, error) {
	e, err := toMinor(expected)
	if err != nil {
		return false, err
	}
	res, err := q.ext.ExecContext(ctx,
		`UPDATE pharmacies SET balance = 0 WHERE id = ? AND balance = ? AND balance > 0`,
		pharmacyID, e)
	if err != nil {
		return false, err
	}
	return affected(res)
}

func (q queries) AppendBalanceTx(ctx context.Context, tx *ledger.BalanceTx) error {
	refType, refID := refArgs(tx.Ref)
	var cents [3]int64
	for i, d := range []decimal.Decimal{tx.Amount, tx.BalanceBefore, tx.BalanceAfter} {
		c, err := toMinor(d)
		if err != nil {
			return err
		}
		cents[i] = c
	}
	res, err := q.ext.ExecContext(ctx, `
		INSERT INTO balance_txs (pharmacy_id, tx_type, amount, balance_before, balance_after,
			reference_type, reference_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		tx.PharmacyID, string(tx.Type), cents[0], cents[1], cents[2],
		refType, refID, formatTime(tx.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("append balance tx: %w", err)
	}
	tx.ID, err = res.LastInsertId()
	return err
}

func (q queries) ListBalanceTxs(ctx context.Context, f ledger.BalanceTxFilter) ([]ledger.BalanceTx, int, error) {
	w := &where{}
	if f.PharmacyID != 0 {
		w.add("pharmacy_id = ?", f.PharmacyID)
	}
	if f.Type != "" {
		w.add("tx_type = ?", string(f.Type))
	}
	w.timeRange("created_at", f.TimeRange)

	var rows []balanceTxRow
	total, err := q.page(ctx, &rows,
		`SELECT `+balanceTxCols+` FROM balance_txs`,
		`SELECT COUNT(*) FROM balance_txs`,
		"created_at DESC, id DESC", w, f.PageRequest)
	if err != nil {
		return nil, 0, err
	}

	txs := make([]ledger.BalanceTx, len(rows))
	for i, r := range rows {
		txs[i] = r.toDomain()
	}
	return txs, total, nil
}

type pendingCreditRow struct {
	pharmacyRow
	LastSettledAt     sql.NullString `db:"last_settled_at"`
	LastSettledAmount sql.NullInt64  `db:"last_settled_amount"`
	TotalSettled      int64          `db:"total_settled"`
}

func (q queries) ListPendingCredits(ctx context.Context, p ledger.PageRequest) ([]ledger.PendingCredit, int, error) {
	w := &where{}
	w.add("ph.balance > 0")

	var rows []pendingCreditRow
	total, err := q.page(ctx, &rows, `
		SELECT ph.id, ph.name, ph.region, ph.contact, ph.balance, ph.created_at,
			(SELECT bt.created_at FROM balance_txs bt
				WHERE bt.pharmacy_id = ph.id AND bt.tx_type = 'SETTLEMENT'
				ORDER BY bt.id DESC LIMIT 1) AS last_settled_at,
			(SELECT bt.amount FROM balance_txs bt
				WHERE bt.pharmacy_id = ph.id AND bt.tx_type = 'SETTLEMENT'
				ORDER BY bt.id DESC LIMIT 1) AS last_settled_amount,
			COALESCE((SELECT SUM(bt.amount) FROM balance_txs bt
				WHERE bt.pharmacy_id = ph.id AND bt.tx_type = 'SETTLEMENT'), 0) AS total_settled
		FROM pharmacies ph`,
		`SELECT COUNT(*) FROM pharmacies ph`,
		"ph.balance DESC, ph.id", w, p)
	if err != nil {
		return nil, 0, err
	}

	out := make([]ledger.PendingCredit, len(rows))
	for i, r := range rows {
		pc := ledger.PendingCredit{
			Pharmacy:     *r.pharmacyRow.toDomain(),
			TotalSettled: fromMinor(r.TotalSettled),
		}
		if r.LastSettledAt.Valid {
			t := parseTime(r.LastSettledAt.String)
			pc.LastSettledAt = &t
		}
		if r.LastSettledAmount.Valid {
			amt := fromMinor(r.LastSettledAmount.Int64)
			pc.LastSettledAmount = &amt
		}
		out[i] = pc
	}
	return out, total, nil
}
