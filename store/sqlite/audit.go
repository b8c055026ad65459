package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/warp/supply-ledger/ledger"
)

// =============================================================================
// AUDIT (ledger.AuditStore)
// =============================================================================

func (s *Store) StockSnapshots(ctx context.Context) ([]ledger.StockSnapshot, error) {
	var rows []struct {
		ID        int64         `db:"id"`
		Quantity  int64         `db:"quantity"`
		LastAfter sql.NullInt64 `db:"last_after"`
	}
	err := sqlx.SelectContext(ctx, s.db, &rows, `
		SELECT p.id, p.quantity,
			(SELECT st.quantity_after FROM stock_txs st
				WHERE st.product_id = p.id ORDER BY st.id DESC LIMIT 1) AS last_after
		FROM products p
		ORDER BY p.id`)
	if err != nil {
		return nil, err
	}

	out := make([]ledger.StockSnapshot, len(rows))
	for i, r := range rows {
		out[i] = ledger.StockSnapshot{ProductID: r.ID, Quantity: r.Quantity}
		if r.LastAfter.Valid {
			v := r.LastAfter.Int64
			out[i].LastRecorded = &v
		}
	}
	return out, nil
}

func (s *Store) BalanceSnapshots(ctx context.Context) ([]ledger.BalanceSnapshot, error) {
	var rows []struct {
		ID        int64         `db:"id"`
		Balance   int64         `db:"balance"`
		LastAfter sql.NullInt64 `db:"last_after"`
	}
	err := sqlx.SelectContext(ctx, s.db, &rows, `
		SELECT ph.id, ph.balance,
			(SELECT bt.balance_after FROM balance_txs bt
				WHERE bt.pharmacy_id = ph.id ORDER BY bt.id DESC LIMIT 1) AS last_after
		FROM pharmacies ph
		ORDER BY ph.id`)
	if err != nil {
		return nil, err
	}

	out := make([]ledger.BalanceSnapshot, len(rows))
	for i, r := range rows {
		out[i] = ledger.BalanceSnapshot{PharmacyID: r.ID, Balance: fromMinor(r.Balance)}
		if r.LastAfter.Valid {
			v := fromMinor(r.LastAfter.Int64)
			out[i].LastRecorded = &v
		}
	}
	return out, nil
}

type auditRunRow struct {
	ID                string `db:"id"`
	StartedAt         string `db:"started_at"`
	FinishedAt        string `db:"finished_at"`
	ProductsChecked   int    `db:"products_checked"`
	PharmaciesChecked int    `db:"pharmacies_checked"`
	DriftCount        int    `db:"drift_count"`
	DriftsJSON        string `db:"drifts_json"`
}

// SaveAuditRun stores a finished run.
func (s *Store) SaveAuditRun(ctx context.Context, run ledger.AuditRun) error {
	drifts := run.Drifts
	if drifts == nil {
		drifts = []ledger.Drift{}
	}
	data, err := json.Marshal(drifts)
	if err != nil {
		return fmt.Errorf("marshal drifts: %w", err)
	}

	_, err = sqlx.NamedExecContext(ctx, s.db, `
		INSERT INTO audit_runs (id, started_at, finished_at, products_checked,
			pharmacies_checked, drift_count, drifts_json)
		VALUES (:id, :started_at, :finished_at, :products_checked,
			:pharmacies_checked, :drift_count, :drifts_json)`,
		auditRunRow{
			ID:                run.ID,
			StartedAt:         formatTime(run.StartedAt),
			FinishedAt:        formatTime(run.FinishedAt),
			ProductsChecked:   run.ProductsChecked,
			PharmaciesChecked: run.PharmaciesChecked,
			DriftCount:        len(run.Drifts),
			DriftsJSON:        string(data),
		})
	return err
}

// ListAuditRuns returns the most recent runs first.
func (s *Store) ListAuditRuns(ctx context.Context, limit int) ([]ledger.AuditRun, error) {
	if limit <= 0 {
		limit = ledger.DefaultPageSize
	}
	var rows []auditRunRow
	err := sqlx.SelectContext(ctx, s.db, &rows, `
		SELECT id, started_at, finished_at, products_checked, pharmacies_checked,
			drift_count, drifts_json
		FROM audit_runs
		ORDER BY started_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}

	runs := make([]ledger.AuditRun, 0, len(rows))
	for _, r := range rows {
		run := ledger.AuditRun{
			ID:                r.ID,
			StartedAt:         parseTime(r.StartedAt),
			FinishedAt:        parseTime(r.FinishedAt),
			ProductsChecked:   r.ProductsChecked,
			PharmaciesChecked: r.PharmaciesChecked,
		}
		if err := json.Unmarshal([]byte(r.DriftsJSON), &run.Drifts); err != nil {
			return nil, fmt.Errorf("decode drifts for run %s: %w", r.ID, err)
		}
		runs = append(runs, run)
	}
	return runs, nil
}
