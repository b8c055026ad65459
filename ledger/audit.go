/*
audit.go - Drift check between running totals and their ledgers

PURPOSE:
  Product.Quantity and Pharmacy.Balance are maintained incrementally. The
  newest ledger entry for each row records what the total should be. Audit
  compares the two and reports every row where they disagree. It never
  corrects anything; corrections are new ledger entries posted by a human.

RULES:
  - A row with ledger history must equal its newest *_after snapshot
  - A row without history must be zero

SEE ALSO:
  - api/scheduler.go: runs Audit periodically and stores the result
*/
package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// StockSnapshot pairs a product's quantity with its newest recorded quantity_after.
type StockSnapshot struct {
	ProductID    int64
	Quantity     int64
	LastRecorded *int64
}

// BalanceSnapshot pairs a pharmacy's balance with its newest recorded balance_after.
type BalanceSnapshot struct {
	PharmacyID   int64
	Balance      decimal.Decimal
	LastRecorded *decimal.Decimal
}

type DriftKind string

const (
	DriftStock   DriftKind = "stock"
	DriftBalance DriftKind = "balance"
)

// Drift is one row whose running total disagrees with its ledger.
type Drift struct {
	Kind     DriftKind `json:"kind"`
	ID       int64     `json:"id"`
	Actual   string    `json:"actual"`
	Expected string    `json:"expected"`
}

// AuditRun is the stored outcome of one Audit.
type AuditRun struct {
	ID                string
	StartedAt         time.Time
	FinishedAt        time.Time
	ProductsChecked   int
	PharmaciesChecked int
	Drifts            []Drift
}

func (r AuditRun) Clean() bool { return len(r.Drifts) == 0 }

type AuditStore interface {
	StockSnapshots(ctx context.Context) ([]StockSnapshot, error)
	BalanceSnapshots(ctx context.Context) ([]BalanceSnapshot, error)
	SaveAuditRun(ctx context.Context, run AuditRun) error
	ListAuditRuns(ctx context.Context, limit int) ([]AuditRun, error)
}

// Audit checks every product and pharmacy and returns the run. It does not
// persist the run.
func Audit(ctx context.Context, s AuditStore) (AuditRun, error) {
	run := AuditRun{ID: uuid.NewString(), StartedAt: time.Now().UTC()}

	stock, err := s.StockSnapshots(ctx)
	if err != nil {
		return run, err
	}
	for _, snap := range stock {
		var expected int64
		if snap.LastRecorded != nil {
			expected = *snap.LastRecorded
		}
		if snap.Quantity != expected {
			run.Drifts = append(run.Drifts, Drift{
				Kind:     DriftStock,
				ID:       snap.ProductID,
				Actual:   decimal.NewFromInt(snap.Quantity).String(),
				Expected: decimal.NewFromInt(expected).String(),
			})
		}
	}
	run.ProductsChecked = len(stock)

	balances, err := s.BalanceSnapshots(ctx)
	if err != nil {
		return run, err
	}
	for _, snap := range balances {
		expected := decimal.Zero
		if snap.LastRecorded != nil {
			expected = *snap.LastRecorded
		}
		if !snap.Balance.Equal(expected) {
			run.Drifts = append(run.Drifts, Drift{
				Kind:     DriftBalance,
				ID:       snap.PharmacyID,
				Actual:   snap.Balance.StringFixed(MoneyPlaces),
				Expected: expected.StringFixed(MoneyPlaces),
			})
		}
	}
	run.PharmaciesChecked = len(balances)

	run.FinishedAt = time.Now().UTC()
	return run, nil
}
