package ledger_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/supply-ledger/ledger"
)

func TestAudit_CleanAfterPostings(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	p := seedProduct(t, s, "AUD", "10", 8)
	seedProduct(t, s, "NONE", "10", 0)
	ph := seedPharmacy(t, s, "Audited")
	seedPharmacy(t, s, "Untouched")

	_, err := ledger.NewStockLedger(s).Apply(ctx, p.ID, ledger.StockOrder, 3, ledger.Reference{})
	require.NoError(t, err)
	charge(t, s, ph.ID, "30")

	run, err := ledger.Audit(ctx, s)
	require.NoError(t, err)
	assert.True(t, run.Clean(), "drifts: %+v", run.Drifts)
	assert.Equal(t, 2, run.ProductsChecked)
	assert.Equal(t, 2, run.PharmaciesChecked)
	assert.NotEmpty(t, run.ID)
}

func TestAudit_DetectsDrift(t *testing.T) {
	// GIVEN: Running totals edited behind the ledger's back
	// WHEN: The audit runs
	// THEN: Both rows are reported with actual and expected values

	s := newTestStore(t)
	ctx := context.Background()
	p := seedProduct(t, s, "DRIFT", "10", 8)
	ph := seedPharmacy(t, s, "Drifty")
	charge(t, s, ph.ID, "30")

	_, err := s.DB().ExecContext(ctx, `UPDATE products SET quantity = 5 WHERE id = ?`, p.ID)
	require.NoError(t, err)
	_, err = s.DB().ExecContext(ctx, `UPDATE pharmacies SET balance = 1 WHERE id = ?`, ph.ID)
	require.NoError(t, err)

	run, err := ledger.Audit(ctx, s)
	require.NoError(t, err)
	require.Len(t, run.Drifts, 2)

	assert.Equal(t, ledger.Drift{Kind: ledger.DriftStock, ID: p.ID, Actual: "5", Expected: "8"}, run.Drifts[0])
	assert.Equal(t, ledger.Drift{Kind: ledger.DriftBalance, ID: ph.ID, Actual: "0.01", Expected: "30.00"}, run.Drifts[1])

	require.NoError(t, s.SaveAuditRun(ctx, run))
	runs, err := s.ListAuditRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, run.ID, runs[0].ID)
	assert.Equal(t, run.Drifts, runs[0].Drifts)
}
