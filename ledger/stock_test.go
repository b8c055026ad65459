package ledger_test

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/supply-ledger/ledger"
	"github.com/warp/supply-ledger/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestStore(t *testing.T) *sqlite.Store {
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func seedProduct(t *testing.T, s *sqlite.Store, code, price string, qty int64) *ledger.Product {
	p := &ledger.Product{
		Name:      "Product " + code,
		Code:      code,
		Unit:      "box",
		UnitPrice: decimal.RequireFromString(price),
	}
	require.NoError(t, ledger.RegisterProduct(context.Background(), s, p, qty))
	return p
}

func seedPharmacy(t *testing.T, s *sqlite.Store, name string) *ledger.Pharmacy {
	ph := &ledger.Pharmacy{Name: name, Region: "Seoul"}
	require.NoError(t, ledger.RegisterPharmacy(context.Background(), s, ph))
	return ph
}

func assertMoney(t *testing.T, want string, got decimal.Decimal, msgAndArgs ...any) {
	t.Helper()
	assert.True(t, decimal.RequireFromString(want).Equal(got),
		append([]any{"want %s, got %s", want, got.String()}, msgAndArgs...)...)
}

func quantity(t *testing.T, s *sqlite.Store, id int64) int64 {
	p, err := s.GetProduct(context.Background(), id)
	require.NoError(t, err)
	return p.Quantity
}

// =============================================================================
// STOCK LEDGER
// =============================================================================

func TestStockLedger_OrderDecreasesAndRecordsSnapshots(t *testing.T) {
	// GIVEN: A product with 10 units on hand
	// WHEN: 3 units are deducted for an order
	// THEN: Quantity is 7 and the entry records 10 -> 7 with the order reference

	s := newTestStore(t)
	ctx := context.Background()
	p := seedProduct(t, s, "AMX-500", "1200", 10)

	var tx *ledger.StockTx
	err := s.WithTx(ctx, func(st ledger.Store) error {
		var err error
		tx, err = ledger.NewStockLedger(st).Apply(ctx, p.ID, ledger.StockOrder, 3, ledger.OrderRef(42))
		return err
	})
	require.NoError(t, err)

	assert.Equal(t, int64(10), tx.QuantityBefore)
	assert.Equal(t, int64(7), tx.QuantityAfter)
	assert.Equal(t, int64(-3), tx.Delta())
	assert.Equal(t, ledger.OrderRef(42), tx.Ref)
	assert.NotZero(t, tx.ID)
	assert.Equal(t, int64(7), quantity(t, s, p.ID))
}

func TestStockLedger_InsufficientStock_WritesNothing(t *testing.T) {
	// GIVEN: A product with 2 units
	// WHEN: An order asks for 5
	// THEN: InsufficientStockError names the product and amounts, nothing changes

	s := newTestStore(t)
	ctx := context.Background()
	p := seedProduct(t, s, "IBU-200", "800", 2)

	_, err := ledger.NewStockLedger(s).Apply(ctx, p.ID, ledger.StockOrder, 5, ledger.Reference{})

	var stockErr *ledger.InsufficientStockError
	require.ErrorAs(t, err, &stockErr)
	assert.ErrorIs(t, err, ledger.ErrInsufficientStock)
	assert.Equal(t, p.ID, stockErr.ProductID)
	assert.Equal(t, p.Name, stockErr.ProductName)
	assert.Equal(t, int64(2), stockErr.Available)
	assert.Equal(t, int64(5), stockErr.Requested)

	assert.Equal(t, int64(2), quantity(t, s, p.ID))
	hist, err := ledger.NewStockLedger(s).History(ctx, ledger.StockTxFilter{ProductID: p.ID})
	require.NoError(t, err)
	assert.Equal(t, 1, hist.Total, "only the opening IN entry")
}

func TestStockLedger_DecreaseToExactlyZero(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	p := seedProduct(t, s, "VIT-C", "500", 4)

	tx, err := ledger.NewStockLedger(s).Apply(ctx, p.ID, ledger.StockOrder, 4, ledger.Reference{})
	require.NoError(t, err)
	assert.Equal(t, int64(0), tx.QuantityAfter)
	assert.Equal(t, int64(0), quantity(t, s, p.ID))
}

func TestStockLedger_RejectsOutOfRangeAmount(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	p := seedProduct(t, s, "ZINC", "300", 5)
	stock := ledger.NewStockLedger(s)

	for _, amount := range []int64{0, -1, ledger.MaxQuantity + 1, 1 << 62} {
		_, err := stock.Apply(ctx, p.ID, ledger.StockIn, amount, ledger.Reference{})
		assert.ErrorIs(t, err, ledger.ErrInvalidAmount, "amount %d", amount)
	}
	assert.Equal(t, int64(5), quantity(t, s, p.ID))
}

func TestStockLedger_UnknownProduct(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	stock := ledger.NewStockLedger(s)

	_, err := stock.Apply(ctx, 999, ledger.StockIn, 1, ledger.Reference{})
	assert.ErrorIs(t, err, ledger.ErrProductNotFound)

	_, err = stock.Apply(ctx, 999, ledger.StockOrder, 1, ledger.Reference{})
	assert.ErrorIs(t, err, ledger.ErrProductNotFound)
	assert.True(t, ledger.IsNotFound(err))
}

func TestStockLedger_QuantityEqualsSumOfDeltas(t *testing.T) {
	// GIVEN: A product moved through every stock transaction type
	// THEN: Quantity equals the sum of signed deltas, and each entry's
	//       before/after chains onto the previous one

	s := newTestStore(t)
	ctx := context.Background()
	p := seedProduct(t, s, "PARA-500", "150", 20)
	stock := ledger.NewStockLedger(s)

	steps := []struct {
		typ    ledger.StockTxType
		amount int64
	}{
		{ledger.StockOrder, 7},
		{ledger.StockIn, 5},
		{ledger.StockOrder, 10},
		{ledger.StockOrderCancel, 3},
		{ledger.StockReturn, 2},
	}
	for _, st := range steps {
		_, err := stock.Apply(ctx, p.ID, st.typ, st.amount, ledger.Reference{})
		require.NoError(t, err)
	}

	hist, err := stock.History(ctx, ledger.StockTxFilter{
		ProductID:   p.ID,
		PageRequest: ledger.PageRequest{Size: ledger.MaxPageSize},
	})
	require.NoError(t, err)
	require.Len(t, hist.Items, 6)

	var sum int64
	for i := len(hist.Items) - 1; i >= 0; i-- {
		tx := hist.Items[i]
		sum += tx.Delta()
		assert.Equal(t, tx.QuantityBefore+tx.Delta(), tx.QuantityAfter)
		if i < len(hist.Items)-1 {
			assert.Equal(t, hist.Items[i+1].QuantityAfter, tx.QuantityBefore)
		}
	}
	assert.Equal(t, int64(13), sum)
	assert.Equal(t, sum, quantity(t, s, p.ID))
	assert.Equal(t, sum, hist.Items[0].QuantityAfter, "newest entry carries the current quantity")
}

func TestStockLedger_HistoryFiltersAndPages(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	a := seedProduct(t, s, "A", "1", 50)
	b := seedProduct(t, s, "B", "1", 50)
	stock := ledger.NewStockLedger(s)

	for i := 0; i < 4; i++ {
		_, err := stock.Apply(ctx, a.ID, ledger.StockOrder, 1, ledger.Reference{})
		require.NoError(t, err)
	}
	_, err := stock.Apply(ctx, b.ID, ledger.StockOrder, 1, ledger.Reference{})
	require.NoError(t, err)

	orders, err := stock.History(ctx, ledger.StockTxFilter{
		ProductID:   a.ID,
		Type:        ledger.StockOrder,
		PageRequest: ledger.PageRequest{Page: 1, Size: 3},
	})
	require.NoError(t, err)
	assert.Equal(t, 4, orders.Total)
	assert.Equal(t, 2, orders.TotalPages())
	require.Len(t, orders.Items, 1)
	assert.Equal(t, int64(49), orders.Items[0].QuantityAfter, "oldest order is on the last page")

	all, err := stock.History(ctx, ledger.StockTxFilter{})
	require.NoError(t, err)
	assert.Equal(t, 7, all.Total)
	assert.Equal(t, ledger.DefaultPageSize, all.Size)
}

func TestParseStockTxType_Aliases(t *testing.T) {
	cases := map[string]ledger.StockTxType{
		"IN":           ledger.StockIn,
		"out":          ledger.StockOrder,
		"ORDER":        ledger.StockOrder,
		"ORDER_CANCEL": ledger.StockOrderCancel,
		"RETURN_IN":    ledger.StockReturn,
		" return ":     ledger.StockReturn,
	}
	for in, want := range cases {
		got, err := ledger.ParseStockTxType(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ledger.ParseStockTxType("LOSS")
	assert.ErrorIs(t, err, ledger.ErrInvalidTxType)
}

// =============================================================================
// CATALOG
// =============================================================================

func TestRegisterProduct_PostsOpeningStock(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	p := seedProduct(t, s, "OPEN", "99.90", 12)

	assert.Equal(t, int64(12), p.Quantity)
	hist, err := ledger.NewStockLedger(s).History(ctx, ledger.StockTxFilter{ProductID: p.ID})
	require.NoError(t, err)
	require.Len(t, hist.Items, 1)
	assert.Equal(t, ledger.StockIn, hist.Items[0].Type)
	assert.Equal(t, int64(0), hist.Items[0].QuantityBefore)
	assert.Equal(t, int64(12), hist.Items[0].QuantityAfter)

	got, err := s.GetProduct(ctx, p.ID)
	require.NoError(t, err)
	assertMoney(t, "99.90", got.UnitPrice)
}

func TestRegisterProduct_ZeroQuantityHasNoHistory(t *testing.T) {
	s := newTestStore(t)
	p := seedProduct(t, s, "EMPTY", "10", 0)

	hist, err := ledger.NewStockLedger(s).History(context.Background(), ledger.StockTxFilter{ProductID: p.ID})
	require.NoError(t, err)
	assert.Equal(t, 0, hist.Total)
}

func TestRegisterProduct_Rejections(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedProduct(t, s, "DUP", "10", 1)

	err := ledger.RegisterProduct(ctx, s, &ledger.Product{Name: "x", Code: "DUP", UnitPrice: decimal.NewFromInt(1)}, 0)
	assert.ErrorIs(t, err, ledger.ErrDuplicateCode)

	err = ledger.RegisterProduct(ctx, s, &ledger.Product{Name: "x", Code: "FRAC", UnitPrice: decimal.RequireFromString("1.005")}, 0)
	assert.ErrorIs(t, err, ledger.ErrInvalidAmount)

	err = ledger.RegisterProduct(ctx, s, &ledger.Product{Name: "x", Code: "NEG", UnitPrice: decimal.NewFromInt(1)}, -3)
	assert.ErrorIs(t, err, ledger.ErrInvalidAmount)
}

func TestReceiveStock(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	p := seedProduct(t, s, "RCV", "10", 3)

	tx, err := ledger.ReceiveStock(ctx, s, p.ID, 17)
	require.NoError(t, err)
	assert.Equal(t, ledger.StockIn, tx.Type)
	assert.Equal(t, int64(3), tx.QuantityBefore)
	assert.Equal(t, int64(20), tx.QuantityAfter)
	assert.Equal(t, ledger.RefReceipt, tx.Ref.Type)
}
