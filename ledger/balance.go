/*
balance.go - Credit balance ledger and settlement

PURPOSE:
  A pharmacy's Balance is what it owes HQ. Orders raise it (bounded by
  CreditLimit), cancellations and completed returns lower it, and a
  settlement pays it to zero in one step. Each change appends a BalanceTx
  with before/after snapshots.

CRITICAL INVARIANTS:
  1. 0 <= Balance <= CreditLimit, enforced by conditional updates
  2. Reversals never clamp: a credit larger than the balance is
     ErrBalanceUnderflow, because it means an earlier posting is missing
  3. Settlement records the full balance it cleared

SEE ALSO:
  - stock.go: the quantity-side equivalent
  - settlement/service.go: transaction wrapper used by the API
*/
package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type BalanceLedger struct {
	store BalanceStore
	limit decimal.Decimal
	now   func() time.Time
}

func NewBalanceLedger(store BalanceStore) *BalanceLedger {
	return &BalanceLedger{store: store, limit: CreditLimit, now: time.Now}
}

// Apply posts an ORDER, ORDER_CANCEL or RETURN entry. SETTLEMENT goes
// through Settle.
func (l *BalanceLedger) Apply(ctx context.Context, pharmacyID int64, typ BalanceTxType, amount decimal.Decimal, ref Reference) (*BalanceTx, error) {
	if amount.IsNegative() {
		return nil, fmt.Errorf("%w: balance amount must not be negative, got %s", ErrInvalidAmount, amount)
	}
	if !IsMoney(amount) {
		return nil, fmt.Errorf("%w: balance amount %s has more than %d decimal places", ErrInvalidAmount, amount, MoneyPlaces)
	}

	switch typ {
	case BalanceOrder:
		ok, err := l.store.ChargeBalance(ctx, pharmacyID, amount, l.limit)
		if err != nil {
			return nil, err
		}
		if !ok {
			ph, err := l.store.GetPharmacy(ctx, pharmacyID)
			if err != nil {
				return nil, err
			}
			return nil, &CreditLimitError{
				PharmacyID: ph.ID,
				Balance:    ph.Balance,
				Requested:  amount,
				Limit:      l.limit,
			}
		}
	case BalanceOrderCancel, BalanceReturn:
		ok, err := l.store.CreditBalance(ctx, pharmacyID, amount)
		if err != nil {
			return nil, err
		}
		if !ok {
			ph, err := l.store.GetPharmacy(ctx, pharmacyID)
			if err != nil {
				return nil, err
			}
			return nil, fmt.Errorf("%w: pharmacy %d balance %s cannot absorb %s %s",
				ErrBalanceUnderflow, ph.ID, ph.Balance, typ, amount)
		}
	case BalanceSettlement:
		return nil, fmt.Errorf("%w: settlement must use Settle", ErrInvalidTxType)
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidTxType, typ)
	}

	ph, err := l.store.GetPharmacy(ctx, pharmacyID)
	if err != nil {
		return nil, err
	}

	tx := &BalanceTx{
		PharmacyID:   pharmacyID,
		Type:         typ,
		Amount:       amount,
		BalanceAfter: ph.Balance,
		Ref:          ref,
		CreatedAt:    l.now().UTC(),
	}
	tx.BalanceBefore = tx.BalanceAfter.Sub(tx.Delta())

	if err := l.store.AppendBalanceTx(ctx, tx); err != nil {
		return nil, err
	}
	return tx, nil
}

// Settle clears the pharmacy's balance to zero and records the amount
// cleared. A zero balance is ErrNothingToSettle; a balance that moved
// between the read and the reset is ErrConcurrentModification.
func (l *BalanceLedger) Settle(ctx context.Context, pharmacyID int64) (*BalanceTx, error) {
	ph, err := l.store.GetPharmacy(ctx, pharmacyID)
	if err != nil {
		return nil, err
	}
	if !ph.Balance.IsPositive() {
		return nil, fmt.Errorf("%w: pharmacy %d has no outstanding balance", ErrNothingToSettle, pharmacyID)
	}

	ok, err := l.store.ResetBalance(ctx, pharmacyID, ph.Balance)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: balance of pharmacy %d changed during settlement", ErrConcurrentModification, pharmacyID)
	}

	tx := &BalanceTx{
		PharmacyID:    pharmacyID,
		Type:          BalanceSettlement,
		Amount:        ph.Balance,
		BalanceBefore: ph.Balance,
		BalanceAfter:  decimal.Zero,
		CreatedAt:     l.now().UTC(),
	}
	if err := l.store.AppendBalanceTx(ctx, tx); err != nil {
		return nil, err
	}
	return tx, nil
}

// History lists balance transactions, newest first.
func (l *BalanceLedger) History(ctx context.Context, f BalanceTxFilter) (Page[BalanceTx], error) {
	f.PageRequest = f.PageRequest.Normalize()
	txs, total, err := l.store.ListBalanceTxs(ctx, f)
	if err != nil {
		return Page[BalanceTx]{}, err
	}
	return NewPage(txs, total, f.PageRequest), nil
}

// PendingCredits lists pharmacies that currently owe money.
func (l *BalanceLedger) PendingCredits(ctx context.Context, p PageRequest) (Page[PendingCredit], error) {
	p = p.Normalize()
	items, total, err := l.store.ListPendingCredits(ctx, p)
	if err != nil {
		return Page[PendingCredit]{}, err
	}
	return NewPage(items, total, p), nil
}
