// Package settlement clears pharmacy balances and reports who still owes.
package settlement

import (
	"context"

	"go.uber.org/zap"

	"github.com/warp/supply-ledger/ledger"
)

type Service struct {
	store ledger.TxStore
	log   *zap.Logger
}

func NewService(store ledger.TxStore, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{store: store, log: log.Named("settlement")}
}

// Settle pays the pharmacy's whole balance down to zero.
func (s *Service) Settle(ctx context.Context, pharmacyID int64) (*ledger.BalanceTx, error) {
	var settled *ledger.BalanceTx
	err := s.store.WithTx(ctx, func(tx ledger.Store) error {
		btx, err := ledger.NewBalanceLedger(tx).Settle(ctx, pharmacyID)
		settled = btx
		return err
	})
	if err != nil {
		s.log.Warn("settlement rejected", zap.Int64("pharmacy_id", pharmacyID), zap.Error(err))
		return nil, err
	}

	s.log.Info("settled",
		zap.Int64("pharmacy_id", pharmacyID),
		zap.String("amount", settled.Amount.StringFixed(ledger.MoneyPlaces)))
	return settled, nil
}

// Pending lists pharmacies with an outstanding balance, largest first.
func (s *Service) Pending(ctx context.Context, p ledger.PageRequest) (ledger.Page[ledger.PendingCredit], error) {
	return ledger.NewBalanceLedger(s.store).PendingCredits(ctx, p)
}
