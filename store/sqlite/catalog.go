package sqlite

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/warp/supply-ledger/ledger"
)

// =============================================================================
// CATALOG (ledger.CatalogStore)
// =============================================================================

func (q queries) InsertProduct(ctx context.Context, p *ledger.Product) error {
	price, err := toMinor(p.UnitPrice)
	if err != nil {
		return err
	}
	res, err := sqlx.NamedExecContext(ctx, q.ext, `
		INSERT INTO products (name, code, unit, unit_price, quantity, created_at)
		VALUES (:name, :code, :unit, :unit_price, :quantity, :created_at)`,
		productRow{
			Name:      p.Name,
			Code:      p.Code,
			Unit:      p.Unit,
			UnitPrice: price,
			Quantity:  p.Quantity,
			CreatedAt: formatTime(p.CreatedAt),
		})
	if isUniqueConstraintError(err) {
		return fmt.Errorf("%w: %s", ledger.ErrDuplicateCode, p.Code)
	}
	if err != nil {
		return fmt.Errorf("insert product: %w", err)
	}
	p.ID, err = res.LastInsertId()
	return err
}

func (q queries) InsertPharmacy(ctx context.Context, ph *ledger.Pharmacy) error {
	balance, err := toMinor(ph.Balance)
	if err != nil {
		return err
	}
	res, err := sqlx.NamedExecContext(ctx, q.ext, `
		INSERT INTO pharmacies (name, region, contact, balance, created_at)
		VALUES (:name, :region, :contact, :balance, :created_at)`,
		pharmacyRow{
			Name:      ph.Name,
			Region:    ph.Region,
			Contact:   ph.Contact,
			Balance:   balance,
			CreatedAt: formatTime(ph.CreatedAt),
		})
	if err != nil {
		return fmt.Errorf("insert pharmacy: %w", err)
	}
	ph.ID, err = res.LastInsertId()
	return err
}

// ListProducts returns the catalog ordered by name.
func (s *Store) ListProducts(ctx context.Context, p ledger.PageRequest) (ledger.Page[ledger.Product], error) {
	p = p.Normalize()
	var rows []productRow
	total, err := s.page(ctx, &rows,
		`SELECT `+productCols+` FROM products`,
		`SELECT COUNT(*) FROM products`,
		"name, id", &where{}, p)
	if err != nil {
		return ledger.Page[ledger.Product]{}, err
	}
	items := make([]ledger.Product, len(rows))
	for i, r := range rows {
		items[i] = *r.toDomain()
	}
	return ledger.NewPage(items, total, p), nil
}
