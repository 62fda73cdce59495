package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/PortNumber53/beat-storefront/backend/internal/models"
)

// ErrProductNotFound is returned when a product id is not in the catalog.
var ErrProductNotFound = errors.New("product not found")

// GetProduct loads a catalog product with its per-tier prices.
func (s *Store) GetProduct(ctx context.Context, id string) (*models.Product, error) {
	const productQuery = `
SELECT id, title, kind, cover_ref, streaming_ref, lossless_ref, stems_ref
FROM products
WHERE id = $1
`
	var (
		product                                 models.Product
		cover, streaming, lossless, stemsColumn sql.NullString
	)
	err := s.db.QueryRowContext(ctx, productQuery, id).Scan(
		&product.ID,
		&product.Title,
		&product.Kind,
		&cover,
		&streaming,
		&lossless,
		&stemsColumn,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrProductNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get product %s: %w", id, err)
	}
	product.CoverRef = cover.String
	product.StreamingRef = streaming.String
	product.LosslessRef = lossless.String
	product.StemsRef = stemsColumn.String

	prices, err := s.productPrices(ctx, id)
	if err != nil {
		return nil, err
	}
	product.Prices = prices
	return &product, nil
}

func (s *Store) productPrices(ctx context.Context, productID string) (map[models.LicenseTier]decimal.Decimal, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT tier, price
FROM product_licenses
WHERE product_id = $1
`, productID)
	if err != nil {
		return nil, fmt.Errorf("store: query licenses for %s: %w", productID, err)
	}
	defer rows.Close()

	prices := make(map[models.LicenseTier]decimal.Decimal)
	for rows.Next() {
		var (
			tier  string
			price decimal.Decimal
		)
		if err := rows.Scan(&tier, &price); err != nil {
			return nil, fmt.Errorf("store: scan license for %s: %w", productID, err)
		}
		parsed, err := models.ParseLicenseTier(tier)
		if err != nil {
			return nil, fmt.Errorf("store: product %s: %w", productID, err)
		}
		prices[parsed] = price
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate licenses for %s: %w", productID, err)
	}
	return prices, nil
}
