package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/osmakov/creditgate/internal/apperrors"
	"github.com/osmakov/creditgate/internal/models"
)

type PricingRepo struct {
	DB DBTX
}

const getGatewayPricing = `-- name: GetGatewayPricing
SELECT gateway_id, price_approved, price_live, updated_at
FROM gateway_configs
WHERE gateway_id = $1
`

func (r *PricingRepo) Get(ctx context.Context, gatewayID string) (models.GatewayPricing, error) {
	rows, _ := r.DB.Query(ctx, getGatewayPricing, gatewayID)
	pricing, err := pgx.CollectOneRow(rows, rowToPricing)

	switch {
	case err == nil:
		return pricing, nil
	case errors.Is(err, pgx.ErrNoRows):
		return pricing, apperrors.ErrGatewayNotFound
	default:
		return pricing, fmt.Errorf("db error: %w", err)
	}
}

const listGatewayPricing = `-- name: ListGatewayPricing
SELECT gateway_id, price_approved, price_live, updated_at
FROM gateway_configs
ORDER BY gateway_id
`

func (r *PricingRepo) ListAll(ctx context.Context) ([]models.GatewayPricing, error) {
	rows, _ := r.DB.Query(ctx, listGatewayPricing)
	pricings, err := pgx.CollectRows(rows, rowToPricing)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return pricings, nil
}

const upsertGatewayPricing = `-- name: UpsertGatewayPricing
INSERT INTO gateway_configs (gateway_id, price_approved, price_live, updated_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (gateway_id) DO UPDATE
SET price_approved = EXCLUDED.price_approved,
    price_live = EXCLUDED.price_live,
    updated_at = EXCLUDED.updated_at
RETURNING gateway_id, price_approved, price_live, updated_at
`

func (r *PricingRepo) Upsert(ctx context.Context, pricing models.GatewayPricing) (models.GatewayPricing, error) {
	rows, _ := r.DB.Query(ctx, upsertGatewayPricing, pricing.GatewayID, pricing.Approved, pricing.Live, time.Now())
	updated, err := pgx.CollectOneRow(rows, rowToPricing)
	if err != nil {
		return updated, fmt.Errorf("db error: %w", err)
	}
	return updated, nil
}

func rowToPricing(row pgx.CollectableRow) (models.GatewayPricing, error) {
	var p models.GatewayPricing
	err := row.Scan(&p.GatewayID, &p.Approved, &p.Live, &p.UpdatedAt)
	return p, err
}
