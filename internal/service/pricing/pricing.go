package pricing

import (
	"context"
	"errors"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/osmakov/creditgate/internal/apperrors"
	"github.com/osmakov/creditgate/internal/logger"
	"github.com/osmakov/creditgate/internal/models"
	"github.com/osmakov/creditgate/internal/repository"
)

const (
	// Cache entries live this long, admin updates invalidate explicitly
	// instead of waiting for expiry
	defaultTTL = 60 * time.Second
)

// Broadcast interface for multi-instance deployments: each admin pricing
// change is published so every instance drops its local entry
type invalidationBroadcaster interface {
	PublishInvalidation(ctx context.Context, gatewayID string) error
}

// Resolves per-gateway credit costs through a local TTL cache.
// The read path fails open: an unreachable store answers with the
// hardcoded defaults so validation batches keep moving
type Resolver struct {
	repo        repository.PricingRepo
	cache       *gocache.Cache
	logger      logger.Logger
	broadcaster invalidationBroadcaster
}

func NewResolver(repo repository.PricingRepo, l logger.Logger) *Resolver {
	if l == nil {
		l = logger.NewNoOpLogger()
	}

	return &Resolver{
		repo:   repo,
		cache:  gocache.New(defaultTTL, 2*defaultTTL),
		logger: l,
	}
}

// SetBroadcaster wires cross-instance invalidation, optional
func (r *Resolver) SetBroadcaster(b invalidationBroadcaster) {
	r.broadcaster = b
}

// GetPricing resolves {approved, live} costs for the gateway. A cold
// cache triggers one bulk warm instead of per-key reads, so a request
// burst right after start doesn't multiply query volume
func (r *Resolver) GetPricing(ctx context.Context, gatewayID string) models.GatewayPricing {
	if cached, found := r.cache.Get(gatewayID); found {
		return cached.(models.GatewayPricing)
	}

	if r.cache.ItemCount() == 0 {
		r.warm(ctx)
		if cached, found := r.cache.Get(gatewayID); found {
			return cached.(models.GatewayPricing)
		}
	}

	pricing, err := r.repo.Get(ctx, gatewayID)
	switch {
	case err == nil:
	case errors.Is(err, apperrors.ErrGatewayNotFound):
		pricing = models.DefaultPricing(gatewayID)
	default:
		// Fail open on the read path, debits stay fail-closed elsewhere
		r.logger.Warn("pricing store unreachable, using defaults", "gateway_id", gatewayID, "error", err)
		return models.DefaultPricing(gatewayID)
	}

	r.cache.Set(gatewayID, pricing, gocache.DefaultExpiration)
	return pricing
}

// Invalidate drops one entry, or the whole cache when gatewayID is empty
func (r *Resolver) Invalidate(gatewayID string) {
	if gatewayID == "" {
		r.cache.Flush()
		return
	}
	r.cache.Delete(gatewayID)
}

// UpdatePricing persists new gateway pricing and invalidates everywhere:
// locally right away, other instances via the broadcast channel
func (r *Resolver) UpdatePricing(ctx context.Context, p models.GatewayPricing) (models.GatewayPricing, error) {
	updated, err := r.repo.Upsert(ctx, p)
	if err != nil {
		return updated, err
	}

	r.Invalidate(updated.GatewayID)

	if r.broadcaster != nil {
		if err := r.broadcaster.PublishInvalidation(ctx, updated.GatewayID); err != nil {
			r.logger.Error("can't broadcast pricing invalidation", "gateway_id", updated.GatewayID, "error", err)
		}
	}

	return updated, nil
}

// ListAll reads gateway configs directly, admin surface only
func (r *Resolver) ListAll(ctx context.Context) ([]models.GatewayPricing, error) {
	return r.repo.ListAll(ctx)
}

func (r *Resolver) warm(ctx context.Context) {
	pricings, err := r.repo.ListAll(ctx)
	if err != nil {
		r.logger.Warn("can't warm pricing cache", "error", err)
		return
	}

	for _, p := range pricings {
		r.cache.Set(p.GatewayID, p, gocache.DefaultExpiration)
	}
}
