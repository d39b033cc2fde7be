package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"waflow/internal/constants"
	apperrors "waflow/internal/errors"
	"waflow/internal/models"

	"github.com/sirupsen/logrus"
)

// TenantStore defines the database operations needed by TenantResolver
type TenantStore interface {
	GetTenant(ctx context.Context, id string) (*models.Tenant, error)
	GetTenantByRoutingKey(ctx context.Context, routingKey string) (*models.Tenant, error)
}

type tenantCacheEntry struct {
	tenant   *models.Tenant
	cachedAt time.Time
}

// TenantResolver answers "whose delivery is this" on the webhook hot path.
// Lookups are cached with a TTL; a stale entry still answers when the
// database is briefly unavailable.
type TenantResolver struct {
	db     TenantStore
	ttl    time.Duration
	logger *logrus.Logger
	now    func() time.Time

	mu    sync.RWMutex
	byKey map[string]tenantCacheEntry
	byID  map[string]tenantCacheEntry
}

// NewTenantResolver creates a resolver with the default cache TTL.
func NewTenantResolver(db TenantStore, logger *logrus.Logger) *TenantResolver {
	return NewTenantResolverWithTTL(db, time.Duration(constants.DefaultTenantCacheTTLMin)*time.Minute, logger)
}

// NewTenantResolverWithTTL creates a resolver with a custom cache TTL.
func NewTenantResolverWithTTL(db TenantStore, ttl time.Duration, logger *logrus.Logger) *TenantResolver {
	if ttl <= 0 {
		ttl = time.Duration(constants.DefaultTenantCacheTTLMin) * time.Minute
	}
	return &TenantResolver{
		db:     db,
		ttl:    ttl,
		logger: logger,
		now:    time.Now,
		byKey:  make(map[string]tenantCacheEntry),
		byID:   make(map[string]tenantCacheEntry),
	}
}

// ResolveRoutingKey returns the tenant a routing key belongs to. A key no
// tenant claims is an UnresolvedTenant error, which is terminal: retrying a
// delivery cannot make an unknown key known.
func (r *TenantResolver) ResolveRoutingKey(ctx context.Context, routingKey string) (*models.Tenant, error) {
	if routingKey == "" {
		return nil, apperrors.NewUnresolvedTenantError(routingKey)
	}

	entry, fresh := r.lookup(r.byKey, routingKey)
	if fresh {
		return entry.tenant, nil
	}

	tenant, err := r.db.GetTenantByRoutingKey(ctx, routingKey)
	if err != nil {
		if entry.tenant != nil {
			r.logger.WithFields(logrus.Fields{
				"routing_key": routingKeyField(ctx, routingKey),
			}).Warn("Tenant lookup failed, serving stale cache entry")
			return entry.tenant, nil
		}
		return nil, fmt.Errorf("failed to resolve routing key: %w", err)
	}
	if tenant == nil {
		return nil, apperrors.NewUnresolvedTenantError(routingKey)
	}

	r.store(tenant)
	return tenant, nil
}

// ResolveID returns the tenant by primary id, cached the same way.
func (r *TenantResolver) ResolveID(ctx context.Context, tenantID string) (*models.Tenant, error) {
	if tenantID == "" {
		return nil, apperrors.NewUnresolvedTenantError(tenantID)
	}

	entry, fresh := r.lookup(r.byID, tenantID)
	if fresh {
		return entry.tenant, nil
	}

	tenant, err := r.db.GetTenant(ctx, tenantID)
	if err != nil {
		if entry.tenant != nil {
			r.logger.WithField("tenant_id", tenantID).Warn("Tenant lookup failed, serving stale cache entry")
			return entry.tenant, nil
		}
		return nil, fmt.Errorf("failed to resolve tenant: %w", err)
	}
	if tenant == nil {
		return nil, apperrors.NewUnresolvedTenantError(tenantID)
	}

	r.store(tenant)
	return tenant, nil
}

// Invalidate drops a tenant from the cache, for callers that just changed
// it.
func (r *TenantResolver) Invalidate(tenant *models.Tenant) {
	if tenant == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byKey, tenant.RoutingKey)
	delete(r.byID, tenant.ID)
}

// lookup returns the cache entry and whether it is still fresh. A stale
// entry comes back too so callers can fall back to it on store errors.
func (r *TenantResolver) lookup(cache map[string]tenantCacheEntry, key string) (tenantCacheEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := cache[key]
	if !ok {
		return tenantCacheEntry{}, false
	}
	return entry, r.now().Sub(entry.cachedAt) < r.ttl
}

func (r *TenantResolver) store(tenant *models.Tenant) {
	entry := tenantCacheEntry{tenant: tenant, cachedAt: r.now()}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byKey[tenant.RoutingKey] = entry
	r.byID[tenant.ID] = entry
}
