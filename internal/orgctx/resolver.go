package orgctx

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// defaultTTL is how long a resolved context stays fresh in the cache.
const defaultTTL = 5 * time.Minute

// Resolver is the caching Provider implementation. It normalizes the dialed
// number, serves fresh cache hits, suppresses duplicate concurrent loads per
// number, and falls back to a default context when the store has no mapping
// or fails.
type Resolver struct {
	store    Store
	fallback *OrganizationContext
	ttl      time.Duration
	now      func() time.Time
	log      *slog.Logger

	group singleflight.Group

	mu    sync.Mutex
	cache map[string]cacheEntry
}

type cacheEntry struct {
	org     *OrganizationContext
	expires time.Time
}

// Compile-time interface check.
var _ Provider = (*Resolver)(nil)

// ResolverOption is a functional option for Resolver.
type ResolverOption func(*Resolver)

// WithTTL overrides the cache entry lifetime.
func WithTTL(ttl time.Duration) ResolverOption {
	return func(r *Resolver) { r.ttl = ttl }
}

// WithClock overrides the time source. Tests use it to force expiry.
func WithClock(now func() time.Time) ResolverOption {
	return func(r *Resolver) { r.now = now }
}

// WithLogger sets the logger for fallback and store-failure events.
func WithLogger(log *slog.Logger) ResolverOption {
	return func(r *Resolver) { r.log = log }
}

// NewResolver creates a Resolver over a store. fallback is the context served
// for unmapped numbers and on store failure; it must not be nil.
func NewResolver(store Store, fallback *OrganizationContext, opts ...ResolverOption) (*Resolver, error) {
	if store == nil {
		return nil, errors.New("orgctx: store must not be nil")
	}
	if fallback == nil {
		return nil, errors.New("orgctx: fallback context must not be nil")
	}
	r := &Resolver{
		store:    store,
		fallback: fallback,
		ttl:      defaultTTL,
		now:      time.Now,
		log:      slog.Default(),
		cache:    make(map[string]cacheEntry),
	}
	for _, o := range opts {
		o(r)
	}
	return r, nil
}

// Resolve implements Provider. The returned context is shared; callers must
// not mutate it.
func (r *Resolver) Resolve(ctx context.Context, dialedNumber string) (*OrganizationContext, error) {
	key := NormalizeE164(dialedNumber)

	r.mu.Lock()
	entry, ok := r.cache[key]
	r.mu.Unlock()
	if ok && r.now().Before(entry.expires) {
		return entry.org, nil
	}

	v, err, _ := r.group.Do(key, func() (any, error) {
		org, err := r.store.Lookup(ctx, key)
		if err != nil {
			return nil, err
		}
		r.mu.Lock()
		r.cache[key] = cacheEntry{org: org, expires: r.now().Add(r.ttl)}
		r.mu.Unlock()
		return org, nil
	})
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			r.log.WarnContext(ctx, "org lookup failed, serving default context",
				"number", key, "error", err)
		}
		return r.fallback, nil
	}
	return v.(*OrganizationContext), nil
}

// Invalidate drops the cached entry for a number so the next Resolve reloads
// it from the store.
func (r *Resolver) Invalidate(number string) {
	key := NormalizeE164(number)
	r.mu.Lock()
	delete(r.cache, key)
	r.mu.Unlock()
}
