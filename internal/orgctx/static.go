package orgctx

import (
	"context"
	"sync"
)

// StaticStore is an in-memory Store for development and tests. Entries are
// keyed by E.164 number.
type StaticStore struct {
	mu   sync.RWMutex
	byNo map[string]*OrganizationContext
}

// Compile-time interface check.
var _ Store = (*StaticStore)(nil)

// NewStaticStore creates an empty StaticStore.
func NewStaticStore() *StaticStore {
	return &StaticStore{byNo: make(map[string]*OrganizationContext)}
}

// Put registers an organization for a number. The number is normalized before
// insertion.
func (s *StaticStore) Put(number string, org *OrganizationContext) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byNo[NormalizeE164(number)] = org
}

// Lookup implements Store.
func (s *StaticStore) Lookup(_ context.Context, e164 string) (*OrganizationContext, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	org, ok := s.byNo[e164]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *org
	return &cp, nil
}
