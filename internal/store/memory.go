package store

import (
	"context"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// MemorySourceStore is an in-memory SourceStore for tests and local runs.
type MemorySourceStore struct {
	mu      sync.RWMutex
	sources []Source
}

// NewMemorySourceStore seeds the store with the provided sources.
func NewMemorySourceStore(sources ...Source) *MemorySourceStore {
	return &MemorySourceStore{sources: append([]Source(nil), sources...)}
}

// GetByURL implements SourceStore.
func (s *MemorySourceStore) GetByURL(_ context.Context, url string) (Source, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, src := range s.sources {
		if strings.EqualFold(src.URL, url) {
			return src, nil
		}
	}
	return Source{}, ErrNotFound
}

// ListActive implements SourceStore.
func (s *MemorySourceStore) ListActive(context.Context) ([]Source, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Source
	for _, src := range s.sources {
		if src.Active {
			out = append(out, src)
		}
	}
	return out, nil
}

// MemoryArticleStore is an in-memory ArticleStore.
type MemoryArticleStore struct {
	mu       sync.RWMutex
	articles map[string]Article
}

// NewMemoryArticleStore returns an empty article store.
func NewMemoryArticleStore() *MemoryArticleStore {
	return &MemoryArticleStore{articles: make(map[string]Article)}
}

// ExistsByURL implements ArticleStore.
func (s *MemoryArticleStore) ExistsByURL(_ context.Context, url string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.articles[url]
	return ok, nil
}

// Insert implements ArticleStore.
func (s *MemoryArticleStore) Insert(_ context.Context, a Article) (uuid.UUID, error) {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.articles[a.URL] = a
	return a.ID, nil
}

// Len reports the number of stored articles.
func (s *MemoryArticleStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.articles)
}

// MemoryIdentityStore maps subjects to identities.
type MemoryIdentityStore struct {
	mu         sync.RWMutex
	identities map[string]Identity
}

// NewMemoryIdentityStore seeds the store with the provided identities.
func NewMemoryIdentityStore(identities ...Identity) *MemoryIdentityStore {
	m := make(map[string]Identity, len(identities))
	for _, ident := range identities {
		m[ident.Subject] = ident
	}
	return &MemoryIdentityStore{identities: m}
}

// ResolveSubject implements IdentityStore.
func (s *MemoryIdentityStore) ResolveSubject(_ context.Context, subject string) (Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ident, ok := s.identities[subject]
	if !ok {
		return Identity{}, ErrNotFound
	}
	return ident, nil
}

// MemoryPermissionStore grants diagnostics access to an allow-set of IDs.
type MemoryPermissionStore struct {
	mu      sync.RWMutex
	allowed map[uuid.UUID]bool
	err     error
}

// NewMemoryPermissionStore grants access to the provided identity IDs.
func NewMemoryPermissionStore(allowed ...uuid.UUID) *MemoryPermissionStore {
	m := make(map[uuid.UUID]bool, len(allowed))
	for _, id := range allowed {
		m[id] = true
	}
	return &MemoryPermissionStore{allowed: m}
}

// FailWith makes every check return err, for fail-secure tests.
func (s *MemoryPermissionStore) FailWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

// CanViewDiagnostics implements PermissionStore.
func (s *MemoryPermissionStore) CanViewDiagnostics(_ context.Context, identityID uuid.UUID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.err != nil {
		return false, s.err
	}
	return s.allowed[identityID], nil
}
