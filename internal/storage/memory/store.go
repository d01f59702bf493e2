package memory

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/bcnelson/stack-traffic-manager/internal/directory"
	"github.com/bcnelson/stack-traffic-manager/internal/domain"
	"github.com/bcnelson/stack-traffic-manager/internal/records"
	"github.com/bcnelson/stack-traffic-manager/internal/storage"
)

var (
	_ storage.Storage     = (*Store)(nil)
	_ directory.Directory = (*Store)(nil)
	_ records.Store       = (*Store)(nil)
)

type zone struct {
	serial  int64
	records []domain.WeightedRecord
}

// Store is an in-memory implementation of the storage interface for testing.
type Store struct {
	mu sync.RWMutex

	apiKeys  map[string]*domain.APIKey
	versions map[string]domain.StackVersion // key: application-version
	zones    map[string]*zone               // key: normalized domain

	// FailApply, when set, is returned by ApplyChanges before anything is applied.
	FailApply error
}

// New creates a new in-memory store.
func New() *Store {
	return &Store{
		apiKeys:  make(map[string]*domain.APIKey),
		versions: make(map[string]domain.StackVersion),
		zones:    make(map[string]*zone),
	}
}

func (s *Store) Close() error { return nil }

// ============================================
// API Keys
// ============================================

func (s *Store) CreateAPIKey(ctx context.Context, key *domain.APIKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.apiKeys[key.ID]; exists {
		return domain.ErrAlreadyExists
	}
	s.apiKeys[key.ID] = key
	return nil
}

func (s *Store) GetAPIKeyByHash(ctx context.Context, keyHash string) (*domain.APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, key := range s.apiKeys {
		if key.KeyHash == keyHash {
			return key, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (s *Store) ListAPIKeys(ctx context.Context) ([]*domain.APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]*domain.APIKey, 0, len(s.apiKeys))
	for _, key := range s.apiKeys {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].CreatedAt.After(keys[j].CreatedAt) })
	return keys, nil
}

func (s *Store) DeleteAPIKey(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.apiKeys[id]; !exists {
		return domain.ErrNotFound
	}
	delete(s.apiKeys, id)
	return nil
}

func (s *Store) UpdateAPIKeyLastUsed(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key, exists := s.apiKeys[id]
	if !exists {
		return domain.ErrNotFound
	}
	now := time.Now()
	key.LastUsedAt = &now
	return nil
}

func (s *Store) CountAPIKeys(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.apiKeys), nil
}

// ============================================
// Version inventory
// ============================================

func (s *Store) RegisterVersion(ctx context.Context, version *domain.StackVersion) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := *version
	v.Domain = domain.NormalizeDomain(v.Domain)
	s.versions[v.Identifier()] = v
	return nil
}

func (s *Store) DeregisterVersion(ctx context.Context, application, version string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := domain.RecordIdentifier(application, version)
	if _, exists := s.versions[key]; !exists {
		return domain.ErrNotFound
	}
	delete(s.versions, key)
	return nil
}

func (s *Store) ListVersions(ctx context.Context, application string) ([]domain.StackVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var versions []domain.StackVersion
	for _, v := range s.versions {
		if v.Application == application {
			versions = append(versions, v)
		}
	}
	sort.Slice(versions, func(i, j int) bool { return versions[i].Version < versions[j].Version })
	return versions, nil
}

// ============================================
// Weighted zone
// ============================================

func (s *Store) ReadRecords(ctx context.Context, domainName string) (*domain.RecordSet, error) {
	name := domain.NormalizeDomain(domainName)
	s.mu.RLock()
	defer s.mu.RUnlock()
	set := &domain.RecordSet{Domain: name, Revision: "0"}
	if z, ok := s.zones[name]; ok {
		set.Records = make([]domain.WeightedRecord, len(z.records))
		copy(set.Records, z.records)
		set.Revision = strconv.FormatInt(z.serial, 10)
	}
	return set, nil
}

func (s *Store) ApplyChanges(ctx context.Context, batch *domain.ChangeBatch) (string, error) {
	name := domain.NormalizeDomain(batch.Domain)
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.FailApply != nil {
		return "", s.FailApply
	}

	z, ok := s.zones[name]
	if !ok {
		z = &zone{}
	}
	if batch.Revision != "" && batch.Revision != strconv.FormatInt(z.serial, 10) {
		return "", fmt.Errorf("zone %s at serial %d: %w", name, z.serial, domain.ErrRevisionMismatch)
	}

	merged, err := records.Merge(z.records, batch.Changes)
	if err != nil {
		return "", err
	}
	z.records = merged
	z.serial++
	s.zones[name] = z
	return strconv.FormatInt(z.serial, 10), nil
}
