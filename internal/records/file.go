package records

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/bcnelson/stack-traffic-manager/internal/domain"
	"github.com/go-logr/logr"
)

// zoneFile is the on-disk layout: weighted records keyed by normalized domain.
type zoneFile struct {
	Domains map[string][]domain.WeightedRecord `json:"domains"`
}

// FileStore keeps weighted record sets in a JSON file.
// It is meant for local testing and dry environments without a DNS provider.
type FileStore struct {
	filePath string
	log      logr.Logger
	mu       sync.RWMutex
}

// Ensure FileStore implements Store.
var _ Store = (*FileStore)(nil)

// NewFileStore creates a file-backed store.
func NewFileStore(filePath string, log logr.Logger) *FileStore {
	return &FileStore{
		filePath: filePath,
		log:      log.WithName("zone-file"),
	}
}

// ReadRecords reads the records of a domain from the file.
func (f *FileStore) ReadRecords(ctx context.Context, domainName string) (*domain.RecordSet, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	zone, err := f.load()
	if err != nil {
		return nil, err
	}

	name := domain.NormalizeDomain(domainName)
	recs := zone.Domains[name]
	return &domain.RecordSet{
		Domain:   name,
		Records:  recs,
		Revision: Revision(recs),
	}, nil
}

// ApplyChanges writes the batch to the file.
func (f *FileStore) ApplyChanges(ctx context.Context, batch *domain.ChangeBatch) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	zone, err := f.load()
	if err != nil {
		return "", err
	}

	name := domain.NormalizeDomain(batch.Domain)
	current := zone.Domains[name]

	// Check revision for optimistic locking (if provided)
	if batch.Revision != "" && batch.Revision != Revision(current) {
		return "", fmt.Errorf("%w: domain %s changed since it was read", domain.ErrRevisionMismatch, name)
	}

	merged, err := Merge(current, batch.Changes)
	if err != nil {
		return "", err
	}
	zone.Domains[name] = merged

	if err := f.save(zone); err != nil {
		return "", err
	}

	revision := Revision(merged)
	f.log.V(1).Info("Applied change batch", "domain", name, "changes", len(batch.Changes), "revision", revision[:12])
	return revision, nil
}

func (f *FileStore) load() (*zoneFile, error) {
	zone := &zoneFile{Domains: map[string][]domain.WeightedRecord{}}
	data, err := os.ReadFile(f.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			// Return empty zone if file doesn't exist
			return zone, nil
		}
		return nil, fmt.Errorf("reading zone file: %w", err)
	}
	if err := json.Unmarshal(data, zone); err != nil {
		return nil, fmt.Errorf("parsing zone file: %w", err)
	}
	// hand-written files may use any spelling of a domain
	keys := make([]string, 0, len(zone.Domains))
	for k := range zone.Domains {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	normalized := make(map[string][]domain.WeightedRecord, len(keys))
	for _, k := range keys {
		name := domain.NormalizeDomain(k)
		normalized[name] = append(normalized[name], zone.Domains[k]...)
	}
	zone.Domains = normalized
	return zone, nil
}

func (f *FileStore) save(zone *zoneFile) error {
	data, err := json.MarshalIndent(zone, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling zone file: %w", err)
	}

	// Write next to the target and rename so readers never see a partial file
	tmp, err := os.CreateTemp(filepath.Dir(f.filePath), ".zone-*.json")
	if err != nil {
		return fmt.Errorf("writing zone file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("writing zone file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("writing zone file: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.filePath); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("writing zone file: %w", err)
	}
	return nil
}
