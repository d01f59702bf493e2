// Package records defines the weighted record store the traffic controller reads
// and mutates, and provides implementations backed by Route53 and a JSON zone file.
package records

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/bcnelson/stack-traffic-manager/internal/domain"
)

// Store reads and mutates the weighted record set of a domain.
// Implementations must be safe for concurrent use.
type Store interface {
	// ReadRecords returns the weighted records of domainName in the store's natural order.
	ReadRecords(ctx context.Context, domainName string) (*domain.RecordSet, error)
	// ApplyChanges submits the batch as one unit and returns the new revision.
	// When batch.Revision is set and no longer matches, nothing is applied and
	// domain.ErrRevisionMismatch is returned.
	ApplyChanges(ctx context.Context, batch *domain.ChangeBatch) (string, error)
}

// Revision derives a stable tag from the identifiers and weights of a record set.
// Stores without a native version counter use it for optimistic checks.
func Revision(recs []domain.WeightedRecord) string {
	lines := make([]string, 0, len(recs))
	for _, r := range recs {
		lines = append(lines, r.Identifier+"="+strconv.Itoa(r.Weight)+"="+strings.Join(r.Values, ","))
	}
	sort.Strings(lines)
	hash := sha256.Sum256([]byte(strings.Join(lines, "\n")))
	return hex.EncodeToString(hash[:])
}

// Merge applies changes to a copy of recs. CREATE of an existing identifier
// fails with domain.ErrAlreadyExists; UPSERT replaces or appends.
func Merge(recs []domain.WeightedRecord, changes []domain.Change) ([]domain.WeightedRecord, error) {
	out := make([]domain.WeightedRecord, len(recs))
	copy(out, recs)
	index := make(map[string]int, len(out))
	for i, r := range out {
		index[r.Identifier] = i
	}

	for _, c := range changes {
		i, exists := index[c.Record.Identifier]
		switch c.Action {
		case domain.ChangeCreate:
			if exists {
				return nil, fmt.Errorf("record %s: %w", c.Record.Identifier, domain.ErrAlreadyExists)
			}
			index[c.Record.Identifier] = len(out)
			out = append(out, c.Record)
		case domain.ChangeUpsert:
			if exists {
				out[i] = c.Record
				continue
			}
			index[c.Record.Identifier] = len(out)
			out = append(out, c.Record)
		default:
			return nil, fmt.Errorf("%w: unsupported change action %q", domain.ErrInvalidInput, c.Action)
		}
	}
	return out, nil
}
