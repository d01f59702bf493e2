package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bcnelson/stack-traffic-manager/internal/directory"
	"github.com/bcnelson/stack-traffic-manager/internal/domain"
	"github.com/bcnelson/stack-traffic-manager/internal/metrics"
	"github.com/bcnelson/stack-traffic-manager/internal/records"
	"github.com/bcnelson/stack-traffic-manager/internal/validation"
	"github.com/bcnelson/stack-traffic-manager/internal/weights"
	"github.com/go-logr/logr"
	"github.com/sethvargo/go-retry"
)

// Options tunes how the TrafficService computes and submits changes.
type Options struct {
	Strategy weights.Strategy
	// OptimisticLocking submits every batch with the revision it was computed from.
	OptimisticLocking bool
	// Retries is the number of recomputations after a revision mismatch.
	Retries       int
	RetryInterval time.Duration
	// RecordType and TTL are used for the first record of an empty domain.
	// Later records copy the shape of the existing ones.
	RecordType string
	TTL        int64
}

// DefaultOptions returns the options used when nothing is configured.
func DefaultOptions() Options {
	return Options{
		Strategy:          weights.Proportional,
		OptimisticLocking: true,
		Retries:           3,
		RetryInterval:     500 * time.Millisecond,
		RecordType:        "CNAME",
		TTL:               20,
	}
}

// TrafficService shifts the traffic of an application between its live versions
// by rewriting the weights of the domain's weighted records.
// It holds no state of its own; the record set is re-read for every operation.
type TrafficService struct {
	directory directory.Directory
	store     records.Store
	opts      Options
	log       logr.Logger
	metrics   metrics.Recorder
}

// NewTrafficService creates a new TrafficService.
func NewTrafficService(dir directory.Directory, store records.Store, opts Options, log logr.Logger, rec metrics.Recorder) *TrafficService {
	if rec == nil {
		rec = metrics.Nop{}
	}
	if opts.RecordType == "" {
		opts.RecordType = "CNAME"
	}
	if opts.RetryInterval <= 0 {
		opts.RetryInterval = time.Millisecond
	}
	return &TrafficService{
		directory: dir,
		store:     store,
		opts:      opts,
		log:       log.WithName("traffic"),
		metrics:   rec,
	}
}

// snapshot is everything one attempt reads before computing weights.
type snapshot struct {
	domain   string
	versions map[string]domain.StackVersion // key: record identifier
	set      *domain.RecordSet
}

// Versions returns the live versions of an application.
func (s *TrafficService) Versions(ctx context.Context, application string) ([]domain.StackVersion, error) {
	if err := validation.ValidateApplicationName(application); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrInvalidInput, err)
	}
	versions, err := s.directory.ListVersions(ctx, application)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrDirectoryFailure, err)
	}
	if len(versions) == 0 {
		return nil, fmt.Errorf("application %s has no live versions: %w", application, domain.ErrNotFound)
	}
	return versions, nil
}

// Distribution returns the current traffic distribution of an application
// without changing anything.
func (s *TrafficService) Distribution(ctx context.Context, application string) (*domain.RebalanceResult, error) {
	snap, err := s.read(ctx, application)
	if err != nil {
		return nil, err
	}
	result := &domain.RebalanceResult{
		Application: application,
		Domain:      snap.domain,
		Revision:    snap.set.Revision,
	}
	for _, r := range snap.set.Records {
		v := snap.versions[r.Identifier]
		result.Records = append(result.Records, domain.RecordWeight{
			Identifier: r.Identifier,
			Version:    v.Version,
			Endpoint:   v.Endpoint,
			OldWeight:  r.Weight,
			Weight:     r.Weight,
		})
	}
	return result, nil
}

// SetWeight gives a version the requested share of its domain's traffic and
// rebalances the other records so the weights keep summing to domain.TotalWeight.
//
// When the version is the only record carrying traffic and the request would
// lower it without reaching 0, nothing is submitted and the unchanged
// distribution is returned together with domain.ErrUnsafeReduction.
func (s *TrafficService) SetWeight(ctx context.Context, req *domain.RebalanceRequest) (*domain.RebalanceResult, error) {
	result, err := s.setWeight(ctx, req)
	s.metrics.RecordRebalance(req.Application, outcome(result, err))
	return result, err
}

func (s *TrafficService) setWeight(ctx context.Context, req *domain.RebalanceRequest) (*domain.RebalanceResult, error) {
	if err := validation.ValidateRebalanceRequest(req); err != nil {
		return nil, err
	}

	var result *domain.RebalanceResult
	backoff := retry.WithMaxRetries(uint64(max(0, s.opts.Retries)), retry.NewConstant(s.opts.RetryInterval))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		var err error
		result, err = s.attempt(ctx, req)
		if errors.Is(err, domain.ErrRevisionMismatch) && req.Revision == "" && !req.DryRun {
			s.log.V(1).Info("record set changed concurrently, recomputing",
				"application", req.Application, "version", req.Version)
			return retry.RetryableError(err)
		}
		return err
	})
	return result, err
}

// attempt performs one read-compute-submit cycle.
func (s *TrafficService) attempt(ctx context.Context, req *domain.RebalanceRequest) (*domain.RebalanceResult, error) {
	snap, err := s.read(ctx, req.Application)
	if err != nil {
		return nil, err
	}

	targetID := domain.RecordIdentifier(req.Application, req.Version)
	target, live := snap.versions[targetID]
	if !live {
		return nil, fmt.Errorf("version %s of %s is not live: %w", req.Version, req.Application, domain.ErrNotFound)
	}
	if req.Revision != "" && req.Revision != snap.set.Revision {
		return nil, fmt.Errorf("record set of %s is at revision %s, not %s: %w",
			snap.domain, snap.set.Revision, req.Revision, domain.ErrRevisionMismatch)
	}
	if _, exists := snap.set.Find(targetID); !exists && req.RequireExisting {
		return nil, fmt.Errorf("no weighted record %s on %s: %w", targetID, snap.domain, domain.ErrNotFound)
	}

	entries := make([]weights.Entry, 0, len(snap.set.Records))
	for _, r := range snap.set.Records {
		entries = append(entries, weights.Entry{
			Identifier: r.Identifier,
			Version:    snap.versions[r.Identifier].Version,
			Weight:     r.Weight,
		})
	}

	alloc, allocErr := weights.Allocate(weights.Input{
		Entries:       entries,
		Target:        targetID,
		TargetVersion: req.Version,
		Weight:        domain.PercentageToWeight(req.Percentage),
		Strategy:      s.opts.Strategy,
	})
	if allocErr != nil && !errors.Is(allocErr, domain.ErrUnsafeReduction) {
		return nil, allocErr
	}

	result := s.result(req, snap, alloc)
	if allocErr != nil {
		s.log.Info("refusing to lower the only version receiving traffic",
			"application", req.Application, "version", req.Version, "percentage", req.Percentage)
		return result, allocErr
	}

	if alloc.Created && alloc.Changed(alloc.Target) && strings.TrimSpace(target.Endpoint) == "" {
		return nil, fmt.Errorf("version %s of %s has no endpoint to point a new record at: %w",
			req.Version, req.Application, domain.ErrInconsistentInfrastructure)
	}

	result.Changes = s.changes(snap, alloc, target)
	if result.Adjusted() {
		s.log.Info("requested weight adjusted to keep the total",
			"identifier", targetID,
			"requested", domain.WeightToPercentage(alloc.Requested),
			"applied", domain.WeightToPercentage(alloc.Applied))
	}
	if len(result.Changes) == 0 {
		s.log.V(1).Info("distribution already matches request", "application", req.Application)
		return result, nil
	}
	if req.DryRun {
		result.DryRun = true
		return result, nil
	}

	batch := &domain.ChangeBatch{
		Domain:  snap.domain,
		Changes: result.Changes,
		Comment: fmt.Sprintf("traffic: %s %.1f%%", targetID, domain.WeightToPercentage(alloc.Applied)),
	}
	if s.opts.OptimisticLocking || req.Revision != "" {
		batch.Revision = snap.set.Revision
	}

	start := time.Now()
	revision, err := s.store.ApplyChanges(ctx, batch)
	s.metrics.ObserveApply(time.Since(start))
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrRevisionMismatch):
			return nil, err
		case errors.Is(err, domain.ErrAlreadyExists):
			// another writer created the record first
			return nil, fmt.Errorf("%w: %w", domain.ErrRevisionMismatch, err)
		default:
			return nil, fmt.Errorf("%w: %w", domain.ErrStoreFailure, err)
		}
	}
	for _, c := range batch.Changes {
		s.metrics.RecordChange(string(c.Action))
	}

	result.Revision = revision
	result.Applied = true
	s.log.Info("traffic updated",
		"application", req.Application,
		"domain", snap.domain,
		"identifier", targetID,
		"percentage", domain.WeightToPercentage(alloc.Applied),
		"changes", len(batch.Changes),
		"revision", revision)
	return result, nil
}

// read lists the live versions, checks they share one domain and reads its record set.
func (s *TrafficService) read(ctx context.Context, application string) (*snapshot, error) {
	versions, err := s.Versions(ctx, application)
	if err != nil {
		return nil, err
	}

	snap := &snapshot{versions: make(map[string]domain.StackVersion, len(versions))}
	for _, v := range versions {
		name := domain.NormalizeDomain(v.Domain)
		if name == "" {
			return nil, fmt.Errorf("version %s of %s has no domain: %w",
				v.Version, application, domain.ErrInconsistentInfrastructure)
		}
		if snap.domain != "" && snap.domain != name {
			return nil, fmt.Errorf("versions of %s use different domains (%s, %s): %w",
				application, snap.domain, name, domain.ErrInconsistentInfrastructure)
		}
		snap.domain = name
		snap.versions[v.Identifier()] = v
	}

	set, err := s.store.ReadRecords(ctx, snap.domain)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrStoreFailure, err)
	}
	snap.set = set
	s.log.V(2).Info("read record set", "domain", snap.domain, "records", len(set.Records), "revision", set.Revision)
	return snap, nil
}

func (s *TrafficService) result(req *domain.RebalanceRequest, snap *snapshot, alloc *weights.Allocation) *domain.RebalanceResult {
	result := &domain.RebalanceResult{
		Application:     req.Application,
		Domain:          snap.domain,
		Target:          alloc.Entries[alloc.Target].Identifier,
		RequestedWeight: alloc.Requested,
		AppliedWeight:   alloc.Applied,
		Revision:        snap.set.Revision,
	}
	for i, e := range alloc.Entries {
		v := snap.versions[e.Identifier]
		result.Records = append(result.Records, domain.RecordWeight{
			Identifier: e.Identifier,
			Version:    v.Version,
			Endpoint:   v.Endpoint,
			OldWeight:  e.Weight,
			Weight:     alloc.Weights[i],
		})
	}
	return result
}

// changes builds the minimal batch: only records whose weight changes are
// included, and a record for the target is created when it does not exist yet.
func (s *TrafficService) changes(snap *snapshot, alloc *weights.Allocation, target domain.StackVersion) []domain.Change {
	var changes []domain.Change
	for i, e := range alloc.Entries {
		if !alloc.Changed(i) {
			continue
		}
		if i == alloc.Target && alloc.Created {
			rec := s.template(snap)
			rec.Identifier = e.Identifier
			rec.Weight = alloc.Weights[i]
			if rec.Alias != nil {
				rec.Alias.DNSName = target.Endpoint
			} else {
				rec.Values = []string{target.Endpoint}
			}
			changes = append(changes, domain.Change{Action: domain.ChangeCreate, Record: rec})
			continue
		}
		rec, _ := snap.set.Find(e.Identifier)
		rec.Values = append([]string(nil), rec.Values...)
		rec.Weight = alloc.Weights[i]
		changes = append(changes, domain.Change{Action: domain.ChangeUpsert, Record: rec})
	}
	return changes
}

// template returns the shape of a new record: name, type, TTL and alias zone
// are copied from an existing record of the set so the new one can join it.
// An empty set falls back to the configured type and TTL.
func (s *TrafficService) template(snap *snapshot) domain.WeightedRecord {
	if len(snap.set.Records) == 0 {
		return domain.WeightedRecord{
			DNSName: snap.domain + ".",
			Type:    s.opts.RecordType,
			TTL:     s.opts.TTL,
		}
	}
	existing := snap.set.Records[0]
	rec := domain.WeightedRecord{
		DNSName: existing.DNSName,
		Type:    existing.Type,
		TTL:     existing.TTL,
	}
	if existing.Alias != nil {
		rec.Alias = &domain.AliasTarget{
			HostedZoneID:         existing.Alias.HostedZoneID,
			EvaluateTargetHealth: existing.Alias.EvaluateTargetHealth,
		}
	}
	return rec
}

func outcome(result *domain.RebalanceResult, err error) string {
	switch {
	case err == nil && result.DryRun:
		return metrics.OutcomeDryRun
	case err == nil && result.Applied:
		return metrics.OutcomeApplied
	case err == nil:
		return metrics.OutcomeNoop
	case errors.Is(err, domain.ErrUnsafeReduction):
		return metrics.OutcomeUnsafe
	case errors.Is(err, domain.ErrRevisionMismatch):
		return metrics.OutcomeConflict
	case errors.Is(err, domain.ErrNotFound):
		return metrics.OutcomeNotFound
	case errors.Is(err, domain.ErrInvalidInput):
		return metrics.OutcomeInvalid
	case errors.Is(err, domain.ErrInconsistentInfrastructure):
		return metrics.OutcomeInconsist
	default:
		return metrics.OutcomeFailed
	}
}
