package records

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/route53"
	"github.com/aws/aws-sdk-go-v2/service/route53/types"
	"github.com/bcnelson/stack-traffic-manager/internal/domain"
	"github.com/go-logr/logr"
)

// Route53API is the subset of the Route53 client used by Route53Store.
type Route53API interface {
	route53.ListHostedZonesAPIClient
	route53.GetChangeAPIClient
	ListResourceRecordSets(ctx context.Context, params *route53.ListResourceRecordSetsInput, optFns ...func(*route53.Options)) (*route53.ListResourceRecordSetsOutput, error)
	ChangeResourceRecordSets(ctx context.Context, params *route53.ChangeResourceRecordSetsInput, optFns ...func(*route53.Options)) (*route53.ChangeResourceRecordSetsOutput, error)
}

// Route53Store manages weighted record sets in Route53 hosted zones.
type Route53Store struct {
	client       Route53API
	hostedZoneID string
	waitForSync  time.Duration
	log          logr.Logger

	mu    sync.Mutex
	zones map[string]string // domain -> hosted zone id
}

// Ensure Route53Store implements Store.
var _ Store = (*Route53Store)(nil)

// Route53Option configures a Route53Store.
type Route53Option func(*Route53Store)

// WithHostedZoneID pins every domain to one hosted zone instead of looking it up.
func WithHostedZoneID(id string) Route53Option {
	return func(s *Route53Store) { s.hostedZoneID = id }
}

// WithWaitForSync makes ApplyChanges block until Route53 reports the change as INSYNC.
func WithWaitForSync(d time.Duration) Route53Option {
	return func(s *Route53Store) { s.waitForSync = d }
}

// NewRoute53Store creates a Route53-backed store.
func NewRoute53Store(client Route53API, log logr.Logger, opts ...Route53Option) *Route53Store {
	s := &Route53Store{
		client: client,
		log:    log.WithName("route53"),
		zones:  make(map[string]string),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ReadRecords lists the weighted records of a domain.
func (s *Route53Store) ReadRecords(ctx context.Context, domainName string) (*domain.RecordSet, error) {
	name := domain.NormalizeDomain(domainName)
	zoneID, err := s.zoneFor(ctx, name)
	if err != nil {
		return nil, err
	}

	recs, err := s.list(ctx, zoneID, name)
	if err != nil {
		return nil, err
	}
	return &domain.RecordSet{Domain: name, Records: recs, Revision: Revision(recs)}, nil
}

// ApplyChanges submits the batch as a single ChangeResourceRecordSets call.
// Route53 has no revision counter, so the optimistic check re-reads the record
// set right before submitting.
func (s *Route53Store) ApplyChanges(ctx context.Context, batch *domain.ChangeBatch) (string, error) {
	name := domain.NormalizeDomain(batch.Domain)
	zoneID, err := s.zoneFor(ctx, name)
	if err != nil {
		return "", err
	}

	current, err := s.list(ctx, zoneID, name)
	if err != nil {
		return "", err
	}
	if batch.Revision != "" && batch.Revision != Revision(current) {
		return "", fmt.Errorf("%w: domain %s changed since it was read", domain.ErrRevisionMismatch, name)
	}
	merged, err := Merge(current, batch.Changes)
	if err != nil {
		return "", err
	}

	changes := make([]types.Change, 0, len(batch.Changes))
	for _, c := range batch.Changes {
		action := types.ChangeActionUpsert
		if c.Action == domain.ChangeCreate {
			action = types.ChangeActionCreate
		}
		changes = append(changes, types.Change{
			Action:            action,
			ResourceRecordSet: toResourceRecordSet(c.Record),
		})
	}

	input := &route53.ChangeResourceRecordSetsInput{
		HostedZoneId: aws.String(zoneID),
		ChangeBatch:  &types.ChangeBatch{Changes: changes},
	}
	if batch.Comment != "" {
		input.ChangeBatch.Comment = aws.String(batch.Comment)
	}
	out, err := s.client.ChangeResourceRecordSets(ctx, input)
	if err != nil {
		return "", err
	}

	if s.waitForSync > 0 && out.ChangeInfo != nil {
		s.log.V(1).Info("Waiting for change to propagate", "change", aws.ToString(out.ChangeInfo.Id))
		waiter := route53.NewResourceRecordSetsChangedWaiter(s.client)
		if err := waiter.Wait(ctx, &route53.GetChangeInput{Id: out.ChangeInfo.Id}, s.waitForSync); err != nil {
			return "", fmt.Errorf("waiting for change %s: %w", aws.ToString(out.ChangeInfo.Id), err)
		}
	}

	return Revision(merged), nil
}

func (s *Route53Store) list(ctx context.Context, zoneID, name string) ([]domain.WeightedRecord, error) {
	var recs []domain.WeightedRecord
	// Weighted records of one set share a type. Dual-stack aliases repeat every
	// identifier as A and AAAA; the first type listed wins and the others are
	// left alone.
	var kind types.RRType
	seen := make(map[string]bool)
	input := &route53.ListResourceRecordSetsInput{
		HostedZoneId:    aws.String(zoneID),
		StartRecordName: aws.String(name + "."),
	}
	for {
		out, err := s.client.ListResourceRecordSets(ctx, input)
		if err != nil {
			return nil, err
		}
		for _, rrs := range out.ResourceRecordSets {
			if domain.NormalizeDomain(aws.ToString(rrs.Name)) != name {
				// record sets are sorted by name, nothing after this belongs to the domain
				return recs, nil
			}
			if rrs.SetIdentifier == nil || rrs.Weight == nil {
				continue
			}
			if kind == "" {
				kind = rrs.Type
			}
			id := aws.ToString(rrs.SetIdentifier)
			if rrs.Type != kind || seen[id] {
				s.log.V(1).Info("skipping weighted record of another type", "name", name, "identifier", id, "type", rrs.Type)
				continue
			}
			seen[id] = true
			recs = append(recs, fromResourceRecordSet(rrs))
		}
		if !out.IsTruncated {
			return recs, nil
		}
		input.StartRecordName = out.NextRecordName
		input.StartRecordType = out.NextRecordType
		input.StartRecordIdentifier = out.NextRecordIdentifier
	}
}

// zoneFor resolves the hosted zone holding name: the longest zone name that is a suffix.
func (s *Route53Store) zoneFor(ctx context.Context, name string) (string, error) {
	if s.hostedZoneID != "" {
		return s.hostedZoneID, nil
	}

	s.mu.Lock()
	id, ok := s.zones[name]
	s.mu.Unlock()
	if ok {
		return id, nil
	}

	best, bestLen := "", -1
	paginator := route53.NewListHostedZonesPaginator(s.client, &route53.ListHostedZonesInput{})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return "", err
		}
		for _, zone := range page.HostedZones {
			if zone.Config != nil && zone.Config.PrivateZone {
				continue
			}
			zoneName := domain.NormalizeDomain(aws.ToString(zone.Name))
			if name != zoneName && !strings.HasSuffix(name, "."+zoneName) {
				continue
			}
			if len(zoneName) > bestLen {
				best, bestLen = strings.TrimPrefix(aws.ToString(zone.Id), "/hostedzone/"), len(zoneName)
			}
		}
	}
	if best == "" {
		return "", fmt.Errorf("hosted zone for %s: %w", name, domain.ErrNotFound)
	}

	s.mu.Lock()
	s.zones[name] = best
	s.mu.Unlock()
	return best, nil
}

func fromResourceRecordSet(rrs types.ResourceRecordSet) domain.WeightedRecord {
	rec := domain.WeightedRecord{
		Identifier: aws.ToString(rrs.SetIdentifier),
		DNSName:    aws.ToString(rrs.Name),
		Type:       string(rrs.Type),
		TTL:        aws.ToInt64(rrs.TTL),
		Weight:     int(aws.ToInt64(rrs.Weight)),
	}
	for _, rr := range rrs.ResourceRecords {
		rec.Values = append(rec.Values, aws.ToString(rr.Value))
	}
	if rrs.AliasTarget != nil {
		rec.Alias = &domain.AliasTarget{
			HostedZoneID:         aws.ToString(rrs.AliasTarget.HostedZoneId),
			DNSName:              aws.ToString(rrs.AliasTarget.DNSName),
			EvaluateTargetHealth: rrs.AliasTarget.EvaluateTargetHealth,
		}
	}
	return rec
}

func toResourceRecordSet(rec domain.WeightedRecord) *types.ResourceRecordSet {
	rrs := &types.ResourceRecordSet{
		Name:          aws.String(rec.DNSName),
		Type:          types.RRType(rec.Type),
		SetIdentifier: aws.String(rec.Identifier),
		Weight:        aws.Int64(int64(rec.Weight)),
	}
	if rec.Alias != nil {
		rrs.AliasTarget = &types.AliasTarget{
			HostedZoneId:         aws.String(rec.Alias.HostedZoneID),
			DNSName:              aws.String(rec.Alias.DNSName),
			EvaluateTargetHealth: rec.Alias.EvaluateTargetHealth,
		}
		return rrs
	}
	rrs.TTL = aws.Int64(rec.TTL)
	for _, v := range rec.Values {
		rrs.ResourceRecords = append(rrs.ResourceRecords, types.ResourceRecord{Value: aws.String(v)})
	}
	return rrs
}
