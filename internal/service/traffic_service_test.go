package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/bcnelson/stack-traffic-manager/internal/domain"
	"github.com/bcnelson/stack-traffic-manager/internal/storage/memory"
	"github.com/bcnelson/stack-traffic-manager/internal/weights"
	"github.com/go-logr/logr"
)

const testDomain = "myapp.example.org"

type recordingMetrics struct {
	outcomes []string
	changes  []string
}

func (m *recordingMetrics) RecordRebalance(_ string, outcome string) {
	m.outcomes = append(m.outcomes, outcome)
}
func (m *recordingMetrics) RecordChange(action string)   { m.changes = append(m.changes, action) }
func (m *recordingMetrics) ObserveApply(_ time.Duration) {}

func testOptions() Options {
	opts := DefaultOptions()
	opts.RetryInterval = time.Millisecond
	return opts
}

// setup registers versions v1..vN of myapp and seeds one record per weight.
// A negative weight skips the record so the version is live without one.
func setup(t *testing.T, ws ...int) (*memory.Store, *TrafficService, *recordingMetrics) {
	t.Helper()
	ctx := context.Background()
	store := memory.New()

	var changes []domain.Change
	for i, w := range ws {
		version := fmt.Sprintf("v%d", i+1)
		err := store.RegisterVersion(ctx, &domain.StackVersion{
			Application: "myapp",
			Version:     version,
			Domain:      testDomain,
			Endpoint:    "myapp-" + version + ".elb.example.org",
		})
		if err != nil {
			t.Fatalf("RegisterVersion failed: %v", err)
		}
		if w < 0 {
			continue
		}
		changes = append(changes, domain.Change{
			Action: domain.ChangeCreate,
			Record: domain.WeightedRecord{
				Identifier: "myapp-" + version,
				DNSName:    testDomain + ".",
				Type:       "CNAME",
				TTL:        20,
				Weight:     w,
				Values:     []string{"myapp-" + version + ".elb.example.org"},
			},
		})
	}
	if len(changes) > 0 {
		if _, err := store.ApplyChanges(ctx, &domain.ChangeBatch{Domain: testDomain, Changes: changes}); err != nil {
			t.Fatalf("seeding records failed: %v", err)
		}
	}

	rec := &recordingMetrics{}
	return store, NewTrafficService(store, store, testOptions(), logr.Discard(), rec), rec
}

func currentWeights(t *testing.T, store *memory.Store) []int {
	t.Helper()
	set, err := store.ReadRecords(context.Background(), testDomain)
	if err != nil {
		t.Fatalf("ReadRecords failed: %v", err)
	}
	out := make([]int, len(set.Records))
	for i, r := range set.Records {
		out[i] = r.Weight
	}
	return out
}

func equal(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestSetWeight_CompensatingChain(t *testing.T) {
	store, _, _ := setup(t, 120, 60, 20, 0)
	opts := testOptions()
	opts.Strategy = weights.Compensating
	svc := NewTrafficService(store, store, opts, logr.Discard(), nil)
	ctx := context.Background()

	steps := []struct {
		version    string
		percentage float64
		want       []int
		unsafe     bool
	}{
		{"v4", 100, []int{0, 0, 0, 200}, false},
		{"v3", 10, []int{0, 0, 20, 180}, false},
		{"v2", 0.5, []int{0, 1, 20, 179}, false},
		{"v1", 1, []int{2, 1, 19, 178}, false},
		{"v4", 95, []int{1, 1, 13, 185}, false},
		{"v4", 100, []int{0, 0, 0, 200}, false},
		{"v4", 10, []int{0, 0, 0, 200}, true},
		{"v4", 0, []int{0, 0, 0, 0}, false},
	}

	for i, step := range steps {
		result, err := svc.SetWeight(ctx, &domain.RebalanceRequest{
			Application: "myapp",
			Version:     step.version,
			Percentage:  step.percentage,
		})
		if step.unsafe {
			if !errors.Is(err, domain.ErrUnsafeReduction) {
				t.Fatalf("step %d: expected ErrUnsafeReduction, got %v", i+1, err)
			}
		} else if err != nil {
			t.Fatalf("step %d: SetWeight failed: %v", i+1, err)
		}
		if result == nil {
			t.Fatalf("step %d: expected a distribution", i+1)
		}
		if got := currentWeights(t, store); !equal(got, step.want) {
			t.Errorf("step %d: %s -> %v%%: got %v, want %v", i+1, step.version, step.percentage, got, step.want)
		}
		for j, r := range result.Records {
			if r.Weight != step.want[j] {
				t.Errorf("step %d: result weight of %s = %d, want %d", i+1, r.Identifier, r.Weight, step.want[j])
			}
		}
	}
}

func TestSetWeight_UnsafeReductionSubmitsNothing(t *testing.T) {
	store, svc, rec := setup(t, 0, 0, 0, 200)
	before, _ := store.ReadRecords(context.Background(), testDomain)

	result, err := svc.SetWeight(context.Background(), &domain.RebalanceRequest{
		Application: "myapp", Version: "v4", Percentage: 10,
	})
	if !errors.Is(err, domain.ErrUnsafeReduction) {
		t.Fatalf("Expected ErrUnsafeReduction, got %v", err)
	}
	if result.Applied || len(result.Changes) != 0 {
		t.Errorf("Expected nothing applied, got %+v", result)
	}
	if result.Weights()["myapp-v4"] != 200 {
		t.Errorf("Expected unchanged distribution, got %v", result.Weights())
	}

	after, _ := store.ReadRecords(context.Background(), testDomain)
	if after.Revision != before.Revision {
		t.Error("Expected record set to be untouched")
	}
	if rec.outcomes[0] != "unsafe" {
		t.Errorf("Expected unsafe outcome, got %v", rec.outcomes)
	}
}

func TestSetWeight_CreatesNewRecord(t *testing.T) {
	store, svc, rec := setup(t, 150, 50, -1)

	result, err := svc.SetWeight(context.Background(), &domain.RebalanceRequest{
		Application: "myapp", Version: "v3", Percentage: 25,
	})
	if err != nil {
		t.Fatalf("SetWeight failed: %v", err)
	}

	creates := 0
	for _, c := range result.Changes {
		if c.Action == domain.ChangeCreate {
			creates++
			if c.Record.Identifier != "myapp-v3" || c.Record.Values[0] != "myapp-v3.elb.example.org" {
				t.Errorf("Unexpected created record: %+v", c.Record)
			}
			if c.Record.DNSName != testDomain+"." || c.Record.TTL != 20 || c.Record.Type != "CNAME" {
				t.Errorf("Unexpected record shape: %+v", c.Record)
			}
		}
	}
	if creates != 1 {
		t.Fatalf("Expected exactly one CREATE, got %d", creates)
	}

	got := currentWeights(t, store)
	if got[0]+got[1] != domain.TotalWeight-50 || got[2] != 50 {
		t.Errorf("Expected existing records to share 150 and v3 to get 50, got %v", got)
	}
	if len(rec.changes) != len(result.Changes) {
		t.Errorf("Expected %d change metrics, got %d", len(result.Changes), len(rec.changes))
	}
}

func TestSetWeight_NewVersionGetsExactShare(t *testing.T) {
	for _, strategy := range []weights.Strategy{weights.Proportional, weights.Compensating} {
		t.Run(string(strategy), func(t *testing.T) {
			store, _, _ := setup(t, 1, 1, 198, -1)
			opts := testOptions()
			opts.Strategy = strategy
			svc := NewTrafficService(store, store, opts, logr.Discard(), nil)

			result, err := svc.SetWeight(context.Background(), &domain.RebalanceRequest{
				Application: "myapp", Version: "v4", Percentage: 50,
			})
			if err != nil {
				t.Fatalf("SetWeight failed: %v", err)
			}
			if result.AppliedWeight != 100 || result.Adjusted() {
				t.Errorf("Expected v4 to get exactly 100, got %d", result.AppliedWeight)
			}
			got := currentWeights(t, store)
			if len(got) != 4 || got[3] != 100 || got[0]+got[1]+got[2] != 100 {
				t.Errorf("Expected existing records to share 100 and v4 to get 100, got %v", got)
			}
		})
	}
}

func TestSetWeight_CreateCopiesAliasShape(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	for _, v := range []string{"v1", "v2"} {
		err := store.RegisterVersion(ctx, &domain.StackVersion{
			Application: "myapp", Version: v, Domain: testDomain,
			Endpoint: "dualstack.myapp-" + v + ".elb.example.org",
		})
		if err != nil {
			t.Fatalf("RegisterVersion failed: %v", err)
		}
	}
	_, err := store.ApplyChanges(ctx, &domain.ChangeBatch{Domain: testDomain, Changes: []domain.Change{{
		Action: domain.ChangeCreate,
		Record: domain.WeightedRecord{
			Identifier: "myapp-v1",
			DNSName:    testDomain + ".",
			Type:       "A",
			Weight:     200,
			Alias: &domain.AliasTarget{
				HostedZoneID:         "Z35SXDOTRQ7X7K",
				DNSName:              "dualstack.myapp-v1.elb.example.org",
				EvaluateTargetHealth: true,
			},
		},
	}}})
	if err != nil {
		t.Fatalf("seeding records failed: %v", err)
	}
	svc := NewTrafficService(store, store, testOptions(), logr.Discard(), nil)

	result, err := svc.SetWeight(ctx, &domain.RebalanceRequest{
		Application: "myapp", Version: "v2", Percentage: 10,
	})
	if err != nil {
		t.Fatalf("SetWeight failed: %v", err)
	}

	var created *domain.WeightedRecord
	for i, c := range result.Changes {
		if c.Action == domain.ChangeCreate {
			created = &result.Changes[i].Record
		}
	}
	if created == nil {
		t.Fatal("Expected a CREATE for v2")
	}
	if created.Type != "A" || created.TTL != 0 || len(created.Values) != 0 {
		t.Errorf("Expected an alias A record without TTL or values, got %+v", created)
	}
	if created.Alias == nil {
		t.Fatal("Expected the new record to be an alias")
	}
	if created.Alias.HostedZoneID != "Z35SXDOTRQ7X7K" || !created.Alias.EvaluateTargetHealth {
		t.Errorf("Expected alias zone and health check copied, got %+v", created.Alias)
	}
	if created.Alias.DNSName != "dualstack.myapp-v2.elb.example.org" {
		t.Errorf("Expected alias to point at the v2 endpoint, got %s", created.Alias.DNSName)
	}
	if got := currentWeights(t, store); !equal(got, []int{180, 20}) {
		t.Errorf("Expected [180 20], got %v", got)
	}
}

func TestSetWeight_CreateWithoutEndpoint(t *testing.T) {
	store, _, _ := setup(t, 200)
	ctx := context.Background()
	err := store.RegisterVersion(ctx, &domain.StackVersion{
		Application: "myapp", Version: "v2", Domain: testDomain, Endpoint: " ",
	})
	if err != nil {
		t.Fatalf("RegisterVersion failed: %v", err)
	}
	rec := &recordingMetrics{}
	svc := NewTrafficService(store, store, testOptions(), logr.Discard(), rec)
	before, _ := store.ReadRecords(ctx, testDomain)

	_, err = svc.SetWeight(ctx, &domain.RebalanceRequest{
		Application: "myapp", Version: "v2", Percentage: 20,
	})
	if !errors.Is(err, domain.ErrInconsistentInfrastructure) {
		t.Fatalf("Expected ErrInconsistentInfrastructure, got %v", err)
	}
	after, _ := store.ReadRecords(ctx, testDomain)
	if after.Revision != before.Revision {
		t.Error("Expected no batch to be submitted")
	}
	if rec.outcomes[0] != "inconsistent" {
		t.Errorf("Expected inconsistent outcome, got %v", rec.outcomes)
	}

	// setting a missing record to 0 creates nothing and needs no endpoint
	result, err := svc.SetWeight(ctx, &domain.RebalanceRequest{
		Application: "myapp", Version: "v2", Percentage: 0,
	})
	if err != nil {
		t.Fatalf("SetWeight failed: %v", err)
	}
	if len(result.Changes) != 0 {
		t.Errorf("Expected no changes, got %+v", result.Changes)
	}
}

func TestSetWeight_BootstrapEmptyDomain(t *testing.T) {
	store, svc, _ := setup(t, -1)

	result, err := svc.SetWeight(context.Background(), &domain.RebalanceRequest{
		Application: "myapp", Version: "v1", Percentage: 30,
	})
	if err != nil {
		t.Fatalf("SetWeight failed: %v", err)
	}
	if !result.Adjusted() || result.AppliedWeight != domain.TotalWeight {
		t.Errorf("Expected the only record to be adjusted to the full weight, got %+v", result)
	}
	if got := currentWeights(t, store); !equal(got, []int{200}) {
		t.Errorf("Expected [200], got %v", got)
	}
}

func TestSetWeight_RequireExisting(t *testing.T) {
	_, svc, _ := setup(t, 200, -1)

	_, err := svc.SetWeight(context.Background(), &domain.RebalanceRequest{
		Application: "myapp", Version: "v2", Percentage: 50, RequireExisting: true,
	})
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("Expected ErrNotFound, got %v", err)
	}
}

func TestSetWeight_Idempotent(t *testing.T) {
	store, svc, rec := setup(t, 0, 0, 0, 200)
	before, _ := store.ReadRecords(context.Background(), testDomain)

	result, err := svc.SetWeight(context.Background(), &domain.RebalanceRequest{
		Application: "myapp", Version: "v4", Percentage: 100,
	})
	if err != nil {
		t.Fatalf("SetWeight failed: %v", err)
	}
	if result.Applied || len(result.Changes) != 0 {
		t.Errorf("Expected a no-op, got %+v", result)
	}
	after, _ := store.ReadRecords(context.Background(), testDomain)
	if after.Revision != before.Revision {
		t.Error("Expected no batch to be submitted")
	}
	if rec.outcomes[0] != "noop" {
		t.Errorf("Expected noop outcome, got %v", rec.outcomes)
	}
}

func TestSetWeight_DryRun(t *testing.T) {
	store, svc, _ := setup(t, 150, 50)

	result, err := svc.SetWeight(context.Background(), &domain.RebalanceRequest{
		Application: "myapp", Version: "v2", Percentage: 50, DryRun: true,
	})
	if err != nil {
		t.Fatalf("SetWeight failed: %v", err)
	}
	if !result.DryRun || result.Applied {
		t.Errorf("Expected an unapplied dry run, got %+v", result)
	}
	if len(result.Changes) != 2 {
		t.Errorf("Expected 2 planned changes, got %d", len(result.Changes))
	}
	if got := currentWeights(t, store); !equal(got, []int{150, 50}) {
		t.Errorf("Expected records untouched, got %v", got)
	}
}

func TestSetWeight_Errors(t *testing.T) {
	t.Run("invalid input", func(t *testing.T) {
		_, svc, _ := setup(t, 200)
		_, err := svc.SetWeight(context.Background(), &domain.RebalanceRequest{
			Application: "myapp", Version: "v1", Percentage: 120,
		})
		if !errors.Is(err, domain.ErrInvalidInput) {
			t.Errorf("Expected ErrInvalidInput, got %v", err)
		}
	})

	t.Run("unknown application", func(t *testing.T) {
		_, svc, _ := setup(t, 200)
		_, err := svc.SetWeight(context.Background(), &domain.RebalanceRequest{
			Application: "other", Version: "v1", Percentage: 50,
		})
		if !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("Expected ErrNotFound, got %v", err)
		}
	})

	t.Run("unknown version", func(t *testing.T) {
		_, svc, _ := setup(t, 200)
		_, err := svc.SetWeight(context.Background(), &domain.RebalanceRequest{
			Application: "myapp", Version: "v9", Percentage: 50,
		})
		if !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("Expected ErrNotFound, got %v", err)
		}
	})

	t.Run("inconsistent domains", func(t *testing.T) {
		store, svc, _ := setup(t, 100, 100)
		_ = store.RegisterVersion(context.Background(), &domain.StackVersion{
			Application: "myapp", Version: "v3", Domain: "elsewhere.example.org", Endpoint: "lb",
		})
		_, err := svc.SetWeight(context.Background(), &domain.RebalanceRequest{
			Application: "myapp", Version: "v1", Percentage: 50,
		})
		if !errors.Is(err, domain.ErrInconsistentInfrastructure) {
			t.Errorf("Expected ErrInconsistentInfrastructure, got %v", err)
		}
	})

	t.Run("store failure", func(t *testing.T) {
		store, svc, _ := setup(t, 100, 100)
		boom := errors.New("throttled")
		store.FailApply = boom
		_, err := svc.SetWeight(context.Background(), &domain.RebalanceRequest{
			Application: "myapp", Version: "v1", Percentage: 75,
		})
		if !errors.Is(err, domain.ErrStoreFailure) || !errors.Is(err, boom) {
			t.Errorf("Expected ErrStoreFailure wrapping the store error, got %v", err)
		}
	})

	t.Run("directory failure", func(t *testing.T) {
		boom := errors.New("access denied")
		store := memory.New()
		svc := NewTrafficService(failingDirectory{boom}, store, testOptions(), logr.Discard(), nil)
		_, err := svc.SetWeight(context.Background(), &domain.RebalanceRequest{
			Application: "myapp", Version: "v1", Percentage: 75,
		})
		if !errors.Is(err, domain.ErrDirectoryFailure) || !errors.Is(err, boom) {
			t.Errorf("Expected ErrDirectoryFailure wrapping the directory error, got %v", err)
		}
	})
}

type failingDirectory struct{ err error }

func (d failingDirectory) ListVersions(context.Context, string) ([]domain.StackVersion, error) {
	return nil, d.err
}

// racingStore lets another writer change the record set right before the first batch lands.
type racingStore struct {
	*memory.Store
	calls int
}

func (r *racingStore) ApplyChanges(ctx context.Context, batch *domain.ChangeBatch) (string, error) {
	r.calls++
	if r.calls == 1 {
		set, _ := r.Store.ReadRecords(ctx, batch.Domain)
		rec := set.Records[0]
		rec.Weight, set.Records[1].Weight = 100, 100
		_, err := r.Store.ApplyChanges(ctx, &domain.ChangeBatch{
			Domain: batch.Domain,
			Changes: []domain.Change{
				{Action: domain.ChangeUpsert, Record: rec},
				{Action: domain.ChangeUpsert, Record: set.Records[1]},
			},
		})
		if err != nil {
			return "", err
		}
	}
	return r.Store.ApplyChanges(ctx, batch)
}

func TestSetWeight_RetriesOnConcurrentChange(t *testing.T) {
	store, _, _ := setup(t, 150, 50)
	racing := &racingStore{Store: store}
	svc := NewTrafficService(store, racing, testOptions(), logr.Discard(), nil)

	result, err := svc.SetWeight(context.Background(), &domain.RebalanceRequest{
		Application: "myapp", Version: "v1", Percentage: 25,
	})
	if err != nil {
		t.Fatalf("SetWeight failed: %v", err)
	}
	if racing.calls != 2 {
		t.Errorf("Expected 2 apply attempts, got %d", racing.calls)
	}
	// recomputed from the concurrent 100/100 baseline
	if result.Records[0].OldWeight != 100 {
		t.Errorf("Expected recomputation from the new baseline, got %+v", result.Records[0])
	}
	if got := currentWeights(t, store); !equal(got, []int{50, 150}) {
		t.Errorf("Expected [50 150], got %v", got)
	}
}

func TestSetWeight_RetriesExhausted(t *testing.T) {
	store, _, _ := setup(t, 150, 50)
	opts := testOptions()
	opts.Retries = 0
	svc := NewTrafficService(store, &racingStore{Store: store}, opts, logr.Discard(), nil)

	_, err := svc.SetWeight(context.Background(), &domain.RebalanceRequest{
		Application: "myapp", Version: "v1", Percentage: 25,
	})
	if !errors.Is(err, domain.ErrRevisionMismatch) {
		t.Fatalf("Expected ErrRevisionMismatch, got %v", err)
	}
}

func TestSetWeight_PinnedRevision(t *testing.T) {
	store, svc, _ := setup(t, 150, 50)

	_, err := svc.SetWeight(context.Background(), &domain.RebalanceRequest{
		Application: "myapp", Version: "v1", Percentage: 25, Revision: "stale",
	})
	if !errors.Is(err, domain.ErrRevisionMismatch) {
		t.Fatalf("Expected ErrRevisionMismatch, got %v", err)
	}

	set, _ := store.ReadRecords(context.Background(), testDomain)
	result, err := svc.SetWeight(context.Background(), &domain.RebalanceRequest{
		Application: "myapp", Version: "v1", Percentage: 25, Revision: set.Revision,
	})
	if err != nil {
		t.Fatalf("SetWeight with current revision failed: %v", err)
	}
	if !result.Applied || result.Revision == set.Revision {
		t.Errorf("Expected a new revision, got %+v", result)
	}
}

func TestSetWeight_DefaultStrategyIsProportional(t *testing.T) {
	store, svc, _ := setup(t, 120, 60, 20, 0)

	_, err := svc.SetWeight(context.Background(), &domain.RebalanceRequest{
		Application: "myapp", Version: "v4", Percentage: 50,
	})
	if err != nil {
		t.Fatalf("SetWeight failed: %v", err)
	}
	if got := currentWeights(t, store); !equal(got, []int{60, 30, 10, 100}) {
		t.Errorf("Expected [60 30 10 100], got %v", got)
	}
}

func TestDistribution(t *testing.T) {
	_, svc, _ := setup(t, 150, 50)

	result, err := svc.Distribution(context.Background(), "myapp")
	if err != nil {
		t.Fatalf("Distribution failed: %v", err)
	}
	if result.Domain != testDomain || result.TotalWeight() != domain.TotalWeight {
		t.Errorf("Unexpected distribution: %+v", result)
	}
	if result.Records[0].Version != "v1" || result.Records[0].Percentage() != 75 {
		t.Errorf("Unexpected first record: %+v", result.Records[0])
	}
	if result.Records[1].Endpoint != "myapp-v2.elb.example.org" {
		t.Errorf("Unexpected endpoint: %s", result.Records[1].Endpoint)
	}
}

func TestVersions(t *testing.T) {
	_, svc, _ := setup(t, 200, -1)

	versions, err := svc.Versions(context.Background(), "myapp")
	if err != nil {
		t.Fatalf("Versions failed: %v", err)
	}
	if len(versions) != 2 {
		t.Errorf("Expected 2 versions, got %d", len(versions))
	}

	if _, err := svc.Versions(context.Background(), "Bad_Name"); !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("Expected ErrInvalidInput, got %v", err)
	}
}
