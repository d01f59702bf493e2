package weights

import (
	"fmt"
	"sort"

	"github.com/bcnelson/stack-traffic-manager/internal/domain"
)

// Strategy selects how released or claimed weight is spread over the other records.
type Strategy string

const (
	Compensating Strategy = "compensating"
	Proportional Strategy = "proportional"
)

// ParseStrategy converts a configuration value into a Strategy.
// An empty value selects Proportional.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case "", Proportional:
		return Proportional, nil
	case Compensating:
		return Compensating, nil
	default:
		return "", fmt.Errorf("%w: unknown allocation strategy %q", domain.ErrInvalidInput, s)
	}
}

// Entry is the current weight of one record.
// Version orders records for residual compensation and may be empty
// for records that no longer belong to a live version.
type Entry struct {
	Identifier string
	Version    string
	Weight     int
}

// Input describes one allocation.
type Input struct {
	Entries []Entry
	// Target is the identifier receiving Weight. It is appended with weight 0
	// when no entry carries it.
	Target        string
	TargetVersion string
	Weight        int
	Strategy      Strategy
}

// Allocation is the outcome of Allocate. Entries keeps the previous weights,
// Weights holds the new weight for the entry at the same index.
type Allocation struct {
	Entries   []Entry
	Weights   []int
	Target    int
	Requested int
	Applied   int
	// Created is set when the target had no entry and was synthesized.
	Created bool
}

// Changed reports whether the entry at index i gets a new weight.
func (a *Allocation) Changed(i int) bool {
	return a.Entries[i].Weight != a.Weights[i]
}

// Total returns the sum of the new weights.
func (a *Allocation) Total() int {
	return sum(a.Weights)
}

// Allocate computes the new weight of every entry.
//
// When the target is the only record holding weight and the request would lower it
// to a value strictly between 0 and domain.TotalWeight, Allocate returns the unchanged
// distribution together with domain.ErrUnsafeReduction. Setting the only carrier to 0
// is always allowed and empties the domain.
func Allocate(in Input) (*Allocation, error) {
	if in.Target == "" {
		return nil, fmt.Errorf("%w: empty target identifier", domain.ErrInvalidInput)
	}
	if in.Weight < 0 || in.Weight > domain.TotalWeight {
		return nil, fmt.Errorf("%w: target weight %d outside [0, %d]", domain.ErrInvalidInput, in.Weight, domain.TotalWeight)
	}

	a := &Allocation{Target: -1, Requested: in.Weight}
	seen := make(map[string]bool, len(in.Entries))
	for i, e := range in.Entries {
		if e.Weight < 0 {
			return nil, fmt.Errorf("%w: record %s has negative weight %d", domain.ErrInvalidInput, e.Identifier, e.Weight)
		}
		if seen[e.Identifier] {
			return nil, fmt.Errorf("%w: duplicate record identifier %s", domain.ErrInvalidInput, e.Identifier)
		}
		seen[e.Identifier] = true
		if e.Identifier == in.Target {
			a.Target = i
		}
		a.Entries = append(a.Entries, e)
	}
	if a.Target < 0 {
		a.Entries = append(a.Entries, Entry{Identifier: in.Target, Version: in.TargetVersion})
		a.Target = len(a.Entries) - 1
		a.Created = true
	}

	a.Weights = make([]int, len(a.Entries))
	for i, e := range a.Entries {
		a.Weights[i] = e.Weight
	}

	old := a.Entries[a.Target].Weight
	others := sum(a.Weights) - old
	if others == 0 {
		switch {
		case in.Weight == 0:
			for i := range a.Weights {
				a.Weights[i] = 0
			}
		case old > 0 && in.Weight < domain.TotalWeight:
			a.Applied = old
			return a, fmt.Errorf("%w: %s is the only record receiving traffic, refusing to lower it to %.1f%%",
				domain.ErrUnsafeReduction, in.Target, domain.WeightToPercentage(in.Weight))
		default:
			// a lone carrier always carries everything
			a.Weights[a.Target] = domain.TotalWeight
		}
		a.Applied = a.Weights[a.Target]
		return a, nil
	}

	switch in.Strategy {
	case Proportional, "":
		a.Weights = proportional(a.Entries, a.Target, in.Weight)
	case Compensating:
		next := compensating(a.Entries, a.Target, in.Weight)
		// a new record must get exactly its share, the residual walk cannot promise that
		if !withinBudget(next) || (a.Created && next[a.Target] != in.Weight) {
			next = proportional(a.Entries, a.Target, in.Weight)
		}
		a.Weights = next
	default:
		return nil, fmt.Errorf("%w: unknown allocation strategy %q", domain.ErrInvalidInput, in.Strategy)
	}
	a.Applied = a.Weights[a.Target]
	return a, nil
}

// compensating shifts every positive record by the same delta, never below 1,
// then walks the rounding residual over the other positive records, newest
// version first. Whatever the walk cannot place is absorbed by the target.
func compensating(entries []Entry, target, want int) []int {
	count, partial := 0, 0
	for i, e := range entries {
		if i != target && e.Weight > 0 {
			count++
			partial += e.Weight
		}
	}
	delta := (domain.TotalWeight - want - partial) / count

	next := make([]int, len(entries))
	for i, e := range entries {
		switch {
		case i == target:
			next[i] = want
		case want == domain.TotalWeight, e.Weight == 0:
			next[i] = 0
		default:
			next[i] = max(1, e.Weight+delta)
		}
	}

	residual := domain.TotalWeight - sum(next)
	if residual == 0 {
		return next
	}
	part := residual / count
	if part == 0 {
		part = sign(residual)
	}
	for _, i := range newestFirst(entries, target) {
		w := next[i] + part
		if w <= 0 {
			continue
		}
		next[i] = w
		residual -= part
		if residual == 0 {
			break
		}
	}
	next[target] += residual
	return next
}

// proportional rescales every other record to its share of the remaining pool
// and hands the rounding deficit out by largest remainder.
func proportional(entries []Entry, target, want int) []int {
	others := 0
	for i, e := range entries {
		if i != target {
			others += e.Weight
		}
	}
	pool := domain.TotalWeight - want

	type share struct {
		index     int
		remainder int
	}
	next := make([]int, len(entries))
	next[target] = want
	shares := make([]share, 0, len(entries))
	for i, e := range entries {
		if i == target {
			continue
		}
		exact := e.Weight * pool
		next[i] = exact / others
		shares = append(shares, share{index: i, remainder: exact % others})
	}

	sort.SliceStable(shares, func(a, b int) bool {
		ea, eb := entries[shares[a].index], entries[shares[b].index]
		if shares[a].remainder != shares[b].remainder {
			return shares[a].remainder > shares[b].remainder
		}
		if ea.Weight != eb.Weight {
			return ea.Weight > eb.Weight
		}
		if ea.Version != eb.Version {
			return ea.Version > eb.Version
		}
		return ea.Identifier < eb.Identifier
	})
	deficit := domain.TotalWeight - sum(next)
	for k := 0; k < deficit && k < len(shares); k++ {
		next[shares[k].index]++
	}
	return next
}

// newestFirst returns the indexes of the positive non-target entries ordered by
// version label descending. Versions compare as plain strings.
func newestFirst(entries []Entry, target int) []int {
	idx := make([]int, 0, len(entries))
	for i, e := range entries {
		if i != target && e.Weight > 0 {
			idx = append(idx, i)
		}
	}
	sort.SliceStable(idx, func(a, b int) bool {
		ea, eb := entries[idx[a]], entries[idx[b]]
		if ea.Version != eb.Version {
			return ea.Version > eb.Version
		}
		return ea.Identifier > eb.Identifier
	})
	return idx
}

func withinBudget(ws []int) bool {
	for _, w := range ws {
		if w < 0 || w > domain.TotalWeight {
			return false
		}
	}
	return sum(ws) == domain.TotalWeight
}

func sum(ws []int) int {
	total := 0
	for _, w := range ws {
		total += w
	}
	return total
}

func sign(n int) int {
	if n < 0 {
		return -1
	}
	return 1
}
