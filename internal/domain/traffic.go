package domain

import "math"

const (
	// PercentResolution is the number of weight units per traffic percent.
	PercentResolution = 2
	// TotalWeight is the weight budget shared by all records of a domain.
	TotalWeight = 100 * PercentResolution
)

// PercentageToWeight converts a traffic percentage into a weight, clamped to the budget.
func PercentageToWeight(percentage float64) int {
	w := int(math.Round(percentage * PercentResolution))
	if w < 0 {
		return 0
	}
	if w > TotalWeight {
		return TotalWeight
	}
	return w
}

// WeightToPercentage converts a weight into a traffic percentage.
func WeightToPercentage(weight int) float64 {
	return float64(weight) / PercentResolution
}

// RebalanceRequest is the operator's intent for one application version.
type RebalanceRequest struct {
	Application     string  `json:"application"`
	Version         string  `json:"version"`
	Percentage      float64 `json:"percentage"`
	RequireExisting bool    `json:"requireExisting,omitempty"`
	DryRun          bool    `json:"dryRun,omitempty"`
	// Revision pins the record set revision the caller last saw. When set the
	// operation fails with ErrRevisionMismatch instead of retrying.
	Revision string `json:"revision,omitempty"`
}

// SetTrafficRequest is the request body of the traffic endpoint.
// Percentage is a pointer so an omitted value is told apart from 0.
type SetTrafficRequest struct {
	Version         string   `json:"version"`
	Percentage      *float64 `json:"percentage"`
	RequireExisting bool     `json:"requireExisting,omitempty"`
}

// RecordWeight is the weight of one record before and after an operation.
type RecordWeight struct {
	Identifier string `json:"identifier" yaml:"identifier"`
	Version    string `json:"version,omitempty" yaml:"version,omitempty"`
	Endpoint   string `json:"endpoint,omitempty" yaml:"endpoint,omitempty"`
	OldWeight  int    `json:"oldWeight" yaml:"oldWeight"`
	Weight     int    `json:"weight" yaml:"weight"`
}

// Percentage returns the share of traffic the record receives.
func (w RecordWeight) Percentage() float64 {
	return WeightToPercentage(w.Weight)
}

// RebalanceResult is the distribution after an operation, returned for display.
type RebalanceResult struct {
	Application     string         `json:"application" yaml:"application"`
	Domain          string         `json:"domain" yaml:"domain"`
	Target          string         `json:"target,omitempty" yaml:"target,omitempty"`
	RequestedWeight int            `json:"requestedWeight" yaml:"requestedWeight"`
	AppliedWeight   int            `json:"appliedWeight" yaml:"appliedWeight"`
	Records         []RecordWeight `json:"records" yaml:"records"`
	Changes         []Change       `json:"changes,omitempty" yaml:"changes,omitempty"`
	Revision        string         `json:"revision,omitempty" yaml:"revision,omitempty"`
	Applied         bool           `json:"applied" yaml:"applied"`
	DryRun          bool           `json:"dryRun,omitempty" yaml:"dryRun,omitempty"`
}

// Adjusted reports whether the target received a different weight than requested.
func (r *RebalanceResult) Adjusted() bool {
	return r.Target != "" && r.RequestedWeight != r.AppliedWeight
}

// TotalWeight returns the sum of the resulting weights.
func (r *RebalanceResult) TotalWeight() int {
	total := 0
	for _, rec := range r.Records {
		total += rec.Weight
	}
	return total
}

// Weights returns the resulting weight per identifier.
func (r *RebalanceResult) Weights() map[string]int {
	m := make(map[string]int, len(r.Records))
	for _, rec := range r.Records {
		m[rec.Identifier] = rec.Weight
	}
	return m
}
