// Package weights computes new weighted-record weights for a traffic shift.
//
// Allocate is a pure function: it receives the current weights of every record
// of a domain, the record that should receive a new share, and returns the weight
// of every record so that the shares again add up to domain.TotalWeight.
//
// Two strategies are available. Proportional, the default, rescales every other
// record by its share of the remaining pool and hands out the rounding deficit by
// largest remainder; the target always receives exactly the requested weight.
// Compensating moves every live record by the same amount and walks the rounding
// residual over the newest versions first, letting the target absorb what is left.
// It reproduces the distributions of earlier traffic tooling; a newly created
// record falls back to Proportional.
package weights
