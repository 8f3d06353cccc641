/*
solver.go The boundary to the steady-state power flow engine. A Solver accepts
an effective model and blocks until a solution or a structured failure comes
back. Implementations must look stateless to the caller: two solves of the
same effective model return numerically identical results, and concurrent
Solve calls are isolated from each other.
*/

package solver

import (
	"context"
	"fmt"
	"time"

	"github.com/ohowland/cgc_scenario/internal/pkg/model"
	"github.com/ohowland/cgc_scenario/internal/pkg/scenario"
)

// Sample is one bus voltage from a steady-state solve.
type Sample struct {
	Bus    string  `json:"Bus"`
	Mag    float64 `json:"Mag"`
	Angle  float64 `json:"Angle"`
	Phases int     `json:"Phases"`
}

// Solution holds per-bus samples from one solve, ordered by the model's bus
// enumeration. Buses de-energized by the scenario are absent.
type Solution struct {
	samples    []Sample
	idx        map[string]int
	iterations int
}

// NewSolution indexes samples for by-bus lookup. Sample order is preserved.
func NewSolution(samples []Sample, iterations int) Solution {
	idx := make(map[string]int)
	for i, s := range samples {
		idx[model.Normalize(s.Bus)] = i
	}
	return Solution{samples, idx, iterations}
}

// Samples returns the samples in solve order.
func (s Solution) Samples() []Sample {
	out := make([]Sample, len(s.samples))
	copy(out, s.samples)
	return out
}

// Sample looks a bus voltage up by bus id.
func (s Solution) Sample(busID string) (Sample, bool) {
	i, ok := s.idx[model.Normalize(busID)]
	if !ok {
		return Sample{}, false
	}
	return s.samples[i], true
}

// Iterations reports the engine's iteration count for the solve.
func (s Solution) Iterations() int {
	return s.iterations
}

// Solver drives one steady-state solve of an effective model.
type Solver interface {
	Solve(ctx context.Context, eff *scenario.Effective) (Solution, error)
}

// DivergedError reports engine non-convergence, typically an outage islanding
// part of the network.
type DivergedError struct {
	Iterations int
	Detail     string
}

func (e *DivergedError) Error() string {
	return fmt.Sprintf("solver diverged after %v iterations: %v", e.Iterations, e.Detail)
}

// TimeoutError reports a solve abandoned at the caller's deadline.
type TimeoutError struct {
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("solver timed out after %v", e.Timeout)
}

// UnavailableError reports that the engine could not be reached at all.
type UnavailableError struct {
	Endpoint string
	Err      error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("solver unavailable at %v: %v", e.Endpoint, e.Err)
}

func (e *UnavailableError) Unwrap() error {
	return e.Err
}
