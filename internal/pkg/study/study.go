/*
study.go Orchestrates scenario runs: baseline solve, mutation application,
modified solve and comparison, in strict sequence per scenario. A failure
obtaining the baseline is fatal to the run; a failure of the modified solve
is recoverable and yields an all-lost comparison. Finished reports are
published on the msg.Result topic.
*/

package study

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ohowland/cgc_scenario/internal/pkg/compare"
	"github.com/ohowland/cgc_scenario/internal/pkg/model"
	"github.com/ohowland/cgc_scenario/internal/pkg/msg"
	"github.com/ohowland/cgc_scenario/internal/pkg/scenario"
	"github.com/ohowland/cgc_scenario/internal/pkg/solver"
)

// Config is the configuration format for a study Runner.
type Config struct {
	Workers      int     `json:"Workers"`
	Timeout      int     `json:"Timeout"` // milliseconds per solve, 0 = none
	ThresholdPct float64 `json:"ThresholdPct"`
}

// Report is the outcome of one scenario run. SolveErr carries the structured
// failure of the modified solve when the comparison is all-lost.
type Report struct {
	RunID       uuid.UUID      `json:"RunID"`
	Scenario    string         `json:"Scenario"`
	Set         scenario.Set   `json:"Set"`
	Result      compare.Result `json:"Result"`
	SolveErr    error          `json:"-"`
	SolveDetail string         `json:"SolveErr,omitempty"`
	Elapsed     time.Duration  `json:"Elapsed"`
}

// Runner evaluates scenario sets against a solver. The baseline solution is
// cached per network; the network itself is shared read-only, so concurrent
// RunScenario calls are safe as long as the solver isolates its sessions.
type Runner struct {
	mux       *sync.Mutex
	pid       uuid.UUID
	cfg       Config
	slv       solver.Solver
	publisher *msg.PubSub
	calib     scenario.Set
	baselines map[*model.Network]solver.Solution
}

// New returns a configured Runner driving slv.
func New(jsonConfig []byte, slv solver.Solver) (*Runner, error) {
	cfg := Config{}
	if len(jsonConfig) > 0 {
		if err := json.Unmarshal(jsonConfig, &cfg); err != nil {
			return nil, err
		}
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.ThresholdPct == 0 {
		cfg.ThresholdPct = compare.DefaultThresholds().PctDelta
	}

	pid, err := uuid.NewUUID()
	if err != nil {
		return nil, err
	}

	return &Runner{
		mux:       &sync.Mutex{},
		pid:       pid,
		cfg:       cfg,
		slv:       slv,
		publisher: msg.NewPublisher(pid),
		baselines: make(map[*model.Network]solver.Solution),
	}, nil
}

// PID is a getter for the runner's process id.
func (r *Runner) PID() uuid.UUID {
	return r.pid
}

// Subscribe registers pid for the runner's published messages.
func (r *Runner) Subscribe(pid uuid.UUID, topic msg.Topic) (<-chan msg.Msg, error) {
	return r.publisher.Subscribe(pid, topic)
}

// Unsubscribe revokes pid's subscriptions.
func (r *Runner) Unsubscribe(pid uuid.UUID) {
	r.publisher.Unsubscribe(pid)
}

// Stop shuts the runner's publisher down.
func (r *Runner) Stop() {
	r.publisher.Stop()
}

// Thresholds returns the configured violation thresholds.
func (r *Runner) Thresholds() compare.Thresholds {
	return compare.Thresholds{PctDelta: r.cfg.ThresholdPct}
}

// Calibrate installs a measured mutation set, typically a live meter
// snapshot, applied under the baseline and under every scenario.
func (r *Runner) Calibrate(set scenario.Set) {
	r.mux.Lock()
	defer r.mux.Unlock()
	r.calib = set
	r.baselines = make(map[*model.Network]solver.Solution)
}

// Baseline solves the network without scenario mutations and caches the
// result. Any failure here is fatal: without a reference point there is
// nothing to compare against.
func (r *Runner) Baseline(ctx context.Context, net *model.Network) (solver.Solution, error) {
	r.mux.Lock()
	if sol, ok := r.baselines[net]; ok {
		r.mux.Unlock()
		return sol, nil
	}
	calib := r.calib
	r.mux.Unlock()

	eff, err := calib.Apply(net)
	if err != nil {
		return solver.Solution{}, fmt.Errorf("baseline calibration: %w", err)
	}
	sol, err := r.solve(ctx, eff)
	if err != nil {
		return solver.Solution{}, fmt.Errorf("baseline solve: %w", err)
	}

	r.mux.Lock()
	r.baselines[net] = sol
	r.mux.Unlock()
	return sol, nil
}

// RunScenario evaluates one scenario set. An unknown mutation target aborts
// the run with no partial comparison; a diverged, timed out or unreachable
// modified solve is recoverable and reported as an all-lost comparison.
func (r *Runner) RunScenario(ctx context.Context, net *model.Network, set scenario.Set) (Report, error) {
	start := time.Now()
	runID, err := uuid.NewUUID()
	if err != nil {
		return Report{}, err
	}
	r.publisher.Publish(msg.Status, fmt.Sprintf("run started: %v", set.Name))

	base, err := r.Baseline(ctx, net)
	if err != nil {
		return Report{}, err
	}

	eff, err := r.effective(net, set)
	if err != nil {
		return Report{}, err
	}

	var mod solver.Solution
	mod, solveErr := r.solve(ctx, eff)
	if solveErr != nil {
		if !recoverable(solveErr) {
			return Report{}, solveErr
		}
		log.Printf("[Study] modified solve failed for %v: %v", set.Name, solveErr)
		mod = solver.Solution{}
	}

	report := Report{
		RunID:    runID,
		Scenario: set.Name,
		Set:      set,
		Result:   compare.Compare(net, base, mod, r.Thresholds()),
		SolveErr: solveErr,
		Elapsed:  time.Since(start),
	}
	if solveErr != nil {
		report.SolveDetail = solveErr.Error()
	}

	r.publisher.Publish(msg.Result, report)
	r.publisher.Publish(msg.Status, fmt.Sprintf("run finished: %v", set.Name))
	return report, nil
}

// RunBatch evaluates many scenario sets on a fixed worker pool. Reports are
// positionally ordered to match sets; the first scenario error is returned
// alongside the reports that completed.
func (r *Runner) RunBatch(ctx context.Context, net *model.Network, sets []scenario.Set) ([]Report, error) {
	// prime the cache so workers never race on the baseline solve
	if _, err := r.Baseline(ctx, net); err != nil {
		return nil, err
	}

	reports := make([]Report, len(sets))
	errs := make([]error, len(sets))
	jobs := make(chan int)

	var wg sync.WaitGroup
	for w := 0; w < r.cfg.Workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				reports[i], errs[i] = r.RunScenario(ctx, net, sets[i])
			}
		}()
	}
	for i := range sets {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return reports, err
		}
	}
	return reports, nil
}

// effective builds the override view, calibration mutations first so the
// scenario's own mutations win any shared target.
func (r *Runner) effective(net *model.Network, set scenario.Set) (*scenario.Effective, error) {
	r.mux.Lock()
	calib := r.calib
	r.mux.Unlock()

	if len(calib.Mutations) == 0 {
		return set.Apply(net)
	}
	merged := scenario.Set{Name: set.Name}
	merged.Mutations = append(merged.Mutations, calib.Mutations...)
	merged.Mutations = append(merged.Mutations, set.Mutations...)
	return merged.Apply(net)
}

func (r *Runner) solve(ctx context.Context, eff *scenario.Effective) (solver.Solution, error) {
	if r.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(r.cfg.Timeout)*time.Millisecond)
		defer cancel()
	}
	return r.slv.Solve(ctx, eff)
}

// recoverable reports whether a modified-solve failure still permits an
// all-lost comparison.
func recoverable(err error) bool {
	var diverged *solver.DivergedError
	var timeout *solver.TimeoutError
	var unavailable *solver.UnavailableError
	return errors.As(err, &diverged) || errors.As(err, &timeout) || errors.As(err, &unavailable)
}
