/*
virtual.go In-process stand-in for the external power flow engine, in the
tradition of the virtual device assets: development and test runs need no
engine on the wire. Energization is a breadth-first search over enabled
branches from the source bus; magnitudes come from a first-order linearized
sag model (weighted-Laplacian solves over branch impedances) and angles from
a DC power flow. This is an approximation, not a power flow.
*/

package virtual

import (
	"context"
	"encoding/json"
	"fmt"
	"math"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/mat"

	"github.com/ohowland/cgc_scenario/internal/pkg/model"
	"github.com/ohowland/cgc_scenario/internal/pkg/scenario"
	"github.com/ohowland/cgc_scenario/internal/pkg/solver"
)

// base power for per-unit conversion, kW
const baseKW = 1000.0

// floor on per-unit branch impedance, keeps switches from producing a
// singular system
const minImpedance = 1e-4

// Config holds the virtual solver settings.
type Config struct {
	// CollapseVpu is the magnitude below which the solve is declared
	// diverged, mimicking engine non-convergence under voltage collapse.
	CollapseVpu float64 `json:"CollapseVpu"`
}

// Solver approximates steady-state bus voltages without an external engine.
// It holds no per-solve state and is safe for concurrent Solve calls.
type Solver struct {
	pid uuid.UUID
	cfg Config
}

// New returns a configured virtual Solver. A nil config selects defaults.
func New(jsonConfig []byte) (*Solver, error) {
	cfg := Config{}
	if len(jsonConfig) > 0 {
		if err := json.Unmarshal(jsonConfig, &cfg); err != nil {
			return nil, err
		}
	}
	if cfg.CollapseVpu == 0 {
		cfg.CollapseVpu = 0.5
	}

	pid, err := uuid.NewUUID()
	if err != nil {
		return nil, err
	}
	return &Solver{pid, cfg}, nil
}

// PID is a getter for the solver's process id.
func (s *Solver) PID() uuid.UUID {
	return s.pid
}

// Solve computes the approximate steady state of the effective model.
// De-energized buses are omitted from the solution.
func (s *Solver) Solve(ctx context.Context, eff *scenario.Effective) (solver.Solution, error) {
	if err := ctx.Err(); err != nil {
		return solver.Solution{}, err
	}

	net := eff.Network()
	energized := energized(eff)

	// index the energized buses, source excluded, in model order
	idx := make(map[string]int)
	for _, bus := range net.Buses() {
		if bus.ID == net.SourceBus() || !energized[bus.ID] {
			continue
		}
		idx[bus.ID] = len(idx)
	}

	mags := make(map[string]float64)
	angles := make(map[string]float64)
	if n := len(idx); n > 0 {
		lr := mat.NewDense(n, n, nil)
		lx := mat.NewDense(n, n, nil)
		for _, br := range eff.Branches() {
			if !br.Enabled || br.ToBus == "" || br.ToBus == br.FromBus {
				continue
			}
			if !energized[br.FromBus] || !energized[br.ToBus] {
				continue
			}
			bus, _ := net.Bus(br.FromBus)
			zbase := bus.BaseKV * bus.BaseKV
			wr := 1 / math.Max(br.R/zbase, minImpedance)
			wx := 1 / math.Max(br.X/zbase, minImpedance)
			stamp(lr, idx, br.FromBus, br.ToBus, wr)
			stamp(lx, idx, br.FromBus, br.ToBus, wx)
		}

		p := mat.NewVecDense(n, nil)
		q := mat.NewVecDense(n, nil)
		for _, load := range eff.Loads() {
			if i, ok := idx[load.Bus]; ok {
				p.SetVec(i, p.AtVec(i)+load.EffectiveKW()/baseKW)
				q.SetVec(i, q.AtVec(i)+load.EffectiveKVAR()/baseKW)
			}
		}
		for _, gen := range eff.Generators() {
			if i, ok := idx[gen.Bus]; ok {
				p.SetVec(i, p.AtVec(i)-gen.EffectiveKW()/baseKW)
				q.SetVec(i, q.AtVec(i)-gen.EffectiveKVAR()/baseKW)
			}
		}

		var dvP, dvQ, theta mat.VecDense
		if err := dvP.SolveVec(lr, p); err != nil {
			return solver.Solution{}, &solver.DivergedError{Iterations: 1, Detail: "singular network matrix"}
		}
		if err := dvQ.SolveVec(lx, q); err != nil {
			return solver.Solution{}, &solver.DivergedError{Iterations: 1, Detail: "singular network matrix"}
		}
		if err := theta.SolveVec(lx, p); err != nil {
			return solver.Solution{}, &solver.DivergedError{Iterations: 1, Detail: "singular network matrix"}
		}

		for id, i := range idx {
			mag := 1.0 - dvP.AtVec(i) - dvQ.AtVec(i)
			if mag < s.cfg.CollapseVpu {
				detail := fmt.Sprintf("voltage collapse at bus %v (%.3f pu)", id, mag)
				return solver.Solution{}, &solver.DivergedError{Iterations: 1, Detail: detail}
			}
			mags[id] = mag
			angles[id] = -theta.AtVec(i) * 180 / math.Pi
		}
	}

	samples := make([]solver.Sample, 0, len(idx)+1)
	for _, bus := range net.Buses() {
		if !energized[bus.ID] {
			continue
		}
		if bus.ID == net.SourceBus() {
			samples = append(samples, solver.Sample{Bus: bus.ID, Mag: 1.0, Angle: 0.0, Phases: bus.Phases})
			continue
		}
		samples = append(samples, solver.Sample{Bus: bus.ID, Mag: mags[bus.ID], Angle: angles[bus.ID], Phases: bus.Phases})
	}
	return solver.NewSolution(samples, 1), nil
}

// stamp adds one weighted branch to a Laplacian reduced by the source bus.
func stamp(l *mat.Dense, idx map[string]int, from, to string, w float64) {
	i, iok := idx[from]
	j, jok := idx[to]
	if iok {
		l.Set(i, i, l.At(i, i)+w)
	}
	if jok {
		l.Set(j, j, l.At(j, j)+w)
	}
	if iok && jok {
		l.Set(i, j, l.At(i, j)-w)
		l.Set(j, i, l.At(j, i)-w)
	}
}

// energized marks the buses reachable from the source over enabled branches.
func energized(eff *scenario.Effective) map[string]bool {
	net := eff.Network()

	enabled := make(map[string]bool)
	for _, br := range eff.Branches() {
		enabled[br.ID] = br.Enabled
	}
	adj := net.Connectivity(func(br model.Branch) bool { return enabled[br.ID] })

	reached := map[string]bool{net.SourceBus(): true}
	frontier := []string{net.SourceBus()}
	for len(frontier) > 0 {
		bus := frontier[0]
		frontier = frontier[1:]
		for _, next := range adj[bus] {
			if !reached[next] {
				reached[next] = true
				frontier = append(frontier, next)
			}
		}
	}
	return reached
}
