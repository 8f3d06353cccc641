/*
sweep.go Randomized scenario generation for batch studies and training data:
each sample perturbs a random selection of loads and generators by random
percentage changes inside configured ranges. A fixed seed reproduces the
exact same sets.
*/

package sweep

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/ohowland/cgc_scenario/internal/pkg/model"
	"github.com/ohowland/cgc_scenario/internal/pkg/scenario"
)

// Params controls a sweep. Fractions select the share of loads/generators
// perturbed per sample; the Pct ranges bound the percentage change drawn for
// each selected entity.
type Params struct {
	Samples      int        `json:"Samples"`
	LoadFraction float64    `json:"LoadFraction"`
	GenFraction  float64    `json:"GenFraction"`
	KWPct        [2]float64 `json:"KWPct"`
	KVARPct      [2]float64 `json:"KVARPct"`
	Seed         int64      `json:"Seed"`
}

// DefaultParams perturbs half the loads per sample, kW within +/- 50 percent
// and kVAr within +/- 10 percent.
func DefaultParams() Params {
	return Params{
		Samples:      100,
		LoadFraction: 0.5,
		GenFraction:  0.5,
		KWPct:        [2]float64{-50, 50},
		KVARPct:      [2]float64{-10, 10},
	}
}

// Generate produces the sweep's scenario sets. Every mutation is an absolute
// load/gen change computed off the baseline, so sets stay independent of one
// another.
func Generate(net *model.Network, p Params) []scenario.Set {
	rng := rand.New(rand.NewSource(p.Seed))
	loads := net.Loads()
	gens := net.Generators()

	sets := make([]scenario.Set, 0, p.Samples)
	for i := 0; i < p.Samples; i++ {
		set := scenario.Set{Name: fmt.Sprintf("sweep-%04d", i)}

		for _, j := range selection(rng, len(loads), p.LoadFraction) {
			kw := perturb(rng, loads[j].KW, p.KWPct)
			kvar := perturb(rng, loads[j].KVAR, p.KVARPct)
			set.Mutations = append(set.Mutations, scenario.Mutation{
				Kind:   scenario.LoadChange,
				Target: loads[j].ID,
				KW:     &kw,
				KVAR:   &kvar,
			})
		}
		for _, j := range selection(rng, len(gens), p.GenFraction) {
			kw := perturb(rng, gens[j].KW, p.KWPct)
			kvar := perturb(rng, gens[j].KVAR, p.KVARPct)
			set.Mutations = append(set.Mutations, scenario.Mutation{
				Kind:   scenario.GenChange,
				Target: gens[j].ID,
				KW:     &kw,
				KVAR:   &kvar,
			})
		}
		sets = append(sets, set)
	}
	return sets
}

// selection draws max(1, round(fraction*n)) distinct indexes, in draw order.
func selection(rng *rand.Rand, n int, fraction float64) []int {
	if n == 0 || fraction <= 0 {
		return nil
	}
	count := int(math.Round(fraction * float64(n)))
	if count < 1 {
		count = 1
	}
	if count > n {
		count = n
	}
	return rng.Perm(n)[:count]
}

func perturb(rng *rand.Rand, base float64, pctRange [2]float64) float64 {
	pct := pctRange[0] + rng.Float64()*(pctRange[1]-pctRange[0])
	return base * (1 + pct/100)
}
