/*
model.go Baseline description of a distribution network: buses, loads, generators
and branches. A Network is loaded once per session and is read-only afterwards;
all what-if changes are applied through scenario mutation sets, never in place.
*/

package model

import "strings"

// Bus is a node in the network where voltage is measured.
type Bus struct {
	ID     string
	BaseKV float64
	Phases int
	X      float64
	Y      float64
}

// Load is a power demand attached to a bus. Scale is a unitless multiplier
// on the nameplate kW/kVAr demand, 1.0 unless a mutation overrides it.
type Load struct {
	ID    string
	Bus   string
	KW    float64
	KVAR  float64
	Scale float64
}

// EffectiveKW is the scaled real power demand.
func (l Load) EffectiveKW() float64 {
	return l.KW * l.Scale
}

// EffectiveKVAR is the scaled reactive power demand.
func (l Load) EffectiveKVAR() float64 {
	return l.KVAR * l.Scale
}

// Generator is an injection attached to a bus, mirrored from Load.
type Generator struct {
	ID    string
	Bus   string
	KW    float64
	KVAR  float64
	Scale float64
}

// EffectiveKW is the scaled real power injection.
func (g Generator) EffectiveKW() float64 {
	return g.KW * g.Scale
}

// EffectiveKVAR is the scaled reactive power injection.
func (g Generator) EffectiveKVAR() float64 {
	return g.KVAR * g.Scale
}

// BranchKind discriminates the network elements that connect buses.
type BranchKind string

const (
	// LineBranch is a distribution line segment.
	LineBranch BranchKind = "line"
	// TransformerBranch is a two-winding transformer.
	TransformerBranch BranchKind = "transformer"
	// SwitchBranch is a sectionalizing switch.
	SwitchBranch BranchKind = "switch"
)

// Branch connects two buses, or one bus to ground when ToBus is empty.
// Disabling a branch represents an outage of the element.
type Branch struct {
	ID      string
	Kind    BranchKind
	FromBus string
	ToBus   string
	R       float64
	X       float64
	Enabled bool
}

// Network owns the baseline model. Enumeration order of every category is the
// order entities appeared in the source definition; comparison tables and
// solver output reuse that order so repeated runs are byte-identical.
type Network struct {
	name      string
	sourceBus string

	buses  []Bus
	busIdx map[string]int

	loads   []Load
	loadIdx map[string]int

	gens   []Generator
	genIdx map[string]int

	branches  []Branch
	branchIdx map[string]int

	loadsByBus    map[string][]int
	gensByBus     map[string][]int
	branchesByBus map[string][]int
}

// Normalize lower-cases an entity identifier. Identifiers are
// case-insensitive everywhere, matching the conventions of the external
// solver's element names.
func Normalize(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}

// Name is a getter for the network's configured name.
func (n *Network) Name() string {
	return n.name
}

// SourceBus returns the id of the bus holding the voltage source.
func (n *Network) SourceBus() string {
	return n.sourceBus
}

// Buses returns the buses in enumeration order.
func (n *Network) Buses() []Bus {
	out := make([]Bus, len(n.buses))
	copy(out, n.buses)
	return out
}

// Bus looks a bus up by id.
func (n *Network) Bus(id string) (Bus, bool) {
	i, ok := n.busIdx[Normalize(id)]
	if !ok {
		return Bus{}, false
	}
	return n.buses[i], true
}

// Loads returns the loads in enumeration order.
func (n *Network) Loads() []Load {
	out := make([]Load, len(n.loads))
	copy(out, n.loads)
	return out
}

// Load looks a load up by id.
func (n *Network) Load(id string) (Load, bool) {
	i, ok := n.loadIdx[Normalize(id)]
	if !ok {
		return Load{}, false
	}
	return n.loads[i], true
}

// Generators returns the generators in enumeration order.
func (n *Network) Generators() []Generator {
	out := make([]Generator, len(n.gens))
	copy(out, n.gens)
	return out
}

// Generator looks a generator up by id.
func (n *Network) Generator(id string) (Generator, bool) {
	i, ok := n.genIdx[Normalize(id)]
	if !ok {
		return Generator{}, false
	}
	return n.gens[i], true
}

// Branches returns the branches in enumeration order.
func (n *Network) Branches() []Branch {
	out := make([]Branch, len(n.branches))
	copy(out, n.branches)
	return out
}

// Branch looks a branch up by id.
func (n *Network) Branch(id string) (Branch, bool) {
	i, ok := n.branchIdx[Normalize(id)]
	if !ok {
		return Branch{}, false
	}
	return n.branches[i], true
}

// LoadsForBus returns the loads attached to a bus.
func (n *Network) LoadsForBus(busID string) []Load {
	idx := n.loadsByBus[Normalize(busID)]
	out := make([]Load, 0, len(idx))
	for _, i := range idx {
		out = append(out, n.loads[i])
	}
	return out
}

// GeneratorsForBus returns the generators attached to a bus.
func (n *Network) GeneratorsForBus(busID string) []Generator {
	idx := n.gensByBus[Normalize(busID)]
	out := make([]Generator, 0, len(idx))
	for _, i := range idx {
		out = append(out, n.gens[i])
	}
	return out
}

// BranchesForBus returns the branches with an endpoint on a bus.
func (n *Network) BranchesForBus(busID string) []Branch {
	idx := n.branchesByBus[Normalize(busID)]
	out := make([]Branch, 0, len(idx))
	for _, i := range idx {
		out = append(out, n.branches[i])
	}
	return out
}
