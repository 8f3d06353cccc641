package model

import (
	"encoding/json"
	"fmt"
	"io/ioutil"
)

// ParseError reports a model definition that cannot be loaded: a missing
// required field or a reference to a bus absent from the model.
type ParseError struct {
	Entity string
	Detail string
}

func (e *ParseError) Error() string {
	if e.Entity == "" {
		return fmt.Sprintf("model parse: %v", e.Detail)
	}
	return fmt.Sprintf("model parse: %v: %v", e.Entity, e.Detail)
}

// DuplicateIDError reports two entities of one category sharing an identifier.
type DuplicateIDError struct {
	Category string
	ID       string
}

func (e *DuplicateIDError) Error() string {
	return fmt.Sprintf("model parse: duplicate %v id %q", e.Category, e.ID)
}

type busConfig struct {
	ID     string  `json:"ID"`
	BaseKV float64 `json:"BaseKV"`
	Phases int     `json:"Phases"`
	X      float64 `json:"X"`
	Y      float64 `json:"Y"`
}

type loadConfig struct {
	ID   string  `json:"ID"`
	Bus  string  `json:"Bus"`
	KW   float64 `json:"KW"`
	KVAR float64 `json:"KVAR"`
}

type generatorConfig struct {
	ID   string  `json:"ID"`
	Bus  string  `json:"Bus"`
	KW   float64 `json:"KW"`
	KVAR float64 `json:"KVAR"`
}

type branchConfig struct {
	ID      string  `json:"ID"`
	Kind    string  `json:"Kind"`
	FromBus string  `json:"FromBus"`
	ToBus   string  `json:"ToBus"`
	R       float64 `json:"R"`
	X       float64 `json:"X"`
}

type config struct {
	Name       string            `json:"Name"`
	SourceBus  string            `json:"SourceBus"`
	Buses      []busConfig       `json:"Buses"`
	Loads      []loadConfig      `json:"Loads"`
	Generators []generatorConfig `json:"Generators"`
	Branches   []branchConfig    `json:"Branches"`
}

// New returns a Network loaded from a JSON definition. The definition order
// of each category is preserved as the enumeration order.
func New(jsonConfig []byte) (*Network, error) {
	cfg := config{}
	if err := json.Unmarshal(jsonConfig, &cfg); err != nil {
		return nil, &ParseError{Detail: err.Error()}
	}

	if len(cfg.Buses) == 0 {
		return nil, &ParseError{Detail: "model defines no buses"}
	}

	n := &Network{
		name:          Normalize(cfg.Name),
		busIdx:        make(map[string]int),
		loadIdx:       make(map[string]int),
		genIdx:        make(map[string]int),
		branchIdx:     make(map[string]int),
		loadsByBus:    make(map[string][]int),
		gensByBus:     make(map[string][]int),
		branchesByBus: make(map[string][]int),
	}
	if n.name == "" {
		n.name = "unnamed"
	}

	for _, bc := range cfg.Buses {
		id := Normalize(bc.ID)
		if id == "" {
			return nil, &ParseError{Entity: "bus", Detail: "missing id"}
		}
		if bc.BaseKV <= 0 {
			return nil, &ParseError{Entity: "bus " + id, Detail: "basekv must be positive"}
		}
		if _, exists := n.busIdx[id]; exists {
			return nil, &DuplicateIDError{Category: "bus", ID: id}
		}
		phases := bc.Phases
		if phases == 0 {
			phases = 3
		}
		n.busIdx[id] = len(n.buses)
		n.buses = append(n.buses, Bus{id, bc.BaseKV, phases, bc.X, bc.Y})
	}

	n.sourceBus = Normalize(cfg.SourceBus)
	if n.sourceBus == "" {
		n.sourceBus = n.buses[0].ID
	}
	if _, ok := n.busIdx[n.sourceBus]; !ok {
		return nil, &ParseError{Entity: "sourcebus " + n.sourceBus, Detail: "unresolvable bus reference"}
	}

	for _, lc := range cfg.Loads {
		id := Normalize(lc.ID)
		if id == "" {
			return nil, &ParseError{Entity: "load", Detail: "missing id"}
		}
		if _, exists := n.loadIdx[id]; exists {
			return nil, &DuplicateIDError{Category: "load", ID: id}
		}
		bus := Normalize(lc.Bus)
		if _, ok := n.busIdx[bus]; !ok {
			return nil, &ParseError{Entity: "load " + id, Detail: fmt.Sprintf("unresolvable bus reference %q", bus)}
		}
		n.loadIdx[id] = len(n.loads)
		n.loadsByBus[bus] = append(n.loadsByBus[bus], len(n.loads))
		n.loads = append(n.loads, Load{id, bus, lc.KW, lc.KVAR, 1.0})
	}

	for _, gc := range cfg.Generators {
		id := Normalize(gc.ID)
		if id == "" {
			return nil, &ParseError{Entity: "generator", Detail: "missing id"}
		}
		if _, exists := n.genIdx[id]; exists {
			return nil, &DuplicateIDError{Category: "generator", ID: id}
		}
		bus := Normalize(gc.Bus)
		if _, ok := n.busIdx[bus]; !ok {
			return nil, &ParseError{Entity: "generator " + id, Detail: fmt.Sprintf("unresolvable bus reference %q", bus)}
		}
		n.genIdx[id] = len(n.gens)
		n.gensByBus[bus] = append(n.gensByBus[bus], len(n.gens))
		n.gens = append(n.gens, Generator{id, bus, gc.KW, gc.KVAR, 1.0})
	}

	for _, bc := range cfg.Branches {
		id := Normalize(bc.ID)
		if id == "" {
			return nil, &ParseError{Entity: "branch", Detail: "missing id"}
		}
		if _, exists := n.branchIdx[id]; exists {
			return nil, &DuplicateIDError{Category: "branch", ID: id}
		}
		kind := BranchKind(Normalize(bc.Kind))
		if kind == "" {
			kind = LineBranch
		}
		switch kind {
		case LineBranch, TransformerBranch, SwitchBranch:
		default:
			return nil, &ParseError{Entity: "branch " + id, Detail: fmt.Sprintf("unknown kind %q", bc.Kind)}
		}
		from := Normalize(bc.FromBus)
		if _, ok := n.busIdx[from]; !ok {
			return nil, &ParseError{Entity: "branch " + id, Detail: fmt.Sprintf("unresolvable bus reference %q", from)}
		}
		to := Normalize(bc.ToBus)
		if to != "" {
			if _, ok := n.busIdx[to]; !ok {
				return nil, &ParseError{Entity: "branch " + id, Detail: fmt.Sprintf("unresolvable bus reference %q", to)}
			}
		}
		i := len(n.branches)
		n.branchIdx[id] = i
		n.branchesByBus[from] = append(n.branchesByBus[from], i)
		if to != "" && to != from {
			n.branchesByBus[to] = append(n.branchesByBus[to], i)
		}
		n.branches = append(n.branches, Branch{id, kind, from, to, bc.R, bc.X, true})
	}

	return n, nil
}

// NewFromFile returns a Network loaded from a JSON definition on disk.
func NewFromFile(path string) (*Network, error) {
	jsonConfig, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return New(jsonConfig)
}

// Connectivity returns the bus adjacency formed by the branches accepted by
// the enabled filter. Bus-to-ground devices contribute no edges.
func (n *Network) Connectivity(enabled func(Branch) bool) map[string][]string {
	adj := make(map[string][]string)
	for _, b := range n.buses {
		adj[b.ID] = make([]string, 0)
	}
	for _, br := range n.branches {
		if br.ToBus == "" || br.ToBus == br.FromBus {
			continue
		}
		if enabled != nil && !enabled(br) {
			continue
		}
		adj[br.FromBus] = append(adj[br.FromBus], br.ToBus)
		adj[br.ToBus] = append(adj[br.ToBus], br.FromBus)
	}
	return adj
}
