/*
scenario.go Mutation sets describe a what-if study as data: an ordered list of
load changes, generator changes and branch outages applied on top of a baseline
network. Applying a set never touches the baseline, so one Network can back any
number of concurrent scenario runs.
*/

package scenario

import (
	"fmt"

	"github.com/ohowland/cgc_scenario/internal/pkg/model"
)

// Kind discriminates mutation commands.
type Kind string

const (
	// LoadChange overrides a load's demand or scale multiplier.
	LoadChange Kind = "load_change"
	// GenChange overrides a generator's injection or scale multiplier.
	GenChange Kind = "gen_change"
	// Outage disables a branch.
	Outage Kind = "outage"
)

// Mutation is one command in a set. LoadChange and GenChange carry either a
// Scale multiplier or absolute KW/KVAR values, never both. Outage carries no
// value.
type Mutation struct {
	Kind   Kind     `json:"Kind" yaml:"kind"`
	Target string   `json:"Target" yaml:"target"`
	Scale  *float64 `json:"Scale,omitempty" yaml:"scale,omitempty"`
	KW     *float64 `json:"KW,omitempty" yaml:"kw,omitempty"`
	KVAR   *float64 `json:"KVAR,omitempty" yaml:"kvar,omitempty"`
}

// Set is an ordered sequence of mutations. Duplicate targets are allowed;
// the last mutation addressing a target replaces any earlier one outright.
type Set struct {
	Name      string     `json:"Name" yaml:"name"`
	Mutations []Mutation `json:"Mutations" yaml:"mutations"`
}

// UnknownTargetError reports a mutation addressing an entity absent from the
// model. A typo in a scenario must surface, not read back as "unaffected".
type UnknownTargetError struct {
	Kind   Kind
	Target string
}

func (e *UnknownTargetError) Error() string {
	return fmt.Sprintf("scenario: %v targets unknown id %q", e.Kind, e.Target)
}

// ValueError reports a mutation whose value fields do not fit its kind.
type ValueError struct {
	Kind   Kind
	Target string
	Detail string
}

func (e *ValueError) Error() string {
	return fmt.Sprintf("scenario: %v on %q: %v", e.Kind, e.Target, e.Detail)
}

// Effective is a derived, read-only view of a Network with a Set's overrides
// applied. It is consumed by one solve and discarded.
type Effective struct {
	net      *model.Network
	loads    []model.Load
	gens     []model.Generator
	branches []model.Branch
}

// Network returns the underlying baseline model.
func (e *Effective) Network() *model.Network {
	return e.net
}

// Buses returns the buses in model enumeration order.
func (e *Effective) Buses() []model.Bus {
	return e.net.Buses()
}

// Loads returns the override-applied loads in model enumeration order.
func (e *Effective) Loads() []model.Load {
	out := make([]model.Load, len(e.loads))
	copy(out, e.loads)
	return out
}

// Generators returns the override-applied generators in model enumeration order.
func (e *Effective) Generators() []model.Generator {
	out := make([]model.Generator, len(e.gens))
	copy(out, e.gens)
	return out
}

// Branches returns the override-applied branches in model enumeration order.
func (e *Effective) Branches() []model.Branch {
	out := make([]model.Branch, len(e.branches))
	copy(out, e.branches)
	return out
}

// Apply produces the effective model for this set. Later mutations override
// earlier ones addressing the same entity; the override replaces the earlier
// one entirely rather than merging with it. An empty set applies cleanly.
func (s Set) Apply(net *model.Network) (*Effective, error) {
	type targetKey struct {
		kind   Kind
		target string
	}
	last := make(map[targetKey]Mutation)
	order := make([]targetKey, 0, len(s.Mutations))

	for _, m := range s.Mutations {
		target := model.Normalize(m.Target)
		if err := validate(net, m.Kind, target, m); err != nil {
			return nil, err
		}
		key := targetKey{m.Kind, target}
		if _, seen := last[key]; !seen {
			order = append(order, key)
		}
		m.Target = target
		last[key] = m
	}

	eff := &Effective{
		net:      net,
		loads:    net.Loads(),
		gens:     net.Generators(),
		branches: net.Branches(),
	}

	for _, key := range order {
		m := last[key]
		switch m.Kind {
		case LoadChange:
			for i := range eff.loads {
				if eff.loads[i].ID == m.Target {
					applyLoad(&eff.loads[i], m)
				}
			}
		case GenChange:
			for i := range eff.gens {
				if eff.gens[i].ID == m.Target {
					applyGen(&eff.gens[i], m)
				}
			}
		case Outage:
			for i := range eff.branches {
				if eff.branches[i].ID == m.Target {
					eff.branches[i].Enabled = false
				}
			}
		}
	}
	return eff, nil
}

func validate(net *model.Network, kind Kind, target string, m Mutation) error {
	switch kind {
	case LoadChange:
		if _, ok := net.Load(target); !ok {
			return &UnknownTargetError{kind, target}
		}
		return validateValues(kind, target, m)
	case GenChange:
		if _, ok := net.Generator(target); !ok {
			return &UnknownTargetError{kind, target}
		}
		return validateValues(kind, target, m)
	case Outage:
		if _, ok := net.Branch(target); !ok {
			return &UnknownTargetError{kind, target}
		}
		if m.Scale != nil || m.KW != nil || m.KVAR != nil {
			return &ValueError{kind, target, "outage takes no value"}
		}
		return nil
	}
	return &ValueError{kind, target, "unknown mutation kind"}
}

func validateValues(kind Kind, target string, m Mutation) error {
	hasScale := m.Scale != nil
	hasAbsolute := m.KW != nil || m.KVAR != nil
	if hasScale == hasAbsolute {
		return &ValueError{kind, target, "requires a scale multiplier or absolute kw/kvar, not both"}
	}
	return nil
}

func applyLoad(l *model.Load, m Mutation) {
	if m.Scale != nil {
		l.Scale = *m.Scale
		return
	}
	l.Scale = 1.0
	if m.KW != nil {
		l.KW = *m.KW
	}
	if m.KVAR != nil {
		l.KVAR = *m.KVAR
	}
}

func applyGen(g *model.Generator, m Mutation) {
	if m.Scale != nil {
		g.Scale = *m.Scale
		return
	}
	g.Scale = 1.0
	if m.KW != nil {
		g.KW = *m.KW
	}
	if m.KVAR != nil {
		g.KVAR = *m.KVAR
	}
}
