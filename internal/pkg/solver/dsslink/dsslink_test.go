package dsslink

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"testing"

	"github.com/ohowland/cgc_scenario/internal/pkg/model"
	"github.com/ohowland/cgc_scenario/internal/pkg/scenario"
	"github.com/ohowland/cgc_scenario/internal/pkg/solver"
	"gotest.tools/v3/assert"
)

// fakeEngine speaks the engine's line protocol on a loopback listener and
// records every command it was sent.
type fakeEngine struct {
	listener net.Listener
	status   string
	rows     []string
	silent   bool
	commands chan []string
}

func newFakeEngine(t *testing.T, status string, rows []string) *fakeEngine {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	assert.NilError(t, err)

	f := &fakeEngine{
		listener: l,
		status:   status,
		rows:     rows,
		commands: make(chan []string, 4),
	}
	go f.serve()
	t.Cleanup(func() { l.Close() })
	return f
}

func (f *fakeEngine) serve() {
	for {
		conn, err := f.listener.Accept()
		if err != nil {
			return
		}
		go f.handle(conn)
	}
}

func (f *fakeEngine) handle(conn net.Conn) {
	defer conn.Close()
	cmds := make([]string, 0)
	scan := bufio.NewScanner(conn)
	for scan.Scan() {
		cmd := scan.Text()
		cmds = append(cmds, cmd)
		if f.silent {
			continue
		}
		switch cmd {
		case "solve":
			fmt.Fprintln(conn, f.status)
		case "show voltages":
			for _, row := range f.rows {
				fmt.Fprintln(conn, row)
			}
			fmt.Fprintln(conn, "end")
		}
	}
	f.commands <- cmds
}

func (f *fakeEngine) config(t *testing.T, timeoutMS int) []byte {
	host, port, err := net.SplitHostPort(f.listener.Addr().String())
	assert.NilError(t, err)
	return []byte(fmt.Sprintf(`{"IPAddr": %q, "Port": %q, "Timeout": %v}`, host, port, timeoutMS))
}

func testNetwork(t *testing.T) *model.Network {
	def := []byte(`{
		"Name": "test",
		"SourceBus": "a",
		"Buses": [
			{"ID": "a", "BaseKV": 12.47},
			{"ID": "b", "BaseKV": 12.47},
			{"ID": "c", "BaseKV": 12.47}
		],
		"Loads": [{"ID": "l1", "Bus": "b", "KW": 100, "KVAR": 20}],
		"Branches": [
			{"ID": "line1", "FromBus": "a", "ToBus": "b", "R": 0.5, "X": 1.0},
			{"ID": "line2", "FromBus": "b", "ToBus": "c", "R": 0.5, "X": 1.0}
		]}`)
	net, err := model.New(def)
	assert.NilError(t, err)
	return net
}

func contains(cmds []string, want string) bool {
	for _, cmd := range cmds {
		if cmd == want {
			return true
		}
	}
	return false
}

func TestSolveConverged(t *testing.T) {
	// rows arrive out of model order, with an engine-internal node mixed in
	engine := newFakeEngine(t, "converged 4", []string{
		"b,0.978,-1.21,3",
		"sourcebus_internal,1.0,0.0,3",
		"a,1.0,0.0,3",
	})

	slv, err := New(engine.config(t, 2000))
	assert.NilError(t, err)

	net := testNetwork(t)
	set := scenario.Set{Mutations: []scenario.Mutation{
		{Kind: scenario.Outage, Target: "line2"},
	}}
	eff, err := set.Apply(net)
	assert.NilError(t, err)

	sol, err := slv.Solve(context.Background(), eff)
	assert.NilError(t, err)
	assert.Equal(t, sol.Iterations(), 4)

	samples := sol.Samples()
	assert.Equal(t, len(samples), 2, "internal node rows must be dropped")
	assert.Equal(t, samples[0].Bus, "a", "rows must follow model bus order")
	assert.Equal(t, samples[1].Bus, "b")
	assert.Equal(t, samples[1].Mag, 0.978)
	assert.Equal(t, samples[1].Angle, -1.21)

	_, ok := sol.Sample("c")
	assert.Assert(t, !ok, "bus absent from engine output must be absent from the solution")

	cmds := <-engine.commands
	assert.Equal(t, cmds[0], "clear", "engine state must be reset before each build")
	assert.Assert(t, contains(cmds, "disable line.line2"), "outaged branch not disabled: %v", cmds)
	assert.Assert(t, contains(cmds, "new load.l1 bus=b kw=100 kvar=20"), "load not defined: %v", cmds)
	assert.Assert(t, contains(cmds, "set maxiterations=1000 maxcontroliter=100"), "solver knobs not set: %v", cmds)
	assert.Assert(t, contains(cmds, "solve"))
}

func TestSolveDiverged(t *testing.T) {
	engine := newFakeEngine(t, "diverged 1000 iteration limit", nil)

	slv, err := New(engine.config(t, 2000))
	assert.NilError(t, err)

	net := testNetwork(t)
	eff, err := scenario.Set{}.Apply(net)
	assert.NilError(t, err)

	_, err = slv.Solve(context.Background(), eff)
	var diverged *solver.DivergedError
	assert.Assert(t, errors.As(err, &diverged), "expected DivergedError, got %v", err)
	assert.Equal(t, diverged.Iterations, 1000)
	assert.Equal(t, diverged.Detail, "iteration limit")
}

func TestSolveUnavailable(t *testing.T) {
	engine := newFakeEngine(t, "converged 1", nil)
	cfg := engine.config(t, 500)
	engine.listener.Close()

	slv, err := New(cfg)
	assert.NilError(t, err)

	net := testNetwork(t)
	eff, err := scenario.Set{}.Apply(net)
	assert.NilError(t, err)

	_, err = slv.Solve(context.Background(), eff)
	var unavailable *solver.UnavailableError
	assert.Assert(t, errors.As(err, &unavailable), "expected UnavailableError, got %v", err)
}

func TestSolveTimeout(t *testing.T) {
	engine := newFakeEngine(t, "converged 1", nil)
	engine.silent = true

	slv, err := New(engine.config(t, 100))
	assert.NilError(t, err)

	net := testNetwork(t)
	eff, err := scenario.Set{}.Apply(net)
	assert.NilError(t, err)

	_, err = slv.Solve(context.Background(), eff)
	var timeout *solver.TimeoutError
	assert.Assert(t, errors.As(err, &timeout), "expected TimeoutError, got %v", err)
}

func TestConfigDefaults(t *testing.T) {
	slv, err := New([]byte(`{"IPAddr": "127.0.0.1", "Port": "9000"}`))
	assert.NilError(t, err)

	assert.Equal(t, slv.cfg.Timeout, 5000)
	assert.Equal(t, slv.cfg.MaxIterations, 1000)
	assert.Equal(t, slv.cfg.MaxControlIter, 100)
}
