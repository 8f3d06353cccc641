/*
dsslink.go Adapter to a long-lived DSS-style power flow engine reached over a
TCP line protocol. The engine is stateful; every solve opens a fresh session,
issues `clear` and rebuilds the full circuit, so engine state never leaks
between scenarios and two solves of one effective model return identical
results. Connections are opened and closed around each solve.
*/

package dsslink

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io/ioutil"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ohowland/cgc_scenario/internal/pkg/model"
	"github.com/ohowland/cgc_scenario/internal/pkg/scenario"
	"github.com/ohowland/cgc_scenario/internal/pkg/solver"
)

// Config is the configuration format for the engine link.
type Config struct {
	IPAddr         string `json:"IPAddr"`
	Port           string `json:"Port"`
	Timeout        int    `json:"Timeout"` // milliseconds, whole solve
	MaxIterations  int    `json:"MaxIterations"`
	MaxControlIter int    `json:"MaxControlIter"`
}

// Solver drives the external engine. It keeps no session state between
// solves; concurrent Solve calls each hold their own connection.
type Solver struct {
	pid uuid.UUID
	cfg Config
}

// New returns a configured engine link.
func New(jsonConfig []byte) (*Solver, error) {
	cfg := Config{}
	if err := json.Unmarshal(jsonConfig, &cfg); err != nil {
		return nil, err
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 5000
	}
	if cfg.MaxIterations == 0 {
		cfg.MaxIterations = 1000
	}
	if cfg.MaxControlIter == 0 {
		cfg.MaxControlIter = 100
	}

	pid, err := uuid.NewUUID()
	if err != nil {
		return nil, err
	}
	return &Solver{pid, cfg}, nil
}

// NewFromFile returns an engine link configured from a JSON file.
func NewFromFile(path string) (*Solver, error) {
	jsonConfig, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return New(jsonConfig)
}

// PID is a getter for the solver's process id.
func (s *Solver) PID() uuid.UUID {
	return s.pid
}

// Solve submits the effective model and blocks for the engine's verdict.
func (s *Solver) Solve(ctx context.Context, eff *scenario.Effective) (solver.Solution, error) {
	endpoint := s.cfg.IPAddr + ":" + s.cfg.Port
	timeout := time.Duration(s.cfg.Timeout) * time.Millisecond

	dialer := net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", endpoint)
	if err != nil {
		return solver.Solution{}, &solver.UnavailableError{Endpoint: endpoint, Err: err}
	}
	defer conn.Close()

	deadline := time.Now().Add(timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return solver.Solution{}, &solver.UnavailableError{Endpoint: endpoint, Err: err}
	}

	sess := &session{
		endpoint: endpoint,
		timeout:  timeout,
		w:        bufio.NewWriter(conn),
		scan:     bufio.NewScanner(conn),
	}

	if err := sess.build(eff, s.cfg); err != nil {
		return solver.Solution{}, err
	}
	iterations, err := sess.solve()
	if err != nil {
		return solver.Solution{}, err
	}
	samples, err := sess.voltages(eff.Network())
	if err != nil {
		return solver.Solution{}, err
	}
	return solver.NewSolution(samples, iterations), nil
}

type session struct {
	endpoint string
	timeout  time.Duration
	w        *bufio.Writer
	scan     *bufio.Scanner
}

// build resets the engine and redefines the circuit from the effective model.
func (s *session) build(eff *scenario.Effective, cfg Config) error {
	net := eff.Network()
	src, _ := net.Bus(net.SourceBus())

	s.command("clear")
	s.command(fmt.Sprintf("new circuit.%v bus=%v basekv=%v", net.Name(), src.ID, formatFloat(src.BaseKV)))

	for _, bus := range eff.Buses() {
		s.command(fmt.Sprintf("new bus.%v basekv=%v phases=%v", bus.ID, formatFloat(bus.BaseKV), bus.Phases))
	}
	for _, br := range eff.Branches() {
		if br.ToBus == "" {
			s.command(fmt.Sprintf("new %v.%v bus1=%v r=%v x=%v",
				br.Kind, br.ID, br.FromBus, formatFloat(br.R), formatFloat(br.X)))
			continue
		}
		s.command(fmt.Sprintf("new %v.%v bus1=%v bus2=%v r=%v x=%v",
			br.Kind, br.ID, br.FromBus, br.ToBus, formatFloat(br.R), formatFloat(br.X)))
	}
	for _, load := range eff.Loads() {
		s.command(fmt.Sprintf("new load.%v bus=%v kw=%v kvar=%v",
			load.ID, load.Bus, formatFloat(load.EffectiveKW()), formatFloat(load.EffectiveKVAR())))
	}
	for _, gen := range eff.Generators() {
		s.command(fmt.Sprintf("new generator.%v bus=%v kw=%v kvar=%v",
			gen.ID, gen.Bus, formatFloat(gen.EffectiveKW()), formatFloat(gen.EffectiveKVAR())))
	}
	for _, br := range eff.Branches() {
		if !br.Enabled {
			s.command(fmt.Sprintf("disable %v.%v", br.Kind, br.ID))
		}
	}
	s.command(fmt.Sprintf("set maxiterations=%v maxcontroliter=%v", cfg.MaxIterations, cfg.MaxControlIter))

	if err := s.w.Flush(); err != nil {
		return s.commErr(err)
	}
	return nil
}

// solve issues the solve command and parses the engine's verdict line:
// "converged <iterations>" or "diverged <detail>".
func (s *session) solve() (int, error) {
	s.command("solve")
	if err := s.w.Flush(); err != nil {
		return 0, s.commErr(err)
	}

	line, err := s.readLine()
	if err != nil {
		return 0, err
	}
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return 0, &solver.UnavailableError{Endpoint: s.endpoint, Err: fmt.Errorf("empty solve status")}
	}
	switch fields[0] {
	case "converged":
		iterations := 0
		if len(fields) > 1 {
			iterations, _ = strconv.Atoi(fields[1])
		}
		return iterations, nil
	case "diverged":
		derr := &solver.DivergedError{Detail: strings.Join(fields[1:], " ")}
		if len(fields) > 1 {
			if n, err := strconv.Atoi(fields[1]); err == nil {
				derr.Iterations = n
				derr.Detail = strings.Join(fields[2:], " ")
			}
		}
		return 0, derr
	}
	return 0, &solver.UnavailableError{Endpoint: s.endpoint, Err: fmt.Errorf("unexpected solve status %q", line)}
}

// voltages retrieves the per-bus solution. The engine emits one
// "bus,mag,angle,phases" line per energized bus, terminated by "end"; rows
// are reordered to the model's bus enumeration.
func (s *session) voltages(net *model.Network) ([]solver.Sample, error) {
	s.command("show voltages")
	if err := s.w.Flush(); err != nil {
		return nil, s.commErr(err)
	}

	byBus := make(map[string]solver.Sample)
	for {
		line, err := s.readLine()
		if err != nil {
			return nil, err
		}
		if line == "end" {
			break
		}
		sample, err := parseSample(line)
		if err != nil {
			return nil, &solver.UnavailableError{Endpoint: s.endpoint, Err: err}
		}
		// engine-internal nodes are not model buses; drop them
		if _, ok := net.Bus(sample.Bus); !ok {
			continue
		}
		byBus[sample.Bus] = sample
	}

	samples := make([]solver.Sample, 0, len(byBus))
	for _, bus := range net.Buses() {
		if sample, ok := byBus[bus.ID]; ok {
			samples = append(samples, sample)
		}
	}
	return samples, nil
}

func parseSample(line string) (solver.Sample, error) {
	parts := strings.Split(line, ",")
	if len(parts) != 4 {
		return solver.Sample{}, fmt.Errorf("malformed voltage row %q", line)
	}
	mag, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return solver.Sample{}, fmt.Errorf("malformed voltage row %q: %v", line, err)
	}
	angle, err := strconv.ParseFloat(strings.TrimSpace(parts[2]), 64)
	if err != nil {
		return solver.Sample{}, fmt.Errorf("malformed voltage row %q: %v", line, err)
	}
	phases, err := strconv.Atoi(strings.TrimSpace(parts[3]))
	if err != nil {
		return solver.Sample{}, fmt.Errorf("malformed voltage row %q: %v", line, err)
	}
	return solver.Sample{
		Bus:    model.Normalize(parts[0]),
		Mag:    mag,
		Angle:  angle,
		Phases: phases,
	}, nil
}

func (s *session) command(cmd string) {
	s.w.WriteString(cmd)
	s.w.WriteByte('\n')
}

func (s *session) readLine() (string, error) {
	if !s.scan.Scan() {
		err := s.scan.Err()
		if err == nil {
			err = fmt.Errorf("connection closed by engine")
		}
		return "", s.commErr(err)
	}
	return strings.TrimSpace(s.scan.Text()), nil
}

func (s *session) commErr(err error) error {
	if nerr, ok := err.(net.Error); ok && nerr.Timeout() {
		return &solver.TimeoutError{Timeout: s.timeout}
	}
	return &solver.UnavailableError{Endpoint: s.endpoint, Err: err}
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
