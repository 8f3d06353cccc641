/*
modbusmeter.go Polls feeder meters over Modbus TCP and turns the readings
into a scenario set of absolute load changes: a measured snapshot used to
calibrate the baseline model before a study. The client connects and closes
around each poll.
*/

package modbusmeter

import (
	"encoding/json"
	"fmt"
	"io/ioutil"
	"time"

	"github.com/goburrow/modbus"
	"github.com/google/uuid"

	"github.com/ohowland/cgc_scenario/internal/pkg/scenario"
)

// Config is the configuration format for a Meter.
type Config struct {
	IPAddr   string    `json:"IPAddr"`
	Port     string    `json:"Port"`
	SlaveID  byte      `json:"SlaveID"`
	Timeout  int       `json:"Timeout"` // milliseconds
	Channels []Channel `json:"Channels"`
}

// Channel maps one model load to its kW and kVAr meter registers.
type Channel struct {
	Load string   `json:"Load"`
	KW   Register `json:"KW"`
	KVAR Register `json:"KVAR"`
}

// Register locates and describes one metered value.
type Register struct {
	Address     uint16  `json:"Address"`
	DataType    string  `json:"DataType"`   // u16 i16 u32 i32 f32 u64 i64 f64
	Endianness  string  `json:"Endianness"` // big or little
	ScaleFactor float64 `json:"ScaleFactor"`
}

// Meter reads calibration snapshots from one metering device.
type Meter struct {
	pid     uuid.UUID
	handler *modbus.TCPClientHandler
	cfg     Config
}

// New returns a configured Meter.
func New(jsonConfig []byte) (*Meter, error) {
	cfg := Config{}
	if err := json.Unmarshal(jsonConfig, &cfg); err != nil {
		return nil, err
	}
	for _, ch := range cfg.Channels {
		if ch.Load == "" {
			return nil, fmt.Errorf("modbusmeter: channel missing load id")
		}
		for _, reg := range []Register{ch.KW, ch.KVAR} {
			if sizeOf(reg.DataType) == 0 {
				return nil, fmt.Errorf("modbusmeter: channel %v: unknown datatype %q", ch.Load, reg.DataType)
			}
		}
	}

	handler := modbus.NewTCPClientHandler(cfg.IPAddr + ":" + cfg.Port)
	handler.Timeout = time.Millisecond * time.Duration(cfg.Timeout)
	handler.SlaveId = cfg.SlaveID

	pid, err := uuid.NewUUID()
	if err != nil {
		return nil, err
	}
	return &Meter{pid, handler, cfg}, nil
}

// NewFromFile returns a Meter configured from a JSON file.
func NewFromFile(path string) (*Meter, error) {
	jsonConfig, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return New(jsonConfig)
}

// PID is a getter for the meter's process id.
func (m *Meter) PID() uuid.UUID {
	return m.pid
}

// Snapshot polls every channel and emits the measured demand as a scenario
// set of absolute load changes, in channel order.
func (m *Meter) Snapshot() (scenario.Set, error) {
	if err := m.handler.Connect(); err != nil {
		return scenario.Set{}, fmt.Errorf("modbusmeter: %w", err)
	}
	defer m.handler.Close()
	client := modbus.NewClient(m.handler)

	set := scenario.Set{Name: "meter snapshot"}
	for _, ch := range m.cfg.Channels {
		kw, err := readRegister(client, ch.KW)
		if err != nil {
			return scenario.Set{}, fmt.Errorf("modbusmeter: channel %v kw: %w", ch.Load, err)
		}
		kvar, err := readRegister(client, ch.KVAR)
		if err != nil {
			return scenario.Set{}, fmt.Errorf("modbusmeter: channel %v kvar: %w", ch.Load, err)
		}
		set.Mutations = append(set.Mutations, scenario.Mutation{
			Kind:   scenario.LoadChange,
			Target: ch.Load,
			KW:     &kw,
			KVAR:   &kvar,
		})
	}
	return set, nil
}

func readRegister(client modbus.Client, reg Register) (float64, error) {
	resp, err := client.ReadHoldingRegisters(reg.Address, sizeOf(reg.DataType))
	if err != nil {
		return 0, err
	}
	val := decode(resp, reg)
	if reg.ScaleFactor != 0 {
		val *= reg.ScaleFactor
	}
	return val, nil
}
