/*
sqldb.go Archives study reports to MySQL: one scenario_runs row per report
and one comparison_rows row per bus, keyed by run id.
*/

package sqldb

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io/ioutil"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ohowland/cgc_scenario/internal/pkg/msg"
	"github.com/ohowland/cgc_scenario/internal/pkg/study"

	_ "github.com/go-sql-driver/mysql"
)

// Handler archives study reports to a SQL database.
type Handler struct {
	mux    *sync.Mutex
	inbox  <-chan msg.Msg
	pid    uuid.UUID
	config config
	stop   chan bool
}

type config struct {
	Server   string `json:"Server"`
	Port     int    `json:"Port"`
	Username string `json:"Username"`
	Password string `json:"Password"`
	Database string `json:"Database"`
}

// PID is a getter for the handler's process id.
func (h Handler) PID() uuid.UUID {
	return h.pid
}

func redirectMsg(chIn <-chan msg.Msg, chOut chan<- msg.Msg) {
	for m := range chIn {
		chOut <- m
	}
}

// New returns a Handler subscribed to the publisher's result topic.
func New(configPath string, pub msg.Publisher) (Handler, error) {
	jsonConfig, err := ioutil.ReadFile(configPath)
	if err != nil {
		return Handler{}, err
	}
	cfg := config{}
	if err := json.Unmarshal(jsonConfig, &cfg); err != nil {
		return Handler{}, err
	}

	pid, err := uuid.NewUUID()
	if err != nil {
		return Handler{}, err
	}

	inbox := make(chan msg.Msg, 50)
	chResult, err := pub.Subscribe(pid, msg.Result)
	if err != nil {
		return Handler{}, err
	}
	go redirectMsg(chResult, inbox)

	return Handler{
		mux:    &sync.Mutex{},
		inbox:  inbox,
		pid:    pid,
		config: cfg,
		stop:   make(chan bool),
	}, nil
}

// Stop terminates the Process loop.
func (h *Handler) Stop() {
	h.stop <- true
}

// DB opens a connection pool against the configured database.
func (h Handler) DB() (*sql.DB, error) {
	uri := fmt.Sprintf("%v:%v@tcp(%v:%v)/%v",
		h.config.Username, h.config.Password, h.config.Server, h.config.Port, h.config.Database)
	return sql.Open("mysql", uri)
}

// Process archives incoming reports until stopped.
func (h Handler) Process() {
	db, err := h.DB()
	if err != nil {
		log.Printf("[SQL] open failed: %v", err)
		return
	}
	defer db.Close()

	if err := initDBTables(db); err != nil {
		log.Printf("[SQL] init tables failed: %v", err)
		return
	}

loop:
	for {
		select {
		case m := <-h.inbox:
			report, ok := m.Payload().(study.Report)
			if !ok {
				continue
			}
			if err := insertReport(db, report); err != nil {
				log.Printf("[SQL] insert report %v: %v", report.RunID, err)
			}

		case <-h.stop:
			break loop
		}
	}
	log.Println("[SQL] Process Shutdown")
}

func initDBTables(db *sql.DB) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS scenario_runs(
			run_id VARCHAR(36) PRIMARY KEY,
			scenario VARCHAR(255),
			elapsed_ms BIGINT,
			solve_err TEXT)`,
		`CREATE TABLE IF NOT EXISTS comparison_rows(
			run_id VARCHAR(36),
			bus VARCHAR(255),
			base_mag DOUBLE,
			base_angle DOUBLE,
			mod_mag DOUBLE,
			mod_angle DOUBLE,
			lost BOOL,
			delta DOUBLE,
			pct DOUBLE,
			violation BOOL,
			PRIMARY KEY (run_id, bus))`,
	}
	for _, statement := range statements {
		if _, err := db.Exec(statement); err != nil {
			return err
		}
	}
	return nil
}

func insertReport(db *sql.DB, report study.Report) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := db.ExecContext(ctx,
		`INSERT INTO scenario_runs (run_id, scenario, elapsed_ms, solve_err) VALUES (?, ?, ?, ?)`,
		report.RunID.String(), report.Scenario, report.Elapsed.Milliseconds(), report.SolveDetail)
	if err != nil {
		return err
	}

	for _, row := range report.Result.Rows {
		_, err := db.ExecContext(ctx,
			`INSERT INTO comparison_rows
			 (run_id, bus, base_mag, base_angle, mod_mag, mod_angle, lost, delta, pct, violation)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			report.RunID.String(), row.Bus,
			row.Base.Mag, row.Base.Angle, row.Mod.Mag, row.Mod.Angle,
			row.Lost, row.Delta, row.Pct, row.Violation)
		if err != nil {
			return err
		}
	}
	return nil
}
