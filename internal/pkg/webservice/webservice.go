/*
webservice.go Read-only HTTP view over finished study reports: GET /runs for
summaries, GET /runs/{pid} for the full report. Reports arrive on the
runner's result topic and are cached in memory.
*/

package webservice

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/ohowland/cgc_scenario/internal/pkg/msg"
	"github.com/ohowland/cgc_scenario/internal/pkg/study"
)

// RunSummary is the list view of one cached report.
type RunSummary struct {
	RunID      uuid.UUID `json:"RunID"`
	Scenario   string    `json:"Scenario"`
	Violations int       `json:"Violations"`
	SolveErr   string    `json:"SolveErr,omitempty"`
}

// Service caches reports and serves them over HTTP.
type Service struct {
	mux     *sync.Mutex
	pid     uuid.UUID
	inbox   <-chan msg.Msg
	router  *mux.Router
	reports map[uuid.UUID]study.Report
	order   []uuid.UUID
	stop    chan bool
}

// New returns a Service subscribed to the publisher's result topic.
func New(pub msg.Publisher) (*Service, error) {
	pid, err := uuid.NewUUID()
	if err != nil {
		return nil, err
	}

	inbox, err := pub.Subscribe(pid, msg.Result)
	if err != nil {
		return nil, err
	}

	s := &Service{
		mux:     &sync.Mutex{},
		pid:     pid,
		inbox:   inbox,
		reports: make(map[uuid.UUID]study.Report),
		order:   make([]uuid.UUID, 0),
		stop:    make(chan bool),
	}
	s.router = s.makeRouter()
	return s, nil
}

// PID is a getter for the service's process id.
func (s *Service) PID() uuid.UUID {
	return s.pid
}

func (s *Service) makeRouter() *mux.Router {
	router := mux.NewRouter()
	router.HandleFunc("/runs", s.RunsHandler).Methods("GET")
	router.HandleFunc("/runs/{pid}", s.RunHandler).Methods("GET")
	return router
}

// Process caches incoming reports until stopped.
func (s *Service) Process() {
	log.Println("[Webservice] Process Started")
loop:
	for {
		select {
		case m := <-s.inbox:
			report, ok := m.Payload().(study.Report)
			if !ok {
				continue
			}
			s.addReport(report)

		case <-s.stop:
			break loop
		}
	}
	log.Println("[Webservice] Process Shutdown")
}

// Stop terminates the Process loop.
func (s *Service) Stop() {
	s.stop <- true
}

// Serve blocks on the HTTP listener.
func (s *Service) Serve(addr string) error {
	log.Printf("[Webservice] Serving on %v", addr)
	return http.ListenAndServe(addr, s.router)
}

func (s *Service) addReport(report study.Report) {
	s.mux.Lock()
	defer s.mux.Unlock()
	if _, exists := s.reports[report.RunID]; !exists {
		s.order = append(s.order, report.RunID)
	}
	s.reports[report.RunID] = report
}

// RunsHandler serves the summaries, in arrival order.
func (s *Service) RunsHandler(w http.ResponseWriter, r *http.Request) {
	s.mux.Lock()
	summaries := make([]RunSummary, 0, len(s.order))
	for _, runID := range s.order {
		report := s.reports[runID]
		summaries = append(summaries, RunSummary{
			RunID:      report.RunID,
			Scenario:   report.Scenario,
			Violations: report.Result.Violations(),
			SolveErr:   report.SolveDetail,
		})
	}
	s.mux.Unlock()

	writeJSON(w, summaries)
}

// RunHandler serves one full report by run id.
func (s *Service) RunHandler(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	runID, err := uuid.Parse(vars["pid"])
	if err != nil {
		http.Error(w, "malformed run id", http.StatusBadRequest)
		return
	}

	s.mux.Lock()
	report, ok := s.reports[runID]
	s.mux.Unlock()
	if !ok {
		http.Error(w, "run not found", http.StatusNotFound)
		return
	}

	writeJSON(w, report)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	body, err := json.Marshal(v)
	if err != nil {
		log.Println("[Webservice] malformed JSON:", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=UTF-8")
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}
