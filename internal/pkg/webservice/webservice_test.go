package webservice

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/ohowland/cgc_scenario/internal/pkg/compare"
	"github.com/ohowland/cgc_scenario/internal/pkg/msg"
	"github.com/ohowland/cgc_scenario/internal/pkg/study"
	"gotest.tools/v3/assert"
)

func newService(t *testing.T) *Service {
	pid, err := uuid.NewUUID()
	assert.NilError(t, err)
	pub := msg.NewPublisher(pid)

	s, err := New(pub)
	assert.NilError(t, err)
	return s
}

func testReport(t *testing.T) study.Report {
	runID, err := uuid.NewUUID()
	assert.NilError(t, err)
	return study.Report{
		RunID:    runID,
		Scenario: "line1-outage",
		Result: compare.Result{Rows: []compare.Row{
			{Bus: "a", Delta: -0.05, Pct: -5.0, Violation: true},
			{Bus: "b", Lost: true, Violation: true},
		}},
	}
}

func TestRunsGet(t *testing.T) {
	s := newService(t)
	report := testReport(t)
	s.addReport(report)

	w := httptest.NewRecorder()
	r := httptest.NewRequest("GET", "http://example.com/runs", nil)
	s.router.ServeHTTP(w, r)

	assert.Equal(t, w.Code, http.StatusOK)
	assert.Equal(t, w.Header().Get("Content-Type"), "application/json; charset=UTF-8")

	summaries := make([]RunSummary, 0)
	assert.NilError(t, json.Unmarshal(w.Body.Bytes(), &summaries))
	assert.Equal(t, len(summaries), 1)
	assert.Equal(t, summaries[0].RunID, report.RunID)
	assert.Equal(t, summaries[0].Scenario, "line1-outage")
	assert.Equal(t, summaries[0].Violations, 2)
}

func TestRunGet(t *testing.T) {
	s := newService(t)
	report := testReport(t)
	s.addReport(report)

	w := httptest.NewRecorder()
	r := httptest.NewRequest("GET", "http://example.com/runs/"+report.RunID.String(), nil)
	s.router.ServeHTTP(w, r)

	assert.Equal(t, w.Code, http.StatusOK)

	got := study.Report{}
	assert.NilError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, got.RunID, report.RunID)
	assert.Equal(t, len(got.Result.Rows), 2)
	assert.Assert(t, got.Result.Rows[1].Lost)
}

func TestRunGetNotFound(t *testing.T) {
	s := newService(t)

	pid, err := uuid.NewUUID()
	assert.NilError(t, err)

	w := httptest.NewRecorder()
	r := httptest.NewRequest("GET", "http://example.com/runs/"+pid.String(), nil)
	s.router.ServeHTTP(w, r)

	assert.Equal(t, w.Code, http.StatusNotFound)
}

func TestRunGetMalformedID(t *testing.T) {
	s := newService(t)

	w := httptest.NewRecorder()
	r := httptest.NewRequest("GET", "http://example.com/runs/not-a-uuid", nil)
	s.router.ServeHTTP(w, r)

	assert.Equal(t, w.Code, http.StatusBadRequest)
}

func TestProcessCachesPublishedReports(t *testing.T) {
	pid, err := uuid.NewUUID()
	assert.NilError(t, err)
	pub := msg.NewPublisher(pid)

	s, err := New(pub)
	assert.NilError(t, err)
	go s.Process()
	defer s.Stop()

	report := testReport(t)
	pub.Publish(msg.Result, report)

	// Process runs on its own goroutine; poll the cache
	for i := 0; i < 100; i++ {
		w := httptest.NewRecorder()
		r := httptest.NewRequest("GET", "http://example.com/runs/"+report.RunID.String(), nil)
		s.router.ServeHTTP(w, r)
		if w.Code == http.StatusOK {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("published report never appeared in the cache")
}
