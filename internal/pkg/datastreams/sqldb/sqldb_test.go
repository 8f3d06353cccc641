package sqldb

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/ohowland/cgc_scenario/internal/pkg/msg"
	"github.com/ohowland/cgc_scenario/internal/pkg/study"
	"gotest.tools/v3/assert"
)

func newHandler(t *testing.T) (Handler, *msg.PubSub) {
	pid, err := uuid.NewUUID()
	assert.NilError(t, err)
	pub := msg.NewPublisher(pid)

	h, err := New("./sqldb_test_config.json", pub)
	assert.NilError(t, err)
	return h, pub
}

func TestGetConfig(t *testing.T) {
	h, _ := newHandler(t)
	assert.Equal(t, h.config.Server, "localhost")
	assert.Equal(t, h.config.Port, 3306)
	assert.Equal(t, h.config.Database, "cgc_scenario")
}

func TestInboxReceivesReports(t *testing.T) {
	h, pub := newHandler(t)

	runID, err := uuid.NewUUID()
	assert.NilError(t, err)
	pub.Publish(msg.Result, study.Report{RunID: runID, Scenario: "test"})

	select {
	case m := <-h.inbox:
		report, ok := m.Payload().(study.Report)
		assert.Assert(t, ok)
		assert.Equal(t, report.Scenario, "test")
	case <-time.After(time.Second):
		t.Fatal("report never reached the handler inbox")
	}
}

func TestInitDatabase(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping TestInitDatabase in short mode")
	}

	h, _ := newHandler(t)
	db, err := h.DB()
	assert.NilError(t, err)
	defer db.Close()

	assert.NilError(t, initDBTables(db))
}

func TestInsertReport(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping TestInsertReport in short mode")
	}

	h, _ := newHandler(t)
	db, err := h.DB()
	assert.NilError(t, err)
	defer db.Close()

	assert.NilError(t, initDBTables(db))

	runID, err := uuid.NewUUID()
	assert.NilError(t, err)
	report := study.Report{RunID: runID, Scenario: "live", Elapsed: 25 * time.Millisecond}
	assert.NilError(t, insertReport(db, report))
}
