package mqtthandler

import (
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/ohowland/cgc_scenario/internal/pkg/compare"
	"github.com/ohowland/cgc_scenario/internal/pkg/msg"
	"github.com/ohowland/cgc_scenario/internal/pkg/study"
	"gotest.tools/v3/assert"
)

func newHandler(t *testing.T) (Handler, *msg.PubSub) {
	pid, err := uuid.NewUUID()
	assert.NilError(t, err)
	pub := msg.NewPublisher(pid)

	h, err := New("./mqtthandler_test_config.json", pub)
	assert.NilError(t, err)
	return h, pub
}

func TestGetConfig(t *testing.T) {
	h, _ := newHandler(t)
	assert.Equal(t, h.config.Broker, "tcp://localhost:1883")
	assert.Equal(t, h.config.TopicRoot, "cgc/scenario")
	assert.Assert(t, h.config.ClientID != "", "a client id must be generated when absent")
}

func TestViolationTopic(t *testing.T) {
	h, _ := newHandler(t)

	runID, err := uuid.NewUUID()
	assert.NilError(t, err)
	report := study.Report{RunID: runID}
	row := compare.Row{Bus: "endbus", Lost: true, Violation: true}

	want := fmt.Sprintf("cgc/scenario/%v/violations/endbus", runID)
	assert.Equal(t, h.violationTopic(report, row), want)
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
		assert.Equal(t, report.RunID, runID)
	case <-time.After(time.Second):
		t.Fatal("report never reached the handler inbox")
	}
}
