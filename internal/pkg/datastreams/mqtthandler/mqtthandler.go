/*
mqtthandler.go Publishes violating comparison rows to an MQTT broker, one
retained-free message per flagged bus, so dashboards and alarms can watch
scenario studies live.
*/

package mqtthandler

import (
	"encoding/json"
	"fmt"
	"io/ioutil"
	"log"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/ohowland/cgc_scenario/internal/pkg/compare"
	"github.com/ohowland/cgc_scenario/internal/pkg/msg"
	"github.com/ohowland/cgc_scenario/internal/pkg/study"
)

// Handler relays violating rows to an MQTT broker.
type Handler struct {
	mux    *sync.Mutex
	inbox  <-chan msg.Msg
	pid    uuid.UUID
	config config
	stop   chan bool
}

type config struct {
	Broker    string `json:"Broker"`
	ClientID  string `json:"ClientID"`
	TopicRoot string `json:"TopicRoot"`
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
	if cfg.TopicRoot == "" {
		cfg.TopicRoot = "cgc/scenario"
	}

	pid, err := uuid.NewUUID()
	if err != nil {
		return Handler{}, err
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "cgc-scenario-" + pid.String()
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

// violationTopic is <root>/<runid>/violations/<bus>.
func (h Handler) violationTopic(report study.Report, row compare.Row) string {
	return fmt.Sprintf("%v/%v/violations/%v", h.config.TopicRoot, report.RunID, row.Bus)
}

// Process relays violations until stopped.
func (h Handler) Process() {
	opts := mqtt.NewClientOptions().AddBroker(h.config.Broker).SetClientID(h.config.ClientID)
	client := mqtt.NewClient(opts)
	token := client.Connect()
	if token.WaitTimeout(5*time.Second) && token.Error() != nil {
		log.Printf("[MQTT] connect failed: %v", token.Error())
		return
	}
	defer client.Disconnect(250)

loop:
	for {
		select {
		case m := <-h.inbox:
			report, ok := m.Payload().(study.Report)
			if !ok {
				continue
			}
			for _, row := range report.Result.Rows {
				if !row.Violation {
					continue
				}
				data, err := json.Marshal(row)
				if err != nil {
					log.Printf("[MQTT] marshal row: %v", err)
					continue
				}
				client.Publish(h.violationTopic(report, row), 0, false, data)
			}

		case <-h.stop:
			break loop
		}
	}
	log.Println("[MQTT] Process Shutdown")
}
