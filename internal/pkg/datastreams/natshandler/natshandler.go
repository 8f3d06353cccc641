/*
natshandler.go Streams finished study reports onto a NATS subject so other
services can react to scenario results as they land.
*/

package natshandler

import (
	"encoding/json"
	"io/ioutil"
	"log"
	"sync"

	"github.com/google/uuid"
	"github.com/ohowland/cgc_scenario/internal/pkg/msg"
	"github.com/ohowland/cgc_scenario/internal/pkg/study"

	nats "github.com/nats-io/nats.go"
)

// Handler relays study reports to a NATS server.
type Handler struct {
	mux    *sync.Mutex
	inbox  <-chan msg.Msg
	pid    uuid.UUID
	config config
	stop   chan bool
}

type config struct {
	Server  string `json:"Server"`
	Subject string `json:"Subject"`
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
	if cfg.Server == "" {
		cfg.Server = nats.DefaultURL
	}
	if cfg.Subject == "" {
		cfg.Subject = "cgc.scenario.result"
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

// Process relays reports until stopped. Reports publish to
// <subject>.<runid> as JSON.
func (h Handler) Process() {
	log.Println("[NATS client] Process Started")
	nc, err := nats.Connect(h.config.Server)
	if err != nil {
		log.Printf("[NATS client] connect failed: %v", err)
		return
	}
	defer nc.Close()

loop:
	for {
		select {
		case m := <-h.inbox:
			report, ok := m.Payload().(study.Report)
			if !ok {
				continue
			}
			data, err := json.Marshal(report)
			if err != nil {
				log.Printf("[NATS client] marshal report: %v", err)
				continue
			}
			subject := h.config.Subject + "." + report.RunID.String()
			if err := nc.Publish(subject, data); err != nil {
				log.Printf("[NATS client] unable to publish: %v", err)
			}

		case <-h.stop:
			break loop
		}
	}
	log.Println("[NATS client] Process Shutdown")
}
