/*
mongodb.go Archives study reports to MongoDB, one upserted document per run
id, full comparison table included.
*/

package mongodb

import (
	"context"
	"encoding/json"
	"io/ioutil"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ohowland/cgc_scenario/internal/pkg/msg"
	"github.com/ohowland/cgc_scenario/internal/pkg/study"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Handler archives study reports to a MongoDB collection.
type Handler struct {
	mux    *sync.Mutex
	inbox  <-chan msg.Msg
	pid    uuid.UUID
	config config
	stop   chan bool
}

type config struct {
	URI        string `json:"URI"`
	Port       string `json:"Port"`
	Database   string `json:"Database"`
	Collection string `json:"Collection"`
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
	if cfg.Collection == "" {
		cfg.Collection = "scenarioReports"
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

func reportToBSON(report study.Report) bson.D {
	rows := make([]bson.M, 0, len(report.Result.Rows))
	for _, row := range report.Result.Rows {
		rows = append(rows, bson.M{
			"bus":       row.Bus,
			"baseMag":   row.Base.Mag,
			"baseAngle": row.Base.Angle,
			"modMag":    row.Mod.Mag,
			"modAngle":  row.Mod.Angle,
			"lost":      row.Lost,
			"delta":     row.Delta,
			"pct":       row.Pct,
			"violation": row.Violation,
		})
	}
	return bson.D{
		{Key: "$set", Value: bson.M{
			"runId":     report.RunID.String(),
			"scenario":  report.Scenario,
			"elapsedMs": report.Elapsed.Milliseconds(),
			"solveErr":  report.SolveDetail,
			"rows":      rows,
		}},
	}
}

// Process archives incoming reports until stopped.
func (h Handler) Process() {
	client, err := mongo.NewClient(options.Client().ApplyURI(h.config.URI + ":" + h.config.Port))
	if err != nil {
		log.Printf("[Mongo] client: %v", err)
		return
	}

	ctx := context.Background()
	if err := client.Connect(ctx); err != nil {
		log.Printf("[Mongo] connect: %v", err)
		return
	}
	defer client.Disconnect(ctx)

	collection := client.Database(h.config.Database).Collection(h.config.Collection)
loop:
	for {
		select {
		case m := <-h.inbox:
			report, ok := m.Payload().(study.Report)
			if !ok {
				continue
			}
			opts := options.Update().SetUpsert(true)
			upsertCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			_, err := collection.UpdateOne(
				upsertCtx,
				bson.M{"runId": report.RunID.String()},
				reportToBSON(report),
				opts,
			)
			cancel()
			if err != nil {
				log.Printf("[Mongo] upsert report %v: %v", report.RunID, err)
			}

		case <-h.stop:
			break loop
		}
	}
	log.Println("[Mongo] Process Shutdown")
}
