package main

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/viper"

	"github.com/ohowland/cgc_scenario/internal/pkg/datastreams/mongodb"
	"github.com/ohowland/cgc_scenario/internal/pkg/datastreams/mqtthandler"
	"github.com/ohowland/cgc_scenario/internal/pkg/datastreams/natshandler"
	"github.com/ohowland/cgc_scenario/internal/pkg/datastreams/sqldb"
	"github.com/ohowland/cgc_scenario/internal/pkg/export"
	"github.com/ohowland/cgc_scenario/internal/pkg/model"
	"github.com/ohowland/cgc_scenario/internal/pkg/msg"
	"github.com/ohowland/cgc_scenario/internal/pkg/scenario"
	"github.com/ohowland/cgc_scenario/internal/pkg/solver"
	"github.com/ohowland/cgc_scenario/internal/pkg/solver/dsslink"
	"github.com/ohowland/cgc_scenario/internal/pkg/solver/virtual"
	"github.com/ohowland/cgc_scenario/internal/pkg/study"
	"github.com/ohowland/cgc_scenario/internal/pkg/sweep"
	"github.com/ohowland/cgc_scenario/internal/pkg/telemetry/modbusmeter"
	"github.com/ohowland/cgc_scenario/internal/pkg/webservice"
)

type processor interface {
	Process()
	Stop()
}

func main() {
	log.Println("[Main] Starting CGC_Scenario v0.1.0")
	loadConfig()

	log.Println("[Main] Loading Network Model")
	net, err := model.NewFromFile(viper.GetString("model.path"))
	if err != nil {
		log.Fatal(err)
	}

	log.Println("[Main] Building Solver")
	slv := buildSolver()

	log.Println("[Main] Building Study Runner")
	runner := buildRunner(slv)

	calibrateFromMeter(runner)

	handlers := linkDatastreams(runner)
	serveWebservice(runner)

	log.Println("[Main] Loading Scenarios")
	sets := loadScenarios(net)
	if len(sets) == 0 {
		log.Fatal("[Main] no scenarios configured")
	}

	log.Printf("[Main] Running %v scenarios", len(sets))
	reports, err := runner.RunBatch(context.Background(), net, sets)
	if err != nil {
		log.Fatal(err)
	}
	for _, report := range reports {
		log.Printf("[Main] %v: %v violations, elapsed %v",
			report.Scenario, report.Result.Violations(), report.Elapsed)
	}

	exportReports(net, reports)

	if addr := viper.GetString("webservice.addr"); addr != "" {
		log.Println("[Main] Study complete, webservice still serving; interrupt to exit")
		sigs := make(chan os.Signal, 1)
		signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
		<-sigs
	}

	log.Println("[Main] Stopping handlers")
	for _, h := range handlers {
		h.Stop()
	}
	runner.Stop()
	log.Println("[Main] Shutdown")
}

func loadConfig() {
	viper.SetConfigName("cgcs")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	viper.SetDefault("solver.kind", "virtual")
	viper.SetDefault("study.workers", 4)
	viper.SetDefault("study.timeout_ms", 30000)
	viper.SetDefault("study.threshold_pct", 5.0)

	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		log.Fatalf("[Main] read config: %v", err)
	}
}

func buildSolver() solver.Solver {
	switch kind := viper.GetString("solver.kind"); kind {
	case "virtual":
		slv, err := virtual.New(nil)
		if err != nil {
			log.Fatal(err)
		}
		return slv
	case "dsslink":
		slv, err := dsslink.NewFromFile(viper.GetString("solver.config"))
		if err != nil {
			log.Fatal(err)
		}
		return slv
	default:
		log.Fatalf("[Main] unknown solver kind %q", kind)
		return nil
	}
}

func buildRunner(slv solver.Solver) *study.Runner {
	cfg := study.Config{
		Workers:      viper.GetInt("study.workers"),
		Timeout:      viper.GetInt("study.timeout_ms"),
		ThresholdPct: viper.GetFloat64("study.threshold_pct"),
	}
	jsonConfig, err := json.Marshal(cfg)
	if err != nil {
		log.Fatal(err)
	}
	runner, err := study.New(jsonConfig, slv)
	if err != nil {
		log.Fatal(err)
	}
	return runner
}

func calibrateFromMeter(runner *study.Runner) {
	configPath := viper.GetString("calibration.modbus")
	if configPath == "" {
		return
	}
	log.Println("[Main] Calibrating baseline from meter snapshot")
	meter, err := modbusmeter.NewFromFile(configPath)
	if err != nil {
		log.Fatal(err)
	}
	snapshot, err := meter.Snapshot()
	if err != nil {
		log.Fatal(err)
	}
	runner.Calibrate(snapshot)
}

func linkDatastreams(pub msg.Publisher) []processor {
	handlers := make([]processor, 0)

	if path := viper.GetString("datastreams.mongodb"); path != "" {
		h, err := mongodb.New(path, pub)
		if err != nil {
			log.Fatal(err)
		}
		handlers = append(handlers, &h)
	}
	if path := viper.GetString("datastreams.sql"); path != "" {
		h, err := sqldb.New(path, pub)
		if err != nil {
			log.Fatal(err)
		}
		handlers = append(handlers, &h)
	}
	if path := viper.GetString("datastreams.nats"); path != "" {
		h, err := natshandler.New(path, pub)
		if err != nil {
			log.Fatal(err)
		}
		handlers = append(handlers, &h)
	}
	if path := viper.GetString("datastreams.mqtt"); path != "" {
		h, err := mqtthandler.New(path, pub)
		if err != nil {
			log.Fatal(err)
		}
		handlers = append(handlers, &h)
	}

	for _, h := range handlers {
		go h.Process()
	}
	return handlers
}

func serveWebservice(pub msg.Publisher) {
	addr := viper.GetString("webservice.addr")
	if addr == "" {
		return
	}
	service, err := webservice.New(pub)
	if err != nil {
		log.Fatal(err)
	}
	go service.Process()
	go func() {
		if err := service.Serve(addr); err != nil {
			log.Printf("[Main] webservice: %v", err)
		}
	}()
}

func loadScenarios(net *model.Network) []scenario.Set {
	sets := make([]scenario.Set, 0)

	for _, path := range viper.GetStringSlice("scenarios.files") {
		set, err := scenario.LoadFile(path)
		if err != nil {
			log.Fatal(err)
		}
		sets = append(sets, set)
	}
	if dir := viper.GetString("scenarios.dir"); dir != "" {
		dirSets, err := scenario.LoadDir(dir)
		if err != nil {
			log.Fatal(err)
		}
		sets = append(sets, dirSets...)
	}

	if samples := viper.GetInt("sweep.samples"); samples > 0 {
		params := sweep.DefaultParams()
		params.Samples = samples
		if v := viper.GetFloat64("sweep.load_fraction"); v > 0 {
			params.LoadFraction = v
		}
		if v := viper.GetFloat64("sweep.gen_fraction"); v > 0 {
			params.GenFraction = v
		}
		if v := viper.GetStringSlice("sweep.kw_pct"); len(v) == 2 {
			params.KWPct = pctRange(v)
		}
		if v := viper.GetStringSlice("sweep.kvar_pct"); len(v) == 2 {
			params.KVARPct = pctRange(v)
		}
		params.Seed = viper.GetInt64("sweep.seed")
		sets = append(sets, sweep.Generate(net, params)...)
	}
	return sets
}

func pctRange(bounds []string) [2]float64 {
	var out [2]float64
	for i, bound := range bounds {
		if err := json.Unmarshal([]byte(bound), &out[i]); err != nil {
			log.Fatalf("[Main] malformed pct range %v: %v", bounds, err)
		}
	}
	return out
}

func exportReports(net *model.Network, reports []study.Report) {
	if dir := viper.GetString("export.dir"); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			log.Fatal(err)
		}
		for _, report := range reports {
			path := filepath.Join(dir, csvName(report))
			if err := writeCSV(path, report); err != nil {
				log.Fatal(err)
			}
		}
		log.Printf("[Main] Wrote %v comparison tables to %v", len(reports), dir)
	}

	if path := viper.GetString("export.training"); path != "" {
		f, err := os.Create(path)
		if err != nil {
			log.Fatal(err)
		}
		defer f.Close()
		if err := export.NewTraining(f).Export(net, reports); err != nil {
			log.Fatal(err)
		}
		log.Printf("[Main] Wrote training data to %v", path)
	}
}

func csvName(report study.Report) string {
	name := strings.ReplaceAll(report.Scenario, " ", "_")
	if name == "" {
		name = report.RunID.String()
	}
	return name + ".csv"
}

func writeCSV(path string, report study.Report) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return export.NewCSV(f).Export(report.Result)
}
