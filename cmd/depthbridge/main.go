// Command depthbridge runs the depth pipeline against the synthetic device:
// it renders fused point clouds headlessly and republishes the latest cloud
// to a message bus on a fixed schedule.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/banshee-data/depthbridge/internal/bus"
	"github.com/banshee-data/depthbridge/internal/config"
	"github.com/banshee-data/depthbridge/internal/device"
	"github.com/banshee-data/depthbridge/internal/diagdb"
	"github.com/banshee-data/depthbridge/internal/diagnostics"
	"github.com/banshee-data/depthbridge/internal/monitor"
	"github.com/banshee-data/depthbridge/internal/monitoring"
	"github.com/banshee-data/depthbridge/internal/pipeline"
	"github.com/banshee-data/depthbridge/internal/render"
	"github.com/banshee-data/depthbridge/internal/timeutil"
	"github.com/banshee-data/depthbridge/internal/version"
)

var (
	configPath   = flag.String("config", "", "Path to a pipeline JSON config (defaults apply when empty)")
	listen       = flag.String("listen", ":8080", "HTTP listen address for /health, /api/stats and /debug/")
	healthListen = flag.String("health-listen", ":50051", "gRPC health listen address (empty disables)")
	rendererKind = flag.String("renderer", "scene", "Renderer variant: scene or minimal")
	rotation     = flag.Int("rotation", 0, "Display rotation in degrees: 0, 90, 180 or 270")
	sinkKind     = flag.String("sink", "", "Override the configured sink: log, mqtt, kafka or memory")
	diagDBPath   = flag.String("diag-db", "", "Override the diagnostics database path")
	frameRate    = flag.Float64("synthetic-rate", 5, "Synthetic device point clouds per second")
	diagLog      = flag.Bool("diag", false, "Log day-to-day diagnostics to stderr")
	traceLog     = flag.String("trace-log", "", "Append per-frame trace output to this file")
	showVersion  = flag.Bool("version", false, "Print version information and exit")
)

func setupLogging() (func(), error) {
	w := monitoring.LogWriters{Ops: os.Stderr}
	if *diagLog {
		w.Diag = os.Stderr
	}
	closeFn := func() {}
	if *traceLog != "" {
		f, err := monitoring.OpenTraceFile(*traceLog)
		if err != nil {
			return nil, err
		}
		w.Trace = f
		closeFn = func() { f.Close() }
	}
	for _, c := range []monitoring.Configurer{
		device.SetLogWriters,
		bus.SetLogWriters,
		pipeline.SetLogWriters,
		render.SetLogWriters,
		diagnostics.SetLogWriters,
		diagdb.SetLogWriters,
		monitor.SetLogWriters,
	} {
		monitoring.Register(c)
	}
	monitoring.Configure(w)
	return closeFn, nil
}

func loadConfig() *config.PipelineConfig {
	cfg := config.DefaultPipelineConfig()
	if *configPath != "" {
		loaded, err := config.LoadPipelineConfig(*configPath)
		if err != nil {
			log.Fatalf("failed to load config: %v", err)
		}
		cfg = loaded
	}
	if *sinkKind != "" {
		cfg.Sink = sinkKind
	}
	if *diagDBPath != "" {
		cfg.DiagDB = diagDBPath
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}
	return cfg
}

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}
	if *listen == "" {
		log.Fatal("Listen address is required")
	}
	rot, err := device.ParseDisplayRotation(*rotation)
	if err != nil {
		log.Fatal(err)
	}
	cfg := loadConfig()

	closeLogs, err := setupLogging()
	if err != nil {
		log.Fatalf("failed to set up logging: %v", err)
	}
	defer closeLogs()

	policy, err := render.ParseCapacityPolicy(cfg.GetCapacityPolicy())
	if err != nil {
		log.Fatal(err)
	}
	clock := timeutil.RealClock{}

	var db *diagdb.DB
	var recorder diagnostics.Recorder
	if path := cfg.GetDiagDB(); path != "" {
		db, err = diagdb.Open(path)
		if err != nil {
			log.Fatalf("Failed to open diagnostics database: %v", err)
		}
		defer db.Close()
		recorder = db
	}

	diag := diagnostics.NewMonitor(diagnostics.Config{Interval: cfg.GetDiagnosticsInterval()}, recorder, clock)

	synCfg := device.DefaultSyntheticConfig()
	synCfg.FrameRate = *frameRate
	synCfg.FloatsPerPoint = cfg.GetFloatsPerPoint()
	dev := device.NewSynthetic(synCfg, clock)

	surface := render.NewLoopSurface(float64(cfg.GetRenderFPS()), clock)
	renderer, err := render.New(*rendererKind, surface, cfg.GetMaxPoints(), policy)
	if err != nil {
		log.Fatal(err)
	}
	renderer.SetDisplayRotation(rot)

	buffer := pipeline.NewSampleBuffer()
	session := pipeline.NewSession(dev, pipeline.DefaultSessionConfig(), buffer, diag, renderer)
	resolver := pipeline.NewTransformResolver(dev, cfg.GetResolveTimeout())
	stage := pipeline.NewFusionStage(session, buffer, resolver, renderer)
	if err := renderer.SetupRenderer(stage.OnPreFrame); err != nil {
		log.Fatalf("failed to set up renderer: %v", err)
	}

	health := monitor.NewHealthReporter()
	session.OnStateChange(func(s pipeline.SessionState) {
		health.SetState(s)
		if s == pipeline.Disconnected {
			stage.Reset()
		}
		if db != nil {
			db.SetSession(session.ID())
			if err := db.RecordSessionEvent(session.ID(), s.String(), time.Now()); err != nil {
				log.Printf("failed to record session event: %v", err)
			}
		}
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sink, err := bus.New(ctx, bus.Config{
		Kind:         cfg.GetSink(),
		Encoding:     cfg.GetEncoding(),
		MQTTBroker:   cfg.GetMQTTBroker(),
		MQTTClientID: cfg.GetMQTTClientID(),
		MQTTQoS:      cfg.GetMQTTQoS(),
		TopicPrefix:  "depthbridge",
		KafkaBrokers: cfg.GetKafkaBrokers(),
	})
	if err != nil {
		log.Fatalf("failed to create %s sink: %v", cfg.GetSink(), err)
	}
	defer sink.Close()

	schedCfg := pipeline.DefaultSchedulerConfig()
	schedCfg.Interval = cfg.GetPublishInterval()
	schedCfg.CloudTopic = cfg.GetCloudTopic()
	schedCfg.ImuTopic = cfg.GetImuTopic()
	schedCfg.FrameID = cfg.GetFrameID()
	schedCfg.PublishIMU = cfg.GetPublishIMU()
	scheduler := pipeline.NewPublishScheduler(schedCfg, buffer, sink, session, clock)

	// A failed start leaves the process serving diagnostics with the
	// session reported NOT_SERVING.
	if err := session.Resume(ctx); err != nil {
		log.Printf("session did not start: %v", err)
	}
	if err := surface.Start(ctx); err != nil {
		log.Fatalf("failed to start render loop: %v", err)
	}
	if err := scheduler.Start(ctx); err != nil {
		log.Fatalf("failed to start publish scheduler: %v", err)
	}

	ws, err := monitor.NewWebServer(monitor.WebServerConfig{
		Address: *listen,
		Stats: map[string]monitor.StatsFunc{
			"session":     func() any { return session.Stats() },
			"buffer":      func() any { return buffer.Stats() },
			"resolver":    func() any { return resolver.Stats() },
			"fusion":      func() any { return stage.Stats() },
			"scheduler":   func() any { return scheduler.Stats() },
			"diagnostics": func() any { return diag.Stats() },
		},
		Cloud:   renderer,
		History: diag,
		DB:      db,
	})
	if err != nil {
		log.Fatalf("failed to create web server: %v", err)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := ws.Start(ctx); err != nil {
			log.Printf("HTTP server error: %v", err)
			stop()
		}
	}()

	if *healthListen != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := health.Run(ctx, *healthListen); err != nil {
				log.Printf("gRPC health server error: %v", err)
			}
		}()
	}

	wg.Wait()

	scheduler.Stop()
	surface.Stop()
	if err := session.Pause(); err != nil {
		log.Printf("session pause: %v", err)
	}
	log.Printf("Graceful shutdown complete")
}
