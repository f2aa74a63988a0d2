// Command agent is the edge video-analytics pipeline entry point (spec
// C16). It wires every internal package into one runnable pipeline, wraps
// it in the OS service host, and exposes the debug/metrics/health HTTP
// surface the teacher's cmd/driver/main.go established (promhttp on
// /metrics, net/http/pprof on /debug, plus a /healthz endpoint the teacher
// never had).
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	_ "net/http/pprof"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	ort "github.com/yalue/onnxruntime_go"

	"github.com/warpcomdev/edgevisiond/internal/aggregate"
	"github.com/warpcomdev/edgevisiond/internal/alerting"
	"github.com/warpcomdev/edgevisiond/internal/batch"
	"github.com/warpcomdev/edgevisiond/internal/capture"
	"github.com/warpcomdev/edgevisiond/internal/config"
	"github.com/warpcomdev/edgevisiond/internal/health"
	"github.com/warpcomdev/edgevisiond/internal/inference"
	"github.com/warpcomdev/edgevisiond/internal/keyframe"
	"github.com/warpcomdev/edgevisiond/internal/model"
	"github.com/warpcomdev/edgevisiond/internal/pool"
	"github.com/warpcomdev/edgevisiond/internal/retention"
	"github.com/warpcomdev/edgevisiond/internal/ring"
	"github.com/warpcomdev/edgevisiond/internal/servicehost"
	"github.com/warpcomdev/edgevisiond/internal/servicelog"
	"github.com/warpcomdev/edgevisiond/internal/store"
	"github.com/warpcomdev/edgevisiond/internal/supervisor"
	"github.com/warpcomdev/edgevisiond/internal/syncworker"
)

var (
	startMetric = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "edgevision_start_time_seconds",
		Help: "Unix timestamp the agent process started.",
	})
	cameraStateMetric = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "edgevision_camera_ring_depth",
		Help: "Frames currently resident in a camera's ring buffer.",
	}, []string{"camera"})
)

// Pipeline wires every pipeline stage together and implements
// servicehost.Runnable.
type Pipeline struct {
	cfg                *config.Config
	log                servicelog.Logger
	pool               *pool.Pool
	store              *store.Store
	inference          *inference.Manager
	aggregate          *aggregate.Aggregator
	health             *health.Registry
	sup                *supervisor.Supervisor
	sync               *syncworker.Worker
	cleaner            *retention.Cleaner
	checkpoint         *supervisor.Checkpointer
	alerts             *alerting.Monitor
	cameras            map[string]*cameraRuntime
	descriptionEnabled bool
	startedAt          time.Time
}

// NewPipeline builds every stage from cfg but does not start any
// goroutines yet.
func NewPipeline(cfg *config.Config, log servicelog.Logger) (*Pipeline, error) {
	st, err := store.Open(cfg.DataDir + "/edgevision.db")
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	agg, err := aggregate.New(cfg.MetricWindow())
	if err != nil {
		return nil, fmt.Errorf("build aggregator: %w", err)
	}

	p := &Pipeline{
		cfg:                cfg,
		log:                log,
		pool:               pool.New(),
		store:              st,
		inference:          inference.NewManager(cfg.OnnxRuntimePath, pool.New(), log),
		aggregate:          agg,
		health:             health.New(health.DefaultThresholds()),
		cameras:            make(map[string]*cameraRuntime),
		descriptionEnabled: cfg.EnableDescription && cfg.DescriptionModel != "",
	}

	syncClient := &http.Client{Timeout: time.Duration(cfg.SyncTimeoutS) * time.Second}
	if cfg.Debug {
		syncClient = syncworker.NewDebugClient(syncClient, log)
	}
	p.sync = syncworker.New(st, syncworker.Endpoint{
		BaseURL: cfg.SyncEndpoint,
		Client:  syncClient,
	}, log)

	policy := retention.DefaultPolicy()
	policy.Detections = time.Duration(cfg.RetentionDetectionDays) * 24 * time.Hour
	policy.KeyFrames = time.Duration(cfg.RetentionKeyFrameDays) * 24 * time.Hour
	policy.MetricWindows = time.Duration(cfg.RetentionMetricWindowDays) * 24 * time.Hour
	p.cleaner = retention.New(st, policy, log)

	thermal := supervisor.DefaultThermalConfig()
	thermal.ThrottleC = cfg.ThermalThrottleC
	thermal.ShutdownC = cfg.ThermalShutdownC
	p.sup = supervisor.New(log, cfg.WatchdogTimeout(), thermal, func() {
		log.Warn("daily restart triggered")
		os.Exit(0)
	})
	p.alerts = alerting.NewMonitor(p.sup.Bus, log)

	p.startedAt = time.Now()
	p.checkpoint = supervisor.NewCheckpointer(p.sup.Bus, log, p.snapshot, p.persistCheckpoint)

	if _, err := p.inference.Acquire(inference.ModelDetector, inference.ModelSpec{
		Path:        cfg.DetectorModel,
		InputShape:  ort.Shape{1, 3, detectorInputSize, detectorInputSize},
		OutputShape: ort.Shape{1, maxDetectionsPerFrame, 6},
		InputNames:  []string{"images"},
		OutputNames: []string{"output0"},
		Labels:      detectorLabels,
	}); err != nil {
		return nil, fmt.Errorf("acquire detector model: %w", err)
	}

	var describer keyframe.Describer = noopDescriber{}
	if p.descriptionEnabled {
		if _, err := p.inference.Acquire(inference.ModelDescription, inference.ModelSpec{
			Path:        cfg.DescriptionModel,
			InputShape:  ort.Shape{1, 3, descriptionInputSize, descriptionInputSize},
			OutputShape: ort.Shape{1, int64(len(descriptionVocab)) * 32},
			InputNames:  []string{"pixel_values"},
			OutputNames: []string{"logits"},
		}); err != nil {
			return nil, fmt.Errorf("acquire description model: %w", err)
		}
		describer = &modelDescriber{inf: p.inference, vocab: descriptionVocab}
	}

	for _, cam := range cfg.Cameras {
		if !cam.Enabled {
			continue
		}
		r := ring.New(ring.Capacity, 10*time.Second, func(f *ring.Frame) {
			p.pool.Return(f.Buffer)
		})
		p.cameras[cam.ID] = &cameraRuntime{
			id:        cam.ID,
			ring:      r,
			scheduler: batch.New(cam.ID, 2),
			gate:      keyframe.NewGate(cam.ID, describer, log),
		}
	}

	return p, nil
}

// Run starts every pipeline stage and blocks until ctx is cancelled.
func (p *Pipeline) Run(ctx context.Context) error {
	startMetric.Set(float64(time.Now().Unix()))

	if err := p.sup.Start(); err != nil {
		return fmt.Errorf("start supervisor: %w", err)
	}
	defer p.sup.Stop()

	ffmpegPath := p.cfg.FFmpegPath
	liveSources := make(map[string]alerting.Source, len(p.cameras))
	for _, cam := range p.cfg.Cameras {
		if !cam.Enabled {
			continue
		}
		cr := p.cameras[cam.ID]
		src := capture.New(cam.ID, cam.StreamURI, ffmpegPath, p.pool, cr.ring, p.log)
		cr.source = src
		liveSources[cam.ID] = src

		go src.Run(ctx)
		go cr.scheduler.Run(ctx)
		go p.consumeRing(ctx, cr)
		go p.consumeBatches(ctx, cr)
		go p.monitorRing(ctx, cr)
		p.health.Report("capture:"+cam.ID, health.Healthy, "started")
	}

	go p.sync.Run(ctx, p.cfg.SyncInterval())
	go p.sup.MonitorWatchdog(ctx, 10*time.Second)
	go p.alerts.Watch(ctx, 30*time.Second, liveSources)
	go p.runRetention(ctx)
	go p.runFlush(ctx)
	go p.checkpoint.Run(ctx, p.cfg.CheckpointInterval())

	<-ctx.Done()
	p.inference.Release(inference.ModelDetector)
	if p.descriptionEnabled {
		p.inference.Release(inference.ModelDescription)
	}
	p.inference.Close()
	return p.store.Close()
}

// snapshot builds the current checkpoint state from each camera's ring
// depth; it never touches the store, so it can run on the checkpoint tick
// without contending with write-heavy stages.
func (p *Pipeline) snapshot() model.Checkpoint {
	cp := model.Checkpoint{
		Timestamp:     time.Now(),
		UptimeSeconds: time.Since(p.startedAt).Seconds(),
		Cameras:       make([]model.PerCameraState, 0, len(p.cameras)),
	}
	for id, cr := range p.cameras {
		cp.Cameras = append(cp.Cameras, model.PerCameraState{
			CameraID:        id,
			LastFrameNumber: uint64(cr.ring.Len()),
		})
	}
	return cp
}

// persistCheckpoint writes the checkpoint to the configured data directory
// as a sidecar JSON file, kept outside the SQLite store so a checkpoint
// write never competes with the store's own write lock.
func (p *Pipeline) persistCheckpoint(cp model.Checkpoint) error {
	data, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}
	return os.WriteFile(p.cfg.DataDir+"/checkpoint.json", data, 0o644)
}

func (p *Pipeline) monitorRing(ctx context.Context, cam *cameraRuntime) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cameraStateMetric.WithLabelValues(cam.id).Set(float64(cam.ring.Len()))
			p.sup.Watchdog.Beat()
		}
	}
}

func (p *Pipeline) runRetention(ctx context.Context) {
	ticker := time.NewTicker(6 * time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.cleaner.Run(time.Now()); err != nil {
				p.log.Error("retention pass failed", servicelog.Error(err))
			}
		}
	}
}

func (p *Pipeline) runFlush(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.MetricWindow())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			windows, err := p.aggregate.Flush(time.Now().Add(-p.cfg.MetricWindow()), true)
			if err != nil {
				p.log.Error("metric window flush failed", servicelog.Error(err))
				continue
			}
			if err := p.store.InsertMetricWindows(windows); err != nil {
				p.log.Error("metric window persist failed", servicelog.Error(err))
				continue
			}
			for _, w := range windows {
				p.enqueueSync(model.EntityMetricWindow, fmt.Sprintf("%s|%s", w.CameraID, w.WindowStart.Format(time.RFC3339)), model.PriorityMetricWindow)
			}
		}
	}
}

func (p *Pipeline) enqueueSync(kind model.SyncEntityKind, entityID string, priority int) {
	job := model.SyncJob{
		ID:          entityID + ":" + string(kind),
		EntityKind:  kind,
		EntityID:    entityID,
		Operation:   model.OpCreate,
		Status:      model.SyncPending,
		MaxAttempts: syncworker.MaxAttempts,
		Priority:    priority,
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
	}
	if err := p.store.EnqueueSyncJob(job); err != nil {
		p.log.Error("failed to enqueue sync job", servicelog.Error(err), servicelog.String("entity", entityID))
	}
}

func serveHTTP(addr string, reg *health.Registry, expected []string, log servicelog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/debug/", http.DefaultServeMux)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		snap := reg.Evaluate(expected)
		if snap.Overall != health.Healthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		fmt.Fprintf(w, "status: %s\n", snap.Overall)
		for _, c := range snap.Components {
			fmt.Fprintf(w, "%s: %s (%s)\n", c.Name, c.Status, c.Detail)
		}
	})

	srv := &http.Server{
		Addr:           addr,
		Handler:        mux,
		ReadTimeout:    5 * time.Second,
		WriteTimeout:   7 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}
	log.Info("http debug/metrics surface listening", servicelog.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error("http server stopped", servicelog.Error(err))
	}
}

func main() {
	configPath := flag.String("config", "config.yaml", "path to the agent configuration file")
	install := flag.Bool("install", false, "install the OS service and exit")
	uninstall := flag.Bool("uninstall", false, "uninstall the OS service and exit")
	flag.Parse()

	loader := config.New(*configPath)
	cfg, err := loader.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	log := servicelog.New(nil, cfg.LogDir+"/agent.log", cfg.Debug)

	pipeline, err := NewPipeline(cfg, log)
	if err != nil {
		log.Fatal("failed to build pipeline", servicelog.Error(err))
	}

	host, err := servicehost.New(servicehost.Config{
		Name:        "edgevisiond",
		DisplayName: "Edge Video Analytics Agent",
		Description: "Captures, analyzes, and syncs camera telemetry at the edge.",
	}, pipeline, log)
	if err != nil {
		log.Fatal("failed to build service host", servicelog.Error(err))
	}

	if *install {
		if err := host.Install(); err != nil {
			log.Fatal("install failed", servicelog.Error(err))
		}
		return
	}
	if *uninstall {
		if err := host.Uninstall(); err != nil {
			log.Fatal("uninstall failed", servicelog.Error(err))
		}
		return
	}

	expected := make([]string, 0, len(cfg.Cameras))
	for _, cam := range cfg.Cameras {
		if cam.Enabled {
			expected = append(expected, "capture:"+cam.ID)
		}
	}
	go serveHTTP(fmt.Sprintf(":%d", cfg.HTTPPort), pipeline.health, expected, log)

	if err := host.Run(); err != nil {
		log.Fatal("service host exited with error", servicelog.Error(err))
	}
}
