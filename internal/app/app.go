package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"coralcam/internal/config"
	"coralcam/internal/labels"
	"coralcam/internal/logger"
	"coralcam/internal/metrics"
	"coralcam/internal/pipeline"
	"coralcam/internal/repository"
	"coralcam/internal/repository/sqlite"
	"coralcam/internal/routes"
	"coralcam/internal/services/ai"
	"coralcam/internal/services/camera"
	"coralcam/internal/services/display"
	"coralcam/internal/services/storage"
	"coralcam/internal/services/telemetry"
	"coralcam/internal/services/websocket"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
)

const (
	pruneInterval   = time.Hour
	shutdownTimeout = 5 * time.Second
)

type App struct {
	config  *config.Config
	logger  *logger.Logger
	metrics *metrics.Metrics

	engine     ai.Engine
	camera     *camera.Device
	surface    pipeline.Surface
	db         *sqlite.DB
	journal    *sqlite.FrameRepository
	hub        *websocket.HubService
	dispatcher *telemetry.Dispatcher
	pipeline   *pipeline.Pipeline
}

// New loads the labels and the model, opens the camera, the display and the
// telemetry sinks. Everything opened so far is released when a step fails.
func New(cfg *config.Config, log *logger.Logger) (*App, error) {
	a := &App{
		config:  cfg,
		logger:  log,
		metrics: metrics.New(),
	}
	if err := a.open(); err != nil {
		return nil, multierr.Append(err, a.Close())
	}
	return a, nil
}

func (a *App) open() error {
	cfg, log := a.config, a.logger

	table, err := labels.Load(cfg.LabelsPath)
	if err != nil {
		return err
	}
	log.Info("Loaded %d labels from %s", table.Len(), cfg.LabelsPath)

	if a.engine, err = ai.NewEngine(cfg, log); err != nil {
		return fmt.Errorf("failed to load %s engine: %w", cfg.Engine, err)
	}

	if cfg.ListenAddr != "" {
		a.hub = websocket.NewHubService(log, a.metrics.SetViewers)
	}
	if a.surface, err = a.openSurface(); err != nil {
		return err
	}

	if cfg.HasSink(config.SinkSQLite) {
		if a.db, err = sqlite.New(cfg.DatabasePath); err != nil {
			return fmt.Errorf("failed to open detection journal: %w", err)
		}
		a.journal = sqlite.NewFrameRepository(a.db)
	}

	sink, err := a.openSinks()
	if err != nil {
		return err
	}
	a.dispatcher = telemetry.NewDispatcher(sink, cfg.TelemetryTimeout, cfg.TelemetryQueueLen, a.metrics, log)

	if a.camera, err = camera.Open(cfg.CameraIndex, cfg.FrameWidth, cfg.FrameHeight, cfg.FrameRate, log); err != nil {
		return err
	}

	a.pipeline = pipeline.New(pipeline.Components{
		Source:    a.camera,
		Resizer:   camera.NewResizer(),
		Detector:  a.engine,
		Annotator: ai.NewAnnotator(),
		Surface:   a.surface,
		Publisher: a.dispatcher,
		Labels:    table,
	}, pipeline.Options{
		Threshold: cfg.Threshold,
		TopK:      cfg.TopK,
		QueueSize: cfg.QueueSize,
		FrameRate: cfg.FrameRate,
	}, a.metrics, log)

	return nil
}

func (a *App) openSurface() (pipeline.Surface, error) {
	if a.config.DisplayMode == config.DisplayHeadless {
		return display.NewHeadless(a.hub), nil
	}
	window, err := display.OpenWindow(a.config.WindowName)
	if err != nil {
		return nil, err
	}
	if a.hub != nil {
		return display.NewMirror(window, display.NewHeadless(a.hub)), nil
	}
	return window, nil
}

// openSinks builds the configured telemetry sinks. The dispatcher owns the
// result and closes it on shutdown.
func (a *App) openSinks() (telemetry.Sink, error) {
	var sinks []telemetry.Sink
	for _, name := range a.config.TelemetrySinks {
		switch name {
		case config.SinkLog:
			sinks = append(sinks, telemetry.NewLogSink(a.logger))
		case config.SinkHTTP:
			sinks = append(sinks, telemetry.NewHTTPSink(a.config.TelemetryURL, a.config.TelemetryToken))
		case config.SinkSQLite:
			sinks = append(sinks, telemetry.NewJournalSink(a.journal))
		case config.SinkWebsocket:
			sinks = append(sinks, telemetry.NewViewerSink(a.hub))
		case config.SinkIoTHub:
			hub, err := telemetry.NewIoTHubSink(a.config.ConnectionString, a.logger)
			if err != nil {
				return nil, multierr.Append(fmt.Errorf("invalid IoT Hub connection string: %w", err), telemetry.NewMultiSink(sinks...).Close())
			}
			if err := hub.Connect(a.config.TelemetryTimeout); err != nil {
				a.logger.Warning("%v", err)
			}
			sinks = append(sinks, hub)
		default:
			return nil, fmt.Errorf("unknown telemetry sink %q", name)
		}
	}
	a.logger.Info("Telemetry sinks: %v", a.config.TelemetrySinks)
	return telemetry.NewMultiSink(sinks...), nil
}

// Run starts the HTTP server and background services, then runs the pipeline
// on the calling goroutine until the user quits, ctx is cancelled or the
// camera fails.
func (a *App) Run(ctx context.Context) error {
	bgCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(bgCtx)

	a.dispatcher.Start(gctx)

	if a.hub != nil {
		g.Go(func() error {
			a.hub.Run(gctx)
			return nil
		})
	}

	if a.journal != nil && a.config.JournalRetention > 0 {
		retention := storage.NewRetentionService(a.journal, a.config.JournalRetention, pruneInterval, a.logger)
		g.Go(func() error {
			retention.Run(gctx)
			return nil
		})
	}

	if a.config.ListenAddr != "" {
		server := &http.Server{
			Addr: a.config.ListenAddr,
			Handler: routes.SetupRoutes(routes.Dependencies{
				Config:   a.config,
				Logger:   a.logger,
				Metrics:  a.metrics,
				Pipeline: a.pipeline,
				Hub:      a.hub,
				Journal:  a.journalOrNil(),
			}),
			ReadHeaderTimeout: 10 * time.Second,
		}
		g.Go(func() error {
			a.logger.Info("Live view on http://%s/api/view", a.config.ListenAddr)
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.logger.Error("HTTP server failed: %v", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, done := context.WithTimeout(context.Background(), shutdownTimeout)
			defer done()
			return server.Shutdown(shutdownCtx)
		})
	}

	a.logger.Info("Pipeline started: camera %d, %s engine, %s display", a.config.CameraIndex, a.config.Engine, a.config.DisplayMode)
	err := a.pipeline.Run(ctx)

	cancel()
	if werr := g.Wait(); werr != nil {
		a.logger.Warning("Error stopping background services: %v", werr)
	}
	return err
}

// journalOrNil keeps a nil *FrameRepository from becoming a non-nil interface.
func (a *App) journalOrNil() repository.FrameRepository {
	if a.journal == nil {
		return nil
	}
	return a.journal
}

// Stats returns the pipeline statistics.
func (a *App) Stats() metrics.Stats {
	return a.metrics.Snapshot()
}

// PrintSummary writes the inference timing summary shown at exit.
func (a *App) PrintSummary(w io.Writer) {
	s := a.metrics.Snapshot()
	if s.FramesInferred == 0 {
		fmt.Fprintln(w, "No frames were processed.")
		return
	}
	fmt.Fprintf(w, "Processed %d frames, %d objects detected\n", s.FramesInferred, s.ObjectsDetected)
	fmt.Fprintf(w, "Average inference time: %.2f ms\n", s.AvgInferenceMs)
	fmt.Fprintf(w, "Inference rate: %.2f FPS\n", s.InferenceRateFPS)
}

// Close releases the camera, display, telemetry sinks, engine and journal,
// in that order. It is safe on a partially constructed App.
func (a *App) Close() error {
	var err error
	if a.camera != nil {
		err = multierr.Append(err, a.camera.Close())
	}
	if a.surface != nil {
		err = multierr.Append(err, a.surface.Close())
	}
	if a.dispatcher != nil {
		err = multierr.Append(err, a.dispatcher.Close())
	}
	if a.engine != nil {
		err = multierr.Append(err, a.engine.Close())
	}
	if a.db != nil {
		err = multierr.Append(err, a.db.Close())
	}
	return err
}
