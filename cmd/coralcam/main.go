package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"coralcam/internal/app"
	"coralcam/internal/config"
	"coralcam/internal/logger"
	"coralcam/internal/pipeline"
)

func init() {
	// HighGUI windows must be driven from the main thread.
	runtime.LockOSThread()
}

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Parse(os.Args)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	log, err := logger.NewLogger(logger.Options{Directory: cfg.LogDirectory, Level: cfg.LogLevel})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		return 1
	}
	defer log.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	application, err := app.New(cfg, log)
	if err != nil {
		log.Error("Startup failed: %v", err)
		diagnose(err, cfg)
		return 1
	}

	runErr := application.Run(ctx)
	application.PrintSummary(os.Stdout)
	if err := application.Close(); err != nil {
		log.Warning("Error releasing resources: %v", err)
	}

	if runErr != nil {
		log.Error("Pipeline stopped: %v", runErr)
		diagnose(runErr, cfg)
		return 1
	}
	return 0
}

func diagnose(err error, cfg *config.Config) {
	switch {
	case errors.Is(err, pipeline.ErrCameraUnavailable):
		fmt.Fprintf(os.Stderr, "Could not read from camera %d. Check the --camera_idx value and the device permissions.\n", cfg.CameraIndex)
	case errors.Is(err, pipeline.ErrDisplayUnavailable):
		fmt.Fprintln(os.Stderr, "Make sure a monitor is connected and the DISPLAY environment variable is set, or use --display headless.")
	}
}
