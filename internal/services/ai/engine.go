// Package ai binds the inference engines and overlay drawing to TensorFlow
// Lite and OpenCV.
package ai

import (
	"fmt"

	"coralcam/internal/config"
	"coralcam/internal/logger"
	"coralcam/internal/pipeline"
)

// Engine is a detector that owns native resources.
type Engine interface {
	pipeline.Detector
	Close() error
}

// NewEngine creates the engine selected by cfg.Engine.
func NewEngine(cfg *config.Config, logger *logger.Logger) (Engine, error) {
	switch cfg.Engine {
	case config.EngineEdgeTPU:
		return NewTFLiteEngine(cfg.ModelPath, true, logger)
	case config.EngineTFLite:
		return NewTFLiteEngine(cfg.ModelPath, false, logger)
	case config.EngineOpenCV:
		return NewDNNEngine(cfg.ModelPath, cfg.DNNConfigPath, logger)
	}
	return nil, fmt.Errorf("unknown engine %q", cfg.Engine)
}
