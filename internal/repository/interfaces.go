package repository

import (
	"context"
	"time"

	"coralcam/internal/dto"
	"coralcam/internal/model"
)

// FrameRepository defines the detection journal operations.
type FrameRepository interface {
	// Create operations
	SaveTelemetry(ctx context.Context, msg *model.TelemetryMessage) error

	// Read operations
	List(ctx context.Context, filter *dto.DetectionFilter) ([]model.FrameRecord, error)
	Count(ctx context.Context, filter *dto.DetectionFilter) (int, error)
	LabelCounts(ctx context.Context, since time.Time) ([]dto.LabelCount, error)

	// Delete operations
	DeleteBefore(ctx context.Context, t time.Time) (int64, error)
}
