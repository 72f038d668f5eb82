package pipeline

import (
	"context"
	"fmt"
	"time"

	"coralcam/internal/model"
)

// capture reads frames at the configured cadence and feeds the capture queue.
// A failed camera read ends the pipeline.
func (p *Pipeline) capture(ctx context.Context) error {
	width, height := p.c.Detector.InputSize()

	ticker := time.NewTicker(time.Second / time.Duration(p.opts.FrameRate))
	defer ticker.Stop()

	var index uint64
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		raw, err := p.c.Source.Read()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("%w: %w", ErrCameraUnavailable, err)
		}

		input, err := p.c.Resizer.Resize(raw, width, height)
		if err != nil {
			p.log.Warning("Failed to resize frame: %v", err)
			continue
		}

		frame := &model.Frame{
			Index:      index,
			CapturedAt: time.Now(),
			Raw:        raw,
			Input:      input,
		}
		index++
		p.metrics.FramesCaptured.Add(1)

		if _, dropped := p.captureQ.Push(frame); dropped {
			p.metrics.CaptureDropped.Add(1)
		}
	}
}
