package pipeline

import (
	"context"
	"fmt"
	"time"

	"coralcam/internal/model"
)

// inference consumes the capture queue until ctx is done. Engine failures
// skip the frame and never stop the stage.
func (p *Pipeline) inference(ctx context.Context) error {
	p.lastInference = time.Now()
	for {
		if ctx.Err() != nil {
			return nil
		}
		frame, err := p.captureQ.Pop(ctx)
		if err != nil {
			return nil
		}

		annotated, err := p.process(frame)
		if err != nil {
			p.metrics.InferenceErrors.Add(1)
			p.errSampler.Do(func() {
				p.log.Error("Inference failed on frame %d: %v", frame.Index, err)
			})
			continue
		}

		if _, dropped := p.displayQ.Push(annotated); dropped {
			p.metrics.DisplayDropped.Add(1)
		}
	}
}

// process runs one frame through the engine, annotates a copy of the raw
// image and publishes its telemetry. Telemetry boxes stay in inference space;
// only the drawn boxes are rescaled to the raw frame.
func (p *Pipeline) process(frame *model.Frame) (*model.AnnotatedFrame, error) {
	start := time.Now()
	objects, err := p.c.Detector.Detect(frame.Input)
	if err != nil {
		return nil, err
	}
	elapsed := time.Since(start)
	p.metrics.ObserveInference(elapsed)

	now := time.Now()
	var fps float64
	if since := now.Sub(p.lastInference); since > 0 {
		fps = 1 / since.Seconds()
	}
	p.lastInference = now

	selected := Select(objects, p.opts.Threshold, p.opts.TopK)
	scaled := Rescale(selected, frame.Input.Width, frame.Input.Height, frame.Raw.Width, frame.Raw.Height)
	p.metrics.ObjectsDetected.Add(uint64(len(selected)))

	msg := &model.TelemetryMessage{
		FrameCount:      frame.Index,
		InferenceTime:   elapsed.Seconds(),
		ObjectsDetected: make([]model.TelemetryObject, 0, len(selected)),
		CapturedAt:      frame.CapturedAt,
	}
	overlays := make([]Overlay, 0, len(selected))
	for i, obj := range selected {
		label := p.label(obj.ClassID)
		p.log.Debug("Detected object: %s with score %.2f", label, obj.Score)

		overlays = append(overlays, Overlay{
			Box:  scaled[i].Box,
			Text: fmt.Sprintf("%d%% %s", int(obj.Score*100), label),
		})
		msg.ObjectsDetected = append(msg.ObjectsDetected, model.TelemetryObject{
			ID:    obj.ClassID,
			Label: label,
			Score: obj.Score,
			BBox:  obj.Box,
		})
	}

	img := frame.Raw.Clone()
	header := fmt.Sprintf("Inference: %.2f ms FPS: %.1f", float64(elapsed.Microseconds())/1000, fps)
	if err := p.c.Annotator.Annotate(img, overlays, header); err != nil {
		p.log.Warning("Failed to draw overlays on frame %d: %v", frame.Index, err)
	}

	p.c.Publisher.Publish(msg)

	return &model.AnnotatedFrame{
		Frame:         frame,
		Image:         img,
		Objects:       scaled,
		InferenceTime: elapsed,
	}, nil
}

// label resolves a class id, warning once per unknown id.
func (p *Pipeline) label(id int) string {
	if label, ok := p.c.Labels.Lookup(id); ok {
		return label
	}
	if !p.warnedIDs[id] {
		p.warnedIDs[id] = true
		p.log.Warning("Class id %d not found in label table", id)
	}
	return p.c.Labels.Label(id)
}
