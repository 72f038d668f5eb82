package pipeline

import "context"

// display renders annotated frames until the user quits or ctx is done.
func (p *Pipeline) display(ctx context.Context) {
	for ctx.Err() == nil {
		if p.c.Surface.PollEvent() == EventQuit {
			p.log.Info("Quit requested from display")
			return
		}

		frame, ok := p.displayQ.PopTimeout(ctx, displayWait)
		if !ok {
			continue
		}
		if err := p.c.Surface.Show(frame.Image); err != nil {
			p.log.Warning("Failed to render frame %d: %v", frame.Frame.Index, err)
			continue
		}
		p.metrics.FramesDisplayed.Add(1)
	}
}
