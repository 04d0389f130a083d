package framegraph

import "slices"

// semaphores wires the swapchain acquire and present semaphores.
//
// The first batch touching the swapchain waits on image acquisition at the
// stages of that first use, and the last graphics batch rendering to it
// signals render completion. An imported swapchain nobody uses still has
// its acquire semaphore consumed by a wait on the first batch.
func (c *compiler) semaphores() {
	a := c.a
	for i := range a.resources {
		r := &a.resources[i]
		if !r.Root() || r.Kind != ResourceSwapchain {
			continue
		}
		if len(r.Journey) == 0 {
			c.warn("", r.Name, "swapchain imported but never used")
			if len(a.submissions) == 0 {
				c.plan.PendingAcquire = true
				continue
			}
			b := &a.submissions[0].Batches[0]
			b.Waits = append(b.Waits, SemaphoreWait{
				Kind:   SemaphoreImageAcquired,
				Queue:  QueueIgnored,
				Stages: StageBottomOfPipe,
			})
			continue
		}

		first := &r.Journey[0]
		b := a.submissions[first.Submission.Submission].Batch(first.Queue)
		b.Waits = append(b.Waits, SemaphoreWait{
			Kind:   SemaphoreImageAcquired,
			Queue:  QueueIgnored,
			Stages: first.Usage.Stages,
		})

		if last := c.lastSurfaceBatch(); last != nil {
			if !slices.ContainsFunc(last.Signals, func(s SemaphoreSignal) bool { return s.Kind == SemaphoreRenderFinished }) {
				last.Signals = append(last.Signals, SemaphoreSignal{Kind: SemaphoreRenderFinished, Queue: QueueGraphics})
			}
		} else {
			c.warn("", r.Name, "no graphics batch renders to the swapchain")
		}
	}
}

func (c *compiler) lastSurfaceBatch() *SubmissionBatch {
	subs := c.a.submissions
	for si := len(subs) - 1; si >= 0; si-- {
		for bi := len(subs[si].Batches) - 1; bi >= 0; bi-- {
			b := &subs[si].Batches[bi]
			if b.Queue == QueueGraphics && b.OutputsToSurface {
				return b
			}
		}
	}
	return nil
}
