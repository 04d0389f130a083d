package framegraph

import (
	"fmt"
	"slices"
)

// batch folds the waves into submissions. A wave using several queue
// kinds gets a submission of its own with one batch per kind; a single
// queue wave extends the open single batch submission of the same queue
// or starts a new one.
//
// Afterwards final passes are renumbered so that their index is their
// position in execution order, and every pass gets its submission id.
func (c *compiler) batch() {
	a := c.a
	open := -1
	for wi := range a.waves {
		w := &a.waves[wi]
		if q, ok := w.Queues.Single(); ok {
			if open >= 0 {
				s := &a.submissions[open]
				if len(s.Batches) == 1 && s.Batches[0].Queue == q {
					s.Batches[0].Passes = append(s.Batches[0].Passes, w.Passes...)
					continue
				}
			}
			open = len(a.submissions)
			a.submissions = append(a.submissions, WaveSubmission{
				Index:   open,
				Batches: []SubmissionBatch{{Queue: q, Passes: slices.Clone(w.Passes)}},
			})
			continue
		}

		s := WaveSubmission{Index: len(a.submissions)}
		for q := QueueGraphics; q < queueKindCount; q++ {
			if !w.Queues.Has(q) {
				continue
			}
			b := SubmissionBatch{Queue: q}
			for _, i := range w.Passes {
				if a.finals[i].Queue == q {
					b.Passes = append(b.Passes, i)
				}
			}
			s.Batches = append(s.Batches, b)
		}
		a.submissions = append(a.submissions, s)
		open = -1
	}

	if !c.checkLimits() {
		return
	}
	c.renumber()

	var timeline [queueKindCount]uint64
	for si := range a.submissions {
		for bi := range a.submissions[si].Batches {
			b := &a.submissions[si].Batches[bi]
			timeline[b.Queue]++
			b.TimelineValue = timeline[b.Queue]
			b.Signals = append(b.Signals, SemaphoreSignal{Kind: SemaphoreTimeline, Queue: b.Queue, Value: b.TimelineValue})
			for pos, i := range b.Passes {
				f := &a.finals[i]
				f.Submission = SubmissionID{Submission: si, Position: pos, Queue: b.Queue}
				if c.writesSwapchain(f) {
					b.OutputsToSurface = true
				}
			}
		}
	}
}

// checkLimits rejects plans whose submission ids would not pack.
func (c *compiler) checkLimits() bool {
	subs := c.a.submissions
	if len(subs) > MaxSubmissions {
		c.fail(ResultCriticalError, "", "", fmt.Errorf("%w: %d submissions, at most %d",
			ErrTooManyPasses, len(subs), MaxSubmissions))
		return false
	}
	for si := range subs {
		for _, b := range subs[si].Batches {
			if len(b.Passes) > MaxBatchPasses {
				name := c.a.finals[b.Passes[MaxBatchPasses]].Name
				c.fail(ResultCriticalError, name, "", fmt.Errorf("%w: %d passes in one %s batch, at most %d",
					ErrTooManyPasses, len(b.Passes), b.Queue, MaxBatchPasses))
				return false
			}
		}
	}
	return true
}

// renumber permutes the final passes into execution order.
func (c *compiler) renumber() {
	a := c.a
	perm := make([]int, len(a.finals))
	next := 0
	for si := range a.submissions {
		for bi := range a.submissions[si].Batches {
			for _, i := range a.submissions[si].Batches[bi].Passes {
				perm[i] = next
				next++
			}
		}
	}

	finals := make([]FinalPass, len(a.finals))
	for old := range a.finals {
		f := a.finals[old]
		f.Index = perm[old]
		remap(f.producers, perm)
		remap(f.consumers, perm)
		slices.Sort(f.producers)
		slices.Sort(f.consumers)
		finals[f.Index] = f
	}
	a.finals = finals

	for i := range a.passes {
		if a.passes[i].Final != noPass {
			a.passes[i].Final = perm[a.passes[i].Final]
		}
	}
	for i := range a.levels {
		remap(a.levels[i].Passes, perm)
		slices.Sort(a.levels[i].Passes)
	}
	for i := range a.waves {
		remap(a.waves[i].Passes, perm)
		slices.Sort(a.waves[i].Passes)
	}
	for si := range a.submissions {
		for bi := range a.submissions[si].Batches {
			remap(a.submissions[si].Batches[bi].Passes, perm)
		}
	}
}

func remap(idx []int, perm []int) {
	for i, v := range idx {
		idx[i] = perm[v]
	}
}

func (c *compiler) writesSwapchain(f *FinalPass) bool {
	for _, out := range f.Outputs {
		if c.a.resources[out.Resource].Kind == ResourceSwapchain {
			return true
		}
	}
	return false
}
