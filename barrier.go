package framegraph

import (
	"fmt"
	"slices"
)

// barriers walks the journey of every live resource in execution order
// and attaches the acquire and release barriers each transition needs.
// Cross-queue transitions also add a timeline wait to the consuming batch.
func (c *compiler) barriers() {
	a := c.a
	journeys := make(map[ResourceID][]ResourceState)
	var roots []ResourceID

	for fi := range a.finals {
		f := &a.finals[fi]
		for _, b := range f.Inputs {
			if !c.appendState(journeys, &roots, fi, b) {
				return
			}
		}
		for _, b := range f.Outputs {
			if !c.appendState(journeys, &roots, fi, b) {
				return
			}
		}
	}

	slices.Sort(roots)
	count := 0
	for _, root := range roots {
		count += c.walkJourney(&a.resources[root], journeys[root])
	}
	c.log.Debug("framegraph: barriers synthesized", "resources", len(roots), "barriers", count)
}

// appendState records one usage of a resource version by final pass fi.
// Usages of one resource by the same pass fold into one state.
func (c *compiler) appendState(journeys map[ResourceID][]ResourceState, roots *[]ResourceID, fi int, b Binding) bool {
	a := c.a
	v := &a.resources[b.Resource]
	r := &a.resources[v.OriginalID]
	f := &a.finals[fi]

	if r.Kind.IsImage() {
		r.TextureUsage |= b.Usage.Purpose.TextureUsage()
	} else {
		r.BufferUsage |= b.Usage.Purpose.BufferUsage()
	}
	if v.FirstUsage == noPass {
		v.FirstUsage = fi
	}
	v.LastUsage = fi

	j, seen := journeys[r.ID]
	if !seen {
		*roots = append(*roots, r.ID)
	}
	if n := len(j); n > 0 && j[n-1].Pass == fi {
		st := &j[n-1]
		if st.Usage.Layout != b.Usage.Layout {
			c.fail(ResultCriticalError, f.Name, r.Name, fmt.Errorf("%w: used as %s and %s by one pass",
				ErrConflictingUsage, st.Usage.Layout, b.Usage.Layout))
			return false
		}
		st.Usage.Access |= b.Usage.Access
		st.Usage.Stages |= b.Usage.Stages
		if b.Usage.IsOutput {
			st.Resource = b.Resource
			st.Usage.IsOutput = true
		}
		return true
	}
	journeys[r.ID] = append(j, ResourceState{
		Pass:       fi,
		Resource:   b.Resource,
		Queue:      f.Queue,
		Usage:      b.Usage,
		Submission: f.Submission,
	})
	return true
}

// walkJourney emits the barriers of one resource and leaves its final
// state on the node. It returns the number of barriers emitted.
func (c *compiler) walkJourney(r *ResourceNode, j []ResourceState) int {
	a := c.a
	count := 0
	for i := range j {
		st := &j[i]
		if i == 0 {
			pending := r.Queue != QueueIgnored && r.Queue != st.Queue
			need := pending
			if r.Kind.IsImage() {
				need = need || r.Layout != st.Usage.Layout || r.Access != st.Usage.Access
			} else {
				need = need || (r.Access != AccessNone && r.Access != st.Usage.Access)
			}
			if need {
				b := newBarrier(r, r.Access, r.LastStages, r.Layout, st)
				if pending {
					b.SrcQueue, b.DstQueue = r.Queue, st.Queue
				}
				a.finals[st.Pass].Acquire = append(a.finals[st.Pass].Acquire, b)
				count++
			}
			continue
		}

		prev := &j[i-1]
		if prev.Queue == st.Queue {
			layoutChange := r.Kind.IsImage() && prev.Usage.Layout != st.Usage.Layout
			if layoutChange || prev.Usage.Access.HasWrite() {
				b := newBarrier(r, prev.Usage.Access, prev.Usage.Stages, prev.Usage.Layout, st)
				a.finals[st.Pass].Acquire = append(a.finals[st.Pass].Acquire, b)
				count++
			}
			continue
		}

		b := newBarrier(r, prev.Usage.Access, prev.Usage.Stages, prev.Usage.Layout, st)
		b.SrcQueue, b.DstQueue = prev.Queue, st.Queue
		a.finals[prev.Pass].Release = append(a.finals[prev.Pass].Release, b)
		a.finals[st.Pass].Acquire = append(a.finals[st.Pass].Acquire, b)
		prev.WasReleased = true
		c.addTimelineWait(prev, st)
		count += 2
	}

	last := &j[len(j)-1]
	r.Access = last.Usage.Access
	r.Layout = last.Usage.Layout
	r.LastStages = last.Usage.Stages
	r.Queue = last.Queue

	switch {
	case r.Kind == ResourceSwapchain:
		b := Barrier{
			Resource:  r.ID,
			Name:      r.Name,
			Kind:      r.Kind,
			SrcAccess: last.Usage.Access,
			SrcStages: last.Usage.Stages,
			DstStages: StageBottomOfPipe,
			OldLayout: last.Usage.Layout,
			NewLayout: LayoutPresent,
			SrcQueue:  QueueIgnored,
			DstQueue:  QueueIgnored,
		}
		a.finals[last.Pass].Release = append(a.finals[last.Pass].Release, b)
		c.plan.NeedsPresent = true
		r.Access = AccessNone
		r.Layout = LayoutPresent
		r.LastStages = StageBottomOfPipe
		count++
	case r.ReleaseAfterUse && last.Queue != QueueGraphics:
		b := Barrier{
			Resource:  r.ID,
			Name:      r.Name,
			Kind:      r.Kind,
			SrcAccess: last.Usage.Access,
			SrcStages: last.Usage.Stages,
			DstStages: StageBottomOfPipe,
			OldLayout: last.Usage.Layout,
			NewLayout: last.Usage.Layout,
			SrcQueue:  last.Queue,
			DstQueue:  QueueGraphics,
		}
		a.finals[last.Pass].Release = append(a.finals[last.Pass].Release, b)
		last.WasReleased = true
		r.Queue = QueueGraphics
		count++
	}

	r.Journey = j
	r.FirstUsage = j[0].Pass
	r.LastUsage = last.Pass
	return count
}

func newBarrier(r *ResourceNode, srcAccess AccessMask, srcStages StageMask, oldLayout Layout, st *ResourceState) Barrier {
	if srcStages == StageNone {
		srcStages = StageTopOfPipe
	}
	return Barrier{
		Resource:  r.ID,
		Name:      r.Name,
		Kind:      r.Kind,
		SrcAccess: srcAccess,
		DstAccess: st.Usage.Access,
		SrcStages: srcStages,
		DstStages: st.Usage.Stages,
		OldLayout: oldLayout,
		NewLayout: st.Usage.Layout,
		SrcQueue:  QueueIgnored,
		DstQueue:  QueueIgnored,
	}
}

// addTimelineWait makes the batch of st wait for the batch of prev on
// prev's queue timeline. Waits on one queue are merged into one.
func (c *compiler) addTimelineWait(prev, st *ResourceState) {
	a := c.a
	pb := a.submissions[prev.Submission.Submission].Batch(prev.Queue)
	cb := a.submissions[st.Submission.Submission].Batch(st.Queue)
	cb.NeedTimelineWait = true
	for i := range cb.Waits {
		w := &cb.Waits[i]
		if w.Kind == SemaphoreTimeline && w.Queue == prev.Queue {
			w.Value = max(w.Value, pb.TimelineValue)
			w.Stages |= prev.Usage.Stages
			return
		}
	}
	cb.Waits = append(cb.Waits, SemaphoreWait{
		Kind:   SemaphoreTimeline,
		Queue:  prev.Queue,
		Value:  pb.TimelineValue,
		Stages: prev.Usage.Stages,
	})
}
