package framegraph

import "slices"

// Arena owns the storage of one frame graph: resource nodes, potential
// passes and everything the compiler derives from them. Nodes reference
// each other by index, so a whole arena can be copied without fixing up
// pointers.
//
// A context keeps one arena per frame in flight and resets it when the
// frame slot is reused. Plans that must outlive the frame (cached plans)
// are promoted into a sealed arena that is never reset.
type Arena struct {
	resources   []ResourceNode
	latest      []ResourceID // current version, indexed by original id
	passes      []PassNode
	finals      []FinalPass
	levels      []ExecutionWave
	waves       []ExecutionWave
	submissions []WaveSubmission

	sealed bool
	resets uint64
}

// NewArena returns an empty, unsealed arena.
func NewArena() *Arena {
	return &Arena{}
}

// Reset drops all nodes while keeping the allocated capacity.
// Reset panics on a sealed arena: promoted plans still reference it.
func (a *Arena) Reset() {
	if a.sealed {
		panic("framegraph: Reset called on a sealed arena")
	}
	clear(a.resources)
	clear(a.passes)
	clear(a.finals)
	clear(a.levels)
	clear(a.waves)
	clear(a.submissions)
	a.resources = a.resources[:0]
	a.latest = a.latest[:0]
	a.passes = a.passes[:0]
	a.finals = a.finals[:0]
	a.levels = a.levels[:0]
	a.waves = a.waves[:0]
	a.submissions = a.submissions[:0]
	a.resets++
}

// Seal marks the arena immutable.
func (a *Arena) Seal() { a.sealed = true }

// Sealed reports whether the arena was sealed.
func (a *Arena) Sealed() bool { return a.sealed }

// Resets returns how many times the arena was reset.
func (a *Arena) Resets() uint64 { return a.resets }

// Promote returns a sealed deep copy of the arena. The copy shares no
// slices with a, so a may be reset afterwards.
func (a *Arena) Promote() *Arena {
	p := &Arena{
		resources:   make([]ResourceNode, len(a.resources)),
		latest:      slices.Clone(a.latest),
		passes:      make([]PassNode, len(a.passes)),
		finals:      make([]FinalPass, len(a.finals)),
		levels:      cloneWaves(a.levels),
		waves:       cloneWaves(a.waves),
		submissions: make([]WaveSubmission, len(a.submissions)),
		sealed:      true,
	}
	for i := range a.resources {
		r := a.resources[i]
		r.CoProducers = slices.Clone(r.CoProducers)
		r.Consumers = slices.Clone(r.Consumers)
		r.Journey = slices.Clone(r.Journey)
		p.resources[i] = r
	}
	for i := range a.passes {
		n := a.passes[i]
		n.Inputs = slices.Clone(n.Inputs)
		n.Outputs = slices.Clone(n.Outputs)
		p.passes[i] = n
	}
	for i := range a.finals {
		f := a.finals[i]
		f.Members = slices.Clone(f.Members)
		f.Inputs = slices.Clone(f.Inputs)
		f.Outputs = slices.Clone(f.Outputs)
		f.Acquire = slices.Clone(f.Acquire)
		f.Release = slices.Clone(f.Release)
		f.Creates = slices.Clone(f.Creates)
		f.Destroys = slices.Clone(f.Destroys)
		f.producers = slices.Clone(f.producers)
		f.consumers = slices.Clone(f.consumers)
		p.finals[i] = f
	}
	for i := range a.submissions {
		s := a.submissions[i]
		s.Batches = make([]SubmissionBatch, len(a.submissions[i].Batches))
		for j, b := range a.submissions[i].Batches {
			b.Passes = slices.Clone(b.Passes)
			b.Waits = slices.Clone(b.Waits)
			b.Signals = slices.Clone(b.Signals)
			s.Batches[j] = b
		}
		p.submissions[i] = s
	}
	return p
}

func cloneWaves(waves []ExecutionWave) []ExecutionWave {
	out := make([]ExecutionWave, len(waves))
	for i, w := range waves {
		w.Passes = slices.Clone(w.Passes)
		out[i] = w
	}
	return out
}
