package framegraph

import (
	"fmt"
	"slices"
)

// allocation is one backing allocation shared by transients whose
// lifetimes do not overlap.
type allocation struct {
	owner ResourceID
	tail  ResourceID
	last  int
	queue QueueKind
}

// lifetime attaches create and destroy obligations to the first and last
// pass using each live transient resource. Later versions of a resource
// alias its first version, so the obligations cover all versions.
func (c *compiler) lifetime() {
	a := c.a
	var transients []ResourceID
	for i := range a.resources {
		r := &a.resources[i]
		if !r.Root() || r.Imported || r.FirstUsage == noPass || r.FirstUsage > r.LastUsage {
			continue
		}
		transients = append(transients, r.ID)
	}

	allocs := make([]allocation, 0, len(transients))
	if c.opts.transientAliasing {
		allocs = c.alias(transients)
	} else {
		for _, id := range transients {
			r := &a.resources[id]
			allocs = append(allocs, allocation{owner: id, tail: id, last: r.LastUsage})
		}
	}

	for _, al := range allocs {
		o := &a.resources[al.owner]
		a.finals[o.FirstUsage].Creates = append(a.finals[o.FirstUsage].Creates, al.owner)
		a.finals[al.last].Destroys = append(a.finals[al.last].Destroys, al.owner)
	}
	c.log.Debug("framegraph: transient lifetimes planned", "transients", len(transients), "allocations", len(allocs))
}

// alias packs transients with identical descriptions onto shared
// allocations, first fit in order of first use. A transient may take over
// an allocation only after its previous user finished on the same queue.
func (c *compiler) alias(transients []ResourceID) []allocation {
	a := c.a
	sorted := slices.Clone(transients)
	slices.SortStableFunc(sorted, func(x, y ResourceID) int {
		return a.resources[x].FirstUsage - a.resources[y].FirstUsage
	})

	var allocs []allocation
	for _, id := range sorted {
		r := &a.resources[id]
		first := r.Journey[0]
		lastQueue := r.Journey[len(r.Journey)-1].Queue
		placed := false
		for k := range allocs {
			al := &allocs[k]
			o := &a.resources[al.owner]
			if r.ReleaseAfterUse || al.last >= r.FirstUsage || al.queue != first.Queue || !sameDesc(o, r) {
				continue
			}
			r.Aliased = o.ID
			o.TextureUsage |= r.TextureUsage
			o.BufferUsage |= r.BufferUsage
			c.inheritState(&a.resources[al.tail], r)
			al.tail = r.ID
			al.last = r.LastUsage
			al.queue = lastQueue
			c.info("", r.Name, fmt.Sprintf("aliased onto the allocation of %q", o.Name))
			placed = true
			break
		}
		if !placed {
			allocs = append(allocs, allocation{owner: id, tail: id, last: r.LastUsage, queue: lastQueue})
		}
	}
	return allocs
}

func sameDesc(x, y *ResourceNode) bool {
	if x.Kind != y.Kind || x.ReleaseAfterUse {
		return false
	}
	if x.Kind.IsImage() {
		return x.Image == y.Image
	}
	return x.Buffer == y.Buffer
}

// inheritState makes the first acquire barrier of r wait for the last use
// of prev, the previous user of the same memory.
func (c *compiler) inheritState(prev, r *ResourceNode) {
	f := &c.a.finals[r.FirstUsage]
	for i := range f.Acquire {
		b := &f.Acquire[i]
		if b.Resource == r.ID {
			b.SrcAccess = prev.Access
			b.SrcStages = prev.LastStages
			return
		}
	}
	st := &r.Journey[0]
	b := newBarrier(r, prev.Access, prev.LastStages, LayoutUndefined, st)
	f.Acquire = append(f.Acquire, b)
}
