package framegraph

import (
	"fmt"
	"slices"
)

// schedule levels the final passes topologically and folds the levels
// into execution waves according to the queue policy.
func (c *compiler) schedule() {
	c.link()
	if !c.level() {
		return
	}
	c.formWaves()
}

// link builds the final pass dependency graph. A pass depends on the
// producers of its inputs and, for every version it writes, on the
// producers and readers of the previous version sharing its memory.
func (c *compiler) link() {
	a := c.a
	addEdge := func(from, to int) {
		if from == noPass || from == to || slices.Contains(a.finals[to].producers, from) {
			return
		}
		a.finals[to].producers = append(a.finals[to].producers, from)
		a.finals[from].consumers = append(a.finals[from].consumers, to)
	}
	for i := range a.finals {
		for _, in := range a.finals[i].Inputs {
			for _, p := range producersOf(&a.resources[in.Resource]) {
				addEdge(a.passes[p].Final, i)
			}
		}
		for _, out := range a.finals[i].Outputs {
			prev := c.previousVersion(out.Resource)
			if prev == NoResource {
				continue
			}
			pr := &a.resources[prev]
			for _, p := range producersOf(pr) {
				addEdge(a.passes[p].Final, i)
			}
			for _, p := range pr.Consumers {
				addEdge(a.passes[p].Final, i)
			}
		}
	}
}

func producersOf(r *ResourceNode) []int {
	if r.Producer == noPass {
		return nil
	}
	return append([]int{r.Producer}, r.CoProducers...)
}

func (c *compiler) previousVersion(id ResourceID) ResourceID {
	vs := c.versions[c.a.resources[id].OriginalID]
	if i := slices.Index(vs, id); i > 0 {
		return vs[i-1]
	}
	return NoResource
}

// level assigns topological levels with Kahn's algorithm. Passes of a
// level are kept in final pass order.
func (c *compiler) level() bool {
	a := c.a
	indeg := make([]int, len(a.finals))
	var cur []int
	for i := range a.finals {
		indeg[i] = len(a.finals[i].producers)
		if indeg[i] == 0 {
			cur = append(cur, i)
		}
	}

	leveled := 0
	for lvl := 0; len(cur) > 0; lvl++ {
		w := ExecutionWave{Level: lvl, LastLevel: lvl, Passes: cur}
		var next []int
		for _, i := range cur {
			f := &a.finals[i]
			f.Level = lvl
			w.Queues |= f.Queue.Bit()
			leveled++
			for _, consumer := range f.consumers {
				indeg[consumer]--
				if indeg[consumer] == 0 {
					next = append(next, consumer)
				}
			}
		}
		slices.Sort(next)
		a.levels = append(a.levels, w)
		cur = next
	}

	if leveled < len(a.finals) {
		for i, d := range indeg {
			if d > 0 {
				name := a.finals[i].Name
				c.fail(ResultCyclicDependency, name, "", fmt.Errorf("pass %q waits on itself through resource reuse", name))
				break
			}
		}
		return false
	}
	return true
}

// formWaves copies the levels into waves. Under QueuePolicyCollapse a
// level that uses one queue kind other than graphics is rerouted to the
// graphics queue. Consecutive waves using the same single queue kind are
// merged; a level using several kinds always stays a wave of its own.
func (c *compiler) formWaves() {
	a := c.a
	for _, lv := range a.levels {
		w := ExecutionWave{
			Level:     lv.Level,
			LastLevel: lv.LastLevel,
			Queues:    lv.Queues,
			Passes:    slices.Clone(lv.Passes),
		}
		if q, ok := w.Queues.Single(); ok && q != QueueGraphics && c.opts.queuePolicy == QueuePolicyCollapse {
			for _, i := range w.Passes {
				a.finals[i].Queue = QueueGraphics
			}
			w.Queues = QueueGraphics.Bit()
			c.info("", "", fmt.Sprintf("level %d rerouted from the %s queue to graphics", w.Level, q))
		}
		if n := len(a.waves); n > 0 && sameSingleQueue(a.waves[n-1].Queues, w.Queues) {
			last := &a.waves[n-1]
			last.LastLevel = w.LastLevel
			last.Passes = append(last.Passes, w.Passes...)
			continue
		}
		a.waves = append(a.waves, w)
	}
	for wi := range a.waves {
		for _, i := range a.waves[wi].Passes {
			a.finals[i].Wave = wi
		}
	}
}

func sameSingleQueue(a, b QueueBits) bool {
	qa, ok := a.Single()
	if !ok {
		return false
	}
	qb, ok := b.Single()
	return ok && qa == qb
}
