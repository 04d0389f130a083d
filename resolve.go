package framegraph

import "fmt"

// resolve checks the producer/consumer graph for cycles and culls every
// pass and resource that does not contribute to an essential output.
func (c *compiler) resolve() {
	a := c.a
	c.versions = make(map[ResourceID][]ResourceID, len(a.latest))
	for i := range a.resources {
		root := a.resources[i].OriginalID
		c.versions[root] = append(c.versions[root], a.resources[i].ID)
	}

	if !c.checkCycles() {
		return
	}
	c.cullPasses()
	if c.plan.Flags.Fatal() {
		return
	}
	c.cullResources()
	if c.plan.Flags.Fatal() {
		return
	}

	for i := range a.passes {
		if !a.passes[i].Culled {
			return
		}
	}
	c.plan.Flags |= ResultNoWorkToDo
}

func (c *compiler) checkCycles() bool {
	a := c.a
	for i := range a.passes {
		a.passes[i].mark = markUnvisited
	}
	for i := range a.passes {
		if a.passes[i].mark != markUnvisited {
			continue
		}
		if p := c.visit(i); p != noPass {
			name := a.passes[p].Name
			c.fail(ResultCyclicDependency, name, "", fmt.Errorf("pass %q is reachable from its own outputs", name))
			return false
		}
	}
	return true
}

// visit walks producer to consumer edges depth first. It returns the pass
// that was re-entered while still being visited, or noPass.
func (c *compiler) visit(p int) int {
	a := c.a
	switch a.passes[p].mark {
	case markVisiting:
		return p
	case markVisited:
		return noPass
	}
	a.passes[p].mark = markVisiting
	for _, out := range a.passes[p].Outputs {
		for _, consumer := range a.resources[out.Resource].Consumers {
			if cyc := c.visit(consumer); cyc != noPass {
				return cyc
			}
		}
	}
	a.passes[p].mark = markVisited
	return noPass
}

func (c *compiler) cullPass(p *PassNode, reason string) {
	p.Culled = true
	c.info(p.Name, "", "pass culled: "+reason)
	for _, in := range p.Inputs {
		r := &c.a.resources[in.Resource]
		r.RefCount--
		if r.RefCount < 0 {
			c.fail(ResultCriticalError, p.Name, r.Name, ErrRefCountUnderflow)
		}
	}
}

func (c *compiler) cullPasses() {
	a := c.a
	for i := range a.passes {
		p := &a.passes[i]
		switch {
		case len(p.Outputs) == 0:
			c.cullPass(p, "no outputs")
		case p.Execute == nil:
			c.cullPass(p, "no execute callback")
		}
	}

	for changed := true; changed && !c.plan.Flags.Fatal(); {
		changed = false
		for i := range a.passes {
			p := &a.passes[i]
			if p.Culled || !c.outputsDead(p) {
				continue
			}
			c.cullPass(p, "outputs unused")
			changed = true
		}
	}
}

func (c *compiler) outputsDead(p *PassNode) bool {
	for _, out := range p.Outputs {
		r := &c.a.resources[out.Resource]
		if r.RefCount > 0 || r.Essential {
			return false
		}
	}
	return true
}

// liveProducer reports whether any producer of r survived culling.
func (c *compiler) liveProducer(r *ResourceNode) bool {
	if r.Producer != noPass && !c.a.passes[r.Producer].Culled {
		return true
	}
	for _, p := range r.CoProducers {
		if !c.a.passes[p].Culled {
			return true
		}
	}
	return false
}

func (c *compiler) liveConsumers(r *ResourceNode) int {
	n := 0
	for _, p := range r.Consumers {
		if !c.a.passes[p].Culled {
			n++
		}
	}
	return n
}

func (c *compiler) cullResources() {
	a := c.a
	for i := range a.resources {
		r := &a.resources[i]
		if c.liveProducer(r) || c.liveConsumers(r) > 0 {
			continue
		}
		r.Culled = true
		if r.Root() && len(c.versions[r.ID]) == 1 && r.Producer == noPass && len(r.Consumers) == 0 {
			switch {
			case r.Transient():
				c.warn("", r.Name, "transient resource declared but never used")
			case r.Kind != ResourceSwapchain:
				c.info("", r.Name, "imported resource never used")
			}
		}
	}

	for i := range a.passes {
		p := &a.passes[i]
		if p.Culled {
			continue
		}
		for _, in := range p.Inputs {
			r := &a.resources[in.Resource]
			switch {
			case r.Producer == noPass && !r.Imported:
				c.fail(ResultCriticalError, p.Name, r.Name, ErrMissingProducer)
			case r.Producer != noPass && !c.liveProducer(r):
				c.warn(p.Name, r.Name, "input read after its producer was culled")
			}
		}
	}
}
