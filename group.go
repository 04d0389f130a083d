package framegraph

import "fmt"

// group merges live passes that share an output key into final passes.
// Groups are created in declaration order of their first member.
func (c *compiler) group() {
	a := c.a
	byKey := make(map[uint64]int)
	for i := range a.passes {
		p := &a.passes[i]
		if p.Culled {
			continue
		}
		idx, ok := byKey[p.OutputKey]
		if !ok {
			idx = len(a.finals)
			byKey[p.OutputKey] = idx
			a.finals = append(a.finals, FinalPass{
				Index:          idx,
				Name:           p.Name,
				Queue:          p.Queue,
				RequestedQueue: p.Queue,
				WaitStage:      p.WaitStage,
				Members:        []int{p.ID},
				Inputs:         append([]Binding(nil), p.Inputs...),
				Outputs:        append([]Binding(nil), p.Outputs...),
				Level:          -1,
				Wave:           -1,
			})
			p.Final = idx
			continue
		}

		f := &a.finals[idx]
		if f.Queue != p.Queue || f.WaitStage != p.WaitStage {
			c.fail(ResultCriticalError, p.Name, "", fmt.Errorf("%w: %q (%s, wait %s) and %q (%s, wait %s)",
				ErrGroupMismatch, f.Name, f.Queue, f.WaitStage, p.Name, p.Queue, p.WaitStage))
			return
		}
		f.Members = append(f.Members, p.ID)
		p.Final = idx
		if !c.mergeBindings(f, &f.Inputs, p.Inputs) || !c.mergeBindings(f, &f.Outputs, p.Outputs) {
			return
		}
	}
	c.log.Debug("framegraph: passes grouped", "final_passes", len(a.finals))
}

// mergeBindings folds src into dst. Bindings of the same resource version
// are merged by OR-ing their masks; their layouts must agree.
func (c *compiler) mergeBindings(f *FinalPass, dst *[]Binding, src []Binding) bool {
	for _, s := range src {
		merged := false
		for j := range *dst {
			d := &(*dst)[j]
			if d.Resource != s.Resource {
				continue
			}
			if d.Usage.Layout != s.Usage.Layout {
				c.fail(ResultCriticalError, f.Name, d.Name, fmt.Errorf("%w: merged passes need %s and %s",
					ErrConflictingUsage, d.Usage.Layout, s.Usage.Layout))
				return false
			}
			d.Usage.Access |= s.Usage.Access
			d.Usage.Stages |= s.Usage.Stages
			merged = true
			break
		}
		if !merged {
			*dst = append(*dst, s)
		}
	}
	return true
}
