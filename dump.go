package framegraph

import (
	"fmt"
	"io"
	"strings"
)

// PlanStats summarizes a compiled plan.
type PlanStats struct {
	Name           string `json:"name"`
	Flags          string `json:"flags"`
	Resources      int    `json:"resources"`
	CulledVersions int    `json:"culled_versions"`
	Passes         int    `json:"passes"`
	CulledPasses   int    `json:"culled_passes"`
	FinalPasses    int    `json:"final_passes"`
	Levels         int    `json:"levels"`
	Waves          int    `json:"waves"`
	Submissions    int    `json:"submissions"`
	Batches        int    `json:"batches"`
	Barriers       int    `json:"barriers"`
	QueueTransfers int    `json:"queue_transfers"`
	Transients     int    `json:"transients"`
	Warnings       int    `json:"warnings"`
}

// Stats counts the contents of the plan.
func (p *Plan) Stats() PlanStats {
	a := p.arena
	s := PlanStats{
		Name:        p.Name,
		Flags:       p.Flags.String(),
		Passes:      len(a.passes),
		FinalPasses: len(a.finals),
		Levels:      len(a.levels),
		Waves:       len(a.waves),
		Submissions: len(a.submissions),
	}
	for i := range a.resources {
		if a.resources[i].Culled {
			s.CulledVersions++
		}
		if a.resources[i].Root() {
			s.Resources++
		}
	}
	for i := range a.passes {
		if a.passes[i].Culled {
			s.CulledPasses++
		}
	}
	for i := range a.finals {
		f := &a.finals[i]
		s.Barriers += len(f.Acquire) + len(f.Release)
		s.Transients += len(f.Creates)
		for j := range f.Release {
			if f.Release[j].OwnershipTransfer() {
				s.QueueTransfers++
			}
		}
	}
	for i := range a.submissions {
		s.Batches += len(a.submissions[i].Batches)
	}
	for _, d := range p.Diagnostics {
		if d.Severity == SeverityWarning {
			s.Warnings++
		}
	}
	return s
}

// Dump writes a human readable description of the plan to w.
func (p *Plan) Dump(w io.Writer) error {
	var b strings.Builder
	a := p.arena

	fmt.Fprintf(&b, "plan %q [%s]\n", p.Name, p.Flags)
	if p.Keyed {
		fmt.Fprintf(&b, "  cache key %016x\n", p.Key)
	}
	if culled := p.CulledPasses(); len(culled) > 0 {
		fmt.Fprintf(&b, "  culled passes: %s\n", strings.Join(culled, ", "))
	}

	for i, lv := range a.levels {
		fmt.Fprintf(&b, "level %d [%s]: %s\n", i, lv.Queues, p.passNames(lv.Passes))
	}
	for i, w := range a.waves {
		fmt.Fprintf(&b, "wave %d levels %d-%d [%s]: %s\n", i, w.Level, w.LastLevel, w.Queues, p.passNames(w.Passes))
	}

	for _, s := range a.submissions {
		fmt.Fprintf(&b, "submission %d\n", s.Index)
		for _, batch := range s.Batches {
			fmt.Fprintf(&b, "  batch %s timeline=%d", batch.Queue, batch.TimelineValue)
			if batch.OutputsToSurface {
				b.WriteString(" surface")
			}
			b.WriteByte('\n')
			for _, wt := range batch.Waits {
				fmt.Fprintf(&b, "    wait %s queue=%s value=%d stages=%s\n", wt.Kind, wt.Queue, wt.Value, wt.Stages)
			}
			for _, sg := range batch.Signals {
				fmt.Fprintf(&b, "    signal %s queue=%s value=%d\n", sg.Kind, sg.Queue, sg.Value)
			}
			for _, fi := range batch.Passes {
				p.dumpPass(&b, &a.finals[fi])
			}
		}
	}
	if p.NeedsPresent {
		b.WriteString("present\n")
	}
	for _, d := range p.Diagnostics {
		if d.Severity > SeverityInfo {
			fmt.Fprintf(&b, "%s\n", d)
		}
	}

	_, err := io.WriteString(w, b.String())
	return err
}

func (p *Plan) dumpPass(b *strings.Builder, f *FinalPass) {
	fmt.Fprintf(b, "    pass %d %q level=%d", f.Index, f.Name, f.Level)
	if f.Queue != f.RequestedQueue {
		fmt.Fprintf(b, " (requested %s)", f.RequestedQueue)
	}
	if len(f.Members) > 1 {
		names := make([]string, len(f.Members))
		for i, m := range f.Members {
			names[i] = p.arena.passes[m].Name
		}
		fmt.Fprintf(b, " members=%s", strings.Join(names, ","))
	}
	b.WriteByte('\n')
	for _, id := range f.Creates {
		fmt.Fprintf(b, "      create %s\n", p.arena.resources[id].Name)
	}
	for _, br := range f.Acquire {
		fmt.Fprintf(b, "      acquire %s\n", formatBarrier(&br))
	}
	for _, br := range f.Release {
		fmt.Fprintf(b, "      release %s\n", formatBarrier(&br))
	}
	for _, id := range f.Destroys {
		fmt.Fprintf(b, "      destroy %s\n", p.arena.resources[id].Name)
	}
}

func formatBarrier(br *Barrier) string {
	s := fmt.Sprintf("%s %s->%s", br.Name, br.SrcAccess, br.DstAccess)
	if br.Kind.IsImage() {
		s += fmt.Sprintf(" layout %s->%s", br.OldLayout, br.NewLayout)
	}
	if br.OwnershipTransfer() {
		s += fmt.Sprintf(" queue %s->%s", br.SrcQueue, br.DstQueue)
	}
	return s
}

func (p *Plan) passNames(idx []int) string {
	return strings.Join(p.finalNames(idx), ", ")
}

// PlanReport is a serializable view of a plan, as printed by fgc -format json.
type PlanReport struct {
	Stats        PlanStats       `json:"stats"`
	Key          string          `json:"key,omitempty"`
	Culled       []string        `json:"culled,omitempty"`
	Levels       []WaveReport    `json:"levels"`
	Waves        []WaveReport    `json:"waves"`
	Submissions  [][]BatchReport `json:"submissions"`
	Passes       []PassReport    `json:"passes"`
	NeedsPresent bool            `json:"needs_present"`
	Diagnostics  []string        `json:"diagnostics,omitempty"`
}

// WaveReport lists the passes of a level or wave.
type WaveReport struct {
	FirstLevel int      `json:"first_level"`
	LastLevel  int      `json:"last_level"`
	Queues     string   `json:"queues"`
	Passes     []string `json:"passes"`
}

// BatchReport describes one submission batch.
type BatchReport struct {
	Queue    string   `json:"queue"`
	Timeline uint64   `json:"timeline"`
	Passes   []string `json:"passes"`
	Waits    []string `json:"waits,omitempty"`
	Signals  []string `json:"signals,omitempty"`
	Surface  bool     `json:"surface,omitempty"`
}

// PassReport describes one final pass and its obligations.
type PassReport struct {
	Name       string   `json:"name"`
	Queue      string   `json:"queue"`
	Level      int      `json:"level"`
	Wave       int      `json:"wave"`
	Submission uint32   `json:"submission"`
	Creates    []string `json:"creates,omitempty"`
	Acquire    []string `json:"acquire,omitempty"`
	Release    []string `json:"release,omitempty"`
	Destroys   []string `json:"destroys,omitempty"`
}

// Report returns the serializable view of the plan.
func (p *Plan) Report() PlanReport {
	a := p.arena
	r := PlanReport{
		Stats:        p.Stats(),
		Culled:       p.CulledPasses(),
		NeedsPresent: p.NeedsPresent,
	}
	if p.Keyed {
		r.Key = fmt.Sprintf("%016x", p.Key)
	}
	wave := func(w ExecutionWave) WaveReport {
		return WaveReport{FirstLevel: w.Level, LastLevel: w.LastLevel, Queues: w.Queues.String(), Passes: p.finalNames(w.Passes)}
	}
	for _, lv := range a.levels {
		r.Levels = append(r.Levels, wave(lv))
	}
	for _, w := range a.waves {
		r.Waves = append(r.Waves, wave(w))
	}
	for _, s := range a.submissions {
		batches := make([]BatchReport, 0, len(s.Batches))
		for _, batch := range s.Batches {
			br := BatchReport{
				Queue:    batch.Queue.String(),
				Timeline: batch.TimelineValue,
				Passes:   p.finalNames(batch.Passes),
				Surface:  batch.OutputsToSurface,
			}
			for _, wt := range batch.Waits {
				br.Waits = append(br.Waits, fmt.Sprintf("%s queue=%s value=%d stages=%s", wt.Kind, wt.Queue, wt.Value, wt.Stages))
			}
			for _, sg := range batch.Signals {
				br.Signals = append(br.Signals, fmt.Sprintf("%s queue=%s value=%d", sg.Kind, sg.Queue, sg.Value))
			}
			batches = append(batches, br)
		}
		r.Submissions = append(r.Submissions, batches)
	}
	for i := range a.finals {
		f := &a.finals[i]
		pr := PassReport{
			Name:       f.Name,
			Queue:      f.Queue.String(),
			Level:      f.Level,
			Wave:       f.Wave,
			Submission: f.Submission.Pack(),
		}
		for _, id := range f.Creates {
			pr.Creates = append(pr.Creates, a.resources[id].Name)
		}
		for j := range f.Acquire {
			pr.Acquire = append(pr.Acquire, formatBarrier(&f.Acquire[j]))
		}
		for j := range f.Release {
			pr.Release = append(pr.Release, formatBarrier(&f.Release[j]))
		}
		for _, id := range f.Destroys {
			pr.Destroys = append(pr.Destroys, a.resources[id].Name)
		}
		r.Passes = append(r.Passes, pr)
	}
	for _, d := range p.Diagnostics {
		r.Diagnostics = append(r.Diagnostics, d.String())
	}
	return r
}

func (p *Plan) finalNames(idx []int) []string {
	names := make([]string, len(idx))
	for i, fi := range idx {
		names[i] = p.arena.finals[fi].Name
	}
	return names
}
