package framegraph

import (
	"errors"
	"slices"
	"strconv"
	"testing"

	"github.com/gogpu/gputypes"
)

func nopExecute(*PassContext, any) error { return nil }

type conn struct {
	id      ResourceID
	purpose Purpose
}

var (
	surfaceDesc = ImageDesc{Width: 1280, Height: 720, Format: gputypes.TextureFormatBGRA8Unorm}
	colorDesc   = ImageDesc{Width: 512, Height: 512, Format: gputypes.TextureFormatRGBA8Unorm}
	depthDesc   = ImageDesc{Width: 2048, Height: 2048, Format: gputypes.TextureFormatDepth24PlusStencil8}
)

func mustOK(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func addPass(t *testing.T, b *Builder, name string, q QueueKind, inputs, outputs []conn) {
	t.Helper()
	mustOK(t, b.BeginPass(name, q))
	for _, c := range inputs {
		mustOK(t, b.AddInput(c.id, c.purpose))
	}
	for _, c := range outputs {
		mustOK(t, b.AddOutput(c.id, c.purpose))
	}
	mustOK(t, b.SetExecute(nopExecute, nil))
	mustOK(t, b.EndPass())
}

func begin(t *testing.T, fg *Context) *Builder {
	t.Helper()
	b, err := fg.Begin(t.Name())
	if err != nil {
		t.Fatalf("Begin() = %v", err)
	}
	return b
}

func mustCompile(t *testing.T, b *Builder) *Plan {
	t.Helper()
	plan, err := b.End()
	if err != nil {
		t.Fatalf("End() = %v", err)
	}
	if !plan.OK() {
		t.Fatalf("plan not OK, flags %s", plan.Flags)
	}
	return plan
}

// buildScene declares UploadMeshData -> ShadowPass -> ScenePass writing
// the swapchain.
func buildScene(t *testing.T, b *Builder) {
	t.Helper()
	mesh := b.AddTransientBuffer("MeshBuffer", BufferDesc{Size: 1 << 16})
	shadow := b.AddTransientDepth("ShadowMap", depthDesc)
	surface := b.ImportSwapchain("surface", surfaceDesc, nil)

	addPass(t, b, "UploadMeshData", QueueTransfer, nil, []conn{{mesh, PurposeTransferWrite}})
	addPass(t, b, "ShadowPass", QueueGraphics,
		[]conn{{mesh, PurposeVertexRead}},
		[]conn{{shadow, PurposeDepthWrite}})
	addPass(t, b, "ScenePass", QueueGraphics,
		[]conn{{mesh, PurposeVertexRead}, {shadow, PurposeSampled}},
		[]conn{{surface, PurposeColorWrite}})
}

func TestPassWithoutOutputsOrCallbackIsCulled(t *testing.T) {
	b := begin(t, NewContext())
	imported := b.ImportBuffer("Params", BufferDesc{Size: 256}, ImportState{}, nil)
	kept := b.AddTransientImage("Kept", colorDesc)
	mustOK(t, b.SetEssential(kept))
	surface := b.ImportSwapchain("surface", surfaceDesc, nil)

	addPass(t, b, "NoOutputs", QueueGraphics, []conn{{imported, PurposeUniformRead}}, nil)

	mustOK(t, b.BeginPass("NoCallback", QueueGraphics))
	mustOK(t, b.AddOutput(surface, PurposeColorWrite))
	mustOK(t, b.EndPass())

	addPass(t, b, "Live", QueueGraphics, nil, []conn{{kept, PurposeColorWrite}})

	plan := mustCompile(t, b)
	if got, want := plan.CulledPasses(), []string{"NoOutputs", "NoCallback"}; !slices.Equal(got, want) {
		t.Errorf("culled = %v, want %v", got, want)
	}
	if plan.Resource(imported).RefCount != 0 {
		t.Errorf("Params refcount = %d, want 0 after its consumer was culled", plan.Resource(imported).RefCount)
	}
	if len(plan.FinalPasses()) != 1 || plan.FinalPasses()[0].Name != "Live" {
		t.Errorf("final passes = %+v, want only Live", plan.FinalPasses())
	}
}

func TestCullingReachesFixpoint(t *testing.T) {
	b := begin(t, NewContext())
	r1 := b.AddTransientImage("R1", colorDesc)
	r2 := b.AddTransientImage("R2", colorDesc)
	r3 := b.AddTransientImage("R3", colorDesc)
	surface := b.ImportSwapchain("surface", surfaceDesc, nil)

	addPass(t, b, "A", QueueGraphics, nil, []conn{{r1, PurposeColorWrite}})
	addPass(t, b, "B", QueueGraphics, []conn{{r1, PurposeSampled}}, []conn{{r2, PurposeColorWrite}})
	addPass(t, b, "C", QueueGraphics, []conn{{r2, PurposeSampled}}, []conn{{r3, PurposeColorWrite}})
	addPass(t, b, "Present", QueueGraphics, nil, []conn{{surface, PurposeColorWrite}})

	plan := mustCompile(t, b)
	if got, want := plan.CulledPasses(), []string{"A", "B", "C"}; !slices.Equal(got, want) {
		t.Errorf("culled = %v, want %v", got, want)
	}
	for _, p := range plan.Passes() {
		if p.Culled {
			continue
		}
		alive := false
		for _, out := range p.Outputs {
			r := plan.Resource(out.Resource)
			if r.RefCount > 0 || r.Essential {
				alive = true
			}
		}
		if !alive {
			t.Errorf("live pass %q has only dead outputs", p.Name)
		}
	}
	for _, name := range []string{"R1", "R2", "R3"} {
		if !plan.ResourceByName(name).Culled {
			t.Errorf("resource %s should be culled", name)
		}
	}
}

func TestCyclicDependency(t *testing.T) {
	b := begin(t, NewContext())
	r1 := b.AddTransientImage("R1", colorDesc)
	r2 := b.AddTransientImage("R2", colorDesc)
	addPass(t, b, "A", QueueGraphics, []conn{{r2, PurposeSampled}}, []conn{{r1, PurposeColorWrite}})
	addPass(t, b, "B", QueueGraphics, []conn{{r1, PurposeSampled}}, []conn{{r2, PurposeColorWrite}})

	plan, err := b.End()
	if !errors.Is(err, ErrCyclicDependency) {
		t.Fatalf("End() error = %v, want ErrCyclicDependency", err)
	}
	var cerr *CompileError
	if !errors.As(err, &cerr) || cerr.Pass == "" {
		t.Errorf("error %v should name the offending pass", err)
	}
	if plan.Flags&ResultCyclicDependency == 0 {
		t.Errorf("flags = %s, want cyclic_dependency", plan.Flags)
	}
	if plan.OK() {
		t.Error("cyclic plan reported OK")
	}
	if len(plan.Waves()) != 0 || len(plan.Submissions()) != 0 {
		t.Errorf("cyclic plan has %d waves and %d submissions", len(plan.Waves()), len(plan.Submissions()))
	}
}

func TestTopologicalSoundness(t *testing.T) {
	for _, policy := range []QueuePolicy{QueuePolicyCollapse, QueuePolicyPreserve} {
		t.Run(policy.String(), func(t *testing.T) {
			b := begin(t, NewContext(WithQueuePolicy(policy)))
			mesh := b.AddTransientBuffer("Mesh", BufferDesc{Size: 4096})
			shadow := b.AddTransientDepth("Shadow", depthDesc)
			args := b.AddTransientBuffer("DrawArgs", BufferDesc{Size: 64})
			surface := b.ImportSwapchain("surface", surfaceDesc, nil)

			addPass(t, b, "Upload", QueueTransfer, nil, []conn{{mesh, PurposeTransferWrite}})
			addPass(t, b, "Shadow", QueueGraphics, []conn{{mesh, PurposeVertexRead}}, []conn{{shadow, PurposeDepthWrite}})
			addPass(t, b, "Cull", QueueCompute, []conn{{mesh, PurposeStorageRead}}, []conn{{args, PurposeStorageWrite}})
			addPass(t, b, "Scene", QueueGraphics,
				[]conn{{mesh, PurposeVertexRead}, {shadow, PurposeSampled}, {args, PurposeIndirectRead}},
				[]conn{{surface, PurposeColorWrite}})

			plan := mustCompile(t, b)
			finals := plan.FinalPasses()
			for i := range finals {
				f := &finals[i]
				if f.Index != i {
					t.Errorf("final %q has index %d at position %d", f.Name, f.Index, i)
				}
				for _, in := range f.Inputs {
					r := plan.Resource(in.Resource)
					if r.Producer == noPass {
						continue
					}
					q := &finals[plan.Passes()[r.Producer].Final]
					if q.Level >= f.Level {
						t.Errorf("producer %q level %d not before consumer %q level %d", q.Name, q.Level, f.Name, f.Level)
					}
					if q.Wave > f.Wave {
						t.Errorf("producer %q wave %d after consumer %q wave %d", q.Name, q.Wave, f.Name, f.Wave)
					}
					if q.Index >= f.Index {
						t.Errorf("producer %q executes after consumer %q", q.Name, f.Name)
					}
				}
			}
		})
	}
}

func TestSingleQueueWavesCollapse(t *testing.T) {
	b := begin(t, NewContext())
	r1 := b.AddTransientImage("R1", colorDesc)
	r2 := b.AddTransientImage("R2", colorDesc)
	surface := b.ImportSwapchain("surface", surfaceDesc, nil)
	addPass(t, b, "A", QueueGraphics, nil, []conn{{r1, PurposeColorWrite}})
	addPass(t, b, "B", QueueGraphics, []conn{{r1, PurposeSampled}}, []conn{{r2, PurposeColorWrite}})
	addPass(t, b, "C", QueueGraphics, []conn{{r2, PurposeSampled}}, []conn{{surface, PurposeColorWrite}})

	plan := mustCompile(t, b)
	if len(plan.Levels()) != 3 {
		t.Errorf("levels = %d, want 3", len(plan.Levels()))
	}
	if len(plan.Waves()) != 1 {
		t.Fatalf("waves = %d, want 1", len(plan.Waves()))
	}
	if w := plan.Waves()[0]; w.Level != 0 || w.LastLevel != 2 {
		t.Errorf("merged wave spans levels %d-%d, want 0-2", w.Level, w.LastLevel)
	}
	subs := plan.Submissions()
	if len(subs) != 1 || len(subs[0].Batches) != 1 {
		t.Fatalf("submissions = %+v, want one submission with one batch", subs)
	}
	if got := subs[0].Batches[0].Passes; !slices.Equal(got, []int{0, 1, 2}) {
		t.Errorf("batch passes = %v, want [0 1 2]", got)
	}
}

func TestTwoQueueWaveKeepsSeparateBatches(t *testing.T) {
	b := begin(t, NewContext())
	vertices := b.AddTransientBuffer("Vertices", BufferDesc{Size: 1024})
	particles := b.AddTransientBuffer("Particles", BufferDesc{Size: 1024})
	surface := b.ImportSwapchain("surface", surfaceDesc, nil)

	addPass(t, b, "Upload", QueueTransfer, nil, []conn{{vertices, PurposeTransferWrite}})
	addPass(t, b, "Simulate", QueueCompute, nil, []conn{{particles, PurposeStorageWrite}})
	addPass(t, b, "Draw", QueueGraphics,
		[]conn{{vertices, PurposeVertexRead}, {particles, PurposeStorageRead}},
		[]conn{{surface, PurposeColorWrite}})

	plan := mustCompile(t, b)
	if lv := plan.Levels()[0]; lv.Queues != QueueCompute.Bit()|QueueTransfer.Bit() {
		t.Errorf("level 0 queues = %s, want compute|transfer", lv.Queues)
	}
	subs := plan.Submissions()
	if len(subs) != 2 {
		t.Fatalf("submissions = %d, want 2", len(subs))
	}
	if len(subs[0].Batches) != 2 {
		t.Fatalf("first submission has %d batches, want 2", len(subs[0].Batches))
	}
	if subs[0].Batch(QueueTransfer) == nil || subs[0].Batch(QueueCompute) == nil {
		t.Errorf("first submission batches = %+v, want one transfer and one compute batch", subs[0].Batches)
	}
	if plan.FinalPassByName("Upload").Queue != QueueTransfer {
		t.Error("a pass in a two-queue wave must keep its queue")
	}

	draw := plan.Batch(plan.FinalPassByName("Draw"))
	if !draw.NeedTimelineWait || len(draw.Waits) < 2 {
		t.Errorf("draw batch waits = %+v, want timeline waits on compute and transfer", draw.Waits)
	}
}

func TestTransientCreateDestroyObligations(t *testing.T) {
	b := begin(t, NewContext())
	buildScene(t, b)
	unused := b.AddTransientImage("Unused", colorDesc)
	plan := mustCompile(t, b)

	creates := make(map[ResourceID][]int)
	destroys := make(map[ResourceID][]int)
	for _, f := range plan.FinalPasses() {
		for _, id := range f.Creates {
			creates[id] = append(creates[id], f.Index)
		}
		for _, id := range f.Destroys {
			destroys[id] = append(destroys[id], f.Index)
		}
	}
	for _, r := range plan.Resources() {
		if !r.Root() || r.Imported || r.Culled {
			continue
		}
		if got := creates[r.ID]; len(got) != 1 || got[0] != r.FirstUsage {
			t.Errorf("%s creates at %v, want [%d]", r.Name, got, r.FirstUsage)
		}
		if got := destroys[r.ID]; len(got) != 1 || got[0] != r.LastUsage {
			t.Errorf("%s destroys at %v, want [%d]", r.Name, got, r.LastUsage)
		}
	}
	if _, ok := creates[unused]; ok {
		t.Error("unused transient must not be created")
	}
	if !plan.Resource(unused).Culled {
		t.Error("unused transient should be culled")
	}
	found := false
	for _, d := range plan.Diagnostics {
		if d.Severity == SeverityWarning && d.Resource == "Unused" {
			found = true
		}
	}
	if !found {
		t.Error("expected a warning for the unused transient")
	}
}

func TestCachedCompileSkips(t *testing.T) {
	fg := NewContext()
	key := CacheKey{Format: surfaceDesc.Format, Width: 1280, Height: 720, UserState: []byte("scene-v1")}

	b, err := fg.BeginCached("scene", key)
	mustOK(t, err)
	if b.Cached() {
		t.Fatal("first BeginCached reported a cached plan")
	}
	buildScene(t, b)
	first := mustCompile(t, b)

	b, err = fg.BeginCached("scene", key)
	mustOK(t, err)
	if !b.Cached() {
		t.Fatal("second BeginCached should hit the cache")
	}
	second := mustCompile(t, b)
	if second != first {
		t.Error("cached compile returned a different plan")
	}
	stats := fg.Stats()
	if stats.Compiles != 1 || stats.CompileSkips != 1 {
		t.Errorf("compiles/skips = %d/%d, want 1/1", stats.Compiles, stats.CompileSkips)
	}
	if !first.arena.Sealed() {
		t.Error("cached plan should live in a sealed arena")
	}

	if !fg.InvalidateCache(key) {
		t.Fatal("InvalidateCache() = false")
	}
	b, err = fg.BeginCached("scene", key)
	mustOK(t, err)
	buildScene(t, b)
	third := mustCompile(t, b)
	if third == first || fg.Stats().Compiles != 2 {
		t.Error("invalidated key should recompile")
	}
}

func TestCrossQueueBarrier(t *testing.T) {
	b := begin(t, NewContext(WithQueuePolicy(QueuePolicyPreserve)))
	buf := b.AddTransientBuffer("B", BufferDesc{Size: 4096})
	surface := b.ImportSwapchain("surface", surfaceDesc, nil)
	addPass(t, b, "Upload", QueueTransfer, nil, []conn{{buf, PurposeTransferWrite}})
	addPass(t, b, "Draw", QueueGraphics, []conn{{buf, PurposeVertexRead}}, []conn{{surface, PurposeColorWrite}})

	plan := mustCompile(t, b)
	upload := plan.FinalPassByName("Upload")
	draw := plan.FinalPassByName("Draw")
	if upload.Queue != QueueTransfer {
		t.Fatalf("Upload queue = %s, want transfer", upload.Queue)
	}

	acquire := findBarrier(draw.Acquire, "B")
	if acquire == nil {
		t.Fatalf("Draw has no acquire barrier for B: %+v", draw.Acquire)
	}
	if acquire.SrcAccess != AccessTransferWrite || acquire.DstAccess != AccessVertexRead {
		t.Errorf("acquire access %s -> %s, want transfer_write -> vertex_read", acquire.SrcAccess, acquire.DstAccess)
	}
	if acquire.SrcQueue != QueueTransfer || acquire.DstQueue != QueueGraphics {
		t.Errorf("acquire queues %s -> %s, want transfer -> graphics", acquire.SrcQueue, acquire.DstQueue)
	}
	if findBarrier(upload.Release, "B") == nil {
		t.Error("Upload has no release barrier for B")
	}
	if st := plan.ResourceByName("B").Journey[0]; !st.WasReleased {
		t.Error("first journey state should be marked released")
	}

	batch := plan.Batch(draw)
	if !batch.NeedTimelineWait {
		t.Error("graphics batch should need a timeline wait")
	}
	want := SemaphoreWait{Kind: SemaphoreTimeline, Queue: QueueTransfer, Value: 1, Stages: StageTransfer}
	if !slices.Contains(batch.Waits, want) {
		t.Errorf("graphics batch waits = %+v, want %+v", batch.Waits, want)
	}
}

func TestSameQueueBarrierAfterCollapse(t *testing.T) {
	b := begin(t, NewContext())
	buf := b.AddTransientBuffer("B", BufferDesc{Size: 4096})
	surface := b.ImportSwapchain("surface", surfaceDesc, nil)
	addPass(t, b, "Upload", QueueTransfer, nil, []conn{{buf, PurposeTransferWrite}})
	addPass(t, b, "Draw", QueueGraphics, []conn{{buf, PurposeVertexRead}}, []conn{{surface, PurposeColorWrite}})

	plan := mustCompile(t, b)
	upload := plan.FinalPassByName("Upload")
	if upload.Queue != QueueGraphics || upload.RequestedQueue != QueueTransfer {
		t.Errorf("Upload queue = %s (requested %s), want rerouted to graphics", upload.Queue, upload.RequestedQueue)
	}
	acquire := findBarrier(plan.FinalPassByName("Draw").Acquire, "B")
	if acquire == nil || acquire.OwnershipTransfer() {
		t.Fatalf("want a same-queue barrier for B, got %+v", acquire)
	}
	if acquire.SrcAccess != AccessTransferWrite || acquire.DstAccess != AccessVertexRead {
		t.Errorf("acquire access %s -> %s", acquire.SrcAccess, acquire.DstAccess)
	}
	if len(upload.Release) != 0 {
		t.Errorf("same-queue hand-over must not release: %+v", upload.Release)
	}
	for _, w := range plan.Batch(upload).Waits {
		if w.Kind == SemaphoreTimeline {
			t.Errorf("unexpected timeline wait %+v", w)
		}
	}
}

func TestReadAfterReadNeedsNoBarrier(t *testing.T) {
	b := begin(t, NewContext())
	tex := b.ImportImage("Atlas", colorDesc, ImportState{Access: AccessShaderRead, Layout: LayoutShaderReadOnly, Stages: StageFragmentShader}, nil)
	r1 := b.AddTransientImage("R1", colorDesc)
	surface := b.ImportSwapchain("surface", surfaceDesc, nil)
	addPass(t, b, "A", QueueGraphics, []conn{{tex, PurposeSampled}}, []conn{{r1, PurposeColorWrite}})
	addPass(t, b, "B", QueueGraphics, []conn{{tex, PurposeSampled}, {r1, PurposeSampled}}, []conn{{surface, PurposeColorWrite}})

	plan := mustCompile(t, b)
	for _, f := range plan.FinalPasses() {
		if br := findBarrier(f.Acquire, "Atlas"); br != nil {
			t.Errorf("pass %q has barrier for a read-only imported image: %+v", f.Name, br)
		}
	}
	if findBarrier(plan.FinalPassByName("B").Acquire, "R1") == nil {
		t.Error("write then sampled read of R1 needs a barrier")
	}
}

func TestEndToEndScene(t *testing.T) {
	b := begin(t, NewContext())
	buildScene(t, b)
	plan := mustCompile(t, b)

	if n := len(plan.FinalPasses()); n != 3 {
		t.Errorf("final passes = %d, want 3", n)
	}
	if culled := plan.CulledPasses(); len(culled) != 0 {
		t.Errorf("culled passes = %v, want none", culled)
	}
	// The wave index of a pass is its topological level; Collapse merges
	// the levels into one single-queue wave.
	if n := len(plan.Levels()); n < 2 {
		t.Errorf("levels = %d, want at least 2", n)
	}
	upload := plan.FinalPassByName("UploadMeshData")
	if upload.Level != 0 {
		t.Errorf("UploadMeshData level = %d, want 0", upload.Level)
	}
	if !plan.NeedsPresent {
		t.Error("plan should need a present")
	}

	scene := plan.FinalPassByName("ScenePass")
	present := findBarrier(scene.Release, "surface")
	if present == nil || present.NewLayout != LayoutPresent {
		t.Errorf("ScenePass release = %+v, want a present transition", scene.Release)
	}
	batch := plan.Batch(scene)
	if !slices.ContainsFunc(batch.Waits, func(w SemaphoreWait) bool {
		return w.Kind == SemaphoreImageAcquired && w.Stages == StageColorAttachmentOutput
	}) {
		t.Errorf("scene batch waits = %+v, want image acquired at color output", batch.Waits)
	}
	if !slices.ContainsFunc(batch.Signals, func(s SemaphoreSignal) bool { return s.Kind == SemaphoreRenderFinished }) {
		t.Errorf("scene batch signals = %+v, want render finished", batch.Signals)
	}
	if !batch.OutputsToSurface {
		t.Error("scene batch should output to the surface")
	}
}

func TestGroupMergesSharedOutputs(t *testing.T) {
	b := begin(t, NewContext())
	lut := b.AddTransientImage("LUT", colorDesc)
	surface := b.ImportSwapchain("surface", surfaceDesc, nil)
	addPass(t, b, "FillLUT", QueueGraphics, nil, []conn{{lut, PurposeStorageWrite}})
	addPass(t, b, "PatchLUT", QueueGraphics, nil, []conn{{lut, PurposeStorageWrite}})
	addPass(t, b, "Scene", QueueGraphics, []conn{{lut, PurposeSampled}}, []conn{{surface, PurposeColorWrite}})

	plan := mustCompile(t, b)
	if n := len(plan.FinalPasses()); n != 2 {
		t.Fatalf("final passes = %d, want 2", n)
	}
	f := plan.FinalPassByName("PatchLUT")
	if f != plan.FinalPassByName("FillLUT") || len(f.Members) != 2 {
		t.Errorf("FillLUT and PatchLUT should share one final pass, got %+v", f)
	}
	if r := plan.ResourceByName("LUT"); len(r.CoProducers) != 1 {
		t.Errorf("LUT co-producers = %v, want one", r.CoProducers)
	}
}

func TestGroupMismatchIsCritical(t *testing.T) {
	b := begin(t, NewContext())
	buf := b.AddTransientBuffer("Staging", BufferDesc{Size: 64})
	mustOK(t, b.SetEssential(buf))
	addPass(t, b, "CopyA", QueueGraphics, nil, []conn{{buf, PurposeTransferWrite}})
	addPass(t, b, "CopyB", QueueTransfer, nil, []conn{{buf, PurposeTransferWrite}})

	plan, err := b.End()
	if !errors.Is(err, ErrCritical) || !errors.Is(err, ErrGroupMismatch) {
		t.Fatalf("End() error = %v, want critical group mismatch", err)
	}
	if plan.Flags&ResultCriticalError == 0 {
		t.Errorf("flags = %s", plan.Flags)
	}
}

func TestGroupWaitStageMismatchIsCritical(t *testing.T) {
	b := begin(t, NewContext())
	buf := b.AddTransientBuffer("Instances", BufferDesc{Size: 64})
	mustOK(t, b.SetEssential(buf))
	for _, p := range []struct {
		name string
		wait StageMask
	}{
		{"WriteA", StageVertexInput},
		{"WriteB", StageFragmentShader},
	} {
		mustOK(t, b.BeginPass(p.name, QueueGraphics))
		mustOK(t, b.AddOutput(buf, PurposeStorageWrite))
		mustOK(t, b.SetExecute(nopExecute, nil))
		mustOK(t, b.SetWaitStage(p.wait))
		mustOK(t, b.EndPass())
	}

	plan, err := b.End()
	if !errors.Is(err, ErrCritical) || !errors.Is(err, ErrGroupMismatch) {
		t.Fatalf("End() error = %v, want critical group mismatch", err)
	}
	if plan.OK() || plan.Flags&ResultCriticalError == 0 {
		t.Errorf("flags = %s", plan.Flags)
	}
}

func TestRefCountUnderflowIsCritical(t *testing.T) {
	b := begin(t, NewContext())
	buf := b.AddTransientBuffer("Counters", BufferDesc{Size: 64})
	addPass(t, b, "Fill", QueueTransfer, nil, []conn{{buf, PurposeTransferWrite}})
	addPass(t, b, "Inspect", QueueGraphics, []conn{{buf, PurposeStorageRead}}, nil)
	b.arena.resources[buf].RefCount = 0

	plan, err := b.End()
	if !errors.Is(err, ErrCritical) || !errors.Is(err, ErrRefCountUnderflow) {
		t.Fatalf("End() error = %v, want critical refcount underflow", err)
	}
	var ce *CompileError
	if !errors.As(err, &ce) || ce.Pass != "Inspect" || ce.Resource != "Counters" {
		t.Errorf("error = %+v, want it attributed to Inspect reading Counters", ce)
	}
	if plan.Flags&ResultCriticalError == 0 {
		t.Errorf("flags = %s", plan.Flags)
	}
}

func TestDeclarationErrors(t *testing.T) {
	tests := []struct {
		name  string
		build func(b *Builder)
		want  error
	}{
		{
			name: "duplicate output",
			build: func(b *Builder) {
				img := b.AddTransientImage("Img", colorDesc)
				b.BeginPass("P", QueueGraphics)
				b.AddOutput(img, PurposeColorWrite)
				b.AddOutput(img, PurposeStorageWrite)
				b.SetExecute(nopExecute, nil)
				b.EndPass()
			},
			want: ErrDuplicateProducer,
		},
		{
			name: "invalid resource",
			build: func(b *Builder) {
				b.BeginPass("P", QueueGraphics)
				b.AddInput(ResourceID(42), PurposeSampled)
				b.EndPass()
			},
			want: ErrInvalidResource,
		},
		{
			name: "purpose on wrong kind",
			build: func(b *Builder) {
				img := b.AddTransientImage("Img", colorDesc)
				b.BeginPass("P", QueueGraphics)
				b.AddInput(img, PurposeVertexRead)
				b.EndPass()
			},
			want: ErrInvalidPurpose,
		},
		{
			name: "purpose on wrong queue",
			build: func(b *Builder) {
				img := b.AddTransientImage("Img", colorDesc)
				b.BeginPass("P", QueueCompute)
				b.AddOutput(img, PurposeColorWrite)
				b.EndPass()
			},
			want: ErrInvalidPurpose,
		},
		{
			name: "conflicting layouts",
			build: func(b *Builder) {
				img := b.AddTransientImage("Img", colorDesc)
				b.BeginPass("P", QueueGraphics)
				b.AddInput(img, PurposeSampled)
				b.AddInput(img, PurposeStorageRead)
				b.EndPass()
			},
			want: ErrConflictingUsage,
		},
		{
			name: "read before written",
			build: func(b *Builder) {
				tmp := b.AddTransientBuffer("Tmp", BufferDesc{Size: 16})
				out := b.AddTransientBuffer("Out", BufferDesc{Size: 16})
				b.SetEssential(out)
				b.BeginPass("P", QueueCompute)
				b.AddInput(tmp, PurposeStorageRead)
				b.AddOutput(out, PurposeStorageWrite)
				b.SetExecute(nopExecute, nil)
				b.EndPass()
			},
			want: ErrMissingProducer,
		},
		{
			name: "pass left open",
			build: func(b *Builder) {
				b.BeginPass("P", QueueGraphics)
			},
			want: ErrCritical,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := begin(t, NewContext())
			tt.build(b)
			plan, err := b.End()
			if !errors.Is(err, tt.want) {
				t.Fatalf("End() error = %v, want %v", err, tt.want)
			}
			if !errors.Is(err, ErrCritical) {
				t.Errorf("error %v is not critical", err)
			}
			if plan.OK() || plan.State() != PlanFailed {
				t.Error("failed plan reported OK")
			}
		})
	}
}

func TestNestedBuildRejected(t *testing.T) {
	fg := NewContext()
	b, err := fg.Begin("outer")
	mustOK(t, err)
	if _, err := fg.Begin("inner"); !errors.Is(err, ErrBuildInProgress) {
		t.Errorf("nested Begin() error = %v, want ErrBuildInProgress", err)
	}
	if err := fg.BeginFrame(t.Context()); !errors.Is(err, ErrBuildInProgress) {
		t.Errorf("BeginFrame() during build error = %v, want ErrBuildInProgress", err)
	}
	if _, err := b.End(); err != nil {
		t.Fatalf("End() = %v", err)
	}
	if _, err := b.End(); !errors.Is(err, ErrBuilderClosed) {
		t.Errorf("second End() error = %v, want ErrBuilderClosed", err)
	}
	if _, err := fg.Begin("next"); err != nil {
		t.Errorf("Begin() after End() = %v", err)
	}
}

func TestNoWorkToDo(t *testing.T) {
	b := begin(t, NewContext())
	img := b.AddTransientImage("Img", colorDesc)
	addPass(t, b, "Unused", QueueGraphics, nil, []conn{{img, PurposeColorWrite}})
	b.ImportSwapchain("surface", surfaceDesc, nil)

	plan, err := b.End()
	if err != nil {
		t.Fatalf("End() = %v, no work is not an error", err)
	}
	if !plan.Empty() || !plan.OK() {
		t.Errorf("flags = %s, want compiled|no_work_to_do", plan.Flags)
	}
	if len(plan.Submissions()) != 0 {
		t.Error("empty plan has submissions")
	}
	if !plan.PendingAcquire {
		t.Error("imported swapchain should leave the acquire pending")
	}
}

func TestReadModifyWriteCreatesVersion(t *testing.T) {
	b := begin(t, NewContext())
	hist := b.AddTransientImage("History", colorDesc)
	surface := b.ImportSwapchain("surface", surfaceDesc, nil)
	addPass(t, b, "Seed", QueueGraphics, nil, []conn{{hist, PurposeStorageWrite}})
	addPass(t, b, "Accumulate", QueueGraphics, []conn{{hist, PurposeStorageRead}}, []conn{{hist, PurposeStorageWrite}})
	addPass(t, b, "Resolve", QueueGraphics, []conn{{hist, PurposeSampled}}, []conn{{surface, PurposeColorWrite}})

	plan := mustCompile(t, b)
	acc := plan.PassByName("Accumulate")
	v1 := plan.Resource(acc.Outputs[0].Resource)
	if v1.Root() || v1.Version != 1 || v1.Aliased != hist {
		t.Errorf("Accumulate output = %+v, want version 1 aliasing History", v1)
	}
	if plan.PassByName("Resolve").Inputs[0].Resource != v1.ID {
		t.Error("Resolve should read the accumulated version")
	}
	levels := []int{
		plan.FinalPassByName("Seed").Level,
		plan.FinalPassByName("Accumulate").Level,
		plan.FinalPassByName("Resolve").Level,
	}
	if !slices.IsSorted(levels) || levels[0] == levels[1] || levels[1] == levels[2] {
		t.Errorf("levels = %v, want strictly increasing", levels)
	}
	root := plan.ResourceByName("History")
	if len(root.Journey) != 3 {
		t.Errorf("History journey has %d states, want 3", len(root.Journey))
	}
	creates := 0
	for _, f := range plan.FinalPasses() {
		creates += len(f.Creates)
	}
	if creates != 1 {
		t.Errorf("creates = %d, versions must share one allocation", creates)
	}
}

func TestRewriteWaitsForReaders(t *testing.T) {
	b := begin(t, NewContext())
	scratch := b.AddTransientImage("Scratch", colorDesc)
	blur := b.AddTransientImage("Blur", colorDesc)
	surface := b.ImportSwapchain("surface", surfaceDesc, nil)
	addPass(t, b, "Draw", QueueGraphics, nil, []conn{{scratch, PurposeColorWrite}})
	addPass(t, b, "BlurH", QueueGraphics, []conn{{scratch, PurposeSampled}}, []conn{{blur, PurposeColorWrite}})
	addPass(t, b, "Overlay", QueueGraphics, nil, []conn{{scratch, PurposeStorageWrite}})
	addPass(t, b, "Compose", QueueGraphics,
		[]conn{{scratch, PurposeSampled}, {blur, PurposeSampled}},
		[]conn{{surface, PurposeColorWrite}})

	plan := mustCompile(t, b)
	if plan.FinalPassByName("BlurH").Level >= plan.FinalPassByName("Overlay").Level {
		t.Error("Overlay rewrites Scratch and must come after BlurH reads it")
	}
}

func TestUnusedSwapchainDummyWait(t *testing.T) {
	b := begin(t, NewContext())
	b.ImportSwapchain("surface", surfaceDesc, nil)
	out := b.AddTransientBuffer("Out", BufferDesc{Size: 16})
	mustOK(t, b.SetEssential(out))
	addPass(t, b, "Compute", QueueCompute, nil, []conn{{out, PurposeStorageWrite}})

	plan := mustCompile(t, b)
	first := plan.Submissions()[0].Batches[0]
	if !slices.ContainsFunc(first.Waits, func(w SemaphoreWait) bool { return w.Kind == SemaphoreImageAcquired }) {
		t.Errorf("first batch waits = %+v, want a dummy image acquired wait", first.Waits)
	}
	if plan.NeedsPresent {
		t.Error("unused swapchain must not be presented")
	}
	if plan.Stats().Warnings == 0 {
		t.Error("expected a warning for the unused swapchain")
	}
}

func TestImportedOwnershipTransfer(t *testing.T) {
	b := begin(t, NewContext())
	state := ImportState{Access: AccessTransferWrite, Stages: StageTransfer, Owner: QueueTransfer, Owned: true}
	buf := b.ImportBuffer("Streamed", BufferDesc{Size: 1 << 20}, state, nil)
	surface := b.ImportSwapchain("surface", surfaceDesc, nil)
	addPass(t, b, "Draw", QueueGraphics, []conn{{buf, PurposeVertexRead}}, []conn{{surface, PurposeColorWrite}})

	plan := mustCompile(t, b)
	acq := findBarrier(plan.FinalPassByName("Draw").Acquire, "Streamed")
	if acq == nil || acq.SrcQueue != QueueTransfer || acq.DstQueue != QueueGraphics {
		t.Errorf("Draw acquire = %+v, want ownership transfer from transfer", acq)
	}
}

func TestReleaseAfterUse(t *testing.T) {
	b := begin(t, NewContext(WithQueuePolicy(QueuePolicyPreserve)))
	buf := b.ImportBuffer("Particles", BufferDesc{Size: 1 << 12}, ImportState{}, nil)
	mustOK(t, b.SetReleaseAfterUse(buf))
	mustOK(t, b.SetEssential(buf))
	addPass(t, b, "Simulate", QueueCompute, nil, []conn{{buf, PurposeStorageWrite}})

	plan := mustCompile(t, b)
	sim := plan.FinalPassByName("Simulate")
	rel := findBarrier(sim.Release, "Particles")
	if rel == nil || rel.SrcQueue != QueueCompute || rel.DstQueue != QueueGraphics {
		t.Errorf("Simulate release = %+v, want a release to graphics", sim.Release)
	}
	if r := plan.ResourceByName("Particles"); r.Queue != QueueGraphics {
		t.Errorf("final queue = %s, want graphics", r.Queue)
	}
}

func TestTransientAliasing(t *testing.T) {
	b := begin(t, NewContext(WithTransientAliasing(true)))
	x := b.AddTransientImage("X", colorDesc)
	y := b.AddTransientImage("Y", colorDesc)
	w := b.AddTransientImage("W", colorDesc)
	surface := b.ImportSwapchain("surface", surfaceDesc, nil)
	addPass(t, b, "A", QueueGraphics, nil, []conn{{x, PurposeColorWrite}})
	addPass(t, b, "B", QueueGraphics, []conn{{x, PurposeSampled}}, []conn{{y, PurposeColorWrite}})
	addPass(t, b, "C", QueueGraphics, []conn{{y, PurposeSampled}}, []conn{{w, PurposeColorWrite}})
	addPass(t, b, "D", QueueGraphics, []conn{{w, PurposeSampled}}, []conn{{surface, PurposeColorWrite}})

	plan := mustCompile(t, b)
	if got := plan.Resource(w).Aliased; got != x {
		t.Errorf("W aliased = %d, want X (%d)", got, x)
	}
	if got := plan.Resource(y).Aliased; got != NoResource {
		t.Errorf("Y overlaps X and must not alias, got %d", got)
	}
	creates, destroys := 0, 0
	for _, f := range plan.FinalPasses() {
		creates += len(f.Creates)
		destroys += len(f.Destroys)
	}
	if creates != 2 || destroys != 2 {
		t.Errorf("creates/destroys = %d/%d, want 2/2", creates, destroys)
	}
	if !slices.Contains(plan.FinalPassByName("D").Destroys, x) {
		t.Error("X's allocation should live until W's last use")
	}
}

func TestStalePlanAfterArenaReset(t *testing.T) {
	fg := NewContext(WithFramesInFlight(2))
	b := begin(t, fg)
	buildScene(t, b)
	plan := mustCompile(t, b)

	mustOK(t, fg.BeginFrame(t.Context()))
	if plan.Stale() {
		t.Error("plan went stale after its slot was not reused")
	}
	mustOK(t, fg.BeginFrame(t.Context()))
	if !plan.Stale() {
		t.Error("plan should be stale once its slot was reset")
	}
}

func TestSubmissionIDPacking(t *testing.T) {
	id := SubmissionID{Submission: 7, Position: 42, Queue: QueueTransfer}
	if got := UnpackSubmissionID(id.Pack()); got != id {
		t.Errorf("round trip = %+v, want %+v", got, id)
	}
	if id.Pack() != 7<<16|42<<4|2 {
		t.Errorf("Pack() = %#x", id.Pack())
	}
}

func TestBatchPassLimit(t *testing.T) {
	tests := []struct {
		passes int
		ok     bool
	}{
		{MaxBatchPasses, true},
		{MaxBatchPasses + 1, false},
	}
	for _, tt := range tests {
		b := begin(t, NewContext())
		for i := range tt.passes {
			buf := b.AddTransientBuffer(strconv.Itoa(i), BufferDesc{Size: 4})
			mustOK(t, b.SetEssential(buf))
			addPass(t, b, "Copy"+strconv.Itoa(i), QueueTransfer, nil, []conn{{buf, PurposeTransferWrite}})
		}
		plan, err := b.End()
		if tt.ok {
			if err != nil {
				t.Fatalf("%d passes: End() = %v", tt.passes, err)
			}
			last := plan.FinalPasses()[tt.passes-1].Submission
			if got := UnpackSubmissionID(last.Pack()); got != last {
				t.Errorf("%d passes: last id round trip = %+v, want %+v", tt.passes, got, last)
			}
			continue
		}
		if !errors.Is(err, ErrCritical) || !errors.Is(err, ErrTooManyPasses) {
			t.Errorf("%d passes: End() = %v, want submission id overflow", tt.passes, err)
		}
	}
}

func findBarrier(barriers []Barrier, name string) *Barrier {
	for i := range barriers {
		if barriers[i].Name == name {
			return &barriers[i]
		}
	}
	return nil
}
