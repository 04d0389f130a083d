package framegraph

import (
	"hash/fnv"

	"github.com/gogpu/gputypes"
)

// ResourceID is a stable index of a resource node inside its arena.
type ResourceID int32

// NoResource is the zero reference for optional resource links.
const NoResource ResourceID = -1

// noPass marks an absent pass index.
const noPass = -1

// ImageDesc describes an image resource.
type ImageDesc struct {
	Width       uint32
	Height      uint32
	Format      gputypes.TextureFormat
	MipLevels   uint32
	SampleCount uint32
}

// BufferDesc describes a buffer resource.
type BufferDesc struct {
	Size uint64
}

// ImportState is the synchronization state an imported resource arrives
// in. Owned with Owner set tags a pending queue ownership transfer.
type ImportState struct {
	Access AccessMask
	Layout Layout
	Stages StageMask
	Owner  QueueKind
	Owned  bool
}

// ResourceProvider supplies the live backing of an imported resource at
// execution time.
type ResourceProvider func(frame FrameInfo) (Handle, error)

// ResourceNode is one version of a resource tracked by a frame graph.
type ResourceNode struct {
	ID         ResourceID
	OriginalID ResourceID
	Version    int
	Name       string
	Kind       ResourceKind

	Imported        bool
	Essential       bool
	ReleaseAfterUse bool

	Image  ImageDesc
	Buffer BufferDesc

	RefCount int
	// Producer is the potential pass writing this version, noPass if none.
	Producer    int
	CoProducers []int
	Consumers   []int

	// Journey is only filled on the first version of a resource and covers
	// every version, since versions share their backing memory.
	Journey []ResourceState

	// FirstUsage and LastUsage are final pass indices. On a first version
	// they span the whole physical lifetime of all versions.
	FirstUsage int
	LastUsage  int

	// Aliased points to the resource whose memory this one reuses.
	Aliased ResourceID

	// Synchronization carried over from the previous usage (or the
	// import state) and left at the final state after compilation.
	Access     AccessMask
	Layout     Layout
	LastStages StageMask
	Queue      QueueKind

	TextureUsage gputypes.TextureUsage
	BufferUsage  gputypes.BufferUsage

	Provider ResourceProvider
	Culled   bool
}

// Root reports whether the node is the first version of its resource.
func (r *ResourceNode) Root() bool { return r.ID == r.OriginalID }

// Transient reports whether the node is created and destroyed by the graph.
func (r *ResourceNode) Transient() bool { return !r.Imported }

// Binding connects a pass to one resource version.
type Binding struct {
	Name     string
	Resource ResourceID
	Usage    ResourceUsage
}

// ResourceState is one appearance of a resource in its journey.
type ResourceState struct {
	Pass        int
	Resource    ResourceID
	Queue       QueueKind
	Usage       ResourceUsage
	Submission  SubmissionID
	WasReleased bool
}

type visitMark uint8

const (
	markUnvisited visitMark = iota
	markVisiting
	markVisited
)

// ExecuteFunc records the GPU work of a pass.
type ExecuteFunc func(pc *PassContext, userData any) error

// PassNode is a potential pass as declared through the builder.
type PassNode struct {
	ID        int
	Name      string
	Queue     QueueKind
	WaitStage StageMask
	Inputs    []Binding
	Outputs   []Binding
	OutputKey uint64
	Execute   ExecuteFunc
	UserData  any
	Culled    bool
	// Final is the index of the final pass group this pass was merged into.
	Final int

	mark visitMark
}

// FinalPass is a group of potential passes that share an output key.
// After batching, final pass indices follow execution order.
type FinalPass struct {
	Index          int
	Name           string
	Queue          QueueKind
	RequestedQueue QueueKind
	WaitStage      StageMask
	Members        []int
	Inputs         []Binding
	Outputs        []Binding

	Level      int
	Wave       int
	Submission SubmissionID

	Acquire  []Barrier
	Release  []Barrier
	Creates  []ResourceID
	Destroys []ResourceID

	producers []int
	consumers []int
}

// ExecutionWave is a set of final passes with no dependency on each other.
// Merged waves span several topological levels.
type ExecutionWave struct {
	Level     int
	LastLevel int
	Queues    QueueBits
	Passes    []int
}

// SubmissionID locates a pass inside the submission plan.
type SubmissionID struct {
	Submission int
	Position   int
	Queue      QueueKind
}

// Limits of the packed submission id. Compilation rejects plans that
// exceed them with ErrTooManyPasses.
const (
	MaxBatchPasses = 1 << 12
	MaxSubmissions = 1 << 16
)

// Pack encodes the id as submission<<16 | position<<4 | queue. Positions
// stay below MaxBatchPasses and submissions below MaxSubmissions.
func (s SubmissionID) Pack() uint32 {
	return uint32(s.Submission)<<16 | uint32(s.Position&0xFFF)<<4 | uint32(s.Queue&0xF)
}

// UnpackSubmissionID reverses SubmissionID.Pack.
func UnpackSubmissionID(v uint32) SubmissionID {
	return SubmissionID{
		Submission: int(v >> 16),
		Position:   int(v>>4) & 0xFFF,
		Queue:      QueueKind(v & 0xF),
	}
}

// SemaphoreKind distinguishes the semaphores a batch waits on or signals.
type SemaphoreKind uint8

const (
	// SemaphoreTimeline is the per-queue timeline semaphore of the frame.
	SemaphoreTimeline SemaphoreKind = iota
	// SemaphoreImageAcquired is signalled when the swapchain image is ready.
	SemaphoreImageAcquired
	// SemaphoreRenderFinished is waited on by the present operation.
	SemaphoreRenderFinished
)

func (k SemaphoreKind) String() string {
	switch k {
	case SemaphoreTimeline:
		return "timeline"
	case SemaphoreImageAcquired:
		return "image_acquired"
	default:
		return "render_finished"
	}
}

// SemaphoreWait is a wait attached to a submission batch. Timeline values
// count batches per queue from 1 within one frame.
type SemaphoreWait struct {
	Kind   SemaphoreKind
	Queue  QueueKind
	Value  uint64
	Stages StageMask
}

// SemaphoreSignal is a signal attached to a submission batch.
type SemaphoreSignal struct {
	Kind  SemaphoreKind
	Queue QueueKind
	Value uint64
}

// SubmissionBatch is an ordered run of passes submitted to one queue.
type SubmissionBatch struct {
	Queue            QueueKind
	Passes           []int
	Waits            []SemaphoreWait
	Signals          []SemaphoreSignal
	TimelineValue    uint64
	NeedTimelineWait bool
	OutputsToSurface bool
}

// WaveSubmission holds at most one batch per queue kind. Batches of one
// submission run concurrently.
type WaveSubmission struct {
	Index   int
	Batches []SubmissionBatch
}

// Batch returns the batch for queue q, or nil.
func (w *WaveSubmission) Batch(q QueueKind) *SubmissionBatch {
	for i := range w.Batches {
		if w.Batches[i].Queue == q {
			return &w.Batches[i]
		}
	}
	return nil
}

// Barrier is one acquire or release transition of a resource.
type Barrier struct {
	Resource  ResourceID
	Name      string
	Kind      ResourceKind
	SrcAccess AccessMask
	DstAccess AccessMask
	SrcStages StageMask
	DstStages StageMask
	OldLayout Layout
	NewLayout Layout
	SrcQueue  QueueKind
	DstQueue  QueueKind
}

// OwnershipTransfer reports whether the barrier moves the resource between
// queue kinds.
func (b *Barrier) OwnershipTransfer() bool {
	return b.SrcQueue != QueueIgnored && b.DstQueue != QueueIgnored && b.SrcQueue != b.DstQueue
}

// addResource appends a first version resource node.
func (a *Arena) addResource(name string, kind ResourceKind, imported bool) ResourceID {
	id := ResourceID(len(a.resources))
	a.resources = append(a.resources, ResourceNode{
		ID:         id,
		OriginalID: id,
		Name:       name,
		Kind:       kind,
		Imported:   imported,
		Essential:  kind == ResourceSwapchain,
		Producer:   noPass,
		FirstUsage: noPass,
		LastUsage:  noPass,
		Aliased:    NoResource,
		Queue:      QueueIgnored,
	})
	a.latest = append(a.latest, id)
	return id
}

// newVersion appends the next version of the resource whose current
// version is cur. The new version aliases the first version's memory.
func (a *Arena) newVersion(cur ResourceID) ResourceID {
	prev := a.resources[cur]
	id := ResourceID(len(a.resources))
	a.resources = append(a.resources, ResourceNode{
		ID:              id,
		OriginalID:      prev.OriginalID,
		Version:         prev.Version + 1,
		Name:            prev.Name,
		Kind:            prev.Kind,
		Imported:        prev.Imported,
		Essential:       prev.Essential,
		ReleaseAfterUse: prev.ReleaseAfterUse,
		Image:           prev.Image,
		Buffer:          prev.Buffer,
		Producer:        noPass,
		FirstUsage:      noPass,
		LastUsage:       noPass,
		Aliased:         prev.OriginalID,
		Queue:           QueueIgnored,
	})
	a.latest[prev.OriginalID] = id
	return id
}

// current returns the latest version of the resource that id belongs to.
func (a *Arena) current(id ResourceID) ResourceID {
	return a.latest[a.resources[id].OriginalID]
}

// validResource reports whether id names a resource of this arena.
func (a *Arena) validResource(id ResourceID) bool {
	return id >= 0 && int(id) < len(a.resources)
}

// outputKey hashes the outputs of a pass: original resource ids and
// purposes, in declaration order.
func outputKey(a *Arena, outputs []Binding) uint64 {
	h := fnv.New64a()
	var buf [5]byte
	for i := range outputs {
		id := uint32(a.resources[outputs[i].Resource].OriginalID)
		buf[0] = byte(id)
		buf[1] = byte(id >> 8)
		buf[2] = byte(id >> 16)
		buf[3] = byte(id >> 24)
		buf[4] = byte(outputs[i].Usage.Purpose)
		_, _ = h.Write(buf[:]) // fnv.Write never returns an error
	}
	return h.Sum64()
}

func findBinding(bindings []Binding, name string) int {
	for i := range bindings {
		if bindings[i].Name == name {
			return i
		}
	}
	return -1
}
