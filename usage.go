package framegraph

import (
	"fmt"

	"github.com/gogpu/gputypes"
)

// Purpose is what a pass does with a resource it is connected to.
// Access, stage and layout requirements are derived from it.
type Purpose uint8

const (
	PurposeSampled Purpose = iota
	PurposeColorWrite
	PurposeDepthWrite
	PurposeDepthRead
	PurposeStorageRead
	PurposeStorageWrite
	PurposeStorageReadWrite
	PurposeTransferRead
	PurposeTransferWrite
	PurposeVertexRead
	PurposeIndexRead
	PurposeUniformRead
	PurposeIndirectRead

	purposeCount
)

// purposeTarget restricts a purpose to buffers, images or both.
type purposeTarget uint8

const (
	targetAny purposeTarget = iota
	targetBuffer
	targetImage
)

type purposeInfo struct {
	name   string
	access AccessMask
	layout Layout
	target purposeTarget
	// stages per queue kind; StageNone means the purpose is not
	// available on that queue.
	stages [queueKindCount]StageMask
}

const (
	graphicsShaderStages = StageVertexShader | StageFragmentShader
)

var purposeTable = [purposeCount]purposeInfo{
	PurposeSampled: {
		name: "sampled", access: AccessShaderRead, layout: LayoutShaderReadOnly, target: targetImage,
		stages: [queueKindCount]StageMask{QueueGraphics: StageFragmentShader, QueueCompute: StageComputeShader},
	},
	PurposeColorWrite: {
		name: "color_write", access: AccessColorWrite | AccessColorRead, layout: LayoutColorAttachment, target: targetImage,
		stages: [queueKindCount]StageMask{QueueGraphics: StageColorAttachmentOutput},
	},
	PurposeDepthWrite: {
		name: "depth_write", access: AccessDepthWrite | AccessDepthRead, layout: LayoutDepthAttachment, target: targetImage,
		stages: [queueKindCount]StageMask{QueueGraphics: StageEarlyFragmentTests | StageLateFragmentTests},
	},
	PurposeDepthRead: {
		name: "depth_read", access: AccessDepthRead, layout: LayoutDepthReadOnly, target: targetImage,
		stages: [queueKindCount]StageMask{QueueGraphics: StageEarlyFragmentTests | StageLateFragmentTests | StageFragmentShader},
	},
	PurposeStorageRead: {
		name: "storage_read", access: AccessShaderRead, layout: LayoutGeneral,
		stages: [queueKindCount]StageMask{QueueGraphics: graphicsShaderStages, QueueCompute: StageComputeShader},
	},
	PurposeStorageWrite: {
		name: "storage_write", access: AccessShaderWrite, layout: LayoutGeneral,
		stages: [queueKindCount]StageMask{QueueGraphics: graphicsShaderStages, QueueCompute: StageComputeShader},
	},
	PurposeStorageReadWrite: {
		name: "storage_read_write", access: AccessShaderRead | AccessShaderWrite, layout: LayoutGeneral,
		stages: [queueKindCount]StageMask{QueueGraphics: graphicsShaderStages, QueueCompute: StageComputeShader},
	},
	PurposeTransferRead: {
		name: "transfer_read", access: AccessTransferRead, layout: LayoutTransferSrc,
		stages: [queueKindCount]StageMask{StageTransfer, StageTransfer, StageTransfer},
	},
	PurposeTransferWrite: {
		name: "transfer_write", access: AccessTransferWrite, layout: LayoutTransferDst,
		stages: [queueKindCount]StageMask{StageTransfer, StageTransfer, StageTransfer},
	},
	PurposeVertexRead: {
		name: "vertex_read", access: AccessVertexRead, target: targetBuffer,
		stages: [queueKindCount]StageMask{QueueGraphics: StageVertexInput},
	},
	PurposeIndexRead: {
		name: "index_read", access: AccessIndexRead, target: targetBuffer,
		stages: [queueKindCount]StageMask{QueueGraphics: StageVertexInput},
	},
	PurposeUniformRead: {
		name: "uniform_read", access: AccessUniformRead, target: targetBuffer,
		stages: [queueKindCount]StageMask{QueueGraphics: graphicsShaderStages, QueueCompute: StageComputeShader},
	},
	PurposeIndirectRead: {
		name: "indirect_read", access: AccessIndirectRead, target: targetBuffer,
		stages: [queueKindCount]StageMask{QueueGraphics: StageDrawIndirect, QueueCompute: StageDrawIndirect},
	},
}

func (p Purpose) String() string {
	if p < purposeCount {
		return purposeTable[p].name
	}
	return fmt.Sprintf("Purpose(%d)", p)
}

// ParsePurpose parses a purpose name as produced by Purpose.String.
func ParsePurpose(s string) (Purpose, error) {
	for i := range purposeTable {
		if purposeTable[i].name == s {
			return Purpose(i), nil
		}
	}
	return purposeCount, fmt.Errorf("framegraph: unknown purpose %q", s)
}

// Writes reports whether the purpose modifies the resource.
func (p Purpose) Writes() bool { return p < purposeCount && purposeTable[p].access.HasWrite() }

// Reads reports whether the purpose reads existing contents.
func (p Purpose) Reads() bool {
	if p >= purposeCount {
		return false
	}
	switch p {
	case PurposeColorWrite, PurposeDepthWrite, PurposeTransferWrite, PurposeStorageWrite:
		return false
	}
	return true
}

// IsAttachment reports whether the purpose binds the resource as a render
// target, which requires a render scope around the pass.
func (p Purpose) IsAttachment() bool {
	return p == PurposeColorWrite || p == PurposeDepthWrite || p == PurposeDepthRead
}

// TextureUsage returns the gputypes usage flags an image needs for p.
func (p Purpose) TextureUsage() gputypes.TextureUsage {
	switch p {
	case PurposeSampled:
		return gputypes.TextureUsageTextureBinding
	case PurposeColorWrite, PurposeDepthWrite:
		return gputypes.TextureUsageRenderAttachment
	case PurposeDepthRead:
		return gputypes.TextureUsageRenderAttachment | gputypes.TextureUsageTextureBinding
	case PurposeStorageRead, PurposeStorageWrite, PurposeStorageReadWrite:
		return gputypes.TextureUsageStorageBinding
	case PurposeTransferRead:
		return gputypes.TextureUsageCopySrc
	case PurposeTransferWrite:
		return gputypes.TextureUsageCopyDst
	}
	return 0
}

// BufferUsage returns the gputypes usage flags a buffer needs for p.
func (p Purpose) BufferUsage() gputypes.BufferUsage {
	switch p {
	case PurposeVertexRead:
		return gputypes.BufferUsageVertex
	case PurposeIndexRead:
		return gputypes.BufferUsageIndex
	case PurposeUniformRead:
		return gputypes.BufferUsageUniform
	case PurposeIndirectRead:
		return gputypes.BufferUsageIndirect
	case PurposeStorageRead, PurposeStorageWrite, PurposeStorageReadWrite:
		return gputypes.BufferUsageStorage
	case PurposeTransferRead:
		return gputypes.BufferUsageCopySrc
	case PurposeTransferWrite:
		return gputypes.BufferUsageCopyDst
	}
	return 0
}

// ResourceUsage is one connection between a pass and a resource.
type ResourceUsage struct {
	Purpose  Purpose
	Access   AccessMask
	Stages   StageMask
	Layout   Layout // LayoutUndefined for buffers
	LoadOp   gputypes.LoadOp
	StoreOp  gputypes.StoreOp
	Clear    gputypes.Color
	Depth    float32
	Stencil  uint32
	IsOutput bool
}

// UsageOption adjusts the attachment behaviour of a connection.
type UsageOption func(*ResourceUsage)

// WithLoadOp sets the load operation of an attachment.
func WithLoadOp(op gputypes.LoadOp) UsageOption {
	return func(u *ResourceUsage) { u.LoadOp = op }
}

// WithStoreOp sets the store operation of an attachment.
func WithStoreOp(op gputypes.StoreOp) UsageOption {
	return func(u *ResourceUsage) { u.StoreOp = op }
}

// WithClearColor clears a color attachment to c when the pass begins.
func WithClearColor(c gputypes.Color) UsageOption {
	return func(u *ResourceUsage) {
		u.LoadOp = gputypes.LoadOpClear
		u.Clear = c
	}
}

// WithClearDepth clears a depth attachment to depth and stencil.
func WithClearDepth(depth float32, stencil uint32) UsageOption {
	return func(u *ResourceUsage) {
		u.LoadOp = gputypes.LoadOpClear
		u.Depth = depth
		u.Stencil = stencil
	}
}

// newUsage derives the access, stage and layout requirements of a purpose
// on the given queue for a resource of the given kind.
func newUsage(p Purpose, q QueueKind, kind ResourceKind, output bool, opts []UsageOption) (ResourceUsage, error) {
	if p >= purposeCount {
		return ResourceUsage{}, fmt.Errorf("%w: %v", ErrInvalidPurpose, p)
	}
	info := &purposeTable[p]
	switch {
	case info.target == targetImage && !kind.IsImage():
		return ResourceUsage{}, fmt.Errorf("%w: %s needs an image, got %s", ErrInvalidPurpose, info.name, kind)
	case info.target == targetBuffer && kind.IsImage():
		return ResourceUsage{}, fmt.Errorf("%w: %s needs a buffer, got %s", ErrInvalidPurpose, info.name, kind)
	}
	if q >= queueKindCount || info.stages[q] == StageNone {
		return ResourceUsage{}, fmt.Errorf("%w: %s is not available on the %s queue", ErrInvalidPurpose, info.name, q)
	}
	if output && !info.access.HasWrite() {
		return ResourceUsage{}, fmt.Errorf("%w: %s cannot be an output", ErrInvalidPurpose, info.name)
	}
	if !output && !p.Reads() {
		return ResourceUsage{}, fmt.Errorf("%w: %s cannot be an input", ErrInvalidPurpose, info.name)
	}

	u := ResourceUsage{
		Purpose:  p,
		Access:   info.access,
		Stages:   info.stages[q],
		LoadOp:   gputypes.LoadOpLoad,
		StoreOp:  gputypes.StoreOpStore,
		Depth:    1,
		IsOutput: output,
	}
	if kind.IsImage() {
		u.Layout = info.layout
	}
	for _, opt := range opts {
		opt(&u)
	}
	return u, nil
}
