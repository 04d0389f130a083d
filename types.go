package framegraph

import (
	"fmt"
	"math/bits"
	"strings"
)

// QueueKind identifies a class of hardware queue.
type QueueKind uint8

const (
	// QueueGraphics runs render passes and anything else.
	QueueGraphics QueueKind = iota
	// QueueCompute runs compute dispatches, usually asynchronously.
	QueueCompute
	// QueueTransfer runs copies and uploads.
	QueueTransfer

	queueKindCount

	// QueueIgnored marks "no queue" in ownership fields: no ownership
	// transfer is pending or required.
	QueueIgnored QueueKind = 0xFF
)

var queueKindNames = [...]string{
	QueueGraphics: "graphics",
	QueueCompute:  "compute",
	QueueTransfer: "transfer",
}

// String returns the lowercase queue name.
func (q QueueKind) String() string {
	if q == QueueIgnored {
		return "ignored"
	}
	if int(q) < len(queueKindNames) {
		return queueKindNames[q]
	}
	return fmt.Sprintf("QueueKind(%d)", q)
}

// Bit returns the QueueBits value with only q set.
func (q QueueKind) Bit() QueueBits {
	if q >= queueKindCount {
		return 0
	}
	return 1 << q
}

// ParseQueueKind parses a queue name as produced by QueueKind.String.
func ParseQueueKind(s string) (QueueKind, error) {
	for i, name := range queueKindNames {
		if strings.EqualFold(s, name) {
			return QueueKind(i), nil
		}
	}
	return QueueIgnored, fmt.Errorf("framegraph: unknown queue kind %q", s)
}

// QueueBits is a set of queue kinds.
type QueueBits uint8

// Has reports whether q is in the set.
func (b QueueBits) Has(q QueueKind) bool { return b&q.Bit() != 0 }

// Count returns the number of queue kinds in the set.
func (b QueueBits) Count() int { return bits.OnesCount8(uint8(b)) }

// Single returns the only queue kind in the set.
// The second result is false when the set is empty or has several kinds.
func (b QueueBits) Single() (QueueKind, bool) {
	if b.Count() != 1 {
		return QueueIgnored, false
	}
	return QueueKind(bits.TrailingZeros8(uint8(b))), true
}

// String lists the queue kinds joined by '|'.
func (b QueueBits) String() string {
	if b == 0 {
		return "none"
	}
	var parts []string
	for q := QueueGraphics; q < queueKindCount; q++ {
		if b.Has(q) {
			parts = append(parts, q.String())
		}
	}
	return strings.Join(parts, "|")
}

// ResourceKind is the kind of a resource node.
type ResourceKind uint8

const (
	ResourceBuffer ResourceKind = iota
	ResourceImage
	ResourceDepth
	ResourceSwapchain
)

var resourceKindNames = [...]string{
	ResourceBuffer:    "buffer",
	ResourceImage:     "image",
	ResourceDepth:     "depth",
	ResourceSwapchain: "swapchain",
}

func (k ResourceKind) String() string {
	if int(k) < len(resourceKindNames) {
		return resourceKindNames[k]
	}
	return fmt.Sprintf("ResourceKind(%d)", k)
}

// IsImage reports whether resources of this kind carry an image layout.
func (k ResourceKind) IsImage() bool { return k != ResourceBuffer }

// AccessMask describes how memory is accessed by a usage.
type AccessMask uint32

const (
	AccessNone          AccessMask = 0
	AccessIndirectRead  AccessMask = 1 << 0
	AccessIndexRead     AccessMask = 1 << 1
	AccessVertexRead    AccessMask = 1 << 2
	AccessUniformRead   AccessMask = 1 << 3
	AccessShaderRead    AccessMask = 1 << 4
	AccessShaderWrite   AccessMask = 1 << 5
	AccessColorRead     AccessMask = 1 << 6
	AccessColorWrite    AccessMask = 1 << 7
	AccessDepthRead     AccessMask = 1 << 8
	AccessDepthWrite    AccessMask = 1 << 9
	AccessTransferRead  AccessMask = 1 << 10
	AccessTransferWrite AccessMask = 1 << 11

	accessWriteMask = AccessShaderWrite | AccessColorWrite | AccessDepthWrite | AccessTransferWrite
)

var accessNames = [...]string{
	"indirect_read", "index_read", "vertex_read", "uniform_read",
	"shader_read", "shader_write", "color_read", "color_write",
	"depth_read", "depth_write", "transfer_read", "transfer_write",
}

// HasWrite reports whether the mask contains a write-class access.
func (a AccessMask) HasWrite() bool { return a&accessWriteMask != 0 }

// HasRead reports whether the mask contains a read-class access.
func (a AccessMask) HasRead() bool { return a&^accessWriteMask != 0 }

func (a AccessMask) String() string { return maskString(uint32(a), accessNames[:]) }

// StageMask is a set of pipeline stages.
type StageMask uint32

const (
	StageNone                  StageMask = 0
	StageTopOfPipe             StageMask = 1 << 0
	StageDrawIndirect          StageMask = 1 << 1
	StageVertexInput           StageMask = 1 << 2
	StageVertexShader          StageMask = 1 << 3
	StageEarlyFragmentTests    StageMask = 1 << 4
	StageFragmentShader        StageMask = 1 << 5
	StageLateFragmentTests     StageMask = 1 << 6
	StageColorAttachmentOutput StageMask = 1 << 7
	StageComputeShader         StageMask = 1 << 8
	StageTransfer              StageMask = 1 << 9
	StageBottomOfPipe          StageMask = 1 << 10
	StageAllCommands           StageMask = 1 << 11
)

var stageNames = [...]string{
	"top_of_pipe", "draw_indirect", "vertex_input", "vertex_shader",
	"early_fragment_tests", "fragment_shader", "late_fragment_tests",
	"color_attachment_output", "compute_shader", "transfer",
	"bottom_of_pipe", "all_commands",
}

func (s StageMask) String() string { return maskString(uint32(s), stageNames[:]) }

// ParseStageMask parses a '|' separated list of stage names.
func ParseStageMask(s string) (StageMask, error) {
	v, err := parseMask(s, stageNames[:], "pipeline stage")
	return StageMask(v), err
}

// ParseAccessMask parses a '|' separated list of access names.
func ParseAccessMask(s string) (AccessMask, error) {
	v, err := parseMask(s, accessNames[:], "access")
	return AccessMask(v), err
}

// Layout is the memory layout an image is kept in for a usage.
type Layout uint8

const (
	LayoutUndefined Layout = iota
	LayoutGeneral
	LayoutColorAttachment
	LayoutDepthAttachment
	LayoutDepthReadOnly
	LayoutShaderReadOnly
	LayoutTransferSrc
	LayoutTransferDst
	LayoutPresent
)

var layoutNames = [...]string{
	LayoutUndefined:       "undefined",
	LayoutGeneral:         "general",
	LayoutColorAttachment: "color_attachment",
	LayoutDepthAttachment: "depth_attachment",
	LayoutDepthReadOnly:   "depth_read_only",
	LayoutShaderReadOnly:  "shader_read_only",
	LayoutTransferSrc:     "transfer_src",
	LayoutTransferDst:     "transfer_dst",
	LayoutPresent:         "present",
}

func (l Layout) String() string {
	if int(l) < len(layoutNames) {
		return layoutNames[l]
	}
	return fmt.Sprintf("Layout(%d)", l)
}

// ParseLayout parses a layout name as produced by Layout.String.
func ParseLayout(s string) (Layout, error) {
	for i, name := range layoutNames {
		if name == s {
			return Layout(i), nil
		}
	}
	return LayoutUndefined, fmt.Errorf("framegraph: unknown layout %q", s)
}

func maskString(v uint32, names []string) string {
	if v == 0 {
		return "none"
	}
	var parts []string
	for i, name := range names {
		if v&(1<<i) != 0 {
			parts = append(parts, name)
		}
	}
	return strings.Join(parts, "|")
}

func parseMask(s string, names []string, what string) (uint32, error) {
	var m uint32
	if s == "" || s == "none" {
		return 0, nil
	}
	for _, part := range strings.Split(s, "|") {
		part = strings.TrimSpace(part)
		bit := -1
		for i, name := range names {
			if name == part {
				bit = i
				break
			}
		}
		if bit < 0 {
			return 0, fmt.Errorf("framegraph: unknown %s %q", what, part)
		}
		m |= 1 << bit
	}
	return m, nil
}
