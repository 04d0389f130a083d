package trace

import (
	"fmt"

	"github.com/gogpu/framegraph"
	"github.com/gogpu/gputypes"
)

// CommandType identifies the type of a recorded command.
type CommandType uint8

const (
	CmdCreateImage CommandType = iota
	CmdCreateBuffer
	CmdDestroyImage
	CmdDestroyBuffer
	CmdBeginBatch
	CmdBarriers
	CmdBeginRenderScope
	CmdEndRenderScope
	CmdPass
	CmdSubmit
	CmdDiscard
	CmdWaitFrame
)

var commandTypeNames = [...]string{
	CmdCreateImage:      "CreateImage",
	CmdCreateBuffer:     "CreateBuffer",
	CmdDestroyImage:     "DestroyImage",
	CmdDestroyBuffer:    "DestroyBuffer",
	CmdBeginBatch:       "BeginBatch",
	CmdBarriers:         "Barriers",
	CmdBeginRenderScope: "BeginRenderScope",
	CmdEndRenderScope:   "EndRenderScope",
	CmdPass:             "Pass",
	CmdSubmit:           "Submit",
	CmdDiscard:          "Discard",
	CmdWaitFrame:        "WaitFrame",
}

func (c CommandType) String() string {
	if int(c) < len(commandTypeNames) {
		return commandTypeNames[c]
	}
	return fmt.Sprintf("CommandType(%d)", c)
}

// Command is one recorded backend call.
type Command interface {
	Type() CommandType
}

// Resource is the handle the trace backend hands out for created images
// and buffers.
type Resource struct {
	ID        int
	Name      string
	Image     bool
	Destroyed bool
}

// CreateImageCommand records Backend.CreateImage.
type CreateImageCommand struct {
	Resource *Resource
	Desc     framegraph.ImageDesc
	Usage    gputypes.TextureUsage
}

func (CreateImageCommand) Type() CommandType { return CmdCreateImage }

// CreateBufferCommand records Backend.CreateBuffer.
type CreateBufferCommand struct {
	Resource *Resource
	Desc     framegraph.BufferDesc
	Usage    gputypes.BufferUsage
}

func (CreateBufferCommand) Type() CommandType { return CmdCreateBuffer }

// DestroyImageCommand records Backend.DestroyImage.
type DestroyImageCommand struct {
	Handle framegraph.Handle
}

func (DestroyImageCommand) Type() CommandType { return CmdDestroyImage }

// DestroyBufferCommand records Backend.DestroyBuffer.
type DestroyBufferCommand struct {
	Handle framegraph.Handle
}

func (DestroyBufferCommand) Type() CommandType { return CmdDestroyBuffer }

// BeginBatchCommand records Backend.BeginBatch.
type BeginBatchCommand struct {
	Queue framegraph.QueueKind
	Label string
}

func (BeginBatchCommand) Type() CommandType { return CmdBeginBatch }

// BarriersCommand records one batched barrier call.
type BarriersCommand struct {
	Label    string
	Barriers []framegraph.BoundBarrier
}

func (BarriersCommand) Type() CommandType { return CmdBarriers }

// BeginRenderScopeCommand records CommandRecorder.BeginRenderScope.
type BeginRenderScopeCommand struct {
	Label string
	Scope framegraph.RenderScope
}

func (BeginRenderScopeCommand) Type() CommandType { return CmdBeginRenderScope }

// EndRenderScopeCommand records CommandRecorder.EndRenderScope.
type EndRenderScopeCommand struct {
	Label string
}

func (EndRenderScopeCommand) Type() CommandType { return CmdEndRenderScope }

// PassCommand is recorded by pass callbacks through Recorder.Mark.
type PassCommand struct {
	Label string
	Pass  string
}

func (PassCommand) Type() CommandType { return CmdPass }

// SubmitCommand records Backend.Submit.
type SubmitCommand struct {
	Info framegraph.SubmitInfo
}

func (SubmitCommand) Type() CommandType { return CmdSubmit }

// DiscardCommand records CommandRecorder.Discard.
type DiscardCommand struct {
	Label string
}

func (DiscardCommand) Type() CommandType { return CmdDiscard }

// WaitFrameCommand records Backend.WaitFrame.
type WaitFrameCommand struct {
	Frame uint64
}

func (WaitFrameCommand) Type() CommandType { return CmdWaitFrame }

// String returns a one-line description of cmd.
func String(cmd Command) string {
	switch c := cmd.(type) {
	case CreateImageCommand:
		return fmt.Sprintf("CreateImage %s %dx%d", c.Resource.Name, c.Desc.Width, c.Desc.Height)
	case CreateBufferCommand:
		return fmt.Sprintf("CreateBuffer %s %d", c.Resource.Name, c.Desc.Size)
	case DestroyImageCommand:
		return "DestroyImage " + handleName(c.Handle)
	case DestroyBufferCommand:
		return "DestroyBuffer " + handleName(c.Handle)
	case BeginBatchCommand:
		return fmt.Sprintf("BeginBatch %s %s", c.Queue, c.Label)
	case BarriersCommand:
		s := fmt.Sprintf("Barriers %d", len(c.Barriers))
		for _, b := range c.Barriers {
			s += fmt.Sprintf(" [%s %s->%s]", b.Name, b.SrcAccess, b.DstAccess)
		}
		return s
	case BeginRenderScopeCommand:
		return fmt.Sprintf("BeginRenderScope %s color=%d depth=%t", c.Scope.Name, len(c.Scope.Color), c.Scope.Depth != nil)
	case PassCommand:
		return "Pass " + c.Pass
	case SubmitCommand:
		return fmt.Sprintf("Submit %s %s waits=%d signals=%d fence=%t",
			c.Info.Queue, c.Info.Label, len(c.Info.Waits), len(c.Info.Signals), c.Info.SignalFence)
	case DiscardCommand:
		return "Discard " + c.Label
	case WaitFrameCommand:
		return fmt.Sprintf("WaitFrame %d", c.Frame)
	}
	return cmd.Type().String()
}

func handleName(h framegraph.Handle) string {
	if r, ok := h.(*Resource); ok {
		return r.Name
	}
	return fmt.Sprint(h)
}
