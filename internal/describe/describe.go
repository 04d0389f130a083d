package describe

import (
	"errors"
	"fmt"
	"slices"

	"github.com/Masterminds/semver/v3"
	"github.com/gogpu/framegraph"
	"github.com/gogpu/gputypes"
)

// SupportedVersions is the format_version constraint accepted by the loader.
const SupportedVersions = ">= 1.0, < 2.0"

var (
	// ErrUnsupportedVersion is returned for a missing or unsupported format_version.
	ErrUnsupportedVersion = errors.New("describe: unsupported format version")

	// ErrUnknownName is returned for an unknown resource, queue, purpose,
	// format or layout name.
	ErrUnknownName = errors.New("describe: unknown name")

	// ErrDuplicate is returned when two resources or two passes share a name.
	ErrDuplicate = errors.New("describe: duplicate declaration")
)

// ResourceType is the declaration block a resource came from.
type ResourceType uint8

const (
	TypeSwapchain ResourceType = iota
	TypeBuffer
	TypeImage
	TypeImportBuffer
	TypeImportImage
)

var resourceTypeNames = [...]string{
	TypeSwapchain:    "swapchain",
	TypeBuffer:       "buffer",
	TypeImage:        "image",
	TypeImportBuffer: "import_buffer",
	TypeImportImage:  "import_image",
}

func (t ResourceType) String() string {
	if int(t) < len(resourceTypeNames) {
		return resourceTypeNames[t]
	}
	return fmt.Sprintf("ResourceType(%d)", t)
}

// Imported reports whether resources of this type are owned outside the graph.
func (t ResourceType) Imported() bool {
	return t == TypeSwapchain || t == TypeImportBuffer || t == TypeImportImage
}

// Target is the presentation target of a description.
type Target struct {
	Format gputypes.TextureFormat
	Width  uint32
	Height uint32
}

// Resource is a declared resource.
type Resource struct {
	Name            string
	Type            ResourceType
	Image           framegraph.ImageDesc
	Buffer          framegraph.BufferDesc
	Depth           bool
	Import          framegraph.ImportState
	Essential       bool
	ReleaseAfterUse bool
}

// Connection is one input or output of a pass.
type Connection struct {
	Resource string
	Purpose  framegraph.Purpose

	Load         gputypes.LoadOp
	Store        gputypes.StoreOp
	Clear        bool
	ClearColor   gputypes.Color
	ClearDepth   float32
	ClearStencil uint32
}

// options returns the usage options of the connection.
func (c Connection) options(depth bool) []framegraph.UsageOption {
	var opts []framegraph.UsageOption
	switch {
	case c.Clear && depth:
		opts = append(opts, framegraph.WithClearDepth(c.ClearDepth, c.ClearStencil))
	case c.Clear:
		opts = append(opts, framegraph.WithClearColor(c.ClearColor))
	case c.Load != gputypes.LoadOpLoad:
		opts = append(opts, framegraph.WithLoadOp(c.Load))
	}
	if c.Store != gputypes.StoreOpStore {
		opts = append(opts, framegraph.WithStoreOp(c.Store))
	}
	return opts
}

// Pass is a declared pass.
type Pass struct {
	Name      string
	Queue     framegraph.QueueKind
	Execute   bool
	WaitStage framegraph.StageMask
	Inputs    []Connection
	Outputs   []Connection
}

// Description is one frame graph read from a description file.
type Description struct {
	Name    string
	File    string
	Version *semver.Version
	Target  Target

	// State is the JSON encoding of the state attribute, nil when unset.
	State []byte

	Resources []Resource
	Passes    []Pass

	source []byte
}

// Resource returns the resource declared under name.
func (d *Description) Resource(name string) (*Resource, bool) {
	i := slices.IndexFunc(d.Resources, func(r Resource) bool { return r.Name == name })
	if i < 0 {
		return nil, false
	}
	return &d.Resources[i], true
}

// CacheKey returns the key the description is compiled under. The file
// contents are folded into the user state: any edit yields a new key.
func (d *Description) CacheKey() framegraph.CacheKey {
	state := make([]byte, 0, len(d.State)+len(d.source))
	state = append(state, d.State...)
	state = append(state, d.source...)
	return framegraph.CacheKey{
		Format:    d.Target.Format,
		Width:     d.Target.Width,
		Height:    d.Target.Height,
		UserState: state,
	}
}

// Provide supplies the backing of an imported resource by name. A nil
// provider leaves imports unbound.
type Provide func(name string) framegraph.ResourceProvider

// Build declares the description on b. Passes with execute left on get
// exec as their callback and the pass name as user data. It returns the
// first declaration error recorded by the builder.
func (d *Description) Build(b *framegraph.Builder, exec framegraph.ExecuteFunc, provide Provide) error {
	ids := make(map[string]framegraph.ResourceID, len(d.Resources))
	for i := range d.Resources {
		r := &d.Resources[i]
		var provider framegraph.ResourceProvider
		if provide != nil && r.Type.Imported() {
			provider = provide(r.Name)
		}

		var id framegraph.ResourceID
		switch r.Type {
		case TypeSwapchain:
			id = b.ImportSwapchain(r.Name, r.Image, provider)
		case TypeBuffer:
			id = b.AddTransientBuffer(r.Name, r.Buffer)
		case TypeImage:
			if r.Depth {
				id = b.AddTransientDepth(r.Name, r.Image)
			} else {
				id = b.AddTransientImage(r.Name, r.Image)
			}
		case TypeImportBuffer:
			id = b.ImportBuffer(r.Name, r.Buffer, r.Import, provider)
		case TypeImportImage:
			if r.Depth {
				id = b.ImportDepth(r.Name, r.Image, r.Import, provider)
			} else {
				id = b.ImportImage(r.Name, r.Image, r.Import, provider)
			}
		}
		if r.Essential {
			_ = b.SetEssential(id)
		}
		if r.ReleaseAfterUse {
			_ = b.SetReleaseAfterUse(id)
		}
		ids[r.Name] = id
	}

	for _, p := range d.Passes {
		_ = b.BeginPass(p.Name, p.Queue)
		for _, c := range p.Inputs {
			r, _ := d.Resource(c.Resource)
			_ = b.AddInput(ids[c.Resource], c.Purpose, c.options(r != nil && r.Depth)...)
		}
		for _, c := range p.Outputs {
			r, _ := d.Resource(c.Resource)
			_ = b.AddOutput(ids[c.Resource], c.Purpose, c.options(r != nil && r.Depth)...)
		}
		if p.Execute && exec != nil {
			_ = b.SetExecute(exec, p.Name)
		}
		if p.WaitStage != framegraph.StageNone {
			_ = b.SetWaitStage(p.WaitStage)
		}
		_ = b.EndPass()
	}
	return b.Err()
}
