package describe

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/gogpu/framegraph"
	"github.com/gogpu/gputypes"
	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"
	"github.com/zclconf/go-cty/cty/gocty"
	ctyjson "github.com/zclconf/go-cty/cty/json"
)

// header holds what must be decoded before the rest of the file can be
// evaluated.
type header struct {
	FormatVersion string      `hcl:"format_version,optional"`
	Target        targetBlock `hcl:"target,block"`
	Remain        hcl.Body    `hcl:",remain"`
}

type targetBlock struct {
	Format string `hcl:"format"`
	Width  uint32 `hcl:"width"`
	Height uint32 `hcl:"height"`
}

type graphBody struct {
	State         hcl.Expression       `hcl:"state,optional"`
	Swapchains    []*swapchainBlock    `hcl:"swapchain,block"`
	Buffers       []*bufferBlock       `hcl:"buffer,block"`
	Images        []*imageBlock        `hcl:"image,block"`
	ImportBuffers []*importBufferBlock `hcl:"import_buffer,block"`
	ImportImages  []*importImageBlock  `hcl:"import_image,block"`
	Passes        []*passBlock         `hcl:"pass,block"`
}

type swapchainBlock struct {
	Name string `hcl:"name,label"`
}

type bufferBlock struct {
	Name      string `hcl:"name,label"`
	Size      uint64 `hcl:"size"`
	Essential bool   `hcl:"essential,optional"`
}

type imageBlock struct {
	Name        string  `hcl:"name,label"`
	Width       *uint32 `hcl:"width,optional"`
	Height      *uint32 `hcl:"height,optional"`
	Format      string  `hcl:"format,optional"`
	Depth       bool    `hcl:"depth,optional"`
	MipLevels   uint32  `hcl:"mip_levels,optional"`
	SampleCount uint32  `hcl:"samples,optional"`
	Essential   bool    `hcl:"essential,optional"`
}

type importBufferBlock struct {
	Name            string `hcl:"name,label"`
	Size            uint64 `hcl:"size"`
	Queue           string `hcl:"queue,optional"`
	Access          string `hcl:"access,optional"`
	Stages          string `hcl:"stages,optional"`
	Essential       bool   `hcl:"essential,optional"`
	ReleaseAfterUse bool   `hcl:"release_after_use,optional"`
}

type importImageBlock struct {
	Name            string  `hcl:"name,label"`
	Width           *uint32 `hcl:"width,optional"`
	Height          *uint32 `hcl:"height,optional"`
	Format          string  `hcl:"format,optional"`
	Depth           bool    `hcl:"depth,optional"`
	Queue           string  `hcl:"queue,optional"`
	Access          string  `hcl:"access,optional"`
	Stages          string  `hcl:"stages,optional"`
	Layout          string  `hcl:"layout,optional"`
	Essential       bool    `hcl:"essential,optional"`
	ReleaseAfterUse bool    `hcl:"release_after_use,optional"`
}

type passBlock struct {
	Name      string       `hcl:"name,label"`
	Queue     string       `hcl:"queue,optional"`
	Execute   *bool        `hcl:"execute,optional"`
	WaitStage string       `hcl:"wait_stage,optional"`
	Inputs    []*connBlock `hcl:"input,block"`
	Outputs   []*connBlock `hcl:"output,block"`
}

type connBlock struct {
	Resource     string         `hcl:"resource,label"`
	Purpose      string         `hcl:"purpose"`
	Load         string         `hcl:"load,optional"`
	Store        string         `hcl:"store,optional"`
	Clear        hcl.Expression `hcl:"clear,optional"`
	ClearDepth   *float64       `hcl:"clear_depth,optional"`
	ClearStencil uint32         `hcl:"clear_stencil,optional"`
}

var formats = map[string]gputypes.TextureFormat{
	"r8unorm":              gputypes.TextureFormatR8Unorm,
	"rgba8unorm":           gputypes.TextureFormatRGBA8Unorm,
	"bgra8unorm":           gputypes.TextureFormatBGRA8Unorm,
	"depth24plus-stencil8": gputypes.TextureFormatDepth24PlusStencil8,
}

// FormatName returns the description name of a texture format.
func FormatName(f gputypes.TextureFormat) string {
	for name, v := range formats {
		if v == f {
			return name
		}
	}
	return fmt.Sprintf("format(%d)", f)
}

func parseFormat(s string) (gputypes.TextureFormat, error) {
	if f, ok := formats[strings.ToLower(s)]; ok {
		return f, nil
	}
	return gputypes.TextureFormatUndefined, fmt.Errorf("%w: texture format %q", ErrUnknownName, s)
}

// Load reads every description found under paths. Directories are walked
// for *.hcl files; files named directly are read whatever their extension.
func Load(paths ...string) ([]*Description, error) {
	files, err := findFiles(paths)
	if err != nil {
		return nil, err
	}
	log := framegraph.Logger()
	log.Debug("describe: discovered description files", "count", len(files))

	descs := make([]*Description, 0, len(files))
	for _, file := range files {
		src, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("failed to read description %s: %w", file, err)
		}
		d, err := Parse(src, file)
		if err != nil {
			return nil, err
		}
		log.Debug("describe: loaded description", "file", file, "resources", len(d.Resources), "passes", len(d.Passes))
		descs = append(descs, d)
	}
	return descs, nil
}

// findFiles walks paths and returns a flat list of description files.
func findFiles(paths []string) ([]string, error) {
	var files []string
	seen := make(map[string]struct{})
	add := func(p string) {
		if _, ok := seen[p]; !ok {
			seen[p] = struct{}{}
			files = append(files, p)
		}
	}

	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("error accessing path %s: %w", path, err)
		}
		if !info.IsDir() {
			add(path)
			continue
		}
		err = filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.IsDir() && filepath.Ext(p) == ".hcl" {
				add(p)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return files, nil
}

// Parse decodes one description. filename is used in diagnostics and to
// name the graph.
func Parse(src []byte, filename string) (*Description, error) {
	file, diags := hclparse.NewParser().ParseHCL(src, filename)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse description %s: %w", filename, diags)
	}

	var h header
	if diags := gohcl.DecodeBody(file.Body, nil, &h); diags.HasErrors() {
		return nil, fmt.Errorf("failed to decode description %s: %w", filename, diags)
	}
	version, err := checkVersion(h.FormatVersion)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filename, err)
	}
	format, err := parseFormat(h.Target.Format)
	if err != nil {
		return nil, fmt.Errorf("%s: target: %w", filename, err)
	}

	d := &Description{
		Name:    strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename)),
		File:    filename,
		Version: version,
		Target:  Target{Format: format, Width: h.Target.Width, Height: h.Target.Height},
		source:  src,
	}

	ctx := &hcl.EvalContext{
		Variables: map[string]cty.Value{
			"target": cty.ObjectVal(map[string]cty.Value{
				"format": cty.StringVal(h.Target.Format),
				"width":  cty.NumberUIntVal(uint64(h.Target.Width)),
				"height": cty.NumberUIntVal(uint64(h.Target.Height)),
			}),
		},
	}
	var body graphBody
	if diags := gohcl.DecodeBody(h.Remain, ctx, &body); diags.HasErrors() {
		return nil, fmt.Errorf("failed to decode description %s: %w", filename, diags)
	}

	if err := d.decode(&body, ctx); err != nil {
		return nil, fmt.Errorf("%s: %w", filename, err)
	}
	return d, nil
}

func checkVersion(s string) (*semver.Version, error) {
	if s == "" {
		return nil, fmt.Errorf("%w: format_version is required", ErrUnsupportedVersion)
	}
	v, err := semver.NewVersion(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %w", ErrUnsupportedVersion, s, err)
	}
	c, err := semver.NewConstraint(SupportedVersions)
	if err != nil {
		return nil, err
	}
	if !c.Check(v) {
		return nil, fmt.Errorf("%w: %s does not satisfy %s", ErrUnsupportedVersion, v, SupportedVersions)
	}
	return v, nil
}

func (d *Description) decode(body *graphBody, ctx *hcl.EvalContext) error {
	state, diags := body.State.Value(ctx)
	if diags.HasErrors() {
		return fmt.Errorf("state: %w", diags)
	}
	if !state.IsNull() {
		blob, err := ctyjson.Marshal(state, state.Type())
		if err != nil {
			return fmt.Errorf("state: %w", err)
		}
		d.State = blob
	}

	for _, s := range body.Swapchains {
		d.Resources = append(d.Resources, Resource{
			Name: s.Name,
			Type: TypeSwapchain,
			Image: framegraph.ImageDesc{
				Width:  d.Target.Width,
				Height: d.Target.Height,
				Format: d.Target.Format,
			},
		})
	}
	for _, b := range body.ImportBuffers {
		imp, err := importState(b.Queue, b.Access, b.Stages, "")
		if err != nil {
			return fmt.Errorf("import_buffer %q: %w", b.Name, err)
		}
		d.Resources = append(d.Resources, Resource{
			Name:            b.Name,
			Type:            TypeImportBuffer,
			Buffer:          framegraph.BufferDesc{Size: b.Size},
			Import:          imp,
			Essential:       b.Essential,
			ReleaseAfterUse: b.ReleaseAfterUse,
		})
	}
	for _, i := range body.ImportImages {
		desc, err := d.imageDesc(i.Width, i.Height, i.Format, i.Depth, 0, 0)
		if err != nil {
			return fmt.Errorf("import_image %q: %w", i.Name, err)
		}
		imp, err := importState(i.Queue, i.Access, i.Stages, i.Layout)
		if err != nil {
			return fmt.Errorf("import_image %q: %w", i.Name, err)
		}
		d.Resources = append(d.Resources, Resource{
			Name:            i.Name,
			Type:            TypeImportImage,
			Image:           desc,
			Depth:           i.Depth,
			Import:          imp,
			Essential:       i.Essential,
			ReleaseAfterUse: i.ReleaseAfterUse,
		})
	}
	for _, b := range body.Buffers {
		d.Resources = append(d.Resources, Resource{
			Name:      b.Name,
			Type:      TypeBuffer,
			Buffer:    framegraph.BufferDesc{Size: b.Size},
			Essential: b.Essential,
		})
	}
	for _, i := range body.Images {
		desc, err := d.imageDesc(i.Width, i.Height, i.Format, i.Depth, i.MipLevels, i.SampleCount)
		if err != nil {
			return fmt.Errorf("image %q: %w", i.Name, err)
		}
		d.Resources = append(d.Resources, Resource{
			Name:      i.Name,
			Type:      TypeImage,
			Image:     desc,
			Depth:     i.Depth,
			Essential: i.Essential,
		})
	}

	seen := make(map[string]struct{}, len(d.Resources))
	for _, r := range d.Resources {
		if _, dup := seen[r.Name]; dup {
			return fmt.Errorf("%w: resource %q", ErrDuplicate, r.Name)
		}
		seen[r.Name] = struct{}{}
	}

	passes := make(map[string]struct{}, len(body.Passes))
	for _, pb := range body.Passes {
		if _, dup := passes[pb.Name]; dup {
			return fmt.Errorf("%w: pass %q", ErrDuplicate, pb.Name)
		}
		passes[pb.Name] = struct{}{}
		p, err := d.pass(pb, ctx)
		if err != nil {
			return fmt.Errorf("pass %q: %w", pb.Name, err)
		}
		d.Passes = append(d.Passes, p)
	}
	return nil
}

// imageDesc fills in what an image block leaves out from the target.
func (d *Description) imageDesc(width, height *uint32, format string, depth bool, mips, samples uint32) (framegraph.ImageDesc, error) {
	desc := framegraph.ImageDesc{
		Width:       d.Target.Width,
		Height:      d.Target.Height,
		Format:      d.Target.Format,
		MipLevels:   max(mips, 1),
		SampleCount: max(samples, 1),
	}
	if width != nil {
		desc.Width = *width
	}
	if height != nil {
		desc.Height = *height
	}
	switch {
	case format != "":
		f, err := parseFormat(format)
		if err != nil {
			return desc, err
		}
		desc.Format = f
	case depth:
		desc.Format = gputypes.TextureFormatDepth24PlusStencil8
	}
	return desc, nil
}

func importState(queue, access, stages, layout string) (framegraph.ImportState, error) {
	st := framegraph.ImportState{Owner: framegraph.QueueIgnored}
	var err error
	if queue != "" {
		if st.Owner, err = framegraph.ParseQueueKind(queue); err != nil {
			return st, fmt.Errorf("%w: %w", ErrUnknownName, err)
		}
		st.Owned = true
	}
	if st.Access, err = framegraph.ParseAccessMask(access); err != nil {
		return st, fmt.Errorf("%w: %w", ErrUnknownName, err)
	}
	if st.Stages, err = framegraph.ParseStageMask(stages); err != nil {
		return st, fmt.Errorf("%w: %w", ErrUnknownName, err)
	}
	if layout != "" {
		if st.Layout, err = framegraph.ParseLayout(layout); err != nil {
			return st, fmt.Errorf("%w: %w", ErrUnknownName, err)
		}
	}
	return st, nil
}

func (d *Description) pass(pb *passBlock, ctx *hcl.EvalContext) (Pass, error) {
	p := Pass{Name: pb.Name, Queue: framegraph.QueueGraphics, Execute: true}
	var err error
	if pb.Queue != "" {
		if p.Queue, err = framegraph.ParseQueueKind(pb.Queue); err != nil {
			return p, fmt.Errorf("%w: %w", ErrUnknownName, err)
		}
	}
	if pb.Execute != nil {
		p.Execute = *pb.Execute
	}
	if p.WaitStage, err = framegraph.ParseStageMask(pb.WaitStage); err != nil {
		return p, fmt.Errorf("%w: %w", ErrUnknownName, err)
	}
	for _, cb := range pb.Inputs {
		c, err := d.connection(cb, ctx)
		if err != nil {
			return p, fmt.Errorf("input %q: %w", cb.Resource, err)
		}
		p.Inputs = append(p.Inputs, c)
	}
	for _, cb := range pb.Outputs {
		c, err := d.connection(cb, ctx)
		if err != nil {
			return p, fmt.Errorf("output %q: %w", cb.Resource, err)
		}
		p.Outputs = append(p.Outputs, c)
	}
	return p, nil
}

func (d *Description) connection(cb *connBlock, ctx *hcl.EvalContext) (Connection, error) {
	c := Connection{
		Resource:   cb.Resource,
		Load:       gputypes.LoadOpLoad,
		Store:      gputypes.StoreOpStore,
		ClearDepth: 1,
	}
	if _, ok := d.Resource(cb.Resource); !ok {
		return c, fmt.Errorf("%w: resource %q", ErrUnknownName, cb.Resource)
	}
	var err error
	if c.Purpose, err = framegraph.ParsePurpose(cb.Purpose); err != nil {
		return c, fmt.Errorf("%w: %w", ErrUnknownName, err)
	}

	switch cb.Load {
	case "", "load":
	case "clear":
		c.Clear = true
	default:
		return c, fmt.Errorf("%w: load op %q", ErrUnknownName, cb.Load)
	}
	switch cb.Store {
	case "", "store":
	case "discard":
		c.Store = gputypes.StoreOpDiscard
	default:
		return c, fmt.Errorf("%w: store op %q", ErrUnknownName, cb.Store)
	}

	if cb.Clear != nil {
		color, err := clearColor(cb.Clear, ctx)
		if err != nil {
			return c, err
		}
		if color != nil {
			c.Clear = true
			c.ClearColor = *color
		}
	}
	if cb.ClearDepth != nil {
		c.Clear = true
		c.ClearDepth = float32(*cb.ClearDepth)
		c.ClearStencil = cb.ClearStencil
	}
	if c.Clear {
		c.Load = gputypes.LoadOpClear
	}
	return c, nil
}

// clearColor evaluates a clear attribute: null or a list of four numbers.
func clearColor(expr hcl.Expression, ctx *hcl.EvalContext) (*gputypes.Color, error) {
	val, diags := expr.Value(ctx)
	if diags.HasErrors() {
		return nil, fmt.Errorf("clear: %w", diags)
	}
	if val.IsNull() {
		return nil, nil
	}
	list, err := convert.Convert(val, cty.List(cty.Number))
	if err != nil {
		return nil, fmt.Errorf("clear: %w", err)
	}
	var rgba []float64
	if err := gocty.FromCtyValue(list, &rgba); err != nil {
		return nil, fmt.Errorf("clear: %w", err)
	}
	if len(rgba) != 4 {
		return nil, fmt.Errorf("clear: want 4 components, got %d", len(rgba))
	}
	return &gputypes.Color{R: rgba[0], G: rgba[1], B: rgba[2], A: rgba[3]}, nil
}
