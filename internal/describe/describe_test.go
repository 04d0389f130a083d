package describe

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gogpu/framegraph"
	"github.com/gogpu/gputypes"
	"github.com/google/go-cmp/cmp"
)

func loadScene(t *testing.T) *Description {
	t.Helper()
	descs, err := Load(filepath.Join("testdata", "graphs", "scene.hcl"))
	if err != nil {
		t.Fatalf("Load() = %v", err)
	}
	if len(descs) != 1 {
		t.Fatalf("Load() returned %d descriptions, want 1", len(descs))
	}
	return descs[0]
}

func TestParseScene(t *testing.T) {
	d := loadScene(t)

	if d.Name != "scene" {
		t.Errorf("Name = %q, want scene", d.Name)
	}
	if d.Version.String() != "1.0.0" {
		t.Errorf("Version = %s, want 1.0.0", d.Version)
	}
	wantTarget := Target{Format: gputypes.TextureFormatBGRA8Unorm, Width: 1280, Height: 720}
	if d.Target != wantTarget {
		t.Errorf("Target = %+v, want %+v", d.Target, wantTarget)
	}
	if got := string(d.State); got != "[1,2,3]" {
		t.Errorf("State = %s, want [1,2,3]", got)
	}

	wantResources := []Resource{
		{
			Name:  "surface",
			Type:  TypeSwapchain,
			Image: framegraph.ImageDesc{Width: 1280, Height: 720, Format: gputypes.TextureFormatBGRA8Unorm},
		},
		{
			Name:   "MeshBuffer",
			Type:   TypeBuffer,
			Buffer: framegraph.BufferDesc{Size: 65536},
		},
		{
			Name:  "ShadowMap",
			Type:  TypeImage,
			Depth: true,
			Image: framegraph.ImageDesc{
				Width: 2048, Height: 2048, Format: gputypes.TextureFormatDepth24PlusStencil8,
				MipLevels: 1, SampleCount: 1,
			},
		},
		{
			Name: "HalfRes",
			Type: TypeImage,
			Image: framegraph.ImageDesc{
				Width: 640, Height: 360, Format: gputypes.TextureFormatBGRA8Unorm,
				MipLevels: 1, SampleCount: 1,
			},
		},
	}
	if diff := cmp.Diff(wantResources, d.Resources); diff != "" {
		t.Errorf("Resources mismatch (-want +got):\n%s", diff)
	}

	load := func(c Connection) Connection {
		c.Load, c.Store, c.ClearDepth = gputypes.LoadOpLoad, gputypes.StoreOpStore, 1
		return c
	}
	wantPasses := []Pass{
		{
			Name: "UploadMeshData", Queue: framegraph.QueueTransfer, Execute: true,
			Outputs: []Connection{load(Connection{Resource: "MeshBuffer", Purpose: framegraph.PurposeTransferWrite})},
		},
		{
			Name: "ShadowPass", Queue: framegraph.QueueGraphics, Execute: true,
			Inputs: []Connection{load(Connection{Resource: "MeshBuffer", Purpose: framegraph.PurposeVertexRead})},
			Outputs: []Connection{{
				Resource: "ShadowMap", Purpose: framegraph.PurposeDepthWrite,
				Load: gputypes.LoadOpClear, Store: gputypes.StoreOpStore, Clear: true, ClearDepth: 1,
			}},
		},
		{
			Name: "ScenePass", Queue: framegraph.QueueGraphics, Execute: true,
			Inputs: []Connection{
				load(Connection{Resource: "MeshBuffer", Purpose: framegraph.PurposeVertexRead}),
				load(Connection{Resource: "ShadowMap", Purpose: framegraph.PurposeSampled}),
			},
			Outputs: []Connection{{
				Resource: "surface", Purpose: framegraph.PurposeColorWrite,
				Load: gputypes.LoadOpClear, Store: gputypes.StoreOpStore, Clear: true,
				ClearColor: gputypes.Color{A: 1}, ClearDepth: 1,
			}},
		},
	}
	if diff := cmp.Diff(wantPasses, d.Passes); diff != "" {
		t.Errorf("Passes mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadDirectory(t *testing.T) {
	descs, err := Load(filepath.Join("testdata", "graphs"), filepath.Join("testdata", "graphs", "scene.hcl"))
	if err != nil {
		t.Fatalf("Load() = %v", err)
	}
	var names []string
	for _, d := range descs {
		names = append(names, d.Name)
	}
	if diff := cmp.Diff([]string{"async", "scene"}, names); diff != "" {
		t.Errorf("loaded descriptions (-want +got):\n%s", diff)
	}

	async := descs[0]
	r, ok := async.Resource("Particles")
	if !ok {
		t.Fatal("Particles not declared")
	}
	wantImport := framegraph.ImportState{
		Access: framegraph.AccessShaderWrite,
		Stages: framegraph.StageComputeShader,
		Owner:  framegraph.QueueCompute,
		Owned:  true,
	}
	if r.Import != wantImport || !r.ReleaseAfterUse {
		t.Errorf("Particles = %+v, want import %+v released after use", r, wantImport)
	}
	if async.Passes[1].Execute {
		t.Error("Debug pass should be declared without a callback")
	}
	if got := async.Passes[2].WaitStage; got != framegraph.StageVertexInput {
		t.Errorf("Composite wait stage = %s, want vertex_input", got)
	}
}

func TestLoadMissingPath(t *testing.T) {
	if _, err := Load(filepath.Join("testdata", "missing")); err == nil {
		t.Error("Load(missing) succeeded")
	}
}

const minimal = `
format_version = %q
target {
  format = "rgba8unorm"
  width  = 16
  height = 16
}
`

func TestVersionGate(t *testing.T) {
	tests := []struct {
		version string
		ok      bool
	}{
		{"1.0", true},
		{"1.4.2", true},
		{"", false},
		{"0.9", false},
		{"2.0", false},
		{"one", false},
	}
	for _, tt := range tests {
		src := strings.Replace(minimal, "%q", `"`+tt.version+`"`, 1)
		_, err := Parse([]byte(src), "version.hcl")
		if tt.ok && err != nil {
			t.Errorf("version %q: Parse() = %v", tt.version, err)
		}
		if !tt.ok && !errors.Is(err, ErrUnsupportedVersion) {
			t.Errorf("version %q: Parse() = %v, want ErrUnsupportedVersion", tt.version, err)
		}
	}
}

func TestParseErrors(t *testing.T) {
	head := strings.Replace(minimal, "%q", `"1.0"`, 1)
	tests := []struct {
		name string
		body string
		want error
	}{
		{
			name: "unknown resource",
			body: `pass "P" {
  output "Nope" { purpose = "color_write" }
}`,
			want: ErrUnknownName,
		},
		{
			name: "unknown purpose",
			body: `buffer "B" { size = 4 }
pass "P" {
  output "B" { purpose = "teleport" }
}`,
			want: ErrUnknownName,
		},
		{
			name: "unknown queue",
			body: `pass "P" { queue = "video" }`,
			want: ErrUnknownName,
		},
		{
			name: "unknown format",
			body: `image "I" { format = "rgb565" }`,
			want: ErrUnknownName,
		},
		{
			name: "duplicate resource",
			body: `buffer "A" { size = 4 }
image "A" {}`,
			want: ErrDuplicate,
		},
		{
			name: "duplicate pass",
			body: `pass "P" {}
pass "P" {}`,
			want: ErrDuplicate,
		},
		{
			name: "bad clear",
			body: `swapchain "s" {}
pass "P" {
  output "s" {
    purpose = "color_write"
    clear   = [1, 0]
  }
}`,
		},
		{
			name: "unknown attribute",
			body: `buffer "B" {
  size  = 4
  usage = "vertex"
}`,
		},
		{
			name: "syntax",
			body: `pass "P" {`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(head+tt.body), "bad.hcl")
			if err == nil {
				t.Fatal("Parse() succeeded")
			}
			if tt.want != nil && !errors.Is(err, tt.want) {
				t.Errorf("Parse() = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestCacheKeyFollowsSource(t *testing.T) {
	head := strings.Replace(minimal, "%q", `"1.0"`, 1)
	a, err := Parse([]byte(head), "a.hcl")
	if err != nil {
		t.Fatal(err)
	}
	b, err := Parse([]byte(head), "b.hcl")
	if err != nil {
		t.Fatal(err)
	}
	c, err := Parse([]byte(head+`buffer "B" { size = 4 }`), "c.hcl")
	if err != nil {
		t.Fatal(err)
	}

	if a.CacheKey().Hash(0) != b.CacheKey().Hash(0) {
		t.Error("identical sources hash differently")
	}
	if a.CacheKey().Hash(0) == c.CacheKey().Hash(0) {
		t.Error("edited source kept its cache key")
	}
	if k := a.CacheKey(); k.Width != 16 || k.Format != gputypes.TextureFormatRGBA8Unorm {
		t.Errorf("CacheKey() = %+v", k)
	}
}

func TestBuildCompiles(t *testing.T) {
	d := loadScene(t)
	fg := framegraph.NewContext()
	b, err := fg.BeginCached(d.Name, d.CacheKey())
	if err != nil {
		t.Fatal(err)
	}

	var calls []string
	exec := func(pc *framegraph.PassContext, userData any) error {
		calls = append(calls, userData.(string))
		return nil
	}
	if err := d.Build(b, exec, nil); err != nil {
		t.Fatalf("Build() = %v", err)
	}
	plan, err := b.End()
	if err != nil {
		t.Fatalf("End() = %v", err)
	}

	var order []string
	for _, f := range plan.FinalPasses() {
		order = append(order, f.Name)
	}
	if diff := cmp.Diff([]string{"UploadMeshData", "ShadowPass", "ScenePass"}, order); diff != "" {
		t.Errorf("final passes (-want +got):\n%s", diff)
	}
	if _, ok := fg.CachedPlan(d.CacheKey()); !ok {
		t.Error("plan not cached under the description key")
	}
	if len(calls) != 0 {
		t.Errorf("callbacks ran during compilation: %v", calls)
	}
}

func TestBuildCullsPassWithoutCallback(t *testing.T) {
	descs, err := Load(filepath.Join("testdata", "graphs", "async.hcl"))
	if err != nil {
		t.Fatal(err)
	}
	fg := framegraph.NewContext()
	b, err := fg.Begin("async")
	if err != nil {
		t.Fatal(err)
	}
	nop := func(*framegraph.PassContext, any) error { return nil }
	if err := descs[0].Build(b, nop, nil); err != nil {
		t.Fatalf("Build() = %v", err)
	}
	plan, err := b.End()
	if err != nil {
		t.Fatalf("End() = %v", err)
	}
	if diff := cmp.Diff([]string{"Debug"}, plan.CulledPasses()); diff != "" {
		t.Errorf("culled passes (-want +got):\n%s", diff)
	}
}
