package bridge

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/go-kit/log"
	"github.com/grafana/dskit/flagext"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/grafana/symbridge/pkg/heap"
	"github.com/grafana/symbridge/pkg/resolver"
	"github.com/grafana/symbridge/pkg/resolver/resolvertest"
)

type fakeResolver struct {
	frames map[uint64][]resolver.Frame
	err    error
	paths  []string
	closed bool
}

func (f *fakeResolver) Resolve(_ context.Context, path string, addr resolver.SectionedAddress) ([]resolver.Frame, error) {
	f.paths = append(f.paths, path)
	if addr.SectionIndex != resolver.UndefSection {
		return nil, fmt.Errorf("unexpected section %d", addr.SectionIndex)
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.frames[addr.Address], nil
}

func (f *fakeResolver) Close() error {
	f.closed = true
	return nil
}

func newTestBridge(t *testing.T, r resolver.Resolver, overrides ...func(*heap.Config)) *Bridge {
	t.Helper()
	var cfg heap.Config
	flagext.DefaultValues(&cfg)
	cfg.MinorHeapWords = 8 * 1024
	for _, o := range overrides {
		o(&cfg)
	}
	h, err := heap.New(log.NewNopLogger(), cfg, nil)
	require.NoError(t, err)
	return New(log.NewNopLogger(), h, r, nil)
}

func gcStress(cfg *heap.Config) { cfg.GCStress = true }

// symbolizeBoth calls both entry points and checks they agree.
func symbolizeBoth(t *testing.T, b *Bridge, path string, address uint64) (*Response, bool) {
	t.Helper()
	h := b.Heap()
	resp, ok := Decode(h, b.Symbolize(h.AllocString(path), address))

	p := h.AllocString(path)
	r := h.Enter(&p)
	boxed := h.AllocNativeint(address)
	r.Leave()
	boxedResp, boxedOK := Decode(h, b.SymbolizeBoxed(p, boxed))

	require.Equal(t, ok, boxedOK)
	require.Equal(t, resp, boxedResp)
	return resp, ok
}

// main inlining helper inlining leaf, in resolver order: inlined levels
// outermost first, the enclosing function last.
var scenarioFrames = []resolver.Frame{
	{FunctionName: "helper", FileName: "a.c", Line: 10, Column: 3, Inlined: true},
	{FunctionName: "leaf", FileName: "a.c", Line: 20, Column: 5, Inlined: true},
	{FunctionName: "main", FileName: "a.c", Line: 30, Column: 1},
}

func Test_Scenario(t *testing.T) {
	for _, tc := range []struct {
		name      string
		overrides []func(*heap.Config)
	}{
		{name: "default"},
		{name: "gc stress", overrides: []func(*heap.Config){gcStress}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			fr := &fakeResolver{frames: map[uint64][]resolver.Frame{0x1000: scenarioFrames}}
			b := newTestBridge(t, fr, tc.overrides...)

			resp, ok := symbolizeBoth(t, b, "a.out", 0x1000)
			require.True(t, ok)
			require.Equal(t, &Response{
				DemangledName: "main",
				InlinedFrames: []InlinedFrame{
					{Line: 20, Column: 5, DemangledName: "leaf", Filename: "a.c"},
					{Line: 10, Column: 3, DemangledName: "helper", Filename: "a.c"},
				},
			}, resp)
			require.Equal(t, []string{"a.out", "a.out"}, fr.paths)
		})
	}
}

func Test_Absent(t *testing.T) {
	for _, tc := range []struct {
		name     string
		resolver *fakeResolver
	}{
		{"resolution failure", &fakeResolver{err: errors.New("no debug info")}},
		{"zero frames", &fakeResolver{frames: map[uint64][]resolver.Frame{0x1000: {}}}},
		{"unknown address", &fakeResolver{}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			b := newTestBridge(t, tc.resolver)
			h := b.Heap()
			require.Equal(t, heap.None, b.Symbolize(h.AllocString("a.out"), 0x1000))

			p := h.AllocString("a.out")
			r := h.Enter(&p)
			boxed := h.AllocNativeint(0x1000)
			r.Leave()
			require.Equal(t, heap.None, b.SymbolizeBoxed(p, boxed))

			_, ok := Decode(h, heap.None)
			require.False(t, ok)
		})
	}
}

func Test_SingleFrameSharesEmptyArray(t *testing.T) {
	fr := &fakeResolver{frames: map[uint64][]resolver.Frame{
		0x10: {{FunctionName: "main", FileName: "a.c", Line: 3, Column: 1}},
	}}
	b := newTestBridge(t, fr)
	h := b.Heap()

	var arrays []heap.Value
	for i := 0; i < 3; i++ {
		v := b.Symbolize(h.AllocString("a.out"), 0x10)
		require.True(t, h.IsSome(v))
		resp := h.Field(v, 0)
		require.Equal(t, "main", h.StringVal(h.Field(resp, ResponseDemangledNameField)))
		arrays = append(arrays, h.Field(resp, ResponseInlinedFramesField))
	}
	for _, a := range arrays {
		require.Equal(t, h.EmptyArray(), a)
	}

	resp, ok := symbolizeBoth(t, b, "a.out", 0x10)
	require.True(t, ok)
	require.Equal(t, "main", resp.DemangledName)
	require.Empty(t, resp.InlinedFrames)
}

func chain(n int) []resolver.Frame {
	frames := make([]resolver.Frame, n)
	for i := range frames {
		frames[i] = resolver.Frame{
			FunctionName: fmt.Sprintf("F%d", i),
			FileName:     fmt.Sprintf("file%d.c", i%3),
			Line:         100 + i,
			Column:       i,
			Inlined:      i != n-1,
		}
	}
	return frames
}

func Test_InlinedFramesAreReversed(t *testing.T) {
	for _, n := range []int{2, 3, 10, heap.MaxYoungWosize, heap.MaxYoungWosize + 1, heap.MaxYoungWosize + 2, 600} {
		t.Run(fmt.Sprint(n), func(t *testing.T) {
			frames := chain(n)
			b := newTestBridge(t, &fakeResolver{frames: map[uint64][]resolver.Frame{0x1: frames}})

			resp, ok := symbolizeBoth(t, b, "bin", 0x1)
			require.True(t, ok)
			require.Equal(t, frames[n-1].FunctionName, resp.DemangledName)
			require.Len(t, resp.InlinedFrames, n-1)
			for i, got := range resp.InlinedFrames {
				want := frames[n-2-i]
				require.Equal(t, InlinedFrame{
					Line:          want.Line,
					Column:        want.Column,
					DemangledName: want.FunctionName,
					Filename:      want.FileName,
				}, got, "inlined frame %d", i)
			}
			require.Equal(t, min(n-1, 3), b.Filenames())
		})
	}
}

func Test_ArrayAllocationPath(t *testing.T) {
	for _, tc := range []struct {
		frames int
		path   string
	}{
		{1, blockAtom},
		{2, blockYoung},
		{heap.MaxYoungWosize + 1, blockYoung},
		{heap.MaxYoungWosize + 2, blockMajor},
	} {
		t.Run(fmt.Sprint(tc.frames), func(t *testing.T) {
			reg := prometheus.NewRegistry()
			var cfg heap.Config
			flagext.DefaultValues(&cfg)
			h, err := heap.New(log.NewNopLogger(), cfg, reg)
			require.NoError(t, err)
			b := New(log.NewNopLogger(), h, &fakeResolver{frames: map[uint64][]resolver.Frame{0x1: chain(tc.frames)}}, reg)

			require.True(t, h.IsSome(b.Symbolize(h.AllocString("bin"), 0x1)))
			require.Equal(t, 1.0, testutil.ToFloat64(b.metrics.blocks.WithLabelValues(tc.path)))
		})
	}
}

func Test_StringThresholds(t *testing.T) {
	for _, size := range []int{0, 1, heap.MaxYoungWosize*8 - 1, heap.MaxYoungWosize * 8, heap.MaxYoungWosize*8 + 1, 10000} {
		t.Run(fmt.Sprint(size), func(t *testing.T) {
			name := strings.Repeat("n", size)
			file := strings.Repeat("/", size)
			if size > 0 {
				// Opaque bytes pass through untouched.
				name = "\xff" + name[1:]
			}
			frames := []resolver.Frame{
				{FunctionName: name, FileName: file, Line: 1, Column: 2, Inlined: true},
				{FunctionName: name + "outer", FileName: file, Line: 3, Column: 4},
			}
			for _, overrides := range [][]func(*heap.Config){nil, {gcStress}} {
				b := newTestBridge(t, &fakeResolver{frames: map[uint64][]resolver.Frame{0x1: frames}}, overrides...)
				resp, ok := symbolizeBoth(t, b, strings.Repeat("p", size), 0x1)
				require.True(t, ok)
				require.Equal(t, name+"outer", resp.DemangledName)
				require.Equal(t, []InlinedFrame{{Line: 1, Column: 2, DemangledName: name, Filename: file}}, resp.InlinedFrames)
			}
		})
	}
}

func Test_ResultSurvivesCollections(t *testing.T) {
	frames := chain(heap.MaxYoungWosize + 40)
	b := newTestBridge(t, &fakeResolver{frames: map[uint64][]resolver.Frame{0x1: frames}}, gcStress)
	h := b.Heap()

	v := b.Symbolize(h.AllocString("bin"), 0x1)
	r := h.Enter(&v)
	defer r.Leave()
	before, ok := Decode(h, v)
	require.True(t, ok)

	for i := 0; i < 100; i++ {
		h.AllocString("garbage")
	}
	h.MajorCollection()
	after, ok := Decode(h, v)
	require.True(t, ok)
	require.Equal(t, before, after)
	require.Greater(t, h.Stats().MajorCollections, 1)
}

func Test_FilenamesAreInterned(t *testing.T) {
	fr := &fakeResolver{frames: map[uint64][]resolver.Frame{}}
	for addr := uint64(0); addr < 1000; addr++ {
		fr.frames[addr] = []resolver.Frame{
			{FunctionName: fmt.Sprintf("inlined%d", addr), FileName: "shared.c", Line: int(addr), Inlined: true},
			{FunctionName: "outer", FileName: "shared.c", Line: 1},
		}
	}
	b := newTestBridge(t, fr)
	h := b.Heap()

	var handles []heap.Value
	for addr := uint64(0); addr < 1000; addr++ {
		v := b.Symbolize(h.AllocString("bin"), addr)
		rec := h.Field(h.Field(h.Field(v, 0), ResponseInlinedFramesField), 0)
		handles = append(handles, h.Field(rec, InlinedFrameFilenameField))
		require.Equal(t, 1, b.Filenames())
	}
	for _, fh := range handles {
		require.Equal(t, handles[0], fh)
		require.True(t, h.IsStatic(fh))
	}
}

func Test_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	var cfg heap.Config
	flagext.DefaultValues(&cfg)
	h, err := heap.New(log.NewNopLogger(), cfg, reg)
	require.NoError(t, err)
	b := New(log.NewNopLogger(), h, &fakeResolver{frames: map[uint64][]resolver.Frame{0x1000: scenarioFrames}}, reg)

	b.Symbolize(h.AllocString("a.out"), 0x1000)
	b.Symbolize(h.AllocString("a.out"), 0x2000)
	p := h.AllocString("a.out")
	r := h.Enter(&p)
	boxed := h.AllocNativeint(0x1000)
	r.Leave()
	b.SymbolizeBoxed(p, boxed)

	require.Equal(t, 1.0, testutil.ToFloat64(b.metrics.requests.WithLabelValues(entryUnboxed, outcomeFound)))
	require.Equal(t, 1.0, testutil.ToFloat64(b.metrics.requests.WithLabelValues(entryUnboxed, outcomeEmpty)))
	require.Equal(t, 1.0, testutil.ToFloat64(b.metrics.requests.WithLabelValues(entryBoxed, outcomeFound)))
}

func Test_NewFromConfig(t *testing.T) {
	var cfg Config
	flagext.DefaultValues(&cfg)
	require.NoError(t, cfg.Validate())

	b, err := NewFromConfig(log.NewNopLogger(), cfg, prometheus.NewRegistry())
	require.NoError(t, err)
	h := b.Heap()
	require.Equal(t, heap.None, b.Symbolize(h.AllocString("/nonexistent/binary"), 0x1000))
	require.NoError(t, b.Close())

	cfg.Resolver.MaxBinaries = -1
	_, err = NewFromConfig(log.NewNopLogger(), cfg, nil)
	require.Error(t, err)
}

func Test_SymbolizeBuiltBinary(t *testing.T) {
	fx := resolvertest.BuildInline(t)
	leaf, middle := fx.Frames[0], fx.Frames[1]

	for _, tc := range []struct {
		name      string
		gcStress  bool
		maxBinary int
	}{
		{name: "default"},
		{name: "gc stress", gcStress: true},
		{name: "lru", maxBinary: 1},
	} {
		t.Run(tc.name, func(t *testing.T) {
			var cfg Config
			flagext.DefaultValues(&cfg)
			cfg.Heap.GCStress = tc.gcStress
			cfg.Resolver.MaxBinaries = tc.maxBinary

			b, err := NewFromConfig(log.NewNopLogger(), cfg, prometheus.NewRegistry())
			require.NoError(t, err)
			defer func() { require.NoError(t, b.Close()) }()

			resp, ok := symbolizeBoth(t, b, fx.Path, fx.Address)
			require.True(t, ok)
			require.Equal(t, &Response{
				DemangledName: "main.outer",
				InlinedFrames: []InlinedFrame{
					{Line: leaf.Line, DemangledName: "main.leaf", Filename: leaf.File},
					{Line: middle.Line, DemangledName: "main.middle", Filename: middle.File},
				},
			}, resp)
			// Both frames come from the same source file.
			require.Equal(t, 1, b.Filenames())

			_, ok = symbolizeBoth(t, b, fx.Path, 1)
			require.False(t, ok)
		})
	}
}

func Test_Close(t *testing.T) {
	fr := &fakeResolver{}
	b := newTestBridge(t, fr)
	require.NoError(t, b.Close())
	require.True(t, fr.closed)
}

func Test_DecodeRejectsWrongShape(t *testing.T) {
	b := newTestBridge(t, &fakeResolver{})
	h := b.Heap()
	require.Panics(t, func() { Decode(h, h.Some(h.AllocString("not a response"))) })
}
