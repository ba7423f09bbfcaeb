// Package resolvertest builds small executables with a known inlining chain
// for tests that need real DWARF. Test binaries are linked without it.
package resolvertest

import (
	"debug/elf"
	_ "embed"
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/require"
)

//go:embed testdata/inline/main.go
var inlineSource []byte

type Frame struct {
	Function string `json:"function"`
	File     string `json:"file"`
	Line     int    `json:"line"`
}

// Inline is a freshly built copy of the inline program. Address lies in
// main.outer, inside main.leaf inlined into main.middle inlined into
// main.outer. Frames is what the Go runtime reports for that address,
// innermost first.
type Inline struct {
	Path    string  `json:"-"`
	Address uint64  `json:"address"`
	Frames  []Frame `json:"frames"`
}

// BuildInline compiles the inline program into a temporary directory, runs
// it once to learn the address and frames, and checks the result is a
// non-PIE ELF executable with debug info.
func BuildInline(t testing.TB) *Inline {
	t.Helper()
	if runtime.GOOS != "linux" {
		t.Skip("ELF only")
	}

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "go.mod"), []byte("module inline\n\ngo 1.21\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "main.go"), inlineSource, 0o644))

	out := filepath.Join(dir, "inline")
	cmd := exec.Command(goTool(t), "build", "-buildmode=exe", "-o", out, ".")
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), "CGO_ENABLED=0", "GOFLAGS=", "GOWORK=off", "GOTOOLCHAIN=local")
	output, err := cmd.CombinedOutput()
	require.NoError(t, err, "build inline program: %s", output)

	ef, err := elf.Open(out)
	require.NoError(t, err)
	defer ef.Close()
	require.Equal(t, elf.ET_EXEC, ef.Type)
	require.True(t, ef.Section(".debug_info") != nil || ef.Section(".zdebug_info") != nil, "inline program has no DWARF")

	run, err := exec.Command(out).Output()
	require.NoError(t, err)
	fx := &Inline{Path: out}
	require.NoError(t, json.Unmarshal(run, fx))
	require.Len(t, fx.Frames, 3, "unexpected inlining: %+v", fx.Frames)
	return fx
}

func goTool(t testing.TB) string {
	if p := filepath.Join(runtime.GOROOT(), "bin", "go"); fileExists(p) {
		return p
	}
	p, err := exec.LookPath("go")
	if err != nil {
		t.Skip("go tool not found")
	}
	return p
}

func fileExists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}
