package render

import (
	"context"
	"encoding/base64"
	stderrors "errors"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/log"

	"github.com/examprep/examprep/pkg/cache"
	"github.com/examprep/examprep/pkg/errors"
	"github.com/examprep/examprep/pkg/proc"
	"github.com/examprep/examprep/pkg/workspace"
)

const fakePNG = "\x89PNG\r\n\x1a\nfake"

// Fake tools. The compiler writes diagram.pdf into -output-directory, the
// converter writes <last arg>.png.
const (
	okCompiler = `#!/bin/sh
for a in "$@"; do
  case "$a" in -output-directory=*) out="${a#-output-directory=}";; esac
done
printf '%%PDF-1.4 fake' > "$out/diagram.pdf"
`
	brokenCompiler = `#!/bin/sh
echo "This is pdfTeX, Version 3.14"
echo "! Undefined control sequence."
printf '%s\n' 'l.7 \drwa'
exit 1
`
	silentCompiler = `#!/bin/sh
exit 0
`
	slowTool = `#!/bin/sh
sleep 10
`
	okConverter = `#!/bin/sh
for a in "$@"; do last="$a"; done
printf '\211PNG\r\n\032\nfake' > "$last.png"
`
	brokenConverter = `#!/bin/sh
echo "Syntax Error: Couldn't read xref table" >&2
exit 99
`
	hugeConverter = `#!/bin/sh
for a in "$@"; do last="$a"; done
head -c 4096 /dev/zero > "$last.png"
`
)

func requireShell(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("requires a POSIX shell")
	}
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
}

func writeTool(t *testing.T, name, script string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

type fixture struct {
	renderer *Renderer
	root     string
}

func newFixture(t *testing.T, compiler, converter string, tweak func(*Options)) fixture {
	t.Helper()
	requireShell(t)

	opts := Options{
		CompilerPath:     writeTool(t, "pdflatex", compiler),
		ConverterPath:    writeTool(t, "pdftoppm", converter),
		CompileTimeout:   5 * time.Second,
		RasterizeTimeout: 5 * time.Second,
	}
	if tweak != nil {
		tweak(&opts)
	}
	root := t.TempDir()
	logger := log.New(os.Stderr)
	logger.SetLevel(log.ErrorLevel)
	r := NewRenderer(opts, workspace.NewManager(root, logger), nil, logger)
	return fixture{renderer: r, root: root}
}

// assertNoWorkspaces fails when any workspace directory survived the render.
func (f fixture) assertNoWorkspaces(t *testing.T) {
	t.Helper()
	entries, err := os.ReadDir(f.root)
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		t.Errorf("workspace left behind: %s", e.Name())
	}
}

func TestRenderSuccess(t *testing.T) {
	f := newFixture(t, okCompiler, okConverter, nil)

	res, err := f.renderer.Render(context.Background(), `\draw (0,0) -- (1,1);`)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if res.Type != "png" {
		t.Errorf("Type = %q, want png", res.Type)
	}
	if string(res.PNG) != fakePNG {
		t.Errorf("PNG = %q", res.PNG)
	}

	const prefix = "data:image/png;base64,"
	if !strings.HasPrefix(res.DataURL, prefix) {
		t.Fatalf("DataURL = %q", res.DataURL)
	}
	decoded, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(res.DataURL, prefix))
	if err != nil {
		t.Fatalf("decode data URL: %v", err)
	}
	if string(decoded) != fakePNG {
		t.Errorf("decoded data URL = %q", decoded)
	}
	if res.Cached {
		t.Error("first render should not be cached")
	}
	if res.Stats.Bytes != len(fakePNG) || res.Stats.Total <= 0 {
		t.Errorf("Stats = %+v", res.Stats)
	}
	f.assertNoWorkspaces(t)
}

func TestRenderEmptyMarkup(t *testing.T) {
	f := newFixture(t, okCompiler, okConverter, nil)

	_, err := f.renderer.Render(context.Background(), "")
	if !errors.Is(err, errors.ErrCodeBadRequest) {
		t.Fatalf("err = %v, want BAD_REQUEST", err)
	}
	if got := errors.Detail(err); got != "tikzCode is required" {
		t.Errorf("Detail = %q", got)
	}
	if stateOf(err) != StateReceived {
		t.Errorf("state = %v, want received", stateOf(err))
	}
}

func TestRenderStrictMarkup(t *testing.T) {
	f := newFixture(t, okCompiler, okConverter, func(o *Options) { o.StrictMarkup = true })

	_, err := f.renderer.Render(context.Background(), `\node {unclosed;`)
	if !errors.Is(err, errors.ErrCodeBadRequest) {
		t.Fatalf("err = %v, want BAD_REQUEST", err)
	}
	f.assertNoWorkspaces(t)
}

func TestRenderCompilationFailure(t *testing.T) {
	f := newFixture(t, brokenCompiler, okConverter, nil)

	_, err := f.renderer.Render(context.Background(), `\drwa (0,0);`)
	if !errors.Is(err, errors.ErrCodeCompilation) {
		t.Fatalf("err = %v, want COMPILATION_FAILED", err)
	}
	detail := errors.Detail(err)
	if !strings.Contains(detail, "Undefined control sequence") || !strings.Contains(detail, `l.7 \drwa`) {
		t.Errorf("Detail should carry the compiler diagnostics, got %q", detail)
	}
	if strings.Contains(detail, "pdfTeX, Version") {
		t.Errorf("Detail should not include the banner, got %q", detail)
	}
	if stateOf(err) != StateCompiling {
		t.Errorf("state = %v, want compiling", stateOf(err))
	}
	f.assertNoWorkspaces(t)
}

func TestRenderCompilerWithoutOutput(t *testing.T) {
	f := newFixture(t, silentCompiler, okConverter, nil)

	_, err := f.renderer.Render(context.Background(), `\draw (0,0);`)
	if !errors.Is(err, errors.ErrCodeCompilation) {
		t.Fatalf("err = %v, want COMPILATION_FAILED", err)
	}
	f.assertNoWorkspaces(t)
}

func TestRenderCompileTimeout(t *testing.T) {
	f := newFixture(t, slowTool, okConverter, func(o *Options) { o.CompileTimeout = 200 * time.Millisecond })

	start := time.Now()
	_, err := f.renderer.Render(context.Background(), `\draw (0,0);`)
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("Render took %v, timeout not enforced", elapsed)
	}
	if !errors.Is(err, errors.ErrCodeCompilation) {
		t.Fatalf("err = %v, want COMPILATION_FAILED", err)
	}
	var pe *proc.Error
	if !stderrors.As(err, &pe) || !pe.TimedOut() {
		t.Errorf("err should wrap a timed out process, got %v", err)
	}
	f.assertNoWorkspaces(t)
}

func TestRenderRasterizationFailure(t *testing.T) {
	f := newFixture(t, okCompiler, brokenConverter, nil)

	_, err := f.renderer.Render(context.Background(), `\draw (0,0);`)
	if !errors.Is(err, errors.ErrCodeRasterization) {
		t.Fatalf("err = %v, want RASTERIZATION_FAILED", err)
	}
	if detail := errors.Detail(err); !strings.Contains(detail, "xref table") {
		t.Errorf("Detail should carry converter stderr, got %q", detail)
	}
	if stateOf(err) != StateRasterizing {
		t.Errorf("state = %v, want rasterizing", stateOf(err))
	}
	f.assertNoWorkspaces(t)
}

func TestRenderImageTooLarge(t *testing.T) {
	f := newFixture(t, okCompiler, hugeConverter, func(o *Options) { o.MaxImageBytes = 1024 })

	_, err := f.renderer.Render(context.Background(), `\draw (0,0);`)
	if !errors.Is(err, errors.ErrCodeRasterization) {
		t.Fatalf("err = %v, want RASTERIZATION_FAILED", err)
	}
	if !strings.Contains(errors.Detail(err), "limit is 1024") {
		t.Errorf("Detail = %q", errors.Detail(err))
	}
	f.assertNoWorkspaces(t)
}

func TestRenderUsesCache(t *testing.T) {
	f := newFixture(t, okCompiler, okConverter, nil)
	c, err := cache.NewFileCache(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	f.renderer.Cache = c

	ctx := context.Background()
	markup := `\draw (0,0) circle (1);`
	if _, err := f.renderer.Render(ctx, markup); err != nil {
		t.Fatalf("first Render: %v", err)
	}

	// Break the compiler; a cache hit must not invoke it.
	f.renderer.Options.CompilerPath = filepath.Join(t.TempDir(), "missing")
	res, err := f.renderer.Render(ctx, markup)
	if err != nil {
		t.Fatalf("cached Render: %v", err)
	}
	if !res.Cached || string(res.PNG) != fakePNG {
		t.Errorf("res = %+v, want cached fake PNG", res)
	}

	// A different DPI is a different image.
	f.renderer.Options.DPI = 72
	if _, err := f.renderer.Render(ctx, markup); err == nil {
		t.Error("render at a new DPI should miss the cache")
	}
}

// keyRecorder is a cache that remembers the keys it was asked to store.
type keyRecorder struct {
	cache.NullCache
	keys []string
}

func (k *keyRecorder) Set(_ context.Context, key string, _ []byte, _ time.Duration) error {
	k.keys = append(k.keys, key)
	return nil
}

func TestRenderCachePrefix(t *testing.T) {
	rec := &keyRecorder{}
	f := newFixture(t, okCompiler, okConverter, func(o *Options) { o.CachePrefix = "tenant-a:" })
	f.renderer.Cache = rec

	if _, err := f.renderer.Render(context.Background(), `\draw (0,0) -- (1,0);`); err != nil {
		t.Fatalf("Render: %v", err)
	}
	if len(rec.keys) != 1 || !strings.HasPrefix(rec.keys[0], "tenant-a:") {
		t.Errorf("cached keys = %q, want one key prefixed tenant-a:", rec.keys)
	}
}

func TestRenderConcurrentRequestsAreIsolated(t *testing.T) {
	f := newFixture(t, okCompiler, okConverter, nil)

	const n = 8
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		go func(i int) {
			_, err := f.renderer.Render(context.Background(), `\node {`+strings.Repeat("x", i+1)+`};`)
			errs <- err
		}(i)
	}
	for i := 0; i < n; i++ {
		if err := <-errs; err != nil {
			t.Errorf("Render: %v", err)
		}
	}
	f.assertNoWorkspaces(t)
}

func TestStateString(t *testing.T) {
	tests := map[State]string{
		StateReceived:    "received",
		StateCompiling:   "compiling",
		StateRasterizing: "rasterizing",
		StateFailed:      "failed",
		State(42):        "State(42)",
	}
	for s, want := range tests {
		if got := s.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", int(s), got, want)
		}
	}
}

func TestEncodeDataURL(t *testing.T) {
	if got := EncodeDataURL([]byte("hi")); got != "data:image/png;base64,aGk=" {
		t.Errorf("EncodeDataURL = %q", got)
	}
}

const (
	okDot = `#!/bin/sh
[ "$*" = "graphviz -Tpng" ] || { echo "unexpected args: $*" >&2; exit 2; }
src=$(cat)
case "$src" in *broken*) echo "Error: <stdin>: syntax error in line 1 near 'broken'" >&2; exit 1;; esac
printf '\211PNG\r\n\032\nfake'
`
	emptyDot = `#!/bin/sh
cat > /dev/null
`
)

func newDOTRenderer(t *testing.T, script string, tweak func(*Options)) *Renderer {
	t.Helper()
	requireShell(t)
	logger := log.New(os.Stderr)
	logger.SetLevel(log.ErrorLevel)
	c, err := cache.NewFileCache(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	opts := Options{
		GraphvizPath:   writeTool(t, "dot", script),
		GraphvizArgs:   []string{"graphviz"},
		CompileTimeout: 5 * time.Second,
	}
	if tweak != nil {
		tweak(&opts)
	}
	return NewRenderer(opts, workspace.NewManager(t.TempDir(), logger), c, logger)
}

func TestRenderDOT(t *testing.T) {
	r := newDOTRenderer(t, okDot, nil)
	ctx := context.Background()

	res, err := r.RenderDOT(ctx, `digraph { a -> b }`)
	if err != nil {
		t.Fatalf("RenderDOT: %v", err)
	}
	if string(res.PNG) != fakePNG || !strings.HasPrefix(res.DataURL, "data:image/png;base64,") {
		t.Errorf("unexpected result %q", res.PNG)
	}

	again, err := r.RenderDOT(ctx, `digraph { a -> b }`)
	if err != nil || !again.Cached {
		t.Errorf("second RenderDOT cached=%v err=%v, want cache hit", again != nil && again.Cached, err)
	}

	if _, err := r.RenderDOT(ctx, "  "); !errors.Is(err, errors.ErrCodeBadRequest) {
		t.Errorf("empty source err = %v, want BAD_REQUEST", err)
	}

	r.Options.MaxImageBytes = 8
	if _, err := r.RenderDOT(ctx, `digraph { c -> d }`); !errors.Is(err, errors.ErrCodeRasterization) {
		t.Errorf("oversized image err = %v, want RASTERIZATION_FAILED", err)
	}
}

func TestRenderDOTFailures(t *testing.T) {
	tests := []struct {
		name   string
		script string
		src    string
		code   errors.Code
		detail string
	}{
		{"syntax error", okDot, "digraph { broken", errors.ErrCodeCompilation, "syntax error in line 1"},
		{"no output", emptyDot, "digraph { a }", errors.ErrCodeRasterization, "empty png output"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newDOTRenderer(t, tt.script, nil)
			_, err := r.RenderDOT(context.Background(), tt.src)
			if !errors.Is(err, tt.code) {
				t.Fatalf("err = %v, want %s", err, tt.code)
			}
			if detail := errors.Detail(err); !strings.Contains(detail, tt.detail) {
				t.Errorf("Detail = %q, want it to mention %q", detail, tt.detail)
			}
		})
	}
}

func TestRenderDOTTimeout(t *testing.T) {
	r := newDOTRenderer(t, slowTool, func(o *Options) { o.CompileTimeout = 200 * time.Millisecond })

	start := time.Now()
	_, err := r.RenderDOT(context.Background(), `digraph { a -> b }`)
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("RenderDOT took %v, timeout not enforced", elapsed)
	}
	if !errors.Is(err, errors.ErrCodeRasterization) {
		t.Fatalf("err = %v, want RASTERIZATION_FAILED", err)
	}
	var pe *proc.Error
	if !stderrors.As(err, &pe) || !pe.TimedOut() {
		t.Errorf("err should wrap a timed out process, got %v", err)
	}
}
