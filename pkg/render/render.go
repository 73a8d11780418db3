package render

import (
	"context"
	stderrors "errors"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/examprep/examprep/pkg/cache"
	"github.com/examprep/examprep/pkg/errors"
	"github.com/examprep/examprep/pkg/observability"
	"github.com/examprep/examprep/pkg/tex"
	"github.com/examprep/examprep/pkg/workspace"
)

// Fixed file names inside a workspace.
const (
	sourceFile   = "diagram.tex"
	compiledFile = "diagram.pdf"
	imageStem    = "diagram"
	imageFile    = "diagram.png"
)

// Result kinds reported to hooks.
const (
	KindTikZ = "tikz"
	KindDOT  = "dot"
)

// Options configures a Renderer.
type Options struct {
	CompilerPath     string        // pdflatex executable
	ConverterPath    string        // pdftoppm executable
	GraphvizPath     string        // dot-compatible executable for DOT sources
	GraphvizArgs     []string      // arguments placed before -Tpng
	CompileTimeout   time.Duration // wall-clock bound for the compiler
	RasterizeTimeout time.Duration // wall-clock bound for the converter
	DPI              int           // raster resolution
	MaxImageBytes    int64         // reject larger images; zero disables the cap
	StrictMarkup     bool          // reject unbalanced braces before compiling
	CacheTTL         time.Duration // lifetime of cached PNGs
	CachePrefix      string        // prepended to every cache key
}

// DefaultOptions returns the reference deployment settings.
func DefaultOptions() Options {
	return Options{
		CompilerPath:     "pdflatex",
		ConverterPath:    "pdftoppm",
		GraphvizPath:     "dot",
		CompileTimeout:   20 * time.Second,
		RasterizeTimeout: 20 * time.Second,
		DPI:              300,
		MaxImageBytes:    5 << 20,
		CacheTTL:         cache.TTLRender,
	}
}

// setDefaults fills zero fields from DefaultOptions.
func (o *Options) setDefaults() {
	d := DefaultOptions()
	if o.CompilerPath == "" {
		o.CompilerPath = d.CompilerPath
	}
	if o.ConverterPath == "" {
		o.ConverterPath = d.ConverterPath
	}
	if o.GraphvizPath == "" {
		o.GraphvizPath = d.GraphvizPath
	}
	if o.CompileTimeout <= 0 {
		o.CompileTimeout = d.CompileTimeout
	}
	if o.RasterizeTimeout <= 0 {
		o.RasterizeTimeout = d.RasterizeTimeout
	}
	if o.DPI <= 0 {
		o.DPI = d.DPI
	}
	if o.CacheTTL <= 0 {
		o.CacheTTL = d.CacheTTL
	}
}

// Renderer executes renders. It holds no per-request state; one Renderer is
// shared by all concurrent requests.
type Renderer struct {
	Options    Options
	Workspaces *workspace.Manager
	Cache      cache.Cache
	Keyer      cache.Keyer
	Logger     *log.Logger
}

// NewRenderer creates a renderer. A nil workspace manager uses the system
// temp directory, a nil cache disables caching and a nil logger uses
// log.Default().
func NewRenderer(opts Options, ws *workspace.Manager, c cache.Cache, logger *log.Logger) *Renderer {
	opts.setDefaults()
	if logger == nil {
		logger = log.Default()
	}
	if ws == nil {
		ws = workspace.NewManager("", logger)
	}
	if c == nil {
		c = cache.NewNullCache()
	}
	keyer := cache.NewDefaultKeyer()
	if opts.CachePrefix != "" {
		keyer = cache.NewScopedKeyer(keyer, opts.CachePrefix)
	}
	return &Renderer{
		Options:    opts,
		Workspaces: ws,
		Cache:      c,
		Keyer:      keyer,
		Logger:     logger,
	}
}

// Result is a successfully rendered image.
type Result struct {
	Type    string // always "png"
	PNG     []byte
	DataURL string
	Cached  bool
	Stats   Stats
}

// Stats records timings of a render.
type Stats struct {
	Compile   time.Duration
	Rasterize time.Duration
	Total     time.Duration
	Bytes     int
}

// Render assembles markup into a document, compiles it, rasterizes the
// first page and returns it as a PNG data URL.
func (r *Renderer) Render(ctx context.Context, markup string) (*Result, error) {
	start := time.Now()
	res, err := r.render(ctx, markup)
	total := time.Since(start)

	cached := res != nil && res.Cached
	observability.Render().OnRenderComplete(ctx, KindTikZ, cached, total, err)

	if err != nil {
		r.Logger.Warn("render failed", "state", stateOf(err), "code", errors.GetCode(err), "duration", total, "err", errors.Detail(err))
		return nil, err
	}
	res.Stats.Total = total
	r.Logger.Info("rendered diagram", "bytes", res.Stats.Bytes, "cached", res.Cached, "duration", total)
	return res, nil
}

func (r *Renderer) render(ctx context.Context, markup string) (*Result, error) {
	if strings.TrimSpace(markup) == "" {
		return nil, &StageError{State: StateReceived, Err: errors.New(errors.ErrCodeBadRequest, "tikzCode is required")}
	}
	if r.Options.StrictMarkup {
		if err := tex.CheckBraces(markup); err != nil {
			return nil, &StageError{State: StateReceived, Err: errors.Wrap(errors.ErrCodeBadRequest, err, "invalid markup")}
		}
	}

	doc := tex.Assemble(markup)
	r.Logger.Debug("assembled document", "state", StateAssembled, "wrapped", !tex.IsDocument(markup), "bytes", len(doc))

	key := r.Keyer.RenderKey(cache.Hash([]byte(doc)), cache.RenderKeyOpts{Format: "png", DPI: r.Options.DPI})
	if png, ok := r.cacheGet(ctx, "render", key); ok {
		return &Result{Type: "png", PNG: png, DataURL: EncodeDataURL(png), Cached: true, Stats: Stats{Bytes: len(png)}}, nil
	}

	var res *Result
	err := r.Workspaces.With(ctx, func(ws *workspace.Workspace) error {
		var err error
		res, err = r.runStages(ctx, ws, doc)
		return err
	})
	if err != nil {
		var se *StageError
		if !stderrors.As(err, &se) {
			// Workspace acquisition failed before any stage ran.
			err = &StageError{State: StateAssembled, Err: errors.Wrap(errors.ErrCodeIO, err, "create workspace")}
		}
		return nil, err
	}

	r.cacheSet(ctx, "render", key, res.PNG)
	return res, nil
}

// runStages drives the state machine inside an acquired workspace.
func (r *Renderer) runStages(ctx context.Context, ws *workspace.Workspace, doc string) (*Result, error) {
	var stats Stats

	d, err := r.stage(ctx, "compile", func() error { return r.compile(ctx, ws, doc) })
	stats.Compile = d
	if err != nil {
		return nil, &StageError{State: StateCompiling, Err: err}
	}
	r.Logger.Debug("compiled document", "state", StateCompiled, "duration", d)

	d, err = r.stage(ctx, "rasterize", func() error { return r.rasterize(ctx, ws) })
	stats.Rasterize = d
	if err != nil {
		return nil, &StageError{State: StateRasterizing, Err: err}
	}
	r.Logger.Debug("rasterized page", "state", StateRendered, "duration", d)

	var png []byte
	_, err = r.stage(ctx, "encode", func() error {
		var err error
		png, err = r.readImage(ws.Path(imageFile))
		return err
	})
	if err != nil {
		return nil, &StageError{State: StateRendered, Err: err}
	}

	stats.Bytes = len(png)
	return &Result{Type: "png", PNG: png, DataURL: EncodeDataURL(png), Stats: stats}, nil
}

// stage times fn and reports it to the render hooks.
func (r *Renderer) stage(ctx context.Context, name string, fn func() error) (time.Duration, error) {
	hooks := observability.Render()
	hooks.OnStageStart(ctx, name)
	start := time.Now()
	err := fn()
	d := time.Since(start)
	hooks.OnStageComplete(ctx, name, d, err)
	return d, err
}

func (r *Renderer) cacheGet(ctx context.Context, kind, key string) ([]byte, bool) {
	data, ok, err := r.Cache.Get(ctx, key)
	if err != nil {
		r.Logger.Warn("cache read failed", "kind", kind, "err", err)
		return nil, false
	}
	if !ok {
		observability.Cache().OnCacheMiss(ctx, kind)
		return nil, false
	}
	observability.Cache().OnCacheHit(ctx, kind)
	return data, true
}

func (r *Renderer) cacheSet(ctx context.Context, kind, key string, data []byte) {
	if err := r.Cache.Set(ctx, key, data, r.Options.CacheTTL); err != nil {
		r.Logger.Warn("cache write failed", "kind", kind, "err", err)
		return
	}
	observability.Cache().OnCacheSet(ctx, kind, len(data))
}
