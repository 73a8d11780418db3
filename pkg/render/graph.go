package render

import (
	"context"
	stderrors "errors"
	"strings"
	"time"

	"github.com/examprep/examprep/pkg/cache"
	"github.com/examprep/examprep/pkg/errors"
	"github.com/examprep/examprep/pkg/observability"
	"github.com/examprep/examprep/pkg/render/dot"
)

// RenderDOT renders a Graphviz DOT source to PNG. The layout runs in a child
// process bounded by CompileTimeout. It shares the image cap, cache and hooks
// of Render but needs no workspace.
func (r *Renderer) RenderDOT(ctx context.Context, src string) (*Result, error) {
	start := time.Now()
	res, err := r.renderDOT(ctx, src)
	total := time.Since(start)

	cached := res != nil && res.Cached
	observability.Render().OnRenderComplete(ctx, KindDOT, cached, total, err)

	if err != nil {
		r.Logger.Warn("dot render failed", "code", errors.GetCode(err), "duration", total, "err", errors.Detail(err))
		return nil, err
	}
	res.Stats.Total = total
	r.Logger.Info("rendered graph", "bytes", res.Stats.Bytes, "cached", res.Cached, "duration", total)
	return res, nil
}

func (r *Renderer) renderDOT(ctx context.Context, src string) (*Result, error) {
	if strings.TrimSpace(src) == "" {
		return nil, &StageError{State: StateReceived, Err: errors.New(errors.ErrCodeBadRequest, "dot is required")}
	}

	key := r.Keyer.DotKey(cache.Hash([]byte(src)), cache.RenderKeyOpts{Format: "png"})
	if png, ok := r.cacheGet(ctx, "dot", key); ok {
		return &Result{Type: "png", PNG: png, DataURL: EncodeDataURL(png), Cached: true, Stats: Stats{Bytes: len(png)}}, nil
	}

	var png []byte
	d, err := r.stage(ctx, "graphviz", func() error {
		var err error
		png, err = r.graphviz().Render(ctx, src, dot.PNG)
		return err
	})
	if err != nil {
		var pe *dot.ParseError
		if stderrors.As(err, &pe) {
			return nil, &StageError{State: StateCompiling, Err: errors.Wrap(errors.ErrCodeCompilation, pe.Err, "invalid DOT source")}
		}
		return nil, &StageError{State: StateRasterizing, Err: errors.Wrap(errors.ErrCodeRasterization, err, "graphviz failed")}
	}
	if limit := r.Options.MaxImageBytes; limit > 0 && int64(len(png)) > limit {
		return nil, &StageError{State: StateRendered, Err: errors.New(errors.ErrCodeRasterization, "rendered image is %d bytes, limit is %d", len(png), limit)}
	}

	r.cacheSet(ctx, "dot", key, png)
	return &Result{
		Type:    "png",
		PNG:     png,
		DataURL: EncodeDataURL(png),
		Stats:   Stats{Rasterize: d, Bytes: len(png)},
	}, nil
}

func (r *Renderer) graphviz() dot.Exec {
	return dot.Exec{
		Path:    r.Options.GraphvizPath,
		Args:    r.Options.GraphvizArgs,
		Timeout: r.Options.CompileTimeout,
	}
}
