// Package render turns diagram sources into PNG images.
//
// # Overview
//
// The [Renderer] handles two kinds of source:
//
//   - TikZ markup, compiled by an external TeX engine and rasterized by an
//     external PDF converter ([Renderer.Render])
//   - Graphviz DOT, laid out by a dot-compatible child process through the
//     [dot] subpackage ([Renderer.RenderDOT])
//
// Both return a [Result] holding the PNG bytes and a base64 data URL.
//
// # TikZ Pipeline
//
// A TikZ render runs as a strictly sequential pipeline inside a private
// workspace directory:
//
//	Received → Assembled → Compiling → Compiled → Rasterizing → Rendered → Responded
//
// Any state may move to Failed. The workspace is removed on every path before
// Render returns, and a failure to remove it is logged without replacing the
// render's own outcome. Compilation (pdflatex) and rasterization (pdftoppm)
// are bounded by [proc.Run] timeouts. DOT layout shares CompileTimeout.
//
//	r := render.NewRenderer(render.DefaultOptions(), nil, nil, logger)
//	res, err := r.Render(ctx, `\draw (0,0) -- (1,1);`)
//
// # Errors
//
// Failures carry a code from pkg/errors:
//
//   - BAD_REQUEST: empty or blank source, or unbalanced braces with StrictMarkup
//   - COMPILATION_FAILED: non-zero exit, timeout or missing PDF
//   - RASTERIZATION_FAILED: converter failure or an image over MaxImageBytes
//   - IO_FAILURE: workspace or file system errors
//
// The failing state is available through [*StageError].
//
// # Caching
//
// Rendered images are memoized in a [cache.Cache] keyed by the hash of the
// assembled document and the DPI. A cache error never fails a render.
//
// [dot]: github.com/examprep/examprep/pkg/render/dot
package render
