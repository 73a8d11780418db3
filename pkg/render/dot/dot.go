// Package dot renders Graphviz DOT sources.
//
// Graph theory questions carry their diagrams as DOT rather than TikZ.
// [RenderPNG] and [RenderSVG] run the graphviz engine inside the calling
// process and cannot be interrupted once layout starts. Servers therefore
// render through [Exec], which runs a dot-compatible command (the dot binary
// or "examprep graphviz") under a wall-clock bound:
//
//	png, err := dot.Exec{Path: "dot", Timeout: 20 * time.Second}.Render(ctx, src, dot.PNG)
package dot

import (
	"bytes"
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/goccy/go-graphviz"
)

// Format is an output format accepted by -T.
type Format string

// Supported output formats.
const (
	PNG Format = "png"
	SVG Format = "svg"
)

// ParseFormat validates a -T value.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(s)); f {
	case PNG, SVG:
		return f, nil
	}
	return "", fmt.Errorf("unsupported format %q (want png or svg)", s)
}

// RenderFormat renders src in-process in the given format.
func RenderFormat(ctx context.Context, src string, f Format) ([]byte, error) {
	if f == SVG {
		return RenderSVG(ctx, src)
	}
	return RenderPNG(ctx, src)
}

// RenderPNG parses src and renders it as PNG. Resolution follows the graph's
// own dpi attribute.
func RenderPNG(ctx context.Context, src string) ([]byte, error) {
	return render(ctx, src, graphviz.PNG)
}

// RenderSVG parses src and renders it as SVG with a normalized viewBox.
func RenderSVG(ctx context.Context, src string) ([]byte, error) {
	out, err := render(ctx, src, graphviz.SVG)
	if err != nil {
		return nil, err
	}
	return normalizeViewBox(out), nil
}

// ParseError reports DOT source the engine could not read.
type ParseError struct {
	Err error
}

func (e *ParseError) Error() string { return "parse DOT: " + e.Err.Error() }
func (e *ParseError) Unwrap() error { return e.Err }

func render(ctx context.Context, src string, format graphviz.Format) ([]byte, error) {
	if strings.TrimSpace(src) == "" {
		return nil, &ParseError{Err: fmt.Errorf("empty source")}
	}

	gv, err := graphviz.New(ctx)
	if err != nil {
		return nil, fmt.Errorf("init graphviz: %w", err)
	}
	defer gv.Close()

	g, err := graphviz.ParseBytes([]byte(src))
	if err != nil {
		return nil, &ParseError{Err: err}
	}
	defer g.Close()

	var buf bytes.Buffer
	if err := gv.Render(ctx, g, format, &buf); err != nil {
		return nil, fmt.Errorf("render: %w", err)
	}
	if buf.Len() == 0 {
		return nil, fmt.Errorf("render: empty %s output", format)
	}
	return buf.Bytes(), nil
}

var (
	svgTagRe  = regexp.MustCompile(`<svg[^>]*>`)
	viewBoxRe = regexp.MustCompile(`viewBox="([0-9.]+)\s+([0-9.]+)\s+([0-9.]+)\s+([0-9.]+)"`)
)

// normalizeViewBox rewrites the root element so the image scales with its
// container instead of using graphviz's point-based width and height.
func normalizeViewBox(svg []byte) []byte {
	m := viewBoxRe.FindSubmatch(svg)
	if m == nil {
		return svg
	}
	root := fmt.Sprintf(`<svg xmlns="http://www.w3.org/2000/svg" viewBox="0 0 %s %s">`, m[3], m[4])
	return svgTagRe.ReplaceAll(svg, []byte(root))
}
