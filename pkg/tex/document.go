// Package tex assembles TikZ markup into compilable LaTeX documents.
//
// Markup that already declares a document class is used verbatim. Anything
// else is treated as the body of a standalone TikZ figure and wrapped in a
// fixed preamble: standalone class, xcolor, tikz, pgfplots with a pinned
// compat level, an empty page style and no page colour, so the rasterized
// PNG keeps a transparent background.
package tex

import (
	"strings"
)

// Marker identifies markup that is already a complete document.
const Marker = `\documentclass`

// pictureBegin opens the environment that bare drawing commands need.
const pictureBegin = `\begin{tikzpicture}`

// Preamble is emitted once at the top of every wrapped document.
const Preamble = `\documentclass[border=2pt]{standalone}
\usepackage{xcolor}
\usepackage{tikz}
\usepackage{pgfplots}
\pgfplotsset{compat=1.18}
\pagestyle{empty}
\nopagecolor
`

const (
	docBegin = `\begin{document}`
	docEnd   = `\end{document}`
)

// IsDocument reports whether markup carries its own document declaration.
func IsDocument(markup string) bool {
	return strings.Contains(markup, Marker)
}

// Assemble returns a complete LaTeX document for markup.
//
// A complete document is returned unchanged. Otherwise the markup becomes the
// body of the fixed template; if it does not open a tikzpicture itself it is
// placed inside one so that commands like `\draw (0,0) -- (1,1);` compile.
// The result contains the markup exactly once.
func Assemble(markup string) string {
	if IsDocument(markup) {
		return markup
	}

	var b strings.Builder
	b.Grow(len(Preamble) + len(markup) + 96)
	b.WriteString(Preamble)
	b.WriteString(docBegin)
	b.WriteByte('\n')
	if strings.Contains(markup, pictureBegin) {
		b.WriteString(markup)
	} else {
		b.WriteString(pictureBegin)
		b.WriteByte('\n')
		b.WriteString(markup)
		b.WriteString("\n\\end{tikzpicture}")
	}
	b.WriteByte('\n')
	b.WriteString(docEnd)
	b.WriteByte('\n')
	return b.String()
}
