package tex

import (
	"bytes"
	"fmt"
	"strings"
)

// BraceError describes the first unbalanced brace found by CheckBraces.
type BraceError struct {
	Line   int  // 1-based line of the offending brace
	Column int  // 1-based byte column
	Brace  byte // '{' for an unclosed group, '}' for a stray close
}

func (e *BraceError) Error() string {
	if e.Brace == '{' {
		return fmt.Sprintf("unclosed '{' opened at line %d, column %d", e.Line, e.Column)
	}
	return fmt.Sprintf("unmatched '}' at line %d, column %d", e.Line, e.Column)
}

// CheckBraces verifies that group braces in markup are balanced. Escaped
// braces (\{ \}), escaped backslashes and %-comments are skipped. A clean
// result does not mean the markup compiles; it only catches the most common
// typo before paying for a pdflatex run.
func CheckBraces(markup string) error {
	type pos struct{ line, col int }
	var open []pos

	line, col := 1, 0
	for i := 0; i < len(markup); i++ {
		c := markup[i]
		col++
		switch c {
		case '\n':
			line, col = line+1, 0
		case '\\':
			// Skip the escaped character; a newline still advances the line.
			if i+1 < len(markup) {
				i++
				if markup[i] == '\n' {
					line, col = line+1, 0
				} else {
					col++
				}
			}
		case '%':
			for i+1 < len(markup) && markup[i+1] != '\n' {
				i++
			}
		case '{':
			open = append(open, pos{line, col})
		case '}':
			if len(open) == 0 {
				return &BraceError{Line: line, Column: col, Brace: '}'}
			}
			open = open[:len(open)-1]
		}
	}
	if len(open) > 0 {
		p := open[len(open)-1]
		return &BraceError{Line: p.line, Column: p.col, Brace: '{'}
	}
	return nil
}

// Excerpt extracts the diagnostic lines from pdflatex output: each line
// starting with "!" plus the "l.<n>" context line that follows it. When no
// such lines exist it falls back to the last non-empty lines of output. The
// result is capped at max bytes.
func Excerpt(output []byte, max int) string {
	lines := strings.Split(string(bytes.ReplaceAll(output, []byte("\r\n"), []byte("\n"))), "\n")

	var picked []string
	for i := 0; i < len(lines); i++ {
		if !strings.HasPrefix(lines[i], "!") {
			continue
		}
		picked = append(picked, strings.TrimSpace(lines[i]))
		for j := i + 1; j < len(lines) && j <= i+8; j++ {
			if strings.HasPrefix(lines[j], "l.") {
				picked = append(picked, strings.TrimSpace(lines[j]))
				i = j
				break
			}
		}
	}

	if len(picked) == 0 {
		for i := len(lines) - 1; i >= 0 && len(picked) < 3; i-- {
			if l := strings.TrimSpace(lines[i]); l != "" {
				picked = append([]string{l}, picked...)
			}
		}
	}

	out := strings.Join(picked, " ")
	if max > 0 && len(out) > max {
		out = out[:max] + "..."
	}
	return out
}
