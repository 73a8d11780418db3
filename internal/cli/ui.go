package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/examprep/examprep/pkg/errors"
)

// =============================================================================
// Palette
// =============================================================================

var (
	colorCyan   = lipgloss.Color("36")
	colorGreen  = lipgloss.Color("35")
	colorYellow = lipgloss.Color("220")
	colorRed    = lipgloss.Color("167")
	colorBlue   = lipgloss.Color("75")
	colorWhite  = lipgloss.Color("255")
	colorGray   = lipgloss.Color("245")
	colorDim    = lipgloss.Color("240")
)

// Exported styles are shared with the question browser.
var (
	StyleTitle     = lipgloss.NewStyle().Bold(true).Foreground(colorCyan)
	StyleHighlight = lipgloss.NewStyle().Foreground(colorCyan)
	StyleDim       = lipgloss.NewStyle().Foreground(colorDim)
	StyleValue     = lipgloss.NewStyle().Foreground(colorWhite)
	StyleSuccess   = lipgloss.NewStyle().Foreground(colorGreen)
	StyleWarning   = lipgloss.NewStyle().Foreground(colorYellow)
)

var (
	styleIconSuccess = lipgloss.NewStyle().Foreground(colorGreen)
	styleIconError   = lipgloss.NewStyle().Foreground(colorRed)
	styleIconWarning = lipgloss.NewStyle().Foreground(colorYellow)
	styleIconInfo    = lipgloss.NewStyle().Foreground(colorGray)
	styleIconSpinner = lipgloss.NewStyle().Foreground(colorCyan)

	styleCode    = lipgloss.NewStyle().Foreground(colorRed).Bold(true)
	styleCommand = lipgloss.NewStyle().Foreground(colorBlue)
	styleKey     = lipgloss.NewStyle().Foreground(colorGray).Width(12)

	// Compiler diagnostics are wrapped so long TeX errors stay readable.
	styleDiagnostic = lipgloss.NewStyle().Foreground(colorGray).Width(76).PaddingLeft(4)
)

const (
	iconSuccess = "✓"
	iconError   = "✗"
	iconWarning = "!"
	iconInfo    = "›"
	iconArrow   = "→"
)

// =============================================================================
// Status lines
// =============================================================================

func printStatus(icon string, style lipgloss.Style, msg string) {
	fmt.Println(style.Render(icon) + " " + msg)
}

func printSuccess(format string, args ...any) {
	printStatus(iconSuccess, styleIconSuccess, fmt.Sprintf(format, args...))
}

func printError(format string, args ...any) {
	printStatus(iconError, styleIconError, fmt.Sprintf(format, args...))
}

func printWarning(format string, args ...any) {
	printStatus(iconWarning, styleIconWarning, StyleWarning.Render(fmt.Sprintf(format, args...)))
}

func printInfo(format string, args ...any) {
	printStatus(iconInfo, styleIconInfo, fmt.Sprintf(format, args...))
}

// printDetail prints an indented secondary line.
func printDetail(format string, args ...any) {
	fmt.Println("  " + StyleDim.Render(fmt.Sprintf(format, args...)))
}

// printKeyValue prints a labeled value in a fixed-width key column.
func printKeyValue(key, value string) {
	fmt.Println(styleKey.Render(key) + " " + StyleValue.Render(value))
}

// printNextStep prints a suggested follow-up command.
func printNextStep(description, cmd string) {
	fmt.Println(StyleDim.Render(description+":") + " " + styleCommand.Render(cmd))
}

// =============================================================================
// Render results
// =============================================================================

// printRendered reports one written image with its size, time and cache
// status.
func printRendered(input, output string, bytes int, elapsed time.Duration, cached bool) {
	printSuccess("%s", input)
	fmt.Println("  " + StyleDim.Render(iconArrow) + " " + StyleValue.Render(output))

	source := StyleDim.Render("compiled")
	if cached {
		source = StyleSuccess.Render("cached")
	}
	sep := StyleDim.Render(" · ")
	fmt.Println("  " + StyleDim.Render(fmt.Sprintf("%.1f KiB", float64(bytes)/1024)) +
		sep + StyleDim.Render(elapsed.Round(time.Millisecond).String()) +
		sep + source)
}

// printRenderFailure reports a failed input with its error code and the
// diagnostic, one compiler message per line.
func printRenderFailure(input string, err error) {
	printError("%s %s", input, styleCode.Render(string(errors.GetCode(err))))
	for _, line := range diagnosticLines(errors.Detail(err)) {
		fmt.Println(styleDiagnostic.Render(line))
	}
}

// diagnosticLines splits a compile failure detail at each "!" message so
// every TeX error starts on its own line.
func diagnosticLines(detail string) []string {
	var lines []string
	for _, part := range strings.Split(detail, " ! ") {
		if part = strings.TrimSpace(part); part == "" {
			continue
		}
		if len(lines) > 0 && !strings.HasPrefix(part, "!") {
			part = "! " + part
		}
		lines = append(lines, part)
	}
	return lines
}
