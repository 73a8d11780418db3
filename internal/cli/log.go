package cli

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/log"
)

// newLogger creates a text logger with short timestamps ("14:32:01.45").
func newLogger(w io.Writer, level log.Level) *log.Logger {
	return log.NewWithOptions(w, log.Options{
		ReportTimestamp: true,
		TimeFormat:      "15:04:05.00",
		Level:           level,
	})
}

// setLogFormat switches the logger between human and machine output.
// Structured formats use RFC 3339 timestamps.
func setLogFormat(l *log.Logger, name string) error {
	switch strings.ToLower(name) {
	case "", "text":
		l.SetFormatter(log.TextFormatter)
		l.SetTimeFormat("15:04:05.00")
	case "json":
		l.SetFormatter(log.JSONFormatter)
		l.SetTimeFormat(time.RFC3339)
	case "logfmt":
		l.SetFormatter(log.LogfmtFormatter)
		l.SetTimeFormat(time.RFC3339)
	default:
		return fmt.Errorf("unknown log format %q (want text, json or logfmt)", name)
	}
	return nil
}

// progress logs how long an operation took. Not safe for concurrent use.
type progress struct {
	logger *log.Logger
	start  time.Time
}

func newProgress(l *log.Logger) *progress {
	return &progress{logger: l, start: time.Now()}
}

// done logs msg with the elapsed time, e.g. "Rendered 3 diagram(s) (1.234s)".
func (p *progress) done(msg string) {
	p.logger.Infof("%s (%s)", msg, time.Since(p.start).Round(time.Millisecond))
}
