package cli

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/charmbracelet/log"
)

func TestNewLoggerLevels(t *testing.T) {
	tests := []struct {
		name    string
		level   log.Level
		logFunc func(*log.Logger)
		wantLog bool
	}{
		{"info at info level", log.InfoLevel, func(l *log.Logger) { l.Info("test") }, true},
		{"debug at info level", log.InfoLevel, func(l *log.Logger) { l.Debug("test") }, false},
		{"debug at debug level", log.DebugLevel, func(l *log.Logger) { l.Debug("test") }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			tt.logFunc(newLogger(&buf, tt.level))
			if got := buf.Len() > 0; got != tt.wantLog {
				t.Errorf("got log output = %v, want %v", got, tt.wantLog)
			}
		})
	}
}

func TestSetLogFormatJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, log.InfoLevel)
	if err := setLogFormat(logger, "JSON"); err != nil {
		t.Fatal(err)
	}
	logger.Info("render finished", "status", 200)

	var rec map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &rec); err != nil {
		t.Fatalf("not JSON: %q: %v", buf.String(), err)
	}
	if rec["msg"] != "render finished" || rec["status"] != float64(200) {
		t.Errorf("unexpected record: %v", rec)
	}
}

func TestSetLogFormatLogfmt(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, log.InfoLevel)
	if err := setLogFormat(logger, "logfmt"); err != nil {
		t.Fatal(err)
	}
	logger.Info("ready", "addr", ":8080")
	if !strings.Contains(buf.String(), `addr=:8080`) {
		t.Errorf("logfmt output = %q", buf.String())
	}
}

func TestSetLogFormatUnknown(t *testing.T) {
	if err := setLogFormat(newLogger(&bytes.Buffer{}, log.InfoLevel), "xml"); err == nil {
		t.Error("expected error for unknown format")
	}
}

func TestProgress(t *testing.T) {
	var buf bytes.Buffer
	newProgress(newLogger(&buf, log.InfoLevel)).done("test completed")
	if !strings.Contains(buf.String(), "test completed (") {
		t.Errorf("progress output = %q", buf.String())
	}
}
