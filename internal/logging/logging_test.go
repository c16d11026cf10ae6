package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/seenimoa/earnvol/internal/config"
)

func TestNewJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := Component(NewWithWriter(config.LoggingConfig{Level: "info", Format: "json"}, &buf), "scan")

	logger.Info().Str("ticker", "AAPL").Msg("scanned")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log line is not JSON: %v (%q)", err, buf.String())
	}
	if entry["component"] != "scan" {
		t.Errorf("component: got %v, want %q", entry["component"], "scan")
	}
	if entry["ticker"] != "AAPL" {
		t.Errorf("ticker: got %v, want %q", entry["ticker"], "AAPL")
	}
	if entry["level"] != "info" {
		t.Errorf("level: got %v, want %q", entry["level"], "info")
	}
}

func TestNewLevelFilters(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(config.LoggingConfig{Level: "warn", Format: "json"}, &buf)

	logger.Info().Msg("hidden")
	if buf.Len() != 0 {
		t.Errorf("info written at warn level: %q", buf.String())
	}
	logger.Warn().Msg("shown")
	if !strings.Contains(buf.String(), "shown") {
		t.Errorf("warn missing: %q", buf.String())
	}
}

func TestNewTextFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(config.LoggingConfig{Level: "DEBUG", Format: "text"}, &buf)

	logger.Debug().Msg("console line")
	out := buf.String()
	if !strings.Contains(out, "console line") {
		t.Errorf("message missing: %q", out)
	}
	if strings.HasPrefix(out, "{") {
		t.Errorf("text format produced JSON: %q", out)
	}
}

func TestNewUnknownLevelDefaultsToInfo(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(config.LoggingConfig{Level: "chatty", Format: "json"}, &buf)

	logger.Debug().Msg("hidden")
	logger.Info().Msg("shown")
	if strings.Contains(buf.String(), "hidden") || !strings.Contains(buf.String(), "shown") {
		t.Errorf("unexpected output: %q", buf.String())
	}
}
