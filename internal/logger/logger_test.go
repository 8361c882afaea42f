package logger

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestInitWriter_JSONLevels(t *testing.T) {
	var buf bytes.Buffer
	InitWriter(&buf, "warn", "json")

	Info("dropped %d", 1)
	Warn("kept %s", "warning")
	Error("kept %s", "error")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 log lines, got %d: %q", len(lines), buf.String())
	}

	var entry map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("expected JSON log line: %v", err)
	}
	if entry["level"] != "warn" || entry["message"] != "kept warning" {
		t.Errorf("unexpected entry: %v", entry)
	}
}

func TestInitWriter_Text(t *testing.T) {
	var buf bytes.Buffer
	InitWriter(&buf, "debug", "text")

	Debug("cycle %d", 7)

	out := buf.String()
	if !strings.Contains(out, "cycle 7") {
		t.Errorf("expected message in output, got %q", out)
	}
	if strings.HasPrefix(strings.TrimSpace(out), "{") {
		t.Errorf("expected console output, got JSON: %q", out)
	}
}

func TestInitWriter_UnknownLevelDefaultsToInfo(t *testing.T) {
	var buf bytes.Buffer
	InitWriter(&buf, "verbose", "json")

	Debug("hidden")
	Info("shown")

	if strings.Contains(buf.String(), "hidden") {
		t.Error("debug line should be filtered at info level")
	}
	if !strings.Contains(buf.String(), "shown") {
		t.Error("info line should be written")
	}
}

type countingStringer struct{ calls *int }

func (s countingStringer) String() string {
	*s.calls++
	return "formatted"
}

func TestDisabledLevelSkipsFormatting(t *testing.T) {
	var buf bytes.Buffer
	InitWriter(&buf, "info", "json")

	calls := 0
	Debug("value %s", countingStringer{&calls})
	if calls != 0 {
		t.Errorf("debug arguments formatted %d times at info level", calls)
	}

	Info("value %s", countingStringer{&calls})
	if calls != 1 || !strings.Contains(buf.String(), "value formatted") {
		t.Errorf("info line not formatted once: calls=%d out=%q", calls, buf.String())
	}
}
