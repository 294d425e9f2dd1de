package logging

import (
	"bytes"
	"strings"
	"testing"
)

func TestConsoleHandlerFormat(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: LevelDebug, Output: &buf})

	l.WithComponent("recon").Info("tick complete", "devices", 4, "blocked", 1)

	out := buf.String()
	if !strings.Contains(out, "recon: tick complete") {
		t.Errorf("component not promoted into header: %q", out)
	}
	if !strings.Contains(out, "devices=4") || !strings.Contains(out, "blocked=1") {
		t.Errorf("attributes missing: %q", out)
	}
}

func TestConsoleHandlerQuotesSpacedValues(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: LevelInfo, Output: &buf})

	l.Info("override", "reason", "homework done")

	if !strings.Contains(buf.String(), `reason="homework done"`) {
		t.Errorf("spaced value not quoted: %q", buf.String())
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: LevelWarn, Output: &buf})

	l.Info("should not appear")
	l.Warn("should appear")

	out := buf.String()
	if strings.Contains(out, "should not appear") {
		t.Errorf("info leaked through warn filter")
	}
	if !strings.Contains(out, "should appear") {
		t.Errorf("warn message missing")
	}
}

func TestAuditAlwaysCarriesAction(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: LevelInfo, Output: &buf})

	l.Audit("block_applied", "device", map[string]any{"mac": "aa:bb:cc:dd:ee:01"})

	out := buf.String()
	if !strings.Contains(out, "action=block_applied") || !strings.Contains(out, "audit=true") {
		t.Errorf("audit fields missing: %q", out)
	}
}
