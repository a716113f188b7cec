package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
)

func TestInit_LevelAndFields(t *testing.T) {
	var buf bytes.Buffer
	InitWithWriter(Config{Level: "warn", Format: "json"}, &buf)
	defer zerolog.SetGlobalLevel(zerolog.InfoLevel)

	l := WithSession("sess-1")
	l.Info().Msg("dropped by level")
	l.Warn().Msg("kept")

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	if len(lines) != 1 {
		t.Fatalf("expected exactly one log line, got %d: %s", len(lines), buf.String())
	}

	var entry map[string]any
	if err := json.Unmarshal(lines[0], &entry); err != nil {
		t.Fatalf("log line is not json: %v", err)
	}
	if entry["sessionId"] != "sess-1" {
		t.Errorf("expected sessionId field, got %v", entry["sessionId"])
	}
	if entry["component"] != "relay" {
		t.Errorf("expected component relay, got %v", entry["component"])
	}
	if entry["service"] != "interview-relay" {
		t.Errorf("expected service field, got %v", entry["service"])
	}
}

func TestInit_InvalidLevelFallsBackToInfo(t *testing.T) {
	var buf bytes.Buffer
	InitWithWriter(Config{Level: "loud"}, &buf)

	if zerolog.GlobalLevel() != zerolog.InfoLevel {
		t.Errorf("expected info level, got %s", zerolog.GlobalLevel())
	}
}
