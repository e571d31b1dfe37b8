//go:build !integration

package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"course-checkout/internal/config"
)

func TestWith_AttachesContextIDs(t *testing.T) {
	var buf bytes.Buffer
	base := NewWithWriter(config.LogConfig{Level: "debug", Format: "json"}, false, &buf)

	ctx := WithTraceID(context.Background(), "")
	ctx = WithPurchaseID(ctx, "pur-1")
	ctx = WithJourneyID(ctx, "jrn-1")

	With(ctx, base).Info().Msg("hello")

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("expected json log line, got %q: %v", buf.String(), err)
	}
	if line["purchase_id"] != "pur-1" || line["journey_id"] != "jrn-1" {
		t.Errorf("missing ids in log line: %v", line)
	}
	if tid, _ := line["trace_id"].(string); len(tid) != 26 {
		t.Errorf("expected a 26-char ULID trace id, got %q", tid)
	}
	if TraceID(ctx) == "" {
		t.Error("expected TraceID to read back the generated id")
	}
}

func TestNewWithWriter_Level(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(config.LogConfig{Level: "warn"}, false, &buf)
	l.Info().Msg("dropped")
	if buf.Len() != 0 {
		t.Fatalf("expected info to be filtered at warn level, got %q", buf.String())
	}
	l.Warn().Msg("kept")
	if buf.Len() == 0 {
		t.Fatal("expected warn line to be written")
	}
}

func TestRedact(t *testing.T) {
	if got := Redact("short", false); got != "***" {
		t.Errorf("expected *** got %q", got)
	}
	if got := Redact("eyJhbGciOiJIUzI1NiJ9", false); got != "eyJh...J9" {
		t.Errorf("unexpected redaction %q", got)
	}
	if got := Redact("secret-token", true); got != "secret-token" {
		t.Errorf("dev mode must not redact, got %q", got)
	}
}
