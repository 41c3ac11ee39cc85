package common

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func TestColorHandler_ScopePrefix(t *testing.T) {
	var buf bytes.Buffer
	h := NewColorHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	h.SetColorEnabled(false)

	logger := slog.New(h).With("component", "pipeline")
	logger.Info("stage finished", "stage", "build", "exit_code", 0, "status", "success")

	out := buf.String()
	for _, want := range []string{"[INFO ]", "[pipeline/build]", "stage finished", "exit_code=0", `status="success"`} {
		if !strings.Contains(out, want) {
			t.Errorf("output %q missing %q", out, want)
		}
	}
	if strings.Contains(out, "stage=") {
		t.Errorf("stage attr should be folded into the prefix: %q", out)
	}
}

func TestColorHandler_Levels(t *testing.T) {
	var buf bytes.Buffer
	h := NewColorHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn})
	h.SetColorEnabled(false)

	if h.Enabled(context.Background(), slog.LevelInfo) {
		t.Fatal("info must be disabled at warn level")
	}
	logger := slog.New(h)
	logger.Warn("careful")
	logger.Error("broken")
	out := buf.String()
	if !strings.Contains(out, "[WARN ] careful") || !strings.Contains(out, "[ERROR] broken") {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestColorHandler_MasksSecrets(t *testing.T) {
	var buf bytes.Buffer
	h := NewColorHandler(&buf, nil)
	h.SetColorEnabled(false)
	h.masker = NewMasker()
	h.masker.AddSecret("s3cr3t-value")

	slog.New(h).Info("pushing", "output", "login s3cr3t-value ok", "token", "abc")
	out := buf.String()
	if strings.Contains(out, "s3cr3t-value") || strings.Contains(out, `"abc"`) {
		t.Fatalf("secret leaked: %q", out)
	}
	if !strings.Contains(out, MaskedValue) {
		t.Fatalf("expected mask marker in %q", out)
	}
}

func TestColorHandler_ColorsStatus(t *testing.T) {
	var buf bytes.Buffer
	h := NewColorHandler(&buf, nil)
	h.SetColorEnabled(true)

	r := slog.NewRecord(time.Time{}, slog.LevelInfo, "run", 0)
	r.AddAttrs(slog.String("outcome", "aborted"))
	if err := h.Handle(context.Background(), r); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), Red+`"aborted"`+Reset) {
		t.Fatalf("aborted should be red: %q", buf.String())
	}
}

func TestColorHandler_WithGroupDoesNotMutateParent(t *testing.T) {
	var buf bytes.Buffer
	parent := NewColorHandler(&buf, nil)
	parent.SetColorEnabled(false)
	child := parent.WithGroup("store").WithAttrs([]slog.Attr{slog.String("dialect", "sqlite")})

	slog.New(child).Info("opened")
	slog.New(parent).Info("plain")
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}
	if !strings.Contains(lines[0], "[store]") || !strings.Contains(lines[0], `dialect="sqlite"`) {
		t.Errorf("child line %q", lines[0])
	}
	if strings.Contains(lines[1], "store") || strings.Contains(lines[1], "dialect") {
		t.Errorf("parent was mutated: %q", lines[1])
	}
}

func TestStatusColor(t *testing.T) {
	tests := map[string]string{
		"Completed": Green,
		"failed":    Red,
		"skipped":   Yellow,
		"whatever":  White,
	}
	for in, want := range tests {
		if got := statusColor(in); got != want {
			t.Errorf("statusColor(%q) = %q want %q", in, got, want)
		}
	}
}
