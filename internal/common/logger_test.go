package common

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in    string
		want  LogLevel
		valid bool
	}{
		{"", LogLevelInfo, true},
		{"info", LogLevelInfo, true},
		{"DEBUG", LogLevelDebug, true},
		{"warning", LogLevelWarn, true},
		{"error", LogLevelError, true},
		{"verbose", LogLevelInfo, false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := ParseLogLevel(tt.in)
			if got != tt.want || ok != tt.valid {
				t.Fatalf("ParseLogLevel(%q) = %v,%v want %v,%v", tt.in, got, ok, tt.want, tt.valid)
			}
		})
	}
}

func TestLogLevel_ToSlogLevel(t *testing.T) {
	if LogLevelDebug.ToSlogLevel() != slog.LevelDebug {
		t.Fatal("debug mismatch")
	}
	if LogLevelError.ToSlogLevel() != slog.LevelError {
		t.Fatal("error mismatch")
	}
	if LogLevel(42).String() != "info" {
		t.Fatal("unknown level should render as info")
	}
}

func TestNewLoggerTo_JSONMasksRegisteredSecret(t *testing.T) {
	var buf bytes.Buffer
	m := GetGlobalMasker()
	m.AddSecret("hunter2-registry")
	defer m.RemoveSecret("hunter2-registry")

	l := NewLoggerTo(&buf, "json", LogLevelInfo).WithRun("r-1").WithStage("build")
	l.Info("stage output", "line", "login with hunter2-registry ok", "password", "plain")

	out := buf.String()
	if strings.Contains(out, "hunter2-registry") {
		t.Fatalf("secret leaked into log: %s", out)
	}
	if !strings.Contains(out, `"run_id":"r-1"`) || !strings.Contains(out, `"stage":"build"`) {
		t.Fatalf("missing context attrs: %s", out)
	}
	if strings.Contains(out, `"plain"`) {
		t.Fatalf("password attr not masked: %s", out)
	}
}

func TestNewLoggerTo_LevelFilter(t *testing.T) {
	var buf bytes.Buffer
	l := NewLoggerTo(&buf, "text", LogLevelWarn)
	l.Info("hidden")
	l.Warn("shown")
	if strings.Contains(buf.String(), "hidden") {
		t.Fatal("info should be filtered at warn level")
	}
	if !strings.Contains(buf.String(), "shown") {
		t.Fatal("warn should pass")
	}
	if l.Level() != LogLevelWarn {
		t.Fatalf("level = %v", l.Level())
	}
}

func TestSetDefaultLogger(t *testing.T) {
	prev := GetLogger()
	defer SetDefaultLogger(prev)

	var buf bytes.Buffer
	SetDefaultLogger(NewLoggerTo(&buf, "text", LogLevelInfo))
	LogError("boom", errTest("disk full"), "stage", "sast")
	if !strings.Contains(buf.String(), "disk full") || !strings.Contains(buf.String(), "stage=sast") {
		t.Fatalf("unexpected output: %s", buf.String())
	}
	SetDefaultLogger(nil)
	if GetLogger() == nil {
		t.Fatal("nil logger must be ignored")
	}
}

type errTest string

func (e errTest) Error() string { return string(e) }
