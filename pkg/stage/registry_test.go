package stage

import (
	"errors"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

func okStage(name string) Stage {
	return Stage{Name: name, Run: "true", Isolation: Strict}
}

func TestNewRegistry_Valid(t *testing.T) {
	r, err := NewRegistry(
		Stage{Name: "deps", Run: "go mod download", Isolation: Tolerant},
		Stage{Name: "build", Command: []string{"go", "build", "./..."}, Isolation: "STRICT", Artifacts: []string{"bin/*"}},
		Stage{Name: "publish", Isolation: Strict, Push: &Push{Image: "registry.local/app", Credentials: "registry"}},
	)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	if got := r.Names(); !reflect.DeepEqual(got, []string{"deps", "build", "publish"}) {
		t.Fatalf("Names() = %v", got)
	}
	b, ok := r.Get("build")
	if !ok || b.Isolation != Strict {
		t.Fatalf("isolation should be normalized, got %q", b.Isolation)
	}
	if r.Len() != 3 {
		t.Fatalf("Len() = %d", r.Len())
	}
	if got := r.SecretIDs(); !reflect.DeepEqual(got, []string{"registry"}) {
		t.Fatalf("SecretIDs() = %v", got)
	}
}

func TestNewRegistry_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		stages []Stage
		field  string
	}{
		{"empty registry", nil, "stages"},
		{"duplicate name", []Stage{okStage("build"), okStage("build")}, "name"},
		{"empty name", []Stage{{Run: "true", Isolation: Strict}}, "name"},
		{"no command", []Stage{{Name: "x", Isolation: Strict}}, "run"},
		{"run and command", []Stage{{Name: "x", Run: "a", Command: []string{"b"}, Isolation: Strict}}, "run"},
		{"push with run", []Stage{{Name: "x", Run: "a", Isolation: Strict, Push: &Push{Image: "i", Credentials: "c"}}}, "push"},
		{"push without credentials", []Stage{{Name: "x", Isolation: Strict, Push: &Push{Image: "i"}}}, "push.credentials"},
		{"missing isolation", []Stage{{Name: "x", Run: "a"}}, "isolation"},
		{"bad isolation", []Stage{{Name: "x", Run: "a", Isolation: "lenient"}}, "isolation"},
		{"bad glob", []Stage{{Name: "x", Run: "a", Isolation: Strict, Artifacts: []string{"reports/[a-"}}}, "artifacts"},
		{"absolute artifact", []Stage{{Name: "x", Run: "a", Isolation: Strict, Artifacts: []string{"/etc/passwd"}}}, "artifacts"},
		{"escaping artifact", []Stage{{Name: "x", Run: "a", Isolation: Strict, Artifacts: []string{"../secret.txt"}}}, "artifacts"},
		{"escaping workdir", []Stage{{Name: "x", Run: "a", Isolation: Strict, WorkDir: "sub/../../out"}}, "workdir"},
		{"empty secret id", []Stage{{Name: "x", Run: "a", Isolation: Strict, Secrets: []Secret{{Env: "TOKEN"}}}}, "secrets"},
		{"bad env name", []Stage{{Name: "x", Run: "a", Isolation: Strict, Env: map[string]string{"A=B": "1"}}}, "env"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := NewRegistry(tt.stages...)
			if err == nil {
				t.Fatalf("expected error, got registry %v", r.Names())
			}
			if !IsConfigError(err) {
				t.Fatalf("expected *ConfigError, got %T: %v", err, err)
			}
			var ce *ConfigError
			errors.As(err, &ce)
			if ce.Field != tt.field {
				t.Fatalf("field = %q want %q (%v)", ce.Field, tt.field, err)
			}
		})
	}
}

func TestNewRegistry_BadPatternWrapsErrBadPattern(t *testing.T) {
	_, err := NewRegistry(Stage{Name: "x", Run: "a", Isolation: Strict, Artifacts: []string{"[z-"}})
	if !errors.Is(err, filepath.ErrBadPattern) {
		t.Fatalf("expected ErrBadPattern in chain, got %v", err)
	}
}

func TestNewRegistry_ReportsAllProblems(t *testing.T) {
	_, err := NewRegistry(okStage("a"), okStage("a"), Stage{Name: "b"})
	if err == nil {
		t.Fatal("expected error")
	}
	msg := err.Error()
	for _, want := range []string{"duplicate stage name", "isolation is required", "one of run, command or push"} {
		if !strings.Contains(msg, want) {
			t.Errorf("error %q missing %q", msg, want)
		}
	}
}

func TestRegistry_IsImmutable(t *testing.T) {
	in := []Stage{{Name: "a", Command: []string{"make"}, Isolation: Strict, Env: map[string]string{"K": "v"}}}
	r, err := NewRegistry(in...)
	if err != nil {
		t.Fatal(err)
	}
	in[0].Command[0] = "rm"
	in[0].Env["K"] = "changed"

	got := r.Stages()
	if got[0].Command[0] != "make" || got[0].Env["K"] != "v" {
		t.Fatalf("registry shares memory with caller input: %+v", got[0])
	}
	got[0].Name = "mutated"
	got = append(got, okStage("extra"))
	if r.Len() != 1 || r.Names()[0] != "a" {
		t.Fatalf("registry changed through Stages() copy: %v", r.Names())
	}
}

func TestParseIsolation(t *testing.T) {
	if iso, err := ParseIsolation(" Tolerant "); err != nil || iso != Tolerant {
		t.Fatalf("got %q %v", iso, err)
	}
	if _, err := ParseIsolation(""); err == nil {
		t.Fatal("empty isolation must be rejected")
	}
}

func TestSecret_EnvName(t *testing.T) {
	if got := (Secret{ID: "registry-creds"}).EnvName(); got != "REGISTRY_CREDS" {
		t.Fatalf("got %q", got)
	}
	if got := (Secret{ID: "x", Env: "SONAR_TOKEN"}).EnvName(); got != "SONAR_TOKEN" {
		t.Fatalf("got %q", got)
	}
}

func TestStage_Describe(t *testing.T) {
	if got := (Stage{Push: &Push{Image: "app"}}).Describe(); got != "push app:latest" {
		t.Fatalf("got %q", got)
	}
	if got := (Stage{Command: []string{"trivy", "fs", "."}}).Describe(); got != "trivy fs ." {
		t.Fatalf("got %q", got)
	}
}
