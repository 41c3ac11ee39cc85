package env

import (
	"reflect"
	"testing"

	"gopkg.in/yaml.v3"
)

func TestEnv_Lookup(t *testing.T) {
	e := Env{Stage: FromStringMap(map[string]string{"FOO": "bar"})}
	if v, ok := e.Lookup("FOO"); !ok || v != "bar" {
		t.Fatalf("expected FOO=bar, got ok=%v v=%q", ok, v)
	}
	if _, ok := e.Lookup("MISSING"); ok {
		t.Fatalf("expected missing key to return ok=false")
	}
}

func TestEnv_Precedence(t *testing.T) {
	base := NewBase(map[string]string{"K": "base", "ONLY_BASE": "b"})
	st := base.WithStage(map[string]string{"K": "stage"})
	if v, _ := st.Lookup("K"); v != "stage" {
		t.Fatalf("stage should override base, got %q", v)
	}
	sec := st.WithSecrets(map[string]string{"K": "secret"})
	if v, _ := sec.Lookup("K"); v != "secret" {
		t.Fatalf("secret should override stage, got %q", v)
	}
	if v, _ := sec.Lookup("ONLY_BASE"); v != "b" {
		t.Fatalf("base value lost, got %q", v)
	}
}

func TestEnv_WithStageDoesNotMutateBase(t *testing.T) {
	base := NewBase(map[string]string{"PATH": "/usr/bin"})
	_ = base.WithStage(map[string]string{"PATH": "/tmp", "EXTRA": "1"}).WithSecrets(map[string]string{"TOKEN": "t0ken"})

	want := map[string]string{"PATH": "/usr/bin"}
	if got := base.Merged(); !reflect.DeepEqual(got, want) {
		t.Fatalf("base mutated: %v", got)
	}
	if len(base.Stage) != 0 || len(base.Secret) != 0 {
		t.Fatalf("base gained layers: stage=%v secret=%v", base.Stage, base.Secret)
	}
}

func TestEnv_WithStageDropsPreviousSecrets(t *testing.T) {
	first := NewBase(nil).WithStage(nil).WithSecrets(map[string]string{"TOKEN": "abc"})
	next := first.WithStage(map[string]string{"A": "1"})
	if _, ok := next.Lookup("TOKEN"); ok {
		t.Fatal("secret leaked into the next stage env")
	}
}

func TestEnv_SealedRejectsSet(t *testing.T) {
	e := NewBase(map[string]string{"A": "1"})
	if !e.Sealed() {
		t.Fatal("NewBase should seal")
	}
	if err := e.SetString("base", "A", "2"); err == nil {
		t.Fatal("expected error on sealed env")
	}
	c := e.Clone()
	if err := c.SetString("stage", "B", "2"); err != nil {
		t.Fatalf("clone should be writable: %v", err)
	}
	if c.GetString("local", "B") != "2" {
		t.Fatalf("layer alias lookup failed")
	}
	if e.GetString("stage", "B") != "" {
		t.Fatal("clone write leaked into original")
	}
}

func TestEnv_Environ(t *testing.T) {
	e := NewBase(map[string]string{"B": "2", "A": "1"}).WithStage(map[string]string{"C": "3"})
	want := []string{"A=1", "B=2", "C=3"}
	if got := e.Environ(); !reflect.DeepEqual(got, want) {
		t.Fatalf("Environ() = %v want %v", got, want)
	}
	if got := e.Keys(); !reflect.DeepEqual(got, []string{"A", "B", "C"}) {
		t.Fatalf("Keys() = %v", got)
	}
}

func TestEnv_UnmarshalYAML(t *testing.T) {
	var holder struct {
		Env Env `yaml:"env"`
	}
	if err := yaml.Unmarshal([]byte("env:\n  GOFLAGS: -mod=mod\n  CGO_ENABLED: \"0\"\n"), &holder); err != nil {
		t.Fatal(err)
	}
	if v, _ := holder.Env.Lookup("CGO_ENABLED"); v != "0" {
		t.Fatalf("got %q", v)
	}
}

func TestFromOS(t *testing.T) {
	t.Setenv("PIPERUN_TEST_VAR", "yes")
	e := FromOS("PIPERUN_TEST_VAR", "PIPERUN_DEFINITELY_UNSET")
	if v, ok := e.Lookup("PIPERUN_TEST_VAR"); !ok || v != "yes" {
		t.Fatalf("got %q %v", v, ok)
	}
	if _, ok := e.Lookup("PIPERUN_DEFINITELY_UNSET"); ok {
		t.Fatal("unset variable captured")
	}
}
