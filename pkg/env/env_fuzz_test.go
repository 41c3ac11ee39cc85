package env

import (
	"strings"
	"testing"
)

// FuzzWithStage checks that layering arbitrary overrides never leaks into the
// base and that the override always wins.
func FuzzWithStage(f *testing.F) {
	f.Add("PATH", "/opt/bin")
	f.Add("", "")
	f.Add("A=B", "x\ny")

	base := NewBase(map[string]string{"PATH": "/usr/bin", "HOME": "/root"})
	f.Fuzz(func(t *testing.T, k, v string) {
		st := base.WithStage(map[string]string{k: v})
		if got, _ := st.Lookup(k); got != v {
			t.Fatalf("override lost: %q=%q got %q", k, v, got)
		}
		if got, _ := base.Lookup("PATH"); got != "/usr/bin" {
			t.Fatalf("base mutated: PATH=%q", got)
		}
		for _, kv := range st.Environ() {
			if !strings.Contains(kv, "=") {
				t.Fatalf("bad environ entry %q", kv)
			}
		}
	})
}
