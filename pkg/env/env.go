package env

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

type Str string

func (s Str) String() string { return string(s) }

func FromStringMap(m map[string]string) Map {
	if m == nil {
		return nil
	}
	out := Map{}
	for k, v := range m {
		out[k] = Str(v)
	}
	return out
}

type Val interface {
	String() string
}

// Map is a generic value map where each value can be a plain string (Str)
// or any value implementing String().
type Map map[string]Val

// Env is the environment a stage command sees. It has three layers:
// - Base: the process-wide environment, sealed before the first stage runs
// - Stage: overrides declared by one stage
// - Secret: values resolved for one stage invocation only
// Lookup gives precedence Secret > Stage > Base.
// Layering always produces a new Env; the receiver is never modified.
type Env struct {
	mu     sync.RWMutex
	Base   Map `yaml:"-" json:"-" mapstructure:"-"`
	Stage  Map `yaml:"-" json:"env" mapstructure:"env"`
	Secret Map `yaml:"-" json:"-" mapstructure:"-"`
	sealed bool
}

// New returns an Env with all layers initialized.
func New() *Env {
	return &Env{Base: Map{}, Stage: Map{}, Secret: Map{}}
}

// NewBase builds a sealed base environment from the given values.
func NewBase(m map[string]string) *Env {
	e := New()
	for k, v := range m {
		e.Base[k] = Str(v)
	}
	e.Seal()
	return e
}

// FromOS captures the named process variables into a sealed base. With no
// names the whole process environment is captured.
func FromOS(names ...string) *Env {
	m := map[string]string{}
	if len(names) == 0 {
		for _, kv := range os.Environ() {
			if k, v, ok := strings.Cut(kv, "="); ok && k != "" {
				m[k] = v
			}
		}
	} else {
		for _, n := range names {
			if v, ok := os.LookupEnv(n); ok {
				m[n] = v
			}
		}
	}
	return NewBase(m)
}

// Seal marks the Env as immutable for Set operations.
func (e *Env) Seal() {
	if e != nil {
		e.mu.Lock()
		e.sealed = true
		e.mu.Unlock()
	}
}

// Sealed reports whether Set operations are refused.
func (e *Env) Sealed() bool {
	if e == nil {
		return false
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.sealed
}

// Clone performs a copy of the Env maps. The copy is unsealed.
func (e *Env) Clone() *Env {
	if e == nil {
		return New()
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return &Env{Base: copyMap(e.Base), Stage: copyMap(e.Stage), Secret: copyMap(e.Secret)}
}

func copyMap(m Map) Map {
	out := make(Map, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// WithStage returns a new Env sharing this Env's base values and carrying the
// given overrides as its stage layer. Previous stage and secret layers are dropped.
func (e *Env) WithStage(overrides map[string]string) *Env {
	out := New()
	if e != nil {
		e.mu.RLock()
		out.Base = copyMap(e.Base)
		e.mu.RUnlock()
	}
	for k, v := range overrides {
		out.Stage[k] = Str(v)
	}
	out.Seal()
	return out
}

// WithSecrets returns a new Env with the secret layer replaced by m.
func (e *Env) WithSecrets(m map[string]string) *Env {
	out := e.Clone()
	out.Secret = FromStringMap(m)
	if out.Secret == nil {
		out.Secret = Map{}
	}
	out.Seal()
	return out
}

// GetString reads a value from the chosen layer ("base", "stage", "secret").
func (e *Env) GetString(layer, key string) string {
	if e == nil {
		return ""
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	if v, ok := e.layer(layer)[key]; ok && v != nil {
		return v.String()
	}
	return ""
}

// SetString sets a string into the chosen layer. Returns error if sealed.
func (e *Env) SetString(layer, key, val string) error {
	if e == nil {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sealed {
		return fmt.Errorf("env: sealed (immutable)")
	}
	m := e.layerPtr(layer)
	if *m == nil {
		*m = Map{}
	}
	(*m)[key] = Str(val)
	return nil
}

func (e *Env) layer(name string) Map {
	return *e.layerPtr(name)
}

func (e *Env) layerPtr(name string) *Map {
	switch normalizeLayer(name) {
	case "secret":
		return &e.Secret
	case "stage":
		return &e.Stage
	default:
		return &e.Base
	}
}

func normalizeLayer(n string) string {
	switch strings.ToLower(strings.TrimSpace(n)) {
	case "secret", "secrets":
		return "secret"
	case "stage", "local":
		return "stage"
	default:
		return "base"
	}
}

// UnmarshalYAML decodes a plain mapping under the `env` key directly into Stage.
func (e *Env) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return nil
	}
	var m map[string]string
	if err := value.Decode(&m); err != nil {
		return err
	}
	e.Stage = FromStringMap(m)
	return nil
}

// Lookup searches Secret, then Stage, then Base.
func (e *Env) Lookup(key string) (string, bool) {
	if e == nil {
		return "", false
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, m := range []Map{e.Secret, e.Stage, e.Base} {
		if v, ok := m[key]; ok && v != nil {
			return v.String(), true
		}
	}
	return "", false
}

// Merged returns a flat map with Base overridden by Stage, then by Secret.
func (e *Env) Merged() map[string]string {
	m := map[string]string{}
	if e == nil {
		return m
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, layer := range []Map{e.Base, e.Stage, e.Secret} {
		for k, v := range layer {
			if v != nil {
				m[k] = v.String()
			}
		}
	}
	return m
}

// Environ renders the merged environment as sorted KEY=VALUE entries, the
// form exec.Cmd expects.
func (e *Env) Environ() []string {
	m := e.Merged()
	out := make([]string, 0, len(m))
	for k, v := range m {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}

// Keys returns the sorted names visible through Lookup.
func (e *Env) Keys() []string {
	m := e.Merged()
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
