package stage

import (
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"strings"
)

// ConfigError reports a malformed stage registry entry. A registry that fails
// validation never produces a run.
type ConfigError struct {
	Index  int    // position of the offending stage, -1 for registry-wide problems
	Stage  string // stage name when known
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	switch {
	case e.Index < 0:
		return fmt.Sprintf("stage config: %s", e.Reason)
	case e.Stage != "":
		return fmt.Sprintf("stage config: stage %q (#%d) %s: %s", e.Stage, e.Index+1, e.Field, e.Reason)
	default:
		return fmt.Sprintf("stage config: stage #%d %s: %s", e.Index+1, e.Field, e.Reason)
	}
}

// IsConfigError reports whether err carries a *ConfigError.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}

// Registry is the validated, ordered list of stages for a pipeline. It is
// read-only after construction.
type Registry struct {
	stages []Stage
	index  map[string]int
}

// NewRegistry validates the stages and freezes their order. All problems are
// reported together; each is a *ConfigError reachable with errors.As.
func NewRegistry(stages ...Stage) (*Registry, error) {
	if len(stages) == 0 {
		return nil, &ConfigError{Index: -1, Field: "stages", Reason: "at least one stage is required"}
	}
	var errs []error
	r := &Registry{stages: make([]Stage, 0, len(stages)), index: make(map[string]int, len(stages))}
	for i, s := range stages {
		s.Name = strings.TrimSpace(s.Name)
		if iso, err := ParseIsolation(string(s.Isolation)); err == nil {
			s.Isolation = iso
		}
		if s.Name != "" {
			if prev, dup := r.index[s.Name]; dup {
				errs = append(errs, &ConfigError{Index: i, Stage: s.Name, Field: "name",
					Reason: fmt.Sprintf("duplicate stage name (first declared at #%d)", prev+1)})
			} else {
				r.index[s.Name] = i
			}
		}
		errs = append(errs, validateStage(i, s)...)
		r.stages = append(r.stages, s.Clone())
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return r, nil
}

func validateStage(i int, s Stage) []error {
	var errs []error
	bad := func(field, format string, args ...any) {
		errs = append(errs, &ConfigError{Index: i, Stage: s.Name, Field: field, Reason: fmt.Sprintf(format, args...)})
	}

	if s.Name == "" {
		bad("name", "name is required")
	}

	hasRun := strings.TrimSpace(s.Run) != ""
	hasCmd := len(s.Command) > 0
	switch {
	case s.Push != nil && (hasRun || hasCmd):
		bad("push", "push cannot be combined with run or command")
	case hasRun && hasCmd:
		bad("run", "run and command are mutually exclusive")
	case !hasRun && !hasCmd && s.Push == nil:
		bad("run", "one of run, command or push is required")
	}
	if hasCmd && strings.TrimSpace(s.Command[0]) == "" {
		bad("command", "command[0] must name an executable")
	}
	if s.Push != nil {
		if strings.TrimSpace(s.Push.Image) == "" {
			bad("push.image", "image is required")
		}
		if strings.TrimSpace(s.Push.Credentials) == "" {
			bad("push.credentials", "credentials secret id is required")
		}
	}

	if _, err := ParseIsolation(string(s.Isolation)); err != nil {
		bad("isolation", "%v", err)
	}

	if s.WorkDir != "" {
		if err := checkRelative(s.WorkDir); err != nil {
			bad("workdir", "%v", err)
		}
	}

	for k := range s.Env {
		if strings.TrimSpace(k) == "" || strings.Contains(k, "=") {
			bad("env", "invalid variable name %q", k)
		}
	}

	for j, sec := range s.Secrets {
		if strings.TrimSpace(sec.ID) == "" {
			bad("secrets", "secret #%d has an empty id", j+1)
		}
	}

	for _, p := range s.Artifacts {
		if err := ValidatePattern(p); err != nil {
			bad("artifacts", "%v", err)
		}
	}
	return errs
}

// ValidatePattern checks an artifact glob: it must be non-empty, well formed,
// relative and must not climb out of the working directory.
func ValidatePattern(p string) error {
	if strings.TrimSpace(p) == "" {
		return fmt.Errorf("empty artifact pattern")
	}
	if _, err := filepath.Match(p, ""); err != nil {
		return fmt.Errorf("malformed artifact pattern %q: %w", p, err)
	}
	return checkRelative(p)
}

func checkRelative(p string) error {
	if filepath.IsAbs(p) || path.IsAbs(filepath.ToSlash(p)) {
		return fmt.Errorf("path %q must be relative", p)
	}
	clean := path.Clean(filepath.ToSlash(p))
	if clean == ".." || strings.HasPrefix(clean, "../") {
		return fmt.Errorf("path %q escapes the working directory", p)
	}
	return nil
}

// Stages returns a copy of the ordered stage list.
func (r *Registry) Stages() []Stage {
	out := make([]Stage, len(r.stages))
	for i, s := range r.stages {
		out[i] = s.Clone()
	}
	return out
}

// Len returns the number of stages.
func (r *Registry) Len() int { return len(r.stages) }

// Names returns stage names in declaration order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.stages))
	for i, s := range r.stages {
		out[i] = s.Name
	}
	return out
}

// Get returns a copy of the named stage.
func (r *Registry) Get(name string) (Stage, bool) {
	i, ok := r.index[name]
	if !ok {
		return Stage{}, false
	}
	return r.stages[i].Clone(), true
}

// SecretIDs returns every distinct secret id referenced by the registry,
// including push credentials, in first-use order.
func (r *Registry) SecretIDs() []string {
	seen := map[string]bool{}
	var out []string
	add := func(id string) {
		if id != "" && !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	for _, s := range r.stages {
		for _, sec := range s.Secrets {
			add(sec.ID)
		}
		if s.Push != nil {
			add(s.Push.Credentials)
		}
	}
	return out
}
