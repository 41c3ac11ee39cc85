package stage

import (
	"fmt"
	"strings"
	"unicode"

	"gopkg.in/yaml.v3"
)

// Isolation decides what a stage failure does to the run.
type Isolation string

const (
	// Tolerant failures are recorded on the stage result only.
	Tolerant Isolation = "tolerant"
	// Strict failures abort the run and skip every remaining stage.
	Strict Isolation = "strict"
)

// ParseIsolation accepts exactly "tolerant" or "strict" (case-insensitive).
// There is no default: an empty value is an error.
func ParseIsolation(s string) (Isolation, error) {
	switch Isolation(strings.ToLower(strings.TrimSpace(s))) {
	case Tolerant:
		return Tolerant, nil
	case Strict:
		return Strict, nil
	case "":
		return "", fmt.Errorf("isolation is required (tolerant or strict)")
	default:
		return "", fmt.Errorf("invalid isolation %q (must be tolerant or strict)", s)
	}
}

// Valid reports whether i is one of the two legal policies.
func (i Isolation) Valid() bool { return i == Tolerant || i == Strict }

func (i Isolation) String() string { return string(i) }

// Secret names a secret a stage needs and the environment variable it is
// exposed under. Username/password secrets are exposed as <Env>_USERNAME and
// <Env>_PASSWORD.
type Secret struct {
	ID  string `yaml:"id" json:"id" mapstructure:"id"`
	Env string `yaml:"env,omitempty" json:"env,omitempty" mapstructure:"env"`
}

// UnmarshalYAML also accepts a bare id ("- registry-creds").
func (s *Secret) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		s.ID = strings.TrimSpace(value.Value)
		s.Env = ""
		return nil
	}
	type plain Secret
	return value.Decode((*plain)(s))
}

// EnvName returns the variable name for the secret, derived from the id when
// Env is empty ("registry-creds" -> "REGISTRY_CREDS").
func (s Secret) EnvName() string {
	if n := strings.TrimSpace(s.Env); n != "" {
		return n
	}
	return envKey(s.ID)
}

func envKey(id string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(id) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(unicode.ToUpper(r))
		} else {
			b.WriteByte('_')
		}
	}
	return b.String()
}

// Push turns a stage into an authenticated registry push of Image:Tag.
type Push struct {
	Image       string `yaml:"image" json:"image" mapstructure:"image"`
	Tag         string `yaml:"tag,omitempty" json:"tag,omitempty" mapstructure:"tag"`
	Registry    string `yaml:"registry,omitempty" json:"registry,omitempty" mapstructure:"registry"`
	Credentials string `yaml:"credentials" json:"credentials" mapstructure:"credentials"`
}

// Stage is one declared unit of pipeline work bound to an external command.
type Stage struct {
	Name      string            `yaml:"name" json:"name" mapstructure:"name"`
	Run       string            `yaml:"run,omitempty" json:"run,omitempty" mapstructure:"run"`
	Command   []string          `yaml:"command,omitempty" json:"command,omitempty" mapstructure:"command"`
	Isolation Isolation         `yaml:"isolation" json:"isolation" mapstructure:"isolation"`
	WorkDir   string            `yaml:"workdir,omitempty" json:"workdir,omitempty" mapstructure:"workdir"`
	Env       map[string]string `yaml:"env,omitempty" json:"env,omitempty" mapstructure:"env"`
	Secrets   []Secret          `yaml:"secrets,omitempty" json:"secrets,omitempty" mapstructure:"secrets"`
	Artifacts []string          `yaml:"artifacts,omitempty" json:"artifacts,omitempty" mapstructure:"artifacts"`
	Push      *Push             `yaml:"push,omitempty" json:"push,omitempty" mapstructure:"push"`
}

// Clone returns a deep copy of s.
func (s Stage) Clone() Stage {
	out := s
	if s.Command != nil {
		out.Command = append([]string(nil), s.Command...)
	}
	if s.Env != nil {
		out.Env = make(map[string]string, len(s.Env))
		for k, v := range s.Env {
			out.Env[k] = v
		}
	}
	if s.Secrets != nil {
		out.Secrets = append([]Secret(nil), s.Secrets...)
	}
	if s.Artifacts != nil {
		out.Artifacts = append([]string(nil), s.Artifacts...)
	}
	if s.Push != nil {
		p := *s.Push
		out.Push = &p
	}
	return out
}

// DeclaresArtifacts reports whether the stage lists any artifact pattern.
func (s Stage) DeclaresArtifacts() bool { return len(s.Artifacts) > 0 }

// IsPush reports whether the stage is a registry push.
func (s Stage) IsPush() bool { return s.Push != nil }

// Describe returns a short human form of the stage command for logs.
func (s Stage) Describe() string {
	switch {
	case s.Push != nil:
		return "push " + s.Push.Reference()
	case len(s.Command) > 0:
		return strings.Join(s.Command, " ")
	default:
		return s.Run
	}
}

// Reference returns image:tag with "latest" as the default tag.
func (p Push) Reference() string {
	tag := strings.TrimSpace(p.Tag)
	if tag == "" {
		tag = "latest"
	}
	return p.Image + ":" + tag
}
