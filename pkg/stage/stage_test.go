package stage

import (
	"testing"

	"gopkg.in/yaml.v3"
)

func TestStage_YAML(t *testing.T) {
	src := `
name: publish
isolation: strict
secrets:
  - registry-creds
  - id: sonar
    env: SONAR_TOKEN
push:
  image: team/app
  tag: "1.2"
  credentials: registry-creds
artifacts: ["dist/*"]
`
	var s Stage
	if err := yaml.Unmarshal([]byte(src), &s); err != nil {
		t.Fatal(err)
	}
	if len(s.Secrets) != 2 || s.Secrets[0].ID != "registry-creds" || s.Secrets[1].EnvName() != "SONAR_TOKEN" {
		t.Fatalf("secrets = %+v", s.Secrets)
	}
	if !s.IsPush() || s.Push.Reference() != "team/app:1.2" || s.Describe() != "push team/app:1.2" {
		t.Fatalf("push = %+v", s.Push)
	}
	if s.Isolation != Strict {
		t.Fatalf("isolation = %q", s.Isolation)
	}
}

func TestStage_CloneIsDeep(t *testing.T) {
	s := Stage{Name: "a", Command: []string{"make"}, Env: map[string]string{"K": "v"}, Push: &Push{Image: "x"}}
	c := s.Clone()
	c.Command[0] = "other"
	c.Env["K"] = "changed"
	c.Push.Image = "y"
	if s.Command[0] != "make" || s.Env["K"] != "v" || s.Push.Image != "x" {
		t.Fatalf("clone shares state: %+v", s)
	}
}
