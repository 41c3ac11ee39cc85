package secret

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/loykin/piperun/internal/common"
	"github.com/loykin/piperun/pkg/stage"
)

func TestAcquire_ExposesAndReleases(t *testing.T) {
	m := common.NewMasker()
	p := Static{
		"sonar":    {Value: "sonar-token-123"},
		"registry": {Username: "ci", Password: "registry-pass"},
	}
	l, err := Acquire(context.Background(), p, []stage.Secret{
		{ID: "sonar", Env: "SONAR_TOKEN"},
		{ID: "registry"},
	}, m)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	env := l.Env()
	if env["SONAR_TOKEN"] != "sonar-token-123" {
		t.Fatalf("SONAR_TOKEN = %q", env["SONAR_TOKEN"])
	}
	if env["REGISTRY_USERNAME"] != "ci" || env["REGISTRY_PASSWORD"] != "registry-pass" {
		t.Fatalf("credential env = %v", env)
	}
	if got := m.MaskString("echo registry-pass"); strings.Contains(got, "registry-pass") {
		t.Fatalf("held secret not masked: %q", got)
	}
	if s, ok := l.Get("registry"); !ok || s.Username != "ci" {
		t.Fatalf("Get(registry) = %+v %v", s, ok)
	}

	l.Release()
	l.Release()
	if !l.Released() {
		t.Fatal("Released() = false")
	}
	if len(l.Env()) != 0 {
		t.Fatalf("env retained after release: %v", l.Env())
	}
	if _, ok := l.Get("registry"); ok {
		t.Fatal("secret retained after release")
	}
	if m.SecretCount() != 0 {
		t.Fatalf("masker still holds %d secrets", m.SecretCount())
	}
}

func TestAcquire_FailureReleasesPartial(t *testing.T) {
	m := common.NewMasker()
	p := Static{"first": {Value: "first-value"}}
	_, err := Acquire(context.Background(), p, []stage.Secret{{ID: "first"}, {ID: "missing"}}, m)
	var re *ResolveError
	if !errors.As(err, &re) || re.ID != "missing" {
		t.Fatalf("expected ResolveError for missing, got %v", err)
	}
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound in chain: %v", err)
	}
	if m.SecretCount() != 0 {
		t.Fatal("partially acquired secret still registered with masker")
	}
}

func TestAcquire_NoRequests(t *testing.T) {
	l, err := Acquire(context.Background(), nil, nil, nil)
	if err != nil || len(l.Env()) != 0 {
		t.Fatalf("got %v %v", l, err)
	}
	if _, err := Acquire(context.Background(), nil, []stage.Secret{{ID: "x"}}, nil); err == nil {
		t.Fatal("nil provider with requests should fail")
	}
}

func TestChain(t *testing.T) {
	boom := errors.New("vault sealed")
	c := Chain{
		Static{"a": {Value: "from-static"}},
		ProviderFunc(func(_ context.Context, id string) (Secret, error) {
			if id == "broken" {
				return Secret{}, boom
			}
			return Secret{}, ErrNotFound
		}),
		Static{"b": {Value: "from-second"}},
	}
	if s, err := c.Resolve(context.Background(), "b"); err != nil || s.Value != "from-second" {
		t.Fatalf("got %+v %v", s, err)
	}
	if _, err := c.Resolve(context.Background(), "broken"); !errors.Is(err, boom) {
		t.Fatalf("non-NotFound error should stop the chain, got %v", err)
	}
	if _, err := c.Resolve(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("got %v", err)
	}
}

func TestEnvProvider(t *testing.T) {
	t.Setenv("PIPERUN_SECRET_SONAR_TOKEN", "abc")
	t.Setenv("PIPERUN_SECRET_REGISTRY_USERNAME", "bot")
	t.Setenv("PIPERUN_SECRET_REGISTRY_PASSWORD", "pw")
	t.Setenv("CUSTOM_VAR", "custom")

	p := NewEnvProvider(EnvConfig{})
	if s, err := p.Resolve(context.Background(), "sonar-token"); err != nil || s.Value != "abc" {
		t.Fatalf("got %+v %v", s, err)
	}
	if s, err := p.Resolve(context.Background(), "registry"); err != nil || s.Username != "bot" || s.Password != "pw" {
		t.Fatalf("got %+v %v", s, err)
	}
	if _, err := p.Resolve(context.Background(), "absent"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("got %v", err)
	}

	named := NewEnvProvider(EnvConfig{Names: map[string]string{"x": "CUSTOM_VAR"}})
	if s, err := named.Resolve(context.Background(), "x"); err != nil || s.Value != "custom" {
		t.Fatalf("got %+v %v", s, err)
	}
}

func TestFileProvider(t *testing.T) {
	path := filepath.Join(t.TempDir(), "secrets.json")
	doc := `{"sonar":{"token":"sq_123"},"registry":{"username":"ci","password":"pw"},"plain":{"value":"v"}}`
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatal(err)
	}
	p, err := NewFileProvider(FileConfig{Path: path, Paths: map[string]string{"sonar": "sonar.token"}})
	if err != nil {
		t.Fatal(err)
	}
	tests := []struct {
		id   string
		want Secret
	}{
		{"sonar", Secret{Value: "sq_123"}},
		{"registry", Secret{Username: "ci", Password: "pw"}},
		{"plain", Secret{Value: "v"}},
	}
	for _, tt := range tests {
		got, err := p.Resolve(context.Background(), tt.id)
		if err != nil || got != tt.want {
			t.Errorf("Resolve(%s) = %+v %v want %+v", tt.id, got, err, tt.want)
		}
	}
	if _, err := p.Resolve(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("got %v", err)
	}
	if _, err := NewFileProvider(FileConfig{}); err == nil {
		t.Fatal("empty path should fail")
	}
}

func TestOAuth2Provider(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		if r.Form.Get("grant_type") != "client_credentials" || r.Form.Get("client_id") != "pipeline" {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"tok-xyz","token_type":"bearer","expires_in":3600}`))
	}))
	defer srv.Close()

	p, err := NewOAuth2Provider(OAuth2Config{TokenURL: srv.URL, ClientID: "pipeline", ClientSecret: "s", IDs: []string{"api"}})
	if err != nil {
		t.Fatal(err)
	}
	s, err := p.Resolve(context.Background(), "api")
	if err != nil || s.Value != "tok-xyz" {
		t.Fatalf("got %+v %v", s, err)
	}
	if _, err := p.Resolve(context.Background(), "other"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unserved id should be not found, got %v", err)
	}
	if _, err := NewOAuth2Provider(OAuth2Config{TokenURL: srv.URL}); err == nil {
		t.Fatal("missing client credentials should fail")
	}
}

func TestRegistry_FromSpecs(t *testing.T) {
	chain, err := FromSpecs([]Spec{
		{Type: "static", Config: map[string]interface{}{
			"values": map[string]interface{}{"a": "1"},
			"credentials": map[string]interface{}{
				"reg": map[string]interface{}{"username": "u", "password": "p"},
			},
		}},
		{Type: "ENV", Config: map[string]interface{}{"prefix": "X_"}},
	})
	if err != nil {
		t.Fatalf("FromSpecs: %v", err)
	}
	if len(chain) != 2 {
		t.Fatalf("len = %d", len(chain))
	}
	if s, err := chain.Resolve(context.Background(), "reg"); err != nil || s.Password != "p" {
		t.Fatalf("got %+v %v", s, err)
	}

	if _, err := FromSpecs([]Spec{{Type: "vault"}}); err == nil {
		t.Fatal("unknown type should fail")
	}
	if _, err := New("env", map[string]interface{}{"unknown_key": 1}); err == nil {
		t.Fatal("unused keys should be rejected")
	}
}
