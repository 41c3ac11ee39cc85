package status

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/loykin/piperun/internal/store"
)

func seed(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(context.Background(), store.Config{
		DriverConfig: &store.SqliteConfig{Path: filepath.Join(t.TempDir(), store.DbFileName)},
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = st.Close() })
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	for i, outcome := range []string{"Completed", "Aborted", "Completed"} {
		r := store.RunRecord{
			RunID:      "run-" + string(rune('a'+i)),
			SourceRef:  "main",
			Status:     "Notified",
			Outcome:    outcome,
			StartedAt:  base.Add(time.Duration(i) * time.Hour),
			FinishedAt: base.Add(time.Duration(i)*time.Hour + time.Minute),
			Stages: []store.StageRecord{
				{Seq: 1, Name: "build", Status: "success", Isolation: "strict", DurationMS: 1200},
				{Seq: 2, Name: "scan", Status: "failed", Isolation: "tolerant", ExitCode: 3},
			},
			Artifacts: []store.ArtifactRecord{
				{Stage: "scan", Pattern: "*.json", Error: "pattern matched no files"},
			},
		}
		if err := st.RecordRun(context.Background(), r); err != nil {
			t.Fatal(err)
		}
	}
	return st
}

func TestListAndFormat(t *testing.T) {
	st := seed(t)
	items, err := List(context.Background(), st, store.ListOptions{Outcome: "Completed"})
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 2 || items[0].RunID != "run-c" {
		t.Fatalf("items = %+v", items)
	}
	out := FormatList(items)
	if !strings.HasPrefix(out, "run-c Completed") || !strings.Contains(out, "took=1m0s") {
		t.Fatalf("format = %q", out)
	}
	if FormatList(nil) != "no runs recorded\n" {
		t.Fatal("empty history format")
	}
}

func TestShowAndFormatDetail(t *testing.T) {
	st := seed(t)
	d, err := Show(context.Background(), st, "run-b")
	if err != nil {
		t.Fatal(err)
	}
	out := FormatDetail(d)
	for _, want := range []string{"outcome: Aborted", "2. scan failed (tolerant) exit=3", "scan *.json unavailable"} {
		if !strings.Contains(out, want) {
			t.Errorf("detail missing %q:\n%s", want, out)
		}
	}
	if _, err := Show(context.Background(), st, "nope"); err == nil {
		t.Fatal("expected not found")
	}
}

func TestHandler(t *testing.T) {
	st := seed(t)
	auth := AuthConfig{Secret: "s3cret", Issuer: "piperun"}
	srv := httptest.NewServer(NewHandler(st, auth))
	defer srv.Close()

	tok, err := IssueToken(auth, "ops", time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	wrongKey, _ := IssueToken(AuthConfig{Secret: "other", Issuer: "piperun"}, "ops", time.Minute)

	tests := []struct {
		name  string
		path  string
		token string
		code  int
		check func(t *testing.T, body []byte)
	}{
		{name: "health open", path: "/healthz", code: http.StatusOK},
		{name: "no token", path: "/api/v1/runs", code: http.StatusUnauthorized},
		{name: "wrong key", path: "/api/v1/runs", token: wrongKey, code: http.StatusUnauthorized},
		{name: "list", path: "/api/v1/runs?limit=2", token: tok, code: http.StatusOK, check: func(t *testing.T, body []byte) {
			var resp struct{ Runs []RunItem }
			if err := json.Unmarshal(body, &resp); err != nil {
				t.Fatal(err)
			}
			if len(resp.Runs) != 2 || resp.Runs[0].RunID != "run-c" {
				t.Fatalf("runs = %+v", resp.Runs)
			}
		}},
		{name: "bad limit", path: "/api/v1/runs?limit=x", token: tok, code: http.StatusBadRequest},
		{name: "show", path: "/api/v1/runs/run-a", token: tok, code: http.StatusOK, check: func(t *testing.T, body []byte) {
			var d RunDetail
			if err := json.Unmarshal(body, &d); err != nil {
				t.Fatal(err)
			}
			if d.RunID != "run-a" || len(d.Stages) != 2 || d.Stages[1].ExitCode != 3 {
				t.Fatalf("detail = %+v", d)
			}
		}},
		{name: "unknown run", path: "/api/v1/runs/nope", token: tok, code: http.StatusNotFound},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req, _ := http.NewRequest(http.MethodGet, srv.URL+tc.path, nil)
			if tc.token != "" {
				req.Header.Set("Authorization", "Bearer "+tc.token)
			}
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				t.Fatal(err)
			}
			defer func() { _ = resp.Body.Close() }()
			if resp.StatusCode != tc.code {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tc.code)
			}
			if tc.check != nil {
				body, err := io.ReadAll(resp.Body)
				if err != nil {
					t.Fatal(err)
				}
				tc.check(t, body)
			}
		})
	}
}

func TestHandlerWithoutAuth(t *testing.T) {
	st := seed(t)
	rec := httptest.NewRecorder()
	NewHandler(st, AuthConfig{}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/runs", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestIssueTokenRequiresSecret(t *testing.T) {
	if _, err := IssueToken(AuthConfig{}, "x", 0); err == nil {
		t.Fatal("expected error")
	}
}
