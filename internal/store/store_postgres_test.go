package store

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// waitForPostgresDSN pings the DSN until it responds or timeout elapses (pgx stdlib).
func waitForPostgresDSN(dsn string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	var lastErr error
	for time.Now().Before(deadline) {
		db, err := sql.Open("pgx", dsn)
		if err == nil {
			pingErr := db.Ping()
			_ = db.Close()
			if pingErr == nil {
				return nil
			}
			lastErr = pingErr
		} else {
			lastErr = err
		}
		time.Sleep(500 * time.Millisecond)
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("timeout waiting for postgres")
	}
	return lastErr
}

func TestPostgresStore_RunHistory(t *testing.T) {
	if testing.Short() {
		t.Skip("short mode")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Second)
	defer cancel()

	req := tc.ContainerRequest{
		Image:        "postgres:16",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "test",
			"POSTGRES_PASSWORD": "test",
			"POSTGRES_DB":       "piperun_test",
		},
		WaitingFor: wait.ForAll(
			wait.ForListeningPort("5432/tcp"),
			wait.ForLog("database system is ready to accept connections"),
		),
	}
	pg, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{ContainerRequest: req, Started: true})
	if err != nil {
		t.Skipf("skipping Postgres container test: %v", err)
		return
	}
	defer func() { _ = pg.Terminate(ctx) }()

	host, err := pg.Host(ctx)
	if err != nil {
		t.Fatalf("container host: %v", err)
	}
	port, err := pg.MappedPort(ctx, "5432/tcp")
	if err != nil {
		t.Fatalf("container port: %v", err)
	}
	pcfg := &PostgresConfig{Host: host, Port: port.Int(), User: "test", Password: "test", DBName: "piperun_test"}
	dsn, _ := pcfg.ToMap()["dsn"].(string)
	if err := waitForPostgresDSN(dsn, 30*time.Second); err != nil {
		t.Fatalf("postgres not ready: %v", err)
	}

	st, err := Open(ctx, Config{Driver: DriverPostgresql, DriverConfig: pcfg})
	if err != nil {
		t.Fatalf("Open(Postgres): %v", err)
	}
	defer func() { _ = st.Close() }()

	for _, tbl := range []string{"pipeline_runs", "stage_results", "artifacts"} {
		var one int
		if err := st.DB.QueryRow(`SELECT 1 FROM information_schema.tables WHERE table_name = $1`, tbl).Scan(&one); err != nil {
			t.Fatalf("expected table %s to exist: %v", tbl, err)
		}
	}

	t0 := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	if err := st.RecordRun(ctx, sampleRun("pg-1", t0, "Aborted")); err != nil {
		t.Fatalf("RecordRun: %v", err)
	}
	if err := st.RecordRun(ctx, sampleRun("pg-2", t0.Add(time.Minute), "Completed")); err != nil {
		t.Fatalf("RecordRun: %v", err)
	}
	got, err := st.GetRun(ctx, "pg-1")
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if !got.StartedAt.Equal(t0) || len(got.Stages) != 2 || !got.Artifacts[0].Archived {
		t.Fatalf("run = %+v", got)
	}
	runs, err := st.ListRuns(ctx, ListOptions{Outcome: "Completed"})
	if err != nil || len(runs) != 1 || runs[0].RunID != "pg-2" {
		t.Fatalf("ListRuns = %+v, %v", runs, err)
	}
}
