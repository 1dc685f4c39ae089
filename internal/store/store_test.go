package store_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/google/uuid"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/mohammad-safakhou/ideaforge/internal/snapshot"
	"github.com/mohammad-safakhou/ideaforge/internal/store"
	"github.com/mohammad-safakhou/ideaforge/internal/tree"
)

func startPostgres(t *testing.T, ctx context.Context) string {
	t.Helper()
	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "ideaforge",
			"POSTGRES_PASSWORD": "ideaforge",
			"POSTGRES_DB":       "ideaforge",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).WithStartupTimeout(60 * time.Second),
	}
	pgC, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("postgres container: %v", err)
	}
	t.Cleanup(func() { _ = pgC.Terminate(ctx) })

	host, err := pgC.Host(ctx)
	if err != nil {
		t.Fatalf("postgres host: %v", err)
	}
	port, err := pgC.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("postgres port: %v", err)
	}
	dsn := fmt.Sprintf("postgres://ideaforge:ideaforge@%s:%s/ideaforge?sslmode=disable", host, port.Port())

	m, err := migrate.New("file://../../migrations", dsn)
	if err != nil {
		t.Fatalf("migrate init: %v", err)
	}
	if err := m.Up(); err != nil {
		t.Fatalf("migrate up: %v", err)
	}
	return dsn
}

// buildDocument runs a tiny deterministic tree through the real tree
// operations so the archived state satisfies every restore invariant.
func buildDocument(t *testing.T) *snapshot.Document {
	t.Helper()
	tr := tree.New()
	root := tr.RootID()
	scores := []float64{0.9, 0.6, 0.75}
	names := []string{"Conceptual Blend", "Invert Assumptions", "Perspective Shift"}
	for i := 0; i < 3; i++ {
		id, err := tr.CreateNode(root, fmt.Sprintf("idea %d", i), names[i])
		if err != nil {
			t.Fatalf("create node: %v", err)
		}
		if err := tr.SetEvaluation(id, tree.ScoreBreakdown{
			Criteria:  map[string]float64{"Innovative": scores[i]},
			Aggregate: scores[i],
		}); err != nil {
			t.Fatalf("set evaluation: %v", err)
		}
		if err := tr.Backpropagate(id, scores[i]); err != nil {
			t.Fatalf("backprop: %v", err)
		}
	}
	return &snapshot.Document{
		Version:    snapshot.Version,
		RunID:      uuid.NewString(),
		Statement:  "reduce office paper waste",
		Iterations: 3,
		Nodes:      tr.Nodes(),
	}
}

func TestArchiveAndQueryRun(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	ctx := context.Background()
	dsn := startPostgres(t, ctx)

	st, err := store.New(ctx, dsn)
	if err != nil {
		t.Fatalf("store init: %v", err)
	}
	defer st.DB.Close()

	doc := buildDocument(t)

	runID, err := st.ArchiveSnapshot(ctx, "", doc, "budget_exhausted")
	if err != nil {
		t.Fatalf("archive: %v", err)
	}

	run, err := st.GetRun(ctx, runID)
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if run.Status != store.RunStatusSucceeded {
		t.Fatalf("run status = %q, want succeeded", run.Status)
	}
	if run.Iterations != 3 || run.NodeCount != 4 {
		t.Fatalf("run iterations=%d nodes=%d, want 3/4", run.Iterations, run.NodeCount)
	}
	if run.BestScore != 0.9 {
		t.Fatalf("run best score = %.2f, want 0.90", run.BestScore)
	}

	ideas, err := st.ListIdeas(ctx, runID)
	if err != nil {
		t.Fatalf("list ideas: %v", err)
	}
	if len(ideas) != 3 {
		t.Fatalf("got %d ideas, want 3 (root excluded)", len(ideas))
	}
	for i, idea := range ideas {
		if idea.Seq != i+1 {
			t.Fatalf("idea %d out of creation order (seq %d)", i, idea.Seq)
		}
		if idea.Scores["Innovative"] == 0 {
			t.Fatalf("idea %s lost its score breakdown", idea.ID)
		}
	}

	top, err := st.TopIdeas(ctx, runID, 2)
	if err != nil {
		t.Fatalf("top ideas: %v", err)
	}
	if len(top) != 2 || top[0].Aggregate != 0.9 || top[1].Aggregate != 0.75 {
		t.Fatalf("top ideas ranked wrong: %+v", top)
	}

	// Re-archiving replaces ideas instead of duplicating them.
	if _, err := st.ArchiveSnapshot(ctx, "", doc, "budget_exhausted"); err != nil {
		t.Fatalf("re-archive: %v", err)
	}
	ideas, err = st.ListIdeas(ctx, runID)
	if err != nil {
		t.Fatalf("list ideas after re-archive: %v", err)
	}
	if len(ideas) != 3 {
		t.Fatalf("re-archive duplicated ideas: got %d", len(ideas))
	}
}

func TestUsersAndSchedules(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	ctx := context.Background()
	dsn := startPostgres(t, ctx)

	st, err := store.New(ctx, dsn)
	if err != nil {
		t.Fatalf("store init: %v", err)
	}
	defer st.DB.Close()

	if err := st.CreateUser(ctx, "a@b.c", "hash"); err != nil {
		t.Fatalf("create user: %v", err)
	}
	id, hash, err := st.GetUserByEmail(ctx, "a@b.c")
	if err != nil || id == "" || hash != "hash" {
		t.Fatalf("get user: id=%q hash=%q err=%v", id, hash, err)
	}
	if _, _, err := st.GetUserByEmail(ctx, "missing@b.c"); err == nil {
		t.Fatal("expected not-found for missing user")
	}

	scID, err := st.CreateSchedule(ctx, "weekly brainstorm", "statement: test", "0 9 * * 1")
	if err != nil {
		t.Fatalf("create schedule: %v", err)
	}
	list, err := st.ListSchedules(ctx)
	if err != nil || len(list) != 1 {
		t.Fatalf("list schedules: %v (%d)", err, len(list))
	}
	if !list[0].Enabled || list[0].LastRunAt != nil {
		t.Fatalf("fresh schedule state wrong: %+v", list[0])
	}

	now := time.Now().UTC().Truncate(time.Second)
	if err := st.TouchSchedule(ctx, scID, now); err != nil {
		t.Fatalf("touch schedule: %v", err)
	}
	if err := st.SetScheduleEnabled(ctx, scID, false); err != nil {
		t.Fatalf("disable schedule: %v", err)
	}
	list, _ = st.ListSchedules(ctx)
	if list[0].Enabled || list[0].LastRunAt == nil {
		t.Fatalf("schedule update lost: %+v", list[0])
	}
	if err := st.DeleteSchedule(ctx, scID); err != nil {
		t.Fatalf("delete schedule: %v", err)
	}
	if err := st.DeleteSchedule(ctx, scID); err == nil {
		t.Fatal("expected not-found deleting twice")
	}
}
