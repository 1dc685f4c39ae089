package cmd

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mohammad-safakhou/ideaforge/internal/directive"
	"github.com/mohammad-safakhou/ideaforge/internal/problem"
	"github.com/mohammad-safakhou/ideaforge/internal/snapshot"
	"github.com/mohammad-safakhou/ideaforge/internal/tree"
)

func writeProblemFile(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "problem.yaml")
	body := "title: test\nstatement: reduce food waste in restaurants\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

// A misconfigured oracle must surface its cause through the command, not
// crash before reporting.
func TestRunCommandFailsCleanlyWithoutAPIKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	dir := t.TempDir()

	cmd := runCMD()
	cmd.SilenceUsage = true
	cmd.SilenceErrors = true
	cmd.SetArgs([]string{writeProblemFile(t, dir), "--snapshot", filepath.Join(dir, "out.json")})

	err := cmd.Execute()
	if err == nil {
		t.Fatal("expected a configuration error")
	}
	if !strings.Contains(err.Error(), "api key") {
		t.Fatalf("error should name the missing key, got: %v", err)
	}
}

func TestResumeCommandFailsCleanlyWithoutAPIKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	dir := t.TempDir()

	p := &problem.Problem{
		Title:     "test",
		Statement: "reduce food waste in restaurants",
		Criteria:  problem.DefaultCriteria(),
	}
	doc := snapshot.Capture("run-1", p, directive.DefaultSet(), tree.New(), 0)
	snapPath := filepath.Join(dir, "run.json")
	if err := snapshot.NewManager(snapPath).Save(doc); err != nil {
		t.Fatalf("save: %v", err)
	}

	cmd := resumeCMD()
	cmd.SilenceUsage = true
	cmd.SilenceErrors = true
	cmd.SetArgs([]string{snapPath})

	err := cmd.Execute()
	if err == nil {
		t.Fatal("expected a configuration error")
	}
	if !strings.Contains(err.Error(), "api key") {
		t.Fatalf("error should name the missing key, got: %v", err)
	}
}
