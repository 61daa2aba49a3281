package planner

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/justapithecus/mender/devin"
	"github.com/justapithecus/mender/log"
	"github.com/justapithecus/mender/types"
)

func writePlaybook(t *testing.T, dir, name, body string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestPlaybookTitle(t *testing.T) {
	if got := playbookTitle("x/xss.devin.md", "# XSS Remediation\n\nSteps."); got != "XSS Remediation" {
		t.Errorf("title = %q", got)
	}
	if got := playbookTitle("x/xss.devin.md", "no heading here"); got != "xss" {
		t.Errorf("fallback title = %q", got)
	}
}

func TestPlaybookPath_FallsBack(t *testing.T) {
	dir := t.TempDir()
	writePlaybook(t, dir, fallbackPlaybook, "# Dependency Upgrade")

	got := playbookPath(dir, types.CategorySQLInjection)
	if got != filepath.Join(dir, fallbackPlaybook) {
		t.Errorf("path = %q, want fallback", got)
	}

	writePlaybook(t, dir, "sql_injection.devin.md", "# SQL Injection Fix")
	got = playbookPath(dir, types.CategorySQLInjection)
	if got != filepath.Join(dir, "sql_injection.devin.md") {
		t.Errorf("path = %q, want dedicated playbook", got)
	}
}

func TestEnsurePlaybooks(t *testing.T) {
	dir := t.TempDir()
	writePlaybook(t, dir, "xss.devin.md", "# XSS Remediation\n\nEscape output.")
	writePlaybook(t, dir, fallbackPlaybook, "# Dependency Upgrade\n\nBump it.")

	client := devin.NewMockClient(1)
	findings := []*types.Finding{
		{FindingID: "F-1", Category: types.CategoryXSS},
		{FindingID: "F-2", Category: types.CategorySQLInjection},
	}

	assignment, err := EnsurePlaybooks(context.Background(), client, dir, findings, log.Nop())
	if err != nil {
		t.Fatalf("EnsurePlaybooks failed: %v", err)
	}
	if assignment[types.CategoryXSS] == "" || assignment[types.CategorySQLInjection] == "" {
		t.Fatalf("unassigned categories: %+v", assignment)
	}
	// sql_injection has no dedicated file and rides the fallback playbook.
	if assignment[types.CategoryXSS] == assignment[types.CategorySQLInjection] {
		t.Error("distinct titles should map to distinct playbooks")
	}

	remote, _ := client.ListPlaybooks(context.Background())
	if len(remote) != 2 {
		t.Fatalf("remote playbooks = %d, want 2", len(remote))
	}

	// Second run matches by title and uploads nothing new.
	again, err := EnsurePlaybooks(context.Background(), client, dir, findings, log.Nop())
	if err != nil {
		t.Fatal(err)
	}
	if again[types.CategoryXSS] != assignment[types.CategoryXSS] {
		t.Error("re-run reassigned a different playbook id")
	}
	remote, _ = client.ListPlaybooks(context.Background())
	if len(remote) != 2 {
		t.Errorf("remote playbooks = %d after re-run, want 2", len(remote))
	}
}

func TestEnsurePlaybooks_MissingFile(t *testing.T) {
	client := devin.NewMockClient(1)
	_, err := EnsurePlaybooks(context.Background(), client, t.TempDir(), []*types.Finding{{FindingID: "F-1", Category: types.CategoryXSS}}, log.Nop())
	if err == nil {
		t.Fatal("expected error when neither dedicated nor fallback playbook exists")
	}
}
