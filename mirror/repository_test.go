package mirror

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
)

const testGitUser = "github-backup-test"

var (
	testLog  = slog.Default()
	testCtx  = context.TODO()
	testENVs []string
)

func TestMain(m *testing.M) {
	if _, err := exec.LookPath("git"); err != nil {
		fmt.Println("git executable not found, skipping mirror tests")
		os.Exit(0)
	}

	testTmpDir, err := os.MkdirTemp("", "github-backup-test-")
	if err != nil {
		fmt.Println("unable to create temp dir:", err)
		os.Exit(1)
	}

	testENVs = []string{
		fmt.Sprintf("PATH=%s", os.Getenv("PATH")),
		fmt.Sprintf("GIT_CONFIG_GLOBAL=%s/gitconfig", testTmpDir),
		`GIT_CONFIG_SYSTEM=/dev/null`,
	}

	os.Setenv("GIT_CONFIG_GLOBAL", filepath.Join(testTmpDir, "gitconfig"))
	os.Setenv("GIT_CONFIG_SYSTEM", "/dev/null")

	mustExecM("", "git", "config", "--global", "user.name", testGitUser)
	mustExecM("", "git", "config", "--global", "user.email", testGitUser+"@example.com")
	mustExecM("", "git", "config", "--global", "init.defaultBranch", "main")

	code := m.Run()

	os.RemoveAll(testTmpDir)

	os.Exit(code)
}

func mustExecM(cwd string, name string, args ...string) {
	cmd := exec.Command(name, args...)
	if cwd != "" {
		cmd.Dir = cwd
	}
	if out, err := cmd.CombinedOutput(); err != nil {
		fmt.Printf("command %s %v failed: %v\n%s\n", name, args, err, out)
		os.Exit(1)
	}
}

func mustExec(t *testing.T, cwd string, name string, args ...string) string {
	t.Helper()

	cmd := exec.Command(name, args...)
	if cwd != "" {
		cmd.Dir = cwd
	}
	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("command %s %v failed: %v\n%s", name, args, err, out)
	}
	return strings.TrimSpace(string(out))
}

// mustInitRepo creates an upstream repository at the given path with one
// committed file.
func mustInitRepo(t *testing.T, path, file, content string) {
	t.Helper()

	if err := os.MkdirAll(path, 0755); err != nil {
		t.Fatalf("unable to create upstream dir: %v", err)
	}
	mustExec(t, path, "git", "init", "-q")
	if err := os.WriteFile(filepath.Join(path, file), []byte(content), 0644); err != nil {
		t.Fatalf("unable to write file: %v", err)
	}
	mustExec(t, path, "git", "add", file)
	mustExec(t, path, "git", "commit", "-q", "-m", "add "+file)
}

func mustCommitFile(t *testing.T, path, file, content string) {
	t.Helper()

	if err := os.WriteFile(filepath.Join(path, file), []byte(content), 0644); err != nil {
		t.Fatalf("unable to write file: %v", err)
	}
	mustExec(t, path, "git", "add", file)
	mustExec(t, path, "git", "commit", "-q", "-m", "update "+file)
}

func Test_Sync_clone_then_fetch(t *testing.T) {
	testTmpDir := t.TempDir()

	upstream := filepath.Join(testTmpDir, "upstream1")
	root := filepath.Join(testTmpDir, "root")

	mustInitRepo(t, upstream, "file", t.Name())
	if err := os.MkdirAll(root, 0755); err != nil {
		t.Fatalf("unable to create root: %v", err)
	}

	repo, err := New("repo1", upstream, root, "off", testENVs, testLog)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	t.Log("TEST1: fresh mirror is cloned and published")
	action, err := repo.Sync(testCtx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if action != ActionCloned {
		t.Errorf("action = %v, want %v", action, ActionCloned)
	}
	if _, err := os.Stat(repo.Dir()); err != nil {
		t.Fatalf("mirror dir missing: %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, ".repo1")); !os.IsNotExist(err) {
		t.Errorf("temporary clone path still present: %v", err)
	}
	if out := mustExec(t, repo.Dir(), "git", "rev-parse", "--is-bare-repository"); out != "true" {
		t.Errorf("published mirror is not bare: %q", out)
	}

	t.Log("TEST2: second sync fetches in place")
	mustCommitFile(t, upstream, "file", t.Name()+"-updated")
	upstreamHead := mustExec(t, upstream, "git", "rev-parse", "HEAD")

	action, err = repo.Sync(testCtx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if action != ActionFetched {
		t.Errorf("action = %v, want %v", action, ActionFetched)
	}
	if head := mustExec(t, repo.Dir(), "git", "rev-parse", "HEAD"); head != upstreamHead {
		t.Errorf("mirror HEAD = %s, want %s", head, upstreamHead)
	}
}

func Test_Sync_clone_failure_publishes_nothing(t *testing.T) {
	testTmpDir := t.TempDir()
	root := filepath.Join(testTmpDir, "root")

	if err := os.MkdirAll(root, 0755); err != nil {
		t.Fatalf("unable to create root: %v", err)
	}

	repo, err := New("repo1", filepath.Join(testTmpDir, "no-such-upstream"), root, "off", testENVs, testLog)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := repo.Sync(testCtx); err == nil {
		t.Fatal("expected an error")
	}

	// nothing may appear under the final name after a failed clone
	if _, err := os.Stat(repo.Dir()); !os.IsNotExist(err) {
		t.Errorf("mirror dir exists after failed clone: %v", err)
	}
}

func Test_Sync_fetch_failure(t *testing.T) {
	testTmpDir := t.TempDir()

	upstream := filepath.Join(testTmpDir, "upstream1")
	root := filepath.Join(testTmpDir, "root")

	mustInitRepo(t, upstream, "file", t.Name())
	if err := os.MkdirAll(root, 0755); err != nil {
		t.Fatalf("unable to create root: %v", err)
	}

	repo, err := New("repo1", upstream, root, "off", testENVs, testLog)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := repo.Sync(testCtx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// removing the upstream makes the next fetch fail but the existing
	// mirror must survive
	if err := os.RemoveAll(upstream); err != nil {
		t.Fatalf("unable to remove upstream: %v", err)
	}
	if _, err := repo.Sync(testCtx); err == nil {
		t.Fatal("expected an error")
	}
	if _, err := os.Stat(repo.Dir()); err != nil {
		t.Errorf("mirror dir missing after failed fetch: %v", err)
	}
}

func TestNew_validation(t *testing.T) {
	tests := []struct {
		name    string
		args    []string // name, remote, root, gitGC
		wantErr bool
	}{
		{"valid", []string{"repo1", "https://example.com/r.git", "/root", "aggressive"}, false},
		{"valid_gc_off", []string{"repo1", "https://example.com/r.git", "/root", "off"}, false},
		{"empty_name", []string{"", "https://example.com/r.git", "/root", "auto"}, true},
		{"relative_root", []string{"repo1", "https://example.com/r.git", "root", "auto"}, true},
		{"invalid_gc", []string{"repo1", "https://example.com/r.git", "/root", "blah"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.args[0], tt.args[1], tt.args[2], tt.args[3], nil, testLog)
			if (err != nil) != tt.wantErr {
				t.Errorf("New() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
