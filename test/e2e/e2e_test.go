package e2e

import (
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
)

var (
	fsracerBin string
	projRoot   string
)

func TestMain(m *testing.M) {
	tmpBinDir, err := os.MkdirTemp("", "fsracer-bin")
	if err != nil {
		panic(err)
	}
	defer func() {
		if err := os.RemoveAll(tmpBinDir); err != nil {
			panic(err)
		}
	}()

	fsracerBin = filepath.Join(tmpBinDir, "fsracer")

	// Determine project root
	_, thisFile, _, ok := runtime.Caller(0)
	if !ok {
		panic("cannot determine current file path")
	}
	projRoot = filepath.Join(filepath.Dir(thisFile), "..", "..")
	src := filepath.Join(projRoot, "cmd", "main.go")

	cmd := exec.Command("go", "build", "-o", fsracerBin, src)
	if out, err := cmd.CombinedOutput(); err != nil {
		panic(string(out))
	}

	code := m.Run()
	os.Exit(code)
}

// run executes the binary and returns stdout, stderr and the exit code.
func run(t *testing.T, args ...string) (string, string, int) {
	t.Helper()
	cmd := exec.Command(fsracerBin, args...)
	var stdout, stderr strings.Builder
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	code := 0
	if exitErr, ok := err.(*exec.ExitError); ok {
		code = exitErr.ExitCode()
	} else if err != nil {
		t.Fatalf("failed to run %s: %v", fsracerBin, err)
	}
	return stdout.String(), stderr.String(), code
}

func TestE2EMemoryBackendClean(t *testing.T) {
	stdout, stderr, code := run(t,
		"--backend", "memory",
		"--workers", "3",
		"--rounds", "2",
		"--ops", "500",
		"--seed", "9001",
	)
	if code != 0 {
		t.Fatalf("expected exit 0, got %d\nstdout:\n%s\nstderr:\n%s", code, stdout, stderr)
	}
	if stdout != "Silence is golden.\n" {
		t.Fatalf("unexpected diagnostic stream:\n%s", stdout)
	}
}

func TestE2EChaosRunStillClean(t *testing.T) {
	stdout, stderr, code := run(t,
		"--backend", "memory",
		"--workers", "2",
		"--rounds", "2",
		"--ops", "300",
		"--seed", "7",
		"--chaos",
		"--chaos-interrupts", "0.1",
	)
	if code != 0 {
		t.Fatalf("expected exit 0, got %d\nstdout:\n%s\nstderr:\n%s", code, stdout, stderr)
	}
	if !strings.Contains(stdout, "Silence is golden.") {
		t.Fatalf("missing success line:\n%s", stdout)
	}
}

func TestE2EOSFSBackend(t *testing.T) {
	dir := t.TempDir()
	stdout, stderr, code := run(t,
		"--backend", "osfs",
		"--path", dir,
		"--workers", "2",
		"--rounds", "1",
		"--ops", "200",
		"--seed", "31337",
	)
	if code != 0 {
		t.Fatalf("expected exit 0, got %d\nstdout:\n%s\nstderr:\n%s", code, stdout, stderr)
	}
	if !strings.Contains(stdout, "Silence is golden.") {
		t.Fatalf("missing success line:\n%s", stdout)
	}
}

func TestE2EReportArtifact(t *testing.T) {
	report := filepath.Join(t.TempDir(), "report.txt")
	_, stderr, code := run(t,
		"--backend", "memory",
		"--workers", "2",
		"--rounds", "1",
		"--ops", "100",
		"--seed", "5",
		"--report", report,
	)
	if code != 0 {
		t.Fatalf("expected exit 0, got %d\nstderr:\n%s", code, stderr)
	}
	data, err := os.ReadFile(report)
	if err != nil {
		t.Fatalf("report artifact missing: %v", err)
	}
	if !strings.Contains(string(data), "orphans=0") {
		t.Fatalf("unexpected artifact:\n%s", data)
	}
}
