package miner

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"
)

// Tests parseOutput on a well-formed terminal line
func TestParseOutputOK(t *testing.T) {
	out, err := parseOutput("noise\n[42,\"000abc\"]\n")
	if err != nil {
		t.Fatalf("parseOutput: %v", err)
	}
	if out.Nonce != 42 || out.Hash != "000abc" || out.Zeros != 3 {
		t.Fatalf("unexpected output: %+v", out)
	}
}

// Tests parseOutput lowercases the hash before counting zeros
func TestParseOutputLowercases(t *testing.T) {
	out, err := parseOutput("[1,\"00AB\"]")
	if err != nil {
		t.Fatalf("parseOutput: %v", err)
	}
	if out.Hash != "00ab" {
		t.Fatalf("expected lowercase hash, got %q", out.Hash)
	}
}

// Tests parseOutput rejects a non-array terminal line
func TestParseOutputRejectsMalformed(t *testing.T) {
	if _, err := parseOutput("not json at all"); !errors.Is(err, ErrParse) {
		t.Fatalf("expected ErrParse, got %v", err)
	}
}

// Tests parseOutput rejects empty stdout
func TestParseOutputRejectsEmpty(t *testing.T) {
	if _, err := parseOutput("   \n\n"); !errors.Is(err, ErrParse) {
		t.Fatalf("expected ErrParse, got %v", err)
	}
}

func TestCountLeadingZeros(t *testing.T) {
	cases := map[string]int{
		"000abc": 3,
		"abc":    0,
		"00000":  5,
		"":       0,
	}
	for in, want := range cases {
		if got := countLeadingZeros(in); got != want {
			t.Fatalf("countLeadingZeros(%q) = %d, want %d", in, got, want)
		}
	}
}

// Tests Run against a stub executable that prints a well-formed result
func TestRunSuccess(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("stub script assumes a POSIX shell")
	}
	bin := writeStubScript(t, "#!/bin/sh\necho '[7,\"00ff\"]'\n")

	r := NewRunner(bin)
	out, err := r.Run(context.Background(), "farmerhex", 1, "entropyhex", 10)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.Nonce != 7 || out.Hash != "00ff" || out.Zeros != 2 {
		t.Fatalf("unexpected output: %+v", out)
	}
	if r.Running() {
		t.Fatalf("expected Running() false after Run returns")
	}
}

// Tests Run surfaces ErrParse when the stub emits garbage
func TestRunParseFailure(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("stub script assumes a POSIX shell")
	}
	bin := writeStubScript(t, "#!/bin/sh\necho 'not json'\n")

	r := NewRunner(bin)
	_, err := r.Run(context.Background(), "farmerhex", 1, "entropyhex", 10)
	if !errors.Is(err, ErrParse) {
		t.Fatalf("expected ErrParse, got %v", err)
	}
}

func writeStubScript(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "stub-miner.sh")
	if err := os.WriteFile(path, []byte(contents), 0o755); err != nil {
		t.Fatalf("write stub script: %v", err)
	}
	return path
}

// Tests Run surfaces ErrTimeout when the child outlives its deadline
func TestRunTimeout(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("stub script assumes a POSIX shell")
	}
	bin := writeStubScript(t, "#!/bin/sh\nexec sleep 5\n")

	r := NewRunner(bin)
	r.timeout = 20 * time.Millisecond
	_, err := r.Run(context.Background(), "farmer", 1, "entropyhex", 10)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
}

// Tests Kill is safe to call with no live invocation
func TestKillNoop(t *testing.T) {
	r := NewRunner("/bin/true")
	r.Kill()
	if r.Running() {
		t.Fatalf("expected Running() to be false with no invocation in flight")
	}
}
