package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kirillkom/document-pipeline/internal/core/domain"
)

func writeFile(t *testing.T, name string, content []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func runCommand(ctx context.Context, args ...string) (string, error) {
	var out, errOut bytes.Buffer
	cmd := newRootCommand()
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(ctx)
	return out.String(), err
}

func decodeResults(t *testing.T, out string) []processResult {
	t.Helper()
	var results []processResult
	if err := json.Unmarshal([]byte(out), &results); err != nil {
		t.Fatalf("expected JSON results, got %q (%v)", out, err)
	}
	return results
}

func TestProcessCommandCompletesFiles(t *testing.T) {
	memo := writeFile(t, "memo.txt", []byte("Memo to staff. The quarterly review meeting moves to Friday."))
	notes := writeFile(t, "notes.md", []byte("# Notes\n\nShip the pipeline release next week."))

	out, err := runCommand(context.Background(), "process", "--json", memo, notes)
	if err != nil {
		t.Fatalf("expected success, got %v (%s)", err, out)
	}
	results := decodeResults(t, out)
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	for _, result := range results {
		if result.Document == nil || result.Document.Status != domain.StatusComplete {
			t.Fatalf("expected complete document for %s, got %+v", result.File, result)
		}
		if len(result.Document.StageTimings) != len(domain.PipelineStages) {
			t.Fatalf("expected every stage timing for %s, got %v", result.File, result.Document.StageTimings.Stages())
		}
	}
	if results[0].Document.Filename != "memo.txt" || results[1].Document.Filename != "notes.md" {
		t.Fatalf("expected results in argument order, got %s, %s", results[0].Document.Filename, results[1].Document.Filename)
	}
}

func TestProcessCommandFailsOnRejectedFile(t *testing.T) {
	good := writeFile(t, "memo.txt", []byte("Memo to staff. Parking is closed on Monday."))
	bad := writeFile(t, "archive.exe", []byte{0x4d, 0x5a, 0x00, 0x00, 0x01, 0x02, 0x00, 0xff})

	out, err := runCommand(context.Background(), "process", "--json", good, bad)
	if !errors.Is(err, errIncomplete) {
		t.Fatalf("expected incomplete error, got %v", err)
	}
	results := decodeResults(t, out)
	if results[0].Document == nil || results[0].Document.Status != domain.StatusComplete {
		t.Fatalf("expected accepted file to complete, got %+v", results[0])
	}
	if results[1].Document != nil || !strings.Contains(results[1].Error, "not accepted") {
		t.Fatalf("expected unsupported-type rejection, got %+v", results[1])
	}
}

func TestProcessCommandStopsWhenCancelled(t *testing.T) {
	memo := writeFile(t, "memo.txt", []byte("Memo to staff."))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out, err := runCommand(ctx, "process", "--json", memo)
	if !errors.Is(err, errIncomplete) {
		t.Fatalf("expected incomplete error, got %v", err)
	}
	results := decodeResults(t, out)
	if results[0].Document != nil && results[0].Document.Status == domain.StatusComplete {
		t.Fatalf("cancelled invocation must not complete documents, got %+v", results[0])
	}
}

func TestProcessCommandTextOutput(t *testing.T) {
	memo := writeFile(t, "memo.txt", []byte("Memo to staff. The cafeteria reopens on Tuesday."))

	out, err := runCommand(context.Background(), "process", memo)
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if !strings.Contains(out, memo+": complete") {
		t.Fatalf("expected status line, got %q", out)
	}
}

func TestVersionCommand(t *testing.T) {
	out, err := runCommand(context.Background(), "version", "--json")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	var payload map[string]string
	if err := json.Unmarshal([]byte(out), &payload); err != nil || payload["version"] == "" {
		t.Fatalf("expected version JSON, got %q", out)
	}
}

func TestProcessCommandRequiresFiles(t *testing.T) {
	if _, err := runCommand(context.Background(), "process"); err == nil {
		t.Fatalf("expected argument error")
	}
}
