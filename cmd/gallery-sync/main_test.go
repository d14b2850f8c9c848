package main

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"smart-gallery/internal/database"
	"smart-gallery/internal/folders"
	"smart-gallery/internal/indexer"
	"smart-gallery/internal/progress"
)

func TestResolveFolder(t *testing.T) {
	t.Parallel()

	base := t.TempDir()
	if err := os.MkdirAll(filepath.Join(base, "album", "day1"), 0o755); err != nil {
		t.Fatal(err)
	}
	dayKey, err := folders.Key(base, filepath.Join(base, "album", "day1"))
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		arg     string
		want    string
		wantErr bool
	}{
		{"empty is root", "", folders.RootKey, false},
		{"dot is root", ".", folders.RootKey, false},
		{"root key", folders.RootKey, folders.RootKey, false},
		{"relative path", "album/day1", dayKey, false},
		{"absolute path", filepath.Join(base, "album", "day1"), dayKey, false},
		{"folder key", dayKey, dayKey, false},
		{"outside base", "..", "", true},
		{"garbage", "no such folder!", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := resolveFolder(base, tt.arg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("resolveFolder(%q) err = %v, wantErr %v", tt.arg, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("resolveFolder(%q) = %q, want %q", tt.arg, got, tt.want)
			}
		})
	}
}

func TestDisplayFolder(t *testing.T) {
	t.Parallel()

	key, err := folders.Key("/base", "/base/a/b")
	if err != nil {
		t.Fatal(err)
	}
	if got := displayFolder(key); got != "a/b" {
		t.Errorf("displayFolder = %q, want a/b", got)
	}
	if got := displayFolder(folders.RootKey); got != "." {
		t.Errorf("displayFolder(root) = %q", got)
	}
}

func TestProgressLineNonTerminal(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	line := newProgressLine(&buf)
	for _, ev := range []progress.Event{
		{Phase: progress.PhaseScanning},
		{Phase: progress.PhaseProcessing, Processed: 1, Total: 4},
		{Phase: progress.PhaseProcessing, Processed: 2, Total: 4},
		{Phase: progress.PhaseDone, Processed: 4, Total: 4, Failures: 1, Done: true},
	} {
		line.Render(ev)
	}
	line.Finish()

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("got %d lines, want one per phase: %q", len(lines), buf.String())
	}
	if lines[1] != "[processing] 1/4 (25%)" {
		t.Errorf("line = %q", lines[1])
	}
	if lines[2] != "[done] 4/4 (100%) 1 failed" {
		t.Errorf("line = %q", lines[2])
	}
}

func TestFit(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in    string
		width int
		want  string
	}{
		{"abc", 5, "abc  "},
		{"abcdef", 5, "ab..."},
		{"abcdef", 2, "ab"},
		{"abc", 0, ""},
	}
	for _, tt := range tests {
		if got := fit(tt.in, tt.width); got != tt.want {
			t.Errorf("fit(%q, %d) = %q, want %q", tt.in, tt.width, got, tt.want)
		}
	}
}

func TestReportResult(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	err := reportResult(&buf, indexer.Result{
		FolderKey: folders.RootKey,
		State:     indexer.StateCompleted,
		Processed: 2,
		Total:     2,
		Failures:  []indexer.ItemFailure{{Path: "/x/a.png", Reason: "truncated"}},
	})
	if err != nil {
		t.Fatalf("completed run returned %v", err)
	}
	if !strings.Contains(buf.String(), "failed: /x/a.png: truncated") {
		t.Errorf("output = %q", buf.String())
	}

	boom := errors.New("walk failed")
	err = reportResult(&buf, indexer.Result{State: indexer.StateFailed, Err: boom})
	if !errors.Is(err, boom) {
		t.Errorf("err = %v, want %v", err, boom)
	}
}

func TestPrintListing(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	err := printListing(&buf, &database.Listing{
		Items:      []database.Entry{{Name: "a.png", Type: "image", HasWorkflow: true}},
		TotalItems: 1,
		Page:       1,
		TotalPages: 1,
	})
	if err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	if !strings.Contains(out, "a.png") || !strings.Contains(out, "page 1/1, 1 files") {
		t.Errorf("output = %q", out)
	}
}
