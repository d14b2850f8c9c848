package indexer

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"smart-gallery/internal/folders"
)

func TestIndexerHealthBeforeStart(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, 0, nil)
	idx := New(env.coord, env.base, Options{})

	if idx.IsReady() {
		t.Error("ready before initial sync")
	}
	status := idx.GetHealthStatus()
	if status.Ready || status.Indexing || status.Watching {
		t.Errorf("status = %+v", status)
	}
	if idx.opts.PollInterval != defaultPollInterval {
		t.Errorf("poll interval = %v", idx.opts.PollInterval)
	}
}

func TestIndexerInitialSync(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, 0, nil)
	writePNG(t, filepath.Join(env.base, "a.png"))
	writePNG(t, filepath.Join(env.base, "x", "b.png"))

	idx := New(env.coord, env.base, Options{PollInterval: -1})
	done := make(chan SyncAllResult, 1)
	idx.SetOnIndexComplete(func(r SyncAllResult) { done <- r })
	idx.Start()
	defer idx.Stop()

	select {
	case res := <-done:
		if res.Processed != 2 || res.Folders != 2 {
			t.Errorf("initial sync = %+v", res)
		}
	case <-time.After(30 * time.Second):
		t.Fatal("initial sync did not complete")
	}

	deadline := time.Now().Add(5 * time.Second)
	for !idx.IsReady() && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if !idx.IsReady() {
		t.Error("not ready after initial sync")
	}
	if idx.LastIndexTime().IsZero() {
		t.Error("LastIndexTime not set")
	}
}

func TestIndexSkipsConcurrentRuns(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, 0, nil)
	idx := New(env.coord, env.base, Options{})

	if !idx.tryStartIndexing() {
		t.Fatal("first tryStartIndexing failed")
	}
	if res, err := idx.Index(ModeFull); err != nil || res.Folders != 0 {
		t.Errorf("concurrent Index = %+v, %v; want skipped", res, err)
	}
	idx.finishIndexing()
	if idx.IsIndexing() {
		t.Error("still indexing after finish")
	}
}

func TestDetectChanges(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, 0, nil)
	sub := filepath.Join(env.base, "sub")
	if err := os.Mkdir(sub, 0o755); err != nil {
		t.Fatal(err)
	}
	past := time.Now().Add(-time.Hour)
	for _, d := range []string{env.base, sub} {
		if err := os.Chtimes(d, past, past); err != nil {
			t.Fatal(err)
		}
	}

	idx := New(env.coord, env.base, Options{})
	idx.updateLastKnownState(context.Background())

	if changed := idx.detectChanges(context.Background()); len(changed) != 0 {
		t.Errorf("changes without modification: %v", changed)
	}

	writePNG(t, filepath.Join(sub, "new.png"))
	newDir := filepath.Join(env.base, "fresh")
	if err := os.Mkdir(newDir, 0o755); err != nil {
		t.Fatal(err)
	}

	subKey, _ := folders.Key(env.base, sub)
	freshKey, _ := folders.Key(env.base, newDir)
	changed := idx.detectChanges(context.Background())
	for _, want := range []string{folders.RootKey, subKey, freshKey} {
		if !slices.Contains(changed, want) {
			t.Errorf("changed = %v, missing %s", changed, want)
		}
	}

	if changed := idx.detectChanges(context.Background()); len(changed) != 0 {
		t.Errorf("changes reported twice: %v", changed)
	}
}
