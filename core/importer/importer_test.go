package importer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/adalundhe/recall/core/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRecords is both finder and writer.
type fakeRecords struct {
	mu        sync.Mutex
	records   map[string]memory.Record
	next      int
	createErr error
}

func newFakeRecords() *fakeRecords {
	return &fakeRecords{records: make(map[string]memory.Record)}
}

func (f *fakeRecords) FindByAttribute(_ context.Context, key, value string) (memory.Record, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.records {
		if r.Attributes[key] == value {
			return r, true, nil
		}
	}
	return memory.Record{}, false, nil
}

func (f *fakeRecords) Create(_ context.Context, r memory.Record) (memory.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return memory.Record{}, f.createErr
	}
	f.next++
	r.ID = "rec-" + string(rune('0'+f.next))
	f.records[r.ID] = r
	return r, nil
}

func (f *fakeRecords) Update(_ context.Context, id string, patch memory.Patch) (memory.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r := patch.Apply(f.records[id])
	f.records[id] = r
	return r, nil
}

func (f *fakeRecords) Delete(_ context.Context, id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.records[id]
	delete(f.records, id)
	return ok, nil
}

func (f *fakeRecords) len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.records)
}

func TestTitle(t *testing.T) {
	assert.Equal(t, "Deploy checklist", Title("/x/notes.md", "intro\n\n## Deploy checklist\nstep"))
	assert.Equal(t, "notes", Title("/x/notes.md", "#hashtag only\nno heading"))
	assert.Equal(t, "todo", Title("/x/todo.txt", ""))
}

func TestImportFile_CreateUpdateUnchanged(t *testing.T) {
	root := t.TempDir()
	path := writeFile(t, root, "adr/001.md", "# Use sqlite\n\nEmbedded and simple.")
	records := newFakeRecords()
	imp := New(records, records)
	ctx := context.Background()

	res, err := imp.ImportFile(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, ActionCreated, res.Action)

	r := records.records[res.RecordID]
	assert.Equal(t, "Use sqlite", r.Title)
	assert.Equal(t, "# Use sqlite\n\nEmbedded and simple.", r.Body)
	assert.Equal(t, memory.KindNote, r.Kind)
	assert.Equal(t, SourceFile, r.Attributes[AttrSource])
	assert.Equal(t, path, r.Attributes[AttrPath])

	res, err = imp.ImportFile(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, ActionUnchanged, res.Action)

	writeFile(t, root, "adr/001.md", "# Use sqlite\n\nEmbedded, simple and fast.")
	res, err = imp.ImportFile(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, ActionUpdated, res.Action)
	assert.Equal(t, 1, records.len())
	assert.Contains(t, records.records[res.RecordID].Body, "fast")
}

func TestImportFile_SkipsBinary(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "blob.md")
	require.NoError(t, os.WriteFile(path, []byte{0xff, 0xfe, 0x00}, 0o644))

	records := newFakeRecords()
	res, err := New(records, records, WithKind(memory.KindReference)).ImportFile(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, ActionSkipped, res.Action)
	assert.Zero(t, records.len())
}

func TestImportDir(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.md", "# A")
	writeFile(t, root, "b.txt", "bee")
	writeFile(t, root, "c.go", "package c")

	records := newFakeRecords()
	imp := New(records, records)
	scanner, err := NewScanner(ScanConfig{Root: root})
	require.NoError(t, err)

	summary, err := imp.ImportDir(context.Background(), scanner)
	require.NoError(t, err)
	assert.Equal(t, Summary{Created: 2}, summary)

	summary, err = imp.ImportDir(context.Background(), scanner)
	require.NoError(t, err)
	assert.Equal(t, Summary{Unchanged: 2}, summary)

	records.createErr = errors.New("boom")
	writeFile(t, root, "d.md", "new")
	summary, err = imp.ImportDir(context.Background(), scanner)
	require.NoError(t, err)
	assert.Equal(t, Summary{Unchanged: 2, Failed: 1}, summary)
}

func TestRemove(t *testing.T) {
	root := t.TempDir()
	path := writeFile(t, root, "gone.md", "bye")
	records := newFakeRecords()
	imp := New(records, records)

	_, err := imp.ImportFile(context.Background(), path)
	require.NoError(t, err)

	res, err := imp.Remove(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, ActionRemoved, res.Action)
	assert.Zero(t, records.len())

	res, err = imp.Remove(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, ActionSkipped, res.Action)
}

func TestWatch_SyncsChanges(t *testing.T) {
	root := t.TempDir()
	records := newFakeRecords()
	imp := New(records, records)

	scanner, err := NewScanner(ScanConfig{Root: root})
	require.NoError(t, err)
	w, err := NewWatcher(scanner, 20*time.Millisecond, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	results := make(chan Result, 16)
	done := make(chan error, 1)
	go func() {
		done <- imp.Watch(ctx, w, func(r Result, _ error) { results <- r })
	}()

	// give the watcher time to register the root
	time.Sleep(100 * time.Millisecond)

	path := writeFile(t, root, "live.md", "# Live\nfirst")
	writeFile(t, root, "ignored.go", "package x")

	waitFor := func(want Action) Result {
		t.Helper()
		for {
			select {
			case r := <-results:
				if r.Action == want {
					return r
				}
			case <-time.After(5 * time.Second):
				t.Fatalf("timed out waiting for %s", want)
				return Result{}
			}
		}
	}

	created := waitFor(ActionCreated)
	assert.Equal(t, path, created.Path)
	assert.Equal(t, 1, records.len())

	require.NoError(t, os.Remove(path))
	waitFor(ActionRemoved)
	assert.Zero(t, records.len())

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("watch did not stop")
	}
}
