package importer

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce coalesces bursts of writes to the same file.
const DefaultDebounce = 100 * time.Millisecond

type Op int

const (
	OpUpsert Op = iota
	OpRemove
)

func (op Op) String() string {
	if op == OpRemove {
		return "remove"
	}
	return "upsert"
}

type Event struct {
	Path string
	Op   Op
}

// Watcher watches a scanner's root recursively and emits one debounced
// event per changed path that the scanner would import.
type Watcher struct {
	scanner  *Scanner
	debounce time.Duration
	fsw      *fsnotify.Watcher
	logger   *slog.Logger

	mu      sync.Mutex
	pending map[string]*time.Timer
	stopped bool
	events  chan Event
}

func NewWatcher(scanner *Scanner, debounce time.Duration, logger *slog.Logger) (*Watcher, error) {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if logger == nil {
		logger = slog.Default()
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		scanner:  scanner,
		debounce: debounce,
		fsw:      fsw,
		logger:   logger,
		pending:  make(map[string]*time.Timer),
		events:   make(chan Event, 64),
	}, nil
}

// Start begins watching. The returned channel closes when ctx is done.
func (w *Watcher) Start(ctx context.Context) (<-chan Event, error) {
	if err := w.addRecursive(w.scanner.Root()); err != nil {
		w.fsw.Close()
		return nil, err
	}
	go w.loop(ctx)
	return w.events, nil
}

func (w *Watcher) addRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return nil
		}
		if _, skip := skippedDirs[d.Name()]; skip && path != w.scanner.Root() {
			return filepath.SkipDir
		}
		return w.fsw.Add(path)
	})
}

func (w *Watcher) loop(ctx context.Context) {
	defer w.shutdown()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handle(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("file watcher error", "error", err)
		}
	}
}

func (w *Watcher) handle(ev fsnotify.Event) {
	if ev.Has(fsnotify.Create) {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			if err := w.addRecursive(ev.Name); err != nil {
				w.logger.Warn("watch new directory", "path", ev.Name, "error", err)
			}
			return
		}
	}
	if !w.scanner.Matches(ev.Name) {
		return
	}
	w.schedule(ev.Name)
}

// schedule (re)arms the debounce timer for path. The operation is decided
// when the timer fires, from whether the file still exists.
func (w *Watcher) schedule(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return
	}
	if t, ok := w.pending[path]; ok {
		t.Stop()
	}
	w.pending[path] = time.AfterFunc(w.debounce, func() { w.emit(path) })
}

func (w *Watcher) emit(path string) {
	op := OpUpsert
	if _, err := os.Stat(path); os.IsNotExist(err) {
		op = OpRemove
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return
	}
	delete(w.pending, path)
	select {
	case w.events <- Event{Path: path, Op: op}:
	default:
		w.logger.Warn("file event dropped", "path", path, "op", op.String())
	}
}

func (w *Watcher) shutdown() {
	w.mu.Lock()
	w.stopped = true
	for _, t := range w.pending {
		t.Stop()
	}
	w.pending = nil
	close(w.events)
	w.mu.Unlock()
	w.fsw.Close()
}
