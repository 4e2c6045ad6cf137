package importer

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/adalundhe/recall/core/memory"
)

const (
	AttrSource = "source"
	AttrPath   = "path"
	SourceFile = "file"
)

var ErrNotText = errors.New("file is not valid utf-8 text")

// RecordFinder locates a previously imported record by attribute.
type RecordFinder interface {
	FindByAttribute(ctx context.Context, key, value string) (memory.Record, bool, error)
}

// Writer applies record mutations. *ingest.Coordinator satisfies it.
type Writer interface {
	Create(ctx context.Context, r memory.Record) (memory.Record, error)
	Update(ctx context.Context, id string, patch memory.Patch) (memory.Record, error)
	Delete(ctx context.Context, id string) (bool, error)
}

type Action string

const (
	ActionCreated   Action = "created"
	ActionUpdated   Action = "updated"
	ActionUnchanged Action = "unchanged"
	ActionRemoved   Action = "removed"
	ActionSkipped   Action = "skipped"
)

type Result struct {
	Path     string
	RecordID string
	Action   Action
}

// Summary counts actions for a directory import.
type Summary struct {
	Created   int
	Updated   int
	Unchanged int
	Skipped   int
	Failed    int
}

func (s *Summary) add(a Action) {
	switch a {
	case ActionCreated:
		s.Created++
	case ActionUpdated:
		s.Updated++
	case ActionUnchanged:
		s.Unchanged++
	case ActionSkipped:
		s.Skipped++
	}
}

type Importer struct {
	finder RecordFinder
	writer Writer
	kind   memory.Kind
	logger *slog.Logger
}

type Option func(*Importer)

func WithLogger(logger *slog.Logger) Option {
	return func(i *Importer) {
		i.logger = logger
	}
}

// WithKind sets the kind given to newly imported records. Defaults to note.
func WithKind(kind memory.Kind) Option {
	return func(i *Importer) {
		i.kind = kind
	}
}

func New(finder RecordFinder, writer Writer, opts ...Option) *Importer {
	i := &Importer{
		finder: finder,
		writer: writer,
		kind:   memory.KindNote,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// ImportDir imports every file the scanner yields. Per-file failures are
// logged and counted; only scan setup errors are returned.
func (i *Importer) ImportDir(ctx context.Context, scanner *Scanner) (Summary, error) {
	files, err := scanner.Scan(ctx)
	if err != nil {
		return Summary{}, err
	}

	var summary Summary
	for f := range files {
		res, err := i.ImportFile(ctx, f.Path)
		if err != nil {
			summary.Failed++
			i.logger.Warn("import failed", "path", f.Path, "error", err)
			continue
		}
		summary.add(res.Action)
	}
	if err := ctx.Err(); err != nil {
		return summary, err
	}
	return summary, nil
}

// ImportFile creates or updates the record for path. The record is found
// again on later imports through its path attribute.
func (i *Importer) ImportFile(ctx context.Context, path string) (Result, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return Result{}, err
	}
	res := Result{Path: abs}

	data, err := os.ReadFile(abs)
	if err != nil {
		return res, fmt.Errorf("read %s: %w", abs, err)
	}
	if !utf8.Valid(data) {
		res.Action = ActionSkipped
		i.logger.Debug("skipping binary file", "path", abs, "error", ErrNotText)
		return res, nil
	}

	body := strings.TrimSpace(string(data))
	title := Title(abs, body)

	existing, found, err := i.finder.FindByAttribute(ctx, AttrPath, abs)
	if err != nil {
		return res, fmt.Errorf("lookup %s: %w", abs, err)
	}

	if !found {
		created, err := i.writer.Create(ctx, memory.Record{
			Title: title,
			Body:  body,
			Kind:  i.kind,
			Attributes: map[string]string{
				AttrSource: SourceFile,
				AttrPath:   abs,
			},
		})
		if err != nil {
			return res, err
		}
		res.RecordID = created.ID
		res.Action = ActionCreated
		return res, nil
	}

	res.RecordID = existing.ID
	if existing.Title == title && existing.Body == body {
		res.Action = ActionUnchanged
		return res, nil
	}
	if _, err := i.writer.Update(ctx, existing.ID, memory.Patch{Title: &title, Body: &body}); err != nil {
		return res, err
	}
	res.Action = ActionUpdated
	return res, nil
}

// Remove deletes the record imported from path, if any.
func (i *Importer) Remove(ctx context.Context, path string) (Result, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return Result{}, err
	}
	res := Result{Path: abs, Action: ActionSkipped}

	existing, found, err := i.finder.FindByAttribute(ctx, AttrPath, abs)
	if err != nil {
		return res, fmt.Errorf("lookup %s: %w", abs, err)
	}
	if !found {
		return res, nil
	}
	res.RecordID = existing.ID
	deleted, err := i.writer.Delete(ctx, existing.ID)
	if err != nil {
		return res, err
	}
	if deleted {
		res.Action = ActionRemoved
	}
	return res, nil
}

// Watch applies watcher events until ctx is done, calling onResult after
// each one when it is non-nil.
func (i *Importer) Watch(ctx context.Context, w *Watcher, onResult func(Result, error)) error {
	events, err := w.Start(ctx)
	if err != nil {
		return err
	}
	for ev := range events {
		var (
			res Result
			err error
		)
		switch ev.Op {
		case OpRemove:
			res, err = i.Remove(ctx, ev.Path)
		default:
			res, err = i.ImportFile(ctx, ev.Path)
		}
		if err != nil {
			i.logger.Warn("watch import failed", "path", ev.Path, "op", ev.Op.String(), "error", err)
		}
		if onResult != nil {
			onResult(res, err)
		}
	}
	return ctx.Err()
}

// Title returns the first markdown heading of body, or the file name
// without its extension.
func Title(path, body string) string {
	sc := bufio.NewScanner(strings.NewReader(body))
	sc.Buffer(make([]byte, 0, 4096), 1<<20)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		rest := strings.TrimLeft(line, "#")
		if len(rest) == len(line) || !strings.HasPrefix(rest, " ") {
			continue
		}
		if heading := strings.TrimSpace(rest); heading != "" {
			return heading
		}
	}
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
