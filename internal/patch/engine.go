// Package patch implements C4: the diff-apply subsystem. It applies
// edit instructions either via a remote fast-apply chat endpoint or a
// local context-anchored patch dialect, with Auto-strategy fallback
// between the two, grounded on the teacher's
// internal/tools/files/patch.go (local line-context application loop,
// atomic write-then-rename) generalized from line-number hunks to the
// anchor-text dialect spec.md §4.4 specifies.
package patch

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/forgehq/forge/internal/forgeerr"
	"github.com/forgehq/forge/internal/models"
)

// MetricsRecorder receives one DiffMetric per completed invocation.
// Implemented by internal/perftrack.Tracker; declared here so this
// package does not import perftrack.
type MetricsRecorder interface {
	Record(models.DiffMetric)
}

// Config holds the engine's static settings.
type Config struct {
	Workspace      string
	EnableFallback bool
	Remote         RemoteConfig
}

// Request is one apply_patch invocation.
type Request struct {
	TargetFile   string
	Instructions string
	CodeEdit     string
	Strategy     models.PatchStrategy
	DryRun       bool
}

// Result summarizes one successful invocation.
type Result struct {
	Files          []FileOutcome
	StrategyUsed   models.PatchStrategy
	FallbackUsed   bool
	FallbackReason string
}

// FileOutcome reports the effect on one target file.
type FileOutcome struct {
	Path    string
	Added   int
	Removed int
	Deleted bool
}

// Engine is the C4 patch-apply engine. One Engine instance is safe for
// concurrent use; writes to a given path are serialized by a
// path-keyed mutex per spec.md §7's shared-resource policy.
type Engine struct {
	cfg      Config
	resolver resolver
	remote   *remoteClient
	metrics  MetricsRecorder

	pathLocksMu sync.Mutex
	pathLocks   map[string]*sync.Mutex
}

// NewEngine builds a patch engine rooted at cfg.Workspace.
func NewEngine(cfg Config, metrics MetricsRecorder) *Engine {
	var remote *remoteClient
	if cfg.Remote.APIKey != "" {
		remote = newRemoteClient(cfg.Remote)
	}
	return &Engine{
		cfg:       cfg,
		resolver:  newResolver(cfg.Workspace),
		remote:    remote,
		metrics:   metrics,
		pathLocks: make(map[string]*sync.Mutex),
	}
}

// Apply executes req under the requested strategy, recording exactly
// one DiffMetric per invocation per spec.md §8's T10 invariant.
func (e *Engine) Apply(ctx context.Context, req Request) (Result, error) {
	start := time.Now()
	metric := models.DiffMetric{
		Timestamp: start,
		File:      req.TargetFile,
		Strategy:  req.Strategy,
	}
	if data, err := os.ReadFile(e.mustResolveForStat(req.TargetFile)); err == nil {
		metric.FileSizeBytes = int64(len(data))
		metric.OriginalLength = len(data)
	}

	result, err := e.apply(ctx, req, &metric)

	metric.ExecutionTimeMs = time.Since(start).Milliseconds()
	metric.Success = err == nil
	if err != nil {
		metric.Error = err.Error()
	}
	metric.Strategy = result.StrategyUsed
	metric.FallbackUsed = result.FallbackUsed
	metric.FallbackReason = result.FallbackReason
	if e.metrics != nil {
		e.metrics.Record(metric)
	}
	return result, err
}

func (e *Engine) mustResolveForStat(path string) string {
	abs, err := e.resolver.resolve(path)
	if err != nil {
		return path
	}
	return abs
}

func (e *Engine) apply(ctx context.Context, req Request, metric *models.DiffMetric) (Result, error) {
	switch req.Strategy {
	case models.StrategyLocal:
		return e.applyLocal(req)
	case models.StrategyRemote:
		return e.applyRemote(ctx, req, false, "")
	case models.StrategyAuto, "":
		if looksLikeLocalDialect(req.CodeEdit) {
			return e.applyLocal(req)
		}
		res, err := e.applyRemote(ctx, req, false, "")
		if err == nil {
			return res, nil
		}
		if !e.cfg.EnableFallback {
			return Result{}, err
		}
		return e.applyRemoteFallback(req, err)
	default:
		return Result{}, &forgeerr.ValidationError{Field: "strategy", Message: fmt.Sprintf("unknown strategy %q", req.Strategy)}
	}
}

func (e *Engine) applyRemoteFallback(req Request, remoteErr error) (Result, error) {
	absPath, err := e.resolver.resolve(req.TargetFile)
	if err != nil {
		return Result{}, &forgeerr.PatchError{File: req.TargetFile, Message: err.Error()}
	}
	current, err := os.ReadFile(absPath)
	if err != nil {
		return Result{}, &forgeerr.PatchError{File: req.TargetFile, Message: "read file for fallback synthesis", Cause: err}
	}

	newContent := synthesizeFullContent(req.CodeEdit, string(current))
	mode := os.FileMode(0o644)
	if info, err := os.Stat(absPath); err == nil {
		mode = info.Mode()
	}

	outcome := FileOutcome{Path: req.TargetFile}
	if !req.DryRun {
		if err := e.writeAtomic(absPath, []byte(newContent), mode); err != nil {
			return Result{}, err
		}
	}
	return Result{
		Files:          []FileOutcome{outcome},
		StrategyUsed:   models.StrategyLocal,
		FallbackUsed:   true,
		FallbackReason: remoteErr.Error(),
	}, nil
}

func (e *Engine) applyRemote(ctx context.Context, req Request, fallback bool, fallbackReason string) (Result, error) {
	if e.remote == nil {
		return Result{}, &forgeerr.PatchError{File: req.TargetFile, Message: "no remote endpoint configured"}
	}
	absPath, err := e.resolver.resolve(req.TargetFile)
	if err != nil {
		return Result{}, &forgeerr.PatchError{File: req.TargetFile, Message: err.Error()}
	}
	var current []byte
	if data, err := os.ReadFile(absPath); err == nil {
		current = data
	}

	newContent, err := e.remote.apply(ctx, req.TargetFile, req.Instructions, req.CodeEdit, string(current))
	if err != nil {
		return Result{}, err
	}

	mode := os.FileMode(0o644)
	if info, err := os.Stat(absPath); err == nil {
		mode = info.Mode()
	}
	if !req.DryRun {
		if err := e.writeAtomic(absPath, []byte(newContent), mode); err != nil {
			return Result{}, err
		}
	}
	return Result{
		Files:          []FileOutcome{{Path: req.TargetFile}},
		StrategyUsed:   models.StrategyRemote,
		FallbackUsed:   fallback,
		FallbackReason: fallbackReason,
	}, nil
}

// applyLocal parses and applies every section of req.CodeEdit. All
// sections are buffered in memory first; nothing is written to disk
// unless every section applies cleanly, per spec.md §4.4 rule 4 ("no
// partial writes").
func (e *Engine) applyLocal(req Request) (Result, error) {
	doc, err := parseDialect(req.CodeEdit)
	if err != nil {
		return Result{}, &forgeerr.PatchError{File: req.TargetFile, Message: err.Error(), Cause: err}
	}

	staged := make([]localResult, 0, len(doc.Sections))
	outcomes := make([]FileOutcome, 0, len(doc.Sections))

	for _, section := range doc.Sections {
		absPath, err := e.resolver.resolve(section.Path)
		if err != nil {
			return Result{}, &forgeerr.PatchError{File: section.Path, Message: err.Error()}
		}

		switch section.Kind {
		case models.SectionAdd:
			mode := os.FileMode(0o644)
			staged = append(staged, localResult{absPath: absPath, mode: mode, content: section.Body})
			outcomes = append(outcomes, FileOutcome{Path: section.Path, Added: countLines(section.Body)})

		case models.SectionDelete:
			info, statErr := os.Stat(absPath)
			mode := os.FileMode(0o644)
			if statErr == nil {
				mode = info.Mode()
			}
			staged = append(staged, localResult{absPath: absPath, mode: mode, isDelete: true})
			outcomes = append(outcomes, FileOutcome{Path: section.Path, Deleted: true})

		case models.SectionUpdate:
			data, readErr := os.ReadFile(absPath)
			if readErr != nil {
				return Result{}, &forgeerr.PatchError{File: section.Path, Message: "read file", Cause: readErr}
			}
			mode := os.FileMode(0o644)
			if info, err := os.Stat(absPath); err == nil {
				mode = info.Mode()
			}
			updated, added, removed, applyErr := applyUpdateSection(string(data), section)
			if applyErr != nil {
				return Result{}, &forgeerr.PatchError{File: section.Path, Message: applyErr.Error(), Cause: applyErr}
			}
			staged = append(staged, localResult{absPath: absPath, mode: mode, content: updated})
			outcomes = append(outcomes, FileOutcome{Path: section.Path, Added: added, Removed: removed})
		}
	}

	if !req.DryRun {
		for _, s := range staged {
			if s.isDelete {
				if err := e.removeAtomic(s.absPath); err != nil {
					return Result{}, err
				}
				continue
			}
			if err := e.writeAtomic(s.absPath, []byte(s.content), s.mode); err != nil {
				return Result{}, err
			}
		}
	}

	return Result{Files: outcomes, StrategyUsed: models.StrategyLocal}, nil
}

// writeAtomic serializes writes to path behind a path-keyed mutex and
// performs a write-then-rename for atomicity, preserving mode.
func (e *Engine) writeAtomic(path string, content []byte, mode os.FileMode) error {
	lock := e.lockFor(path)
	lock.Lock()
	defer lock.Unlock()

	tmp := path + ".forge-tmp"
	if err := os.WriteFile(tmp, content, mode); err != nil {
		return &forgeerr.PatchError{File: path, Message: "write temp file", Cause: err}
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return &forgeerr.PatchError{File: path, Message: "rename temp file", Cause: err}
	}
	return nil
}

func (e *Engine) removeAtomic(path string) error {
	lock := e.lockFor(path)
	lock.Lock()
	defer lock.Unlock()

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return &forgeerr.PatchError{File: path, Message: "delete file", Cause: err}
	}
	return nil
}

func (e *Engine) lockFor(path string) *sync.Mutex {
	e.pathLocksMu.Lock()
	defer e.pathLocksMu.Unlock()
	lock, ok := e.pathLocks[path]
	if !ok {
		lock = &sync.Mutex{}
		e.pathLocks[path] = lock
	}
	return lock
}

func countLines(s string) int {
	if s == "" {
		return 0
	}
	n := 1
	for _, r := range s {
		if r == '\n' {
			n++
		}
	}
	return n
}
