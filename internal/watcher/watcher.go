package watcher

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dshills/nexus/internal/ignore"
)

// State of the watcher
type State string

const (
	StateStopped State = "stopped"
	StateRunning State = "running"
	StatePaused  State = "paused"
)

const (
	DefaultDebounce    = 500 * time.Millisecond
	DefaultMaxQueue    = 10000
	DefaultEventBuffer = 1024
)

var (
	ErrAlreadyRunning = errors.New("watcher already running")
	ErrNotRunning     = errors.New("watcher not running")
)

// Config configures a Watcher
type Config struct {
	Root        string
	Debounce    time.Duration
	MaxQueue    int      // Distinct queued paths before collapsing into a rescan
	IgnoreFiles []string // Relative to Root, merged after the defaults
	Patterns    []string // Caller patterns, merged last
	EventBuffer int      // Capacity of the notification channel
}

// Batch is the work handed to the flush function. When Rescan is set the
// queue overflowed and Paths is empty; the whole root must be re-derived.
type Batch struct {
	Root   string
	Paths  []string // Absolute, sorted, unique
	Rescan bool
}

// FlushFunc processes one batch. It runs to completion; flushes never
// overlap.
type FlushFunc func(ctx context.Context, batch Batch)

// Status is a point-in-time view of the watcher
type Status struct {
	Status        State
	IsPaused      bool
	QueuedFiles   int
	WatchedPaths  int
	UptimeSeconds float64
	SessionID     string
	LastFlushAt   time.Time
	FlushCount    int
	RescanPending bool
}

// Option configures a Watcher
type Option func(*Watcher)

// WithLogger sets the logger
func WithLogger(logger zerolog.Logger) Option {
	return func(w *Watcher) {
		w.logger = logger
	}
}

// Watcher coalesces filesystem notifications under a root into
// deduplicated batches. Events pass from fsnotify through a bounded
// channel; a single debounce timer schedules flushes.
type Watcher struct {
	cfg    Config
	flush  FlushFunc
	logger zerolog.Logger

	mu         sync.Mutex
	state      State
	queue      map[string]time.Time
	rescan     bool
	timer      *time.Timer
	timerGen   uint64
	startedAt  time.Time
	sessionID  string
	lastFlush  time.Time
	flushCount int
	watched    int

	flushMu sync.Mutex // Serializes flush execution

	fsw     *fsnotify.Watcher
	matcher *ignore.Matcher
	ctx     context.Context
	wg      sync.WaitGroup
}

// New creates a stopped watcher
func New(cfg Config, flush FlushFunc, opts ...Option) *Watcher {
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}
	if cfg.MaxQueue <= 0 {
		cfg.MaxQueue = DefaultMaxQueue
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = DefaultEventBuffer
	}
	w := &Watcher{
		cfg:    cfg,
		flush:  flush,
		logger: log.Logger,
		state:  StateStopped,
		queue:  make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.With().Str("component", "watcher").Logger()
	return w
}

// Start begins observing the root and transitions to running
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.state != StateStopped {
		w.mu.Unlock()
		return ErrAlreadyRunning
	}
	w.mu.Unlock()

	root, err := filepath.Abs(w.cfg.Root)
	if err != nil {
		return fmt.Errorf("failed to resolve root: %w", err)
	}
	info, err := os.Stat(root)
	if err != nil {
		return fmt.Errorf("failed to stat root: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("root %s is not a directory", root)
	}

	matcher, err := ignore.Load(root, w.cfg.IgnoreFiles, w.cfg.Patterns)
	if err != nil {
		return fmt.Errorf("failed to load ignore patterns: %w", err)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create fs watcher: %w", err)
	}

	w.mu.Lock()
	w.cfg.Root = root
	w.fsw = fsw
	w.matcher = matcher
	w.ctx = context.WithoutCancel(ctx)
	w.state = StateRunning
	w.startedAt = time.Now()
	w.sessionID = uuid.NewString()
	w.watched = 0
	w.mu.Unlock()

	if err := w.addTree(root, false); err != nil {
		_ = fsw.Close()
		w.mu.Lock()
		w.state = StateStopped
		w.mu.Unlock()
		return err
	}

	events := make(chan fsnotify.Event, w.cfg.EventBuffer)
	w.wg.Add(2)
	go w.pump(fsw, events)
	go w.loop(events)

	w.logger.Info().
		Str("root", root).
		Str("session", w.sessionID).
		Int("watched", w.Status().WatchedPaths).
		Msg("watcher started")
	return nil
}

// Pause keeps recording events but arms no flush timer
func (w *Watcher) Pause() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state != StateRunning {
		return ErrNotRunning
	}
	w.state = StatePaused
	w.stopTimerLocked()
	w.logger.Debug().Int("queued", len(w.queue)).Msg("watcher paused")
	return nil
}

// Resume returns to running and flushes everything queued while paused
func (w *Watcher) Resume() error {
	w.mu.Lock()
	if w.state != StatePaused {
		w.mu.Unlock()
		return ErrNotRunning
	}
	w.state = StateRunning
	pending := len(w.queue) > 0 || w.rescan
	w.mu.Unlock()

	if pending {
		w.Flush()
	}
	return nil
}

// Stop releases the filesystem watch and drains: every event observed
// before the watch closed is flushed before Stop returns
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if w.state == StateStopped {
		w.mu.Unlock()
		return ErrNotRunning
	}
	w.state = StateStopped
	w.stopTimerLocked()
	fsw := w.fsw
	w.mu.Unlock()

	err := fsw.Close()
	w.wg.Wait()

	w.Flush()
	// Wait out a timer flush that was already running
	w.flushMu.Lock()
	w.flushMu.Unlock()

	w.logger.Info().Int("flushes", w.Status().FlushCount).Msg("watcher stopped")
	if err != nil {
		return fmt.Errorf("failed to close fs watcher: %w", err)
	}
	return nil
}

// Flush snapshots and clears the queue, then hands the snapshot to the
// flush function. Events arriving meanwhile are queued for the next flush.
func (w *Watcher) Flush() {
	w.mu.Lock()
	w.stopTimerLocked()
	batch := Batch{Root: w.cfg.Root, Rescan: w.rescan}
	if !batch.Rescan {
		batch.Paths = make([]string, 0, len(w.queue))
		for p := range w.queue {
			batch.Paths = append(batch.Paths, p)
		}
		sort.Strings(batch.Paths)
	}
	w.queue = make(map[string]time.Time)
	w.rescan = false
	ctx := w.ctx
	w.mu.Unlock()

	if !batch.Rescan && len(batch.Paths) == 0 {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}

	w.flushMu.Lock()
	start := time.Now()
	w.flush(ctx, batch)
	w.flushMu.Unlock()

	w.mu.Lock()
	w.lastFlush = time.Now()
	w.flushCount++
	w.mu.Unlock()

	w.logger.Info().
		Int("paths", len(batch.Paths)).
		Bool("rescan", batch.Rescan).
		Dur("duration", time.Since(start)).
		Msg("flushed")
}

// Status returns the current state and counters
func (w *Watcher) Status() Status {
	w.mu.Lock()
	defer w.mu.Unlock()

	s := Status{
		Status:        w.state,
		IsPaused:      w.state == StatePaused,
		QueuedFiles:   len(w.queue),
		WatchedPaths:  w.watched,
		SessionID:     w.sessionID,
		LastFlushAt:   w.lastFlush,
		FlushCount:    w.flushCount,
		RescanPending: w.rescan,
	}
	if w.state != StateStopped {
		s.UptimeSeconds = time.Since(w.startedAt).Seconds()
	}
	return s
}

// record queues path and, when running, re-arms the debounce timer
func (w *Watcher) record(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.rescan {
		w.queue[path] = time.Now()
		if len(w.queue) > w.cfg.MaxQueue {
			w.logger.Warn().Int("max_queue", w.cfg.MaxQueue).Msg("queue overflow, scheduling full rescan")
			w.queue = make(map[string]time.Time)
			w.rescan = true
		}
	}

	if w.state == StateRunning {
		w.armTimerLocked()
	}
}

// markRescan collapses the queue into a rescan signal
func (w *Watcher) markRescan() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.queue = make(map[string]time.Time)
	w.rescan = true
	if w.state == StateRunning {
		w.armTimerLocked()
	}
}

// armTimerLocked replaces any pending timer. The generation check makes a
// superseded timer that already fired a no-op.
func (w *Watcher) armTimerLocked() {
	w.stopTimerLocked()
	gen := w.timerGen
	w.timer = time.AfterFunc(w.cfg.Debounce, func() { w.onTimer(gen) })
}

func (w *Watcher) stopTimerLocked() {
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	w.timerGen++
}

func (w *Watcher) onTimer(gen uint64) {
	w.mu.Lock()
	if gen != w.timerGen || w.state != StateRunning {
		w.mu.Unlock()
		return
	}
	w.timer = nil
	w.mu.Unlock()

	w.Flush()
}

// pump forwards notifications into the bounded channel
func (w *Watcher) pump(fsw *fsnotify.Watcher, events chan<- fsnotify.Event) {
	defer w.wg.Done()
	defer close(events)

	evs, errs := fsw.Events, fsw.Errors
	for evs != nil {
		select {
		case ev, ok := <-evs:
			if !ok {
				evs = nil
				continue
			}
			events <- ev
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				w.markRescan()
			}
			w.logger.Warn().Err(err).Msg("watch error")
		}
	}
}

func (w *Watcher) loop(events <-chan fsnotify.Event) {
	defer w.wg.Done()
	for ev := range events {
		w.handleEvent(ev)
	}
}

func (w *Watcher) handleEvent(ev fsnotify.Event) {
	if ev.Op == fsnotify.Chmod {
		return
	}

	rel, ok := w.relative(ev.Name)
	if !ok {
		return
	}

	isDir := false
	if ev.Has(fsnotify.Create) {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			isDir = true
		}
	}

	if w.matcher.Match(rel, isDir) {
		return
	}

	w.logger.Debug().Str("path", rel).Str("op", ev.Op.String()).Msg("event")

	if isDir {
		// Files created before the watch was added would be missed
		if err := w.addTree(ev.Name, true); err != nil {
			w.logger.Warn().Err(err).Str("path", rel).Msg("failed to watch directory")
		}
		return
	}
	w.record(ev.Name)
}

func (w *Watcher) relative(path string) (string, bool) {
	rel, err := filepath.Rel(w.cfg.Root, path)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return rel, true
}

// addTree watches dir and its non-ignored subdirectories. With enqueue set,
// files found are recorded as changed.
func (w *Watcher) addTree(dir string, enqueue bool) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == dir {
				return err
			}
			return nil
		}

		if path != w.cfg.Root {
			rel, ok := w.relative(path)
			if !ok || w.matcher.Match(rel, d.IsDir()) {
				if d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
		}

		if !d.IsDir() {
			if enqueue && d.Type().IsRegular() {
				w.record(path)
			}
			return nil
		}

		if err := w.fsw.Add(path); err != nil {
			w.logger.Warn().Err(err).Str("path", path).Msg("failed to add watch")
			return nil
		}
		w.mu.Lock()
		w.watched++
		w.mu.Unlock()
		return nil
	})
}
