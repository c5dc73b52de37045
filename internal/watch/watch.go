package watch

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/dunamismax/shrinky/internal/format"
	"github.com/dunamismax/shrinky/internal/logging"
	"github.com/fsnotify/fsnotify"
)

const defaultDebounce = 500 * time.Millisecond

// Handler converts one settled file and returns the path it wrote, or ""
// when nothing was written.
type Handler func(ctx context.Context, path string) (string, error)

type Watcher struct {
	dir      string
	handler  Handler
	debounce time.Duration
	logger   *log.Logger
	fs       *fsnotify.Watcher
	ready    chan string
	done     chan struct{}
	stopOnce sync.Once

	mu      sync.Mutex
	timers  map[string]*pending
	written map[string]time.Time
}

// pending is one debounce timer. Identity decides whether a fired timer is
// still current.
type pending struct {
	timer *time.Timer
}

type Option func(*Watcher)

func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

func WithLogger(logger *log.Logger) Option {
	return func(w *Watcher) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// New starts watching dir. Events are not delivered until Run is called.
func New(dir string, handler Handler, opts ...Option) (*Watcher, error) {
	if handler == nil {
		return nil, errors.New("watch handler is required")
	}
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("stat watch dir: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("watch target %s is not a directory", dir)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}
	if err := fsw.Add(dir); err != nil {
		_ = fsw.Close()
		return nil, fmt.Errorf("watch %s: %w", dir, err)
	}

	w := &Watcher{
		dir:      dir,
		handler:  handler,
		debounce: defaultDebounce,
		logger:   logging.Discard(),
		fs:       fsw,
		ready:    make(chan string, 64),
		done:     make(chan struct{}),
		timers:   make(map[string]*pending),
		written:  make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Run dispatches settled files to the handler one at a time until ctx is
// done. Handler errors are logged and do not stop the loop.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-w.fs.Events:
			if !ok {
				return nil
			}
			if event.Has(fsnotify.Create) || event.Has(fsnotify.Write) {
				w.schedule(event.Name)
			}
		case err, ok := <-w.fs.Errors:
			if !ok {
				return nil
			}
			w.logger.Printf("watch error dir=%s err=%v", w.dir, err)
		case path := <-w.ready:
			w.handle(ctx, path)
		}
	}
}

func (w *Watcher) Close() error {
	return w.fs.Close()
}

func (w *Watcher) schedule(path string) {
	if !Supported(path) {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if prev, ok := w.timers[path]; ok {
		prev.timer.Stop()
	}
	p := &pending{}
	p.timer = time.AfterFunc(w.debounce, func() { w.fire(path, p) })
	w.timers[path] = p
}

// fire queues path unless p was superseded or Run has returned.
func (w *Watcher) fire(path string, p *pending) {
	w.mu.Lock()
	if w.timers[path] != p {
		w.mu.Unlock()
		return
	}
	delete(w.timers, path)
	w.mu.Unlock()

	select {
	case w.ready <- path:
	case <-w.done:
	}
}

func (w *Watcher) handle(ctx context.Context, path string) {
	info, err := os.Stat(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			w.logger.Printf("stat failed path=%s err=%v", path, err)
		}
		return
	}
	if info.IsDir() || info.Size() == 0 {
		return
	}

	w.mu.Lock()
	mod, ours := w.written[path]
	w.mu.Unlock()
	if ours && mod.Equal(info.ModTime()) {
		return
	}

	out, err := w.handler(ctx, path)
	if err != nil {
		w.logger.Printf("convert failed path=%s err=%v", path, err)
		return
	}
	if out == "" {
		return
	}
	if outInfo, err := os.Stat(out); err == nil {
		w.mu.Lock()
		w.written[out] = outInfo.ModTime()
		w.mu.Unlock()
	}
}

func (w *Watcher) stop() {
	w.stopOnce.Do(func() { close(w.done) })

	w.mu.Lock()
	defer w.mu.Unlock()
	for path, p := range w.timers {
		p.timer.Stop()
		delete(w.timers, path)
	}
}

// Supported reports whether path names a visible file in a supported format.
func Supported(path string) bool {
	if strings.HasPrefix(filepath.Base(path), ".") {
		return false
	}
	_, err := format.FromPath(path)
	return err == nil
}
