package prompt

import (
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"graphchat/internal/logging"
)

// Watcher reloads the resolver and fires onChange when prompt packs change
// on disk. Events are debounced so editors that write multiple times per
// save trigger a single reload.
type Watcher struct {
	watcher  *fsnotify.Watcher
	resolver *Resolver
	onChange func()
	done     chan struct{}
}

const watchDebounce = 250 * time.Millisecond

// NewWatcher watches the resolver's directory. onChange may be nil.
func NewWatcher(resolver *Resolver, onChange func()) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(resolver.dir); err != nil {
		// Directory may not exist yet; watching is best effort.
		logging.Get(logging.CategoryPrompts).Warn("Prompt watcher disabled: %v", err)
		fsw.Close()
		return nil, err
	}

	w := &Watcher{
		watcher:  fsw,
		resolver: resolver,
		onChange: onChange,
		done:     make(chan struct{}),
	}
	go w.loop()

	logging.Prompts("Watching prompt packs in %s", resolver.dir)
	return w, nil
}

func (w *Watcher) loop() {
	var timer *time.Timer
	pending := make(chan struct{}, 1)

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !isPackFile(event.Name) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(watchDebounce, func() {
				select {
				case pending <- struct{}{}:
				default:
				}
			})

		case <-pending:
			if err := w.resolver.Reload(); err != nil {
				logging.Get(logging.CategoryPrompts).Error("Prompt reload failed: %v", err)
				continue
			}
			if w.onChange != nil {
				w.onChange()
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logging.Get(logging.CategoryPrompts).Warn("Prompt watcher error: %v", err)

		case <-w.done:
			return
		}
	}
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	close(w.done)
	return w.watcher.Close()
}

func isPackFile(name string) bool {
	return strings.HasSuffix(name, ".yaml") || strings.HasSuffix(name, ".yml")
}
