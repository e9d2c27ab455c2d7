package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// FileProvider watches one deployment file and publishes validated
// reloads to subscribers. Invalid edits are logged and skipped; the
// last good config stays current.
type FileProvider struct {
	path    string
	log     zerolog.Logger
	watcher *fsnotify.Watcher
	cancel  context.CancelFunc

	mu          sync.RWMutex
	current     *Config
	subscribers []chan *Config
}

// NewFileProvider loads the file, starts watching its directory, and
// returns the provider. The initial load must succeed.
func NewFileProvider(path string, logger zerolog.Logger) (*FileProvider, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolving deployment path: %w", err)
	}

	cfg, err := Load(absPath)
	if err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating watcher: %w", err)
	}
	// Watch the directory, not the file: editors replace files on save
	// and the watch would die with the old inode.
	if err := watcher.Add(filepath.Dir(absPath)); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("watching deployment directory: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &FileProvider{
		path:    absPath,
		log:     logger,
		watcher: watcher,
		cancel:  cancel,
		current: cfg,
	}
	go p.watchLoop(ctx)
	return p, nil
}

// Current returns the most recent valid configuration.
func (p *FileProvider) Current() *Config {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.current
}

// Subscribe returns a channel receiving each validated reload. The
// current configuration is sent immediately.
func (p *FileProvider) Subscribe() <-chan *Config {
	p.mu.Lock()
	defer p.mu.Unlock()
	ch := make(chan *Config, 1)
	ch <- p.current
	p.subscribers = append(p.subscribers, ch)
	return ch
}

// Close stops the watcher.
func (p *FileProvider) Close() error {
	p.cancel()
	return p.watcher.Close()
}

func (p *FileProvider) watchLoop(ctx context.Context) {
	var debounce *time.Timer
	const debounceDelay = 100 * time.Millisecond

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-p.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != p.path {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(debounceDelay, p.reload)
		case err, ok := <-p.watcher.Errors:
			if !ok {
				return
			}
			p.log.Warn().Err(err).Msg("deployment watcher error")
		}
	}
}

func (p *FileProvider) reload() {
	cfg, err := Load(p.path)
	if err != nil {
		p.log.Error().Err(err).Str("path", p.path).Msg("ignoring invalid deployment reload")
		return
	}

	p.mu.Lock()
	p.current = cfg
	subscribers := append([]chan *Config(nil), p.subscribers...)
	p.mu.Unlock()

	p.log.Info().Str("path", p.path).Msg("deployment reloaded")
	for _, ch := range subscribers {
		select {
		case ch <- cfg:
		default:
			// Slow subscriber keeps its stale view; the next reload will
			// supersede this one anyway.
		}
	}
}
