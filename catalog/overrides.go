package catalog

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
)

// Overrides is the operator-maintained correction file: episode ids mapped
// to replacement tag lists. It exists to fix upstream metadata without
// touching upstream data.
type Overrides struct {
	Episodes map[string]EpisodeOverride `json:"episodes"`
}

type EpisodeOverride struct {
	Tags []string `json:"tags"`
}

// OverridesStore serves the current override set and watches the backing
// file so edits take effect without a restart.
type OverridesStore struct {
	file         string
	logger       zerolog.Logger
	watcher      *fsnotify.Watcher
	refreshDelay time.Duration

	mu      sync.RWMutex
	current Overrides

	refreshMu    sync.Mutex
	refreshTimer *time.Timer
	done         chan struct{}
	wg           sync.WaitGroup
	closeOnce    sync.Once
	closeErr     error
}

// NewOverridesStore watches filePath for changes with the given debounce.
// An empty filePath yields a store that never overrides anything.
func NewOverridesStore(filePath string, debounce time.Duration, logger zerolog.Logger) (*OverridesStore, error) {
	s := &OverridesStore{ //nolint:exhaustruct
		file:         filepath.Clean(filePath),
		logger:       logger,
		refreshDelay: debounce,
		current:      Overrides{Episodes: nil},
		done:         make(chan struct{}),
	}

	if filePath == "" {
		return s, nil
	}

	watcher, err := fsnotify.NewWatcher()
	if nil != err {
		return nil, fmt.Errorf("failed to create overrides watcher: %v", err)
	}
	s.watcher = watcher

	if err := s.refresh(); nil != err {
		_ = watcher.Close()
		return nil, err
	}

	if err := watcher.Add(filepath.Dir(s.file)); nil != err {
		_ = watcher.Close()
		return nil, fmt.Errorf("failed to watch overrides directory: %v", err)
	}

	if err := watcher.Add(s.file); nil != err {
		logger.Warn().Err(err).Msg("Overrides watcher could not watch file directly")
	}

	s.wg.Add(1)
	go s.run()

	return s, nil
}

func (s *OverridesStore) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)

		s.refreshMu.Lock()
		if s.refreshTimer != nil {
			s.refreshTimer.Stop()
			s.refreshTimer = nil
		}
		s.refreshMu.Unlock()

		if s.watcher != nil {
			s.closeErr = s.watcher.Close()
			s.wg.Wait()
		}
	})

	return s.closeErr
}

// Apply replaces episode tags with their overrides, in place.
func (s *OverridesStore) Apply(episodes []Episode) {
	s.mu.RLock()
	overrides := s.current.Episodes
	s.mu.RUnlock()

	if len(overrides) == 0 {
		return
	}

	for i := range episodes {
		override, ok := overrides[episodes[i].ID]
		if !ok || override.Tags == nil {
			continue
		}

		episodes[i].Tags = append([]string(nil), override.Tags...)
	}
}

func (s *OverridesStore) run() {
	defer s.wg.Done()

	for {
		select {
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			s.handleEvent(event)
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.logger.Warn().Err(err).Msg("Overrides watcher error")
		case <-s.done:
			return
		}
	}
}

func (s *OverridesStore) handleEvent(event fsnotify.Event) {
	if filepath.Clean(event.Name) != s.file {
		return
	}

	if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) != 0 {
		s.scheduleRefresh()
	}
}

func (s *OverridesStore) scheduleRefresh() {
	select {
	case <-s.done:
		return
	default:
	}

	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()

	if s.refreshTimer != nil {
		s.refreshTimer.Stop()
	}

	s.refreshTimer = time.AfterFunc(s.refreshDelay, func() {
		if err := s.refresh(); nil != err {
			s.logger.Error().Err(err).Msg("Failed to reload overrides")
		}

		s.refreshMu.Lock()
		s.refreshTimer = nil
		s.refreshMu.Unlock()
	})
}

func (s *OverridesStore) refresh() error {
	data, err := os.ReadFile(s.file)
	if nil != err {
		if errors.Is(err, os.ErrNotExist) {
			s.mu.Lock()
			s.current = Overrides{Episodes: nil}
			s.mu.Unlock()

			s.logger.Info().Str("file", s.file).Msg("Overrides file missing, no overrides loaded")

			return nil
		}

		return fmt.Errorf("failed to read overrides file: %v", err)
	}

	var overrides Overrides
	if err := json.Unmarshal(data, &overrides); nil != err {
		return fmt.Errorf("failed to parse overrides file: %v", err)
	}

	s.mu.Lock()
	s.current = overrides
	s.mu.Unlock()

	s.logger.Info().Int("episodes", len(overrides.Episodes)).Msg("Loaded episode overrides")

	return nil
}
