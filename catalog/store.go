package catalog

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
)

// Store persists the catalog snapshot as a single JSON document. Writes go
// through a temp file and rename so readers only ever observe a complete
// document.
type Store struct {
	file string
}

func NewStore(file string) *Store {
	return &Store{file: file}
}

func (s *Store) Read() (*Snapshot, error) {
	data, err := os.ReadFile(s.file)
	if nil != err {
		return nil, fmt.Errorf("read snapshot file: %w", err)
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); nil != err {
		return nil, fmt.Errorf("parse snapshot file: %v", err)
	}

	return &snap, nil
}

func (s *Store) Write(snap *Snapshot) error {
	data, err := json.MarshalIndent(snap, "", "  ")
	if nil != err {
		return fmt.Errorf("encode snapshot: %v", err)
	}

	dir := filepath.Dir(s.file)
	if err := os.MkdirAll(dir, 0o755); nil != err {
		return fmt.Errorf("create snapshot directory: %v", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.file)+".tmp-*")
	if nil != err {
		return fmt.Errorf("create temp snapshot file: %v", err)
	}

	if _, err := tmp.Write(data); nil != err {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("write temp snapshot file: %v", err)
	}

	if err := tmp.Close(); nil != err {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("close temp snapshot file: %v", err)
	}

	if err := os.Rename(tmp.Name(), s.file); nil != err {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("replace snapshot file: %v", err)
	}

	return nil
}

// Cache is a read-through memory cache over the snapshot store with a
// bounded freshness window. A broken or missing backing file degrades to the
// empty snapshot rather than failing readers.
type Cache struct {
	store    *Store
	freshFor time.Duration
	logger   zerolog.Logger
	now      func() time.Time

	mu       sync.Mutex
	loaded   *Snapshot
	loadedAt time.Time
}

func NewCache(store *Store, freshFor time.Duration, logger zerolog.Logger) *Cache {
	return &Cache{ //nolint:exhaustruct
		store:    store,
		freshFor: freshFor,
		logger:   logger,
		now:      time.Now,
	}
}

func (c *Cache) Snapshot(force bool) *Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if !force && c.loaded != nil && now.Sub(c.loadedAt) < c.freshFor {
		return c.loaded
	}

	snap, err := c.store.Read()
	if nil != err {
		c.logger.Warn().Err(err).Msg("Failed to load catalog snapshot, serving empty catalog")
		snap = EmptySnapshot()
	}

	c.loaded = snap
	c.loadedAt = now

	return snap
}
