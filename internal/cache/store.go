// internal/cache/store.go
package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/law-makers/newsfetch/internal/logging"
)

var (
	// ErrNotCached is returned when a ledger operation targets an unknown id
	ErrNotCached = errors.New("item not cached")
	// ErrDisabled is returned by writes on a disabled store
	ErrDisabled = errors.New("cache disabled")
)

// Entry is one cached payload
type Entry struct {
	ID         string          `json:"id"`
	Data       json.RawMessage `json:"data"`
	Timestamp  float64         `json:"timestamp"`
	Date       string          `json:"date"`
	TTLSeconds float64         `json:"ttl_seconds,omitempty"`
}

// Time returns the write time of the entry
func (e *Entry) Time() time.Time {
	return unixFloat(e.Timestamp)
}

// StageMark records when a stage consumed an item
type StageMark struct {
	Timestamp float64 `json:"timestamp"`
	Date      string  `json:"date"`
}

// Status is the processing ledger of one item
type Status struct {
	ID              string               `json:"id"`
	ProcessedStages map[string]StageMark `json:"processed_stages"`
}

// Options configure a Store
type Options struct {
	Dir     string
	Name    string
	TTL     time.Duration
	Enabled bool
	Now     func() time.Time
}

// Stats summarizes the store
type Stats struct {
	Name      string         `json:"name"`
	Path      string         `json:"path"`
	Enabled   bool           `json:"enabled"`
	Entries   int            `json:"entries"`
	TTL       time.Duration  `json:"ttl"`
	Processed map[string]int `json:"processed"`
	Oldest    time.Time      `json:"oldest,omitempty"`
	Newest    time.Time      `json:"newest,omitempty"`
}

// Store is a file-backed key-value cache with TTL and a per-item ledger of
// processing stages. Everything is guarded by one mutex held for the whole of
// each public method; helpers suffixed Locked expect it held.
type Store struct {
	mu sync.Mutex

	name    string
	path    string
	ttl     time.Duration
	enabled bool
	now     func() time.Time

	items  map[string]*Entry
	status map[string]*Status
}

// New opens (or creates) the store at <dir>/<name>
func New(opts Options) (*Store, error) {
	if opts.Name == "" {
		opts.Name = "default"
	}
	if opts.TTL <= 0 {
		opts.TTL = 24 * time.Hour
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	s := &Store{
		name:    opts.Name,
		path:    filepath.Join(opts.Dir, opts.Name),
		ttl:     opts.TTL,
		enabled: opts.Enabled,
		now:     opts.Now,
		items:   make(map[string]*Entry),
		status:  make(map[string]*Status),
	}

	if !s.enabled {
		return s, nil
	}

	if err := os.MkdirAll(s.path, 0755); err != nil {
		return nil, fmt.Errorf("create cache directory %s: %w", s.path, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.loadLocked()
	s.purgeLocked()

	logging.WithComponent("cache").Info().
		Str("path", s.path).
		Int("entries", len(s.items)).
		Dur("ttl", s.ttl).
		Msg("Cache initialized")

	return s, nil
}

// Enabled reports whether the store is active
func (s *Store) Enabled() bool {
	return s.enabled
}

// Path returns the directory holding the store files
func (s *Store) Path() string {
	return s.path
}

// SetTTL changes the TTL applied to entries written from now on
func (s *Store) SetTTL(d time.Duration) {
	if d <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ttl = d
}

// IsCached reports whether id has a live entry
func (s *Store) IsCached(id string) bool {
	if !s.enabled {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.purgeLocked()
	_, ok := s.items[Key(id)]
	return ok
}

// GetRaw returns the stored payload for id
func (s *Store) GetRaw(id string) (json.RawMessage, bool) {
	if !s.enabled {
		return nil, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.purgeLocked()
	e, ok := s.items[Key(id)]
	if !ok {
		return nil, false
	}
	out := make(json.RawMessage, len(e.Data))
	copy(out, e.Data)
	return out, true
}

// Get decodes the stored payload for id into v
func (s *Store) Get(id string, v any) (bool, error) {
	raw, ok := s.GetRaw(id)
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return false, fmt.Errorf("decode cached %s: %w", id, err)
	}
	return true, nil
}

// Put stores v under id. The latest write wins; an existing ledger is kept.
func (s *Store) Put(id string, v any) error {
	if !s.enabled {
		return ErrDisabled
	}

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", id, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.purgeLocked()

	now := s.now()
	key := Key(id)
	s.items[key] = &Entry{
		ID:         id,
		Data:       data,
		Timestamp:  floatUnix(now),
		Date:       now.Format(time.RFC3339),
		TTLSeconds: s.ttl.Seconds(),
	}
	if _, ok := s.status[key]; !ok {
		s.status[key] = &Status{ID: id, ProcessedStages: make(map[string]StageMark)}
	}

	if err := s.saveLocked(); err != nil {
		return err
	}

	logging.WithComponent("cache").Debug().Str("id", id).Str("key", key).Msg("Cached item")
	return nil
}

// PutMissing stores every value whose id is not cached yet, with an empty
// ledger, and saves once. Known ids keep their entry and ledger. It returns
// how many ids were added.
func (s *Store) PutMissing(values map[string]any) (int, error) {
	if !s.enabled {
		return 0, ErrDisabled
	}

	encoded := make(map[string]json.RawMessage, len(values))
	for id, v := range values {
		data, err := json.Marshal(v)
		if err != nil {
			return 0, fmt.Errorf("encode %s: %w", id, err)
		}
		encoded[id] = data
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.purgeLocked()

	now := s.now()
	added := 0
	for id, data := range encoded {
		key := Key(id)
		if _, ok := s.items[key]; ok {
			continue
		}
		s.items[key] = &Entry{
			ID:         id,
			Data:       data,
			Timestamp:  floatUnix(now),
			Date:       now.Format(time.RFC3339),
			TTLSeconds: s.ttl.Seconds(),
		}
		s.status[key] = &Status{ID: id, ProcessedStages: make(map[string]StageMark)}
		added++
	}
	if added == 0 {
		return 0, nil
	}
	return added, s.saveLocked()
}

// MarkProcessed records that stage consumed id
func (s *Store) MarkProcessed(id, stage string) error {
	if !s.enabled {
		return ErrDisabled
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.purgeLocked()
	if !s.markLocked(id, stage) {
		logging.WithComponent("cache").Warn().Str("id", id).Str("stage", stage).Msg("Attempted to mark uncached item as processed")
		return ErrNotCached
	}
	return s.saveLocked()
}

// MarkBatch marks every cached id in ids and returns how many were marked
func (s *Store) MarkBatch(ids []string, stage string) (int, error) {
	if !s.enabled {
		return 0, ErrDisabled
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.purgeLocked()
	marked := 0
	for _, id := range ids {
		if s.markLocked(id, stage) {
			marked++
		}
	}
	if marked == 0 {
		return 0, nil
	}
	return marked, s.saveLocked()
}

// IsProcessedByStage reports whether stage already consumed id
func (s *Store) IsProcessedByStage(id, stage string) bool {
	if !s.enabled {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.purgeLocked()
	st, ok := s.status[Key(id)]
	if !ok {
		return false
	}
	_, done := st.ProcessedStages[stage]
	return done
}

// ProcessingStages lists the stages that consumed id, sorted by name
func (s *Store) ProcessingStages(id string) []string {
	if !s.enabled {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.purgeLocked()
	st, ok := s.status[Key(id)]
	if !ok {
		return nil
	}
	stages := make([]string, 0, len(st.ProcessedStages))
	for stage := range st.ProcessedStages {
		stages = append(stages, stage)
	}
	sort.Strings(stages)
	return stages
}

// ResetProcessing clears stage from the ledger of id, or the whole ledger
// when stage is empty.
func (s *Store) ResetProcessing(id, stage string) error {
	if !s.enabled {
		return ErrDisabled
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.purgeLocked()
	if !s.resetLocked(Key(id), stage) {
		return ErrNotCached
	}
	return s.saveLocked()
}

// ResetStage clears stage from every ledger and returns how many changed
func (s *Store) ResetStage(stage string) (int, error) {
	if !s.enabled {
		return 0, ErrDisabled
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.purgeLocked()
	reset := 0
	for _, st := range s.status {
		if _, ok := st.ProcessedStages[stage]; ok {
			delete(st.ProcessedStages, stage)
			reset++
		}
	}
	if reset == 0 {
		return 0, nil
	}
	return reset, s.saveLocked()
}

// GetUnprocessed returns the ids not yet consumed by stage, oldest first
func (s *Store) GetUnprocessed(stage string) []string {
	if !s.enabled {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.purgeLocked()

	entries := make([]*Entry, 0, len(s.items))
	for key, e := range s.items {
		if st, ok := s.status[key]; ok {
			if _, done := st.ProcessedStages[stage]; done {
				continue
			}
		}
		entries = append(entries, e)
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Timestamp != entries[j].Timestamp {
			return entries[i].Timestamp < entries[j].Timestamp
		}
		return entries[i].ID < entries[j].ID
	})

	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.ID
	}
	return ids
}

// VerifyOutputExists reports whether path exists. When it does not and id has
// been processed by any stage, the ledger of id is reset so the pipeline will
// redo it.
func (s *Store) VerifyOutputExists(id, path string) bool {
	if _, err := os.Stat(path); err == nil {
		return true
	}
	if !s.enabled {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := Key(id)
	st, ok := s.status[key]
	if !ok || len(st.ProcessedStages) == 0 {
		return false
	}

	logging.WithComponent("cache").Warn().
		Str("id", id).
		Str("expected", path).
		Msg("Output missing for processed item, resetting its processing status")

	s.resetLocked(key, "")
	if err := s.saveLocked(); err != nil {
		logging.WithComponent("cache").Error().Err(err).Msg("Failed to persist reset status")
	}
	return false
}

// Clear removes entries older than olderThan, or every entry when olderThan
// is zero. It returns the number removed.
func (s *Store) Clear(olderThan time.Duration) (int, error) {
	if !s.enabled {
		return 0, ErrDisabled
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	if olderThan <= 0 {
		removed = len(s.items)
		s.items = make(map[string]*Entry)
		s.status = make(map[string]*Status)
	} else {
		now := s.now()
		for key, e := range s.items {
			if now.Sub(e.Time()) > olderThan {
				delete(s.items, key)
				delete(s.status, key)
				removed++
			}
		}
	}

	logging.WithComponent("cache").Info().Int("removed", removed).Str("cache", s.name).Msg("Cache cleared")
	return removed, s.saveLocked()
}

// Len returns the number of live entries
func (s *Store) Len() int {
	if !s.enabled {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.purgeLocked()
	return len(s.items)
}

// Stats summarizes the store
func (s *Store) Stats() Stats {
	stats := Stats{
		Name:      s.name,
		Path:      s.path,
		Enabled:   s.enabled,
		Processed: make(map[string]int),
	}
	if !s.enabled {
		return stats
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.purgeLocked()
	stats.TTL = s.ttl
	stats.Entries = len(s.items)
	for _, e := range s.items {
		t := e.Time()
		if stats.Oldest.IsZero() || t.Before(stats.Oldest) {
			stats.Oldest = t
		}
		if t.After(stats.Newest) {
			stats.Newest = t
		}
	}
	for _, st := range s.status {
		for stage := range st.ProcessedStages {
			stats.Processed[stage]++
		}
	}
	return stats
}

func (s *Store) markLocked(id, stage string) bool {
	key := Key(id)
	if _, ok := s.items[key]; !ok {
		return false
	}
	st, ok := s.status[key]
	if !ok {
		st = &Status{ID: id, ProcessedStages: make(map[string]StageMark)}
		s.status[key] = st
	}
	now := s.now()
	st.ProcessedStages[stage] = StageMark{
		Timestamp: floatUnix(now),
		Date:      now.Format(time.RFC3339),
	}
	return true
}

func (s *Store) resetLocked(key, stage string) bool {
	st, ok := s.status[key]
	if !ok {
		if _, cached := s.items[key]; !cached {
			return false
		}
		return true
	}
	if stage == "" {
		st.ProcessedStages = make(map[string]StageMark)
	} else {
		delete(st.ProcessedStages, stage)
	}
	return true
}

// purgeLocked drops entries past their TTL together with their ledgers
func (s *Store) purgeLocked() {
	now := s.now()
	expired := 0
	for key, e := range s.items {
		ttl := e.TTLSeconds
		if ttl <= 0 {
			ttl = s.ttl.Seconds()
		}
		if now.Sub(e.Time()).Seconds() > ttl {
			delete(s.items, key)
			delete(s.status, key)
			expired++
		}
	}
	// Ledgers whose item is gone are orphans
	for key := range s.status {
		if _, ok := s.items[key]; !ok {
			delete(s.status, key)
			expired++
		}
	}
	if expired == 0 {
		return
	}

	logger := logging.WithComponent("cache")
	logger.Info().Int("expired", expired).Str("cache", s.name).Msg("Removed expired items from cache")
	if err := s.saveLocked(); err != nil {
		logger.Error().Err(err).Msg("Failed to persist cache after purge")
	}
}

func floatUnix(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}

func unixFloat(f float64) time.Time {
	sec := int64(f)
	nsec := int64((f - float64(sec)) * float64(time.Second))
	return time.Unix(sec, nsec)
}
