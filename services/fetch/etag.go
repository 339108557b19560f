package fetch

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"sync"
	"time"
)

// EtagRecord is one cached entity tag for a CDN URL.
type EtagRecord struct {
	Etag        string    `json:"etag"`
	LastChecked time.Time `json:"last_checked"`
	FileSize    int64     `json:"file_size"`
}

// EtagStore persists url -> EtagRecord as JSON under the cache directory.
// Loaded lazily, written atomically (write-temp-then-rename). A corrupted
// file is deleted and recreated empty.
type EtagStore struct {
	mu      sync.Mutex
	path    string
	entries map[string]EtagRecord
	loaded  bool
}

// NewEtagStore manages <cacheDir>/etags.json.
func NewEtagStore(cacheDir string) *EtagStore {
	return &EtagStore{path: filepath.Join(cacheDir, "etags.json")}
}

// Lookup returns the record for a URL, if any.
func (s *EtagStore) Lookup(url string) (EtagRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.load()
	rec, ok := s.entries[url]
	return rec, ok
}

// Put stores a record and persists the file.
func (s *EtagStore) Put(url string, rec EtagRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.load()
	s.entries[url] = rec
	return s.persist()
}

// Invalidate drops the record for a URL; the next fetch is unconditional.
func (s *EtagStore) Invalidate(url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.load()
	if _, ok := s.entries[url]; !ok {
		return nil
	}
	delete(s.entries, url)
	return s.persist()
}

func (s *EtagStore) load() {
	if s.loaded {
		return
	}
	s.loaded = true
	s.entries = make(map[string]EtagRecord)

	data, err := os.ReadFile(s.path)
	if err != nil {
		return
	}
	if err := json.Unmarshal(data, &s.entries); err != nil {
		// Corrupted cache: delete and start empty. Divergence only costs
		// extra conditional GETs.
		os.Remove(s.path)
		s.entries = make(map[string]EtagRecord)
	}
}

func (s *EtagStore) persist() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}
	data, err := json.MarshalIndent(s.entries, "", "  ")
	if err != nil {
		return fmt.Errorf("encode etags: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write etags: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace etags: %w", err)
	}
	return nil
}

// ArchivePath maps a URL to its cached copy under <cacheDir>/zips/.
func ArchivePath(cacheDir, rawURL string) string {
	base := path.Base(rawURL)
	if u, err := url.Parse(rawURL); err == nil {
		base = path.Base(u.Path)
	}
	return filepath.Join(cacheDir, "zips", base)
}
