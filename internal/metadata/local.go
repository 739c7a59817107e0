package metadata

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/imgmeta/imgmeta/internal/config"
)

const recordsFile = "records.jsonl"

type jsonlEntry struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
	Hash string          `json:"s3objectkey,omitempty"`
}

// LocalStore is an append-only JSON-lines log of records, replayed into
// memory on startup. Later lines for the same hash win.
type LocalStore struct {
	mu        sync.Mutex
	rootDir   string
	compactOn bool
	index     *MemoryStore
}

func NewLocalStore(cfg *config.LocalMetaConfig) (*LocalStore, error) {
	if cfg == nil {
		cfg = &config.LocalMetaConfig{}
	}
	if cfg.RootDir == "" {
		cfg.RootDir = "./data/metadata"
	}

	if err := os.MkdirAll(cfg.RootDir, 0755); err != nil {
		return nil, fmt.Errorf("creating metadata directory: %w", err)
	}

	s := &LocalStore{
		rootDir:   cfg.RootDir,
		compactOn: cfg.CompactOnStartup,
		index:     NewMemoryStore(),
	}

	if err := s.load(); err != nil {
		return nil, fmt.Errorf("loading metadata: %w", err)
	}

	if s.compactOn {
		if err := s.compact(); err != nil {
			return nil, fmt.Errorf("compacting metadata: %w", err)
		}
	}

	return s, nil
}

func (s *LocalStore) load() error {
	path := filepath.Join(s.rootDir, recordsFile)
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	defer f.Close()

	ctx := context.Background()
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var entry jsonlEntry
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			// A torn final line from a crash mid-append is skipped.
			continue
		}
		if entry.Type != "record" {
			continue
		}
		var rec Record
		if err := json.Unmarshal(entry.Data, &rec); err != nil {
			return fmt.Errorf("decoding record %s: %w", entry.Hash, err)
		}
		if err := s.index.PutRecord(ctx, &rec); err != nil {
			return err
		}
	}
	return scanner.Err()
}

func (s *LocalStore) appendEntry(entry jsonlEntry) error {
	path := filepath.Join(s.rootDir, recordsFile)

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer f.Close()

	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}

	_, err = f.Write(append(data, '\n'))
	return err
}

// compact rewrites the log with exactly one line per live record.
func (s *LocalStore) compact() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.index.mu.RLock()
	hashes := make([]string, 0, len(s.index.records))
	for h := range s.index.records {
		hashes = append(hashes, h)
	}
	sort.Strings(hashes)
	records := make([]Record, 0, len(hashes))
	for _, h := range hashes {
		records = append(records, *s.index.records[h])
	}
	s.index.mu.RUnlock()

	path := filepath.Join(s.rootDir, recordsFile)
	tmpPath := path + ".tmp"

	f, err := os.Create(tmpPath)
	if err != nil {
		return err
	}

	for i := range records {
		entry, err := newRecordEntry(&records[i])
		if err == nil {
			err = writeJSONLLine(f, entry)
		}
		if err != nil {
			f.Close()
			os.Remove(tmpPath)
			return err
		}
	}

	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return err
	}
	f.Close()

	return os.Rename(tmpPath, path)
}

func newRecordEntry(rec *Record) (jsonlEntry, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return jsonlEntry{}, err
	}
	return jsonlEntry{Type: "record", Data: data, Hash: rec.ContentHash}, nil
}

func writeJSONLLine(f *os.File, entry jsonlEntry) error {
	line, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	_, err = f.Write(append(line, '\n'))
	return err
}

func (s *LocalStore) Ping(ctx context.Context) error {
	_, err := os.Stat(s.rootDir)
	return err
}

func (s *LocalStore) Close() error {
	return nil
}

func (s *LocalStore) TableName() string {
	return filepath.Join(s.rootDir, recordsFile)
}

// PutRecord appends to the log before updating the in-memory index, so a
// failed write leaves the index unchanged.
func (s *LocalStore) PutRecord(ctx context.Context, rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, err := newRecordEntry(rec)
	if err != nil {
		return fmt.Errorf("encoding record: %w", err)
	}
	if err := s.appendEntry(entry); err != nil {
		return fmt.Errorf("appending record: %w", err)
	}
	return s.index.PutRecord(ctx, rec)
}

func (s *LocalStore) GetRecord(ctx context.Context, contentHash string) (*Record, error) {
	return s.index.GetRecord(ctx, contentHash)
}

func (s *LocalStore) ScanRecords(ctx context.Context, opts ScanOptions) (*ScanPage, error) {
	return s.index.ScanRecords(ctx, opts)
}

var _ Store = (*LocalStore)(nil)
