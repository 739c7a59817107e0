package metadata

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/imgmeta/imgmeta/internal/config"
	"golang.org/x/sync/errgroup"
)

// newTestSQLiteStore creates a SQLiteStore backed by a temporary database
// file. The database is automatically cleaned up when the test finishes.
func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	store, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore(%q) failed: %v", dbPath, err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func newTestLocalStore(t *testing.T, dir string) *LocalStore {
	t.Helper()
	store, err := NewLocalStore(&config.LocalMetaConfig{RootDir: dir})
	if err != nil {
		t.Fatalf("NewLocalStore(%q) failed: %v", dir, err)
	}
	return store
}

// engines returns every engine that can run without network access.
func engines(t *testing.T) map[string]Store {
	return map[string]Store{
		"memory": NewMemoryStore(),
		"sqlite": newTestSQLiteStore(t),
		"local":  newTestLocalStore(t, t.TempDir()),
	}
}

func TestRecordPutGet(t *testing.T) {
	for name, store := range engines(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			rec := &Record{Bucket: "photos", Key: "cats/tom+cat.png", Size: 2048, ContentHash: "abc123"}
			if err := store.PutRecord(ctx, rec); err != nil {
				t.Fatalf("PutRecord: %v", err)
			}

			got, err := store.GetRecord(ctx, "abc123")
			if err != nil {
				t.Fatalf("GetRecord: %v", err)
			}
			if got == nil {
				t.Fatal("GetRecord returned nil for stored record")
			}
			if *got != *rec {
				t.Errorf("GetRecord = %+v, want %+v", *got, *rec)
			}
		})
	}
}

func TestRecordGetMissing(t *testing.T) {
	for name, store := range engines(t) {
		t.Run(name, func(t *testing.T) {
			got, err := store.GetRecord(context.Background(), "nope")
			if err != nil {
				t.Fatalf("GetRecord: %v", err)
			}
			if got != nil {
				t.Errorf("GetRecord = %+v, want nil", got)
			}
		})
	}
}

func TestRecordPutReplaces(t *testing.T) {
	for name, store := range engines(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			first := &Record{Bucket: "b1", Key: "a.png", Size: 10, ContentHash: "h"}
			second := &Record{Bucket: "b2", Key: "b.jpg", Size: 20, ContentHash: "h"}
			if err := store.PutRecord(ctx, first); err != nil {
				t.Fatalf("PutRecord first: %v", err)
			}
			if err := store.PutRecord(ctx, second); err != nil {
				t.Fatalf("PutRecord second: %v", err)
			}

			got, err := store.GetRecord(ctx, "h")
			if err != nil {
				t.Fatalf("GetRecord: %v", err)
			}
			if got == nil || *got != *second {
				t.Errorf("GetRecord = %+v, want %+v", got, *second)
			}
		})
	}
}

func TestRecordPutConcurrent(t *testing.T) {
	const writers = 8
	const records = 200

	for name, store := range engines(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			var g errgroup.Group
			g.SetLimit(writers)
			for i := 0; i < records; i++ {
				g.Go(func() error {
					return store.PutRecord(ctx, &Record{
						Bucket:      "b",
						Key:         fmt.Sprintf("k%03d.png", i),
						Size:        int64(i),
						ContentHash: fmt.Sprintf("h%03d", i),
					})
				})
			}
			if err := g.Wait(); err != nil {
				t.Fatalf("concurrent PutRecord: %v", err)
			}

			count := 0
			err := ScanAll(ctx, store, 50, func(page []Record) error {
				count += len(page)
				return nil
			})
			if err != nil {
				t.Fatalf("ScanAll: %v", err)
			}
			if count != records {
				t.Errorf("stored %d records, want %d", count, records)
			}
		})
	}
}

func TestScanAllPages(t *testing.T) {
	for name, store := range engines(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			for i := 0; i < 25; i++ {
				rec := &Record{Bucket: "b", Key: fmt.Sprintf("k%02d.png", i), Size: int64(i), ContentHash: fmt.Sprintf("h%02d", i)}
				if err := store.PutRecord(ctx, rec); err != nil {
					t.Fatalf("PutRecord: %v", err)
				}
			}

			seen := make(map[string]bool)
			pages := 0
			err := ScanAll(ctx, store, 10, func(page []Record) error {
				pages++
				if len(page) > 10 {
					t.Errorf("page of %d records exceeds limit 10", len(page))
				}
				for _, r := range page {
					if seen[r.ContentHash] {
						t.Errorf("record %s returned twice", r.ContentHash)
					}
					seen[r.ContentHash] = true
				}
				return nil
			})
			if err != nil {
				t.Fatalf("ScanAll: %v", err)
			}
			if len(seen) != 25 {
				t.Errorf("scanned %d records, want 25", len(seen))
			}
			if pages != 3 {
				t.Errorf("pages = %d, want 3", pages)
			}
		})
	}
}

func TestScanAllEmpty(t *testing.T) {
	for name, store := range engines(t) {
		t.Run(name, func(t *testing.T) {
			called := false
			err := ScanAll(context.Background(), store, 0, func(page []Record) error {
				called = true
				return nil
			})
			if err != nil {
				t.Fatalf("ScanAll: %v", err)
			}
			if called {
				t.Error("callback should not run for an empty store")
			}
		})
	}
}

func TestScanAllCallbackError(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		store.PutRecord(ctx, &Record{ContentHash: fmt.Sprintf("h%d", i)})
	}

	stop := errors.New("stop")
	calls := 0
	err := ScanAll(ctx, store, 2, func(page []Record) error {
		calls++
		return stop
	})
	if !errors.Is(err, stop) {
		t.Fatalf("ScanAll error = %v, want %v", err, stop)
	}
	if calls != 1 {
		t.Errorf("callback calls = %d, want 1", calls)
	}
}

func TestLocalStoreReplay(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	store := newTestLocalStore(t, dir)
	store.PutRecord(ctx, &Record{Bucket: "b", Key: "old.png", Size: 1, ContentHash: "h1"})
	store.PutRecord(ctx, &Record{Bucket: "b", Key: "new.png", Size: 2, ContentHash: "h1"})
	store.PutRecord(ctx, &Record{Bucket: "b", Key: "other.gif", Size: 3, ContentHash: "h2"})

	reopened, err := NewLocalStore(&config.LocalMetaConfig{RootDir: dir, CompactOnStartup: true})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	got, err := reopened.GetRecord(ctx, "h1")
	if err != nil || got == nil {
		t.Fatalf("GetRecord after replay = %v, %v", got, err)
	}
	if got.Key != "new.png" || got.Size != 2 {
		t.Errorf("replayed record = %+v, want latest write", *got)
	}
	if n := reopened.index.Len(); n != 2 {
		t.Errorf("replayed %d records, want 2", n)
	}

	// Compaction must leave a log that replays to the same state.
	again := newTestLocalStore(t, dir)
	if n := again.index.Len(); n != 2 {
		t.Errorf("after compaction replayed %d records, want 2", n)
	}
}

func TestTableName(t *testing.T) {
	if got := TableName(NewMemoryStore()); got != "memory" {
		t.Errorf("TableName(memory) = %q", got)
	}
	if got := TableName(newTestSQLiteStore(t)); got != "records" {
		t.Errorf("TableName(sqlite) = %q", got)
	}
}

func TestOpenUnknownEngine(t *testing.T) {
	_, err := Open(context.Background(), &config.MetadataConfig{Engine: "cassandra"})
	if err == nil {
		t.Fatal("expected error for unknown engine")
	}
}

func TestOpenMemory(t *testing.T) {
	s, err := Open(context.Background(), &config.MetadataConfig{Engine: "memory"})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, ok := s.(*MemoryStore); !ok {
		t.Errorf("Open(memory) returned %T", s)
	}
}
