package catalog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-lambda-go/events"
	"github.com/imgmeta/imgmeta/internal/config"
	storeerr "github.com/imgmeta/imgmeta/internal/errors"
	"github.com/imgmeta/imgmeta/internal/metadata"
	"github.com/imgmeta/imgmeta/internal/storage"
)

// faultyStore wraps a MemoryStore with injectable failures and records
// every PutRecord call.
type faultyStore struct {
	*metadata.MemoryStore

	mu   sync.Mutex
	puts []metadata.Record

	// putErr returns the error for a given put, or nil.
	putErr func(rec *metadata.Record) error
	getErr error
	// scanErrAfter fails the scan once this many pages have been served.
	scanErrAfter int
	scanErr      error
	scanCalls    int
}

func newFaultyStore() *faultyStore {
	return &faultyStore{MemoryStore: metadata.NewMemoryStore(), scanErrAfter: -1}
}

func (s *faultyStore) PutRecord(ctx context.Context, rec *metadata.Record) error {
	s.mu.Lock()
	s.puts = append(s.puts, *rec)
	s.mu.Unlock()
	if s.putErr != nil {
		if err := s.putErr(rec); err != nil {
			return err
		}
	}
	return s.MemoryStore.PutRecord(ctx, rec)
}

func (s *faultyStore) GetRecord(ctx context.Context, contentHash string) (*metadata.Record, error) {
	if s.getErr != nil {
		return nil, s.getErr
	}
	return s.MemoryStore.GetRecord(ctx, contentHash)
}

func (s *faultyStore) ScanRecords(ctx context.Context, opts metadata.ScanOptions) (*metadata.ScanPage, error) {
	if s.scanErr != nil && s.scanCalls >= s.scanErrAfter {
		return nil, s.scanErr
	}
	s.scanCalls++
	return s.MemoryStore.ScanRecords(ctx, opts)
}

func (s *faultyStore) TableName() string {
	return "images"
}

// recordingObjects wraps a MemoryBackend and remembers the last fetch.
type recordingObjects struct {
	*storage.MemoryBackend
	lastBucket, lastKey string
}

func (o *recordingObjects) GetObject(ctx context.Context, bucket, key string) (io.ReadCloser, int64, error) {
	o.lastBucket, o.lastKey = bucket, key
	return o.MemoryBackend.GetObject(ctx, bucket, key)
}

func newTestCatalog(opts ...Option) (*Catalog, *faultyStore, *recordingObjects) {
	meta := newFaultyStore()
	objects := &recordingObjects{MemoryBackend: storage.NewMemoryBackend()}
	return New(meta, objects, opts...), meta, objects
}

func asStoreError(t *testing.T, err error) *storeerr.StoreError {
	t.Helper()
	var serr *storeerr.StoreError
	if !errors.As(err, &serr) {
		t.Fatalf("error %v (%T) is not a *StoreError", err, err)
	}
	return serr
}

func TestIngestWritesOneRecordPerNotification(t *testing.T) {
	c, meta, _ := newTestCatalog()
	batch := []Notification{
		{Bucket: "b", Key: "photos/cat.png", Size: 1024, ContentHash: "abc"},
		{Bucket: "b", Key: "photos/dog+1.jpg", Size: 2048, ContentHash: "def"},
		{Bucket: "c", Key: "x.gif", Size: 0, ContentHash: "ghi"},
	}

	report := c.Ingest(context.Background(), batch)
	if report != (IngestReport{Received: 3, Written: 3}) {
		t.Errorf("report = %+v", report)
	}
	if len(meta.puts) != 3 {
		t.Fatalf("puts = %d, want 3", len(meta.puts))
	}
	for _, n := range batch {
		got, _ := meta.MemoryStore.GetRecord(context.Background(), n.ContentHash)
		if got == nil || *got != *n.Record() {
			t.Errorf("record %s = %+v, want %+v", n.ContentHash, got, *n.Record())
		}
	}
}

func TestIngestFailureDoesNotBlockOthers(t *testing.T) {
	c, meta, _ := newTestCatalog(WithIngestConcurrency(2))
	meta.putErr = func(rec *metadata.Record) error {
		if rec.ContentHash == "bad" {
			return &storeerr.StatusError{Status: 400, Code: "ValidationException", Message: "boom"}
		}
		return nil
	}

	var batch []Notification
	for i := 0; i < 10; i++ {
		batch = append(batch, Notification{Bucket: "b", Key: fmt.Sprintf("%d.png", i), Size: int64(i), ContentHash: fmt.Sprintf("h%d", i)})
	}
	batch = append(batch, Notification{Bucket: "b", Key: "bad.png", ContentHash: "bad"})

	report := c.Ingest(context.Background(), batch)
	if report.Written != 10 || report.Failed != 1 || report.Received != 11 {
		t.Errorf("report = %+v", report)
	}
	if meta.Len() != 10 {
		t.Errorf("stored %d records, want 10", meta.Len())
	}
}

func TestIngestConcurrentSQLite(t *testing.T) {
	meta, err := metadata.NewSQLiteStore(filepath.Join(t.TempDir(), "metadata.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { meta.Close() })
	c := New(meta, storage.NewMemoryBackend(), WithIngestConcurrency(DefaultIngestConcurrency))

	var batch []Notification
	for i := 0; i < 500; i++ {
		batch = append(batch, Notification{Bucket: "b", Key: fmt.Sprintf("%03d.png", i), Size: int64(i), ContentHash: fmt.Sprintf("h%03d", i)})
	}

	report := c.Ingest(context.Background(), batch)
	if report != (IngestReport{Received: 500, Written: 500}) {
		t.Errorf("report = %+v", report)
	}
	stats, err := c.Stats(context.Background())
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.TotalImages != 500 {
		t.Errorf("TotalImages = %d, want 500", stats.TotalImages)
	}
}

func TestIngestSkipsEmptyContentHash(t *testing.T) {
	c, meta, _ := newTestCatalog()
	report := c.Ingest(context.Background(), []Notification{
		{Bucket: "b", Key: "a.png", ContentHash: ""},
		{Bucket: "b", Key: "b.png", ContentHash: "h"},
	})
	if report.Skipped != 1 || report.Written != 1 {
		t.Errorf("report = %+v", report)
	}
	if len(meta.puts) != 1 {
		t.Errorf("puts = %d, want 1", len(meta.puts))
	}
}

func TestIngestEmptyBatch(t *testing.T) {
	c, _, _ := newTestCatalog()
	if report := c.Ingest(context.Background(), nil); report != (IngestReport{}) {
		t.Errorf("report = %+v, want zero", report)
	}
}

func TestReingestOverwrites(t *testing.T) {
	c, _, _ := newTestCatalog()
	ctx := context.Background()
	c.Ingest(ctx, []Notification{{Bucket: "b1", Key: "first.png", Size: 1, ContentHash: "h"}})
	c.Ingest(ctx, []Notification{{Bucket: "b2", Key: "second.jpg", Size: 2, ContentHash: "h"}})

	rec, err := c.Lookup(ctx, "h")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	want := metadata.Record{Bucket: "b2", Key: "second.jpg", Size: 2, ContentHash: "h"}
	if rec == nil || *rec != want {
		t.Errorf("Lookup = %+v, want %+v", rec, want)
	}
}

func TestNotificationsFromS3Event(t *testing.T) {
	var ev events.S3Event
	ev.Records = []events.S3EventRecord{{}, {}}
	ev.Records[0].S3.Bucket.Name = "uploads"
	ev.Records[0].S3.Object.Key = "upload/my+cat.png"
	ev.Records[0].S3.Object.Size = 4096
	ev.Records[0].S3.Object.ETag = "e1"
	ev.Records[1].S3.Bucket.Name = "uploads"
	ev.Records[1].S3.Object.Key = "upload/b.jpg"
	ev.Records[1].S3.Object.ETag = "e2"

	got := NotificationsFromS3Event(ev)
	want := []Notification{
		{Bucket: "uploads", Key: "upload/my+cat.png", Size: 4096, ContentHash: "e1"},
		{Bucket: "uploads", Key: "upload/b.jpg", Size: 0, ContentHash: "e2"},
	}
	if len(got) != len(want) {
		t.Fatalf("got %d notifications, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("notification %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestLookupExisting(t *testing.T) {
	c, meta, _ := newTestCatalog()
	rec := &metadata.Record{Bucket: "b", Key: "k.png", Size: 10, ContentHash: "h"}
	meta.MemoryStore.PutRecord(context.Background(), rec)

	got, err := c.Lookup(context.Background(), "h")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if got == nil || *got != *rec {
		t.Errorf("Lookup = %+v, want %+v", got, *rec)
	}
}

func TestLookupMissingDefaultsToEmpty(t *testing.T) {
	c, _, _ := newTestCatalog()
	got, err := c.Lookup(context.Background(), "missing")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if got != nil {
		t.Errorf("Lookup = %+v, want nil record", got)
	}
}

func TestLookupMissingStrict(t *testing.T) {
	c, _, _ := newTestCatalog(WithNotFoundPolicy(NotFoundStrict))
	_, err := c.Lookup(context.Background(), "missing")
	serr := asStoreError(t, err)
	if serr.Status != http.StatusNotFound {
		t.Errorf("Status = %d, want 404", serr.Status)
	}
	if serr.Call() != "metadata.GetRecord(TableName: images, s3objectkey: missing)" {
		t.Errorf("Call = %q", serr.Call())
	}
}

func TestLookupEmptyHash(t *testing.T) {
	c, _, _ := newTestCatalog()
	_, err := c.Lookup(context.Background(), "")
	if serr := asStoreError(t, err); serr.Status != http.StatusBadRequest {
		t.Errorf("Status = %d, want 400", serr.Status)
	}
}

func TestLookupStoreErrorPassesStatus(t *testing.T) {
	c, meta, _ := newTestCatalog()
	meta.getErr = &storeerr.StatusError{Status: 503, Code: "ServiceUnavailable", Message: "down"}

	_, err := c.Lookup(context.Background(), "h")
	serr := asStoreError(t, err)
	if serr.Status != 503 {
		t.Errorf("Status = %d, want 503", serr.Status)
	}
	if serr.Detail().Code != "ServiceUnavailable" {
		t.Errorf("Code = %q", serr.Detail().Code)
	}
}

func TestDecodeKey(t *testing.T) {
	tests := []struct {
		raw     string
		want    string
		wantErr bool
	}{
		{"photos/cat.png", "photos/cat.png", false},
		{"my+holiday+photo.jpg", "my holiday photo.jpg", false},
		{"a%2Bb.png", "a+b.png", false},
		{"caf%C3%A9+menu.gif", "café menu.gif", false},
		{"100%25+done.png", "100% done.png", false},
		{"bad%zzkey+x.png", "bad%zzkey x.png", true},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := DecodeKey(tt.raw)
			if (err != nil) != tt.wantErr {
				t.Errorf("DecodeKey(%q) error = %v, wantErr %v", tt.raw, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("DecodeKey(%q) = %q, want %q", tt.raw, got, tt.want)
			}
		})
	}
}

func TestExtension(t *testing.T) {
	tests := []struct {
		key  string
		want string
	}{
		{"photos/cat.png", ".png"},
		{"archive.tar.gz", ".gz"},
		{"noext", ""},
		{"trailingdot.", "."},
		{"dir.v2/file", ".v2/file"},
		{".hidden", ".hidden"},
	}
	for _, tt := range tests {
		if got := Extension(tt.key); got != tt.want {
			t.Errorf("Extension(%q) = %q, want %q", tt.key, got, tt.want)
		}
	}
}

func TestDownload(t *testing.T) {
	c, meta, objects := newTestCatalog()
	meta.MemoryStore.PutRecord(context.Background(), &metadata.Record{Bucket: "b", Key: "my+cat%21.png", Size: 5, ContentHash: "h1"})
	objects.PutObject("b", "my cat!.png", []byte("hello"))

	d, err := c.Download(context.Background(), "h1")
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	if objects.lastBucket != "b" || objects.lastKey != "my cat!.png" {
		t.Errorf("fetched %s/%s, want b/my cat!.png", objects.lastBucket, objects.lastKey)
	}
	if d.Filename != "h1.png" {
		t.Errorf("Filename = %q, want h1.png", d.Filename)
	}
	if d.ContentLength != 5 || string(d.Body) != "hello" {
		t.Errorf("Download = %d bytes %q", d.ContentLength, d.Body)
	}
}

func TestDownloadKeyWithoutExtension(t *testing.T) {
	c, meta, objects := newTestCatalog()
	meta.MemoryStore.PutRecord(context.Background(), &metadata.Record{Bucket: "b", Key: "README", Size: 2, ContentHash: "h2"})
	objects.PutObject("b", "README", []byte("hi"))

	d, err := c.Download(context.Background(), "h2")
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	if d.Filename != "h2" {
		t.Errorf("Filename = %q, want h2", d.Filename)
	}
}

func TestDownloadMissingRecordIsNotFoundUnderBothPolicies(t *testing.T) {
	for _, p := range []NotFoundPolicy{NotFoundEmpty, NotFoundStrict} {
		t.Run(p.String(), func(t *testing.T) {
			c, _, _ := newTestCatalog(WithNotFoundPolicy(p))
			_, err := c.Download(context.Background(), "missing")
			serr := asStoreError(t, err)
			if serr.Status != http.StatusNotFound || serr.Op != "metadata.GetRecord" {
				t.Errorf("StoreError = %+v", serr)
			}
		})
	}
}

func TestDownloadObjectFailureNamesCall(t *testing.T) {
	c, meta, _ := newTestCatalog()
	meta.MemoryStore.PutRecord(context.Background(), &metadata.Record{Bucket: "b", Key: "gone+away.png", Size: 1, ContentHash: "orphan"})

	_, err := c.Download(context.Background(), "orphan")
	var objErr *ObjectError
	if !errors.As(err, &objErr) {
		t.Fatalf("error %T is not an *ObjectError", err)
	}
	if objErr.Record.ContentHash != "orphan" {
		t.Errorf("Record = %+v", objErr.Record)
	}
	serr := asStoreError(t, err)
	if serr.Status != http.StatusNotFound {
		t.Errorf("Status = %d, want 404", serr.Status)
	}
	if serr.Call() != "storage.GetObject(Bucket: b, Key: gone away.png)" {
		t.Errorf("Call = %q", serr.Call())
	}
}

func TestDownloadMetadataFailure(t *testing.T) {
	c, meta, objects := newTestCatalog()
	meta.getErr = &storeerr.StatusError{Status: 400, Code: "ValidationException", Message: "bad"}

	_, err := c.Download(context.Background(), "h")
	serr := asStoreError(t, err)
	if serr.Op != "metadata.GetRecord" || serr.Status != 400 {
		t.Errorf("StoreError = %+v", serr)
	}
	if objects.lastKey != "" {
		t.Error("object store must not be called when the record read fails")
	}
}

func TestStatsMinMaxMatchReference(t *testing.T) {
	c, meta, _ := newTestCatalog(WithScanPageSize(3))
	sizes := []int64{500, 20, 7000, 20, 999, 7000, 1, 64, 300, 1}
	for i, sz := range sizes {
		meta.MemoryStore.PutRecord(context.Background(), &metadata.Record{
			Bucket: "b", Key: fmt.Sprintf("img%02d.png", i), Size: sz, ContentHash: fmt.Sprintf("h%02d", i),
		})
	}

	minSize, maxSize := sizes[0], sizes[0]
	for _, sz := range sizes {
		if sz < minSize {
			minSize = sz
		}
		if sz > maxSize {
			maxSize = sz
		}
	}

	s, err := c.Stats(context.Background())
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if s.SmallestImageSize != minSize || s.LargestImageSize != maxSize {
		t.Errorf("min/max = %d/%d, want %d/%d", s.SmallestImageSize, s.LargestImageSize, minSize, maxSize)
	}
	// Memory scans in hash order, so the first minimum is h06 and the
	// last maximum is h05.
	if s.SmallestImageKey != "img06.png" || s.LargestImageKey != "img05.png" {
		t.Errorf("keys = %q/%q, want img06.png/img05.png", s.SmallestImageKey, s.LargestImageKey)
	}
	if s.TotalImages != int64(len(sizes)) {
		t.Errorf("TotalImages = %d", s.TotalImages)
	}
	if meta.scanCalls != 4 {
		t.Errorf("scan calls = %d, want 4 pages of 3", meta.scanCalls)
	}
}

func TestStatsTypeCounts(t *testing.T) {
	c, meta, _ := newTestCatalog()
	for i, key := range []string{"a.jpg", "b.jpg", "c.png"} {
		meta.MemoryStore.PutRecord(context.Background(), &metadata.Record{Bucket: "b", Key: key, Size: int64(i), ContentHash: fmt.Sprintf("h%d", i)})
	}

	s, err := c.Stats(context.Background())
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	want := []TypeCount{{".png", 1}, {".jpg", 2}}
	if len(s.SavedTypes) != len(want) {
		t.Fatalf("SavedTypes = %+v, want %+v", s.SavedTypes, want)
	}
	for i := range want {
		if s.SavedTypes[i] != want[i] {
			t.Errorf("SavedTypes[%d] = %+v, want %+v", i, s.SavedTypes[i], want[i])
		}
	}
}

func TestAggregatorTiesAndOrder(t *testing.T) {
	agg := NewAggregator()
	for _, r := range []metadata.Record{
		{Key: "first+small.gif", Size: 1},
		{Key: "noext", Size: 5},
		{Key: "second+small.png", Size: 1},
		{Key: "first+big.png", Size: 9},
		{Key: "last+big.gif", Size: 9},
	} {
		agg.Add(r)
	}

	s := agg.Result()
	if s.SmallestImageKey != "first small.gif" {
		t.Errorf("SmallestImageKey = %q", s.SmallestImageKey)
	}
	if s.LargestImageKey != "last big.gif" {
		t.Errorf("LargestImageKey = %q", s.LargestImageKey)
	}
	// .gif and .png tie at 2 and keep first-seen order.
	want := []TypeCount{{"", 1}, {".gif", 2}, {".png", 2}}
	for i := range want {
		if s.SavedTypes[i] != want[i] {
			t.Errorf("SavedTypes = %+v, want %+v", s.SavedTypes, want)
			break
		}
	}
}

func TestStatsEmptyStore(t *testing.T) {
	c, _, _ := newTestCatalog()
	s, err := c.Stats(context.Background())
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if s.TotalImages != 0 || s.LargestImageKey != "" || s.SmallestImageKey != "" {
		t.Errorf("Stats = %+v, want empty", s)
	}
	if s.SavedTypes == nil || len(s.SavedTypes) != 0 {
		t.Errorf("SavedTypes = %#v, want empty non-nil slice", s.SavedTypes)
	}
}

func TestStatsScanFailure(t *testing.T) {
	c, meta, _ := newTestCatalog(WithScanPageSize(1))
	for i := 0; i < 3; i++ {
		meta.MemoryStore.PutRecord(context.Background(), &metadata.Record{Key: "x.png", ContentHash: fmt.Sprintf("h%d", i)})
	}
	meta.scanErrAfter = 1
	meta.scanErr = &storeerr.StatusError{Status: 400, Code: "ProvisionedThroughputExceededException", Message: "slow down"}

	_, err := c.Stats(context.Background())
	serr := asStoreError(t, err)
	if serr.Status != 400 || serr.Call() != "metadata.ScanRecords(TableName: images)" {
		t.Errorf("StoreError = %+v (%s)", serr, serr.Call())
	}
}

func TestEndToEnd(t *testing.T) {
	c, _, objects := newTestCatalog()
	ctx := context.Background()
	objects.PutObject("b", "photos/cat.png", []byte(strings.Repeat("x", 1024)))

	c.Ingest(ctx, []Notification{{Bucket: "b", Key: "photos/cat.png", Size: 1024, ContentHash: "abc"}})

	rec, err := c.Lookup(ctx, "abc")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	want := metadata.Record{Bucket: "b", Key: "photos/cat.png", Size: 1024, ContentHash: "abc"}
	if rec == nil || *rec != want {
		t.Fatalf("Lookup = %+v, want %+v", rec, want)
	}

	d, err := c.Download(ctx, "abc")
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	if objects.lastBucket != "b" || objects.lastKey != "photos/cat.png" {
		t.Errorf("fetched %s/%s", objects.lastBucket, objects.lastKey)
	}
	if !strings.HasSuffix(d.Filename, "abc.png") {
		t.Errorf("Filename = %q", d.Filename)
	}
}

func TestOptionsFromConfig(t *testing.T) {
	cfg := config.Default().Catalog
	c := New(metadata.NewMemoryStore(), storage.NewMemoryBackend(), OptionsFromConfig(&cfg)...)
	if c.NotFoundPolicy() != NotFoundEmpty || c.ingestConcurrency != 8 || c.scanPageSize != 100 {
		t.Errorf("defaults = %v/%d/%d", c.NotFoundPolicy(), c.ingestConcurrency, c.scanPageSize)
	}

	cfg.StrictNotFound = true
	cfg.IngestConcurrency = 2
	c = New(metadata.NewMemoryStore(), storage.NewMemoryBackend(), OptionsFromConfig(&cfg)...)
	if c.NotFoundPolicy() != NotFoundStrict || c.ingestConcurrency != 2 {
		t.Errorf("configured = %v/%d", c.NotFoundPolicy(), c.ingestConcurrency)
	}
}
