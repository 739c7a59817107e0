package lambdafn

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"testing"

	"github.com/aws/aws-lambda-go/events"
	"github.com/imgmeta/imgmeta/internal/catalog"
	"github.com/imgmeta/imgmeta/internal/metadata"
	"github.com/imgmeta/imgmeta/internal/storage"
)

func newTestFunctions() (*Functions, *metadata.MemoryStore, *storage.MemoryBackend) {
	meta := metadata.NewMemoryStore()
	objects := storage.NewMemoryBackend()
	return New(catalog.New(meta, objects)), meta, objects
}

func proxyRequest(hash string) events.APIGatewayProxyRequest {
	return events.APIGatewayProxyRequest{
		HTTPMethod:     "GET",
		PathParameters: map[string]string{"s3objectkey": hash},
	}
}

func s3Event(bucket, key string, size int64, etag string) events.S3Event {
	var rec events.S3EventRecord
	rec.S3.Bucket.Name = bucket
	rec.S3.Object.Key = key
	rec.S3.Object.Size = size
	rec.S3.Object.ETag = etag
	return events.S3Event{Records: []events.S3EventRecord{rec}}
}

func TestEndToEnd(t *testing.T) {
	f, _, objects := newTestFunctions()
	ctx := context.Background()
	objects.PutObject("b", "photos/cat.png", []byte("\x89PNG\r\n"))

	if err := f.Ingest(ctx, s3Event("b", "photos/cat.png", 1024, "abc")); err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	resp, err := f.Metadata(ctx, proxyRequest("abc"))
	if err != nil {
		t.Fatal(err)
	}
	want := `{"message":"SUCCESS","data":{"bucket":"b","key":"photos/cat.png","size":1024,"s3objectkey":"abc"}}`
	if resp.StatusCode != 200 || resp.Body != want {
		t.Errorf("Metadata = %d %s", resp.StatusCode, resp.Body)
	}

	resp, err = f.Image(ctx, proxyRequest("abc"))
	if err != nil {
		t.Fatal(err)
	}
	if !resp.IsBase64Encoded {
		t.Error("IsBase64Encoded = false")
	}
	body, err := base64.StdEncoding.DecodeString(resp.Body)
	if err != nil || string(body) != "\x89PNG\r\n" {
		t.Errorf("body = %q (%v)", body, err)
	}
	if resp.Headers["Content-Length"] != "1024" {
		t.Errorf("Content-Length = %q, want the recorded size", resp.Headers["Content-Length"])
	}
	if resp.Headers["Content-Disposition"] != "attachment; filename=abc.png" {
		t.Errorf("Content-Disposition = %q", resp.Headers["Content-Disposition"])
	}
	if resp.Headers["Content-Type"] != "image/png" {
		t.Errorf("Content-Type = %q", resp.Headers["Content-Type"])
	}
}

func TestMetadataMissing(t *testing.T) {
	f, _, _ := newTestFunctions()
	resp, _ := f.Metadata(context.Background(), proxyRequest("nope"))
	if resp.StatusCode != 200 || resp.Body != `{"message":"SUCCESS","data":{}}` {
		t.Errorf("Metadata = %d %s", resp.StatusCode, resp.Body)
	}
	if resp.IsBase64Encoded {
		t.Error("JSON responses must not be base64-encoded")
	}
}

func TestImageFailure(t *testing.T) {
	f, meta, _ := newTestFunctions()
	meta.PutRecord(context.Background(), &metadata.Record{Bucket: "b", Key: "gone.png", Size: 1, ContentHash: "abc"})

	resp, _ := f.Image(context.Background(), proxyRequest("abc"))
	if resp.StatusCode != 404 || resp.IsBase64Encoded {
		t.Errorf("Image = %d base64=%v", resp.StatusCode, resp.IsBase64Encoded)
	}
	var env struct {
		Message string `json:"message"`
	}
	json.Unmarshal([]byte(resp.Body), &env)
	if env.Message != "FAILED at 'storage.GetObject(Bucket: b, Key: gone.png)'" {
		t.Errorf("message = %q", env.Message)
	}
}

func TestStats(t *testing.T) {
	f, _, _ := newTestFunctions()
	ctx := context.Background()
	f.Ingest(ctx, s3Event("b", "x.jpg", 3, "h1"))
	f.Ingest(ctx, s3Event("b", "y.jpg", 7, "h2"))

	resp, _ := f.Stats(ctx, events.APIGatewayProxyRequest{})
	var env struct {
		Data catalog.Stats `json:"data"`
	}
	if err := json.Unmarshal([]byte(resp.Body), &env); err != nil {
		t.Fatal(err)
	}
	if env.Data.LargestImageKey != "y.jpg" || env.Data.SmallestImageKey != "x.jpg" || env.Data.TotalImages != 2 {
		t.Errorf("stats = %+v", env.Data)
	}
}

func TestSelect(t *testing.T) {
	f, _, _ := newTestFunctions()
	for _, name := range []string{HandlerIngest, HandlerMetadata, HandlerImage, HandlerStats} {
		if h, err := f.Select(name); err != nil || h == nil {
			t.Errorf("Select(%q) = %v, %v", name, h, err)
		}
	}
	if _, err := f.Select("bogus"); err == nil {
		t.Error("Select(bogus) succeeded")
	}
}
