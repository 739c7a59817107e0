// Package lambdafn adapts the catalog operations to AWS Lambda: one S3
// event handler for ingest and three API Gateway proxy handlers for the
// read operations.
package lambdafn

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/aws/aws-lambda-go/events"
	"github.com/imgmeta/imgmeta/internal/api"
	"github.com/imgmeta/imgmeta/internal/catalog"
	"github.com/imgmeta/imgmeta/internal/handlers"
)

// Handler names accepted by Select.
const (
	HandlerIngest   = "ingest"
	HandlerMetadata = "metadata"
	HandlerImage    = "image"
	HandlerStats    = "stats"
)

// Functions holds the Lambda entry points over one catalog.
type Functions struct {
	catalog handlers.Catalog
}

// New creates the Lambda entry points over c.
func New(c handlers.Catalog) *Functions {
	return &Functions{catalog: c}
}

// Ingest handles an S3 upload event. Write failures are logged by the
// catalog and never fail the invocation, so the event is not redelivered.
func (f *Functions) Ingest(ctx context.Context, ev events.S3Event) error {
	f.catalog.Ingest(ctx, catalog.NotificationsFromS3Event(ev))
	return nil
}

// Metadata handles GET /metadata/{s3objectkey}.
func (f *Functions) Metadata(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	rec, err := f.catalog.Lookup(ctx, req.PathParameters[handlers.ContentHashParam])
	return proxyResponse(api.Lookup(rec, err)), nil
}

// Image handles GET /image/{s3objectkey}. The object bytes travel
// base64-encoded with IsBase64Encoded set.
func (f *Functions) Image(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	d, err := f.catalog.Download(ctx, req.PathParameters[handlers.ContentHashParam])
	return proxyResponse(api.Download(d, err)), nil
}

// Stats handles GET /info.
func (f *Functions) Stats(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	s, err := f.catalog.Stats(ctx)
	return proxyResponse(api.Stats(s, err)), nil
}

// Select returns the entry point registered under name, suitable for
// lambda.Start.
func (f *Functions) Select(name string) (any, error) {
	switch name {
	case HandlerIngest:
		return f.Ingest, nil
	case HandlerMetadata:
		return f.Metadata, nil
	case HandlerImage:
		return f.Image, nil
	case HandlerStats:
		return f.Stats, nil
	default:
		return nil, fmt.Errorf("unknown handler %q (want %s, %s, %s or %s)",
			name, HandlerIngest, HandlerMetadata, HandlerImage, HandlerStats)
	}
}

func proxyResponse(resp api.Response) events.APIGatewayProxyResponse {
	out := events.APIGatewayProxyResponse{
		StatusCode: resp.Status,
		Headers:    resp.Headers,
	}
	if resp.Binary {
		out.Body = base64.StdEncoding.EncodeToString(resp.Body)
		out.IsBase64Encoded = true
	} else {
		out.Body = string(resp.Body)
	}
	return out
}
