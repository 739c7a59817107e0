package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/imgmeta/imgmeta/internal/config"
)

// AzureBlobAPI defines the subset of the Azure Blob Storage client interface
// that the backend uses. This allows mocking in tests.
type AzureBlobAPI interface {
	// DownloadStream opens a blob for reading and reports its length.
	DownloadStream(ctx context.Context, containerName, blobName string) (io.ReadCloser, int64, error)
	// ContainerExists returns nil when the container's properties can be read.
	ContainerExists(ctx context.Context, containerName string) error
}

// AzureBackend reads blobs from Azure Blob Storage. Record buckets map to
// containers of the same name.
type AzureBackend struct {
	// AccountURL is the Azure storage account URL (e.g. https://account.blob.core.windows.net).
	AccountURL string
	// HealthContainer is probed by HealthCheck. Empty skips the probe.
	HealthContainer string
	client          AzureBlobAPI
}

func NewAzureBackend(ctx context.Context, cfg *config.AzureConfig) (*AzureBackend, error) {
	accountURL := cfg.AccountURL
	if accountURL == "" && cfg.ConnectionString == "" {
		if cfg.Account == "" {
			return nil, fmt.Errorf("storage.azure.account or storage.azure.account_url is required")
		}
		accountURL = fmt.Sprintf("https://%s.blob.core.windows.net", cfg.Account)
	}

	client, err := newRealAzureClient(accountURL, cfg.ConnectionString, cfg.UseManagedIdentity)
	if err != nil {
		return nil, fmt.Errorf("creating Azure client: %w", err)
	}

	slog.Info("Azure storage backend initialized", "account", accountURL)
	return NewAzureBackendWithClient(accountURL, cfg.HealthContainer, client), nil
}

// NewAzureBackendWithClient creates an AzureBackend with a pre-configured
// client. This is primarily used for testing with mock clients.
func NewAzureBackendWithClient(accountURL, healthContainer string, client AzureBlobAPI) *AzureBackend {
	return &AzureBackend{
		AccountURL:      accountURL,
		HealthContainer: healthContainer,
		client:          client,
	}
}

func (b *AzureBackend) GetObject(ctx context.Context, bucket, key string) (io.ReadCloser, int64, error) {
	body, size, err := b.client.DownloadStream(ctx, bucket, key)
	if err != nil {
		if isAzureNotFound(err) {
			return nil, 0, fmt.Errorf("object not found: %s/%s: %w", bucket, key, err)
		}
		return nil, 0, fmt.Errorf("downloading blob from Azure: %w", err)
	}
	return body, size, nil
}

func (b *AzureBackend) HealthCheck(ctx context.Context) error {
	if b.HealthContainer == "" {
		return nil
	}
	return b.client.ContainerExists(ctx, b.HealthContainer)
}

// isAzureNotFound checks if an Azure error is a not-found error.
func isAzureNotFound(err error) bool {
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) {
		return respErr.StatusCode == http.StatusNotFound
	}
	return false
}

var _ ObjectStore = (*AzureBackend)(nil)
