package metadata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/data/azcosmos"
	"github.com/imgmeta/imgmeta/internal/config"
)

// cosmosPartition is the single logical partition every record lives in.
// The record set is small enough that cross-partition queries buy nothing.
const cosmosPartition = "record"

type CosmosStore struct {
	client    *azcosmos.ContainerClient
	database  string
	container string
}

type cosmosItem struct {
	ID          string `json:"id"`
	Type        string `json:"type"`
	Bucket      string `json:"bucket"`
	Key         string `json:"key"`
	Size        int64  `json:"size"`
	ContentHash string `json:"s3objectkey"`
}

func NewCosmosStore(ctx context.Context, cfg *config.CosmosConfig) (*CosmosStore, error) {
	if cfg == nil {
		return nil, fmt.Errorf("cosmos config is required")
	}
	if cfg.Endpoint == "" && cfg.MasterKey == "" {
		return nil, fmt.Errorf("cosmos endpoint or master key is required")
	}
	if cfg.Database == "" {
		return nil, fmt.Errorf("cosmos database name is required")
	}
	if cfg.Container == "" {
		return nil, fmt.Errorf("cosmos container name is required")
	}

	var cred azcosmos.KeyCredential
	if cfg.MasterKey != "" {
		var err error
		cred, err = azcosmos.NewKeyCredential(cfg.MasterKey)
		if err != nil {
			return nil, fmt.Errorf("creating cosmos key credential: %w", err)
		}
	}

	client, err := azcosmos.NewClientWithKey(cfg.Endpoint, cred, &azcosmos.ClientOptions{
		ClientOptions: policy.ClientOptions{},
	})
	if err != nil {
		return nil, fmt.Errorf("creating cosmos client: %w", err)
	}

	dbClient, err := client.NewDatabase(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("getting database client: %w", err)
	}

	containerClient, err := dbClient.NewContainer(cfg.Container)
	if err != nil {
		return nil, fmt.Errorf("getting container client: %w", err)
	}

	return &CosmosStore{
		client:    containerClient,
		database:  cfg.Database,
		container: cfg.Container,
	}, nil
}

func (s *CosmosStore) Ping(ctx context.Context) error {
	_, err := s.client.Read(ctx, nil)
	return err
}

func (s *CosmosStore) Close() error {
	return nil
}

func (s *CosmosStore) TableName() string {
	return s.database + "/" + s.container
}

func (s *CosmosStore) PutRecord(ctx context.Context, rec *Record) error {
	data, err := json.Marshal(cosmosItem{
		ID:          rec.ContentHash,
		Type:        cosmosPartition,
		Bucket:      rec.Bucket,
		Key:         rec.Key,
		Size:        rec.Size,
		ContentHash: rec.ContentHash,
	})
	if err != nil {
		return fmt.Errorf("marshaling record: %w", err)
	}

	_, err = s.client.UpsertItem(ctx, azcosmos.NewPartitionKeyString(cosmosPartition), data, nil)
	if err != nil {
		return fmt.Errorf("putting record: %w", err)
	}
	return nil
}

func (s *CosmosStore) GetRecord(ctx context.Context, contentHash string) (*Record, error) {
	resp, err := s.client.ReadItem(ctx, azcosmos.NewPartitionKeyString(cosmosPartition), contentHash, nil)
	if err != nil {
		var respErr *azcore.ResponseError
		if errors.As(err, &respErr) && respErr.StatusCode == http.StatusNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("getting record: %w", err)
	}

	var item cosmosItem
	if err := json.Unmarshal(resp.Value, &item); err != nil {
		return nil, fmt.Errorf("unmarshaling record: %w", err)
	}
	return item.toRecord(), nil
}

func (s *CosmosStore) ScanRecords(ctx context.Context, opts ScanOptions) (*ScanPage, error) {
	limit := scanLimit(opts)

	query := "SELECT * FROM c WHERE c.type = @type"
	params := []azcosmos.QueryParameter{
		{Name: "@type", Value: cosmosPartition},
	}
	if opts.Cursor != "" {
		query += " AND c.id > @cursor"
		params = append(params, azcosmos.QueryParameter{Name: "@cursor", Value: opts.Cursor})
	}
	query += " ORDER BY c.id"

	pager := s.client.NewQueryItemsPager(query, azcosmos.NewPartitionKeyString(cosmosPartition), &azcosmos.QueryOptions{
		QueryParameters: params,
		PageSizeHint:    int32(limit + 1),
	})

	var records []Record
	for pager.More() && len(records) <= limit {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("scanning records: %w", err)
		}
		records, err = appendCosmosItems(records, resp.Items, limit)
		if err != nil {
			return nil, err
		}
	}

	page := &ScanPage{Records: records}
	if len(records) > limit {
		page.Records = records[:limit]
		page.NextCursor = records[limit-1].ContentHash
	}
	return page, nil
}

// appendCosmosItems decodes query items onto records and stops once records
// holds more than limit entries. An undecodable item fails the scan so a
// statistics pass never silently drops a record.
func appendCosmosItems(records []Record, items [][]byte, limit int) ([]Record, error) {
	for _, raw := range items {
		var item cosmosItem
		if err := json.Unmarshal(raw, &item); err != nil {
			return nil, fmt.Errorf("unmarshaling record item: %w", err)
		}
		records = append(records, *item.toRecord())
		if len(records) > limit {
			break
		}
	}
	return records, nil
}

func (ci *cosmosItem) toRecord() *Record {
	hash := ci.ContentHash
	if hash == "" {
		hash = ci.ID
	}
	return &Record{
		Bucket:      ci.Bucket,
		Key:         ci.Key,
		Size:        ci.Size,
		ContentHash: hash,
	}
}

var _ Store = (*CosmosStore)(nil)
