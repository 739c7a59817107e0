package metadata

import (
	"context"
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/imgmeta/imgmeta/internal/config"
)

// dynamoHashKey is the partition key attribute of the records table.
const dynamoHashKey = "s3objectkey"

// DynamoDBAPI is the subset of the DynamoDB client used by DynamoDBStore.
// It exists so tests can substitute a fake.
type DynamoDBAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
	DescribeTable(ctx context.Context, params *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
}

// DynamoDBStore keeps one item per record in a table whose partition key is
// the content hash. Items carry bucket, key and size attributes.
type DynamoDBStore struct {
	client    DynamoDBAPI
	tableName string
}

func NewDynamoDBStore(ctx context.Context, cfg *config.DynamoDBConfig) (*DynamoDBStore, error) {
	if cfg == nil {
		return nil, fmt.Errorf("dynamodb config is required")
	}
	if cfg.Table == "" {
		return nil, fmt.Errorf("dynamodb table name is required")
	}

	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}
	if cfg.EndpointURL != "" {
		awsCfg.BaseEndpoint = aws.String(cfg.EndpointURL)
	}

	return NewDynamoDBStoreWithClient(dynamodb.NewFromConfig(awsCfg), cfg.Table), nil
}

// NewDynamoDBStoreWithClient creates a DynamoDBStore over an existing client.
func NewDynamoDBStoreWithClient(client DynamoDBAPI, table string) *DynamoDBStore {
	return &DynamoDBStore{
		client:    client,
		tableName: table,
	}
}

func (s *DynamoDBStore) Ping(ctx context.Context) error {
	_, err := s.client.DescribeTable(ctx, &dynamodb.DescribeTableInput{
		TableName: aws.String(s.tableName),
	})
	return err
}

func (s *DynamoDBStore) Close() error {
	return nil
}

func (s *DynamoDBStore) TableName() string {
	return s.tableName
}

func (s *DynamoDBStore) PutRecord(ctx context.Context, rec *Record) error {
	_, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item:      recordToItem(rec),
	})
	if err != nil {
		return fmt.Errorf("putting record: %w", err)
	}
	return nil
}

func (s *DynamoDBStore) GetRecord(ctx context.Context, contentHash string) (*Record, error) {
	resp, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			dynamoHashKey: &types.AttributeValueMemberS{Value: contentHash},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("getting record: %w", err)
	}
	if len(resp.Item) == 0 {
		return nil, nil
	}
	rec := itemToRecord(resp.Item)
	return &rec, nil
}

// ScanRecords issues a single Scan call. DynamoDB does not order scan
// output, so the cursor is the hash of the last item evaluated.
func (s *DynamoDBStore) ScanRecords(ctx context.Context, opts ScanOptions) (*ScanPage, error) {
	input := &dynamodb.ScanInput{
		TableName: aws.String(s.tableName),
		Limit:     aws.Int32(int32(scanLimit(opts))),
	}
	if opts.Cursor != "" {
		input.ExclusiveStartKey = map[string]types.AttributeValue{
			dynamoHashKey: &types.AttributeValueMemberS{Value: opts.Cursor},
		}
	}

	resp, err := s.client.Scan(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("scanning records: %w", err)
	}

	page := &ScanPage{Records: make([]Record, 0, len(resp.Items))}
	for _, item := range resp.Items {
		page.Records = append(page.Records, itemToRecord(item))
	}
	if len(resp.LastEvaluatedKey) > 0 {
		page.NextCursor = getString(resp.LastEvaluatedKey, dynamoHashKey)
	}
	return page, nil
}

func recordToItem(rec *Record) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		dynamoHashKey: &types.AttributeValueMemberS{Value: rec.ContentHash},
		"bucket":      &types.AttributeValueMemberS{Value: rec.Bucket},
		"key":         &types.AttributeValueMemberS{Value: rec.Key},
		"size":        &types.AttributeValueMemberN{Value: strconv.FormatInt(rec.Size, 10)},
	}
}

func itemToRecord(item map[string]types.AttributeValue) Record {
	return Record{
		Bucket:      getString(item, "bucket"),
		Key:         getString(item, "key"),
		Size:        getNInt(item, "size"),
		ContentHash: getString(item, dynamoHashKey),
	}
}

func getString(item map[string]types.AttributeValue, key string) string {
	if v, ok := item[key]; ok {
		if sv, ok := v.(*types.AttributeValueMemberS); ok {
			return sv.Value
		}
	}
	return ""
}

func getNInt(item map[string]types.AttributeValue, key string) int64 {
	if v, ok := item[key]; ok {
		if nv, ok := v.(*types.AttributeValueMemberN); ok {
			n, _ := strconv.ParseInt(nv.Value, 10, 64)
			return n
		}
	}
	return 0
}

var _ Store = (*DynamoDBStore)(nil)
