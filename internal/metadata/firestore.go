package metadata

import (
	"context"
	"fmt"

	"cloud.google.com/go/firestore"
	"github.com/imgmeta/imgmeta/internal/config"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// FirestoreStore keeps one document per record. The document ID is the
// content hash, so scans page in document-ID order.
type FirestoreStore struct {
	client     *firestore.Client
	collection string
}

type firestoreRecord struct {
	Bucket      string `firestore:"bucket"`
	Key         string `firestore:"key"`
	Size        int64  `firestore:"size"`
	ContentHash string `firestore:"s3objectkey"`
}

func NewFirestoreStore(ctx context.Context, cfg *config.FirestoreConfig) (*FirestoreStore, error) {
	if cfg == nil {
		return nil, fmt.Errorf("firestore config is required")
	}

	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	client, err := firestore.NewClient(ctx, cfg.ProjectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating firestore client: %w", err)
	}

	collection := cfg.Collection
	if collection == "" {
		collection = "imgmeta"
	}

	return &FirestoreStore{
		client:     client,
		collection: collection,
	}, nil
}

func (s *FirestoreStore) collectionRef() *firestore.CollectionRef {
	return s.client.Collection(s.collection)
}

func (s *FirestoreStore) Ping(ctx context.Context) error {
	_, err := s.collectionRef().Limit(1).Documents(ctx).Next()
	if err != nil && err != iterator.Done {
		return err
	}
	return nil
}

func (s *FirestoreStore) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

func (s *FirestoreStore) TableName() string {
	return s.collection
}

func (s *FirestoreStore) PutRecord(ctx context.Context, rec *Record) error {
	_, err := s.collectionRef().Doc(rec.ContentHash).Set(ctx, firestoreRecord{
		Bucket:      rec.Bucket,
		Key:         rec.Key,
		Size:        rec.Size,
		ContentHash: rec.ContentHash,
	})
	if err != nil {
		return fmt.Errorf("putting record: %w", err)
	}
	return nil
}

func (s *FirestoreStore) GetRecord(ctx context.Context, contentHash string) (*Record, error) {
	doc, err := s.collectionRef().Doc(contentHash).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("getting record: %w", err)
	}
	if !doc.Exists() {
		return nil, nil
	}
	return docToRecord(doc)
}

func (s *FirestoreStore) ScanRecords(ctx context.Context, opts ScanOptions) (*ScanPage, error) {
	limit := scanLimit(opts)

	query := s.collectionRef().OrderBy(firestore.DocumentID, firestore.Asc)
	if opts.Cursor != "" {
		query = query.StartAfter(opts.Cursor)
	}
	query = query.Limit(limit + 1)

	docs, err := query.Documents(ctx).GetAll()
	if err != nil {
		return nil, fmt.Errorf("scanning records: %w", err)
	}

	page := &ScanPage{}
	for i, doc := range docs {
		if i == limit {
			page.NextCursor = docs[limit-1].Ref.ID
			break
		}
		rec, err := docToRecord(doc)
		if err != nil {
			return nil, err
		}
		page.Records = append(page.Records, *rec)
	}
	return page, nil
}

func docToRecord(doc *firestore.DocumentSnapshot) (*Record, error) {
	var fr firestoreRecord
	if err := doc.DataTo(&fr); err != nil {
		return nil, fmt.Errorf("decoding record %s: %w", doc.Ref.ID, err)
	}
	if fr.ContentHash == "" {
		fr.ContentHash = doc.Ref.ID
	}
	return &Record{
		Bucket:      fr.Bucket,
		Key:         fr.Key,
		Size:        fr.Size,
		ContentHash: fr.ContentHash,
	}, nil
}

var _ Store = (*FirestoreStore)(nil)
