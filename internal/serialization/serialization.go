// Package serialization exports the records of any metadata engine to JSON
// and imports them back, so a catalog can move between engines.
package serialization

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/imgmeta/imgmeta/internal/metadata"
)

const (
	Version       = "0.1.0"
	ExportVersion = 1
)

// envelopeKey names the export header object.
const envelopeKey = "imgmeta_export"

// ExportOptions configures what to export.
type ExportOptions struct {
	// Engine is recorded in the export header for reference.
	Engine string
	// PageSize is the scan page size. Zero selects the store default.
	PageSize int
}

// ImportOptions configures how to import.
type ImportOptions struct {
	// Replace overwrites records that already exist. Without it existing
	// records are kept and the incoming ones counted as skipped.
	Replace bool
}

// ImportResult holds the result of an import operation.
type ImportResult struct {
	Imported int
	Skipped  int
	Warnings []string
}

// Export scans every record of store and renders them as JSON with sorted
// keys, records ordered by content hash.
func Export(ctx context.Context, store metadata.Store, opts *ExportOptions) (string, error) {
	if opts == nil {
		opts = &ExportOptions{}
	}

	var records []metadata.Record
	err := metadata.ScanAll(ctx, store, opts.PageSize, func(page []metadata.Record) error {
		records = append(records, page...)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("scanning %s: %w", metadata.TableName(store), err)
	}
	// Engines without ordered scans (DynamoDB) return pages in hash-key
	// order, so sort here for a stable document.
	sort.Slice(records, func(i, j int) bool {
		return records[i].ContentHash < records[j].ContentHash
	})

	rows := make([]any, 0, len(records))
	for _, rec := range records {
		rows = append(rows, recordRow(rec))
	}

	result := map[string]any{
		envelopeKey: map[string]any{
			"version":     ExportVersion,
			"exported_at": time.Now().UTC().Format("2006-01-02T15:04:05.000Z"),
			"source":      "go/" + Version,
			"engine":      opts.Engine,
			"table":       metadata.TableName(store),
		},
		"records": rows,
	}
	return marshalSorted(result)
}

// Import loads the records of an export document into store.
func Import(ctx context.Context, store metadata.Store, jsonStr string, opts *ImportOptions) (*ImportResult, error) {
	if opts == nil {
		opts = &ImportOptions{}
	}

	var doc struct {
		Envelope map[string]any    `json:"imgmeta_export"`
		Records  []json.RawMessage `json:"records"`
	}
	if err := json.Unmarshal([]byte(jsonStr), &doc); err != nil {
		return nil, fmt.Errorf("parsing JSON: %w", err)
	}

	version, _ := doc.Envelope["version"].(float64)
	if version < 1 || version > ExportVersion {
		return nil, fmt.Errorf("unsupported export version: %v", version)
	}

	result := &ImportResult{}
	for i, raw := range doc.Records {
		var rec metadata.Record
		if err := json.Unmarshal(raw, &rec); err != nil {
			result.Skipped++
			result.Warnings = append(result.Warnings, fmt.Sprintf("Skipped record %d: %v", i, err))
			continue
		}
		if rec.ContentHash == "" {
			result.Skipped++
			result.Warnings = append(result.Warnings, fmt.Sprintf("Skipped record %d: missing s3objectkey", i))
			continue
		}

		if !opts.Replace {
			existing, err := store.GetRecord(ctx, rec.ContentHash)
			if err != nil {
				return result, fmt.Errorf("reading record %s: %w", rec.ContentHash, err)
			}
			if existing != nil {
				result.Skipped++
				continue
			}
		}

		if err := store.PutRecord(ctx, &rec); err != nil {
			return result, fmt.Errorf("writing record %s: %w", rec.ContentHash, err)
		}
		result.Imported++
	}
	return result, nil
}

func recordRow(rec metadata.Record) map[string]any {
	return map[string]any{
		"bucket":      rec.Bucket,
		"key":         rec.Key,
		"size":        rec.Size,
		"s3objectkey": rec.ContentHash,
	}
}

// marshalSorted produces JSON with sorted keys, 2-space indent.
func marshalSorted(data map[string]any) (string, error) {
	b, err := json.MarshalIndent(sortedMap(data), "", "  ")
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// sortedMap is a map that marshals with sorted keys.
type sortedMap map[string]any

func (m sortedMap) MarshalJSON() ([]byte, error) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	buf := []byte{'{'}
	for i, k := range keys {
		if i > 0 {
			buf = append(buf, ',')
		}
		keyBytes, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf = append(buf, keyBytes...)
		buf = append(buf, ':')

		valBytes, err := marshalValue(m[k])
		if err != nil {
			return nil, err
		}
		buf = append(buf, valBytes...)
	}
	buf = append(buf, '}')
	return buf, nil
}

func marshalValue(v any) ([]byte, error) {
	switch val := v.(type) {
	case map[string]any:
		return sortedMap(val).MarshalJSON()
	case []any:
		buf := []byte{'['}
		for i, elem := range val {
			if i > 0 {
				buf = append(buf, ',')
			}
			b, err := marshalValue(elem)
			if err != nil {
				return nil, err
			}
			buf = append(buf, b...)
		}
		buf = append(buf, ']')
		return buf, nil
	default:
		return json.Marshal(v)
	}
}
