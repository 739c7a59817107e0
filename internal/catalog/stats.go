package catalog

import (
	"context"
	"sort"

	storeerr "github.com/imgmeta/imgmeta/internal/errors"
	"github.com/imgmeta/imgmeta/internal/metadata"
	"github.com/imgmeta/imgmeta/internal/metrics"
)

// TypeCount is the number of records sharing one extension token.
type TypeCount struct {
	Extension string `json:"extension"`
	Count     int    `json:"count"`
}

// Stats is the aggregate over every record in the metadata store. Keys are
// decoded. On an empty store every field is zero and SavedTypes is empty.
type Stats struct {
	LargestImageKey   string      `json:"largestImageKey"`
	LargestImageSize  int64       `json:"largestImageSize"`
	SmallestImageKey  string      `json:"smallestImageKey"`
	SmallestImageSize int64       `json:"smallestImageSize"`
	TotalImages       int64       `json:"totalImages"`
	SavedTypes        []TypeCount `json:"savedTypes"`
}

// Aggregator accumulates Stats one record at a time, so a scan never holds
// more than one page in memory.
//
// Ties resolve as a stable ascending sort by size would: the smallest is
// the first minimal record seen, the largest the last maximal record seen.
type Aggregator struct {
	total    int64
	smallest metadata.Record
	largest  metadata.Record
	counts   map[string]int
	order    []string
}

// NewAggregator returns an empty Aggregator.
func NewAggregator() *Aggregator {
	return &Aggregator{counts: make(map[string]int)}
}

// Add folds rec into the aggregate.
func (a *Aggregator) Add(rec metadata.Record) {
	if a.total == 0 || rec.Size < a.smallest.Size {
		a.smallest = rec
	}
	if a.total == 0 || rec.Size >= a.largest.Size {
		a.largest = rec
	}
	a.total++

	key, _ := DecodeKey(rec.Key)
	ext := Extension(key)
	if _, seen := a.counts[ext]; !seen {
		a.order = append(a.order, ext)
	}
	a.counts[ext]++
}

// Result returns the aggregate so far.
func (a *Aggregator) Result() *Stats {
	s := &Stats{
		TotalImages: a.total,
		SavedTypes:  make([]TypeCount, 0, len(a.order)),
	}
	if a.total == 0 {
		return s
	}

	s.LargestImageKey, _ = DecodeKey(a.largest.Key)
	s.LargestImageSize = a.largest.Size
	s.SmallestImageKey, _ = DecodeKey(a.smallest.Key)
	s.SmallestImageSize = a.smallest.Size

	for _, ext := range a.order {
		s.SavedTypes = append(s.SavedTypes, TypeCount{Extension: ext, Count: a.counts[ext]})
	}
	sort.SliceStable(s.SavedTypes, func(i, j int) bool {
		return s.SavedTypes[i].Count < s.SavedTypes[j].Count
	})
	return s
}

// Stats scans the whole metadata store page by page and aggregates it.
// A scan failure on any page aborts with a *errors.StoreError.
func (c *Catalog) Stats(ctx context.Context) (*Stats, error) {
	agg := NewAggregator()
	pages := 0
	err := metadata.ScanAll(ctx, c.meta, c.scanPageSize, func(page []metadata.Record) error {
		pages++
		for _, rec := range page {
			agg.Add(rec)
		}
		metrics.ScannedRecordsTotal.Add(float64(len(page)))
		return nil
	})
	if err != nil {
		serr := storeerr.NewStoreError(opScanRecords, err, storeerr.P("TableName", metadata.TableName(c.meta)))
		c.logFailure("Stats", serr)
		metrics.OperationsTotal.WithLabelValues("Stats", outcome(serr)).Inc()
		return nil, serr
	}

	s := agg.Result()
	metrics.OperationsTotal.WithLabelValues("Stats", "success").Inc()
	c.logger.Debug("Collection statistics computed", "records", s.TotalImages, "pages", pages, "types", len(s.SavedTypes))
	return s, nil
}
