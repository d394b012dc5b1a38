// Package tracker accumulates great-circle distance over the sample stream.
package tracker

import (
	"log"
	"sort"

	"gps-distance-tracker/internal/geo"
	"gps-distance-tracker/internal/stream"
)

// Summary is the running (and final) aggregate over accepted samples.
type Summary struct {
	TotalDistanceKm float64 `json:"total_distance_km"`
	TotalPoints     int     `json:"total_points"`
}

// Aggregator consumes batches sequentially and maintains the previous point,
// the cumulative distance and the set of seen sample keys. It is owned by a
// single caller and needs no locking; it is never reset mid-run.
type Aggregator struct {
	prev  *geo.Point
	total float64
	seen  map[stream.Key]struct{}
}

// NewAggregator creates an empty aggregator.
func NewAggregator() *Aggregator {
	return &Aggregator{seen: make(map[stream.Key]struct{})}
}

// ProcessBatch folds one batch into the running state. Samples missing gps
// or frame are dropped; a batch with any unorderable timestamp is skipped
// whole; duplicate keys and unparsable coordinates never abort processing.
func (a *Aggregator) ProcessBatch(batch []stream.Sample) {
	sorted, ok := sortByTimestamp(batch)
	if !ok {
		log.Printf("batch has samples without an orderable read_timestamp, skipping %d samples", len(batch))
		return
	}

	for _, s := range sorted {
		key, ok := s.DedupKey()
		if !ok {
			continue
		}
		if _, dup := a.seen[key]; dup {
			// Server-side batch overlap delivers the same observation
			// more than once.
			continue
		}
		a.seen[key] = struct{}{}

		lat, lng, ok := s.Coordinate()
		if !ok {
			log.Printf("invalid gps coordinates for key (%v, %s), keeping previous point", key.Timestamp, key.FrameID)
			continue
		}
		p := geo.Point{Lat: lat, Lng: lng}

		if a.prev != nil && *a.prev == p {
			// Stationary point, zero distance.
			continue
		}
		if a.prev != nil {
			a.total += geo.Distance(*a.prev, p)
		}
		a.prev = &p
	}
}

// Summary reports the cumulative distance and the number of distinct
// observations seen so far.
func (a *Aggregator) Summary() Summary {
	return Summary{TotalDistanceKm: a.total, TotalPoints: len(a.seen)}
}

// sortByTimestamp drops malformed samples and stable-sorts the rest by read
// timestamp, ties keeping arrival order. It fails when any remaining sample
// has no orderable timestamp.
func sortByTimestamp(batch []stream.Sample) ([]stream.Sample, bool) {
	valid := make([]stream.Sample, 0, len(batch))
	for _, s := range batch {
		if s.Valid() {
			valid = append(valid, s)
		}
	}
	for _, s := range valid {
		if _, ok := s.Timestamp(); !ok {
			return nil, false
		}
	}
	sort.SliceStable(valid, func(i, j int) bool {
		ti, _ := valid[i].Timestamp()
		tj, _ := valid[j].Timestamp()
		return ti < tj
	})
	return valid, true
}
