// Package stream fetches the paginated sample stream and turns it into a
// lazy sequence of batches.
package stream

import (
	"math"
	"strconv"
)

// Sample is one server-provided record. The server is loose about field
// types (numbers sometimes arrive as strings), so both nested objects are
// kept schemaless and coerced on access.
type Sample struct {
	GPS   map[string]any `json:"gps"`
	Frame map[string]any `json:"frame"`
}

// Key uniquely identifies one logical observation for deduplication.
type Key struct {
	Timestamp float64
	FrameID   string
}

// Valid reports whether the sample carries both a gps and a frame object.
func (s Sample) Valid() bool {
	return s.GPS != nil && s.Frame != nil
}

// Timestamp returns the gps read timestamp, or false when it is missing or
// not coercible to a number.
func (s Sample) Timestamp() (float64, bool) {
	return floatFrom(s.GPS["read_timestamp"])
}

// DedupKey derives the (read_timestamp, frame_id) uniqueness key. It fails
// only when the timestamp is not orderable; a missing frame id still yields
// a usable key.
func (s Sample) DedupKey() (Key, bool) {
	ts, ok := s.Timestamp()
	if !ok {
		return Key{}, false
	}
	return Key{Timestamp: ts, FrameID: stringFrom(s.Frame["frame_id"])}, true
}

// Coordinate extracts the gps position. It returns false when lat or lng is
// missing, non-numeric, or not finite.
func (s Sample) Coordinate() (lat, lng float64, ok bool) {
	lat, okLat := floatFrom(s.GPS["lat"])
	lng, okLng := floatFrom(s.GPS["lng"])
	if !okLat || !okLng {
		return 0, 0, false
	}
	if math.IsNaN(lat) || math.IsInf(lat, 0) || math.IsNaN(lng) || math.IsInf(lng, 0) {
		return 0, 0, false
	}
	return lat, lng, true
}

func floatFrom(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case string:
		f, err := strconv.ParseFloat(t, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

func stringFrom(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return ""
	}
}
