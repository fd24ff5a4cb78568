package broker

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrMalformedPrice is returned for price payloads that are not signed digits.
var ErrMalformedPrice = errors.New("malformed price payload")

// ParsePrice converts a raw broker price into a positive integer. The
// broker prefixes prices with + or - to show direction, so the sign is dropped.
func ParsePrice(raw string) (int64, error) {
	s := strings.TrimSpace(raw)
	s = strings.TrimLeft(s, "+-")
	if s == "" {
		return 0, fmt.Errorf("%w: %q", ErrMalformedPrice, raw)
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, fmt.Errorf("%w: %q", ErrMalformedPrice, raw)
		}
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrMalformedPrice, raw)
	}
	return v, nil
}

// ParseCloses converts a newest-first chart payload. Malformed entries
// fail the whole series.
func ParseCloses(raw []string) ([]int64, error) {
	out := make([]int64, 0, len(raw))
	for i, r := range raw {
		v, err := ParsePrice(r)
		if err != nil {
			return nil, fmt.Errorf("close #%d: %w", i, err)
		}
		out = append(out, v)
	}
	return out, nil
}

// Batches splits instruments into groups of at most size.
func Batches(instruments []string, size int) [][]string {
	if size <= 0 || size > MaxBatch {
		size = MaxBatch
	}
	var out [][]string
	for start := 0; start < len(instruments); start += size {
		end := start + size
		if end > len(instruments) {
			end = len(instruments)
		}
		out = append(out, instruments[start:end])
	}
	return out
}

// RealtimeScreen is the screen number of the i-th subscription batch.
func RealtimeScreen(batch int) string {
	return strconv.Itoa(6000 + batch)
}
