package feed

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// ReplaySource serves candles recorded in a CSV file, one per Latest call.
// Each symbol gets its own cursor over the same rows. Once the rows are
// exhausted Latest returns io.EOF.
//
// Rows are "timestamp,close" where timestamp is either epoch milliseconds
// or RFC 3339. A header row and extra columns are ignored.
type ReplaySource struct {
	candles []Candle

	mu      sync.Mutex
	cursors map[string]int
}

func NewReplaySource(path string) (*ReplaySource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening replay file: %w", err)
	}
	defer f.Close()
	return ReadReplay(f)
}

// ReadReplay parses replay rows from r.
func ReadReplay(r io.Reader) (*ReplaySource, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	var candles []Candle
	for line := 1; ; line++ {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("replay line %d: %w", line, err)
		}
		if len(rec) < 2 {
			return nil, fmt.Errorf("replay line %d: want at least 2 fields, got %d", line, len(rec))
		}
		if line == 1 && strings.EqualFold(strings.TrimSpace(rec[0]), "timestamp") {
			continue
		}
		ts, err := parseTimestamp(rec[0])
		if err != nil {
			return nil, fmt.Errorf("replay line %d: %w", line, err)
		}
		c, err := decimal.NewFromString(strings.TrimSpace(rec[1]))
		if err != nil {
			return nil, fmt.Errorf("replay line %d: close %q: %w", line, rec[1], err)
		}
		candles = append(candles, Candle{Open: ts, Close: c})
	}

	return &ReplaySource{
		candles: candles,
		cursors: make(map[string]int),
	}, nil
}

func parseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.UnixMilli(ms).UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("timestamp %q is neither epoch ms nor RFC 3339", s)
	}
	return t.UTC(), nil
}

func (rs *ReplaySource) Latest(ctx context.Context, symbol, timeframe string) (Candle, error) {
	if err := ctx.Err(); err != nil {
		return Candle{}, err
	}
	rs.mu.Lock()
	defer rs.mu.Unlock()

	i := rs.cursors[symbol]
	if i >= len(rs.candles) {
		return Candle{}, io.EOF
	}
	rs.cursors[symbol] = i + 1
	return rs.candles[i], nil
}

// Len returns the number of recorded candles.
func (rs *ReplaySource) Len() int {
	return len(rs.candles)
}
