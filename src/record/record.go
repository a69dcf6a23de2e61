// Package record persists one row per accepted observation.
package record

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// TimeLayout is ISO 8601 with an explicit UTC offset.
const TimeLayout = "2006-01-02T15:04:05-07:00"

// Header is written once when a Writer is created.
var Header = []string{
	"timestamp",
	"symbol",
	"raw_price",
	"fair_price",
	"fair_velocity",
	"Q_scale",
	"R_scale",
}

type Record struct {
	Time         time.Time
	Symbol       string
	RawPrice     decimal.Decimal
	FairPrice    float64
	FairVelocity float64
	QScale       float64
	RScale       float64
}

func (r Record) fields() []string {
	return []string{
		r.Time.UTC().Format(TimeLayout),
		r.Symbol,
		r.RawPrice.String(),
		formatFloat(r.FairPrice),
		formatFloat(r.FairVelocity),
		formatFloat(r.QScale),
		formatFloat(r.RScale),
	}
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}

// Writer appends records as CSV rows, flushing after each one. It is safe
// for concurrent use.
type Writer struct {
	mu     sync.Mutex
	w      *csv.Writer
	closer io.Closer
}

// Create truncates path and writes the header.
func Create(path string) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("creating %s: %w", path, err)
	}
	w, err := NewWriter(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	w.closer = f
	return w, nil
}

// NewWriter writes the header to w and returns a Writer appending to it.
func NewWriter(w io.Writer) (*Writer, error) {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return nil, fmt.Errorf("writing header: %w", err)
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return nil, fmt.Errorf("writing header: %w", err)
	}
	return &Writer{w: cw}, nil
}

func (w *Writer) Write(r Record) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.w.Write(r.fields()); err != nil {
		return err
	}
	w.w.Flush()
	return w.w.Error()
}

func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.w.Flush()
	err := w.w.Error()
	if w.closer != nil {
		if cerr := w.closer.Close(); err == nil {
			err = cerr
		}
		w.closer = nil
	}
	return err
}
