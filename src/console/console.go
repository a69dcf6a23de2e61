// Package console prints a human-readable line per filter step.
package console

import (
	"fmt"
	"io"
	"sync"

	"github.com/LucaChot/fairprice/src/record"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

const timeLayout = "2006-01-02 15:04:05"

type Renderer struct {
	mu         sync.Mutex
	out        io.Writer
	printer    *message.Printer
	withSymbol bool
}

type Option func(*Renderer)

// WithSymbol prefixes every line with the symbol, for multi-stream runs.
func WithSymbol() Option {
	return func(r *Renderer) {
		r.withSymbol = true
	}
}

func New(out io.Writer, opts ...Option) *Renderer {
	r := &Renderer{
		out:     out,
		printer: message.NewPrinter(language.English),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Format renders rec as
// "[2024-01-01 00:00:00] raw=42,000.10 | fair=41,999.50 | vel=-1.25 | Q=1.080e+00 R=1.450e+00".
func (r *Renderer) Format(rec record.Record) string {
	line := fmt.Sprintf("[%s] ", rec.Time.UTC().Format(timeLayout))
	if r.withSymbol {
		line += rec.Symbol + " "
	}
	line += r.printer.Sprintf("raw=%.2f | fair=%.2f | vel=%.2f | ",
		rec.RawPrice.InexactFloat64(), rec.FairPrice, rec.FairVelocity)
	line += fmt.Sprintf("Q=%.3e R=%.3e", rec.QScale, rec.RScale)
	return line
}

func (r *Renderer) Write(rec record.Record) error {
	line := r.Format(rec)

	r.mu.Lock()
	defer r.mu.Unlock()
	_, err := fmt.Fprintln(r.out, line)
	return err
}
