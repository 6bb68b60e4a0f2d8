package host

import (
	"fmt"
	"io"
	"sync"

	"github.com/tidwall/pretty"

	"github.com/dshills/cmdsource/internal/event"
)

// Printer writes envelopes as one JSON document per line.
type Printer struct {
	mu sync.Mutex
	w  io.Writer

	// Pretty indents each document.
	Pretty bool

	// Color adds terminal color escapes.
	Color bool
}

// NewPrinter creates a printer writing to w.
func NewPrinter(w io.Writer) *Printer {
	return &Printer{w: w}
}

// Print renders env and writes it followed by a newline.
func (p *Printer) Print(env event.Envelope) error {
	data, err := env.MarshalJSON()
	if err != nil {
		return fmt.Errorf("render event: %w", err)
	}

	if p.Pretty {
		data = pretty.Pretty(data)
	} else {
		data = pretty.Ugly(data)
	}
	if p.Color {
		data = pretty.Color(data, nil)
	}
	if len(data) == 0 || data[len(data)-1] != '\n' {
		data = append(data, '\n')
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, err := p.w.Write(data); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	return nil
}
