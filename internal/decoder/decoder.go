// Package decoder turns a child's stdout into event envelopes.
//
// Each newline-terminated line becomes at most one envelope. In
// structured mode a line must be a complete JSON document; malformed
// lines are logged and skipped. In raw mode the line text itself is
// the payload.
package decoder

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/dshills/cmdsource/internal/event"
	"github.com/dshills/cmdsource/internal/logging"
)

// DefaultMaxLineSize is the longest line accepted when MaxLineSize is unset.
const DefaultMaxLineSize = 1 << 20

// initialBufferSize is the read buffer size; longer lines are assembled
// from several reads up to MaxLineSize.
const initialBufferSize = 64 * 1024

// Stats counts what a Decode call saw.
type Stats struct {
	// Lines is the number of complete lines read.
	Lines int
	// Events is the number of envelopes accepted by the sink.
	Events int
	// DecodeErrors is the number of lines skipped as malformed.
	DecodeErrors int
	// Unread holds output that was read from the stream but not
	// delivered when Decode stopped early: the line in flight followed
	// by any read-ahead data. Empty when Decode reached end of stream.
	Unread []byte
}

// Decoder converts lines to envelopes for a single command.
// The zero value decodes raw lines without logging.
type Decoder struct {
	// Command is copied into every envelope's metadata.
	Command string

	// Deserialize selects structured (JSON) decoding.
	Deserialize bool

	// Logger receives one error entry per malformed line.
	Logger logging.Logger

	// MaxLineSize bounds a single line in bytes. Zero means DefaultMaxLineSize.
	MaxLineSize int
}

// Decode reads r line by line and hands each envelope to sink in
// stream order. Put may block; that is the backpressure path.
//
// Decode returns nil at end of stream and ctx.Err() once ctx is
// cancelled. A sink failure on a live context returns *DeliveryError;
// a read failure returns *StreamError. Stats are valid in every case,
// and Stats.Unread carries what was read but not delivered when Decode
// stops before end of stream.
func (d *Decoder) Decode(ctx context.Context, r io.Reader, sink event.Sink) (Stats, error) {
	var stats Stats
	if sink == nil {
		return stats, ErrNilSink
	}

	br := bufio.NewReaderSize(r, min(initialBufferSize, d.maxLineSize()))

	for {
		line, err := readLine(br, d.maxLineSize())
		if err == io.EOF {
			return stats, nil
		}
		if err != nil {
			return stats, &StreamError{Line: stats.Lines, Err: err}
		}
		stats.Lines++

		if err := ctx.Err(); err != nil {
			stats.Unread = unread(line, br)
			return stats, err
		}

		text := bytes.TrimSuffix(line, []byte("\n"))
		env, err := d.DecodeLine(text)
		if err != nil {
			stats.DecodeErrors++
			d.logger().Error("failed to decode line",
				"command", d.Command,
				"line", stats.Lines,
				"text", string(bytes.TrimSuffix(text, []byte("\r"))),
				"error", err,
			)
			continue
		}

		if err := sink.Put(ctx, env); err != nil {
			stats.Unread = unread(line, br)
			if ctxErr := ctx.Err(); ctxErr != nil {
				return stats, ctxErr
			}
			return stats, &DeliveryError{Envelope: env, Err: err}
		}
		stats.Events++
	}
}

// readLine returns the next line including its newline. The last line
// of a stream may lack one. It returns io.EOF only when no data is left
// and bufio.ErrTooLong once a line exceeds max bytes.
func readLine(br *bufio.Reader, max int) ([]byte, error) {
	var line []byte
	for {
		chunk, err := br.ReadSlice('\n')
		line = append(line, chunk...)

		switch {
		case err == nil:
			if len(line)-1 > max {
				return nil, bufio.ErrTooLong
			}
			return line, nil
		case errors.Is(err, bufio.ErrBufferFull):
			if len(line) > max {
				return nil, bufio.ErrTooLong
			}
		case errors.Is(err, io.EOF):
			if len(line) == 0 {
				return nil, io.EOF
			}
			if len(line) > max {
				return nil, bufio.ErrTooLong
			}
			return line, nil
		default:
			return nil, err
		}
	}
}

// unread joins the undelivered line with the reader's read-ahead.
func unread(line []byte, br *bufio.Reader) []byte {
	ahead, _ := br.Peek(br.Buffered())
	out := make([]byte, 0, len(line)+len(ahead))
	out = append(out, line...)
	return append(out, ahead...)
}

// DecodeLine normalizes one line (terminator already removed) into an
// envelope. A trailing carriage return is dropped. Structured mode
// returns *DecodeError when the line is not valid JSON.
func (d *Decoder) DecodeLine(line []byte) (event.Envelope, error) {
	if n := len(line); n > 0 && line[n-1] == '\r' {
		line = line[:n-1]
	}

	if !d.Deserialize {
		return event.NewText(strings.ToValidUTF8(string(line), "\uFFFD"), d.Command), nil
	}

	if !gjson.ValidBytes(line) {
		return event.Envelope{}, &DecodeError{Line: string(line), Err: ErrMalformedJSON}
	}

	raw := strings.TrimSpace(string(line))
	return event.NewStructured(gjson.Parse(raw).Value(), raw, d.Command), nil
}

func (d *Decoder) maxLineSize() int {
	if d.MaxLineSize > 0 {
		return d.MaxLineSize
	}
	return DefaultMaxLineSize
}

func (d *Decoder) logger() logging.Logger {
	if d.Logger == nil {
		return logging.Nop()
	}
	return d.Logger
}
