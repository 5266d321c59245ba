// Package frame turns a chunked byte stream into newline-delimited JSON records.
//
// Chunk boundaries are arbitrary: a record may span many chunks and a chunk
// may carry many records. A line that is not valid JSON yields a record with
// a decode error and decoding continues with the next line.
package frame

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/aretw0/prdflow/pkg/domain"
)

// DefaultMaxLineSize bounds a single record when none is configured.
const DefaultMaxLineSize = 1 << 20

const readChunkSize = 32 * 1024

// Record is one decoded line.
type Record struct {
	// Line is the trimmed source bytes of the record.
	Line []byte
	// Value is the parsed JSON value. Nil when Err is set.
	Value any
	// Err is a *domain.DecodeError when the line was not valid JSON.
	Err error
}

// Feed appends chunk to buffer and returns every complete record plus the
// unterminated remainder, which must be passed as buffer on the next call.
// Neither argument is modified.
func Feed(buffer, chunk []byte) ([]Record, []byte) {
	data := make([]byte, 0, len(buffer)+len(chunk))
	data = append(append(data, buffer...), chunk...)
	var records []Record
	for {
		i := bytes.IndexByte(data, '\n')
		if i < 0 {
			break
		}
		if rec, ok := parse(data[:i]); ok {
			records = append(records, rec)
		}
		data = data[i+1:]
	}
	return records, data
}

// Flush parses the remainder left at end of stream. It reports false when
// the remainder holds no record.
func Flush(remainder []byte) (Record, bool) {
	return parse(remainder)
}

func parse(line []byte) (Record, bool) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return Record{}, false
	}
	line = bytes.Clone(line)

	var v any
	if err := json.Unmarshal(line, &v); err != nil {
		return Record{Line: line, Err: domain.NewDecodeError(line, "invalid json", err)}, true
	}
	return Record{Line: line, Value: v}, true
}

// Decoder yields records lazily from an io.Reader.
// It is not safe for concurrent use.
type Decoder struct {
	r       io.Reader
	maxLine int

	chunk      []byte
	buf        []byte
	pending    []Record
	discarding bool
	eof        bool
}

// Option configures a Decoder.
type Option func(*Decoder)

// WithMaxLineSize bounds the size of one record. Longer lines become decode
// errors and are discarded.
func WithMaxLineSize(n int) Option {
	return func(d *Decoder) {
		if n > 0 {
			d.maxLine = n
		}
	}
}

// NewDecoder creates a Decoder reading from r.
func NewDecoder(r io.Reader, opts ...Option) *Decoder {
	d := &Decoder{
		r:       r,
		maxLine: DefaultMaxLineSize,
		chunk:   make([]byte, readChunkSize),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Next returns the next record. It returns io.EOF once the stream and any
// trailing unterminated line are exhausted. Other errors come from the
// underlying reader.
func (d *Decoder) Next() (Record, error) {
	for {
		if len(d.pending) > 0 {
			rec := d.pending[0]
			d.pending = d.pending[1:]
			return rec, nil
		}
		if d.eof {
			return Record{}, io.EOF
		}

		n, err := d.r.Read(d.chunk)
		if n > 0 {
			d.feed(d.chunk[:n])
		}
		if err == io.EOF {
			d.eof = true
			if !d.discarding {
				if rec, ok := Flush(d.buf); ok {
					d.pending = append(d.pending, rec)
				}
			}
			d.buf = nil
			continue
		}
		if err != nil {
			return Record{}, err
		}
	}
}

func (d *Decoder) feed(chunk []byte) {
	if d.discarding {
		i := bytes.IndexByte(chunk, '\n')
		if i < 0 {
			return
		}
		d.discarding = false
		chunk = chunk[i+1:]
	}

	records, rem := Feed(d.buf, chunk)
	for _, rec := range records {
		if len(rec.Line) > d.maxLine {
			rec = d.overlong(rec.Line)
		}
		d.pending = append(d.pending, rec)
	}

	if len(rem) > d.maxLine {
		d.pending = append(d.pending, d.overlong(rem))
		d.buf = nil
		d.discarding = true
		return
	}
	d.buf = rem
}

func (d *Decoder) overlong(line []byte) Record {
	reason := fmt.Sprintf("line exceeds %d bytes", d.maxLine)
	return Record{Err: domain.NewDecodeError(line, reason, nil)}
}
