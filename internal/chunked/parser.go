// SPDX-License-Identifier: AGPL-3.0-or-later

package chunked

import (
	"bufio"
	"fmt"
	"io"
	"sync"

	"github.com/goccy/go-json"
)

// RowsKey is the JSON field name whose array value is streamed as Rows.
// Couchbase's N1QL/FTS/view response envelopes all use "results"; pass a
// different key to NewHandler for a service that doesn't.
const RowsKey = "results"

// rowsParser incrementally decodes a streamed JSON response object shaped
// like `{...header fields..., "<rowsKey>": [...rows...], ...trailer
// fields...}`, emitting the header once all fields preceding the rows
// array are known, each row as it is decoded, and the trailer once the
// closing object brace is reached. Bytes are fed through an io.Pipe so the
// decoder blocks for more input exactly when the wire hasn't delivered it
// yet, rather than requiring a hand-rolled buffer-and-retry loop.
type rowsParser struct {
	pw  *io.PipeWriter
	dec *json.Decoder

	rowsCh    chan json.RawMessage
	trailerCh chan json.RawMessage

	abort chan struct{}
	done  chan struct{}

	mu         sync.Mutex
	header     json.RawMessage
	haveHeader bool
	err        error

	closeOnce sync.Once
	abortOnce sync.Once
}

func newRowsParser(rowsKey string) *rowsParser {
	pr, pw := io.Pipe()
	p := &rowsParser{
		pw:        pw,
		dec:       json.NewDecoder(bufio.NewReader(pr)),
		rowsCh:    make(chan json.RawMessage, 16),
		trailerCh: make(chan json.RawMessage, 1),
		abort:     make(chan struct{}),
		done:      make(chan struct{}),
	}
	go p.run(rowsKey)
	return p
}

// Done returns a channel closed once run has finished consuming and
// decoding everything written before signalComplete. A caller that has
// called signalComplete and wants to inspect Header/Err with the
// guarantee that every already-fed byte has been processed must wait on
// this channel first.
func (p *rowsParser) Done() <-chan struct{} {
	return p.done
}

// feed appends a content chunk to the parser's input.
func (p *rowsParser) feed(chunk []byte) error {
	_, err := p.pw.Write(chunk)
	return err
}

// signalComplete marks the end of input; the parser goroutine reads
// whatever remains buffered and then exits.
func (p *rowsParser) signalComplete() {
	p.closeOnce.Do(func() { _ = p.pw.Close() })
}

// Abort stops the parser goroutine even if no caller is draining Rows,
// used when a connection goes inactive mid-stream.
func (p *rowsParser) Abort() {
	p.abortOnce.Do(func() { close(p.abort) })
	p.closeOnce.Do(func() { _ = p.pw.Close() })
}

// Header returns the decoded header object, if one has been emitted yet.
func (p *rowsParser) Header() (json.RawMessage, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.header, p.haveHeader
}

// Err returns the terminal parse error, if any.
func (p *rowsParser) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

func (p *rowsParser) setHeader(h json.RawMessage) {
	p.mu.Lock()
	p.header = h
	p.haveHeader = true
	p.mu.Unlock()
}

func (p *rowsParser) fail(err error) {
	p.mu.Lock()
	if p.err == nil {
		p.err = err
	}
	p.mu.Unlock()
}

func (p *rowsParser) run(rowsKey string) {
	defer close(p.done)
	defer close(p.rowsCh)
	defer close(p.trailerCh)

	header := make(map[string]json.RawMessage)
	trailer := make(map[string]json.RawMessage)

	tok, err := p.dec.Token()
	if err != nil {
		if err != io.EOF {
			p.fail(fmt.Errorf("chunked: reading response start: %w", err))
		}
		return
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		p.fail(fmt.Errorf("chunked: expected object at response start"))
		return
	}

	sawRows := false
	for p.dec.More() {
		keyTok, err := p.dec.Token()
		if err != nil {
			p.fail(fmt.Errorf("chunked: reading field key: %w", err))
			return
		}
		key, _ := keyTok.(string)

		if key == rowsKey && !sawRows {
			sawRows = true
			p.emitHeader(header)
			if err := p.streamRows(); err != nil {
				p.fail(fmt.Errorf("chunked: streaming rows: %w", err))
				return
			}
			continue
		}

		var raw json.RawMessage
		if err := p.dec.Decode(&raw); err != nil {
			p.fail(fmt.Errorf("chunked: decoding field %q: %w", key, err))
			return
		}
		if sawRows {
			trailer[key] = raw
		} else {
			header[key] = raw
		}
	}

	if !sawRows {
		// The rows field never appeared — typically an error body. Emit
		// the whole object as the header so callers still get something
		// to inspect instead of hanging on an unset Header().
		p.emitHeader(header)
	}

	if _, err := p.dec.Token(); err != nil && err != io.EOF {
		p.fail(fmt.Errorf("chunked: reading response end: %w", err))
		return
	}

	p.emitTrailer(trailer)
}

func (p *rowsParser) streamRows() error {
	tok, err := p.dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '[' {
		return fmt.Errorf("expected array for rows field")
	}
	for p.dec.More() {
		var row json.RawMessage
		if err := p.dec.Decode(&row); err != nil {
			return err
		}
		select {
		case p.rowsCh <- row:
		case <-p.abort:
			return fmt.Errorf("parser aborted while streaming rows")
		}
	}
	_, err = p.dec.Token()
	return err
}

func (p *rowsParser) emitHeader(fields map[string]json.RawMessage) {
	blob, err := json.Marshal(fields)
	if err != nil {
		p.fail(fmt.Errorf("chunked: marshaling header: %w", err))
		return
	}
	p.setHeader(blob)
}

func (p *rowsParser) emitTrailer(fields map[string]json.RawMessage) {
	blob, err := json.Marshal(fields)
	if err != nil {
		p.fail(fmt.Errorf("chunked: marshaling trailer: %w", err))
		return
	}
	select {
	case p.trailerCh <- blob:
	case <-p.abort:
	}
}
