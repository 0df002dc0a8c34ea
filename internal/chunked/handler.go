// SPDX-License-Identifier: AGPL-3.0-or-later

// Package chunked implements the per-connection duplex handler for HTTP
// service responses that arrive as a streamed JSON body rather than a
// single whole payload: a header object, a "rows" array streamed
// incrementally, and a trailer object closing the response. The
// header/array-elements/closing-brace sequencing mirrors how a streaming
// JSON writer produces that same envelope shape over chunked transfer
// encoding on the server side; this package consumes it from the client
// side instead.
package chunked

import (
	"fmt"
	"sync"

	"github.com/goccy/go-json"

	"github.com/tomtom215/couchkit/internal/clienterr"
	"github.com/tomtom215/couchkit/internal/request"
)

// ConvertedStatus is the domain-level success/failure classification of an
// HTTP response, independent of the raw numeric status code.
type ConvertedStatus int

const (
	StatusUnknown ConvertedStatus = iota
	StatusSuccess
	StatusFailure
)

// ConvertStatus maps a raw HTTP status code to its domain classification.
func ConvertStatus(httpStatus int) ConvertedStatus {
	if httpStatus >= 200 && httpStatus < 300 {
		return StatusSuccess
	}
	return StatusFailure
}

// Response is what a chunked request's sink completes with: the converted
// status, the decoded header object, and two channels streaming the body's
// rows and its single trailing object. Rows and Trailer remain live after
// completion — the caller keeps reading from them as more of the body
// arrives.
type Response struct {
	Status  ConvertedStatus
	Header  json.RawMessage
	Rows    <-chan json.RawMessage
	Trailer <-chan json.RawMessage
}

// pending tracks the one in-flight request this connection is currently
// streaming a response for.
type pending struct {
	sink      *request.Sink[*Response]
	status    int
	converted ConvertedStatus
	parser    *rowsParser
	responded bool
}

// Handler is a per-connection duplex handler: it serializes one in-flight
// request/response pair per connection (HTTP/1.1 has no response
// multiplexing) and decodes the response body incrementally as content
// chunks arrive, rather than buffering the whole thing before handing it
// to the caller.
type Handler struct {
	rowsKey string

	mu         sync.Mutex
	remoteHost string
	cur        *pending
}

// NewHandler returns a Handler streaming the named rows field. An empty
// rowsKey defaults to RowsKey ("results").
func NewHandler(rowsKey string) *Handler {
	if rowsKey == "" {
		rowsKey = RowsKey
	}
	return &Handler{rowsKey: rowsKey}
}

// ChannelActive caches the remote socket address, reported back by
// RemoteHost, and is called once when the connection is established.
func (h *Handler) ChannelActive(remoteHost string) {
	h.mu.Lock()
	h.remoteHost = remoteHost
	h.mu.Unlock()
}

// RemoteHost returns the cached remote address, or "" before ChannelActive
// has run.
func (h *Handler) RemoteHost() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.remoteHost
}

// Write records sink as the completion target for the next response
// received on this connection. It fails if a request is already in
// flight, since this handler only ever tracks one at a time.
func (h *Handler) Write(sink *request.Sink[*Response]) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cur != nil {
		return fmt.Errorf("chunked: request already in flight on this connection")
	}
	h.cur = &pending{sink: sink}
	return nil
}

// ReadResponseHead records the HTTP response's raw status and starts the
// streaming body parser.
func (h *Handler) ReadResponseHead(status int) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cur == nil {
		return fmt.Errorf("chunked: response head with no request in flight")
	}
	h.cur.status = status
	h.cur.converted = ConvertStatus(status)
	h.cur.parser = newRowsParser(h.rowsKey)
	return nil
}

// ReadContent appends a body chunk, drives the parser, and — once the
// header is available on a successful response — succeeds the pending
// sink with a live Response handle. last marks the final chunk of the
// response body; once true, the handler waits for the parser goroutine
// to finish decoding everything already fed to it, then finalizes the
// exchange and resets for the next request.
func (h *Handler) ReadContent(chunk []byte, last bool) error {
	h.mu.Lock()
	cur := h.cur
	h.mu.Unlock()
	if cur == nil {
		return fmt.Errorf("chunked: content with no request in flight")
	}

	if len(chunk) > 0 {
		if err := cur.parser.feed(chunk); err != nil {
			return err
		}
	}
	h.maybeRespond(cur)

	if last {
		cur.parser.signalComplete()
		<-cur.parser.Done()
		h.maybeRespond(cur)
		h.finalize(cur)
		h.reset()
	}
	return nil
}

// maybeRespond succeeds cur's sink exactly once, as soon as the header is
// available on a successful response.
func (h *Handler) maybeRespond(cur *pending) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if cur.responded || cur.converted != StatusSuccess {
		return
	}
	header, ok := cur.parser.Header()
	if !ok {
		return
	}
	cur.responded = true
	cur.sink.Succeed(&Response{
		Status:  cur.converted,
		Header:  header,
		Rows:    cur.parser.rowsCh,
		Trailer: cur.parser.trailerCh,
	})
}

// finalize fails cur's sink if the response never succeeded by the time
// the body finished arriving — a non-success status, or a parse error on
// what should have been a success.
func (h *Handler) finalize(cur *pending) {
	h.mu.Lock()
	responded := cur.responded
	h.mu.Unlock()
	if responded {
		return
	}

	err := cur.parser.Err()
	if err == nil {
		err = clienterr.ErrStreamRequestFailed
	}
	cur.sink.Fail(err)
}

// ChannelInactive cleans up an in-flight request left stranded by the
// connection closing before the response completed.
func (h *Handler) ChannelInactive() {
	h.mu.Lock()
	cur := h.cur
	h.cur = nil
	h.mu.Unlock()

	if cur == nil {
		return
	}
	cur.parser.Abort()
	if !cur.responded {
		cur.sink.Fail(fmt.Errorf("chunked: connection closed before response completed"))
	}
}

// reset clears the in-flight request so the connection can accept the
// next one.
func (h *Handler) reset() {
	h.mu.Lock()
	h.cur = nil
	h.mu.Unlock()
}
