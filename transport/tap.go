package transport

import (
	"bytes"
	"net/http"
	"strings"
)

// tapWriter relays the upstream response while observing it. JSON bodies are
// buffered alongside the write-through; SSE bodies are never buffered, each
// chunk goes to the client first and complete events are parsed out of the
// same bytes.
type tapWriter struct {
	rw          http.ResponseWriter
	status      int
	wroteHeader bool
	streaming   bool
	body        bytes.Buffer
	scanner     sseScanner
	onHeaders   func(status int, header http.Header)
	onEvent     func(data []byte)
}

func newTapWriter(rw http.ResponseWriter) *tapWriter {
	return &tapWriter{rw: rw}
}

func (t *tapWriter) Header() http.Header { return t.rw.Header() }

func (t *tapWriter) WriteHeader(status int) {
	if t.wroteHeader {
		return
	}
	t.wroteHeader = true
	t.status = status
	t.streaming = strings.Contains(t.rw.Header().Get("Content-Type"), sseMime)
	if t.onHeaders != nil {
		t.onHeaders(status, t.rw.Header())
	}
	t.rw.WriteHeader(status)
}

func (t *tapWriter) Write(p []byte) (int, error) {
	if !t.wroteHeader {
		t.WriteHeader(http.StatusOK)
	}
	if t.streaming {
		n, err := t.rw.Write(p)
		if n > 0 && t.onEvent != nil {
			t.scanner.feed(p[:n], t.onEvent)
		}
		t.Flush()
		return n, err
	}
	t.body.Write(p)
	return t.rw.Write(p)
}

// Flush implements http.Flusher so upstream SSE writes reach the client
// immediately.
func (t *tapWriter) Flush() {
	if flusher, ok := t.rw.(http.Flusher); ok {
		flusher.Flush()
	}
}

func (t *tapWriter) statusOrOK() int {
	if t.status == 0 {
		return http.StatusOK
	}
	return t.status
}

// sseScanner reassembles SSE events from arbitrarily chunked writes. An event
// ends at a blank line; only data lines contribute to the emitted payload.
type sseScanner struct {
	pending bytes.Buffer
}

func (s *sseScanner) feed(p []byte, emit func(data []byte)) {
	s.pending.Write(p)
	for {
		raw := s.pending.Bytes()
		end, sep := eventBoundary(raw)
		if end < 0 {
			return
		}
		event := make([]byte, end)
		copy(event, raw[:end])
		s.pending.Next(end + sep)
		if data := eventData(event); len(data) > 0 {
			emit(data)
		}
	}
}

// eventBoundary finds the first blank-line terminator, LF or CRLF framed.
func eventBoundary(raw []byte) (int, int) {
	lf := bytes.Index(raw, []byte("\n\n"))
	crlf := bytes.Index(raw, []byte("\r\n\r\n"))
	switch {
	case crlf >= 0 && (lf < 0 || crlf < lf):
		return crlf, 4
	case lf >= 0:
		return lf, 2
	default:
		return -1, 0
	}
}

// eventData joins the data lines of one event, per the SSE wire format.
func eventData(event []byte) []byte {
	var out [][]byte
	for _, line := range bytes.Split(event, []byte("\n")) {
		line = bytes.TrimSuffix(line, []byte("\r"))
		if !bytes.HasPrefix(line, []byte("data:")) {
			continue
		}
		value := bytes.TrimPrefix(line, []byte("data:"))
		value = bytes.TrimPrefix(value, []byte(" "))
		out = append(out, value)
	}
	return bytes.Join(out, []byte("\n"))
}
