// Package transport wraps an upstream Streamable HTTP handler with session
// admission and protocol interception. The wrapper buffers POST bodies once,
// tees JSON responses, and relays SSE byte-for-byte while feeding each complete
// event to the interceptor in the same pass.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/viant/jsonrpc"
	"github.com/viant/mcpsession"
	"github.com/viant/mcpsession/admission"
	"github.com/viant/mcpsession/intercept"
	"github.com/viant/mcpsession/metrics"
	"go.uber.org/zap"
)

const (
	sessionHeader    = "Mcp-Session-Id"
	altSessionHeader = "X-Mcp-Session-Id"
	sseMime          = "text/event-stream"

	defaultMaxBodyBytes = int64(1 << 20)

	// codeSessionNotFound is the JSON-RPC error code returned when a request
	// names a session the store does not know or one already closed.
	codeSessionNotFound = -32000
)

// Middleware is an http.Handler that fronts the upstream MCP endpoint.
type Middleware struct {
	next          http.Handler
	admission     *admission.Controller
	interceptor   *intercept.Interceptor
	maxBodyBytes  int64
	unknownStatus int
	logger        *zap.Logger
	metrics       *metrics.Metrics
}

// New wraps next, the upstream Streamable HTTP handler.
func New(next http.Handler, controller *admission.Controller, interceptor *intercept.Interceptor, options ...Option) *Middleware {
	ret := &Middleware{
		next:          next,
		admission:     controller,
		interceptor:   interceptor,
		maxBodyBytes:  defaultMaxBodyBytes,
		unknownStatus: http.StatusNotFound,
		logger:        zap.NewNop(),
	}
	for _, option := range options {
		option(ret)
	}
	return ret
}

// ServeHTTP implements http.Handler.
// POST – JSON-RPC message(s); handshake when no session id accompanies an
// initialize request. GET – standalone SSE stream. DELETE – session teardown.
// Anything else passes through untouched.
func (m *Middleware) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		m.handlePOST(w, r)
	case http.MethodGet:
		m.handleGET(w, r)
	case http.MethodDelete:
		m.handleDELETE(w, r)
	default:
		m.next.ServeHTTP(w, r)
	}
}

func (m *Middleware) handlePOST(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	ctx := r.Context()
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, m.maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeRPCError(w, http.StatusRequestEntityTooLarge, jsonrpc.InvalidRequest, "request body too large")
			return
		}
		writeRPCError(w, http.StatusBadRequest, jsonrpc.ParseError, "failed to read request body")
		return
	}
	frames := splitBatch(body)
	sessionID := m.discoverSessionID(r, frames)
	initialize := false
	for _, frame := range frames {
		if intercept.IsInitialize(frame) {
			initialize = true
			break
		}
	}
	if !m.admit(ctx, w, sessionID, initialize) {
		return
	}

	state := &intercept.State{SessionID: sessionID, StreamKey: mcpsession.StreamRequest}
	for _, frame := range frames {
		m.interceptor.OnRequest(ctx, state, frame)
	}

	r.Body = io.NopCloser(bytes.NewReader(body))
	r.ContentLength = int64(len(body))
	tap := newTapWriter(w)
	tap.onHeaders = func(status int, header http.Header) {
		if id := header.Get(sessionHeader); id != "" {
			state.SessionID = id
		}
	}
	tap.onEvent = func(data []byte) {
		if state.PendingInit {
			m.interceptor.OnResponse(ctx, state, "", tap.status, data)
			return
		}
		m.interceptor.OnStreamEvent(ctx, state, data)
	}
	m.metrics.WrapperOverhead(time.Since(started))

	m.next.ServeHTTP(tap, r)

	if !tap.streaming {
		m.interceptor.OnResponse(ctx, state, tap.Header().Get(sessionHeader), tap.statusOrOK(), tap.body.Bytes())
	}
}

func (m *Middleware) handleGET(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	ctx := r.Context()
	sessionID := headerSessionID(r)
	if sessionID == "" {
		writeRPCError(w, http.StatusBadRequest, jsonrpc.InvalidRequest, "missing "+sessionHeader+" header")
		return
	}
	if !m.admit(ctx, w, sessionID, false) {
		return
	}
	state := &intercept.State{SessionID: sessionID, StreamKey: mcpsession.StreamStandalone}
	tap := newTapWriter(w)
	tap.onEvent = func(data []byte) {
		m.interceptor.OnStreamEvent(ctx, state, data)
	}
	m.metrics.WrapperOverhead(time.Since(started))
	m.next.ServeHTTP(tap, r)
}

func (m *Middleware) handleDELETE(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	ctx := r.Context()
	sessionID := headerSessionID(r)
	if sessionID == "" {
		writeRPCError(w, http.StatusBadRequest, jsonrpc.InvalidRequest, "missing "+sessionHeader+" header")
		return
	}
	if !m.admit(ctx, w, sessionID, false) {
		return
	}
	tap := newTapWriter(w)
	m.metrics.WrapperOverhead(time.Since(started))
	m.next.ServeHTTP(tap, r)
	if tap.statusOrOK() < 400 {
		m.interceptor.OnDelete(ctx, sessionID)
		m.admission.Forget(sessionID)
	}
}

// admit runs the admission check and writes the rejection when it fails.
func (m *Middleware) admit(ctx context.Context, w http.ResponseWriter, sessionID string, initialize bool) bool {
	err := m.admission.Admit(ctx, sessionID, initialize)
	if err == nil {
		return true
	}
	switch {
	case errors.Is(err, admission.ErrUnknownSession), errors.Is(err, admission.ErrSessionClosed):
		writeRPCError(w, m.unknownStatus, codeSessionNotFound, "Session not found")
	case mcpsession.IsUnavailable(err):
		m.logger.Error("session store unavailable", zap.String("session", sessionID), zap.Error(err))
		writeRPCError(w, http.StatusServiceUnavailable, jsonrpc.InternalError, "session store unavailable")
	default:
		m.logger.Error("failed to restore session", zap.String("session", sessionID), zap.Error(err))
		writeRPCError(w, http.StatusInternalServerError, jsonrpc.InternalError, "failed to restore session")
	}
	return false
}

// discoverSessionID resolves the session id in priority order: primary header,
// alternate header, then a params-level hint in the first frame. A conflicting
// body hint is logged and the header wins.
func (m *Middleware) discoverSessionID(r *http.Request, frames [][]byte) string {
	fromHeader := headerSessionID(r)
	fromBody := ""
	if len(frames) > 0 {
		fromBody = intercept.SessionIDFromFrame(frames[0])
	}
	if fromHeader != "" {
		if fromBody != "" && fromBody != fromHeader {
			m.logger.Warn("session id in body disagrees with header, using header",
				zap.String("header", fromHeader), zap.String("body", fromBody))
		}
		return fromHeader
	}
	return fromBody
}

func headerSessionID(r *http.Request) string {
	if id := strings.TrimSpace(r.Header.Get(sessionHeader)); id != "" {
		return id
	}
	return strings.TrimSpace(r.Header.Get(altSessionHeader))
}

// splitBatch returns the individual frames of a JSON-RPC batch, or the body
// itself as a single frame.
func splitBatch(body []byte) [][]byte {
	trimmed := bytes.TrimLeft(body, " \t\r\n")
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return [][]byte{body}
	}
	var batch []json.RawMessage
	if err := json.Unmarshal(body, &batch); err != nil || len(batch) == 0 {
		return [][]byte{body}
	}
	ret := make([][]byte, 0, len(batch))
	for _, frame := range batch {
		ret = append(ret, frame)
	}
	return ret
}

func writeRPCError(w http.ResponseWriter, httpStatus, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatus)
	response := struct {
		Jsonrpc string         `json:"jsonrpc"`
		Error   *jsonrpc.Error `json:"error"`
		ID      any            `json:"id"`
	}{jsonrpc.Version, &jsonrpc.Error{Code: code, Message: message}, nil}
	_ = json.NewEncoder(w).Encode(&response)
}
