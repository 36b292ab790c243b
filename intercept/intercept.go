// Package intercept observes JSON-RPC traffic at the transport boundary and
// drives authoritative session state: creation on a successful initialize
// response, activation on notifications/initialized, closure on DELETE or a
// terminal session-gone signal, and event-log appends for everything else.
// Frames are parsed only enough to read the outermost JSON-RPC object; they
// are never rewritten or reordered.
package intercept

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/viant/jsonrpc"
	"github.com/viant/mcpsession"
	"github.com/viant/mcpsession/eventlog"
	"github.com/viant/mcpsession/internal/keyed"
	"github.com/viant/mcpsession/manager"
	"go.uber.org/zap"
)

// JSON-RPC methods with lifecycle meaning.
const (
	MethodInitialize  = "initialize"
	MethodInitialized = "notifications/initialized"
	MethodDisconnect  = "server/disconnect"

	// methodSessionClose labels the synthetic event recorded on DELETE.
	methodSessionClose = "session/close"

	// CodeSessionTerminated is the JSON-RPC error code an upstream uses to
	// signal a session is gone for good.
	CodeSessionTerminated = -32001
)

// State carries per-HTTP-exchange context between the request and response
// side of one interception. It is owned by a single request handler and needs
// no locking.
type State struct {
	SessionID   string
	StreamKey   string
	PendingInit bool
	InitParams  json.RawMessage
}

// Interceptor maps observed frames to session manager and event log effects.
// It is safe for concurrent use; observations for one session id are
// serialized through a striped keyed lock.
type Interceptor struct {
	sessions *manager.Manager
	events   *eventlog.Store
	locks    *keyed.Mutex
	logger   *zap.Logger
}

// New creates an interceptor bound to a session manager and event store.
func New(sessions *manager.Manager, events *eventlog.Store, options ...Option) *Interceptor {
	ret := &Interceptor{
		sessions: sessions,
		events:   events,
		locks:    keyed.New(0),
		logger:   zap.NewNop(),
	}
	for _, option := range options {
		option(ret)
	}
	return ret
}

// OnRequest observes one client-to-server frame before it is forwarded
// upstream. Store failures are logged, never surfaced; the frame always
// passes through untouched.
func (i *Interceptor) OnRequest(ctx context.Context, state *State, payload []byte) {
	frame, ok := parseFrame(payload)
	if !ok {
		i.logger.Warn("unrecognized client frame, passing through", zap.Int("size", len(payload)))
		return
	}
	if frame.Method == MethodInitialize {
		state.PendingInit = true
		state.InitParams = frame.Params
	}
	if state.SessionID == "" {
		return
	}
	i.locks.Lock(state.SessionID)
	defer i.locks.Unlock(state.SessionID)
	if frame.Method == MethodInitialized {
		if _, err := i.sessions.Transition(ctx, state.SessionID, mcpsession.StatusInitialized, mcpsession.StatusActive, nil); err != nil {
			i.logger.Warn("failed to activate session",
				zap.String("session", state.SessionID), zap.Error(err))
		}
	}
	i.record(ctx, state.SessionID, state.StreamKey, mcpsession.ClientToServer, &frame)
}

// OnResponse observes a complete application/json response. A pending
// initialize combined with a session id header creates the session record.
func (i *Interceptor) OnResponse(ctx context.Context, state *State, headerSessionID string, httpStatus int, payload []byte) {
	if headerSessionID != "" {
		state.SessionID = headerSessionID
	}
	if state.SessionID == "" {
		return
	}
	i.locks.Lock(state.SessionID)
	defer i.locks.Unlock(state.SessionID)

	frame, ok := parseFrame(payload)
	if state.PendingInit && ok && frame.Error == nil && httpStatus < 400 {
		i.createSession(ctx, state, frame)
		return
	}
	if !ok {
		if httpStatus >= 400 {
			frame.kind = mcpsession.KindError
			frame.raw = payload
			i.record(ctx, state.SessionID, state.StreamKey, mcpsession.ServerToClient, &frame)
		}
		return
	}
	if httpStatus >= 400 {
		frame.kind = mcpsession.KindError
	}
	i.record(ctx, state.SessionID, state.StreamKey, mcpsession.ServerToClient, &frame)
	i.closeOnTerminal(ctx, state.SessionID, &frame)
}

// OnStreamEvent observes one well-formed SSE event as it is relayed to the
// client; the wrapper feeds it in the same pass, without buffering the stream.
func (i *Interceptor) OnStreamEvent(ctx context.Context, state *State, data []byte) {
	if state.SessionID == "" {
		return
	}
	frame, ok := parseFrame(data)
	if !ok {
		i.logger.Warn("unrecognized stream frame, passing through",
			zap.String("session", state.SessionID))
		return
	}
	i.locks.Lock(state.SessionID)
	defer i.locks.Unlock(state.SessionID)
	i.record(ctx, state.SessionID, state.StreamKey, mcpsession.ServerToClient, &frame)
	i.closeOnTerminal(ctx, state.SessionID, &frame)
}

// OnDelete observes an explicit DELETE on the endpoint: the session closes
// and a synthetic close event is appended.
func (i *Interceptor) OnDelete(ctx context.Context, sessionID string) {
	if sessionID == "" {
		return
	}
	i.locks.Lock(sessionID)
	defer i.locks.Unlock(sessionID)
	if err := i.sessions.Close(ctx, sessionID); err != nil && !mcpsession.IsNotFound(err) {
		i.logger.Warn("failed to close session on delete",
			zap.String("session", sessionID), zap.Error(err))
		return
	}
	if _, err := i.events.Record(ctx, sessionID, mcpsession.StreamRequest,
		mcpsession.ClientToServer, mcpsession.KindNotification, methodSessionClose, nil, nil); err != nil {
		i.logger.Warn("failed to record close event",
			zap.String("session", sessionID), zap.Error(err))
	}
}

// createSession registers the record under the upstream-assigned id and
// appends the initialize request/response pair to the request stream. Losing
// the create race to another instance is not an error; the winner records the
// exchange.
func (i *Interceptor) createSession(ctx context.Context, state *State, response frame) {
	state.PendingInit = false
	metadata := initMetadata(state.InitParams, response.Result)
	if _, err := i.sessions.Create(ctx, state.SessionID, metadata); err != nil {
		if errors.Is(err, mcpsession.ErrExists) || mcpsession.IsConflict(err) {
			i.logger.Debug("session already created elsewhere", zap.String("session", state.SessionID))
			return
		}
		i.logger.Warn("failed to create session",
			zap.String("session", state.SessionID), zap.Error(err))
		return
	}
	request := frame{Method: MethodInitialize, Params: state.InitParams, kind: mcpsession.KindRequest}
	i.record(ctx, state.SessionID, mcpsession.StreamRequest, mcpsession.ClientToServer, &request)
	i.record(ctx, state.SessionID, mcpsession.StreamRequest, mcpsession.ServerToClient, &response)
}

func (i *Interceptor) closeOnTerminal(ctx context.Context, sessionID string, observed *frame) {
	terminal := observed.Method == MethodDisconnect ||
		(observed.Error != nil && observed.Error.Code == CodeSessionTerminated)
	if !terminal {
		return
	}
	if err := i.sessions.Close(ctx, sessionID); err != nil && !mcpsession.IsNotFound(err) {
		i.logger.Warn("failed to close session on terminal signal",
			zap.String("session", sessionID), zap.Error(err))
	}
}

func (i *Interceptor) record(ctx context.Context, sessionID, streamKey string, direction mcpsession.Direction, observed *frame) {
	if _, err := i.events.Record(ctx, sessionID, streamKey, direction, observed.kind,
		observed.Method, observed.ID, observed.raw); err != nil {
		i.logger.Warn("failed to record event",
			zap.String("session", sessionID),
			zap.String("stream", streamKey),
			zap.Error(err))
	}
}

// frame is a minimal probe over the outermost JSON-RPC object.
type frame struct {
	ID     any             `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
	Result json.RawMessage `json:"result"`
	Error  *jsonrpc.Error  `json:"error"`

	kind mcpsession.Kind
	raw  json.RawMessage
}

func parseFrame(data []byte) (frame, bool) {
	ret := frame{}
	if len(data) == 0 || json.Unmarshal(data, &ret) != nil {
		return ret, false
	}
	ret.raw = data
	switch {
	case ret.Error != nil:
		ret.kind = mcpsession.KindError
	case ret.Method != "" && ret.ID != nil:
		ret.kind = mcpsession.KindRequest
	case ret.Method != "":
		ret.kind = mcpsession.KindNotification
	default:
		ret.kind = mcpsession.KindResponse
	}
	return ret, true
}

// SessionIDFromFrame extracts a params-level session_id hint, the lowest
// priority source on the discovery path after both headers.
func SessionIDFromFrame(data []byte) string {
	probe := struct {
		Params struct {
			SessionID string `json:"session_id"`
		} `json:"params"`
	}{}
	if err := json.Unmarshal(data, &probe); err != nil {
		return ""
	}
	return probe.Params.SessionID
}

// IsInitialize reports whether the frame is an initialize request.
func IsInitialize(data []byte) bool {
	ret, ok := parseFrame(data)
	return ok && ret.Method == MethodInitialize
}

// initMetadata derives reconstruction hints from the initialize exchange.
func initMetadata(params, result json.RawMessage) mcpsession.Metadata {
	metadata := mcpsession.Metadata{}
	request := struct {
		ProtocolVersion string `json:"protocolVersion"`
		ClientInfo      struct {
			Name    string `json:"name"`
			Version string `json:"version"`
		} `json:"clientInfo"`
		Capabilities json.RawMessage `json:"capabilities"`
	}{}
	if len(params) > 0 && json.Unmarshal(params, &request) == nil {
		if request.ClientInfo.Name != "" {
			metadata["clientName"] = request.ClientInfo.Name
		}
		if request.ClientInfo.Version != "" {
			metadata["clientVersion"] = request.ClientInfo.Version
		}
		if len(request.Capabilities) > 0 {
			metadata["clientCapabilities"] = string(request.Capabilities)
		}
		if request.ProtocolVersion != "" {
			metadata["protocolVersion"] = request.ProtocolVersion
		}
	}
	negotiated := struct {
		ProtocolVersion string `json:"protocolVersion"`
	}{}
	if len(result) > 0 && json.Unmarshal(result, &negotiated) == nil && negotiated.ProtocolVersion != "" {
		metadata["protocolVersion"] = negotiated.ProtocolVersion
	}
	return metadata
}
