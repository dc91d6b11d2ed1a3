package coordinator

import (
	"context"
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/hwrig/testbed/core/logger"
	"github.com/hwrig/testbed/wire"
)

// Session is the per-connected-controller adapter: it decodes inbound wire
// frames and forwards them to the Dispatcher, and encodes the Dispatcher's
// outbound frames onto the underlying WebSocket connection. One Session is
// created per accepted connection and discarded on disconnect; Dispatcher
// holds the long-lived controller registry.
type Session struct {
	controllerID int64
	conn         *websocket.Conn
	dispatcher   *Dispatcher
	log          *slog.Logger

	writeMu sync.Mutex
}

// NewSession wraps an already-upgraded WebSocket connection.
func NewSession(controllerID int64, conn *websocket.Conn, dispatcher *Dispatcher, log *slog.Logger) *Session {
	if log == nil {
		log = slog.Default()
	}
	return &Session{controllerID: controllerID, conn: conn, dispatcher: dispatcher, log: log}
}

// Started tells the Dispatcher this controller has joined, carrying the
// state it reconnected with (Idle, or Running(runningJobID) if the
// controller reports it was mid-job).
func (s *Session) Started(ctx context.Context, initialState ControllerState) {
	s.dispatcher.Join(ctx, s.controllerID, initialState, s)
}

// Stopped tells the Dispatcher this controller's session ended. In-flight
// jobs are left Running; the controller is expected to reconnect and
// eventually report a result.
func (s *Session) Stopped() {
	s.dispatcher.Disconnect(s.controllerID)
}

// Serve reads frames until the connection closes or ctx is cancelled,
// dispatching each to the Dispatcher. It returns when the read loop ends;
// callers are expected to call Stopped afterward (response.WebSocket's
// onDisconnect hook does this).
func (s *Session) Serve(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			return err
		}
		s.handleFrame(raw)
	}
}

func (s *Session) handleFrame(raw []byte) {
	env, err := wire.Decode(raw)
	if err != nil {
		s.log.Warn("malformed frame from controller", logger.ID("controller_id", s.controllerID), logger.Error(err))
		return
	}

	switch env.Kind {
	case wire.KindRunResult:
		msg, err := wire.DecodeRunResult(env)
		if err != nil {
			s.log.Warn("malformed RunResult frame", logger.ID("controller_id", s.controllerID), logger.Error(err))
			return
		}
		s.dispatcher.OnResult(s.controllerID, msg.JobID, msg.Successful)

	case wire.KindReceiverStatus:
		msg, err := wire.DecodeReceiverStatus(env)
		if err != nil {
			s.log.Warn("malformed ReceiverStatus frame", logger.ID("controller_id", s.controllerID), logger.Error(err))
			return
		}
		s.dispatcher.OnReceiverStatus(s.controllerID, msg.Values)

	default:
		s.log.Warn("unknown frame kind from controller", logger.ID("controller_id", s.controllerID), logger.Key("kind", env.Kind))
	}
}

// SendRunExperiment satisfies sessionOutbound.
func (s *Session) SendRunExperiment(jobID int64, code string) error {
	frame, err := wire.Encode(wire.KindRunExperiment, wire.RunExperiment{JobID: jobID, Code: code})
	if err != nil {
		return err
	}
	return s.writeFrame(frame)
}

// SendAbortRunningJob satisfies sessionOutbound.
func (s *Session) SendAbortRunningJob(jobID int64) error {
	frame, err := wire.Encode(wire.KindAbortRunningJob, wire.AbortRunningJob{JobID: jobID})
	if err != nil {
		return err
	}
	return s.writeFrame(frame)
}

func (s *Session) writeFrame(frame []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteMessage(websocket.TextMessage, frame)
}
