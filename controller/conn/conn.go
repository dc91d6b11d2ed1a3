// Package conn maintains the controller's durable logical link to the
// coordinator: a reconnecting WebSocket client that surfaces inbound job
// commands to an Executor and reliably delivers results and output back,
// tolerating arbitrarily long disconnects.
package conn

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hwrig/testbed/core/logger"
	"github.com/hwrig/testbed/wire"
)

// backoffSeconds is the reconnect delay table; the index is clamped to the
// last slot on consecutive dial failures and reset to 0 on success.
var backoffSeconds = []int{0, 2, 4, 6, 8}

const defaultPendingQueueBound = 256

var errNotConnected = errors.New("conn: not connected to coordinator")

// JobRunner is the executor side of the link: Run is called once per
// inbound RunExperiment frame, send-and-forget, on its own goroutine.
type JobRunner interface {
	Run(ctx context.Context, jobID int64, code string)
}

// Config is the static configuration a Connection dials and authenticates
// with.
type Config struct {
	ServerURL         string
	AccessToken       string
	PendingQueueBound int // 0 uses defaultPendingQueueBound
	HTTPClient        *http.Client
	Dialer            *websocket.Dialer
}

type pendingResult struct {
	jobID      int64
	output     []byte
	successful bool
}

// Connection is a controller's single logical link to the coordinator. It
// owns reconnect/backoff, the current job's abort flag, and the bounded
// pending-result queue; callers construct one Connection per controller
// process and run it for the process lifetime.
type Connection struct {
	cfg    Config
	log    *slog.Logger
	runner JobRunner

	mu           sync.Mutex
	wsConn       *websocket.Conn
	writeMu      sync.Mutex
	runningJobID int64
	jobAborted   bool

	pendingMu sync.Mutex
	pending   []pendingResult
}

// New creates a Connection. A nil log falls back to slog.Default(). runner
// may be nil if the executor depends on this Connection (e.g. for
// SendResult); wire it up with SetRunner before calling Run.
func New(cfg Config, runner JobRunner, log *slog.Logger) *Connection {
	if log == nil {
		log = slog.Default()
	}
	return &Connection{cfg: cfg, runner: runner, log: log}
}

// SetRunner assigns the JobRunner after construction, for the common case
// where the runner itself depends on this Connection.
func (c *Connection) SetRunner(runner JobRunner) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.runner = runner
}

// Run dials the coordinator and serves frames until ctx is cancelled,
// reconnecting with backoff on dial failure and immediately (backoff reset)
// after a clean disconnect.
func (c *Connection) Run(ctx context.Context) {
	idx := 0
	for ctx.Err() == nil {
		wsConn, err := c.dial(ctx)
		if err != nil {
			c.log.Error("connecting to coordinator failed", logger.Error(err))

			wait := backoffSeconds[idx]
			idx = min(idx+1, len(backoffSeconds)-1)
			c.log.Info("retrying connection", logger.Key("in_seconds", wait))

			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Duration(wait) * time.Second):
			}
			continue
		}

		idx = 0
		c.serve(ctx, wsConn)
	}
}

func (c *Connection) dial(ctx context.Context) (*websocket.Conn, error) {
	u, err := url.Parse(c.cfg.ServerURL)
	if err != nil {
		return nil, fmt.Errorf("conn: parsing server url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http", "":
		u.Scheme = "ws"
	}
	u.Path = path.Join(u.Path, "experiment/ws")

	q := u.Query()
	q.Set("token", c.cfg.AccessToken)
	if jobID, running := c.runningJob(); running {
		q.Set("runningJobId", strconv.FormatInt(jobID, 10))
	}
	u.RawQuery = q.Encode()

	dialer := c.cfg.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}

	wsConn, _, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, err
	}
	return wsConn, nil
}

func (c *Connection) runningJob() (int64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.runningJobID, c.runningJobID != 0
}

// serve owns wsConn for its lifetime: it flushes anything queued from a
// prior disconnect, then reads frames until the coordinator goes away or
// ctx is cancelled.
func (c *Connection) serve(ctx context.Context, wsConn *websocket.Conn) {
	c.mu.Lock()
	c.wsConn = wsConn
	c.mu.Unlock()

	c.log.Info("connected to coordinator")

	defer func() {
		c.mu.Lock()
		c.wsConn = nil
		c.mu.Unlock()
		_ = wsConn.Close()
	}()

	go c.flushPending(ctx)

	for ctx.Err() == nil {
		_, data, err := wsConn.ReadMessage()
		if err != nil {
			c.log.Warn("coordinator connection lost", logger.Error(err))
			return
		}
		c.handleFrame(ctx, data)
	}
}

func (c *Connection) handleFrame(ctx context.Context, raw []byte) {
	env, err := wire.Decode(raw)
	if err != nil {
		c.log.Warn("malformed frame from coordinator", logger.Error(err))
		return
	}

	switch env.Kind {
	case wire.KindRunExperiment:
		msg, err := wire.DecodeRunExperiment(env)
		if err != nil {
			c.log.Warn("malformed RunExperiment frame", logger.Error(err))
			return
		}
		c.log.Info("received run from coordinator", logger.ID("job_id", msg.JobID))

		c.mu.Lock()
		c.runningJobID = msg.JobID
		c.jobAborted = false
		c.mu.Unlock()

		go c.runner.Run(ctx, msg.JobID, msg.Code)

	case wire.KindAbortRunningJob:
		msg, err := wire.DecodeAbortRunningJob(env)
		if err != nil {
			c.log.Warn("malformed AbortRunningJob frame", logger.Error(err))
			return
		}

		c.mu.Lock()
		if c.runningJobID == msg.JobID {
			c.jobAborted = true
		} else {
			c.log.Warn("abort requested for a job that is not running",
				logger.ID("job_id", msg.JobID), logger.ID("running_job_id", c.runningJobID))
		}
		c.mu.Unlock()

	default:
		c.log.Warn("unknown frame kind from coordinator", logger.Key("kind", env.Kind))
	}
}

// IsJobAborted satisfies executor.Connection: it reports whether jobID is
// the currently running job and has been marked aborted.
func (c *Connection) IsJobAborted(_ context.Context, jobID int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.runningJobID == jobID && c.jobAborted
}

// SendResult satisfies executor.Connection. Delivery (upload then frame) is
// attempted on its own goroutine so the executor's own goroutine is never
// blocked on network I/O.
func (c *Connection) SendResult(jobID int64, output []byte, successful bool) {
	c.mu.Lock()
	if c.runningJobID == jobID {
		c.runningJobID = 0
		c.jobAborted = false
	}
	c.mu.Unlock()

	go c.deliver(pendingResult{jobID: jobID, output: output, successful: successful})
}

// SendReceiverStatus satisfies executor.Connection. Sent best-effort: a
// write failure is logged and dropped, to be superseded by the next tick.
func (c *Connection) SendReceiverStatus(values []uint32) {
	frame, err := wire.Encode(wire.KindReceiverStatus, wire.ReceiverStatus{Values: values})
	if err != nil {
		c.log.Error("encoding receiver status frame", logger.Error(err))
		return
	}
	if err := c.writeFrame(frame); err != nil {
		c.log.Debug("dropping receiver status frame", logger.Error(err))
	}
}

func (c *Connection) deliver(pr pendingResult) {
	if c.tryDeliver(pr) {
		return
	}
	c.enqueuePending(pr)
}

// tryDeliver performs the two-step result path: an output upload, and only
// on its success a RunResult frame. Either failing leaves pr for the
// pending queue.
func (c *Connection) tryDeliver(pr pendingResult) bool {
	if err := c.uploadOutput(pr); err != nil {
		c.log.Warn("output upload failed, queuing result", logger.ID("job_id", pr.jobID), logger.Error(err))
		return false
	}
	return c.sendResultFrame(pr)
}

func (c *Connection) uploadOutput(pr pendingResult) error {
	dest := fmt.Sprintf("%s/experiment/job/%d/output?token=%s", c.cfg.ServerURL, pr.jobID, c.cfg.AccessToken)

	req, err := http.NewRequest(http.MethodPost, dest, bytes.NewReader(pr.output))
	if err != nil {
		return fmt.Errorf("conn: building upload request: %w", err)
	}

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return fmt.Errorf("conn: uploading output: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("conn: output upload returned status %d", resp.StatusCode)
	}
	return nil
}

func (c *Connection) sendResultFrame(pr pendingResult) bool {
	frame, err := wire.Encode(wire.KindRunResult, wire.RunResult{JobID: pr.jobID, Successful: pr.successful})
	if err != nil {
		c.log.Error("encoding run result frame", logger.ID("job_id", pr.jobID), logger.Error(err))
		return true // nothing further can be done with this result
	}
	if err := c.writeFrame(frame); err != nil {
		c.log.Warn("sending run result frame failed, queuing", logger.ID("job_id", pr.jobID), logger.Error(err))
		return false
	}
	return true
}

func (c *Connection) writeFrame(frame []byte) error {
	c.mu.Lock()
	wsConn := c.wsConn
	c.mu.Unlock()
	if wsConn == nil {
		return errNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return wsConn.WriteMessage(websocket.TextMessage, frame)
}

func (c *Connection) httpClient() *http.Client {
	if c.cfg.HTTPClient != nil {
		return c.cfg.HTTPClient
	}
	return http.DefaultClient
}

// enqueuePending appends pr, dropping the oldest queued result with a
// logged warning once the bound is reached.
func (c *Connection) enqueuePending(pr pendingResult) {
	bound := c.cfg.PendingQueueBound
	if bound <= 0 {
		bound = defaultPendingQueueBound
	}

	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()

	if len(c.pending) >= bound {
		dropped := c.pending[0]
		c.pending = c.pending[1:]
		c.log.Warn("pending result queue full, dropping oldest result",
			logger.ID("job_id", dropped.jobID), logger.Count("queue_bound", bound))
	}
	c.pending = append(c.pending, pr)
}

// flushPending retries every result queued during a prior disconnect, as
// soon as a new connection is established. Ordering across results is not
// guaranteed; the consumer is idempotent on job id.
func (c *Connection) flushPending(ctx context.Context) {
	c.pendingMu.Lock()
	items := c.pending
	c.pending = nil
	c.pendingMu.Unlock()

	for _, pr := range items {
		if ctx.Err() != nil {
			c.enqueuePending(pr)
			continue
		}
		if !c.tryDeliver(pr) {
			c.enqueuePending(pr)
		}
	}
}
