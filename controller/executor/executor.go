// Package executor runs one experiment job end-to-end: stage the submitted
// code, run it through a sandboxed transmitter phase, decode the resulting
// command program, drive it over serial against a paired sandboxed
// receiver, and collect output - or a structured error - at every step.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hwrig/testbed/codec"
	"github.com/hwrig/testbed/core/logger"
	"github.com/hwrig/testbed/sandbox"
	"github.com/hwrig/testbed/serial"
)

const (
	transmitterTimeout   = 60 * time.Second
	receiverSyncAttempt  = 1 * time.Second
	receiverSyncTries    = 10
	receiverDrainTimeout = 5 * time.Second
	endOfExperimentDial  = 10 * time.Second
	telemetryInterval    = 10 * time.Second

	receiverAddr = "127.0.0.1:8011"
)

// Connection is the subset of the controller connection's mailbox the
// executor depends on: it asks whether the running job has been aborted,
// and it hands off finished results and periodic telemetry.
type Connection interface {
	IsJobAborted(ctx context.Context, jobID int64) bool
	SendResult(jobID int64, output []byte, successful bool)
	SendReceiverStatus(values []uint32)
}

// serialPort is the subset of *serial.Port the command loop drives. Naming
// it as an interface lets tests drive runCommands and synchronizeReceiver
// against a fake transmitter without opening a real device.
type serialPort interface {
	Write([]byte) (int, error)
	Read([]byte) (int, error)
	Close() error
}

// receiverHandle is the subset of *sandbox.Handle the command loop and
// early-exit paths observe.
type receiverHandle interface {
	IsTerminated() bool
	ReadPipes() error
	Wait(timeout time.Duration) ([]byte, error)
	Kill() error
}

// Config is the static, per-controller configuration an Executor runs
// every job under.
type Config struct {
	DockerPath      string
	ScratchDir      string // defaults to /tmp/controller
	TransmitterPath string
	ReceiverPaths   []string
	PythonLibDir    string
}

// Executor runs jobs one at a time; ownership of the receiver serial
// devices is mutually exclusive with the periodic telemetry loop via rxLock.
type Executor struct {
	cfg  Config
	conn Connection
	log  *slog.Logger

	rxLock sync.Mutex
}

// New creates an Executor. A nil log falls back to slog.Default().
func New(cfg Config, conn Connection, log *slog.Logger) *Executor {
	if cfg.ScratchDir == "" {
		cfg.ScratchDir = "/tmp/controller"
	}
	if log == nil {
		log = slog.Default()
	}
	return &Executor{cfg: cfg, conn: conn, log: log}
}

// Run executes job jobID with the given code, and reports the result to the
// Connection. It never returns an error to the caller - every failure is
// captured as structured output and reported via Connection.SendResult,
// exactly as the protocol requires.
func (e *Executor) Run(ctx context.Context, jobID int64, code string) {
	e.rxLock.Lock()
	defer e.rxLock.Unlock()

	scriptDir := e.scriptDir(jobID)

	output, err := e.handleExecution(ctx, jobID, scriptDir, code)
	successful := err == nil
	if err != nil {
		re := asRunError(err)
		e.log.Error("experiment run failed",
			logger.ID("job_id", jobID),
			logger.Key("kind", re.Kind),
			logger.Key("cause", re.Cause),
			logger.Error(err),
		)
		output = mustMarshalRunError(re)
		_ = os.RemoveAll(scriptDir)
	}

	e.conn.SendResult(jobID, output, successful)
}

func (e *Executor) scriptDir(jobID int64) string {
	return filepath.Join(e.cfg.ScratchDir, fmt.Sprintf("%d", jobID))
}

func (e *Executor) handleExecution(ctx context.Context, jobID int64, scriptDir string, code string) ([]byte, error) {
	if err := stageScript(scriptDir, code); err != nil {
		return nil, withContext(newRunError("IOError", CauseInternal, err), "creating script dir")
	}

	program, err := e.runTransmitterPhase(ctx, scriptDir)
	if err != nil {
		return nil, err
	}

	commands, err := codec.Decode(program)
	if err != nil {
		return nil, withOutput(newRunError("Decoding", CauseUser, err), string(program))
	}

	var port serialPort
	var receiver receiverHandle

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		p, err := serial.Open(e.cfg.TransmitterPath)
		if err != nil {
			return withContext(newRunError("IOError", CauseInternal, err), "opening serial port")
		}
		port = p
		return nil
	})
	g.Go(func() error {
		r, err := e.startReceiver(gctx, scriptDir)
		if err != nil {
			return err
		}
		receiver = r
		return nil
	})
	if err := g.Wait(); err != nil {
		if port != nil {
			_ = port.Close()
		}
		if receiver != nil {
			_ = receiver.Kill()
		}
		return nil, err
	}
	defer port.Close()

	if err := e.synchronizeReceiver(receiver); err != nil {
		if err == ErrEarlyExit {
			out, waitErr := receiver.Wait(1 * time.Second)
			if waitErr != nil {
				return nil, classifySandboxErr(runErrorKind(waitErr), waitErr, "waiting for receiver after early exit")
			}
			return out, nil
		}
		_ = receiver.Kill()
		return nil, err
	}

	runErr := e.runCommands(ctx, jobID, commands, port, receiver)
	if runErr != nil {
		return finishAfterCommandError(port, receiver, runErr)
	}

	if err := sendEndOfExperiment(); err != nil {
		_ = receiver.Kill()
		return nil, withContext(newRunError("IOError", CauseInternal, err), "sending end of experiment to receiver")
	}

	output, err := receiver.Wait(receiverDrainTimeout)
	if err != nil {
		return nil, classifySandboxErr(runErrorKind(err), err, "waiting for receiver to drain")
	}

	_ = os.RemoveAll(scriptDir)
	return output, nil
}

func (e *Executor) runTransmitterPhase(ctx context.Context, scriptDir string) ([]byte, error) {
	h, err := sandbox.Build(ctx, sandbox.BuildConfig{
		DockerPath:   e.cfg.DockerPath,
		ScriptDir:    scriptDir,
		PythonLibDir: e.cfg.PythonLibDir,
		Argv:         []string{"python", "/usr/local/scripts/job.py", "--transmitter"},
		Name:         "testbed-transmitter",
	})
	if err != nil {
		return nil, withContext(newRunError("IOError", CauseInternal, err), "spawning transmitter")
	}

	out, err := h.Wait(transmitterTimeout)
	if err != nil {
		return nil, classifySandboxErr(runErrorKind(err), err, "running transmitter phase")
	}
	return out, nil
}

func (e *Executor) startReceiver(ctx context.Context, scriptDir string) (*sandbox.Handle, error) {
	h, err := sandbox.Build(ctx, sandbox.BuildConfig{
		DockerPath:   e.cfg.DockerPath,
		ScriptDir:    scriptDir,
		PythonLibDir: e.cfg.PythonLibDir,
		Argv:         []string{"python", "/usr/local/scripts/job.py", "--receiver"},
		Name:         "testbed-receiver",
		Devices:      e.cfg.ReceiverPaths,
	})
	if err != nil {
		return nil, withContext(newRunError("IOError", CauseInternal, err), "spawning receiver")
	}
	return h, nil
}

// synchronizeReceiver attempts a TCP connect to the receiver's readiness
// port for up to 10 one-second tries; a non-empty read means ready.
func (e *Executor) synchronizeReceiver(receiver receiverHandle) error {
	for i := 0; i < receiverSyncTries; i++ {
		if receiver.IsTerminated() {
			return ErrEarlyExit
		}

		if ready := dialAndCheckReady(); ready {
			return nil
		}

		time.Sleep(receiverSyncAttempt)
	}

	return withContext(newRunError("IOError", CauseInternal, fmt.Errorf("connection refused")), "connecting to receiver")
}

func dialAndCheckReady() bool {
	conn, err := net.DialTimeout("tcp", receiverAddr, receiverSyncAttempt)
	if err != nil {
		return false
	}
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(receiverSyncAttempt))
	buf := make([]byte, 32)
	n, _ := conn.Read(buf)
	return n > 0
}

// runCommands drives the decoded command sequence over serial, checking
// for abort before each write and enforcing the receiver output cap as it
// goes.
func (e *Executor) runCommands(ctx context.Context, jobID int64, commands []codec.Command, port serialPort, receiver receiverHandle) error {
	if _, err := port.Write([]byte("\n")); err != nil {
		return withContext(newRunError("IOError", CauseInternal, err), "writing new line char")
	}
	if _, err := port.Write([]byte("start_delimiter\n")); err != nil {
		return withContext(newRunError("IOError", CauseInternal, err), "writing start delimiter new line")
	}

	ackLen := len(serial.EndMessage)

	for _, cmd := range commands {
		if e.conn.IsJobAborted(ctx, jobID) {
			return newRunError("JobAborted", CauseAbort, ErrJobAborted)
		}

		encoded, err := codec.Encode(cmd)
		if err != nil {
			return withContext(newRunError("IOError", CauseInternal, err), "encoding command")
		}
		if _, err := port.Write(encoded); err != nil {
			return withContext(newRunError("IOError", CauseInternal, err), "writing command to serial port")
		}

		totalRead := 0
		buf := make([]byte, ackLen)
		for totalRead < ackLen {
			if receiver.IsTerminated() {
				_, _ = port.Write([]byte("end_delimiter\n"))
				return ErrEarlyExit
			}

			if err := receiver.ReadPipes(); err != nil {
				return classifySandboxErr(runErrorKind(err), err, "draining receiver while running commands")
			}

			n, err := port.Read(buf)
			if serial.IsTimeout(n, err) {
				continue
			}
			if err != nil {
				return withContext(newRunError("IOError", CauseInternal, err), "reading end message from serial port")
			}
			totalRead += n
		}
	}

	if _, err := port.Write([]byte("end_delimiter\n")); err != nil {
		return withContext(newRunError("IOError", CauseInternal, err), "writing end delimiter new line to end experiment")
	}

	return nil
}

// finishAfterCommandError cleans up after the command loop fails. An early
// receiver exit has already written its own end delimiter and may still have
// output worth collecting, so it is drained instead of treated as fatal;
// every other failure writes the end delimiter itself (the loop never got
// that far on its own) and kills the receiver outright.
func finishAfterCommandError(port serialPort, receiver receiverHandle, runErr error) ([]byte, error) {
	if runErr == ErrEarlyExit {
		out, waitErr := receiver.Wait(1 * time.Second)
		if waitErr != nil {
			return nil, classifySandboxErr(runErrorKind(waitErr), waitErr, "waiting for receiver after early exit")
		}
		return out, nil
	}
	_, _ = port.Write([]byte("end_delimiter\n"))
	_ = receiver.Kill()
	return nil, runErr
}

func sendEndOfExperiment() error {
	conn, err := net.DialTimeout("tcp", receiverAddr, endOfExperimentDial)
	if err != nil {
		return err
	}
	defer conn.Close()
	_, err = conn.Write([]byte(serial.EndMessage))
	return err
}

func stageScript(scriptDir string, code string) error {
	if err := os.MkdirAll(scriptDir, 0o755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(scriptDir, "job.py"), []byte(code), 0o644)
}

// RunTelemetry runs the periodic receiver-value telemetry loop until ctx is
// cancelled. It shares rxLock with job execution: if execution holds the
// lock, the tick is skipped rather than queued.
func (e *Executor) RunTelemetry(ctx context.Context) {
	ticker := time.NewTicker(telemetryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.tickTelemetry()
		}
	}
}

func (e *Executor) tickTelemetry() {
	if !e.rxLock.TryLock() {
		return
	}
	defer e.rxLock.Unlock()

	values := make([]uint32, len(e.cfg.ReceiverPaths))
	for i, path := range e.cfg.ReceiverPaths {
		v, err := readReceiverValue(path)
		if err != nil {
			e.log.Warn("failed to read receiver value", logger.Key("path", path), logger.Error(err))
			continue
		}
		values[i] = v
	}

	e.conn.SendReceiverStatus(values)
}

func readReceiverValue(path string) (uint32, error) {
	port, err := serial.Open(path)
	if err != nil {
		return 0, err
	}
	defer port.Close()

	// Discard bytes up to the first newline, then collect ASCII digits up
	// to the next space.
	if err := skipUntil(port, '\n'); err != nil {
		return 0, err
	}

	digits, err := readUntil(port, ' ')
	if err != nil {
		return 0, err
	}

	var v uint32
	if _, err := fmt.Sscanf(string(digits), "%d", &v); err != nil {
		return 0, fmt.Errorf("parsing receiver value %q: %w", digits, err)
	}
	return v, nil
}

func skipUntil(port *serial.Port, delim byte) error {
	buf := make([]byte, 1)
	for {
		n, err := port.Read(buf)
		if err != nil {
			return err
		}
		if n == 0 {
			continue
		}
		if buf[0] == delim {
			return nil
		}
	}
}

func readUntil(port *serial.Port, delim byte) ([]byte, error) {
	buf := make([]byte, 1)
	var out []byte
	for {
		n, err := port.Read(buf)
		if err != nil {
			return nil, err
		}
		if n == 0 {
			continue
		}
		if buf[0] == delim {
			return out, nil
		}
		out = append(out, buf[0])
	}
}

func runErrorKind(err error) string {
	switch {
	case err == sandbox.ErrOutOfMemory:
		return "OutOfMemory"
	case err == sandbox.ErrCrashed:
		return "Crashed"
	case err == sandbox.ErrTimeOut:
		return "TimeOut"
	case err == sandbox.ErrOutputLimitReached:
		return "OutputLimitReached"
	default:
		return "IOError"
	}
}

func asRunError(err error) *RunError {
	if re, ok := err.(*RunError); ok {
		return re
	}
	return newRunError("Internal", CauseInternal, err)
}

func mustMarshalRunError(re *RunError) []byte {
	b, err := marshalRunError(re)
	if err != nil {
		return []byte(re.Error())
	}
	return b
}
