// Package sandbox launches untrusted experiment code in an external
// container engine (Docker), enforcing CPU, memory and output caps, and
// exposes non-blocking reads of its combined stdout/stderr so a caller's
// event loop is never stalled waiting on the child.
package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"
)

const (
	pythonVersion = "3.9"
	alpineVersion = "3.13"

	memoryLimit = "512m"
	cpuLimit    = "1"

	// OutputLimit caps the combined stdout+stderr bytes retained per
	// Handle, counted pre-decoding.
	OutputLimit = 1 * 1024 * 1024

	readChunk = 1024

	receiverPort = "8011"
)

// BuildConfig describes a container invocation.
type BuildConfig struct {
	DockerPath   string
	ScriptDir    string
	PythonLibDir string
	Argv         []string
	Name         string
	Devices      []string
}

// Handle is a running (or exited) sandboxed process.
type Handle struct {
	cmd        *exec.Cmd
	stdout     *os.File
	stderr     *os.File
	output     bytes.Buffer
	dockerPath string
	name       string

	waitOnce   sync.Once
	waitDone   chan struct{}
	waitResult *os.ProcessState
}

// Build starts `docker run` with the caller's script and library directories
// bound in read-only, the receiver IPC port mapped, resource limits applied,
// and any serial devices attached. The returned Handle's stdout/stderr pipes
// are configured for non-blocking reads.
func Build(ctx context.Context, cfg BuildConfig) (*Handle, error) {
	name := cfg.Name
	if name == "" {
		name = "testbed-container"
	}
	// Suffix with a fresh id so a container from an aborted or just-killed
	// prior run can never collide with this one under docker's "--name".
	name = name + "-" + uuid.NewString()

	args := []string{
		"run", "--rm",
		"-e", "PYTHONUNBUFFERED=1",
		"-e", "PYTHONDONTWRITEBYTECODE=1",
		"-p", receiverPort + ":" + receiverPort,
		"--memory-swap", "-1",
		"--memory", memoryLimit,
		"--cpus", cpuLimit,
		"--mount", fmt.Sprintf("type=bind,source=%s,target=/usr/local/lib/python%s/site-packages/,readonly", cfg.PythonLibDir, pythonVersion),
		"--mount", fmt.Sprintf("type=bind,source=%s,target=/usr/local/scripts/,readonly", cfg.ScriptDir),
	}
	for _, dev := range cfg.Devices {
		args = append(args, fmt.Sprintf("--device=%s", dev))
	}
	args = append(args, "--name", name)
	args = append(args, fmt.Sprintf("python:%s-alpine%s", pythonVersion, alpineVersion))
	args = append(args, cfg.Argv...)

	cmd := exec.CommandContext(ctx, cfg.DockerPath, args...)

	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("sandbox: stdout pipe: %w", err)
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("sandbox: stderr pipe: %w", err)
	}

	stdout, ok := stdoutPipe.(*os.File)
	if !ok {
		return nil, fmt.Errorf("sandbox: stdout pipe is not a file")
	}
	stderr, ok := stderrPipe.(*os.File)
	if !ok {
		return nil, fmt.Errorf("sandbox: stderr pipe is not a file")
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("sandbox: spawning child: %w", err)
	}

	if err := setNonBlocking(stdout); err != nil {
		return nil, fmt.Errorf("sandbox: setting stdout to non blocking: %w", err)
	}
	if err := setNonBlocking(stderr); err != nil {
		return nil, fmt.Errorf("sandbox: setting stderr to non blocking: %w", err)
	}

	h := &Handle{
		cmd:        cmd,
		stdout:     stdout,
		stderr:     stderr,
		dockerPath: cfg.DockerPath,
		name:       name,
		waitDone:   make(chan struct{}),
	}
	h.startWaiter()
	return h, nil
}

// startWaiter spawns the single goroutine allowed to call cmd.Wait; every
// other observer (IsTerminated, the polling loop in wait) only ever reads
// from waitDone, since os/exec forbids calling Wait more than once.
func (h *Handle) startWaiter() {
	h.waitOnce.Do(func() {
		go func() {
			_ = h.cmd.Wait()
			h.waitResult = h.cmd.ProcessState
			close(h.waitDone)
		}()
	})
}

// Output returns the bytes accumulated so far.
func (h *Handle) Output() []byte {
	return h.output.Bytes()
}

// ReadPipes drains everything currently available on stdout and stderr,
// using readChunk-sized non-blocking reads, into the handle's output
// buffer. It returns ErrOutputLimitReached once the buffer hits
// OutputLimit; a read that would block is treated as a successful,
// empty read.
func (h *Handle) ReadPipes() error {
	if err := h.readInto(h.stdout); err != nil {
		return err
	}
	if err := h.readInto(h.stderr); err != nil {
		return err
	}
	if h.output.Len() >= OutputLimit {
		return ErrOutputLimitReached
	}
	return nil
}

func (h *Handle) readInto(f *os.File) error {
	buf := make([]byte, readChunk)

	for {
		remaining := OutputLimit - h.output.Len()
		if remaining <= 0 {
			return nil
		}
		want := len(buf)
		if remaining < want {
			want = remaining
		}

		n, wouldBlock, err := nonblockingRead(f, buf[:want])
		if n > 0 {
			h.output.Write(buf[:n])
		}
		if wouldBlock {
			return nil
		}
		if err != nil {
			return fmt.Errorf("sandbox: reading from src: %w", err)
		}
		if n == 0 {
			return nil
		}
	}
}

// Wait polls the process and its pipes once per second for up to timeout.
// On success it returns the accumulated output. On OutOfMemory or Crashed
// the process has already exited and is not killed again; any other
// failure (including TimeOut) kills the process before returning.
func (h *Handle) Wait(timeout time.Duration) ([]byte, error) {
	err := h.wait(timeout)
	if err == nil {
		return h.output.Bytes(), nil
	}

	switch err {
	case ErrOutOfMemory, ErrCrashed:
		// process already exited, nothing to clean up
	default:
		if killErr := h.Kill(); killErr != nil {
			return h.output.Bytes(), killErr
		}
	}
	return h.output.Bytes(), err
}

func (h *Handle) wait(timeout time.Duration) error {
	ticks := int(timeout / time.Second)
	if ticks < 1 {
		ticks = 1
	}

	for i := 0; i < ticks; i++ {
		if err := h.ReadPipes(); err != nil {
			return err
		}

		select {
		case <-h.waitDone:
			if h.waitResult != nil && h.waitResult.ExitCode() == 137 {
				return ErrOutOfMemory
			}
			if h.waitResult != nil && !h.waitResult.Success() {
				return ErrCrashed
			}
			return nil
		default:
		}

		time.Sleep(time.Second)
	}

	return ErrTimeOut
}

// Kill sends a process-level kill, then asks the container engine to kill
// the container by name (idempotent if it already exited), then reaps the
// child's exit status so it never becomes a zombie.
func (h *Handle) Kill() error {
	if h.cmd.Process != nil {
		_ = h.cmd.Process.Kill()
	}

	killCmd := exec.Command(h.dockerPath, "kill", h.name)
	_ = killCmd.Run() // best-effort; container may already be gone

	<-h.waitDone // reap, guaranteed to return since Process.Kill was sent
	return nil
}

// IsTerminated reports whether the process has exited, without blocking.
func (h *Handle) IsTerminated() bool {
	select {
	case <-h.waitDone:
		return true
	default:
		return false
	}
}

func setNonBlocking(f *os.File) error {
	return unix.SetNonblock(int(f.Fd()), true)
}

// nonblockingRead performs a raw, non-blocking read on f's file descriptor,
// bypassing os.File's runtime-poller-integrated Read (which would otherwise
// park the calling goroutine until data arrives instead of returning
// immediately). wouldBlock is true when the syscall reports EAGAIN, which
// callers treat as a successful, empty read.
func nonblockingRead(f *os.File, buf []byte) (n int, wouldBlock bool, err error) {
	raw, err := f.SyscallConn()
	if err != nil {
		return 0, false, err
	}

	var sysErr error
	ctrlErr := raw.Read(func(fd uintptr) bool {
		n, sysErr = unix.Read(int(fd), buf)
		return true
	})
	if ctrlErr != nil {
		return 0, false, ctrlErr
	}

	switch sysErr {
	case nil:
		return n, false, nil
	case unix.EAGAIN:
		return 0, true, nil
	default:
		return 0, false, sysErr
	}
}
