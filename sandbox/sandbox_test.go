package sandbox

import (
	"bytes"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestHandle wires a Handle directly to a pair of in-process pipes,
// bypassing Build/docker, so ReadPipes' framing and cap logic can be
// exercised without a container engine.
func newTestHandle(t *testing.T) (h *Handle, stdoutW, stderrW *os.File) {
	t.Helper()

	stdoutR, stdoutW, err := os.Pipe()
	require.NoError(t, err)
	stderrR, stderrW, err := os.Pipe()
	require.NoError(t, err)

	require.NoError(t, setNonBlocking(stdoutR))
	require.NoError(t, setNonBlocking(stderrR))

	h = &Handle{
		stdout:   stdoutR,
		stderr:   stderrR,
		waitDone: make(chan struct{}),
	}
	t.Cleanup(func() {
		_ = stdoutR.Close()
		_ = stderrR.Close()
		_ = stdoutW.Close()
		_ = stderrW.Close()
	})
	return h, stdoutW, stderrW
}

func TestReadPipes_DrainsAvailableBytes(t *testing.T) {
	h, stdoutW, _ := newTestHandle(t)

	_, err := stdoutW.WriteString("hello from sandbox")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		err := h.ReadPipes()
		return err == nil && bytes.Contains(h.Output(), []byte("hello from sandbox"))
	}, time.Second, 10*time.Millisecond)
}

func TestReadPipes_WouldBlockIsNotAnError(t *testing.T) {
	h, _, _ := newTestHandle(t)

	err := h.ReadPipes()
	assert.NoError(t, err)
	assert.Empty(t, h.Output())
}

func TestReadPipes_OutputLimitReached(t *testing.T) {
	h, stdoutW, _ := newTestHandle(t)

	// Fabricate an output buffer already at the cap instead of writing
	// 1 MiB through the pipe, to keep the test fast.
	h.output.Write(bytes.Repeat([]byte("x"), OutputLimit))

	err := h.ReadPipes()
	assert.ErrorIs(t, err, ErrOutputLimitReached)

	_ = stdoutW.Close()
}

func TestCauseOf(t *testing.T) {
	assert.Equal(t, CauseUser, CauseOf(ErrOutOfMemory))
	assert.Equal(t, CauseUser, CauseOf(ErrCrashed))
	assert.Equal(t, CauseUser, CauseOf(ErrTimeOut))
	assert.Equal(t, CauseUser, CauseOf(ErrOutputLimitReached))
	assert.Equal(t, CauseInternal, CauseOf(os.ErrClosed))
}
