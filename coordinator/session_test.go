package coordinator_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hwrig/testbed/coordinator"
	"github.com/hwrig/testbed/wire"
)

var sessionUpgrader = websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}

// newControllerEndpoint starts an httptest server that upgrades every
// connection and hands the *websocket.Conn to onConn on its own goroutine.
func newControllerEndpoint(t *testing.T, onConn func(*websocket.Conn)) (*httptest.Server, *websocket.Conn) {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		wsConn, err := sessionUpgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		go onConn(wsConn)
	}))

	url := "ws" + server.URL[len("http"):]
	clientConn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	return server, clientConn
}

func TestSession_ForwardsRunResultAndReceiverStatus(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	store.addJob(coordinator.Job{ID: 1, ControllerID: 7, Status: coordinator.JobRunning})
	d := newDispatcherUnderTest(t, store, &fakeNotifier{})

	ready := make(chan *websocket.Conn, 1)
	server, clientConn := newControllerEndpoint(t, func(serverConn *websocket.Conn) {
		session := coordinator.NewSession(7, serverConn, d, nil)
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		session.Started(ctx, coordinator.Running(1))
		ready <- serverConn
		_ = session.Serve(ctx)
		session.Stopped()
	})
	defer server.Close()
	defer clientConn.Close()

	select {
	case <-ready:
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for session to start")
	}

	resultFrame, err := wire.Encode(wire.KindRunResult, wire.RunResult{JobID: 1, Successful: true})
	require.NoError(t, err)
	require.NoError(t, clientConn.WriteMessage(websocket.TextMessage, resultFrame))

	assert.Eventually(t, func() bool { return store.status(1) == coordinator.JobSuccessful }, time.Second, 5*time.Millisecond)

	statusFrame, err := wire.Encode(wire.KindReceiverStatus, wire.ReceiverStatus{Values: []uint32{4, 5}})
	require.NoError(t, err)
	require.NoError(t, clientConn.WriteMessage(websocket.TextMessage, statusFrame))

	assert.Eventually(t, func() bool {
		values, err := d.ReceiverValues(context.Background(), 7)
		return err == nil && len(values) == 2
	}, time.Second, 5*time.Millisecond)
}

func TestSession_SendRunExperimentReachesController(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	store.addJob(coordinator.Job{ID: 2, ControllerID: 8, Code: "print(2)", Status: coordinator.JobPending})
	d := newDispatcherUnderTest(t, store, &fakeNotifier{})

	started := make(chan struct{})
	server, clientConn := newControllerEndpoint(t, func(serverConn *websocket.Conn) {
		session := coordinator.NewSession(8, serverConn, d, nil)
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		session.Started(ctx, coordinator.IdleState)
		close(started)
		_ = session.Serve(ctx)
		session.Stopped()
	})
	defer server.Close()
	defer clientConn.Close()

	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for session to start")
	}

	require.NoError(t, d.Run(context.Background(), coordinator.RunExperimentRequest{
		ControllerID: 8, JobID: 2, Code: "print(2)",
	}))

	_, data, err := clientConn.ReadMessage()
	require.NoError(t, err)
	env, err := wire.Decode(data)
	require.NoError(t, err)
	assert.Equal(t, wire.KindRunExperiment, env.Kind)
	msg, err := wire.DecodeRunExperiment(env)
	require.NoError(t, err)
	assert.Equal(t, int64(2), msg.JobID)
	assert.Equal(t, "print(2)", msg.Code)
}
