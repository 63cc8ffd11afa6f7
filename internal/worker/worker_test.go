// Package worker_test tests the NATS worker for the talking-head service.
package worker_test

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/book-expert/events"
	"github.com/book-expert/logger"
	"github.com/book-expert/talkinghead-service/internal/core"
	"github.com/book-expert/talkinghead-service/internal/worker"
	"github.com/google/uuid"
	"github.com/nats-io/nats-server/v2/test"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSubject = "test.talkinghead.jobs"

// mockHandler is a mock implementation of the JobHandler interface.
type mockHandler struct {
	mu       sync.Mutex
	result   core.Result
	received []core.JobInput
}

func (m *mockHandler) Handle(_ context.Context, input core.JobInput) core.Result {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.received = append(m.received, input)

	return m.result
}

func (m *mockHandler) inputs() []core.JobInput {
	m.mu.Lock()
	defer m.mu.Unlock()

	return append([]core.JobInput(nil), m.received...)
}

func createTestNatsClient(t *testing.T) *nats.Conn {
	t.Helper()

	opts := test.DefaultTestOptions
	opts.Port = -1
	server := test.RunServer(&opts)

	natsConnection, err := nats.Connect(server.ClientURL())
	if err != nil {
		t.Fatalf("Failed to connect to test NATS server: %v", err)
	}

	t.Cleanup(func() {
		natsConnection.Close()
		server.Shutdown()
	})

	return natsConnection
}

// slowHandler blocks each job until release is closed or the job context ends.
type slowHandler struct {
	started  chan struct{}
	release  chan struct{}
	finished atomic.Bool
	ctxErr   atomic.Value
}

func newSlowHandler() *slowHandler {
	return &slowHandler{started: make(chan struct{}, 1), release: make(chan struct{})}
}

func (s *slowHandler) Handle(ctx context.Context, _ core.JobInput) core.Result {
	s.started <- struct{}{}

	select {
	case <-s.release:
	case <-ctx.Done():
		s.ctxErr.Store(ctx.Err())
	}

	s.finished.Store(true)

	return core.Result{VideoURL: "https://cdn.example.com/videos/slow.mp4"}
}

type runningWorker struct {
	conn    *nats.Conn
	cancel  context.CancelFunc
	errChan chan error
}

func launchWorker(t *testing.T, handler worker.JobHandler, shutdownGrace time.Duration) *runningWorker {
	t.Helper()

	natsConnection := createTestNatsClient(t)

	testLogger, err := logger.New(t.TempDir(), "worker-test.log")
	require.NoError(t, err)

	workerInstance, err := worker.NewNatsWorker(
		natsConnection, testSubject, "test-workers", handler, 5*time.Second, shutdownGrace, testLogger,
	)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errChan := make(chan error, 1)

	go func() {
		errChan <- workerInstance.Run(ctx)
	}()

	// Make sure the subscription is registered before the test publishes.
	require.Eventually(t, func() bool {
		return natsConnection.NumSubscriptions() > 0
	}, 2*time.Second, 10*time.Millisecond)

	return &runningWorker{conn: natsConnection, cancel: cancel, errChan: errChan}
}

func startWorker(t *testing.T, handler worker.JobHandler) *nats.Conn {
	t.Helper()

	running := launchWorker(t, handler, time.Minute)

	t.Cleanup(func() {
		running.cancel()
		assert.NoError(t, <-running.errChan, "worker.Run should not error on graceful shutdown")
	})

	return running.conn
}

func request(t *testing.T, natsConnection *nats.Conn, payload []byte) core.JobReply {
	t.Helper()

	replyMsg, err := natsConnection.Request(testSubject, payload, 5*time.Second)
	require.NoError(t, err, "Request should succeed and receive a reply")

	var reply core.JobReply
	require.NoError(t, json.Unmarshal(replyMsg.Data, &reply))

	return reply
}

func TestNewNatsWorker_NilHandler(t *testing.T) {
	t.Parallel()

	_, err := worker.NewNatsWorker(nil, testSubject, "", nil, 0, 0, nil)
	require.ErrorIs(t, err, worker.ErrHandlerNil)
}

func TestMessageHandler_Success(t *testing.T) {
	t.Parallel()

	handler := &mockHandler{result: core.Result{VideoURL: "https://cdn.example.com/videos/a.mp4"}}
	natsConnection := startWorker(t, handler)

	jobRequest := core.JobRequest{
		ID: "job-1",
		Header: events.EventHeader{
			Timestamp:  time.Now(),
			WorkflowID: uuid.NewString(),
			EventID:    uuid.NewString(),
			UserID:     "",
			TenantID:   "",
		},
		Input: core.JobInput{
			ImageURL: "https://assets.example.com/face.png",
			AudioURL: "https://assets.example.com/voice.wav",
			Emotion:  "happy",
			Crop:     true,
		},
	}
	payload, err := json.Marshal(jobRequest)
	require.NoError(t, err)

	reply := request(t, natsConnection, payload)

	assert.Equal(t, "job-1", reply.ID)
	assert.Equal(t, core.StatusCompleted, reply.Status)
	assert.Equal(t, "https://cdn.example.com/videos/a.mp4", reply.Output.VideoURL)
	assert.Equal(t, jobRequest.Header.WorkflowID, reply.Header.WorkflowID)

	received := handler.inputs()
	require.Len(t, received, 1)
	assert.Equal(t, jobRequest.Input, received[0])
}

func TestMessageHandler_FailedJob(t *testing.T) {
	t.Parallel()

	handler := &mockHandler{result: core.ErrorResult("Missing image_url or audio_url in input")}
	natsConnection := startWorker(t, handler)

	reply := request(t, natsConnection, []byte(`{"input": {}}`))

	assert.Equal(t, core.StatusFailed, reply.Status)
	assert.Equal(t, "Missing image_url or audio_url in input", reply.Output.Error)
	assert.NotEmpty(t, reply.ID, "a job id is generated when absent")
}

func TestMessageHandler_MalformedRequest(t *testing.T) {
	t.Parallel()

	handler := &mockHandler{}
	natsConnection := startWorker(t, handler)

	reply := request(t, natsConnection, []byte("not json"))

	assert.Equal(t, core.StatusFailed, reply.Status)
	assert.Contains(t, reply.Output.Error, "Invalid job request")
	assert.Empty(t, handler.inputs(), "malformed requests never reach the handler")
}

func TestRun_ShutdownWaitsForInFlightJob(t *testing.T) {
	t.Parallel()

	handler := newSlowHandler()
	running := launchWorker(t, handler, time.Minute)

	replies := make(chan *nats.Msg, 1)
	go func() {
		msg, err := running.conn.Request(testSubject, []byte(`{"id":"slow-1","input":{}}`), 5*time.Second)
		if err == nil {
			replies <- msg
		}
	}()

	<-handler.started
	running.cancel()

	select {
	case err := <-running.errChan:
		t.Fatalf("Run returned while a job was still running: %v", err)
	case <-time.After(200 * time.Millisecond):
	}

	close(handler.release)

	select {
	case err := <-running.errChan:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after the in-flight job finished")
	}

	assert.True(t, handler.finished.Load(), "the job must finish before Run returns")
	assert.Nil(t, handler.ctxErr.Load(), "the job context must survive shutdown within the grace period")

	select {
	case msg := <-replies:
		var reply core.JobReply
		require.NoError(t, json.Unmarshal(msg.Data, &reply))
		assert.Equal(t, "slow-1", reply.ID)
		assert.Equal(t, core.StatusCompleted, reply.Status)
	case <-time.After(5 * time.Second):
		t.Fatal("the in-flight job's reply was lost")
	}
}

func TestRun_ShutdownGraceCancelsJob(t *testing.T) {
	t.Parallel()

	handler := newSlowHandler()
	running := launchWorker(t, handler, 100*time.Millisecond)

	go func() {
		_, _ = running.conn.Request(testSubject, []byte(`{"id":"stuck-1","input":{}}`), 5*time.Second)
	}()

	<-handler.started
	running.cancel()

	select {
	case err := <-running.errChan:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after the shutdown grace period")
	}

	assert.True(t, handler.finished.Load())
	ctxErr, ok := handler.ctxErr.Load().(error)
	require.True(t, ok, "the job context must be cancelled once the grace period expires")
	assert.ErrorIs(t, ctxErr, context.Canceled)
}
