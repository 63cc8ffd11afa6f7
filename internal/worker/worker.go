// Package worker provides a NATS worker that processes talking-head jobs.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/talkinghead-service/internal/core"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

// ErrHandlerNil indicates that no job handler was supplied.
var ErrHandlerNil = errors.New("job handler cannot be nil")

const drainPollInterval = 50 * time.Millisecond

// JobHandler runs one job and always produces a result.
type JobHandler interface {
	Handle(ctx context.Context, input core.JobInput) core.Result
}

// NatsWorker listens for job requests on a NATS subject and replies with the result.
// The subscription delivers messages one at a time, so jobs on a worker never overlap.
type NatsWorker struct {
	natsConnection *nats.Conn
	subject        string
	queueGroup     string
	handler        JobHandler
	jobTimeout     time.Duration
	shutdownGrace  time.Duration
	log            *logger.Logger

	jobsCtx  context.Context
	inFlight sync.WaitGroup
}

// NewNatsWorker creates a new instance of a NATS worker.
// Workers sharing queueGroup split the subject's messages between them.
// On shutdown, jobs still running after shutdownGrace have their context cancelled.
func NewNatsWorker(
	natsConnection *nats.Conn,
	subject string,
	queueGroup string,
	handler JobHandler,
	jobTimeout time.Duration,
	shutdownGrace time.Duration,
	log *logger.Logger,
) (*NatsWorker, error) {
	if handler == nil {
		return nil, ErrHandlerNil
	}

	return &NatsWorker{
		natsConnection: natsConnection,
		subject:        subject,
		queueGroup:     queueGroup,
		handler:        handler,
		jobTimeout:     jobTimeout,
		shutdownGrace:  shutdownGrace,
		log:            log,
		jobsCtx:        context.Background(),
	}, nil
}

// Run starts the worker and blocks until ctx is cancelled.
// It returns only after the subscription is drained and every in-flight job has finished.
func (w *NatsWorker) Run(ctx context.Context) error {
	jobsCtx, cancelJobs := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelJobs()

	w.jobsCtx = jobsCtx

	sub, err := w.natsConnection.QueueSubscribe(w.subject, w.queueGroup, w.handleMessage)
	if err != nil {
		return fmt.Errorf("failed to subscribe to subject %s: %w", w.subject, err)
	}

	w.log.System("Listening for jobs on subject: %s (queue group %q)", w.subject, w.queueGroup)

	<-ctx.Done()

	w.log.System("Shutdown requested; draining subscription on %s", w.subject)

	drainErr := sub.Drain()
	w.awaitJobs(sub, cancelJobs)

	if drainErr != nil {
		return fmt.Errorf("failed to drain subscription: %w", drainErr)
	}

	return nil
}

// awaitJobs blocks until the drained subscription has delivered its last message
// and the handler has returned. Jobs outliving the grace period are cancelled.
func (w *NatsWorker) awaitJobs(sub *nats.Subscription, cancelJobs context.CancelFunc) {
	var graceExpired <-chan time.Time

	if w.shutdownGrace > 0 {
		grace := time.NewTimer(w.shutdownGrace)
		defer grace.Stop()

		graceExpired = grace.C
	}

	ticker := time.NewTicker(drainPollInterval)
	defer ticker.Stop()

	for sub.IsValid() && !w.natsConnection.IsClosed() {
		select {
		case <-graceExpired:
			w.log.Warn("In-flight jobs exceeded the %s shutdown grace period; cancelling them", w.shutdownGrace)
			cancelJobs()

			graceExpired = nil
		case <-ticker.C:
		}
	}

	w.inFlight.Wait()
}

func (w *NatsWorker) handleMessage(msg *nats.Msg) {
	w.inFlight.Add(1)
	defer w.inFlight.Done()

	request, err := parseRequest(msg)
	if err != nil {
		w.log.Error("Failed to parse job request: %v", err)
		w.reply(msg, &core.JobReply{
			Status: core.StatusFailed,
			Output: core.ErrorResult(fmt.Sprintf("Invalid job request: %v", err)),
		})

		return
	}

	ctx, cancel := w.jobContext()
	defer cancel()

	started := time.Now()

	w.log.Info("Job %s started", request.ID)

	result := w.handler.Handle(ctx, request.Input)

	w.log.Info("Job %s finished with status %s in %s", request.ID, result.Status(), time.Since(started).Round(time.Millisecond))

	w.reply(msg, &core.JobReply{
		ID:     request.ID,
		Header: request.Header,
		Status: result.Status(),
		Output: result,
	})
}

func (w *NatsWorker) jobContext() (context.Context, context.CancelFunc) {
	if w.jobTimeout <= 0 {
		return context.WithCancel(w.jobsCtx)
	}

	return context.WithTimeout(w.jobsCtx, w.jobTimeout)
}

// reply marshals and responds with the job reply.
func (w *NatsWorker) reply(msg *nats.Msg, jobReply *core.JobReply) {
	if msg.Reply == "" {
		w.log.Warn("Job %s has no reply subject; result dropped", jobReply.ID)

		return
	}

	replyData, err := json.Marshal(jobReply)
	if err != nil {
		w.log.Error("Failed to marshal reply for job %s: %v", jobReply.ID, err)

		return
	}

	err = msg.Respond(replyData)
	if err != nil {
		w.log.Error("Failed to publish reply for job %s: %v", jobReply.ID, err)
	}
}

func parseRequest(msg *nats.Msg) (*core.JobRequest, error) {
	var request core.JobRequest

	err := json.Unmarshal(msg.Data, &request)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal job request: %w", err)
	}

	if request.ID == "" {
		request.ID = uuid.NewString()
	}

	return &request, nil
}
