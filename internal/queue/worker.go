package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/converse-ai-platform/internal/chat"
	"github.com/wolfman30/converse-ai-platform/pkg/logging"
)

const (
	defaultWorkers          = 2
	defaultReceiveWait      = 2  // seconds
	defaultReceiveMax       = 5  // messages
	maxReceiveWaitSeconds   = 20 // SQS limit
	maxReceiveBatchMessages = 10
)

type normalizer interface {
	Normalize(ctx context.Context, rawEventID uuid.UUID) error
}

type messageLoader interface {
	GetMessage(ctx context.Context, id uuid.UUID) (chat.Message, error)
}

type attempter interface {
	Attempt(ctx context.Context, msg *chat.Message) error
}

type callClassifier interface {
	ClassifyStored(ctx context.Context, providerCallID string)
}

// Worker polls the queue and routes each job to the pipeline stage that
// owns it: event normalization, outbound send attempts, or call
// classification.
type Worker struct {
	queue      Client
	normalizer normalizer
	messages   messageLoader
	dispatcher attempter
	classifier callClassifier
	logger     *logging.Logger

	cfg workerConfig

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type workerConfig struct {
	workers          int
	receiveWaitSecs  int
	receiveBatchSize int
}

// WorkerOption configures the worker pool.
type WorkerOption func(*workerConfig)

// WithWorkerCount overrides the number of queue polling goroutines.
func WithWorkerCount(workers int) WorkerOption {
	return func(cfg *workerConfig) {
		if workers > 0 {
			cfg.workers = workers
		}
	}
}

// WithReceiveWaitSeconds sets the long-poll wait time for Receive calls.
func WithReceiveWaitSeconds(seconds int) WorkerOption {
	return func(cfg *workerConfig) {
		if seconds < 0 {
			return
		}
		if seconds > maxReceiveWaitSeconds {
			seconds = maxReceiveWaitSeconds
		}
		cfg.receiveWaitSecs = seconds
	}
}

// WithReceiveBatchSize overrides how many messages each poll should return.
func WithReceiveBatchSize(size int) WorkerOption {
	return func(cfg *workerConfig) {
		if size <= 0 {
			return
		}
		if size > maxReceiveBatchMessages {
			size = maxReceiveBatchMessages
		}
		cfg.receiveBatchSize = size
	}
}

// WorkerConfig wires the worker's collaborators. Queue and Normalizer are
// required; the other stages are optional and their jobs are dropped with
// a log line when absent.
type WorkerConfig struct {
	Queue      Client
	Normalizer normalizer
	Messages   messageLoader
	Dispatcher attempter
	Classifier callClassifier
	Logger     *logging.Logger
}

// NewWorker creates a stopped worker pool. Call Start to begin polling.
func NewWorker(cfg WorkerConfig, opts ...WorkerOption) *Worker {
	if cfg.Queue == nil {
		panic("queue: queue cannot be nil")
	}
	if cfg.Normalizer == nil {
		panic("queue: normalizer cannot be nil")
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}

	wcfg := workerConfig{
		workers:          defaultWorkers,
		receiveWaitSecs:  defaultReceiveWait,
		receiveBatchSize: defaultReceiveMax,
	}
	for _, opt := range opts {
		opt(&wcfg)
	}

	return &Worker{
		queue:      cfg.Queue,
		normalizer: cfg.Normalizer,
		messages:   cfg.Messages,
		dispatcher: cfg.Dispatcher,
		classifier: cfg.Classifier,
		logger:     cfg.Logger,
		cfg:        wcfg,
	}
}

// Start launches the polling goroutines.
func (w *Worker) Start() {
	w.ctx, w.cancel = context.WithCancel(context.Background())
	for i := 0; i < w.cfg.workers; i++ {
		w.wg.Add(1)
		go w.run(i + 1)
	}
}

// Shutdown stops the polling goroutines and waits for in-flight jobs.
func (w *Worker) Shutdown(ctx context.Context) error {
	if w.cancel != nil {
		w.cancel()
	}

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

func (w *Worker) run(workerID int) {
	defer w.wg.Done()
	w.logger.Debug("queue worker started", "worker_id", workerID)

	backoff := time.Second

	for {
		select {
		case <-w.ctx.Done():
			w.logger.Debug("queue worker stopping", "worker_id", workerID)
			return
		default:
		}

		messages, err := w.queue.Receive(w.ctx, w.cfg.receiveBatchSize, w.cfg.receiveWaitSecs)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			w.logger.Error("failed to receive jobs", "error", err, "worker_id", workerID)
			time.Sleep(backoff)
			if backoff < 5*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		for _, msg := range messages {
			w.handle(msg)
		}
	}
}

func (w *Worker) handle(msg Message) {
	var payload jobPayload
	if err := json.Unmarshal([]byte(msg.Body), &payload); err != nil {
		w.logger.Error("failed to decode job, dropping", "error", err)
		w.delete(msg)
		return
	}

	if err := w.process(w.ctx, payload); err != nil {
		// Leave the message for redelivery.
		w.logger.Error("job failed", "job_id", payload.ID, "kind", payload.Kind, "error", err)
		return
	}
	w.delete(msg)
}

func (w *Worker) process(ctx context.Context, payload jobPayload) error {
	switch payload.Kind {
	case kindNormalizeEvent:
		return w.normalizer.Normalize(ctx, payload.RawEventID)
	case kindDispatchMessage:
		if w.messages == nil || w.dispatcher == nil {
			w.logger.Warn("dispatch job received without a dispatcher, dropping", "job_id", payload.ID)
			return nil
		}
		msg, err := w.messages.GetMessage(ctx, payload.MessageID)
		if err != nil {
			return err
		}
		// A failed attempt is already recorded on the message row with its
		// retry schedule, so the job itself is done either way.
		if err := w.dispatcher.Attempt(ctx, &msg); err != nil {
			w.logger.Warn("send attempt failed", "message_id", payload.MessageID, "error", err)
		}
		return nil
	case kindClassifyCall:
		if w.classifier == nil {
			w.logger.Warn("classify job received without a classifier, dropping", "job_id", payload.ID)
			return nil
		}
		w.classifier.ClassifyStored(ctx, payload.ProviderCallID)
		return nil
	default:
		return fmt.Errorf("queue: unknown job kind %q", payload.Kind)
	}
}

func (w *Worker) delete(msg Message) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := w.queue.Delete(ctx, msg.ReceiptHandle); err != nil {
		w.logger.Error("failed to delete job", "error", err)
	}
}
