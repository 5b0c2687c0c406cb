package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pbrresearch/datalogger/internal/forwarder"
	"github.com/pbrresearch/datalogger/internal/infrastructure/config"
	"github.com/pbrresearch/datalogger/internal/infrastructure/logging"
	"github.com/pbrresearch/datalogger/internal/infrastructure/metrics"
	"github.com/pbrresearch/datalogger/internal/infrastructure/mqtt"
	"github.com/pbrresearch/datalogger/internal/queue"
	"github.com/pbrresearch/datalogger/internal/reading"
)

// depthSampleInterval is how often queue depth is reported to metrics.
const depthSampleInterval = 30 * time.Second

// Store is the durable queue surface the coordinator drives.
// *queue.Queue satisfies it.
type Store interface {
	Enqueue(ctx context.Context, r reading.Reading) (int64, error)
	Recover(ctx context.Context) (int64, error)
	PeekBatch(ctx context.Context, maxSize int) (queue.Batch, error)
	MarkDelivered(ctx context.Context, seqs []int64) error
	MarkFailed(ctx context.Context, seqs []int64, reason string) error
	Release(ctx context.Context, seqs []int64) error
	GetStats(ctx context.Context) (queue.Stats, error)
}

// Sender submits one batch to the collector. *forwarder.Forwarder
// satisfies it.
type Sender interface {
	Send(ctx context.Context, batch queue.Batch) error
}

// Coordinator wires the stages of the relay together: MQTT intake,
// decoding, durable queueing, and batched forwarding.
//
// The acknowledgment contract is the core of the design. Each received
// message's ack is held in memory keyed by the queue sequence the
// decoded reading was stored under, and is released only when that
// sequence is delivered to the collector or terminally dead-lettered.
// Acks lost to a restart are harmless: the broker redelivers the
// message and the reading is enqueued again (at-least-once).
//
// Thread Safety:
//   - Intake is safe to call from the MQTT handler goroutine while
//     workers run. Start and Stop must not be called concurrently.
type Coordinator struct {
	store   Store
	sender  Sender
	log     *logging.Logger
	metrics *metrics.Client

	source        string
	batchSize     int
	flushInterval time.Duration
	maxAttempts   int
	workers       int
	retryInitial  time.Duration
	retryMax      time.Duration

	inbound chan mqtt.Message
	kick    chan struct{}

	// sinceFlush counts enqueues since the last early-flush kick.
	sinceFlush atomic.Int64

	// acks maps queue sequence to the MQTT ack releasing that message.
	acks  map[int64]func()
	ackMu sync.Mutex

	runCtx context.Context
	cancel context.CancelFunc
	ctxMu  sync.RWMutex
	wg     sync.WaitGroup
}

// New creates a coordinator from configuration.
//
// Parameters:
//   - cfg: Pipeline settings (batch size, flush interval, attempts,
//     workers, retry pacing)
//   - store: The durable queue
//   - sender: The collector forwarder
//   - log: Structured logger
//   - m: Metrics client, nil when metrics are disabled
func New(cfg *config.Config, store Store, sender Sender, log *logging.Logger, m *metrics.Client) *Coordinator {
	return &Coordinator{
		store:         store,
		sender:        sender,
		log:           log,
		metrics:       m,
		source:        cfg.Service.Name,
		batchSize:     cfg.Queue.Batch.Size,
		flushInterval: cfg.BatchFlushInterval(),
		maxAttempts:   cfg.Queue.MaxAttempts,
		workers:       cfg.Queue.Workers,
		retryInitial:  time.Duration(cfg.Collector.Retry.InitialBackoff) * time.Second,
		retryMax:      time.Duration(cfg.Collector.Retry.MaxBackoff) * time.Second,
		inbound:       make(chan mqtt.Message, cfg.Queue.BufferSize),
		kick:          make(chan struct{}, 1),
		acks:          make(map[int64]func()),
	}
}

// Start recovers interrupted work and launches the pipeline goroutines.
//
// It resets records stranded in flight by a previous crash, then starts
// the ingest loop, the forwarding workers, and (when metrics are
// enabled) the queue depth sampler. Start returns immediately; use Stop
// for shutdown.
func (c *Coordinator) Start(ctx context.Context) error {
	recovered, err := c.store.Recover(ctx)
	if err != nil {
		return fmt.Errorf("recovering in-flight records: %w", err)
	}
	if recovered > 0 {
		c.log.Info("recovered interrupted records", "count", recovered)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	c.ctxMu.Lock()
	c.runCtx = runCtx
	c.cancel = cancel
	c.ctxMu.Unlock()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.ingest(runCtx)
	}()

	for i := 0; i < c.workers; i++ {
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			c.forwardLoop(runCtx)
		}()
	}

	if c.metrics != nil {
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			c.sampleDepth(runCtx)
		}()
	}

	c.log.Info("pipeline started",
		"workers", c.workers,
		"batch_size", c.batchSize,
		"flush_interval", c.flushInterval,
	)
	return nil
}

// Stop shuts the pipeline down and waits for goroutines to exit.
//
// In-flight batches finish their current attempt; everything still
// queued stays durable and unacked messages are redelivered by the
// broker on the next start.
func (c *Coordinator) Stop() {
	c.ctxMu.RLock()
	cancel := c.cancel
	c.ctxMu.RUnlock()

	if cancel == nil {
		return
	}
	cancel()
	c.wg.Wait()
	c.log.Info("pipeline stopped")
}

// Intake accepts one MQTT message into the pipeline.
//
// Designed to be passed to mqtt.Subscribe. It blocks while the bounded
// inbound buffer is full; with in-order handler dispatch that stalls
// the broker session, which is the backpressure path. The message is
// never acked here.
func (c *Coordinator) Intake(msg mqtt.Message) error {
	c.ctxMu.RLock()
	runCtx := c.runCtx
	c.ctxMu.RUnlock()

	if runCtx == nil {
		return ErrNotStarted
	}

	// Checked first: with buffer space free the select below could
	// otherwise accept a message after shutdown.
	select {
	case <-runCtx.Done():
		return ErrStopped
	default:
	}

	select {
	case c.inbound <- msg:
		return nil
	case <-runCtx.Done():
		return ErrStopped
	}
}

// ingest decodes and durably stores incoming messages.
func (c *Coordinator) ingest(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-c.inbound:
			c.handleMessage(ctx, msg)
		}
	}
}

// handleMessage runs one message through decode and enqueue.
//
// Ack discipline:
//   - Decode failure: ack and drop. The payload is poison; redelivery
//     can never succeed and would wedge the subscription.
//   - Enqueue failure: leave unacked. The broker redelivers and the
//     reading gets another chance once the queue recovers.
//   - Enqueued: park the ack under the assigned sequence.
func (c *Coordinator) handleMessage(ctx context.Context, msg mqtt.Message) {
	r, err := reading.Decode(msg.Topic, msg.Payload)
	if err != nil {
		c.log.Warn("dropping unparseable payload",
			"topic", msg.Topic,
			"error", err,
		)
		c.metrics.WriteDecodeError(c.source, msg.Topic)
		msg.Ack()
		return
	}

	// Payloads without their own timestamp are stamped with receipt time.
	if r.Timestamp.IsZero() {
		r.Timestamp = time.Now().UTC()
	}

	seq, err := c.store.Enqueue(ctx, r)
	if err != nil {
		if errors.Is(err, queue.ErrEmptyReading) {
			c.log.Warn("dropping reading with no fields", "topic", msg.Topic)
			msg.Ack()
			return
		}
		c.log.Error("enqueue failed, leaving message unacked",
			"topic", msg.Topic,
			"error", err,
		)
		return
	}

	c.registerAck(seq, msg.Ack)

	if c.sinceFlush.Add(1) >= int64(c.batchSize) {
		c.sinceFlush.Store(0)
		select {
		case c.kick <- struct{}{}:
		default:
		}
	}
}

// forwardLoop drains the queue on flush ticks and early-flush kicks.
func (c *Coordinator) forwardLoop(ctx context.Context) {
	backoff := &forwarder.Backoff{
		Initial: c.retryInitial,
		Max:     c.retryMax,
	}

	ticker := time.NewTicker(c.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-c.kick:
		}
		c.drain(ctx, backoff)
	}
}

// drain forwards batches until the queue is exhausted or a transient
// failure tells the worker to back off.
func (c *Coordinator) drain(ctx context.Context, backoff *forwarder.Backoff) {
	for {
		batch, err := c.store.PeekBatch(ctx, c.batchSize)
		if err != nil {
			c.log.Error("selecting batch failed", "error", err)
			return
		}
		if batch.Empty() {
			return
		}

		start := time.Now()
		sendErr := c.sender.Send(ctx, batch)

		switch {
		case sendErr == nil:
			c.completeDelivered(ctx, batch, time.Since(start))
			backoff.Reset()
			if len(batch.Records) < c.batchSize {
				return
			}

		case errors.Is(sendErr, forwarder.ErrPermanent):
			c.completeRejected(ctx, batch, sendErr)
			backoff.Reset()

		default:
			c.handleTransient(ctx, batch, sendErr)
			if !c.sleep(ctx, backoff.Next()) {
				return
			}
			return
		}
	}
}

// completeDelivered evicts a delivered batch and releases its acks.
func (c *Coordinator) completeDelivered(ctx context.Context, batch queue.Batch, latency time.Duration) {
	if err := c.store.MarkDelivered(ctx, batch.Seqs()); err != nil {
		// Collector has the data but eviction failed. Return the records
		// to pending so a later drain resends them (a duplicate the
		// collector tolerates) and eviction gets another chance; acks
		// stay parked until that succeeds, so nothing is lost.
		c.log.Error("marking batch delivered failed",
			"batch_id", batch.ID,
			"error", err,
		)
		if relErr := c.store.Release(ctx, batch.Seqs()); relErr != nil {
			// Records stay in flight; startup recovery returns them to
			// pending on the next run.
			c.log.Error("releasing undeliverable-marked batch failed",
				"batch_id", batch.ID,
				"error", relErr,
			)
		}
		return
	}

	c.releaseAcks(batch.Seqs())

	maxAttempts := 0
	for _, r := range batch.Records {
		if r.Attempts > maxAttempts {
			maxAttempts = r.Attempts
		}
	}
	c.metrics.WriteBatchDelivered(c.source, len(batch.Records), maxAttempts, latency)

	c.log.Debug("batch delivered",
		"batch_id", batch.ID,
		"size", len(batch.Records),
		"latency", latency,
	)
}

// completeRejected dead-letters a permanently rejected batch.
//
// The collector has definitively refused the payload, so the records
// are terminal: retained for inspection, acked to the broker.
func (c *Coordinator) completeRejected(ctx context.Context, batch queue.Batch, cause error) {
	reason := cause.Error()
	if err := c.store.MarkFailed(ctx, batch.Seqs(), reason); err != nil {
		c.log.Error("dead-lettering rejected batch failed",
			"batch_id", batch.ID,
			"error", err,
		)
		return
	}

	c.releaseAcks(batch.Seqs())
	c.metrics.WriteDeadLettered(c.source, len(batch.Records), "rejected")

	c.log.Warn("batch rejected by collector",
		"batch_id", batch.ID,
		"size", len(batch.Records),
		"error", cause,
	)
}

// handleTransient returns retryable records to the queue and
// dead-letters those that have exhausted their attempts.
func (c *Coordinator) handleTransient(ctx context.Context, batch queue.Batch, cause error) {
	var retry, exhausted []int64
	for _, r := range batch.Records {
		if r.Attempts >= c.maxAttempts {
			exhausted = append(exhausted, r.Seq)
		} else {
			retry = append(retry, r.Seq)
		}
	}

	if len(exhausted) > 0 {
		reason := fmt.Sprintf("retries exhausted after %d attempts: %v", c.maxAttempts, cause)
		if err := c.store.MarkFailed(ctx, exhausted, reason); err != nil {
			c.log.Error("dead-lettering exhausted records failed", "error", err)
		} else {
			c.releaseAcks(exhausted)
			c.metrics.WriteDeadLettered(c.source, len(exhausted), "retries_exhausted")
			c.log.Warn("records exhausted retry budget",
				"count", len(exhausted),
				"max_attempts", c.maxAttempts,
			)
		}
	}

	if len(retry) > 0 {
		if err := c.store.Release(ctx, retry); err != nil {
			c.log.Error("releasing batch for retry failed", "error", err)
		}
	}

	c.log.Warn("batch delivery failed, will retry",
		"batch_id", batch.ID,
		"retrying", len(retry),
		"error", cause,
	)
}

// sleep waits for d or until shutdown. Returns false on shutdown.
func (c *Coordinator) sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// sampleDepth periodically reports queue depth to metrics.
func (c *Coordinator) sampleDepth(ctx context.Context) {
	ticker := time.NewTicker(depthSampleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats, err := c.store.GetStats(ctx)
			if err != nil {
				c.log.Error("sampling queue stats failed", "error", err)
				continue
			}
			c.metrics.WriteQueueDepth(c.source, stats.Depth, stats.DeadLetters)
		}
	}
}

// registerAck parks a message ack under its queue sequence.
func (c *Coordinator) registerAck(seq int64, ack func()) {
	c.ackMu.Lock()
	c.acks[seq] = ack
	c.ackMu.Unlock()
}

// releaseAcks fires and forgets the acks for the given sequences.
//
// Sequences enqueued before a restart have no parked ack; the broker
// redelivers those messages and the duplicate readings are accepted.
func (c *Coordinator) releaseAcks(seqs []int64) {
	c.ackMu.Lock()
	pending := make([]func(), 0, len(seqs))
	for _, seq := range seqs {
		if ack, ok := c.acks[seq]; ok {
			pending = append(pending, ack)
			delete(c.acks, seq)
		}
	}
	c.ackMu.Unlock()

	for _, ack := range pending {
		ack()
	}
}
