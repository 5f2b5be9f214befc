package repair

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/devrev/pairdb/entitystore/internal/metrics"
	"github.com/devrev/pairdb/entitystore/internal/util/workerpool"
)

// Handler completes the deferred work of a message. Handlers must be idempotent:
// a message may be delivered again after it already succeeded.
type Handler interface {
	Handle(ctx context.Context, msg *Message) error
}

// HandlerFunc adapts a function to Handler
type HandlerFunc func(ctx context.Context, msg *Message) error

func (f HandlerFunc) Handle(ctx context.Context, msg *Message) error {
	return f(ctx, msg)
}

// Config holds processor configuration
type Config struct {
	Interval              time.Duration // verification cycle period
	BatchSize             int           // due messages loaded per cycle
	Concurrency           int           // parallel redeliveries per cycle
	MaxAttempts           int           // attempts after which failures log at error level
	RedeliveriesPerSecond float64       // 0 disables throttling
	HandlerTimeout        time.Duration
	MaxRetryDelay         time.Duration // cap of the per-message redelivery backoff
}

func (c *Config) setDefaults() {
	if c.Interval <= 0 {
		c.Interval = 10 * time.Second
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 4
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.HandlerTimeout <= 0 {
		c.HandlerTimeout = 30 * time.Second
	}
	if c.MaxRetryDelay <= 0 {
		c.MaxRetryDelay = 32 * c.Interval
	}
}

const (
	modeImmediate  = "immediate"
	modeRedelivery = "redelivery"
)

// Processor runs deferred work: once optimistically when a message is started,
// then again on every verification cycle after the deadline until acknowledged.
// It never drops a message.
type Processor struct {
	cfg     Config
	store   Store
	pool    *workerpool.WorkerPool
	metrics *metrics.Metrics
	logger  *zap.Logger
	limiter *rate.Limiter

	mu       sync.RWMutex
	handlers map[Kind]Handler

	inflight sync.Map // uuid.UUID -> struct{}
	now      func() time.Time
}

// NewProcessor creates a processor. Immediate attempts run on pool.
func NewProcessor(cfg Config, store Store, pool *workerpool.WorkerPool, m *metrics.Metrics, logger *zap.Logger) *Processor {
	cfg.setDefaults()

	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RedeliveriesPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RedeliveriesPerSecond), cfg.Concurrency)
	}

	return &Processor{
		cfg:      cfg,
		store:    store,
		pool:     pool,
		metrics:  m,
		logger:   logger,
		limiter:  limiter,
		handlers: make(map[Kind]Handler),
		now:      time.Now,
	}
}

// Register binds the handler for a message kind, replacing any previous one
func (p *Processor) Register(kind Kind, h Handler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handlers[kind] = h
}

func (p *Processor) handler(kind Kind) Handler {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.handlers[kind]
}

// Schedule records msg for redelivery once timeout elapses without an
// acknowledgement. The returned message is the handle for Start and Acknowledge.
func (p *Processor) Schedule(ctx context.Context, msg *Message, timeout time.Duration) (*Message, error) {
	now := p.now()
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = now
	}
	msg.Deadline = now.Add(timeout)

	if err := p.store.Put(ctx, msg); err != nil {
		return nil, fmt.Errorf("failed to schedule %s message: %w", msg.Kind, err)
	}
	p.metrics.RecordRepairScheduled(string(msg.Kind))

	p.logger.Debug("Repair message scheduled",
		zap.Stringer("message_id", msg.ID),
		zap.String("kind", string(msg.Kind)),
		zap.Time("deadline", msg.Deadline))
	return msg, nil
}

// Start makes one immediate attempt on the worker pool without waiting for it.
// When the pool is saturated the attempt is skipped and the verification cycle
// delivers the message after its deadline.
func (p *Processor) Start(msg *Message) {
	id := msg.ID
	err := p.pool.TrySubmit(workerpool.Task{
		Name: "repair-" + string(msg.Kind),
		Fn: func(ctx context.Context) error {
			return p.deliver(ctx, id, modeImmediate)
		},
	})
	if err != nil {
		p.metrics.RecordRepairSkipped(string(msg.Kind))
		p.logger.Warn("Immediate repair attempt skipped, awaiting redelivery",
			zap.Stringer("message_id", id),
			zap.String("kind", string(msg.Kind)),
			zap.Error(err))
	}
}

// Acknowledge marks the message complete; it will not be delivered again
func (p *Processor) Acknowledge(ctx context.Context, msg *Message) error {
	if err := p.store.Remove(ctx, msg.ID); err != nil {
		return fmt.Errorf("failed to acknowledge message %s: %w", msg.ID, err)
	}
	return nil
}

// Outstanding returns the number of unacknowledged messages
func (p *Processor) Outstanding(ctx context.Context) (int64, error) {
	return p.store.Count(ctx)
}

// Run executes verification cycles every interval until ctx is done
func (p *Processor) Run(ctx context.Context) {
	p.logger.Info("Starting repair verification loop",
		zap.Duration("interval", p.cfg.Interval),
		zap.Int("batch_size", p.cfg.BatchSize),
		zap.Int("concurrency", p.cfg.Concurrency))

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("Repair verification loop stopped")
			return
		case <-ticker.C:
			if _, err := p.VerifyOnce(ctx); err != nil && ctx.Err() == nil {
				p.logger.Error("Repair verification cycle failed", zap.Error(err))
			}
		}
	}
}

// VerifyOnce redelivers every message whose deadline has elapsed and returns how
// many were handed to their handler. Handler failures are logged, not returned.
func (p *Processor) VerifyOnce(ctx context.Context) (int, error) {
	start := time.Now()
	defer p.metrics.RecordRepairCycle(start)

	due, err := p.store.Due(ctx, p.now(), p.cfg.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to load due messages: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Concurrency)

	delivered := 0
	for _, msg := range due {
		if err := p.limiter.Wait(gctx); err != nil {
			break
		}
		id := msg.ID
		delivered++
		g.Go(func() error {
			_ = p.deliver(gctx, id, modeRedelivery)
			return nil
		})
	}
	_ = g.Wait()

	if count, err := p.store.Count(ctx); err == nil {
		p.metrics.SetRepairOutstanding(count)
	}

	if len(due) > 0 {
		p.logger.Info("Repair verification cycle completed",
			zap.Int("due", len(due)),
			zap.Int("delivered", delivered),
			zap.Duration("duration", time.Since(start)))
	}
	return delivered, ctx.Err()
}

// deliver runs the handler for the stored copy of a message. A message already
// acknowledged, or being delivered by another goroutine, is skipped.
func (p *Processor) deliver(ctx context.Context, id uuid.UUID, mode string) error {
	if _, busy := p.inflight.LoadOrStore(id, struct{}{}); busy {
		return nil
	}
	defer p.inflight.Delete(id)

	msg, err := p.store.Get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		p.logger.Warn("Failed to load repair message",
			zap.Stringer("message_id", id),
			zap.Error(err))
		return err
	}

	start := time.Now()
	err = p.invoke(ctx, msg)
	p.metrics.RecordRepairDelivery(string(msg.Kind), mode, start, err)

	if err != nil {
		p.fail(ctx, msg, mode, err)
		return err
	}

	if err := p.Acknowledge(ctx, msg); err != nil {
		// handler succeeded; a later redelivery is harmless
		p.logger.Warn("Failed to acknowledge repair message",
			zap.Stringer("message_id", id),
			zap.Error(err))
		return err
	}
	return nil
}

func (p *Processor) invoke(ctx context.Context, msg *Message) (err error) {
	h := p.handler(msg.Kind)
	if h == nil {
		return fmt.Errorf("no handler registered for kind %q", msg.Kind)
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()

	hctx, cancel := context.WithTimeout(ctx, p.cfg.HandlerTimeout)
	defer cancel()
	return h.Handle(hctx, msg)
}

func (p *Processor) fail(ctx context.Context, msg *Message, mode string, cause error) {
	attempts := msg.Attempts + 1
	fields := []zap.Field{
		zap.Stringer("message_id", msg.ID),
		zap.String("kind", string(msg.Kind)),
		zap.String("mode", mode),
		zap.Int("attempts", attempts),
		zap.Error(cause),
	}
	if attempts >= p.cfg.MaxAttempts {
		p.logger.Error("Repair message keeps failing, still outstanding", fields...)
	} else {
		p.logger.Warn("Repair handler failed, message stays outstanding", fields...)
	}

	if err := p.store.RecordAttempt(ctx, msg.ID, cause.Error(), p.retryAt(msg, attempts)); err != nil {
		p.logger.Warn("Failed to record repair attempt",
			zap.Stringer("message_id", msg.ID),
			zap.Error(err))
	}
}

// retryAt returns the next deadline of a failed message: one interval after the
// first failure, doubling up to MaxRetryDelay. A deadline that has not been
// reached yet is kept.
func (p *Processor) retryAt(msg *Message, attempts int) time.Time {
	delay := p.cfg.Interval
	for i := 1; i < attempts && delay < p.cfg.MaxRetryDelay; i++ {
		delay *= 2
	}
	if delay > p.cfg.MaxRetryDelay {
		delay = p.cfg.MaxRetryDelay
	}

	next := p.now().Add(delay)
	if msg.Deadline.After(next) {
		return msg.Deadline
	}
	return next
}
