package picking

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/xelth-com/eckpick/internal/models"
	"github.com/xelth-com/eckpick/internal/picking/cache"
)

// QuantityWrite is one optimistic edit waiting to reach the backend
type QuantityWrite struct {
	ID          string          `json:"id"`
	Key         models.CacheKey `json:"-"`
	OperationID int64           `json:"operation_id"`
	DoneQty     float64         `json:"done_qty"`
	Ticket      cache.Ticket    `json:"-"`
	EnqueuedAt  time.Time       `json:"enqueued_at"`
}

// WriteResult is the outcome of one QuantityWrite
type WriteResult struct {
	Write    QuantityWrite
	Err      error
	Attempts int
}

// WriteTicket lets a caller optionally wait for the backend outcome
type WriteTicket struct {
	done   chan struct{}
	result WriteResult
}

// Done closes once the write finished, successfully or not
func (t *WriteTicket) Done() <-chan struct{} { return t.done }

// Wait blocks until the write finished or ctx ends
func (t *WriteTicket) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return t.result.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Result is only meaningful after Done closed
func (t *WriteTicket) Result() WriteResult {
	<-t.done
	return t.result
}

// RetryPolicy decides whether a failed write is attempted again
type RetryPolicy interface {
	NextDelay(attempt int, err error) (time.Duration, bool)
}

// BackoffRetry retries with a doubling delay up to Attempts tries in total
type BackoffRetry struct {
	Attempts int
	Initial  time.Duration
	Max      time.Duration
}

func (b BackoffRetry) NextDelay(attempt int, err error) (time.Duration, bool) {
	if attempt >= b.Attempts || errors.Is(err, ErrWriteRejected) {
		return 0, false
	}
	d := b.Initial << (attempt - 1)
	if b.Max > 0 && d > b.Max {
		d = b.Max
	}
	return d, true
}

// QuantityWriter performs the remote write
type QuantityWriter func(ctx context.Context, operationID int64, doneQty float64) (bool, error)

type outboxItem struct {
	write  QuantityWrite
	ticket *WriteTicket
}

// Outbox pushes quantity writes to the backend one at a time, in order.
// Enqueue never blocks the caller on the network.
type Outbox struct {
	writer   QuantityWriter
	retry    RetryPolicy
	timeout  time.Duration
	log      zerolog.Logger
	metrics  Metrics
	onResult func(WriteResult)

	mu      sync.Mutex
	queue   []outboxItem
	closed  bool
	wake    chan struct{}
	stopCh  chan struct{}
	stopped chan struct{}
}

// NewOutbox starts the worker. onResult runs on the worker goroutine.
func NewOutbox(writer QuantityWriter, retry RetryPolicy, timeout time.Duration, log zerolog.Logger, m Metrics, onResult func(WriteResult)) *Outbox {
	o := &Outbox{
		writer:   writer,
		retry:    retry,
		timeout:  timeout,
		log:      log,
		metrics:  orNop(m),
		onResult: onResult,
		wake:     make(chan struct{}, 1),
		stopCh:   make(chan struct{}),
		stopped:  make(chan struct{}),
	}
	go o.run()
	return o
}

// Enqueue schedules w and returns immediately
func (o *Outbox) Enqueue(w QuantityWrite) *WriteTicket {
	if w.ID == "" {
		w.ID = uuid.NewString()
	}
	if w.EnqueuedAt.IsZero() {
		w.EnqueuedAt = time.Now()
	}
	t := &WriteTicket{done: make(chan struct{})}

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		t.result = WriteResult{Write: w, Err: ErrSessionClosed}
		close(t.done)
		return t
	}
	o.queue = append(o.queue, outboxItem{write: w, ticket: t})
	o.mu.Unlock()

	select {
	case o.wake <- struct{}{}:
	default:
	}
	return t
}

// Pending returns the number of writes not yet attempted
func (o *Outbox) Pending() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.queue)
}

// Close stops the worker after the write in flight. Queued writes fail
// with ErrSessionClosed.
func (o *Outbox) Close() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		<-o.stopped
		return
	}
	o.closed = true
	rest := o.queue
	o.queue = nil
	o.mu.Unlock()

	close(o.stopCh)
	<-o.stopped
	for _, it := range rest {
		it.ticket.result = WriteResult{Write: it.write, Err: ErrSessionClosed}
		close(it.ticket.done)
	}
}

func (o *Outbox) next() (outboxItem, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.queue) == 0 {
		return outboxItem{}, false
	}
	it := o.queue[0]
	o.queue = o.queue[1:]
	return it, true
}

func (o *Outbox) run() {
	defer close(o.stopped)
	for {
		it, ok := o.next()
		if !ok {
			select {
			case <-o.wake:
				continue
			case <-o.stopCh:
				return
			}
		}
		res := o.process(it.write)
		it.ticket.result = res
		close(it.ticket.done)
		if o.onResult != nil {
			o.onResult(res)
		}
		select {
		case <-o.stopCh:
			return
		default:
		}
	}
}

func (o *Outbox) process(w QuantityWrite) WriteResult {
	res := WriteResult{Write: w}
	for {
		res.Attempts++
		res.Err = o.attempt(w)
		o.metrics.QuantityWrite(res.Err)
		if res.Err == nil || o.retry == nil {
			return res
		}
		delay, again := o.retry.NextDelay(res.Attempts, res.Err)
		if !again {
			return res
		}
		o.log.Warn().Err(res.Err).Int("attempt", res.Attempts).Int64("operation_id", w.OperationID).Msg("retrying quantity write")
		select {
		case <-o.stopCh:
			return res
		case <-time.After(delay):
		}
	}
}

func (o *Outbox) attempt(w QuantityWrite) error {
	ctx, cancel := context.WithTimeout(context.Background(), o.timeout)
	defer cancel()
	ok, err := o.writer(ctx, w.OperationID, w.DoneQty)
	if err != nil {
		return remote("write operation quantity", err)
	}
	if !ok {
		return &RemoteError{Op: "write operation quantity", Err: ErrWriteRejected}
	}
	return nil
}
