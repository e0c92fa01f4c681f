package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/roach88/chainer/internal/factstore"
	"github.com/roach88/chainer/internal/ir"
)

// ErrSessionClosed is returned when submitting to a stopped session.
var ErrSessionClosed = errors.New("session closed")

// Journal records the operations a session applied.
// Implemented by store.Store (SQLite) and by in-memory fakes in tests.
type Journal interface {
	AppendOp(ctx context.Context, session string, op ir.Op) error
}

// Result is the outcome of one operation.
type Result struct {
	Op    ir.Op
	Fact  *factstore.Fact
	Fired int
	Err   error
}

// Session serialises operations from any number of goroutines onto one
// engine.
//
// Thread-safety model:
//   - Submit/Do: safe from any goroutine
//   - Run: must be called from exactly one goroutine; it owns the engine
//     while running
//
// Every applied operation is stamped from the session clock and, when a
// journal is configured, appended to it before the next one starts. A
// failed journal write is logged and the operation still counts: the engine
// state already changed.
type Session struct {
	id      string
	engine  *Engine
	journal Journal
	clock   *Clock
	queue   *opQueue
	logger  *slog.Logger
}

// SessionOption configures a session.
type SessionOption func(*Session)

// WithJournal records applied operations.
func WithJournal(j Journal) SessionOption {
	return func(s *Session) {
		s.journal = j
	}
}

// WithSessionClock continues an existing sequence.
func WithSessionClock(c *Clock) SessionOption {
	return func(s *Session) {
		s.clock = c
	}
}

// NewSession wraps an engine. id names the session in the journal.
func NewSession(id string, e *Engine, opts ...SessionOption) *Session {
	s := &Session{
		id:     id,
		engine: e,
		clock:  NewClock(),
		queue:  newOpQueue(),
		logger: e.logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// Engine returns the wrapped engine. Only touch it while Run is not active.
func (s *Session) Engine() *Engine { return s.engine }

// Submit queues op and returns the channel its result arrives on.
func (s *Session) Submit(op ir.Op) (<-chan Result, error) {
	reply := make(chan Result, 1)
	if !s.queue.Enqueue(request{op: op, reply: reply}) {
		return nil, ErrSessionClosed
	}
	return reply, nil
}

// Do submits op and waits for its result.
func (s *Session) Do(ctx context.Context, op ir.Op) (Result, error) {
	reply, err := s.Submit(op)
	if err != nil {
		return Result{}, err
	}
	select {
	case <-ctx.Done():
		return Result{}, ctx.Err()
	case res := <-reply:
		return res, res.Err
	}
}

// Run applies queued operations until ctx is done or Stop is called.
// Operation errors are delivered to the submitter and logged; they do not
// stop the loop.
func (s *Session) Run(ctx context.Context) error {
	s.logger.Info("session starting", "session", s.id)
	for {
		if req, ok := s.queue.TryDequeue(); ok {
			res := s.Apply(ctx, req.op)
			req.reply <- res
			continue
		}

		select {
		case <-ctx.Done():
			s.logger.Info("session stopping: context cancelled", "session", s.id)
			s.queue.Close()
			return ctx.Err()
		case <-s.queue.Wait():
			// the signal channel is closed with the queue
			if s.queue.Len() == 0 && s.closed() {
				s.logger.Info("session stopping: queue closed", "session", s.id)
				return nil
			}
		}
	}
}

func (s *Session) closed() bool {
	s.queue.mu.Lock()
	defer s.queue.mu.Unlock()
	return s.queue.closed
}

// Stop closes the queue; Run returns once it is empty.
func (s *Session) Stop() {
	s.queue.Close()
}

// Apply runs one operation on the engine directly and journals it. It is
// what Run does for each request; replay calls it without a loop.
func (s *Session) Apply(ctx context.Context, op ir.Op) Result {
	if op.Seq == 0 {
		op.Seq = s.clock.Next()
	} else {
		s.clock.Observe(op.Seq)
	}
	res := Result{Op: op}
	res.Fact, res.Fired, res.Err = s.apply(ctx, op)
	if res.Err != nil {
		s.logger.Warn("operation failed",
			"session", s.id,
			"seq", op.Seq,
			"kind", op.Kind,
			"error", res.Err,
		)
		return res
	}
	if s.journal != nil {
		if err := s.journal.AppendOp(ctx, s.id, op); err != nil {
			s.logger.Error("journal append failed",
				"session", s.id,
				"seq", op.Seq,
				"kind", op.Kind,
				"error", err,
			)
		}
	}
	return res
}

func (s *Session) apply(ctx context.Context, op ir.Op) (*factstore.Fact, int, error) {
	e := s.engine
	switch op.Kind {
	case ir.OpAssert:
		f, err := e.NewFact(op.Template, op.Values)
		if err != nil {
			return nil, 0, err
		}
		f.Name = op.Name
		f, err = e.Assert(f)
		return f, 0, err

	case ir.OpRetract:
		return nil, 0, e.RetractIndex(op.Fact)

	case ir.OpModify:
		f, ok := e.Fact(op.Fact)
		if !ok {
			return nil, 0, fmt.Errorf("modify f-%d: %w", op.Fact, ErrUnknownFact)
		}
		f, err := e.Modify(f, op.Values)
		return f, 0, err

	case ir.OpRun:
		n, err := e.Run(ctx, op.Limit)
		return nil, n, err

	case ir.OpReset:
		return nil, 0, e.Reset()

	case ir.OpRemoveRule:
		return nil, 0, e.RemoveRule(op.Rule)

	default:
		return nil, 0, fmt.Errorf("unknown operation kind %q", op.Kind)
	}
}
