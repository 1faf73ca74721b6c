// Package retry wraps the model and memory ports with bounded exponential backoff.
// Failures that outlive the retry budget surface as *domain.PortError.
package retry

import (
	"context"
	"errors"
	"iter"
	"log/slog"
	"time"

	"github.com/aretw0/recall/internal/logging"
	"github.com/aretw0/recall/pkg/domain"
	"github.com/aretw0/recall/pkg/ports"
	"github.com/cenkalti/backoff/v5"
)

// Policy configures retries.
type Policy struct {
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration
	logger      *slog.Logger
}

// Option configures a Policy.
type Option func(*Policy)

// MaxAttempts sets the maximum number of attempts (default: 3).
func MaxAttempts(n int) Option {
	return func(p *Policy) {
		if n > 0 {
			p.maxAttempts = n
		}
	}
}

// BaseDelay sets the delay before the second attempt (default: 500ms). Each following
// delay roughly doubles, with jitter.
func BaseDelay(d time.Duration) Option {
	return func(p *Policy) {
		if d > 0 {
			p.baseDelay = d
		}
	}
}

// MaxDelay caps a single delay (default: 10s).
func MaxDelay(d time.Duration) Option {
	return func(p *Policy) {
		if d > 0 {
			p.maxDelay = d
		}
	}
}

// Logger sets the logger for retry events.
func Logger(l *slog.Logger) Option {
	return func(p *Policy) {
		if l != nil {
			p.logger = l
		}
	}
}

func newPolicy(opts []Option) Policy {
	p := Policy{
		maxAttempts: 3,
		baseDelay:   500 * time.Millisecond,
		maxDelay:    10 * time.Second,
		logger:      logging.NewNop(),
	}
	for _, opt := range opts {
		opt(&p)
	}
	return p
}

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

func (p Policy) options(port string) []backoff.RetryOption {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.baseDelay
	b.MaxInterval = p.maxDelay
	return []backoff.RetryOption{
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(p.maxAttempts)),
		backoff.WithNotify(func(err error, next time.Duration) {
			p.logger.Warn("port call failed, retrying", "port", port, "delay", next, "error", err)
		}),
	}
}

// call runs op under the policy. Context errors and permanent errors are returned as is;
// exhausted transient errors become a *domain.PortError.
func call[T any](ctx context.Context, p Policy, port string, op func() (T, error)) (T, error) {
	attempts := 0
	var permanent bool
	res, err := backoff.Retry(ctx, func() (T, error) {
		attempts++
		v, err := op()
		if err == nil {
			return v, nil
		}
		var pe *backoff.PermanentError
		if errors.As(err, &pe) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			permanent = true
			return v, backoff.Permanent(err)
		}
		return v, err
	}, p.options(port)...)
	if err == nil {
		return res, nil
	}
	if permanent || ctx.Err() != nil {
		var pe *backoff.PermanentError
		if errors.As(err, &pe) {
			err = pe.Err
		}
		return res, err
	}
	p.logger.Error("port call failed", "port", port, "attempts", attempts, "error", err)
	return res, &domain.PortError{Port: port, Attempts: attempts, Err: err}
}

// Memory wraps a memory store.
func Memory(inner ports.MemoryStore, opts ...Option) ports.MemoryStore {
	return &memoryStore{inner: inner, policy: newPolicy(opts)}
}

type memoryStore struct {
	inner  ports.MemoryStore
	policy Policy
}

func (m *memoryStore) Save(ctx context.Context, ownerID, text string) error {
	_, err := call(ctx, m.policy, "memory", func() (struct{}, error) {
		return struct{}{}, m.inner.Save(ctx, ownerID, text)
	})
	return err
}

func (m *memoryStore) Search(ctx context.Context, ownerID, query string, limit int) ([]string, error) {
	return call(ctx, m.policy, "memory", func() ([]string, error) {
		return m.inner.Search(ctx, ownerID, query, limit)
	})
}

// Model wraps a language model. A completion is retried only while it has not yielded
// anything; once a chunk reached the consumer, a later transient failure is not retried
// but still surfaces as a *domain.PortError, since the interrupted step appended nothing.
func Model(inner ports.LanguageModel, opts ...Option) ports.LanguageModel {
	return &model{inner: inner, policy: newPolicy(opts)}
}

type model struct {
	inner  ports.LanguageModel
	policy Policy
}

type started struct {
	next  func() (ports.Chunk, error, bool)
	stop  func()
	first ports.Chunk
	empty bool
}

func (m *model) Complete(ctx context.Context, req ports.CompletionRequest) iter.Seq2[ports.Chunk, error] {
	return func(yield func(ports.Chunk, error) bool) {
		attempts := 0
		s, err := call(ctx, m.policy, "model", func() (started, error) {
			attempts++
			next, stop := iter.Pull2(m.inner.Complete(ctx, req))
			chunk, err, ok := next()
			if !ok {
				stop()
				return started{empty: true}, nil
			}
			if err != nil {
				stop()
				return started{}, err
			}
			return started{next: next, stop: stop, first: chunk}, nil
		})
		if err != nil {
			yield(ports.Chunk{}, err)
			return
		}
		if s.empty {
			return
		}
		defer s.stop()

		if !yield(s.first, nil) {
			return
		}
		for {
			chunk, err, ok := s.next()
			if !ok {
				return
			}
			if err != nil {
				yield(chunk, m.midStream(ctx, attempts, err))
				return
			}
			if !yield(chunk, nil) {
				return
			}
		}
	}
}

// midStream classifies a failure that arrived after output was emitted.
func (m *model) midStream(ctx context.Context, attempts int, err error) error {
	var pe *backoff.PermanentError
	if errors.As(err, &pe) {
		return pe.Err
	}
	if ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	m.policy.logger.Error("model stream interrupted", "attempts", attempts, "error", err)
	return &domain.PortError{Port: "model", Attempts: attempts, Err: err}
}
