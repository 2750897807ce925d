package oracle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dyike/CareMesh/internal/observability"
)

var (
	ErrOracleUnavailable = errors.New("oracle unavailable")
	ErrMalformed         = errors.New("malformed oracle response")
)

// Oracle turns a system context and a prompt into raw text. Implementations
// may fail, time out, or return anything at all.
type Oracle interface {
	Invoke(ctx context.Context, system, prompt string) (string, error)
}

// Func adapts a plain function to Oracle.
type Func func(ctx context.Context, system, prompt string) (string, error)

func (f Func) Invoke(ctx context.Context, system, prompt string) (string, error) {
	return f(ctx, system, prompt)
}

type guarded struct {
	next    Oracle
	timeout time.Duration
}

// Guard bounds every call to next by timeout and converts panics into
// ErrOracleUnavailable. A zero timeout leaves calls unbounded.
func Guard(next Oracle, timeout time.Duration) Oracle {
	return &guarded{next: next, timeout: timeout}
}

type result struct {
	out string
	err error
}

func (g *guarded) Invoke(ctx context.Context, system, prompt string) (string, error) {
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	ch := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				observability.LoggerFromContext(ctx).Error("oracle panic", "panic", fmt.Sprint(r))
				ch <- result{err: fmt.Errorf("%w: panic: %v", ErrOracleUnavailable, r)}
			}
		}()
		out, err := g.next.Invoke(ctx, system, prompt)
		ch <- result{out: out, err: err}
	}()

	select {
	case r := <-ch:
		if r.err != nil && !errors.Is(r.err, ErrOracleUnavailable) {
			r.err = fmt.Errorf("%w: %w", ErrOracleUnavailable, r.err)
		}
		return r.out, r.err
	case <-ctx.Done():
		return "", fmt.Errorf("%w: %w", ErrOracleUnavailable, ctx.Err())
	}
}
