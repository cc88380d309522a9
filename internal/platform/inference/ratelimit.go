package inference

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

// limited throttles calls to the wrapped Completer.
type limited struct {
	next    Completer
	limiter *rate.Limiter
}

// WithRateLimit wraps c so that at most rps calls per second (with the given
// burst) reach the provider. Callers block until a token is available or
// their context ends.
func WithRateLimit(c Completer, rps float64, burst int) Completer {
	if c == nil {
		return nil
	}
	if burst < 1 {
		burst = 1
	}
	return &limited{next: c, limiter: rate.NewLimiter(rate.Limit(rps), burst)}
}

func (l *limited) Available() bool { return IsAvailable(l.next) }

func (l *limited) Complete(ctx context.Context, system, user string, opts ...Option) (string, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("inference rate limit: %w", err)
	}
	return l.next.Complete(ctx, system, user, opts...)
}
