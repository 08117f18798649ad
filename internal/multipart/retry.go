package multipart

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/fjmerc/partstream/internal/storage"
)

// maxCompletionBackoff caps the delay between completion store retries
const maxCompletionBackoff = 10 * time.Second

// retryStore runs fn under the store timeout, retrying transient failures
// up to CompletionRetries times with jittered exponential backoff.
// fn receives the attempt number, starting at 0.
func (s *Service) retryStore(ctx context.Context, op string, fn func(ctx context.Context, attempt int) error) error {
	for attempt := 0; ; attempt++ {
		err := s.withStoreTimeout(ctx, func(ctx context.Context) error {
			return fn(ctx, attempt)
		})
		if err == nil || !storage.IsTransient(err) || attempt >= s.opts.CompletionRetries {
			return err
		}

		delay := backoffDelay(s.opts.CompletionBackoff, attempt)
		slog.Warn("transient store failure, retrying",
			"op", op,
			"attempt", attempt+1,
			"delay", delay,
			"error", err,
		)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// backoffDelay returns base*2^attempt, capped, plus up to 50% jitter.
func backoffDelay(base time.Duration, attempt int) time.Duration {
	if base <= 0 {
		return 0
	}
	d := retryablehttp.DefaultBackoff(base, maxCompletionBackoff, attempt, nil)
	if jitter := int64(d / 2); jitter > 0 {
		d += time.Duration(rand.Int64N(jitter + 1))
	}
	return min(d, maxCompletionBackoff)
}
