package resilience

import (
	"context"
	"fmt"
	"time"

	apperrors "github.com/Adithya-Monish-Kumar-K/forum-search/pkg/errors"
)

// WithTimeout gives fn at most d to finish. Running past the deadline is
// reported as apperrors.ErrTimeout even if fn ignores its context; a
// cancelled parent is reported as itself. A non-positive d runs fn as is.
func WithTimeout(ctx context.Context, d time.Duration, name string, fn func(ctx context.Context) error) error {
	if d <= 0 {
		return fn(ctx)
	}
	bounded, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	result := make(chan error, 1)
	go func() { result <- fn(bounded) }()

	var err error
	select {
	case err = <-result:
		if err == nil || bounded.Err() == nil {
			return err
		}
	case <-bounded.Done():
	}
	if ctx.Err() != nil {
		return fmt.Errorf("%s: %w", name, ctx.Err())
	}
	if err != nil {
		return fmt.Errorf("%s: %w after %v: %v", name, apperrors.ErrTimeout, d, err)
	}
	return fmt.Errorf("%s: %w after %v", name, apperrors.ErrTimeout, d)
}
