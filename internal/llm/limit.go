package llm

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/semaphore"
)

type limited struct {
	next Generator
	sem  *semaphore.Weighted
}

// Limit returns a Generator that admits at most n concurrent calls to next.
// Callers beyond the limit block until a slot frees or their context ends.
func Limit(next Generator, n int) Generator {
	if n < 1 {
		n = 1
	}
	return &limited{next: next, sem: semaphore.NewWeighted(int64(n))}
}

func (l *limited) Generate(ctx context.Context, prompt string) (string, error) {
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return "", err
	}
	defer l.sem.Release(1)
	return l.next.Generate(ctx, prompt)
}

// Serialized is Limit(next, 1).
func Serialized(next Generator) Generator {
	return Limit(next, 1)
}

// WithTimeout bounds each call to next by d. A non-positive d returns next
// unchanged.
func WithTimeout(next Generator, d time.Duration) Generator {
	if d <= 0 {
		return next
	}
	return GeneratorFunc(func(ctx context.Context, prompt string) (string, error) {
		ctx, cancel := context.WithTimeout(ctx, d)
		defer cancel()
		out, err := next.Generate(ctx, prompt)
		if err != nil && ctx.Err() == context.DeadlineExceeded {
			return "", fmt.Errorf("generation timed out after %s: %w", d, err)
		}
		return out, err
	})
}
