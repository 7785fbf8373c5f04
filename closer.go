package swscore

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Closer is implemented by every pool manager, the HTTP client and the bot.
type Closer interface {
	Close(ctx context.Context) error
}

// CloseAll closes every closer concurrently and returns the first error.
// Nil entries are skipped. Each Close is already bounded by CloseTimeout, and one failing
// does not cut the others short.
func CloseAll(ctx context.Context, closers ...Closer) error {
	var eg errgroup.Group
	for _, c := range closers {
		if c == nil {
			continue
		}
		c := c
		eg.Go(func() error {
			return c.Close(ctx)
		})
	}
	return eg.Wait()
}
