package pagination

import (
	"context"
	"sync"

	"github.com/Sternrassler/sitebackup/pkg/client"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// DefaultConcurrency is the fan-out limit used when none is given.
const DefaultConcurrency = 10

// FetchAll runs fn once per key concurrently, at most limit at a time, and
// waits for all of them. Keys whose call fails with a remote logical error
// are logged and left out of the result. Any other error cancels the
// remaining calls and is returned with the results gathered so far.
func FetchAll[K comparable, V any](ctx context.Context, keys []K, limit int, fn func(context.Context, K) (V, error)) (map[K]V, error) {
	if limit <= 0 {
		limit = DefaultConcurrency
	}

	var mu sync.Mutex
	results := make(map[K]V, len(keys))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)

	for _, key := range keys {
		key := key
		g.Go(func() error {
			v, err := fn(gctx, key)
			if err != nil {
				if client.IsRemote(err) {
					log.Warn().
						Err(err).
						Interface("key", key).
						Msg("Remote error, skipping key")
					return nil
				}
				return err
			}
			mu.Lock()
			results[key] = v
			mu.Unlock()
			return nil
		})
	}

	err := g.Wait()
	return results, err
}
