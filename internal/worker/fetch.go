package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nnikolov3/audiopipe/internal/blobstore"
)

// FetchBlob reads a blob with a bounded probe loop. Write-before-announce
// means a referenced blob is normally visible, but a delivery can race a slow
// commit; a missing blob is probed a few times with backoff before the
// delivery fails (and retries through the bus). Any non-ErrNotFound failure
// returns immediately.
func FetchBlob(ctx context.Context, store *blobstore.Store, bucket, key string, probes int, delay time.Duration) ([]byte, error) {
	if probes <= 0 {
		probes = 3
	}
	if delay <= 0 {
		delay = 100 * time.Millisecond
	}
	var lastErr error
	for i := 0; i < probes; i++ {
		data, err := store.Get(bucket, key)
		if err == nil {
			return data, nil
		}
		if !errors.Is(err, blobstore.ErrNotFound) {
			return nil, err
		}
		lastErr = err
		if i == probes-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		delay *= 2
	}
	return nil, fmt.Errorf("blob %s/%s not visible after %d probes: %w", bucket, key, probes, lastErr)
}
