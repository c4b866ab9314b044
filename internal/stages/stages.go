package stages

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nnikolov3/audiopipe/internal/blobstore"
	"github.com/nnikolov3/audiopipe/internal/bus"
	"github.com/nnikolov3/audiopipe/internal/correlate"
	"github.com/nnikolov3/audiopipe/internal/event"
	"github.com/nnikolov3/audiopipe/internal/worker"
	"github.com/nnikolov3/audiopipe/pkg/id"
	logpkg "github.com/nnikolov3/audiopipe/pkg/log"
)

// Blob buckets the pipeline writes through.
const (
	BucketSources   = "sources"
	BucketPages     = "pages"
	BucketText      = "text"
	BucketRawAudio  = "audio-raw"
	BucketAudio     = "audio"
	BucketManifests = "manifests"
)

// Buckets lists every pipeline bucket.
func Buckets() []string {
	return []string{BucketSources, BucketPages, BucketText, BucketRawAudio, BucketAudio, BucketManifests}
}

// Deps is the shared wiring every stage uses.
type Deps struct {
	Bus     *bus.Bus
	Store   *blobstore.Store
	Keys    *id.Generator
	Tracker *correlate.Tracker
	Logger  logpkg.Logger

	// FetchProbes bounds the blob visibility probe loop. Defaults to 3.
	FetchProbes int
	// FetchDelay is the initial probe backoff. Defaults to 100ms.
	FetchDelay time.Duration
}

func (d *Deps) probes() int {
	if d.FetchProbes > 0 {
		return d.FetchProbes
	}
	return 3
}

func (d *Deps) fetchDelay() time.Duration {
	if d.FetchDelay > 0 {
		return d.FetchDelay
	}
	return 100 * time.Millisecond
}

// fetch reads a referenced blob with bounded visibility probes.
func (d *Deps) fetch(ctx context.Context, bucket, key string) ([]byte, error) {
	return worker.FetchBlob(ctx, d.Store, bucket, key, d.probes(), d.fetchDelay())
}

// emit performs write-then-announce for a successor: the result blob is
// already committed by the caller; this publishes the event referencing it.
// The successor carries a fresh event id and the parent's workflow identity.
func (d *Deps) emit(ctx context.Context, subject string, parent event.Header, ev event.Event) error {
	h := event.Header{
		EventID:     uuid.NewString(),
		WorkflowID:  parent.WorkflowID,
		UserID:      parent.UserID,
		TenantID:    parent.TenantID,
		CreatedAtMs: time.Now().UnixMilli(),
	}
	payload, err := event.Encode(h, ev)
	if err != nil {
		return err
	}
	_, err = d.Bus.Publish(ctx, subject, payload)
	return err
}

// wrongPayload builds the terminal error for a subject/payload mismatch.
func wrongPayload(stage string, ev event.Event) error {
	return &event.ValidationError{Field: "type", Reason: fmt.Sprintf("%s cannot process %s", stage, ev.EventType())}
}
