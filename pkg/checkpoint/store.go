package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ErrNotFound indicates no checkpoint exists for the task.
	ErrNotFound = errors.New("checkpoint not found")

	// ErrSessionActive indicates a session for the task is already active.
	ErrSessionActive = errors.New("checkpoint session already active")

	// ErrReleased indicates the session was already released.
	ErrReleased = errors.New("checkpoint session released")
)

// checkpointWrites tracks checkpoint writes by backend and result.
var checkpointWrites = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "sitebackup_checkpoint_writes_total",
		Help: "Total number of checkpoint writes",
	},
	[]string{"backend", "result"}, // "file"|"redis", "ok"|"error"
)

// Store persists one payload per task.
type Store interface {
	// Save overwrites the checkpoint of task.
	Save(ctx context.Context, task string, payload []byte) error

	// Load returns the last saved payload or ErrNotFound.
	Load(ctx context.Context, task string) ([]byte, error)

	// Delete removes the checkpoint. Deleting a missing checkpoint is not an error.
	Delete(ctx context.Context, task string) error

	// List returns the task names that have a checkpoint.
	List(ctx context.Context) ([]string, error)

	// Backend names the store for logs and metrics.
	Backend() string
}

// Load decodes the checkpoint of task into out. It reports false when no
// checkpoint exists.
func Load[T any](ctx context.Context, store Store, task string, out *T) (bool, error) {
	data, err := store.Load(ctx, task)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return false, fmt.Errorf("decode checkpoint %q: %w", task, err)
	}
	return true, nil
}

// Save encodes v and stores it as the checkpoint of task.
func Save(ctx context.Context, store Store, task string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		checkpointWrites.WithLabelValues(store.Backend(), "error").Inc()
		return fmt.Errorf("encode checkpoint %q: %w", task, err)
	}
	if err := store.Save(ctx, task, data); err != nil {
		checkpointWrites.WithLabelValues(store.Backend(), "error").Inc()
		return err
	}
	checkpointWrites.WithLabelValues(store.Backend(), "ok").Inc()
	return nil
}
