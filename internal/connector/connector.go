package connector

import (
	"context"
	"time"

	"cdc-streamer/internal/models"
)

// pollDelay is the fixed pause between log drain iterations.
const pollDelay = time.Second

// Connector turns a source database's native change representation into
// ChangeEvents. A Connector is owned by a single producer goroutine.
type Connector interface {
	// Setup performs one-time preparation such as creating a replication
	// slot. A returned error is informational; callers log it and carry on.
	Setup(ctx context.Context) error

	// Produce feeds events into out until ctx is cancelled. Sends block
	// while out is full.
	Produce(ctx context.Context, out chan<- models.ChangeEvent) error

	Close() error
}

func emit(ctx context.Context, out chan<- models.ChangeEvent, event models.ChangeEvent) error {
	select {
	case out <- event:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// firstColumn returns the first column of an ordered image as a one-entry
// key. It stands in for a real replica identity lookup and may be wrong.
func firstColumn(row models.Row, order []string) models.Row {
	pk := models.Row{}
	if len(order) > 0 {
		pk[order[0]] = row[order[0]]
	}
	return pk
}

func operationFor(kind string) (models.Operation, bool) {
	switch kind {
	case "insert":
		return models.Insert, true
	case "update":
		return models.Update, true
	case "delete":
		return models.Delete, true
	}
	return "", false
}
