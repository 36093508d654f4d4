package ingestion

import (
	"context"

	"github.com/dennisdiepolder/kpiboard/internal/types"
)

// ChangeProcessor applies store change notifications to the in-process state
type ChangeProcessor interface {
	Process(ctx context.Context, ev types.ChangeEvent) error
	Resync(ctx context.Context) error
}

// ChangeSource emits change events (the store subscription, a change stream)
type ChangeSource interface {
	// Subscribe returns a channel of change events and a function that
	// cancels the subscription
	Subscribe() (<-chan types.ChangeEvent, func())
}

// Requester triggers leaderboard recomputes
type Requester interface {
	Request(monthID string)
	RequestAll()
}
