package port

import (
	"context"

	"agentmirror/internal/domain/model"
)

// PositionSource is the agent feed, polled once per pass.
type PositionSource interface {
	Fetch(ctx context.Context, agent string) ([]model.Position, error)
	Agents(ctx context.Context) ([]string, error)
}

// PriceLookup returns the latest streamed price of a symbol.
type PriceLookup interface {
	LastPrice(symbol string) (float64, bool)
}

// EventPublisher fans executed actions out to external consumers.
type EventPublisher interface {
	PublishAction(ctx context.Context, agent string, action model.ExecutedAction) error
}
