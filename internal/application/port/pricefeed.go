package port

import (
	"context"

	"xquote/internal/domain"
)

// Subscription 绑定到单个交易对的推送连接句柄
type Subscription interface {
	ID() string
	Pair() domain.TradingPair
	// Ticks delivers decoded price_update ticks in arrival order. It is closed
	// when the subscription is released or the connection drops.
	Ticks() <-chan domain.PriceTick
	// Err reports why Ticks was closed; nil after a normal release.
	Err() error
}

// Subscriber owns at most one live Subscription.
type Subscriber interface {
	// Bind releases any live subscription, then opens one for pair.
	Bind(ctx context.Context, pair domain.TradingPair) (Subscription, error)
	// Unbind releases the live subscription, if any.
	Unbind() error
}

// Primer sends the one-shot priming request for a newly selected symbol.
type Primer interface {
	Prime(ctx context.Context, rawSymbol string) error
}
