package tracker

import (
	"xquote/internal/application/port"
	"xquote/internal/domain"
)

type Subscriber = port.Subscriber

type Repository = port.Repository

type EventKind int

const (
	// EventReset: selection changed, snapshot is empty
	EventReset EventKind = iota
	// EventTick: a tick was merged into the snapshot
	EventTick
	// EventStatus: push connection status changed
	EventStatus
)

// Event tells the rendering side that something changed; it carries no
// prices, readers call Service.Snapshot.
type Event struct {
	Kind     EventKind
	Pair     domain.TradingPair
	Exchange domain.ExchangeID
	Status   port.Status
	Err      error
}
