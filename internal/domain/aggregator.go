package domain

import "sync"

// Snapshot maps each whitelisted exchange to its latest accepted tick for
// the active pair. Values handed out by Aggregator are copies.
type Snapshot map[ExchangeID]PriceTick

// set 显式的按 key 覆盖更新（last-write-wins）
func (s Snapshot) set(ex ExchangeID, t PriceTick) {
	s[ex] = t
}

func (s Snapshot) clone() Snapshot {
	out := make(Snapshot, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// Aggregator holds the per-exchange snapshot for the currently selected pair.
// Writes come from a single owner; readers may call Snapshot concurrently.
type Aggregator struct {
	mu        sync.RWMutex
	whitelist *Whitelist
	pair      TradingPair
	active    bool
	snapshot  Snapshot
}

func NewAggregator(whitelist *Whitelist) *Aggregator {
	return &Aggregator{
		whitelist: whitelist,
		snapshot:  make(Snapshot, whitelist.Len()),
	}
}

// Reset 切换到新的交易对并清空快照
func (a *Aggregator) Reset(pair TradingPair) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.pair = pair
	a.active = !pair.IsZero()
	a.snapshot = make(Snapshot, a.whitelist.Len())
}

// Clear drops the active pair and empties the snapshot.
func (a *Aggregator) Clear() {
	a.Reset(TradingPair{})
}

// Offer merges t into the snapshot if it comes from a whitelisted exchange
// and its symbol normalizes to the active pair. Returns whether it was merged.
func (a *Aggregator) Offer(t PriceTick) bool {
	if !a.whitelist.Contains(t.Exchange) {
		return false
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.active || !a.pair.Matches(t.Symbol) {
		return false
	}
	a.snapshot.set(t.Exchange, t)
	return true
}

// Snapshot returns a read-only copy of the current state.
func (a *Aggregator) Snapshot() Snapshot {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.snapshot.clone()
}

func (a *Aggregator) ActivePair() (TradingPair, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.pair, a.active
}

func (a *Aggregator) Whitelist() *Whitelist {
	return a.whitelist
}
