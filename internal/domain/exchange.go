package domain

import "strings"

// ExchangeID identifies an exchange in push payloads, e.g. "mexc".
type ExchangeID string

const (
	ExchangeMEXC   ExchangeID = "mexc"
	ExchangeBybit  ExchangeID = "bybit"
	ExchangeKucoin ExchangeID = "kucoin"
)

// DefaultExchanges is the whitelist used when config does not override it.
var DefaultExchanges = []ExchangeID{ExchangeMEXC, ExchangeBybit, ExchangeKucoin}

// Whitelist 固定的交易所白名单，启动时构建，之后只读
type Whitelist struct {
	order []ExchangeID
	set   map[ExchangeID]struct{}
}

func NewWhitelist(ids ...ExchangeID) *Whitelist {
	w := &Whitelist{
		order: make([]ExchangeID, 0, len(ids)),
		set:   make(map[ExchangeID]struct{}, len(ids)),
	}
	for _, id := range ids {
		id = ExchangeID(strings.ToLower(strings.TrimSpace(string(id))))
		if id == "" {
			continue
		}
		if _, ok := w.set[id]; ok {
			continue
		}
		w.set[id] = struct{}{}
		w.order = append(w.order, id)
	}
	return w
}

func (w *Whitelist) Contains(id ExchangeID) bool {
	if w == nil {
		return false
	}
	_, ok := w.set[id]
	return ok
}

// IDs returns the whitelist in configured order.
func (w *Whitelist) IDs() []ExchangeID {
	out := make([]ExchangeID, len(w.order))
	copy(out, w.order)
	return out
}

func (w *Whitelist) Len() int {
	return len(w.order)
}
