package console

import (
	"strings"

	"github.com/shopspring/decimal"

	"xquote/internal/application/port"
	"xquote/internal/domain"
)

const (
	ansiReset    = "\033[0m"
	ansiRed      = "\033[31m"
	ansiGreen    = "\033[32m"
	ansiYellow   = "\033[33m"
	ansiDim      = "\033[2m"
	ansiClearEOL = "\033[K"
)

func colorize(s, c string) string { return c + s + ansiReset }

// ViewState is what the formatter needs from the tracker for one frame.
type ViewState struct {
	Pair     domain.TradingPair
	Active   bool
	Status   port.Status
	Snapshot domain.Snapshot
}

// Formatter renders the snapshot as a single live line. It remembers the
// previous current price per exchange to color moves.
type Formatter struct {
	exchanges []domain.ExchangeID
	pair      string
	prev      map[domain.ExchangeID]decimal.Decimal
}

func NewFormatter(exchanges []domain.ExchangeID) *Formatter {
	return &Formatter{
		exchanges: exchanges,
		prev:      make(map[domain.ExchangeID]decimal.Decimal),
	}
}

func (f *Formatter) Render(v ViewState) string {
	var sb strings.Builder
	sb.WriteString("\r")
	sb.WriteString(colorize("[XQUOTE] ", ansiDim))

	if !v.Active {
		f.pair = ""
		clear(f.prev)
		sb.WriteString("select a trading pair from the watchlist")
		sb.WriteString(ansiClearEOL)
		return sb.String()
	}

	if v.Pair.Raw != f.pair {
		f.pair = v.Pair.Raw
		clear(f.prev)
	}

	sb.WriteString(v.Pair.Raw)
	if v.Status != port.StatusActive {
		sb.WriteString(colorize(" ("+v.Status.String()+")", ansiYellow))
	}

	for _, ex := range f.exchanges {
		sb.WriteString(colorize("  ||  ", ansiDim))
		sb.WriteString(string(ex))
		sb.WriteString(" ")

		t, ok := v.Snapshot[ex]
		if !ok {
			sb.WriteString(colorize("waiting for data...", ansiDim))
			continue
		}

		col := ansiYellow
		if prev, seen := f.prev[ex]; seen {
			switch t.Current.Cmp(prev) {
			case 1:
				col = ansiGreen
			case -1:
				col = ansiRed
			}
		}
		f.prev[ex] = t.Current

		sb.WriteString(colorize(t.Current.String(), col))
		sb.WriteString(" H:")
		sb.WriteString(t.High.String())
		sb.WriteString(" L:")
		sb.WriteString(t.Low.String())
	}

	sb.WriteString(ansiClearEOL)
	return sb.String()
}
