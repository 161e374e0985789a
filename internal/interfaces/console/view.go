package console

import (
	"context"

	"github.com/rs/zerolog/log"

	"xquote/internal/application/port"
	"xquote/internal/application/usecase/tracker"
	"xquote/internal/domain"
)

// Source is the read side of the tracker the view renders from.
type Source interface {
	Snapshot() domain.Snapshot
	ActivePair() (domain.TradingPair, bool)
	Status() (port.Status, error)
	Changes() <-chan tracker.Event
}

// View redraws the live line whenever the tracker reports a change.
type View struct {
	src  Source
	sink port.Sink
	fmt  *Formatter
}

func NewView(src Source, sink port.Sink, exchanges []domain.ExchangeID) *View {
	return &View{src: src, sink: sink, fmt: NewFormatter(exchanges)}
}

func (v *View) Run(ctx context.Context) error {
	v.redraw()
	for {
		select {
		case <-ctx.Done():
			_ = v.sink.NewLine()
			return ctx.Err()
		case e := <-v.src.Changes():
			if e.Kind == tracker.EventStatus {
				v.writeStatus(e)
			}
			v.redraw()
		}
	}
}

func (v *View) redraw() {
	pair, active := v.src.ActivePair()
	status, _ := v.src.Status()
	line := v.fmt.Render(ViewState{
		Pair:     pair,
		Active:   active,
		Status:   status,
		Snapshot: v.src.Snapshot(),
	})
	if err := v.sink.WriteLive(line); err != nil {
		log.Error().Err(err).Msg("write live line failed")
	}
}

func (v *View) writeStatus(e tracker.Event) {
	var line string
	switch e.Status {
	case port.StatusActive:
		line = e.Pair.Raw + " subscribed"
	case port.StatusConnectionFailed:
		line = e.Pair.Raw + " connection failed"
		if e.Err != nil {
			line += ": " + e.Err.Error()
		}
	default:
		return
	}
	if err := v.sink.WriteStatus(line); err != nil {
		log.Error().Err(err).Msg("write status line failed")
	}
}
