package console

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"xquote/internal/application/usecase/tracker"
)

// PairSelector is the write side of the tracker. Select returns once the
// selection is accepted; the bind result arrives on the channel later.
type PairSelector interface {
	Select(ctx context.Context, rawSymbol string) (<-chan error, error)
}

// Selector reads one selection per line: a symbol, a 1-based watchlist
// index, "-" to go idle, "list" to print the watchlist, "quit" to stop.
type Selector struct {
	in        io.Reader
	out       io.Writer
	watchlist []string
	target    PairSelector
}

func NewSelector(in io.Reader, out io.Writer, watchlist []string, target PairSelector) *Selector {
	return &Selector{in: in, out: out, watchlist: watchlist, target: target}
}

// Resolve maps user input to the raw symbol to select.
func (s *Selector) Resolve(input string) string {
	input = strings.TrimSpace(input)
	if input == "-" {
		return ""
	}
	if n, err := strconv.Atoi(input); err == nil && n >= 1 && n <= len(s.watchlist) {
		return s.watchlist[n-1]
	}
	return input
}

func (s *Selector) Run(ctx context.Context) error {
	scanner := bufio.NewScanner(s.in)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		switch strings.ToLower(line) {
		case "":
			continue
		case "q", "quit", "exit":
			return nil
		case "l", "list":
			s.printWatchlist()
			continue
		}

		if err := s.Submit(ctx, s.Resolve(line)); errors.Is(err, tracker.ErrStopped) {
			return nil
		}
	}
	return scanner.Err()
}

// Submit hands raw to the tracker without waiting for the connection, so the
// next selection can interrupt one that is still connecting.
func (s *Selector) Submit(ctx context.Context, raw string) error {
	reply, err := s.target.Select(ctx, raw)
	if err != nil {
		log.Warn().Str("symbol", raw).Err(err).Msg("select pair failed")
		return err
	}
	go s.report(raw, reply)
	return nil
}

func (s *Selector) report(raw string, reply <-chan error) {
	err := <-reply
	if err == nil || errors.Is(err, tracker.ErrSuperseded) || errors.Is(err, tracker.ErrStopped) {
		return
	}
	log.Warn().Str("symbol", raw).Err(err).Msg("select pair failed")
}

func (s *Selector) printWatchlist() {
	var sb strings.Builder
	sb.WriteString("\n")
	for i, sym := range s.watchlist {
		fmt.Fprintf(&sb, "%3d %-10s", i+1, sym)
		if (i+1)%6 == 0 {
			sb.WriteString("\n")
		}
	}
	sb.WriteString("\n")
	_, _ = io.WriteString(s.out, sb.String())
}
