package console

import (
	"fmt"
	"io"
	"os"
	"time"

	"xquote/internal/application/port"
)

type Sink struct {
	w   io.Writer
	now func() time.Time
}

func NewSink() port.Sink { return NewWriterSink(os.Stdout) }

func NewWriterSink(w io.Writer) *Sink {
	return &Sink{w: w, now: time.Now}
}

func (s *Sink) WriteLive(text string) error {
	_, err := fmt.Fprint(s.w, text) // no newline
	return err
}

// 打印状态行后留一个空行给 live 行，下一次变化时重画
func (s *Sink) WriteStatus(line string) error {
	_, err := fmt.Fprintf(s.w, "\n%s %s\n", s.now().Format("2006-01-02 15:04:05"), line)
	return err
}

func (s *Sink) NewLine() error {
	_, err := fmt.Fprint(s.w, "\n")
	return err
}
