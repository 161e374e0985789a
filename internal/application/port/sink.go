package port

type Sink interface {
	// Live line: overwrite the current screen block (no trailing newline)
	WriteLive(text string) error
	// Status line: append a line that survives the next live redraw
	WriteStatus(line string) error
	NewLine() error
}
