package port

type Sink interface {
	// Live line: overwrite last line (no newline)
	WriteLive(line string) error
	// Event line: append a line for a private/account event
	WriteEvent(line string) error
	// Normal newline (for logs)
	NewLine() error
}
