package console

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"mdstream/internal/application/port"
)

type Sink struct {
	mu  sync.Mutex
	out io.Writer
	now func() time.Time
}

func NewSink() port.Sink { return NewWriterSink(os.Stdout) }

func NewWriterSink(w io.Writer) *Sink {
	return &Sink{out: w, now: time.Now}
}

func (s *Sink) WriteLive(line string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := fmt.Fprint(s.out, line) // no newline
	return err
}

// 事件行打印在覆盖行下方，之后的 live 行从新的一行开始
func (s *Sink) WriteEvent(line string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := fmt.Fprintf(s.out, "\n%s %s\n", s.now().Format("2006-01-02 15:04:05"), line)
	return err
}

func (s *Sink) NewLine() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := fmt.Fprint(s.out, "\n")
	return err
}
