package console

import (
	"bytes"
	"testing"
	"time"
)

func TestSinkLines(t *testing.T) {
	var buf bytes.Buffer
	s := NewWriterSink(&buf)
	s.now = func() time.Time { return time.Date(2024, 1, 2, 9, 15, 0, 0, time.UTC) }

	_ = s.WriteLive("\rNSE_RELIANCE_LTP 2500.50")
	_ = s.WriteEvent("[kite_orders] status=COMPLETE")
	_ = s.NewLine()

	want := "\rNSE_RELIANCE_LTP 2500.50\n2024-01-02 09:15:00 [kite_orders] status=COMPLETE\n\n"
	if buf.String() != want {
		t.Errorf("got %q, want %q", buf.String(), want)
	}
}
