package serve

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

type flushRecorder struct {
	bytes.Buffer
	flushes int
}

func (f *flushRecorder) Flush() { f.flushes++ }

type brokenWriter struct{}

func (brokenWriter) Write([]byte) (int, error) { return 0, errors.New("broken pipe") }

func TestStreamWriter_WritesOneLinePerRecord(t *testing.T) {
	var out flushRecorder
	sw := NewStreamWriter(&out)

	for _, v := range []map[string]string{{"type": "status"}, {"type": "result", "diff": "<a>"}} {
		if err := sw.Write(v); err != nil {
			t.Fatalf("Write() error = %v", err)
		}
	}

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("lines = %q, want 2", lines)
	}
	if lines[1] != `{"diff":"<a>","type":"result"}` {
		t.Fatalf("line = %s, want unescaped HTML", lines[1])
	}
	if out.flushes != 2 {
		t.Fatalf("flushes = %d, want 2", out.flushes)
	}
}

func TestStreamWriter_Closed(t *testing.T) {
	var buf bytes.Buffer
	sw := NewStreamWriter(&buf)
	if err := sw.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := sw.Write("x"); !errors.Is(err, ErrStreamClosed) {
		t.Fatalf("Write() after Close = %v, want ErrStreamClosed", err)
	}
	if buf.Len() != 0 {
		t.Fatalf("closed writer wrote %q", buf.String())
	}
}

func TestStreamWriter_FailedWriteClosesStream(t *testing.T) {
	sw := NewStreamWriter(brokenWriter{})
	if err := sw.Write("x"); err == nil || errors.Is(err, ErrStreamClosed) {
		t.Fatalf("first Write() = %v, want encode error", err)
	}
	if err := sw.Write("y"); !errors.Is(err, ErrStreamClosed) {
		t.Fatalf("second Write() = %v, want ErrStreamClosed", err)
	}
}
