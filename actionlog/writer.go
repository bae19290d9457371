package actionlog

import (
	"context"
	"strings"
	"sync"
)

// Writer is an io.Writer that splits its input into lines and emits each
// complete non-blank line as action output under the writer's context.
// Used to capture subprocess output streams.
type Writer struct {
	ctx    context.Context
	level  string
	prefix string

	mu  sync.Mutex
	buf strings.Builder
}

// NewWriter returns a line-splitting writer emitting at the given level.
// prefix is prepended to every line, e.g. "  " or "  [stderr] ".
func NewWriter(ctx context.Context, level, prefix string) *Writer {
	return &Writer{ctx: ctx, level: level, prefix: prefix}
}

func (w *Writer) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.buf.Write(p)
	for {
		s := w.buf.String()
		idx := strings.IndexByte(s, '\n')
		if idx < 0 {
			break
		}
		line := s[:idx]
		w.buf.Reset()
		w.buf.WriteString(s[idx+1:])
		if strings.TrimSpace(line) != "" {
			emit(w.ctx, w.level, w.prefix+strings.TrimRight(line, " \t\r"))
		}
	}
	return len(p), nil
}

// Flush emits any buffered partial line.
func (w *Writer) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if line := w.buf.String(); strings.TrimSpace(line) != "" {
		emit(w.ctx, w.level, w.prefix+strings.TrimRight(line, " \t\r"))
	}
	w.buf.Reset()
}
