package actionlog

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kettleops/kettle"
)

type recorder struct {
	mu      sync.Mutex
	execIDs []string
	entries []kettle.LogEntry
}

func (r *recorder) emit(execID string, entry kettle.LogEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.execIDs = append(r.execIDs, execID)
	r.entries = append(r.entries, entry)
}

func (r *recorder) messages() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.entries))
	for i, e := range r.entries {
		out[i] = e.Message
	}
	return out
}

func TestFromContext_outsideExecution(t *testing.T) {
	id, depth := FromContext(context.Background())
	assert.Empty(t, id)
	assert.Equal(t, 0, depth)
}

func TestWithContext_roundTrip(t *testing.T) {
	rec := &recorder{}
	ctx := WithContext(context.Background(), "exec-1", 2, rec.emit)

	id, depth := FromContext(ctx)
	assert.Equal(t, "exec-1", id)
	assert.Equal(t, 2, depth)
}

func TestNested_incrementsDepth(t *testing.T) {
	rec := &recorder{}
	ctx := WithContext(context.Background(), "exec-1", 0, rec.emit)

	nested := Nested(ctx)
	_, depth := FromContext(nested)
	assert.Equal(t, 1, depth)

	// The original context is untouched.
	_, depth = FromContext(ctx)
	assert.Equal(t, 0, depth)

	_, depth = FromContext(Nested(nested))
	assert.Equal(t, 2, depth)
}

func TestNested_noContextIsNoop(t *testing.T) {
	ctx := context.Background()
	assert.Equal(t, ctx, Nested(ctx))
}

func TestPrintf_emitsWithContext(t *testing.T) {
	rec := &recorder{}
	ctx := WithContext(context.Background(), "exec-1", 1, rec.emit)

	Printf(ctx, "Deleted %s", "/tmp/cache_file_1.tmp")

	require.Len(t, rec.entries, 1)
	entry := rec.entries[0]
	assert.Equal(t, "exec-1", rec.execIDs[0])
	assert.Equal(t, "Deleted /tmp/cache_file_1.tmp", entry.Message)
	assert.Equal(t, LevelInfo, entry.Level)
	assert.Equal(t, 1, entry.CallDepth)
	assert.False(t, entry.Timestamp.IsZero())
}

func TestPrint_dropsWithoutContext(t *testing.T) {
	rec := &recorder{}
	// No execution context bound: the line must not reach the relay.
	Print(context.Background(), "startup noise")
	assert.Empty(t, rec.entries)
}

func TestEmit_stripsTrailingWhitespaceAndBlankLines(t *testing.T) {
	rec := &recorder{}
	ctx := WithContext(context.Background(), "exec-1", 0, rec.emit)

	Print(ctx, "line with trailing spaces   \n")
	Print(ctx, "   ")

	require.Len(t, rec.entries, 1)
	assert.Equal(t, "line with trailing spaces", rec.entries[0].Message)
}

func TestEmit_splitsMultilineMessages(t *testing.T) {
	rec := &recorder{}
	ctx := WithContext(context.Background(), "exec-1", 0, rec.emit)

	Print(ctx, "first\nsecond\n\nthird")

	assert.Equal(t, []string{"first", "second", "third"}, rec.messages())
}

func TestErrorf_levels(t *testing.T) {
	rec := &recorder{}
	ctx := WithContext(context.Background(), "exec-1", 0, rec.emit)

	Errorf(ctx, "boom: %d", 7)

	require.Len(t, rec.entries, 1)
	assert.Equal(t, LevelError, rec.entries[0].Level)
	assert.Equal(t, "boom: 7", rec.entries[0].Message)
}

func TestWriter_splitsLines(t *testing.T) {
	rec := &recorder{}
	ctx := WithContext(context.Background(), "exec-1", 0, rec.emit)

	w := NewWriter(ctx, LevelInfo, "  ")
	_, err := w.Write([]byte("alpha\nbe"))
	require.NoError(t, err)
	_, err = w.Write([]byte("ta\n\ngamma"))
	require.NoError(t, err)
	w.Flush()

	assert.Equal(t, []string{"  alpha", "  beta", "  gamma"}, rec.messages())
}

func TestWriter_prefix(t *testing.T) {
	rec := &recorder{}
	ctx := WithContext(context.Background(), "exec-1", 0, rec.emit)

	w := NewWriter(ctx, LevelInfo, "  [stderr] ")
	_, err := w.Write([]byte("warning: something\n"))
	require.NoError(t, err)

	require.Len(t, rec.entries, 1)
	assert.Equal(t, "  [stderr] warning: something", rec.entries[0].Message)
}

func TestRunCommand_relaysOutput(t *testing.T) {
	rec := &recorder{}
	ctx := WithContext(context.Background(), "exec-1", 0, rec.emit)

	err := RunCommand(ctx, "echo hello; echo world")
	require.NoError(t, err)

	msgs := rec.messages()
	assert.Equal(t, []string{"$ echo hello; echo world", "  hello", "  world"}, msgs)
}

func TestRunCommand_failure(t *testing.T) {
	rec := &recorder{}
	ctx := WithContext(context.Background(), "exec-1", 0, rec.emit)

	err := RunCommand(ctx, "exit 3")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exit code 3")

	msgs := rec.messages()
	require.NotEmpty(t, msgs)
	assert.Contains(t, msgs[len(msgs)-1], "✗ Command failed with exit code 3")
}

func TestRunCommand_stderrTagged(t *testing.T) {
	rec := &recorder{}
	ctx := WithContext(context.Background(), "exec-1", 0, rec.emit)

	err := RunCommand(ctx, "echo oops 1>&2")
	require.NoError(t, err)

	assert.Contains(t, rec.messages(), "  [stderr] oops")
}
