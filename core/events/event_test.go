package events

import (
	"testing"

	"github.com/stretchr/testify/require"

	"escrowchain/core/types"
)

type testEvent struct{ kind string }

func (e testEvent) EventType() string { return e.kind }

func (e testEvent) Event() *types.Event {
	return &types.Event{Type: e.kind, Attributes: map[string]string{"kind": e.kind}}
}

func TestBufferFlushAndReset(t *testing.T) {
	rec := NewRecorder(0)
	var buf Buffer
	buf.Emit(testEvent{kind: "a"})
	buf.Emit(nil)
	require.Equal(t, 1, buf.Len())

	buf.Reset()
	require.Equal(t, 0, buf.Len())
	buf.Flush(rec)
	require.Empty(t, rec.Events())

	buf.Emit(testEvent{kind: "b"})
	buf.Emit(testEvent{kind: "c"})
	buf.Flush(rec)
	require.Equal(t, 0, buf.Len())
	got := rec.Events()
	require.Len(t, got, 2)
	require.Equal(t, "b", got[0].Type)
	require.Equal(t, "c", got[1].Attributes["kind"])
}

func TestRecorderLimit(t *testing.T) {
	rec := NewRecorder(2)
	Fanout{rec, nil, NoopEmitter{}}.Emit(testEvent{kind: "1"})
	rec.Emit(testEvent{kind: "2"})
	rec.Emit(testEvent{kind: "3"})
	got := rec.Events()
	require.Len(t, got, 2)
	require.Equal(t, "2", got[0].Type)
	require.Equal(t, "3", got[1].Type)

	got[0].Attributes["kind"] = "mutated"
	require.Equal(t, "2", rec.Events()[0].Attributes["kind"])
}

func TestBufferTruncate(t *testing.T) {
	var buf Buffer
	buf.Emit(testEvent{kind: "a"})
	mark := buf.Len()
	buf.Emit(testEvent{kind: "b"})
	buf.Emit(testEvent{kind: "c"})
	buf.Truncate(mark)
	require.Equal(t, 1, buf.Len())

	rec := NewRecorder(0)
	buf.Flush(rec)
	got := rec.Events()
	require.Len(t, got, 1)
	require.Equal(t, "a", got[0].Type)
}
