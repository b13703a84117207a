package calltrace

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func writeNested(s Sink) {
	s.Group(Line{{Text: "x-app.", Role: RoleLight}, {Text: "created   ", Role: RoleDark}})
	s.Log(Plain("x-app.render", RoleDark))
	s.GroupEnd()
	s.Log(Plain("after", RoleHighlight))
	s.GroupEnd()
}

func TestConsoleSinkPlain(t *testing.T) {
	var buf bytes.Buffer
	sink := NewConsoleSink(&buf, MustConfig(DefaultSettings()))
	sink.SetNoColor(true)

	writeNested(sink)

	require.Equal(t, "▾ x-app.created\n    x-app.render\n  after\n", buf.String())
}

func TestConsoleSinkColors(t *testing.T) {
	var buf bytes.Buffer
	cfg := MustConfig(DefaultSettings())
	sink := NewConsoleSink(&buf, cfg)

	sink.Log(Plain("slow", RoleHighlight))
	require.Contains(t, buf.String(), "\x1b[")
	require.Contains(t, buf.String(), "slow")

	// Colors are re-read on every line; unknown tokens print plain.
	require.NoError(t, cfg.Update(func(s *Settings) { s.Colors[RoleHighlight] = "none" }))
	buf.Reset()
	sink.Log(Plain("slow", RoleHighlight))
	require.Equal(t, "  slow\n", buf.String())
}

func TestStyleFor(t *testing.T) {
	_, ok := styleFor("")
	require.False(t, ok)
	_, ok = styleFor("sparkly")
	require.False(t, ok)

	c, ok := styleFor("HiMagenta + bold")
	require.True(t, ok)
	require.True(t, strings.HasPrefix(c.Sprint("x"), "\x1b["))
}

func TestZapSink(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	writeNested(NewZapSink(zap.New(core)))

	entries := logs.AllUntimed()
	require.Len(t, entries, 3)

	require.Equal(t, "x-app.created", entries[0].Message)
	require.Equal(t, int64(0), entries[0].ContextMap()["depth"])
	require.Equal(t, true, entries[0].ContextMap()["group"])

	require.Equal(t, "x-app.render", entries[1].Message)
	require.Equal(t, int64(1), entries[1].ContextMap()["depth"])
	require.NotContains(t, entries[1].ContextMap(), "group")

	require.Equal(t, int64(0), entries[2].ContextMap()["depth"])
}

func TestRecordingSink(t *testing.T) {
	sink := NewRecordingSink()
	writeNested(sink)

	require.Equal(t, "+ x-app.created\n  - x-app.render\n- after\n", sink.String())
	require.Equal(t, 0, sink.Depth(), "extra GroupEnd is ignored")

	lines := sink.Lines()
	lines[0].Depth = 9
	require.Equal(t, 0, sink.Lines()[0].Depth, "Lines returns a copy")

	sink.Group(Plain("open", RoleDark))
	require.Equal(t, 1, sink.Depth())
	sink.Reset()
	require.Empty(t, sink.Lines())
	require.Equal(t, 0, sink.Depth())
}
