package processor

import (
	"testing"

	"github.com/estuary/logtail/internal/protocol"
	"github.com/stretchr/testify/require"
)

func TestRegexParserMapsCapturesToKeys(t *testing.T) {
	p, err := NewRegexParser("access", `^(\S+) - - \[([^\]]+)\] "(\S+) (\S+)"$`,
		[]string{"ip", "time", "method", "path"}, 2)
	require.NoError(t, err)

	var group = protocol.EventGroup{Events: []protocol.Event{
		{Raw: []byte(`10.0.0.1 - - [25/Aug/2021:07:00:00] "GET /health"`)},
	}}

	out, err := p.Process(group)
	require.NoError(t, err)
	require.Equal(t, "10.0.0.1", out.Events[0].Fields["ip"].String)
	require.Equal(t, "GET", out.Events[0].Fields["method"].String)
	require.Equal(t, "/health", out.Events[0].Fields["path"].String)
}

func TestRegexParserMismatchLeavesNoFields(t *testing.T) {
	p, err := NewRegexParser("access", `^\d+$`, nil, 0)
	require.NoError(t, err)

	var group = protocol.EventGroup{Events: []protocol.Event{{Raw: []byte("not a number")}}}
	out, err := p.Process(group)
	require.NoError(t, err)
	require.Empty(t, out.Events[0].Fields)
}

func TestNewRegexParserRejectsKeyCountMismatch(t *testing.T) {
	_, err := NewRegexParser("bad", `^(\d+)$`, []string{"a", "b"}, 0)
	require.Error(t, err)
}
