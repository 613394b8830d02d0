package processor

import (
	"testing"

	"github.com/estuary/logtail/internal/protocol"
	"github.com/stretchr/testify/require"
)

func TestJSONParserExtractsTopLevelFields(t *testing.T) {
	var p = NewJSONParser("json")
	var group = protocol.EventGroup{Events: []protocol.Event{
		{Raw: []byte(`{"level":"info","count":3,"ok":true}`)},
	}}

	out, err := p.Process(group)
	require.NoError(t, err)
	require.Equal(t, "info", out.Events[0].Fields["level"].String)
	require.Equal(t, float64(3), out.Events[0].Fields["count"].Number)
	require.Equal(t, true, out.Events[0].Fields["ok"].Bool)
}

func TestJSONParserNonObjectYieldsNoFields(t *testing.T) {
	var p = NewJSONParser("json")
	var group = protocol.EventGroup{Events: []protocol.Event{{Raw: []byte(`[1,2,3]`)}}}

	out, err := p.Process(group)
	require.NoError(t, err)
	require.Empty(t, out.Events[0].Fields)
}

func TestJSONParserMalformedYieldsNoFields(t *testing.T) {
	var p = NewJSONParser("json")
	var group = protocol.EventGroup{Events: []protocol.Event{{Raw: []byte(`{not json`)}}}

	out, err := p.Process(group)
	require.NoError(t, err)
	require.Empty(t, out.Events[0].Fields)
}
