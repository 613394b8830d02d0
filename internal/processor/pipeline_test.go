package processor

import (
	"testing"

	"github.com/estuary/logtail/internal/protocol"
	"github.com/stretchr/testify/require"
)

func TestPipelineMarksTotalParseFailureAsDiscarded(t *testing.T) {
	p, err := NewRegexParser("never-matches", `^NEVER$`, nil, 0)
	require.NoError(t, err)

	var pipeline = NewPipeline(false, "", p)
	var group = protocol.EventGroup{Events: []protocol.Event{{Raw: []byte("some log line")}}}

	out, err := pipeline.Run(group)
	require.NoError(t, err)
	require.True(t, out.Events[0].ParseFailed)
	require.Empty(t, out.Events[0].Fields)
}

func TestPipelineKeepsRawOnParseFailWhenConfigured(t *testing.T) {
	p, err := NewRegexParser("never-matches", `^NEVER$`, nil, 0)
	require.NoError(t, err)

	var pipeline = NewPipeline(true, "_raw", p)
	var group = protocol.EventGroup{Events: []protocol.Event{{Raw: []byte("some log line")}}}

	out, err := pipeline.Run(group)
	require.NoError(t, err)
	require.True(t, out.Events[0].ParseFailed)
	require.Equal(t, "some log line", out.Events[0].Fields["_raw"].String)
}

func TestPipelineRunsStagesInOrder(t *testing.T) {
	var jsonParser = NewJSONParser("json")
	var ts = NewTimestampParser("ts", "time", "%Y-%m-%dT%H:%M:%S", nil)

	var pipeline = NewPipeline(false, "", jsonParser, ts)
	var group = protocol.EventGroup{Events: []protocol.Event{
		{Raw: []byte(`{"time":"2021-08-25T07:00:00","level":"info"}`)},
	}}

	out, err := pipeline.Run(group)
	require.NoError(t, err)
	require.Equal(t, "info", out.Events[0].Fields["level"].String)
	require.Equal(t, 2021, out.Events[0].Timestamp.Year())
}
