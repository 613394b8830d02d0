package processor

import (
	"testing"

	"github.com/estuary/logtail/internal/protocol"
	"github.com/stretchr/testify/require"
)

func TestTagInjectorStampsHostAndPathTags(t *testing.T) {
	var inj = NewTagInjector("tags", "host-1", "10.0.0.5")
	inj.WithLiteralTopic("app-logs")

	var group = protocol.EventGroup{Events: []protocol.Event{{}}}
	var out = inj.Inject(group, PathContext{OriginalPath: "/var/log/app.log", ResolvedPath: "/var/log/app.log", Inode: 42})

	require.Equal(t, "host-1", out.Events[0].Tags["hostname"])
	require.Equal(t, "10.0.0.5", out.Events[0].Tags["host_ip"])
	require.Equal(t, "/var/log/app.log", out.Events[0].Tags["path"])
	require.Equal(t, "42", out.Events[0].Tags["inode"])
	require.Equal(t, "app-logs", out.Events[0].Tags["topic"])
}

func TestTagInjectorPathCaptureTopic(t *testing.T) {
	var inj = NewTagInjector("tags", "host-1", "10.0.0.5")
	injWithCapture, err := inj.WithPathCaptureTopic(`^/var/log/([^/]+)/`)
	require.NoError(t, err)

	var group = protocol.EventGroup{Events: []protocol.Event{{}}}
	var out = injWithCapture.Inject(group, PathContext{ResolvedPath: "/var/log/nginx/access.log"})
	require.Equal(t, "nginx", out.Events[0].Tags["topic"])
}

func TestWithPathCaptureTopicRejectsMultiCapture(t *testing.T) {
	var inj = NewTagInjector("tags", "host-1", "10.0.0.5")
	_, err := inj.WithPathCaptureTopic(`^(a)(b)$`)
	require.Error(t, err)
}
